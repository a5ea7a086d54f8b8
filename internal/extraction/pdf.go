package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/tufanozkan/agentic-exam-evaluator/pkg/docker"
)

const defaultPDFToText = "pdftotext"

// NativeConverter reads the PDF text layer in process, in content stream order.
type NativeConverter struct{}

func (NativeConverter) Convert(ctx context.Context, content []byte) (text string, err error) {
	// The reader panics on some malformed object streams.
	defer func() {
		if recovered := recover(); recovered != nil {
			text, err = "", fmt.Errorf("read pdf: %v", recovered)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	var out bytes.Buffer
	if _, err := out.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return out.String(), nil
}

// CommandConverter pipes PDF bytes through a local pdftotext binary.
type CommandConverter struct {
	Binary  string
	Timeout time.Duration
}

func (c CommandConverter) Convert(ctx context.Context, content []byte) (string, error) {
	binary := c.Binary
	if binary == "" {
		binary = defaultPDFToText
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "-layout", "-enc", "UTF-8", "-", "-")
	cmd.Stdin = bytes.NewReader(content)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", binary, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// SandboxConverter runs pdftotext inside a network-less container.
type SandboxConverter struct {
	Runner     docker.Runner
	Image      string
	WorkingDir string
	Timeout    time.Duration
}

func (c SandboxConverter) Convert(ctx context.Context, content []byte) (string, error) {
	workspace, err := os.MkdirTemp("", "grader-pdf-")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, "input.pdf"), content, 0o644); err != nil {
		return "", fmt.Errorf("write workspace: %w", err)
	}

	workingDir := c.WorkingDir
	if workingDir == "" {
		workingDir = "/workspace"
	}

	result, err := c.Runner.Run(ctx, docker.RunRequest{
		Image:     c.Image,
		Cmd:       []string{defaultPDFToText, "-layout", "-enc", "UTF-8", workingDir + "/input.pdf", "-"},
		Workspace: workspace,
		Timeout:   c.Timeout,
	})
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("pdftotext exited with %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result.Stdout, nil
}
