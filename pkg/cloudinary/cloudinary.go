package cloudinary

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultFolder = "exam-grader/documents"

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Archive stores uploaded exam documents as raw Cloudinary assets.
type Archive struct {
	client *cloudinary.Cloudinary
	folder string
	tracer trace.Tracer
	logger zerolog.Logger
}

// New constructs a Cloudinary backed document archive.
func New(cfg Config, logger zerolog.Logger) (*Archive, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	folder := strings.Trim(cfg.Folder, "/")
	if folder == "" {
		folder = defaultFolder
	}

	return &Archive{
		client: cld,
		folder: folder,
		tracer: otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/pkg/cloudinary"),
		logger: logger.With().Str("component", "document_archive").Logger(),
	}, nil
}

// Upload stores the document and returns its secure URL. Existing assets are never overwritten.
func (a *Archive) Upload(ctx context.Context, name string, reader io.Reader) (string, error) {
	publicID := documentPublicID(name, time.Now())

	ctx, span := a.tracer.Start(ctx, "cloudinary.upload", trace.WithAttributes(
		attribute.String("cloudinary.folder", a.folder),
		attribute.String("cloudinary.public_id", publicID),
	))
	defer span.End()

	overwrite := false
	result, err := a.client.Upload.Upload(ctx, reader, uploader.UploadParams{
		Folder:       a.folder,
		PublicID:     publicID,
		ResourceType: "raw",
		Overwrite:    &overwrite,
		Tags:         api.CldAPIArray{"exam-grader", documentKind(name)},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to archive document: %w", err)
	}
	if result.Error.Message != "" {
		err := fmt.Errorf("failed to archive document: %s", result.Error.Message)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	a.logger.Info().Str("public_id", result.PublicID).Int("bytes", result.Bytes).Msg("document archived")
	return result.SecureURL, nil
}

// documentPublicID keeps the extension since raw assets are served by their public id.
func documentPublicID(name string, at time.Time) string {
	ext := strings.ToLower(filepath.Ext(name))
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, base)

	base = strings.Trim(base, "-")
	if base == "" {
		base = "document"
	}

	return fmt.Sprintf("%s-%d%s", base, at.Unix(), ext)
}

func documentKind(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".txt", ".md":
		return "text"
	default:
		return "other"
	}
}
