package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

// GeminiConfig defines configuration options for the Gemini backend.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string
	Logger   zerolog.Logger
}

// GeminiAssistant implements Assistant on top of the Google generative AI SDK.
type GeminiAssistant struct {
	client *genai.Client
	cfg    GeminiConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGeminiAssistant dials the Gemini API with the configured key.
func NewGeminiAssistant(ctx context.Context, cfg GeminiConfig) (*GeminiAssistant, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-1.5-flash"
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &GeminiAssistant{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/pkg/ai/gemini"),
		logger: logger.With().Str("component", "gemini").Logger(),
	}, nil
}

// Grade asks Gemini for a structured scoring proposal.
func (g *GeminiAssistant) Grade(ctx context.Context, input GradeInput) (Proposal, error) {
	prompt := buildGradePrompt(input)
	content, err := g.generate(ctx, "grade", graderSystemPrompt, prompt, 0, true)
	if err != nil {
		return Proposal{}, err
	}

	proposal, err := ParseProposal(content)
	if err != nil {
		aiFailures.WithLabelValues("gemini", "grade").Inc()
		return Proposal{}, err
	}

	proposal.Prompt = prompt
	proposal.Model = g.cfg.Model
	proposal.Params = map[string]interface{}{
		"temperature":        0,
		"response_mime_type": "application/json",
	}
	return proposal, nil
}

// Correct asks Gemini to repair a proposal given the detected issues.
func (g *GeminiAssistant) Correct(ctx context.Context, input CorrectionInput) (Revision, error) {
	content, err := g.generate(ctx, "correct", correctorSystemPrompt, buildCorrectionPrompt(input), 0, true)
	if err != nil {
		return Revision{}, err
	}

	revision, err := ParseRevision(content)
	if err != nil {
		aiFailures.WithLabelValues("gemini", "correct").Inc()
		return Revision{}, err
	}
	return revision, nil
}

func (g *GeminiAssistant) Feedback(ctx context.Context, input FeedbackInput) (string, error) {
	return g.generate(ctx, "feedback", "", buildFeedbackPrompt(input), feedbackTemperature, false)
}

func (g *GeminiAssistant) Summary(ctx context.Context, input SummaryInput) (string, error) {
	return g.generate(ctx, "summary", "", buildSummaryPrompt(input), writerTemperature, false)
}

func (g *GeminiAssistant) FollowUp(ctx context.Context, input FollowUpInput) (string, error) {
	return g.generate(ctx, "followup", "", buildFollowUpPrompt(input), writerTemperature, false)
}

// Close releases the underlying client.
func (g *GeminiAssistant) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiAssistant) generate(parent context.Context, operation, system, user string, temperature float32, jsonMode bool) (string, error) {
	ctx, span := g.tracer.Start(parent, "gemini."+operation, trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
	))
	defer span.End()

	model := g.client.GenerativeModel(g.cfg.Model)
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temperature}
	if jsonMode {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(user))
	aiDuration.WithLabelValues("gemini", operation).Observe(time.Since(start).Seconds())

	text := ""
	if err == nil {
		text = firstText(resp)
		if text == "" {
			err = errors.New("empty response from gemini")
		}
	}
	if err != nil {
		aiFailures.WithLabelValues("gemini", operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn().Err(err).Str("operation", operation).Msg("gemini request failed")
		return "", fmt.Errorf("gemini %s: %w", operation, err)
	}

	return strings.TrimSpace(text), nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				return string(text)
			}
		}
	}
	return ""
}
