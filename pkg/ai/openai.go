package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grader",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of language model requests",
	}, []string{"provider", "operation"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grader",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of failed language model requests",
	}, []string{"provider", "operation"})
)

const (
	feedbackTemperature = 0.2
	writerTemperature   = 0.3
)

// OpenAIConfig defines configuration options for the OpenAI backend.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Logger    zerolog.Logger
}

// OpenAIAssistant implements Assistant against the OpenAI chat completion API.
type OpenAIAssistant struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIAssistant builds a new backend using the provided configuration.
func NewOpenAIAssistant(cfg OpenAIConfig) (*OpenAIAssistant, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIAssistant{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai").Logger(),
	}, nil
}

// Grade asks the model for a structured scoring proposal.
func (a *OpenAIAssistant) Grade(ctx context.Context, input GradeInput) (Proposal, error) {
	prompt := buildGradePrompt(input)
	content, err := a.complete(ctx, "grade", graderSystemPrompt, prompt, 0, true)
	if err != nil {
		return Proposal{}, err
	}

	proposal, err := ParseProposal(content)
	if err != nil {
		aiFailures.WithLabelValues("openai", "grade").Inc()
		return Proposal{}, err
	}

	proposal.Prompt = prompt
	proposal.Model = a.cfg.Model
	proposal.Params = map[string]interface{}{
		"temperature":     0,
		"max_tokens":      a.cfg.MaxTokens,
		"response_format": string(openai.ChatCompletionResponseFormatTypeJSONObject),
	}
	return proposal, nil
}

// Correct asks the model to repair a proposal given the detected issues.
func (a *OpenAIAssistant) Correct(ctx context.Context, input CorrectionInput) (Revision, error) {
	content, err := a.complete(ctx, "correct", correctorSystemPrompt, buildCorrectionPrompt(input), 0, true)
	if err != nil {
		return Revision{}, err
	}

	revision, err := ParseRevision(content)
	if err != nil {
		aiFailures.WithLabelValues("openai", "correct").Inc()
		return Revision{}, err
	}
	return revision, nil
}

// Feedback writes student-facing feedback for a graded answer.
func (a *OpenAIAssistant) Feedback(ctx context.Context, input FeedbackInput) (string, error) {
	return a.complete(ctx, "feedback", "", buildFeedbackPrompt(input), feedbackTemperature, false)
}

// Summary writes the per-student performance report.
func (a *OpenAIAssistant) Summary(ctx context.Context, input SummaryInput) (string, error) {
	return a.complete(ctx, "summary", "", buildSummaryPrompt(input), writerTemperature, false)
}

// FollowUp answers a question about a stored result.
func (a *OpenAIAssistant) FollowUp(ctx context.Context, input FollowUpInput) (string, error) {
	return a.complete(ctx, "followup", "", buildFollowUpPrompt(input), writerTemperature, false)
}

func (a *OpenAIAssistant) complete(parent context.Context, operation, system, user string, temperature float32, jsonMode bool) (string, error) {
	ctx, span := a.tracer.Start(parent, "openai."+operation, trace.WithAttributes(
		attribute.String("model", a.cfg.Model),
	))
	defer span.End()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	request := openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: temperature,
		Messages:    messages,
	}
	if jsonMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues("openai", operation).Observe(time.Since(start).Seconds())
	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("no choices returned from openai")
	}
	if err != nil {
		aiFailures.WithLabelValues("openai", operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn().Err(err).Str("operation", operation).Msg("openai request failed")
		return "", fmt.Errorf("openai %s: %w", operation, err)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
