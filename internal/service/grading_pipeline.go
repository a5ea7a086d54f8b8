package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/observability"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/repository"
	"github.com/tufanozkan/agentic-exam-evaluator/pkg/ai"
)

const (
	feedbackFallback = "Could not generate feedback due to an internal error."
	summaryFallback  = "Could not generate summary report due to an internal error."

	defaultCallTimeout = 60 * time.Second
)

// EventPublisher assigns a sequence number to an event and delivers it to the job's subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, jobID string, kind models.EventKind, data interface{}) (models.StreamEvent, error)
}

// UnitOutcome is what one pipeline run produced.
type UnitOutcome struct {
	Result   models.GradingResult
	Feedback string
}

// PipelineConfig wires the collaborators of a GradingPipeline.
type PipelineConfig struct {
	Grader      ai.Grader
	Writer      ai.Writer
	Results     repository.ResultRepository
	Events      EventPublisher
	CallTimeout time.Duration
	Logger      zerolog.Logger
}

// GradingPipeline grades a single (question, answer) unit end to end.
type GradingPipeline struct {
	grader    ai.Grader
	writer    ai.Writer
	corrector *Corrector
	results   repository.ResultRepository
	events    EventPublisher
	timeout   time.Duration
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewGradingPipeline constructs the pipeline and its corrector.
func NewGradingPipeline(cfg PipelineConfig) *GradingPipeline {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &GradingPipeline{
		grader:    cfg.Grader,
		writer:    cfg.Writer,
		corrector: NewCorrector(cfg.Grader, timeout, cfg.Logger),
		results:   cfg.Results,
		events:    cfg.Events,
		timeout:   timeout,
		logger:    cfg.Logger.With().Str("component", "grading_pipeline").Logger(),
		tracer:    otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/internal/service/pipeline"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run grades the unit, persists the result and emits a partial_result event. Grading and
// feedback failures are absorbed into the result; only store and delivery failures are returned.
func (p *GradingPipeline) Run(ctx context.Context, jobID string, question models.QuestionUnit, answer models.AnswerUnit) (UnitOutcome, error) {
	ctx, span := p.tracer.Start(ctx, "grading.unit", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("student.id", answer.StudentID),
		attribute.String("question.id", question.QuestionID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.GradingUnitDuration().Observe(time.Since(start).Seconds())
	}()

	result, outcome := p.grade(ctx, jobID, question, answer)
	observability.GradingUnits().WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("grading.outcome", outcome))

	if err := p.results.Save(ctx, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return UnitOutcome{}, fmt.Errorf("save result %s: %w", result.Key(), err)
	}

	feedback := p.feedback(ctx, result)

	payload := dto.PartialResultPayload{GradingResult: result, FriendlyFeedback: feedback}
	if _, err := p.events.Publish(ctx, jobID, models.EventPartialResult, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return UnitOutcome{}, fmt.Errorf("publish partial result: %w", err)
	}

	return UnitOutcome{Result: result, Feedback: feedback}, nil
}

func (p *GradingPipeline) grade(ctx context.Context, jobID string, question models.QuestionUnit, answer models.AnswerUnit) (models.GradingResult, string) {
	result := models.GradingResult{
		JobID:          jobID,
		StudentID:      answer.StudentID,
		QuestionID:     question.QuestionID,
		QuestionText:   question.QuestionText,
		ExpectedAnswer: question.ExpectedAnswer,
		Rubric:         question.Rubric,
		AnswerText:     answer.AnswerText,
		GradedAt:       p.now(),
		VerifierStatus: models.NewVerifierStatus(),
	}
	result.MaxScore = question.MaxScore

	logger := p.logger.With().
		Str("job_id", jobID).
		Str("student_id", answer.StudentID).
		Str("question_id", question.QuestionID).
		Logger()

	callCtx, cancel := withCallTimeout(ctx, p.timeout)
	proposal, err := p.grader.Grade(callCtx, ai.GradeInput{
		QuestionText:   question.QuestionText,
		ExpectedAnswer: question.ExpectedAnswer,
		MaxScore:       question.MaxScore,
		Rubric:         question.Rubric,
		StudentAnswer:  answer.AnswerText,
	})
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("scoring source failed")
		return sourceFailureResult(result, err), "source_failed"
	}

	result.Score = proposal.Score
	result.RubricBreakdown = proposal.RubricBreakdown
	if result.RubricBreakdown == nil {
		result.RubricBreakdown = map[string]float64{}
	}
	result.Justification = proposal.Justification
	result.Advice = proposal.Advice
	result.RawResponse = proposal.Raw
	result.Model = proposal.Model
	result.ModelParams = proposal.Params
	result.Prompt = proposal.Prompt

	status := VerifyProposal(result.ScoringProposal)
	result.VerifierStatus = status
	if status.Valid {
		return result, "valid"
	}

	logger.Info().Strs("issues", status.Issues).Msg("proposal failed verification, attempting correction")
	corrected := p.corrector.Correct(ctx, result, status.Issues)
	if corrected.VerifierStatus.WasCorrected {
		return corrected, "corrected"
	}
	return corrected, "invalid"
}

// sourceFailureResult records a failed scoring call as a zero-score, invalid result.
func sourceFailureResult(result models.GradingResult, err error) models.GradingResult {
	result.Score = 0
	result.RubricBreakdown = map[string]float64{}
	result.Justification = fmt.Sprintf("Error during processing: %v", err)

	issue := fmt.Sprintf("Scoring source call failed: %v", err)
	if errors.Is(err, ai.ErrMalformedResponse) {
		issue = fmt.Sprintf("Scoring source returned a malformed response: %v", err)
	}
	result.VerifierStatus = models.VerifierStatus{Valid: false, Issues: []string{issue}}
	return result
}

func (p *GradingPipeline) feedback(ctx context.Context, result models.GradingResult) string {
	callCtx, cancel := withCallTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.writer.Feedback(callCtx, ai.FeedbackInput{
		QuestionText:    result.QuestionText,
		StudentAnswer:   result.AnswerText,
		Score:           result.Score,
		MaxScore:        result.MaxScore,
		Justification:   result.Justification,
		Advice:          result.Advice,
		RubricBreakdown: result.RubricBreakdown,
	})
	if err != nil || text == "" {
		p.logger.Warn().Err(err).
			Str("job_id", result.JobID).
			Str("student_id", result.StudentID).
			Str("question_id", result.QuestionID).
			Msg("feedback generation failed")
		return feedbackFallback
	}
	return text
}
