package service

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/pkg/ai"
)

// DocumentExtractor turns uploaded documents into grading units.
type DocumentExtractor interface {
	Questions(ctx context.Context, doc models.Document) ([]models.QuestionUnit, error)
	Answers(ctx context.Context, doc models.Document) ([]models.AnswerUnit, error)
}

// UnitGrader grades one (question, answer) unit.
type UnitGrader interface {
	Run(ctx context.Context, jobID string, question models.QuestionUnit, answer models.AnswerUnit) (UnitOutcome, error)
}

// OrchestratorConfig wires the collaborators of a JobOrchestrator.
type OrchestratorConfig struct {
	Extractor          DocumentExtractor
	Units              UnitGrader
	Writer             ai.Writer
	Registry           *JobRegistry
	Events             EventPublisher
	CallTimeout        time.Duration
	StudentConcurrency int
	Logger             zerolog.Logger
}

// JobOrchestrator drives a job from extraction to its terminal event.
type JobOrchestrator struct {
	extractor   DocumentExtractor
	units       UnitGrader
	writer      ai.Writer
	registry    *JobRegistry
	events      EventPublisher
	timeout     time.Duration
	concurrency int
	logger      zerolog.Logger
	tracer      trace.Tracer
	wg          sync.WaitGroup
}

// NewJobOrchestrator constructs an orchestrator.
func NewJobOrchestrator(cfg OrchestratorConfig) *JobOrchestrator {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	concurrency := cfg.StudentConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &JobOrchestrator{
		extractor:   cfg.Extractor,
		units:       cfg.Units,
		writer:      cfg.Writer,
		registry:    cfg.Registry,
		events:      cfg.Events,
		timeout:     timeout,
		concurrency: concurrency,
		logger:      cfg.Logger.With().Str("component", "job_orchestrator").Logger(),
		tracer:      otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/internal/service/orchestrator"),
	}
}

// Start runs the job on its own goroutine.
func (o *JobOrchestrator) Start(ctx context.Context, jobID string, answerKey models.Document, sheets []models.Document) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = o.Run(ctx, jobID, answerKey, sheets)
	}()
}

// Wait blocks until every started job has finished.
func (o *JobOrchestrator) Wait() {
	o.wg.Wait()
}

// Run processes the job synchronously. The returned error is the one that failed the job; it has
// already been reported through the registry and an error event.
func (o *JobOrchestrator) Run(ctx context.Context, jobID string, answerKey models.Document, sheets []models.Document) (err error) {
	ctx, span := o.tracer.Start(ctx, "grading.job", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.Int("job.sheets", len(sheets)),
	))
	defer span.End()

	logger := o.logger.With().Str("job_id", jobID).Logger()

	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error().Str("stack", string(debug.Stack())).Interface("panic", recovered).Msg("job panicked")
			err = fmt.Errorf("internal error: %v", recovered)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.fail(ctx, jobID, err)
		}
	}()

	if _, err := o.registry.Transition(ctx, jobID, models.JobStatusProcessing, ""); err != nil {
		return err
	}

	questions, err := o.extractor.Questions(ctx, answerKey)
	if err != nil {
		return fmt.Errorf("extract answer key: %w", err)
	}

	if _, err := o.registry.SetTotals(ctx, jobID, len(questions), len(sheets)); err != nil {
		return err
	}
	if _, err := o.events.Publish(ctx, jobID, models.EventJobStarted, dto.JobStartedPayload{TotalQuestions: len(questions)}); err != nil {
		return fmt.Errorf("publish job started: %w", err)
	}
	logger.Info().Int("questions", len(questions)).Int("sheets", len(sheets)).Msg("job started")

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.concurrency)
	for _, sheet := range sheets {
		sheet := sheet
		group.Go(func() (err error) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error().Str("stack", string(debug.Stack())).Interface("panic", recovered).Msg("student grading panicked")
					err = fmt.Errorf("internal error: %v", recovered)
				}
			}()
			return o.gradeStudent(groupCtx, jobID, questions, sheet)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	if _, err := o.registry.Transition(ctx, jobID, models.JobStatusCompleted, ""); err != nil {
		return err
	}
	if _, err := o.events.Publish(ctx, jobID, models.EventJobDone, dto.JobDonePayload{JobID: jobID}); err != nil {
		logger.Error().Err(err).Msg("failed to publish job done")
	}
	logger.Info().Msg("job completed")
	return nil
}

func (o *JobOrchestrator) gradeStudent(ctx context.Context, jobID string, questions []models.QuestionUnit, sheet models.Document) error {
	answers, err := o.extractor.Answers(ctx, sheet)
	if err != nil {
		return fmt.Errorf("extract student sheet %q: %w", sheet.Name, err)
	}

	known := make(map[string]bool, len(questions))
	for _, question := range questions {
		known[question.QuestionID] = true
	}

	// The first answer for a question wins; answers are graded in answer key order.
	byQuestion := make(map[string]models.AnswerUnit, len(answers))
	for _, answer := range answers {
		if !known[answer.QuestionID] {
			o.logger.Warn().
				Str("job_id", jobID).
				Str("student_id", answer.StudentID).
				Str("question_id", answer.QuestionID).
				Msg("answer has no matching question, skipping")
			continue
		}
		if _, seen := byQuestion[answer.QuestionID]; seen {
			o.logger.Warn().
				Str("job_id", jobID).
				Str("student_id", answer.StudentID).
				Str("question_id", answer.QuestionID).
				Msg("duplicate answer for question, keeping the first")
			continue
		}
		byQuestion[answer.QuestionID] = answer
	}

	studentID := ""
	results := make([]models.GradingResult, 0, len(byQuestion))
	for _, question := range questions {
		answer, ok := byQuestion[question.QuestionID]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("job cancelled: %w", err)
		}

		outcome, err := o.units.Run(ctx, jobID, question, answer)
		if err != nil {
			return err
		}
		studentID = answer.StudentID
		results = append(results, outcome.Result)
	}

	if len(results) == 0 {
		o.logger.Warn().Str("job_id", jobID).Str("sheet", sheet.Name).Msg("student sheet produced no results")
		return nil
	}

	payload := dto.StudentSummaryPayload{
		StudentID:     studentID,
		SummaryReport: o.summary(ctx, studentID, results),
	}
	if _, err := o.events.Publish(ctx, jobID, models.EventStudentSummary, payload); err != nil {
		return fmt.Errorf("publish student summary: %w", err)
	}
	return nil
}

// summaryEntry is the view of a result handed to the summary writer; prompts and raw model
// output stay out of it.
type summaryEntry struct {
	QuestionID      string                `json:"question_id"`
	QuestionText    string                `json:"question_text"`
	AnswerText      string                `json:"student_answer_text"`
	Score           float64               `json:"score"`
	MaxScore        int                   `json:"max_score"`
	RubricBreakdown map[string]float64    `json:"rubric_breakdown"`
	Justification   string                `json:"justification"`
	Advice          string                `json:"advice_for_full_marks"`
	VerifierStatus  models.VerifierStatus `json:"verifier_status"`
}

func (o *JobOrchestrator) summary(ctx context.Context, studentID string, results []models.GradingResult) string {
	entries := make([]summaryEntry, 0, len(results))
	for _, result := range results {
		entries = append(entries, summaryEntry{
			QuestionID:      result.QuestionID,
			QuestionText:    result.QuestionText,
			AnswerText:      result.AnswerText,
			Score:           result.Score,
			MaxScore:        result.MaxScore,
			RubricBreakdown: result.RubricBreakdown,
			Justification:   result.Justification,
			Advice:          result.Advice,
			VerifierStatus:  result.VerifierStatus,
		})
	}

	encoded, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		o.logger.Warn().Err(err).Str("student_id", studentID).Msg("failed to encode results for summary")
		return summaryFallback
	}

	callCtx, cancel := withCallTimeout(ctx, o.timeout)
	defer cancel()

	report, err := o.writer.Summary(callCtx, ai.SummaryInput{StudentID: studentID, ResultsJSON: string(encoded)})
	if err != nil || report == "" {
		o.logger.Warn().Err(err).Str("student_id", studentID).Msg("summary generation failed")
		return summaryFallback
	}
	return report
}

// fail marks the job failed and emits its single error event. It runs detached from ctx so a
// cancelled job is still reported.
func (o *JobOrchestrator) fail(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()

	o.logger.Error().Err(cause).Str("job_id", jobID).Msg("job failed")
	if _, err := o.registry.Transition(ctx, jobID, models.JobStatusFailed, message); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job failed")
	}
	if _, err := o.events.Publish(ctx, jobID, models.EventError, dto.ErrorPayload{Message: message}); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to publish job error")
	}
}
