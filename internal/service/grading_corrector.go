package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/observability"
	"github.com/tufanozkan/agentic-exam-evaluator/pkg/ai"
)

const correctionFailedIssue = "Self-correction attempt failed."

// Corrector makes the single bounded attempt to repair an invalid proposal.
type Corrector struct {
	grader  ai.Grader
	timeout time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewCorrector constructs a corrector. A zero timeout leaves the call unbounded.
func NewCorrector(grader ai.Grader, timeout time.Duration, logger zerolog.Logger) *Corrector {
	return &Corrector{
		grader:  grader,
		timeout: timeout,
		logger:  logger.With().Str("component", "grading_corrector").Logger(),
		tracer:  otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/internal/service/corrector"),
	}
}

// Correct asks the grader once for a revised proposal and re-checks the rubric sum and score
// bounds of the merged result. Justification length is not re-checked. It never
// fails: a failed call leaves the original result in place with the failure appended to its
// issues. CorrectionAttempts is always 1 on return for an invalid input. Valid input is returned
// untouched.
func (c *Corrector) Correct(ctx context.Context, result models.GradingResult, issues []string) models.GradingResult {
	if result.VerifierStatus.Valid || len(issues) == 0 {
		return result
	}

	ctx, span := c.tracer.Start(ctx, "grading.correct", trace.WithAttributes(
		attribute.String("job.id", result.JobID),
		attribute.String("student.id", result.StudentID),
		attribute.String("question.id", result.QuestionID),
		attribute.Int("issues", len(issues)),
	))
	defer span.End()

	callCtx, cancel := withCallTimeout(ctx, c.timeout)
	defer cancel()

	revision, err := c.grader.Correct(callCtx, ai.CorrectionInput{
		OriginalResponse: result.RawResponse,
		Issues:           append([]string{}, issues...),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.Corrections().WithLabelValues("call_failed").Inc()
		c.logger.Warn().Err(err).
			Str("job_id", result.JobID).
			Str("student_id", result.StudentID).
			Str("question_id", result.QuestionID).
			Msg("self-correction call failed")

		failed := result.Clone()
		failed.VerifierStatus.Valid = false
		failed.VerifierStatus.CorrectionAttempts = 1
		failed.VerifierStatus.Issues = append(failed.VerifierStatus.Issues,
			fmt.Sprintf("Self-correction failed with exception: %v", err))
		return failed
	}

	corrected := mergeRevision(result, revision)
	corrected.VerifierStatus.CorrectionAttempts = 1
	corrected.VerifierStatus.SuggestedCorrection = revisionFields(revision)

	if correctionHolds(corrected.ScoringProposal) {
		corrected.VerifierStatus.Valid = true
		corrected.VerifierStatus.WasCorrected = true
		corrected.VerifierStatus.Issues = []string{}
		observability.Corrections().WithLabelValues("corrected").Inc()
		return corrected
	}

	corrected.VerifierStatus.Valid = false
	corrected.VerifierStatus.Issues = []string{correctionFailedIssue}
	observability.Corrections().WithLabelValues("still_invalid").Inc()
	c.logger.Info().
		Str("job_id", result.JobID).
		Str("student_id", result.StudentID).
		Str("question_id", result.QuestionID).
		Msg("self-correction left the proposal inconsistent")
	return corrected
}

func correctionHolds(proposal models.ScoringProposal) bool {
	return rubricMatchesScore(proposal) && proposal.Score >= 0 && proposal.Score <= float64(proposal.MaxScore)
}

// mergeRevision overlays the fields the revision carries onto a copy of result. Absent fields
// keep their original values.
func mergeRevision(result models.GradingResult, revision ai.Revision) models.GradingResult {
	merged := result.Clone()
	if revision.Score != nil {
		merged.Score = *revision.Score
	}
	if revision.RubricBreakdown != nil {
		merged.RubricBreakdown = make(map[string]float64, len(revision.RubricBreakdown))
		for criterion, points := range revision.RubricBreakdown {
			merged.RubricBreakdown[criterion] = points
		}
	}
	if revision.Justification != nil {
		merged.Justification = *revision.Justification
	}
	if revision.Advice != nil {
		merged.Advice = *revision.Advice
	}
	return merged
}

func revisionFields(revision ai.Revision) map[string]interface{} {
	fields := map[string]interface{}{}
	if revision.Score != nil {
		fields["score"] = *revision.Score
	}
	if revision.RubricBreakdown != nil {
		fields["rubric_breakdown"] = revision.RubricBreakdown
	}
	if revision.Justification != nil {
		fields["justification"] = *revision.Justification
	}
	if revision.Advice != nil {
		fields["advice_for_full_marks"] = *revision.Advice
	}
	return fields
}

func withCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
