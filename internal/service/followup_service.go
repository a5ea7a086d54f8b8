package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

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

var (
	// ErrEmptyQuestion is returned when the follow-up question is blank after sanitization.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrAssistantUnavailable wraps failures of the follow-up model call.
	ErrAssistantUnavailable = errors.New("assistant unavailable")
)

// FollowUpService answers questions about a stored grading result.
type FollowUpService interface {
	Ask(ctx context.Context, key models.ResultKey, question string) (dto.FollowUpResponse, error)
	History(ctx context.Context, key models.ResultKey) ([]models.ChatTurn, error)
}

type followUpService struct {
	results repository.ResultRepository
	writer  ai.Writer
	timeout time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer

	mu    sync.Mutex
	locks map[models.ResultKey]*sync.Mutex
}

// NewFollowUpService constructs the follow-up service.
func NewFollowUpService(results repository.ResultRepository, writer ai.Writer, timeout time.Duration, logger zerolog.Logger) FollowUpService {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &followUpService{
		results: results,
		writer:  writer,
		timeout: timeout,
		logger:  logger.With().Str("component", "followup_service").Logger(),
		tracer:  otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/internal/service/followup"),
		locks:   make(map[models.ResultKey]*sync.Mutex),
	}
}

func (s *followUpService) keyLock(key models.ResultKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Ask appends the question and the answer to the conversation of the result. When the model call
// fails the conversation is left exactly as it was.
func (s *followUpService) Ask(ctx context.Context, key models.ResultKey, question string) (dto.FollowUpResponse, error) {
	ctx, span := s.tracer.Start(ctx, "followup.ask", trace.WithAttributes(
		attribute.String("job.id", key.JobID),
		attribute.String("student.id", key.StudentID),
		attribute.String("question.id", key.QuestionID),
	))
	defer span.End()

	question = cleanQuestion(question)
	if question == "" {
		return dto.FollowUpResponse{}, ErrEmptyQuestion
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	result, err := s.results.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		observability.FollowUps().WithLabelValues("not_found").Inc()
		return dto.FollowUpResponse{}, err
	}

	history, err := s.results.History(ctx, key)
	if err != nil {
		span.RecordError(err)
		return dto.FollowUpResponse{}, fmt.Errorf("load history: %w", err)
	}

	turns := make([]ai.Turn, 0, len(history))
	for _, turn := range history {
		turns = append(turns, ai.Turn{Role: string(turn.Role), Content: turn.Content})
	}

	callCtx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	answer, err := s.writer.FollowUp(callCtx, ai.FollowUpInput{
		StudentID:     result.StudentID,
		QuestionID:    result.QuestionID,
		QuestionText:  result.QuestionText,
		StudentAnswer: result.AnswerText,
		Score:         result.Score,
		MaxScore:      result.MaxScore,
		Justification: result.Justification,
		Advice:        result.Advice,
		History:       turns,
		Question:      question,
	})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.FollowUps().WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("follow-up answer failed")
		return dto.FollowUpResponse{}, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}

	updated := append(append([]models.ChatTurn{}, history...),
		models.ChatTurn{Role: models.ChatRoleUser, Content: question},
		models.ChatTurn{Role: models.ChatRoleAI, Content: answer},
	)
	if err := s.results.SaveHistory(ctx, key, updated); err != nil {
		span.RecordError(err)
		return dto.FollowUpResponse{}, fmt.Errorf("save history: %w", err)
	}

	observability.FollowUps().WithLabelValues("answered").Inc()
	return dto.FollowUpResponse{Answer: answer, History: updated}, nil
}

func (s *followUpService) History(ctx context.Context, key models.ResultKey) ([]models.ChatTurn, error) {
	if _, err := s.results.Get(ctx, key); err != nil {
		return nil, err
	}
	return s.results.History(ctx, key)
}

// cleanQuestion drops control characters other than line breaks and tabs. The question reaches
// the model as plain text, so markup-like text such as "<T>" is kept.
func cleanQuestion(question string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, question)
	return strings.TrimSpace(cleaned)
}
