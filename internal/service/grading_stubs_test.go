package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/repository"
	"github.com/tufanozkan/agentic-exam-evaluator/pkg/ai"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// stubGrader answers Grade by student answer text; an entry in failures makes that answer fail.
type stubGrader struct {
	mu        sync.Mutex
	proposals map[string]ai.Proposal
	failures  map[string]error
	fallback  ai.Proposal

	revision   ai.Revision
	correctErr error

	gradeCalls   int
	correctCalls int
	lastCorrect  ai.CorrectionInput
}

func (s *stubGrader) Grade(ctx context.Context, input ai.GradeInput) (ai.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gradeCalls++

	if err, ok := s.failures[input.StudentAnswer]; ok {
		return ai.Proposal{}, err
	}
	if proposal, ok := s.proposals[input.StudentAnswer]; ok {
		return proposal, nil
	}
	return s.fallback, nil
}

func (s *stubGrader) Correct(ctx context.Context, input ai.CorrectionInput) (ai.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correctCalls++
	s.lastCorrect = input

	if s.correctErr != nil {
		return ai.Revision{}, s.correctErr
	}
	return s.revision, nil
}

func (s *stubGrader) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gradeCalls, s.correctCalls
}

type stubWriter struct {
	mu          sync.Mutex
	feedbackErr error
	summaryErr  error
	followUpErr error
	answer      string

	summaries     []ai.SummaryInput
	followUpCalls []ai.FollowUpInput
}

func (s *stubWriter) Feedback(ctx context.Context, input ai.FeedbackInput) (string, error) {
	if s.feedbackErr != nil {
		return "", s.feedbackErr
	}
	return fmt.Sprintf("You scored %v out of %d.", input.Score, input.MaxScore), nil
}

func (s *stubWriter) Summary(ctx context.Context, input ai.SummaryInput) (string, error) {
	s.mu.Lock()
	s.summaries = append(s.summaries, input)
	s.mu.Unlock()

	if s.summaryErr != nil {
		return "", s.summaryErr
	}
	return "Summary for " + input.StudentID, nil
}

func (s *stubWriter) FollowUp(ctx context.Context, input ai.FollowUpInput) (string, error) {
	s.mu.Lock()
	s.followUpCalls = append(s.followUpCalls, input)
	s.mu.Unlock()

	if s.followUpErr != nil {
		return "", s.followUpErr
	}
	if s.answer != "" {
		return s.answer, nil
	}
	return "Because the example was missing.", nil
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StreamEvent
	broker *EventBroker
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{broker: NewEventBroker(EventBrokerConfig{Logger: testLogger()})}
}

func (r *recordingPublisher) Publish(ctx context.Context, jobID string, kind models.EventKind, data interface{}) (models.StreamEvent, error) {
	event, err := r.broker.Publish(ctx, jobID, kind, data)
	if err != nil {
		return event, err
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return event, nil
}

func (r *recordingPublisher) recorded() []models.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StreamEvent(nil), r.events...)
}

var errStoreDown = errors.New("store down")

// failingResults wraps a repository and fails every Save.
type failingResults struct {
	repository.ResultRepository
}

func (f failingResults) Save(ctx context.Context, result models.GradingResult) error {
	return errStoreDown
}

// stubExtractor serves questions and per-sheet answers from memory.
type stubExtractor struct {
	questions    []models.QuestionUnit
	questionsErr error
	answers      map[string][]models.AnswerUnit
	answersErr   map[string]error
}

func (s *stubExtractor) Questions(ctx context.Context, doc models.Document) ([]models.QuestionUnit, error) {
	if s.questionsErr != nil {
		return nil, s.questionsErr
	}
	return s.questions, nil
}

func (s *stubExtractor) Answers(ctx context.Context, doc models.Document) ([]models.AnswerUnit, error) {
	if err, ok := s.answersErr[doc.Name]; ok {
		return nil, err
	}
	return s.answers[doc.Name], nil
}

func floatPtr(v float64) *float64 { return &v }

func strPtr(v string) *string { return &v }
