package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/dto"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/service"
)

type stubJobService struct {
	mu         sync.Mutex
	job        models.Job
	createErr  error
	results    []models.GradingResult
	resultsErr error
	broker     *service.EventBroker

	answerKey models.Document
	sheets    []models.Document
}

func newStubJobService(jobID string) *stubJobService {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &stubJobService{
		job:    models.Job{ID: jobID, Status: models.JobStatusStarting, CreatedAt: now, UpdatedAt: now},
		broker: service.NewEventBroker(service.EventBrokerConfig{ReplaySize: 32, Logger: zerolog.Nop()}),
	}
}

func (s *stubJobService) CreateJob(_ context.Context, answerKey models.Document, sheets []models.Document) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerKey = answerKey
	s.sheets = sheets
	if s.createErr != nil {
		return models.Job{}, s.createErr
	}
	return s.job, nil
}

func (s *stubJobService) GetJob(_ context.Context, jobID string) (models.Job, error) {
	if jobID != s.job.ID {
		return models.Job{}, service.ErrJobNotFound
	}
	return s.job, nil
}

func (s *stubJobService) ListResults(_ context.Context, jobID string) ([]models.GradingResult, error) {
	if s.resultsErr != nil {
		return nil, s.resultsErr
	}
	if jobID != s.job.ID {
		return nil, service.ErrJobNotFound
	}
	return s.results, nil
}

func (s *stubJobService) Subscribe(_ context.Context, jobID string) (<-chan models.StreamEvent, func(), error) {
	if jobID != s.job.ID {
		return nil, nil, service.ErrJobNotFound
	}
	events, cancel := s.broker.Subscribe(jobID)
	return events, cancel, nil
}

func (s *stubJobService) publishRun(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := s.broker.Publish(ctx, s.job.ID, models.EventJobStarted, dto.JobStartedPayload{TotalQuestions: 1})
	require.NoError(t, err)
	_, err = s.broker.Publish(ctx, s.job.ID, models.EventPartialResult, dto.PartialResultPayload{
		GradingResult: models.GradingResult{
			JobID:           s.job.ID,
			StudentID:       "ali",
			QuestionID:      "1",
			ScoringProposal: models.ScoringProposal{Score: 8, MaxScore: 10},
			VerifierStatus:  models.VerifierStatus{Valid: true, Issues: []string{}},
		},
		FriendlyFeedback: "Nice work.",
	})
	require.NoError(t, err)
	_, err = s.broker.Publish(ctx, s.job.ID, models.EventJobDone, dto.JobDonePayload{JobID: s.job.ID})
	require.NoError(t, err)
}

type stubExporter struct {
	content []byte
	err     error
}

func (s *stubExporter) ExportResults(_ context.Context, jobID string) ([]byte, error) {
	return s.content, s.err
}

type stubFollowUpService struct {
	answer   dto.FollowUpResponse
	history  []models.ChatTurn
	err      error
	lastKey  models.ResultKey
	question string
}

func (s *stubFollowUpService) Ask(_ context.Context, key models.ResultKey, question string) (dto.FollowUpResponse, error) {
	s.lastKey = key
	s.question = question
	if s.err != nil {
		return dto.FollowUpResponse{}, s.err
	}
	return s.answer, nil
}

func (s *stubFollowUpService) History(_ context.Context, key models.ResultKey) ([]models.ChatTurn, error) {
	s.lastKey = key
	if s.err != nil {
		return nil, s.err
	}
	return s.history, nil
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(data, target))
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return "http://" + listener.Addr().String(), shutdown
}
