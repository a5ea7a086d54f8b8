package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/extraction"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/repository"
)

const archiveTimeout = 30 * time.Second

// ErrNoStudentSheets is returned when a job is submitted without any student sheet.
var ErrNoStudentSheets = errors.New("at least one student sheet is required")

// DocumentArchive keeps a copy of uploaded exam documents.
type DocumentArchive interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// JobService is the entry point for submitting and observing grading jobs.
type JobService interface {
	CreateJob(ctx context.Context, answerKey models.Document, sheets []models.Document) (models.Job, error)
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	ListResults(ctx context.Context, jobID string) ([]models.GradingResult, error)
	Subscribe(ctx context.Context, jobID string) (<-chan models.StreamEvent, func(), error)
}

// JobServiceConfig wires the collaborators of the job service. Archive is optional.
type JobServiceConfig struct {
	Registry     *JobRegistry
	Orchestrator *JobOrchestrator
	Results      repository.ResultRepository
	Broker       *EventBroker
	Archive      DocumentArchive
	Logger       zerolog.Logger
}

type jobService struct {
	registry     *JobRegistry
	orchestrator *JobOrchestrator
	results      repository.ResultRepository
	broker       *EventBroker
	archive      DocumentArchive
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// NewJobService constructs the job service.
func NewJobService(cfg JobServiceConfig) JobService {
	return &jobService{
		registry:     cfg.Registry,
		orchestrator: cfg.Orchestrator,
		results:      cfg.Results,
		broker:       cfg.Broker,
		archive:      cfg.Archive,
		logger:       cfg.Logger.With().Str("component", "job_service").Logger(),
		tracer:       otel.Tracer("github.com/tufanozkan/agentic-exam-evaluator/internal/service/jobs"),
	}
}

// CreateJob registers the job and starts processing it in the background. The job outlives ctx.
func (s *jobService) CreateJob(ctx context.Context, answerKey models.Document, sheets []models.Document) (models.Job, error) {
	ctx, span := s.tracer.Start(ctx, "jobs.create", trace.WithAttributes(
		attribute.Int("job.sheets", len(sheets)),
	))
	defer span.End()

	if len(answerKey.Content) == 0 {
		return models.Job{}, fmt.Errorf("answer key %q: %w", answerKey.Name, extraction.ErrEmptyDocument)
	}
	if len(sheets) == 0 {
		return models.Job{}, ErrNoStudentSheets
	}
	for _, sheet := range sheets {
		if len(sheet.Content) == 0 {
			return models.Job{}, fmt.Errorf("student sheet %q: %w", sheet.Name, extraction.ErrEmptyDocument)
		}
	}

	detached := context.WithoutCancel(ctx)
	job := s.registry.Create(detached)
	span.SetAttributes(attribute.String("job.id", job.ID))

	s.archiveDocuments(detached, job.ID, append([]models.Document{answerKey}, sheets...))
	s.orchestrator.Start(detached, job.ID, answerKey, sheets)

	s.logger.Info().Str("job_id", job.ID).Int("sheets", len(sheets)).Msg("grading job accepted")
	return job, nil
}

func (s *jobService) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	return s.registry.Get(jobID)
}

// ListResults returns the stored results of a job. Jobs unknown to this process are still served
// when the store holds results for them.
func (s *jobService) ListResults(ctx context.Context, jobID string) ([]models.GradingResult, error) {
	results, err := s.results.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	if len(results) == 0 {
		if _, err := s.registry.Get(jobID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *jobService) Subscribe(ctx context.Context, jobID string) (<-chan models.StreamEvent, func(), error) {
	if !s.broker.Distributed() {
		if _, err := s.registry.Get(jobID); err != nil {
			return nil, nil, err
		}
	}
	events, cancel := s.broker.Subscribe(jobID)
	return events, cancel, nil
}

func (s *jobService) archiveDocuments(ctx context.Context, jobID string, docs []models.Document) {
	if s.archive == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
		defer cancel()

		for _, doc := range docs {
			name := jobID + "-" + strings.TrimSpace(doc.Name)
			url, err := s.archive.Upload(ctx, name, bytes.NewReader(doc.Content))
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", jobID).Str("document", doc.Name).Msg("failed to archive document")
				continue
			}
			s.logger.Debug().Str("job_id", jobID).Str("document", doc.Name).Str("url", url).Msg("document archived")
		}
	}()
}
