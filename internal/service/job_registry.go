package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/observability"
	"github.com/tufanozkan/agentic-exam-evaluator/internal/repository"
)

var (
	// ErrJobNotFound is returned for unknown job identifiers.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change would move a job backwards.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// JobRegistry tracks the lifecycle of every job known to this process.
type JobRegistry struct {
	mu      sync.RWMutex
	jobs    map[string]models.Job
	archive repository.JobRepository
	logger  zerolog.Logger
	now     func() time.Time
}

// NewJobRegistry constructs a registry. archive may be nil.
func NewJobRegistry(archive repository.JobRepository, logger zerolog.Logger) *JobRegistry {
	return &JobRegistry{
		jobs:    make(map[string]models.Job),
		archive: archive,
		logger:  logger.With().Str("component", "job_registry").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a new job in the starting state.
func (r *JobRegistry) Create(ctx context.Context) models.Job {
	now := r.now()
	job := models.Job{
		ID:        uuid.NewString(),
		Status:    models.JobStatusStarting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	observability.Jobs().WithLabelValues(string(job.Status)).Inc()
	r.persist(ctx, job)
	return job
}

// Get returns a snapshot of the job.
func (r *JobRegistry) Get(id string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

// Transition moves the job to next. errMsg is recorded when the job fails.
func (r *JobRegistry) Transition(ctx context.Context, id string, next models.JobStatus, errMsg string) (models.Job, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !job.Status.CanTransition(next) {
		r.mu.Unlock()
		return job, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, next)
	}

	previous := job.Status
	job.Status = next
	job.UpdatedAt = r.now()
	if next == models.JobStatusFailed {
		job.Error = errMsg
	}
	r.jobs[id] = job
	r.mu.Unlock()

	observability.Jobs().WithLabelValues(string(next)).Inc()
	switch {
	case next == models.JobStatusProcessing:
		observability.JobsActive().Inc()
	case next.IsTerminal() && previous == models.JobStatusProcessing:
		observability.JobsActive().Dec()
	}

	r.persist(ctx, job)
	return job, nil
}

// SetTotals records the number of questions and student sheets of the job.
func (r *JobRegistry) SetTotals(ctx context.Context, id string, questions, students int) (models.Job, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.TotalQuestions = questions
	job.StudentCount = students
	job.UpdatedAt = r.now()
	r.jobs[id] = job
	r.mu.Unlock()

	r.persist(ctx, job)
	return job, nil
}

func (r *JobRegistry) persist(ctx context.Context, job models.Job) {
	if r.archive == nil {
		return
	}
	if err := r.archive.SaveJob(ctx, job); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to archive job snapshot")
	}
}
