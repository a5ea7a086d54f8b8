package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

// ErrResultNotFound is returned when no grading result is stored under a key.
var ErrResultNotFound = errors.New("grading result not found")

// ResultRepository persists grading results and the follow-up conversation of each result key.
type ResultRepository interface {
	Save(ctx context.Context, result models.GradingResult) error
	Get(ctx context.Context, key models.ResultKey) (models.GradingResult, error)
	ListByJob(ctx context.Context, jobID string) ([]models.GradingResult, error)
	History(ctx context.Context, key models.ResultKey) ([]models.ChatTurn, error)
	SaveHistory(ctx context.Context, key models.ResultKey, turns []models.ChatTurn) error
}

// JobRepository archives job snapshots so operators can inspect past runs.
type JobRepository interface {
	SaveJob(ctx context.Context, job models.Job) error
}

type memoryResultRepository struct {
	mu      sync.RWMutex
	results map[models.ResultKey]models.GradingResult
	order   map[string][]models.ResultKey
	history map[models.ResultKey][]models.ChatTurn
}

// NewMemoryResultRepository returns a process-local store. Nothing survives a restart.
func NewMemoryResultRepository() ResultRepository {
	return &memoryResultRepository{
		results: make(map[models.ResultKey]models.GradingResult),
		order:   make(map[string][]models.ResultKey),
		history: make(map[models.ResultKey][]models.ChatTurn),
	}
}

func (r *memoryResultRepository) Save(ctx context.Context, result models.GradingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := result.Key()
	if _, exists := r.results[key]; !exists {
		r.order[key.JobID] = append(r.order[key.JobID], key)
	}
	r.results[key] = result.Clone()
	return nil
}

func (r *memoryResultRepository) Get(ctx context.Context, key models.ResultKey) (models.GradingResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.results[key]
	if !ok {
		return models.GradingResult{}, ErrResultNotFound
	}
	return result.Clone(), nil
}

func (r *memoryResultRepository) ListByJob(ctx context.Context, jobID string) ([]models.GradingResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.order[jobID]
	results := make([]models.GradingResult, 0, len(keys))
	for _, key := range keys {
		results = append(results, r.results[key].Clone())
	}
	return results, nil
}

func (r *memoryResultRepository) History(ctx context.Context, key models.ResultKey) ([]models.ChatTurn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]models.ChatTurn{}, r.history[key]...), nil
}

func (r *memoryResultRepository) SaveHistory(ctx context.Context, key models.ResultKey, turns []models.ChatTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history[key] = append([]models.ChatTurn{}, turns...)
	return nil
}
