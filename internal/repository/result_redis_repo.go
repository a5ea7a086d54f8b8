package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

type RedisResultRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisResultRepository stores results as JSON strings and keeps a per-job sorted index.
// A zero ttl keeps entries until they are evicted.
func NewRedisResultRepository(client *redis.Client, prefix string, ttl time.Duration) *RedisResultRepository {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "grader"
	}
	return &RedisResultRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisResultRepository) resultKey(key models.ResultKey) string {
	return fmt.Sprintf("%s:result:%s:%s:%s", r.prefix, key.JobID, key.StudentID, key.QuestionID)
}

func (r *RedisResultRepository) indexKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:results", r.prefix, jobID)
}

func (r *RedisResultRepository) historyKey(key models.ResultKey) string {
	return fmt.Sprintf("%s:history:%s:%s:%s", r.prefix, key.JobID, key.StudentID, key.QuestionID)
}

func (r *RedisResultRepository) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", r.prefix, jobID)
}

func (r *RedisResultRepository) Save(ctx context.Context, result models.GradingResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode grading result: %w", err)
	}

	key := result.Key()
	resultKey := r.resultKey(key)
	indexKey := r.indexKey(key.JobID)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, resultKey, payload, r.ttl)
	pipe.ZAddNX(ctx, indexKey, redis.Z{Score: float64(time.Now().UnixNano()), Member: resultKey})
	if r.ttl > 0 {
		pipe.Expire(ctx, indexKey, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store grading result: %w", err)
	}
	return nil
}

func (r *RedisResultRepository) Get(ctx context.Context, key models.ResultKey) (models.GradingResult, error) {
	raw, err := r.client.Get(ctx, r.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.GradingResult{}, ErrResultNotFound
	}
	if err != nil {
		return models.GradingResult{}, fmt.Errorf("load grading result: %w", err)
	}

	var result models.GradingResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.GradingResult{}, fmt.Errorf("decode grading result: %w", err)
	}
	return result, nil
}

func (r *RedisResultRepository) ListByJob(ctx context.Context, jobID string) ([]models.GradingResult, error) {
	keys, err := r.client.ZRange(ctx, r.indexKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list job results: %w", err)
	}
	if len(keys) == 0 {
		return []models.GradingResult{}, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load job results: %w", err)
	}

	results := make([]models.GradingResult, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var result models.GradingResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("decode grading result: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *RedisResultRepository) History(ctx context.Context, key models.ResultKey) ([]models.ChatTurn, error) {
	raw, err := r.client.Get(ctx, r.historyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.ChatTurn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var turns []models.ChatTurn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return turns, nil
}

func (r *RedisResultRepository) SaveHistory(ctx context.Context, key models.ResultKey, turns []models.ChatTurn) error {
	if turns == nil {
		turns = []models.ChatTurn{}
	}
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	if err := r.client.Set(ctx, r.historyKey(key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	return nil
}

// SaveJob keeps the latest job snapshot in a hash.
func (r *RedisResultRepository) SaveJob(ctx context.Context, job models.Job) error {
	key := r.jobKey(job.ID)
	fields := map[string]interface{}{
		"status":          string(job.Status),
		"total_questions": job.TotalQuestions,
		"student_count":   job.StudentCount,
		"error":           job.Error,
		"created_at":      job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := r.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return fmt.Errorf("expire job: %w", err)
		}
	}
	return nil
}
