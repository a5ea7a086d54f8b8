package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

type GormResultRepository struct {
	db *gorm.DB
}

// NewGormResultRepository constructs the SQL backed store. Callers migrate GradingRecord,
// ConversationRecord and JobRecord before use.
func NewGormResultRepository(db *gorm.DB) *GormResultRepository {
	return &GormResultRepository{db: db}
}

func (r *GormResultRepository) Save(ctx context.Context, result models.GradingResult) error {
	record, err := models.NewGradingRecord(result)
	if err != nil {
		return fmt.Errorf("encode grading result: %w", err)
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "student_id"}, {Name: "question_id"}},
		UpdateAll: true,
	}).Create(&record).Error
}

func (r *GormResultRepository) Get(ctx context.Context, key models.ResultKey) (models.GradingResult, error) {
	var record models.GradingRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND student_id = ? AND question_id = ?", key.JobID, key.StudentID, key.QuestionID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GradingResult{}, ErrResultNotFound
	}
	if err != nil {
		return models.GradingResult{}, err
	}
	return record.Result()
}

func (r *GormResultRepository) ListByJob(ctx context.Context, jobID string) ([]models.GradingResult, error) {
	var records []models.GradingRecord
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, student_id ASC, question_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	results := make([]models.GradingResult, 0, len(records))
	for _, record := range records {
		result, err := record.Result()
		if err != nil {
			return nil, fmt.Errorf("decode grading record: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *GormResultRepository) History(ctx context.Context, key models.ResultKey) ([]models.ChatTurn, error) {
	var record models.ConversationRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND student_id = ? AND question_id = ?", key.JobID, key.StudentID, key.QuestionID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []models.ChatTurn{}, nil
	}
	if err != nil {
		return nil, err
	}

	turns := []models.ChatTurn{}
	if len(record.Turns) > 0 {
		if err := json.Unmarshal(record.Turns, &turns); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
	}
	return turns, nil
}

func (r *GormResultRepository) SaveHistory(ctx context.Context, key models.ResultKey, turns []models.ChatTurn) error {
	if turns == nil {
		turns = []models.ChatTurn{}
	}
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	record := models.ConversationRecord{
		JobID:      key.JobID,
		StudentID:  key.StudentID,
		QuestionID: key.QuestionID,
		Turns:      datatypes.JSON(payload),
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_id"}, {Name: "student_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"turns", "updated_at"}),
	}).Create(&record).Error
}

func (r *GormResultRepository) SaveJob(ctx context.Context, job models.Job) error {
	record := models.JobRecord{
		ID:             job.ID,
		Status:         string(job.Status),
		TotalQuestions: job.TotalQuestions,
		StudentCount:   job.StudentCount,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "total_questions", "student_count", "error", "updated_at"}),
	}).Create(&record).Error
}
