package dto

import (
	"time"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

// JobResponse describes a grading job for API clients.
type JobResponse struct {
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	TotalQuestions int       `json:"total_questions"`
	StudentCount   int       `json:"student_count"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	StreamURL      string    `json:"stream_url,omitempty"`
	WebSocketURL   string    `json:"websocket_url,omitempty"`
}

// NewJobResponse maps the job snapshot into a response payload.
func NewJobResponse(job models.Job) JobResponse {
	return JobResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		TotalQuestions: job.TotalQuestions,
		StudentCount:   job.StudentCount,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

// JobResultsResponse lists the persisted results of a job.
type JobResultsResponse struct {
	JobID   string                 `json:"job_id"`
	Status  string                 `json:"status"`
	Count   int                    `json:"count"`
	Results []models.GradingResult `json:"results"`
}

// FollowUpRequest is a question about one graded answer.
type FollowUpRequest struct {
	StudentID  string `json:"student_id" validate:"required,max=191"`
	QuestionID string `json:"question_id" validate:"required,max=64"`
	Question   string `json:"question" validate:"required,max=2000"`
}

// FollowUpResponse carries the answer and the conversation so far.
type FollowUpResponse struct {
	Answer  string            `json:"answer"`
	History []models.ChatTurn `json:"history"`
}
