package models

import "time"

// JobStatus enumerates the lifecycle of a grading job.
type JobStatus string

const (
	JobStatusStarting   JobStatus = "starting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next respects starting -> processing -> terminal.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusStarting:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is a snapshot of one batch grading run.
type Job struct {
	ID             string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	TotalQuestions int       `json:"total_questions"`
	StudentCount   int       `json:"student_count"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Document is a raw uploaded file handed to extraction.
type Document struct {
	Name    string
	Content []byte
}
