package dto

import "github.com/tufanozkan/agentic-exam-evaluator/internal/models"

// JobStartedPayload is the data of a job_started event.
type JobStartedPayload struct {
	TotalQuestions int `json:"total_questions"`
}

// PartialResultPayload is a full grading result plus student-facing feedback.
type PartialResultPayload struct {
	models.GradingResult
	FriendlyFeedback string `json:"friendly_feedback"`
}

type StudentSummaryPayload struct {
	StudentID     string `json:"student_id"`
	SummaryReport string `json:"summary_report"`
}

type JobDonePayload struct {
	JobID string `json:"job_id"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
