package ai

import (
	"context"
	"errors"
)

// ErrMalformedResponse indicates the model answered with content that does not fit the expected schema.
var ErrMalformedResponse = errors.New("malformed model response")

// GradeInput contains the artefacts needed to score one student answer.
type GradeInput struct {
	QuestionText   string
	ExpectedAnswer string
	MaxScore       int
	Rubric         map[string]int
	StudentAnswer  string
}

// Proposal is the structured score returned by a grader.
type Proposal struct {
	Score           float64
	RubricBreakdown map[string]float64
	Justification   string
	Advice          string
	Prompt          string
	Raw             string
	Model           string
	Params          map[string]interface{}
}

// CorrectionInput asks the grader to repair a proposal that failed consistency checks.
type CorrectionInput struct {
	OriginalResponse string
	Issues           []string
}

// Revision carries only the fields the grader returned while correcting; nil means absent.
type Revision struct {
	Score           *float64
	RubricBreakdown map[string]float64
	Justification   *string
	Advice          *string
	Raw             string
}

// FeedbackInput describes a graded unit to be turned into student-facing feedback.
type FeedbackInput struct {
	QuestionText    string
	StudentAnswer   string
	Score           float64
	MaxScore        int
	Justification   string
	Advice          string
	RubricBreakdown map[string]float64
}

// SummaryInput holds one student's graded results, already serialised for the prompt.
type SummaryInput struct {
	StudentID   string
	ResultsJSON string
}

// Turn is a single message of a follow-up conversation.
type Turn struct {
	Role    string
	Content string
}

// FollowUpInput holds the stored grading context plus the running conversation.
type FollowUpInput struct {
	StudentID     string
	QuestionID    string
	QuestionText  string
	StudentAnswer string
	Score         float64
	MaxScore      int
	Justification string
	Advice        string
	History       []Turn
	Question      string
}

// Grader produces and repairs scoring proposals.
type Grader interface {
	Grade(ctx context.Context, input GradeInput) (Proposal, error)
	Correct(ctx context.Context, input CorrectionInput) (Revision, error)
}

// Writer produces free-text feedback, summaries and follow-up answers.
type Writer interface {
	Feedback(ctx context.Context, input FeedbackInput) (string, error)
	Summary(ctx context.Context, input SummaryInput) (string, error)
	FollowUp(ctx context.Context, input FollowUpInput) (string, error)
}

// Assistant is a backend able to do both.
type Assistant interface {
	Grader
	Writer
}
