package models

import (
	"fmt"
	"slices"
	"time"
)

// ScoringProposal is the untrusted output of the scoring source for one unit.
type ScoringProposal struct {
	Score           float64                `json:"score"`
	MaxScore        int                    `json:"max_score"`
	RubricBreakdown map[string]float64     `json:"rubric_breakdown"`
	Justification   string                 `json:"justification"`
	Advice          string                 `json:"advice_for_full_marks"`
	RawResponse     string                 `json:"llm_raw_response"`
	Model           string                 `json:"model"`
	ModelParams     map[string]interface{} `json:"model_params"`
}

// RubricSum totals the awarded rubric points in criterion name order, so the same breakdown
// always yields the same float.
func (p ScoringProposal) RubricSum() float64 {
	criteria := make([]string, 0, len(p.RubricBreakdown))
	for criterion := range p.RubricBreakdown {
		criteria = append(criteria, criterion)
	}
	slices.Sort(criteria)
	sum := 0.0
	for _, criterion := range criteria {
		sum += p.RubricBreakdown[criterion]
	}
	return sum
}

// VerifierStatus is the audit record of the consistency checks applied to a proposal.
type VerifierStatus struct {
	Valid               bool                   `json:"valid"`
	Issues              []string               `json:"issues"`
	WasCorrected        bool                   `json:"was_corrected"`
	CorrectionAttempts  int                    `json:"correction_attempts"`
	SuggestedCorrection map[string]interface{} `json:"suggested_correction,omitempty"`
}

// NewVerifierStatus returns the initial, not yet verified status.
func NewVerifierStatus() VerifierStatus {
	return VerifierStatus{Valid: false, Issues: []string{}}
}

// ResultKey is the (job, student, question) triple every result is addressed by.
type ResultKey struct {
	JobID      string `json:"job_id"`
	StudentID  string `json:"student_id"`
	QuestionID string `json:"question_id"`
}

func (k ResultKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.JobID, k.StudentID, k.QuestionID)
}

// GradingResult is the persisted union of a unit's inputs, its proposal and its verification.
type GradingResult struct {
	JobID          string         `json:"job_id"`
	StudentID      string         `json:"student_id"`
	QuestionID     string         `json:"question_id"`
	QuestionText   string         `json:"question_text"`
	ExpectedAnswer string         `json:"expected_answer"`
	Rubric         map[string]int `json:"rubric"`
	AnswerText     string         `json:"student_answer_text"`
	ScoringProposal
	Prompt         string         `json:"llm_prompt"`
	GradedAt       time.Time      `json:"timestamp"`
	VerifierStatus VerifierStatus `json:"verifier_status"`
}

// Key returns the lookup key of the result.
func (r GradingResult) Key() ResultKey {
	return ResultKey{JobID: r.JobID, StudentID: r.StudentID, QuestionID: r.QuestionID}
}

// Clone returns a deep copy so later stages never alias maps or slices of earlier ones.
func (r GradingResult) Clone() GradingResult {
	out := r
	if r.Rubric != nil {
		out.Rubric = make(map[string]int, len(r.Rubric))
		for k, v := range r.Rubric {
			out.Rubric[k] = v
		}
	}
	if r.RubricBreakdown != nil {
		out.RubricBreakdown = make(map[string]float64, len(r.RubricBreakdown))
		for k, v := range r.RubricBreakdown {
			out.RubricBreakdown[k] = v
		}
	}
	if r.ModelParams != nil {
		out.ModelParams = make(map[string]interface{}, len(r.ModelParams))
		for k, v := range r.ModelParams {
			out.ModelParams[k] = v
		}
	}
	out.VerifierStatus.Issues = append([]string{}, r.VerifierStatus.Issues...)
	if r.VerifierStatus.SuggestedCorrection != nil {
		out.VerifierStatus.SuggestedCorrection = make(map[string]interface{}, len(r.VerifierStatus.SuggestedCorrection))
		for k, v := range r.VerifierStatus.SuggestedCorrection {
			out.VerifierStatus.SuggestedCorrection[k] = v
		}
	}
	return out
}

// ChatRole identifies the author of a follow-up conversation turn.
type ChatRole string

const (
	ChatRoleUser ChatRole = "user"
	ChatRoleAI   ChatRole = "ai"
)

// ChatTurn is one entry of the follow-up conversation stored per result key.
type ChatTurn struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}
