package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// GradingRecord is the SQL row backing a GradingResult. The composite primary key makes a
// repeated save for the same unit overwrite the earlier row.
type GradingRecord struct {
	JobID          string         `gorm:"primaryKey;size:64" json:"job_id"`
	StudentID      string         `gorm:"primaryKey;size:191" json:"student_id"`
	QuestionID     string         `gorm:"primaryKey;size:64" json:"question_id"`
	QuestionText   string         `gorm:"type:text" json:"question_text"`
	ExpectedAnswer string         `gorm:"type:text" json:"expected_answer"`
	AnswerText     string         `gorm:"type:text" json:"student_answer_text"`
	Score          float64        `gorm:"not null" json:"score"`
	MaxScore       int            `gorm:"not null" json:"max_score"`
	Justification  string         `gorm:"type:text" json:"justification"`
	Advice         string         `gorm:"type:text" json:"advice_for_full_marks"`
	Prompt         string         `gorm:"type:text" json:"llm_prompt"`
	RawResponse    string         `gorm:"type:text" json:"llm_raw_response"`
	Model          string         `gorm:"size:64" json:"model"`
	Valid          bool           `gorm:"index" json:"valid"`
	WasCorrected   bool           `json:"was_corrected"`
	Attempts       int            `json:"correction_attempts"`
	Rubric         datatypes.JSON `json:"rubric"`
	Breakdown      datatypes.JSON `json:"rubric_breakdown"`
	ModelParams    datatypes.JSON `json:"model_params"`
	Issues         datatypes.JSON `json:"issues"`
	Suggested      datatypes.JSON `json:"suggested_correction"`
	GradedAt       time.Time      `json:"timestamp"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewGradingRecord flattens a result into its SQL row.
func NewGradingRecord(result GradingResult) (GradingRecord, error) {
	record := GradingRecord{
		JobID:          result.JobID,
		StudentID:      result.StudentID,
		QuestionID:     result.QuestionID,
		QuestionText:   result.QuestionText,
		ExpectedAnswer: result.ExpectedAnswer,
		AnswerText:     result.AnswerText,
		Score:          result.Score,
		MaxScore:       result.MaxScore,
		Justification:  result.Justification,
		Advice:         result.Advice,
		Prompt:         result.Prompt,
		RawResponse:    result.RawResponse,
		Model:          result.Model,
		Valid:          result.VerifierStatus.Valid,
		WasCorrected:   result.VerifierStatus.WasCorrected,
		Attempts:       result.VerifierStatus.CorrectionAttempts,
		GradedAt:       result.GradedAt,
	}

	fields := []struct {
		target *datatypes.JSON
		value  interface{}
	}{
		{&record.Rubric, result.Rubric},
		{&record.Breakdown, result.RubricBreakdown},
		{&record.ModelParams, result.ModelParams},
		{&record.Issues, result.VerifierStatus.Issues},
		{&record.Suggested, result.VerifierStatus.SuggestedCorrection},
	}
	for _, field := range fields {
		raw, err := json.Marshal(field.value)
		if err != nil {
			return GradingRecord{}, err
		}
		*field.target = datatypes.JSON(raw)
	}

	return record, nil
}

// Result rebuilds the domain result from the row.
func (r GradingRecord) Result() (GradingResult, error) {
	result := GradingResult{
		JobID:          r.JobID,
		StudentID:      r.StudentID,
		QuestionID:     r.QuestionID,
		QuestionText:   r.QuestionText,
		ExpectedAnswer: r.ExpectedAnswer,
		AnswerText:     r.AnswerText,
		ScoringProposal: ScoringProposal{
			Score:         r.Score,
			MaxScore:      r.MaxScore,
			Justification: r.Justification,
			Advice:        r.Advice,
			RawResponse:   r.RawResponse,
			Model:         r.Model,
		},
		Prompt:   r.Prompt,
		GradedAt: r.GradedAt,
		VerifierStatus: VerifierStatus{
			Valid:              r.Valid,
			WasCorrected:       r.WasCorrected,
			CorrectionAttempts: r.Attempts,
			Issues:             []string{},
		},
	}

	fields := []struct {
		raw    datatypes.JSON
		target interface{}
	}{
		{r.Rubric, &result.Rubric},
		{r.Breakdown, &result.RubricBreakdown},
		{r.ModelParams, &result.ModelParams},
		{r.Issues, &result.VerifierStatus.Issues},
		{r.Suggested, &result.VerifierStatus.SuggestedCorrection},
	}
	for _, field := range fields {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.target); err != nil {
			return GradingResult{}, err
		}
	}
	if result.VerifierStatus.Issues == nil {
		result.VerifierStatus.Issues = []string{}
	}

	return result, nil
}

// ConversationRecord stores the follow-up history of one result key as a JSON array.
type ConversationRecord struct {
	JobID      string         `gorm:"primaryKey;size:64"`
	StudentID  string         `gorm:"primaryKey;size:191"`
	QuestionID string         `gorm:"primaryKey;size:64"`
	Turns      datatypes.JSON `json:"turns"`
	UpdatedAt  time.Time
}

// JobRecord mirrors the in-memory job registry for operators inspecting the SQL store.
type JobRecord struct {
	ID             string    `gorm:"primaryKey;size:64" json:"job_id"`
	Status         string    `gorm:"size:32;not null;index" json:"status"`
	TotalQuestions int       `json:"total_questions"`
	StudentCount   int       `json:"student_count"`
	Error          string    `gorm:"type:text" json:"error"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
