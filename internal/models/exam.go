package models

// QuestionUnit is a single question extracted from the answer key.
type QuestionUnit struct {
	QuestionID     string         `json:"question_id"`
	QuestionText   string         `json:"question_text"`
	ExpectedAnswer string         `json:"expected_answer"`
	MaxScore       int            `json:"max_score"`
	Rubric         map[string]int `json:"rubric"`
}

// RubricTotal sums the point values of every rubric criterion.
func (q QuestionUnit) RubricTotal() int {
	total := 0
	for _, points := range q.Rubric {
		total += points
	}
	return total
}

// AnswerUnit is one student's answer to one question.
type AnswerUnit struct {
	StudentID  string `json:"student_id"`
	QuestionID string `json:"question_id"`
	AnswerText string `json:"student_answer_text"`
}

// FindAnswer returns the answer matching questionID. Matching is exact.
func FindAnswer(answers []AnswerUnit, questionID string) (AnswerUnit, bool) {
	for _, answer := range answers {
		if answer.QuestionID == questionID {
			return answer, true
		}
	}
	return AnswerUnit{}, false
}
