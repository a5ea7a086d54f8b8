package extraction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAnswerKeyWithSections(t *testing.T) {
	text := `Soru 1:
What does the Go scheduler multiplex?
---
Cevap: Goroutines onto OS threads.
---
Puan: 10
---
Rubrik: {"accuracy": 6, "detail": 4}

Soru 2:
Name a zero-value safe type.
---
Answer: sync.Mutex
---
Points: 5`

	questions, err := ParseAnswerKey(text)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	require.Equal(t, "Q1", questions[0].QuestionID)
	require.Equal(t, "What does the Go scheduler multiplex?", questions[0].QuestionText)
	require.Equal(t, "Goroutines onto OS threads.", questions[0].ExpectedAnswer)
	require.Equal(t, 10, questions[0].MaxScore)
	require.Equal(t, map[string]int{"accuracy": 6, "detail": 4}, questions[0].Rubric)

	require.Equal(t, "Q2", questions[1].QuestionID)
	require.Equal(t, "sync.Mutex", questions[1].ExpectedAnswer)
	require.Equal(t, 5, questions[1].MaxScore)
	require.Equal(t, map[string]int{"accuracy_and_detail": 5}, questions[1].Rubric)
}

func TestParseAnswerKeyFreeForm(t *testing.T) {
	questions, err := ParseAnswerKey("Question 3: What is a channel? A typed conduit\nbetween goroutines.")
	require.NoError(t, err)
	require.Len(t, questions, 1)
	require.Equal(t, "Q3", questions[0].QuestionID)
	require.Equal(t, "What is a channel?", questions[0].QuestionText)
	require.Equal(t, "A typed conduit between goroutines.", questions[0].ExpectedAnswer)
	require.Equal(t, 10, questions[0].MaxScore)
	require.Equal(t, 10, questions[0].RubricTotal())
}

func TestParseAnswerKeyErrors(t *testing.T) {
	_, err := ParseAnswerKey("no headers here")
	require.True(t, errors.Is(err, ErrNoQuestions))

	_, err = ParseAnswerKey("Soru 1: A? --- Puan: ten")
	require.Error(t, err)

	_, err = ParseAnswerKey("Soru 1: A? --- Rubrik: {broken")
	require.Error(t, err)

	_, err = ParseAnswerKey("Soru 1: A? B. Soru 1: C? D.")
	require.Error(t, err)
}

func TestParseStudentSheet(t *testing.T) {
	text := `Soru 1: What does the scheduler multiplex?
Cevap: goroutines   onto
threads
Soru 2: plain answer without label
Soru 2: ignored duplicate`

	answers := ParseStudentSheet(text, "alice")
	require.Len(t, answers, 2)
	require.Equal(t, "alice", answers[0].StudentID)
	require.Equal(t, "Q1", answers[0].QuestionID)
	require.Equal(t, "goroutines onto threads", answers[0].AnswerText)
	require.Equal(t, "Q2", answers[1].QuestionID)
	require.Equal(t, "plain answer without label", answers[1].AnswerText)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "a b c", Normalize("  a\n\tb   c \r\n"))
	require.Equal(t, "", Normalize(" \n "))
}
