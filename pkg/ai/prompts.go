package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const graderSystemPrompt = "You are an expert exam grader. Score the student's answer strictly against the rubric. " +
	"Respond with a JSON object containing score (number), rubric_breakdown (object mapping every rubric " +
	"criterion to the points awarded), justification (string) and advice_for_full_marks (string). " +
	"The score must equal the sum of rubric_breakdown and must lie between 0 and the maximum score."

const correctorSystemPrompt = "You repair exam grading JSON. Fix only the listed problems and keep everything else. " +
	"Respond with a JSON object using the same keys as the original: score, rubric_breakdown, justification, " +
	"advice_for_full_marks."

func buildGradePrompt(input GradeInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(input.QuestionText)
	builder.WriteString("\n\n## Expected Answer\n")
	builder.WriteString(input.ExpectedAnswer)
	builder.WriteString("\n\n## Maximum Score\n")
	builder.WriteString(fmt.Sprintf("%d", input.MaxScore))
	builder.WriteString("\n\n## Rubric\n")
	builder.WriteString(marshalCompact(input.Rubric))
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.StudentAnswer)
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func buildCorrectionPrompt(input CorrectionInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Original Grading JSON\n")
	builder.WriteString(input.OriginalResponse)
	builder.WriteString("\n\n## Problems\n")
	for _, issue := range input.Issues {
		builder.WriteString("- ")
		builder.WriteString(issue)
		builder.WriteString("\n")
	}
	builder.WriteString("\nReturn the corrected JSON.")
	return builder.String()
}

func buildFeedbackPrompt(input FeedbackInput) string {
	builder := strings.Builder{}
	builder.WriteString("Write short, encouraging feedback addressed directly to the student. ")
	builder.WriteString("Explain what was good, what was missing and how to reach full marks.\n\n")
	builder.WriteString("# Question\n")
	builder.WriteString(input.QuestionText)
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.StudentAnswer)
	builder.WriteString(fmt.Sprintf("\n\n## Score\n%g / %d", input.Score, input.MaxScore))
	builder.WriteString("\n\n## Rubric Breakdown\n")
	builder.WriteString(marshalCompact(input.RubricBreakdown))
	builder.WriteString("\n\n## Grader Justification\n")
	builder.WriteString(input.Justification)
	builder.WriteString("\n\n## Advice For Full Marks\n")
	builder.WriteString(input.Advice)
	return builder.String()
}

func buildSummaryPrompt(input SummaryInput) string {
	builder := strings.Builder{}
	builder.WriteString("Write a concise performance report for the student below. Highlight strengths, ")
	builder.WriteString("recurring weaknesses and the total score.\n\n")
	builder.WriteString("# Student\n")
	builder.WriteString(input.StudentID)
	builder.WriteString("\n\n## Graded Results\n")
	builder.WriteString(input.ResultsJSON)
	return builder.String()
}

func buildFollowUpPrompt(input FollowUpInput) string {
	builder := strings.Builder{}
	builder.WriteString("You are a teaching assistant answering a question about a graded exam answer. ")
	builder.WriteString("Stay consistent with the recorded grade.\n\n")
	builder.WriteString(fmt.Sprintf("# Student %s, Question %s\n", input.StudentID, input.QuestionID))
	builder.WriteString(input.QuestionText)
	builder.WriteString("\n\n## Student Answer\n")
	builder.WriteString(input.StudentAnswer)
	builder.WriteString(fmt.Sprintf("\n\n## Score\n%g / %d", input.Score, input.MaxScore))
	builder.WriteString("\n\n## Justification\n")
	builder.WriteString(input.Justification)
	builder.WriteString("\n\n## Advice For Full Marks\n")
	builder.WriteString(input.Advice)
	builder.WriteString("\n\n## Conversation So Far\n")
	builder.WriteString(formatHistory(input.History))
	builder.WriteString("\n\n## New Question\n")
	builder.WriteString(input.Question)
	return builder.String()
}

func formatHistory(history []Turn) string {
	if len(history) == 0 {
		return "No previous conversation."
	}
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
	}
	return strings.Join(lines, "\n")
}

func marshalCompact(value interface{}) string {
	raw, err := json.Marshal(value)
	if err != nil || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}
