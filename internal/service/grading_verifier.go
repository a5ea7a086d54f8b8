package service

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

const minJustificationLength = 10

// VerifyProposal runs every consistency check against the proposal and reports all violations
// in check order. It never modifies the proposal.
func VerifyProposal(proposal models.ScoringProposal) models.VerifierStatus {
	status := models.NewVerifierStatus()

	if !rubricMatchesScore(proposal) {
		status.Issues = append(status.Issues, fmt.Sprintf("Score-Rubric mismatch: Rubric sum is %s, but score is %s.",
			formatPoints(proposal.RubricSum()), formatPoints(proposal.Score)))
	}
	if proposal.Score < 0 {
		status.Issues = append(status.Issues, fmt.Sprintf("Invalid score: Score %s is negative.", formatPoints(proposal.Score)))
	}
	if proposal.Score > float64(proposal.MaxScore) {
		status.Issues = append(status.Issues, fmt.Sprintf("Invalid score: Score %s is higher than max_score %d.",
			formatPoints(proposal.Score), proposal.MaxScore))
	}
	if utf8.RuneCountInString(proposal.Justification) < minJustificationLength {
		status.Issues = append(status.Issues, "Justification is missing or too short.")
	}

	status.Valid = len(status.Issues) == 0
	return status
}

// rubricMatchesScore compares the breakdown sum and the score at two decimal places.
func rubricMatchesScore(proposal models.ScoringProposal) bool {
	return round2(proposal.RubricSum()) == round2(proposal.Score)
}

// round2 rounds the exact binary value to two decimals, ties to even. 0.125 becomes 0.12.
func round2(value float64) float64 {
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(value, 'f', 2, 64), 64)
	return rounded
}

func formatPoints(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
