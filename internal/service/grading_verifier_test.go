package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tufanozkan/agentic-exam-evaluator/internal/models"
)

func TestVerifyProposalAcceptsConsistentProposal(t *testing.T) {
	proposal := models.ScoringProposal{
		Score:           8,
		MaxScore:        10,
		RubricBreakdown: map[string]float64{"accuracy": 5, "detail": 3},
		Justification:   "Covers main points but omits an example.",
	}

	status := VerifyProposal(proposal)
	require.True(t, status.Valid)
	require.Empty(t, status.Issues)
	require.NotNil(t, status.Issues)
	require.Zero(t, status.CorrectionAttempts)
	require.False(t, status.WasCorrected)
}

func TestVerifyProposalReportsMismatchAndShortJustification(t *testing.T) {
	proposal := models.ScoringProposal{
		Score:           9,
		MaxScore:        10,
		RubricBreakdown: map[string]float64{"accuracy": 5, "detail": 3},
		Justification:   "Good.",
	}

	status := VerifyProposal(proposal)
	require.False(t, status.Valid)
	require.Equal(t, []string{
		"Score-Rubric mismatch: Rubric sum is 8, but score is 9.",
		"Justification is missing or too short.",
	}, status.Issues)
}

func TestVerifyProposalReportsEveryViolationInOrder(t *testing.T) {
	proposal := models.ScoringProposal{
		Score:           -1.5,
		MaxScore:        10,
		RubricBreakdown: map[string]float64{"accuracy": 2},
	}

	status := VerifyProposal(proposal)
	require.Equal(t, []string{
		"Score-Rubric mismatch: Rubric sum is 2, but score is -1.5.",
		"Invalid score: Score -1.5 is negative.",
		"Justification is missing or too short.",
	}, status.Issues)

	over := models.ScoringProposal{
		Score:           12,
		MaxScore:        10,
		RubricBreakdown: map[string]float64{"accuracy": 12},
		Justification:   "Went well beyond the expected answer.",
	}
	status = VerifyProposal(over)
	require.Equal(t, []string{"Invalid score: Score 12 is higher than max_score 10."}, status.Issues)
}

func TestVerifyProposalRoundsToTwoDecimals(t *testing.T) {
	proposal := models.ScoringProposal{
		Score:           0.3,
		MaxScore:        1,
		RubricBreakdown: map[string]float64{"a": 0.1, "b": 0.2},
		Justification:   "Partially correct reasoning.",
	}
	require.True(t, VerifyProposal(proposal).Valid)

	proposal.Score = 0.31
	require.False(t, VerifyProposal(proposal).Valid)
}

func TestVerifyProposalIsDeterministicAndDoesNotMutate(t *testing.T) {
	proposal := models.ScoringProposal{
		Score:           7,
		MaxScore:        5,
		RubricBreakdown: map[string]float64{"accuracy": 3, "detail": 1},
		Justification:   "short",
	}

	first := VerifyProposal(proposal)
	second := VerifyProposal(proposal)
	require.Equal(t, first, second)
	require.Equal(t, 7.0, proposal.Score)
	require.Equal(t, map[string]float64{"accuracy": 3, "detail": 1}, proposal.RubricBreakdown)
}

func TestVerifyProposalCountsCharactersNotBytes(t *testing.T) {
	proposal := models.ScoringProposal{
		Score:           1,
		MaxScore:        1,
		RubricBreakdown: map[string]float64{"a": 1},
		Justification:   "çğıöşü",
	}
	require.Equal(t, []string{"Justification is missing or too short."}, VerifyProposal(proposal).Issues)
}

func TestVerifyProposalIsStableForFractionalRubrics(t *testing.T) {
	proposals := []models.ScoringProposal{
		{
			Score:           5,
			MaxScore:        10,
			RubricBreakdown: map[string]float64{"a": 0.1, "b": 0.2, "c": 0.3},
			Justification:   "Most criteria were missed entirely.",
		},
		{
			Score:           0.04,
			MaxScore:        1,
			RubricBreakdown: map[string]float64{"a": 0.001, "b": 0.004, "c": 0.03, "d": 0.0001},
			Justification:   "Tiny partial credit across criteria.",
		},
	}

	for _, proposal := range proposals {
		want := VerifyProposal(proposal)
		for i := 0; i < 300; i++ {
			require.Equal(t, want, VerifyProposal(proposal))
		}
	}

	require.Equal(t, []string{"Score-Rubric mismatch: Rubric sum is 0.6000000000000001, but score is 5."},
		VerifyProposal(proposals[0]).Issues)
}

func TestVerifyProposalRoundsHalvesToEven(t *testing.T) {
	proposal := models.ScoringProposal{
		Score:           0.13,
		MaxScore:        1,
		RubricBreakdown: map[string]float64{"a": 0.125},
		Justification:   "Half a point split across parts.",
	}
	require.False(t, VerifyProposal(proposal).Valid)

	proposal.Score = 0.12
	require.True(t, VerifyProposal(proposal).Valid)

	proposal.RubricBreakdown = map[string]float64{"a": 0.375}
	proposal.Score = 0.38
	require.True(t, VerifyProposal(proposal).Valid)
}
