package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProposalAcceptsValidPayload(t *testing.T) {
	content := `{"score": 8, "rubric_breakdown": {"accuracy": 5, "detail": 3}, "justification": "Covers main points but omits an example.", "advice_for_full_marks": "Add an example."}`

	proposal, err := ParseProposal(content)
	require.NoError(t, err)
	require.InDelta(t, 8.0, proposal.Score, 0.0001)
	require.Equal(t, map[string]float64{"accuracy": 5, "detail": 3}, proposal.RubricBreakdown)
	require.Equal(t, "Add an example.", proposal.Advice)
	require.Equal(t, content, proposal.Raw)
}

func TestParseProposalStripsCodeFences(t *testing.T) {
	content := "```json\n{\"score\": 2.5, \"rubric_breakdown\": {\"accuracy\": 2.5}, \"justification\": \"Partially right answer.\"}\n```"

	proposal, err := ParseProposal(content)
	require.NoError(t, err)
	require.InDelta(t, 2.5, proposal.Score, 0.0001)
	require.Empty(t, proposal.Advice)
}

func TestParseProposalRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not json":          "the answer is 8",
		"missing score":     `{"rubric_breakdown": {}, "justification": "long enough text"}`,
		"string score":      `{"score": "8", "rubric_breakdown": {}, "justification": "long enough text"}`,
		"non numeric point": `{"score": 8, "rubric_breakdown": {"a": "x"}, "justification": "long enough text"}`,
		"empty":             "   ",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProposal(content)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformedResponse))
		})
	}
}

func TestParseRevisionKeepsAbsentFieldsNil(t *testing.T) {
	revision, err := ParseRevision(`{"score": 8, "rubric_breakdown": {"accuracy": 5, "detail": 3}}`)
	require.NoError(t, err)
	require.NotNil(t, revision.Score)
	require.InDelta(t, 8.0, *revision.Score, 0.0001)
	require.Len(t, revision.RubricBreakdown, 2)
	require.Nil(t, revision.Justification)
	require.Nil(t, revision.Advice)
}
