package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const proposalSchema = `{
  "type": "object",
  "required": ["score", "rubric_breakdown", "justification"],
  "properties": {
    "score": {"type": "number"},
    "rubric_breakdown": {"type": "object", "additionalProperties": {"type": "number"}},
    "justification": {"type": "string"},
    "advice_for_full_marks": {"type": "string"}
  }
}`

const revisionSchema = `{
  "type": "object",
  "properties": {
    "score": {"type": "number"},
    "rubric_breakdown": {"type": "object", "additionalProperties": {"type": "number"}},
    "justification": {"type": "string"},
    "advice_for_full_marks": {"type": "string"}
  }
}`

var (
	schemaOnce    sync.Once
	schemaErr     error
	proposalCheck *jsonschema.Schema
	revisionCheck *jsonschema.Schema
)

func compiledSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("proposal.json", strings.NewReader(proposalSchema)); err != nil {
			schemaErr = fmt.Errorf("add proposal schema: %w", err)
			return
		}
		if err := compiler.AddResource("revision.json", strings.NewReader(revisionSchema)); err != nil {
			schemaErr = fmt.Errorf("add revision schema: %w", err)
			return
		}
		if proposalCheck, schemaErr = compiler.Compile("proposal.json"); schemaErr != nil {
			return
		}
		revisionCheck, schemaErr = compiler.Compile("revision.json")
	})
	return proposalCheck, revisionCheck, schemaErr
}

type proposalPayload struct {
	Score           *float64           `json:"score"`
	RubricBreakdown map[string]float64 `json:"rubric_breakdown"`
	Justification   *string            `json:"justification"`
	Advice          *string            `json:"advice_for_full_marks"`
}

// ParseProposal decodes a grader answer, rejecting anything that does not match the proposal schema.
func ParseProposal(content string) (Proposal, error) {
	schema, _, err := compiledSchemas()
	if err != nil {
		return Proposal{}, err
	}

	payload, err := decodeValidated(schema, content)
	if err != nil {
		return Proposal{}, err
	}

	proposal := Proposal{
		Score:           *payload.Score,
		RubricBreakdown: payload.RubricBreakdown,
		Justification:   *payload.Justification,
		Raw:             stripCodeFences(content),
	}
	if proposal.RubricBreakdown == nil {
		proposal.RubricBreakdown = map[string]float64{}
	}
	if payload.Advice != nil {
		proposal.Advice = *payload.Advice
	}
	return proposal, nil
}

// ParseRevision decodes a correction answer; every field is optional.
func ParseRevision(content string) (Revision, error) {
	_, schema, err := compiledSchemas()
	if err != nil {
		return Revision{}, err
	}

	payload, err := decodeValidated(schema, content)
	if err != nil {
		return Revision{}, err
	}

	return Revision{
		Score:           payload.Score,
		RubricBreakdown: payload.RubricBreakdown,
		Justification:   payload.Justification,
		Advice:          payload.Advice,
		Raw:             stripCodeFences(content),
	}, nil
}

func decodeValidated(schema *jsonschema.Schema, content string) (proposalPayload, error) {
	cleaned := stripCodeFences(content)
	if cleaned == "" {
		return proposalPayload{}, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	var generic interface{}
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return proposalPayload{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := schema.Validate(generic); err != nil {
		return proposalPayload{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var payload proposalPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return proposalPayload{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return payload, nil
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.Index(trimmed, "\n"); newline >= 0 {
		trimmed = trimmed[newline+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
