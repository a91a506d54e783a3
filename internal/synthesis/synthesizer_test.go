package synthesis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/pkg/types"
)

func TestSimulator_ConfidenceGrowsWithIterations(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	in := Input{Query: "should we enable strict mode?", Iteration: 1}
	first, err := s.Step(ctx, in)
	require.NoError(t, err)

	in.Iteration = 3
	third, err := s.Step(ctx, in)
	require.NoError(t, err)

	assert.Greater(t, third.Confidence, first.Confidence)
	assert.LessOrEqual(t, third.Confidence, 0.99)
}

func TestSimulator_SurfacesContext(t *testing.T) {
	s := NewSimulator()
	in := Input{
		Query:     "pick a serialization format",
		Iteration: 1,
		Principles: []types.Principle{
			{ID: "p1", Statement: "prefer schema-checked formats"},
		},
		Hypotheticals: []types.Hypothetical{
			{Question: "should configs be YAML?", Alternatives: []types.Alternative{
				{Option: "TOML", Status: types.AlternativePending},
				{Option: "XML", Status: types.AlternativeRejected, Reason: "verbosity"},
			}},
		},
		Rejected: []types.RejectedAlternative{
			{Option: "gob encoding", Reason: "not language neutral"},
		},
	}

	step, err := s.Step(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, step.Thought, "prefer schema-checked formats")
	assert.Equal(t, []string{"TOML"}, step.Alternatives)
	require.Len(t, step.Lessons, 1)
	assert.Contains(t, step.Lessons[0], "gob encoding")
}

type scriptedChat struct {
	content string
}

func (c *scriptedChat) ChatCompletion(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Choices: []llm.Choice{
		{Message: llm.Message{Role: "assistant", Content: c.content}},
	}}, nil
}

func TestLLMSynthesizer_ParsesStep(t *testing.T) {
	chat := &scriptedChat{content: `{"thought":"weigh rollout risk","confidence":0.72,"lessons":["big-bang migrations failed before"]}`}
	s := NewLLMSynthesizer(chat, "gpt-4o-mini")

	step, err := s.Step(context.Background(), Input{Query: "migration plan?", Iteration: 1})
	require.NoError(t, err)
	assert.Equal(t, "weigh rollout risk", step.Thought)
	assert.Equal(t, 0.72, step.Confidence)
	assert.Len(t, step.Lessons, 1)
}

func TestLLMSynthesizer_ClampsConfidence(t *testing.T) {
	chat := &scriptedChat{content: `{"thought":"overconfident","confidence":3.5}`}
	s := NewLLMSynthesizer(chat, "gpt-4o-mini")

	step, err := s.Step(context.Background(), Input{Query: "q", Iteration: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Confidence)
}
