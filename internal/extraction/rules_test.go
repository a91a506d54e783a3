package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/pkg/types"
)

func record(section, payload string) types.Record {
	return types.Record{
		Section: section,
		Fields:  []types.Field{{Key: "payload", Value: payload}},
	}
}

func TestRuleExtractor_DecisionCues(t *testing.T) {
	e := NewRuleExtractor()
	recs := []types.Record{
		record("CONVERSATION:c1", "We decided to use structured logging everywhere. The team should prefer small interfaces."),
	}

	cands, err := e.DeriveCandidates(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, 0.8, cands[0].Principle.Confidence)
	assert.Contains(t, cands[0].Principle.Statement, "structured logging")
	assert.Equal(t, []string{"c1"}, cands[0].Principle.SourceRecordIDs)
	assert.Equal(t, types.PrincipleActive, cands[0].Principle.Status)

	assert.Equal(t, 0.6, cands[1].Principle.Confidence)

	// Co-stated principles are linked with a supports edge.
	require.Len(t, cands[1].Relationships, 1)
	edge := cands[1].Relationships[0]
	assert.Equal(t, "supports", edge.Type)
	assert.Equal(t, cands[1].Principle.ID, edge.From)
	assert.Equal(t, cands[0].Principle.ID, edge.To)
}

func TestRuleExtractor_RejectedBecause(t *testing.T) {
	e := NewRuleExtractor()
	recs := []types.Record{
		record("DECISION:d9", "Rejected global variables because they hide data flow."),
	}

	cands, err := e.DeriveCandidates(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Len(t, cands[0].Rejected, 1)

	rej := cands[0].Rejected[0]
	assert.Equal(t, "global variables", rej.Option)
	assert.Contains(t, rej.Reason, "hide data flow")
	assert.Equal(t, "d9", rej.Context)
	assert.NotEmpty(t, rej.ID)
}

func TestRuleExtractor_Hypothetical(t *testing.T) {
	e := NewRuleExtractor()
	recs := []types.Record{
		record("CONVERSATION:c2", "Should we use sqlite instead of flat files for cursors?"),
	}

	cands, err := e.DeriveCandidates(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.Len(t, cands[0].Hypotheticals, 1)

	h := cands[0].Hypotheticals[0]
	assert.Equal(t, types.HypotheticalOpen, h.Status)
	require.Len(t, h.Alternatives, 1)
	assert.Equal(t, "flat files for cursors", h.Alternatives[0].Option)
	assert.Equal(t, types.AlternativePending, h.Alternatives[0].Status)
}

func TestRuleExtractor_IgnoresChatter(t *testing.T) {
	e := NewRuleExtractor()
	recs := []types.Record{
		record("CONVERSATION:c3", "Hello! How is it going. Thanks a lot."),
	}

	cands, err := e.DeriveCandidates(context.Background(), recs)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

type scriptedChat struct{ content string }

func (c *scriptedChat) ChatCompletion(_ context.Context, _ *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Choices: []llm.Choice{
		{Message: llm.Message{Role: "assistant", Content: c.content}},
	}}, nil
}

func TestLLMExtractor_NormalizesCandidates(t *testing.T) {
	chat := &scriptedChat{content: `{"candidates":[
		{"principle":{"statement":"pin dependency versions","confidence":1.7},
		 "hypotheticals":[{"question":"vendor deps?"}],
		 "rejected":[{"option":"floating versions","reason":"broke CI"}]}
	]}`}
	e := NewLLMExtractor(chat, "gpt-4o-mini")

	cands, err := e.DeriveCandidates(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.NotEmpty(t, c.Principle.ID)
	assert.Equal(t, 1.0, c.Principle.Confidence)
	assert.Equal(t, types.PrincipleActive, c.Principle.Status)
	assert.False(t, c.Principle.CreatedAt.IsZero())
	assert.Equal(t, types.HypotheticalOpen, c.Hypotheticals[0].Status)
	assert.NotEmpty(t, c.Hypotheticals[0].ID)
	assert.NotEmpty(t, c.Rejected[0].ID)
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, &RuleExtractor{}, FromConfig("rules", "", nil))
	assert.IsType(t, &RuleExtractor{}, FromConfig("llm", "m", nil)) // no client: fall back
	assert.IsType(t, &LLMExtractor{}, FromConfig("llm", "m", &scriptedChat{}))
}
