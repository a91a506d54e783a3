package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/engramdev/engram/internal/llm"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// LLMExtractor derives candidates by prompting a chat model with the
// record window.
type LLMExtractor struct {
	client llm.ChatClient
	model  string
}

// NewLLMExtractor creates a model-backed extractor.
func NewLLMExtractor(client llm.ChatClient, model string) *LLMExtractor {
	return &LLMExtractor{client: client, model: model}
}

// DeriveCandidates prompts the model and normalizes its output: missing
// ids are assigned, confidences clamped to [0,1], statuses defaulted.
func (e *LLMExtractor) DeriveCandidates(ctx context.Context, records []types.Record) ([]types.Candidate, error) {
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return nil, engerr.NewIOError("extraction.derive", e.model, "marshal records").WithCause(err)
	}

	prompt := fmt.Sprintf(`You are a memory extraction engine. From the following structured
conversation records, extract durable semantic principles: decisions made,
preferences stated, lessons learned. Also capture open questions as
hypotheticals and explicitly ruled-out options as rejected alternatives.

Rules:
1. Extract independent, standalone statements.
2. Ignore casual conversation.
3. Confidence reflects how firmly the record commits to the statement.
4. Output JSON only.

Records:
%s

Output format:
{
  "candidates": [
    {
      "principle": {"statement": "always pin dependency versions", "confidence": 0.8},
      "hypotheticals": [{"question": "should we vendor?", "status": "open"}],
      "rejected": [{"option": "floating versions", "reason": "broke CI twice"}]
    }
  ]
}
`, string(recordsJSON))

	resp, err := e.client.ChatCompletion(ctx, &llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: "You are a helpful assistant that outputs JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature:    0,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Candidates []types.Candidate `json:"candidates"`
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, engerr.NewIOError("extraction.derive", e.model, "unmarshal candidates").WithCause(err)
	}

	now := time.Now().UTC()
	for i := range parsed.Candidates {
		normalize(&parsed.Candidates[i], now)
	}
	return parsed.Candidates, nil
}

func normalize(c *types.Candidate, now time.Time) {
	p := &c.Principle
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = types.PrincipleActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Confidence < 0 {
		p.Confidence = 0
	}
	if p.Confidence > 1 {
		p.Confidence = 1
	}
	for i := range c.Hypotheticals {
		h := &c.Hypotheticals[i]
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		if h.Status == "" {
			h.Status = types.HypotheticalOpen
		}
	}
	for i := range c.Rejected {
		if c.Rejected[i].ID == "" {
			c.Rejected[i].ID = uuid.NewString()
		}
	}
	for i := range c.Relationships {
		if c.Relationships[i].Status == "" {
			c.Relationships[i].Status = types.EdgeActive
		}
	}
}
