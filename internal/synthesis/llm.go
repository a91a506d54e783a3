package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/engramdev/engram/internal/llm"
	engerr "github.com/engramdev/engram/pkg/errors"
	"github.com/engramdev/engram/pkg/types"
)

// LLMSynthesizer produces reasoning steps by prompting a chat model with
// the retrieved context and the prior steps of the chain.
type LLMSynthesizer struct {
	client llm.ChatClient
	model  string
}

// NewLLMSynthesizer creates a synthesizer backed by a chat model.
func NewLLMSynthesizer(client llm.ChatClient, model string) *LLMSynthesizer {
	return &LLMSynthesizer{client: client, model: model}
}

// Step runs one deliberation iteration through the model.
func (s *LLMSynthesizer) Step(ctx context.Context, in Input) (types.ReasoningStep, error) {
	contextJSON, err := json.Marshal(in)
	if err != nil {
		return types.ReasoningStep{}, engerr.NewIOError("synthesis.step", s.model, "marshal context").WithCause(err)
	}

	prompt := fmt.Sprintf(`You are deliberating over a question using retrieved long-term memory.

Produce exactly one reasoning step for iteration %d. Use the retrieved
principles, open hypotheticals, and previously rejected alternatives. Do
not repeat prior steps; refine them.

Context:
%s

Output JSON only:
{
  "thought": "one concrete reasoning step",
  "confidence": 0.0,
  "alternatives": ["newly surfaced options, if any"],
  "lessons": ["lessons drawn from rejected alternatives, if any"]
}
`, in.Iteration, string(contextJSON))

	resp, err := s.client.ChatCompletion(ctx, &llm.ChatRequest{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: "You are a careful reasoner that outputs JSON."},
			{Role: "user", Content: prompt},
		},
		Temperature:    0,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return types.ReasoningStep{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var step types.ReasoningStep
	if err := json.Unmarshal([]byte(content), &step); err != nil {
		return types.ReasoningStep{}, engerr.NewIOError("synthesis.step", s.model, "unmarshal step").WithCause(err)
	}
	if step.Confidence < 0 {
		step.Confidence = 0
	}
	if step.Confidence > 1 {
		step.Confidence = 1
	}
	return step, nil
}
