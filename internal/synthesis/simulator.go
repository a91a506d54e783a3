package synthesis

import (
	"context"
	"fmt"

	"github.com/engramdev/engram/pkg/types"
)

// Simulator is a deterministic synthesizer for local runs and tests.
// Instead of mocking the interface call it implements a simple logic
// engine: confidence grows with the amount of retrieved context and with
// each iteration, so data flows through the full deliberation loop without
// a network dependency.
type Simulator struct {
	// BaseConfidence seeds the first iteration; defaults to 0.35.
	BaseConfidence float64
	// IterationGain is added per iteration; defaults to 0.15.
	IterationGain float64
}

// NewSimulator creates a simulator with default tuning.
func NewSimulator() *Simulator {
	return &Simulator{BaseConfidence: 0.35, IterationGain: 0.15}
}

// Step derives a thought from the strongest retrieved principle, surfaces
// pending alternatives from hypotheticals, and records rejected reasons as
// lessons.
func (s *Simulator) Step(_ context.Context, in Input) (types.ReasoningStep, error) {
	base := s.BaseConfidence
	if base <= 0 {
		base = 0.35
	}
	gain := s.IterationGain
	if gain <= 0 {
		gain = 0.15
	}

	confidence := base + gain*float64(in.Iteration-1)
	// Retrieved context raises confidence: each principle adds a little.
	confidence += 0.05 * float64(len(in.Principles))
	if confidence > 0.99 {
		confidence = 0.99
	}

	var thought string
	if len(in.Principles) > 0 {
		thought = fmt.Sprintf("iteration %d: applying %q to %q", in.Iteration, in.Principles[0].Statement, in.Query)
	} else {
		thought = fmt.Sprintf("iteration %d: no retrieved principles for %q, reasoning from scratch", in.Iteration, in.Query)
	}

	step := types.ReasoningStep{
		Thought:    thought,
		Confidence: confidence,
	}
	for _, h := range in.Hypotheticals {
		for _, alt := range h.Alternatives {
			if alt.Status == types.AlternativePending {
				step.Alternatives = append(step.Alternatives, alt.Option)
			}
		}
	}
	for _, r := range in.Rejected {
		step.Lessons = append(step.Lessons, fmt.Sprintf("avoid %s: %s", r.Option, r.Reason))
	}
	return step, nil
}
