// Package synthesis defines the reasoning-synthesis collaborator: the
// component that turns retrieved memory into one deliberation step at a
// time. The composite index drives the loop and enforces the iteration
// and confidence bounds; synthesizers only produce steps.
package synthesis

import (
	"context"

	"github.com/engramdev/engram/pkg/types"
)

// Input is the retrieved context handed to the synthesizer for one
// iteration. Iteration is 1-based.
type Input struct {
	Query         string                      `json:"query"`
	Principles    []types.Principle           `json:"principles"`
	Hypotheticals []types.Hypothetical        `json:"hypotheticals,omitempty"`
	Rejected      []types.RejectedAlternative `json:"rejected,omitempty"`
	PriorSteps    []types.ReasoningStep       `json:"prior_steps,omitempty"`
	Iteration     int                         `json:"iteration"`
}

// Synthesizer produces one reasoning step from retrieved context.
type Synthesizer interface {
	Step(ctx context.Context, in Input) (types.ReasoningStep, error)
}
