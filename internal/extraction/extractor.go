// Package extraction defines the extraction collaborator boundary: the
// component that turns a window of canonical log records into candidate
// principles, relationships, and deliberation records. The composite index
// stays agnostic to whether candidates come from rules or a model.
package extraction

import (
	"context"

	"github.com/engramdev/engram/internal/llm"
	"github.com/engramdev/engram/pkg/types"
)

// Extractor derives candidate principles from canonical records.
type Extractor interface {
	DeriveCandidates(ctx context.Context, records []types.Record) ([]types.Candidate, error)
}

// FromConfig builds the configured extractor. Mode "llm" requires a chat
// client; anything else falls back to the rule-based extractor.
func FromConfig(mode, model string, client llm.ChatClient) Extractor {
	if mode == "llm" && client != nil {
		return NewLLMExtractor(client, model)
	}
	return NewRuleExtractor()
}
