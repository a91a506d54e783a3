// Package embedding defines the embedding collaborator boundary: the
// engine needs vectors for principle statements, hypothetical questions,
// rejected options, and incoming queries, and stays agnostic to where
// they come from.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/engramdev/engram/internal/config"
)

// Embedder generates a vector embedding for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// FromConfig builds the configured embedder, wrapped in the per-text cache.
func FromConfig(cfg config.CollabConfig) Embedder {
	var inner Embedder
	switch cfg.Provider {
	case "openai":
		inner = NewOpenAIEmbedder(cfg)
	default:
		inner = NewHashEmbedder(cfg.Dimensions)
	}
	return NewCachingEmbedder(inner)
}

// HashEmbedder creates deterministic embeddings from a text hash. The
// vectors carry no semantic signal; identical text always maps to the
// identical unit vector, which is what local runs and tests need.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hash embedder with the given dimensionality.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector width.
func (e *HashEmbedder) Dimensions() int { return e.dims }

// Embed returns a unit-length vector derived from SHA-256 of the text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	hash := sha256.Sum256([]byte(text))

	vec := make([]float32, e.dims)
	for i := 0; i < e.dims; i++ {
		start := (i * 4) % (len(hash) - 4)
		val := binary.BigEndian.Uint32(hash[start : start+4])
		vec[i] = float32(val) / float32(math.MaxUint32)
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}
