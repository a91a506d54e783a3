package embedding

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// CachingEmbedder memoizes embeddings by text so repeated queries for the
// same content never hit the collaborator twice.
type CachingEmbedder struct {
	inner Embedder
	cache *gocache.Cache
}

// NewCachingEmbedder wraps inner with a no-expiry cache.
func NewCachingEmbedder(inner Embedder) *CachingEmbedder {
	return &CachingEmbedder{
		inner: inner,
		cache: gocache.New(gocache.NoExpiration, 0),
	}
}

// Dimensions returns the inner embedder's vector width.
func (e *CachingEmbedder) Dimensions() int { return e.inner.Dimensions() }

// Embed returns the cached vector when present, delegating otherwise.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, gocache.NoExpiration)
	return vec, nil
}
