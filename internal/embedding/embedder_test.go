package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/config"
)

func TestHashEmbedder_DeterministicUnitVector(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()

	a, err := e.Embed(ctx, "strict mode catches null bugs")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "strict mode catches null bugs")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	c, err := e.Embed(ctx, "a different statement")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

type countingEmbedder struct {
	inner Embedder
	calls atomic.Int64
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func TestCachingEmbedder_NeverRecomputes(t *testing.T) {
	counting := &countingEmbedder{inner: NewHashEmbedder(8)}
	e := NewCachingEmbedder(counting)
	ctx := context.Background()

	first, err := e.Embed(ctx, "same text")
	require.NoError(t, err)
	second, err := e.Embed(ctx, "same text")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), counting.calls.Load())
}

func TestOpenAIEmbedder_WireFormat(t *testing.T) {
	var gotAuth string
	var gotReq embeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(config.CollabConfig{
		BaseURL:    srv.URL,
		APIKey:     "sk-test",
		Model:      "text-embedding-3-small",
		Dimensions: 3,
		Timeout:    5 * time.Second,
		RPS:        100,
	})

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text-embedding-3-small", gotReq.Model)
	assert.Equal(t, []string{"hello"}, gotReq.Input)
}

func TestOpenAIEmbedder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(config.CollabConfig{BaseURL: srv.URL, Model: "m", RPS: 100, Timeout: 5 * time.Second})
	_, err := e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestFromConfig_DefaultsToHash(t *testing.T) {
	e := FromConfig(config.CollabConfig{Provider: "hash", Dimensions: 8})
	assert.Equal(t, 8, e.Dimensions())
}
