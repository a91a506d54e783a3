package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/engramdev/engram/internal/config"
	engerr "github.com/engramdev/engram/pkg/errors"
)

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
	limiter *rate.Limiter
}

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg config.CollabConfig) *OpenAIEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    dims,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Dimensions returns the configured vector width.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests a single embedding, honoring the rate limit.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, engerr.NewIOError("embedding.embed", e.model, "rate limiter wait").WithCause(err)
	}

	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: []string{text}, Dimensions: e.dims})
	if err != nil {
		return nil, engerr.NewIOError("embedding.embed", e.model, "marshal request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, engerr.NewIOError("embedding.embed", e.model, "create request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, engerr.NewIOError("embedding.embed", e.model, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engerr.NewIOError("embedding.embed", e.model, "read response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, engerr.NewIOError("embedding.embed", e.model,
			fmt.Sprintf("embedding endpoint returned %d", resp.StatusCode))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, engerr.NewIOError("embedding.embed", e.model, "unmarshal response").WithCause(err)
	}
	if len(parsed.Data) == 0 {
		return nil, engerr.NewIOError("embedding.embed", e.model, "empty embedding response")
	}
	return parsed.Data[0].Embedding, nil
}
