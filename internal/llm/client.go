// Package llm provides a minimal chat-completions client used by the
// extraction and synthesis collaborators. It speaks the OpenAI-compatible
// wire format; any endpoint implementing that contract can serve.
package llm

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

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat requests structured output, e.g. {"type":"json_object"}.
type ResponseFormat struct {
	Type string `json:"type"`
}

// Choice is one completion alternative.
type Choice struct {
	Message Message `json:"message"`
}

// ChatResponse is the subset of the completion response the engine reads.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

// ChatClient is the boundary both collaborator implementations depend on,
// so tests can substitute a deterministic engine for the HTTP client.
type ChatClient interface {
	ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// Client is an HTTP ChatClient with rate limiting.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a chat client from collaborator config.
func NewClient(cfg config.CollabConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// ChatCompletion posts the request and decodes the response.
func (c *Client) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, engerr.NewIOError("llm.chat", req.Model, "rate limiter wait").WithCause(err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, engerr.NewIOError("llm.chat", req.Model, "marshal request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, engerr.NewIOError("llm.chat", req.Model, "create request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, engerr.NewIOError("llm.chat", req.Model, "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, engerr.NewIOError("llm.chat", req.Model, "read response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, engerr.NewIOError("llm.chat", req.Model,
			fmt.Sprintf("chat endpoint returned %d", resp.StatusCode))
	}

	var parsed ChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, engerr.NewIOError("llm.chat", req.Model, "unmarshal response").WithCause(err)
	}
	if len(parsed.Choices) == 0 {
		return nil, engerr.NewIOError("llm.chat", req.Model, "no choices returned")
	}
	return &parsed, nil
}
