// Package ollama generates embeddings with a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Defaults for New.
const (
	DefaultModel = "nomic-embed-text"
	DefaultRPS   = 10
	DefaultBurst = 5
)

// Options configure an Embedder.
type Options struct {
	BaseURL string
	Model   string
	RPS     float64
	Burst   int
	Timeout time.Duration
	Client  *http.Client
}

// Embedder calls /api/embeddings. Requests are rate limited; callers block
// until a token is available or ctx ends.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
	limiter *rate.Limiter
}

// New creates an Embedder, filling zero options with defaults.
func New(opts Options) *Embedder {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.RPS <= 0 {
		opts.RPS = DefaultRPS
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		opts.Client = &http.Client{Timeout: timeout}
	}
	return &Embedder{
		baseURL: opts.BaseURL,
		model:   opts.Model,
		client:  opts.Client,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
	}
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float64 `json:"embedding"`
}

// GenerateEmbedding returns the embedding of text.
func (e *Embedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ollama: rate limit: %w", err)
	}

	body, err := json.Marshal(embedReq{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ollama: embed: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out embedResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding for model %s", e.model)
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
