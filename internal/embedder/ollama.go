package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultOllamaBaseURL is the local Ollama daemon endpoint.
	DefaultOllamaBaseURL = "http://localhost:11434"

	// DefaultOllamaModel and DefaultOllamaDimension describe
	// nomic-embed-text, the model used when a config names none.
	DefaultOllamaModel     = "nomic-embed-text"
	DefaultOllamaDimension = 768

	// embedConcurrency bounds concurrent requests during batch embedding.
	// The daemon handles one prompt per request, so batches fan out.
	embedConcurrency = 4
)

// OllamaEmbedder embeds text through a local Ollama daemon.
type OllamaEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewOllamaEmbedder creates an embedder from the given config, filling
// unset fields with the nomic-embed-text defaults.
func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	e := &OllamaEmbedder{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    http.DefaultClient,
	}
	if e.baseURL == "" {
		e.baseURL = DefaultOllamaBaseURL
	}
	if e.model == "" {
		e.model = DefaultOllamaModel
	}
	if e.dimension <= 0 {
		e.dimension = DefaultOllamaDimension
	}
	return e
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed generates the embedding vector for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(msg))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned from ollama")
	}

	vector := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// EmbedBatch embeds every text over a bounded number of concurrent
// requests. Output order matches input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			vector, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("failed to embed text at index %d: %w", i, err)
			}
			vectors[i] = vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return vectors, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// Ensure OllamaEmbedder implements Embedder.
var _ Embedder = (*OllamaEmbedder)(nil)
