// Package reranker provides second-pass re-scoring of retrieval candidates.
//
// Re-ranking evaluates query-document pairs together rather than
// independently, which improves precision when the top candidates carry
// similar vector scores. It costs an extra model call per query, so it is a
// per-index configuration choice, not a default.
package reranker

import (
	"context"
	"fmt"
)

// Supported rerank providers.
const (
	ProviderOllama = "ollama"
)

// Config identifies a rerank provider and model.
type Config struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Fingerprint returns the identity portion of the config, used to decide
// whether an existing index setup can be reused for this config.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("%s/%s", c.Provider, c.Model)
}

// Document is one candidate passage with its first-pass score.
type Document struct {
	Content string
	Score   float32
}

// Scored references an input document by position with its rerank score.
type Scored struct {
	Index int
	Score float32
}

// Reranker re-scores candidate documents against a query. The result is
// ordered by descending score and truncated to topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Scored, error)
}

// New builds a Reranker for the given config.
func New(cfg Config) (Reranker, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewLLMReranker(cfg), nil
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.Provider)
	}
}
