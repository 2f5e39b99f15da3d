// Package embedder provides interfaces and implementations for text embedding.
package embedder

import (
	"context"
	"fmt"
)

// Supported embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// Config identifies an embedding provider and model. Two configs with the
// same Provider, Model and Dimension produce compatible vectors; APIKey and
// BaseURL are connection details and do not affect compatibility.
type Config struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
	Dimension int    `json:"dimension"`
}

// Fingerprint returns the identity portion of the config, used to decide
// whether an existing index can be reused for this config.
func (c Config) Fingerprint() string {
	return fmt.Sprintf("%s/%s/%d", c.Provider, c.Model, c.Dimension)
}

// New builds an Embedder for the given config.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllamaEmbedder(cfg), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
