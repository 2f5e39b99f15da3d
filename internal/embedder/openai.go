package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultOpenAIBaseURL is the default OpenAI API base URL. Any
	// OpenAI-compatible endpoint (Azure, OpenRouter, local gateways) works
	// by overriding BaseURL.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	// DefaultOpenAIModel is the default embedding model.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimension is the default dimension for text-embedding-3-small.
	DefaultOpenAIDimension = 1536
)

// OpenAIEmbedder implements the Embedder interface against the OpenAI
// embeddings API. Unlike Ollama, the API accepts batches natively.
type OpenAIEmbedder struct {
	baseURL   string
	model     string
	apiKey    string
	dimension int
	client    *http.Client
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible endpoint.
func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DefaultOpenAIDimension
	}

	return &OpenAIEmbedder{
		baseURL:   baseURL,
		model:     model,
		apiKey:    cfg.APIKey,
		dimension: dimension,
		client:    http.DefaultClient,
	}
}

// Embed generates an embedding vector for a single text input.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embedding vectors for multiple text inputs in a
// single API call.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	jsonBody, err := json.Marshal(openAIRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/embeddings", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings API error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(apiResp.Data), len(texts))
	}

	// The API documents order-preserving output but indexes each entry;
	// honor the index to be safe.
	embeddings := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings API returned out-of-range index %d", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}

	return embeddings, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Ensure OpenAIEmbedder implements Embedder interface.
var _ Embedder = (*OpenAIEmbedder)(nil)
