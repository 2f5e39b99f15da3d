// Package llm provides a minimal text-generation client used for
// cross-encoder reranking. The engine never generates chat answers itself;
// that is the calling application's concern.
package llm

import (
	"context"
)

// GenerateOptions configures a generation request.
type GenerateOptions struct {
	// Model specifies the model to use (e.g., "llama3.2").
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness in generation (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int
}

// LLM defines the interface for text-generation clients.
type LLM interface {
	// Generate sends a prompt and returns the complete response. It blocks
	// until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
