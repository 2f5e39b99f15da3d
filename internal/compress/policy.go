// Package compress turns a large batch of raw full-text results into the
// smaller set of fragments most relevant to a query, by indexing the batch
// into a short-lived per-operation retrieval index and re-querying it.
package compress

import (
	"github.com/loomchat/knowledge/internal/embedder"
	"github.com/loomchat/knowledge/internal/index"
	"github.com/loomchat/knowledge/internal/reranker"
)

// DefaultPerSourceDocumentCount sizes the ephemeral result cap when a policy
// does not specify one.
const DefaultPerSourceDocumentCount = 2

// Policy configures how a compression operation builds its ephemeral index.
type Policy struct {
	// Embedding configures the embedding provider. Required.
	Embedding embedder.Config `json:"embedding"`

	// Rerank optionally configures second-pass reranking.
	Rerank *reranker.Config `json:"rerank,omitempty"`

	// PerSourceDocumentCount scales the index result capacity:
	// rawResultCount × PerSourceDocumentCount.
	PerSourceDocumentCount int `json:"per_source_document_count"`
}

// Validate checks the policy before any network call is attempted.
func (p Policy) Validate() error {
	if p.Embedding.Model == "" {
		return &PolicyError{Field: "embedding.model"}
	}
	return nil
}

func (p Policy) perSource() int {
	if p.PerSourceDocumentCount > 0 {
		return p.PerSourceDocumentCount
	}
	return DefaultPerSourceDocumentCount
}

// params builds the index params for a fresh ephemeral index sized for
// expectedRawCount raw results. The threshold stays zero: compression keeps
// whatever the index ranks, and the result cap does the narrowing.
func (p Policy) params(id string, expectedRawCount int) index.Params {
	return index.Params{
		ID:            id,
		Embedding:     p.Embedding,
		Rerank:        p.Rerank,
		ChunkSize:     index.DefaultChunkSize,
		ChunkOverlap:  index.DefaultChunkOverlap,
		DocumentCount: expectedRawCount * p.perSource(),
	}
}

// fingerprint captures the identity fields that decide ephemeral index
// reuse: embedding provider, model and dimensions, plus rerank provider and
// model. Incidental fields like a refreshed API key do not participate.
func (p Policy) fingerprint() string {
	fp := p.Embedding.Fingerprint()
	if p.Rerank != nil {
		fp += "|" + p.Rerank.Fingerprint()
	}
	return fp
}
