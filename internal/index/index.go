// Package index defines the retrieval index abstraction: a queryable
// collection of embedded text chunks supporting similarity search, backed by
// a vector store plus embedding and rerank providers.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/loomchat/knowledge/internal/embedder"
	"github.com/loomchat/knowledge/internal/reranker"
)

// ErrGone is returned when an operation targets an index whose underlying
// collection no longer exists (deleted or evicted). Callers that own the
// index lifecycle should treat it as retryable: re-ensure, re-ingest, redo.
var ErrGone = errors.New("retrieval index no longer exists")

// DefaultDocumentCount is the result cap applied when Params.DocumentCount
// is unset. Fewer sources keep downstream prompts focused.
const DefaultDocumentCount = 4

// Default chunk sizing, in words.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// Params identifies a retrieval index and how to query it. Params are
// immutable once the underlying index has been created: a different
// embedding or rerank identity requires a new index.
type Params struct {
	// ID is the stable identifier of the underlying index.
	ID string

	// Embedding configures the embedding provider for this index.
	Embedding embedder.Config

	// Rerank optionally configures second-pass reranking.
	Rerank *reranker.Config

	// ChunkSize and ChunkOverlap control document splitting on Add, in words.
	ChunkSize    int
	ChunkOverlap int

	// DocumentCount caps the number of results a retrieval returns.
	DocumentCount int

	// Threshold is the minimum similarity score a chunk must reach to be kept.
	Threshold float32
}

// Fingerprint captures the identity fields that determine whether an
// existing index is compatible with these params: embedding provider, model
// and dimensions, plus the rerank provider and model. Connection details
// such as API keys deliberately do not participate.
func (p Params) Fingerprint() string {
	fp := p.Embedding.Fingerprint()
	if p.Rerank != nil {
		fp += "|" + p.Rerank.Fingerprint()
	}
	return fp
}

// Limit returns the effective result cap.
func (p Params) Limit() int {
	if p.DocumentCount > 0 {
		return p.DocumentCount
	}
	return DefaultDocumentCount
}

// Chunk is one retrieved passage.
type Chunk struct {
	// ID identifies the chunk within its index, when the store supplies one.
	ID string

	// Content is the passage text.
	Content string

	// Score is the semantic similarity score, comparable within one index.
	Score float32

	// SourceLocator is an opaque string identifying the chunk's origin,
	// typically a URL or a file path encoding.
	SourceLocator string

	// Timestamp is an optional hint at the source's modification time.
	// Zero means unknown.
	Timestamp time.Time
}

// Document is one unit of content to ingest.
type Document struct {
	// Content is the full text; it is chunked on Add.
	Content string

	// SourceTag labels every chunk produced from this document, so results
	// can be mapped back to their origin.
	SourceTag string

	// Timestamp optionally records the source's modification time.
	Timestamp time.Time
}

// Client is the external collaborator every retrieval operation goes
// through. Implementations wrap a vector store plus embedding and rerank
// providers.
type Client interface {
	// Create provisions the underlying index for params.
	Create(ctx context.Context, params Params) error

	// Reset clears the index contents. Resetting a fresh index is a no-op.
	Reset(ctx context.Context, params Params) error

	// Add chunks, embeds and stores one document.
	Add(ctx context.Context, params Params, doc Document) error

	// Search returns candidate chunks for the query, most similar first.
	// Returns an error wrapping ErrGone if the index no longer exists.
	Search(ctx context.Context, params Params, query string) ([]Chunk, error)

	// Rerank re-scores and re-orders chunks against the query using the
	// params' rerank config. May drop low-relevance chunks.
	Rerank(ctx context.Context, params Params, query string, chunks []Chunk) ([]Chunk, error)

	// Delete tears down the underlying index.
	Delete(ctx context.Context, indexID string) error
}
