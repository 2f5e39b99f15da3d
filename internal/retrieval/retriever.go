package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/loomchat/knowledge/internal/artifact"
	"github.com/loomchat/knowledge/internal/index"
)

// Clock supplies the current time. Injectable for deterministic tests.
type Clock func() time.Time

// ResolvedChunk is a retrieved chunk with its final ranking score and, when
// the source locator maps to a known artifact, its provenance. Built per
// request and discarded after use.
type ResolvedChunk struct {
	index.Chunk

	// Weighted is the final score after recency reweighting.
	Weighted float32

	// Artifact is the resolved source metadata, nil when the locator did not
	// resolve. Unresolved chunks are kept, never dropped.
	Artifact *artifact.Metadata
}

// Retriever executes the single-query, single-index retrieval pipeline:
// search, threshold filter, optional rerank, result cap, artifact
// resolution, recency reweighting, final ordering.
type Retriever struct {
	client   index.Client
	resolver artifact.Resolver
	now      Clock
	logger   *slog.Logger
}

// RetrieverOption is a functional option for configuring a Retriever.
type RetrieverOption func(*Retriever)

// WithResolver sets the artifact resolver used to attach provenance.
func WithResolver(r artifact.Resolver) RetrieverOption {
	return func(rt *Retriever) {
		rt.resolver = r
	}
}

// WithClock sets the time source used for recency scoring.
func WithClock(clock Clock) RetrieverOption {
	return func(rt *Retriever) {
		rt.now = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RetrieverOption {
	return func(rt *Retriever) {
		rt.logger = logger
	}
}

// NewRetriever creates a Retriever over the given index client.
func NewRetriever(client index.Client, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		client: client,
		now:    time.Now,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Retrieve runs the pipeline for one query against one index. Results are
// ordered by final score descending, ties keeping their pre-reweight rank.
// A rewrittenQuery, when non-empty, replaces the query for searching.
// Search failures propagate as *RetrievalError; everything after the search
// is best-effort or pure.
func (r *Retriever) Retrieve(ctx context.Context, query, rewrittenQuery string, params index.Params, recency RecencyConfig) ([]ResolvedChunk, error) {
	effective := query
	if rewrittenQuery != "" {
		effective = rewrittenQuery
	}

	raw, err := r.client.Search(ctx, params, effective)
	if err != nil {
		return nil, &RetrievalError{Query: effective, IndexID: params.ID, Err: err}
	}

	// Threshold applies to the similarity score, before any reweighting.
	filtered := make([]index.Chunk, 0, len(raw))
	for _, chunk := range raw {
		if chunk.Score >= params.Threshold {
			filtered = append(filtered, chunk)
		}
	}

	if params.Rerank != nil && len(filtered) > 0 {
		reranked, err := r.client.Rerank(ctx, params, effective, filtered)
		if err != nil {
			rerr := &RerankError{Err: err}
			r.logger.Warn("rerank failed, keeping vector order",
				"index_id", params.ID, "error", rerr)
		} else {
			filtered = reranked
		}
	}

	if limit := params.Limit(); len(filtered) > limit {
		filtered = filtered[:limit]
	}

	now := r.now()
	resolved := make([]ResolvedChunk, len(filtered))
	for i, chunk := range filtered {
		rc := ResolvedChunk{Chunk: chunk}

		if r.resolver != nil && chunk.SourceLocator != "" {
			md, err := r.resolver.Resolve(ctx, chunk.SourceLocator)
			if err != nil {
				r.logger.Debug("artifact resolution failed",
					"locator", chunk.SourceLocator, "error", err)
			} else {
				rc.Artifact = md
			}
		}

		ts := chunk.Timestamp
		if rc.Artifact != nil && !rc.Artifact.ModifiedAt.IsZero() {
			ts = rc.Artifact.ModifiedAt
		}
		rc.Weighted = Reweight(chunk.Score, ts, now, recency)

		resolved[i] = rc
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].Weighted > resolved[j].Weighted
	})

	return resolved, nil
}
