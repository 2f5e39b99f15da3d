package compress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/loomchat/knowledge/internal/index"
	"github.com/loomchat/knowledge/internal/retrieval"
)

// fragmentSeparator joins the fragments merged under one source, keeping
// the boundaries visible to a human reader.
const fragmentSeparator = "\n\n---\n\n"

// ingestConcurrency bounds concurrent document additions during ingest.
const ingestConcurrency = 4

// RawResult is one raw full-text result, e.g. from a live web search.
// Compression returns the same shape with fewer, merged entries.
type RawResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Compressor runs the compression pipeline: populate an ephemeral index
// with a raw result batch, re-query it, and map the retrieved chunks back
// to their originating results.
type Compressor struct {
	manager   *Manager
	client    index.Client
	retriever *retrieval.Retriever
	logger    *slog.Logger
}

// NewCompressor creates a Compressor.
func NewCompressor(manager *Manager, client index.Client, retriever *retrieval.Retriever, logger *slog.Logger) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{
		manager:   manager,
		client:    client,
		retriever: retriever,
		logger:    logger,
	}
}

// Compress reduces raw to the entries with content relevant to the
// questions. Sources with no retrieved chunks are dropped; surviving
// sources keep their title and URL with their relevant fragments merged in
// retrieval-score order. The output is never larger than the input.
//
// Any failing step aborts the whole operation with an *OperationError; the
// caller's fallback is to use the uncompressed raw results.
func (c *Compressor) Compress(ctx context.Context, operationID string, questions []string, raw []RawResult, policy Policy) ([]RawResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, &OperationError{OperationID: operationID, Err: err}
	}

	if len(raw) == 0 {
		return nil, nil
	}
	if len(questions) == 0 {
		// Nothing to rank against; hand the batch back unchanged.
		return raw, nil
	}

	params, err := c.manager.Ensure(ctx, operationID, policy, len(raw))
	if err != nil {
		return nil, &OperationError{OperationID: operationID, Err: err}
	}

	// reset -> ingest -> query is strictly sequenced for this operation; a
	// query must never observe a partially ingested index.
	if err := c.client.Reset(ctx, params); err != nil {
		return nil, &OperationError{OperationID: operationID, Err: fmt.Errorf("reset: %w", err)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)
	for _, r := range raw {
		g.Go(func() error {
			return c.client.Add(gctx, params, index.Document{
				Content:   r.Content,
				SourceTag: r.URL,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &OperationError{OperationID: operationID, Err: fmt.Errorf("ingest: %w", err)}
	}

	// Compression is a relevance operation, not a freshness operation:
	// recency stays disabled.
	combined := strings.Join(questions, " | ")
	chunks, err := c.retriever.Retrieve(ctx, combined, "", params, retrieval.RecencyConfig{})
	if err != nil {
		return nil, &OperationError{OperationID: operationID, Err: err}
	}

	byURL := make(map[string]RawResult, len(raw))
	for _, r := range raw {
		byURL[r.URL] = r
	}

	// Group chunks under their source, first-seen order. Chunks arrive
	// ranked, so group order follows each source's best chunk.
	var order []string
	groups := make(map[string][]string)
	for _, chunk := range chunks {
		src := chunk.SourceLocator
		if _, known := byURL[src]; !known {
			c.logger.Debug("retrieved chunk with unknown source, dropping",
				"operation_id", operationID, "source", src)
			continue
		}
		if _, seen := groups[src]; !seen {
			order = append(order, src)
		}
		groups[src] = append(groups[src], chunk.Content)
	}

	out := make([]RawResult, 0, len(order))
	for _, src := range order {
		orig := byURL[src]
		out = append(out, RawResult{
			Title:   orig.Title,
			URL:     orig.URL,
			Content: strings.Join(groups[src], fragmentSeparator),
		})
	}

	return out, nil
}
