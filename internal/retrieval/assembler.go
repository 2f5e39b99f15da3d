package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/loomchat/knowledge/internal/index"
)

// Reference types.
const (
	ReferenceTypeFile = "file"
	ReferenceTypeURL  = "url"
)

// Reference is one supporting passage handed back to the caller. IDs are
// 1-based positions in the final ranking of a single call; they are not
// stable across calls.
type Reference struct {
	ID        int    `json:"id"`
	Content   string `json:"content"`
	SourceURL string `json:"source_url"`
	Type      string `json:"type"`
}

// Assembler fans a set of questions across a set of indexes, merges and
// deduplicates the retrieved chunks, and numbers the survivors.
type Assembler struct {
	retriever *Retriever
	logger    *slog.Logger
}

// NewAssembler creates an Assembler over the given retriever.
func NewAssembler(retriever *Retriever, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{retriever: retriever, logger: logger}
}

// Assemble retrieves every (question, index) pair concurrently and merges
// the results into one ranked, deduplicated reference list. A failing pair
// is isolated: it is logged and contributes nothing, so the other pairs
// still produce references. Empty questions or indexes short-circuit to an
// empty result without issuing any retrieval calls.
func (a *Assembler) Assemble(ctx context.Context, questions []string, rewrittenQuery string, indexes []index.Params, recency RecencyConfig) []Reference {
	if len(questions) == 0 || len(indexes) == 0 {
		return nil
	}

	type pair struct {
		question string
		params   index.Params
	}

	pairs := make([]pair, 0, len(questions)*len(indexes))
	for _, q := range questions {
		for _, p := range indexes {
			pairs = append(pairs, pair{question: q, params: p})
		}
	}

	// Every pair gets its own result slot; the merge happens only after all
	// pairs have settled.
	results := make([][]ResolvedChunk, len(pairs))

	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(slot int, p pair) {
			defer wg.Done()

			chunks, err := a.retriever.Retrieve(ctx, p.question, rewrittenQuery, p.params, recency)
			if err != nil {
				a.logger.Warn("sub-query failed, contributing no references",
					"question", p.question, "index_id", p.params.ID, "error", err)
				return
			}
			results[slot] = chunks
		}(i, p)
	}
	wg.Wait()

	// Deduplicate on chunk identity (explicit id when the index supplies
	// one, exact content otherwise), keeping the higher-scored occurrence.
	var merged []ResolvedChunk
	seen := make(map[string]int)
	for _, chunks := range results {
		for _, c := range chunks {
			key := c.ID
			if key == "" {
				key = c.Content
			}
			if pos, ok := seen[key]; ok {
				if c.Weighted > merged[pos].Weighted {
					merged[pos] = c
				}
				continue
			}
			seen[key] = len(merged)
			merged = append(merged, c)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Weighted > merged[j].Weighted
	})

	refs := make([]Reference, len(merged))
	for i, c := range merged {
		refType := ReferenceTypeURL
		if c.Artifact != nil {
			refType = ReferenceTypeFile
		}
		refs[i] = Reference{
			ID:        i + 1,
			Content:   c.Content,
			SourceURL: c.SourceLocator,
			Type:      refType,
		}
	}

	return refs
}
