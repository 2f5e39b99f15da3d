package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/loomchat/knowledge/internal/llm"
)

// LLMReranker uses an LLM to re-score query-document pairs. The model sees
// query and document together, giving a cross-encoder-like relevance signal.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// NewLLMReranker creates an LLM-based reranker from the given config.
func NewLLMReranker(cfg Config) *LLMReranker {
	opts := []llm.OllamaOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = llm.DefaultModel
	}

	return &LLMReranker{
		llmClient: llm.NewOllamaClient(opts...),
		model:     model,
	}
}

// NewLLMRerankerWithClient creates a reranker over an existing LLM client.
func NewLLMRerankerWithClient(client llm.LLM, model string) *LLMReranker {
	if model == "" {
		model = llm.DefaultModel
	}
	return &LLMReranker{llmClient: client, model: model}
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank uses the LLM to score each document's relevance to the query.
func (r *LLMReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Scored, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}

	prompt := r.buildRerankPrompt(query, docs)

	opts := llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0, // Deterministic scoring
		MaxTokens:   1024,
	}

	response, err := r.llmClient.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("LLM reranking failed: %w", err)
	}

	scores, err := r.parseRerankResponse(response, len(docs))
	if err != nil {
		// Fallback: keep the first-pass order and scores.
		return fallbackScoring(docs, topK), nil
	}

	scored := make([]Scored, len(docs))
	for i := range docs {
		scored[i] = Scored{Index: i, Score: scores[i]}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	return scored, nil
}

// buildRerankPrompt constructs the scoring prompt.
func (r *LLMReranker) buildRerankPrompt(query string, docs []Document) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Documents to score:\n")
	for i, doc := range docs {
		// Truncate content to avoid token limits
		content := doc.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		sb.WriteString(fmt.Sprintf("[Doc %d]: %s\n\n", i, content))
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseRerankResponse extracts scores from the LLM response.
func (r *LLMReranker) parseRerankResponse(response string, numDocs int) ([]float32, error) {
	response = strings.TrimSpace(response)

	// Strip markdown code fences if present.
	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	response = strings.TrimSpace(response)

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	scores := make([]float32, numDocs)
	for i := range scores {
		scores[i] = 0.5 // Default score for missing entries
	}

	for _, s := range parsed.Scores {
		if s.DocIndex >= 0 && s.DocIndex < numDocs {
			score := s.Score
			if score < 0 {
				score = 0
			}
			if score > 1 {
				score = 1
			}
			scores[s.DocIndex] = score
		}
	}

	return scores, nil
}

// fallbackScoring keeps documents in their first-pass order with their
// original vector scores.
func fallbackScoring(docs []Document, topK int) []Scored {
	scored := make([]Scored, len(docs))
	for i, doc := range docs {
		scored[i] = Scored{Index: i, Score: doc.Score}
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Ensure LLMReranker implements Reranker interface.
var _ Reranker = (*LLMReranker)(nil)
