// Package service fronts the retrieval and compression engines for the
// transport layer, resolving knowledge base ids into index parameters and
// applying configured defaults.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/loomchat/knowledge/internal/compress"
	"github.com/loomchat/knowledge/internal/index"
	"github.com/loomchat/knowledge/internal/repository"
	"github.com/loomchat/knowledge/internal/retrieval"
)

// KnowledgeService executes knowledge searches and result compression on
// behalf of the UI layer.
type KnowledgeService struct {
	kbRepo        repository.KnowledgeBaseRepository
	assembler     *retrieval.Assembler
	compressor    *compress.Compressor
	recency       retrieval.RecencyConfig
	defaultPolicy compress.Policy
	logger        *slog.Logger
}

// NewKnowledgeService creates a KnowledgeService.
func NewKnowledgeService(
	kbRepo repository.KnowledgeBaseRepository,
	assembler *retrieval.Assembler,
	compressor *compress.Compressor,
	recency retrieval.RecencyConfig,
	defaultPolicy compress.Policy,
	logger *slog.Logger,
) *KnowledgeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &KnowledgeService{
		kbRepo:        kbRepo,
		assembler:     assembler,
		compressor:    compressor,
		recency:       recency,
		defaultPolicy: defaultPolicy,
		logger:        logger,
	}
}

// SearchRequest asks for references supporting one or more questions,
// drawn from the named knowledge bases.
type SearchRequest struct {
	Questions        []string                 `json:"questions"`
	RewrittenQuery   string                   `json:"rewritten_query,omitempty"`
	KnowledgeBaseIDs []string                 `json:"knowledge_base_ids"`
	Recency          *retrieval.RecencyConfig `json:"recency,omitempty"`
}

// Search resolves the requested knowledge bases and assembles references
// across them. Unknown knowledge base ids fail the whole request: a caller
// naming a collection that does not exist is a caller bug, not a degraded
// search.
func (s *KnowledgeService) Search(ctx context.Context, req SearchRequest) ([]retrieval.Reference, error) {
	if len(req.Questions) == 0 || len(req.KnowledgeBaseIDs) == 0 {
		return nil, nil
	}

	params := make([]index.Params, 0, len(req.KnowledgeBaseIDs))
	for _, id := range req.KnowledgeBaseIDs {
		kbID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid knowledge base id %q: %w", id, err)
		}

		kb, err := s.kbRepo.GetByID(ctx, kbID)
		if err != nil {
			return nil, fmt.Errorf("knowledge base %s: %w", id, err)
		}

		params = append(params, paramsFromKnowledgeBase(kb))
	}

	recency := s.recency
	if req.Recency != nil {
		recency = *req.Recency
	}

	return s.assembler.Assemble(ctx, req.Questions, req.RewrittenQuery, params, recency), nil
}

// CompressRequest asks for a raw result batch to be compressed down to the
// fragments relevant to the questions.
type CompressRequest struct {
	OperationID string               `json:"operation_id"`
	Questions   []string             `json:"questions"`
	Results     []compress.RawResult `json:"results"`
	Policy      *compress.Policy     `json:"policy,omitempty"`
}

// Compress runs the compression pipeline, defaulting the policy from the
// engine configuration when the request carries none.
func (s *KnowledgeService) Compress(ctx context.Context, req CompressRequest) ([]compress.RawResult, error) {
	if req.OperationID == "" {
		return nil, fmt.Errorf("operation_id is required")
	}

	policy := s.defaultPolicy
	if req.Policy != nil {
		policy = *req.Policy
	}

	return s.compressor.Compress(ctx, req.OperationID, req.Questions, req.Results, policy)
}

// paramsFromKnowledgeBase maps a stored knowledge base config to the
// retrieval parameters of its index.
func paramsFromKnowledgeBase(kb *repository.KnowledgeBase) index.Params {
	return index.Params{
		ID:            kb.ID.String(),
		Embedding:     kb.Config.Embedding,
		Rerank:        kb.Config.Rerank,
		ChunkSize:     kb.Config.ChunkSize,
		ChunkOverlap:  kb.Config.ChunkOverlap,
		DocumentCount: kb.Config.DocumentCount,
		Threshold:     kb.Config.Threshold,
	}
}
