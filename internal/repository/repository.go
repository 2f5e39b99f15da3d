// Package repository defines domain models and data access interfaces for
// knowledge bases and their registered documents.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/loomchat/knowledge/internal/embedder"
	"github.com/loomchat/knowledge/internal/reranker"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// KnowledgeBase is one named, vector-indexed document collection. Its config
// is the persisted source of the retrieval parameters for its index.
type KnowledgeBase struct {
	ID        uuid.UUID
	Name      string
	Config    KnowledgeBaseConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// KnowledgeBaseConfig holds per-collection retrieval configuration.
type KnowledgeBaseConfig struct {
	Embedding     embedder.Config  `json:"embedding"`
	Rerank        *reranker.Config `json:"rerank,omitempty"`
	ChunkSize     int              `json:"chunk_size"`
	ChunkOverlap  int              `json:"chunk_overlap"`
	DocumentCount int              `json:"document_count"`
	Threshold     float32          `json:"threshold"`
}

// Document is a file or page registered in a knowledge base. Retrieval uses
// it to attach provenance to chunks whose source locator matches, and its
// UpdatedAt feeds recency scoring.
type Document struct {
	ID              uuid.UUID
	KnowledgeBaseID uuid.UUID
	Source          string // opaque locator: URL or file path encoding
	Title           string
	ContentHash     string
	ChunkCount      int
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// KnowledgeBaseRepository provides access to knowledge base records.
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, kb *KnowledgeBase) error
	GetByID(ctx context.Context, id uuid.UUID) (*KnowledgeBase, error)
	List(ctx context.Context) ([]*KnowledgeBase, error)
	Update(ctx context.Context, kb *KnowledgeBase) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// DocumentRepository provides access to document records.
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetBySource(ctx context.Context, source string) (*Document, error)
	List(ctx context.Context, kbID uuid.UUID, limit, offset int) ([]*Document, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
