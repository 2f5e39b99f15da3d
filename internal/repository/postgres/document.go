package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loomchat/knowledge/internal/repository"
)

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `id, knowledge_base_id, source, title, content_hash, chunk_count, metadata, created_at, updated_at`

// Create creates a new document record
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		doc.ID, doc.KnowledgeBaseID, doc.Source, doc.Title, doc.ContentHash,
		doc.ChunkCount, metadataJSON, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return r.scanDocument(r.db.Pool.QueryRow(ctx, query, id))
}

// GetBySource retrieves the most recently updated document registered under
// the given source locator.
func (r *DocumentRepo) GetBySource(ctx context.Context, source string) (*repository.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE source = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return r.scanDocument(r.db.Pool.QueryRow(ctx, query, source))
}

// List retrieves documents for a knowledge base with pagination
func (r *DocumentRepo) List(ctx context.Context, kbID uuid.UUID, limit, offset int) ([]*repository.Document, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE knowledge_base_id = $1`, kbID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE knowledge_base_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Pool.Query(ctx, query, kbID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		doc, err := r.scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// Delete removes a document record
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) scanDocument(row pgx.Row) (*repository.Document, error) {
	var doc repository.Document
	var metadataJSON []byte

	err := row.Scan(
		&doc.ID, &doc.KnowledgeBaseID, &doc.Source, &doc.Title, &doc.ContentHash,
		&doc.ChunkCount, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Metadata = make(map[string]string)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &doc, nil
}

// Ensure DocumentRepo implements the interface.
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
