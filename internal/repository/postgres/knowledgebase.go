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

// KnowledgeBaseRepo implements repository.KnowledgeBaseRepository
type KnowledgeBaseRepo struct {
	db *DB
}

// NewKnowledgeBaseRepo creates a new knowledge base repository
func NewKnowledgeBaseRepo(db *DB) *KnowledgeBaseRepo {
	return &KnowledgeBaseRepo{db: db}
}

// Create creates a new knowledge base
func (r *KnowledgeBaseRepo) Create(ctx context.Context, kb *repository.KnowledgeBase) error {
	configJSON, err := json.Marshal(kb.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO knowledge_bases (id, name, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		kb.ID, kb.Name, configJSON, kb.CreatedAt, kb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge base: %w", err)
	}
	return nil
}

// GetByID retrieves a knowledge base by ID
func (r *KnowledgeBaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.KnowledgeBase, error) {
	query := `
		SELECT id, name, config, created_at, updated_at
		FROM knowledge_bases
		WHERE id = $1
	`
	return r.scanKnowledgeBase(r.db.Pool.QueryRow(ctx, query, id))
}

// List retrieves all knowledge bases
func (r *KnowledgeBaseRepo) List(ctx context.Context) ([]*repository.KnowledgeBase, error) {
	query := `
		SELECT id, name, config, created_at, updated_at
		FROM knowledge_bases
		ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []*repository.KnowledgeBase
	for rows.Next() {
		kb, err := r.scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

// Update updates a knowledge base's name and config
func (r *KnowledgeBaseRepo) Update(ctx context.Context, kb *repository.KnowledgeBase) error {
	configJSON, err := json.Marshal(kb.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		UPDATE knowledge_bases
		SET name = $2, config = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, kb.ID, kb.Name, configJSON, kb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a knowledge base
func (r *KnowledgeBaseRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *KnowledgeBaseRepo) scanKnowledgeBase(row pgx.Row) (*repository.KnowledgeBase, error) {
	var kb repository.KnowledgeBase
	var configJSON []byte

	err := row.Scan(&kb.ID, &kb.Name, &configJSON, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get knowledge base: %w", err)
	}

	if err := json.Unmarshal(configJSON, &kb.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &kb, nil
}

// Ensure KnowledgeBaseRepo implements the interface.
var _ repository.KnowledgeBaseRepository = (*KnowledgeBaseRepo)(nil)
