package artifact

import (
	"context"
	"errors"
	"fmt"

	"github.com/loomchat/knowledge/internal/repository"
)

// DocumentResolver resolves locators against the document registry, so
// chunks retrieved from a knowledge base carry the title and update time of
// the document they came from.
type DocumentResolver struct {
	docs repository.DocumentRepository
}

// NewDocumentResolver creates a registry-backed resolver.
func NewDocumentResolver(docs repository.DocumentRepository) *DocumentResolver {
	return &DocumentResolver{docs: docs}
}

// Resolve implements Resolver.
func (r *DocumentResolver) Resolve(ctx context.Context, locator string) (*Metadata, error) {
	doc, err := r.docs.GetBySource(ctx, locator)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve locator: %w", err)
	}

	name := doc.Title
	if name == "" {
		name = doc.Source
	}

	return &Metadata{
		Name:       name,
		Locator:    locator,
		ModifiedAt: doc.UpdatedAt,
	}, nil
}

// Ensure DocumentResolver implements Resolver.
var _ Resolver = (*DocumentResolver)(nil)
