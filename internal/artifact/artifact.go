// Package artifact maps opaque source locators from retrieved chunks back to
// known files or registered documents, attaching provenance and the
// timestamps recency scoring needs.
package artifact

import (
	"context"
	"time"
)

// Metadata describes the artifact a source locator points at.
type Metadata struct {
	// Name is a human-readable label, e.g. a file name or document title.
	Name string

	// Locator is the locator this metadata was resolved from.
	Locator string

	// Size is the artifact size in bytes, when known.
	Size int64

	// ModifiedAt is the artifact's last modification time. Zero when unknown.
	ModifiedAt time.Time
}

// Resolver resolves a source locator to artifact metadata. Returns
// (nil, nil) when the locator is not recognized; resolution is best-effort
// and callers must keep chunks whose locator does not resolve.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (*Metadata, error)
}

// Chain tries resolvers in order and returns the first hit. A resolver
// error does not stop the chain; the first error is reported only when no
// resolver produced a result.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, locator string) (*Metadata, error) {
	var firstErr error
	for _, r := range c {
		md, err := r.Resolve(ctx, locator)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if md != nil {
			return md, nil
		}
	}
	return nil, firstErr
}

// Ensure Chain implements Resolver.
var _ Resolver = (Chain)(nil)
