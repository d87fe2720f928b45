// Package storage persists registered records, the local source of truth
// for what should exist at the provider.
package storage

import (
	"context"

	"github.com/sipico/freesub/internal/record"
)

// Store is the local record store. Records are keyed by (domain, label);
// implementations normalise keys to lowercase.
type Store interface {
	// Get returns the record for key or ErrNotFound.
	Get(ctx context.Context, key record.Key) (*record.Registered, error)
	// Put creates or replaces the record under its key.
	Put(ctx context.Context, rec *record.Registered) error
	// Delete removes the record for key or returns ErrNotFound.
	Delete(ctx context.Context, key record.Key) error
	// List returns every record. A *PartialError reports entries that could
	// not be read; the readable records are still returned.
	List(ctx context.Context) ([]*record.Registered, error)
	// ListDomain returns the records under one domain.
	ListDomain(ctx context.Context, domain string) ([]*record.Registered, error)
	// Close releases resources held by the store.
	Close() error
}
