// Package mockstore provides a configurable mock implementation of the record
// store for testing.
//
// The MockStore type uses function fields for each method, allowing tests to
// inject failures into one operation while the rest fall through to Base.
package mockstore

import (
	"context"

	"github.com/sipico/freesub/internal/record"
	"github.com/sipico/freesub/internal/storage"
)

// MockStore is a configurable mock implementation of storage.Store.
// Each method can be customized by setting the corresponding function field.
// If a function field is nil, the call goes to Base; if Base is nil too, the
// method returns a sensible default value.
type MockStore struct {
	Base storage.Store

	GetFunc        func(ctx context.Context, key record.Key) (*record.Registered, error)
	PutFunc        func(ctx context.Context, rec *record.Registered) error
	DeleteFunc     func(ctx context.Context, key record.Key) error
	ListFunc       func(ctx context.Context) ([]*record.Registered, error)
	ListDomainFunc func(ctx context.Context, domain string) ([]*record.Registered, error)
	CloseFunc      func() error
}

var _ storage.Store = (*MockStore)(nil)

// Get returns a record.
func (m *MockStore) Get(ctx context.Context, key record.Key) (*record.Registered, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	if m.Base != nil {
		return m.Base.Get(ctx, key)
	}
	return nil, storage.ErrNotFound
}

// Put stores a record.
func (m *MockStore) Put(ctx context.Context, rec *record.Registered) error {
	if m.PutFunc != nil {
		return m.PutFunc(ctx, rec)
	}
	if m.Base != nil {
		return m.Base.Put(ctx, rec)
	}
	return nil
}

// Delete removes a record.
func (m *MockStore) Delete(ctx context.Context, key record.Key) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	if m.Base != nil {
		return m.Base.Delete(ctx, key)
	}
	return nil
}

// List returns all records.
func (m *MockStore) List(ctx context.Context) ([]*record.Registered, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	if m.Base != nil {
		return m.Base.List(ctx)
	}
	return nil, nil
}

// ListDomain returns the records of one domain.
func (m *MockStore) ListDomain(ctx context.Context, domain string) ([]*record.Registered, error) {
	if m.ListDomainFunc != nil {
		return m.ListDomainFunc(ctx, domain)
	}
	if m.Base != nil {
		return m.Base.ListDomain(ctx, domain)
	}
	return nil, nil
}

// Close releases resources.
func (m *MockStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	if m.Base != nil {
		return m.Base.Close()
	}
	return nil
}
