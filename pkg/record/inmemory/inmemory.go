// Package inmemory provides a record store backed by a slice. It is used by
// tests and as the default sink when no durable store is configured.
package inmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/flowscribe/flowscribe/pkg/record"
)

// Store keeps records in memory, in append order.
type Store struct {
	mu      sync.RWMutex
	records []*record.Record
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{}
}

// Append adds a record.
func (s *Store) Append(_ context.Context, rec *record.Record) error {
	if rec == nil {
		return errors.New("cannot append nil record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// List returns a copy of the stored records in append order.
func (s *Store) List(_ context.Context) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*record.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

var _ record.Store = (*Store)(nil)
