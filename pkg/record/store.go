package record

import "context"

// Store is an append-only sink for Records. Implementations must serialize
// concurrent Append calls so records never interleave, and must keep each
// append atomic: a failed append leaves no partial record behind.
type Store interface {
	// Append persists one record.
	Append(ctx context.Context, rec *Record) error

	// List returns all records in append order.
	List(ctx context.Context) ([]*Record, error)

	// Count returns the number of persisted records.
	Count(ctx context.Context) (int, error)

	// Close releases the underlying resource. The store is unusable
	// afterwards.
	Close() error
}
