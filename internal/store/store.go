package store

import "context"

// Store is the event collection the sync engine mutates. Implementations must
// be safe for concurrent use; the engine itself serializes mutations within a
// guarded run, but CLI commands and the importer share the same store.
//
// Persist flushes the collection to durable storage. Backends that are
// durable per write (SQLite) implement it as a no-op.
type Store interface {
	List(ctx context.Context) ([]*Event, error)
	Get(ctx context.Context, id string) (*Event, error)
	Put(ctx context.Context, ev *Event) error
	Delete(ctx context.Context, id string) error
	Persist(ctx context.Context) error
	Close() error
}
