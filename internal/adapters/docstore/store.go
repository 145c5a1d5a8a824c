// Package docstore defines the document store contract used by the change
// feed and the bid ledger, the query watcher shared by every backend, and an
// in-memory backend.
package docstore

import (
	"context"
	"time"

	"github.com/okian/jobboard/internal/domain/document"
)

// Backend names accepted by configuration.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Store provides reads, transactional writes and change subscriptions over
// schemaless documents.
type Store interface {
	// Get runs q against the current committed state.
	Get(ctx context.Context, q document.Query) ([]document.Document, error)

	// GetDoc returns one document, or errkind.ErrNotFound.
	GetDoc(ctx context.Context, collection, id string) (document.Document, error)

	// Subscribe watches q. The first batch holds the full result set as
	// added changes; later batches hold the difference between consecutive
	// result sets.
	Subscribe(ctx context.Context, q document.Query) (Subscription, error)

	// RunTransaction executes fn atomically and returns the commit time.
	// A concurrent writer invalidating fn's reads yields errkind.ErrConflict.
	RunTransaction(ctx context.Context, fn document.TxFunc) (time.Time, error)

	// Add stores data under a new id.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)

	// Set replaces the document at id, creating it when absent.
	Set(ctx context.Context, collection, id string, data map[string]any) error

	// Update merges fields into an existing document, or errkind.ErrNotFound.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes an existing document, or errkind.ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Backend names the implementation, for stats and metrics.
	Backend() string

	Close() error
}

// Subscription is a live query. Both channels are closed after Close.
type Subscription = document.Subscription
