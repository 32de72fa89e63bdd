// Package store defines the two storage contracts roomsync consumes: a
// synchronous, always-available local tier and a best-effort remote
// document service. Backend implementations live in the subpackages.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Local is the durable, synchronous store contract. Implementations must
// copy the current value to a backup slot before every write so that a
// failed or corrupted read can fall back to the last-known-good value.
type Local interface {
	// Get returns the stored value for key. ok is false when the key is
	// absent. A corrupted value is transparently replaced by its backup
	// when one exists.
	Get(key string) (value []byte, ok bool, err error)

	// Set stores value under key, preserving the previous value in the
	// backup slot first.
	Set(key string, value []byte) error

	// Remove deletes key and its backup.
	Remove(key string) error

	// Close releases the underlying resources.
	Close() error
}

// Document is the envelope stored per collection document on the remote
// tier.
type Document struct {
	ID          string          `json:"id,omitempty"`
	Data        json.RawMessage `json:"data"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Source      string          `json:"source,omitempty"`
	Version     int64           `json:"version"`
}

// Remote is the shared document-service contract. Availability is an
// explicit capability flag checked before every call, never assumed; a
// permission-denied response disables the tier for the process lifetime.
type Remote interface {
	// Get fetches a document. ok is false when the document is absent.
	Get(ctx context.Context, collection, docID string) (doc Document, ok bool, err error)

	// Set writes a document.
	Set(ctx context.Context, collection, docID string, doc Document) error

	// Delete removes a document. Deleting an absent document is not an
	// error.
	Delete(ctx context.Context, collection, docID string) error

	// List returns every document in a collection.
	List(ctx context.Context, collection string) ([]Document, error)

	// Available reports whether the remote tier can currently be used.
	Available() bool

	// Disable turns the remote tier off for the remainder of the process
	// lifetime. Used as a circuit breaker on permission failures.
	Disable()

	// Close releases the underlying resources.
	Close() error
}
