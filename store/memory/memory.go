// Package memory provides an in-memory implementation of the roomsync
// remote store contract. It backs the demo binary and tests, and supports
// failure injection to exercise the degraded-remote paths.
package memory

import (
	"context"
	"fmt"
	"sync"

	syncErrors "github.com/roomsync/roomsync/errors"
	"github.com/roomsync/roomsync/store"
)

// Remote implements store.Remote with an in-memory map.
type Remote struct {
	mu       sync.RWMutex
	docs     map[string]map[string]store.Document // collection -> docID -> document
	disabled bool
	failWith error // when set, every call fails with this error
}

var _ store.Remote = (*Remote)(nil)

// NewRemote creates an empty in-memory remote store.
func NewRemote() *Remote {
	return &Remote{docs: make(map[string]map[string]store.Document)}
}

// FailWith makes every subsequent call return err. Passing nil restores
// normal operation.
func (r *Remote) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

// FailNetwork is a convenience wrapper injecting a retryable network error.
func (r *Remote) FailNetwork() {
	r.FailWith(syncErrors.NewNetworkError(syncErrors.OpTransport, fmt.Errorf("injected network failure")))
}

func (r *Remote) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.disabled {
		return syncErrors.NewWithComponent(syncErrors.OpTransport, "remote", fmt.Errorf("remote tier is disabled"))
	}
	if r.failWith != nil {
		return r.failWith
	}
	return nil
}

// Get fetches a document.
func (r *Remote) Get(ctx context.Context, collection, docID string) (store.Document, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx); err != nil {
		return store.Document{}, false, err
	}

	doc, ok := r.docs[collection][docID]
	return doc, ok, nil
}

// Set writes a document.
func (r *Remote) Set(ctx context.Context, collection, docID string, doc store.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return err
	}

	if r.docs[collection] == nil {
		r.docs[collection] = make(map[string]store.Document)
	}
	doc.ID = docID
	r.docs[collection][docID] = doc
	return nil
}

// Delete removes a document. Absent documents are not an error.
func (r *Remote) Delete(ctx context.Context, collection, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(ctx); err != nil {
		return err
	}

	delete(r.docs[collection], docID)
	return nil
}

// List returns every document in a collection.
func (r *Remote) List(ctx context.Context, collection string) ([]store.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(r.docs[collection]))
	for _, doc := range r.docs[collection] {
		docs = append(docs, doc)
	}
	return docs, nil
}

// Available reports whether the remote tier can currently be used.
func (r *Remote) Available() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.disabled
}

// Disable turns the remote tier off for the remainder of the process
// lifetime.
func (r *Remote) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = true
}

// Close is a no-op for the in-memory store.
func (r *Remote) Close() error { return nil }

// Local implements store.Local with an in-memory map and the same
// backup-on-write behavior as the durable backends.
type Local struct {
	mu     sync.RWMutex
	values map[string][]byte
	backup map[string][]byte
	closed bool

	failSet error // when set, Set fails with this error
}

var _ store.Local = (*Local)(nil)

// NewLocal creates an empty in-memory local store.
func NewLocal() *Local {
	return &Local{
		values: make(map[string][]byte),
		backup: make(map[string][]byte),
	}
}

// FailSetWith makes every subsequent Set return err. Passing nil restores
// normal operation.
func (l *Local) FailSetWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failSet = err
}

// Get returns the value stored under key.
func (l *Local) Get(key string) ([]byte, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, false, fmt.Errorf("store is closed")
	}

	value, ok := l.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Set stores value under key, keeping the previous value as backup.
func (l *Local) Set(key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("store is closed")
	}
	if l.failSet != nil {
		return l.failSet
	}

	if prev, ok := l.values[key]; ok {
		l.backup[key] = prev
	}
	l.values[key] = append([]byte(nil), value...)
	return nil
}

// Remove deletes key and its backup.
func (l *Local) Remove(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("store is closed")
	}

	delete(l.values, key)
	delete(l.backup, key)
	return nil
}

// Close marks the store closed.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
