// Package lock implements advisory, time-bounded reservation locks. A
// lock covers a room/date/time slot while a device walks the safe
// reservation sequence. Locks are held in memory and mirrored best-effort
// to a shared remote collection so other devices can observe them; the
// mirror is advisory and never blocks local decisions.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roomsync/roomsync/booking"
	syncErrors "github.com/roomsync/roomsync/errors"
	"github.com/roomsync/roomsync/logging"
	"github.com/roomsync/roomsync/store"
)

// CollectionLocks is the remote collection mirroring active locks.
const CollectionLocks = "active_locks"

// DefaultTimeout is how long a lock is honored before it expires.
const DefaultTimeout = 5 * time.Minute

// ErrSlotLocked reports that another user holds an unexpired lock on the
// requested slot.
var ErrSlotLocked = errors.New("time slot is locked by another user")

// Manager tracks the active locks for this process.
type Manager struct {
	remote  store.Remote
	logger  *logging.Logger
	timeout time.Duration
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]booking.Lock
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides the lock expiry window.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithClock injects the time source. Tests use this to pin expiry
// boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a lock manager mirroring to the given remote store.
func NewManager(remote store.Remote, opts ...Option) *Manager {
	m := &Manager{
		remote:  remote,
		logger:  logging.Default().WithComponent("lock-manager"),
		timeout: DefaultTimeout,
		now:     time.Now,
		locks:   make(map[string]booking.Lock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire claims the slot covering the reservation for userID. An
// unexpired lock held by another user fails the claim; an expired lock is
// replaced. Re-acquiring one's own lock refreshes its expiry.
func (m *Manager) Acquire(ctx context.Context, reservation booking.Reservation, userID string) (booking.Lock, error) {
	key := reservation.SlotKey()
	now := m.now()

	m.mu.Lock()
	if existing, ok := m.locks[key]; ok && !existing.Expired(now) && existing.UserID != userID {
		m.mu.Unlock()
		return booking.Lock{}, fmt.Errorf("%w: %s held by %s until %s",
			ErrSlotLocked, key, existing.UserID, existing.Expires.Format(time.RFC3339))
	}

	lock := booking.Lock{
		Key:         key,
		UserID:      userID,
		Reservation: reservation,
		Created:     now,
		Expires:     now.Add(m.timeout),
	}
	m.locks[key] = lock
	m.mu.Unlock()

	m.mirrorSet(ctx, lock)
	return lock, nil
}

// Release removes the lock on key if userID holds it. Releasing an
// absent or foreign lock is a no-op.
func (m *Manager) Release(ctx context.Context, key, userID string) {
	m.mu.Lock()
	existing, ok := m.locks[key]
	if !ok || existing.UserID != userID {
		m.mu.Unlock()
		return
	}
	delete(m.locks, key)
	m.mu.Unlock()

	m.mirrorDelete(ctx, key)
}

// Get returns the unexpired lock on key, if any.
func (m *Manager) Get(key string) (booking.Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[key]
	if !ok || lock.Expired(m.now()) {
		return booking.Lock{}, false
	}
	return lock, true
}

// Count returns the number of unexpired locks.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, lock := range m.locks {
		if !lock.Expired(now) {
			count++
		}
	}
	return count
}

// SweepExpired drops expired locks and clears their remote mirrors. It
// returns how many were removed.
func (m *Manager) SweepExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var expired []string
	for key, lock := range m.locks {
		if lock.Expired(now) {
			expired = append(expired, key)
			delete(m.locks, key)
		}
	}
	m.mu.Unlock()

	for _, key := range expired {
		m.mirrorDelete(ctx, key)
	}
	return len(expired)
}

// Clear drops every local lock and best-effort clears this user's remote
// mirrors. Used on shutdown.
func (m *Manager) Clear(ctx context.Context, ownUserID string) {
	m.mu.Lock()
	var owned []string
	for key, lock := range m.locks {
		if lock.UserID == ownUserID {
			owned = append(owned, key)
		}
	}
	m.locks = make(map[string]booking.Lock)
	m.mu.Unlock()

	for _, key := range owned {
		m.mirrorDelete(ctx, key)
	}
}

// DownloadForeign adopts unexpired locks published by other devices into
// the local set so the conflict detector observes them. A key already
// locked locally and unexpired is never overwritten. It returns how many
// locks were adopted.
func (m *Manager) DownloadForeign(ctx context.Context, ownUserID string) (int, error) {
	if !m.remote.Available() {
		return 0, nil
	}

	docs, err := m.remote.List(ctx, CollectionLocks)
	if err != nil {
		return 0, syncErrors.NewWithComponent(syncErrors.OpPull, "lock-manager", err)
	}

	now := m.now()
	adopted := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		var lock booking.Lock
		if err := json.Unmarshal(doc.Data, &lock); err != nil {
			m.logger.Warn("dropping malformed remote lock", slog.String("doc", doc.ID), slog.String("error", err.Error()))
			continue
		}
		if lock.Key == "" {
			lock.Key = doc.ID
		}
		if lock.Expired(now) || lock.UserID == ownUserID {
			continue
		}
		if existing, ok := m.locks[lock.Key]; ok && !existing.Expired(now) {
			continue
		}
		m.locks[lock.Key] = lock
		adopted++
	}
	return adopted, nil
}

// mirrorSet publishes a lock to the remote collection. Failures are
// logged only; the local lock stands regardless.
func (m *Manager) mirrorSet(ctx context.Context, lock booking.Lock) {
	if !m.remote.Available() {
		return
	}

	payload, err := json.Marshal(lock)
	if err != nil {
		m.logger.Warn("failed to encode lock for mirror", slog.String("key", lock.Key), slog.String("error", err.Error()))
		return
	}
	doc := store.Document{
		Data:        payload,
		LastUpdated: lock.Created,
		Source:      lock.UserID,
		Version:     lock.Created.UnixMilli(),
	}
	if err := m.remote.Set(ctx, CollectionLocks, lock.Key, doc); err != nil {
		m.logger.Warn("failed to mirror lock", slog.String("key", lock.Key), slog.String("error", err.Error()))
	}
}

func (m *Manager) mirrorDelete(ctx context.Context, key string) {
	if !m.remote.Available() {
		return
	}
	if err := m.remote.Delete(ctx, CollectionLocks, key); err != nil {
		m.logger.Warn("failed to clear mirrored lock", slog.String("key", key), slog.String("error", err.Error()))
	}
}
