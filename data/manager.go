// Package data implements the hybrid storage manager for roomsync: a
// durable, always-available local tier written through synchronously, and
// a shared remote tier mirrored best-effort in the background. The local
// tier is the commit point; the remote tier only provides cross-device
// visibility and is reconciled by the merge engine.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roomsync/roomsync/booking"
	syncErrors "github.com/roomsync/roomsync/errors"
	"github.com/roomsync/roomsync/logging"
	"github.com/roomsync/roomsync/merge"
	"github.com/roomsync/roomsync/store"
)

// Local store keys.
const (
	KeyRooms        = "school_rooms"
	KeyReservations = "school_reservations"
	KeySyncStatus   = "sync_status"
)

// Remote collections and the single document holding each snapshot.
const (
	CollectionRooms        = "school_rooms"
	CollectionReservations = "school_reservations"
	MainDocID              = "main"
)

// Manager coordinates the local and remote tiers for rooms and
// reservations.
type Manager struct {
	local  store.Local
	remote store.Remote
	logger *logging.Logger
	source string

	mirrorTimeout time.Duration

	mu           sync.Mutex
	lastSyncTime time.Time
	refreshing   atomic.Bool
	syncing      atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithSource sets the device identity recorded in remote document
// envelopes. Defaults to a random UUID per process.
func WithSource(source string) Option {
	return func(m *Manager) { m.source = source }
}

// WithMirrorTimeout bounds background remote mirror writes.
func WithMirrorTimeout(d time.Duration) Option {
	return func(m *Manager) { m.mirrorTimeout = d }
}

// NewManager creates a Manager over the given tiers.
func NewManager(local store.Local, remote store.Remote, opts ...Option) *Manager {
	m := &Manager{
		local:         local,
		remote:        remote,
		logger:        logging.Default().WithComponent("data-manager"),
		source:        uuid.NewString(),
		mirrorTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Source returns the device identity used for remote envelopes.
func (m *Manager) Source() string { return m.source }

// RemoteAvailable reports whether the remote tier can currently be used.
func (m *Manager) RemoteAvailable() bool { return m.remote.Available() }

// Initialize seeds empty local snapshots on first use and, when the
// remote tier is reachable, performs the initial bidirectional
// reconciliation. Remote failures degrade to local-only operation and
// never fail initialization.
func (m *Manager) Initialize(ctx context.Context) error {
	if _, ok, err := m.local.Get(KeyRooms); err != nil || !ok {
		if err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
		if err := m.local.Set(KeyRooms, []byte(`{}`)); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
	}
	if _, ok, err := m.local.Get(KeyReservations); err != nil || !ok {
		if err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
		if err := m.local.Set(KeyReservations, []byte(`[]`)); err != nil {
			return syncErrors.NewStorageError(syncErrors.OpStore, err)
		}
	}

	if !m.remote.Available() {
		return nil
	}

	if err := m.initialSync(ctx); err != nil {
		m.logger.LogError(ctx, err, "initial sync failed, continuing with local data")
		m.setSyncStatus("failed", err.Error())
		if syncErrors.IsPermissionDenied(err) {
			m.remote.Disable()
		}
	}
	return nil
}

// initialSync merges both remote snapshots into the local tier and pushes
// the merged result back.
func (m *Manager) initialSync(ctx context.Context) error {
	remoteRooms, err := m.FetchRemoteRooms(ctx)
	if err != nil {
		return err
	}
	remoteReservations, err := m.FetchRemoteReservations(ctx)
	if err != nil {
		return err
	}

	localRooms, err := m.Rooms()
	if err != nil {
		return err
	}
	localReservations, err := m.Reservations()
	if err != nil {
		return err
	}

	mergedRooms := merge.Rooms(localRooms, remoteRooms)
	mergedReservations := merge.Reservations(localReservations, remoteReservations)

	if err := m.saveLocalRooms(mergedRooms); err != nil {
		return err
	}
	if err := m.SaveReservationsLocal(mergedReservations); err != nil {
		return err
	}

	if err := m.pushRooms(ctx, mergedRooms); err != nil {
		return err
	}
	if err := m.pushReservations(ctx, mergedReservations); err != nil {
		return err
	}

	m.setSyncStatus("success", "")
	return nil
}

// Rooms returns the local rooms snapshot.
func (m *Manager) Rooms() (map[string]booking.Room, error) {
	value, ok, err := m.local.Get(KeyRooms)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if !ok {
		return map[string]booking.Room{}, nil
	}

	var rooms map[string]booking.Room
	if err := json.Unmarshal(value, &rooms); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if rooms == nil {
		rooms = map[string]booking.Room{}
	}
	return rooms, nil
}

// Reservations returns the local reservations snapshot.
func (m *Manager) Reservations() ([]booking.Reservation, error) {
	value, ok, err := m.local.Get(KeyReservations)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	if !ok {
		return []booking.Reservation{}, nil
	}

	var reservations []booking.Reservation
	if err := json.Unmarshal(value, &reservations); err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpLoad, err)
	}
	return reservations, nil
}

// SaveRooms writes the rooms snapshot through the local tier and mirrors
// it to the remote tier in the background.
func (m *Manager) SaveRooms(ctx context.Context, rooms map[string]booking.Room) error {
	if err := m.saveLocalRooms(rooms); err != nil {
		return err
	}
	m.mirror(func(mctx context.Context) error {
		return m.pushRooms(mctx, rooms)
	})
	return nil
}

// SaveReservations writes the reservations snapshot through the local
// tier and mirrors it to the remote tier in the background.
func (m *Manager) SaveReservations(ctx context.Context, reservations []booking.Reservation) error {
	if err := m.SaveReservationsLocal(reservations); err != nil {
		return err
	}
	m.mirror(func(mctx context.Context) error {
		return m.pushReservations(mctx, reservations)
	})
	return nil
}

// SaveReservationsLocal writes the reservations snapshot to the local
// tier only. The sync scheduler uses this to persist merged snapshots
// without echoing them straight back to the remote tier.
func (m *Manager) SaveReservationsLocal(reservations []booking.Reservation) error {
	payload, err := json.Marshal(reservations)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if err := m.local.Set(KeyReservations, payload); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

func (m *Manager) saveLocalRooms(rooms map[string]booking.Room) error {
	payload, err := json.Marshal(rooms)
	if err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	if err := m.local.Set(KeyRooms, payload); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpStore, err)
	}
	return nil
}

// FetchRemoteRooms pulls and decodes the remote rooms snapshot. Invalid
// entries are dropped, not propagated.
func (m *Manager) FetchRemoteRooms(ctx context.Context) (map[string]booking.Room, error) {
	doc, ok, err := m.remote.Get(ctx, CollectionRooms, MainDocID)
	if err != nil {
		return nil, err
	}
	if !ok || len(doc.Data) == 0 {
		return map[string]booking.Room{}, nil
	}

	var rooms map[string]booking.Room
	if err := json.Unmarshal(doc.Data, &rooms); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpPull, fmt.Errorf("decoding remote rooms: %w", err))
	}

	valid := make(map[string]booking.Room, len(rooms))
	for id, room := range rooms {
		if room.ID == "" {
			room.ID = id
		}
		if err := booking.Validate(room); err != nil {
			m.logger.Warn("dropping invalid remote room", slog.String("id", id), slog.String("error", err.Error()))
			continue
		}
		valid[id] = room
	}
	return valid, nil
}

// FetchRemoteReservations pulls and decodes the remote reservations
// snapshot. Invalid entries are dropped, not propagated.
func (m *Manager) FetchRemoteReservations(ctx context.Context) ([]booking.Reservation, error) {
	doc, ok, err := m.remote.Get(ctx, CollectionReservations, MainDocID)
	if err != nil {
		return nil, err
	}
	if !ok || len(doc.Data) == 0 {
		return []booking.Reservation{}, nil
	}

	var reservations []booking.Reservation
	if err := json.Unmarshal(doc.Data, &reservations); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpPull, fmt.Errorf("decoding remote reservations: %w", err))
	}

	valid := reservations[:0]
	for _, r := range reservations {
		if err := booking.Validate(r); err != nil {
			m.logger.Warn("dropping invalid remote reservation", slog.String("key", r.Key()), slog.String("error", err.Error()))
			continue
		}
		valid = append(valid, r)
	}
	return valid, nil
}

// BestAvailableReservations returns the remote+local merge when the
// remote tier is reachable, and the local snapshot alone otherwise.
// A failing remote fetch degrades to local data instead of failing.
func (m *Manager) BestAvailableReservations(ctx context.Context) ([]booking.Reservation, error) {
	local, err := m.Reservations()
	if err != nil {
		return nil, err
	}

	if !m.remote.Available() {
		return local, nil
	}

	remote, err := m.FetchRemoteReservations(ctx)
	if err != nil {
		m.logger.Warn("remote fetch failed, using local reservations", slog.String("error", err.Error()))
		return local, nil
	}

	return merge.Reservations(local, remote), nil
}

// ForceSyncAll pushes both local snapshots to the remote tier
// unconditionally. This is the self-healing resync the full cycle runs:
// it bounds remote staleness regardless of missed quick-cycle merges.
func (m *Manager) ForceSyncAll(ctx context.Context) error {
	if !m.remote.Available() {
		return syncErrors.NewWithComponent(syncErrors.OpSync, "remote", fmt.Errorf("remote tier is not available"))
	}
	if !m.syncing.CompareAndSwap(false, true) {
		return nil // a sync is already in flight
	}
	defer m.syncing.Store(false)

	rooms, err := m.Rooms()
	if err != nil {
		return err
	}
	if err := m.pushRooms(ctx, rooms); err != nil {
		m.setSyncStatus("failed", err.Error())
		return err
	}

	reservations, err := m.Reservations()
	if err != nil {
		return err
	}
	if err := m.pushReservations(ctx, reservations); err != nil {
		m.setSyncStatus("failed", err.Error())
		return err
	}

	m.setSyncStatus("success", "")
	return nil
}

func (m *Manager) pushRooms(ctx context.Context, rooms map[string]booking.Room) error {
	payload, err := json.Marshal(rooms)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpPush, err)
	}
	return m.pushDocument(ctx, CollectionRooms, payload)
}

func (m *Manager) pushReservations(ctx context.Context, reservations []booking.Reservation) error {
	payload, err := json.Marshal(reservations)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpPush, err)
	}
	return m.pushDocument(ctx, CollectionReservations, payload)
}

func (m *Manager) pushDocument(ctx context.Context, collection string, payload []byte) error {
	now := time.Now().UTC()
	err := m.remote.Set(ctx, collection, MainDocID, store.Document{
		Data:        payload,
		LastUpdated: now,
		Source:      m.source,
		Version:     now.UnixMilli(),
	})
	if err != nil {
		if syncErrors.IsPermissionDenied(err) {
			m.remote.Disable()
		}
		return err
	}

	m.mu.Lock()
	m.lastSyncTime = now
	m.mu.Unlock()
	return nil
}

// mirror runs a remote write in the background with a bounded timeout.
// Failures are logged and recorded in the sync status, never surfaced.
func (m *Manager) mirror(push func(context.Context) error) {
	if !m.remote.Available() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.mirrorTimeout)
		defer cancel()

		if err := push(ctx); err != nil {
			m.logger.LogError(ctx, err, "background remote mirror failed")
			m.setSyncStatus("failed", err.Error())
			return
		}
		m.setSyncStatus("success", "")
	}()
}

// TriggerRefresh pulls the remote reservations snapshot in the
// background, merging it into the local tier so a later read observes
// remote changes. At most one refresh runs at a time; the call never
// blocks. User-facing read paths invoke this to keep reads fast while
// still converging on remote state.
func (m *Manager) TriggerRefresh() {
	if !m.remote.Available() {
		return
	}
	if !m.refreshing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer m.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), m.mirrorTimeout)
		defer cancel()

		if _, err := m.RefreshReservations(ctx); err != nil {
			m.logger.Warn("background refresh failed", slog.String("error", err.Error()))
		}
	}()
}

// RefreshReservations merges the remote reservations snapshot into the
// local tier, persisting whenever the merge changed anything: appended
// entries or in-place replacements by a newer remote version.
func (m *Manager) RefreshReservations(ctx context.Context) (merge.Delta, error) {
	remote, err := m.FetchRemoteReservations(ctx)
	if err != nil {
		return merge.Delta{}, err
	}

	local, err := m.Reservations()
	if err != nil {
		return merge.Delta{}, err
	}

	merged, delta := merge.ReservationsDelta(local, remote)
	if !delta.Changed() {
		return delta, nil
	}
	if err := m.SaveReservationsLocal(merged); err != nil {
		return merge.Delta{}, err
	}
	return delta, nil
}

// SyncStatus returns the persisted outcome of the last remote round trip.
func (m *Manager) SyncStatus() booking.SyncStatus {
	value, ok, err := m.local.Get(KeySyncStatus)
	if err != nil || !ok {
		return booking.SyncStatus{Status: "unknown"}
	}

	var status booking.SyncStatus
	if err := json.Unmarshal(value, &status); err != nil {
		return booking.SyncStatus{Status: "unknown"}
	}
	return status
}

func (m *Manager) setSyncStatus(status, errMsg string) {
	payload, err := json.Marshal(booking.SyncStatus{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	})
	if err != nil {
		return
	}
	if err := m.local.Set(KeySyncStatus, payload); err != nil {
		m.logger.Warn("failed to persist sync status", slog.String("error", err.Error()))
	}
}

// Diagnostics describes the data tier state for the diagnostics
// interface.
type Diagnostics struct {
	Initialized     bool               `json:"initialized"`
	RemoteAvailable bool               `json:"remoteAvailable"`
	SyncInProgress  bool               `json:"syncInProgress"`
	LastSyncTime    time.Time          `json:"lastSyncTime,omitzero"`
	SyncStatus      booking.SyncStatus `json:"syncStatus"`
	Source          string             `json:"source"`
}

// Diagnostics returns the current data tier diagnostics.
func (m *Manager) Diagnostics() Diagnostics {
	m.mu.Lock()
	lastSync := m.lastSyncTime
	m.mu.Unlock()

	_, initialized, err := m.local.Get(KeyReservations)
	if err != nil {
		initialized = false
	}

	return Diagnostics{
		Initialized:     initialized,
		RemoteAvailable: m.remote.Available(),
		SyncInProgress:  m.syncing.Load() || m.refreshing.Load(),
		LastSyncTime:    lastSync,
		SyncStatus:      m.SyncStatus(),
		Source:          m.source,
	}
}
