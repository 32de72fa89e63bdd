// Package roomsync is a booking consistency layer for shared school
// rooms. It keeps reservations correct across devices that are often
// offline: every write lands synchronously in an always-available local
// store and is mirrored best-effort to a shared remote store, while a
// background scheduler reconciles the two tiers. Bookings go through a
// check/lock/re-check sequence that narrows the race window between two
// devices claiming the same slot.
//
// The local tier is authoritative for reads and the commit point for
// writes. The remote tier only ever improves cross-device visibility;
// when it is unreachable the system degrades to local-only operation
// rather than refusing bookings.
package roomsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roomsync/roomsync/booking"
	"github.com/roomsync/roomsync/conflict"
	"github.com/roomsync/roomsync/data"
	syncErrors "github.com/roomsync/roomsync/errors"
	"github.com/roomsync/roomsync/lock"
	"github.com/roomsync/roomsync/logging"
	"github.com/roomsync/roomsync/store"
)

// EventType classifies scheduler and booking notifications.
type EventType string

const (
	// EventDataUpdated fires when a reconciliation cycle changed the
	// local reservation set.
	EventDataUpdated EventType = "data_updated"
	// EventSyncFailed fires when a reconciliation cycle could not reach
	// the remote tier.
	EventSyncFailed EventType = "sync_failed"
	// EventReservationCommitted fires after a booking lands in the local
	// store.
	EventReservationCommitted EventType = "reservation_committed"
)

// Event is delivered to observers registered with Subscribe. For
// EventDataUpdated, Added counts entries a merge appended and Replaced
// counts entries it overwrote with a newer remote version.
type Event struct {
	Type        EventType
	Added       int
	Replaced    int
	Reservation *booking.Reservation
	Err         error
	Time        time.Time
}

// Observer receives events. Observers run on their own goroutines and a
// panicking observer never takes the system down.
type Observer func(Event)

// Stats is a snapshot of system counters and scheduler state.
type Stats struct {
	ReservationsCommitted uint64             `json:"reservationsCommitted"`
	ReservationsRejected  uint64             `json:"reservationsRejected"`
	QuickCycles           uint64             `json:"quickCycles"`
	FullCycles            uint64             `json:"fullCycles"`
	ActiveLocks           int                `json:"activeLocks"`
	SchedulerRunning      bool               `json:"schedulerRunning"`
	SyncIntervalMs        int                `json:"syncIntervalMs"`
	FullSyncIntervalMs    int                `json:"fullSyncIntervalMs"`
	Data                  data.Diagnostics   `json:"data"`
	SyncStatus            booking.SyncStatus `json:"syncStatus"`
}

// ReserveResult is the structured outcome of a booking attempt. A
// rejected attempt carries the conflict check that blocked it; callers
// surface Check.Suggestions to the user.
type ReserveResult struct {
	Committed   bool                `json:"committed"`
	Reason      string              `json:"reason,omitempty"`
	Check       booking.CheckResult `json:"check"`
	Reservation booking.Reservation `json:"reservation"`
}

// System wires the data manager, lock manager, conflict detector and
// sync scheduler into one booking service.
type System struct {
	cfg      Config
	logger   *logging.Logger
	deviceID string

	data     *data.Manager
	locks    *lock.Manager
	detector *conflict.Detector
	local    store.Local
	remote   store.Remote

	mu        sync.Mutex
	observers []Observer
	started   bool
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup

	committed atomic.Uint64
	rejected  atomic.Uint64
	quickRuns atomic.Uint64
	fullRuns  atomic.Uint64

	lastReservationCount atomic.Int64
	lastMaxModified      atomic.Int64
}

// SystemOption configures a System.
type SystemOption func(*System)

// WithLogger sets the system logger. Component loggers for the data,
// lock and conflict subsystems derive from it.
func WithLogger(logger *logging.Logger) SystemOption {
	return func(s *System) { s.logger = logger }
}

// New builds a System over the given storage tiers. Call Start to run
// the initial reconciliation and the background scheduler.
func New(local store.Local, remote store.Remote, cfg Config, opts ...SystemOption) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpSync, err)
	}

	s := &System{
		cfg:      cfg,
		logger:   logging.Default().WithComponent("roomsync"),
		deviceID: cfg.DeviceID,
		local:    local,
		remote:   remote,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.deviceID == "" {
		s.deviceID = uuid.NewString()
	}

	s.data = data.NewManager(local, remote,
		data.WithLogger(s.logger.WithComponent("data-manager")),
		data.WithSource(s.deviceID),
	)
	s.locks = lock.NewManager(remote,
		lock.WithLogger(s.logger.WithComponent("lock-manager")),
		lock.WithTimeout(cfg.LockTimeout()),
	)
	s.detector = conflict.NewDetector(s.data, s.locks, cfg.TimeSlots, cfg.Rooms,
		conflict.WithLogger(s.logger.WithComponent("conflict-detector")),
		conflict.WithSuggestionCap(cfg.SuggestionCap),
	)
	return s, nil
}

// DeviceID returns the identity this instance writes into remote
// envelopes and locks.
func (s *System) DeviceID() string { return s.deviceID }

// Start seeds the local store, runs the initial reconciliation and
// launches the background sync cycles.
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("system is closed")
	}
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("system is already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.data.Initialize(ctx); err != nil {
		return err
	}
	s.recordSnapshot()
	s.startScheduler()

	s.logger.Info("roomsync started",
		slog.String("device_id", s.deviceID),
		slog.Bool("remote_available", s.remote.Available()))
	return nil
}

// Subscribe registers an observer for scheduler and booking events.
func (s *System) Subscribe(observer Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("system is closed")
	}
	s.observers = append(s.observers, observer)
	return nil
}

func (s *System) notify(event Event) {
	event.Time = time.Now().UTC()

	s.mu.Lock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, observer := range observers {
		go func(o Observer) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("observer panicked", slog.Any("panic", r))
				}
			}()
			o(event)
		}(observer)
	}
}

// Check runs the availability check for a candidate reservation without
// booking it. Reads trigger a background remote refresh so repeated
// checks converge on remote state.
func (s *System) Check(ctx context.Context, reservation booking.Reservation, userID string) booking.CheckResult {
	s.data.TriggerRefresh()
	return s.detector.Check(ctx, reservation, userID)
}

// Reservations returns the local reservation snapshot and triggers a
// background remote refresh.
func (s *System) Reservations() ([]booking.Reservation, error) {
	s.data.TriggerRefresh()
	return s.data.Reservations()
}

// Rooms returns the local rooms snapshot.
func (s *System) Rooms() (map[string]booking.Room, error) {
	return s.data.Rooms()
}

// SaveRooms stores the rooms catalog.
func (s *System) SaveRooms(ctx context.Context, rooms map[string]booking.Room) error {
	return s.data.SaveRooms(ctx, rooms)
}

// Reserve books a slot through the safe sequence: conflict check,
// advisory lock, a settle pause for in-flight remote writes, a final
// re-check under the lock, then the local commit and best-effort remote
// mirror. The lock is released on every exit path; after a successful
// commit the release is delayed so the mirrored write propagates before
// the slot reopens.
//
// An error is returned only for storage failures. Rejections (conflicts,
// foreign locks) come back as a ReserveResult with Committed false.
func (s *System) Reserve(ctx context.Context, reservation booking.Reservation, userID string) (ReserveResult, error) {
	if err := booking.Validate(reservation); err != nil {
		s.rejected.Add(1)
		return ReserveResult{Reason: "invalid reservation"}, syncErrors.NewValidationError(syncErrors.OpReserve, err)
	}

	// First check before taking the lock, so obvious conflicts fail
	// cheaply with suggestions.
	check := s.detector.Check(ctx, reservation, userID)
	if !check.Available() {
		s.rejected.Add(1)
		return ReserveResult{Reason: rejectReason(check), Check: check, Reservation: reservation}, nil
	}

	held, err := s.locks.Acquire(ctx, reservation, userID)
	if err != nil {
		s.rejected.Add(1)
		return ReserveResult{Reason: "slot is locked", Check: check, Reservation: reservation}, nil
	}

	// Let writes already in flight on other devices reach the remote
	// tier before the decisive re-check.
	select {
	case <-ctx.Done():
		s.locks.Release(ctx, held.Key, userID)
		return ReserveResult{Reason: "cancelled"}, ctx.Err()
	case <-time.After(s.cfg.SettleDelay()):
	}

	final := s.detector.Check(ctx, reservation, userID)
	if !final.Available() {
		s.locks.Release(ctx, held.Key, userID)
		s.rejected.Add(1)
		return ReserveResult{Reason: rejectReason(final), Check: final, Reservation: reservation}, nil
	}

	now := time.Now().UTC()
	reservation.UserID = userID
	reservation.LockKey = held.Key
	reservation.ConfirmedAt = now
	reservation.LastModified = now

	existing, err := s.data.Reservations()
	if err != nil {
		s.locks.Release(ctx, held.Key, userID)
		return ReserveResult{Reason: "storage failure"}, err
	}
	if err := s.data.SaveReservations(ctx, append(existing, reservation)); err != nil {
		s.locks.Release(ctx, held.Key, userID)
		return ReserveResult{Reason: "storage failure"}, err
	}

	s.committed.Add(1)
	s.recordSnapshot()
	s.notify(Event{Type: EventReservationCommitted, Reservation: &reservation})

	// Hold the lock briefly past the commit; the remote mirror is
	// asynchronous and the slot should not reopen before it lands.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(s.cfg.ReleaseDelay())
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.done:
		}
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.locks.Release(releaseCtx, held.Key, userID)
	}()

	return ReserveResult{Committed: true, Check: final, Reservation: reservation}, nil
}

// Cancel removes a reservation by its composite identity. Only the
// booking user may cancel it.
func (s *System) Cancel(ctx context.Context, reservation booking.Reservation, userID string) error {
	existing, err := s.data.Reservations()
	if err != nil {
		return err
	}

	key := reservation.Key()
	kept := existing[:0]
	removed := false
	for _, r := range existing {
		if r.Key() == key {
			if r.UserID != "" && r.UserID != userID {
				return syncErrors.NewValidationError(syncErrors.OpReserve,
					fmt.Errorf("reservation %s belongs to another user", key))
			}
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return syncErrors.NewValidationError(syncErrors.OpReserve,
			fmt.Errorf("reservation %s not found", key))
	}

	if err := s.data.SaveReservations(ctx, kept); err != nil {
		return err
	}
	s.recordSnapshot()
	return nil
}

// ForceSync pushes both local snapshots to the remote tier immediately.
func (s *System) ForceSync(ctx context.Context) error {
	return s.data.ForceSyncAll(ctx)
}

// Stats returns a snapshot of the system counters and data diagnostics.
func (s *System) Stats() Stats {
	s.mu.Lock()
	running := s.started && !s.closed
	s.mu.Unlock()

	diag := s.data.Diagnostics()
	return Stats{
		ReservationsCommitted: s.committed.Load(),
		ReservationsRejected:  s.rejected.Load(),
		QuickCycles:           s.quickRuns.Load(),
		FullCycles:            s.fullRuns.Load(),
		ActiveLocks:           s.locks.Count(),
		SchedulerRunning:      running,
		SyncIntervalMs:        s.cfg.SyncIntervalMs,
		FullSyncIntervalMs:    s.cfg.FullSyncIntervalMs,
		Data:                  diag,
		SyncStatus:            diag.SyncStatus,
	}
}

// Close stops the scheduler, waits for in-flight lock releases and
// closes both storage tiers. Close is idempotent.
func (s *System) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.observers = nil
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()

	clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.locks.Clear(clearCtx, s.deviceID)

	var errs []error
	if err := s.local.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing local store: %w", err))
	}
	if err := s.remote.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing remote store: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	s.logger.Info("roomsync stopped", slog.String("device_id", s.deviceID))
	return nil
}

func rejectReason(check booking.CheckResult) string {
	switch {
	case check.Locked:
		return "slot is locked"
	case check.HasConflict:
		return "conflict detected"
	default:
		return ""
	}
}
