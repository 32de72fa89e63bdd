package roomsync

import (
	"context"
	"log/slog"
	"time"

	syncErrors "github.com/roomsync/roomsync/errors"
)

// startScheduler launches the two reconciliation loops. The quick cycle
// keeps the local tier converging on remote changes; the full cycle
// pushes the complete local state so remote staleness stays bounded even
// when quick cycles find nothing to do.
func (s *System) startScheduler() {
	s.wg.Add(2)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SyncInterval())
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.runQuickCycle()
			}
		}
	}()

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.FullSyncInterval())
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.runFullCycle()
			}
		}
	}()
}

// runQuickCycle performs one quick reconciliation: adopt foreign locks,
// pull and merge the remote reservations when they look newer, then sweep
// expired locks. Remote failures degrade the cycle, they never stop the
// loop.
func (s *System) runQuickCycle() {
	s.quickRuns.Add(1)
	if !s.remote.Available() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SyncInterval())
	defer cancel()

	if _, err := s.locks.DownloadForeign(ctx, s.deviceID); err != nil {
		s.logger.Warn("quick cycle: lock download failed", slog.String("error", err.Error()))
	}

	if fresh, err := s.remoteLooksFresher(ctx); err != nil {
		s.logger.Warn("quick cycle: freshness check failed", slog.String("error", err.Error()))
		s.notify(Event{Type: EventSyncFailed, Err: err})
		if syncErrors.IsPermissionDenied(err) {
			s.remote.Disable()
		}
	} else if fresh {
		delta, err := s.data.RefreshReservations(ctx)
		if err != nil {
			s.logger.Warn("quick cycle: merge failed", slog.String("error", err.Error()))
			s.notify(Event{Type: EventSyncFailed, Err: err})
		} else {
			s.recordSnapshot()
			if delta.Changed() {
				s.notify(Event{Type: EventDataUpdated, Added: delta.Added, Replaced: delta.Replaced})
			}
		}
	}

	if removed := s.locks.SweepExpired(ctx); removed > 0 {
		s.logger.Debug("quick cycle: swept expired locks", slog.Int("removed", removed))
	}
}

// runFullCycle pushes both local snapshots unconditionally. This is the
// self-healing path: a device whose mirrors kept failing still republishes
// everything within one full interval. Failures are logged and reported,
// never raised.
func (s *System) runFullCycle() {
	s.fullRuns.Add(1)
	if !s.remote.Available() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FullSyncInterval())
	defer cancel()

	if err := s.data.ForceSyncAll(ctx); err != nil {
		s.logger.Warn("full cycle: push failed", slog.String("error", err.Error()))
		s.notify(Event{Type: EventSyncFailed, Err: err})
	}
}

// remoteLooksFresher decides whether a merge is worth running by
// comparing the remote snapshot against what the last cycle saw: a
// differing reservation count, or a later maximum lastModified, means
// new data.
func (s *System) remoteLooksFresher(ctx context.Context) (bool, error) {
	remote, err := s.data.FetchRemoteReservations(ctx)
	if err != nil {
		return false, err
	}

	count := int64(len(remote))
	var maxModified int64
	for _, r := range remote {
		if ts := r.LastModified.UnixMilli(); ts > maxModified {
			maxModified = ts
		}
	}

	return count != s.lastReservationCount.Load() || maxModified > s.lastMaxModified.Load(), nil
}

// recordSnapshot captures the local reservation set's count and maximum
// lastModified, the baseline the next freshness check compares against.
func (s *System) recordSnapshot() {
	reservations, err := s.data.Reservations()
	if err != nil {
		return
	}

	var maxModified int64
	for _, r := range reservations {
		if ts := r.LastModified.UnixMilli(); ts > maxModified {
			maxModified = ts
		}
	}
	s.lastReservationCount.Store(int64(len(reservations)))
	s.lastMaxModified.Store(maxModified)
}
