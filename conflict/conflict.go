// Package conflict implements reservation conflict detection and the
// alternative-slot suggestion engine. A candidate reservation conflicts
// with an existing one when they share a date, their time ranges overlap,
// and they collide on room, teacher or class. The three predicates are
// independent: one overlapping pair can produce up to three conflicts.
//
// Checks fail open: when neither storage tier can produce the reservation
// set, the check reports no conflict with a warning rather than blocking
// the booking. Availability wins over consistency here, the same
// trade-off the merge engine makes.
package conflict

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roomsync/roomsync/booking"
	"github.com/roomsync/roomsync/data"
	"github.com/roomsync/roomsync/lock"
	"github.com/roomsync/roomsync/logging"
	"github.com/roomsync/roomsync/timerange"
)

// Detector checks candidate reservations against the best available
// reservation set and active locks.
type Detector struct {
	data   *data.Manager
	locks  *lock.Manager
	logger *logging.Logger

	slots         []string
	rooms         []string
	suggestionCap int
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// WithSuggestionCap bounds how many alternatives a check returns.
func WithSuggestionCap(n int) Option {
	return func(d *Detector) { d.suggestionCap = n }
}

// NewDetector creates a Detector over the given slot and room catalog.
func NewDetector(dataMgr *data.Manager, locks *lock.Manager, slots, rooms []string, opts ...Option) *Detector {
	d := &Detector{
		data:          dataMgr,
		locks:         locks,
		logger:        logging.Default().WithComponent("conflict-detector"),
		slots:         slots,
		rooms:         rooms,
		suggestionCap: 5,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FindConflicts evaluates the candidate against every existing
// reservation. A record identical to the candidate still conflicts: a
// repeat booking of a confirmed slot must be rejected, not deduplicated.
func (d *Detector) FindConflicts(candidate booking.Reservation, existing []booking.Reservation) []booking.Conflict {
	var conflicts []booking.Conflict
	for _, other := range existing {
		if other.Date != candidate.Date {
			continue
		}
		if !timerange.Overlaps(candidate.Time, other.Time) {
			continue
		}

		if other.Room == candidate.Room {
			conflicts = append(conflicts, booking.Conflict{
				Type: booking.RoomTimeConflict,
				With: other,
				Message: fmt.Sprintf("room %s is already booked %s on %s (%s, %s)",
					other.Room, other.Time, other.Date, other.Subject, other.Teacher),
			})
		}
		if other.Teacher != "" && other.Teacher == candidate.Teacher {
			conflicts = append(conflicts, booking.Conflict{
				Type: booking.TeacherConflict,
				With: other,
				Message: fmt.Sprintf("teacher %s already teaches in %s at %s on %s",
					other.Teacher, other.Room, other.Time, other.Date),
			})
		}
		if other.ClassKey() != "" && other.ClassKey() == candidate.ClassKey() {
			conflicts = append(conflicts, booking.Conflict{
				Type: booking.ClassConflict,
				With: other,
				Message: fmt.Sprintf("class %s is already scheduled in %s at %s on %s",
					other.ClassKey(), other.Room, other.Time, other.Date),
			})
		}
	}
	return conflicts
}

// GenerateAlternatives proposes conflict-free variations of the
// candidate: first other time slots in the same room, then other rooms in
// the same slot. The list is capped and purely advisory.
func (d *Detector) GenerateAlternatives(candidate booking.Reservation, existing []booking.Reservation) []booking.Suggestion {
	var suggestions []booking.Suggestion

	for _, slot := range d.slots {
		if len(suggestions) >= d.suggestionCap {
			return suggestions
		}
		if slot == candidate.Time {
			continue
		}
		alt := candidate
		alt.Time = slot
		if len(d.FindConflicts(alt, existing)) == 0 {
			suggestions = append(suggestions, booking.Suggestion{
				Type:        booking.AlternativeTime,
				Reservation: alt,
				Message:     fmt.Sprintf("%s is free in %s", slot, candidate.Room),
			})
		}
	}

	for _, room := range d.rooms {
		if len(suggestions) >= d.suggestionCap {
			return suggestions
		}
		if room == candidate.Room {
			continue
		}
		alt := candidate
		alt.Room = room
		if len(d.FindConflicts(alt, existing)) == 0 {
			suggestions = append(suggestions, booking.Suggestion{
				Type:        booking.AlternativeRoom,
				Reservation: alt,
				Message:     fmt.Sprintf("%s is free at %s", room, candidate.Time),
			})
		}
	}
	return suggestions
}

// Check runs the full availability check for userID's candidate: data
// conflicts against the best available reservation set, then the
// advisory lock on the slot. A data conflict returns immediately without
// consulting locks; a foreign unexpired lock is itself a conflict. When
// the reservation set cannot be read at all the check fails open with a
// warning.
func (d *Detector) Check(ctx context.Context, candidate booking.Reservation, userID string) booking.CheckResult {
	if err := booking.Validate(candidate); err != nil {
		return booking.CheckResult{
			HasConflict: true,
			Warning:     fmt.Sprintf("invalid reservation: %v", err),
		}
	}

	existing, err := d.data.BestAvailableReservations(ctx)
	if err != nil {
		d.logger.Warn("conflict check degraded, no reservation data readable",
			slog.String("slot", candidate.SlotKey()), slog.String("error", err.Error()))
		return booking.CheckResult{Warning: "conflict check incomplete: reservation data unavailable"}
	}

	if conflicts := d.FindConflicts(candidate, existing); len(conflicts) > 0 {
		return booking.CheckResult{
			HasConflict: true,
			Conflicts:   conflicts,
			Suggestions: d.GenerateAlternatives(candidate, existing),
		}
	}

	if held, ok := d.locks.Get(candidate.SlotKey()); ok && held.UserID != userID {
		return booking.CheckResult{
			HasConflict: true,
			Locked:      true,
			LockedBy:    held.UserID,
			LockExpires: held.Expires,
		}
	}
	return booking.CheckResult{}
}
