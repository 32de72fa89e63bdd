// Package booking defines the typed records shared by every roomsync
// component: reservations, rooms, advisory locks and the structured results
// of conflict checks. Remote payloads are decoded into these records and
// validated at the store-adapter boundary so downstream code never has to
// guess field presence.
package booking

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Reservation is a single booked (or candidate) room slot.
// Its identity for merge purposes is the (room, date, time, subject)
// composite, not a surrogate id.
type Reservation struct {
	Room    string `json:"room" validate:"required"`
	Date    string `json:"date" validate:"required"`
	Time    string `json:"time" validate:"required"`
	Subject string `json:"subject"`
	Teacher string `json:"teacher"`
	Grade   string `json:"grade"`
	Section string `json:"section"`

	UserID       string    `json:"userId,omitempty"`
	LockKey      string    `json:"lockKey,omitempty"`
	ConfirmedAt  time.Time `json:"confirmedAt,omitzero"`
	LastModified time.Time `json:"lastModified,omitzero"`
}

// Key returns the composite identity used to deduplicate reservations
// across stores.
func (r Reservation) Key() string {
	return fmt.Sprintf("%s_%s_%s_%s", r.Room, r.Date, r.Time, r.Subject)
}

// SlotKey returns the (room, date, time) key used for advisory locking.
func (r Reservation) SlotKey() string {
	return fmt.Sprintf("%s_%s_%s", r.Room, r.Date, r.Time)
}

// ClassKey identifies the class group (grade plus section). Empty when
// the reservation carries no class information.
func (r Reservation) ClassKey() string {
	if r.Grade == "" && r.Section == "" {
		return ""
	}
	return r.Grade + r.Section
}

// Room is a versioned room record keyed by ID in the rooms map.
type Room struct {
	ID           string    `json:"id" validate:"required"`
	Name         string    `json:"name,omitempty"`
	Capacity     int       `json:"capacity,omitempty"`
	Equipment    string    `json:"equipment,omitempty"`
	LastModified time.Time `json:"lastModified,omitzero"`
}

// Lock is a short-lived, cooperative claim on a (room, date, time) slot.
// It narrows the race window between check and commit; the store write is
// the real commit point.
type Lock struct {
	Key         string      `json:"key" validate:"required"`
	UserID      string      `json:"userId"`
	Reservation Reservation `json:"reservation"`
	Created     time.Time   `json:"created"`
	Expires     time.Time   `json:"expires"`
}

// Expired reports whether the lock is past its expiry at the given instant.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.Expires)
}

// ConflictType classifies which predicate a conflict matched.
type ConflictType string

const (
	RoomTimeConflict ConflictType = "room_time_conflict"
	TeacherConflict  ConflictType = "teacher_conflict"
	ClassConflict    ConflictType = "class_conflict"
)

// Conflict pairs a matched predicate with the offending existing record.
type Conflict struct {
	Type    ConflictType `json:"type"`
	With    Reservation  `json:"conflictWith"`
	Message string       `json:"message"`
}

// SuggestionType classifies an alternative proposal.
type SuggestionType string

const (
	AlternativeTime SuggestionType = "alternative_time"
	AlternativeRoom SuggestionType = "alternative_room"
)

// Suggestion is a proposed conflict-free alternative. Suggestions are
// advisory only and never auto-applied.
type Suggestion struct {
	Type        SuggestionType `json:"type"`
	Reservation Reservation    `json:"suggestion"`
	Message     string         `json:"message"`
}

// CheckResult is the outcome of a conflict check. A lock held by another
// device sets HasConflict alongside Locked/LockedBy/LockExpires. Warning
// is set when the check could not complete and the system failed open.
type CheckResult struct {
	HasConflict bool         `json:"hasConflict"`
	Conflicts   []Conflict   `json:"conflicts,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`

	Locked      bool      `json:"isLocked,omitempty"`
	LockedBy    string    `json:"lockedBy,omitempty"`
	LockExpires time.Time `json:"lockExpires,omitzero"`

	Warning string `json:"warning,omitempty"`
}

// Available reports whether the slot can be taken: no conflicts and no
// foreign lock.
func (r CheckResult) Available() bool {
	return !r.HasConflict && !r.Locked
}

// SyncStatus is the last-known outcome of a remote round trip, persisted
// locally for diagnostics.
type SyncStatus struct {
	Status    string    `json:"status"` // success, failed, unknown
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

var validate = validator.New()

// Validate checks a decoded record against its struct tags. Records coming
// from the remote tier must pass before they reach the merge engine.
func Validate(v any) error {
	return validate.Struct(v)
}
