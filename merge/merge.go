// Package merge reconciles two versions of the same booking collection into
// one. Both functions are pure, deterministic and total: they never fail,
// they are idempotent (merge(X, X) == X), and ties are broken in favor of
// the local side. Repeated bidirectional rounds converge once timestamps
// stop advancing.
package merge

import "github.com/roomsync/roomsync/booking"

// Rooms merges two room maps. Local entries are the base; remote entries
// absent locally are inserted, and colliding entries are resolved by
// lastModified when both sides carry it. Without timestamps the local
// fields win, overlaid on the remote record as fallback.
func Rooms(local, remote map[string]booking.Room) map[string]booking.Room {
	merged := make(map[string]booking.Room, len(local)+len(remote))
	for id, room := range local {
		merged[id] = room
	}

	for id, remoteRoom := range remote {
		localRoom, ok := merged[id]
		if !ok {
			merged[id] = remoteRoom
			continue
		}

		if !remoteRoom.LastModified.IsZero() && !localRoom.LastModified.IsZero() {
			if remoteRoom.LastModified.After(localRoom.LastModified) {
				merged[id] = remoteRoom
			}
			continue
		}

		merged[id] = overlayRoom(localRoom, remoteRoom)
	}

	return merged
}

// overlayRoom fills empty local fields from the remote record. Populated
// local fields always win.
func overlayRoom(local, remote booking.Room) booking.Room {
	out := local
	if out.ID == "" {
		out.ID = remote.ID
	}
	if out.Name == "" {
		out.Name = remote.Name
	}
	if out.Capacity == 0 {
		out.Capacity = remote.Capacity
	}
	if out.Equipment == "" {
		out.Equipment = remote.Equipment
	}
	if out.LastModified.IsZero() {
		out.LastModified = remote.LastModified
	}
	return out
}

// Delta reports what a reservation merge changed relative to the local
// side: entries appended from the remote and entries replaced in place by
// a newer remote version.
type Delta struct {
	Added    int
	Replaced int
}

// Changed reports whether the merge result differs from the local input.
func (d Delta) Changed() bool { return d.Added > 0 || d.Replaced > 0 }

// Reservations merges two reservation lists keyed by composite identity.
// Remote entries absent locally are appended; colliding entries are
// replaced only when the remote lastModified is strictly greater. Result
// order is stable: local entries first in their original order, then new
// remote entries in theirs.
func Reservations(local, remote []booking.Reservation) []booking.Reservation {
	merged, _ := ReservationsDelta(local, remote)
	return merged
}

// ReservationsDelta is Reservations plus a Delta. Callers that persist
// conditionally must use the Delta, not the lengths: an in-place
// replacement changes content without changing the count.
func ReservationsDelta(local, remote []booking.Reservation) ([]booking.Reservation, Delta) {
	merged := make([]booking.Reservation, 0, len(local)+len(remote))
	index := make(map[string]int, len(local))
	var delta Delta

	for _, r := range local {
		index[r.Key()] = len(merged)
		merged = append(merged, r)
	}

	for _, r := range remote {
		i, ok := index[r.Key()]
		if !ok {
			index[r.Key()] = len(merged)
			merged = append(merged, r)
			delta.Added++
			continue
		}

		existing := merged[i]
		if !r.LastModified.IsZero() && !existing.LastModified.IsZero() &&
			r.LastModified.After(existing.LastModified) {
			merged[i] = r
			delta.Replaced++
		}
	}

	return merged, delta
}
