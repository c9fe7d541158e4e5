// Package seatmap is the client SDK for the real-time seat-reservation
// protocol.  It maintains a live per-trip view of seat availability from a
// server snapshot plus a broadcast stream of change events, reconciles that
// view with the local user's own pending selections, and drives the seat
// lock/unlock and booking calls against the HTTP API.
//
// The wire contract shared with the server also lives here: the seat status
// encoding and the per-trip broadcast topic/payload.  Server-side packages
// import these types so that both ends of the channel agree on exactly one
// representation.
package seatmap

import (
	"errors"
	"fmt"
	"strings"
)

// StatusKind enumerates the three states a seat can be in for a trip.
// Available is the default absence of any lock or booking record.
type StatusKind uint8

const (
	// KindAvailable means no holder and no booking exist for the seat.
	KindAvailable StatusKind = iota
	// KindLocked means exactly one session holds a temporary,
	// server-expiring lock on the seat.
	KindLocked
	// KindBooked means the seat belongs to a booking and is terminal for
	// the lifetime of the trip.
	KindBooked
)

// String returns the bare wire token for the kind ("AVAILABLE", "LOCKED",
// "BOOKED").  Locked statuses on the wire additionally carry the holder,
// see Status.Wire.
func (k StatusKind) String() string {
	switch k {
	case KindLocked:
		return "LOCKED"
	case KindBooked:
		return "BOOKED"
	default:
		return "AVAILABLE"
	}
}

// Status is the parsed, tagged form of a seat's state.  The raw
// "LOCKED:<holder>" strings exchanged with the server are decoded into a
// Status exactly once at the boundary; internal logic never inspects the
// string form.
type Status struct {
	Kind     StatusKind // which of the three states applies
	HolderID string     // session holding the lock; set only when Kind == KindLocked
}

// Convenience constructors for the three states.
func Available() Status              { return Status{Kind: KindAvailable} }
func Booked() Status                 { return Status{Kind: KindBooked} }
func LockedBy(holderID string) Status { return Status{Kind: KindLocked, HolderID: holderID} }

// ErrBadStatus is returned by ParseStatus for strings that are not one of
// "AVAILABLE", "BOOKED" or "LOCKED:<holder>".
var ErrBadStatus = errors.New("malformed seat status")

// ParseStatus decodes a wire status string into a Status.  A LOCKED status
// must carry a non-empty holder after the colon; a bare "LOCKED" is
// rejected because a lock without an owner is meaningless to the
// reconciler.
func ParseStatus(s string) (Status, error) {
	switch {
	case s == "AVAILABLE":
		return Available(), nil
	case s == "BOOKED":
		return Booked(), nil
	case strings.HasPrefix(s, "LOCKED:"):
		holder := strings.TrimPrefix(s, "LOCKED:")
		if holder == "" {
			return Status{}, fmt.Errorf("%w: %q", ErrBadStatus, s)
		}
		return LockedBy(holder), nil
	default:
		return Status{}, fmt.Errorf("%w: %q", ErrBadStatus, s)
	}
}

// Wire encodes the status back into its string form.  Inverse of
// ParseStatus for every valid Status.
func (s Status) Wire() string {
	if s.Kind == KindLocked {
		return "LOCKED:" + s.HolderID
	}
	return s.Kind.String()
}

// IsLockedBy reports whether the seat is locked and the lock belongs to the
// given holder.
func (s Status) IsLockedBy(holderID string) bool {
	return s.Kind == KindLocked && s.HolderID == holderID
}
