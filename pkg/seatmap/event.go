package seatmap

import (
	"encoding/json"
	"fmt"
)

// Topic returns the broadcast channel name carrying seat status change
// events for one trip.  Every client viewing the trip subscribes to this
// topic; the server publishes one event per applied state transition, in
// the order it applied them.
func Topic(tripID uint64) string {
	return fmt.Sprintf("trip:%d:seats", tripID)
}

// ChangeEvent is the broadcast payload for a single seat state transition.
// Status carries the bare kind token; LockedBy is present only for LOCKED
// events.  The payload deliberately mirrors the snapshot encoding so both
// decode through ParseStatus-compatible logic.
type ChangeEvent struct {
	SeatCode string `json:"seat_code"`
	Status   string `json:"status"`              // "AVAILABLE" | "LOCKED" | "BOOKED"
	LockedBy string `json:"locked_by,omitempty"` // holder session, LOCKED only
}

// NewChangeEvent builds the broadcast payload for a parsed status.
func NewChangeEvent(seatCode string, st Status) ChangeEvent {
	return ChangeEvent{
		SeatCode: seatCode,
		Status:   st.Kind.String(),
		LockedBy: st.HolderID,
	}
}

// ParsedStatus converts the event's string fields back into a tagged
// Status.  Unknown status tokens yield ErrBadStatus so that a garbled
// message is dropped instead of corrupting the local map.
func (e ChangeEvent) ParsedStatus() (Status, error) {
	switch e.Status {
	case "AVAILABLE":
		return Available(), nil
	case "BOOKED":
		return Booked(), nil
	case "LOCKED":
		if e.LockedBy == "" {
			return Status{}, fmt.Errorf("%w: LOCKED event without holder for seat %s", ErrBadStatus, e.SeatCode)
		}
		return LockedBy(e.LockedBy), nil
	default:
		return Status{}, fmt.Errorf("%w: %q", ErrBadStatus, e.Status)
	}
}

// DecodeChangeEvent unmarshals a broadcast message body.
func DecodeChangeEvent(body []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode seat event: %w", err)
	}
	return ev, nil
}

// Encode marshals the event for publishing.
func (e ChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
