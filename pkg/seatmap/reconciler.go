package seatmap

// EffectiveStatus is the seat status actually used for rendering and
// click handling, after merging server truth with local selection intent.
type EffectiveStatus int

const (
	// EffectiveAvailable renders clickable-to-select.
	EffectiveAvailable EffectiveStatus = iota
	// EffectiveSelected renders as "mine", clickable to deselect.
	EffectiveSelected
	// EffectiveLockedByOther renders disabled: another session holds it.
	EffectiveLockedByOther
	// EffectiveBooked renders disabled: permanently taken for this trip.
	EffectiveBooked
)

// String names the effective status for logs and tests.
func (e EffectiveStatus) String() string {
	switch e {
	case EffectiveSelected:
		return "SELECTED"
	case EffectiveLockedByOther:
		return "LOCKED_BY_OTHER"
	case EffectiveBooked:
		return "BOOKED"
	default:
		return "AVAILABLE"
	}
}

// Clickable reports whether a click on the seat should do anything.
func (e EffectiveStatus) Clickable() bool {
	return e == EffectiveAvailable || e == EffectiveSelected
}

// Reconcile derives a seat's effective status from the authoritative
// store status, the local intent, and this session's holder identity.
// Priority order, first match wins:
//
//  1. Seat is in the local intent -> Selected, regardless of the store,
//     EXCEPT when the store says Booked and the seat is not pre-owned by
//     the booking under edit: then server truth wins and the local belief
//     is stale (e.g. the user's own submission already landed, or the
//     lock was stolen and the seat sold).
//  2. Store says Booked -> Booked.
//  3. Store says Locked by a holder other than this session ->
//     LockedByOther.  A lock held by this session but absent from the
//     intent falls through to Available so a half-finished toggle can be
//     retried.
//  4. Otherwise Available.
func Reconcile(store Status, intent *SelectionIntent, seatCode, holderID string) EffectiveStatus {
	if intent != nil && intent.Has(seatCode) {
		if store.Kind == KindBooked && !intent.PreOwned(seatCode) {
			return EffectiveBooked
		}
		return EffectiveSelected
	}
	switch store.Kind {
	case KindBooked:
		// A pre-owned seat stays editable even when deselected mid-edit.
		if intent != nil && intent.PreOwned(seatCode) {
			return EffectiveAvailable
		}
		return EffectiveBooked
	case KindLocked:
		if store.HolderID != holderID {
			return EffectiveLockedByOther
		}
		return EffectiveAvailable
	default:
		return EffectiveAvailable
	}
}
