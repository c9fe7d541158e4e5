package seatmap

import "sync"

// SelectionIntent is the client-local, ephemeral set of seats the current
// user believes they are holding for the in-progress booking flow.  It is
// created when the seat map opens, mutated by toggle actions, and
// discarded on navigation away or successful submission.
//
// In edit mode the intent additionally carries the pre-owned set: seats
// that already belong to the booking being modified.  Those render as the
// editor's own even though the server reports them Booked, and toggling
// them never issues lock/unlock calls.
type SelectionIntent struct {
	mu       sync.Mutex
	selected map[string]struct{}
	preOwned map[string]struct{}
}

// NewIntent creates an empty intent for a fresh booking flow.
func NewIntent() *SelectionIntent {
	return &SelectionIntent{
		selected: make(map[string]struct{}),
		preOwned: make(map[string]struct{}),
	}
}

// NewEditIntent creates an intent for modifying an existing booking.  The
// booking's own seats are pre-owned and start out selected.  The
// exemption is scoped to exactly these seats; being the original booker
// of some other booking grants nothing.
func NewEditIntent(ownedSeats []string) *SelectionIntent {
	in := NewIntent()
	for _, code := range ownedSeats {
		in.selected[code] = struct{}{}
		in.preOwned[code] = struct{}{}
	}
	return in
}

// Add marks a seat as selected.
func (in *SelectionIntent) Add(seatCode string) {
	in.mu.Lock()
	in.selected[seatCode] = struct{}{}
	in.mu.Unlock()
}

// Remove drops a seat from the selection.
func (in *SelectionIntent) Remove(seatCode string) {
	in.mu.Lock()
	delete(in.selected, seatCode)
	in.mu.Unlock()
}

// Has reports whether the seat is currently selected.
func (in *SelectionIntent) Has(seatCode string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.selected[seatCode]
	return ok
}

// PreOwned reports whether the seat belongs to the booking being edited.
func (in *SelectionIntent) PreOwned(seatCode string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.preOwned[seatCode]
	return ok
}

// Seats returns the selected seat codes in unspecified order.
func (in *SelectionIntent) Seats() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]string, 0, len(in.selected))
	for code := range in.selected {
		out = append(out, code)
	}
	return out
}

// Clear empties the selection, keeping the pre-owned set.  Called after a
// successful booking submission.
func (in *SelectionIntent) Clear() {
	in.mu.Lock()
	in.selected = make(map[string]struct{})
	in.mu.Unlock()
}
