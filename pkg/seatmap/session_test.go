package seatmap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryHub is an in-process broadcast fan-out standing in for the Redis
// pub/sub channel.
type memoryHub struct {
	mu   sync.Mutex
	subs []chan ChangeEvent
}

func (h *memoryHub) Subscribe(ctx context.Context, topic string) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 64)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch, nil
}

func (h *memoryHub) broadcast(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		ch <- ev
	}
}

// fakeAuthority is a minimal in-memory seat authority: one trip, a seat
// status table guarded by a mutex, and lock/unlock/booking endpoints with
// the same success and conflict semantics as the real service.
type fakeAuthority struct {
	hub *memoryHub

	mu     sync.Mutex
	seats  map[string]Status
	nextID uint64

	// lockGate, when set, stalls lock responses until the test releases
	// it; lockEntered signals that a stalled request arrived.  Used to
	// hold a request in flight deliberately.
	lockGate    chan struct{}
	lockEntered chan struct{}
}

func newFakeAuthority(seed map[string]Status) *fakeAuthority {
	seats := make(map[string]Status, len(seed))
	for k, v := range seed {
		seats[k] = v
	}
	return &fakeAuthority{hub: &memoryHub{}, seats: seats, nextID: 100}
}

func (a *fakeAuthority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	holder := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 4 && parts[1] == "trips" && parts[3] == "seats" && r.Method == http.MethodGet:
		a.snapshot(w)
	case len(parts) == 6 && parts[3] == "seats" && parts[5] == "lock":
		a.lock(w, parts[4], holder)
	case len(parts) == 6 && parts[3] == "seats" && parts[5] == "unlock":
		a.unlock(w, parts[4], holder)
	case len(parts) == 2 && parts[1] == "bookings" && r.Method == http.MethodPost:
		a.createBooking(w, r, holder)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such route"})
	}
}

func (a *fakeAuthority) snapshot(w http.ResponseWriter) {
	a.mu.Lock()
	seats := make(map[string]string, len(a.seats))
	for code, st := range a.seats {
		seats[code] = st.Wire()
	}
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"seats": seats})
}

func (a *fakeAuthority) lock(w http.ResponseWriter, seatCode, holder string) {
	if a.lockGate != nil {
		a.lockEntered <- struct{}{}
		<-a.lockGate
	}
	a.mu.Lock()
	if _, taken := a.seats[seatCode]; taken {
		a.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "seat is locked or booked"})
		return
	}
	a.seats[seatCode] = LockedBy(holder)
	a.mu.Unlock()

	a.hub.broadcast(NewChangeEvent(seatCode, LockedBy(holder)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"seat_code":  seatCode,
		"expires_at": time.Now().Add(5 * time.Minute).Format(time.RFC3339),
	})
}

func (a *fakeAuthority) unlock(w http.ResponseWriter, seatCode, holder string) {
	a.mu.Lock()
	st, ok := a.seats[seatCode]
	if !ok || !st.IsLockedBy(holder) {
		a.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]bool{"released": false})
		return
	}
	delete(a.seats, seatCode)
	a.mu.Unlock()

	a.hub.broadcast(NewChangeEvent(seatCode, Available()))
	writeJSON(w, http.StatusOK, map[string]bool{"released": true})
}

func (a *fakeAuthority) createBooking(w http.ResponseWriter, r *http.Request, holder string) {
	var req struct {
		TripID  uint64          `json:"trip_id"`
		Contact                 // contact_name / contact_phone
		Tickets []TicketRequest `json:"tickets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	a.mu.Lock()
	for _, t := range req.Tickets {
		if st, ok := a.seats[t.SeatCode]; !ok || !st.IsLockedBy(holder) {
			a.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": fmt.Sprintf("lock on seat %s expired or lost", t.SeatCode),
				"code":  "SEAT_NOT_HELD",
			})
			return
		}
	}
	var total uint32
	tickets := make([]Ticket, 0, len(req.Tickets))
	for _, t := range req.Tickets {
		a.seats[t.SeatCode] = Booked()
		total += t.PriceCents
		tickets = append(tickets, Ticket(t))
	}
	a.nextID++
	id := a.nextID
	a.mu.Unlock()

	for _, t := range req.Tickets {
		a.hub.broadcast(NewChangeEvent(t.SeatCode, Booked()))
	}
	writeJSON(w, http.StatusCreated, Booking{
		ID:              id,
		Code:            "bk-" + strconv.FormatUint(id, 10),
		TripID:          req.TripID,
		Status:          "PENDING",
		ContactName:     req.Contact.Name,
		ContactPhone:    req.Contact.Phone,
		TotalPriceCents: total,
		ExpiresAt:       time.Now().Add(15 * time.Minute).Format(time.RFC3339),
		Tickets:         tickets,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func openSession(t *testing.T, srv *httptest.Server, auth *fakeAuthority, holder string) *TripSession {
	t.Helper()
	client := NewClient(srv.URL, holder, holder)
	sess := NewTripSession(client, auth.hub, 42, SessionOptions{RetryDelay: 5 * time.Millisecond})
	require.NoError(t, sess.Open(context.Background()))
	t.Cleanup(sess.Close)
	return sess
}

func TestTripSessionSeatSelectionFlow(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(map[string]Status{
		"A2": LockedBy("user-2"),
		"A3": Booked(),
	})
	srv := httptest.NewServer(auth)
	defer srv.Close()

	sess := openSession(t, srv, auth, "user-1")

	// Initial render straight off the snapshot.
	assert.Equal(t, EffectiveAvailable, sess.EffectiveStatus("A1"))
	assert.Equal(t, EffectiveLockedByOther, sess.EffectiveStatus("A2"))
	assert.Equal(t, EffectiveBooked, sess.EffectiveStatus("A3"))

	// Selecting an available seat acquires the lock.
	st, err := sess.Toggle(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, EffectiveSelected, st)
	assert.True(t, sess.Intent().Has("A1"))

	// The broadcast echo of our own lock lands in the store and the seat
	// still renders Selected, not LockedByOther.
	waitFor(t, func() bool { return sess.Store().StatusOf("A1").IsLockedBy("user-1") }, "lock echo never arrived")
	assert.Equal(t, EffectiveSelected, sess.EffectiveStatus("A1"))

	// Clicking a foreign lock or a booked seat does nothing.
	st, err = sess.Toggle(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, EffectiveLockedByOther, st)
	st, err = sess.Toggle(ctx, "A3")
	require.NoError(t, err)
	assert.Equal(t, EffectiveBooked, st)

	// Submitting turns the selection into a PENDING booking.
	booking, err := sess.Finalize(ctx, Contact{Name: "Dana", Phone: "070-1234567"}, []TicketRequest{
		{SeatCode: "A1", PassengerName: "Dana", PriceCents: 4500},
	})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", booking.Status)
	assert.Equal(t, uint32(4500), booking.TotalPriceCents)
	assert.NotEmpty(t, booking.ExpiresAt)
	assert.Empty(t, sess.Intent().Seats(), "intent clears on successful submission")

	// The BOOKED echo makes the seat terminal for everyone, including us.
	waitFor(t, func() bool { return sess.Store().StatusOf("A1") == Booked() }, "booked echo never arrived")
	assert.Equal(t, EffectiveBooked, sess.EffectiveStatus("A1"))
}

func TestTripSessionDeselectReleasesLock(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(nil)
	srv := httptest.NewServer(auth)
	defer srv.Close()

	sess := openSession(t, srv, auth, "user-1")

	_, err := sess.Toggle(ctx, "B1")
	require.NoError(t, err)
	waitFor(t, func() bool { return sess.Store().StatusOf("B1").IsLockedBy("user-1") }, "lock echo never arrived")

	st, err := sess.Toggle(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, EffectiveAvailable, st)
	assert.False(t, sess.Intent().Has("B1"))

	waitFor(t, func() bool { return sess.Store().StatusOf("B1") == Available() }, "release echo never arrived")
	auth.mu.Lock()
	_, held := auth.seats["B1"]
	auth.mu.Unlock()
	assert.False(t, held, "server should have released the lock")
}

func TestTripSessionAtMostOneHolder(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(nil)
	srv := httptest.NewServer(auth)
	defer srv.Close()

	const contenders = 8
	sessions := make([]*TripSession, contenders)
	for i := range sessions {
		sessions[i] = openSession(t, srv, auth, fmt.Sprintf("user-%d", i))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []int
	)
	start := make(chan struct{})
	for i, sess := range sessions {
		wg.Add(1)
		go func(i int, sess *TripSession) {
			defer wg.Done()
			<-start
			if st, err := sess.Toggle(ctx, "C1"); err == nil && st == EffectiveSelected {
				mu.Lock()
				wins = append(wins, i)
				mu.Unlock()
			}
		}(i, sess)
	}
	close(start)
	wg.Wait()

	require.Len(t, wins, 1, "exactly one session may win the seat")
	winner := wins[0]
	auth.mu.Lock()
	st := auth.seats["C1"]
	auth.mu.Unlock()
	assert.True(t, st.IsLockedBy(fmt.Sprintf("user-%d", winner)))

	// Every loser converges on LockedByOther once the echo propagates.
	for i, sess := range sessions {
		if i == winner {
			continue
		}
		sess := sess
		waitFor(t, func() bool { return sess.EffectiveStatus("C1") == EffectiveLockedByOther },
			fmt.Sprintf("session %d never observed the winner's lock", i))
	}
}

func TestTripSessionLockConflict(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(nil)
	srv := httptest.NewServer(auth)
	defer srv.Close()

	one := openSession(t, srv, auth, "user-1")

	// The second session listens on a hub of its own that the authority
	// never publishes to, so the lock echo cannot reach its store: the
	// seat keeps rendering Available locally and the click goes through
	// to the server.
	clientTwo := NewClient(srv.URL, "user-2", "user-2")
	two := NewTripSession(clientTwo, &memoryHub{}, 42, SessionOptions{RetryDelay: 5 * time.Millisecond})
	require.NoError(t, two.Open(ctx))
	t.Cleanup(two.Close)

	_, err := one.Toggle(ctx, "D4")
	require.NoError(t, err)

	require.Equal(t, EffectiveAvailable, two.EffectiveStatus("D4"), "no echo may have reached the second session")
	_, err = two.Toggle(ctx, "D4")
	require.ErrorIs(t, err, ErrSeatConflict)
	assert.False(t, two.Intent().Has("D4"), "conflict must not be treated as a win")
}

func TestTripSessionToggleInFlightGuard(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(nil)
	auth.lockGate = make(chan struct{})
	auth.lockEntered = make(chan struct{}, 1)
	srv := httptest.NewServer(auth)
	defer srv.Close()

	sess := openSession(t, srv, auth, "user-1")

	done := make(chan error, 1)
	go func() {
		_, err := sess.Toggle(ctx, "E1")
		done <- err
	}()
	<-auth.lockEntered

	// A second click on the same seat while the first request is stalled
	// is rejected without another round trip.
	_, err := sess.Toggle(ctx, "E1")
	require.ErrorIs(t, err, ErrToggleInFlight)

	close(auth.lockGate)
	require.NoError(t, <-done)
	assert.True(t, sess.Intent().Has("E1"))
}

func TestTripSessionFinalize(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects tickets for unselected seats", func(t *testing.T) {
		auth := newFakeAuthority(nil)
		srv := httptest.NewServer(auth)
		defer srv.Close()
		sess := openSession(t, srv, auth, "user-1")

		_, err := sess.Finalize(ctx, Contact{Name: "Dana"}, []TicketRequest{{SeatCode: "A1"}})
		require.Error(t, err)
		_, err = sess.Finalize(ctx, Contact{Name: "Dana"}, nil)
		require.Error(t, err)
	})

	t.Run("lost lock fails the whole submission", func(t *testing.T) {
		auth := newFakeAuthority(nil)
		srv := httptest.NewServer(auth)
		defer srv.Close()
		sess := openSession(t, srv, auth, "user-1")

		_, err := sess.Toggle(ctx, "A1")
		require.NoError(t, err)

		// The lock lapses server-side before submission.
		auth.mu.Lock()
		delete(auth.seats, "A1")
		auth.mu.Unlock()

		_, err = sess.Finalize(ctx, Contact{Name: "Dana"}, []TicketRequest{{SeatCode: "A1", PriceCents: 100}})
		require.ErrorIs(t, err, ErrSeatNotHeld)
		assert.True(t, sess.Intent().Has("A1"), "selection survives a failed submission")
	})
}

func TestTripSessionEditMode(t *testing.T) {
	ctx := context.Background()
	auth := newFakeAuthority(map[string]Status{
		"A3": Booked(),
		"A4": Booked(),
	})
	srv := httptest.NewServer(auth)
	defer srv.Close()

	client := NewClient(srv.URL, "user-1", "user-1")
	sess := NewTripSession(client, auth.hub, 42, SessionOptions{
		RetryDelay:     5 * time.Millisecond,
		EditOwnedSeats: []string{"A3", "A4"},
	})
	require.NoError(t, sess.Open(ctx))
	defer sess.Close()

	assert.Equal(t, EffectiveSelected, sess.EffectiveStatus("A3"))

	// Deselecting a pre-owned seat issues no unlock call: there is no lock
	// behind it, only the booking row.
	st, err := sess.Toggle(ctx, "A3")
	require.NoError(t, err)
	assert.Equal(t, EffectiveAvailable, st)
	auth.mu.Lock()
	stillBooked := auth.seats["A3"] == Booked()
	auth.mu.Unlock()
	assert.True(t, stillBooked, "pre-owned seat must stay booked on the server during the edit")

	// And it can be re-selected without a lock request.
	st, err = sess.Toggle(ctx, "A3")
	require.NoError(t, err)
	assert.Equal(t, EffectiveSelected, st)
}
