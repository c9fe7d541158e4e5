package seatmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrToggleInFlight means a lock or unlock request for the same seat has
// not completed yet.  The grid stays responsive for every other seat; the
// clicked seat just refuses a second overlapping request.
var ErrToggleInFlight = errors.New("request for this seat is still in flight")

// TripSession ties together the store, the broadcast subscription, the
// selection intent and the HTTP client for one open seat-map view.  It is
// constructed at the view boundary, owns the live subscription for its
// lifetime, and must be closed on navigation away.  There is deliberately
// no ambient global: one session per mounted trip view.
type TripSession struct {
	TripID uint64

	client *Client
	store  *Store
	sub    *Subscriber
	intent *SelectionIntent
	log    logrus.FieldLogger

	mu       sync.Mutex
	inFlight map[string]struct{} // seats with a pending lock/unlock request
}

// SessionOptions tunes session construction.
type SessionOptions struct {
	// RetryDelay is the fixed broadcast reconnect delay.  Zero uses the
	// subscriber default.
	RetryDelay time.Duration
	// EditOwnedSeats, when non-empty, opens the session in edit mode for
	// an existing booking that owns these seats.
	EditOwnedSeats []string
	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// NewTripSession wires a session for one trip over the given transport.
func NewTripSession(client *Client, source EventSource, tripID uint64, opts SessionOptions) *TripSession {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	sub := NewSubscriber(source, Topic(tripID), opts.RetryDelay, log)
	store := NewStore(tripID, client, sub, log)

	intent := NewIntent()
	if len(opts.EditOwnedSeats) > 0 {
		intent = NewEditIntent(opts.EditOwnedSeats)
	}
	return &TripSession{
		TripID:   tripID,
		client:   client,
		store:    store,
		sub:      sub,
		intent:   intent,
		log:      log,
		inFlight: make(map[string]struct{}),
	}
}

// Open fetches the snapshot and starts the live subscription.  On error
// the session is unusable and the grid must render non-interactive.
func (s *TripSession) Open(ctx context.Context) error {
	return s.store.Initialize(ctx)
}

// Store exposes the live status map, e.g. for OnChange re-render hooks.
func (s *TripSession) Store() *Store { return s.store }

// Intent exposes the local selection.
func (s *TripSession) Intent() *SelectionIntent { return s.intent }

// ConnState reports the broadcast connection state for the reconnecting
// indicator.
func (s *TripSession) ConnState() ConnState { return s.sub.State() }

// EffectiveStatus computes the render/interaction status of one seat.
func (s *TripSession) EffectiveStatus(seatCode string) EffectiveStatus {
	return Reconcile(s.store.StatusOf(seatCode), s.intent, seatCode, s.client.HolderID)
}

// Toggle handles a click on a seat.
//
// Available seats: a lock request is issued and the seat joins the intent
// only on the explicit success response — never optimistically, because a
// conflict is a normal outcome of racing another session.  The broadcast
// echo then lands in the store on its own.
//
// Selected seats: the seat leaves the intent; newly acquired seats are
// unlocked, pre-owned seats of a booking under edit are not (they hold no
// lock).  Booked and LockedByOther seats: no-op.
//
// The returned EffectiveStatus is the seat's state after the toggle.
func (s *TripSession) Toggle(ctx context.Context, seatCode string) (EffectiveStatus, error) {
	if !s.store.Ready() {
		return EffectiveAvailable, errors.New("seat map is not initialized")
	}
	if !s.begin(seatCode) {
		return s.EffectiveStatus(seatCode), ErrToggleInFlight
	}
	defer s.end(seatCode)

	switch s.EffectiveStatus(seatCode) {
	case EffectiveAvailable:
		if s.intent.PreOwned(seatCode) {
			// Re-selecting a seat of the booking under edit: it is backed
			// by the booking row, not a lock, so no lock call is made.
			s.intent.Add(seatCode)
			return EffectiveSelected, nil
		}
		if _, err := s.client.Lock(ctx, s.TripID, seatCode); err != nil {
			if errors.Is(err, ErrSeatConflict) {
				// Expected race; the next broadcast event corrects the
				// grid.  Not retried.
				return s.EffectiveStatus(seatCode), err
			}
			return s.EffectiveStatus(seatCode), fmt.Errorf("lock seat %s: %w", seatCode, err)
		}
		s.intent.Add(seatCode)
		return EffectiveSelected, nil

	case EffectiveSelected:
		s.intent.Remove(seatCode)
		if s.intent.PreOwned(seatCode) {
			return s.EffectiveStatus(seatCode), nil
		}
		if err := s.client.Unlock(ctx, s.TripID, seatCode); err != nil {
			// The seat already left the intent; the lock will lapse on
			// the server timeout even if this release never lands.
			s.log.WithError(err).WithField("seat", seatCode).Warn("seatmap: unlock failed, lock left to expire")
		}
		return s.EffectiveStatus(seatCode), nil

	default:
		// Booked or locked by another session: clicking does nothing.
		return s.EffectiveStatus(seatCode), nil
	}
}

// Finalize submits the current selection as a booking.  Every ticket must
// reference a selected seat.  On success the intent is cleared and the
// PENDING booking with its payment window is returned; the BOOKED echoes
// arrive over the broadcast channel and overwrite any remaining local
// state.  ErrSeatNotHeld means a lock lapsed before submission: the whole
// request failed atomically and the user goes back to seat selection.
func (s *TripSession) Finalize(ctx context.Context, contact Contact, tickets []TicketRequest) (*Booking, error) {
	if len(tickets) == 0 {
		return nil, errors.New("no seats selected")
	}
	for _, t := range tickets {
		if !s.intent.Has(t.SeatCode) {
			return nil, fmt.Errorf("ticket for seat %s which is not selected", t.SeatCode)
		}
	}
	booking, err := s.client.CreateBooking(ctx, s.TripID, contact, tickets)
	if err != nil {
		return nil, err
	}
	s.intent.Clear()
	return booking, nil
}

// Close tears down the subscription and discards local state.  Held locks
// are deliberately NOT released: server-side expiry is the sole mechanism
// governing lock lifetime, and the user may be continuing into the
// passenger-info step in another view.
func (s *TripSession) Close() {
	s.store.Teardown()
}

func (s *TripSession) begin(seatCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[seatCode]; busy {
		return false
	}
	s.inFlight[seatCode] = struct{}{}
	return true
}

func (s *TripSession) end(seatCode string) {
	s.mu.Lock()
	delete(s.inFlight, seatCode)
	s.mu.Unlock()
}
