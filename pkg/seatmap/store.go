package seatmap

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// SnapshotSource fetches the authoritative point-in-time seat status map
// for a trip.  The HTTP Client implements it; tests substitute fixtures.
type SnapshotSource interface {
	SeatSnapshot(ctx context.Context, tripID uint64) (map[string]string, error)
}

// Store is the single source of truth, per open trip, for what every
// seat's current status is from this client's point of view.  It is seeded
// by a full snapshot and then kept live by applying broadcast change
// events as per-seat deltas.
//
// Seats absent from the map are Available; the map only holds Locked and
// Booked entries.  All transitions come from the server: the store never
// promotes a seat to Booked on its own and never expires a lock locally.
type Store struct {
	tripID uint64
	snap   SnapshotSource
	sub    *Subscriber // nil when running without a live feed
	log    logrus.FieldLogger

	mu    sync.RWMutex
	seats map[string]Status
	ready bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onChange, when set, is invoked after every applied event with the
	// event that changed the map.  The render layer hangs re-draws off it.
	onChange func(ChangeEvent)
}

// NewStore builds a store for one trip.  sub may be nil, in which case the
// store only reflects the snapshot plus events applied explicitly via
// ApplyEvent.
func NewStore(tripID uint64, snap SnapshotSource, sub *Subscriber, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		tripID: tripID,
		snap:   snap,
		sub:    sub,
		log:    log,
		seats:  make(map[string]Status),
	}
}

// OnChange registers a callback fired after each applied event.  Must be
// called before Initialize.
func (s *Store) OnChange(fn func(ChangeEvent)) { s.onChange = fn }

// Initialize fetches a full snapshot, replacing any existing map, and then
// starts consuming the broadcast subscription.  After it returns nil the
// map reflects a consistent point-in-time snapshot and subsequent events
// land on top of it.  On snapshot failure the store stays not Ready and
// the seat grid must render as unavailable-for-interaction; no partial or
// empty map is ever presented as authoritative.
func (s *Store) Initialize(ctx context.Context) error {
	seats, err := s.fetchSnapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seats = seats
	s.ready = true
	s.mu.Unlock()

	if s.sub != nil {
		runCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		// A transition back into Connected means the subscription was
		// re-established after a drop.  There is no replay across the
		// gap, so the snapshot is re-fetched to cover missed events.
		s.sub.OnResubscribe(func() {
			if err := s.Refresh(runCtx); err != nil {
				s.log.WithError(err).Warn("seatmap: snapshot refresh after reconnect failed")
			}
		})

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.sub.Run(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			for ev := range s.sub.Events() {
				if err := s.ApplyEvent(ev); err != nil {
					s.log.WithError(err).WithField("seat", ev.SeatCode).Warn("seatmap: dropped broadcast event")
				}
			}
		}()
	}
	return nil
}

// Refresh re-fetches the snapshot and swaps it in.  Used after reconnect
// gaps; safe to call concurrently with event application.
func (s *Store) Refresh(ctx context.Context) error {
	seats, err := s.fetchSnapshot(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.seats = seats
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Store) fetchSnapshot(ctx context.Context) (map[string]Status, error) {
	raw, err := s.snap.SeatSnapshot(ctx, s.tripID)
	if err != nil {
		return nil, fmt.Errorf("seat snapshot for trip %d: %w", s.tripID, err)
	}
	seats := make(map[string]Status, len(raw))
	for code, ws := range raw {
		st, err := ParseStatus(ws)
		if err != nil {
			// A malformed entry poisons the whole snapshot; a partially
			// decoded map must not pass as authoritative.
			return nil, fmt.Errorf("seat snapshot for trip %d, seat %s: %w", s.tripID, code, err)
		}
		if st.Kind != KindAvailable {
			seats[code] = st
		}
	}
	return seats, nil
}

// ApplyEvent applies one broadcast event to the map.  AVAILABLE deletes
// the seat's entry, LOCKED and BOOKED overwrite it.  Application is
// idempotent: replaying the same event is a no-op on the resulting map.
// Ordering matters only per seat, which matches the server's per-seat
// delivery guarantee.
func (s *Store) ApplyEvent(ev ChangeEvent) error {
	st, err := ev.ParsedStatus()
	if err != nil {
		return err
	}
	s.mu.Lock()
	if st.Kind == KindAvailable {
		delete(s.seats, ev.SeatCode)
	} else {
		s.seats[ev.SeatCode] = st
	}
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(ev)
	}
	return nil
}

// StatusOf returns the current status of one seat.  Seats without an
// entry are Available.
func (s *Store) StatusOf(seatCode string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.seats[seatCode]; ok {
		return st
	}
	return Available()
}

// Seats returns a copy of the non-Available entries.
func (s *Store) Seats() map[string]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Status, len(s.seats))
	for k, v := range s.seats {
		out[k] = v
	}
	return out
}

// Ready reports whether a snapshot has been loaded.  A grid rendered from
// a not-ready store must be non-interactive.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Teardown stops the subscription and clears the map.  It must be called
// when the user navigates away from the seat map so no live connection
// leaks per mounted trip view.  Held locks are NOT released here; they
// lapse on the server's own timeout.
func (s *Store) Teardown() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
		s.cancel = nil
	}
	s.mu.Lock()
	s.seats = make(map[string]Status)
	s.ready = false
	s.mu.Unlock()
}
