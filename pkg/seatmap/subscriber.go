package seatmap

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnState is the broadcast connection lifecycle state.
type ConnState int

const (
	// Disconnected means no connection attempt is in flight.
	Disconnected ConnState = iota
	// Connecting means a connection/subscription attempt is in progress.
	Connecting
	// Connected means the subscription is live and delivering events.
	Connected
)

// String names the state for logs.
func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventSource abstracts the transport that carries one trip's broadcast
// channel.  Subscribe establishes a fresh connection and subscription to
// the topic and returns a channel that delivers events in server order
// until the connection drops, at which point the channel is closed.  The
// Redis implementation lives in source_redis.go; tests use in-memory
// fakes.
type EventSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan ChangeEvent, error)
}

// Subscriber maintains a persistent subscription to one trip's topic and
// survives connection drops.  Lifecycle: Disconnected -> Connecting ->
// Connected -> (drop) -> Disconnected -> Connecting after a fixed delay,
// forever.  Subscriptions do not survive a reconnect, so every entry into
// Connected re-subscribes from scratch; there is no message replay across
// the gap (the Store re-fetches a snapshot on the resubscribe signal).
type Subscriber struct {
	src        EventSource
	topic      string
	retryDelay time.Duration
	log        logrus.FieldLogger

	events chan ChangeEvent

	mu          sync.Mutex
	state       ConnState
	onState     func(ConnState)
	onResub     func()
	everConnect bool
}

// NewSubscriber builds a subscriber for one topic.  retryDelay is the
// fixed pause between reconnect attempts; values <= 0 fall back to two
// seconds.
func NewSubscriber(src EventSource, topic string, retryDelay time.Duration, log logrus.FieldLogger) *Subscriber {
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Subscriber{
		src:        src,
		topic:      topic,
		retryDelay: retryDelay,
		log:        log,
		events:     make(chan ChangeEvent, 64),
	}
}

// Events is the merged stream of events across all connections.  It is
// closed when Run returns.
func (s *Subscriber) Events() <-chan ChangeEvent { return s.events }

// State returns the current connection state.  The UI uses it for a
// non-blocking "reconnecting" indicator; the grid stays usable on the
// last known snapshot while disconnected.
func (s *Subscriber) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers a listener invoked on every state transition.
func (s *Subscriber) OnStateChange(fn func(ConnState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnResubscribe registers a listener invoked when the subscription is
// re-established after having been connected before.  The first
// successful connect does not fire it.
func (s *Subscriber) OnResubscribe(fn func()) {
	s.mu.Lock()
	s.onResub = fn
	s.mu.Unlock()
}

func (s *Subscriber) setState(st ConnState) {
	s.mu.Lock()
	s.state = st
	fn := s.onState
	var resub func()
	if st == Connected {
		if s.everConnect {
			resub = s.onResub
		}
		s.everConnect = true
	}
	s.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	if resub != nil {
		resub()
	}
}

// Run drives the connect/consume/reconnect loop until ctx is cancelled.
// Connection errors are logged, never fatal.
func (s *Subscriber) Run(ctx context.Context) {
	defer close(s.events)
	defer s.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(Connecting)
		ch, err := s.src.Subscribe(ctx, s.topic)
		if err != nil {
			s.log.WithError(err).WithField("topic", s.topic).Warn("seatmap: subscribe failed")
			s.setState(Disconnected)
			if !s.sleep(ctx) {
				return
			}
			continue
		}
		s.setState(Connected)

		// Forward until the source closes the channel (drop) or the
		// context ends.
		if !s.forward(ctx, ch) {
			return
		}
		s.log.WithField("topic", s.topic).Info("seatmap: broadcast connection lost, reconnecting")
		s.setState(Disconnected)
		if !s.sleep(ctx) {
			return
		}
	}
}

// forward copies events until ch closes.  Returns false when ctx ended.
func (s *Subscriber) forward(ctx context.Context, ch <-chan ChangeEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return true
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (s *Subscriber) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.retryDelay):
		return true
	}
}
