// Package broadcast publishes seat status change events on the per-trip
// Redis pub/sub channels that every open seat-map view subscribes to.
// Lock lifecycle transitions are published by the lock manager itself,
// atomically with the Redis state change; this publisher carries the
// MySQL-backed transitions (BOOKED on booking creation, AVAILABLE on
// cancel and refund), published after the transaction commits.  That
// publish is not atomic with the commit, so a seat freed by a cancel and
// immediately re-locked can momentarily render AVAILABLE on clients that
// got the two events out of order; the next click yields a 409 and the
// lock echo or a reconnect snapshot corrects the view.  Pub/sub offers no
// replay: a client that missed events across a reconnect re-fetches a
// snapshot instead.
package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/pkg/seatmap"
)

// Publisher fans one trip's seat transitions out to its subscribers.
type Publisher struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// NewPublisher wraps an existing Redis client.
func NewPublisher(client *redis.Client, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{client: client, log: log}
}

// SeatChanged publishes one transition on the trip's topic.  Publish
// failures are returned so callers can log them, but a state change that
// already committed is never rolled back over a missed broadcast; clients
// recover via snapshot on their next (re)connect.
func (p *Publisher) SeatChanged(ctx context.Context, tripID uint64, seatCode string, st seatmap.Status) error {
	ev := seatmap.NewChangeEvent(seatCode, st)
	body, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode seat event: %w", err)
	}
	if err := p.client.Publish(ctx, seatmap.Topic(tripID), body).Err(); err != nil {
		return fmt.Errorf("publish seat event: %w", err)
	}
	p.log.WithFields(logrus.Fields{
		"trip":   tripID,
		"seat":   seatCode,
		"status": st.Wire(),
	}).Debug("broadcast: seat status changed")
	return nil
}
