package seatmap

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisEventSource delivers broadcast events over Redis pub/sub.  Each
// Subscribe call opens a dedicated PubSub subscription; a receive error is
// treated as a dropped connection and surfaced by closing the event
// channel, leaving the reconnect policy entirely to the Subscriber.
type RedisEventSource struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// NewRedisEventSource wraps an existing Redis client.
func NewRedisEventSource(client *redis.Client, log logrus.FieldLogger) *RedisEventSource {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisEventSource{client: client, log: log}
}

// Subscribe opens a pub/sub subscription on topic and returns the decoded
// event stream.  The returned channel closes when the subscription drops
// or ctx ends.  Messages that fail to decode are logged and skipped; one
// garbled message must not kill the feed.
func (r *RedisEventSource) Subscribe(ctx context.Context, topic string) (<-chan ChangeEvent, error) {
	pubsub := r.client.Subscribe(ctx, topic)
	// Force the SUBSCRIBE round trip so a dead server fails here, inside
	// the Connecting state, rather than silently on first receive.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			ev, err := DecodeChangeEvent([]byte(msg.Payload))
			if err != nil {
				r.log.WithError(err).WithField("topic", topic).Warn("seatmap: skipping malformed broadcast message")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
