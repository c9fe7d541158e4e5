// Package lock implements the server-side seat lock table on Redis.  A
// lock is a short-lived exclusive hold on one (trip, seat) pair, granted
// to exactly one session.  Redis key TTL is the sole expiry mechanism;
// clients never expire locks on their own.  Exclusivity rides on SET NX:
// two simultaneous acquisitions for the same seat resolve to exactly one
// success and one conflict inside Redis, with no locking in this process.
//
// Every lock transition (grant, release, expiry reap) is published on the
// trip's channel from inside the same Lua script that applies it.  Redis
// serializes scripts, so subscribers observe lock transitions in exactly
// the order they took effect; a publish cannot be reordered behind a
// later state change by a slow handler goroutine.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/pkg/seatmap"
)

var (
	// ErrNotAvailable means the seat is already locked (or the key is
	// otherwise taken) and the acquisition lost the race.
	ErrNotAvailable = errors.New("seat is not available")
	// ErrNotOwner means the caller tried to release or extend a lock it
	// does not hold.  Releases treat this as a benign no-op upstream.
	ErrNotOwner = errors.New("lock is not held by this session")
)

// Grant describes one live lock.
type Grant struct {
	SeatCode  string
	HolderID  string
	ExpiresAt time.Time
}

// Manager owns the Redis keyspace for seat locks.  Per trip it keeps one
// string key per locked seat (value = holder, TTL = lock lifetime) and a
// ZSET index of locked seats scored by expiry unix-millis.  The index
// exists so snapshots and the expiry sweeper can enumerate a trip's locks
// without KEYS/SCAN over the whole seat keyspace.
type Manager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewManager builds a lock manager with the given lock lifetime.
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	return &Manager{client: client, ttl: ttl}
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

func seatKey(tripID uint64, seatCode string) string {
	return fmt.Sprintf("seatlock:%d:%s", tripID, seatCode)
}

func indexKey(tripID uint64) string {
	return fmt.Sprintf("seatlockidx:%d", tripID)
}

// seatEventPayload encodes the broadcast body for one transition so a
// Lua script can publish it verbatim.
func seatEventPayload(seatCode string, st seatmap.Status) (string, error) {
	body, err := seatmap.NewChangeEvent(seatCode, st).Encode()
	if err != nil {
		return "", fmt.Errorf("encode seat event: %w", err)
	}
	return string(body), nil
}

// acquireScript grants the lock, writes the index entry and publishes
// the LOCKED transition in one atomic step.  The index entry exists so
// snapshots and the expiry sweeper can enumerate a trip's locks without
// KEYS/SCAN over the whole seat keyspace.
var acquireScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
	redis.call("PUBLISH", ARGV[5], ARGV[6])
	return 1
end
return 0
`)

// Acquire grants a lock on one seat to holderID, failing with
// ErrNotAvailable when any session (including the caller) already holds
// it.  Booked seats are rejected before this point by the handler, which
// checks the durable seat state first.
func (m *Manager) Acquire(ctx context.Context, tripID uint64, seatCode, holderID string) (*Grant, error) {
	expiresAt := time.Now().UTC().Add(m.ttl)
	payload, err := seatEventPayload(seatCode, seatmap.LockedBy(holderID))
	if err != nil {
		return nil, err
	}
	ok, err := acquireScript.Run(ctx, m.client,
		[]string{seatKey(tripID, seatCode), indexKey(tripID)},
		holderID, m.ttl.Milliseconds(), expiresAt.UnixMilli(), seatCode,
		seatmap.Topic(tripID), payload,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("acquire seat lock: %w", err)
	}
	if ok == 0 {
		return nil, ErrNotAvailable
	}
	return &Grant{SeatCode: seatCode, HolderID: holderID, ExpiresAt: expiresAt}, nil
}

// releaseScript deletes the lock only when the caller owns it, so a slow
// release can never free a lock that expired and was re-acquired by
// someone else in the meantime.  The AVAILABLE transition is published in
// the same step.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("ZREM", KEYS[2], ARGV[2])
	redis.call("PUBLISH", ARGV[3], ARGV[4])
	return 1
end
return 0
`)

// releaseQuietScript is the same owner-checked delete without the
// publish.  Used when the locks were converted into booked seats: the
// seat is not returning to the pool, so no AVAILABLE event may go out.
var releaseQuietScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("ZREM", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// Release frees a lock held by holderID and broadcasts the seat's return
// to the pool.  Returns ErrNotOwner when the lock is absent or owned by
// another session.
func (m *Manager) Release(ctx context.Context, tripID uint64, seatCode, holderID string) error {
	payload, err := seatEventPayload(seatCode, seatmap.Available())
	if err != nil {
		return err
	}
	res, err := releaseScript.Run(ctx, m.client,
		[]string{seatKey(tripID, seatCode), indexKey(tripID)},
		holderID, seatCode, seatmap.Topic(tripID), payload,
	).Int()
	if err != nil {
		return fmt.Errorf("release seat lock: %w", err)
	}
	if res == 0 {
		return ErrNotOwner
	}
	return nil
}

// HolderOf returns the current holder of a seat's lock, or "" when the
// seat is unlocked.
func (m *Manager) HolderOf(ctx context.Context, tripID uint64, seatCode string) (string, error) {
	holder, err := m.client.Get(ctx, seatKey(tripID, seatCode)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read seat lock: %w", err)
	}
	return holder, nil
}

// Snapshot returns every live lock for a trip.  Index entries whose lock
// key already expired are skipped; the sweeper removes them and
// broadcasts their release.
func (m *Manager) Snapshot(ctx context.Context, tripID uint64) ([]Grant, error) {
	entries, err := m.client.ZRangeWithScores(ctx, indexKey(tripID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read lock index: %w", err)
	}
	grants := make([]Grant, 0, len(entries))
	for _, e := range entries {
		seatCode, _ := e.Member.(string)
		if seatCode == "" {
			continue
		}
		holder, err := m.HolderOf(ctx, tripID, seatCode)
		if err != nil {
			return nil, err
		}
		if holder == "" {
			continue // lapsed, sweeper will reap the index entry
		}
		grants = append(grants, Grant{
			SeatCode:  seatCode,
			HolderID:  holder,
			ExpiresAt: time.UnixMilli(int64(e.Score)).UTC(),
		})
	}
	return grants, nil
}

// validateExtendScript checks that every seat's lock is owned by the
// caller and, only if all are, bumps each TTL.  All-or-nothing: one
// lapsed or stolen lock fails the whole set, which is exactly the booking
// creation contract.
var validateExtendScript = redis.NewScript(`
for i = 1, #KEYS do
	if redis.call("GET", KEYS[i]) ~= ARGV[1] then
		return 0
	end
end
for i = 1, #KEYS do
	redis.call("PEXPIRE", KEYS[i], ARGV[2])
end
return 1
`)

// ValidateAndExtend verifies that holderID owns the lock on every listed
// seat and extends each lock by grace so the booking transaction cannot
// race its own expiry.  Returns ErrNotOwner when any seat fails the
// check; no TTL is touched in that case.
func (m *Manager) ValidateAndExtend(ctx context.Context, tripID uint64, seatCodes []string, holderID string, grace time.Duration) error {
	if len(seatCodes) == 0 {
		return errors.New("no seats to validate")
	}
	keys := make([]string, len(seatCodes))
	for i, code := range seatCodes {
		keys[i] = seatKey(tripID, code)
	}
	res, err := validateExtendScript.Run(ctx, m.client, keys, holderID, grace.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("validate seat locks: %w", err)
	}
	if res == 0 {
		return ErrNotOwner
	}
	return nil
}

// ReleaseAll frees the caller's locks on the listed seats, ignoring seats
// it no longer owns.  Used after a booking commit converted the locks
// into durable seat state; the seats are BOOKED now, not free, so no
// AVAILABLE transition is published.
func (m *Manager) ReleaseAll(ctx context.Context, tripID uint64, seatCodes []string, holderID string) error {
	for _, code := range seatCodes {
		err := releaseQuietScript.Run(ctx, m.client,
			[]string{seatKey(tripID, code), indexKey(tripID)},
			holderID, code,
		).Err()
		if err != nil {
			return fmt.Errorf("release seat lock: %w", err)
		}
	}
	return nil
}

// reapScript removes one lapsed index entry and publishes the AVAILABLE
// transition, but only while the lock key is still absent.  A seat
// re-acquired between the scan and the reap keeps its fresh index entry
// and no stale release is broadcast.  The ZREM guard keeps two racing
// sweepers from publishing the same release twice.
var reapScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
if redis.call("ZREM", KEYS[2], ARGV[1]) == 1 then
	redis.call("PUBLISH", ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// SweepTrip removes index entries for locks that have lapsed (key TTL
// fired), broadcasting each seat's release, and returns the affected seat
// codes.  Entries whose lock key still exists are left alone even when
// their recorded score has passed, since the key TTL is authoritative.
func (m *Manager) SweepTrip(ctx context.Context, tripID uint64) ([]string, error) {
	now := float64(time.Now().UTC().UnixMilli())
	members, err := m.client.ZRangeByScore(ctx, indexKey(tripID), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(now, 'f', 0, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan lock index: %w", err)
	}
	var freed []string
	for _, seatCode := range members {
		payload, err := seatEventPayload(seatCode, seatmap.Available())
		if err != nil {
			return freed, err
		}
		reaped, err := reapScript.Run(ctx, m.client,
			[]string{seatKey(tripID, seatCode), indexKey(tripID)},
			seatCode, seatmap.Topic(tripID), payload,
		).Int()
		if err != nil {
			return freed, fmt.Errorf("reap lock index: %w", err)
		}
		if reaped == 1 {
			freed = append(freed, seatCode)
		}
	}
	return freed, nil
}

// TripsWithLocks enumerates trip IDs that currently have lock index
// entries, via SCAN over the index keys.
func (m *Manager) TripsWithLocks(ctx context.Context) ([]uint64, error) {
	var (
		trips  []uint64
		cursor uint64
	)
	for {
		keys, next, err := m.client.Scan(ctx, cursor, "seatlockidx:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan lock indexes: %w", err)
		}
		for _, k := range keys {
			idStr := strings.TrimPrefix(k, "seatlockidx:")
			if id, err := strconv.ParseUint(idStr, 10, 64); err == nil {
				trips = append(trips, id)
			}
		}
		cursor = next
		if cursor == 0 {
			return trips, nil
		}
	}
}
