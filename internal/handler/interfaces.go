package handler

import (
	"context"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/lock"
	"github.com/iliyamo/bus-seat-reservation/pkg/seatmap"
)

// SeatLocker is the slice of the lock manager the handlers depend on.
// Tests substitute an in-memory implementation; production wires
// *lock.Manager.
type SeatLocker interface {
	TTL() time.Duration
	Acquire(ctx context.Context, tripID uint64, seatCode, holderID string) (*lock.Grant, error)
	Release(ctx context.Context, tripID uint64, seatCode, holderID string) error
	Snapshot(ctx context.Context, tripID uint64) ([]lock.Grant, error)
	ValidateAndExtend(ctx context.Context, tripID uint64, seatCodes []string, holderID string, grace time.Duration) error
	ReleaseAll(ctx context.Context, tripID uint64, seatCodes []string, holderID string) error
}

// Broadcaster publishes seat status transitions to the trip's channel.
type Broadcaster interface {
	SeatChanged(ctx context.Context, tripID uint64, seatCode string, st seatmap.Status) error
}
