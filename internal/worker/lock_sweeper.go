// Package worker hosts the background jobs of the booking service.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// LockSweepSource is the slice of the lock manager the sweeper needs.
// SweepTrip broadcasts each release itself, atomically with the index
// reap, and reports the freed seat codes.
type LockSweepSource interface {
	TripsWithLocks(ctx context.Context) ([]uint64, error)
	SweepTrip(ctx context.Context, tripID uint64) ([]string, error)
}

// LockSweeper periodically reaps lapsed seat locks.  Redis expires the
// lock keys by TTL on its own; what it cannot do is tell subscribers, so
// without the sweeper a seat whose holder walked away would render locked
// on every other client until their next snapshot.  The sweeper closes
// that gap within one interval.
type LockSweeper struct {
	locks    LockSweepSource
	interval time.Duration
	log      logrus.FieldLogger
}

// NewLockSweeper builds a sweeper.  Intervals <= 0 fall back to five
// seconds.
func NewLockSweeper(locks LockSweepSource, interval time.Duration, log logrus.FieldLogger) *LockSweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LockSweeper{locks: locks, interval: interval, log: log}
}

// Run sweeps on the configured interval until ctx is cancelled.  Errors
// are logged and the next tick retries; a sweep failure must never take
// the server down.
func (s *LockSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *LockSweeper) sweep(ctx context.Context) {
	trips, err := s.locks.TripsWithLocks(ctx)
	if err != nil {
		s.log.WithError(err).Warn("lock-sweeper: listing trips failed")
		return
	}
	for _, tripID := range trips {
		freed, err := s.locks.SweepTrip(ctx, tripID)
		if err != nil {
			s.log.WithError(err).WithField("trip", tripID).Warn("lock-sweeper: sweep failed")
			continue
		}
		if len(freed) > 0 {
			s.log.WithFields(logrus.Fields{
				"trip":  tripID,
				"freed": len(freed),
			}).Info("lock-sweeper: released expired seat locks")
		}
	}
}
