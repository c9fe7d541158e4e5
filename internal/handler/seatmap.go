package handler

import (
	"errors"   // errors.Is comparisons against sentinel errors
	"net/http" // HTTP status codes
	"strconv"  // parsing path parameters
	"time"     // formatting lock expiry timestamps

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/lock"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/pkg/seatmap"
)

// SeatHandler serves the live seat map of a trip: the snapshot read and
// the lock/unlock protocol.  The lock manager is the single arbiter of
// lock ownership; these handlers only translate HTTP into lock calls.
// The manager itself publishes every lock transition atomically with the
// Redis state change, which is what gives subscribers per-seat server
// order for the lock lifecycle.
type SeatHandler struct {
	Trips     *repository.TripRepo     // trip existence and layout reference
	Layouts   *repository.LayoutRepo   // valid seat codes per layout
	TripSeats *repository.TripSeatRepo // booked seats, the durable half of the map
	Locks     SeatLocker               // transient half of the map
	Log       logrus.FieldLogger
}

// NewSeatHandler constructs a SeatHandler.  All dependencies must be
// non-nil.
func NewSeatHandler(trips *repository.TripRepo, layouts *repository.LayoutRepo, tripSeats *repository.TripSeatRepo, locks SeatLocker, log logrus.FieldLogger) *SeatHandler {
	if trips == nil || layouts == nil || tripSeats == nil || locks == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SeatHandler{Trips: trips, Layouts: layouts, TripSeats: tripSeats, Locks: locks, Log: log}
}

// Snapshot handles GET /v1/trips/:id/seats.  It returns the full seat
// status map for the trip: BOOKED entries from the durable store, LOCKED
// entries from the lock table, everything else implicitly AVAILABLE.  The
// two reads are not a single atomic cut, but any transition racing the
// snapshot is also broadcast, so subscribers converge on the next event.
func (h *SeatHandler) Snapshot(c echo.Context) error {
	tripID, err := tripParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	ctx := c.Request().Context()
	if _, err := h.Trips.GetByID(ctx, tripID); err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "trip not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	booked, err := h.TripSeats.BookedSeats(ctx, tripID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load booked seats"})
	}
	grants, err := h.Locks.Snapshot(ctx, tripID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seat locks"})
	}

	seats := make(map[string]string, len(booked)+len(grants))
	for _, g := range grants {
		seats[g.SeatCode] = seatmap.LockedBy(g.HolderID).Wire()
	}
	// Booked wins over a stray lock entry for the same seat; the durable
	// store is the stronger claim.
	for _, code := range booked {
		seats[code] = seatmap.Booked().Wire()
	}
	return c.JSON(http.StatusOK, echo.Map{
		"trip_id": tripID,
		"seats":   seats,
	})
}

// Lock handles POST /v1/trips/:id/seats/:code/lock.  It grants the
// calling session a temporary exclusive hold on one seat.  Exactly one of
// two racing calls succeeds; the loser receives 409.  On success the lock
// manager has already broadcast the LOCKED transition to every
// subscriber, including the caller, whose store updates on the echo.
func (h *SeatHandler) Lock(c echo.Context) error {
	holderID := middleware.HolderID(c)
	if holderID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	tripID, err := tripParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	seatCode := c.Param("code")
	ctx := c.Request().Context()

	trip, err := h.Trips.GetByID(ctx, tripID)
	if err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "trip not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	codes, err := h.Layouts.SeatCodes(ctx, trip.LayoutID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load layout"})
	}
	if _, ok := codes[seatCode]; !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown seat"})
	}

	// A booked seat can never be locked again for this trip.
	isBooked, err := h.TripSeats.IsBooked(ctx, tripID, seatCode)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check seat"})
	}
	if isBooked {
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat is already booked"})
	}

	grant, err := h.Locks.Acquire(ctx, tripID, seatCode, holderID)
	if err != nil {
		if errors.Is(err, lock.ErrNotAvailable) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "seat is no longer available"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock seat"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"seat_code":  grant.SeatCode,
		"expires_at": grant.ExpiresAt.Format(time.RFC3339),
	})
}

// Unlock handles POST /v1/trips/:id/seats/:code/unlock.  Releasing a
// seat the caller does not hold is a benign no-op (double-click races are
// normal), answered with released=false rather than an error.
func (h *SeatHandler) Unlock(c echo.Context) error {
	holderID := middleware.HolderID(c)
	if holderID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	tripID, err := tripParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	seatCode := c.Param("code")
	ctx := c.Request().Context()

	err = h.Locks.Release(ctx, tripID, seatCode, holderID)
	if errors.Is(err, lock.ErrNotOwner) {
		return c.JSON(http.StatusOK, echo.Map{"released": false})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to unlock seat"})
	}
	return c.JSON(http.StatusOK, echo.Map{"released": true})
}

// tripParam parses the :id path parameter.
func tripParam(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid trip id")
	}
	return id, nil
}
