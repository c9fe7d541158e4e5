package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/bus-seat-reservation/internal/lock"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/pkg/seatmap"
)

// lockValidationGrace is how far booking creation extends the caller's
// seat locks before running the database transaction, so a lock cannot
// expire between validation and commit.
const lockValidationGrace = 30 * time.Second

// BookingHandler converts held seat locks into durable bookings and
// drives the booking status lifecycle.  The server is the sole authority
// that validates locks are still held before committing; clients never
// get to assert ownership.
type BookingHandler struct {
	Trips     *repository.TripRepo
	Routes    *repository.RouteRepo
	Layouts   *repository.LayoutRepo
	TripSeats *repository.TripSeatRepo
	Bookings  *repository.BookingRepo
	Locks     SeatLocker
	Broadcast Broadcaster
	Queue     *queue.Publisher
	// BookingWindow is the payment window granted to PENDING bookings.
	BookingWindow time.Duration
	Log           logrus.FieldLogger
}

// NewBookingHandler constructs a BookingHandler.  Queue may be a disabled
// publisher but must not be nil.
func NewBookingHandler(trips *repository.TripRepo, routes *repository.RouteRepo, layouts *repository.LayoutRepo, tripSeats *repository.TripSeatRepo, bookings *repository.BookingRepo, locks SeatLocker, bc Broadcaster, pub *queue.Publisher, window time.Duration, log logrus.FieldLogger) *BookingHandler {
	if trips == nil || routes == nil || layouts == nil || tripSeats == nil || bookings == nil || locks == nil || bc == nil || pub == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BookingHandler{
		Trips: trips, Routes: routes, Layouts: layouts, TripSeats: tripSeats,
		Bookings: bookings, Locks: locks, Broadcast: bc, Queue: pub,
		BookingWindow: window, Log: log,
	}
}

// createBookingRequest is the POST /v1/bookings body.
type createBookingRequest struct {
	TripID       uint64          `json:"trip_id"`
	ContactName  string          `json:"contact_name"`
	ContactPhone string          `json:"contact_phone"`
	Tickets      []ticketRequest `json:"tickets"`
}

type ticketRequest struct {
	SeatCode       string `json:"seat_code"`
	PassengerName  string `json:"passenger_name"`
	PassengerPhone string `json:"passenger_phone"`
	PriceCents     uint32 `json:"price_cents"`
}

// Create handles POST /v1/bookings.  It validates that every requested
// seat is currently locked by the calling session (all-or-nothing: one
// lapsed lock fails the whole request with code SEAT_NOT_HELD), then in
// one transaction creates the PENDING booking with its tickets and marks
// the seats booked.  The locks are released afterwards and a BOOKED
// transition is broadcast per seat — which is also how the booking
// creator's own client learns its optimistic state is now durable.
func (h *BookingHandler) Create(c echo.Context) error {
	holderID := middleware.HolderID(c)
	if holderID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.TripID == 0 || body.ContactName == "" || body.ContactPhone == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "trip_id, contact_name and contact_phone are required"})
	}
	if len(body.Tickets) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tickets is required"})
	}
	// Duplicate seats in one request are a client bug, not a race.
	seen := make(map[string]struct{}, len(body.Tickets))
	seatCodes := make([]string, 0, len(body.Tickets))
	for _, t := range body.Tickets {
		if t.SeatCode == "" || t.PassengerName == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "every ticket needs seat_code and passenger_name"})
		}
		if _, dup := seen[t.SeatCode]; dup {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "duplicate seat in tickets"})
		}
		seen[t.SeatCode] = struct{}{}
		seatCodes = append(seatCodes, t.SeatCode)
	}

	ctx := c.Request().Context()
	trip, err := h.Trips.GetByID(ctx, body.TripID)
	if err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "trip not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if trip.Status != model.TripScheduled {
		return c.JSON(http.StatusConflict, echo.Map{"error": "trip is not open for booking"})
	}
	codes, err := h.Layouts.SeatCodes(ctx, trip.LayoutID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load layout"})
	}
	for _, sc := range seatCodes {
		if _, ok := codes[sc]; !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown seat " + sc})
		}
	}

	// The authoritative check: every seat must still be locked by this
	// session.  Extending the TTLs keeps the locks alive across the
	// transaction below.
	if err := h.Locks.ValidateAndExtend(ctx, trip.ID, seatCodes, holderID, lockValidationGrace); err != nil {
		if errors.Is(err, lock.ErrNotOwner) {
			return c.JSON(http.StatusConflict, echo.Map{
				"error": "a selected seat is no longer held by this session",
				"code":  "SEAT_NOT_HELD",
			})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to validate seat locks"})
	}

	booking := &model.Booking{
		Code:         uuid.New().String(),
		TripID:       trip.ID,
		HolderID:     holderID,
		Status:       model.BookingPending,
		ContactName:  body.ContactName,
		ContactPhone: body.ContactPhone,
		ExpiresAt:    time.Now().UTC().Add(h.BookingWindow),
	}
	for _, t := range body.Tickets {
		price := t.PriceCents
		if price == 0 {
			price = trip.BasePriceCents
		}
		booking.TotalPriceCents += price
		booking.Tickets = append(booking.Tickets, model.Ticket{
			SeatCode:       t.SeatCode,
			PassengerName:  t.PassengerName,
			PassengerPhone: t.PassengerPhone,
			PriceCents:     price,
		})
	}

	tx, err := h.Bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := h.Bookings.CreateTx(ctx, tx, booking); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create booking"})
	}
	if err := h.TripSeats.MarkBookedTx(ctx, tx, trip.ID, booking.ID, seatCodes); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Unique key tripped: another booking owns one of the seats.
			return c.JSON(http.StatusConflict, echo.Map{
				"error": "a selected seat is already booked",
				"code":  "SEAT_NOT_HELD",
			})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to mark seats booked"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	// The seats are durable now; the locks have done their job.
	if err := h.Locks.ReleaseAll(ctx, trip.ID, seatCodes, holderID); err != nil {
		h.Log.WithError(err).Warn("post-booking lock release failed")
	}
	for _, sc := range seatCodes {
		if err := h.Broadcast.SeatChanged(ctx, trip.ID, sc, seatmap.Booked()); err != nil {
			h.Log.WithError(err).WithField("seat", sc).Warn("booked broadcast failed")
		}
	}
	return c.JSON(http.StatusCreated, bookingJSON(booking))
}

// Confirm handles POST /v1/bookings/:id/confirm: PENDING -> CONFIRMED
// within the payment window.  On success a booking.confirmed event goes
// to the message broker.
func (h *BookingHandler) Confirm(c echo.Context) error {
	return h.transition(c, model.BookingConfirmed)
}

// Cancel handles POST /v1/bookings/:id/cancel: PENDING or CONFIRMED ->
// CANCELLED.  The booking's seats return to the available pool and an
// AVAILABLE transition is broadcast for each.
func (h *BookingHandler) Cancel(c echo.Context) error {
	return h.transition(c, model.BookingCancelled)
}

// Refund handles POST /v1/bookings/:id/refund: CONFIRMED -> REFUNDED.
// Seats are freed exactly as for a cancellation.
func (h *BookingHandler) Refund(c echo.Context) error {
	return h.transition(c, model.BookingRefunded)
}

// transition applies one booking status change with ownership and
// state-machine checks, freeing seats when the target state releases
// them.
func (h *BookingHandler) transition(c echo.Context, to string) error {
	holderID := middleware.HolderID(c)
	if holderID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	ctx := c.Request().Context()

	tx, err := h.Bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	booking, err := h.Bookings.GetByIDTx(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if booking.HolderID != holderID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	if !model.CanTransitionBooking(booking.Status, to) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "illegal booking status transition"})
	}
	if to == model.BookingConfirmed && time.Now().UTC().After(booking.ExpiresAt) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "payment window has elapsed"})
	}

	from := booking.Status
	if err := h.Bookings.UpdateStatusTx(ctx, tx, booking.ID, from, to); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "booking status changed concurrently"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update booking"})
	}
	booking.Status = to

	var freed []string
	if to == model.BookingCancelled || to == model.BookingRefunded {
		freed, err = h.TripSeats.ReleaseByBookingTx(ctx, tx, booking.ID)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release seats"})
		}
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	for _, sc := range freed {
		if err := h.Broadcast.SeatChanged(ctx, booking.TripID, sc, seatmap.Available()); err != nil {
			h.Log.WithError(err).WithField("seat", sc).Warn("seat release broadcast failed")
		}
	}
	if to == model.BookingConfirmed {
		h.publishConfirmed(c, booking)
	}
	return c.JSON(http.StatusOK, bookingJSON(booking))
}

// publishConfirmed emits the booking.confirmed event.  Failures are
// logged only: the confirmation already committed and must not be undone
// by a broker hiccup.
func (h *BookingHandler) publishConfirmed(c echo.Context, b *model.Booking) {
	ctx := c.Request().Context()
	ev := queue.BookingConfirmedEvent{
		BookingID:       b.ID,
		BookingCode:     b.Code,
		HolderID:        b.HolderID,
		TripID:          b.TripID,
		SeatCodes:       b.SeatCodes(),
		ContactName:     b.ContactName,
		ContactPhone:    b.ContactPhone,
		TotalPriceCents: b.TotalPriceCents,
		ConfirmedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if trip, err := h.Trips.GetByID(ctx, b.TripID); err == nil {
		ev.DepartureAt = trip.DepartureAt.Format(time.RFC3339)
		if route, err := h.Routes.GetByID(ctx, trip.RouteID); err == nil {
			ev.RouteName = route.Name
		}
	}
	if err := h.Queue.PublishBookingConfirmed(ctx, ev); err != nil {
		h.Log.WithError(err).WithField("booking", b.Code).Warn("booking.confirmed publish failed")
	}
}

// Get handles GET /v1/bookings/:id for the owning session.
func (h *BookingHandler) Get(c echo.Context) error {
	holderID := middleware.HolderID(c)
	if holderID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	booking, err := h.Bookings.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if booking.HolderID != holderID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return c.JSON(http.StatusOK, bookingJSON(booking))
}

// ListMine handles GET /v1/my-bookings.
func (h *BookingHandler) ListMine(c echo.Context) error {
	holderID := middleware.HolderID(c)
	if holderID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookings, err := h.Bookings.ListByHolder(c.Request().Context(), holderID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load bookings"})
	}
	items := make([]echo.Map, 0, len(bookings))
	for i := range bookings {
		items = append(items, bookingJSON(&bookings[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// bookingJSON shapes a booking for API responses.  Matches the client
// SDK's Booking type field for field.
func bookingJSON(b *model.Booking) echo.Map {
	tickets := make([]echo.Map, 0, len(b.Tickets))
	for _, t := range b.Tickets {
		tickets = append(tickets, echo.Map{
			"seat_code":       t.SeatCode,
			"passenger_name":  t.PassengerName,
			"passenger_phone": t.PassengerPhone,
			"price_cents":     t.PriceCents,
		})
	}
	return echo.Map{
		"id":                b.ID,
		"code":              b.Code,
		"trip_id":           b.TripID,
		"status":            b.Status,
		"contact_name":      b.ContactName,
		"contact_phone":     b.ContactPhone,
		"total_price_cents": b.TotalPriceCents,
		"expires_at":        b.ExpiresAt.UTC().Format(time.RFC3339),
		"tickets":           tickets,
	}
}
