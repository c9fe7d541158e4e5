package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// TripHandler serves the read-only trip and layout endpoints consumed by
// the seat-map flow: browse upcoming departures, inspect one trip, fetch
// the static seat geometry of its bus.
type TripHandler struct {
	Trips   *repository.TripRepo
	Layouts *repository.LayoutRepo
}

// NewTripHandler constructs a TripHandler.
func NewTripHandler(trips *repository.TripRepo, layouts *repository.LayoutRepo) *TripHandler {
	if trips == nil || layouts == nil {
		panic("nil repository passed to NewTripHandler")
	}
	return &TripHandler{Trips: trips, Layouts: layouts}
}

// List handles GET /v1/trips: upcoming SCHEDULED departures, soonest
// first.  The optional ?limit query caps the page size.
func (h *TripHandler) List(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}
	trips, err := h.Trips.ListUpcoming(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load trips"})
	}
	items := make([]echo.Map, 0, len(trips))
	for i := range trips {
		items = append(items, tripJSON(&trips[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// Get handles GET /v1/trips/:id.
func (h *TripHandler) Get(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	trip, err := h.Trips.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrTripNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "trip not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, tripJSON(trip))
}

// GetLayout handles GET /v1/layouts/:id, returning the immutable seat
// grid geometry the client renders the map from.
func (h *TripHandler) GetLayout(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	layout, err := h.Layouts.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrLayoutNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	seats := make([]echo.Map, 0, len(layout.Seats))
	for _, s := range layout.Seats {
		seats = append(seats, echo.Map{
			"seat_code":  s.SeatCode,
			"floor":      s.Floor,
			"row":        s.Row,
			"col":        s.Col,
			"seat_class": s.SeatClass,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":     layout.ID,
		"name":   layout.Name,
		"floors": layout.Floors,
		"rows":   layout.Rows,
		"cols":   layout.Cols,
		"seats":  seats,
	})
}

func tripJSON(t *model.Trip) echo.Map {
	return echo.Map{
		"id":               t.ID,
		"route_id":         t.RouteID,
		"bus_id":           t.BusID,
		"layout_id":        t.LayoutID,
		"departure_at":     t.DepartureAt.UTC().Format(time.RFC3339),
		"base_price_cents": t.BasePriceCents,
		"status":           t.Status,
	}
}
