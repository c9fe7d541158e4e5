package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/bus-seat-reservation/internal/handler"    // import the handlers that implement business logic
	"github.com/iliyamo/bus-seat-reservation/internal/middleware" // import middleware for session identity enforcement
)

// RegisterRoutes registers routes that do not require a session token on
// the provided Echo instance: the health check and the public trip and
// layout browse endpoints guests use before picking seats.
func RegisterRoutes(e *echo.Echo, trips *handler.TripHandler) {
	// Load balancers and monitoring probe this.
	e.GET("/healthz", handler.Health)

	// Browse upcoming departures and inspect one trip.
	e.GET("/v1/trips", trips.List)
	e.GET("/v1/trips/:id", trips.Get)
	// The static seat grid of a bus layout.  Guests preview the bus
	// before authenticating, so no token is required here.
	e.GET("/v1/layouts/:id", trips.GetLayout)
}

// RegisterSeatmap registers the live seat-map protocol and the booking
// lifecycle under the session-identity middleware.  Every route here
// needs a holder identity: locks are granted to it, broadcasts carry it
// and bookings are owned by it.
func RegisterSeatmap(e *echo.Echo, seats *handler.SeatHandler, bookings *handler.BookingHandler, jwtSecret string) {
	g := e.Group("/v1")
	g.Use(middleware.Identity(jwtSecret))

	// Live seat status: snapshot plus the lock/unlock protocol.  The
	// matching broadcast channel is served by Redis pub/sub, not HTTP.
	g.GET("/trips/:id/seats", seats.Snapshot)
	g.POST("/trips/:id/seats/:code/lock", seats.Lock)
	g.POST("/trips/:id/seats/:code/unlock", seats.Unlock)

	// Booking lifecycle: create from held locks, then walk the status
	// machine.
	g.POST("/bookings", bookings.Create)
	g.GET("/bookings/:id", bookings.Get)
	g.POST("/bookings/:id/confirm", bookings.Confirm)
	g.POST("/bookings/:id/cancel", bookings.Cancel)
	g.POST("/bookings/:id/refund", bookings.Refund)
	g.GET("/my-bookings", bookings.ListMine)
}
