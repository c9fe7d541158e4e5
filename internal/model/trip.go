package model

import "time"

// Route is a named origin/destination pair served by buses.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – route display name.
//  Origin      – departure city.
//  Destination – arrival city.
//  IsActive    – whether the route is offered.
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type Route struct {
	ID          uint64    // routes.id
	Name        string    // routes.name
	Origin      string    // routes.origin
	Destination string    // routes.destination
	IsActive    bool      // routes.is_active
	CreatedAt   time.Time // routes.created_at
	UpdatedAt   time.Time // routes.updated_at
}

// Bus is a physical vehicle.  Its seat geometry comes from the referenced
// layout.
type Bus struct {
	ID        uint64    // buses.id
	Plate     string    // buses.plate, unique registration plate
	Name      string    // buses.name
	LayoutID  uint64    // buses.layout_id -> seat_layouts.id
	IsActive  bool      // buses.is_active
	CreatedAt time.Time // buses.created_at
	UpdatedAt time.Time // buses.updated_at
}

// Trip statuses.
const (
	TripScheduled = "SCHEDULED"
	TripDeparted  = "DEPARTED"
	TripCancelled = "CANCELLED"
	TripFinished  = "FINISHED"
)

// Trip is one scheduled departure of a bus on a route: the scope for seat
// contention.  Every seat lock, broadcast topic and booking references a
// trip.
//
// Fields:
//  ID             – primary key identifier.
//  RouteID        – route being driven.
//  BusID          – bus assigned to the departure.
//  LayoutID       – seat layout of that bus, denormalized for fast reads.
//  DepartureAt    – scheduled departure time (UTC).
//  BasePriceCents – default seat price in cents.
//  Status         – SCHEDULED, DEPARTED, CANCELLED or FINISHED.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Trip struct {
	ID             uint64    // trips.id
	RouteID        uint64    // trips.route_id
	BusID          uint64    // trips.bus_id
	LayoutID       uint64    // trips.layout_id
	DepartureAt    time.Time // trips.departure_at (UTC)
	BasePriceCents uint32    // trips.base_price_cents
	Status         string    // trips.status
	CreatedAt      time.Time // trips.created_at
	UpdatedAt      time.Time // trips.updated_at
}
