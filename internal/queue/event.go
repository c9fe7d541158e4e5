// Package queue defines message payloads exchanged over the message broker
// plus the publisher and background consumer moving them.
package queue

// BookingConfirmedEvent is published when a booking is successfully
// confirmed.  It contains enough information for downstream consumers to
// log, notify, or trigger analytics without querying the primary
// database.
type BookingConfirmedEvent struct {
	BookingID       uint64   `json:"booking_id"`
	BookingCode     string   `json:"booking_code"`
	HolderID        string   `json:"holder_id"`
	TripID          uint64   `json:"trip_id"`
	RouteName       string   `json:"route_name"`
	DepartureAt     string   `json:"departure_at"`
	SeatCodes       []string `json:"seats"`
	ContactName     string   `json:"contact_name"`
	ContactPhone    string   `json:"contact_phone"`
	TotalPriceCents uint32   `json:"total_price_cents"`
	ConfirmedAt     string   `json:"confirmed_at"`
}
