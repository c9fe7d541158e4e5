package model

import (
	"fmt"
	"time"
)

// Booking statuses.  A booking is created PENDING with a short payment
// window.  PENDING moves to CONFIRMED (payment/contact confirmation) or
// CANCELLED; CONFIRMED may later move to REFUNDED.  No transition skips
// PENDING and the terminal states never transition again.
const (
	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
	BookingRefunded  = "REFUNDED"
)

// CanTransitionBooking reports whether a booking status change is legal.
func CanTransitionBooking(from, to string) bool {
	switch from {
	case BookingPending:
		return to == BookingConfirmed || to == BookingCancelled
	case BookingConfirmed:
		return to == BookingRefunded || to == BookingCancelled
	default:
		return false
	}
}

// Booking is the durable record created from a set of held seat locks
// plus passenger data.  The server validates, at creation time, that
// every ticket's seat is locked by the requesting session.
//
// Fields:
//  ID              – primary key identifier.
//  Code            – human-facing booking code (uuid).
//  TripID          – trip the seats belong to.
//  HolderID        – session/user that created the booking.
//  Status          – PENDING, CONFIRMED, CANCELLED or REFUNDED.
//  ContactName     – booking-level contact name.
//  ContactPhone    – booking-level contact phone.
//  TotalPriceCents – sum of ticket prices.
//  ExpiresAt       – payment window deadline while PENDING.
//  Tickets         – one per seat.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Booking struct {
	ID              uint64    // bookings.id
	Code            string    // bookings.code
	TripID          uint64    // bookings.trip_id
	HolderID        string    // bookings.holder_id
	Status          string    // bookings.status
	ContactName     string    // bookings.contact_name
	ContactPhone    string    // bookings.contact_phone
	TotalPriceCents uint32    // bookings.total_price_cents
	ExpiresAt       time.Time // bookings.expires_at (payment window)
	Tickets         []Ticket  // tickets rows
	CreatedAt       time.Time // bookings.created_at
	UpdatedAt       time.Time // bookings.updated_at
}

// Ticket is one passenger on one seat of a booking.
type Ticket struct {
	ID             uint64 // tickets.id
	BookingID      uint64 // tickets.booking_id
	SeatCode       string // tickets.seat_code
	PassengerName  string // tickets.passenger_name
	PassengerPhone string // tickets.passenger_phone
	PriceCents     uint32 // tickets.price_cents
}

// SeatCodes lists the booking's seats in ticket order.
func (b *Booking) SeatCodes() []string {
	codes := make([]string, 0, len(b.Tickets))
	for _, t := range b.Tickets {
		codes = append(codes, t.SeatCode)
	}
	return codes
}

// Transition applies a status change after checking it is legal.
func (b *Booking) Transition(to string) error {
	if !CanTransitionBooking(b.Status, to) {
		return fmt.Errorf("booking %s: illegal transition %s -> %s", b.Code, b.Status, to)
	}
	b.Status = to
	return nil
}
