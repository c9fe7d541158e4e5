// Package repository contains data access logic for the durable half of
// the booking domain: layouts, trips, booked seats, bookings and tickets.
// This file defines error types that are reused across multiple
// repositories.  These sentinel values allow higher layers such as
// handlers to distinguish between different failure scenarios without
// string matching.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own, e.g. confirming another session's booking.
// Handlers should translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an insert or update cannot be performed
// because of conflicting state, such as booking a seat that another
// booking already owns.  Handlers should translate this into an HTTP 409
// response.
var ErrConflict = errors.New("conflict")
