package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// TripSeatRepo tracks the booked seats of each trip.  A trip_seats row
// exists only while the seat belongs to a live booking; deleting the row
// returns the seat to the available pool.  The UNIQUE(trip_id, seat_code)
// key is the last line of defense against double-booking: even if two
// booking transactions both pass lock validation, only one insert can
// succeed.
type TripSeatRepo struct {
	db *sql.DB
}

// NewTripSeatRepo returns a new TripSeatRepo bound to the provided database.
func NewTripSeatRepo(db *sql.DB) *TripSeatRepo { return &TripSeatRepo{db: db} }

// DB exposes the underlying sql.DB for cross-repository transactions.
func (r *TripSeatRepo) DB() *sql.DB { return r.db }

// BookedSeats returns the seat codes currently booked on a trip.
func (r *TripSeatRepo) BookedSeats(ctx context.Context, tripID uint64) ([]string, error) {
	const q = `SELECT seat_code FROM trip_seats WHERE trip_id = ?`
	rows, err := r.db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// IsBooked reports whether one seat is booked on a trip.
func (r *TripSeatRepo) IsBooked(ctx context.Context, tripID uint64, seatCode string) (bool, error) {
	const q = `SELECT 1 FROM trip_seats WHERE trip_id = ? AND seat_code = ?`
	var one int
	err := r.db.QueryRowContext(ctx, q, tripID, seatCode).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkBookedTx inserts booked-seat rows for a booking inside the caller's
// transaction.  A duplicate key on any seat yields ErrConflict, failing
// the whole booking atomically.
func (r *TripSeatRepo) MarkBookedTx(ctx context.Context, tx *sql.Tx, tripID, bookingID uint64, seatCodes []string) error {
	const q = `INSERT INTO trip_seats (trip_id, seat_code, booking_id) VALUES (?, ?, ?)`
	for _, code := range seatCodes {
		if _, err := tx.ExecContext(ctx, q, tripID, code, bookingID); err != nil {
			if isDuplicateKey(err) {
				return ErrConflict
			}
			return err
		}
	}
	return nil
}

// ReleaseByBookingTx removes all booked-seat rows of one booking and
// returns the freed seat codes, so the caller can broadcast AVAILABLE for
// each.  Used when a booking is cancelled or refunded.
func (r *TripSeatRepo) ReleaseByBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) ([]string, error) {
	const sel = `SELECT seat_code FROM trip_seats WHERE booking_id = ?`
	rows, err := tx.QueryContext(ctx, sel, bookingID)
	if err != nil {
		return nil, err
	}
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			rows.Close()
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	const del = `DELETE FROM trip_seats WHERE booking_id = ?`
	if _, err := tx.ExecContext(ctx, del, bookingID); err != nil {
		return nil, err
	}
	return codes, nil
}

// isDuplicateKey detects a MySQL 1062 duplicate-entry error.  The string
// fallback keeps sqlmock-driven tests working, since they return plain
// errors rather than *mysql.MySQLError.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}
