package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ErrBookingNotFound indicates that a booking was not located in the DB.
var ErrBookingNotFound = errors.New("booking not found")

// BookingRepo manages persistence for bookings and their tickets.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// DB exposes the underlying sql.DB.  It allows callers to begin
// transactions spanning multiple repositories.
func (r *BookingRepo) DB() *sql.DB { return r.db }

// CreateTx inserts a booking and its tickets using the provided
// transaction.  The caller must commit or roll back.  On success the
// generated booking ID and ticket IDs are populated.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	const q = `INSERT INTO bookings
	           (code, trip_id, holder_id, status, contact_name, contact_phone, total_price_cents, expires_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		b.Code, b.TripID, b.HolderID, b.Status,
		b.ContactName, b.ContactPhone, b.TotalPriceCents, b.ExpiresAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)

	const insTicket = `INSERT INTO tickets (booking_id, seat_code, passenger_name, passenger_phone, price_cents)
	                   VALUES (?, ?, ?, ?, ?)`
	for i := range b.Tickets {
		t := &b.Tickets[i]
		t.BookingID = b.ID
		res, err := tx.ExecContext(ctx, insTicket, t.BookingID, t.SeatCode, t.PassengerName, t.PassengerPhone, t.PriceCents)
		if err != nil {
			return err
		}
		tid, err := res.LastInsertId()
		if err != nil {
			return err
		}
		t.ID = uint64(tid)
	}
	return nil
}

// GetByID loads a booking with its tickets.  Returns ErrBookingNotFound
// when absent.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	return r.get(ctx, r.db.QueryRowContext, r.db.QueryContext, id)
}

// GetByIDTx is GetByID inside the caller's transaction, used by the
// status-transition handlers so the read and the update see the same row.
func (r *BookingRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
	return r.get(ctx, tx.QueryRowContext, tx.QueryContext, id)
}

type rowQuerier func(ctx context.Context, query string, args ...interface{}) *sql.Row
type rowsQuerier func(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

func (r *BookingRepo) get(ctx context.Context, queryRow rowQuerier, query rowsQuerier, id uint64) (*model.Booking, error) {
	const q = `SELECT id, code, trip_id, holder_id, status, contact_name, contact_phone,
	                  total_price_cents, expires_at, created_at, updated_at
	           FROM bookings WHERE id = ?`
	var b model.Booking
	err := queryRow(ctx, q, id).Scan(
		&b.ID, &b.Code, &b.TripID, &b.HolderID, &b.Status,
		&b.ContactName, &b.ContactPhone, &b.TotalPriceCents,
		&b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}

	const ticketsQ = `SELECT id, booking_id, seat_code, passenger_name, passenger_phone, price_cents
	                  FROM tickets WHERE booking_id = ? ORDER BY id`
	rows, err := query(ctx, ticketsQ, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.BookingID, &t.SeatCode, &t.PassengerName, &t.PassengerPhone, &t.PriceCents); err != nil {
			return nil, err
		}
		b.Tickets = append(b.Tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateStatusTx moves a booking to a new status inside the caller's
// transaction.  The WHERE clause re-checks the expected current status so
// two concurrent transitions cannot both apply; the loser sees
// ErrConflict.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, from, to string) error {
	const q = `UPDATE bookings SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?`
	res, err := tx.ExecContext(ctx, q, to, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListByHolder returns all bookings created by one session/user, newest
// first, without tickets (list views don't need them).
func (r *BookingRepo) ListByHolder(ctx context.Context, holderID string) ([]model.Booking, error) {
	const q = `SELECT id, code, trip_id, holder_id, status, contact_name, contact_phone,
	                  total_price_cents, expires_at, created_at, updated_at
	           FROM bookings WHERE holder_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, q, holderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		var b model.Booking
		if err := rows.Scan(
			&b.ID, &b.Code, &b.TripID, &b.HolderID, &b.Status,
			&b.ContactName, &b.ContactPhone, &b.TotalPriceCents,
			&b.ExpiresAt, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
