package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ErrTripNotFound indicates that a trip was not located in the DB.
var ErrTripNotFound = errors.New("trip not found")

// TripRepo manages persistence for trips.
type TripRepo struct {
	db *sql.DB
}

// NewTripRepo returns a new TripRepo bound to the provided database.
func NewTripRepo(db *sql.DB) *TripRepo { return &TripRepo{db: db} }

// DB exposes the underlying sql.DB.  It allows callers to begin
// transactions spanning multiple repositories.
func (r *TripRepo) DB() *sql.DB { return r.db }

const tripColumns = `id, route_id, bus_id, layout_id, departure_at, base_price_cents, status, created_at, updated_at`

func scanTrip(row interface{ Scan(...interface{}) error }, t *model.Trip) error {
	return row.Scan(
		&t.ID, &t.RouteID, &t.BusID, &t.LayoutID,
		&t.DepartureAt, &t.BasePriceCents, &t.Status,
		&t.CreatedAt, &t.UpdatedAt,
	)
}

// GetByID loads one trip.  Returns ErrTripNotFound when absent.
func (r *TripRepo) GetByID(ctx context.Context, id uint64) (*model.Trip, error) {
	const q = `SELECT ` + tripColumns + ` FROM trips WHERE id = ?`
	var t model.Trip
	err := scanTrip(r.db.QueryRowContext(ctx, q, id), &t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListUpcoming returns SCHEDULED trips departing after now, soonest
// first, capped at limit.
func (r *TripRepo) ListUpcoming(ctx context.Context, limit int) ([]model.Trip, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `SELECT ` + tripColumns + ` FROM trips
	           WHERE status = ? AND departure_at > UTC_TIMESTAMP()
	           ORDER BY departure_at ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, model.TripScheduled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trips []model.Trip
	for rows.Next() {
		var t model.Trip
		if err := scanTrip(rows, &t); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// Create inserts a trip.  Used by provisioning; the booking core only
// reads trips.
func (r *TripRepo) Create(ctx context.Context, t *model.Trip) error {
	const q = `INSERT INTO trips (route_id, bus_id, layout_id, departure_at, base_price_cents, status)
	           VALUES (?, ?, ?, ?, ?, ?)`
	status := t.Status
	if status == "" {
		status = model.TripScheduled
	}
	res, err := r.db.ExecContext(ctx, q, t.RouteID, t.BusID, t.LayoutID, t.DepartureAt, t.BasePriceCents, status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.Status = status
	return nil
}
