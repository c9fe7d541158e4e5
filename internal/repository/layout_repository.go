package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ErrLayoutNotFound indicates that a seat layout was not located in the DB.
var ErrLayoutNotFound = errors.New("seat layout not found")

// LayoutRepo manages persistence for seat layouts and their cells.
// Layouts are written by back-office tooling and read by everything else,
// so this repo is read-mostly: one creator used at provisioning time and
// one hot GetByID used per opened seat map.
type LayoutRepo struct {
	db *sql.DB
}

// NewLayoutRepo returns a new LayoutRepo bound to the provided database.
func NewLayoutRepo(db *sql.DB) *LayoutRepo { return &LayoutRepo{db: db} }

// DB exposes the underlying sql.DB for callers that need transactions
// spanning multiple repositories.
func (r *LayoutRepo) DB() *sql.DB { return r.db }

// GetByID loads a layout and all of its seat cells.  Returns
// ErrLayoutNotFound when no such layout exists.
func (r *LayoutRepo) GetByID(ctx context.Context, id uint64) (*model.SeatLayout, error) {
	const q = `SELECT id, name, floors, ` + "`rows`" + `, cols, created_at, updated_at
	           FROM seat_layouts WHERE id = ?`
	var l model.SeatLayout
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&l.ID, &l.Name, &l.Floors, &l.Rows, &l.Cols, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLayoutNotFound
	}
	if err != nil {
		return nil, err
	}

	const cellsQ = `SELECT seat_code, floor, row_no, col_no, seat_class
	                FROM seat_layout_cells WHERE layout_id = ?
	                ORDER BY floor, row_no, col_no`
	rows, err := r.db.QueryContext(ctx, cellsQ, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c model.SeatCell
		if err := rows.Scan(&c.SeatCode, &c.Floor, &c.Row, &c.Col, &c.SeatClass); err != nil {
			return nil, err
		}
		l.Seats = append(l.Seats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Create inserts a layout with its cells in one transaction.  The layout
// is validated first; an invalid grid never reaches the database.
func (r *LayoutRepo) Create(ctx context.Context, l *model.SeatLayout) error {
	if err := l.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const ins = `INSERT INTO seat_layouts (name, floors, ` + "`rows`" + `, cols) VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, ins, l.Name, l.Floors, l.Rows, l.Cols)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)

	const insCell = `INSERT INTO seat_layout_cells (layout_id, seat_code, floor, row_no, col_no, seat_class)
	                 VALUES (?, ?, ?, ?, ?, ?)`
	for _, c := range l.Seats {
		if _, err := tx.ExecContext(ctx, insCell, l.ID, c.SeatCode, c.Floor, c.Row, c.Col, c.SeatClass); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// SeatCodes returns the set of valid seat codes for a layout.  Handlers
// use it to reject lock requests for seats that do not exist on the bus.
func (r *LayoutRepo) SeatCodes(ctx context.Context, layoutID uint64) (map[string]struct{}, error) {
	const q = `SELECT seat_code FROM seat_layout_cells WHERE layout_id = ?`
	rows, err := r.db.QueryContext(ctx, q, layoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	codes := make(map[string]struct{})
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes[code] = struct{}{}
	}
	return codes, rows.Err()
}
