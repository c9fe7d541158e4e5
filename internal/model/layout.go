package model

import (
	"fmt"
	"time"
)

// SeatLayout describes a bus's physical seat grid.  Layouts are reference
// data: created by back-office configuration, consumed read-only by the
// booking core.  Seats live on floors (double-deckers have two) arranged
// in a rows x cols grid per floor.
//
// Fields:
//  ID        – primary key identifier.
//  Name      – human-facing layout name, unique.
//  Floors    – number of floors (1 or 2).
//  Rows      – rows per floor.
//  Cols      – seats per row.
//  Seats     – the individual seat cells.
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
type SeatLayout struct {
	ID        uint64     // seat_layouts.id
	Name      string     // seat_layouts.name
	Floors    int        // seat_layouts.floors
	Rows      int        // seat_layouts.rows
	Cols      int        // seat_layouts.cols
	Seats     []SeatCell // seat_layout_cells rows
	CreatedAt time.Time  // seat_layouts.created_at
	UpdatedAt time.Time  // seat_layouts.updated_at
}

// SeatCell is one seat position in a layout.  Identity within a layout is
// (floor,row,col); SeatCode is the human-facing label and must also be
// unique within the layout.
type SeatCell struct {
	SeatCode  string // seat_layout_cells.seat_code, e.g. "A1", "2B3"
	Floor     int    // seat_layout_cells.floor, 1-based
	Row       int    // seat_layout_cells.row_no, 1-based
	Col       int    // seat_layout_cells.col_no, 1-based
	SeatClass string // seat_layout_cells.seat_class (STANDARD, VIP, SLEEPER)
}

// Validate checks the layout invariants: positive dimensions, every cell
// inside the grid, no duplicate (floor,row,col) position and no duplicate
// seat code.
func (l *SeatLayout) Validate() error {
	if l.Floors < 1 || l.Rows < 1 || l.Cols < 1 {
		return fmt.Errorf("layout %q: floors/rows/cols must be positive", l.Name)
	}
	positions := make(map[[3]int]string, len(l.Seats))
	codes := make(map[string]struct{}, len(l.Seats))
	for _, c := range l.Seats {
		if c.SeatCode == "" {
			return fmt.Errorf("layout %q: empty seat code at floor %d row %d col %d", l.Name, c.Floor, c.Row, c.Col)
		}
		if c.Floor < 1 || c.Floor > l.Floors || c.Row < 1 || c.Row > l.Rows || c.Col < 1 || c.Col > l.Cols {
			return fmt.Errorf("layout %q: seat %s outside the %dx%dx%d grid", l.Name, c.SeatCode, l.Floors, l.Rows, l.Cols)
		}
		pos := [3]int{c.Floor, c.Row, c.Col}
		if other, dup := positions[pos]; dup {
			return fmt.Errorf("layout %q: seats %s and %s share position floor %d row %d col %d", l.Name, other, c.SeatCode, c.Floor, c.Row, c.Col)
		}
		positions[pos] = c.SeatCode
		if _, dup := codes[c.SeatCode]; dup {
			return fmt.Errorf("layout %q: duplicate seat code %s", l.Name, c.SeatCode)
		}
		codes[c.SeatCode] = struct{}{}
	}
	return nil
}

// HasSeat reports whether the layout contains the given seat code.
func (l *SeatLayout) HasSeat(seatCode string) bool {
	for _, c := range l.Seats {
		if c.SeatCode == seatCode {
			return true
		}
	}
	return false
}
