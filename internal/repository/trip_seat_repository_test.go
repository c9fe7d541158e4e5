package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTripSeatRepoBookedSeats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seat_code FROM trip_seats WHERE trip_id = ?`)).
		WithArgs(uint64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"seat_code"}).AddRow("A1").AddRow("B3"))

	codes, err := NewTripSeatRepo(db).BookedSeats(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B3"}, codes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTripSeatRepoIsBooked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	q := regexp.QuoteMeta(`SELECT 1 FROM trip_seats WHERE trip_id = ? AND seat_code = ?`)
	mock.ExpectQuery(q).WithArgs(uint64(42), "A1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(q).WithArgs(uint64(42), "A2").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	repo := NewTripSeatRepo(db)
	booked, err := repo.IsBooked(context.Background(), 42, "A1")
	require.NoError(t, err)
	assert.True(t, booked)

	booked, err = repo.IsBooked(context.Background(), 42, "A2")
	require.NoError(t, err)
	assert.False(t, booked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTripSeatRepoMarkBookedTx(t *testing.T) {
	ins := regexp.QuoteMeta(`INSERT INTO trip_seats (trip_id, seat_code, booking_id) VALUES (?, ?, ?)`)

	t.Run("inserts one row per seat", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(ins).WithArgs(uint64(42), "A1", uint64(7)).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(ins).WithArgs(uint64(42), "B2", uint64(7)).WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		tx, err := db.Begin()
		require.NoError(t, err)
		require.NoError(t, NewTripSeatRepo(db).MarkBookedTx(context.Background(), tx, 42, 7, []string{"A1", "B2"}))
		require.NoError(t, tx.Commit())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key reads as conflict", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(ins).WithArgs(uint64(42), "A1", uint64(7)).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'A1' for key 'uniq_trip_seat'"})
		mock.ExpectRollback()

		tx, err := db.Begin()
		require.NoError(t, err)
		err = NewTripSeatRepo(db).MarkBookedTx(context.Background(), tx, 42, 7, []string{"A1"})
		require.ErrorIs(t, err, ErrConflict)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors pass through", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		boom := errors.New("connection reset")
		mock.ExpectBegin()
		mock.ExpectExec(ins).WithArgs(uint64(42), "A1", uint64(7)).WillReturnError(boom)
		mock.ExpectRollback()

		tx, err := db.Begin()
		require.NoError(t, err)
		err = NewTripSeatRepo(db).MarkBookedTx(context.Background(), tx, 42, 7, []string{"A1"})
		require.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrConflict)
		require.NoError(t, tx.Rollback())
	})
}

func TestTripSeatRepoReleaseByBookingTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT seat_code FROM trip_seats WHERE booking_id = ?`)).
		WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"seat_code"}).AddRow("A1").AddRow("B2"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM trip_seats WHERE booking_id = ?`)).
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tx, err := db.Begin()
	require.NoError(t, err)
	codes, err := NewTripSeatRepo(db).ReleaseByBookingTx(context.Background(), tx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B2"}, codes)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
