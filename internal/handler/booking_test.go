package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/pkg/seatmap"
)

type bookingEnv struct {
	handler *BookingHandler
	mock    sqlmock.Sqlmock
	locker  *fakeLocker
	bc      *fakeBroadcast
	echo    *echo.Echo
}

func newBookingEnv(t *testing.T) *bookingEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	locker := newFakeLocker()
	bc := &fakeBroadcast{}
	log := logrus.New()
	log.SetOutput(io.Discard)

	h := NewBookingHandler(
		repository.NewTripRepo(db),
		repository.NewRouteRepo(db),
		repository.NewLayoutRepo(db),
		repository.NewTripSeatRepo(db),
		repository.NewBookingRepo(db),
		locker, bc, queue.NewPublisher("", log),
		15*time.Minute, log,
	)
	return &bookingEnv{handler: h, mock: mock, locker: locker, bc: bc, echo: echo.New()}
}

func (e *bookingEnv) jsonRequest(method, target, holderID, body string, params map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.echo.NewContext(req, rec)
	if holderID != "" {
		c.Set("holder_id", holderID)
	}
	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for k, v := range params {
		names = append(names, k)
		values = append(values, v)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

const createBody = `{
	"trip_id": 42,
	"contact_name": "Dana",
	"contact_phone": "070-1234567",
	"tickets": [
		{"seat_code": "A1", "passenger_name": "Dana", "price_cents": 5000},
		{"seat_code": "A2", "passenger_name": "Sam"}
	]
}`

func TestBookingHandlerCreate(t *testing.T) {
	t.Run("creates a pending booking from held locks", func(t *testing.T) {
		env := newBookingEnv(t)
		ctx := context.Background()
		_, err := env.locker.Acquire(ctx, 42, "A1", "user-1")
		require.NoError(t, err)
		_, err = env.locker.Acquire(ctx, 42, "A2", "user-1")
		require.NoError(t, err)

		expectTrip(env.mock, model.TripScheduled)
		expectSeatCodes(env.mock, "A1", "A2", "B1")
		env.mock.ExpectBegin()
		env.mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(7, 1))
		env.mock.ExpectExec(`INSERT INTO tickets`).WillReturnResult(sqlmock.NewResult(31, 1))
		env.mock.ExpectExec(`INSERT INTO tickets`).WillReturnResult(sqlmock.NewResult(32, 1))
		env.mock.ExpectExec(`INSERT INTO trip_seats`).WithArgs(uint64(42), "A1", uint64(7)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		env.mock.ExpectExec(`INSERT INTO trip_seats`).WithArgs(uint64(42), "A2", uint64(7)).
			WillReturnResult(sqlmock.NewResult(2, 1))
		env.mock.ExpectCommit()

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings", "user-1", createBody, nil)
		require.NoError(t, env.handler.Create(c))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var out struct {
			Status          string `json:"status"`
			TotalPriceCents uint32 `json:"total_price_cents"`
			ExpiresAt       string `json:"expires_at"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, model.BookingPending, out.Status)
		// A2 had no explicit price and falls back to the trip base price.
		assert.Equal(t, uint32(5000+4500), out.TotalPriceCents)
		assert.NotEmpty(t, out.ExpiresAt)

		// Locks are consumed and each seat's BOOKED transition broadcast.
		env.locker.mu.Lock()
		remaining := len(env.locker.locks)
		env.locker.mu.Unlock()
		assert.Zero(t, remaining)
		assert.ElementsMatch(t, []seatmap.ChangeEvent{
			seatmap.NewChangeEvent("A1", seatmap.Booked()),
			seatmap.NewChangeEvent("A2", seatmap.Booked()),
		}, env.bc.published())
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("lapsed lock fails the whole request", func(t *testing.T) {
		env := newBookingEnv(t)
		// Only A1 is held; A2's lock expired.
		_, err := env.locker.Acquire(context.Background(), 42, "A1", "user-1")
		require.NoError(t, err)

		expectTrip(env.mock, model.TripScheduled)
		expectSeatCodes(env.mock, "A1", "A2")

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings", "user-1", createBody, nil)
		require.NoError(t, env.handler.Create(c))
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "SEAT_NOT_HELD", decodeBody(t, rec)["code"])
		assert.Empty(t, env.bc.published())
	})

	t.Run("unique key trip reads as SEAT_NOT_HELD", func(t *testing.T) {
		env := newBookingEnv(t)
		ctx := context.Background()
		_, err := env.locker.Acquire(ctx, 42, "A1", "user-1")
		require.NoError(t, err)
		_, err = env.locker.Acquire(ctx, 42, "A2", "user-1")
		require.NoError(t, err)

		expectTrip(env.mock, model.TripScheduled)
		expectSeatCodes(env.mock, "A1", "A2")
		env.mock.ExpectBegin()
		env.mock.ExpectExec(`INSERT INTO bookings`).WillReturnResult(sqlmock.NewResult(7, 1))
		env.mock.ExpectExec(`INSERT INTO tickets`).WillReturnResult(sqlmock.NewResult(31, 1))
		env.mock.ExpectExec(`INSERT INTO tickets`).WillReturnResult(sqlmock.NewResult(32, 1))
		env.mock.ExpectExec(`INSERT INTO trip_seats`).
			WillReturnError(errorDuplicateEntry{})
		env.mock.ExpectRollback()

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings", "user-1", createBody, nil)
		require.NoError(t, env.handler.Create(c))
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "SEAT_NOT_HELD", decodeBody(t, rec)["code"])
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("trip not open for booking", func(t *testing.T) {
		env := newBookingEnv(t)
		expectTrip(env.mock, model.TripCancelled)

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings", "user-1", createBody, nil)
		require.NoError(t, env.handler.Create(c))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("request validation", func(t *testing.T) {
		env := newBookingEnv(t)
		for name, body := range map[string]string{
			"no tickets":     `{"trip_id":42,"contact_name":"Dana","contact_phone":"070","tickets":[]}`,
			"no contact":     `{"trip_id":42,"tickets":[{"seat_code":"A1","passenger_name":"D"}]}`,
			"duplicate seat": `{"trip_id":42,"contact_name":"Dana","contact_phone":"070","tickets":[{"seat_code":"A1","passenger_name":"D"},{"seat_code":"A1","passenger_name":"S"}]}`,
		} {
			c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings", "user-1", body, nil)
			require.NoError(t, env.handler.Create(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})
}

// errorDuplicateEntry mimics the MySQL duplicate-key error text.
type errorDuplicateEntry struct{}

func (errorDuplicateEntry) Error() string {
	return "Error 1062 (23000): Duplicate entry '42-A1' for key 'trip_seats.uniq_trip_seat'"
}

func bookingRow(status string, expiresAt time.Time) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "code", "trip_id", "holder_id", "status", "contact_name",
		"contact_phone", "total_price_cents", "expires_at", "created_at", "updated_at",
	}).AddRow(7, "bk-uuid", 42, "user-1", status, "Dana", "070", 9500, expiresAt, now, now)
}

func expectBookingFetch(mock sqlmock.Sqlmock, status string, expiresAt time.Time) {
	mock.ExpectQuery(`FROM bookings WHERE id = \?`).WithArgs(uint64(7)).
		WillReturnRows(bookingRow(status, expiresAt))
	mock.ExpectQuery(`FROM tickets WHERE booking_id = \?`).WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "booking_id", "seat_code", "passenger_name", "passenger_phone", "price_cents",
		}).AddRow(31, 7, "A1", "Dana", "", 5000).AddRow(32, 7, "A2", "Sam", "", 4500))
}

func TestBookingHandlerConfirm(t *testing.T) {
	t.Run("within the payment window", func(t *testing.T) {
		env := newBookingEnv(t)
		env.mock.ExpectBegin()
		expectBookingFetch(env.mock, model.BookingPending, time.Now().UTC().Add(10*time.Minute))
		env.mock.ExpectExec(`UPDATE bookings SET status`).
			WithArgs(model.BookingConfirmed, uint64(7), model.BookingPending).
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectCommit()
		// Trip and route lookups enrich the confirmation event.
		expectTrip(env.mock, model.TripScheduled)
		env.mock.ExpectQuery(`FROM routes WHERE id = \?`).WithArgs(uint64(1)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "origin", "destination", "is_active", "created_at", "updated_at",
			}).AddRow(1, "Colombo - Kandy", "Colombo", "Kandy", true, time.Now(), time.Now()))

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings/7/confirm", "user-1", "", map[string]string{"id": "7"})
		require.NoError(t, env.handler.Confirm(c))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, model.BookingConfirmed, decodeBody(t, rec)["status"])
		assert.Empty(t, env.bc.published(), "confirmation frees no seats")
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("payment window elapsed", func(t *testing.T) {
		env := newBookingEnv(t)
		env.mock.ExpectBegin()
		expectBookingFetch(env.mock, model.BookingPending, time.Now().UTC().Add(-time.Minute))
		env.mock.ExpectRollback()

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings/7/confirm", "user-1", "", map[string]string{"id": "7"})
		require.NoError(t, env.handler.Confirm(c))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("only the owner may transition", func(t *testing.T) {
		env := newBookingEnv(t)
		env.mock.ExpectBegin()
		expectBookingFetch(env.mock, model.BookingPending, time.Now().UTC().Add(10*time.Minute))
		env.mock.ExpectRollback()

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings/7/confirm", "user-2", "", map[string]string{"id": "7"})
		require.NoError(t, env.handler.Confirm(c))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestBookingHandlerCancel(t *testing.T) {
	t.Run("frees the booking's seats", func(t *testing.T) {
		env := newBookingEnv(t)
		env.mock.ExpectBegin()
		expectBookingFetch(env.mock, model.BookingConfirmed, time.Now().UTC().Add(-time.Hour))
		env.mock.ExpectExec(`UPDATE bookings SET status`).
			WithArgs(model.BookingCancelled, uint64(7), model.BookingConfirmed).
			WillReturnResult(sqlmock.NewResult(0, 1))
		env.mock.ExpectQuery(`SELECT seat_code FROM trip_seats WHERE booking_id = \?`).
			WithArgs(uint64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"seat_code"}).AddRow("A1").AddRow("A2"))
		env.mock.ExpectExec(`DELETE FROM trip_seats`).WithArgs(uint64(7)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		env.mock.ExpectCommit()

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings/7/cancel", "user-1", "", map[string]string{"id": "7"})
		require.NoError(t, env.handler.Cancel(c))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, model.BookingCancelled, decodeBody(t, rec)["status"])
		assert.ElementsMatch(t, []seatmap.ChangeEvent{
			seatmap.NewChangeEvent("A1", seatmap.Available()),
			seatmap.NewChangeEvent("A2", seatmap.Available()),
		}, env.bc.published())
		assert.NoError(t, env.mock.ExpectationsWereMet())
	})

	t.Run("terminal states stay terminal", func(t *testing.T) {
		env := newBookingEnv(t)
		env.mock.ExpectBegin()
		expectBookingFetch(env.mock, model.BookingCancelled, time.Now().UTC())
		env.mock.ExpectRollback()

		c, rec := env.jsonRequest(http.MethodPost, "/v1/bookings/7/cancel", "user-1", "", map[string]string{"id": "7"})
		require.NoError(t, env.handler.Cancel(c))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestBookingHandlerGet(t *testing.T) {
	t.Run("owner reads the booking", func(t *testing.T) {
		env := newBookingEnv(t)
		expectBookingFetch(env.mock, model.BookingPending, time.Now().UTC().Add(10*time.Minute))

		c, rec := env.jsonRequest(http.MethodGet, "/v1/bookings/7", "user-1", "", map[string]string{"id": "7"})
		require.NoError(t, env.handler.Get(c))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "bk-uuid", body["code"])
		assert.Len(t, body["tickets"], 2)
	})

	t.Run("missing booking", func(t *testing.T) {
		env := newBookingEnv(t)
		env.mock.ExpectQuery(`FROM bookings WHERE id = \?`).WithArgs(uint64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		c, rec := env.jsonRequest(http.MethodGet, "/v1/bookings/9", "user-1", "", map[string]string{"id": "9"})
		require.NoError(t, env.handler.Get(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestBookingHandlerListMine(t *testing.T) {
	env := newBookingEnv(t)
	env.mock.ExpectQuery(`FROM bookings WHERE holder_id = \?`).WithArgs("user-1").
		WillReturnRows(bookingRow(model.BookingConfirmed, time.Now().UTC()))

	c, rec := env.jsonRequest(http.MethodGet, "/v1/my-bookings", "user-1", "", nil)
	require.NoError(t, env.handler.ListMine(c))
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["items"].([]interface{})
	require.Len(t, items, 1)
}
