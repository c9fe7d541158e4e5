package seatmap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors for the outcomes callers must branch on.  Conflicts are
// expected, not exceptional: they are never retried automatically and are
// surfaced to the user as "someone else took this seat".
var (
	// ErrSeatConflict means the seat was already locked or booked when a
	// lock was attempted.
	ErrSeatConflict = errors.New("seat is no longer available")
	// ErrSeatNotHeld means booking validation failed because at least one
	// lock expired or was stolen between selection and submission.  The
	// caller routes the user back to seat selection.
	ErrSeatNotHeld = errors.New("a selected seat is no longer held by this session")
	// ErrNotFound covers unknown trips, seats, layouts and bookings.
	ErrNotFound = errors.New("not found")
)

// APIError is a server rejection that does not map to one of the sentinel
// errors above, e.g. a request validation failure.  Transport failures are
// returned as wrapped errors, never as *APIError, so callers can tell
// "server said no" apart from "request never got an answer".
type APIError struct {
	StatusCode int    // HTTP status
	Code       string // machine-readable code when the server sent one
	Message    string // human-readable error message
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Layout mirrors the bus layout resource: the static geometry every other
// component consumes, never mutated by the booking flow.
type Layout struct {
	ID     uint64     `json:"id"`
	Name   string     `json:"name"`
	Floors int        `json:"floors"`
	Rows   int        `json:"rows"`
	Cols   int        `json:"cols"`
	Seats  []SeatCell `json:"seats"`
}

// SeatCell is one physical seat in the layout grid.
type SeatCell struct {
	SeatCode  string `json:"seat_code"`
	Floor     int    `json:"floor"`
	Row       int    `json:"row"`
	Col       int    `json:"col"`
	SeatClass string `json:"seat_class"`
}

// TicketRequest is one passenger/seat pair submitted with a booking.
type TicketRequest struct {
	SeatCode       string `json:"seat_code"`
	PassengerName  string `json:"passenger_name"`
	PassengerPhone string `json:"passenger_phone"`
	PriceCents     uint32 `json:"price_cents"`
}

// Contact is the booking-level contact information.
type Contact struct {
	Name  string `json:"contact_name"`
	Phone string `json:"contact_phone"`
}

// Ticket is one confirmed seat inside a booking.
type Ticket struct {
	SeatCode       string `json:"seat_code"`
	PassengerName  string `json:"passenger_name"`
	PassengerPhone string `json:"passenger_phone"`
	PriceCents     uint32 `json:"price_cents"`
}

// Booking is the durable record created from a set of held locks.
type Booking struct {
	ID              uint64   `json:"id"`
	Code            string   `json:"code"`
	TripID          uint64   `json:"trip_id"`
	Status          string   `json:"status"` // PENDING, CONFIRMED, CANCELLED, REFUNDED
	ContactName     string   `json:"contact_name"`
	ContactPhone    string   `json:"contact_phone"`
	TotalPriceCents uint32   `json:"total_price_cents"`
	ExpiresAt       string   `json:"expires_at,omitempty"` // payment window for PENDING bookings
	Tickets         []Ticket `json:"tickets"`
}

// LockGrant is the server's response to a successful lock request.
type LockGrant struct {
	SeatCode  string    `json:"seat_code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client calls the booking service's REST API on behalf of one session.
// The bearer token identifies the session; HolderID must match the
// token's subject because the reconciler compares it against broadcast
// lock holders.
type Client struct {
	BaseURL  string
	Token    string // bearer access token from the external issuer
	HolderID string // session identity, equals the token subject
	HTTP     *http.Client
}

// NewClient builds a client with a sane default timeout.
func NewClient(baseURL, token, holderID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		Token:    token,
		HolderID: holderID,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SeatSnapshot fetches the full seat status map for a trip.  Satisfies
// SnapshotSource for the Store.
func (c *Client) SeatSnapshot(ctx context.Context, tripID uint64) (map[string]string, error) {
	var out struct {
		Seats map[string]string `json:"seats"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/trips/%d/seats", tripID), nil, &out); err != nil {
		return nil, err
	}
	if out.Seats == nil {
		out.Seats = map[string]string{}
	}
	return out.Seats, nil
}

// Layout fetches the static seat geometry for a bus layout.
func (c *Client) Layout(ctx context.Context, layoutID uint64) (*Layout, error) {
	var out Layout
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/layouts/%d", layoutID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lock requests a temporary hold on one seat.  Success means the server
// granted the lock; the broadcast echo will follow.  A conflict is a
// normal outcome of racing another session and comes back as
// ErrSeatConflict.  The caller must not mark the seat as held before this
// returns nil.
func (c *Client) Lock(ctx context.Context, tripID uint64, seatCode string) (*LockGrant, error) {
	var out LockGrant
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/trips/%d/seats/%s/lock", tripID, seatCode), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Unlock releases a hold this session owns.  Releasing a seat the session
// does not hold is a benign no-op: the server answers released=false and
// no error is returned.
func (c *Client) Unlock(ctx context.Context, tripID uint64, seatCode string) error {
	var out struct {
		Released bool `json:"released"`
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/trips/%d/seats/%s/unlock", tripID, seatCode), nil, &out)
}

// CreateBooking submits the held seat set plus passenger data.  The
// server re-validates every lock before committing; if any lock lapsed
// the whole request fails atomically with ErrSeatNotHeld.
func (c *Client) CreateBooking(ctx context.Context, tripID uint64, contact Contact, tickets []TicketRequest) (*Booking, error) {
	body := struct {
		TripID  uint64          `json:"trip_id"`
		Contact                 // embeds contact_name / contact_phone
		Tickets []TicketRequest `json:"tickets"`
	}{TripID: tripID, Contact: contact, Tickets: tickets}
	var out Booking
	if err := c.do(ctx, http.MethodPost, "/v1/bookings", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmBooking moves a PENDING booking to CONFIRMED.
func (c *Client) ConfirmBooking(ctx context.Context, bookingID uint64) (*Booking, error) {
	var out Booking
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/bookings/%d/confirm", bookingID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelBooking cancels a PENDING or CONFIRMED booking, freeing its seats.
func (c *Client) CancelBooking(ctx context.Context, bookingID uint64) (*Booking, error) {
	var out Booking
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/bookings/%d/cancel", bookingID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do performs one request/response cycle and maps failures onto the error
// taxonomy.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response from %s %s: %w", method, path, err)
		}
		return nil
	}
	return c.asError(resp)
}

// asError decodes an error body and maps known statuses/codes onto the
// sentinel errors.
func (c *Client) asError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body.Error)
	case resp.StatusCode == http.StatusConflict && body.Code == "SEAT_NOT_HELD":
		return fmt.Errorf("%w: %s", ErrSeatNotHeld, body.Error)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrSeatConflict, body.Error)
	}
	return &APIError{StatusCode: resp.StatusCode, Code: body.Code, Message: body.Error}
}
