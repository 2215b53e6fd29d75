/*
Package client implements freight.TripStore over the REST store API.

PURPOSE:
  Lets an engine run in a different process from the store server. Each
  TripStore method maps to one HTTP request; replies are mapped onto the
  engine's error taxonomy.

ERROR MAPPING:
  transport failure      -> freight.StoreError (StoreUnavailable)
  404                    -> freight.ErrNotFound
  5xx                    -> freight.StoreError (StoreUnavailable)
  other 4xx              -> freight.RequestError

SEE ALSO:
  - api/server.go: The server side of these routes
  - freight/coordinator.go: Falls back from dedicated to generic routes
*/
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/warp/freight-sync/freight"
)

// DefaultTimeout bounds every store request.
const DefaultTimeout = 10 * time.Second

// Client is an HTTP TripStore.
type Client struct {
	http *resty.Client
}

// New creates a client for the API rooted at baseURL,
// e.g. "http://localhost:3000/api".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	h := resty.New()
	h.SetBaseURL(baseURL)
	h.SetTimeout(timeout)
	h.SetHeader("Accept", "application/json")
	return &Client{http: h}
}

// NewWithResty wraps a preconfigured resty client.
func NewWithResty(h *resty.Client) *Client {
	return &Client{http: h}
}

type errorBody struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type paymentStatusBody struct {
	AdvancePaymentStatus freight.PaymentStatus `json:"advancePaymentStatus,omitempty"`
	BalancePaymentStatus freight.PaymentStatus `json:"balancePaymentStatus,omitempty"`
	UTRNumber            string                `json:"utrNumber,omitempty"`
	PaymentMethod        string                `json:"paymentMethod,omitempty"`
}

type statusBody struct {
	Status freight.TripStatus `json:"status"`
}

// =============================================================================
// TRIP STORE (freight.TripStore interface)
// =============================================================================

func (c *Client) ListTrips(ctx context.Context) ([]freight.Trip, error) {
	trips := []freight.Trip{}
	resp, err := c.request(ctx, &trips).Get("/trips")
	if err := check("list trips", "", resp, err); err != nil {
		return nil, err
	}
	return trips, nil
}

func (c *Client) GetTrip(ctx context.Context, ref string) (*freight.Trip, error) {
	var t freight.Trip
	resp, err := c.request(ctx, &t).
		SetPathParam("id", ref).
		Get("/trips/{id}")
	if err := check("get trip", ref, resp, err); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) CreateTrip(ctx context.Context, draft freight.TripDraft) (*freight.Trip, error) {
	var t freight.Trip
	resp, err := c.request(ctx, &t).
		SetBody(draft).
		Post("/trips")
	if err := check("create trip", "", resp, err); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) PatchTrip(ctx context.Context, ref string, patch freight.TripPatch) (*freight.Trip, error) {
	var t freight.Trip
	resp, err := c.request(ctx, &t).
		SetPathParam("id", ref).
		SetBody(patch).
		Patch("/trips/{id}")
	if err := check("patch trip", ref, resp, err); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) PatchPaymentStatus(ctx context.Context, ref string, upd freight.PaymentUpdate) (*freight.Trip, error) {
	body := paymentStatusBody{UTRNumber: upd.UTRNumber, PaymentMethod: upd.PaymentMethod}
	switch upd.Field {
	case freight.FieldAdvance:
		body.AdvancePaymentStatus = upd.Status
	case freight.FieldBalance:
		body.BalancePaymentStatus = upd.Status
	default:
		return nil, fmt.Errorf("%w: unknown payment field %q", freight.ErrInvalidPatch, upd.Field)
	}

	var t freight.Trip
	resp, err := c.request(ctx, &t).
		SetPathParam("id", ref).
		SetBody(body).
		Patch("/trips/{id}/payment-status")
	if err := check("patch payment status", ref, resp, err); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) PatchStatus(ctx context.Context, ref string, status freight.TripStatus) (*freight.Trip, error) {
	var t freight.Trip
	resp, err := c.request(ctx, &t).
		SetPathParam("id", ref).
		SetBody(statusBody{Status: status}).
		Patch("/trips/{id}/status")
	if err := check("patch status", ref, resp, err); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) AddDocument(ctx context.Context, ref string, doc freight.Document) (*freight.Trip, error) {
	var t freight.Trip
	resp, err := c.request(ctx, &t).
		SetPathParam("id", ref).
		SetBody(doc).
		Post("/trips/{id}/documents")
	if err := check("add document", ref, resp, err); err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) request(ctx context.Context, result any) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetResult(result).
		SetError(&errorBody{})
}

// check maps a resty outcome onto the engine's error taxonomy.
func check(op, ref string, resp *resty.Response, err error) error {
	if err != nil {
		return &freight.StoreError{Op: op, Err: err}
	}

	code := resp.StatusCode()
	if code < http.StatusBadRequest {
		return nil
	}

	msg := http.StatusText(code)
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		msg = body.Error
	}

	switch {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", freight.ErrNotFound, ref)
	case code >= http.StatusInternalServerError:
		return &freight.StoreError{Op: op, Err: fmt.Errorf("status %d: %s", code, msg)}
	default:
		return &freight.RequestError{StatusCode: code, Message: msg}
	}
}
