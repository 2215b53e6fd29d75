/*
handlers_test.go - Unit tests for the store API handlers

Tests for:
- Trip CRUD over the router
- Payment-status and status write validation
- Error status codes
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-sync/freight"
	memstore "github.com/warp/freight-sync/freight/store"
)

func setupStoreRouter(t *testing.T) (http.Handler, *memstore.Memory) {
	t.Helper()
	mem := memstore.NewMemory()
	return NewRouter(NewHandler(mem, nil)), mem
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func seedTrip(t *testing.T, mem *memstore.Memory, order string) *freight.Trip {
	t.Helper()
	trip, err := mem.CreateTrip(context.Background(), freight.TripDraft{
		OrderNumber:       order,
		SupplierFreight:   decimal.NewFromInt(10000),
		AdvancePercentage: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	return trip
}

func TestCreateTrip(t *testing.T) {
	// GIVEN: An empty store
	// WHEN: A trip is posted
	// THEN: It is created Booked with the freight split
	h, _ := setupStoreRouter(t)

	rec := do(t, h, http.MethodPost, "/api/trips", freight.TripDraft{
		OrderNumber:       "FT-9",
		SupplierFreight:   decimal.NewFromInt(8000),
		AdvancePercentage: decimal.NewFromInt(25),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	trip := decode[freight.Trip](t, rec)
	assert.Equal(t, "FT-9", trip.OrderNumber)
	assert.Equal(t, freight.StatusBooked, trip.Status)
	assert.True(t, trip.AdvanceAmount.Equal(decimal.NewFromInt(2000)))
	assert.True(t, trip.BalanceAmount.Equal(decimal.NewFromInt(6000)))
}

func TestCreateTrip_RejectsNegativeFreight(t *testing.T) {
	h, _ := setupStoreRouter(t)

	rec := do(t, h, http.MethodPost, "/api/trips", freight.TripDraft{SupplierFreight: decimal.NewFromInt(-1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/trips", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTrips_StatusFilter(t *testing.T) {
	h, mem := setupStoreRouter(t)
	seedTrip(t, mem, "FT-1")
	moved := seedTrip(t, mem, "FT-2")
	_, err := mem.PatchStatus(context.Background(), moved.ID, freight.StatusInTransit)
	require.NoError(t, err)

	rec := do(t, h, http.MethodGet, "/api/trips", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]freight.Trip](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/api/trips?status=In+Transit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trips := decode[[]freight.Trip](t, rec)
	require.Len(t, trips, 1)
	assert.Equal(t, "FT-2", trips[0].OrderNumber)
}

func TestGetTrip(t *testing.T) {
	h, mem := setupStoreRouter(t)
	trip := seedTrip(t, mem, "FT-1")

	rec := do(t, h, http.MethodGet, "/api/trips/FT-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, trip.ID, decode[freight.Trip](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/api/trips/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Trip not found", decode[ErrorResponse](t, rec).Error)
}

func TestPatchPaymentStatus(t *testing.T) {
	h, mem := setupStoreRouter(t)
	trip := seedTrip(t, mem, "FT-1")
	path := "/api/trips/" + trip.ID + "/payment-status"

	rec := do(t, h, http.MethodPatch, path, PaymentStatusRequest{
		AdvancePaymentStatus: freight.PaymentInitiated,
		UTRNumber:            "UTR-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[freight.Trip](t, rec)
	assert.Equal(t, freight.PaymentInitiated, got.AdvancePaymentStatus)
	assert.Equal(t, "UTR-1", got.UTRNumber)

	tests := []struct {
		name string
		body PaymentStatusRequest
	}{
		{"neither field", PaymentStatusRequest{}},
		{"both fields", PaymentStatusRequest{AdvancePaymentStatus: freight.PaymentPaid, BalancePaymentStatus: freight.PaymentPaid}},
		{"unknown status", PaymentStatusRequest{BalancePaymentStatus: "Refunded"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPatch, path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPatchStatus(t *testing.T) {
	h, mem := setupStoreRouter(t)
	trip := seedTrip(t, mem, "FT-1")

	// The store API writes what it is given; business rules live in the engine.
	rec := do(t, h, http.MethodPatch, "/api/trips/"+trip.ID+"/status", StatusRequest{Status: freight.StatusCompleted})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, freight.StatusCompleted, decode[freight.Trip](t, rec).Status)

	rec = do(t, h, http.MethodPatch, "/api/trips/"+trip.ID+"/status", StatusRequest{Status: "Lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/trips/ghost/status", StatusRequest{Status: freight.StatusDelivered})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchTrip(t *testing.T) {
	h, mem := setupStoreRouter(t)
	trip := seedTrip(t, mem, "FT-1")

	rec := do(t, h, http.MethodPatch, "/api/trips/"+trip.ID, `{"podUploaded":true,"balanceAmount":"6200"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[freight.Trip](t, rec)
	assert.True(t, got.PodUploaded)
	assert.True(t, got.BalanceAmount.Equal(decimal.NewFromInt(6200)))

	rec = do(t, h, http.MethodPatch, "/api/trips/"+trip.ID, `{"advancePaymentStatus":"Refunded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddDocument(t *testing.T) {
	h, mem := setupStoreRouter(t)
	trip := seedTrip(t, mem, "FT-1")

	rec := do(t, h, http.MethodPost, "/api/trips/"+trip.ID+"/documents", freight.Document{Type: "pod", Filename: "pod.jpg"})
	require.Equal(t, http.StatusCreated, rec.Code)
	got := decode[freight.Trip](t, rec)
	assert.True(t, got.PodUploaded)
	require.Len(t, got.Documents, 1)

	rec = do(t, h, http.MethodPost, "/api/trips/"+trip.ID+"/documents", freight.Document{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := setupStoreRouter(t)

	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
