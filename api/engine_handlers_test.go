/*
engine_handlers_test.go - Unit tests for the engine API handlers

Tests for:
- Payment changes through the coordinator, including next-status
- Precondition rejections mapped to 409 with a reason code
- Queue views and transaction records
- Store outages mapped to 503
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-sync/freight"
	memstore "github.com/warp/freight-sync/freight/store"
)

func setupEngineRouter(t *testing.T, scenario string) (http.Handler, *freight.Engine, *memstore.Memory) {
	t.Helper()
	mem := memstore.NewMemory()
	if scenario != "" {
		require.NoError(t, LoadScenario(context.Background(), mem, scenario, scenarioNow))
	}
	engine := freight.New(mem, memstore.NewMemoryKV())
	return NewEngineRouter(NewEngineHandler(engine, nil)), engine, mem
}

func TestEngineUpdatePayment_NextStatus(t *testing.T) {
	// GIVEN: A booked trip with nothing paid
	// WHEN: The advance is advanced three times without an explicit status
	// THEN: It walks Initiated, Pending, Paid and the trip moves In Transit
	router, _, _ := setupEngineRouter(t, "advance-sequence")

	want := []freight.PaymentStatus{freight.PaymentInitiated, freight.PaymentPending, freight.PaymentPaid}
	var last TransactionResponse
	for _, status := range want {
		rec := do(t, router, http.MethodPost, "/engine/trips/FT-1001/payments", PaymentRequest{Field: freight.FieldAdvance})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		last = decode[TransactionResponse](t, rec)
		assert.Equal(t, status, last.Trip.AdvancePaymentStatus)
	}
	assert.Equal(t, freight.StatusInTransit, last.Trip.Status)
	assert.Equal(t, freight.TxCompleted, last.Transaction.Status)

	rec := do(t, router, http.MethodPost, "/engine/trips/FT-1001/payments", PaymentRequest{Field: freight.FieldAdvance})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(freight.ReasonAlreadyPaid), decode[ErrorResponse](t, rec).Code)
}

func TestEngineUpdatePayment_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		path     string
		body     any
		code     int
		reason   freight.Reason
	}{
		{
			name:     "balance before advance",
			scenario: "advance-sequence",
			path:     "/engine/trips/FT-1001/payments",
			body:     PaymentRequest{Field: freight.FieldBalance, Status: freight.PaymentInitiated},
			code:     http.StatusConflict,
			reason:   freight.ReasonAdvanceRequired,
		},
		{
			name:     "paid advance",
			scenario: "balance-completion",
			path:     "/engine/trips/FT-1003/payments",
			body:     PaymentRequest{Field: freight.FieldAdvance, Status: freight.PaymentPending},
			code:     http.StatusConflict,
			reason:   freight.ReasonAlreadyPaid,
		},
		{
			name:     "unknown field",
			scenario: "advance-sequence",
			path:     "/engine/trips/FT-1001/payments",
			body:     PaymentRequest{Field: "tip", Status: freight.PaymentPaid},
			code:     http.StatusBadRequest,
		},
		{
			name:     "unknown status",
			scenario: "advance-sequence",
			path:     "/engine/trips/FT-1001/payments",
			body:     PaymentRequest{Field: freight.FieldAdvance, Status: "Refunded"},
			code:     http.StatusBadRequest,
		},
		{
			name:     "unknown trip",
			scenario: "advance-sequence",
			path:     "/engine/trips/ghost/payments",
			body:     PaymentRequest{Field: freight.FieldAdvance, Status: freight.PaymentPaid},
			code:     http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, _ := setupEngineRouter(t, tt.scenario)

			rec := do(t, router, http.MethodPost, tt.path, tt.body)

			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.reason != "" {
				resp := decode[ErrorResponse](t, rec)
				assert.Equal(t, string(tt.reason), resp.Code)
				assert.Equal(t, tt.reason.Message(), resp.Error)
			}
		})
	}
}

func TestEngineSetStatus(t *testing.T) {
	router, _, _ := setupEngineRouter(t, "pod-autofix")

	rec := do(t, router, http.MethodPut, "/engine/trips/FT-1002/status", StatusRequest{Status: freight.StatusBooked})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(freight.ReasonStatusRegression), decode[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPut, "/engine/trips/FT-1002/status", StatusRequest{Status: freight.StatusCompleted})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(freight.ReasonBalanceRequired), decode[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPut, "/engine/trips/FT-1002/status", StatusRequest{Status: freight.StatusDelivered, Reason: "unloaded"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, freight.StatusDelivered, decode[TransactionResponse](t, rec).Trip.Status)
}

func TestEngineUploadPODAndConfirmAmount(t *testing.T) {
	router, _, mem := setupEngineRouter(t, "pod-autofix")

	rec := do(t, router, http.MethodPost, "/engine/trips/FT-1002/pod", freight.Document{Filename: "pod.jpg"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[freight.Trip](t, rec).PodUploaded)

	rec = do(t, router, http.MethodPost, "/engine/trips/FT-1002/confirm-amount", `{"amount":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/engine/trips/FT-1002/confirm-amount", ConfirmAmountRequest{Amount: decimal.NewFromInt(5500)})
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[freight.Trip](t, rec)
	assert.True(t, confirmed.BalanceAmount.Equal(decimal.NewFromInt(5500)))
	assert.False(t, confirmed.AmountChanged)

	stored, err := mem.GetTrip(context.Background(), "trip-pod")
	require.NoError(t, err)
	assert.True(t, stored.BalanceAmount.Equal(decimal.NewFromInt(5500)))
}

func TestEngineCreateTrip(t *testing.T) {
	router, _, _ := setupEngineRouter(t, "")

	rec := do(t, router, http.MethodPost, "/engine/trips", freight.TripDraft{
		OrderNumber:       "FT-77",
		SupplierFreight:   decimal.NewFromInt(20000),
		AdvancePercentage: decimal.NewFromInt(70),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[TransactionResponse](t, rec)
	assert.Equal(t, freight.PaymentInitiated, resp.Trip.AdvancePaymentStatus)
	assert.Equal(t, freight.TxCompleted, resp.Transaction.Status)
	assert.NotEmpty(t, resp.Transaction.ID)
}

func TestEngineQueues(t *testing.T) {
	router, _, _ := setupEngineRouter(t, "full-board")

	rec := do(t, router, http.MethodGet, "/engine/queues", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	queues := decode[QueuesResponse](t, rec)
	assert.NotNil(t, queues.Advance)
	assert.Empty(t, queues.Advance, "no advance is in progress yet")
	assert.Len(t, queues.Balance, 3)
	assert.Len(t, queues.History, 3)

	// Starting the booked trip's advance puts it in the advance queue.
	rec = do(t, router, http.MethodPost, "/engine/trips/FT-1001/payments", PaymentRequest{Field: freight.FieldAdvance})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/engine/queues/advance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	advance := decode[[]freight.Trip](t, rec)
	require.Len(t, advance, 1)
	assert.Equal(t, "FT-1001", advance[0].OrderNumber)

	rec = do(t, router, http.MethodGet, "/engine/queues/refunds", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEngineTransactions(t *testing.T) {
	router, _, _ := setupEngineRouter(t, "balance-completion")

	rec := do(t, router, http.MethodPost, "/engine/trips/trip-balance/payments", PaymentRequest{Field: freight.FieldBalance, Status: freight.PaymentPaid})
	require.Equal(t, http.StatusOK, rec.Code)
	txID := decode[TransactionResponse](t, rec).Transaction.ID

	rec = do(t, router, http.MethodGet, "/engine/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]freight.TransactionRecord](t, rec), 1)

	rec = do(t, router, http.MethodGet, "/engine/transactions/"+txID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record := decode[freight.TransactionRecord](t, rec)
	assert.Equal(t, "trip-balance", record.EntityID)
	assert.Equal(t, freight.StatusCompleted, record.Result.Status)

	rec = do(t, router, http.MethodGet, "/engine/transactions/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type downStore struct {
	freight.TripStore
}

func (downStore) ListTrips(context.Context) ([]freight.Trip, error) {
	return nil, &freight.StoreError{Op: "list trips", Err: errors.New("connection refused")}
}

func TestEngineStoreUnavailable(t *testing.T) {
	engine := freight.New(downStore{memstore.NewMemory()}, memstore.NewMemoryKV())
	router := NewEngineRouter(NewEngineHandler(engine, nil))

	rec := do(t, router, http.MethodGet, "/engine/trips", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, freight.UserMessage(freight.ErrStoreUnavailable), decode[ErrorResponse](t, rec).Error)
}
