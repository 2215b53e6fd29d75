/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario puts the store into the state it advertises,
	and that the engine behaves as the scenario description says when
	driven over the seeded store.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-sync/freight"
	memstore "github.com/warp/freight-sync/freight/store"
	"github.com/warp/freight-sync/store/sqlite"
)

var scenarioNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func setupSQLiteHandler(t *testing.T) (*Handler, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewHandler(store, nil), store
}

func TestScenarioTrips_Fixtures(t *testing.T) {
	tests := []struct {
		id      string
		order   string
		status  freight.TripStatus
		advance freight.PaymentStatus
		balance freight.PaymentStatus
		pod     bool
	}{
		{"advance-sequence", "FT-1001", freight.StatusBooked, freight.PaymentNotStarted, freight.PaymentNotStarted, false},
		{"pod-autofix", "FT-1002", freight.StatusInTransit, freight.PaymentPaid, freight.PaymentNotStarted, false},
		{"balance-completion", "FT-1003", freight.StatusInTransit, freight.PaymentPaid, freight.PaymentPending, true},
		{"amount-drift", "FT-1004", freight.StatusDelivered, freight.PaymentPaid, freight.PaymentInitiated, true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			trips, err := ScenarioTrips(tt.id, scenarioNow)
			require.NoError(t, err)
			require.Len(t, trips, 1)

			trip := trips[0]
			assert.Equal(t, tt.order, trip.OrderNumber)
			assert.Equal(t, tt.status, trip.Status)
			assert.Equal(t, tt.advance, trip.AdvancePaymentStatus)
			assert.Equal(t, tt.balance, trip.BalancePaymentStatus)
			assert.Equal(t, tt.pod, trip.PodUploaded)
			assert.True(t, trip.AdvanceAmount.Add(trip.BalanceAmount).Equal(trip.SupplierFreight))
		})
	}

	board, err := ScenarioTrips("full-board", scenarioNow)
	require.NoError(t, err)
	assert.Len(t, board, 4)

	_, err = ScenarioTrips("nope", scenarioNow)
	assert.ErrorIs(t, err, ErrUnknownScenario)
}

func TestLoadScenario_ReplacesTrips(t *testing.T) {
	// GIVEN: A store with a full board loaded
	// WHEN: A single-trip scenario is loaded over it
	// THEN: Only that scenario's trip remains
	_, store := setupSQLiteHandler(t)
	ctx := context.Background()

	require.NoError(t, LoadScenario(ctx, store, "full-board", scenarioNow))
	trips, err := store.ListTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 4)
	assert.Equal(t, "FT-1004", trips[0].OrderNumber, "newest first")

	require.NoError(t, LoadScenario(ctx, store, "pod-autofix", scenarioNow))
	trips, err = store.ListTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, "trip-pod", trips[0].ID)
}

func TestScenarioEndpoints(t *testing.T) {
	h, _ := setupSQLiteHandler(t)
	router := NewRouter(h)

	rec := do(t, router, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 5)

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null\n", rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "balance-completion"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "balance-completion", decode[ScenarioDTO](t, rec).ID)

	rec = do(t, router, http.MethodGet, "/api/trips/FT-1003", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type readOnlyStore struct {
	freight.TripStore
}

func TestLoadScenario_StoreWithoutSeeding(t *testing.T) {
	router := NewRouter(NewHandler(readOnlyStore{memstore.NewMemory()}, nil))

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "pod-autofix"})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestScenario_PodAutoFix(t *testing.T) {
	// GIVEN: The pod-autofix scenario
	// WHEN: The balance is initiated through an engine with auto-fix on
	// THEN: POD is marked uploaded first and the balance write lands
	mem := memstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, LoadScenario(ctx, mem, "pod-autofix", scenarioNow))

	engine := freight.New(mem, memstore.NewMemoryKV(), freight.WithPODAutoFix(true))
	trip, rec, err := engine.UpdatePayment(ctx, "FT-1002", freight.Balance(freight.PaymentInitiated), freight.PaymentMeta{})

	require.NoError(t, err)
	assert.Equal(t, freight.TxCompleted, rec.Status)
	assert.True(t, trip.PodUploaded)
	assert.Equal(t, freight.PaymentInitiated, trip.BalancePaymentStatus)
}

func TestScenario_BalanceCompletion(t *testing.T) {
	mem := memstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, LoadScenario(ctx, mem, "balance-completion", scenarioNow))

	engine := freight.New(mem, memstore.NewMemoryKV())
	trip, _, err := engine.UpdatePayment(ctx, "trip-balance", freight.Balance(freight.PaymentPaid), freight.PaymentMeta{})

	require.NoError(t, err)
	assert.Equal(t, freight.StatusCompleted, trip.Status)
}
