package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-sync/freight"
	"github.com/warp/freight-sync/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testNow() time.Time {
	return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
}

func draft(order string) freight.TripDraft {
	return freight.TripDraft{
		OrderNumber:       order,
		LRNumbers:         []string{"LR-" + order},
		ClientName:        "Acme",
		SupplierName:      "Roadways",
		SupplierFreight:   decimal.RequireFromString("12500.50"),
		AdvancePercentage: decimal.NewFromInt(40),
	}
}

// =============================================================================
// TRIP STORE
// =============================================================================

func TestStore_CreateAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.CreateTrip(ctx, draft("FT-1"))
	require.NoError(t, err)

	got, err := s.GetTrip(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "FT-1", got.OrderNumber)
	assert.Equal(t, []string{"LR-FT-1"}, got.LRNumbers)
	assert.Equal(t, freight.StatusBooked, got.Status)
	assert.Equal(t, freight.PaymentNotStarted, got.BalancePaymentStatus)
	assert.True(t, got.SupplierFreight.Equal(decimal.RequireFromString("12500.50")))
	assert.True(t, got.AdvanceAmount.Add(got.BalanceAmount).Equal(got.SupplierFreight))

	byOrder, err := s.GetTrip(ctx, "FT-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byOrder.ID)

	_, err = s.GetTrip(ctx, "missing")
	assert.ErrorIs(t, err, freight.ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, _ := s.CreateTrip(ctx, draft("FT-1"))
	second, _ := s.CreateTrip(ctx, draft("FT-2"))
	_, err := s.AddDocument(ctx, first.ID, freight.Document{Type: freight.DocumentTypePOD, Filename: "pod.pdf"})
	require.NoError(t, err)

	trips, err := s.ListTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, second.ID, trips[0].ID)
	assert.Equal(t, first.ID, trips[1].ID)
	assert.Len(t, trips[1].Documents, 1)
	assert.Empty(t, trips[0].Documents)
}

func TestStore_Patches(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	created, _ := s.CreateTrip(ctx, draft("FT-1"))

	// GIVEN a dedicated payment write with metadata
	trip, err := s.PatchPaymentStatus(ctx, created.ID, freight.PaymentUpdate{
		Field:       freight.FieldAdvance,
		Status:      freight.PaymentPaid,
		PaymentMeta: freight.PaymentMeta{UTRNumber: "UTR9", PaymentMethod: "NEFT"},
	})
	require.NoError(t, err)

	// THEN it is persisted
	assert.Equal(t, freight.PaymentPaid, trip.AdvancePaymentStatus)
	reloaded, _ := s.GetTrip(ctx, created.ID)
	assert.Equal(t, "UTR9", reloaded.UTRNumber)
	assert.Equal(t, "NEFT", reloaded.PaymentMethod)

	_, err = s.PatchStatus(ctx, "FT-1", freight.StatusInTransit)
	require.NoError(t, err)

	amount := decimal.NewFromInt(9000)
	pod := true
	_, err = s.PatchTrip(ctx, created.ID, freight.TripPatch{BalanceAmount: &amount, PodUploaded: &pod})
	require.NoError(t, err)

	reloaded, _ = s.GetTrip(ctx, created.ID)
	assert.Equal(t, freight.StatusInTransit, reloaded.Status)
	assert.True(t, reloaded.BalanceAmount.Equal(amount))
	assert.True(t, reloaded.PodUploaded)

	_, err = s.PatchStatus(ctx, "missing", freight.StatusDelivered)
	assert.ErrorIs(t, err, freight.ErrNotFound)
}

func TestStore_SaveAndReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	trip := freight.NewTrip(draft("FT-7"), testNow())
	trip.ID = "trip-7"
	trip.Documents = []freight.Document{{Type: freight.DocumentTypePOD, UploadedAt: testNow()}}
	require.NoError(t, s.SaveTrip(ctx, trip))

	// saving again replaces rather than duplicates
	trip.Status = freight.StatusDelivered
	require.NoError(t, s.SaveTrip(ctx, trip))

	trips, err := s.ListTrips(ctx)
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, freight.StatusDelivered, trips[0].Status)
	assert.Len(t, trips[0].Documents, 1)

	require.NoError(t, s.Set(ctx, "payment_trip-7_advance", "Paid"))
	require.NoError(t, s.Reset(ctx))

	trips, _ = s.ListTrips(ctx)
	assert.Empty(t, trips)
	_, ok, _ := s.Get(ctx, "payment_trip-7_advance")
	assert.True(t, ok, "reset keeps side-channel keys")
}

// =============================================================================
// KV
// =============================================================================

func TestStore_KV(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "original_balance_t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "original_balance_t1", "5000"))
	require.NoError(t, s.Set(ctx, "original_balance_t1", "6200"))
	v, ok, err := s.Get(ctx, "original_balance_t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "6200", v)

	require.NoError(t, s.Delete(ctx, "original_balance_t1"))
	_, ok, _ = s.Get(ctx, "original_balance_t1")
	assert.False(t, ok)
}

func TestStore_BacksReconciliationCache(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	cache := freight.NewReconciliationCache(s, nil)

	require.NoError(t, cache.Put(ctx, "t1", freight.FieldAdvance, freight.PaymentPaid))

	// a second cache over the same database sees the override
	other := freight.NewReconciliationCache(s, nil)
	got, ok, err := other.Get(ctx, "t1", freight.FieldAdvance)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, freight.PaymentPaid, got)
}

// =============================================================================
// SQL MOCK
// =============================================================================

func TestStore_GetTripNoRowsIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM trips WHERE id = \? OR order_number = \?`).
		WithArgs("ghost", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s := sqlite.NewWithDB(db)
	_, err = s.GetTrip(context.Background(), "ghost")

	assert.True(t, freight.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_KVErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO kv`).
		WithArgs("k", "v", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT value FROM kv WHERE key = \?`).
		WithArgs("k").
		WillReturnError(errors.New("disk I/O error"))

	s := sqlite.NewWithDB(db)
	require.NoError(t, s.Set(context.Background(), "k", "v"))

	_, _, err = s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read key k")
	assert.NoError(t, mock.ExpectationsWereMet())
}
