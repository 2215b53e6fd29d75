package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/freight-sync/freight"
	"github.com/warp/freight-sync/store/redis"
)

// newKV connects to FREIGHTSYNC_TEST_REDIS_ADDR under a unique prefix.
func newKV(t *testing.T) *redis.KV {
	t.Helper()
	addr := os.Getenv("FREIGHTSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FREIGHTSYNC_TEST_REDIS_ADDR not set")
	}
	kv := redis.New(addr, "", 0, "freightsync-test:"+uuid.NewString()+":")
	require.NoError(t, kv.Ping(context.Background()))
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKV_GetSetDelete(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, "payment_t1_advance")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "payment_t1_advance", "Paid"))
	v, ok, err := kv.Get(ctx, "payment_t1_advance")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Paid", v)

	require.NoError(t, kv.Delete(ctx, "payment_t1_advance"))
	_, ok, _ = kv.Get(ctx, "payment_t1_advance")
	assert.False(t, ok)
}

func TestKV_DriftReference(t *testing.T) {
	kv := newKV(t)
	ctx := context.Background()
	cache := freight.NewReconciliationCache(kv, nil)

	trip := freight.Trip{
		ID:                   "t1",
		Status:               freight.StatusDelivered,
		AdvancePaymentStatus: freight.PaymentPaid,
		BalancePaymentStatus: freight.PaymentPending,
		BalanceAmount:        decimal.NewFromInt(5000),
	}
	m, err := cache.Reconcile(ctx, trip)
	require.NoError(t, err)
	assert.False(t, m.Trip.AmountChanged, "first sighting sets the reference")

	trip.BalanceAmount = decimal.NewFromInt(6000)
	m, err = cache.Reconcile(ctx, trip)
	require.NoError(t, err)
	assert.True(t, m.Trip.AmountChanged)

	ref, ok, err := cache.ReferenceAmount(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ref.Equal(decimal.NewFromInt(5000)))
}

func TestKV_PingFailsWithoutServer(t *testing.T) {
	kv := redis.New("127.0.0.1:1", "", 0, "")
	defer kv.Close()

	assert.Error(t, kv.Ping(context.Background()))
}
