package freight_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/freight-sync/freight"
	"github.com/warp/freight-sync/freight/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func tripFixture(id string, status freight.TripStatus, advance, balance freight.PaymentStatus, pod bool) freight.Trip {
	return freight.Trip{
		ID:                   id,
		OrderNumber:          "FT-" + id,
		Status:               status,
		AdvancePaymentStatus: advance,
		BalancePaymentStatus: balance,
		PodUploaded:          pod,
		SupplierFreight:      decimal.NewFromInt(10000),
		AdvancePercentage:    decimal.NewFromInt(50),
		AdvanceAmount:        decimal.NewFromInt(5000),
		BalanceAmount:        decimal.NewFromInt(5000),
		CreatedAt:            testNow,
		UpdatedAt:            testNow,
	}
}

func newMemoryStore(t *testing.T, trips ...freight.Trip) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	for _, trip := range trips {
		require.NoError(t, s.SaveTrip(context.Background(), trip))
	}
	return s
}

func newTestEngine(t *testing.T, s freight.TripStore, opts ...freight.Option) (*freight.Engine, *store.MemoryKV) {
	t.Helper()
	kv := store.NewMemoryKV()
	opts = append([]freight.Option{freight.WithLogger(zaptest.NewLogger(t))}, opts...)
	engine := freight.New(s, kv, opts...)
	t.Cleanup(engine.Stop)
	return engine, kv
}

func mustGet(t *testing.T, s freight.TripStore, id string) freight.Trip {
	t.Helper()
	trip, err := s.GetTrip(context.Background(), id)
	require.NoError(t, err)
	return *trip
}

// recorder collects every event emitted on a bus.
type recorder struct {
	mu     sync.Mutex
	events []freight.Event
}

func record(bus *freight.EventBus) *recorder {
	r := &recorder{}
	bus.SubscribeMany(func(e freight.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	},
		freight.EventPaymentStatusChanged,
		freight.EventTripStatusChanged,
		freight.EventForceRefresh,
		freight.EventTripsRefreshed,
		freight.EventAmountChangeDetected,
	)
	return r
}

func (r *recorder) ofType(t freight.EventType) []freight.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []freight.Event
	for _, e := range r.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// FAULTY STORE
// =============================================================================

var errEndpointDown = errors.New("endpoint unavailable")

// faultyStore wraps a TripStore and breaks selected endpoints.
type faultyStore struct {
	freight.TripStore

	mu sync.Mutex
	// failPaymentEndpoint makes PatchPaymentStatus fail.
	failPaymentEndpoint bool
	// failStatusEndpoint makes PatchStatus fail.
	failStatusEndpoint bool
	// failGeneric makes PatchTrip fail.
	failGeneric bool
	// dropStatusWrites makes PatchStatus report success without applying.
	dropStatusWrites int
	// failGets makes GetTrip fail.
	failGets bool

	calls map[string]int
}

func newFaultyStore(inner freight.TripStore) *faultyStore {
	return &faultyStore{TripStore: inner, calls: make(map[string]int)}
}

func (f *faultyStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyStore) hit(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *faultyStore) GetTrip(ctx context.Context, ref string) (*freight.Trip, error) {
	f.hit("get")
	if f.failGets {
		return nil, errEndpointDown
	}
	return f.TripStore.GetTrip(ctx, ref)
}

func (f *faultyStore) PatchTrip(ctx context.Context, ref string, p freight.TripPatch) (*freight.Trip, error) {
	f.hit("patch")
	if f.failGeneric {
		return nil, errEndpointDown
	}
	return f.TripStore.PatchTrip(ctx, ref, p)
}

func (f *faultyStore) PatchPaymentStatus(ctx context.Context, ref string, upd freight.PaymentUpdate) (*freight.Trip, error) {
	f.hit("payment")
	if f.failPaymentEndpoint {
		return nil, errEndpointDown
	}
	return f.TripStore.PatchPaymentStatus(ctx, ref, upd)
}

func (f *faultyStore) PatchStatus(ctx context.Context, ref string, status freight.TripStatus) (*freight.Trip, error) {
	f.hit("status")
	f.mu.Lock()
	drop := f.dropStatusWrites > 0
	if drop {
		f.dropStatusWrites--
	}
	f.mu.Unlock()
	if f.failStatusEndpoint {
		return nil, errEndpointDown
	}
	if drop {
		return f.TripStore.GetTrip(ctx, ref)
	}
	return f.TripStore.PatchStatus(ctx, ref, status)
}

// =============================================================================
// LAGGING STORE
// =============================================================================

// laggingStore serves GetTrip from snapshots taken by freeze, the way a
// read replica behind the write path would. Writes go to the inner store.
type laggingStore struct {
	freight.TripStore

	mu     sync.Mutex
	frozen map[string]freight.Trip
}

func newLaggingStore(inner freight.TripStore) *laggingStore {
	return &laggingStore{TripStore: inner, frozen: make(map[string]freight.Trip)}
}

// freeze pins the current state of ref, under both its id and order number.
func (l *laggingStore) freeze(t *testing.T, ref string) {
	t.Helper()
	trip, err := l.TripStore.GetTrip(context.Background(), ref)
	require.NoError(t, err)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen[trip.ID] = trip.Clone()
	l.frozen[trip.OrderNumber] = trip.Clone()
}

// server reads through to the inner store.
func (l *laggingStore) server(t *testing.T, ref string) freight.Trip {
	t.Helper()
	return mustGet(t, l.TripStore, ref)
}

func (l *laggingStore) GetTrip(ctx context.Context, ref string) (*freight.Trip, error) {
	l.mu.Lock()
	trip, ok := l.frozen[ref]
	l.mu.Unlock()
	if ok {
		c := trip.Clone()
		return &c, nil
	}
	return l.TripStore.GetTrip(ctx, ref)
}
