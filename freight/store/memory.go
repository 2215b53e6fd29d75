// Package store provides in-memory TripStore and KV implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/warp/freight-sync/freight"
)

// =============================================================================
// MEMORY TRIP STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	trips map[string]*freight.Trip
	order []string
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		trips: make(map[string]*freight.Trip),
		now:   time.Now,
	}
}

// SaveTrip inserts or replaces a trip as given. Used to seed fixtures.
func (m *Memory) SaveTrip(_ context.Context, t freight.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trips[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	c := t.Clone()
	m.trips[t.ID] = &c
	return nil
}

// Reset removes every trip.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trips = make(map[string]*freight.Trip)
	m.order = nil
	return nil
}

// ListTrips returns all trips, newest first.
func (m *Memory) ListTrips(_ context.Context) ([]freight.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]freight.Trip, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		result = append(result, m.trips[m.order[i]].Clone())
	}
	return result, nil
}

func (m *Memory) GetTrip(_ context.Context, ref string) (*freight.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.findLocked(ref)
	if err != nil {
		return nil, err
	}
	c := t.Clone()
	return &c, nil
}

func (m *Memory) CreateTrip(_ context.Context, draft freight.TripDraft) (*freight.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := freight.NewTrip(draft, m.now())
	m.trips[t.ID] = &t
	m.order = append(m.order, t.ID)
	c := t.Clone()
	return &c, nil
}

func (m *Memory) PatchTrip(_ context.Context, ref string, patch freight.TripPatch) (*freight.Trip, error) {
	return m.update(ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyPatch(t, patch, now)
	})
}

func (m *Memory) PatchPaymentStatus(_ context.Context, ref string, upd freight.PaymentUpdate) (*freight.Trip, error) {
	return m.update(ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyPaymentUpdate(t, upd, now)
	})
}

func (m *Memory) PatchStatus(_ context.Context, ref string, status freight.TripStatus) (*freight.Trip, error) {
	return m.update(ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyPatch(t, freight.StatusTripPatch(status), now)
	})
}

func (m *Memory) AddDocument(_ context.Context, ref string, doc freight.Document) (*freight.Trip, error) {
	return m.update(ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyDocument(t, doc, now)
	})
}

func (m *Memory) update(ref string, fn func(*freight.Trip, time.Time)) (*freight.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.findLocked(ref)
	if err != nil {
		return nil, err
	}
	fn(t, m.now())
	c := t.Clone()
	return &c, nil
}

// findLocked resolves ref as an id first, then as an order number.
func (m *Memory) findLocked(ref string) (*freight.Trip, error) {
	if t, ok := m.trips[ref]; ok {
		return t, nil
	}
	for _, t := range m.trips {
		if t.Matches(ref) {
			return t, nil
		}
	}
	return nil, freight.ErrNotFound
}

// =============================================================================
// MEMORY KV
// =============================================================================

// MemoryKV is a process-local KV. It does not survive restarts.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (kv *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	return v, ok, nil
}

func (kv *MemoryKV) Set(_ context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	return nil
}

func (kv *MemoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

// Len returns the number of stored keys.
func (kv *MemoryKV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.data)
}
