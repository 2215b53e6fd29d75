/*
events.go - In-process EventBus and event payloads

PURPOSE:
  Carries typed notifications from the coordinator and poller to any
  number of in-process subscribers (views, loggers, the poller itself).

DELIVERY:
  - Emit dispatches synchronously on the caller's goroutine.
  - Handlers for one type run in subscription order.
  - A panicking handler is recovered and logged; the rest still run.
  - No persistence and no cross-process delivery.

EVENT TYPES:
  payment_status_changed  PaymentStatusChanged
  trip_status_changed     TripStatusChanged
  force_refresh_required  ForceRefreshRequired (poller refreshes at once)
  trips_refreshed         TripsRefreshed (poller snapshot)
  amount_change_detected  AmountChangeDetected
*/
package freight

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/metrics"
)

// =============================================================================
// EVENTS
// =============================================================================

// EventType names a kind of notification.
type EventType string

const (
	EventPaymentStatusChanged EventType = "payment_status_changed"
	EventTripStatusChanged    EventType = "trip_status_changed"
	EventForceRefresh         EventType = "force_refresh_required"
	EventTripsRefreshed       EventType = "trips_refreshed"
	EventAmountChangeDetected EventType = "amount_change_detected"
)

// Event is implemented by every payload carried on the bus.
type Event interface {
	Type() EventType
}

// PaymentStatusChanged is emitted after a payment write is accepted.
type PaymentStatusChanged struct {
	TripID            string        `json:"tripId"`
	PaymentType       PaymentField  `json:"paymentType"`
	OldStatus         PaymentStatus `json:"oldStatus"`
	NewStatus         PaymentStatus `json:"newStatus"`
	TripStatusChanged bool          `json:"tripStatusChanged"`
	OldTripStatus     TripStatus    `json:"oldTripStatus,omitempty"`
	NewTripStatus     TripStatus    `json:"newTripStatus,omitempty"`
}

// TripStatusChanged is emitted after a trip status write is accepted.
type TripStatusChanged struct {
	TripID    string     `json:"tripId"`
	OldStatus TripStatus `json:"oldStatus"`
	NewStatus TripStatus `json:"newStatus"`
	Reason    string     `json:"reason"`
}

// ForceRefreshRequired asks every observer to re-fetch now.
type ForceRefreshRequired struct {
	Source string `json:"source"`
	TripID string `json:"tripId,omitempty"`
	Reason string `json:"reason"`
}

// ChangeKind classifies a difference between two poll snapshots.
type ChangeKind string

const (
	ChangeNewTrip ChangeKind = "new_trip"
	ChangeAdvance ChangeKind = "advance"
	ChangeBalance ChangeKind = "balance"
	ChangeStatus  ChangeKind = "status"
)

// TripChange is one per-trip difference seen by the poller.
type TripChange struct {
	TripID string     `json:"tripId"`
	Kind   ChangeKind `json:"kind"`
	Old    string     `json:"old,omitempty"`
	New    string     `json:"new"`
}

// TripsRefreshed carries the reconciled collection after a poll.
type TripsRefreshed struct {
	Trips   []Trip       `json:"trips"`
	Changes []TripChange `json:"changes,omitempty"`
	At      time.Time    `json:"at"`
}

// AmountChangeDetected is emitted when a balance rises above the
// confirmed reference amount.
type AmountChangeDetected struct {
	TripID    string          `json:"tripId"`
	Reference decimal.Decimal `json:"reference"`
	Current   decimal.Decimal `json:"current"`
}

func (PaymentStatusChanged) Type() EventType { return EventPaymentStatusChanged }
func (TripStatusChanged) Type() EventType    { return EventTripStatusChanged }
func (ForceRefreshRequired) Type() EventType { return EventForceRefresh }
func (TripsRefreshed) Type() EventType       { return EventTripsRefreshed }
func (AmountChangeDetected) Type() EventType { return EventAmountChangeDetected }

// =============================================================================
// BUS
// =============================================================================

// Handler receives events of the types it subscribed to.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// EventBus is a synchronous publish/subscribe channel.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[EventType][]subscription
	logger *zap.Logger
}

// NewEventBus creates an empty bus. A nil logger discards output.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subs:   make(map[EventType][]subscription),
		logger: logger,
	}
}

// Subscribe registers fn for events of type t. The returned function
// removes the subscription; calling it more than once is harmless.
func (b *EventBus) Subscribe(t EventType, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, id) })
	}
}

// SubscribeMany registers fn for several types at once.
func (b *EventBus) SubscribeMany(fn Handler, types ...EventType) (unsubscribe func()) {
	cancels := make([]func(), 0, len(types))
	for _, t := range types {
		cancels = append(cancels, b.Subscribe(t, fn))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (b *EventBus) remove(t EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			// Copy so in-flight Emit snapshots are not mutated.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[t] = next
			return
		}
	}
}

// Emit delivers e to every current subscriber of its type.
func (b *EventBus) Emit(e Event) {
	b.mu.RLock()
	subs := b.subs[e.Type()]
	b.mu.RUnlock()

	metrics.EventsEmitted.WithLabelValues(string(e.Type())).Inc()
	for _, s := range subs {
		b.dispatch(s.fn, e)
	}
}

// Subscribers returns the number of handlers registered for t.
func (b *EventBus) Subscribers(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

func (b *EventBus) dispatch(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(string(e.Type())).Inc()
			b.logger.Error("event handler panicked",
				zap.String("event", string(e.Type())),
				zap.Any("panic", r))
		}
	}()
	fn(e)
}
