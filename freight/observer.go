package freight

import "sync"

// Observer is an in-process view of the trip collection. It replaces its
// copy on every TripsRefreshed and applies payment and status events
// optimistically until the next refresh. Its contents are advisory.
type Observer struct {
	mu          sync.RWMutex
	trips       []Trip
	refreshes   int
	unsubscribe func()
}

// NewObserver subscribes a view to bus.
func NewObserver(bus *EventBus) *Observer {
	o := &Observer{}
	o.unsubscribe = bus.SubscribeMany(o.handle,
		EventTripsRefreshed, EventPaymentStatusChanged, EventTripStatusChanged)
	return o
}

// Close detaches the view from the bus.
func (o *Observer) Close() {
	o.unsubscribe()
}

// Trips returns a copy of the current view.
func (o *Observer) Trips() []Trip {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return cloneTrips(o.trips)
}

// Refreshes counts TripsRefreshed events received.
func (o *Observer) Refreshes() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.refreshes
}

func (o *Observer) AdvanceQueue() []Trip   { return AdvanceQueue(o.Trips()) }
func (o *Observer) BalanceQueue() []Trip   { return BalanceQueue(o.Trips()) }
func (o *Observer) PaymentHistory() []Trip { return PaymentHistory(o.Trips()) }

func (o *Observer) handle(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev := e.(type) {
	case TripsRefreshed:
		o.trips = cloneTrips(ev.Trips)
		o.refreshes++
	case PaymentStatusChanged:
		if t := o.find(ev.TripID); t != nil {
			t.SetPayment(ev.PaymentType, ev.NewStatus)
			if ev.TripStatusChanged {
				t.Status = ev.NewTripStatus
			}
		}
	case TripStatusChanged:
		if t := o.find(ev.TripID); t != nil {
			t.Status = ev.NewStatus
		}
	}
}

func (o *Observer) find(id string) *Trip {
	for i := range o.trips {
		if o.trips[i].ID == id {
			return &o.trips[i]
		}
	}
	return nil
}
