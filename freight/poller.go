/*
poller.go - The engine-owned poller

PURPOSE:
  Periodically re-fetches the authoritative trip collection, reconciles
  each trip against the cache and broadcasts the result. Views subscribe
  to TripsRefreshed on the bus instead of running their own timers.

DESIGN:
  - One background goroutine with a configurable interval.
  - Polls immediately on start.
  - ForceRefreshRequired events trigger an immediate poll. Triggers that
    arrive while a poll is already queued are coalesced.
  - Overrides the server has caught up with are acknowledged.
  - Differences against the previous poll are reported as TripChanges,
    and newly flagged amount increases as AmountChangeDetected.

USAGE:
  p := NewPoller(store, cache, bus, 15*time.Second, logger, nil)
  p.Start(ctx)
  // ... later
  p.Stop()

SEE ALSO:
  - cache.go: Reconcile / Settle
  - observer.go: Consumers of TripsRefreshed
*/
package freight

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/freight-sync/metrics"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 15 * time.Second

// Poller refreshes the trip collection on a schedule.
type Poller struct {
	Interval time.Duration

	store  TripStore
	cache  *ReconciliationCache
	bus    *EventBus
	logger *zap.Logger
	now    Clock

	trigger chan struct{}

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	snapMu sync.Mutex
	primed bool
	last   map[string]Trip
	trips  []Trip
}

// NewPoller creates a stopped poller.
func NewPoller(store TripStore, cache *ReconciliationCache, bus *EventBus, interval time.Duration, logger *zap.Logger, now Clock) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Poller{
		Interval: interval,
		store:    store,
		cache:    cache,
		bus:      bus,
		logger:   logger,
		now:      now,
		trigger:  make(chan struct{}, 1),
		last:     make(map[string]Trip),
	}
}

// Start begins polling until ctx is done or Stop is called.
// Starting a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.unsubscribe = p.bus.Subscribe(EventForceRefresh, func(Event) { p.Trigger() })

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("poller started", zap.Duration("interval", p.Interval))
}

// Stop cancels the poll loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return
	}
	p.unsubscribe()
	p.cancel()
	p.wg.Wait()
	p.cancel = nil
	p.logger.Info("poller stopped")
}

// Trigger requests an immediate poll without blocking.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.trigger:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("poll failed", zap.Error(err))
	}
}

// Snapshot returns the trips from the last successful poll.
func (p *Poller) Snapshot() []Trip {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	return cloneTrips(p.trips)
}

// Refresh performs one fetch-and-reconcile cycle and broadcasts the result.
func (p *Poller) Refresh(ctx context.Context) ([]Trip, error) {
	start := time.Now()
	defer func() { metrics.PollDuration.Observe(time.Since(start).Seconds()) }()

	fetched, err := p.store.ListTrips(ctx)
	if err != nil {
		metrics.PollErrors.Inc()
		return nil, wrapStore("list trips", err)
	}

	merged := make([]Trip, 0, len(fetched))
	for _, t := range fetched {
		m, err := p.cache.Reconcile(ctx, t)
		if err != nil {
			p.logger.Warn("reconcile failed, using server copy",
				zap.String("trip_id", t.ID), zap.Error(err))
		} else if err := p.cache.Settle(ctx, m); err != nil {
			p.logger.Warn("could not acknowledge overrides",
				zap.String("trip_id", t.ID), zap.Error(err))
		}
		merged = append(merged, m.Trip)
	}

	changes, drifted := p.record(merged)
	metrics.TripsObserved.Set(float64(len(merged)))

	for _, t := range drifted {
		metrics.AmountDriftDetected.Inc()
		ref, _, err := p.cache.ReferenceAmount(ctx, t.ID)
		if err != nil {
			p.logger.Warn("could not read reference amount", zap.String("trip_id", t.ID), zap.Error(err))
		}
		p.logger.Info("balance amount increased, confirmation required",
			zap.String("trip_id", t.ID),
			zap.String("reference", ref.String()),
			zap.String("current", t.BalanceAmount.String()))
		p.bus.Emit(AmountChangeDetected{TripID: t.ID, Reference: ref, Current: t.BalanceAmount})
	}

	if len(changes) > 0 {
		p.logger.Debug("trips changed", zap.Int("changes", len(changes)))
	}
	p.bus.Emit(TripsRefreshed{Trips: cloneTrips(merged), Changes: changes, At: p.now()})
	return merged, nil
}

// record stores the new snapshot and returns what changed since the last
// one, plus trips whose amount flag was newly raised.
func (p *Poller) record(trips []Trip) (changes []TripChange, drifted []Trip) {
	p.snapMu.Lock()
	defer p.snapMu.Unlock()

	next := make(map[string]Trip, len(trips))
	for _, t := range trips {
		next[t.ID] = t
		prev, seen := p.last[t.ID]
		if t.AmountChanged && (!seen || !prev.AmountChanged) {
			drifted = append(drifted, t)
		}
		if !seen {
			if p.primed {
				changes = append(changes, TripChange{TripID: t.ID, Kind: ChangeNewTrip, New: t.OrderNumber})
			}
			continue
		}
		changes = appendChange(changes, t.ID, ChangeAdvance, string(prev.Payment(FieldAdvance)), string(t.Payment(FieldAdvance)))
		changes = appendChange(changes, t.ID, ChangeBalance, string(prev.Payment(FieldBalance)), string(t.Payment(FieldBalance)))
		changes = appendChange(changes, t.ID, ChangeStatus, string(prev.Status), string(t.Status))
	}

	p.last = next
	p.trips = cloneTrips(trips)
	p.primed = true
	return changes, drifted
}

func appendChange(changes []TripChange, id string, kind ChangeKind, before, after string) []TripChange {
	if before == after {
		return changes
	}
	return append(changes, TripChange{TripID: id, Kind: kind, Old: before, New: after})
}

func cloneTrips(trips []Trip) []Trip {
	out := make([]Trip, len(trips))
	for i, t := range trips {
		out[i] = t.Clone()
	}
	return out
}
