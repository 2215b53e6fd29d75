/*
engine.go - SynchronizationEngine: the composed, injectable engine

PURPOSE:
  Owns one EventBus, one ReconciliationCache, one TransactionLog, one
  Coordinator and one Poller, and exposes the operations views and the
  HTTP layer call. Construct it explicitly and pass it by reference.

OPERATIONS:
  UpdatePayment   run the payment protocol for an explicit target
  AdvancePayment  move an installment to its next status
  SetTripStatus   guarded direct status change
  CreateTrip      create, then initiate the advance out of band
  UploadPOD       attach a POD document
  ConfirmAmount   accept a changed balance amount
  Trips / Trip    fetch and reconcile against the cache
  Queues          advance / balance / history filters

USAGE:
  engine := freight.New(store, kv, freight.WithLogger(logger))
  engine.Start(ctx)
  defer engine.Stop()
  trip, rec, err := engine.UpdatePayment(ctx, id, freight.Advance(freight.PaymentPaid), freight.PaymentMeta{})

SEE ALSO:
  - coordinator.go: Write protocols
  - poller.go: Background refresh
*/
package freight

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	logger           *zap.Logger
	pollInterval     time.Duration
	clock            Clock
	autoFixPOD       bool
	enforceAdjacency bool
	successRetention time.Duration
	failureRetention time.Duration
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPollInterval sets the poller interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithClock substitutes the time source for records and events.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPODAutoFix enables or disables the one-shot POD compensation.
func WithPODAutoFix(enabled bool) Option {
	return func(o *options) { o.autoFixPOD = enabled }
}

// WithAdjacencyEnforcement makes the resolver reject non-adjacent targets.
func WithAdjacencyEnforcement(enabled bool) Option {
	return func(o *options) { o.enforceAdjacency = enabled }
}

// WithRetention sets how long ended transaction records are kept.
func WithRetention(success, failure time.Duration) Option {
	return func(o *options) {
		o.successRetention = success
		o.failureRetention = failure
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the synchronization engine.
type Engine struct {
	store  TripStore
	cache  *ReconciliationCache
	bus    *EventBus
	txlog  *TransactionLog
	coord  *Coordinator
	poller *Poller
	logger *zap.Logger
}

// New composes an engine over store, keeping overrides in kv.
func New(store TripStore, kv KV, opts ...Option) *Engine {
	o := options{
		logger:       zap.NewNop(),
		pollInterval: DefaultPollInterval,
		clock:        time.Now,
		autoFixPOD:   true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	bus := NewEventBus(o.logger.Named("events"))
	cache := NewReconciliationCache(kv, o.logger.Named("cache"))
	txlog := NewTransactionLog(o.clock, o.successRetention, o.failureRetention)

	coord := NewCoordinator(store, cache, bus, txlog, o.logger.Named("coordinator"))
	coord.AutoFixPOD = o.autoFixPOD
	coord.Resolver = Resolver{EnforceAdjacency: o.enforceAdjacency}

	return &Engine{
		store:  store,
		cache:  cache,
		bus:    bus,
		txlog:  txlog,
		coord:  coord,
		poller: NewPoller(store, cache, bus, o.pollInterval, o.logger.Named("poller"), o.clock),
		logger: o.logger,
	}
}

func (e *Engine) Bus() *EventBus                    { return e.bus }
func (e *Engine) Cache() *ReconciliationCache      { return e.cache }
func (e *Engine) Poller() *Poller                   { return e.poller }
func (e *Engine) Resolver() Resolver                { return e.coord.Resolver }
func (e *Engine) Transactions() []TransactionRecord { return e.txlog.List() }

// Transaction returns a retained record by id.
func (e *Engine) Transaction(id string) (TransactionRecord, bool) {
	return e.txlog.Get(id)
}

// Start runs the poller until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) { e.poller.Start(ctx) }

// Stop halts the poller.
func (e *Engine) Stop() { e.poller.Stop() }

// NewObserver returns a view seeded with the last poll and kept current
// through the bus. Close it when the view goes away.
func (e *Engine) NewObserver() *Observer {
	o := NewObserver(e.bus)
	o.mu.Lock()
	if o.trips == nil {
		o.trips = e.poller.Snapshot()
	}
	o.mu.Unlock()
	return o
}

// =============================================================================
// WRITES
// =============================================================================

// UpdatePayment applies patch and returns the reconciled final trip.
func (e *Engine) UpdatePayment(ctx context.Context, ref string, patch PaymentPatch, meta PaymentMeta) (*Trip, TransactionRecord, error) {
	final, rec, err := e.coord.RunPayment(ctx, ref, patch, meta)
	if err != nil {
		return nil, rec, err
	}
	merged := e.reconcile(ctx, *final)
	return &merged, rec, nil
}

// AdvancePayment moves the installment to the next status in the chain.
func (e *Engine) AdvancePayment(ctx context.Context, ref string, field PaymentField, meta PaymentMeta) (*Trip, TransactionRecord, error) {
	trip, err := e.Trip(ctx, ref)
	if err != nil {
		return nil, TransactionRecord{}, err
	}
	next, ok := NextPaymentStatus(trip.Payment(field))
	if !ok {
		return nil, TransactionRecord{}, &PreconditionError{TripID: trip.ID, Field: field, Reason: ReasonAlreadyPaid}
	}
	patch, err := NewPaymentPatch(field, next)
	if err != nil {
		return nil, TransactionRecord{}, err
	}
	return e.UpdatePayment(ctx, trip.ID, patch, meta)
}

// SetTripStatus changes the trip status outside a payment change.
func (e *Engine) SetTripStatus(ctx context.Context, ref string, status TripStatus, reason string) (*Trip, TransactionRecord, error) {
	final, rec, err := e.coord.RunStatus(ctx, ref, status, reason)
	if err != nil {
		return nil, rec, err
	}
	merged := e.reconcile(ctx, *final)
	return &merged, rec, nil
}

// CreateTrip creates a trip and initiates its advance payment.
func (e *Engine) CreateTrip(ctx context.Context, draft TripDraft) (*Trip, TransactionRecord, error) {
	return e.coord.RunCreate(ctx, draft)
}

// UploadPOD attaches a proof-of-delivery document to the trip.
func (e *Engine) UploadPOD(ctx context.Context, ref string, doc Document) (*Trip, error) {
	doc.Type = DocumentTypePOD
	t, err := e.store.AddDocument(ctx, ref, doc)
	if err != nil {
		return nil, wrapStore("add document", err)
	}
	e.logger.Info("pod uploaded", zap.String("trip_id", t.ID), zap.String("filename", doc.Filename))
	e.bus.Emit(ForceRefreshRequired{Source: SourceDocument, TripID: t.ID, Reason: "POD uploaded"})
	merged := e.reconcile(ctx, *t)
	return &merged, nil
}

// ConfirmAmount accepts amount as the trip's balance and clears the
// AmountChanged flag. Writing the amount back to the store is best-effort.
func (e *Engine) ConfirmAmount(ctx context.Context, ref string, amount decimal.Decimal) (*Trip, error) {
	t, err := e.store.GetTrip(ctx, ref)
	if err != nil {
		return nil, wrapStore("fetch trip", err)
	}
	if err := e.cache.ConfirmAmount(ctx, t.ID, amount); err != nil {
		return nil, err
	}
	if !t.BalanceAmount.Equal(amount) {
		if patched, err := e.store.PatchTrip(ctx, t.ID, TripPatch{BalanceAmount: &amount}); err != nil {
			e.logger.Warn("could not store confirmed amount", zap.String("trip_id", t.ID), zap.Error(err))
		} else if patched != nil {
			t = patched
		}
	}
	e.bus.Emit(ForceRefreshRequired{Source: SourceAmountConfirm, TripID: t.ID, Reason: "balance amount confirmed"})
	merged := e.reconcile(ctx, *t)
	return &merged, nil
}

// =============================================================================
// READS
// =============================================================================

// Trips fetches every trip and reconciles it against the cache.
func (e *Engine) Trips(ctx context.Context) ([]Trip, error) {
	fetched, err := e.store.ListTrips(ctx)
	if err != nil {
		return nil, wrapStore("list trips", err)
	}
	out := make([]Trip, 0, len(fetched))
	for _, t := range fetched {
		out = append(out, e.reconcile(ctx, t))
	}
	return out, nil
}

// Trip fetches one trip by id or order number and reconciles it.
func (e *Engine) Trip(ctx context.Context, ref string) (*Trip, error) {
	t, err := e.store.GetTrip(ctx, ref)
	if err != nil {
		return nil, wrapStore("fetch trip", err)
	}
	merged := e.reconcile(ctx, *t)
	return &merged, nil
}

// AdvanceQueue returns the reconciled trips awaiting advance payment.
func (e *Engine) AdvanceQueue(ctx context.Context) ([]Trip, error) {
	trips, err := e.Trips(ctx)
	if err != nil {
		return nil, err
	}
	return AdvanceQueue(trips), nil
}

// BalanceQueue returns the reconciled trips awaiting balance payment.
func (e *Engine) BalanceQueue(ctx context.Context) ([]Trip, error) {
	trips, err := e.Trips(ctx)
	if err != nil {
		return nil, err
	}
	return BalanceQueue(trips), nil
}

// PaymentHistory returns the reconciled trips with a paid installment.
func (e *Engine) PaymentHistory(ctx context.Context) ([]Trip, error) {
	trips, err := e.Trips(ctx)
	if err != nil {
		return nil, err
	}
	return PaymentHistory(trips), nil
}

func (e *Engine) reconcile(ctx context.Context, t Trip) Trip {
	m, err := e.cache.Reconcile(ctx, t)
	if err != nil {
		e.logger.Warn("reconcile failed, using server copy", zap.String("trip_id", t.ID), zap.Error(err))
		return m.Trip
	}
	if err := e.cache.Settle(ctx, m); err != nil {
		e.logger.Warn("could not acknowledge overrides", zap.String("trip_id", t.ID), zap.Error(err))
	}
	return m.Trip
}
