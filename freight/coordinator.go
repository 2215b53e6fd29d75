/*
coordinator.go - TransactionCoordinator: the multi-step write protocol

PURPOSE:
  Applies a payment change to the authoritative store so that payment
  state and trip status stay consistent, tolerating stale reads, failed
  endpoints and writes that silently do not apply.

PROTOCOL (each step lands on the TransactionRecord):
  1. Fetch the current trip and overlay this process's cached payment
     overrides, so a lagging read cannot hide a write already made.
  2. Resolve. On PodRequired, optionally write podUploaded=true once and
     resolve again. Still rejected: fail with the reason.
  3. Cache the override, then write the payment via the dedicated
     endpoint, falling back to the generic patch. Emit
     PaymentStatusChanged. If both writes fail, the override that was
     cached before the run is put back.
  4. If a trip status is derived, write it. Emit TripStatusChanged and
     ForceRefreshRequired.
  5. Re-fetch the final trip.
  6. Record the status/advance/balance diff.
  7. If the derived status is missing, make one corrective write and
     accept the outcome either way.

ORDERING:
  The payment write completes before the status write starts. The
  resolver decides on the pre-write state; the status write follows
  the resolved outcome.

CANCELLATION:
  Once a run starts it ignores caller cancellation. Runs for the same
  trip are serialized, whether addressed by id or by order number.

SEE ALSO:
  - resolver.go: Rules used in step 2
  - transaction.go: Record kept for each run
  - engine.go: Public entry points
*/
package freight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/freight-sync/metrics"
)

// Event sources used on ForceRefreshRequired.
const (
	SourcePaymentChange = "payment_status_change"
	SourceStatusChange  = "trip_status_change"
	SourceCorrection    = "coordinator_correction"
	SourceTripCreate    = "trip_create"
	SourceDocument      = "document_upload"
	SourceAmountConfirm = "amount_confirmed"
)

// Coordinator runs write protocols against a TripStore.
type Coordinator struct {
	Resolver   Resolver
	AutoFixPOD bool

	store  TripStore
	cache  *ReconciliationCache
	bus    *EventBus
	txlog  *TransactionLog
	logger *zap.Logger
	locks  tripLocks
}

// NewCoordinator wires a coordinator. POD auto-fix is on by default.
func NewCoordinator(store TripStore, cache *ReconciliationCache, bus *EventBus, txlog *TransactionLog, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		AutoFixPOD: true,
		store:      store,
		cache:      cache,
		bus:        bus,
		txlog:      txlog,
		logger:     logger,
		locks:      tripLocks{m: make(map[string]*tripLock)},
	}
}

// =============================================================================
// PAYMENT PROTOCOL
// =============================================================================

// RunPayment applies patch to the trip addressed by ref.
// It returns the authoritative final trip and the run's record.
func (c *Coordinator) RunPayment(ctx context.Context, ref string, patch PaymentPatch, meta PaymentMeta) (*Trip, TransactionRecord, error) {
	if err := patch.Validate(); err != nil {
		return nil, TransactionRecord{}, err
	}
	unlock := c.locks.lock(ref)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	run := c.begin(KindPaymentUpdate, ref)
	field, target := patch.Field(), patch.Status()
	run.tx.Step("started", map[string]any{"field": field, "status": target})

	// 1. Fetch current
	initial, err := c.fetch(ctx, ref)
	if err != nil {
		return run.fail(err)
	}
	if initial.ID != ref {
		defer c.locks.lock(initial.ID)()
		if initial, err = c.fetch(ctx, initial.ID); err != nil {
			return run.fail(err)
		}
	}
	run.tx.Step("fetched current trip", tripSnapshot(*initial))
	current := c.withOverrides(ctx, run.tx, *initial)

	// 2. Resolve, with the single POD auto-fix
	res := c.Resolver.Resolve(current, patch)
	if !res.Allowed && res.Reason == ReasonPodRequired && c.AutoFixPOD {
		run.tx.Step("pod missing, marking POD uploaded", nil)
		pod := true
		fixed, err := c.store.PatchTrip(ctx, current.ID, TripPatch{PodUploaded: &pod})
		if err != nil {
			return run.fail(wrapStore("pod auto-fix", err))
		}
		metrics.PodAutoFixes.Inc()
		c.logger.Info("pod auto-fix applied", zap.String("trip_id", current.ID))
		current.PodUploaded = true
		if fixed != nil {
			current.PodUploaded = fixed.PodUploaded
		}
		res = c.Resolver.Resolve(current, patch)
	}
	if !res.Allowed {
		metrics.PreconditionRejections.WithLabelValues(string(res.Reason)).Inc()
		return run.fail(res.Err(current.ID, field))
	}
	run.tx.Step("resolved", map[string]any{"derivedStatus": res.DerivedStatus})

	// 3. Payment write
	restore, err := c.putOverride(ctx, current.ID, field, target)
	if err != nil {
		metrics.PreconditionRejections.WithLabelValues(string(ReasonAlreadyPaid)).Inc()
		return run.fail(err)
	}
	upd := PaymentUpdate{Field: field, Status: target, PaymentMeta: meta}
	if err := c.writePayment(ctx, run.tx, current.ID, upd); err != nil {
		restore()
		return run.fail(err)
	}
	c.bus.Emit(PaymentStatusChanged{
		TripID:            current.ID,
		PaymentType:       field,
		OldStatus:         current.Payment(field),
		NewStatus:         target,
		TripStatusChanged: res.HasDerived(),
		OldTripStatus:     current.Status,
		NewTripStatus:     res.DerivedStatus,
	})

	// 4. Derived status write
	statusWritten := false
	reason := fmt.Sprintf("%s payment marked %s", field, target)
	if res.HasDerived() {
		if err := c.writeStatus(ctx, run.tx, current.ID, res.DerivedStatus); err != nil {
			run.tx.Step("derived status write failed", map[string]any{"error": err.Error()})
			c.logger.Warn("derived status write failed",
				zap.String("trip_id", current.ID), zap.String("status", string(res.DerivedStatus)), zap.Error(err))
		} else {
			statusWritten = true
			c.emitStatusChange(current.ID, current.Status, res.DerivedStatus, reason, SourcePaymentChange)
		}
	}

	// 5. Re-fetch final
	final, err := c.fetch(ctx, current.ID)
	if err != nil {
		return run.fail(err)
	}
	run.tx.Step("fetched final trip", tripSnapshot(*final))

	// 6. Diff
	run.tx.SetDiff(DiffTrips(*initial, *final))

	// 7. One corrective attempt
	if res.HasDerived() && final.Status != res.DerivedStatus {
		run.tx.Step("derived status missing after write", map[string]any{
			"expected": res.DerivedStatus, "actual": final.Status,
		})
		corrected := c.writeStatus(ctx, run.tx, current.ID, res.DerivedStatus) == nil
		run.tx.MarkPartial(corrected)
		metrics.PartialApplications.WithLabelValues(fmt.Sprint(corrected)).Inc()
		if corrected {
			if !statusWritten {
				c.emitStatusChange(current.ID, current.Status, res.DerivedStatus, reason, SourceCorrection)
			}
			final.Status = res.DerivedStatus
		}
	}

	return run.complete(final)
}

// =============================================================================
// DIRECT STATUS PROTOCOL
// =============================================================================

// RunStatus sets the trip status directly, guarded by CanSetStatus.
func (c *Coordinator) RunStatus(ctx context.Context, ref string, status TripStatus, reason string) (*Trip, TransactionRecord, error) {
	unlock := c.locks.lock(ref)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	run := c.begin(KindStatusUpdate, ref)
	run.tx.Step("started", map[string]any{"status": status})

	current, err := c.fetch(ctx, ref)
	if err != nil {
		return run.fail(err)
	}
	if current.ID != ref {
		defer c.locks.lock(current.ID)()
		if current, err = c.fetch(ctx, current.ID); err != nil {
			return run.fail(err)
		}
	}
	run.tx.Step("fetched current trip", tripSnapshot(*current))

	// Payment fields come from the cache overlay; the status compared
	// against is the one the store holds, since that is what gets written.
	merged := c.withOverrides(ctx, run.tx, *current)
	view := current.Clone()
	view.AdvancePaymentStatus = merged.AdvancePaymentStatus
	view.BalancePaymentStatus = merged.BalancePaymentStatus

	res := CanSetStatus(view, status)
	if !res.Allowed {
		metrics.PreconditionRejections.WithLabelValues(string(res.Reason)).Inc()
		return run.fail(&PreconditionError{TripID: current.ID, Reason: res.Reason})
	}
	if !res.HasDerived() {
		run.tx.Step("status unchanged", nil)
		return run.complete(current)
	}

	if err := c.writeStatus(ctx, run.tx, current.ID, status); err != nil {
		return run.fail(err)
	}
	if reason == "" {
		reason = "status set manually"
	}
	c.emitStatusChange(current.ID, current.Status, status, reason, SourceStatusChange)

	final, err := c.fetch(ctx, current.ID)
	if err != nil {
		return run.fail(err)
	}
	run.tx.SetDiff(DiffTrips(*current, *final))
	return run.complete(final)
}

// =============================================================================
// CREATE PROTOCOL
// =============================================================================

// RunCreate creates a trip and then, out of band, moves its advance to
// Initiated. A failed advance write is recorded but does not fail creation.
func (c *Coordinator) RunCreate(ctx context.Context, draft TripDraft) (*Trip, TransactionRecord, error) {
	ctx = context.WithoutCancel(ctx)
	run := c.begin(KindTripCreate, draft.OrderNumber)

	created, err := c.store.CreateTrip(ctx, draft)
	if err != nil {
		return run.fail(wrapStore("create trip", err))
	}
	run.tx.Step("trip created", tripSnapshot(*created))

	upd := PaymentUpdate{Field: FieldAdvance, Status: PaymentInitiated}
	restore, err := c.putOverride(ctx, created.ID, FieldAdvance, PaymentInitiated)
	if err == nil {
		err = c.writePayment(ctx, run.tx, created.ID, upd)
		if err != nil {
			restore()
		}
	}
	if err != nil {
		run.tx.Step("initial advance status not applied", map[string]any{"error": err.Error()})
		c.logger.Warn("could not initiate advance for new trip",
			zap.String("trip_id", created.ID), zap.Error(err))
	} else {
		c.bus.Emit(PaymentStatusChanged{
			TripID:        created.ID,
			PaymentType:   FieldAdvance,
			OldStatus:     created.Payment(FieldAdvance),
			NewStatus:     PaymentInitiated,
			OldTripStatus: created.Status,
		})
		created.AdvancePaymentStatus = PaymentInitiated
	}

	c.bus.Emit(ForceRefreshRequired{Source: SourceTripCreate, TripID: created.ID, Reason: "trip created"})
	return run.complete(created)
}

// =============================================================================
// WRITE HELPERS
// =============================================================================

func (c *Coordinator) fetch(ctx context.Context, ref string) (*Trip, error) {
	t, err := c.store.GetTrip(ctx, ref)
	if err != nil {
		return nil, wrapStore("fetch trip", err)
	}
	return t, nil
}

// withOverrides returns t with this process's cached payment overrides
// applied, and drops the ones t has caught up with. An unreadable cache
// leaves t as fetched.
func (c *Coordinator) withOverrides(ctx context.Context, tx *Tx, t Trip) Trip {
	o, err := c.cache.Overrides(ctx, t.ID)
	if err != nil {
		c.logger.Warn("could not read payment overrides", zap.String("trip_id", t.ID), zap.Error(err))
		return t.Clone()
	}
	m := MergeOverrides(t, o)
	if len(m.Applied) > 0 {
		tx.Step("cached overrides applied", map[string]any{"fields": m.Applied, "view": tripSnapshot(m.Trip)})
	}
	if err := c.cache.Settle(ctx, m); err != nil {
		c.logger.Warn("could not settle payment overrides", zap.String("trip_id", t.ID), zap.Error(err))
	}
	return m.Trip
}

// putOverride caches status for field and returns a func that puts the
// previous override back. Only a rejected overwrite of a cached Paid is
// returned as an error; other cache failures are logged and the write
// goes ahead without an override.
func (c *Coordinator) putOverride(ctx context.Context, id string, field PaymentField, status PaymentStatus) (restore func(), err error) {
	prior, hadPrior, err := c.cache.Get(ctx, id, field)
	if err != nil {
		c.logger.Warn("could not read payment override", zap.String("trip_id", id), zap.Error(err))
		hadPrior = false
	}
	if err := c.cache.Put(ctx, id, field, status); err != nil {
		if IsPrecondition(err) {
			return nil, err
		}
		c.logger.Warn("could not cache payment override", zap.String("trip_id", id), zap.Error(err))
		return func() {}, nil
	}
	return func() {
		if err := c.cache.Restore(ctx, id, field, prior, hadPrior); err != nil {
			c.logger.Warn("could not restore payment override", zap.String("trip_id", id), zap.Error(err))
		}
	}, nil
}

// writePayment tries the dedicated endpoint, then the generic patch.
func (c *Coordinator) writePayment(ctx context.Context, tx *Tx, id string, upd PaymentUpdate) error {
	_, err := c.store.PatchPaymentStatus(ctx, id, upd)
	if err == nil {
		tx.Step("payment written", map[string]any{"endpoint": "payment-status"})
		return nil
	}
	if IsNotFound(err) {
		return err
	}
	tx.Step("payment-status endpoint failed, using generic patch", map[string]any{"error": err.Error()})
	metrics.StoreFallbacks.WithLabelValues("payment").Inc()

	if _, err := c.store.PatchTrip(ctx, id, PaymentTripPatch(upd)); err != nil {
		return wrapStore("write payment", err)
	}
	tx.Step("payment written", map[string]any{"endpoint": "generic"})
	return nil
}

// writeStatus tries the dedicated endpoint, then the generic patch.
func (c *Coordinator) writeStatus(ctx context.Context, tx *Tx, id string, status TripStatus) error {
	_, err := c.store.PatchStatus(ctx, id, status)
	if err == nil {
		tx.Step("status written", map[string]any{"endpoint": "status", "status": status})
		return nil
	}
	if IsNotFound(err) {
		return err
	}
	tx.Step("status endpoint failed, using generic patch", map[string]any{"error": err.Error()})
	metrics.StoreFallbacks.WithLabelValues("status").Inc()

	if _, err := c.store.PatchTrip(ctx, id, StatusTripPatch(status)); err != nil {
		return wrapStore("write status", err)
	}
	tx.Step("status written", map[string]any{"endpoint": "generic", "status": status})
	return nil
}

func (c *Coordinator) emitStatusChange(id string, from, to TripStatus, reason, source string) {
	c.bus.Emit(TripStatusChanged{TripID: id, OldStatus: from, NewStatus: to, Reason: reason})
	c.bus.Emit(ForceRefreshRequired{Source: source, TripID: id, Reason: reason})
}

// wrapStore marks unclassified store failures as StoreUnavailable.
func wrapStore(op string, err error) error {
	var se *StoreError
	var re *RequestError
	if IsNotFound(err) || errors.As(err, &se) || errors.As(err, &re) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// RUN BOOKKEEPING
// =============================================================================

type txRun struct {
	c     *Coordinator
	tx    *Tx
	kind  TransactionKind
	start time.Time
}

func (c *Coordinator) begin(kind TransactionKind, ref string) *txRun {
	return &txRun{c: c, tx: c.txlog.Begin(kind, ref), kind: kind, start: time.Now()}
}

func (r *txRun) fail(err error) (*Trip, TransactionRecord, error) {
	rec := r.tx.Fail(err)
	r.observe(rec)
	r.c.logger.Warn("transaction failed",
		zap.String("tx_id", rec.ID), zap.String("kind", string(r.kind)),
		zap.String("trip", rec.EntityID), zap.Error(err))
	return nil, rec, err
}

func (r *txRun) complete(final *Trip) (*Trip, TransactionRecord, error) {
	rec := r.tx.Complete(final)
	r.observe(rec)
	if err := rec.Partial(); err != nil {
		r.c.logger.Warn("partial application accepted", zap.String("tx_id", rec.ID), zap.Error(err))
	}
	r.c.logger.Info("transaction completed",
		zap.String("tx_id", rec.ID), zap.String("kind", string(r.kind)),
		zap.String("trip", rec.EntityID), zap.Int("steps", len(rec.Steps)))
	return final, rec, nil
}

func (r *txRun) observe(rec TransactionRecord) {
	metrics.TransactionsTotal.WithLabelValues(string(r.kind), string(rec.Status)).Inc()
	metrics.TransactionDuration.WithLabelValues(string(r.kind)).Observe(time.Since(r.start).Seconds())
}

// DiffTrips lists the status, advance and balance fields that differ.
func DiffTrips(before, after Trip) []FieldDiff {
	var diff []FieldDiff
	add := func(field, b, a string) {
		if b != a {
			diff = append(diff, FieldDiff{Field: field, Before: b, After: a})
		}
	}
	add("status", string(before.Status), string(after.Status))
	add("advancePaymentStatus", string(before.Payment(FieldAdvance)), string(after.Payment(FieldAdvance)))
	add("balancePaymentStatus", string(before.Payment(FieldBalance)), string(after.Payment(FieldBalance)))
	return diff
}

func tripSnapshot(t Trip) map[string]any {
	return map[string]any{
		"status":      t.Status,
		"advance":     t.Payment(FieldAdvance),
		"balance":     t.Payment(FieldBalance),
		"podUploaded": t.PodUploaded,
	}
}

// =============================================================================
// PER-TRIP LOCKS
// =============================================================================

type tripLocks struct {
	mu sync.Mutex
	m  map[string]*tripLock
}

type tripLock struct {
	mu   sync.Mutex
	refs int
}

func (l *tripLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	tl, ok := l.m[key]
	if !ok {
		tl = &tripLock{}
		l.m[key] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
