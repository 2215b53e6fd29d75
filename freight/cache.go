/*
cache.go - ReconciliationCache: local payment overrides and drift checks

PURPOSE:
  The store is eventually consistent from the engine's point of view: a
  read right after a write may still return the old value. The cache
  remembers the payment statuses this process wrote so that a stale read
  never appears to undo them, and remembers the last confirmed balance
  amount so that silent increases are caught.

KEYS (in the backing KV, stable across restarts):
  payment_{tripId}_advance    cached advance status
  payment_{tripId}_balance    cached balance status
  original_balance_{tripId}   confirmed reference balance amount

MERGE POLICY (MergeOverrides):
  - A cached value wins over the fetched value.
  - Except a fetched Paid, which is terminal and always wins.
  - When fetch and cache agree, or the server is Paid, the override is
    settled and may be acknowledged (deleted). Overrides are never
    expired by time.
  - The trip status is re-projected from the merged payment fields.

DRIFT POLICY (DetectDrift):
  - First sighting records the reference amount.
  - A higher balance on an unpaid trip sets AmountChanged and keeps the
    old reference until ConfirmAmount.
  - A lower balance quietly becomes the new reference.

SEE ALSO:
  - poller.go: Reconciles every fetched trip and acknowledges settled
    overrides
  - coordinator.go: Puts overrides when it issues writes
*/
package freight

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/metrics"
)

// PaymentKey is the KV key holding a cached payment status.
func PaymentKey(tripID string, field PaymentField) string {
	return fmt.Sprintf("payment_%s_%s", tripID, field)
}

// ReferenceKey is the KV key holding the confirmed balance amount.
func ReferenceKey(tripID string) string {
	return fmt.Sprintf("original_balance_%s", tripID)
}

// =============================================================================
// PURE MERGE / DRIFT FUNCTIONS
// =============================================================================

// Overrides are the cached payment statuses for one trip. Empty means absent.
type Overrides struct {
	Advance PaymentStatus
	Balance PaymentStatus
}

func (o Overrides) get(field PaymentField) PaymentStatus {
	if field == FieldAdvance {
		return o.Advance
	}
	return o.Balance
}

// Merge is the result of applying overrides to a fetched trip.
type Merge struct {
	Trip Trip
	// Applied lists fields where the cached value replaced the fetched one.
	Applied []PaymentField
	// Settled lists fields whose override the server has caught up with.
	Settled []PaymentField
}

// MergeOverrides applies cached overrides to a fetched trip.
func MergeOverrides(server Trip, o Overrides) Merge {
	m := Merge{Trip: server.Clone()}
	for _, field := range []PaymentField{FieldAdvance, FieldBalance} {
		cached := o.get(field)
		if cached == "" {
			continue
		}
		fetched := server.Payment(field)
		switch {
		case fetched == cached, fetched == PaymentPaid:
			m.Settled = append(m.Settled, field)
		default:
			m.Trip.SetPayment(field, cached)
			m.Applied = append(m.Applied, field)
		}
	}
	m.Trip.Status = ProjectStatus(m.Trip)
	return m
}

// Drift is the outcome of an amount drift check.
type Drift struct {
	Changed         bool
	Reference       decimal.Decimal
	UpdateReference bool
}

// DetectDrift compares the fetched balance amount with the reference.
func DetectDrift(t Trip, reference decimal.Decimal, hasReference bool) Drift {
	current := t.BalanceAmount
	switch {
	case !hasReference:
		return Drift{Reference: current, UpdateReference: true}
	case t.Payment(FieldBalance) == PaymentPaid:
		return Drift{Reference: reference}
	case current.GreaterThan(reference):
		return Drift{Changed: true, Reference: reference}
	case current.LessThan(reference):
		return Drift{Reference: current, UpdateReference: true}
	}
	return Drift{Reference: reference}
}

// =============================================================================
// CACHE
// =============================================================================

// ReconciliationCache stores overrides and reference amounts in a KV.
type ReconciliationCache struct {
	kv     KV
	logger *zap.Logger
}

// NewReconciliationCache wraps kv. A nil logger discards output.
func NewReconciliationCache(kv KV, logger *zap.Logger) *ReconciliationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationCache{kv: kv, logger: logger}
}

// Put records a payment status this process is writing. A cached Paid is
// terminal: replacing it with anything else is rejected with AlreadyPaid.
func (c *ReconciliationCache) Put(ctx context.Context, tripID string, field PaymentField, status PaymentStatus) error {
	prior, ok, err := c.Get(ctx, tripID, field)
	if err != nil {
		return err
	}
	if ok && prior == PaymentPaid && status != PaymentPaid {
		return &PreconditionError{TripID: tripID, Field: field, Reason: ReasonAlreadyPaid}
	}
	if err := c.kv.Set(ctx, PaymentKey(tripID, field), string(status)); err != nil {
		return fmt.Errorf("failed to cache %s override: %w", field, err)
	}
	return nil
}

// Restore puts back an override read before a write that failed, or
// clears the field when there was none.
func (c *ReconciliationCache) Restore(ctx context.Context, tripID string, field PaymentField, prior PaymentStatus, hadPrior bool) error {
	if !hadPrior {
		return c.Acknowledge(ctx, tripID, field)
	}
	if err := c.kv.Set(ctx, PaymentKey(tripID, field), string(prior)); err != nil {
		return fmt.Errorf("failed to restore %s override: %w", field, err)
	}
	return nil
}

// Get returns the cached status for a field, if present.
func (c *ReconciliationCache) Get(ctx context.Context, tripID string, field PaymentField) (PaymentStatus, bool, error) {
	v, ok, err := c.kv.Get(ctx, PaymentKey(tripID, field))
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s override: %w", field, err)
	}
	return PaymentStatus(v), ok, nil
}

// Acknowledge clears an override once the server has caught up.
func (c *ReconciliationCache) Acknowledge(ctx context.Context, tripID string, field PaymentField) error {
	if err := c.kv.Delete(ctx, PaymentKey(tripID, field)); err != nil {
		return fmt.Errorf("failed to clear %s override: %w", field, err)
	}
	return nil
}

// Overrides loads both cached fields for a trip.
func (c *ReconciliationCache) Overrides(ctx context.Context, tripID string) (Overrides, error) {
	var o Overrides
	adv, ok, err := c.Get(ctx, tripID, FieldAdvance)
	if err != nil {
		return o, err
	}
	if ok {
		o.Advance = adv
	}
	bal, ok, err := c.Get(ctx, tripID, FieldBalance)
	if err != nil {
		return o, err
	}
	if ok {
		o.Balance = bal
	}
	return o, nil
}

// ReferenceAmount returns the confirmed balance amount, if recorded.
func (c *ReconciliationCache) ReferenceAmount(ctx context.Context, tripID string) (decimal.Decimal, bool, error) {
	v, ok, err := c.kv.Get(ctx, ReferenceKey(tripID))
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	amount, err := decimal.NewFromString(v)
	if err != nil {
		// A corrupt reference is replaced on the next reconcile.
		c.logger.Warn("discarding unreadable reference amount",
			zap.String("trip_id", tripID), zap.String("value", v))
		return decimal.Zero, false, nil
	}
	return amount, true, nil
}

// ConfirmAmount accepts amount as the new reference, clearing the
// AmountChanged flag on subsequent reconciles.
func (c *ReconciliationCache) ConfirmAmount(ctx context.Context, tripID string, amount decimal.Decimal) error {
	if err := c.kv.Set(ctx, ReferenceKey(tripID), amount.String()); err != nil {
		return fmt.Errorf("failed to store reference amount: %w", err)
	}
	return nil
}

// Reconcile merges overrides into a fetched trip and runs the drift check.
// It never deletes overrides; callers acknowledge Merge.Settled explicitly.
func (c *ReconciliationCache) Reconcile(ctx context.Context, server Trip) (Merge, error) {
	o, err := c.Overrides(ctx, server.ID)
	if err != nil {
		return Merge{Trip: server}, err
	}
	m := MergeOverrides(server, o)
	for _, f := range m.Applied {
		metrics.CacheOverridesApplied.WithLabelValues(string(f)).Inc()
	}

	ref, hasRef, err := c.ReferenceAmount(ctx, server.ID)
	if err != nil {
		return m, err
	}
	d := DetectDrift(m.Trip, ref, hasRef)
	if d.UpdateReference {
		if err := c.ConfirmAmount(ctx, server.ID, d.Reference); err != nil {
			return m, err
		}
	}
	m.Trip.AmountChanged = d.Changed
	return m, nil
}

// Settle acknowledges every settled override in m.
func (c *ReconciliationCache) Settle(ctx context.Context, m Merge) error {
	for _, f := range m.Settled {
		if err := c.Acknowledge(ctx, m.Trip.ID, f); err != nil {
			return err
		}
		metrics.CacheOverridesAcknowledged.Inc()
		c.logger.Debug("override settled",
			zap.String("trip_id", m.Trip.ID), zap.String("field", string(f)))
	}
	return nil
}
