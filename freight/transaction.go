/*
transaction.go - TransactionRecord and the bounded TransactionLog

PURPOSE:
  Every coordinator run is traced as a TransactionRecord: an ordered list
  of timestamped steps, a terminal status and the final result or error.
  Records are observability artifacts, not durable data. They are kept in
  memory for a bounded window after they end and then discarded.

RETENTION:
  completed  60s after EndedAt
  failed    300s after EndedAt
  pending   kept until it ends

CONCURRENCY:
  A record is mutated only through its Tx handle, owned by one run.
  Readers receive copies.
*/
package freight

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default retention windows.
const (
	DefaultSuccessRetention = 60 * time.Second
	DefaultFailureRetention = 300 * time.Second
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// TransactionKind names what a run did.
type TransactionKind string

const (
	KindPaymentUpdate TransactionKind = "payment_update"
	KindStatusUpdate  TransactionKind = "status_update"
	KindTripCreate    TransactionKind = "trip_create"
)

// TransactionStatus is the lifecycle state of a record.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Step is one recorded action within a run.
type Step struct {
	At          time.Time      `json:"at"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// FieldDiff is a before/after pair recorded at the end of a run.
type FieldDiff struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// TransactionRecord traces one coordinator run.
type TransactionRecord struct {
	ID        string            `json:"id"`
	EntityID  string            `json:"entityId"`
	Kind      TransactionKind   `json:"kind"`
	Status    TransactionStatus `json:"status"`
	Steps     []Step            `json:"steps"`
	Diff      []FieldDiff       `json:"diff,omitempty"`
	Result    *Trip             `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	StartedAt time.Time         `json:"startedAt"`
	EndedAt   time.Time         `json:"endedAt,omitempty"`

	// PartialApplication is set when the derived status was missing from
	// the final fetch. CorrectionApplied reports whether the single
	// corrective write succeeded.
	PartialApplication bool `json:"partialApplication,omitempty"`
	CorrectionApplied  bool `json:"correctionApplied,omitempty"`
}

// Duration is the elapsed time of an ended run.
func (r TransactionRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Partial returns an error wrapping ErrPartialApplication when the run's
// derived status was missing and the corrective write did not land.
func (r TransactionRecord) Partial() error {
	if !r.PartialApplication || r.CorrectionApplied {
		return nil
	}
	return fmt.Errorf("%w: trip %s derived status not applied (tx %s)", ErrPartialApplication, r.EntityID, r.ID)
}

func (r *TransactionRecord) clone() TransactionRecord {
	c := *r
	c.Steps = append([]Step(nil), r.Steps...)
	c.Diff = append([]FieldDiff(nil), r.Diff...)
	if r.Result != nil {
		t := r.Result.Clone()
		c.Result = &t
	}
	return c
}

// =============================================================================
// LOG
// =============================================================================

// TransactionLog holds recent records.
type TransactionLog struct {
	mu      sync.Mutex
	records map[string]*TransactionRecord
	now     Clock

	successRetention time.Duration
	failureRetention time.Duration
}

// NewTransactionLog creates a log. Zero retentions use the defaults.
func NewTransactionLog(now Clock, success, failure time.Duration) *TransactionLog {
	if now == nil {
		now = time.Now
	}
	if success <= 0 {
		success = DefaultSuccessRetention
	}
	if failure <= 0 {
		failure = DefaultFailureRetention
	}
	return &TransactionLog{
		records:          make(map[string]*TransactionRecord),
		now:              now,
		successRetention: success,
		failureRetention: failure,
	}
}

// Begin starts a new pending record.
func (l *TransactionLog) Begin(kind TransactionKind, entityID string) *Tx {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	rec := &TransactionRecord{
		ID:        string(kind) + "-" + uuid.NewString(),
		EntityID:  entityID,
		Kind:      kind,
		Status:    TxPending,
		StartedAt: now,
	}
	l.records[rec.ID] = rec
	return &Tx{log: l, rec: rec}
}

// Get returns a copy of the record with the given id.
func (l *TransactionLog) Get(id string) (TransactionRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	rec, ok := l.records[id]
	if !ok {
		return TransactionRecord{}, false
	}
	return rec.clone(), true
}

// List returns copies of all retained records, oldest first.
func (l *TransactionLog) List() []TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	out := make([]TransactionRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Prune drops records past their retention window.
func (l *TransactionLog) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
}

func (l *TransactionLog) pruneLocked(now time.Time) {
	for id, rec := range l.records {
		var keep time.Duration
		switch rec.Status {
		case TxCompleted:
			keep = l.successRetention
		case TxFailed:
			keep = l.failureRetention
		default:
			continue
		}
		if now.Sub(rec.EndedAt) >= keep {
			delete(l.records, id)
		}
	}
}

// =============================================================================
// TX HANDLE
// =============================================================================

// Tx is the owning run's handle to its record.
type Tx struct {
	log *TransactionLog
	rec *TransactionRecord
}

// ID returns the record id.
func (t *Tx) ID() string { return t.rec.ID }

// Step appends a step. data may be nil.
func (t *Tx) Step(description string, data map[string]any) {
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	t.rec.Steps = append(t.rec.Steps, Step{At: t.log.now(), Description: description, Data: data})
}

// SetDiff records the before/after differences.
func (t *Tx) SetDiff(diff []FieldDiff) {
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	t.rec.Diff = diff
}

// MarkPartial records a partial application and whether it was corrected.
func (t *Tx) MarkPartial(corrected bool) {
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	t.rec.PartialApplication = true
	t.rec.CorrectionApplied = corrected
}

// Complete ends the run successfully.
func (t *Tx) Complete(result *Trip) TransactionRecord {
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	if result != nil {
		r := result.Clone()
		t.rec.Result = &r
	}
	t.rec.Status = TxCompleted
	t.rec.EndedAt = t.log.now()
	return t.rec.clone()
}

// Fail ends the run with err.
func (t *Tx) Fail(err error) TransactionRecord {
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	t.rec.Status = TxFailed
	t.rec.Error = err.Error()
	t.rec.EndedAt = t.log.now()
	return t.rec.clone()
}
