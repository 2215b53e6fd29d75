/*
types.go - Core domain types for the freight synchronization engine

PURPOSE:
  Defines the trip record and the two independent state axes it carries:
  the logistics stage (TripStatus) and the two payment installments
  (PaymentStatus for advance and balance).

KEY CONCEPTS:
  TripStatus:     Booked -> In Transit -> Delivered -> Completed
  PaymentStatus:  Not Started -> Initiated -> Pending -> Paid (terminal)
  PaymentField:   which installment a write targets (advance | balance)

  The trip status is a projection of the payment fields plus delivery
  events. It is derived by the resolver, never written independently of
  the payment it follows from (see resolver.go).

AMOUNTS:
  Money figures use shopspring/decimal. The engine tracks status labels,
  not money movement; amounts only matter for drift detection
  (see cache.go) and the advance/balance split.

SEE ALSO:
  - patch.go: PaymentPatch union and generic TripPatch
  - resolver.go: Transition rules
  - store.go: TripStore interface
*/
package freight

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRIP STATUS
// =============================================================================

// TripStatus is the logistics stage of a trip.
type TripStatus string

const (
	StatusBooked    TripStatus = "Booked"
	StatusInTransit TripStatus = "In Transit"
	StatusDelivered TripStatus = "Delivered"
	StatusCompleted TripStatus = "Completed"
)

var tripStatusRank = map[TripStatus]int{
	StatusBooked:    0,
	StatusInTransit: 1,
	StatusDelivered: 2,
	StatusCompleted: 3,
}

// Valid reports whether s is a known trip status.
func (s TripStatus) Valid() bool {
	_, ok := tripStatusRank[s]
	return ok
}

// Before reports whether s is an earlier stage than other.
func (s TripStatus) Before(other TripStatus) bool {
	return tripStatusRank[s] < tripStatusRank[other]
}

// =============================================================================
// PAYMENT STATUS
// =============================================================================

// PaymentStatus is the state of one payment installment.
type PaymentStatus string

const (
	PaymentNotStarted PaymentStatus = "Not Started"
	PaymentInitiated  PaymentStatus = "Initiated"
	PaymentPending    PaymentStatus = "Pending"
	PaymentPaid       PaymentStatus = "Paid"
)

// paymentChain is the monotonic progression used by NextPaymentStatus.
var paymentChain = []PaymentStatus{
	PaymentNotStarted,
	PaymentInitiated,
	PaymentPending,
	PaymentPaid,
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further writes are permitted from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid
}

// InProgress reports whether s is Initiated or Pending.
func (s PaymentStatus) InProgress() bool {
	return s == PaymentInitiated || s == PaymentPending
}

func (s PaymentStatus) rank() int {
	for i, p := range paymentChain {
		if p == s {
			return i
		}
	}
	return -1
}

// NormalizePayment maps an empty status to Not Started.
// Older records were created without payment fields.
func NormalizePayment(s PaymentStatus) PaymentStatus {
	if s == "" {
		return PaymentNotStarted
	}
	return s
}

// PaymentField selects which installment a payment write targets.
type PaymentField string

const (
	FieldAdvance PaymentField = "advance"
	FieldBalance PaymentField = "balance"
)

// Valid reports whether f names a known installment.
func (f PaymentField) Valid() bool {
	return f == FieldAdvance || f == FieldBalance
}

// =============================================================================
// TRIP
// =============================================================================

// DocumentTypePOD marks a proof-of-delivery upload.
const DocumentTypePOD = "POD"

// Document is an uploaded trip document reference.
type Document struct {
	Type       string    `json:"type"`
	Number     string    `json:"number,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Trip is the unit of work tracked by the engine.
type Trip struct {
	ID           string   `json:"id"`
	OrderNumber  string   `json:"orderNumber"`
	LRNumbers    []string `json:"lrNumbers,omitempty"`
	ClientName   string   `json:"clientName,omitempty"`
	SupplierName string   `json:"supplierName,omitempty"`

	Status               TripStatus    `json:"status"`
	AdvancePaymentStatus PaymentStatus `json:"advancePaymentStatus"`
	BalancePaymentStatus PaymentStatus `json:"balancePaymentStatus"`
	PodUploaded          bool          `json:"podUploaded"`

	SupplierFreight   decimal.Decimal `json:"supplierFreight"`
	AdvancePercentage decimal.Decimal `json:"advancePercentage"`
	AdvanceAmount     decimal.Decimal `json:"advanceAmount"`
	BalanceAmount     decimal.Decimal `json:"balanceAmount"`

	UTRNumber     string     `json:"utrNumber,omitempty"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	Documents     []Document `json:"documents,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// AmountChanged is set by the reconciliation cache when the balance
	// amount rose since it was last confirmed. Never persisted by stores.
	AmountChanged bool `json:"amountChanged,omitempty"`
}

// Payment returns the status of the given installment.
func (t Trip) Payment(field PaymentField) PaymentStatus {
	switch field {
	case FieldAdvance:
		return NormalizePayment(t.AdvancePaymentStatus)
	case FieldBalance:
		return NormalizePayment(t.BalancePaymentStatus)
	}
	return ""
}

// SetPayment sets the status of the given installment.
func (t *Trip) SetPayment(field PaymentField, status PaymentStatus) {
	switch field {
	case FieldAdvance:
		t.AdvancePaymentStatus = status
	case FieldBalance:
		t.BalancePaymentStatus = status
	}
}

// Clone returns a deep copy of the trip.
func (t Trip) Clone() Trip {
	c := t
	if t.LRNumbers != nil {
		c.LRNumbers = append([]string(nil), t.LRNumbers...)
	}
	if t.Documents != nil {
		c.Documents = append([]Document(nil), t.Documents...)
	}
	return c
}

// Matches reports whether ref addresses this trip by ID or order number.
func (t Trip) Matches(ref string) bool {
	return ref != "" && (t.ID == ref || t.OrderNumber == ref)
}

// =============================================================================
// INPUTS
// =============================================================================

// TripDraft is the input for creating a trip.
type TripDraft struct {
	OrderNumber       string          `json:"orderNumber,omitempty"`
	LRNumbers         []string        `json:"lrNumbers,omitempty"`
	ClientName        string          `json:"clientName"`
	SupplierName      string          `json:"supplierName"`
	SupplierFreight   decimal.Decimal `json:"supplierFreight"`
	AdvancePercentage decimal.Decimal `json:"advancePercentage"`
}

// PaymentMeta is bank-transfer metadata carried on payment writes.
// Stored as given, never validated.
type PaymentMeta struct {
	UTRNumber     string `json:"utrNumber,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

// PaymentUpdate is the body of a dedicated payment-status write.
type PaymentUpdate struct {
	Field  PaymentField
	Status PaymentStatus
	PaymentMeta
}

// =============================================================================
// AMOUNTS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// SplitFreight divides the supplier freight into advance and balance.
// The advance is rounded to two places; the balance takes the remainder.
func SplitFreight(freight, advancePercentage decimal.Decimal) (advance, balance decimal.Decimal) {
	advance = freight.Mul(advancePercentage).Div(hundred).Round(2)
	balance = freight.Sub(advance)
	return advance, balance
}
