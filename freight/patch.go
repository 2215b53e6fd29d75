package freight

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT PATCH - closed union: Advance(status) | Balance(status)
// =============================================================================

// PaymentPatch is a requested change to exactly one payment installment.
// Build it with Advance or Balance; the zero value is invalid.
type PaymentPatch struct {
	field  PaymentField
	status PaymentStatus
}

// Advance requests a change to the advance installment.
func Advance(status PaymentStatus) PaymentPatch {
	return PaymentPatch{field: FieldAdvance, status: status}
}

// Balance requests a change to the balance installment.
func Balance(status PaymentStatus) PaymentPatch {
	return PaymentPatch{field: FieldBalance, status: status}
}

// NewPaymentPatch builds a patch from an untyped field name, as received
// over HTTP or the CLI.
func NewPaymentPatch(field PaymentField, status PaymentStatus) (PaymentPatch, error) {
	var p PaymentPatch
	switch field {
	case FieldAdvance:
		p = Advance(status)
	case FieldBalance:
		p = Balance(status)
	default:
		return PaymentPatch{}, fmt.Errorf("%w: unknown payment field %q", ErrInvalidPatch, field)
	}
	return p, p.Validate()
}

func (p PaymentPatch) Field() PaymentField   { return p.field }
func (p PaymentPatch) Status() PaymentStatus { return p.status }

// Validate rejects the zero value and unknown statuses.
func (p PaymentPatch) Validate() error {
	if !p.field.Valid() {
		return fmt.Errorf("%w: missing payment field", ErrInvalidPatch)
	}
	if !p.status.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidPatch, p.status)
	}
	return nil
}

func (p PaymentPatch) String() string {
	return fmt.Sprintf("%s->%s", p.field, p.status)
}

// =============================================================================
// TRIP PATCH - generic field patch (PATCH /trips/{id})
// =============================================================================

// TripPatch is a partial update. Nil fields are left unchanged.
type TripPatch struct {
	Status               *TripStatus      `json:"status,omitempty"`
	AdvancePaymentStatus *PaymentStatus   `json:"advancePaymentStatus,omitempty"`
	BalancePaymentStatus *PaymentStatus   `json:"balancePaymentStatus,omitempty"`
	PodUploaded          *bool            `json:"podUploaded,omitempty"`
	SupplierFreight      *decimal.Decimal `json:"supplierFreight,omitempty"`
	AdvancePercentage    *decimal.Decimal `json:"advancePercentage,omitempty"`
	BalanceAmount        *decimal.Decimal `json:"balanceAmount,omitempty"`
	UTRNumber            *string          `json:"utrNumber,omitempty"`
	PaymentMethod        *string          `json:"paymentMethod,omitempty"`
	ClientName           *string          `json:"clientName,omitempty"`
	SupplierName         *string          `json:"supplierName,omitempty"`
}

// PaymentTripPatch expresses a payment update as a generic patch, for the
// fallback write path.
func PaymentTripPatch(upd PaymentUpdate) TripPatch {
	status := upd.Status
	p := TripPatch{}
	switch upd.Field {
	case FieldAdvance:
		p.AdvancePaymentStatus = &status
	case FieldBalance:
		p.BalancePaymentStatus = &status
	}
	if upd.UTRNumber != "" {
		utr := upd.UTRNumber
		p.UTRNumber = &utr
	}
	if upd.PaymentMethod != "" {
		method := upd.PaymentMethod
		p.PaymentMethod = &method
	}
	return p
}

// StatusTripPatch expresses a trip-status write as a generic patch.
func StatusTripPatch(status TripStatus) TripPatch {
	return TripPatch{Status: &status}
}

// =============================================================================
// STORE-SIDE APPLICATION
// =============================================================================
// Stores are dumb record stores: they apply what they are given.
// Business rules are enforced by the resolver before any write.

// NewTrip builds a trip record from a draft.
func NewTrip(draft TripDraft, now time.Time) Trip {
	id := uuid.NewString()
	order := draft.OrderNumber
	if order == "" {
		order = "FT-" + strings.ToUpper(id[:8])
	}
	advance, balance := SplitFreight(draft.SupplierFreight, draft.AdvancePercentage)
	return Trip{
		ID:                   id,
		OrderNumber:          order,
		LRNumbers:            append([]string(nil), draft.LRNumbers...),
		ClientName:           draft.ClientName,
		SupplierName:         draft.SupplierName,
		Status:               StatusBooked,
		AdvancePaymentStatus: PaymentNotStarted,
		BalancePaymentStatus: PaymentNotStarted,
		SupplierFreight:      draft.SupplierFreight,
		AdvancePercentage:    draft.AdvancePercentage,
		AdvanceAmount:        advance,
		BalanceAmount:        balance,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// ApplyPatch applies p to t in place. Changing the freight or the advance
// percentage recomputes both amounts; an explicit BalanceAmount is applied
// after that.
func ApplyPatch(t *Trip, p TripPatch, now time.Time) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AdvancePaymentStatus != nil {
		t.AdvancePaymentStatus = *p.AdvancePaymentStatus
	}
	if p.BalancePaymentStatus != nil {
		t.BalancePaymentStatus = *p.BalancePaymentStatus
	}
	if p.PodUploaded != nil {
		t.PodUploaded = *p.PodUploaded
	}
	if p.ClientName != nil {
		t.ClientName = *p.ClientName
	}
	if p.SupplierName != nil {
		t.SupplierName = *p.SupplierName
	}
	if p.UTRNumber != nil {
		t.UTRNumber = *p.UTRNumber
	}
	if p.PaymentMethod != nil {
		t.PaymentMethod = *p.PaymentMethod
	}

	if p.SupplierFreight != nil || p.AdvancePercentage != nil {
		if p.SupplierFreight != nil {
			t.SupplierFreight = *p.SupplierFreight
		}
		if p.AdvancePercentage != nil {
			t.AdvancePercentage = *p.AdvancePercentage
		}
		t.AdvanceAmount, t.BalanceAmount = SplitFreight(t.SupplierFreight, t.AdvancePercentage)
	}
	if p.BalanceAmount != nil {
		t.BalanceAmount = *p.BalanceAmount
	}
	t.UpdatedAt = now
}

// ApplyPaymentUpdate applies a dedicated payment-status write.
func ApplyPaymentUpdate(t *Trip, upd PaymentUpdate, now time.Time) {
	ApplyPatch(t, PaymentTripPatch(upd), now)
}

// ApplyDocument records an uploaded document. A POD upload marks the trip
// as having proof of delivery.
func ApplyDocument(t *Trip, doc Document, now time.Time) {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	t.Documents = append(t.Documents, doc)
	if strings.EqualFold(doc.Type, DocumentTypePOD) {
		t.PodUploaded = true
	}
	t.UpdatedAt = now
}
