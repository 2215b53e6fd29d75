/*
resolver.go - StatusTransitionResolver: pure transition rules

PURPOSE:
  Decides whether a requested payment change is legal and which trip
  status, if any, follows from it. No I/O; cheap to call and to reject.

RULES (evaluated in order):
  1. The targeted installment is already Paid       -> AlreadyPaid
  2. Balance change while advance is not Paid       -> AdvanceRequired
  3. Balance change while no POD is on file         -> PodRequired
  4. Derived status:
       advance -> Paid while Booked                 => In Transit
       balance -> Paid while In Transit/Delivered   => Completed

ADJACENCY:
  The engine validates terminality and preconditions. It does not require
  the target to be the immediate next step of the chain unless the
  resolver is built with EnforceAdjacency. NextPaymentStatus is the
  table lookup callers use to request the next step.

DIRECT STATUS CHANGES:
  CanSetStatus guards writes that set the trip status outside a payment
  change. Completed requires a Paid balance, and stages never move back.

SEE ALSO:
  - coordinator.go: Runs the resolver before any write
  - cache.go: Applies ProjectStatus after merging overrides
*/
package freight

// =============================================================================
// REASONS
// =============================================================================

// Reason identifies why a change was rejected.
type Reason string

const (
	ReasonAlreadyPaid      Reason = "AlreadyPaid"
	ReasonAdvanceRequired  Reason = "AdvanceRequired"
	ReasonPodRequired      Reason = "PodRequired"
	ReasonNotAdjacent      Reason = "NotAdjacent"
	ReasonInvalidStatus    Reason = "InvalidStatus"
	ReasonBalanceRequired  Reason = "BalanceRequired"
	ReasonStatusRegression Reason = "StatusRegression"
)

var reasonMessages = map[Reason]string{
	ReasonAlreadyPaid:      "This payment has already been marked as Paid and cannot be changed.",
	ReasonAdvanceRequired:  "Advance payment must be Paid before the balance payment can proceed.",
	ReasonPodRequired:      "Proof of delivery must be uploaded before the balance payment can proceed.",
	ReasonNotAdjacent:      "Payment status can only move to the next step.",
	ReasonInvalidStatus:    "Unknown status value.",
	ReasonBalanceRequired:  "A trip can only be completed once the balance payment is Paid.",
	ReasonStatusRegression: "Trip status cannot move backwards.",
}

// Message is the human-readable text shown to the user.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolution is the outcome of a resolver decision.
type Resolution struct {
	Allowed bool
	Reason  Reason
	// DerivedStatus is the trip status that follows from the change.
	// Empty when the trip status stays as it is.
	DerivedStatus TripStatus
}

// HasDerived reports whether the change implies a trip status write.
func (r Resolution) HasDerived() bool {
	return r.DerivedStatus != ""
}

// Err converts a rejection into a PreconditionError. Nil when allowed.
func (r Resolution) Err(tripID string, field PaymentField) error {
	if r.Allowed {
		return nil
	}
	return &PreconditionError{TripID: tripID, Field: field, Reason: r.Reason}
}

func reject(reason Reason) Resolution {
	return Resolution{Allowed: false, Reason: reason}
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver applies the transition rules.
type Resolver struct {
	// EnforceAdjacency rejects targets that are not the immediate next
	// status in the chain.
	EnforceAdjacency bool
}

// Resolve decides whether patch may be applied to trip.
func (r Resolver) Resolve(trip Trip, patch PaymentPatch) Resolution {
	if err := patch.Validate(); err != nil {
		return reject(ReasonInvalidStatus)
	}

	field, target := patch.Field(), patch.Status()
	current := trip.Payment(field)

	if current.Terminal() {
		return reject(ReasonAlreadyPaid)
	}

	if field == FieldBalance {
		if trip.Payment(FieldAdvance) != PaymentPaid {
			return reject(ReasonAdvanceRequired)
		}
		if !trip.PodUploaded {
			return reject(ReasonPodRequired)
		}
	}

	if r.EnforceAdjacency {
		if next, ok := NextPaymentStatus(current); !ok || next != target {
			return reject(ReasonNotAdjacent)
		}
	}

	return Resolution{Allowed: true, DerivedStatus: derive(trip.Status, field, target)}
}

func derive(status TripStatus, field PaymentField, target PaymentStatus) TripStatus {
	if target != PaymentPaid {
		return ""
	}
	switch field {
	case FieldAdvance:
		if status == StatusBooked {
			return StatusInTransit
		}
	case FieldBalance:
		if status == StatusInTransit || status == StatusDelivered {
			return StatusCompleted
		}
	}
	return ""
}

// NextPaymentStatus returns the status after s in the chain.
// ok is false when s is terminal or unknown.
func NextPaymentStatus(s PaymentStatus) (next PaymentStatus, ok bool) {
	i := NormalizePayment(s).rank()
	if i < 0 || i+1 >= len(paymentChain) {
		return "", false
	}
	return paymentChain[i+1], true
}

// ProjectStatus returns the trip status implied by the payment fields.
// It only ever moves the status forward.
func ProjectStatus(trip Trip) TripStatus {
	status := trip.Status
	if trip.Payment(FieldAdvance) == PaymentPaid && status == StatusBooked {
		status = StatusInTransit
	}
	if trip.Payment(FieldBalance) == PaymentPaid && (status == StatusInTransit || status == StatusDelivered) {
		status = StatusCompleted
	}
	return status
}

// CanSetStatus guards a direct trip status change.
func CanSetStatus(trip Trip, to TripStatus) Resolution {
	if !to.Valid() {
		return reject(ReasonInvalidStatus)
	}
	if to.Before(trip.Status) {
		return reject(ReasonStatusRegression)
	}
	if to == StatusCompleted && trip.Payment(FieldBalance) != PaymentPaid {
		return reject(ReasonBalanceRequired)
	}
	if to == trip.Status {
		return Resolution{Allowed: true}
	}
	return Resolution{Allowed: true, DerivedStatus: to}
}
