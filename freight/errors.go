/*
errors.go - Error taxonomy for the synchronization engine

PURPOSE:
  All engine errors in one place. Callers branch with errors.Is on the
  sentinels; structured errors carry the context needed for display.

ERROR CATEGORIES:
  1. NotFound            - trip id unresolvable, fatal to the operation
  2. PreconditionFailed  - business rule violation (AlreadyPaid,
                           AdvanceRequired, PodRequired, ...)
  3. StoreUnavailable    - transport failure talking to the store
  4. PartialApplication  - payment applied but derived status did not

  PartialApplication is recorded on the TransactionRecord rather than
  returned: the coordinator corrects once and then accepts the outcome.

SEE ALSO:
  - resolver.go: Produces PreconditionError
  - coordinator.go: Wraps store failures in StoreError
  - client/client.go: Maps HTTP replies onto these errors
*/
package freight

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a trip id (or order number) does not resolve.
	ErrNotFound = errors.New("trip not found")

	// ErrPreconditionFailed is returned when a business rule rejects a write.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrStoreUnavailable is returned when the store cannot be reached or
	// fails internally.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrPartialApplication marks a run whose derived status write did not
	// take effect.
	ErrPartialApplication = errors.New("partial application")

	// ErrInvalidPatch is returned for malformed payment patches.
	ErrInvalidPatch = errors.New("invalid payment patch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PreconditionError explains why the resolver rejected a change.
type PreconditionError struct {
	TripID string
	Field  PaymentField
	Reason Reason
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Reason.Message())
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// StoreError wraps a transport or store failure for one operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// RequestError is a store rejection that is neither NotFound nor a
// server-side failure (HTTP 4xx).
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("store rejected request (%d): %s", e.StatusCode, e.Message)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing trip.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPrecondition returns true if a business rule rejected the change.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// IsStoreUnavailable returns true for transport failures.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	var reqErr *RequestError
	return errors.Is(err, ErrInvalidPatch) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.As(err, &reqErr)
}

// ReasonOf extracts the precondition reason, if any.
func ReasonOf(err error) (Reason, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}

// UserMessage renders err for display. Precondition failures are shown
// verbatim; transport failures get a generic retry prompt.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if reason, ok := ReasonOf(err); ok {
		return reason.Message()
	}
	switch {
	case IsNotFound(err):
		return "Trip not found."
	case IsStoreUnavailable(err):
		return "Could not reach the server. Please try again."
	}
	return err.Error()
}
