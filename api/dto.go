/*
dto.go - Request and response bodies for the HTTP API

PURPOSE:
  Wire shapes that are not the Trip record itself. Trips, drafts,
  generic patches and documents travel as their freight types, whose
  JSON tags match the store's field names.

NAMING:
  camelCase JSON, matching the trip record.
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/freight-sync/freight"
)

// =============================================================================
// STORE API
// =============================================================================

// PaymentStatusRequest is the body of PATCH /trips/{id}/payment-status.
// Exactly one of the two status fields must be set.
type PaymentStatusRequest struct {
	AdvancePaymentStatus freight.PaymentStatus `json:"advancePaymentStatus,omitempty"`
	BalancePaymentStatus freight.PaymentStatus `json:"balancePaymentStatus,omitempty"`
	UTRNumber            string                `json:"utrNumber,omitempty"`
	PaymentMethod        string                `json:"paymentMethod,omitempty"`
}

// StatusRequest is the body of PATCH /trips/{id}/status.
type StatusRequest struct {
	Status freight.TripStatus `json:"status"`
	Reason string             `json:"reason,omitempty"`
}

// ScenarioDTO describes a fixture set that can be loaded into the store.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ENGINE API
// =============================================================================

// PaymentRequest asks the engine to change a payment installment.
// An empty Status advances to the next status in the chain.
type PaymentRequest struct {
	Field         freight.PaymentField  `json:"field"`
	Status        freight.PaymentStatus `json:"status,omitempty"`
	UTRNumber     string                `json:"utrNumber,omitempty"`
	PaymentMethod string                `json:"paymentMethod,omitempty"`
}

// ConfirmAmountRequest accepts a changed balance amount.
type ConfirmAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TransactionResponse pairs a trip with the record of the run that
// produced it.
type TransactionResponse struct {
	Trip        *freight.Trip             `json:"trip,omitempty"`
	Transaction freight.TransactionRecord `json:"transaction"`
}

// QueuesResponse is the combined queue view.
type QueuesResponse struct {
	Advance []freight.Trip `json:"advance"`
	Balance []freight.Trip `json:"balance"`
	History []freight.Trip `json:"history"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
