/*
engine_handlers.go - HTTP handlers for the synchronization engine

PURPOSE:
  Exposes engine operations to views. Unlike handlers.go, every write here
  goes through the coordinator: preconditions are checked, derived status
  is written, and a transaction record is returned with the trip.

ENDPOINTS:
  GET    /engine/trips                      Reconciled trips
  POST   /engine/trips                      Create (advance initiated out of band)
  GET    /engine/trips/{id}                 Reconciled trip
  POST   /engine/trips/{id}/payments        Change an installment (empty status = next)
  PUT    /engine/trips/{id}/status          Guarded status change
  POST   /engine/trips/{id}/pod             Attach a POD document
  POST   /engine/trips/{id}/confirm-amount  Accept a changed balance amount
  GET    /engine/queues                     Advance, balance and history views
  GET    /engine/queues/{queue}             One view
  GET    /engine/transactions               Retained transaction records
  GET    /engine/transactions/{id}          One record

ERROR HANDLING:
  - 400 Bad Request: malformed body, invalid patch, store rejected input
  - 404 Not Found: unknown trip or transaction
  - 409 Conflict: precondition failed; Code carries the reason
  - 503 Service Unavailable: store unreachable
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/freight"
)

// EngineHandler serves the engine API.
type EngineHandler struct {
	engine *freight.Engine
	logger *zap.Logger
}

// NewEngineHandler creates an engine API handler.
func NewEngineHandler(engine *freight.Engine, logger *zap.Logger) *EngineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EngineHandler{engine: engine, logger: logger}
}

// =============================================================================
// READS
// =============================================================================

func (h *EngineHandler) ListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.engine.Trips(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trips)
}

func (h *EngineHandler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Trip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetQueues returns all three queue views from one fetch.
func (h *EngineHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	trips, err := h.engine.Trips(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QueuesResponse{
		Advance: orEmpty(freight.AdvanceQueue(trips)),
		Balance: orEmpty(freight.BalanceQueue(trips)),
		History: orEmpty(freight.PaymentHistory(trips)),
	})
}

// GetQueue returns one queue view: advance, balance or history.
func (h *EngineHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	var (
		trips []freight.Trip
		err   error
	)
	switch chi.URLParam(r, "queue") {
	case "advance":
		trips, err = h.engine.AdvanceQueue(r.Context())
	case "balance":
		trips, err = h.engine.BalanceQueue(r.Context())
	case "history":
		trips, err = h.engine.PaymentHistory(r.Context())
	default:
		writeError(w, http.StatusNotFound, "Unknown queue", nil)
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(trips))
}

func (h *EngineHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Transactions())
}

func (h *EngineHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.engine.Transaction(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// WRITES
// =============================================================================

// CreateTrip creates a trip through the engine.
func (h *EngineHandler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var draft freight.TripDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, rec, err := h.engine.CreateTrip(r.Context(), draft)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransactionResponse{Trip: t, Transaction: rec})
}

// UpdatePayment changes one payment installment.
func (h *EngineHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.Field.Valid() {
		writeError(w, http.StatusBadRequest, "Field must be advance or balance", errors.New(string(req.Field)))
		return
	}

	ref := chi.URLParam(r, "id")
	meta := freight.PaymentMeta{UTRNumber: req.UTRNumber, PaymentMethod: req.PaymentMethod}

	var (
		t   *freight.Trip
		rec freight.TransactionRecord
		err error
	)
	if req.Status == "" {
		t, rec, err = h.engine.AdvancePayment(r.Context(), ref, req.Field, meta)
	} else {
		patch, perr := freight.NewPaymentPatch(req.Field, req.Status)
		if perr != nil {
			h.writeEngineError(w, perr)
			return
		}
		t, rec, err = h.engine.UpdatePayment(r.Context(), ref, patch, meta)
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{Trip: t, Transaction: rec})
}

// SetStatus changes the trip status directly.
func (h *EngineHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, rec, err := h.engine.SetTripStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{Trip: t, Transaction: rec})
}

// UploadPOD attaches a POD document.
func (h *EngineHandler) UploadPOD(w http.ResponseWriter, r *http.Request) {
	var doc freight.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := h.engine.UploadPOD(r.Context(), chi.URLParam(r, "id"), doc)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ConfirmAmount accepts a changed balance amount.
func (h *EngineHandler) ConfirmAmount(w http.ResponseWriter, r *http.Request) {
	var req ConfirmAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Amount must not be negative", nil)
		return
	}

	t, err := h.engine.ConfirmAmount(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *EngineHandler) writeEngineError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: freight.UserMessage(err), Details: err.Error()}

	var reqErr *freight.RequestError
	switch {
	case freight.IsPrecondition(err):
		if reason, ok := freight.ReasonOf(err); ok {
			resp.Code = string(reason)
		}
		writeJSON(w, http.StatusConflict, resp)
	case freight.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, resp)
	case freight.IsStoreUnavailable(err):
		h.logger.Warn("store unavailable", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, freight.ErrInvalidPatch), errors.As(err, &reqErr):
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		h.logger.Error("engine operation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func orEmpty(trips []freight.Trip) []freight.Trip {
	if trips == nil {
		return []freight.Trip{}
	}
	return trips
}
