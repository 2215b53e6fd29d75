/*
handlers.go - HTTP handlers for the trip store API

PURPOSE:
  Exposes any freight.TripStore over REST. This is the authoritative
  store the engine talks to through client.Client.

ENDPOINTS:
  GET    /api/trips                     List (optional ?status= filter)
  POST   /api/trips                     Create
  GET    /api/trips/{id}                Fetch by id or order number
  PATCH  /api/trips/{id}                Generic patch
  PATCH  /api/trips/{id}/payment-status Dedicated payment-status write
  PATCH  /api/trips/{id}/status         Dedicated trip-status write
  POST   /api/trips/{id}/documents      Attach a document (POD sets podUploaded)

RESPONSIBILITY:
  Handlers parse, validate the shape of input and delegate. They do not
  apply payment rules; the engine does that before it writes.

ERROR HANDLING:
  - 400 Bad Request: malformed body or unknown status value
  - 404 Not Found: unknown trip
  - 500 Internal Server Error: store failure

SEE ALSO:
  - engine_handlers.go: Engine-level operations
  - server.go: Route definitions
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/freight"
)

// Handler serves the store API.
type Handler struct {
	store  freight.TripStore
	logger *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a store API handler.
func NewHandler(store freight.TripStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// =============================================================================
// TRIP ENDPOINTS
// =============================================================================

// ListTrips returns all trips, optionally filtered by ?status=.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.store.ListTrips(r.Context())
	if err != nil {
		h.writeStoreError(w, "Failed to list trips", err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]freight.Trip, 0, len(trips))
		for _, t := range trips {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		trips = filtered
	}

	writeJSON(w, http.StatusOK, trips)
}

// GetTrip returns a single trip by id or order number.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetTrip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, "Failed to get trip", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// CreateTrip creates a new trip.
func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var draft freight.TripDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if draft.SupplierFreight.IsNegative() || draft.AdvancePercentage.IsNegative() {
		writeError(w, http.StatusBadRequest, "Freight and advance percentage must not be negative", nil)
		return
	}

	t, err := h.store.CreateTrip(r.Context(), draft)
	if err != nil {
		h.writeStoreError(w, "Failed to create trip", err)
		return
	}
	h.logger.Info("trip created", zap.String("trip_id", t.ID), zap.String("order", t.OrderNumber))
	writeJSON(w, http.StatusCreated, t)
}

// PatchTrip applies a generic partial update.
func (h *Handler) PatchTrip(w http.ResponseWriter, r *http.Request) {
	var patch freight.TripPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := validatePatch(patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid patch", err)
		return
	}

	t, err := h.store.PatchTrip(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeStoreError(w, "Failed to update trip", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// PatchPaymentStatus is the dedicated payment-status write.
func (h *Handler) PatchPaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req PaymentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	upd := freight.PaymentUpdate{
		PaymentMeta: freight.PaymentMeta{UTRNumber: req.UTRNumber, PaymentMethod: req.PaymentMethod},
	}
	switch {
	case req.AdvancePaymentStatus != "" && req.BalancePaymentStatus == "":
		upd.Field, upd.Status = freight.FieldAdvance, req.AdvancePaymentStatus
	case req.BalancePaymentStatus != "" && req.AdvancePaymentStatus == "":
		upd.Field, upd.Status = freight.FieldBalance, req.BalancePaymentStatus
	default:
		writeError(w, http.StatusBadRequest, "Exactly one of advancePaymentStatus or balancePaymentStatus is required", nil)
		return
	}
	if !upd.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown payment status", errors.New(string(upd.Status)))
		return
	}

	t, err := h.store.PatchPaymentStatus(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeStoreError(w, "Failed to update payment status", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// PatchStatus is the dedicated trip-status write.
func (h *Handler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown trip status", errors.New(string(req.Status)))
		return
	}

	t, err := h.store.PatchStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeStoreError(w, "Failed to update trip status", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// AddDocument attaches a document reference to a trip.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var doc freight.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if doc.Type == "" {
		writeError(w, http.StatusBadRequest, "Document type is required", nil)
		return
	}

	t, err := h.store.AddDocument(r.Context(), chi.URLParam(r, "id"), doc)
	if err != nil {
		h.writeStoreError(w, "Failed to add document", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// =============================================================================
// HELPERS
// =============================================================================

func validatePatch(p freight.TripPatch) error {
	if p.Status != nil && !p.Status.Valid() {
		return errors.New("unknown trip status: " + string(*p.Status))
	}
	if p.AdvancePaymentStatus != nil && !p.AdvancePaymentStatus.Valid() {
		return errors.New("unknown advance payment status: " + string(*p.AdvancePaymentStatus))
	}
	if p.BalancePaymentStatus != nil && !p.BalancePaymentStatus.Valid() {
		return errors.New("unknown balance payment status: " + string(*p.BalancePaymentStatus))
	}
	return nil
}

func (h *Handler) writeStoreError(w http.ResponseWriter, message string, err error) {
	if freight.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Trip not found", err)
		return
	}
	h.logger.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
