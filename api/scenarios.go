/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built trip fixtures that put the store into the states
	the synchronization engine has to handle. Each scenario replaces the
	store's trips with a small, known set.

AVAILABLE SCENARIOS:

	advance-sequence:   Booked trip, nothing paid; walk the advance to Paid
	pod-autofix:        Advance paid, no POD; balance change needs the fix
	balance-completion: Balance pending with POD; paying it completes the trip
	amount-drift:       Balance 5,000 not yet paid; raise it to see the flag
	full-board:         All of the above at once

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "pod-autofix"}

NOTE:

	Scenarios reset the trip tables. Only use in development/demo
	environments. The store must support seeding (memory and sqlite do).

SEE ALSO:
  - handlers.go: Store endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/freight-sync/freight"
)

// Seeder is implemented by stores that accept fixtures.
type Seeder interface {
	SaveTrip(ctx context.Context, t freight.Trip) error
	Reset(ctx context.Context) error
}

// ErrUnknownScenario is returned for an unrecognized scenario id.
var ErrUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "advance-sequence",
		Name:        "Advance Sequence",
		Description: "Booked trip with nothing paid; advance Initiated, Pending, Paid moves it In Transit",
	},
	{
		ID:          "pod-autofix",
		Name:        "POD Auto-Fix",
		Description: "Advance paid but no POD on file; starting the balance marks POD uploaded first",
	},
	{
		ID:          "balance-completion",
		Name:        "Balance Completion",
		Description: "Balance pending with POD; paying it completes the trip",
	},
	{
		ID:          "amount-drift",
		Name:        "Amount Drift",
		Description: "Unpaid balance of 5,000; raising it flags the trip for confirmation",
	},
	{
		ID:          "full-board",
		Name:        "Full Board",
		Description: "Every scenario trip at once, for queue views",
	},
}

// ScenarioTrips builds the fixture trips for a scenario.
func ScenarioTrips(id string, now time.Time) ([]freight.Trip, error) {
	switch id {
	case "advance-sequence":
		return []freight.Trip{advanceSequenceTrip(now)}, nil
	case "pod-autofix":
		return []freight.Trip{podAutoFixTrip(now)}, nil
	case "balance-completion":
		return []freight.Trip{balanceCompletionTrip(now)}, nil
	case "amount-drift":
		return []freight.Trip{amountDriftTrip(now)}, nil
	case "full-board":
		return []freight.Trip{
			advanceSequenceTrip(now),
			podAutoFixTrip(now.Add(time.Second)),
			balanceCompletionTrip(now.Add(2 * time.Second)),
			amountDriftTrip(now.Add(3 * time.Second)),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
}

func fixture(id, order string, now time.Time, status freight.TripStatus, advance, balance freight.PaymentStatus, pod bool) freight.Trip {
	supplierFreight := decimal.NewFromInt(10000)
	pct := decimal.NewFromInt(50)
	advAmt, balAmt := freight.SplitFreight(supplierFreight, pct)
	return freight.Trip{
		ID:                   id,
		OrderNumber:          order,
		LRNumbers:            []string{"LR-" + order},
		ClientName:           "Demo Client",
		SupplierName:         "Demo Transport Co",
		Status:               status,
		AdvancePaymentStatus: advance,
		BalancePaymentStatus: balance,
		PodUploaded:          pod,
		SupplierFreight:      supplierFreight,
		AdvancePercentage:    pct,
		AdvanceAmount:        advAmt,
		BalanceAmount:        balAmt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func advanceSequenceTrip(now time.Time) freight.Trip {
	return fixture("trip-advance", "FT-1001", now, freight.StatusBooked,
		freight.PaymentNotStarted, freight.PaymentNotStarted, false)
}

func podAutoFixTrip(now time.Time) freight.Trip {
	return fixture("trip-pod", "FT-1002", now, freight.StatusInTransit,
		freight.PaymentPaid, freight.PaymentNotStarted, false)
}

func balanceCompletionTrip(now time.Time) freight.Trip {
	return fixture("trip-balance", "FT-1003", now, freight.StatusInTransit,
		freight.PaymentPaid, freight.PaymentPending, true)
}

func amountDriftTrip(now time.Time) freight.Trip {
	return fixture("trip-drift", "FT-1004", now, freight.StatusDelivered,
		freight.PaymentPaid, freight.PaymentInitiated, true)
}

// LoadScenario resets the store and seeds the scenario's trips.
func LoadScenario(ctx context.Context, s Seeder, id string, now time.Time) error {
	trips, err := ScenarioTrips(id, now)
	if err != nil {
		return err
	}
	if err := s.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	for _, t := range trips {
		if err := s.SaveTrip(ctx, t); err != nil {
			return fmt.Errorf("failed to seed trip %s: %w", t.ID, err)
		}
	}
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario handles POST /scenarios/load.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	seeder, ok := h.store.(Seeder)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support scenarios", nil)
		return
	}

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := LoadScenario(r.Context(), seeder, req.ScenarioID, time.Now().UTC()); err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.writeStoreError(w, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}
