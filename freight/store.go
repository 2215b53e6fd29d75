/*
store.go - Persistence interfaces used by the engine

PURPOSE:
  Defines the boundary between the engine and the authoritative trip
  store, and the key-value store behind the reconciliation cache.

KEY INTERFACES:
  TripStore: request/response access to the authoritative trip records.
             Mirrors the REST surface:
               GET   /trips                     ListTrips
               GET   /trips/{id}                GetTrip
               POST  /trips                     CreateTrip
               PATCH /trips/{id}                PatchTrip (generic, fallback)
               PATCH /trips/{id}/payment-status PatchPaymentStatus
               PATCH /trips/{id}/status         PatchStatus
               POST  /trips/{id}/documents      AddDocument
  KV:        string key-value store that survives restarts.

CONTRACT:
  - Lookups accept either the trip id or its order number.
  - A missing trip is reported as ErrNotFound.
  - Stores apply patches verbatim; they do not enforce payment rules.

IMPLEMENTATIONS:
  - freight/store/memory.go: In-memory TripStore and KV
  - store/sqlite/sqlite.go:  SQLite TripStore and KV
  - store/redis/redis.go:    Redis KV
  - client/client.go:        HTTP TripStore against the REST API

SEE ALSO:
  - coordinator.go: Write protocol over TripStore
  - cache.go: ReconciliationCache over KV
*/
package freight

import "context"

// =============================================================================
// TRIP STORE
// =============================================================================

// TripStore is the authoritative record store for trips.
type TripStore interface {
	// ListTrips returns every trip, newest first.
	ListTrips(ctx context.Context) ([]Trip, error)

	// GetTrip returns a trip by id or order number.
	GetTrip(ctx context.Context, ref string) (*Trip, error)

	// CreateTrip persists a new trip built from draft.
	CreateTrip(ctx context.Context, draft TripDraft) (*Trip, error)

	// PatchTrip applies a generic partial update.
	PatchTrip(ctx context.Context, ref string, patch TripPatch) (*Trip, error)

	// PatchPaymentStatus is the dedicated payment-status write.
	PatchPaymentStatus(ctx context.Context, ref string, upd PaymentUpdate) (*Trip, error)

	// PatchStatus is the dedicated trip-status write.
	PatchStatus(ctx context.Context, ref string, status TripStatus) (*Trip, error)

	// AddDocument attaches a document. A POD document sets PodUploaded.
	AddDocument(ctx context.Context, ref string, doc Document) (*Trip, error)
}

// =============================================================================
// KEY-VALUE STORE
// =============================================================================

// KV is a durable string key-value store.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
