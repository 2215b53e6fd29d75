/*
Package sqlite provides a SQLite-backed TripStore and KV.

PURPOSE:
  Persists trips for the REST store server, and persists the
  reconciliation cache's side-channel keys for engines that want their
  overrides to survive a restart without running Redis.

INTERFACES IMPLEMENTED:
  freight.TripStore: Authoritative trip records
  freight.KV:        Side-channel keys (payment_*, original_balance_*)

KEY TABLES:
  trips:          One row per trip. Amounts stored as decimal strings.
  trip_documents: Uploaded document references, append-only.
  kv:             Key-value pairs for the reconciliation cache.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, and a single connection so that
  ":memory:" databases are shared by every query.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/freight.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - freight/store.go: Interface definitions
  - freight/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/freight-sync/freight"
)

// Store implements freight.TripStore and freight.KV using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewWithDB(db)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an open database without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema.
func (s *Store) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL UNIQUE,
		lr_numbers_json TEXT,
		client_name TEXT,
		supplier_name TEXT,
		status TEXT NOT NULL,
		advance_payment_status TEXT NOT NULL,
		balance_payment_status TEXT NOT NULL,
		pod_uploaded INTEGER NOT NULL DEFAULT 0,
		supplier_freight TEXT NOT NULL,
		advance_percentage TEXT NOT NULL,
		advance_amount TEXT NOT NULL,
		balance_amount TEXT NOT NULL,
		utr_number TEXT,
		payment_method TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_created_at ON trips(created_at);

	CREATE TABLE IF NOT EXISTS trip_documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trip_id TEXT NOT NULL REFERENCES trips(id),
		doc_type TEXT NOT NULL,
		doc_number TEXT,
		filename TEXT,
		uploaded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trip_documents_trip ON trip_documents(trip_id);

	-- Reconciliation cache side-channel
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRIP STORE (freight.TripStore interface)
// =============================================================================

const tripColumns = `id, order_number, lr_numbers_json, client_name, supplier_name,
	status, advance_payment_status, balance_payment_status, pod_uploaded,
	supplier_freight, advance_percentage, advance_amount, balance_amount,
	utr_number, payment_method, created_at, updated_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ListTrips returns all trips, newest first.
func (s *Store) ListTrips(ctx context.Context) ([]freight.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tripColumns+` FROM trips ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trips: %w", err)
	}

	trips := make([]freight.Trip, 0)
	index := make(map[string]int)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[t.ID] = len(trips)
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read trips: %w", err)
	}
	rows.Close()

	docs, err := s.loadDocuments(ctx, s.db, "")
	if err != nil {
		return nil, err
	}
	for tripID, ds := range docs {
		if i, ok := index[tripID]; ok {
			trips[i].Documents = ds
		}
	}
	return trips, nil
}

// GetTrip returns a trip by id or order number.
func (s *Store) GetTrip(ctx context.Context, ref string) (*freight.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.getTrip(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTrip persists a new trip built from draft.
func (s *Store) CreateTrip(ctx context.Context, draft freight.TripDraft) (*freight.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := freight.NewTrip(draft, s.now().UTC())
	if err := s.insertTrip(ctx, s.db, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTrip inserts or replaces a trip as given. Used to seed fixtures.
func (s *Store) SaveTrip(ctx context.Context, t freight.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM trip_documents WHERE trip_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to replace trip: %w", err)
	}
	if err := s.insertTrip(ctx, s.db, t); err != nil {
		return err
	}
	for _, d := range t.Documents {
		if err := s.insertDocument(ctx, s.db, t.ID, d); err != nil {
			return err
		}
	}
	return nil
}

// Reset removes every trip and document. Side-channel keys are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM trip_documents`); err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trips`); err != nil {
		return fmt.Errorf("failed to clear trips: %w", err)
	}
	return nil
}

// PatchTrip applies a generic partial update.
func (s *Store) PatchTrip(ctx context.Context, ref string, patch freight.TripPatch) (*freight.Trip, error) {
	return s.update(ctx, ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyPatch(t, patch, now)
	})
}

// PatchPaymentStatus applies a dedicated payment-status write.
func (s *Store) PatchPaymentStatus(ctx context.Context, ref string, upd freight.PaymentUpdate) (*freight.Trip, error) {
	return s.update(ctx, ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyPaymentUpdate(t, upd, now)
	})
}

// PatchStatus applies a dedicated trip-status write.
func (s *Store) PatchStatus(ctx context.Context, ref string, status freight.TripStatus) (*freight.Trip, error) {
	return s.update(ctx, ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyPatch(t, freight.StatusTripPatch(status), now)
	})
}

// AddDocument attaches a document to a trip.
func (s *Store) AddDocument(ctx context.Context, ref string, doc freight.Document) (*freight.Trip, error) {
	return s.update(ctx, ref, func(t *freight.Trip, now time.Time) {
		freight.ApplyDocument(t, doc, now)
	})
}

// update loads, mutates and writes back a trip in one SQL transaction.
func (s *Store) update(ctx context.Context, ref string, fn func(*freight.Trip, time.Time)) (*freight.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	t, err := s.getTrip(ctx, sqlTx, ref)
	if err != nil {
		return nil, err
	}
	existingDocs := len(t.Documents)

	fn(&t, s.now().UTC())

	if err := s.writeTrip(ctx, sqlTx, t); err != nil {
		return nil, err
	}
	for _, d := range t.Documents[existingDocs:] {
		if err := s.insertDocument(ctx, sqlTx, t.ID, d); err != nil {
			return nil, err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit trip update: %w", err)
	}
	return &t, nil
}

func (s *Store) getTrip(ctx context.Context, q querier, ref string) (freight.Trip, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+tripColumns+` FROM trips WHERE id = ? OR order_number = ? LIMIT 1`, ref, ref)
	t, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return freight.Trip{}, freight.ErrNotFound
	}
	if err != nil {
		return freight.Trip{}, err
	}

	docs, err := s.loadDocuments(ctx, q, t.ID)
	if err != nil {
		return freight.Trip{}, err
	}
	t.Documents = docs[t.ID]
	return t, nil
}

func (s *Store) insertTrip(ctx context.Context, q querier, t freight.Trip) error {
	lrJSON, _ := json.Marshal(t.LRNumbers)
	_, err := q.ExecContext(ctx, `
		INSERT INTO trips (`+tripColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.OrderNumber,
		string(lrJSON),
		nullString(t.ClientName),
		nullString(t.SupplierName),
		string(t.Status),
		string(freight.NormalizePayment(t.AdvancePaymentStatus)),
		string(freight.NormalizePayment(t.BalancePaymentStatus)),
		t.PodUploaded,
		t.SupplierFreight.String(),
		t.AdvancePercentage.String(),
		t.AdvanceAmount.String(),
		t.BalanceAmount.String(),
		nullString(t.UTRNumber),
		nullString(t.PaymentMethod),
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trip: %w", err)
	}
	return nil
}

func (s *Store) writeTrip(ctx context.Context, q querier, t freight.Trip) error {
	_, err := q.ExecContext(ctx, `
		UPDATE trips SET
			client_name = ?, supplier_name = ?,
			status = ?, advance_payment_status = ?, balance_payment_status = ?,
			pod_uploaded = ?,
			supplier_freight = ?, advance_percentage = ?, advance_amount = ?, balance_amount = ?,
			utr_number = ?, payment_method = ?, updated_at = ?
		WHERE id = ?`,
		nullString(t.ClientName),
		nullString(t.SupplierName),
		string(t.Status),
		string(freight.NormalizePayment(t.AdvancePaymentStatus)),
		string(freight.NormalizePayment(t.BalancePaymentStatus)),
		t.PodUploaded,
		t.SupplierFreight.String(),
		t.AdvancePercentage.String(),
		t.AdvanceAmount.String(),
		t.BalanceAmount.String(),
		nullString(t.UTRNumber),
		nullString(t.PaymentMethod),
		formatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trip: %w", err)
	}
	return nil
}

func (s *Store) insertDocument(ctx context.Context, q querier, tripID string, d freight.Document) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO trip_documents (trip_id, doc_type, doc_number, filename, uploaded_at)
		VALUES (?, ?, ?, ?, ?)`,
		tripID, d.Type, nullString(d.Number), nullString(d.Filename), formatTime(d.UploadedAt))
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// loadDocuments returns documents grouped by trip. An empty tripID loads all.
func (s *Store) loadDocuments(ctx context.Context, q querier, tripID string) (map[string][]freight.Document, error) {
	query := `SELECT trip_id, doc_type, doc_number, filename, uploaded_at FROM trip_documents`
	var args []any
	if tripID != "" {
		query += ` WHERE trip_id = ?`
		args = append(args, tripID)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string][]freight.Document)
	for rows.Next() {
		var (
			id, docType, uploadedAt string
			number, filename        sql.NullString
		)
		if err := rows.Scan(&id, &docType, &number, &filename, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs[id] = append(docs[id], freight.Document{
			Type:       docType,
			Number:     number.String,
			Filename:   filename.String,
			UploadedAt: parseTime(uploadedAt),
		})
	}
	return docs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrip(row scanner) (freight.Trip, error) {
	var (
		t                                   freight.Trip
		lrJSON, clientName, supplierName    sql.NullString
		status, advance, balance            string
		freightValue, pct, advAmt, balAmt   string
		utr, method                         sql.NullString
		createdAt, updatedAt                string
	)
	err := row.Scan(
		&t.ID, &t.OrderNumber, &lrJSON, &clientName, &supplierName,
		&status, &advance, &balance, &t.PodUploaded,
		&freightValue, &pct, &advAmt, &balAmt,
		&utr, &method, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan trip: %w", err)
	}

	if lrJSON.Valid && lrJSON.String != "" && lrJSON.String != "null" {
		if err := json.Unmarshal([]byte(lrJSON.String), &t.LRNumbers); err != nil {
			return t, fmt.Errorf("failed to decode lr numbers: %w", err)
		}
	}
	t.ClientName = clientName.String
	t.SupplierName = supplierName.String
	t.Status = freight.TripStatus(status)
	t.AdvancePaymentStatus = freight.PaymentStatus(advance)
	t.BalancePaymentStatus = freight.PaymentStatus(balance)
	t.SupplierFreight = parseDecimal(freightValue)
	t.AdvancePercentage = parseDecimal(pct)
	t.AdvanceAmount = parseDecimal(advAmt)
	t.BalanceAmount = parseDecimal(balAmt)
	t.UTRNumber = utr.String
	t.PaymentMethod = method.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

// =============================================================================
// KV (freight.KV interface)
// =============================================================================

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(s.now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
