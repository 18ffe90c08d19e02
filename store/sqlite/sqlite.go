/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists the billing catalogue (clients, activities, contracts, sites),
  issued invoices and credit notes, and the index catalogue with its
  monthly values. In production the same patterns apply to PostgreSQL,
  with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  billing.InvoiceStore: Invoice persistence with idempotency enforcement
  billing.CatalogStore: Read side consumed by the scheduler

IDEMPOTENCY ENFORCEMENT:
  invoices.idempotency_key is UNIQUE. A second invoice for the same
  (contract, period start) fails with generic.ErrPeriodAlreadyInvoiced,
  whichever process got there first.

KEY TABLES:
  contracts, contract_sites, contract_activities: Contract definitions
  sites, site_amounts:                            Annual amount per site/activity
  invoices, invoice_lines:                        Issued invoices
  credit_notes:                                   Credit notes (lines as JSON)
  indices, index_values:                          Index catalogue, UNIQUE(index_id, period)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - billing/store.go: Interface definitions
  - store/memory:     In-memory invoice store for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/energy-billing/billing"
	"github.com/warp/energy-billing/generic"
)

// Store implements the billing and index storage using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ billing.InvoiceStore = (*Store)(nil)
	_ billing.CatalogStore = (*Store)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		label TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	);

	-- Contracts
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		monthly_billing_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_contracts_client
		ON contracts(client_id);

	CREATE TABLE IF NOT EXISTS contract_sites (
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		site_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (contract_id, site_id)
	);

	-- Activity order matters: it is the invoice line order
	CREATE TABLE IF NOT EXISTS contract_activities (
		contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
		activity_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (contract_id, activity_id)
	);

	-- Sites
	CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		contract_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sites_contract
		ON sites(contract_id);

	CREATE TABLE IF NOT EXISTS site_amounts (
		site_id TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
		activity_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (site_id, activity_id)
	);

	-- Invoices
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		client_id TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		status TEXT NOT NULL,
		period_start TEXT,
		period_end TEXT,
		schedule TEXT NOT NULL DEFAULT '',
		issue_date TEXT NOT NULL,
		due_date TEXT,
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		total TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_contract_period
		ON invoices(contract_id, period_start);
	CREATE INDEX IF NOT EXISTS idx_invoices_status
		ON invoices(status);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		activity_id TEXT NOT NULL,
		description TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		total TEXT NOT NULL,
		PRIMARY KEY (invoice_id, position)
	);

	CREATE TABLE IF NOT EXISTS credit_notes (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		invoice_ids_json TEXT NOT NULL,
		issue_date TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		total TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Indices
	CREATE TABLE IF NOT EXISTS indices (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		label TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		formula TEXT NOT NULL DEFAULT '',
		decimals INTEGER
	);

	CREATE TABLE IF NOT EXISTS index_values (
		id TEXT PRIMARY KEY,
		index_id TEXT NOT NULL,
		period TEXT NOT NULL,
		value REAL NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		UNIQUE(index_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_index_values_period
		ON index_values(period);
	`

	_, err := s.db.Exec(schema)
	return err
}

// inTx runs fn in a database transaction. Callers hold s.mu.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"invoice_lines", "invoices", "credit_notes",
		"site_amounts", "sites", "contract_sites", "contract_activities", "contracts",
		"activities", "clients", "index_values", "indices",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d generic.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(ns sql.NullString) generic.Date {
	if !ns.Valid || ns.String == "" {
		return generic.Date{}
	}
	d, err := generic.ParseDate(ns.String)
	if err != nil {
		return generic.Date{}
	}
	return d
}

// parseAmounts parses each stored text[i] into dst[i].
func parseAmounts(dst []*generic.Money, text []string) error {
	for i, t := range text {
		m, err := generic.ParseMoney(t)
		if err != nil {
			return err
		}
		*dst[i] = m
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", generic.ErrEntityNotFound, kind, id)
}
