/*
Package sqlite provides the SQLite-backed storage for the KPI pipeline.

PURPOSE:
  Implements every persistence contract the pipeline consumes using one
  SQLite database:

  etl.FactStore:      monthly verification and daily score facts
  etl.AggregateStore: joins behind operator summaries
  etl.RunStore:       refresh run records
  plus assignments, KPI templates and monthly performance records.

FULL-REPLACE TABLES:
  store_assignments, monthly_verification_facts and daily_score_facts are
  replaced as a whole. Each replace deletes and re-inserts inside one SQL
  transaction, so readers see the old set or the new one and a failed
  insert leaves the old set in place.

KEY TABLES:
  store_assignments:          store -> operator mapping
  monthly_verification_facts: verified amount per store for one range
  daily_score_facts:          operation score per store for one date
  kpi_templates:              ordered indicators per operator
  monthly_performance:        operator-entered figures per month
  refresh_runs:               refresh job status records

DECIMALS:
  Amounts, scores and weights are stored as TEXT and parsed with
  shopspring/decimal so no precision is lost to REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.
  In-memory databases are pinned to a single connection because each
  connection to ":memory:" opens a separate database.

USAGE:
  store, err := sqlite.New("./data/kpi.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - etl/store.go: interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dbPath, ":memory:") {
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

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Store-to-operator assignments (replaced on every upload)
	CREATE TABLE IF NOT EXISTS store_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL DEFAULT '',
		store_name TEXT NOT NULL DEFAULT '',
		person TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_store_assignments_store
		ON store_assignments(store_id);
	CREATE INDEX IF NOT EXISTS idx_store_assignments_person
		ON store_assignments(person);

	-- Monthly verified amounts, one loaded range at a time
	CREATE TABLE IF NOT EXISTS monthly_verification_facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date_range TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		store_name TEXT NOT NULL DEFAULT '',
		verify_amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_monthly_facts_range_store
		ON monthly_verification_facts(date_range, store_id);

	-- End-of-period operation scores, one snapshot date at a time
	CREATE TABLE IF NOT EXISTS daily_score_facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date_range TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		store_name TEXT NOT NULL DEFAULT '',
		operation_score TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_daily_facts_range_store
		ON daily_score_facts(date_range, store_id);

	-- KPI templates (ordered per person)
	CREATE TABLE IF NOT EXISTS kpi_templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		person_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		indicator TEXT NOT NULL,
		category_label TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		kpi_description TEXT NOT NULL DEFAULT '',
		weight TEXT NOT NULL DEFAULT '0',
		formula TEXT NOT NULL DEFAULT '',
		editable_field_key TEXT NOT NULL DEFAULT '',
		is_auto_calculated BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_kpi_templates_person
		ON kpi_templates(person_name, position);

	-- Monthly performance records (operator-entered figures)
	CREATE TABLE IF NOT EXISTS monthly_performance (
		performance_month TEXT NOT NULL,
		person_name TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		quit_store_count TEXT,
		sales_total TEXT,
		manage_last_month_1 TEXT,
		manage_remarks_1 TEXT,
		manage_last_month_2 TEXT,
		manage_remarks_2 TEXT,
		manage_last_month_3 TEXT,
		manage_remarks_3 TEXT,
		manage_last_month_4 TEXT,
		manage_remarks_4 TEXT,
		manage_last_month_5 TEXT,
		manage_remarks_5 TEXT,
		egp_score TEXT,
		egp_remarks TEXT,
		final_score TEXT,
		employee_signature TEXT,
		manager_signature TEXT,
		finance_signature TEXT,
		ceo_signature TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (performance_month, person_name)
	);

	-- Refresh runs (job status for manual and background refreshes)
	CREATE TABLE IF NOT EXISTS refresh_runs (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		status TEXT NOT NULL,
		monthly_count INTEGER NOT NULL DEFAULT 0,
		daily_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_refresh_runs_started
		ON refresh_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_refresh_runs_status
		ON refresh_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// replaceAll deletes every row of table and runs insert inside one
// transaction.
func (s *Store) replaceAll(ctx context.Context, table string, insert func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if err := insert(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
