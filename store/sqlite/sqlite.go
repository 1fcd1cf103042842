/*
Package sqlite provides a SQLite-backed implementation of performance.Store.

PURPOSE:
  Default durable store. Records, their targets, the achievement ledger,
  every policy version and the employee directory live in one database file,
  and a record update plus its ledger entry commit in one SQL transaction.

INTERFACES IMPLEMENTED:
  performance.Store:         Records, ledger, policy versions
  performance.EmployeeStore: Directory lookups

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the achievements table
  - No DELETE statements on the achievements table (Reset aside)
  - Corrections are new rows with a negative delta

KEY TABLES:
  performance_records: One row per (employee, period), with version
  targets:             Target definition and derived values
  achievements:        Immutable ledger of achievement deltas
  policies:            Every published settings version
  employees:           Directory

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, and a version column on
  performance_records so a second process cannot overwrite a newer save.

USAGE:
  store, err := sqlite.New("./data/performance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := performance.NewEngine(store, holder, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - performance/store.go: Interface definitions
  - store/memory: In-memory implementation
  - store/postgres: Same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/performance"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ performance.Store         = (*Store)(nil)
	_ performance.EmployeeStore = (*Store)(nil)
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
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
		// Every connection to :memory: is a separate database.
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS performance_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		status TEXT NOT NULL,
		overall_performance TEXT NOT NULL,
		total_incentive TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_records_period
		ON performance_records(period, employee_id);

	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES performance_records(id),
		position INTEGER NOT NULL,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		target_value TEXT NOT NULL,
		unit TEXT NOT NULL,
		incentive_base TEXT NOT NULL,
		achieved_value TEXT NOT NULL,
		achievement_percent TEXT NOT NULL,
		incentive_earned TEXT NOT NULL,
		status TEXT NOT NULL,
		policy_version INTEGER NOT NULL,
		deadline TEXT NOT NULL,
		UNIQUE(record_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_targets_record
		ON targets(record_id, position);

	-- Achievements (append-only ledger)
	CREATE TABLE IF NOT EXISTS achievements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		period TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		source TEXT NOT NULL,
		description TEXT,
		metadata_json TEXT,
		recorded_by TEXT,
		created_at TEXT NOT NULL,
		seq INTEGER
	);

	-- Hot path: replay and history of one target
	CREATE INDEX IF NOT EXISTS idx_achievements_target
		ON achievements(target_id, occurred_at, seq);

	CREATE TABLE IF NOT EXISTS policies (
		version INTEGER PRIMARY KEY,
		min_performance_threshold TEXT NOT NULL,
		calculation_method TEXT NOT NULL,
		max_penalty_percent TEXT NOT NULL,
		penalty_enabled BOOLEAN NOT NULL,
		effective_at TEXT NOT NULL,
		updated_by TEXT
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		hire_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (generic.Store interface)
// =============================================================================

func appendTx(ctx context.Context, db queryer, tx generic.Transaction) error {
	metadataJSON, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO achievements
		(id, employee_id, target_id, period, occurred_at, delta_value, delta_unit,
		 tx_type, source, description, metadata_json, recorded_by, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        (SELECT COALESCE(MAX(seq), 0) + 1 FROM achievements))
	`

	_, err = db.ExecContext(ctx, query,
		tx.ID,
		tx.EntityID,
		tx.TargetID,
		tx.Period,
		formatTime(tx.OccurredAt),
		tx.Delta.Value.String(),
		tx.Delta.Unit,
		tx.Type,
		tx.Source,
		nullString(tx.Description),
		string(metadataJSON),
		nullString(tx.RecordedBy),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", generic.ErrDuplicateEvent, tx.ID)
		}
		return fmt.Errorf("failed to append achievement: %w", err)
	}
	return nil
}

// Load returns the full history of a target, in occurrence order.
func (s *Store) Load(ctx context.Context, targetID generic.TargetID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, employee_id, target_id, period, occurred_at, delta_value, delta_unit,
		       tx_type, source, description, metadata_json, recorded_by, created_at
		FROM achievements
		WHERE target_id = ?
		ORDER BY occurred_at ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query achievements: %w", err)
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// Exists checks if an event ID was already recorded.
func (s *Store) Exists(ctx context.Context, id generic.TransactionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM achievements WHERE id = ?", id,
	).Scan(&count)
	return count > 0, err
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx           generic.Transaction
		occurredAt   string
		deltaValue   string
		deltaUnit    string
		description  sql.NullString
		metadataJSON sql.NullString
		recordedBy   sql.NullString
		createdAt    string
	)

	err := rows.Scan(
		&tx.ID, &tx.EntityID, &tx.TargetID, &tx.Period, &occurredAt,
		&deltaValue, &deltaUnit, &tx.Type, &tx.Source,
		&description, &metadataJSON, &recordedBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan achievement: %w", err)
	}

	rp := newRowParser("achievement " + string(tx.ID))
	tx.OccurredAt = rp.timestamp("occurred_at", occurredAt)
	tx.CreatedAt = rp.timestamp("created_at", createdAt)
	tx.Delta = rp.amount("delta_value", deltaValue, deltaUnit)
	if rp.Err != nil {
		return tx, rp.Err
	}
	tx.Description = description.String
	tx.RecordedBy = recordedBy.String
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("failed to decode metadata of %s: %w", tx.ID, err)
		}
	}
	return tx, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx performance.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore only ever touches the *sql.Tx; calling back into Store would
// deadlock on its mutex.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) InsertRecord(ctx context.Context, rec *performance.Record) error {
	return insertRecord(ctx, ts.tx, rec)
}

func (ts *txStore) UpdateRecord(ctx context.Context, rec *performance.Record, expectedVersion int) error {
	return updateRecord(ctx, ts.tx, rec, expectedVersion)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"achievements", "targets", "performance_records", "employees", "policies"}
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

// rowParser decodes the text columns of one row and keeps the first
// failure, so a corrupt value surfaces as an error instead of a zero.
type rowParser struct {
	generic.DecimalScanner
}

func newRowParser(row string) *rowParser {
	return &rowParser{generic.DecimalScanner{Row: row}}
}

func (p *rowParser) amount(column, value, unit string) generic.Amount {
	return generic.NewAmountFromDecimal(p.Parse(column, value), generic.Unit(unit))
}

func (p *rowParser) timestamp(column, value string) time.Time {
	if p.Err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		p.Err = fmt.Errorf("row %s: invalid %s %q: %w", p.Row, column, value, err)
	}
	return t
}

// timeLayout is fixed width so that text ordering in SQL matches time
// ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
