/*
Package postgres provides a PostgreSQL-backed implementation of
performance.Store for multi-instance deployments.

PURPOSE:
  Same contract and schema shape as store/sqlite, but concurrency is left to
  the database: there is no process mutex, and the version column on
  performance_records is the only guard against two instances overwriting
  each other. The engine retries on ErrConcurrentModification.

USAGE:
  pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
  store := postgres.New(pool)
  if err := store.Migrate(ctx); err != nil { ... }

SEE ALSO:
  - store/sqlite: Default single-node store
  - performance/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

const uniqueViolation = "23505"

// Store implements performance.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ performance.Store         = (*Store)(nil)
	_ performance.EmployeeStore = (*Store)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pool with conservative limits.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS performance_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		status TEXT NOT NULL,
		overall_performance NUMERIC NOT NULL,
		total_incentive NUMERIC NOT NULL,
		version INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (employee_id, period)
	);

	CREATE TABLE IF NOT EXISTS targets (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES performance_records(id),
		position INTEGER NOT NULL,
		employee_id TEXT NOT NULL,
		period TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		target_value NUMERIC NOT NULL,
		unit TEXT NOT NULL,
		incentive_base NUMERIC NOT NULL,
		achieved_value NUMERIC NOT NULL,
		achievement_percent NUMERIC NOT NULL,
		incentive_earned NUMERIC NOT NULL,
		status TEXT NOT NULL,
		policy_version INTEGER NOT NULL,
		deadline TIMESTAMPTZ NOT NULL,
		UNIQUE (record_id, kind)
	);

	CREATE TABLE IF NOT EXISTS achievements (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		period TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		delta_value NUMERIC NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		source TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		recorded_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_achievements_target
		ON achievements(target_id, occurred_at, seq);

	CREATE TABLE IF NOT EXISTS policies (
		version INTEGER PRIMARY KEY,
		min_performance_threshold NUMERIC NOT NULL,
		calculation_method TEXT NOT NULL,
		max_penalty_percent NUMERIC NOT NULL,
		penalty_enabled BOOLEAN NOT NULL,
		effective_at TIMESTAMPTZ NOT NULL,
		updated_by TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		hire_date DATE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Reset truncates every table (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE achievements, targets, performance_records, employees, policies")
	return err
}

// =============================================================================
// LEDGER
// =============================================================================

func appendTx(ctx context.Context, q querier, tx generic.Transaction) error {
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO achievements
		(id, employee_id, target_id, period, occurred_at, delta_value, delta_unit,
		 tx_type, source, description, metadata, recorded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11::jsonb, $12, $13)`,
		string(tx.ID), string(tx.EntityID), string(tx.TargetID), tx.Period, tx.OccurredAt.UTC(),
		tx.Delta.Value.String(), string(tx.Delta.Unit), string(tx.Type), string(tx.Source),
		tx.Description, string(metadata), tx.RecordedBy, tx.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", generic.ErrDuplicateEvent, tx.ID)
		}
		return fmt.Errorf("failed to append achievement: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, targetID generic.TargetID) ([]generic.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, employee_id, target_id, period, occurred_at, delta_value::text, delta_unit,
		       tx_type, source, description, metadata, recorded_by, created_at
		FROM achievements
		WHERE target_id = $1
		ORDER BY occurred_at, seq`, string(targetID))
	if err != nil {
		return nil, fmt.Errorf("failed to query achievements: %w", err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		var (
			tx                                  generic.Transaction
			id, employeeID, target, unit, delta string
			txType, source                      string
			metadata                            []byte
		)
		err := rows.Scan(&id, &employeeID, &target, &tx.Period, &tx.OccurredAt, &delta, &unit,
			&txType, &source, &tx.Description, &metadata, &tx.RecordedBy, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		tx.ID = generic.TransactionID(id)
		tx.EntityID = generic.EntityID(employeeID)
		tx.TargetID = generic.TargetID(target)
		dec := generic.DecimalScanner{Row: "achievement " + id}
		tx.Delta = generic.NewAmountFromDecimal(dec.Parse("delta_value", delta), generic.Unit(unit))
		if dec.Err != nil {
			return nil, dec.Err
		}
		tx.Type = generic.TransactionType(txType)
		tx.Source = generic.Source(source)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of %s: %w", id, err)
			}
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *Store) Exists(ctx context.Context, id generic.TransactionID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM achievements WHERE id = $1)", string(id)).Scan(&exists)
	return exists, err
}

// =============================================================================
// RECORDS
// =============================================================================

const recordSelect = `
	SELECT r.id, r.employee_id, r.period, r.status, r.overall_performance::text,
	       r.total_incentive::text, r.version, r.created_at, r.updated_at
	FROM performance_records r`

func (s *Store) GetRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*performance.Record, error) {
	return s.oneRecord(ctx, recordSelect+" WHERE r.employee_id = $1 AND r.period = $2", string(employeeID), period.Key())
}

func (s *Store) FindTarget(ctx context.Context, targetID generic.TargetID) (*performance.Record, error) {
	return s.oneRecord(ctx, recordSelect+" JOIN targets t ON t.record_id = r.id WHERE t.id = $1", string(targetID))
}

func (s *Store) oneRecord(ctx context.Context, query string, args ...any) (*performance.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Targets, err = loadTargets(ctx, s.pool, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) ListRecords(ctx context.Context, filter performance.RecordFilter) ([]performance.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+" = $"+strconv.Itoa(len(args)))
	}
	if filter.Period != "" {
		add("r.period", filter.Period)
	}
	if filter.EmployeeID != "" {
		add("r.employee_id", string(filter.EmployeeID))
	}
	if filter.Status != "" {
		add("r.status", string(filter.Status))
	}
	query := recordSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.period, r.employee_id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	var records []performance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, *rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Targets, err = loadTargets(ctx, s.pool, records[i].ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*performance.Record, error) {
	var (
		rec                        performance.Record
		employeeID, period, status string
		overall, total             string
	)
	err := row.Scan(&rec.ID, &employeeID, &period, &status, &overall, &total,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if rec.Period, err = generic.ParsePeriod(period); err != nil {
		return nil, err
	}
	rec.EmployeeID = generic.EntityID(employeeID)
	rec.Status = performance.RecordStatus(status)
	dec := generic.DecimalScanner{Row: "record " + rec.ID}
	rec.OverallPerformance = dec.Parse("overall_performance", overall)
	rec.TotalIncentive = dec.Parse("total_incentive", total)
	if dec.Err != nil {
		return nil, dec.Err
	}
	return &rec, nil
}

func loadTargets(ctx context.Context, q querier, recordID string) ([]performance.Target, error) {
	rows, err := q.Query(ctx, `
		SELECT id, employee_id, period, kind, name, description,
		       target_value::text, unit, incentive_base::text, achieved_value::text,
		       achievement_percent::text, incentive_earned::text, status, policy_version, deadline
		FROM targets WHERE record_id = $1 ORDER BY position`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []performance.Target
	for rows.Next() {
		var (
			t                                 performance.Target
			id, employeeID, period, kind      string
			targetValue, unit, base, achieved string
			percent, earned, status           string
		)
		err := rows.Scan(&id, &employeeID, &period, &kind, &t.Name, &t.Description,
			&targetValue, &unit, &base, &achieved, &percent, &earned, &status,
			&t.PolicyVersion, &t.Deadline)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		if t.Period, err = generic.ParsePeriod(period); err != nil {
			return nil, err
		}
		t.ID = generic.TargetID(id)
		t.EmployeeID = generic.EntityID(employeeID)
		t.Kind = performance.Kind(kind)
		dec := generic.DecimalScanner{Row: "target " + id}
		t.TargetValue = generic.NewAmountFromDecimal(dec.Parse("target_value", targetValue), generic.Unit(unit))
		t.IncentiveBase = dec.Parse("incentive_base", base)
		t.AchievedValue = generic.NewAmountFromDecimal(dec.Parse("achieved_value", achieved), generic.Unit(unit))
		t.AchievementPercent = dec.Parse("achievement_percent", percent)
		t.IncentiveEarned = dec.Parse("incentive_earned", earned)
		if dec.Err != nil {
			return nil, dec.Err
		}
		t.Status = incentive.Status(status)
		t.Deadline = t.Deadline.UTC()
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx performance.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) InsertRecord(ctx context.Context, rec *performance.Record) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO performance_records
		(id, employee_id, period, status, overall_performance, total_incentive, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)`,
		rec.ID, string(rec.EmployeeID), rec.Period.Key(), string(rec.Status),
		rec.OverallPerformance.String(), rec.TotalIncentive.String(), rec.Version,
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return generic.ErrRecordExists
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return saveTargets(ctx, ts.tx, rec)
}

func (ts *txStore) UpdateRecord(ctx context.Context, rec *performance.Record, expectedVersion int) error {
	tag, err := ts.tx.Exec(ctx, `
		UPDATE performance_records
		SET status = $1, overall_performance = $2::numeric, total_incentive = $3::numeric,
		    version = $4, updated_at = $5
		WHERE id = $6 AND version = $7`,
		string(rec.Status), rec.OverallPerformance.String(), rec.TotalIncentive.String(),
		expectedVersion+1, rec.UpdatedAt.UTC(), rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return generic.ErrConcurrentModification
	}
	rec.Version = expectedVersion + 1
	return saveTargets(ctx, ts.tx, rec)
}

func saveTargets(ctx context.Context, q querier, rec *performance.Record) error {
	for i, t := range rec.Targets {
		_, err := q.Exec(ctx, `
			INSERT INTO targets
			(id, record_id, position, employee_id, period, kind, name, description,
			 target_value, unit, incentive_base, achieved_value, achievement_percent,
			 incentive_earned, status, policy_version, deadline)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11::numeric,
			        $12::numeric, $13::numeric, $14::numeric, $15, $16, $17)
			ON CONFLICT (id) DO UPDATE SET
				position = EXCLUDED.position,
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				target_value = EXCLUDED.target_value,
				incentive_base = EXCLUDED.incentive_base,
				achieved_value = EXCLUDED.achieved_value,
				achievement_percent = EXCLUDED.achievement_percent,
				incentive_earned = EXCLUDED.incentive_earned,
				status = EXCLUDED.status,
				policy_version = EXCLUDED.policy_version,
				deadline = EXCLUDED.deadline`,
			string(t.ID), rec.ID, i, string(t.EmployeeID), t.Period.Key(), string(t.Kind), t.Name, t.Description,
			t.TargetValue.Value.String(), string(t.TargetValue.Unit), t.IncentiveBase.String(),
			t.AchievedValue.Value.String(), t.AchievementPercent.String(), t.IncentiveEarned.String(),
			string(t.Status), t.PolicyVersion, t.Deadline.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save target %s: %w", t.ID, err)
		}
	}
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

const policySelect = `
	SELECT version, min_performance_threshold::text, calculation_method,
	       max_penalty_percent::text, penalty_enabled, effective_at, updated_by
	FROM policies`

func (s *Store) SavePolicy(ctx context.Context, p incentive.Settings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO policies
		(version, min_performance_threshold, calculation_method, max_penalty_percent,
		 penalty_enabled, effective_at, updated_by)
		VALUES ($1, $2::numeric, $3, $4::numeric, $5, $6, $7)`,
		p.Version, p.MinPerformanceThreshold.String(), string(p.CalculationMethod),
		p.MaxPenaltyPercent.String(), p.PenaltyEnabled, p.EffectiveAt.UTC(), p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy version %d: %w", p.Version, err)
	}
	return nil
}

func (s *Store) LatestPolicy(ctx context.Context) (*incentive.Settings, error) {
	return s.onePolicy(ctx, policySelect+" ORDER BY version DESC LIMIT 1")
}

func (s *Store) GetPolicy(ctx context.Context, version int) (*incentive.Settings, error) {
	return s.onePolicy(ctx, policySelect+" WHERE version = $1", version)
}

func (s *Store) ListPolicies(ctx context.Context) ([]incentive.Settings, error) {
	rows, err := s.pool.Query(ctx, policySelect+" ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []incentive.Settings
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) onePolicy(ctx context.Context, query string, args ...any) (*incentive.Settings, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func scanPolicy(row pgx.Row) (*incentive.Settings, error) {
	var (
		p                             incentive.Settings
		threshold, method, maxPenalty string
	)
	err := row.Scan(&p.Version, &threshold, &method, &maxPenalty, &p.PenaltyEnabled, &p.EffectiveAt, &p.UpdatedBy)
	if err != nil {
		return nil, err
	}
	dec := generic.DecimalScanner{Row: fmt.Sprintf("policy v%d", p.Version)}
	p.MinPerformanceThreshold = dec.Parse("min_performance_threshold", threshold)
	p.MaxPenaltyPercent = dec.Parse("max_penalty_percent", maxPenalty)
	if dec.Err != nil {
		return nil, dec.Err
	}
	p.CalculationMethod = incentive.Method(method)
	return &p, nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp performance.Employee) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, email, hire_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, hire_date = EXCLUDED.hire_date`,
		string(emp.ID), emp.Name, emp.Email, emp.HireDate.UTC(),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EntityID) (*performance.Employee, error) {
	emp, err := scanEmployee(s.pool.QueryRow(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees WHERE id = $1", string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return emp, err
}

func (s *Store) ListEmployees(ctx context.Context) ([]performance.Employee, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, email, hire_date, created_at FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []performance.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *emp)
	}
	return out, rows.Err()
}

func (s *Store) EmployeeExists(ctx context.Context, id generic.EntityID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM employees WHERE id = $1)", string(id)).Scan(&exists)
	return exists, err
}

func scanEmployee(row pgx.Row) (*performance.Employee, error) {
	var (
		emp performance.Employee
		id  string
	)
	if err := row.Scan(&id, &emp.Name, &emp.Email, &emp.HireDate, &emp.CreatedAt); err != nil {
		return nil, err
	}
	emp.ID = generic.EntityID(id)
	return &emp, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
