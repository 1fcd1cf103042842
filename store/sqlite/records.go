package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

// =============================================================================
// RECORD STORE
// =============================================================================

const recordColumns = `id, employee_id, period, status, overall_performance,
	total_incentive, version, created_at, updated_at`

const targetColumns = `id, employee_id, period, kind, name, description,
	target_value, unit, incentive_base, achieved_value, achievement_percent,
	incentive_earned, status, policy_version, deadline`

// GetRecord returns the record for employee+period, or nil if none.
func (s *Store) GetRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*performance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM performance_records WHERE employee_id = ? AND period = ?",
		employeeID, period.Key(),
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Targets, err = loadTargets(ctx, s.db, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords returns records matching the filter, ordered by period then
// employee.
func (s *Store) ListRecords(ctx context.Context, filter performance.RecordFilter) ([]performance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Period != "" {
		where = append(where, "period = ?")
		args = append(args, filter.Period)
	}
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := "SELECT " + recordColumns + " FROM performance_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY period, employee_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Targets are loaded after the cursor is closed; :memory: runs on a
	// single connection.
	for i := range records {
		if records[i].Targets, err = loadTargets(ctx, s.db, records[i].ID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// FindTarget returns the record owning a target, or nil if none.
func (s *Store) FindTarget(ctx context.Context, targetID generic.TargetID) (*performance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.employee_id, r.period, r.status, r.overall_performance,
		       r.total_incentive, r.version, r.created_at, r.updated_at
		FROM performance_records r JOIN targets t ON t.record_id = r.id
		WHERE t.id = ?`, targetID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Targets, err = loadTargets(ctx, s.db, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

func insertRecord(ctx context.Context, db queryer, rec *performance.Record) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO performance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.EmployeeID, rec.Period.Key(), rec.Status,
		rec.OverallPerformance.String(), rec.TotalIncentive.String(),
		rec.Version, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrRecordExists
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return saveTargets(ctx, db, rec)
}

func updateRecord(ctx context.Context, db queryer, rec *performance.Record, expectedVersion int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE performance_records
		SET status = ?, overall_performance = ?, total_incentive = ?,
		    version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		rec.Status, rec.OverallPerformance.String(), rec.TotalIncentive.String(),
		expectedVersion+1, formatTime(rec.UpdatedAt),
		rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if n != 1 {
		return generic.ErrConcurrentModification
	}
	rec.Version = expectedVersion + 1
	return saveTargets(ctx, db, rec)
}

func saveTargets(ctx context.Context, db queryer, rec *performance.Record) error {
	query := `
		INSERT INTO targets (record_id, position, ` + targetColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position,
			name = excluded.name,
			description = excluded.description,
			target_value = excluded.target_value,
			incentive_base = excluded.incentive_base,
			achieved_value = excluded.achieved_value,
			achievement_percent = excluded.achievement_percent,
			incentive_earned = excluded.incentive_earned,
			status = excluded.status,
			policy_version = excluded.policy_version,
			deadline = excluded.deadline
	`
	for i, t := range rec.Targets {
		_, err := db.ExecContext(ctx, query,
			rec.ID, i,
			t.ID, t.EmployeeID, t.Period.Key(), t.Kind, t.Name, nullString(t.Description),
			t.TargetValue.Value.String(), t.TargetValue.Unit, t.IncentiveBase.String(),
			t.AchievedValue.Value.String(), t.AchievementPercent.String(),
			t.IncentiveEarned.String(), t.Status, t.PolicyVersion, formatTime(t.Deadline),
		)
		if err != nil {
			return fmt.Errorf("failed to save target %s: %w", t.ID, err)
		}
	}
	return nil
}

func loadTargets(ctx context.Context, db queryer, recordID string) ([]performance.Target, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+targetColumns+" FROM targets WHERE record_id = ? ORDER BY position", recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var targets []performance.Target
	for rows.Next() {
		var (
			t                                 performance.Target
			period                            string
			description                       sql.NullString
			targetValue, unit, base, achieved string
			percent, earned, status, deadline string
		)
		err := rows.Scan(&t.ID, &t.EmployeeID, &period, &t.Kind, &t.Name, &description,
			&targetValue, &unit, &base, &achieved, &percent, &earned, &status,
			&t.PolicyVersion, &deadline)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		if t.Period, err = generic.ParsePeriod(period); err != nil {
			return nil, err
		}
		t.Description = description.String
		rp := newRowParser("target " + string(t.ID))
		t.TargetValue = rp.amount("target_value", targetValue, unit)
		t.IncentiveBase = rp.Parse("incentive_base", base)
		t.AchievedValue = rp.amount("achieved_value", achieved, unit)
		t.AchievementPercent = rp.Parse("achievement_percent", percent)
		t.IncentiveEarned = rp.Parse("incentive_earned", earned)
		t.Deadline = rp.timestamp("deadline", deadline)
		if rp.Err != nil {
			return nil, rp.Err
		}
		t.Status = incentive.Status(status)
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*performance.Record, error) {
	var (
		rec                  performance.Record
		period               string
		overall, total       string
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.EmployeeID, &period, &rec.Status, &overall,
		&total, &rec.Version, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	if rec.Period, err = generic.ParsePeriod(period); err != nil {
		return nil, err
	}
	rp := newRowParser("record " + rec.ID)
	rec.OverallPerformance = rp.Parse("overall_performance", overall)
	rec.TotalIncentive = rp.Parse("total_incentive", total)
	rec.CreatedAt = rp.timestamp("created_at", createdAt)
	rec.UpdatedAt = rp.timestamp("updated_at", updatedAt)
	if rp.Err != nil {
		return nil, rp.Err
	}
	return &rec, nil
}
