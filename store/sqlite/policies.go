package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

// =============================================================================
// POLICY STORE
// =============================================================================

const policyColumns = `version, min_performance_threshold, calculation_method,
	max_penalty_percent, penalty_enabled, effective_at, updated_by`

// SavePolicy stores a new settings version. Versions are never overwritten.
func (s *Store) SavePolicy(ctx context.Context, p incentive.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO policies ("+policyColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.Version, p.MinPerformanceThreshold.String(), p.CalculationMethod,
		p.MaxPenaltyPercent.String(), p.PenaltyEnabled, formatTime(p.EffectiveAt),
		nullString(p.UpdatedBy),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("policy version %d already saved: %w", p.Version, err)
		}
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// LatestPolicy returns the highest version, or nil if none was saved.
func (s *Store) LatestPolicy(ctx context.Context) (*incentive.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.policyRow(ctx, "SELECT "+policyColumns+" FROM policies ORDER BY version DESC LIMIT 1")
}

// GetPolicy returns one version, or nil if it does not exist.
func (s *Store) GetPolicy(ctx context.Context, version int) (*incentive.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.policyRow(ctx, "SELECT "+policyColumns+" FROM policies WHERE version = ?", version)
}

// ListPolicies returns all versions, oldest first.
func (s *Store) ListPolicies(ctx context.Context) ([]incentive.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+policyColumns+" FROM policies ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []incentive.Settings
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func (s *Store) policyRow(ctx context.Context, query string, args ...any) (*incentive.Settings, error) {
	p, err := scanPolicy(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func scanPolicy(row scanner) (*incentive.Settings, error) {
	var (
		p                     incentive.Settings
		threshold, maxPenalty string
		effectiveAt           string
		updatedBy             sql.NullString
	)
	err := row.Scan(&p.Version, &threshold, &p.CalculationMethod, &maxPenalty,
		&p.PenaltyEnabled, &effectiveAt, &updatedBy)
	if err != nil {
		return nil, err
	}
	rp := newRowParser(fmt.Sprintf("policy v%d", p.Version))
	p.MinPerformanceThreshold = rp.Parse("min_performance_threshold", threshold)
	p.MaxPenaltyPercent = rp.Parse("max_penalty_percent", maxPenalty)
	p.EffectiveAt = rp.timestamp("effective_at", effectiveAt)
	if rp.Err != nil {
		return nil, rp.Err
	}
	p.UpdatedBy = updatedBy.String
	return &p, nil
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

// SaveEmployee saves an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp performance.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, hire_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, emp.Email,
		emp.HireDate.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id generic.EntityID) (*performance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var emp performance.Employee
	var hireDate, createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.Name, &emp.Email, &hireDate, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rp := newRowParser("employee " + string(emp.ID))
	emp.HireDate = rp.timestamp("hire_date", hireDate)
	emp.CreatedAt = rp.timestamp("created_at", createdAt)
	if rp.Err != nil {
		return nil, rp.Err
	}
	return &emp, nil
}

// ListEmployees returns all employees.
func (s *Store) ListEmployees(ctx context.Context) ([]performance.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, hire_date, created_at FROM employees ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []performance.Employee
	for rows.Next() {
		var emp performance.Employee
		var hireDate, createdAt string
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.Email, &hireDate, &createdAt); err != nil {
			return nil, err
		}
		rp := newRowParser("employee " + string(emp.ID))
		emp.HireDate = rp.timestamp("hire_date", hireDate)
		emp.CreatedAt = rp.timestamp("created_at", createdAt)
		if rp.Err != nil {
			return nil, rp.Err
		}
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// EmployeeExists answers the engine's directory lookup.
func (s *Store) EmployeeExists(ctx context.Context, id generic.EntityID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM employees WHERE id = ?", id).Scan(&count)
	return count > 0, err
}
