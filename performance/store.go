package performance

import (
	"context"

	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
)

// =============================================================================
// STORE - Durable keyed record store
// =============================================================================

// Store persists records, their ledger and policy versions. Reads return
// copies; the only way to change a record is through WithTx.
type Store interface {
	generic.Store

	// GetRecord returns the record for employee+period, or nil if none.
	GetRecord(ctx context.Context, employeeID generic.EntityID, period generic.Period) (*Record, error)

	// ListRecords returns records matching the filter, ordered by period
	// then employee.
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, error)

	// FindTarget returns the record owning a target, or nil if none.
	FindTarget(ctx context.Context, targetID generic.TargetID) (*Record, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, nothing fn wrote is kept.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	PolicyStore
}

// Tx is the write side of a store transaction.
type Tx interface {
	// Append adds a ledger transaction (ErrDuplicateEvent on replay).
	Append(ctx context.Context, tx generic.Transaction) error

	// InsertRecord creates a record and its targets (ErrRecordExists if the
	// employee already has one for the period).
	InsertRecord(ctx context.Context, rec *Record) error

	// UpdateRecord overwrites a record and its targets if the stored version
	// still equals expectedVersion (ErrConcurrentModification otherwise).
	// On success rec.Version is expectedVersion+1.
	UpdateRecord(ctx context.Context, rec *Record, expectedVersion int) error
}

// PolicyStore keeps every settings version ever published.
type PolicyStore interface {
	SavePolicy(ctx context.Context, s incentive.Settings) error
	LatestPolicy(ctx context.Context) (*incentive.Settings, error)
	GetPolicy(ctx context.Context, version int) (*incentive.Settings, error)
	ListPolicies(ctx context.Context) ([]incentive.Settings, error)
}

// =============================================================================
// DIRECTORY - External employee lookup
// =============================================================================

// Directory answers whether an employee exists. It is owned by the employee
// directory, not by this package.
type Directory interface {
	EmployeeExists(ctx context.Context, id generic.EntityID) (bool, error)
}

// EmployeeStore is the directory data the bundled stores also carry.
type EmployeeStore interface {
	Directory
	SaveEmployee(ctx context.Context, emp Employee) error
	GetEmployee(ctx context.Context, id generic.EntityID) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}
