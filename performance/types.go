/*
Package performance owns employee performance records: the targets assigned
to an employee for a month, the achievement events applied to them, and the
derived performance score and total incentive.

PURPOSE:
  The Engine in this package is the only writer of a Record. Every mutation
  (event, target edit, lifecycle action, recompute) goes through one
  transactional entry point that validates first, derives the new state off
  a copy, and persists ledger entry and record together.

KEY CONCEPTS:
  - Target: one measurable goal (kind, target value, incentive base)
  - Record: all targets of one employee for one month plus aggregates
  - Event: an achievement delta reported by a source
  - Engine: createRecord / applyEvent / getRecord / listAchievements / policy

FLOW (ApplyEvent):
  1. Lock the (employee, period) record
  2. Reject replayed event IDs
  3. Load record, resolve target by kind
  4. Ledger: achieved += delta, reject if negative
  5. Calculator: percent, incentive, status
  6. Record: mean percent, sum incentive
  7. Store: append event + update record in one transaction

SEE ALSO:
  - engine.go: Entry points
  - ledger.go: Applying one transaction to a target
  - incentive/calculator.go: The pure math
*/
package performance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
)

// =============================================================================
// TARGET
// =============================================================================

type Target struct {
	ID          generic.TargetID
	EmployeeID  generic.EntityID
	Period      generic.Period
	Kind        Kind
	Name        string
	Description string

	TargetValue   generic.Amount
	IncentiveBase decimal.Decimal // paid in full at 100%

	// Materialised from the ledger; only changed by applying transactions.
	AchievedValue generic.Amount

	// Derived by incentive.Compute; never written independently.
	AchievementPercent decimal.Decimal
	IncentiveEarned    decimal.Decimal
	Status             incentive.Status

	// PolicyVersion is the settings version the derived fields were
	// computed under. A replaced policy only reaches a target when the
	// target is recomputed.
	PolicyVersion int

	Deadline time.Time
}

// TargetDefinition is the input for assigning a target.
type TargetDefinition struct {
	Kind          Kind
	Name          string
	Description   string
	TargetValue   decimal.Decimal
	Unit          generic.Unit
	IncentiveBase decimal.Decimal
	Deadline      time.Time // zero = end of period
}

// TargetEdit changes a target's definition. Nil fields are left alone.
type TargetEdit struct {
	Name          *string
	Description   *string
	TargetValue   *decimal.Decimal
	IncentiveBase *decimal.Decimal
	Deadline      *time.Time
}

// =============================================================================
// RECORD
// =============================================================================

type RecordStatus string

const (
	RecordDraft     RecordStatus = "draft"
	RecordActive    RecordStatus = "active"
	RecordCompleted RecordStatus = "completed"
	RecordCancelled RecordStatus = "cancelled"
)

// Open reports whether the record still accepts events and edits.
func (s RecordStatus) Open() bool {
	return s == RecordDraft || s == RecordActive
}

// Record aggregates every target of one employee for one period.
type Record struct {
	ID         string
	EmployeeID generic.EntityID
	Period     generic.Period
	Targets    []Target // ordered; kind unique
	Status     RecordStatus

	OverallPerformance decimal.Decimal // mean of target percents
	TotalIncentive     decimal.Decimal // sum of target incentives

	// Version is the optimistic concurrency counter, bumped on every save.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordFilter narrows ListRecords. Empty fields match everything.
type RecordFilter struct {
	Period     string
	EmployeeID generic.EntityID
	Status     RecordStatus
}

// =============================================================================
// EVENT
// =============================================================================

// Event is an achievement reported against (employee, period, kind).
type Event struct {
	ID          generic.TransactionID // idempotency key; generated when empty
	EmployeeID  generic.EntityID
	Period      generic.Period
	Kind        Kind
	Value       decimal.Decimal // signed delta
	Description string
	Source      generic.Source
	RecordedBy  string
	OccurredAt  time.Time // zero = now
	Metadata    map[string]string
}

// =============================================================================
// DIRECTORY
// =============================================================================

// Employee is the directory entry the engine validates against.
type Employee struct {
	ID        generic.EntityID
	Name      string
	Email     string
	HireDate  time.Time
	CreatedAt time.Time
}
