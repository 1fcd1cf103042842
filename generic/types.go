/*
Package generic provides the core achievement ledger engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms behind the
  performance engine: quantities with units, the append-only ledger of
  achievement transactions, calendar-month periods, and the error taxonomy.
  Whether a target counts leads, closed tasks, or collected money, the same
  ledger accumulates signed deltas against it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 12 leads, 4500.00 collected, 80%)
  - Transaction: An immutable ledger entry recording one achievement delta
  - Entity/Target/Transaction IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, only corrected
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing employee/target IDs
  4. Auditability: Every transaction has source, description and recorder

USAGE:
  tx := generic.Transaction{
      ID:       "evt-42",
      EntityID: "emp-123",
      TargetID: "tgt-001",
      Delta:    generic.NewAmountFromInt(3, generic.UnitCount),
      Type:     generic.TxAchievement,
      Source:   generic.SourceSystem,
  }

SEE ALSO:
  - ledger.go: Ledger interface and replay
  - period.go: Calendar month periods
  - errors.go: Error taxonomy
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitCount      Unit = "count"
	UnitAmount     Unit = "amount"
	UnitPercentage Unit = "percentage"
)

// Valid reports whether u is one of the supported units.
func (u Unit) Valid() bool {
	switch u {
	case UnitCount, UnitAmount, UnitPercentage:
		return true
	}
	return false
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// DecimalScanner parses the stored decimal columns of one row and keeps
// the first failure. A value that does not parse is an error, never zero.
type DecimalScanner struct {
	Row string
	Err error
}

func (s *DecimalScanner) Parse(column, value string) decimal.Decimal {
	if s.Err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		s.Err = fmt.Errorf("row %s: invalid %s %q: %w", s.Row, column, value, err)
	}
	return d
}

// MustParseDecimal is decimal.NewFromString for test literals. It panics on
// bad input, so stored values go through DecimalScanner instead.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) IsNegative() bool    { return a.Value.IsNegative() }
func (a Amount) IsZero() bool        { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool { return a.Value.Equal(b.Value) }

func (a Amount) String() string { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type TargetID string
type TransactionID string

// =============================================================================
// TRANSACTION - Atomic change to an accumulated value
// =============================================================================

type TransactionType string

const (
	TxAchievement TransactionType = "achievement" // Positive progress reported by a source
	TxCorrection  TransactionType = "correction"  // Signed manual fix, may be negative
)

// Source identifies who emitted the transaction.
type Source string

const (
	SourceManual      Source = "manual"
	SourceSystem      Source = "system"
	SourceIntegration Source = "integration"
)

func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceSystem, SourceIntegration:
		return true
	}
	return false
}

// Transaction is one achievement event. The ID doubles as the idempotency
// key: appending the same ID twice is rejected.
type Transaction struct {
	ID          TransactionID
	EntityID    EntityID
	TargetID    TargetID
	Period      string // month key of the owning record
	OccurredAt  time.Time
	Delta       Amount
	Type        TransactionType
	Source      Source
	Description string
	Metadata    map[string]string

	// Audit fields
	RecordedBy string
	CreatedAt  time.Time
}
