/*
ledger.go - Append-only achievement log

PURPOSE:
  The Ledger is the immutable source of truth for every change to a
  target's accumulated value. Targets carry a materialised running sum
  for fast reads, but that sum must always equal the replay of this log.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. AUDITABLE: Every change is traceable with source and recorder
  4. IDEMPOTENT: Same transaction ID = rejected, never double counted

CORRECTIONS:
  If a mistake is made, you don't edit the transaction. Instead:
  1. Append a TxCorrection with the opposite sign
  2. Both original and correction remain in the ledger
  3. Net effect is correction, but history is preserved

EXAMPLE FLOW:
  1. Lead created:        TxAchievement +1
  2. Lead created:        TxAchievement +1
  3. Duplicate lead found: TxCorrection -1

  Ledger: [+1, +1, -1] = 1 lead

SEE ALSO:
  - store.go: Low-level read interface
  - performance/store.go: Tx, the only write path
  - performance/ledger.go: Applies transactions to a record's target
*/
package generic

import "context"

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the read side of the source of truth for accumulated values.
// Writes go through a store transaction together with the owning record.
type Ledger interface {
	// Transactions returns the full history of a target, chronologically.
	Transactions(ctx context.Context, targetID TargetID) ([]Transaction, error)

	// Sum replays a target's history.
	Sum(ctx context.Context, targetID TargetID, unit Unit) (Amount, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Transactions(ctx context.Context, targetID TargetID) ([]Transaction, error) {
	return l.Store.Load(ctx, targetID)
}

func (l *DefaultLedger) Sum(ctx context.Context, targetID TargetID, unit Unit) (Amount, error) {
	txs, err := l.Store.Load(ctx, targetID)
	if err != nil {
		return Amount{}, err
	}
	return Replay(txs, unit), nil
}

// Replay folds transactions into their running sum.
func Replay(txs []Transaction, unit Unit) Amount {
	total := NewAmountFromInt(0, unit)
	for _, tx := range txs {
		total = total.Add(tx.Delta)
	}
	return total
}
