/*
ledger.go - Applying achievement transactions to a record

PURPOSE:
  Wraps the generic ledger with the record-level rules: the transaction
  must target a member of the resolved record, and the accumulated value
  may never go below zero. The generic engine only knows how to sum deltas;
  this wrapper decides whether a delta may be summed.

INVARIANTS:
  1. Target.AchievedValue == sum of accepted transactions for the target
  2. Target.AchievedValue >= 0 after every accepted transaction
  3. Derived fields are recomputed in the same step as the value changes

SEE ALSO:
  - generic/ledger.go: Base ledger and Replay
  - engine.go: Persists the result
*/
package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
)

// AchievementLedger applies transactions to targets and answers audit
// queries against the underlying ledger.
type AchievementLedger struct {
	ledger generic.Ledger
}

func NewAchievementLedger(store generic.Store) *AchievementLedger {
	return &AchievementLedger{ledger: generic.NewLedger(store)}
}

// Apply adds tx to the target it names inside rec and recomputes that
// target. rec is mutated; callers pass a clone.
func (l *AchievementLedger) Apply(rec *Record, tx generic.Transaction, s incentive.Settings, now time.Time) (*Target, error) {
	target, ok := rec.TargetByID(tx.TargetID)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not part of record %s/%s",
			generic.ErrTargetNotFound, tx.TargetID, rec.EmployeeID, rec.Period.Key())
	}

	next := target.AchievedValue.Add(tx.Delta)
	if next.IsNegative() {
		return nil, &generic.NegativeAccumulationError{
			TargetID: target.ID,
			Current:  target.AchievedValue,
			Delta:    tx.Delta,
		}
	}

	before := *target
	target.AchievedValue = next
	if err := target.recompute(s, now); err != nil {
		*target = before
		return nil, err
	}
	return target, nil
}

// History returns every transaction recorded for a target.
func (l *AchievementLedger) History(ctx context.Context, targetID generic.TargetID) ([]generic.Transaction, error) {
	return l.ledger.Transactions(ctx, targetID)
}

// Verify replays each target's history and compares it with the
// materialised value.
func (l *AchievementLedger) Verify(ctx context.Context, rec *Record) error {
	for _, t := range rec.Targets {
		replayed, err := l.ledger.Sum(ctx, t.ID, t.AchievedValue.Unit)
		if err != nil {
			return err
		}
		if !replayed.Equal(t.AchievedValue) {
			return &generic.ReplayMismatchError{
				TargetID:     t.ID,
				Materialised: t.AchievedValue,
				Replayed:     replayed,
			}
		}
	}
	return nil
}
