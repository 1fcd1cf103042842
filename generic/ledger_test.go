package generic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// sliceStore is the smallest generic.Store: an ordered slice.
type sliceStore struct {
	mu  sync.Mutex
	txs []generic.Transaction
}

func (s *sliceStore) Load(_ context.Context, targetID generic.TargetID) ([]generic.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []generic.Transaction
	for _, tx := range s.txs {
		if tx.TargetID == targetID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *sliceStore) Exists(_ context.Context, id generic.TransactionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func leadTx(id string, delta int) generic.Transaction {
	txType := generic.TxAchievement
	if delta < 0 {
		txType = generic.TxCorrection
	}
	return generic.Transaction{
		ID:         generic.TransactionID(id),
		EntityID:   "emp-1",
		TargetID:   "tgt-leads",
		Period:     "2025-03",
		OccurredAt: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		Delta:      generic.NewAmountFromInt(delta, generic.UnitCount),
		Type:       txType,
		Source:     generic.SourceIntegration,
	}
}

// =============================================================================
// LEDGER
// =============================================================================

func TestLedger_Sum_ReplaysCorrections(t *testing.T) {
	// GIVEN: Two leads and a correction for a duplicate
	// WHEN: Summing the target's history
	// THEN: Net is one lead and all three entries are kept

	ctx := context.Background()
	ledger := generic.NewLedger(&sliceStore{txs: []generic.Transaction{
		leadTx("lead:1", 1),
		leadTx("lead:2", 1),
		leadTx("lead:2:correction", -1),
	}})

	sum, err := ledger.Sum(ctx, "tgt-leads", generic.UnitCount)
	require.NoError(t, err)
	assert.True(t, sum.Equal(generic.NewAmountFromInt(1, generic.UnitCount)))

	history, err := ledger.Transactions(ctx, "tgt-leads")
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, generic.TxCorrection, history[2].Type)
}

func TestLedger_Sum_OnlyOwnTarget(t *testing.T) {
	other := leadTx("lead:9", 5)
	other.TargetID = "tgt-other"
	ledger := generic.NewLedger(&sliceStore{txs: []generic.Transaction{leadTx("lead:1", 1), other}})

	sum, err := ledger.Sum(context.Background(), "tgt-leads", generic.UnitCount)
	require.NoError(t, err)
	assert.True(t, sum.Value.Equal(generic.MustParseDecimal("1")))

	sum, err = ledger.Sum(context.Background(), "tgt-none", generic.UnitCount)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestReplay_Empty_IsZeroInUnit(t *testing.T) {
	got := generic.Replay(nil, generic.UnitAmount)
	assert.True(t, got.IsZero())
	assert.Equal(t, generic.UnitAmount, got.Unit)
}

// =============================================================================
// DECIMALS
// =============================================================================

func TestDecimalScanner_KeepsFirstFailure(t *testing.T) {
	// GIVEN: A row with one good and two corrupt decimal columns
	// WHEN: Parsing every column
	// THEN: The good value parses, the first failure names row and column

	s := generic.DecimalScanner{Row: "target tgt-1"}
	good := s.Parse("target_value", "50")
	require.NoError(t, s.Err)
	assert.True(t, good.Equal(generic.MustParseDecimal("50")))

	s.Parse("achieved_value", "12x")
	s.Parse("incentive_earned", "oops")

	require.Error(t, s.Err)
	assert.Contains(t, s.Err.Error(), "target tgt-1")
	assert.Contains(t, s.Err.Error(), "achieved_value")
	assert.NotContains(t, s.Err.Error(), "incentive_earned")
}

func TestMustParseDecimal_PanicsOnGarbage(t *testing.T) {
	assert.Panics(t, func() { generic.MustParseDecimal("12x") })
	assert.NotPanics(t, func() { generic.MustParseDecimal("-0.125") })
}

// =============================================================================
// PERIODS
// =============================================================================

func TestParsePeriod(t *testing.T) {
	p, err := generic.ParsePeriod("2024-02")
	require.NoError(t, err)

	assert.Equal(t, "2024-02", p.Key())
	assert.Equal(t, 29, p.End.Day(), "leap year February")
	assert.Equal(t, time.Date(2024, time.February, 29, 23, 59, 59, 999999999, time.UTC), p.Deadline())
	assert.Equal(t, "2024-03", p.NextPeriod().Key())
	assert.Equal(t, "2024-01", p.PreviousPeriod().Key())

	_, err = generic.ParsePeriod("2024-13")
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
	_, err = generic.ParsePeriod("March")
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestPeriodFor_UsesUTCMonth(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	local := time.Date(2025, time.April, 1, 2, 0, 0, 0, loc) // still March 31 in UTC

	assert.Equal(t, "2025-03", generic.PeriodFor(local).Key())
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestErrorClassification(t *testing.T) {
	neg := &generic.NegativeAccumulationError{
		TargetID: "tgt-1",
		Current:  generic.NewAmountFromInt(2, generic.UnitCount),
		Delta:    generic.NewAmountFromInt(-5, generic.UnitCount),
	}
	assert.ErrorIs(t, neg, generic.ErrNegativeAccumulation)
	assert.True(t, generic.IsClientError(neg))
	assert.Contains(t, neg.Error(), "would give -3")

	unknown := &generic.UnknownTargetKindError{EntityID: "emp-1", Period: "2025-03", Kind: "group_filling"}
	assert.True(t, generic.IsNotFound(unknown))

	stored := generic.StorageFailure("update record", assert.AnError)
	assert.ErrorIs(t, stored, generic.ErrStorageWriteFailed)
	assert.ErrorIs(t, stored, assert.AnError)
	assert.True(t, generic.IsRetryable(stored))
	assert.Nil(t, generic.StorageFailure("noop", nil))

	assert.True(t, generic.IsConflict(generic.ErrConcurrentModification))
	assert.True(t, generic.IsRetryable(generic.ErrConcurrentModification))
}
