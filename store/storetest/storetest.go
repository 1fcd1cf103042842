// Package storetest is the shared contract suite every performance.Store
// implementation runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

// Store is what the bundled stores implement.
type Store interface {
	performance.Store
	performance.EmployeeStore
	Reset(ctx context.Context) error
}

var (
	march = generic.MustParsePeriod("2025-03")
	now   = time.Date(2025, time.March, 12, 8, 30, 0, 0, time.UTC)
)

// Run executes the contract against fresh stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("RecordRoundTrip", func(t *testing.T) { testRecordRoundTrip(t, newStore(t)) })
	t.Run("InsertTwice", func(t *testing.T) { testInsertTwice(t, newStore(t)) })
	t.Run("VersionCheck", func(t *testing.T) { testVersionCheck(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("LedgerOrderAndDuplicates", func(t *testing.T) { testLedger(t, newStore(t)) })
	t.Run("ListAndFind", func(t *testing.T) { testListAndFind(t, newStore(t)) })
	t.Run("Policies", func(t *testing.T) { testPolicies(t, newStore(t)) })
	t.Run("Employees", func(t *testing.T) { testEmployees(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

// appendAll writes txs in one store transaction, the only ledger write path.
func appendAll(ctx context.Context, s Store, txs ...generic.Transaction) error {
	return s.WithTx(ctx, func(tx performance.Tx) error {
		for _, t := range txs {
			if err := tx.Append(ctx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func newRecord(id string, emp generic.EntityID, period generic.Period) *performance.Record {
	return &performance.Record{
		ID:         id,
		EmployeeID: emp,
		Period:     period,
		Status:     performance.RecordDraft,
		Targets: []performance.Target{
			{
				ID:                 generic.TargetID(id + "-leads"),
				EmployeeID:         emp,
				Period:             period,
				Kind:               performance.KindLeadGeneration,
				Name:               "Leads Generated",
				Description:        "qualified inbound leads",
				TargetValue:        generic.NewAmountFromInt(50, generic.UnitCount),
				IncentiveBase:      decimal.NewFromInt(15000),
				AchievedValue:      generic.NewAmountFromInt(0, generic.UnitCount),
				AchievementPercent: decimal.Zero,
				IncentiveEarned:    decimal.Zero,
				Status:             incentive.StatusPending,
				PolicyVersion:      1,
				Deadline:           period.Deadline(),
			},
			{
				ID:                 generic.TargetID(id + "-collected"),
				EmployeeID:         emp,
				Period:             period,
				Kind:               performance.KindCollectionAmount,
				Name:               "Collection Amount",
				TargetValue:        generic.NewAmountFromDecimal(decimal.RequireFromString("40000.50"), generic.UnitAmount),
				IncentiveBase:      decimal.NewFromInt(12000),
				AchievedValue:      generic.NewAmountFromInt(0, generic.UnitAmount),
				AchievementPercent: decimal.Zero,
				IncentiveEarned:    decimal.Zero,
				Status:             incentive.StatusPending,
				PolicyVersion:      1,
				Deadline:           period.Deadline(),
			},
		},
		OverallPerformance: decimal.Zero,
		TotalIncentive:     decimal.Zero,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func insert(t *testing.T, s Store, rec *performance.Record) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx performance.Tx) error {
		return tx.InsertRecord(context.Background(), rec)
	})
	require.NoError(t, err)
}

func achievement(id string, target generic.TargetID, delta int64, at time.Time) generic.Transaction {
	return generic.Transaction{
		ID:          generic.TransactionID(id),
		EntityID:    "emp-1",
		TargetID:    target,
		Period:      march.Key(),
		OccurredAt:  at,
		Delta:       generic.NewAmountFromDecimal(decimal.NewFromInt(delta), generic.UnitCount),
		Type:        generic.TxAchievement,
		Source:      generic.SourceIntegration,
		Description: "lead added",
		Metadata:    map[string]string{"lead_id": id},
		RecordedBy:  "crm",
		CreatedAt:   at,
	}
}

func decimalEqual(t *testing.T, want, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s: want %s, got %s", field, want, got)
}

// =============================================================================
// CONTRACT
// =============================================================================

func testRecordRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	rec := newRecord("rec-1", "emp-1", march)
	insert(t, s, rec)

	got, err := s.GetRecord(ctx, "emp-1", march)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, performance.RecordDraft, got.Status)
	assert.Equal(t, 1, got.Version)
	assert.True(t, now.Equal(got.CreatedAt))
	require.Len(t, got.Targets, 2)
	assert.Equal(t, performance.KindLeadGeneration, got.Targets[0].Kind)
	assert.Equal(t, performance.KindCollectionAmount, got.Targets[1].Kind)

	leads := got.Targets[0]
	assert.Equal(t, "qualified inbound leads", leads.Description)
	assert.Equal(t, generic.UnitCount, leads.TargetValue.Unit)
	decimalEqual(t, decimal.NewFromInt(50), leads.TargetValue.Value, "target value")
	decimalEqual(t, decimal.NewFromInt(15000), leads.IncentiveBase, "incentive base")
	assert.Equal(t, incentive.StatusPending, leads.Status)
	assert.Equal(t, 1, leads.PolicyVersion)
	assert.True(t, march.Deadline().Equal(leads.Deadline))
	assert.Equal(t, "2025-03", leads.Period.Key())

	decimalEqual(t, decimal.RequireFromString("40000.50"), got.Targets[1].TargetValue.Value, "collected target")

	missing, err := s.GetRecord(ctx, "emp-1", march.NextPeriod())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testInsertTwice(t *testing.T, s Store) {
	insert(t, s, newRecord("rec-1", "emp-1", march))

	err := s.WithTx(context.Background(), func(tx performance.Tx) error {
		return tx.InsertRecord(context.Background(), newRecord("rec-2", "emp-1", march))
	})
	assert.ErrorIs(t, err, generic.ErrRecordExists)
}

func testVersionCheck(t *testing.T, s Store) {
	// GIVEN: A stored record at version 1
	// WHEN: Two writers both read version 1 and update
	// THEN: The first wins, the second sees ErrConcurrentModification

	ctx := context.Background()
	insert(t, s, newRecord("rec-1", "emp-1", march))

	first, err := s.GetRecord(ctx, "emp-1", march)
	require.NoError(t, err)
	second, err := s.GetRecord(ctx, "emp-1", march)
	require.NoError(t, err)

	first.Status = performance.RecordActive
	first.Targets[0].AchievedValue = generic.NewAmountFromInt(20, generic.UnitCount)
	first.Targets[0].AchievementPercent = decimal.NewFromInt(40)
	first.Targets[0].Status = incentive.StatusInProgress
	first.OverallPerformance = decimal.NewFromInt(20)
	err = s.WithTx(ctx, func(tx performance.Tx) error {
		return tx.UpdateRecord(ctx, first, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Version)

	second.Status = performance.RecordCancelled
	err = s.WithTx(ctx, func(tx performance.Tx) error {
		return tx.UpdateRecord(ctx, second, 1)
	})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	got, err := s.GetRecord(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, performance.RecordActive, got.Status)
	decimalEqual(t, decimal.NewFromInt(20), got.Targets[0].AchievedValue.Value, "achieved")
	decimalEqual(t, decimal.NewFromInt(40), got.Targets[0].AchievementPercent, "percent")
	decimalEqual(t, decimal.NewFromInt(20), got.OverallPerformance, "overall")
	assert.Equal(t, incentive.StatusInProgress, got.Targets[0].Status)
}

func testRollback(t *testing.T, s Store) {
	// GIVEN: A transaction that appends an event and then fails
	// WHEN: WithTx returns the error
	// THEN: Neither the event nor the record change is visible

	ctx := context.Background()
	rec := newRecord("rec-1", "emp-1", march)
	insert(t, s, rec)
	boom := errors.New("derived state rejected")

	err := s.WithTx(ctx, func(tx performance.Tx) error {
		if err := tx.Append(ctx, achievement("evt-1", rec.Targets[0].ID, 5, now)); err != nil {
			return err
		}
		next := rec.Clone()
		next.Targets[0].AchievedValue = generic.NewAmountFromInt(5, generic.UnitCount)
		if err := tx.UpdateRecord(ctx, next, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := s.Exists(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := s.GetRecord(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Targets[0].AchievedValue.IsZero())
}

func testLedger(t *testing.T, s Store) {
	ctx := context.Background()
	target := generic.TargetID("tgt-leads")

	later := achievement("evt-late", target, 3, now.Add(time.Hour))
	earlier := achievement("evt-early", target, 2, now)
	tie := achievement("evt-tie", target, -1, now)
	tie.Type = generic.TxCorrection

	require.NoError(t, appendAll(ctx, s, later))
	require.NoError(t, appendAll(ctx, s, earlier, tie))
	require.NoError(t, appendAll(ctx, s, achievement("evt-other", "tgt-other", 9, now)))

	err := appendAll(ctx, s, achievement("evt-fresh", target, 1, now), achievement("evt-early", target, 2, now))
	assert.ErrorIs(t, err, generic.ErrDuplicateEvent)
	fresh, err := s.Exists(ctx, "evt-fresh")
	require.NoError(t, err)
	assert.False(t, fresh, "a duplicate rolls back the whole transaction")

	history, err := s.Load(ctx, target)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, generic.TransactionID("evt-early"), history[0].ID)
	assert.Equal(t, generic.TransactionID("evt-tie"), history[1].ID)
	assert.Equal(t, generic.TransactionID("evt-late"), history[2].ID)

	first := history[0]
	assert.Equal(t, generic.EntityID("emp-1"), first.EntityID)
	assert.Equal(t, "2025-03", first.Period)
	assert.Equal(t, generic.SourceIntegration, first.Source)
	assert.Equal(t, "crm", first.RecordedBy)
	assert.Equal(t, "lead added", first.Description)
	assert.Equal(t, "evt-early", first.Metadata["lead_id"])
	assert.True(t, now.Equal(first.OccurredAt))
	assert.Equal(t, generic.TxCorrection, history[1].Type)

	sum := generic.Replay(history, generic.UnitCount)
	decimalEqual(t, decimal.NewFromInt(4), sum.Value, "replayed sum")

	exists, err := s.Exists(ctx, "evt-late")
	require.NoError(t, err)
	assert.True(t, exists)
}

func testListAndFind(t *testing.T, s Store) {
	ctx := context.Background()
	insert(t, s, newRecord("rec-b", "emp-2", march))
	insert(t, s, newRecord("rec-a", "emp-1", march))
	insert(t, s, newRecord("rec-c", "emp-1", march.PreviousPeriod()))

	active, err := s.GetRecord(ctx, "emp-2", march)
	require.NoError(t, err)
	active.Status = performance.RecordActive
	require.NoError(t, s.WithTx(ctx, func(tx performance.Tx) error {
		return tx.UpdateRecord(ctx, active, active.Version)
	}))

	all, err := s.ListRecords(ctx, performance.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "rec-c", all[0].ID, "earlier period first")
	assert.Equal(t, "rec-a", all[1].ID)
	assert.Equal(t, "rec-b", all[2].ID)
	assert.Len(t, all[2].Targets, 2)

	inMarch, err := s.ListRecords(ctx, performance.RecordFilter{Period: "2025-03"})
	require.NoError(t, err)
	assert.Len(t, inMarch, 2)

	byEmployee, err := s.ListRecords(ctx, performance.RecordFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	assert.Len(t, byEmployee, 2)

	byStatus, err := s.ListRecords(ctx, performance.RecordFilter{Status: performance.RecordActive})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, generic.EntityID("emp-2"), byStatus[0].EmployeeID)

	owner, err := s.FindTarget(ctx, "rec-a-collected")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, "rec-a", owner.ID)

	none, err := s.FindTarget(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testPolicies(t *testing.T, s Store) {
	ctx := context.Background()

	latest, err := s.LatestPolicy(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	v1 := incentive.DefaultSettings()
	v1.EffectiveAt = now
	require.NoError(t, s.SavePolicy(ctx, v1))

	v2 := incentive.DefaultSettings()
	v2.Version = 2
	v2.PenaltyEnabled = true
	v2.MaxPenaltyPercent = decimal.RequireFromString("25.5")
	v2.MinPerformanceThreshold = decimal.NewFromInt(60)
	v2.EffectiveAt = now.Add(time.Hour)
	v2.UpdatedBy = "hr-admin"
	require.NoError(t, s.SavePolicy(ctx, v2))

	assert.Error(t, s.SavePolicy(ctx, v1), "versions are never overwritten")

	latest, err = s.LatestPolicy(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Version)
	assert.True(t, latest.PenaltyEnabled)
	assert.Equal(t, incentive.MethodLinear, latest.CalculationMethod)
	assert.Equal(t, "hr-admin", latest.UpdatedBy)
	decimalEqual(t, decimal.RequireFromString("25.5"), latest.MaxPenaltyPercent, "max penalty")
	decimalEqual(t, decimal.NewFromInt(60), latest.MinPerformanceThreshold, "threshold")
	assert.True(t, v2.EffectiveAt.Equal(latest.EffectiveAt))

	got, err := s.GetPolicy(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.PenaltyEnabled)

	missing, err := s.GetPolicy(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 1, all[0].Version)
	assert.Equal(t, 2, all[1].Version)
}

func testEmployees(t *testing.T, s Store) {
	ctx := context.Background()
	hired := time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveEmployee(ctx, performance.Employee{ID: "emp-2", Name: "Bob", Email: "bob@example.com", HireDate: hired}))
	require.NoError(t, s.SaveEmployee(ctx, performance.Employee{ID: "emp-1", Name: "Alice", HireDate: hired}))
	require.NoError(t, s.SaveEmployee(ctx, performance.Employee{ID: "emp-2", Name: "Robert", Email: "bob@example.com", HireDate: hired}))

	exists, err := s.EmployeeExists(ctx, "emp-1")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.EmployeeExists(ctx, "emp-9")
	require.NoError(t, err)
	assert.False(t, exists)

	emp, err := s.GetEmployee(ctx, "emp-2")
	require.NoError(t, err)
	require.NotNil(t, emp)
	assert.Equal(t, "Robert", emp.Name, "save is an upsert")
	assert.Equal(t, "bob@example.com", emp.Email)
	assert.True(t, hired.Equal(emp.HireDate))

	none, err := s.GetEmployee(ctx, "emp-9")
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.EntityID("emp-1"), all[0].ID)
}

func testReset(t *testing.T, s Store) {
	ctx := context.Background()
	insert(t, s, newRecord("rec-1", "emp-1", march))
	require.NoError(t, appendAll(ctx, s, achievement("evt-1", "rec-1-leads", 1, now)))
	require.NoError(t, s.SavePolicy(ctx, incentive.DefaultSettings()))
	require.NoError(t, s.SaveEmployee(ctx, performance.Employee{ID: "emp-1", Name: "Alice"}))

	require.NoError(t, s.Reset(ctx))

	rec, err := s.GetRecord(ctx, "emp-1", march)
	require.NoError(t, err)
	assert.Nil(t, rec)
	exists, err := s.Exists(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, exists)
	latest, err := s.LatestPolicy(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
	emps, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Empty(t, emps)
}
