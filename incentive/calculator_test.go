package incentive_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	now      = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	deadline = time.Date(2025, time.March, 31, 23, 59, 59, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func input(target, achieved, base string) incentive.Input {
	return incentive.Input{
		TargetValue:   dec(target),
		AchievedValue: dec(achieved),
		IncentiveBase: dec(base),
		Deadline:      deadline,
	}
}

func penalties(maxPercent string) incentive.Settings {
	s := incentive.DefaultSettings()
	s.PenaltyEnabled = true
	s.MaxPenaltyPercent = dec(maxPercent)
	return s
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// =============================================================================
// LINEAR PAYOUT
// =============================================================================

func TestCompute_AboveThreshold_PaysLinearShare(t *testing.T) {
	// GIVEN: 50 leads for 15000, 42 achieved, default 50% threshold
	// WHEN: Computing
	// THEN: 84% pays 12600, still in progress

	res, err := incentive.Compute(input("50", "42", "15000"), incentive.DefaultSettings(), now)
	require.NoError(t, err)

	assertDecimal(t, "84", res.AchievementPercent)
	assertDecimal(t, "12600", res.IncentiveEarned)
	assert.Equal(t, incentive.StatusInProgress, res.Status)
}

func TestCompute_OverAchievement_IsUncapped(t *testing.T) {
	// GIVEN: 100 tasks for 8000, 125 achieved
	// WHEN: Computing
	// THEN: 125% pays 10000 and the target is achieved

	res, err := incentive.Compute(input("100", "125", "8000"), incentive.DefaultSettings(), now)
	require.NoError(t, err)

	assertDecimal(t, "125", res.AchievementPercent)
	assertDecimal(t, "10000", res.IncentiveEarned)
	assert.Equal(t, incentive.StatusAchieved, res.Status)
}

func TestCompute_ExactlyAtThreshold_Pays(t *testing.T) {
	res, err := incentive.Compute(input("40", "20", "12000"), penalties("25"), now)
	require.NoError(t, err)

	assertDecimal(t, "50", res.AchievementPercent)
	assertDecimal(t, "6000", res.IncentiveEarned)
}

// =============================================================================
// PENALTIES
// =============================================================================

func TestCompute_BelowThreshold_PenaltyWithinCap(t *testing.T) {
	// GIVEN: 40 collected target for 12000, penalties on with a 25% cap
	// WHEN: 15 achieved (37.5%)
	// THEN: Shortfall 12.5% costs 1500, under the 3000 cap

	res, err := incentive.Compute(input("40", "15", "12000"), penalties("25"), now)
	require.NoError(t, err)

	assertDecimal(t, "37.5", res.AchievementPercent)
	assertDecimal(t, "-1500", res.IncentiveEarned)
	assert.Equal(t, incentive.StatusInProgress, res.Status)
}

func TestCompute_BelowThreshold_PenaltyClampedToCap(t *testing.T) {
	// GIVEN: Penalties capped at 10% of base
	// WHEN: Nothing achieved (shortfall 50%)
	// THEN: Penalty is clamped to 10% of 12000

	res, err := incentive.Compute(input("40", "0", "12000"), penalties("10"), now)
	require.NoError(t, err)

	assertDecimal(t, "0", res.AchievementPercent)
	assertDecimal(t, "-1200", res.IncentiveEarned)
	assert.Equal(t, incentive.StatusPending, res.Status)
}

func TestCompute_BelowThreshold_PenaltyDisabled_PaysNothing(t *testing.T) {
	res, err := incentive.Compute(input("40", "15", "12000"), incentive.DefaultSettings(), now)
	require.NoError(t, err)

	assertDecimal(t, "37.5", res.AchievementPercent)
	assert.True(t, res.IncentiveEarned.IsZero())
}

func TestCompute_ZeroCap_NeverNegative(t *testing.T) {
	res, err := incentive.Compute(input("40", "15", "12000"), penalties("0"), now)
	require.NoError(t, err)

	assert.True(t, res.IncentiveEarned.IsZero())
	assert.False(t, res.IncentiveEarned.IsNegative())
}

// =============================================================================
// REJECTIONS
// =============================================================================

func TestCompute_NonPositiveTarget_Rejected(t *testing.T) {
	_, err := incentive.Compute(input("0", "5", "1000"), incentive.DefaultSettings(), now)
	assert.ErrorIs(t, err, generic.ErrInvalidTargetDefinition)
}

func TestCompute_UnimplementedMethod_Rejected(t *testing.T) {
	// GIVEN: Settings naming the tiered method, which has no implementation
	// WHEN: Computing
	// THEN: ErrUnsupportedCalculationMethod, never a silent linear fallback

	s := incentive.DefaultSettings()
	s.CalculationMethod = incentive.MethodTiered

	_, err := incentive.Compute(input("50", "42", "15000"), s, now)
	assert.ErrorIs(t, err, generic.ErrUnsupportedCalculationMethod)
	assert.False(t, incentive.Supported(incentive.MethodThreshold))
	assert.True(t, incentive.Supported(incentive.MethodLinear))
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*incentive.Settings)
		want   error
	}{
		{"defaults", func(*incentive.Settings) {}, nil},
		{"negative threshold", func(s *incentive.Settings) { s.MinPerformanceThreshold = dec("-1") }, generic.ErrInvalidPolicy},
		{"negative cap", func(s *incentive.Settings) { s.MaxPenaltyPercent = dec("-5") }, generic.ErrInvalidPolicy},
		{"unknown method", func(s *incentive.Settings) { s.CalculationMethod = "exponential" }, generic.ErrInvalidPolicy},
		{"unimplemented method", func(s *incentive.Settings) { s.CalculationMethod = incentive.MethodThreshold }, generic.ErrUnsupportedCalculationMethod},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := incentive.DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// =============================================================================
// STATUS
// =============================================================================

func TestStatusFor(t *testing.T) {
	after := deadline.Add(time.Hour)

	tests := []struct {
		name     string
		percent  string
		achieved string
		now      time.Time
		want     incentive.Status
	}{
		{"nothing yet", "0", "0", now, incentive.StatusPending},
		{"some progress", "40", "20", now, incentive.StatusInProgress},
		{"reached", "100", "50", now, incentive.StatusAchieved},
		{"past deadline short", "40", "20", after, incentive.StatusMissed},
		{"past deadline untouched", "0", "0", after, incentive.StatusMissed},
		{"achieved never missed", "110", "55", after, incentive.StatusAchieved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := incentive.StatusFor(dec(tt.percent), dec(tt.achieved), deadline, tt.now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusFor_MissedTargetRecoversWhenReached(t *testing.T) {
	// GIVEN: A target that went missed after its deadline
	// WHEN: A late correction lifts it to 100%
	// THEN: It reports achieved again

	after := deadline.Add(24 * time.Hour)
	require.Equal(t, incentive.StatusMissed, incentive.StatusFor(dec("90"), dec("45"), deadline, after))
	assert.Equal(t, incentive.StatusAchieved, incentive.StatusFor(dec("100"), dec("50"), deadline, after))
}

func TestStatusFor_NoDeadline_NeverMissed(t *testing.T) {
	got := incentive.StatusFor(dec("10"), dec("1"), time.Time{}, now.AddDate(5, 0, 0))
	assert.Equal(t, incentive.StatusInProgress, got)
}
