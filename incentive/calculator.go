package incentive

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
)

var hundred = decimal.NewFromInt(100)

// Input is the part of a target the calculator reads.
type Input struct {
	TargetValue   decimal.Decimal
	AchievedValue decimal.Decimal
	IncentiveBase decimal.Decimal
	Deadline      time.Time // zero means no deadline
}

// Result is what the calculator derives.
type Result struct {
	AchievementPercent decimal.Decimal
	IncentiveEarned    decimal.Decimal
	Status             Status
}

// methodFunc maps an achievement percent to an incentive amount.
type methodFunc func(percent decimal.Decimal, in Input, s Settings) decimal.Decimal

// methods holds the implemented calculation methods. Tiered and threshold
// payouts are recognised names without an entry here.
var methods = map[Method]methodFunc{
	MethodLinear: linear,
}

// Supported reports whether m has an implementation.
func Supported(m Method) bool {
	_, ok := methods[m]
	return ok
}

// Compute derives percent, incentive and status for one target. It is pure:
// the clock is passed in so the lazy missed transition stays deterministic.
func Compute(in Input, s Settings, now time.Time) (Result, error) {
	if !in.TargetValue.IsPositive() {
		return Result{}, fmt.Errorf("%w: target value must be positive, got %s",
			generic.ErrInvalidTargetDefinition, in.TargetValue)
	}
	calc, ok := methods[s.CalculationMethod]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", generic.ErrUnsupportedCalculationMethod, s.CalculationMethod)
	}

	percent := Percent(in.AchievedValue, in.TargetValue)
	return Result{
		AchievementPercent: percent,
		IncentiveEarned:    calc(percent, in, s),
		Status:             StatusFor(percent, in.AchievedValue, in.Deadline, now),
	}, nil
}

// Percent returns achieved / target * 100. Multiplying first keeps exact
// decimal results for every terminating quotient.
func Percent(achieved, target decimal.Decimal) decimal.Decimal {
	return achieved.Mul(hundred).Div(target)
}

// linear pays base * percent / 100 at or above the threshold, without an
// upper cap. Below it, the shortfall is charged as a penalty when enabled,
// clamped to base * maxPenaltyPercent / 100.
func linear(percent decimal.Decimal, in Input, s Settings) decimal.Decimal {
	if percent.GreaterThanOrEqual(s.MinPerformanceThreshold) {
		return in.IncentiveBase.Mul(percent).Div(hundred)
	}
	if !s.PenaltyEnabled {
		return decimal.Zero
	}
	shortfall := s.MinPerformanceThreshold.Sub(percent)
	penalty := in.IncentiveBase.Mul(shortfall).Div(hundred)
	limit := in.IncentiveBase.Mul(s.MaxPenaltyPercent).Div(hundred)
	if penalty.GreaterThan(limit) {
		penalty = limit
	}
	if penalty.IsZero() {
		return decimal.Zero
	}
	return penalty.Neg()
}

// StatusFor applies the target state machine. Achieved is re-entrant and
// never becomes missed; a missed target returns to achieved once it crosses
// 100%.
func StatusFor(percent, achieved decimal.Decimal, deadline, now time.Time) Status {
	status := StatusPending
	switch {
	case percent.GreaterThanOrEqual(hundred):
		return StatusAchieved
	case achieved.IsPositive():
		status = StatusInProgress
	}
	if !deadline.IsZero() && now.After(deadline) {
		return StatusMissed
	}
	return status
}
