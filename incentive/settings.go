/*
Package incentive turns target progress into a performance percentage and a
signed monetary incentive.

PURPOSE:
  Holds the process-wide policy settings and the pure calculator that maps
  (target definition, accumulated value, settings) to
  (achievement percent, incentive earned, status). Nothing here touches
  storage; the performance package calls Compute after every mutation.

KEY CONCEPTS:
  - Settings: threshold, calculation method, penalty switch and cap
  - Method: how a percentage becomes money (linear today)
  - Holder: the current Settings snapshot, swapped atomically
  - Status: pending → in_progress → achieved, or missed past deadline

SEE ALSO:
  - calculator.go: Compute and the method table
  - holder.go: Lock-free current settings
  - factory/policy.go: Settings from JSON/YAML
*/
package incentive

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
)

// =============================================================================
// CALCULATION METHOD
// =============================================================================

type Method string

const (
	MethodLinear    Method = "linear"
	MethodTiered    Method = "tiered"
	MethodThreshold Method = "threshold"
)

// Known reports whether m is a recognised method name, implemented or not.
func (m Method) Known() bool {
	switch m {
	case MethodLinear, MethodTiered, MethodThreshold:
		return true
	}
	return false
}

// =============================================================================
// SETTINGS
// =============================================================================

// DefaultThreshold is the minimum performance percent below which penalties
// start.
var DefaultThreshold = decimal.NewFromInt(50)

// Settings is one version of the process-wide incentive policy.
type Settings struct {
	Version                 int
	MinPerformanceThreshold decimal.Decimal // percent
	CalculationMethod       Method
	MaxPenaltyPercent       decimal.Decimal // percent of incentive base
	PenaltyEnabled          bool
	EffectiveAt             time.Time
	UpdatedBy               string
}

// DefaultSettings returns version 1 of the policy: 50% threshold, linear
// payout, penalties off.
func DefaultSettings() Settings {
	return Settings{
		Version:                 1,
		MinPerformanceThreshold: DefaultThreshold,
		CalculationMethod:       MethodLinear,
		MaxPenaltyPercent:       decimal.Zero,
		PenaltyEnabled:          false,
	}
}

// Validate checks that the settings can be computed with.
func (s Settings) Validate() error {
	if s.MinPerformanceThreshold.IsNegative() {
		return fmt.Errorf("%w: min performance threshold must not be negative", generic.ErrInvalidPolicy)
	}
	if s.MaxPenaltyPercent.IsNegative() {
		return fmt.Errorf("%w: max penalty percent must not be negative", generic.ErrInvalidPolicy)
	}
	if !s.CalculationMethod.Known() {
		return fmt.Errorf("%w: unknown calculation method %q", generic.ErrInvalidPolicy, s.CalculationMethod)
	}
	if !Supported(s.CalculationMethod) {
		return fmt.Errorf("%w: %s", generic.ErrUnsupportedCalculationMethod, s.CalculationMethod)
	}
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle position of a single target.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusAchieved   Status = "achieved"
	StatusMissed     Status = "missed"
)
