package performance

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
)

// TargetByKind returns the record's target of kind k.
func (r *Record) TargetByKind(k Kind) (*Target, bool) {
	for i := range r.Targets {
		if r.Targets[i].Kind == k {
			return &r.Targets[i], true
		}
	}
	return nil, false
}

// TargetByID returns the record's target with the given ID.
func (r *Record) TargetByID(id generic.TargetID) (*Target, bool) {
	for i := range r.Targets {
		if r.Targets[i].ID == id {
			return &r.Targets[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so a mutation can be derived and discarded.
func (r *Record) Clone() *Record {
	c := *r
	c.Targets = make([]Target, len(r.Targets))
	copy(c.Targets, r.Targets)
	return &c
}

// Recalculate refreshes the aggregates from the targets.
func (r *Record) Recalculate() {
	total := decimal.Zero
	sum := decimal.Zero
	for _, t := range r.Targets {
		sum = sum.Add(t.AchievementPercent)
		total = total.Add(t.IncentiveEarned)
	}
	r.TotalIncentive = total
	if len(r.Targets) == 0 {
		r.OverallPerformance = decimal.Zero
		return
	}
	r.OverallPerformance = sum.Div(decimal.NewFromInt(int64(len(r.Targets))))
}

// RefreshStatuses applies the lazy deadline transition to every target
// without touching percent or incentive.
func (r *Record) RefreshStatuses(now time.Time) {
	for i := range r.Targets {
		t := &r.Targets[i]
		t.Status = incentive.StatusFor(t.AchievementPercent, t.AchievedValue.Value, t.Deadline, now)
	}
}

// recompute derives one target under s.
func (t *Target) recompute(s incentive.Settings, now time.Time) error {
	res, err := incentive.Compute(t.input(), s, now)
	if err != nil {
		return err
	}
	t.AchievementPercent = res.AchievementPercent
	t.IncentiveEarned = res.IncentiveEarned
	t.Status = res.Status
	t.PolicyVersion = s.Version
	return nil
}

func (t *Target) input() incentive.Input {
	return incentive.Input{
		TargetValue:   t.TargetValue.Value,
		AchievedValue: t.AchievedValue.Value,
		IncentiveBase: t.IncentiveBase,
		Deadline:      t.Deadline,
	}
}

// recomputeAll derives every target under s, then the aggregates.
func (r *Record) recomputeAll(s incentive.Settings, now time.Time) error {
	for i := range r.Targets {
		if err := r.Targets[i].recompute(s, now); err != nil {
			return err
		}
	}
	r.Recalculate()
	return nil
}
