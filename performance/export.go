package performance

// Report is the export document payroll and dashboards consume. Field names
// are part of the external contract.
type Report struct {
	Period             string         `json:"period"`
	Targets            []ReportTarget `json:"targets"`
	OverallPerformance float64        `json:"overallPerformance"`
	TotalIncentive     float64        `json:"totalIncentive"`
}

type ReportTarget struct {
	Kind               string  `json:"kind"`
	TargetValue        float64 `json:"targetValue"`
	AchievedValue      float64 `json:"achievedValue"`
	AchievementPercent float64 `json:"achievementPercent"`
	IncentiveEarned    float64 `json:"incentiveEarned"`
	Status             string  `json:"status"`
}

// Export renders the record as a Report.
func (r *Record) Export() Report {
	out := Report{
		Period:             r.Period.Key(),
		Targets:            make([]ReportTarget, 0, len(r.Targets)),
		OverallPerformance: r.OverallPerformance.InexactFloat64(),
		TotalIncentive:     r.TotalIncentive.InexactFloat64(),
	}
	for _, t := range r.Targets {
		out.Targets = append(out.Targets, ReportTarget{
			Kind:               string(t.Kind),
			TargetValue:        t.TargetValue.Value.InexactFloat64(),
			AchievedValue:      t.AchievedValue.Value.InexactFloat64(),
			AchievementPercent: t.AchievementPercent.InexactFloat64(),
			IncentiveEarned:    t.IncentiveEarned.InexactFloat64(),
			Status:             string(t.Status),
		})
	}
	return out
}
