package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Calendar month a performance record covers
// =============================================================================

// PeriodKeyLayout is the canonical month key format, e.g. "2025-03".
const PeriodKeyLayout = "2006-01"

// Period is a calendar month [Start, End]. Records, targets and ledger
// entries are keyed by Period.Key().
type Period struct {
	Start TimePoint
	End   TimePoint
}

// MonthPeriod returns the period covering the given month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{
		Start: StartOfMonth(year, month),
		End:   EndOfMonth(year, month),
	}
}

// PeriodFor returns the month period containing t.
func PeriodFor(t time.Time) Period {
	t = t.UTC()
	return MonthPeriod(t.Year(), t.Month())
}

// ParsePeriod parses a month key such as "2025-03".
func ParsePeriod(key string) (Period, error) {
	t, err := time.Parse(PeriodKeyLayout, key)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q (want YYYY-MM)", ErrInvalidPeriod, key)
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}

// MustParsePeriod is ParsePeriod for literals in tests and presets.
func MustParsePeriod(key string) Period {
	p, err := ParsePeriod(key)
	if err != nil {
		panic(err)
	}
	return p
}

// Key returns the month key.
func (p Period) Key() string { return p.Start.Time.Format(PeriodKeyLayout) }

// Deadline is the default target deadline: the last instant of the month.
func (p Period) Deadline() time.Time { return p.End.EndOfDay() }

func (p Period) IsZero() bool { return p.Start.IsZero() }

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// NextPeriod returns the following month.
func (p Period) NextPeriod() Period {
	next := p.Start.AddMonths(1)
	return MonthPeriod(next.Year(), next.Month())
}

// PreviousPeriod returns the preceding month.
func (p Period) PreviousPeriod() Period {
	prev := p.Start.AddMonths(-1)
	return MonthPeriod(prev.Year(), prev.Month())
}
