package generic

// =============================================================================
// PERIOD - Inclusive date range a billing line is computed for
// =============================================================================

// Period is an inclusive date range [Start, End].
//
// Examples:
//   - Annual contract year:  2024-01-01 .. 2024-12-31
//   - Quarter:               2024-04-01 .. 2024-06-30
//   - Final clamped period:  2026-10-01 .. 2026-11-15 (contract ends mid-quarter)
type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Valid reports whether End is not before Start.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.Start.BeforeOrEqual(p.End)
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns the number of days covered, both ends included.
func (p Period) Days() int {
	if !p.Valid() {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// ClampEnd caps End at limit.
func (p Period) ClampEnd(limit Date) Period {
	if p.End.After(limit) {
		p.End = limit
	}
	return p
}

// Follows reports whether p starts exactly the day after prev ends.
func (p Period) Follows(prev Period) bool {
	return p.Start.Equal(prev.End.DayAfter())
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodSpanning returns the period starting at start that lasts the given
// number of months, ending the day before start+months.
func PeriodSpanning(start Date, months int) Period {
	return Period{Start: start, End: start.AddMonths(months).AddDays(-1)}
}
