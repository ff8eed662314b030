package requests

import "time"

// =============================================================================
// BILLING CYCLE - The 26th-to-25th window bounding per-driver day-off quotas
// =============================================================================

const (
	cycleStartDay = 26
	cycleEndDay   = 25
)

// BillingCycle is an inclusive [Start, End] window of calendar days.
// Start is always the 26th of a month, End the 25th of the following month.
//
// Examples:
//   - 03 Jan 2025 -> [26 Dec 2024, 25 Jan 2025]
//   - 26 Jan 2025 -> [26 Jan 2025, 25 Feb 2025]
type BillingCycle struct {
	Start Day `json:"start"`
	End   Day `json:"end"`
}

// CycleContaining returns the billing cycle that contains d.
func CycleContaining(d Day) BillingCycle {
	if d.Day() >= cycleStartDay {
		return cycleStartingIn(d.Year(), d.Month())
	}
	return cycleStartingIn(d.Year(), d.Month()-1)
}

// CycleContainingTime is CycleContaining for a timestamp; time-of-day is ignored.
func CycleContainingTime(t time.Time) BillingCycle {
	return CycleContaining(DayOf(t))
}

// time.Date normalizes month 0 and month 13, which covers year rollover.
func cycleStartingIn(year int, month time.Month) BillingCycle {
	return BillingCycle{
		Start: NewDay(year, month, cycleStartDay),
		End:   NewDay(year, month+1, cycleEndDay),
	}
}

// Contains returns true if d is within [Start, End].
func (c BillingCycle) Contains(d Day) bool {
	return d.AfterOrEqual(c.Start) && d.BeforeOrEqual(c.End)
}

// ContainsTime reports whether the calendar day of t is inside the cycle.
func (c BillingCycle) ContainsTime(t time.Time) bool {
	return c.Contains(DayOf(t))
}

// Next returns the cycle immediately after c.
func (c BillingCycle) Next() BillingCycle {
	return CycleContaining(c.End.AddDays(1))
}

// Previous returns the cycle immediately before c.
func (c BillingCycle) Previous() BillingCycle {
	return CycleContaining(c.Start.AddDays(-1))
}

// Days returns every day in the cycle, in order.
func (c BillingCycle) Days() []Day {
	days := make([]Day, 0, DaysBetween(c.Start, c.End)+1)
	for current := c.Start; current.BeforeOrEqual(c.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (c BillingCycle) String() string {
	return c.Start.Label() + " - " + c.End.Label()
}
