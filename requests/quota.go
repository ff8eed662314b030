package requests

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CAPACITY VIEWS - What administrators see
// =============================================================================

// DayCapacity summarizes one calendar day against MaxPerDay.
// Remaining can be negative if rows were inserted outside the admission path.
type DayCapacity struct {
	Date        Day             `json:"date"`
	Active      int             `json:"active"`
	Max         int             `json:"max"`
	Remaining   int             `json:"remaining"`
	Utilization decimal.Decimal `json:"utilization"`
}

// NewDayCapacity computes the view for a day with active requests.
// Utilization is active/max rounded to four places.
func NewDayCapacity(day Day, active, limit int) DayCapacity {
	utilization := decimal.Zero
	if limit > 0 {
		utilization = decimal.NewFromInt(int64(active)).
			DivRound(decimal.NewFromInt(int64(limit)), 4)
	}
	return DayCapacity{
		Date:        day,
		Active:      active,
		Max:         limit,
		Remaining:   limit - active,
		Utilization: utilization,
	}
}

// IsFull reports whether no slot is left.
func (dc DayCapacity) IsFull() bool { return dc.Remaining <= 0 }

// DayCapacity returns the capacity view for day.
func (s *Service) DayCapacity(ctx context.Context, day Day) (DayCapacity, error) {
	active, err := s.repo.CountActiveForDate(ctx, day)
	if err != nil {
		return DayCapacity{}, fmt.Errorf("failed to count day requests: %w", err)
	}
	return NewDayCapacity(day, active, s.admission.MaxPerDay), nil
}

// CycleCalendar returns the capacity view for every day of cycle.
func (s *Service) CycleCalendar(ctx context.Context, cycle BillingCycle) ([]DayCapacity, error) {
	days := cycle.Days()
	result := make([]DayCapacity, 0, len(days))
	for _, day := range days {
		dc, err := s.DayCapacity(ctx, day)
		if err != nil {
			return nil, err
		}
		result = append(result, dc)
	}
	return result, nil
}

// CycleUtilization averages daily utilization over the calendar.
func CycleUtilization(calendar []DayCapacity) decimal.Decimal {
	if len(calendar) == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, dc := range calendar {
		total = total.Add(dc.Utilization)
	}
	return total.DivRound(decimal.NewFromInt(int64(len(calendar))), 4)
}
