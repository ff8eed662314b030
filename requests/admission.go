/*
admission.go - Day-off quota checks

PURPOSE:
  Decides whether a driver may take a calendar day off. Two quotas apply:

    MaxPerDay:   active day-off requests for one calendar day, all drivers
    MaxPerCycle: active day-off requests for one driver in one billing cycle

CHECK ORDER (first failure wins):
  1. A date is present and is tomorrow or later
  2. Driver's count in the date's billing cycle < MaxPerCycle
  3. Active count for the date < MaxPerDay
  4. Driver has no active request for the same date
  5. Admit, and report MaxPerDay minus a fresh day count as remaining slots

ATOMICITY:
  Evaluate only reads. It is correct under concurrency only when called with
  the transaction-scoped Store handed out by TxStore.WithTx and the insert
  happens in that same scope. Service.Submit does exactly that. When the
  scoped store implements KeyLocker, Evaluate takes the date lock and then
  the driver lock before reading anything.

REMAINING SLOTS:
  Advisory only. It is a snapshot taken before the caller's own insert and
  can be stale by the time anyone reads it.
*/
package requests

import (
	"context"
	"fmt"
)

// AdmissionController evaluates day-off requests against the two quotas.
// Both limits are fixed for the life of the process.
type AdmissionController struct {
	MaxPerDay   int
	MaxPerCycle int
}

// Decision is the outcome of an admission check.
// Count fields are nil when the check stopped before reading them.
type Decision struct {
	Admitted  bool
	Rejection *RejectionError

	Date       *Day
	Cycle      *BillingCycle
	CycleCount *int
	DayCount   *int

	// RemainingSlots is only set on admission.
	RemainingSlots *int
}

// Evaluate runs the admission checks for driverID on date. today is the
// caller's current calendar day. Errors are persistence failures only;
// quota outcomes are reported through the Decision.
func (ac AdmissionController) Evaluate(ctx context.Context, store Store, driverID string, date *Day, today Day) (Decision, error) {
	if date == nil || date.IsZero() {
		return reject(Decision{}, ReasonDateRequired, "Please select a date for your day off request."), nil
	}

	d := *date
	cycle := CycleContaining(d)
	decision := Decision{Date: &d, Cycle: &cycle}

	if !d.After(today) {
		return reject(decision, ReasonDateNotInFuture,
			fmt.Sprintf("Day off requests must be for tomorrow or later; %s is not available.", d.Label())), nil
	}

	if locker, ok := store.(KeyLocker); ok {
		if err := locker.LockKey(ctx, DateLockKey(d)); err != nil {
			return Decision{}, fmt.Errorf("failed to lock day %s: %w", d, err)
		}
		if err := locker.LockKey(ctx, DriverLockKey(driverID)); err != nil {
			return Decision{}, fmt.Errorf("failed to lock driver %s: %w", driverID, err)
		}
	}

	cycleCount, err := store.CountInCycleForDriver(ctx, driverID, cycle)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count cycle requests: %w", err)
	}
	decision.CycleCount = &cycleCount
	if cycleCount >= ac.MaxPerCycle {
		return reject(decision, ReasonCycleLimit,
			fmt.Sprintf("You have reached the limit of %d day off requests for the billing cycle %s.", ac.MaxPerCycle, cycle)), nil
	}

	dayCount, err := store.CountActiveForDate(ctx, d)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count day requests: %w", err)
	}
	decision.DayCount = &dayCount
	if dayCount >= ac.MaxPerDay {
		return reject(decision, ReasonDayCapacity,
			fmt.Sprintf("All %d day off slots for %s are taken.", ac.MaxPerDay, d.Label())), nil
	}

	exists, err := store.HasExistingForDriverAndDate(ctx, driverID, d)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check existing request: %w", err)
	}
	if exists {
		return reject(decision, ReasonDuplicateDate,
			fmt.Sprintf("You already have a day off request for %s.", d.Label())), nil
	}

	fresh, err := store.CountActiveForDate(ctx, d)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count day requests: %w", err)
	}
	remaining := ac.MaxPerDay - fresh
	decision.DayCount = &fresh
	decision.RemainingSlots = &remaining
	decision.Admitted = true
	return decision, nil
}

func reject(d Decision, reason RejectionReason, message string) Decision {
	d.Admitted = false
	d.Rejection = &RejectionError{
		Reason:  reason,
		Message: message,
		Date:    d.Date,
		Cycle:   d.Cycle,
	}
	return d
}
