/*
errors.go - Centralized error types for the request engine

ERROR CATEGORIES:
  1. Rejections - Expected outcomes of day-off admission (quota, duplicate)
  2. Lifecycle errors - Illegal status transitions, mismatched response fields
  3. Store errors - Missing rows, concurrent modification, persistence failures

Rejections are carried inside a Decision rather than returned as errors:
a driver hitting a quota is a normal outcome, not a failure. They still
implement error so the API layer can treat them uniformly.

USAGE:
    if errors.Is(err, requests.ErrIllegalTransition) {
        // 409
    }
*/
package requests

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDateRequired is returned when a day-off request carries no date.
	ErrDateRequired = errors.New("day off date required")

	// ErrDateNotInFuture is returned when a day-off date is today or earlier.
	ErrDateNotInFuture = errors.New("day off date must be in the future")

	// ErrCycleLimit is returned when a driver already holds the maximum number
	// of active day-off requests in the billing cycle.
	ErrCycleLimit = errors.New("cycle limit exceeded")

	// ErrDayCapacity is returned when the calendar day is fully booked.
	ErrDayCapacity = errors.New("day capacity exceeded")

	// ErrDuplicateDate is returned when the driver already has an active
	// request for the same day.
	ErrDuplicateDate = errors.New("duplicate request for this date")

	// ErrIllegalTransition is returned for any status change the lifecycle forbids.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrResponseFieldsMismatch is returned when admin_response and
	// responded_at are not written together.
	ErrResponseFieldsMismatch = errors.New("admin response and responded_at must be set together")

	// ErrConcurrentModification is returned when a compare-and-set status
	// update finds the row in a different status than expected.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrUnknownRequestType is returned when a request type is not registered.
	ErrUnknownRequestType = errors.New("unknown request type")

	// ErrInvalidRequest is returned for malformed input other than day-off dates.
	ErrInvalidRequest = errors.New("invalid request")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RejectionReason names which admission check failed.
type RejectionReason string

const (
	ReasonDateRequired    RejectionReason = "date_required"
	ReasonDateNotInFuture RejectionReason = "date_not_in_future"
	ReasonCycleLimit      RejectionReason = "cycle_limit"
	ReasonDayCapacity     RejectionReason = "day_capacity"
	ReasonDuplicateDate   RejectionReason = "duplicate_date"
)

var reasonErrors = map[RejectionReason]error{
	ReasonDateRequired:    ErrDateRequired,
	ReasonDateNotInFuture: ErrDateNotInFuture,
	ReasonCycleLimit:      ErrCycleLimit,
	ReasonDayCapacity:     ErrDayCapacity,
	ReasonDuplicateDate:   ErrDuplicateDate,
}

// RejectionError describes why a day-off request was not admitted.
// Message is written for the driver and always names the limit, date or
// cycle involved.
type RejectionError struct {
	Reason  RejectionReason
	Message string
	Date    *Day
	Cycle   *BillingCycle
}

func (e *RejectionError) Error() string { return e.Message }

func (e *RejectionError) Unwrap() error { return reasonErrors[e.Reason] }

// TransitionError provides details about a forbidden status change.
type TransitionError struct {
	RequestID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("illegal status transition: %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("illegal status transition for request %s: %s -> %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRejection returns true if err is an admission rejection.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return IsRejection(err) ||
		errors.Is(err, ErrUnknownRequestType) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsConflict returns true if the request's current state forbids the operation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound)
}
