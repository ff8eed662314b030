/*
Package requests provides the driver request engine.

PURPOSE:
  Drivers file requests (shift changes, days off, administrator-defined
  types) and administrators resolve them. Day-off requests are admitted
  against two quotas: a global cap per calendar day and a per-driver cap per
  billing cycle (26th to 25th). Requests that clear both quotas at
  submission are approved immediately.

KEY CONCEPTS IN THIS FILE (types.go):
  - DriverRequest: The persisted request entity
  - Status: pending, in_progress, approved, rejected
  - RequestType: Open set of categorical tags, day_off is special-cased
  - Active: A status that counts against capacity

SEE ALSO:
  - cycle.go: Billing cycle math
  - admission.go: Day-off quota checks
  - lifecycle.go: Status transitions
  - service.go: Submission and administrator responses
  - store.go: Persistence interfaces
*/
package requests

import "time"

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// ActiveStatuses count against day and cycle capacity. Rejected requests never do.
var ActiveStatuses = []Status{StatusPending, StatusInProgress, StatusApproved}

// IsActive reports whether s counts against capacity.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusApproved
}

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.IsActive() || s == StatusRejected
}

// =============================================================================
// REQUEST TYPE
// =============================================================================

// RequestType is a categorical tag. Built-in types are declared here;
// administrators can register more at runtime through the type registry.
type RequestType string

const (
	TypeDayOff      RequestType = "day_off"
	TypeShiftChange RequestType = "shift_change"
	TypeOther       RequestType = "other"
)

// IsDayOff is the only type distinction the admission logic makes.
func (t RequestType) IsDayOff() bool { return t == TypeDayOff }

// =============================================================================
// DRIVER REQUEST
// =============================================================================

type DriverRequest struct {
	ID          string      `json:"id"`
	RequestNo   string      `json:"request_no,omitempty"`
	DriverID    string      `json:"driver_id"`
	DriverName  string      `json:"driver_name,omitempty"`
	Type        RequestType `json:"request_type"`
	Subject     string      `json:"subject"`
	Description string      `json:"description,omitempty"`

	// DayOffDate is set for every day-off request created by this system.
	// Rows imported from the previous system may only carry the date inside
	// Subject.
	DayOffDate *Day `json:"day_off_date,omitempty"`

	Status Status `json:"status"`

	// Response fields are written together or not at all.
	AdminResponse *string    `json:"admin_response,omitempty"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
	RespondedBy   *string    `json:"responded_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EffectiveDayOffDate returns the typed date, falling back to the date
// embedded in Subject.
func (r *DriverRequest) EffectiveDayOffDate() (Day, bool) {
	if !r.Type.IsDayOff() {
		return Day{}, false
	}
	if r.DayOffDate != nil {
		return *r.DayOffDate, true
	}
	return ExtractDayOffDate(r.Subject)
}

// IsDayOffOn reports whether r is a day-off request for d. Rows without a
// typed date match when their subject contains d's label, which is how the
// stores match them in SQL.
func (r *DriverRequest) IsDayOffOn(d Day) bool {
	if !r.Type.IsDayOff() {
		return false
	}
	if r.DayOffDate != nil {
		return r.DayOffDate.Equal(d)
	}
	return SubjectMentions(r.Subject, d)
}

// HasResponse reports whether an administrator (or auto-approval) resolved the request.
func (r *DriverRequest) HasResponse() bool {
	return r.AdminResponse != nil && r.RespondedAt != nil
}
