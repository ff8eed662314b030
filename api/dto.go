/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

DATES:
  Calendar days travel as "YYYY-MM-DD" strings. Timestamps are RFC 3339.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/driver-requests/requests"
)

// =============================================================================
// REQUESTS
// =============================================================================

// SubmitRequest is the body of POST /api/requests. DriverID is only honored
// for administrators filing on a driver's behalf.
type SubmitRequest struct {
	DriverID    string `json:"driver_id,omitempty"`
	DriverName  string `json:"driver_name,omitempty"`
	RequestType string `json:"request_type"`
	Subject     string `json:"subject,omitempty"`
	Description string `json:"description,omitempty"`
	DayOffDate  string `json:"day_off_date,omitempty"`
}

// RespondRequest is the body of POST /api/requests/{id}/respond.
type RespondRequest struct {
	Status        string `json:"status"`
	AdminResponse string `json:"admin_response,omitempty"`
}

// RegisterTypeRequest is the body of POST /api/request-types.
type RegisterTypeRequest struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// RequestDTO represents a driver request in API responses.
type RequestDTO struct {
	ID            string     `json:"id"`
	RequestNo     string     `json:"request_no"`
	DriverID      string     `json:"driver_id"`
	DriverName    string     `json:"driver_name,omitempty"`
	RequestType   string     `json:"request_type"`
	TypeLabel     string     `json:"type_label"`
	Subject       string     `json:"subject"`
	Description   string     `json:"description,omitempty"`
	DayOffDate    string     `json:"day_off_date,omitempty"`
	Status        string     `json:"status"`
	AdminResponse *string    `json:"admin_response,omitempty"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
	RespondedBy   *string    `json:"responded_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SubmitResponse is returned with 201 when a request was stored.
type SubmitResponse struct {
	Request        RequestDTO `json:"request"`
	AutoApproved   bool       `json:"auto_approved"`
	RemainingSlots *int       `json:"remaining_slots,omitempty"`
}

// RejectionResponse is returned with 422 when a day-off request was not admitted.
type RejectionResponse struct {
	Error  string                 `json:"error"`
	Reason string                 `json:"reason"`
	Date   string                 `json:"date,omitempty"`
	Cycle  *requests.BillingCycle `json:"cycle,omitempty"`
}

// ListResponse wraps a page of requests.
type ListResponse struct {
	Requests []RequestDTO `json:"requests"`
	Total    int          `json:"total"`
	Offset   int          `json:"offset"`
	Limit    int          `json:"limit"`
}

// =============================================================================
// DAY-OFF VIEWS
// =============================================================================

// CapacityDTO is one calendar day against the daily quota.
type CapacityDTO struct {
	Date        string          `json:"date"`
	Active      int             `json:"active"`
	Max         int             `json:"max"`
	Remaining   int             `json:"remaining"`
	Utilization decimal.Decimal `json:"utilization"`
}

// CalendarResponse covers every day of one billing cycle.
type CalendarResponse struct {
	Cycle       requests.BillingCycle `json:"cycle"`
	Days        []CapacityDTO         `json:"days"`
	Utilization decimal.Decimal       `json:"utilization"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toRequestDTO(r *requests.DriverRequest, label string) RequestDTO {
	dto := RequestDTO{
		ID:            r.ID,
		RequestNo:     r.RequestNo,
		DriverID:      r.DriverID,
		DriverName:    r.DriverName,
		RequestType:   string(r.Type),
		TypeLabel:     label,
		Subject:       r.Subject,
		Description:   r.Description,
		Status:        string(r.Status),
		AdminResponse: r.AdminResponse,
		RespondedAt:   r.RespondedAt,
		RespondedBy:   r.RespondedBy,
		CreatedAt:     r.CreatedAt,
	}
	if d, ok := r.EffectiveDayOffDate(); ok {
		dto.DayOffDate = d.String()
	}
	return dto
}

func toCapacityDTO(dc requests.DayCapacity) CapacityDTO {
	return CapacityDTO{
		Date:        dc.Date.String(),
		Active:      dc.Active,
		Max:         dc.Max,
		Remaining:   dc.Remaining,
		Utilization: dc.Utilization,
	}
}

func toRejectionResponse(rej *requests.RejectionError) RejectionResponse {
	resp := RejectionResponse{
		Error:  rej.Message,
		Reason: string(rej.Reason),
		Cycle:  rej.Cycle,
	}
	if rej.Date != nil {
		resp.Date = rej.Date.String()
	}
	return resp
}
