package requests

import (
	"context"
	"time"
)

// =============================================================================
// EVENTS - Published after a request is committed
// =============================================================================

const (
	EventRequestCreated     = "request.created"
	EventDayOffAutoApproved = "dayoff.auto_approved"
	EventRequestResponded   = "request.responded"
)

// Event is anything a Notifier can publish.
type Event interface {
	EventType() string
}

// RequestCreated is emitted for every committed request, so a controller
// lookup and push delivery can happen elsewhere.
type RequestCreated struct {
	RequestID   string      `json:"request_id"`
	DriverID    string      `json:"driver_id"`
	DriverName  string      `json:"driver_name"`
	RequestType RequestType `json:"request_type"`
	Subject     string      `json:"subject"`
	At          time.Time   `json:"at"`
}

func (RequestCreated) EventType() string { return EventRequestCreated }

// DayOffAutoApproved is emitted in addition to RequestCreated when a
// day-off request was approved at submission.
type DayOffAutoApproved struct {
	RequestID      string    `json:"request_id"`
	DriverID       string    `json:"driver_id"`
	DayOffDate     Day       `json:"day_off_date"`
	RemainingSlots int       `json:"remaining_slots"`
	At             time.Time `json:"at"`
}

func (DayOffAutoApproved) EventType() string { return EventDayOffAutoApproved }

// RequestResponded is emitted when an administrator changes a request's status.
type RequestResponded struct {
	RequestID     string    `json:"request_id"`
	DriverID      string    `json:"driver_id"`
	Status        Status    `json:"status"`
	AdminResponse string    `json:"admin_response"`
	At            time.Time `json:"at"`
}

func (RequestResponded) EventType() string { return EventRequestResponded }

// Notifier publishes events. Publishing is best-effort: the Service logs
// failures and never rolls anything back because of them.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }
