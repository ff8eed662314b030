/*
handlers.go - HTTP API handlers for driver requests

PURPOSE:
  Exposes the request service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to requests.Service.

ENDPOINTS:
  Requests:
    POST   /api/requests                Submit a request (day off, shift change, ...)
    GET    /api/requests                List requests (drivers see their own)
    GET    /api/requests/{id}           Get one request
    POST   /api/requests/{id}/respond   Administrator response

  Request types:
    GET    /api/request-types           List types with labels
    POST   /api/request-types           Register a type (admin)

  Day off:
    GET    /api/day-off/check?date=     Pre-submission validation
    GET    /api/day-off/capacity?date=  One day's capacity
    GET    /api/day-off/calendar?date=  Capacity for the cycle containing date (admin)

  Demo (admin, only with DemoScenarios):
    GET    /api/scenarios               List demo scenarios
    POST   /api/scenarios/load          Load one (see scenarios.go)

  Live feed:
    GET    /ws?token=                   WebSocket event stream

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown request type
  - 401/403: Missing token, wrong role
  - 404: Request not found
  - 409: Illegal transition, concurrent modification
  - 422: Day-off request not admitted (quota, duplicate, date)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Bearer token verification
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/driver-requests/notify"
	"github.com/warp/driver-requests/requests"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *requests.Service
	Auth    *Authenticator
	Hub     *notify.Hub // nil disables /ws
	Health  Pinger      // nil always reports ok
	Logger  *slog.Logger

	// DemoScenarios registers the scenario loader routes.
	DemoScenarios bool
}

func NewHandler(svc *requests.Service, auth *Authenticator, logger *slog.Logger) *Handler {
	return &Handler{Service: svc, Auth: auth, Logger: logger}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

func (h *Handler) ListRequestTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Service.RequestTypes(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list request types", err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) RegisterRequestType(w http.ResponseWriter, r *http.Request) {
	var req RegisterTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	info, err := h.Service.RegisterType(r.Context(), requests.RequestType(strings.TrimSpace(req.Code)), req.Label)
	if err != nil {
		h.fail(w, r, "Failed to register request type", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// =============================================================================
// DRIVER REQUESTS
// =============================================================================

// SubmitRequest files a request for the caller. Day-off requests that fail
// admission get 422 with the driver-facing message.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := requests.SubmitInput{
		DriverID:    caller.Subject,
		DriverName:  caller.Name,
		Type:        requests.RequestType(strings.TrimSpace(req.RequestType)),
		Subject:     req.Subject,
		Description: req.Description,
	}
	if caller.IsAdmin() && req.DriverID != "" {
		in.DriverID = req.DriverID
		in.DriverName = ""
	}
	if req.DriverName != "" {
		in.DriverName = req.DriverName
	}
	if req.DayOffDate != "" {
		day, err := requests.ParseDay(req.DayOffDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid day_off_date, expected YYYY-MM-DD", err)
			return
		}
		in.DayOffDate = &day
	}

	sub, err := h.Service.Submit(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to submit request", err)
		return
	}
	if !sub.Decision.Admitted {
		writeJSON(w, http.StatusUnprocessableEntity, toRejectionResponse(sub.Decision.Rejection))
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{
		Request:        toRequestDTO(sub.Request, h.Service.Types().Label(r.Context(), sub.Request.Type)),
		AutoApproved:   sub.AutoApproved,
		RemainingSlots: sub.RemainingSlots,
	})
}

// ListRequests returns a page of requests. Drivers only ever see their own.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	q := r.URL.Query()

	f := requests.Filter{
		DriverID: q.Get("driver_id"),
		Type:     requests.RequestType(q.Get("type")),
	}
	if !caller.IsAdmin() {
		f.DriverID = caller.Subject
	}
	if statuses := q.Get("status"); statuses != "" {
		for _, s := range strings.Split(statuses, ",") {
			st := requests.Status(strings.TrimSpace(s))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, "Invalid status filter", errors.New(string(st)))
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if date := q.Get("date"); date != "" {
		day, err := requests.ParseDay(date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
			return
		}
		f.Day = &day
	}
	var err error
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	f = f.Normalized()

	list, total, err := h.Service.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, "Failed to list requests", err)
		return
	}

	dtos := make([]RequestDTO, 0, len(list))
	for i := range list {
		dtos = append(dtos, toRequestDTO(&list[i], h.Service.Types().Label(r.Context(), list[i].Type)))
	}
	writeJSON(w, http.StatusOK, ListResponse{Requests: dtos, Total: total, Offset: f.Offset, Limit: f.Limit})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	req, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err == nil && !caller.IsAdmin() && req.DriverID != caller.Subject {
		err = requests.ErrRequestNotFound
	}
	if err != nil {
		h.fail(w, r, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req, h.Service.Types().Label(r.Context(), req.Type)))
}

// RespondToRequest applies an administrator's status change.
func (h *Handler) RespondToRequest(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Service.Respond(r.Context(), chi.URLParam(r, "id"), requests.Response{
		Status:      requests.Status(strings.TrimSpace(req.Status)),
		Message:     req.AdminResponse,
		ResponderID: caller.Subject,
	})
	if err != nil {
		h.fail(w, r, "Failed to respond to request", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated, h.Service.Types().Label(r.Context(), updated.Type)))
}

// =============================================================================
// DAY-OFF VIEWS
// =============================================================================

// CheckDayOff reports whether the caller could take ?date= off right now.
// A missing date is reported in the body, like any other failed check.
func (h *Handler) CheckDayOff(w http.ResponseWriter, r *http.Request) {
	caller, _ := IdentityFrom(r.Context())
	driverID := caller.Subject
	if caller.IsAdmin() && r.URL.Query().Get("driver_id") != "" {
		driverID = r.URL.Query().Get("driver_id")
	}

	var date *requests.Day
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err := requests.ParseDay(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
			return
		}
		date = &day
	}

	v, err := h.Service.CheckDayOff(r.Context(), driverID, date)
	if err != nil {
		h.fail(w, r, "Failed to check day off", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) DayCapacity(w http.ResponseWriter, r *http.Request) {
	day, err := requests.ParseDay(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return
	}
	dc, err := h.Service.DayCapacity(r.Context(), day)
	if err != nil {
		h.fail(w, r, "Failed to get capacity", err)
		return
	}
	writeJSON(w, http.StatusOK, toCapacityDTO(dc))
}

// CycleCalendar returns capacity for the billing cycle containing ?date=,
// or the current cycle when no date is given.
func (h *Handler) CycleCalendar(w http.ResponseWriter, r *http.Request) {
	day := h.Service.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		var err error
		if day, err = requests.ParseDay(raw); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
			return
		}
	}
	cycle := requests.CycleContaining(day)

	calendar, err := h.Service.CycleCalendar(r.Context(), cycle)
	if err != nil {
		h.fail(w, r, "Failed to build calendar", err)
		return
	}
	days := make([]CapacityDTO, 0, len(calendar))
	for _, dc := range calendar {
		days = append(days, toCapacityDTO(dc))
	}
	writeJSON(w, http.StatusOK, CalendarResponse{
		Cycle:       cycle,
		Days:        days,
		Utilization: requests.CycleUtilization(calendar),
	})
}

// =============================================================================
// LIVE FEED
// =============================================================================

// ServeWS authenticates ?token= and attaches the socket to the hub.
// Browsers can't set headers on WebSocket handshakes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeError(w, http.StatusNotFound, "Live feed disabled", nil)
		return
	}
	id, err := h.Auth.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid token", err)
		return
	}
	h.Hub.Serve(w, r, notify.Subscriber{ID: id.Subject, Admin: id.IsAdmin()})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case requests.IsRejection(err), errors.Is(err, requests.ErrDuplicateDate):
		return http.StatusUnprocessableEntity
	case requests.IsNotFound(err):
		return http.StatusNotFound
	case requests.IsConflict(err):
		return http.StatusConflict
	case requests.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// their details withheld.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.ErrorContext(r.Context(), message, "path", r.URL.Path, "error", err)
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
