/*
service.go - Driver request lifecycle

PURPOSE:
  Orchestrates the full lifecycle of a driver request:
  1. Submission: Validate type and input, admit day-off requests
  2. Auto-approval: Day-off requests that clear quota are approved at once
  3. Response: Administrators move requests through the lifecycle
  4. Notification: Events are published after commit, best-effort

REQUEST FLOW:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │  Driver       ┌──────────── WithTx ─────────────┐    Publish    │
  │  submits ──▶  │ admission ──▶ insert ──▶ recount│ ──▶ events    │
  │               │    │                  │         │               │
  │               │ rejected        ≤ MaxPerDay     │               │
  │               │ (no write)      ──▶ approved    │               │
  │               └─────────────────────────────────┘               │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

  Non day-off requests skip admission and stay pending until an
  administrator responds.

EXAMPLE:
  svc := requests.NewService(repo, requests.Limits{MaxPerDay: 40, MaxPerCycle: 2})
  sub, err := svc.Submit(ctx, requests.SubmitInput{
      DriverID:   "drv-17",
      Type:       requests.TypeDayOff,
      DayOffDate: &day,
  })
  if err == nil && !sub.Decision.Admitted {
      fmt.Println(sub.Decision.Rejection.Message)
  }
*/
package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AutoApprovalResponse is the admin response written by auto-approval.
const AutoApprovalResponse = "Auto-approved: day off quota available"

// SystemResponder identifies responses not made by a person.
const SystemResponder = "system"

// Limits are the two day-off quotas, fixed at startup.
type Limits struct {
	MaxPerDay   int
	MaxPerCycle int
}

// Validate rejects non-positive limits.
func (l Limits) Validate() error {
	if l.MaxPerDay <= 0 || l.MaxPerCycle <= 0 {
		return fmt.Errorf("day off limits must be positive (per day %d, per cycle %d)", l.MaxPerDay, l.MaxPerCycle)
	}
	return nil
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	repo      Repository
	types     *TypeRegistry
	admission AdmissionController
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	notifyTimeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

func WithNotifier(n Notifier) Option        { return func(s *Service) { s.notifier = n } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

func NewService(repo Repository, limits Limits, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		types:         NewTypeRegistry(repo),
		admission:     AdmissionController{MaxPerDay: limits.MaxPerDay, MaxPerCycle: limits.MaxPerCycle},
		notifier:      NopNotifier{},
		logger:        slog.Default(),
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
		notifyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.types.now = s.now
	return s
}

// Limits returns the configured quotas.
func (s *Service) Limits() Limits {
	return Limits{MaxPerDay: s.admission.MaxPerDay, MaxPerCycle: s.admission.MaxPerCycle}
}

// Today is the current calendar day by the service clock.
func (s *Service) Today() Day { return DayOf(s.now()) }

// Types exposes the request type registry.
func (s *Service) Types() *TypeRegistry { return s.types }

// =============================================================================
// SUBMISSION
// =============================================================================

type SubmitInput struct {
	DriverID    string
	DriverName  string
	Type        RequestType
	Subject     string // ignored for day-off requests
	Description string
	DayOffDate  *Day
}

// Submission is the result of Submit. Request is nil when the day-off
// admission check rejected the request.
type Submission struct {
	Request      *DriverRequest
	Decision     Decision
	AutoApproved bool

	// RemainingSlots counts the day's free slots after this request was
	// approved. Nil unless AutoApproved.
	RemainingSlots *int
}

// Submit validates and stores a request. Quota rejections are reported in
// Submission.Decision with a nil error; errors are invalid input or
// persistence failures.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Submission, error) {
	in.DriverID = strings.TrimSpace(in.DriverID)
	in.Subject = strings.TrimSpace(in.Subject)
	if in.DriverID == "" {
		return nil, fmt.Errorf("%w: driver id required", ErrInvalidRequest)
	}

	if _, ok, err := s.types.Lookup(ctx, in.Type); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequestType, in.Type)
	}

	if !in.Type.IsDayOff() && in.Subject == "" {
		return nil, fmt.Errorf("%w: subject required", ErrInvalidRequest)
	}

	now := s.now()
	request := &DriverRequest{
		ID:          s.newID(),
		DriverID:    in.DriverID,
		DriverName:  in.DriverName,
		Type:        in.Type,
		Subject:     in.Subject,
		Description: in.Description,
		Status:      StatusPending,
		CreatedAt:   now.UTC(),
	}

	sub := &Submission{}

	err := s.repo.WithTx(ctx, func(tx Store) error {
		if in.Type.IsDayOff() {
			decision, err := s.admission.Evaluate(ctx, tx, in.DriverID, in.DayOffDate, DayOf(now))
			if err != nil {
				return err
			}
			sub.Decision = decision
			if !decision.Admitted {
				return nil
			}
			day := *decision.Date
			request.DayOffDate = &day
			request.Subject = DayOffSubject(day)
		} else {
			sub.Decision = Decision{Admitted: true}
		}

		if err := tx.Create(ctx, request); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		if !in.Type.IsDayOff() {
			return nil
		}

		after, err := tx.CountActiveForDate(ctx, *request.DayOffDate)
		if err != nil {
			return fmt.Errorf("failed to recount day requests: %w", err)
		}
		if after > s.admission.MaxPerDay {
			return nil
		}

		response := AutoApprovalResponse
		responder := SystemResponder
		respondedAt := now.UTC()
		update := StatusUpdate{
			ID:            request.ID,
			From:          StatusPending,
			To:            StatusApproved,
			AdminResponse: &response,
			RespondedAt:   &respondedAt,
			RespondedBy:   &responder,
		}
		if err := tx.UpdateStatus(ctx, update); err != nil {
			return fmt.Errorf("failed to auto-approve request: %w", err)
		}
		update.Apply(request)
		sub.AutoApproved = true
		sub.RemainingSlots = intPtr(s.admission.MaxPerDay - after)
		return nil
	})
	if err != nil {
		s.logger.Error("request submission failed",
			"driver_id", in.DriverID, "request_type", in.Type, "error", err)
		return nil, err
	}

	if !sub.Decision.Admitted {
		s.logger.Info("day off request rejected",
			"driver_id", in.DriverID, "reason", sub.Decision.Rejection.Reason)
		return sub, nil
	}

	sub.Request = request
	s.logger.Info("request created",
		"request_id", request.ID, "request_no", request.RequestNo, "driver_id", request.DriverID,
		"request_type", request.Type, "status", request.Status)

	s.publish(ctx, RequestCreated{
		RequestID:   request.ID,
		DriverID:    request.DriverID,
		DriverName:  request.DriverName,
		RequestType: request.Type,
		Subject:     request.Subject,
		At:          request.CreatedAt,
	})
	if sub.AutoApproved {
		s.publish(ctx, DayOffAutoApproved{
			RequestID:      request.ID,
			DriverID:       request.DriverID,
			DayOffDate:     *request.DayOffDate,
			RemainingSlots: *sub.RemainingSlots,
			At:             *request.RespondedAt,
		})
	}
	return sub, nil
}

// =============================================================================
// VALIDATION - What the submission form shows before submitting
// =============================================================================

// Validation is the caller-facing result of a day-off pre-check.
// AvailableSlots is nil when it could not be determined.
type Validation struct {
	CanSubmit         bool          `json:"can_submit"`
	ErrorMessage      *string       `json:"error_message"`
	AvailableSlots    *int          `json:"available_slots"`
	CycleRequestCount int           `json:"cycle_request_count"`
	CycleRange        *BillingCycle `json:"cycle_range"`
}

// CheckDayOff runs the admission checks without writing anything. The result
// is advisory: Submit re-checks inside its own transaction.
func (s *Service) CheckDayOff(ctx context.Context, driverID string, date *Day) (*Validation, error) {
	decision, err := s.admission.Evaluate(ctx, s.repo, driverID, date, DayOf(s.now()))
	if err != nil {
		return nil, err
	}

	v := &Validation{CanSubmit: decision.Admitted, CycleRange: decision.Cycle}
	if decision.CycleCount != nil {
		v.CycleRequestCount = *decision.CycleCount
	} else if decision.Cycle != nil {
		n, err := s.repo.CountInCycleForDriver(ctx, driverID, *decision.Cycle)
		if err != nil {
			return nil, fmt.Errorf("failed to count cycle requests: %w", err)
		}
		v.CycleRequestCount = n
	}

	switch {
	case decision.RemainingSlots != nil:
		v.AvailableSlots = decision.RemainingSlots
	case decision.DayCount != nil:
		v.AvailableSlots = intPtr(s.admission.MaxPerDay - *decision.DayCount)
	case decision.Date != nil:
		n, err := s.repo.CountActiveForDate(ctx, *decision.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to count day requests: %w", err)
		}
		v.AvailableSlots = intPtr(s.admission.MaxPerDay - n)
	}

	if decision.Rejection != nil {
		msg := decision.Rejection.Message
		v.ErrorMessage = &msg
	}
	return v, nil
}

// =============================================================================
// ADMINISTRATOR RESPONSE
// =============================================================================

type Response struct {
	Status      Status
	Message     string
	ResponderID string
}

// Respond applies an administrator's decision. The admin response and the
// response timestamp are always written together; an empty message gets a
// default text.
func (s *Service) Respond(ctx context.Context, id string, resp Response) (*DriverRequest, error) {
	if !resp.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, resp.Status)
	}

	request, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ValidateTransition(request.ID, request.Status, resp.Status); err != nil {
		return nil, err
	}

	message := strings.TrimSpace(resp.Message)
	if message == "" {
		message = defaultResponse(resp.Status)
	}
	responder := resp.ResponderID
	if responder == "" {
		responder = "admin"
	}
	respondedAt := s.now().UTC()

	update := StatusUpdate{
		ID:            request.ID,
		From:          request.Status,
		To:            resp.Status,
		AdminResponse: &message,
		RespondedAt:   &respondedAt,
		RespondedBy:   &responder,
	}
	if err := s.repo.UpdateStatus(ctx, update); err != nil {
		if !errors.Is(err, ErrConcurrentModification) {
			err = fmt.Errorf("failed to update request status: %w", err)
		}
		return nil, err
	}
	update.Apply(request)

	s.logger.Info("request responded",
		"request_id", request.ID, "driver_id", request.DriverID,
		"status", request.Status, "responded_by", responder)

	s.publish(ctx, RequestResponded{
		RequestID:     request.ID,
		DriverID:      request.DriverID,
		Status:        request.Status,
		AdminResponse: message,
		At:            respondedAt,
	})
	return request, nil
}

func defaultResponse(status Status) string {
	switch status {
	case StatusApproved:
		return "Request approved"
	case StatusRejected:
		return "Request rejected"
	case StatusInProgress:
		return "Request is being processed"
	default:
		return "Status changed to " + string(status)
	}
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id string) (*DriverRequest, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]DriverRequest, int, error) {
	return s.repo.List(ctx, f.Normalized())
}

func (s *Service) RequestTypes(ctx context.Context) ([]TypeInfo, error) {
	return s.types.List(ctx)
}

func (s *Service) RegisterType(ctx context.Context, code RequestType, label string) (TypeInfo, error) {
	info, err := s.types.Register(ctx, code, strings.TrimSpace(label))
	if err != nil {
		return TypeInfo{}, err
	}
	s.logger.Info("request type registered", "code", info.Code, "label", info.Label)
	return info, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) publish(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()
	if err := s.notifier.Publish(ctx, e); err != nil {
		s.logger.Warn("notification failed", "event", e.EventType(), "error", err)
	}
}

func intPtr(n int) *int { return &n }
