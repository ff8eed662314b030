package requests_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/driver-requests/requests"
	"github.com/warp/driver-requests/requests/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	fixedNow = time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	jan15    = requests.NewDay(2025, 1, 15)
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []requests.Event
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, e requests.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) Events() []requests.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]requests.Event(nil), n.events...)
}

type fixture struct {
	svc      *requests.Service
	store    *store.Memory
	notifier *recordingNotifier
}

func newFixture(t *testing.T, limits requests.Limits) *fixture {
	t.Helper()
	mem := store.NewMemory()
	notifier := &recordingNotifier{}
	svc := requests.NewService(mem, limits,
		requests.WithClock(func() time.Time { return fixedNow }),
		requests.WithNotifier(notifier),
	)
	return &fixture{svc: svc, store: mem, notifier: notifier}
}

func defaultLimits() requests.Limits {
	return requests.Limits{MaxPerDay: 40, MaxPerCycle: 2}
}

func dayOff(driverID string, d requests.Day) requests.SubmitInput {
	return requests.SubmitInput{DriverID: driverID, DriverName: "Driver " + driverID, Type: requests.TypeDayOff, DayOffDate: &d}
}

func (f *fixture) submit(t *testing.T, in requests.SubmitInput) *requests.Submission {
	t.Helper()
	sub, err := f.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	return sub
}

func dayPtr(d requests.Day) *requests.Day { return &d }

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_DayOffAutoApproved(t *testing.T) {
	f := newFixture(t, defaultLimits())

	// WHEN a driver asks for a free day
	sub := f.submit(t, dayOff("drv-1", jan15))

	// THEN the request is approved by the system at once
	require.True(t, sub.Decision.Admitted)
	require.True(t, sub.AutoApproved)
	r := sub.Request
	require.NotNil(t, r)
	assert.Equal(t, "DR-000001", r.RequestNo)
	assert.Equal(t, requests.StatusApproved, r.Status)
	assert.Equal(t, "Day Off Request - 15 Jan 2025", r.Subject)
	require.NotNil(t, r.DayOffDate)
	assert.Equal(t, jan15, *r.DayOffDate)
	require.NotNil(t, r.AdminResponse)
	assert.Equal(t, requests.AutoApprovalResponse, *r.AdminResponse)
	require.NotNil(t, r.RespondedBy)
	assert.Equal(t, requests.SystemResponder, *r.RespondedBy)
	require.NotNil(t, r.RespondedAt)
	assert.True(t, r.RespondedAt.Equal(fixedNow))
	require.NotNil(t, sub.RemainingSlots)
	assert.Equal(t, 39, *sub.RemainingSlots)

	// AND the stored row matches
	stored, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusApproved, stored.Status)
	assert.True(t, stored.HasResponse())

	// AND both events were published
	events := f.notifier.Events()
	require.Len(t, events, 2)
	created, ok := events[0].(requests.RequestCreated)
	require.True(t, ok)
	assert.Equal(t, r.ID, created.RequestID)
	approved, ok := events[1].(requests.DayOffAutoApproved)
	require.True(t, ok)
	assert.Equal(t, 39, approved.RemainingSlots)
	assert.Equal(t, jan15, approved.DayOffDate)
}

func TestSubmit_DayOffSubjectIsGenerated(t *testing.T) {
	f := newFixture(t, defaultLimits())
	in := dayOff("drv-1", jan15)
	in.Subject = "please"

	sub := f.submit(t, in)
	assert.Equal(t, requests.DayOffSubject(jan15), sub.Request.Subject)
}

func TestSubmit_CycleLimit(t *testing.T) {
	f := newFixture(t, defaultLimits())

	// GIVEN two approved days in the cycle 26 Dec 2024 - 25 Jan 2025
	f.submit(t, dayOff("drv-1", jan15))
	f.submit(t, dayOff("drv-1", requests.NewDay(2025, 1, 20)))

	// WHEN asking for a third day in the same cycle
	sub := f.submit(t, dayOff("drv-1", requests.NewDay(2025, 1, 25)))

	// THEN it is rejected without writing anything
	assert.False(t, sub.Decision.Admitted)
	assert.Nil(t, sub.Request)
	require.NotNil(t, sub.Decision.Rejection)
	assert.Equal(t, requests.ReasonCycleLimit, sub.Decision.Rejection.Reason)
	assert.Contains(t, sub.Decision.Rejection.Message, "26 Dec 2024 - 25 Jan 2025")

	_, total, err := f.store.List(context.Background(), requests.Filter{DriverID: "drv-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// AND the next cycle is open again
	next := f.submit(t, dayOff("drv-1", requests.NewDay(2025, 1, 26)))
	assert.True(t, next.AutoApproved)

	// AND other drivers are unaffected
	other := f.submit(t, dayOff("drv-2", requests.NewDay(2025, 1, 25)))
	assert.True(t, other.AutoApproved)
}

func TestSubmit_DayCapacity(t *testing.T) {
	f := newFixture(t, requests.Limits{MaxPerDay: 3, MaxPerCycle: 2})

	for i := 1; i <= 3; i++ {
		sub := f.submit(t, dayOff(fmt.Sprintf("drv-%d", i), jan15))
		require.True(t, sub.AutoApproved)
		assert.Equal(t, 3-i, *sub.RemainingSlots)
	}

	sub := f.submit(t, dayOff("drv-4", jan15))
	assert.False(t, sub.Decision.Admitted)
	assert.Equal(t, requests.ReasonDayCapacity, sub.Decision.Rejection.Reason)
	assert.Equal(t, "All 3 day off slots for 15 Jan 2025 are taken.", sub.Decision.Rejection.Message)

	// Another day is still open.
	assert.True(t, f.submit(t, dayOff("drv-4", jan15.AddDays(1))).AutoApproved)
}

func TestSubmit_DuplicateDate(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.submit(t, dayOff("drv-1", jan15))

	sub := f.submit(t, dayOff("drv-1", jan15))
	assert.False(t, sub.Decision.Admitted)
	assert.Equal(t, requests.ReasonDuplicateDate, sub.Decision.Rejection.Reason)
	assert.ErrorIs(t, sub.Decision.Rejection, requests.ErrDuplicateDate)
}

func TestSubmit_DateValidation(t *testing.T) {
	f := newFixture(t, defaultLimits())

	tests := []struct {
		name   string
		date   *requests.Day
		reason requests.RejectionReason
	}{
		{"missing", nil, requests.ReasonDateRequired},
		{"today", dayPtr(requests.DayOf(fixedNow)), requests.ReasonDateNotInFuture},
		{"yesterday", dayPtr(requests.NewDay(2025, 1, 9)), requests.ReasonDateNotInFuture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := f.submit(t, requests.SubmitInput{DriverID: "drv-1", Type: requests.TypeDayOff, DayOffDate: tt.date})
			assert.False(t, sub.Decision.Admitted)
			assert.Equal(t, tt.reason, sub.Decision.Rejection.Reason)
		})
	}

	tomorrow := f.submit(t, dayOff("drv-1", requests.NewDay(2025, 1, 11)))
	assert.True(t, tomorrow.AutoApproved)
	assert.Len(t, f.notifier.Events(), 2, "only the admitted request publishes")
}

func TestSubmit_RejectedRowsDoNotCount(t *testing.T) {
	f := newFixture(t, requests.Limits{MaxPerDay: 1, MaxPerCycle: 2})
	created := fixedNow.Add(-24 * time.Hour)

	// GIVEN rejected requests for the same driver and day
	require.NoError(t, f.store.Seed(
		requests.DriverRequest{ID: "old-1", DriverID: "drv-1", Type: requests.TypeDayOff,
			Subject: requests.DayOffSubject(jan15), DayOffDate: dayPtr(jan15), Status: requests.StatusRejected, CreatedAt: created},
		requests.DriverRequest{ID: "old-2", DriverID: "drv-1", Type: requests.TypeDayOff,
			Subject: requests.DayOffSubject(jan15.AddDays(1)), DayOffDate: dayPtr(jan15.AddDays(1)), Status: requests.StatusRejected, CreatedAt: created},
	))

	// WHEN resubmitting
	sub := f.submit(t, dayOff("drv-1", jan15))

	// THEN neither the cycle, the day nor the duplicate check sees them
	assert.True(t, sub.AutoApproved)
	assert.Equal(t, 0, *sub.RemainingSlots)
}

func TestSubmit_ConcurrentAdmissionsNeverOverbook(t *testing.T) {
	f := newFixture(t, defaultLimits())

	const drivers = 41
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected []requests.RejectionReason
	)
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := f.svc.Submit(context.Background(), dayOff(fmt.Sprintf("drv-%02d", i), jan15))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if sub.AutoApproved {
				admitted++
			} else {
				rejected = append(rejected, sub.Decision.Rejection.Reason)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 40, admitted)
	assert.Equal(t, []requests.RejectionReason{requests.ReasonDayCapacity}, rejected)

	n, err := f.store.CountActiveForDate(context.Background(), jan15)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
}

func TestSubmit_OtherTypesStayPending(t *testing.T) {
	f := newFixture(t, defaultLimits())

	sub := f.submit(t, requests.SubmitInput{
		DriverID: "drv-1",
		Type:     requests.TypeShiftChange,
		Subject:  "  Swap Tuesday for Thursday  ",
	})

	require.NotNil(t, sub.Request)
	assert.False(t, sub.AutoApproved)
	assert.Nil(t, sub.RemainingSlots)
	assert.Equal(t, requests.StatusPending, sub.Request.Status)
	assert.Equal(t, "Swap Tuesday for Thursday", sub.Request.Subject)
	assert.Nil(t, sub.Request.DayOffDate)
	assert.Nil(t, sub.Request.AdminResponse)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, requests.EventRequestCreated, events[0].EventType())
}

func TestSubmit_InvalidInput(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, requests.SubmitInput{DriverID: "drv-1", Type: "vacation", Subject: "x"})
	assert.ErrorIs(t, err, requests.ErrUnknownRequestType)

	_, err = f.svc.Submit(ctx, requests.SubmitInput{DriverID: "drv-1", Type: requests.TypeOther, Subject: "   "})
	assert.ErrorIs(t, err, requests.ErrInvalidRequest)

	_, err = f.svc.Submit(ctx, requests.SubmitInput{Type: requests.TypeOther, Subject: "x"})
	assert.ErrorIs(t, err, requests.ErrInvalidRequest)

	assert.Empty(t, f.notifier.Events())
}

func TestSubmit_RegisteredType(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()

	_, err := f.svc.RegisterType(ctx, "vehicle_repair", " Vehicle Repair ")
	require.NoError(t, err)

	sub := f.submit(t, requests.SubmitInput{DriverID: "drv-1", Type: "vehicle_repair", Subject: "Brakes"})
	assert.Equal(t, requests.StatusPending, sub.Request.Status)
	assert.Equal(t, "Vehicle Repair", f.svc.Types().Label(ctx, "vehicle_repair"))
}

func TestSubmit_NotifierFailureDoesNotFailSubmission(t *testing.T) {
	f := newFixture(t, defaultLimits())
	f.notifier.err = errors.New("broker down")

	sub := f.submit(t, dayOff("drv-1", jan15))
	assert.True(t, sub.AutoApproved)

	stored, err := f.store.Get(context.Background(), sub.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusApproved, stored.Status)
}

// =============================================================================
// LEGACY ROWS
// =============================================================================

func TestSubmit_LegacySubjectRowsCount(t *testing.T) {
	f := newFixture(t, requests.Limits{MaxPerDay: 40, MaxPerCycle: 2})
	created := fixedNow.Add(-48 * time.Hour)

	// GIVEN imported rows carrying their date only in the subject
	require.NoError(t, f.store.Seed(
		requests.DriverRequest{ID: "legacy-1", DriverID: "drv-1", Type: requests.TypeDayOff,
			Subject: "Day Off Request - 20 Jan 2025", Status: requests.StatusApproved, CreatedAt: created},
		requests.DriverRequest{ID: "legacy-2", DriverID: "drv-1", Type: requests.TypeDayOff,
			Subject: "Day Off Request - soon", Status: requests.StatusPending, CreatedAt: created},
	))

	ctx := context.Background()
	n, err := f.store.CountInCycleForDriver(ctx, "drv-1", requests.CycleContaining(jan15))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unparseable subject is skipped")

	// WHEN the driver asks for the legacy date again
	dup := f.submit(t, dayOff("drv-1", requests.NewDay(2025, 1, 20)))

	// THEN the subject match finds it
	assert.Equal(t, requests.ReasonDuplicateDate, dup.Decision.Rejection.Reason)

	// AND one more day still fits the cycle, then the limit applies
	assert.True(t, f.submit(t, dayOff("drv-1", jan15)).AutoApproved)
	third := f.submit(t, dayOff("drv-1", requests.NewDay(2025, 1, 22)))
	assert.Equal(t, requests.ReasonCycleLimit, third.Decision.Rejection.Reason)
}

// =============================================================================
// ADMINISTRATOR RESPONSE
// =============================================================================

func TestRespond_Transitions(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()
	sub := f.submit(t, requests.SubmitInput{DriverID: "drv-1", Type: requests.TypeShiftChange, Subject: "Swap"})
	id := sub.Request.ID

	r, err := f.svc.Respond(ctx, id, requests.Response{Status: requests.StatusInProgress, ResponderID: "adm-1"})
	require.NoError(t, err)
	assert.Equal(t, requests.StatusInProgress, r.Status)
	assert.Equal(t, "Request is being processed", *r.AdminResponse)
	assert.Equal(t, "adm-1", *r.RespondedBy)

	r, err = f.svc.Respond(ctx, id, requests.Response{Status: requests.StatusApproved, Message: "Enjoy"})
	require.NoError(t, err)
	assert.Equal(t, "Enjoy", *r.AdminResponse)
	assert.Equal(t, "admin", *r.RespondedBy)
	require.NotNil(t, r.RespondedAt)

	_, err = f.svc.Respond(ctx, id, requests.Response{Status: requests.StatusRejected})
	assert.ErrorIs(t, err, requests.ErrIllegalTransition)

	stored, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusApproved, stored.Status)

	var responded []requests.RequestResponded
	for _, e := range f.notifier.Events() {
		if rr, ok := e.(requests.RequestResponded); ok {
			responded = append(responded, rr)
		}
	}
	require.Len(t, responded, 2)
	assert.Equal(t, "drv-1", responded[1].DriverID)
	assert.Equal(t, requests.StatusApproved, responded[1].Status)
}

func TestRespond_AutoApprovedIsTerminal(t *testing.T) {
	f := newFixture(t, defaultLimits())
	sub := f.submit(t, dayOff("drv-1", jan15))

	_, err := f.svc.Respond(context.Background(), sub.Request.ID, requests.Response{Status: requests.StatusRejected})
	assert.ErrorIs(t, err, requests.ErrIllegalTransition)
	assert.True(t, requests.IsConflict(err))
}

func TestRespond_Errors(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()

	_, err := f.svc.Respond(ctx, "missing", requests.Response{Status: requests.StatusApproved})
	assert.ErrorIs(t, err, requests.ErrRequestNotFound)

	_, err = f.svc.Respond(ctx, "missing", requests.Response{Status: "cancelled"})
	assert.ErrorIs(t, err, requests.ErrInvalidRequest)
}

// =============================================================================
// VALIDATION AND CAPACITY
// =============================================================================

func TestCheckDayOff(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()

	v, err := f.svc.CheckDayOff(ctx, "drv-1", dayPtr(jan15))
	require.NoError(t, err)
	assert.True(t, v.CanSubmit)
	assert.Nil(t, v.ErrorMessage)
	require.NotNil(t, v.AvailableSlots)
	assert.Equal(t, 40, *v.AvailableSlots)
	assert.Equal(t, 0, v.CycleRequestCount)
	require.NotNil(t, v.CycleRange)
	assert.Equal(t, requests.NewDay(2025, 1, 25), v.CycleRange.End)

	f.submit(t, dayOff("drv-1", jan15))
	f.submit(t, dayOff("drv-1", jan15.AddDays(1)))

	v, err = f.svc.CheckDayOff(ctx, "drv-1", dayPtr(jan15.AddDays(2)))
	require.NoError(t, err)
	assert.False(t, v.CanSubmit)
	require.NotNil(t, v.ErrorMessage)
	assert.Contains(t, *v.ErrorMessage, "limit of 2")
	assert.Equal(t, 2, v.CycleRequestCount)
	assert.Equal(t, 40, *v.AvailableSlots)

	// CheckDayOff never writes.
	_, total, err := f.svc.List(ctx, requests.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestCheckDayOff_PastDateStillReportsCounts(t *testing.T) {
	f := newFixture(t, defaultLimits())

	v, err := f.svc.CheckDayOff(context.Background(), "drv-1", dayPtr(requests.DayOf(fixedNow)))
	require.NoError(t, err)
	assert.False(t, v.CanSubmit)
	require.NotNil(t, v.AvailableSlots)
	assert.Equal(t, 40, *v.AvailableSlots)

	v, err = f.svc.CheckDayOff(context.Background(), "drv-1", nil)
	require.NoError(t, err)
	assert.False(t, v.CanSubmit)
	assert.Nil(t, v.AvailableSlots)
	assert.Nil(t, v.CycleRange)
}

func TestDayCapacity(t *testing.T) {
	f := newFixture(t, requests.Limits{MaxPerDay: 4, MaxPerCycle: 2})
	f.submit(t, dayOff("drv-1", jan15))

	dc, err := f.svc.DayCapacity(context.Background(), jan15)
	require.NoError(t, err)
	assert.Equal(t, 1, dc.Active)
	assert.Equal(t, 3, dc.Remaining)
	assert.True(t, dc.Utilization.Equal(decimal.RequireFromString("0.25")), dc.Utilization.String())
	assert.False(t, dc.IsFull())
}

func TestCycleCalendar(t *testing.T) {
	f := newFixture(t, requests.Limits{MaxPerDay: 4, MaxPerCycle: 2})
	f.submit(t, dayOff("drv-1", jan15))

	cycle := requests.CycleContaining(jan15)
	calendar, err := f.svc.CycleCalendar(context.Background(), cycle)
	require.NoError(t, err)
	require.Len(t, calendar, 31)
	assert.Equal(t, cycle.Start, calendar[0].Date)

	var busy int
	for _, dc := range calendar {
		busy += dc.Active
	}
	assert.Equal(t, 1, busy)
	assert.False(t, requests.CycleUtilization(calendar).IsZero())
}

// =============================================================================
// QUERIES
// =============================================================================

func TestList_Filters(t *testing.T) {
	f := newFixture(t, defaultLimits())
	ctx := context.Background()

	f.submit(t, dayOff("drv-1", jan15))
	f.submit(t, dayOff("drv-2", jan15))
	f.submit(t, requests.SubmitInput{DriverID: "drv-1", Type: requests.TypeShiftChange, Subject: "Swap"})

	rows, total, err := f.svc.List(ctx, requests.Filter{DriverID: "drv-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, rows, 2)

	_, total, err = f.svc.List(ctx, requests.Filter{Statuses: []requests.Status{requests.StatusPending}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, total, err = f.svc.List(ctx, requests.Filter{Day: dayPtr(jan15)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	rows, total, err = f.svc.List(ctx, requests.Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, rows, 1)
}
