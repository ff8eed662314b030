package requests

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore answers the admission queries from fixed numbers and
// records the lock keys it was asked for.
type countingStore struct {
	dayCount   int
	cycleCount int
	exists     bool
	err        error

	locks []string
	calls []string
}

func (s *countingStore) CountActiveForDate(context.Context, Day) (int, error) {
	s.calls = append(s.calls, "day")
	return s.dayCount, s.err
}

func (s *countingStore) HasExistingForDriverAndDate(context.Context, string, Day) (bool, error) {
	s.calls = append(s.calls, "existing")
	return s.exists, s.err
}

func (s *countingStore) CountInCycleForDriver(context.Context, string, BillingCycle) (int, error) {
	s.calls = append(s.calls, "cycle")
	return s.cycleCount, s.err
}

func (s *countingStore) Create(context.Context, *DriverRequest) error     { return nil }
func (s *countingStore) UpdateStatus(context.Context, StatusUpdate) error { return nil }
func (s *countingStore) Get(context.Context, string) (*DriverRequest, error) {
	return nil, ErrRequestNotFound
}
func (s *countingStore) List(context.Context, Filter) ([]DriverRequest, int, error) {
	return nil, 0, nil
}

func (s *countingStore) LockKey(_ context.Context, key string) error {
	s.locks = append(s.locks, key)
	return nil
}

var (
	admissionToday = NewDay(2025, 1, 10)
	admissionDate  = NewDay(2025, 1, 15)
	admission      = AdmissionController{MaxPerDay: 40, MaxPerCycle: 2}
)

func TestEvaluate_Admits(t *testing.T) {
	// GIVEN a day with 10 active requests and a driver with one in the cycle
	store := &countingStore{dayCount: 10, cycleCount: 1}
	date := admissionDate

	// WHEN evaluating
	d, err := admission.Evaluate(context.Background(), store, "drv-1", &date, admissionToday)

	// THEN the request is admitted with 30 slots left before the insert
	require.NoError(t, err)
	assert.True(t, d.Admitted)
	assert.Nil(t, d.Rejection)
	require.NotNil(t, d.RemainingSlots)
	assert.Equal(t, 30, *d.RemainingSlots)
	require.NotNil(t, d.Cycle)
	assert.Equal(t, NewDay(2024, 12, 26), d.Cycle.Start)
	assert.Equal(t, 1, *d.CycleCount)
}

func TestEvaluate_CheckOrder(t *testing.T) {
	date := admissionDate

	tests := []struct {
		name   string
		store  *countingStore
		date   *Day
		reason RejectionReason
		want   error
		msg    string
	}{
		{
			name:   "no date",
			store:  &countingStore{},
			date:   nil,
			reason: ReasonDateRequired,
			want:   ErrDateRequired,
			msg:    "Please select a date",
		},
		{
			name:   "today is not in the future",
			store:  &countingStore{},
			date:   &admissionToday,
			reason: ReasonDateNotInFuture,
			want:   ErrDateNotInFuture,
			msg:    "10 Jan 2025",
		},
		{
			name:   "cycle limit before day capacity",
			store:  &countingStore{cycleCount: 2, dayCount: 40},
			date:   &date,
			reason: ReasonCycleLimit,
			want:   ErrCycleLimit,
			msg:    "limit of 2 day off requests for the billing cycle 26 Dec 2024 - 25 Jan 2025",
		},
		{
			name:   "day capacity before duplicate",
			store:  &countingStore{cycleCount: 1, dayCount: 40, exists: true},
			date:   &date,
			reason: ReasonDayCapacity,
			want:   ErrDayCapacity,
			msg:    "All 40 day off slots for 15 Jan 2025",
		},
		{
			name:   "duplicate",
			store:  &countingStore{cycleCount: 1, dayCount: 5, exists: true},
			date:   &date,
			reason: ReasonDuplicateDate,
			want:   ErrDuplicateDate,
			msg:    "already have a day off request for 15 Jan 2025",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := admission.Evaluate(context.Background(), tt.store, "drv-1", tt.date, admissionToday)
			require.NoError(t, err)
			assert.False(t, d.Admitted)
			require.NotNil(t, d.Rejection)
			assert.Equal(t, tt.reason, d.Rejection.Reason)
			assert.ErrorIs(t, d.Rejection, tt.want)
			assert.Contains(t, d.Rejection.Message, tt.msg)
			assert.Nil(t, d.RemainingSlots)
		})
	}
}

func TestEvaluate_DateChecksSkipTheStore(t *testing.T) {
	store := &countingStore{}
	past := admissionToday.AddDays(-3)

	_, err := admission.Evaluate(context.Background(), store, "drv-1", &past, admissionToday)
	require.NoError(t, err)
	assert.Empty(t, store.calls)
	assert.Empty(t, store.locks)
}

func TestEvaluate_LocksDateThenDriver(t *testing.T) {
	store := &countingStore{}
	date := admissionDate

	_, err := admission.Evaluate(context.Background(), store, "drv-1", &date, admissionToday)
	require.NoError(t, err)
	assert.Equal(t, []string{"day_off:date:2025-01-15", "day_off:driver:drv-1"}, store.locks)
}

func TestEvaluate_StoreErrorIsNotARejection(t *testing.T) {
	boom := errors.New("disk on fire")
	store := &countingStore{err: boom}
	date := admissionDate

	d, err := admission.Evaluate(context.Background(), store, "drv-1", &date, admissionToday)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsRejection(err))
	assert.Nil(t, d.Rejection)
}

func TestRejectionError_IsClientError(t *testing.T) {
	rej := &RejectionError{Reason: ReasonDayCapacity, Message: "full"}
	assert.True(t, IsRejection(rej))
	assert.True(t, IsClientError(rej))
	assert.Equal(t, "full", rej.Error())
}
