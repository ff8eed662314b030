/*
store.go - Persistence interfaces for driver requests

PURPOSE:
  Defines the boundary between the request engine and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:      Request rows (counts, create, status update, queries)
  TxStore:    Serialized scope for admission-check-and-insert
  KeyLocker:  Optional fine-grained locks inside a TxStore scope
  TypeStore:  Request type registry table
  Repository: Everything the Service needs

COUNTING:
  All counts are aggregates computed by the store itself. The admission
  controller never reads rows and counts them client-side, except for legacy
  day-off rows with no typed date whose subject must be parsed.

ATOMIC ADMISSION:
  WithTx must serialize against every other WithTx that touches the same
  calendar day or the same driver. SQLite and memory stores serialize all
  writers; PostgreSQL takes advisory locks through KeyLocker.

IMPLEMENTATIONS:
  - requests/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: Embedded SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package requests

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// STORE - Request persistence
// =============================================================================

type Store interface {
	// CountActiveForDate counts active day-off requests for day.
	CountActiveForDate(ctx context.Context, day Day) (int, error)

	// HasExistingForDriverAndDate reports whether the driver already holds an
	// active day-off request for day.
	HasExistingForDriverAndDate(ctx context.Context, driverID string, day Day) (bool, error)

	// CountInCycleForDriver counts the driver's active day-off requests whose
	// date falls inside cycle. Rows whose date cannot be determined are skipped.
	CountInCycleForDriver(ctx context.Context, driverID string, cycle BillingCycle) (int, error)

	// Create inserts r. RequestNo is assigned by the store when empty.
	Create(ctx context.Context, r *DriverRequest) error

	// UpdateStatus applies a compare-and-set status change. Returns
	// ErrConcurrentModification if the row is no longer in u.From.
	UpdateStatus(ctx context.Context, u StatusUpdate) error

	// Get returns ErrRequestNotFound when id doesn't exist.
	Get(ctx context.Context, id string) (*DriverRequest, error)

	// List returns the page selected by f and the total number of matches.
	List(ctx context.Context, f Filter) ([]DriverRequest, int, error)
}

// TxStore wraps Store with a serialized transactional scope.
// If fn returns error, everything written through the scoped Store is rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// KeyLocker is implemented by transaction-scoped stores that need explicit
// locks to serialize admissions. Locks are held until the transaction ends.
type KeyLocker interface {
	LockKey(ctx context.Context, key string) error
}

// TypeStore persists administrator-defined request types.
type TypeStore interface {
	ListTypes(ctx context.Context) ([]TypeInfo, error)
	SaveType(ctx context.Context, t TypeInfo) error
}

// Repository is the full persistence surface used by Service.
type Repository interface {
	TxStore
	TypeStore
}

// =============================================================================
// QUERY AND UPDATE TYPES
// =============================================================================

// Filter selects requests. Zero fields don't filter.
type Filter struct {
	DriverID string
	Type     RequestType
	Statuses []Status
	Day      *Day
	Offset   int
	Limit    int
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Normalized clamps paging to sane values.
func (f Filter) Normalized() Filter {
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return f
}

// Matches is the in-process equivalent of the SQL filter.
func (f Filter) Matches(r *DriverRequest) bool {
	if f.DriverID != "" && r.DriverID != f.DriverID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
		return false
	}
	if f.Day != nil && !r.IsDayOffOn(*f.Day) {
		return false
	}
	return true
}

func containsStatus(statuses []Status, s Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// StatusUpdate moves a request from From to To. The response fields are
// either all nil or AdminResponse and RespondedAt are both set.
type StatusUpdate struct {
	ID            string
	From          Status
	To            Status
	AdminResponse *string
	RespondedAt   *time.Time
	RespondedBy   *string
}

// Validate checks the update before it reaches the database.
func (u StatusUpdate) Validate() error {
	if (u.AdminResponse == nil) != (u.RespondedAt == nil) {
		return ErrResponseFieldsMismatch
	}
	return ValidateTransition(u.ID, u.From, u.To)
}

// Apply copies the update onto r.
func (u StatusUpdate) Apply(r *DriverRequest) {
	r.Status = u.To
	r.AdminResponse = u.AdminResponse
	r.RespondedAt = u.RespondedAt
	r.RespondedBy = u.RespondedBy
}

// FormatRequestNo renders the human-facing sequence label.
func FormatRequestNo(seq int64) string {
	return fmt.Sprintf("DR-%06d", seq)
}

// DateLockKey names the lock serializing admissions for one calendar day.
// Date locks are always acquired before driver locks.
func DateLockKey(d Day) string {
	return "day_off:date:" + d.String()
}

// DriverLockKey names the lock serializing one driver's admissions.
func DriverLockKey(driverID string) string {
	return "day_off:driver:" + driverID
}
