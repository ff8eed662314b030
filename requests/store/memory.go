// Package store provides an in-memory requests.Repository.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/driver-requests/requests"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	rows  []requests.DriverRequest // insertion order
	index map[string]int
	types map[requests.RequestType]requests.TypeInfo
	seq   int64
}

func NewMemory() *Memory {
	return &Memory{
		index: make(map[string]int),
		types: make(map[requests.RequestType]requests.TypeInfo),
	}
}

var _ requests.Repository = (*Memory)(nil)

// Seed inserts rows as-is, bypassing admission. Used to load legacy data.
func (m *Memory) Seed(rows ...requests.DriverRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range rows {
		r := rows[i]
		if err := m.createLocked(&r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) CountActiveForDate(_ context.Context, day requests.Day) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countActiveLocked(day), nil
}

func (m *Memory) HasExistingForDriverAndDate(_ context.Context, driverID string, day requests.Day) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasExistingLocked(driverID, day), nil
}

func (m *Memory) CountInCycleForDriver(_ context.Context, driverID string, cycle requests.BillingCycle) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countInCycleLocked(driverID, cycle), nil
}

func (m *Memory) Create(_ context.Context, r *requests.DriverRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(r)
}

func (m *Memory) UpdateStatus(_ context.Context, u requests.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(u)
}

func (m *Memory) Get(_ context.Context, id string) (*requests.DriverRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) List(_ context.Context, f requests.Filter) ([]requests.DriverRequest, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(f)
}

func (m *Memory) ListTypes(_ context.Context) ([]requests.TypeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]requests.TypeInfo, 0, len(m.types))
	for _, t := range m.types {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (m *Memory) SaveType(_ context.Context, t requests.TypeInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[t.Code] = t
	return nil
}

// =============================================================================
// LOCKED HELPERS - Caller holds mu
// =============================================================================

func (m *Memory) countActiveLocked(day requests.Day) int {
	n := 0
	for i := range m.rows {
		r := &m.rows[i]
		if r.Status.IsActive() && r.IsDayOffOn(day) {
			n++
		}
	}
	return n
}

func (m *Memory) hasExistingLocked(driverID string, day requests.Day) bool {
	for i := range m.rows {
		r := &m.rows[i]
		if r.DriverID == driverID && r.Status.IsActive() && r.IsDayOffOn(day) {
			return true
		}
	}
	return false
}

func (m *Memory) countInCycleLocked(driverID string, cycle requests.BillingCycle) int {
	n := 0
	for i := range m.rows {
		r := &m.rows[i]
		if r.DriverID != driverID || !r.Status.IsActive() {
			continue
		}
		// Legacy rows with an unparseable subject are not counted.
		if d, ok := r.EffectiveDayOffDate(); ok && cycle.Contains(d) {
			n++
		}
	}
	return n
}

func (m *Memory) createLocked(r *requests.DriverRequest) error {
	if r.ID == "" {
		return fmt.Errorf("%w: request id required", requests.ErrInvalidRequest)
	}
	if _, exists := m.index[r.ID]; exists {
		return fmt.Errorf("request %s already exists", r.ID)
	}
	m.seq++
	if r.RequestNo == "" {
		r.RequestNo = requests.FormatRequestNo(m.seq)
	}
	m.index[r.ID] = len(m.rows)
	m.rows = append(m.rows, cloneRequest(*r))
	return nil
}

func (m *Memory) updateStatusLocked(u requests.StatusUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	i, ok := m.index[u.ID]
	if !ok {
		return requests.ErrRequestNotFound
	}
	if m.rows[i].Status != u.From {
		return requests.ErrConcurrentModification
	}
	u.Apply(&m.rows[i])
	return nil
}

func (m *Memory) getLocked(id string) (*requests.DriverRequest, error) {
	i, ok := m.index[id]
	if !ok {
		return nil, requests.ErrRequestNotFound
	}
	r := cloneRequest(m.rows[i])
	return &r, nil
}

// listLocked returns newest first, like the SQL stores.
func (m *Memory) listLocked(f requests.Filter) ([]requests.DriverRequest, int, error) {
	f = f.Normalized()
	var matched []requests.DriverRequest
	for i := len(m.rows) - 1; i >= 0; i-- {
		if f.Matches(&m.rows[i]) {
			matched = append(matched, cloneRequest(m.rows[i]))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if f.Offset >= total {
		return []requests.DriverRequest{}, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Offset:end], total, nil
}

// cloneRequest copies the pointer fields so callers never alias stored rows.
func cloneRequest(r requests.DriverRequest) requests.DriverRequest {
	if r.DayOffDate != nil {
		d := *r.DayOffDate
		r.DayOffDate = &d
	}
	if r.AdminResponse != nil {
		s := *r.AdminResponse
		r.AdminResponse = &s
	}
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		r.RespondedAt = &t
	}
	if r.RespondedBy != nil {
		s := *r.RespondedBy
		r.RespondedBy = &s
	}
	return r
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the store's write lock, so every
// admission is serialized. Writes are undone from a snapshot if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(requests.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	rows  []requests.DriverRequest
	index map[string]int
	seq   int64
}

func (m *Memory) snapshot() memorySnapshot {
	rows := make([]requests.DriverRequest, len(m.rows))
	for i := range m.rows {
		rows[i] = cloneRequest(m.rows[i])
	}
	index := make(map[string]int, len(m.index))
	for k, v := range m.index {
		index[k] = v
	}
	return memorySnapshot{rows: rows, index: index, seq: m.seq}
}

func (m *Memory) restore(s memorySnapshot) {
	m.rows = s.rows
	m.index = s.index
	m.seq = s.seq
}

// txView is the Store handed to WithTx callbacks. The parent lock is
// already held.
type txView struct {
	parent *Memory
}

func (tv *txView) CountActiveForDate(_ context.Context, day requests.Day) (int, error) {
	return tv.parent.countActiveLocked(day), nil
}

func (tv *txView) HasExistingForDriverAndDate(_ context.Context, driverID string, day requests.Day) (bool, error) {
	return tv.parent.hasExistingLocked(driverID, day), nil
}

func (tv *txView) CountInCycleForDriver(_ context.Context, driverID string, cycle requests.BillingCycle) (int, error) {
	return tv.parent.countInCycleLocked(driverID, cycle), nil
}

func (tv *txView) Create(_ context.Context, r *requests.DriverRequest) error {
	return tv.parent.createLocked(r)
}

func (tv *txView) UpdateStatus(_ context.Context, u requests.StatusUpdate) error {
	return tv.parent.updateStatusLocked(u)
}

func (tv *txView) Get(_ context.Context, id string) (*requests.DriverRequest, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) List(_ context.Context, f requests.Filter) ([]requests.DriverRequest, int, error) {
	return tv.parent.listLocked(f)
}
