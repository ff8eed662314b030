/*
Package sqlite provides a SQLite-backed requests.Repository.

PURPOSE:
  Persists driver requests and administrator-defined request types in an
  embedded SQLite database. The same queries run against PostgreSQL with
  minor dialect differences (see store/postgres).

KEY TABLES:
  driver_requests:  One row per request, day_off_date typed for day-off rows
  request_types:    Administrator-defined request types
  request_sequence: Counter behind the DR-000001 request numbers

INDEXES:
  - idx_driver_requests_day: Day capacity counts (hot path)
  - idx_driver_requests_driver: Cycle counts and duplicate checks
  - idx_driver_requests_unique_day: At most one active day-off row per
    driver and date

CONCURRENCY:
  The pool holds a single connection and transactions start with
  BEGIN IMMEDIATE, so WithTx scopes are fully serialized by SQLite itself.
  Code inside WithTx must only use the Store it is handed; touching the
  outer Store there would wait for the connection the scope is holding.

LEGACY ROWS:
  Rows imported from the previous system may have day_off_date NULL and the
  date only inside the subject. Day counts match them by label; cycle
  counts parse the subject and skip rows it cannot parse.

USAGE:
  store, err := sqlite.New("./data/driver_requests.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := requests.NewService(store, limits)

SEE ALSO:
  - requests/store.go: Interface definitions
  - requests/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/driver-requests/requests"
)

// timeLayout sorts lexically, which ORDER BY created_at relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const activeStatuses = `('pending', 'in_progress', 'approved')`

// Store implements requests.Repository using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ requests.Repository = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped legacy rows.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New opens the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{q: db, logger: slog.Default()}}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS driver_requests (
		id TEXT PRIMARY KEY,
		request_no TEXT NOT NULL UNIQUE,
		driver_id TEXT NOT NULL,
		driver_name TEXT NOT NULL DEFAULT '',
		request_type TEXT NOT NULL,
		subject TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		day_off_date TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		admin_response TEXT,
		responded_at TEXT,
		responded_by TEXT,
		created_at TEXT NOT NULL,
		CHECK ((admin_response IS NULL) = (responded_at IS NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_driver_requests_day
		ON driver_requests(day_off_date, status)
		WHERE request_type = 'day_off';
	CREATE INDEX IF NOT EXISTS idx_driver_requests_driver
		ON driver_requests(driver_id, request_type, status);
	CREATE INDEX IF NOT EXISTS idx_driver_requests_created
		ON driver_requests(created_at DESC);

	-- Backstop for the duplicate-date admission check
	CREATE UNIQUE INDEX IF NOT EXISTS idx_driver_requests_unique_day
		ON driver_requests(driver_id, day_off_date)
		WHERE request_type = 'day_off'
		  AND day_off_date IS NOT NULL
		  AND status IN ('pending', 'in_progress', 'approved');

	CREATE TABLE IF NOT EXISTS request_types (
		code TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS request_sequence (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(requests.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx, logger: s.logger}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	queries
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q      querier
	logger *slog.Logger
}

// dayMatch selects day-off rows for one date. Takes the ISO date and label.
const dayMatch = `request_type = 'day_off'
	AND (day_off_date = ? OR (day_off_date IS NULL AND instr(subject, ?) > 0))`

func (s *queries) CountActiveForDate(ctx context.Context, day requests.Day) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM driver_requests
		WHERE `+dayMatch+` AND status IN `+activeStatuses,
		day.String(), day.Label(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count day requests: %w", err)
	}
	return n, nil
}

func (s *queries) HasExistingForDriverAndDate(ctx context.Context, driverID string, day requests.Day) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM driver_requests
		WHERE driver_id = ? AND `+dayMatch+` AND status IN `+activeStatuses+`)`,
		driverID, day.String(), day.Label(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing request: %w", err)
	}
	return exists, nil
}

func (s *queries) CountInCycleForDriver(ctx context.Context, driverID string, cycle requests.BillingCycle) (int, error) {
	var typed int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM driver_requests
		WHERE driver_id = ? AND request_type = 'day_off' AND status IN `+activeStatuses+`
		  AND day_off_date BETWEEN ? AND ?`,
		driverID, cycle.Start.String(), cycle.End.String(),
	).Scan(&typed)
	if err != nil {
		return 0, fmt.Errorf("failed to count cycle requests: %w", err)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT id, subject FROM driver_requests
		WHERE driver_id = ? AND request_type = 'day_off' AND status IN `+activeStatuses+`
		  AND day_off_date IS NULL`,
		driverID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to query legacy requests: %w", err)
	}
	defer rows.Close()

	legacy := 0
	for rows.Next() {
		var id, subject string
		if err := rows.Scan(&id, &subject); err != nil {
			return 0, fmt.Errorf("failed to scan legacy request: %w", err)
		}
		d, ok := requests.ExtractDayOffDate(subject)
		if !ok {
			s.logger.Debug("skipping day off request with unparseable subject",
				"request_id", id, "subject", subject)
			continue
		}
		if cycle.Contains(d) {
			legacy++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read legacy requests: %w", err)
	}
	return typed + legacy, nil
}

// Create inserts r and assigns its RequestNo when empty.
func (s *queries) Create(ctx context.Context, r *requests.DriverRequest) error {
	if r.RequestNo == "" {
		var seq int64
		err := s.q.QueryRowContext(ctx,
			`INSERT INTO request_sequence (name, value) VALUES ('driver_requests', 1)
			ON CONFLICT(name) DO UPDATE SET value = value + 1
			RETURNING value`,
		).Scan(&seq)
		if err != nil {
			return fmt.Errorf("failed to allocate request number: %w", err)
		}
		r.RequestNo = requests.FormatRequestNo(seq)
	}

	var dayOff sql.NullString
	if r.DayOffDate != nil {
		dayOff = sql.NullString{String: r.DayOffDate.String(), Valid: true}
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO driver_requests
		(id, request_no, driver_id, driver_name, request_type, subject, description,
		 day_off_date, status, admin_response, responded_at, responded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RequestNo, r.DriverID, r.DriverName, string(r.Type), r.Subject, r.Description,
		dayOff, string(r.Status), nullStringPtr(r.AdminResponse), nullTime(r.RespondedAt),
		nullStringPtr(r.RespondedBy), r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isDuplicateDayError(err) {
			return requests.ErrDuplicateDate
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// UpdateStatus is a compare-and-set on the current status.
func (s *queries) UpdateStatus(ctx context.Context, u requests.StatusUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE driver_requests
		SET status = ?, admin_response = ?, responded_at = ?, responded_by = ?
		WHERE id = ? AND status = ?`,
		string(u.To), nullStringPtr(u.AdminResponse), nullTime(u.RespondedAt),
		nullStringPtr(u.RespondedBy), u.ID, string(u.From),
	)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM driver_requests WHERE id = ?)", u.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check request: %w", err)
	}
	if !exists {
		return requests.ErrRequestNotFound
	}
	return requests.ErrConcurrentModification
}

const selectColumns = `SELECT id, request_no, driver_id, driver_name, request_type, subject,
	description, day_off_date, status, admin_response, responded_at, responded_by, created_at
	FROM driver_requests`

func (s *queries) Get(ctx context.Context, id string) (*requests.DriverRequest, error) {
	rows, err := s.q.QueryContext(ctx, selectColumns+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query request: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query request: %w", err)
		}
		return nil, requests.ErrRequestNotFound
	}
	r, err := scanRequest(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns newest first.
func (s *queries) List(ctx context.Context, f requests.Filter) ([]requests.DriverRequest, int, error) {
	f = f.Normalized()

	var (
		where []string
		args  []any
	)
	if f.DriverID != "" {
		where = append(where, "driver_id = ?")
		args = append(args, f.DriverID)
	}
	if f.Type != "" {
		where = append(where, "request_type = ?")
		args = append(args, string(f.Type))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.Day != nil {
		where = append(where, "("+dayMatch+")")
		args = append(args, f.Day.String(), f.Day.Label())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM driver_requests"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	rows, err := s.q.QueryContext(ctx,
		selectColumns+clause+" ORDER BY created_at DESC, request_no DESC LIMIT ? OFFSET ?",
		append(args, f.Limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	result := []requests.DriverRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, r)
	}
	return result, total, rows.Err()
}

func scanRequest(rows *sql.Rows) (requests.DriverRequest, error) {
	var (
		r             requests.DriverRequest
		requestType   string
		status        string
		dayOff        sql.NullString
		adminResponse sql.NullString
		respondedAt   sql.NullString
		respondedBy   sql.NullString
		createdAt     string
	)
	err := rows.Scan(
		&r.ID, &r.RequestNo, &r.DriverID, &r.DriverName, &requestType, &r.Subject,
		&r.Description, &dayOff, &status, &adminResponse, &respondedAt, &respondedBy, &createdAt,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan request: %w", err)
	}

	r.Type = requests.RequestType(requestType)
	r.Status = requests.Status(status)
	if dayOff.Valid {
		d, err := requests.ParseDay(dayOff.String)
		if err != nil {
			return r, fmt.Errorf("request %s has invalid day_off_date: %w", r.ID, err)
		}
		r.DayOffDate = &d
	}
	if adminResponse.Valid {
		r.AdminResponse = &adminResponse.String
	}
	if respondedAt.Valid {
		t, err := time.Parse(timeLayout, respondedAt.String)
		if err != nil {
			return r, fmt.Errorf("request %s has invalid responded_at: %w", r.ID, err)
		}
		r.RespondedAt = &t
	}
	if respondedBy.Valid {
		r.RespondedBy = &respondedBy.String
	}
	r.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return r, fmt.Errorf("request %s has invalid created_at: %w", r.ID, err)
	}
	return r, nil
}

// =============================================================================
// REQUEST TYPES (requests.TypeStore interface)
// =============================================================================

func (s *Store) ListTypes(ctx context.Context) ([]requests.TypeInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT code, label, created_at FROM request_types ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query request types: %w", err)
	}
	defer rows.Close()

	var types []requests.TypeInfo
	for rows.Next() {
		var (
			t         requests.TypeInfo
			code      string
			createdAt string
		)
		if err := rows.Scan(&code, &t.Label, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan request type: %w", err)
		}
		t.Code = requests.RequestType(code)
		t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		types = append(types, t)
	}
	return types, rows.Err()
}

// SaveType inserts or relabels a request type.
func (s *Store) SaveType(ctx context.Context, t requests.TypeInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_types (code, label, created_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET label = excluded.label`,
		string(t.Code), t.Label, t.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save request type: %w", err)
	}
	return nil
}

// Helper functions

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isDuplicateDayError(err error) bool {
	if !isUniqueConstraintError(err) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "day_off_date") || strings.Contains(msg, "idx_driver_requests_unique_day")
}
