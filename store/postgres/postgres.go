/*
Package postgres provides a PostgreSQL-backed requests.Repository using pgx.

CONCURRENCY:
  Unlike SQLite, PostgreSQL runs WithTx scopes in parallel. The scoped store
  implements requests.KeyLocker with transaction-level advisory locks, so
  admissions for the same date or the same driver queue behind each other
  while unrelated admissions proceed. Locks are released on commit or
  rollback.

REQUEST NUMBERS:
  Drawn from the driver_request_no_seq sequence. Numbers consumed by a
  rolled-back transaction are not reused.

SEE ALSO:
  - store/sqlite/sqlite.go: Same schema for the embedded database
  - requests/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/driver-requests/requests"
)

const activeStatuses = `('pending', 'in_progress', 'approved')`

const uniqueDayIndex = "idx_driver_requests_unique_day"

// Store implements requests.Repository on a pgx pool.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ requests.Repository = (*Store)(nil)

type Option func(*Store)

// WithLogger sets the logger used for skipped legacy rows.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New connects to dsn, verifies the connection and migrates the schema.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewFromPool(pool, opts...)
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// NewFromPool wraps an existing pool without migrating.
func NewFromPool(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, queries: queries{q: pool, logger: slog.Default()}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE SEQUENCE IF NOT EXISTS driver_request_no_seq;

	CREATE TABLE IF NOT EXISTS driver_requests (
		id TEXT PRIMARY KEY,
		request_no TEXT NOT NULL UNIQUE,
		driver_id TEXT NOT NULL,
		driver_name TEXT NOT NULL DEFAULT '',
		request_type TEXT NOT NULL,
		subject TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		day_off_date DATE,
		status TEXT NOT NULL DEFAULT 'pending',
		admin_response TEXT,
		responded_at TIMESTAMPTZ,
		responded_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CHECK ((admin_response IS NULL) = (responded_at IS NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_driver_requests_day
		ON driver_requests(day_off_date, status)
		WHERE request_type = 'day_off';
	CREATE INDEX IF NOT EXISTS idx_driver_requests_driver
		ON driver_requests(driver_id, request_type, status);
	CREATE INDEX IF NOT EXISTS idx_driver_requests_created
		ON driver_requests(created_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_driver_requests_unique_day
		ON driver_requests(driver_id, day_off_date)
		WHERE request_type = 'day_off'
		  AND day_off_date IS NOT NULL
		  AND status IN ('pending', 'in_progress', 'approved');

	CREATE TABLE IF NOT EXISTS request_types (
		code TEXT PRIMARY KEY,
		label TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(requests.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{queries: queries{q: tx, logger: s.logger}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	queries
}

var _ requests.KeyLocker = (*txStore)(nil)

// LockKey takes a transaction-scoped advisory lock on key.
func (ts *txStore) LockKey(ctx context.Context, key string) error {
	if _, err := ts.q.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// QUERIES - Shared by Store and txStore
// =============================================================================

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q      querier
	logger *slog.Logger
}

// dayMatch takes the ISO date and the subject label as its two parameters,
// numbered from n.
func dayMatch(n int) string {
	return fmt.Sprintf(`request_type = 'day_off'
		AND (day_off_date = $%d::date OR (day_off_date IS NULL AND strpos(subject, $%d) > 0))`, n, n+1)
}

func (s *queries) CountActiveForDate(ctx context.Context, day requests.Day) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM driver_requests
		WHERE `+dayMatch(1)+` AND status IN `+activeStatuses,
		day.String(), day.Label(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count day requests: %w", err)
	}
	return n, nil
}

func (s *queries) HasExistingForDriverAndDate(ctx context.Context, driverID string, day requests.Day) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM driver_requests
		WHERE driver_id = $1 AND `+dayMatch(2)+` AND status IN `+activeStatuses+`)`,
		driverID, day.String(), day.Label(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing request: %w", err)
	}
	return exists, nil
}

func (s *queries) CountInCycleForDriver(ctx context.Context, driverID string, cycle requests.BillingCycle) (int, error) {
	var typed int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM driver_requests
		WHERE driver_id = $1 AND request_type = 'day_off' AND status IN `+activeStatuses+`
		  AND day_off_date BETWEEN $2::date AND $3::date`,
		driverID, cycle.Start.String(), cycle.End.String(),
	).Scan(&typed)
	if err != nil {
		return 0, fmt.Errorf("failed to count cycle requests: %w", err)
	}

	rows, err := s.q.Query(ctx,
		`SELECT id, subject FROM driver_requests
		WHERE driver_id = $1 AND request_type = 'day_off' AND status IN `+activeStatuses+`
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

func (s *queries) Create(ctx context.Context, r *requests.DriverRequest) error {
	if r.RequestNo == "" {
		var seq int64
		if err := s.q.QueryRow(ctx, "SELECT nextval('driver_request_no_seq')").Scan(&seq); err != nil {
			return fmt.Errorf("failed to allocate request number: %w", err)
		}
		r.RequestNo = requests.FormatRequestNo(seq)
	}

	var dayOff *string
	if r.DayOffDate != nil {
		iso := r.DayOffDate.String()
		dayOff = &iso
	}

	_, err := s.q.Exec(ctx,
		`INSERT INTO driver_requests
		(id, request_no, driver_id, driver_name, request_type, subject, description,
		 day_off_date, status, admin_response, responded_at, responded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10, $11, $12, $13)`,
		r.ID, r.RequestNo, r.DriverID, r.DriverName, string(r.Type), r.Subject, r.Description,
		dayOff, string(r.Status), r.AdminResponse, r.RespondedAt, r.RespondedBy, r.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == uniqueDayIndex {
			return requests.ErrDuplicateDate
		}
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (s *queries) UpdateStatus(ctx context.Context, u requests.StatusUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE driver_requests
		SET status = $1, admin_response = $2, responded_at = $3, responded_by = $4
		WHERE id = $5 AND status = $6`,
		string(u.To), u.AdminResponse, u.RespondedAt, u.RespondedBy, u.ID, string(u.From),
	)
	if err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM driver_requests WHERE id = $1)", u.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check request: %w", err)
	}
	if !exists {
		return requests.ErrRequestNotFound
	}
	return requests.ErrConcurrentModification
}

const selectColumns = `SELECT id, request_no, driver_id, driver_name, request_type, subject,
	description, to_char(day_off_date, 'YYYY-MM-DD'), status, admin_response, responded_at,
	responded_by, created_at
	FROM driver_requests`

func (s *queries) Get(ctx context.Context, id string) (*requests.DriverRequest, error) {
	r, err := scanRequest(s.q.QueryRow(ctx, selectColumns+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, requests.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *queries) List(ctx context.Context, f requests.Filter) ([]requests.DriverRequest, int, error) {
	f = f.Normalized()

	var (
		where []string
		args  []any
	)
	if f.DriverID != "" {
		args = append(args, f.DriverID)
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("request_type = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Day != nil {
		where = append(where, "("+dayMatch(len(args)+1)+")")
		args = append(args, f.Day.String(), f.Day.Label())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM driver_requests"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	n := len(args)
	rows, err := s.q.Query(ctx,
		selectColumns+clause+fmt.Sprintf(" ORDER BY created_at DESC, request_no DESC LIMIT $%d OFFSET $%d", n+1, n+2),
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

func scanRequest(row pgx.Row) (requests.DriverRequest, error) {
	var (
		r           requests.DriverRequest
		requestType string
		status      string
		dayOff      *string
	)
	err := row.Scan(
		&r.ID, &r.RequestNo, &r.DriverID, &r.DriverName, &requestType, &r.Subject,
		&r.Description, &dayOff, &status, &r.AdminResponse, &r.RespondedAt, &r.RespondedBy, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan request: %w", err)
	}

	r.Type = requests.RequestType(requestType)
	r.Status = requests.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	if r.RespondedAt != nil {
		t := r.RespondedAt.UTC()
		r.RespondedAt = &t
	}
	if dayOff != nil {
		d, err := requests.ParseDay(*dayOff)
		if err != nil {
			return r, fmt.Errorf("request %s has invalid day_off_date: %w", r.ID, err)
		}
		r.DayOffDate = &d
	}
	return r, nil
}

// =============================================================================
// REQUEST TYPES (requests.TypeStore interface)
// =============================================================================

func (s *Store) ListTypes(ctx context.Context) ([]requests.TypeInfo, error) {
	rows, err := s.pool.Query(ctx, "SELECT code, label, created_at FROM request_types ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query request types: %w", err)
	}
	defer rows.Close()

	var types []requests.TypeInfo
	for rows.Next() {
		var (
			t    requests.TypeInfo
			code string
		)
		if err := rows.Scan(&code, &t.Label, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request type: %w", err)
		}
		t.Code = requests.RequestType(code)
		t.CreatedAt = t.CreatedAt.UTC()
		types = append(types, t)
	}
	return types, rows.Err()
}

func (s *Store) SaveType(ctx context.Context, t requests.TypeInfo) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO request_types (code, label, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET label = EXCLUDED.label`,
		string(t.Code), t.Label, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save request type: %w", err)
	}
	return nil
}
