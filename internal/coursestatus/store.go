package coursestatus

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	logpkg "github.com/hari-yahoo/CourseStatus/pkg/log"
)

// Store persists course status records. Implementations keep the record with
// the newest UpdatedAt and report whether r was applied.
type Store interface {
	Upsert(ctx context.Context, r Record) (bool, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS course_status (
	course_id   TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	envelope_id TEXT NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertSQL = `
INSERT INTO course_status (course_id, status, updated_at, envelope_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (course_id) DO UPDATE
SET status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at,
    envelope_id = EXCLUDED.envelope_id,
    applied_at = now()
WHERE course_status.updated_at <= EXCLUDED.updated_at`

// PostgresStore keeps one row per course in PostgreSQL.
type PostgresStore struct {
	db   execer
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool and pings the server.
func OpenPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("coursestatus: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("coursestatus: ping: %w", err)
	}
	return &PostgresStore{db: pool, pool: pool}, nil
}

// EnsureSchema creates the course_status table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("coursestatus: ensure schema: %w", err)
	}
	return nil
}

// Upsert writes r unless the stored row is newer.
func (s *PostgresStore) Upsert(ctx context.Context, r Record) (bool, error) {
	tag, err := s.db.Exec(ctx, upsertSQL, r.CourseID, r.Status, r.UpdatedAt, r.EnvelopeID)
	if err != nil {
		return false, fmt.Errorf("coursestatus: upsert %s: %w", r.CourseID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LogStore keeps the latest record per course in memory and logs every
// applied change. It stands in when no database is configured.
type LogStore struct {
	logger logpkg.Logger

	mu      sync.Mutex
	records map[string]Record
}

func NewLogStore(logger logpkg.Logger) *LogStore {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	return &LogStore{logger: logger.WithComponent("coursestatus"), records: make(map[string]Record)}
}

func (s *LogStore) Upsert(_ context.Context, r Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[r.CourseID]; ok && cur.UpdatedAt.After(r.UpdatedAt) {
		return false, nil
	}
	s.records[r.CourseID] = r
	s.logger.Info("course status updated",
		logpkg.Str("course_id", r.CourseID),
		logpkg.Str("status", r.Status),
		logpkg.Str("updated_at", r.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")),
		logpkg.Str("envelope_id", r.EnvelopeID))
	return true, nil
}

// Get returns the stored record for course.
func (s *LogStore) Get(course string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[course]
	return r, ok
}
