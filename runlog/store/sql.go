package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	errorskg "github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/runlog"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialect captures the few places where PostgreSQL and SQLite differ.
type dialect struct {
	sourcesType string
	bind        func(n int) string
}

var (
	postgresDialect = dialect{
		sourcesType: "JSONB",
		bind:        func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	sqliteDialect = dialect{
		sourcesType: "TEXT",
		bind:        func(int) string { return "?" },
	}
)

// sqlStore is the database/sql implementation shared by the SQL backends.
// started_at is stored as unix milliseconds so both drivers scan it the same way.
type sqlStore struct {
	db    *sql.DB
	table string
	d     dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, table string, d dialect) (*sqlStore, error) {
	if table == "" {
		table = "veriflow_runs"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: %w", table, errorskg.ErrInvalidInput)
	}
	s := &sqlStore{db: db, table: table, d: d}
	if err := s.createTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

func (s *sqlStore) createTable(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		question TEXT NOT NULL,
		final_query TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		failure VARCHAR(64) NOT NULL,
		verified BOOLEAN NOT NULL,
		answer TEXT NOT NULL,
		rationale TEXT NOT NULL,
		iterations INTEGER NOT NULL,
		evidence_sources %s NOT NULL,
		started_at BIGINT NOT NULL,
		duration_ms BIGINT NOT NULL
	)`, s.table, s.d.sourcesType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_started_at ON %s(started_at)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) binds(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.d.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

// Save upserts rec.
func (s *sqlStore) Save(ctx context.Context, rec *runlog.Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil: %w", errorskg.ErrInvalidInput)
	}
	runlog.Prepare(rec)

	sources, err := json.Marshal(rec.EvidenceSources)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence sources: %w", err)
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (id, session_id, question, final_query, status, failure, verified, answer, rationale, iterations, evidence_sources, started_at, duration_ms)
	VALUES (%s)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		failure = EXCLUDED.failure,
		verified = EXCLUDED.verified,
		answer = EXCLUDED.answer,
		rationale = EXCLUDED.rationale,
		iterations = EXCLUDED.iterations,
		evidence_sources = EXCLUDED.evidence_sources,
		duration_ms = EXCLUDED.duration_ms
	`, s.table, s.binds(13))

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.Question,
		rec.FinalQuery,
		rec.Status,
		rec.Failure,
		rec.Verified,
		rec.Answer,
		rec.Rationale,
		rec.Iterations,
		string(sources),
		rec.StartedAt.UnixMilli(),
		rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

const selectColumns = `id, session_id, question, final_query, status, failure, verified, answer, rationale, iterations, evidence_sources, started_at, duration_ms`

// Get returns the record with id.
func (s *sqlStore) Get(ctx context.Context, id string) (*runlog.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = %s`, selectColumns, s.table, s.d.bind(1))
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

// List returns up to limit records, newest first.
func (s *sqlStore) List(ctx context.Context, limit int) ([]*runlog.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT %s`, selectColumns, s.table, s.d.bind(1))
	rows, err := s.db.QueryContext(ctx, query, runlog.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	records := make([]*runlog.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return records, nil
}

// Count returns the number of stored runs.
func (s *sqlStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// Clear removes every run.
func (s *sqlStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("failed to clear runs: %w", err)
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*runlog.Record, error) {
	rec := &runlog.Record{}
	var (
		sources   string
		startedMS int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.Question,
		&rec.FinalQuery,
		&rec.Status,
		&rec.Failure,
		&rec.Verified,
		&rec.Answer,
		&rec.Rationale,
		&rec.Iterations,
		&sources,
		&startedMS,
		&rec.DurationMS,
	); err != nil {
		return nil, err
	}
	rec.EvidenceSources = []string{}
	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &rec.EvidenceSources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence sources: %w", err)
		}
	}
	rec.StartedAt = time.UnixMilli(startedMS)
	return rec, nil
}
