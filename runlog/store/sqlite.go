package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sweetpotato0/veriflow/runlog"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements runlog.Store on an embedded SQLite file.
type SQLiteStore struct {
	*sqlStore
}

var _ runlog.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for a
// throwaway store; it is pinned to a single connection so every query sees the
// same database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "veriflow.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}

	s, err := newSQLStore(ctx, db, "veriflow_runs", sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}
