package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/veriflow/runlog"
)

// PostgresStore implements runlog.Store using PostgreSQL
type PostgresStore struct {
	*sqlStore
}

var _ runlog.Store = (*PostgresStore)(nil)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	SSLMode  string `yaml:"ssl_mode"`
	Table    string `yaml:"table"`
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "veriflow",
		SSLMode:  "disable",
		Table:    "veriflow_runs",
	}
}

// DSN renders the lib/pq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewPostgresStore creates a new PostgreSQL-based run store
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	s, err := newSQLStore(ctx, db, config.Table, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}
