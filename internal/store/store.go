// Package store is the Postgres persistence layer. It owns the schema
// migrations, the job and ingestion-job repositories, the staged
// request-log write path, and the SQL metrics read path.
package store

import (
	"context"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	driverName = "pgx"

	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
)

// DB wraps the sqlx handle and exposes the repositories.
type DB struct {
	conn *sqlx.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	conn.SetMaxOpenConns(defaultMaxOpenConns)
	conn.SetMaxIdleConns(defaultMaxIdleConns)
	conn.SetConnMaxLifetime(defaultConnMaxLifetime)

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing handle. Used by tests with sqlmock.
func NewWithConn(conn *sqlx.DB) *DB {
	return &DB{conn: conn}
}

// Migrate applies all pending embedded migrations.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db.conn.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	return nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	if closeErr := db.conn.Close(); closeErr != nil {
		return fmt.Errorf("close postgres: %w", closeErr)
	}

	return nil
}

// Jobs returns the orchestration-job repository.
func (db *DB) Jobs() *JobStore {
	return &JobStore{conn: db.conn}
}

// IngestionJobs returns the ingestion-job repository.
func (db *DB) IngestionJobs() *IngestionJobStore {
	return &IngestionJobStore{conn: db.conn}
}

// RequestLogs returns the staged request-log repository.
func (db *DB) RequestLogs() *RequestLogStore {
	return &RequestLogStore{conn: db.conn}
}

// Metrics returns the SQL metrics reader.
func (db *DB) Metrics() *MetricsReader {
	return &MetricsReader{conn: db.conn}
}
