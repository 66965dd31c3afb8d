package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lebrely/db")

// DB wraps a PostgreSQL database connection pool
type DB struct {
	conn *sql.DB
}

// NormalizeDSN accepts SQLAlchemy-style URLs (postgresql+asyncpg://...) and
// returns a URL pgx understands. Other inputs are returned unchanged.
func NormalizeDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if scheme, rest, ok := strings.Cut(dsn, "://"); ok {
		if base, _, hasDriver := strings.Cut(scheme, "+"); hasDriver {
			return base + "://" + rest
		}
	}
	return dsn
}

// Connect establishes a connection to PostgreSQL.
// Every pooled connection has its timezone pinned to SessionTimezone.
func Connect(dsn string) (*DB, error) {
	cfg, err := pgx.ParseConfig(NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.RuntimeParams["timezone"] = SessionTimezone

	conn := stdlib.OpenDB(*cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(50)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(20 * time.Minute)

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Exec executes a query without returning rows (for testing)
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row (for testing)
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Conn returns the underlying *sql.DB connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}
