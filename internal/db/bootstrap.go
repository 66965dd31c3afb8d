package db

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SessionTimezone is the timezone every session runs in.
// deploy/postgres/initdb/01-init.sql and migration 000001 set it as the
// database default; Connect also pins it per connection.
const SessionTimezone = "UTC"

// Timezone returns the current session's timezone setting
func (db *DB) Timezone(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "db.timezone")
	defer span.End()

	var tz string
	if err := db.conn.QueryRowContext(ctx, `SHOW timezone`).Scan(&tz); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to read timezone: %w", err)
	}
	span.SetAttributes(attribute.String("db.timezone", tz))
	return tz, nil
}

// EnsureTimezone fails with ErrTimezoneMismatch unless the session runs in SessionTimezone
func (db *DB) EnsureTimezone(ctx context.Context) error {
	tz, err := db.Timezone(ctx)
	if err != nil {
		return err
	}
	if tz != SessionTimezone {
		return fmt.Errorf("%w: got %q, want %q", ErrTimezoneMismatch, tz, SessionTimezone)
	}
	return nil
}
