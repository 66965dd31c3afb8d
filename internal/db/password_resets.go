package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreatePasswordResetToken stores the hash of a single-use reset token
func (db *DB) CreatePasswordResetToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	ctx, span := tracer.Start(ctx, "db.create_password_reset_token",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `INSERT INTO password_reset_tokens (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`
	if _, err := db.conn.ExecContext(ctx, query, tokenHash, userID, expiresAt); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

// ConsumePasswordResetToken marks the token used, sets the new password hash
// and revokes every session of the user, atomically. Users created without a
// password (by an admin) get their password identity here. Returns the user ID.
func (db *DB) ConsumePasswordResetToken(ctx context.Context, tokenHash, passwordHash string) (int64, error) {
	ctx, span := tracer.Start(ctx, "db.consume_password_reset_token")
	defer span.End()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	consumeSQL := `
		UPDATE password_reset_tokens SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id`
	if err := tx.QueryRowContext(ctx, consumeSQL, tokenHash).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrResetTokenNotFound
		}
		recordSpanError(span, err)
		return 0, fmt.Errorf("failed to consume reset token: %w", err)
	}
	span.SetAttributes(attribute.Int64("user.id", userID))

	identityID, err := ensurePasswordIdentity(ctx, tx, userID)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	passwordSQL := `
		INSERT INTO identity_passwords (identity_id, password_hash) VALUES ($1, $2)
		ON CONFLICT (identity_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, failed_attempts = 0, locked_until = NULL, updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, passwordSQL, identityID, passwordHash); err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("failed to set password: %w", err)
	}

	if _, err := revokeUserSessions(ctx, tx, userID); err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return userID, nil
}

// ensurePasswordIdentity returns the user's password identity, creating it
// keyed by the user's current email when missing
func ensurePasswordIdentity(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	var identityID int64
	selectSQL := `SELECT id FROM user_identities WHERE user_id = $1 AND provider = $2`
	err := tx.QueryRowContext(ctx, selectSQL, userID, ProviderPassword).Scan(&identityID)
	if err == nil {
		return identityID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up password identity: %w", err)
	}

	insertSQL := `
		INSERT INTO user_identities (user_id, provider, provider_id)
		SELECT id, $2, email FROM users WHERE id = $1
		RETURNING id`
	if err := tx.QueryRowContext(ctx, insertSQL, userID, ProviderPassword).Scan(&identityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return 0, ErrEmailTaken
		}
		return 0, fmt.Errorf("failed to create password identity: %w", err)
	}
	return identityID, nil
}
