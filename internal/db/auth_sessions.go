package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nwvaras/lebrely-backend/internal/models"
)

// NewAuthSession holds the hashed tokens of a session about to be stored
type NewAuthSession struct {
	ID               string
	UserID           int64
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

const authSessionColumns = `id, user_id, access_expires_at, refresh_expires_at, created_at, revoked_at`

func scanAuthSession(row rowScanner) (*models.AuthSession, error) {
	var s models.AuthSession
	if err := row.Scan(&s.ID, &s.UserID, &s.AccessExpiresAt, &s.RefreshExpiresAt, &s.CreatedAt, &s.RevokedAt); err != nil {
		return nil, err
	}
	s.AccessExpiresAt = s.AccessExpiresAt.UTC()
	s.RefreshExpiresAt = s.RefreshExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

// CreateAuthSession stores a new bearer-token session
func (db *DB) CreateAuthSession(ctx context.Context, params NewAuthSession) (*models.AuthSession, error) {
	ctx, span := tracer.Start(ctx, "db.create_auth_session",
		trace.WithAttributes(attribute.Int64("user.id", params.UserID)))
	defer span.End()

	query := `
		INSERT INTO auth_sessions (id, user_id, access_token_hash, refresh_token_hash, access_expires_at, refresh_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + authSessionColumns

	session, err := scanAuthSession(db.conn.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.AccessTokenHash, params.RefreshTokenHash,
		params.AccessExpiresAt, params.RefreshExpiresAt))
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to create auth session: %w", err)
	}
	return session, nil
}

// GetSessionByAccessToken returns the live session owning the access token hash
func (db *DB) GetSessionByAccessToken(ctx context.Context, accessTokenHash string) (*models.AuthSession, error) {
	ctx, span := tracer.Start(ctx, "db.get_session_by_access_token")
	defer span.End()

	query := `SELECT ` + authSessionColumns + ` FROM auth_sessions
		WHERE access_token_hash = $1 AND revoked_at IS NULL AND access_expires_at > NOW()`

	session, err := scanAuthSession(db.conn.QueryRowContext(ctx, query, accessTokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Expired or missing sessions are expected, not span errors
			return nil, ErrSessionNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get auth session: %w", err)
	}
	span.SetAttributes(attribute.Int64("user.id", session.UserID))
	return session, nil
}

// RotateSession swaps both token hashes of the session identified by the
// current refresh token hash. The old refresh token stops working at once.
func (db *DB) RotateSession(ctx context.Context, refreshTokenHash string, next NewAuthSession) (*models.AuthSession, error) {
	ctx, span := tracer.Start(ctx, "db.rotate_session")
	defer span.End()

	query := `
		UPDATE auth_sessions
		SET access_token_hash = $1, refresh_token_hash = $2, access_expires_at = $3, refresh_expires_at = $4
		WHERE refresh_token_hash = $5 AND revoked_at IS NULL AND refresh_expires_at > NOW()
		RETURNING ` + authSessionColumns

	session, err := scanAuthSession(db.conn.QueryRowContext(ctx, query,
		next.AccessTokenHash, next.RefreshTokenHash, next.AccessExpiresAt, next.RefreshExpiresAt, refreshTokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to rotate auth session: %w", err)
	}
	span.SetAttributes(attribute.Int64("user.id", session.UserID))
	return session, nil
}

// RevokeSessionByAccessToken marks the session revoked (sign out)
func (db *DB) RevokeSessionByAccessToken(ctx context.Context, accessTokenHash string) error {
	ctx, span := tracer.Start(ctx, "db.revoke_session")
	defer span.End()

	query := `UPDATE auth_sessions SET revoked_at = NOW() WHERE access_token_hash = $1 AND revoked_at IS NULL`
	result, err := db.conn.ExecContext(ctx, query, accessTokenHash)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to revoke auth session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeUserSessions revokes every live session of a user
func (db *DB) RevokeUserSessions(ctx context.Context, userID int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "db.revoke_user_sessions",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	return revokeUserSessions(ctx, db.conn, userID)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func revokeUserSessions(ctx context.Context, ex execer, userID int64) (int64, error) {
	query := `UPDATE auth_sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`
	result, err := ex.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteExpiredAuthData removes sessions whose refresh window has passed,
// revoked sessions and used or expired reset tokens older than retention.
func (db *DB) DeleteExpiredAuthData(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, span := tracer.Start(ctx, "db.delete_expired_auth_data")
	defer span.End()

	cutoff := time.Now().UTC().Add(-retention)

	sessions, err := db.conn.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE refresh_expires_at < $1 OR revoked_at < $1`, cutoff)
	if err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	tokens, err := db.conn.ExecContext(ctx,
		`DELETE FROM password_reset_tokens WHERE expires_at < $1 OR used_at < $1`, cutoff)
	if err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", err)
	}

	nSessions, _ := sessions.RowsAffected()
	nTokens, _ := tokens.RowsAffected()
	span.SetAttributes(
		attribute.Int64("auth_sessions.deleted", nSessions),
		attribute.Int64("reset_tokens.deleted", nTokens),
	)
	return nSessions + nTokens, nil
}
