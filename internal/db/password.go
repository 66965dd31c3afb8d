package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/nwvaras/lebrely-backend/internal/models"
)

// ProviderPassword is the identity provider name for email/password accounts
const ProviderPassword = "password"

// Password lockout policy
const (
	MaxFailedAttempts = 5
	LockoutDuration   = 15 * time.Minute
)

// dummyHash is compared against when the email is unknown so that both
// paths spend the same bcrypt time.
var dummyHash = []byte("$2a$12$C6UzMDM.H6dfI/f/IKcEeO5bJvY2yJ2Ff8uYd2mQnD0LZrQeR5aSa")

// NewPasswordUser describes a user created together with a password identity
type NewPasswordUser struct {
	Name         string
	Email        string
	PasswordHash string
	IsAdmin      bool
}

// CreatePasswordUser creates the user, its password identity and credentials
// in one transaction. Returns ErrEmailTaken if the email is in use.
func (db *DB) CreatePasswordUser(ctx context.Context, params NewPasswordUser) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.create_password_user",
		trace.WithAttributes(attribute.Bool("user.is_admin", params.IsAdmin)))
	defer span.End()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertUserSQL := `INSERT INTO users (name, email, is_admin) VALUES ($1, $2, $3) RETURNING ` + userColumns
	user, err := scanUser(tx.QueryRowContext(ctx, insertUserSQL, params.Name, params.Email, params.IsAdmin))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	var identityID int64
	insertIdentitySQL := `INSERT INTO user_identities (user_id, provider, provider_id) VALUES ($1, $2, $3) RETURNING id`
	if err = tx.QueryRowContext(ctx, insertIdentitySQL, user.ID, ProviderPassword, params.Email).Scan(&identityID); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to create password identity: %w", err)
	}

	insertCredsSQL := `INSERT INTO identity_passwords (identity_id, password_hash) VALUES ($1, $2)`
	if _, err = tx.ExecContext(ctx, insertCredsSQL, identityID, params.PasswordHash); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to create password credentials: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return user, nil
}

// AuthenticatePassword verifies email/password and returns the user if valid.
// Too many failures lock the identity for LockoutDuration.
func (db *DB) AuthenticatePassword(ctx context.Context, email, password string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.authenticate_password")
	defer span.End()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT
			u.id, u.name, u.email, u.avatar_key, u.is_active, u.is_admin, u.created_at, u.updated_at,
			i.id, p.password_hash, p.failed_attempts, p.locked_until
		FROM users u
		JOIN user_identities i ON u.id = i.user_id
		JOIN identity_passwords p ON i.id = p.identity_id
		WHERE i.provider = $1 AND i.provider_id = $2
		FOR UPDATE OF p
	`

	var user models.User
	var identityID int64
	var passwordHash string
	var failedAttempts int
	var lockedUntil *time.Time

	err = tx.QueryRowContext(ctx, query, ProviderPassword, email).Scan(
		&user.ID, &user.Name, &user.Email, &user.AvatarKey, &user.IsActive, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt,
		&identityID, &passwordHash, &failedAttempts, &lockedUntil,
	)
	if errors.Is(err, sql.ErrNoRows) {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to query password identity: %w", err)
	}

	now := time.Now().UTC()
	if lockedUntil != nil && now.Before(*lockedUntil) {
		return nil, ErrAccountLocked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		newAttempts := failedAttempts + 1
		var newLockedUntil *time.Time
		if newAttempts >= MaxFailedAttempts {
			lockTime := now.Add(LockoutDuration)
			newLockedUntil = &lockTime
			newAttempts = 0
		}

		updateSQL := `UPDATE identity_passwords SET failed_attempts = $1, locked_until = $2, updated_at = NOW() WHERE identity_id = $3`
		if _, err = tx.ExecContext(ctx, updateSQL, newAttempts, newLockedUntil, identityID); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to update failed attempts: %w", err)
		}
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}

		if newLockedUntil != nil {
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	// Inactive accounts look exactly like bad credentials
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	resetSQL := `UPDATE identity_passwords SET failed_attempts = 0, locked_until = NULL, updated_at = NOW() WHERE identity_id = $1`
	if _, err = tx.ExecContext(ctx, resetSQL, identityID); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return &user, nil
}

// UpdateUserPassword replaces a user's password hash and clears any lockout
func (db *DB) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	ctx, span := tracer.Start(ctx, "db.update_user_password",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `
		UPDATE identity_passwords p
		SET password_hash = $1, failed_attempts = 0, locked_until = NULL, updated_at = NOW()
		FROM user_identities i
		WHERE p.identity_id = i.id AND i.user_id = $2 AND i.provider = $3
	`

	result, err := db.conn.ExecContext(ctx, query, passwordHash, userID, ProviderPassword)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to update password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNoPasswordIdentity
	}
	return nil
}
