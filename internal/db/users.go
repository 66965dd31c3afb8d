package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nwvaras/lebrely-backend/internal/models"
)

// Pagination limits for ListUsers
const (
	DefaultUserListLimit = 100
	MaxUserListLimit     = 500
)

const userColumns = `id, name, email, avatar_key, is_active, is_admin, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.AvatarKey,
		&user.IsActive,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return &user, nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CreateUser inserts an active, non-admin user without credentials
func (db *DB) CreateUser(ctx context.Context, name, email string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.create_user")
	defer span.End()

	query := `INSERT INTO users (name, email) VALUES ($1, $2) RETURNING ` + userColumns

	user, err := scanUser(db.conn.QueryRowContext(ctx, query, name, email))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return user, nil
}

// GetUserByID retrieves a user by ID
func (db *DB) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.get_user_by_id",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(db.conn.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.get_user_by_email")
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(db.conn.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns a page of users ordered by ID.
// limit <= 0 means DefaultUserListLimit; it is capped at MaxUserListLimit.
func (db *DB) ListUsers(ctx context.Context, skip, limit int, activeOnly bool) ([]models.User, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = DefaultUserListLimit
	}
	if limit > MaxUserListLimit {
		limit = MaxUserListLimit
	}

	ctx, span := tracer.Start(ctx, "db.list_users",
		trace.WithAttributes(
			attribute.Int("page.skip", skip),
			attribute.Int("page.limit", limit),
			attribute.Bool("filter.active_only", activeOnly),
		))
	defer span.End()

	query := `SELECT ` + userColumns + ` FROM users`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id OFFSET $1 LIMIT $2`

	rows, err := db.conn.QueryContext(ctx, query, skip, limit)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	span.SetAttributes(attribute.Int("users.count", len(users)))
	return users, nil
}

// UpdateUser applies the non-nil fields of update
func (db *DB) UpdateUser(ctx context.Context, userID int64, update models.UserUpdate) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.update_user",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	if update.IsEmpty() {
		return db.GetUserByID(ctx, userID)
	}

	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Email != nil {
		add("email", *update.Email)
	}
	if update.IsActive != nil {
		add("is_active", *update.IsActive)
	}
	args = append(args, userID)

	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	// The password identity is keyed by email and must follow it
	if update.Email != nil {
		identitySQL := `UPDATE user_identities SET provider_id = $1 WHERE user_id = $2 AND provider = $3`
		if _, err := tx.ExecContext(ctx, identitySQL, *update.Email, userID, ProviderPassword); err != nil {
			if isUniqueViolation(err) {
				return nil, ErrEmailTaken
			}
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to update password identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return user, nil
}

// DeactivateUser soft-deletes a user by clearing is_active
func (db *DB) DeactivateUser(ctx context.Context, userID int64) error {
	ctx, span := tracer.Start(ctx, "db.deactivate_user",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `UPDATE users SET is_active = FALSE, updated_at = NOW() WHERE id = $1`
	return db.execAffectingUser(ctx, span, query, userID)
}

// DeleteUser permanently deletes a user and all associated data (via CASCADE).
// Stored avatars must be removed separately.
func (db *DB) DeleteUser(ctx context.Context, userID int64) error {
	ctx, span := tracer.Start(ctx, "db.delete_user",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	return db.execAffectingUser(ctx, span, `DELETE FROM users WHERE id = $1`, userID)
}

// SetUserAvatar stores the object key of the user's avatar (nil clears it)
func (db *DB) SetUserAvatar(ctx context.Context, userID int64, avatarKey *string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "db.set_user_avatar",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	query := `UPDATE users SET avatar_key = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + userColumns

	user, err := scanUser(db.conn.QueryRowContext(ctx, query, avatarKey, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to set avatar: %w", err)
	}
	return user, nil
}

// CountUsers returns the total number of users in the system
func (db *DB) CountUsers(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "db.count_users")
	defer span.End()

	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		recordSpanError(span, err)
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	span.SetAttributes(attribute.Int("users.count", count))
	return count, nil
}

// UserExistsByEmail checks if a user exists with the given email
func (db *DB) UserExistsByEmail(ctx context.Context, email string) (bool, error) {
	ctx, span := tracer.Start(ctx, "db.user_exists_by_email")
	defer span.End()

	var exists bool
	err := db.conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		recordSpanError(span, err)
		return false, fmt.Errorf("failed to check user exists: %w", err)
	}
	return exists, nil
}

func (db *DB) execAffectingUser(ctx context.Context, span trace.Span, query string, userID int64) error {
	result, err := db.conn.ExecContext(ctx, query, userID)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
