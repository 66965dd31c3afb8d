package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for type-safe error checking
// Use errors.Is() instead of string comparison
var (
	// User errors
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("user with this email already exists")

	// Password authentication errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrNoPasswordIdentity = errors.New("user has no password identity")

	// Token errors
	ErrSessionNotFound    = errors.New("session not found, expired or revoked")
	ErrResetTokenNotFound = errors.New("reset token not found, expired or already used")

	// Bootstrap errors
	ErrTimezoneMismatch = errors.New("unexpected session timezone")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
