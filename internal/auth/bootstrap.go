package auth

import (
	"context"
	"fmt"

	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/models"
	"github.com/nwvaras/lebrely-backend/internal/validation"
)

// BootstrapStore is what BootstrapAdmin needs from the database
type BootstrapStore interface {
	CountUsers(ctx context.Context) (int, error)
	CreatePasswordUser(ctx context.Context, params db.NewPasswordUser) (*models.User, error)
}

// BootstrapAdmin creates the initial admin user.
// Only runs if no users exist in the database.
func BootstrapAdmin(ctx context.Context, store BootstrapStore, emailAddr, password string) error {
	log := logger.Ctx(ctx)

	count, err := store.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		log.Info("Users exist, skipping admin bootstrap", "user_count", count)
		return nil
	}

	if emailAddr == "" || password == "" {
		return fmt.Errorf("ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD are required when no users exist")
	}

	emailAddr = validation.NormalizeEmail(emailAddr)
	if !validation.IsValidEmail(emailAddr) {
		return fmt.Errorf("ADMIN_BOOTSTRAP_EMAIL is not a valid email address")
	}
	if err := validation.ValidatePassword(password); err != nil {
		return fmt.Errorf("ADMIN_BOOTSTRAP_PASSWORD: %w", err)
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	user, err := store.CreatePasswordUser(ctx, db.NewPasswordUser{
		Name:         validation.LocalPart(emailAddr),
		Email:        emailAddr,
		PasswordHash: passwordHash,
		IsAdmin:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	log.Warn("=== ADMIN USER CREATED ===",
		"email", emailAddr,
		"user_id", user.ID,
		"hint", "Change this password after first login")
	return nil
}
