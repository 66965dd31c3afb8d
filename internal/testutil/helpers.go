package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/models"
)

// TestPassword is the password of every user created by CreateTestUser
const TestPassword = "test-password-123"

// FastPasswordHashing switches bcrypt to its minimum cost for the test
func FastPasswordHashing(t *testing.T) {
	t.Helper()
	t.Cleanup(auth.SetHashCostForTest(bcrypt.MinCost))
}

// CreateTestUser creates an active user with a password identity
func CreateTestUser(t *testing.T, env *TestEnvironment, email, name string) *models.User {
	t.Helper()
	return createPasswordUser(t, env, email, name, false)
}

// CreateTestAdmin creates an active admin with a password identity
func CreateTestAdmin(t *testing.T, env *TestEnvironment, email, name string) *models.User {
	t.Helper()
	return createPasswordUser(t, env, email, name, true)
}

func createPasswordUser(t *testing.T, env *TestEnvironment, email, name string, isAdmin bool) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash test password: %v", err)
	}

	user, err := env.DB.CreatePasswordUser(env.Ctx, db.NewPasswordUser{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		IsAdmin:      isAdmin,
	})
	if err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// DeactivateTestUser flips is_active off without going through the API
func DeactivateTestUser(t *testing.T, env *TestEnvironment, userID int64) {
	t.Helper()
	if err := env.DB.DeactivateUser(env.Ctx, userID); err != nil {
		t.Fatalf("failed to deactivate test user: %v", err)
	}
}

// TestTokens holds the raw tokens of a session created for a test
type TestTokens struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
}

// CreateTestSession opens a bearer-token session that expires in an hour
func CreateTestSession(t *testing.T, env *TestEnvironment, userID int64) *TestTokens {
	t.Helper()
	return CreateTestSessionExpiring(t, env, userID, time.Now().UTC().Add(time.Hour))
}

// CreateTestSessionExpiring opens a session whose access token expires at
// accessExpiresAt. The refresh token lives a day longer.
func CreateTestSessionExpiring(t *testing.T, env *TestEnvironment, userID int64, accessExpiresAt time.Time) *TestTokens {
	t.Helper()

	access, accessHash, err := auth.GenerateToken(auth.AccessTokenPrefix)
	if err != nil {
		t.Fatalf("failed to generate access token: %v", err)
	}
	refresh, refreshHash, err := auth.GenerateToken(auth.RefreshTokenPrefix)
	if err != nil {
		t.Fatalf("failed to generate refresh token: %v", err)
	}

	session, err := env.DB.CreateAuthSession(env.Ctx, db.NewAuthSession{
		ID:               uuid.NewString(),
		UserID:           userID,
		AccessTokenHash:  accessHash,
		RefreshTokenHash: refreshHash,
		AccessExpiresAt:  accessExpiresAt.UTC(),
		RefreshExpiresAt: accessExpiresAt.UTC().Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to create test session: %v", err)
	}

	return &TestTokens{
		SessionID:    session.ID,
		AccessToken:  access,
		RefreshToken: refresh,
	}
}

// CreateTestResetToken stores a reset token and returns the raw value
func CreateTestResetToken(t *testing.T, env *TestEnvironment, userID int64, expiresAt time.Time) string {
	t.Helper()

	raw, hash, err := auth.GenerateToken(auth.ResetTokenPrefix)
	if err != nil {
		t.Fatalf("failed to generate reset token: %v", err)
	}
	if err := env.DB.CreatePasswordResetToken(env.Ctx, userID, hash, expiresAt.UTC()); err != nil {
		t.Fatalf("failed to create reset token: %v", err)
	}
	return raw
}
