package auth_test

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/email"
	"github.com/nwvaras/lebrely-backend/internal/testutil"
)

func TestService_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := testutil.SetupTestEnvironment(t)
	testutil.FastPasswordHashing(t)

	mailer := email.NewMockService()
	svc := auth.NewService(env.DB, mailer, auth.Config{FrontendURL: "http://localhost:3000"})

	t.Run("sign up, sign in, refresh, sign out", func(t *testing.T) {
		env.CleanDB(t)

		signup, err := svc.SignUp(env.Ctx, auth.SignUpInput{Email: "ada@example.com", Password: "password123", Name: "Ada"})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if signup.User.CreatedAt.Location() != time.UTC {
			t.Errorf("created_at location = %v, want UTC", signup.User.CreatedAt.Location())
		}

		signin, err := svc.SignIn(env.Ctx, "ada@example.com", "password123")
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}

		refreshed, err := svc.Refresh(env.Ctx, signin.Tokens.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		if _, err := svc.CurrentUser(env.Ctx, signin.Tokens.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("rotated access token should be invalid, got %v", err)
		}

		if err := svc.SignOut(env.Ctx, refreshed.Tokens.AccessToken); err != nil {
			t.Fatalf("SignOut failed: %v", err)
		}
		if _, err := svc.CurrentUser(env.Ctx, refreshed.Tokens.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("signed-out token should be invalid, got %v", err)
		}
		if _, err := svc.Refresh(env.Ctx, refreshed.Tokens.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("refresh of revoked session should fail, got %v", err)
		}

		// The first session from sign up is still live
		if _, err := svc.CurrentUser(env.Ctx, signup.Tokens.AccessToken); err != nil {
			t.Errorf("sign-up session should be unaffected: %v", err)
		}
	})

	t.Run("duplicate sign up", func(t *testing.T) {
		env.CleanDB(t)
		testutil.CreateTestUser(t, env, "ada@example.com", "Ada")

		_, err := svc.SignUp(env.Ctx, auth.SignUpInput{Email: "ADA@example.com", Password: "password123"})
		if !errors.Is(err, db.ErrEmailTaken) {
			t.Errorf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("lockout after repeated failures", func(t *testing.T) {
		env.CleanDB(t)
		testutil.CreateTestUser(t, env, "ada@example.com", "Ada")

		for i := 1; i < db.MaxFailedAttempts; i++ {
			if _, err := svc.SignIn(env.Ctx, "ada@example.com", "wrong"); !errors.Is(err, db.ErrInvalidCredentials) {
				t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
			}
		}
		if _, err := svc.SignIn(env.Ctx, "ada@example.com", "wrong"); !errors.Is(err, db.ErrAccountLocked) {
			t.Fatalf("expected ErrAccountLocked on attempt %d, got %v", db.MaxFailedAttempts, err)
		}
		if _, err := svc.SignIn(env.Ctx, "ada@example.com", testutil.TestPassword); !errors.Is(err, db.ErrAccountLocked) {
			t.Errorf("correct password during lockout: expected ErrAccountLocked, got %v", err)
		}
	})

	t.Run("inactive user cannot sign in", func(t *testing.T) {
		env.CleanDB(t)
		user := testutil.CreateTestUser(t, env, "ada@example.com", "Ada")
		testutil.DeactivateTestUser(t, env, user.ID)

		if _, err := svc.SignIn(env.Ctx, "ada@example.com", testutil.TestPassword); !errors.Is(err, db.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("password reset revokes sessions", func(t *testing.T) {
		env.CleanDB(t)
		user := testutil.CreateTestUser(t, env, "ada@example.com", "Ada")
		tokens := testutil.CreateTestSession(t, env, user.ID)

		if err := svc.RequestPasswordReset(env.Ctx, "ada@example.com"); err != nil {
			t.Fatalf("RequestPasswordReset failed: %v", err)
		}
		sent := mailer.Sent()
		if len(sent) == 0 {
			t.Fatal("expected a reset email")
		}
		link, err := url.Parse(sent[len(sent)-1].ResetURL)
		if err != nil {
			t.Fatalf("bad reset URL: %v", err)
		}

		if err := svc.ResetPassword(env.Ctx, link.Query().Get("token"), "brand-new-pass"); err != nil {
			t.Fatalf("ResetPassword failed: %v", err)
		}
		if _, err := svc.CurrentUser(env.Ctx, tokens.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("existing session should be revoked, got %v", err)
		}
		if _, err := svc.SignIn(env.Ctx, "ada@example.com", "brand-new-pass"); err != nil {
			t.Errorf("sign in with new password failed: %v", err)
		}
	})

	t.Run("expired reset token", func(t *testing.T) {
		env.CleanDB(t)
		user := testutil.CreateTestUser(t, env, "ada@example.com", "Ada")
		token := testutil.CreateTestResetToken(t, env, user.ID, time.Now().Add(-time.Minute))

		if err := svc.ResetPassword(env.Ctx, token, "brand-new-pass"); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired access token", func(t *testing.T) {
		env.CleanDB(t)
		user := testutil.CreateTestUser(t, env, "ada@example.com", "Ada")
		tokens := testutil.CreateTestSessionExpiring(t, env, user.ID, time.Now().Add(-time.Minute))

		if _, err := svc.CurrentUser(env.Ctx, tokens.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
		// Refresh still works inside the refresh window
		if _, err := svc.Refresh(env.Ctx, tokens.RefreshToken); err != nil {
			t.Errorf("refresh within window failed: %v", err)
		}
	})

	t.Run("bootstrap admin", func(t *testing.T) {
		env.CleanDB(t)

		if err := auth.BootstrapAdmin(env.Ctx, env.DB, "admin@example.com", "admin-password"); err != nil {
			t.Fatalf("BootstrapAdmin failed: %v", err)
		}
		admin, err := env.DB.GetUserByEmail(env.Ctx, "admin@example.com")
		if err != nil {
			t.Fatalf("admin not found: %v", err)
		}
		if !admin.IsAdmin {
			t.Error("bootstrapped user should be admin")
		}

		// Second run is a no-op
		if err := auth.BootstrapAdmin(env.Ctx, env.DB, "other@example.com", "admin-password"); err != nil {
			t.Fatalf("second BootstrapAdmin failed: %v", err)
		}
		if n, _ := env.DB.CountUsers(env.Ctx); n != 1 {
			t.Errorf("expected 1 user, got %d", n)
		}
	})
}
