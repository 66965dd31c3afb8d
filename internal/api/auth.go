package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/metrics"
	"github.com/nwvaras/lebrely-backend/internal/models"
)

type signUpResponse struct {
	Message                   string       `json:"message"`
	User                      *models.User `json:"user"`
	EmailConfirmationRequired bool         `json:"email_confirmation_required"`
	AccessToken               string       `json:"access_token"`
	RefreshToken              string       `json:"refresh_token"`
	TokenType                 string       `json:"token_type"`
	ExpiresAt                 time.Time    `json:"expires_at"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         *models.User `json:"user"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) tokenResponse(res *auth.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		TokenType:    res.Tokens.TokenType,
		ExpiresAt:    res.Tokens.ExpiresAt,
		User:         s.present(res.User),
	}
}

// handleSignUp handles POST /auth/signup
func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	var req auth.SignUpInput
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	res, err := s.auth.SignUp(ctx, req)
	metrics.AuthEvent("signup", err)
	if err != nil {
		var inputErr *auth.InputError
		switch {
		case errors.As(err, &inputErr):
			respondError(w, http.StatusBadRequest, inputErr.Message)
		case errors.Is(err, db.ErrEmailTaken):
			respondError(w, http.StatusBadRequest, "Email already registered")
		default:
			log.Error("Failed to sign up", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to create account")
		}
		return
	}

	respondJSON(w, http.StatusCreated, signUpResponse{
		Message:                   "User created and signed in successfully",
		User:                      s.present(res.User),
		EmailConfirmationRequired: false,
		AccessToken:               res.Tokens.AccessToken,
		RefreshToken:              res.Tokens.RefreshToken,
		TokenType:                 res.Tokens.TokenType,
		ExpiresAt:                 res.Tokens.ExpiresAt,
	})
}

// handleSignIn handles POST /auth/signin
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	res, err := s.auth.SignIn(ctx, req.Email, req.Password)
	metrics.AuthEvent("signin", err)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrAccountLocked):
			log.Warn("Login attempt on locked account")
			respondError(w, http.StatusForbidden, "Account is temporarily locked. Please try again later.")
		case errors.Is(err, db.ErrInvalidCredentials):
			log.Warn("Failed login attempt")
			w.Header().Set("WWW-Authenticate", "Bearer")
			respondError(w, http.StatusUnauthorized, "Invalid email or password")
		default:
			log.Error("Password authentication error", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to sign in")
		}
		return
	}

	log.Info("Password login successful", "user_id", res.User.ID)
	respondJSON(w, http.StatusOK, s.tokenResponse(res))
}

// handleSignOut handles POST /auth/signout
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.AccessTokenFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	err := s.auth.SignOut(ctx, token)
	metrics.AuthEvent("signout", err)
	if err != nil && !errors.Is(err, auth.ErrInvalidToken) {
		logger.Ctx(r.Context()).Error("Failed to sign out", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to sign out")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Successfully signed out"})
}

// handleRefresh handles POST /auth/refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	res, err := s.auth.Refresh(ctx, req.RefreshToken)
	metrics.AuthEvent("refresh", err)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			w.Header().Set("WWW-Authenticate", "Bearer")
			respondError(w, http.StatusUnauthorized, "Invalid refresh token")
		case errors.Is(err, auth.ErrInactiveUser):
			respondError(w, http.StatusUnauthorized, "User account is inactive")
		default:
			logger.Ctx(r.Context()).Error("Failed to refresh token", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to refresh token")
		}
		return
	}

	respondJSON(w, http.StatusOK, s.tokenResponse(res))
}

// handleResetPassword handles POST /auth/reset-password.
// The response does not reveal whether the email is registered.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	err := s.auth.RequestPasswordReset(ctx, req.Email)
	metrics.AuthEvent("password_reset_request", err)
	if err != nil {
		var inputErr *auth.InputError
		if errors.As(err, &inputErr) {
			respondError(w, http.StatusBadRequest, inputErr.Message)
			return
		}
		logger.Ctx(r.Context()).Error("Failed to request password reset", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to send password reset email")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Password reset email sent"})
}

// handleResetPasswordConfirm handles POST /auth/reset-password/confirm
func (s *Server) handleResetPasswordConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	err := s.auth.ResetPassword(ctx, req.Token, req.Password)
	metrics.AuthEvent("password_reset", err)
	if err != nil {
		var inputErr *auth.InputError
		switch {
		case errors.As(err, &inputErr):
			respondError(w, http.StatusBadRequest, inputErr.Message)
		case errors.Is(err, auth.ErrInvalidToken):
			respondError(w, http.StatusBadRequest, "Invalid or expired reset token")
		default:
			logger.Ctx(r.Context()).Error("Failed to reset password", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to reset password")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
}

// handleGetMe returns the authenticated user
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, s.present(user))
}
