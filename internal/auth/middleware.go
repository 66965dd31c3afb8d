package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/models"
)

type contextKey string

const (
	userContextKey        contextKey = "user"
	accessTokenContextKey contextKey = "accessToken"
)

// UserResolver turns an access token into a user. *Service implements it.
type UserResolver interface {
	CurrentUser(ctx context.Context, accessToken string) (*models.User, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireUser rejects requests without a valid access token and stores the
// user in the request context.
func RequireUser(resolver UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				unauthorized(w, "Not authenticated")
				return
			}

			user, err := resolver.CurrentUser(r.Context(), token)
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) {
					logger.Ctx(r.Context()).Error("failed to resolve access token", "error", err)
					writeDetail(w, http.StatusInternalServerError, "Internal server error")
					return
				}
				unauthorized(w, "Could not validate credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user, token)))
		})
	}
}

// OptionalUser attaches the user when a valid token is present and lets
// every request through.
func OptionalUser(resolver UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := BearerToken(r); ok {
				if user, err := resolver.CurrentUser(r.Context(), token); err == nil {
					r = r.WithContext(withUser(r.Context(), user, token))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireActive must run after RequireUser
func RequireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			unauthorized(w, "Not authenticated")
			return
		}
		if !user.IsActive {
			unauthorized(w, "User account is inactive")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin must run after RequireUser
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			unauthorized(w, "Not authenticated")
			return
		}
		if !user.IsActive || !user.IsAdmin {
			writeDetail(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withUser(ctx context.Context, user *models.User, token string) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	ctx = context.WithValue(ctx, accessTokenContextKey, token)
	return logger.WithLogger(ctx, logger.Ctx(ctx).With("user_id", user.ID))
}

// UserFromContext returns the authenticated user
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok && user != nil
}

// GetUserID extracts the authenticated user's ID from the context
func GetUserID(ctx context.Context) (int64, bool) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return 0, false
	}
	return user.ID, true
}

// AccessTokenFromContext returns the raw access token of the request
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenContextKey).(string)
	return token, ok
}

// SetUserForTest injects a user into the context. Test use only.
func SetUserForTest(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeDetail(w, http.StatusUnauthorized, detail)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
