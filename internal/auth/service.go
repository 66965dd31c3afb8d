package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/email"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/models"
	"github.com/nwvaras/lebrely-backend/internal/validation"
)

var (
	// ErrInvalidToken covers missing, malformed, expired and revoked tokens
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInactiveUser is returned when a disabled account uses a valid token
	ErrInactiveUser = errors.New("user account is inactive")
)

// InputError is a client mistake in a request payload
type InputError struct {
	Message string
}

func (e *InputError) Error() string { return e.Message }

func inputErrorf(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// Store is the persistence the auth service needs. *db.DB implements it.
type Store interface {
	CreatePasswordUser(ctx context.Context, params db.NewPasswordUser) (*models.User, error)
	AuthenticatePassword(ctx context.Context, email, password string) (*models.User, error)
	GetUserByID(ctx context.Context, userID int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateAuthSession(ctx context.Context, params db.NewAuthSession) (*models.AuthSession, error)
	GetSessionByAccessToken(ctx context.Context, accessTokenHash string) (*models.AuthSession, error)
	RotateSession(ctx context.Context, refreshTokenHash string, next db.NewAuthSession) (*models.AuthSession, error)
	RevokeSessionByAccessToken(ctx context.Context, accessTokenHash string) error
	CreatePasswordResetToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	ConsumePasswordResetToken(ctx context.Context, tokenHash, passwordHash string) (int64, error)
}

// Config holds token lifetimes and the frontend used in emailed links
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration
	FrontendURL     string
}

// Default token lifetimes
const (
	DefaultAccessTokenTTL  = 30 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultResetTokenTTL   = time.Hour
)

// Service implements sign-up, sign-in, token refresh and password reset
type Service struct {
	store  Store
	mailer email.Service
	config Config
	now    func() time.Time
}

// NewService creates the auth service. A nil mailer logs reset links instead.
func NewService(store Store, mailer email.Service, config Config) *Service {
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = DefaultResetTokenTTL
	}
	if mailer == nil {
		mailer = email.LogService{}
	}
	return &Service{
		store:  store,
		mailer: mailer,
		config: config,
		now:    time.Now,
	}
}

// AuthResult is returned by every call that issues tokens
type AuthResult struct {
	User   *models.User
	Tokens models.TokenPair
}

// SignUpInput is the sign-up payload
type SignUpInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name,omitempty"`
}

// SignUp creates a password account and opens its first session.
// The name defaults to the local part of the email.
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (*AuthResult, error) {
	if err := validation.Struct(input); err != nil {
		return nil, &InputError{Message: err.Error()}
	}

	addr := validation.NormalizeEmail(input.Email)
	if !validation.IsValidEmail(addr) {
		return nil, inputErrorf("email must be a valid email address")
	}
	if err := validation.ValidatePassword(input.Password); err != nil {
		return nil, &InputError{Message: err.Error()}
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = validation.LocalPart(addr)
	}
	if err := validation.ValidateName(name); err != nil {
		return nil, &InputError{Message: err.Error()}
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.store.CreatePasswordUser(ctx, db.NewPasswordUser{
		Name:         name,
		Email:        addr,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := s.openSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info("user signed up", "user_id", user.ID)
	return &AuthResult{User: user, Tokens: *tokens}, nil
}

// SignIn checks the credentials and opens a session.
// Returns db.ErrInvalidCredentials or db.ErrAccountLocked on failure.
func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (*AuthResult, error) {
	addr := validation.NormalizeEmail(emailAddr)
	if addr == "" || password == "" {
		return nil, db.ErrInvalidCredentials
	}

	user, err := s.store.AuthenticatePassword(ctx, addr, password)
	if err != nil {
		return nil, err
	}

	tokens, err := s.openSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tokens: *tokens}, nil
}

// SignOut revokes the session owning the access token
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if !hasTokenShape(accessToken, AccessTokenPrefix) {
		return ErrInvalidToken
	}
	err := s.store.RevokeSessionByAccessToken(ctx, HashToken(accessToken))
	if errors.Is(err, db.ErrSessionNotFound) {
		return ErrInvalidToken
	}
	return err
}

// Refresh rotates both tokens of the session owning the refresh token
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if !hasTokenShape(refreshToken, RefreshTokenPrefix) {
		return nil, ErrInvalidToken
	}

	tokens, next, err := s.newTokens()
	if err != nil {
		return nil, err
	}

	session, err := s.store.RotateSession(ctx, HashToken(refreshToken), *next)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &AuthResult{User: user, Tokens: *tokens}, nil
}

// CurrentUser resolves the user behind an access token
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*models.User, error) {
	if !hasTokenShape(accessToken, AccessTokenPrefix) {
		return nil, ErrInvalidToken
	}

	session, err := s.store.GetSessionByAccessToken(ctx, HashToken(accessToken))
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}

// RequestPasswordReset emails a single-use reset link when the account
// exists. Unknown addresses and mail failures are not reported to the caller.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	log := logger.Ctx(ctx)
	addr := validation.NormalizeEmail(emailAddr)
	if !validation.IsValidEmail(addr) {
		return inputErrorf("email must be a valid email address")
	}

	user, err := s.store.GetUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			log.Info("password reset requested for unknown email")
			return nil
		}
		return err
	}
	if !user.IsActive {
		log.Info("password reset requested for inactive user", "user_id", user.ID)
		return nil
	}

	raw, hash, err := GenerateToken(ResetTokenPrefix)
	if err != nil {
		return err
	}
	expiresAt := s.now().UTC().Add(s.config.ResetTokenTTL)
	if err := s.store.CreatePasswordResetToken(ctx, user.ID, hash, expiresAt); err != nil {
		return err
	}

	err = s.mailer.SendPasswordReset(ctx, email.PasswordResetParams{
		ToEmail:   user.Email,
		Name:      user.Name,
		ResetURL:  s.resetURL(raw),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		if errors.Is(err, email.ErrRateLimitExceeded) {
			log.Warn("password reset email rate limited", "user_id", user.ID)
			return nil
		}
		log.Error("failed to send password reset email", "error", err, "user_id", user.ID)
		return nil
	}

	log.Info("password reset email sent", "user_id", user.ID)
	return nil
}

// ResetPassword consumes a reset token and sets a new password. Every
// session of the user is revoked.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validation.ValidatePassword(newPassword); err != nil {
		return &InputError{Message: err.Error()}
	}
	if !hasTokenShape(token, ResetTokenPrefix) {
		return ErrInvalidToken
	}

	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	userID, err := s.store.ConsumePasswordResetToken(ctx, HashToken(token), passwordHash)
	if err != nil {
		if errors.Is(err, db.ErrResetTokenNotFound) || errors.Is(err, db.ErrUserNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	logger.Ctx(ctx).Info("password reset completed", "user_id", userID)
	return nil
}

func (s *Service) resetURL(token string) string {
	base := strings.TrimRight(s.config.FrontendURL, "/")
	return base + "/reset-password?token=" + url.QueryEscape(token)
}

func (s *Service) newTokens() (*models.TokenPair, *db.NewAuthSession, error) {
	access, accessHash, err := GenerateToken(AccessTokenPrefix)
	if err != nil {
		return nil, nil, err
	}
	refresh, refreshHash, err := GenerateToken(RefreshTokenPrefix)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	next := &db.NewAuthSession{
		ID:               uuid.NewString(),
		AccessTokenHash:  accessHash,
		RefreshTokenHash: refreshHash,
		AccessExpiresAt:  now.Add(s.config.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.config.RefreshTokenTTL),
	}
	pair := &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    models.TokenTypeBearer,
		ExpiresAt:    next.AccessExpiresAt,
	}
	return pair, next, nil
}

func (s *Service) openSession(ctx context.Context, userID int64) (*models.TokenPair, error) {
	pair, next, err := s.newTokens()
	if err != nil {
		return nil, err
	}
	next.UserID = userID
	if _, err := s.store.CreateAuthSession(ctx, *next); err != nil {
		return nil, err
	}
	return pair, nil
}
