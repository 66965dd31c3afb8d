package models

import "time"

// User is a local account. Timestamps are always UTC.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarKey *string   `json:"-"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	IsActive  bool      `json:"is_active"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserCreate is the payload for creating a user without credentials
type UserCreate struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email,max=254"`
}

// UserUpdate holds optional fields; nil means "leave unchanged"
type UserUpdate struct {
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// IsEmpty reports whether no field is set
func (u UserUpdate) IsEmpty() bool {
	return u.Name == nil && u.Email == nil && u.IsActive == nil
}

// AuthSession is a bearer-token session. Only hashes of the tokens are stored.
type AuthSession struct {
	ID               string     `json:"id"`
	UserID           int64      `json:"user_id"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// TokenPair is what a client receives after signing in or refreshing
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenTypeBearer is the only token type issued
const TokenTypeBearer = "bearer"
