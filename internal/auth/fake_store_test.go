package auth

import (
	"context"
	"sync"
	"time"

	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/models"
)

// fakeStore is an in-memory Store for unit tests
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]*models.User
	passwords map[int64]string
	sessions  map[string]*fakeSession // keyed by access hash
	resets    map[string]*fakeReset
	now       func() time.Time
}

type fakeSession struct {
	session     models.AuthSession
	refreshHash string
}

type fakeReset struct {
	userID    int64
	expiresAt time.Time
	used      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[int64]*models.User),
		passwords: make(map[int64]string),
		sessions:  make(map[string]*fakeSession),
		resets:    make(map[string]*fakeReset),
		now:       time.Now,
	}
}

func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

func (f *fakeStore) CreatePasswordUser(ctx context.Context, params db.NewPasswordUser) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == params.Email {
			return nil, db.ErrEmailTaken
		}
	}
	f.nextID++
	now := f.now().UTC()
	u := &models.User{
		ID:        f.nextID,
		Name:      params.Name,
		Email:     params.Email,
		IsActive:  true,
		IsAdmin:   params.IsAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.users[u.ID] = u
	f.passwords[u.ID] = params.PasswordHash
	copied := *u
	return &copied, nil
}

func (f *fakeStore) AuthenticatePassword(ctx context.Context, email, password string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.Email != email {
			continue
		}
		if !CheckPassword(f.passwords[id], password) || !u.IsActive {
			return nil, db.ErrInvalidCredentials
		}
		copied := *u
		return &copied, nil
	}
	return nil, db.ErrInvalidCredentials
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (f *fakeStore) CreateAuthSession(ctx context.Context, params db.NewAuthSession) (*models.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{
		session: models.AuthSession{
			ID:               params.ID,
			UserID:           params.UserID,
			AccessExpiresAt:  params.AccessExpiresAt,
			RefreshExpiresAt: params.RefreshExpiresAt,
			CreatedAt:        f.now().UTC(),
		},
		refreshHash: params.RefreshTokenHash,
	}
	f.sessions[params.AccessTokenHash] = s
	copied := s.session
	return &copied, nil
}

func (f *fakeStore) GetSessionByAccessToken(ctx context.Context, accessTokenHash string) (*models.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[accessTokenHash]
	if !ok || s.session.RevokedAt != nil || !s.session.AccessExpiresAt.After(f.now()) {
		return nil, db.ErrSessionNotFound
	}
	copied := s.session
	return &copied, nil
}

func (f *fakeStore) RotateSession(ctx context.Context, refreshTokenHash string, next db.NewAuthSession) (*models.AuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for accessHash, s := range f.sessions {
		if s.refreshHash != refreshTokenHash {
			continue
		}
		if s.session.RevokedAt != nil || !s.session.RefreshExpiresAt.After(f.now()) {
			return nil, db.ErrSessionNotFound
		}
		delete(f.sessions, accessHash)
		s.refreshHash = next.RefreshTokenHash
		s.session.AccessExpiresAt = next.AccessExpiresAt
		s.session.RefreshExpiresAt = next.RefreshExpiresAt
		f.sessions[next.AccessTokenHash] = s
		copied := s.session
		return &copied, nil
	}
	return nil, db.ErrSessionNotFound
}

func (f *fakeStore) RevokeSessionByAccessToken(ctx context.Context, accessTokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[accessTokenHash]
	if !ok || s.session.RevokedAt != nil {
		return db.ErrSessionNotFound
	}
	now := f.now().UTC()
	s.session.RevokedAt = &now
	return nil
}

func (f *fakeStore) CreatePasswordResetToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[tokenHash] = &fakeReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) ConsumePasswordResetToken(ctx context.Context, tokenHash, passwordHash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resets[tokenHash]
	if !ok || r.used || !r.expiresAt.After(f.now()) {
		return 0, db.ErrResetTokenNotFound
	}
	r.used = true
	f.passwords[r.userID] = passwordHash
	now := f.now().UTC()
	for _, s := range f.sessions {
		if s.session.UserID == r.userID && s.session.RevokedAt == nil {
			s.session.RevokedAt = &now
		}
	}
	return r.userID, nil
}

func (f *fakeStore) setActive(userID int64, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].IsActive = active
}
