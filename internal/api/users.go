package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/models"
	"github.com/nwvaras/lebrely-backend/internal/validation"
)

// present returns a copy of the user with avatar_url filled in
func (s *Server) present(user *models.User) *models.User {
	out := *user
	out.AvatarURL = nil
	if user.AvatarKey != nil {
		u := fmt.Sprintf("%s/users/%d/avatar?v=%d", s.config.APIPrefix, user.ID, user.UpdatedAt.Unix())
		out.AvatarURL = &u
	}
	return &out
}

func parseUserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// parseListParams reads skip, limit and active from the query string
func parseListParams(r *http.Request) (skip, limit int, activeOnly bool, err error) {
	q := r.URL.Query()
	limit = db.DefaultUserListLimit

	if v := q.Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			return 0, 0, false, fmt.Errorf("skip must be a non-negative integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, false, fmt.Errorf("limit must be a positive integer")
		}
		if limit > db.MaxUserListLimit {
			limit = db.MaxUserListLimit
		}
	}
	if v := q.Get("active"); v != "" {
		if activeOnly, err = strconv.ParseBool(v); err != nil {
			return 0, 0, false, fmt.Errorf("active must be a boolean")
		}
	}
	return skip, limit, activeOnly, nil
}

// handleListUsers handles GET /users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit, activeOnly, err := parseListParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	users, err := s.db.ListUsers(ctx, skip, limit, activeOnly)
	if err != nil {
		logger.Ctx(r.Context()).Error("Failed to list users", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	out := make([]*models.User, 0, len(users))
	for i := range users {
		out = append(out, s.present(&users[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetUser handles GET /users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		logger.Ctx(r.Context()).Error("Failed to get user", "error", err, "target_user_id", userID)
		respondError(w, http.StatusInternalServerError, "Failed to get user")
		return
	}

	respondJSON(w, http.StatusOK, s.present(user))
}

// handleCreateUser handles POST /users and answers 200 like the other user
// routes. The user has no password until they complete a password reset.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.UserCreate
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateName(req.Name); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	user, err := s.db.CreateUser(ctx, req.Name, validation.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, db.ErrEmailTaken) {
			respondError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		logger.Ctx(r.Context()).Error("Failed to create user", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	logger.Ctx(r.Context()).Info("User created", "target_user_id", user.ID)
	respondJSON(w, http.StatusOK, s.present(user))
}

// handleUpdateUser handles PUT /users/{id}. Only fields present in the body
// change; deactivating a user also revokes their sessions.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	userID, ok := parseUserID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var req models.UserUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name != nil {
		if err := validation.ValidateName(*req.Name); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Email != nil {
		normalized := validation.NormalizeEmail(*req.Email)
		req.Email = &normalized
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	var user *models.User
	var err error
	if req.IsEmpty() {
		user, err = s.db.GetUserByID(ctx, userID)
	} else {
		user, err = s.db.UpdateUser(ctx, userID, req)
	}
	if err != nil {
		switch {
		case errors.Is(err, db.ErrUserNotFound):
			respondError(w, http.StatusNotFound, "User not found")
		case errors.Is(err, db.ErrEmailTaken):
			respondError(w, http.StatusBadRequest, "Email already registered")
		default:
			log.Error("Failed to update user", "error", err, "target_user_id", userID)
			respondError(w, http.StatusInternalServerError, "Failed to update user")
		}
		return
	}

	if req.IsActive != nil && !*req.IsActive {
		n, err := s.db.RevokeUserSessions(ctx, userID)
		if err != nil {
			log.Error("Failed to revoke sessions of deactivated user", "error", err, "target_user_id", userID)
		} else {
			log.Info("User deactivated", "target_user_id", userID, "sessions_revoked", n)
		}
	}

	respondJSON(w, http.StatusOK, s.present(user))
}

// handleDeleteUser handles DELETE /users/{id} (hard delete)
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	userID, ok := parseUserID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	if currentID, _ := auth.GetUserID(r.Context()); currentID == userID {
		respondError(w, http.StatusBadRequest, "You cannot delete your own account")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DatabaseTimeout)
	defer cancel()

	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error("Failed to get user", "error", err, "target_user_id", userID)
		respondError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	if err := s.db.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error("Failed to delete user", "error", err, "target_user_id", userID)
		respondError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	// The row is gone, so a leftover object is only wasted space
	if user.AvatarKey != nil && s.storage != nil {
		if err := s.storage.Delete(ctx, *user.AvatarKey); err != nil {
			log.Warn("Failed to delete avatar of deleted user", "error", err, "target_user_id", userID)
		}
	}

	log.Info("User deleted", "target_user_id", userID)
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("User %s deleted successfully", user.Name),
	})
}
