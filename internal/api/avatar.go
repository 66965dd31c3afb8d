package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/storage"
)

// MaxAvatarSize is the largest accepted avatar upload
const MaxAvatarSize = 2 << 20

// avatarTypes maps sniffed content types to object key extensions
var avatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// handleUploadAvatar handles PUT /auth/me/avatar. The body is the raw image.
func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "Avatar storage is not configured")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, MaxAvatarSize+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "Request body is required")
		return
	}
	if len(data) > MaxAvatarSize {
		respondError(w, http.StatusRequestEntityTooLarge, "Avatar must be at most 2 MiB")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := avatarTypes[contentType]
	if !ok {
		respondError(w, http.StatusUnsupportedMediaType, "Avatar must be a PNG, JPEG, GIF or WebP image")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*DatabaseTimeout)
	defer cancel()

	key := storage.AvatarKey(user.ID, ext)
	if err := s.storage.Upload(ctx, key, contentType, data); err != nil {
		log.Error("Failed to upload avatar", "error", err)
		respondError(w, http.StatusBadGateway, "Failed to store avatar")
		return
	}

	updated, err := s.db.SetUserAvatar(ctx, user.ID, &key)
	if err != nil {
		log.Error("Failed to save avatar key", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to save avatar")
		return
	}

	// A different extension leaves the previous object behind
	if user.AvatarKey != nil && *user.AvatarKey != key {
		if err := s.storage.Delete(ctx, *user.AvatarKey); err != nil {
			log.Warn("Failed to delete previous avatar", "error", err, "key", *user.AvatarKey)
		}
	}

	log.Info("Avatar updated", "size", len(data), "content_type", contentType)
	respondJSON(w, http.StatusOK, s.present(updated))
}

// handleGetAvatar handles GET /users/{id}/avatar
func (s *Server) handleGetAvatar(w http.ResponseWriter, r *http.Request) {
	log := logger.Ctx(r.Context())

	userID, ok := parseUserID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*DatabaseTimeout)
	defer cancel()

	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error("Failed to get user", "error", err, "target_user_id", userID)
		respondError(w, http.StatusInternalServerError, "Failed to get avatar")
		return
	}
	if user.AvatarKey == nil || s.storage == nil {
		respondError(w, http.StatusNotFound, "Avatar not found")
		return
	}

	obj, err := s.storage.Download(ctx, *user.AvatarKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			respondError(w, http.StatusNotFound, "Avatar not found")
			return
		}
		log.Error("Failed to download avatar", "error", err, "target_user_id", userID)
		respondError(w, http.StatusBadGateway, "Failed to get avatar")
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}
