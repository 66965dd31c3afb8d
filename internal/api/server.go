package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/clientip"
	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/metrics"
	"github.com/nwvaras/lebrely-backend/internal/ratelimit"
	"github.com/nwvaras/lebrely-backend/internal/storage"
)

const (
	// DatabaseTimeout is the maximum duration for database operations
	DatabaseTimeout = 5 * time.Second

	// MaxJSONBodySize bounds every JSON request body
	MaxJSONBodySize = 1 << 20

	// DefaultAPIPrefix is used when Config.APIPrefix is empty
	DefaultAPIPrefix = "/api/v1"
)

// Config holds HTTP-level settings
type Config struct {
	ProjectName        string
	APIPrefix          string
	CORSOrigins        []string
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int
	// TrustedProxyHeader is the header the fronting proxy sets to the client
	// address. Empty keys clients by the TCP peer.
	TrustedProxyHeader string
}

// Server holds dependencies for API handlers
type Server struct {
	db          *db.DB
	auth        *auth.Service
	storage     *storage.S3Storage // nil when avatar storage is not configured
	config      Config
	authLimiter ratelimit.RateLimiter
}

// NewServer creates a new API server. store may be nil.
func NewServer(database *db.DB, authService *auth.Service, store *storage.S3Storage, config Config) *Server {
	if config.APIPrefix == "" {
		config.APIPrefix = DefaultAPIPrefix
	}
	if config.ProjectName == "" {
		config.ProjectName = "Lebrely"
	}
	if config.AuthRateLimitRPS <= 0 {
		config.AuthRateLimitRPS = 5
	}
	if config.AuthRateLimitBurst <= 0 {
		config.AuthRateLimitBurst = 10
	}
	return &Server{
		db:          database,
		auth:        authService,
		storage:     store,
		config:      config,
		authLimiter: ratelimit.NewInMemoryRateLimiter(config.AuthRateLimitRPS, config.AuthRateLimitBurst),
	}
}

// Close releases background resources held by the server
func (s *Server) Close() {
	if l, ok := s.authLimiter.(*ratelimit.InMemoryRateLimiter); ok {
		l.Stop()
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(clientip.Middleware(s.config.TrustedProxyHeader))
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(spanEnricher)
	r.Use(cors.Handler(corsOptions(s.config.CORSOrigins)))
	r.Use(decompressMiddleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	requireUser := auth.RequireUser(s.auth)

	r.Route(s.config.APIPrefix, func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(ratelimit.Middleware(s.authLimiter, "auth"))
				r.Post("/signup", s.handleSignUp)
				r.Post("/signin", s.handleSignIn)
				r.Post("/refresh", s.handleRefresh)
				r.Post("/reset-password", s.handleResetPassword)
				r.Post("/reset-password/confirm", s.handleResetPasswordConfirm)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireUser)
				r.Post("/signout", s.handleSignOut)
				r.Get("/me", s.handleGetMe)

				r.Group(func(r chi.Router) {
					r.Use(auth.RequireActive)
					r.Get("/me/profile", s.handleGetMe)
					r.Put("/me/avatar", s.handleUploadAvatar)
				})
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(requireUser)
			r.Get("/{id}/avatar", s.handleGetAvatar)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{id}", s.handleGetUser)
				r.Put("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})
		})
	})

	return r
}

// corsOptions allows credentials and every method and header for the
// configured origins. "*" cannot be combined with credentials, so it is
// expanded to an origin check that accepts everything.
func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           600,
	}
	for _, o := range origins {
		if o == "*" {
			opts.AllowedOrigins = nil
			opts.AllowOriginFunc = func(r *http.Request, origin string) bool { return true }
			break
		}
	}
	return opts
}

// ParseCORSOrigins accepts a comma-separated list or a JSON array of origins.
// Trailing slashes are dropped since browsers never send them.
func ParseCORSOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var items []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("invalid JSON list of origins: %w", err)
		}
	} else {
		items = strings.Split(raw, ",")
	}

	origins := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimRight(strings.TrimSpace(item), "/")
		if item != "" {
			origins = append(origins, item)
		}
	}
	return origins, nil
}

// handleRoot returns the welcome message
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Welcome to the %s backend!", s.config.ProjectName),
	})
}

// handleHealth reports whether the database is reachable
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		logger.Ctx(r.Context()).Error("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes {"detail": message}
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"detail": message})
}

// decodeJSON reads a bounded JSON body into v. On failure it writes the
// error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		case errors.Is(err, io.EOF):
			respondError(w, http.StatusBadRequest, "Request body is required")
		default:
			respondError(w, http.StatusBadRequest, "Invalid request body")
		}
		return false
	}
	return true
}
