package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nwvaras/lebrely-backend/internal/api"
	"github.com/nwvaras/lebrely-backend/internal/auth"
	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/email"
	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/storage"
)

var version string

var envFile string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Lebrely backend API",
	Long: `Serves the Lebrely HTTP API. Configuration comes from the environment,
optionally loaded from a .env file (--env-file or ENV_FILE).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile); err != nil {
			return err
		}
		logger.ConfigureFromEnv()
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default: ENV_FILE or ./.env)")
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("command failed", "error", err)
	}
}

func runServer() {
	config := loadConfig()

	// Start pprof debug server if enabled (for memory/CPU profiling)
	if config.EnablePprof {
		go startPprofServer()
	}

	// Configured via OTEL_SERVICE_NAME, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_HEADERS
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		// Non-fatal: continue without tracing if OTEL env vars not set
		logger.Warn("failed to configure OpenTelemetry", "error", err)
	} else {
		defer otelShutdown()
	}

	database, err := db.Connect(config.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	if err := database.EnsureTimezone(startupCtx); err != nil {
		logger.Fatal("database session timezone check failed", "error", err,
			"hint", "run deploy/postgres/initdb/01-init.sql or `server migrate`")
	}

	if config.Admin.Set() {
		if err := auth.BootstrapAdmin(startupCtx, database, config.Admin.Email, config.Admin.Password); err != nil {
			logger.Fatal("failed to bootstrap admin user", "error", err)
		}
	}

	// Avatar storage is optional
	var store *storage.S3Storage
	if config.S3.Enabled() {
		store, err = storage.NewS3Storage(startupCtx, config.S3)
		if err != nil {
			logger.Fatal("failed to initialize storage", "error", err)
		}
		logger.Info("avatar storage configured", "endpoint", config.S3.Endpoint, "bucket", config.S3.BucketName)
	} else {
		logger.Info("avatar storage disabled (S3_ENDPOINT, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY or BUCKET_NAME not set)")
	}

	var mailer email.Service = email.LogService{}
	if config.Email.Enabled {
		resend := email.NewResendService(config.Email.APIKey, config.Email.FromAddress, config.Email.FromName)
		mailer = email.NewRateLimitedService(resend, config.Email.RateLimitPerHour)
		logger.Info("email service configured", "provider", "resend", "rate_limit_per_hour", config.Email.RateLimitPerHour)
	} else {
		logger.Info("email service disabled (RESEND_API_KEY or EMAIL_FROM_ADDRESS not set), reset links are logged")
	}

	authService := auth.NewService(database, mailer, config.Auth)

	server := api.NewServer(database, authService, store, config.API)
	defer server.Close()

	handler := otelhttp.NewHandler(server.SetupRoutes(), "lebrely-backend")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go NewCleaner(database, config.Cleanup).Run(ctx)

	go func() {
		logger.Info("starting server", "port", config.Port, "version", version, "environment", config.Environment)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}

func runMigrate() error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("missing required env var DATABASE_URL")
	}

	logger.Info("applying database migrations")
	if err := db.RunMigrations(databaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}

// startPprofServer serves pprof on localhost:6060 only.
func startPprofServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	addr := "127.0.0.1:6060"
	logger.Info("pprof debug server starting", "addr", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("pprof server failed", "error", err)
	}
}
