package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var log *slog.Logger
var logLevel slog.Level

func init() {
	ConfigureFromEnv()
}

// ConfigureFromEnv rebuilds the logger from LOG_LEVEL and DEBUG. Call it
// again after loading a .env file.
func ConfigureFromEnv() {
	logLevel = ParseLevel(os.Getenv("LOG_LEVEL"))
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	log = slog.New(newHandler(os.Stdout))

	// Set as default so any code using slog directly gets JSON output
	slog.SetDefault(log)
}

func newHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
}

// ParseLevel maps debug, info, warn and error (case-insensitive) to a slog level.
// Unknown or empty values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return logLevel == slog.LevelDebug
}

// Info logs an informational message with structured fields
func Info(msg string, args ...any) {
	log.Info(msg, args...)
}

// Warn logs a warning message with structured fields
func Warn(msg string, args ...any) {
	log.Warn(msg, args...)
}

// Error logs an error message with structured fields
func Error(msg string, args ...any) {
	log.Error(msg, args...)
}

// Fatal logs an error message and exits with status 1
func Fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}

// SetOutputForTest redirects log output to w and returns a restore func.
func SetOutputForTest(w io.Writer) func() {
	original := log
	log = slog.New(newHandler(w))
	slog.SetDefault(log)
	return func() {
		log = original
		slog.SetDefault(log)
	}
}
