package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nwvaras/lebrely-backend/internal/db"
	"github.com/nwvaras/lebrely-backend/internal/storage"
)

// TestEnvironment holds test infrastructure (PostgreSQL and optionally MinIO)
type TestEnvironment struct {
	DB                *db.DB
	DSN               string
	Storage           *storage.S3Storage
	PostgresContainer *postgres.PostgresContainer
	MinioContainer    *minio.MinioContainer
	Ctx               context.Context
}

// InitScriptPath returns the absolute path of the first-start init script
func InitScriptPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "deploy", "postgres", "initdb", "01-init.sql")
}

// StartPostgres starts a PostgreSQL container that ran the init script and
// returns it with its connection string. Migrations are not applied.
func StartPostgres(t *testing.T, ctx context.Context) (*postgres.PostgresContainer, string) {
	t.Helper()

	t.Log("Starting PostgreSQL container...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lebrely_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(InitScriptPath()),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get postgres connection string: %v", err)
	}
	return postgresContainer, connStr
}

// SetupTestEnvironment starts a migrated PostgreSQL container
func SetupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	ctx := context.Background()

	postgresContainer, connStr := StartPostgres(t, ctx)

	t.Log("Running database migrations...")
	if err := db.RunMigrations(connStr); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	database, err := db.Connect(connStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	env := &TestEnvironment{
		DB:                database,
		DSN:               connStr,
		PostgresContainer: postgresContainer,
		Ctx:               ctx,
	}

	t.Cleanup(func() {
		env.Cleanup(t)
	})

	t.Log("Test environment ready!")
	return env
}

// SetupTestEnvironmentWithStorage also starts MinIO and creates the bucket
func SetupTestEnvironmentWithStorage(t *testing.T) *TestEnvironment {
	t.Helper()
	env := SetupTestEnvironment(t)

	t.Log("Starting MinIO container...")
	minioContainer, err := minio.Run(env.Ctx,
		"minio/minio:latest",
		minio.WithUsername("minioadmin"),
		minio.WithPassword("minioadmin"),
	)
	if err != nil {
		t.Fatalf("Failed to start minio container: %v", err)
	}
	env.MinioContainer = minioContainer

	minioEndpoint, err := minioContainer.ConnectionString(env.Ctx)
	if err != nil {
		t.Fatalf("Failed to get minio endpoint: %v", err)
	}

	// MinIO needs a moment after the container reports ready
	maxRetries := 10
	for i := 0; i < maxRetries; i++ {
		env.Storage, err = storage.NewS3Storage(env.Ctx, storage.S3Config{
			Endpoint:        minioEndpoint,
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			BucketName:      "lebrely-test",
			CreateBucket:    true,
		})
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			t.Fatalf("Failed to create S3 storage after %d retries: %v", maxRetries, err)
		}
		t.Logf("MinIO not ready yet, retrying... (%d/%d)", i+1, maxRetries)
		time.Sleep(500 * time.Millisecond)
	}

	return env
}

// Cleanup stops containers and closes connections. Safe to call twice.
func (e *TestEnvironment) Cleanup(t *testing.T) {
	t.Helper()

	if e.DB != nil {
		if err := e.DB.Close(); err != nil {
			t.Logf("Warning: failed to close database: %v", err)
		}
		e.DB = nil
	}

	if e.PostgresContainer != nil {
		if err := e.PostgresContainer.Terminate(e.Ctx); err != nil {
			t.Logf("Warning: failed to terminate postgres container: %v", err)
		}
		e.PostgresContainer = nil
	}

	if e.MinioContainer != nil {
		if err := e.MinioContainer.Terminate(e.Ctx); err != nil {
			t.Logf("Warning: failed to terminate minio container: %v", err)
		}
		e.MinioContainer = nil
	}
}

// CleanDB truncates all tables to provide clean state for each test
func (e *TestEnvironment) CleanDB(t *testing.T) {
	t.Helper()

	tables := []string{
		"password_reset_tokens",
		"auth_sessions",
		"identity_passwords",
		"user_identities",
		"users",
	}

	for _, table := range tables {
		query := fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table)
		if _, err := e.DB.Exec(e.Ctx, query); err != nil {
			t.Fatalf("Failed to truncate table %s: %v", table, err)
		}
	}
}
