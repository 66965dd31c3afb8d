package main

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nwvaras/lebrely-backend/internal/logger"
	"github.com/nwvaras/lebrely-backend/internal/metrics"
)

var cleanupTracer = otel.Tracer("lebrely/cleanup")

// expiredDataDeleter is satisfied by *db.DB
type expiredDataDeleter interface {
	DeleteExpiredAuthData(ctx context.Context, retention time.Duration) (int64, error)
}

// Cleaner periodically deletes expired sessions and reset tokens
type Cleaner struct {
	store  expiredDataDeleter
	config CleanupConfig
}

func NewCleaner(store expiredDataDeleter, config CleanupConfig) *Cleaner {
	return &Cleaner{store: store, config: config}
}

// Run sweeps once at startup, then every Interval until ctx is done
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

func (c *Cleaner) runOnce(ctx context.Context) int64 {
	ctx, span := cleanupTracer.Start(ctx, "cleanup.expired_auth_data")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	deleted, err := c.store.DeleteExpiredAuthData(ctx, c.config.Retention)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("failed to delete expired auth data", "error", err)
		return 0
	}

	span.SetAttributes(attribute.Int64("rows.deleted", deleted))
	metrics.AuthCleanupDeletedTotal.Add(float64(deleted))
	if deleted > 0 {
		logger.Info("deleted expired auth data", "rows", deleted, "retention", c.config.Retention)
	}
	return deleted
}
