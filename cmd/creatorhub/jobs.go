package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/creatorhub/creatorhub/pkg/auth"
	"github.com/creatorhub/creatorhub/pkg/config"
	"github.com/creatorhub/creatorhub/pkg/observability"
)

const dbStatsInterval = 15 * time.Second

// startJobs schedules the background jobs and starts the scheduler
func startJobs(ctx context.Context, cfg *config.Config, tokens *auth.TokenStore, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(cfg.Auth.TokenCleanupSchedule, func() {
		defer observability.RecoverPanic(logger, "token cleanup")
		cleanupTokens(ctx, tokens, cfg.Auth.TokenRetention, metrics, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule token cleanup: %w", err)
	}

	if metrics != nil {
		_, err = c.AddFunc(fmt.Sprintf("@every %s", dbStatsInterval), func() {
			metrics.RecordDBStats(db.Stats())
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule db stats: %w", err)
		}
	}

	c.Start()
	logger.WithField("schedule", cfg.Auth.TokenCleanupSchedule).Info("Token cleanup scheduled")
	return c, nil
}

func cleanupTokens(ctx context.Context, tokens *auth.TokenStore, retention time.Duration, metrics *observability.Metrics, logger *observability.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	n, err := tokens.CleanupExpired(ctx, retention)
	if err != nil {
		logger.WithError(err).Error("Token cleanup failed")
		return
	}
	metrics.RecordTokensCleaned(n)
	logger.WithFields(map[string]interface{}{
		"deleted":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Token cleanup complete")
}
