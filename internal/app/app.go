// Package app wires the drainer from configuration for the commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lmsmail/internal/config"
	"lmsmail/internal/db"
	"lmsmail/internal/email"
	"lmsmail/internal/lock"
	"lmsmail/internal/queue"
	"lmsmail/internal/settings"
)

// OpenStore connects to the database and applies migrations when enabled.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*db.Store, error) {
	store, err := db.New(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if err := store.Migrate(ctx, logger); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}
	return store, nil
}

// NewDrainer builds the drainer and returns a cleanup func for the
// resources it opened.
func NewDrainer(cfg *config.Config, store *db.Store, logger *zap.Logger) (*queue.Drainer, func(), error) {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	selector := &email.Selector{
		Postmark: email.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
		},
		Limiter: limiter,
		Timeout: cfg.SendTimeout,
	}

	src := settings.New(cfg.SettingsFile, store)
	if cfg.SettingsFile != "" {
		logger.Info("company settings read from file", zap.String("path", cfg.SettingsFile))
	}

	drainer := queue.NewDrainer(store, src, selector, logger).
		WithBatchSize(cfg.BatchSize).
		WithBaseDelay(cfg.RetryBaseDelay).
		WithErrorLimit(cfg.ErrorMessageLimit)

	cleanup := func() {}
	if cfg.RedisURL != "" {
		rdb, err := lock.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		drainer.WithLease(lock.New(rdb, lock.DefaultKey, cfg.DrainLockTTL))
		cleanup = func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close failed", zap.Error(err))
			}
		}
		logger.Info("drain lease enabled", zap.Duration("ttl", cfg.DrainLockTTL))
	}

	return drainer, cleanup, nil
}
