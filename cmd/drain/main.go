// Command drain processes one batch of the email queue and prints the
// summary as JSON. It is meant to be run from cron.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"lmsmail/internal/app"
	"lmsmail/internal/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	drainer, cleanup, err := app.NewDrainer(cfg, store, logger)
	if err != nil {
		logger.Fatal("failed to build drainer", zap.Error(err))
	}
	defer cleanup()

	enc := json.NewEncoder(os.Stdout)

	res, err := drainer.ProcessBatch(ctx)
	if err != nil {
		logger.Error("email queue processing failed", zap.Error(err))
		_ = enc.Encode(map[string]string{"error": err.Error()})
		cleanup()
		store.Close()
		logger.Sync()
		os.Exit(1)
	}

	if err := enc.Encode(res); err != nil {
		logger.Error("failed to write summary", zap.Error(err))
	}
}
