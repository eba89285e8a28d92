package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"lmsmail/internal/lock"
	"lmsmail/internal/queue"
)

// Processor drains one batch per call.
type Processor interface {
	ProcessBatch(ctx context.Context) (queue.Result, error)
}

// Start invokes p every interval until ctx is cancelled. Batches never
// overlap: the next tick is only taken after the previous batch returned.
func Start(
	ctx context.Context,
	wg *sync.WaitGroup,
	interval time.Duration,
	p Processor,
	logger *zap.Logger,
) {
	wg.Add(1)

	go func() {
		defer wg.Done()

		logger.Info("queue trigger started", zap.Duration("interval", interval))

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {

			case <-ctx.Done():
				logger.Info("queue trigger shutting down")
				return

			case <-ticker.C:
				runOnce(ctx, p, logger)
			}
		}
	}()
}

func runOnce(ctx context.Context, p Processor, logger *zap.Logger) {
	res, err := p.ProcessBatch(ctx)

	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		logger.Debug("another drainer holds the lease")

	case err != nil:
		logger.Error("email batch failed", zap.Error(err))

	case res.Processed > 0 || res.Errors > 0:
		logger.Info("email batch finished",
			zap.Int("processed", res.Processed),
			zap.Int("errors", res.Errors),
			zap.Strings("error_details", res.ErrorDetails),
		)
	}
}
