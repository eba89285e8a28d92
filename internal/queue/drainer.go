// Package queue advances the email queue one bounded batch per invocation.
//
// Each item moves through pending -> sending -> {sent | pending (retry) |
// failed}. Items are processed one at a time in creation order; a failure
// of one item is recorded on that item and never aborts the batch. Only a
// failure to read the settings or the batch itself fails the invocation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lmsmail/internal/email"
	"lmsmail/internal/lock"
	"lmsmail/internal/metrics"
	"lmsmail/internal/models"
)

var (
	ErrFetchSettings = errors.New("failed to fetch company settings")
	ErrFetchBatch    = errors.New("failed to fetch pending emails")
)

// Store is the queue table as seen by the drainer.
type Store interface {
	FetchPending(ctx context.Context, limit int) ([]models.QueueItem, error)
	MarkSending(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, retryCount int, scheduledAt time.Time, errorMsg string) error
	MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errorMsg string) error
}

type SettingsSource interface {
	Load(ctx context.Context) (models.CompanySettings, error)
}

// TransportResolver picks the sender for the settings of a batch.
type TransportResolver interface {
	Resolve(s models.CompanySettings) (email.Sender, email.TransportKind, error)
}

// Lease guards a batch against concurrent drainers.
type Lease interface {
	Acquire(ctx context.Context) (lock.Release, error)
}

// Result is the summary of one invocation.
type Result struct {
	Success      bool     `json:"success"`
	Processed    int      `json:"processed"`
	Errors       int      `json:"errors"`
	ErrorDetails []string `json:"errorDetails"`
}

type Drainer struct {
	store      Store
	settings   SettingsSource
	transports TransportResolver
	lease      Lease
	logger     *zap.Logger

	batchSize  int
	baseDelay  time.Duration
	errorLimit int
	now        func() time.Time
}

func NewDrainer(
	store Store,
	settings SettingsSource,
	transports TransportResolver,
	logger *zap.Logger,
) *Drainer {
	return &Drainer{
		store:      store,
		settings:   settings,
		transports: transports,
		logger:     logger,
		batchSize:  DefaultBatchSize,
		baseDelay:  DefaultBaseDelay,
		errorLimit: DefaultErrorLimit,
		now:        time.Now,
	}
}

func (d *Drainer) WithBatchSize(n int) *Drainer {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *Drainer) WithBaseDelay(delay time.Duration) *Drainer {
	if delay > 0 {
		d.baseDelay = delay
	}
	return d
}

func (d *Drainer) WithErrorLimit(n int) *Drainer {
	if n > 0 {
		d.errorLimit = n
	}
	return d
}

// WithLease makes every batch hold l while it runs.
func (d *Drainer) WithLease(l Lease) *Drainer {
	d.lease = l
	return d
}

func (d *Drainer) WithClock(now func() time.Time) *Drainer {
	d.now = now
	return d
}

// ProcessBatch drains at most one batch of pending items.
func (d *Drainer) ProcessBatch(ctx context.Context) (Result, error) {
	res := Result{ErrorDetails: []string{}}

	if d.lease != nil {
		release, err := d.lease.Acquire(ctx)
		if err != nil {
			return res, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				d.logger.Warn("failed to release drain lease", zap.Error(err))
			}
		}()
	}

	start := d.now()
	defer func() {
		metrics.BatchDuration.Observe(d.now().Sub(start).Seconds())
	}()

	cs, err := d.settings.Load(ctx)
	if err != nil {
		metrics.BatchErrors.Inc()
		return res, fmt.Errorf("%w: %w", ErrFetchSettings, err)
	}

	items, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		metrics.BatchErrors.Inc()
		return res, fmt.Errorf("%w: %w", ErrFetchBatch, err)
	}

	if len(items) == 0 {
		res.Success = true
		return res, nil
	}

	// The transport is chosen once per batch. A configuration error is
	// recorded on every item rather than aborting the batch.
	sender, kind, resolveErr := d.transports.Resolve(cs)
	d.logger.Info("processing email batch",
		zap.Int("count", len(items)),
		zap.String("transport", string(kind)),
	)

	for _, item := range items {
		if ctx.Err() != nil {
			d.logger.Warn("batch interrupted", zap.Error(ctx.Err()))
			break
		}

		claimed, err := d.store.MarkSending(ctx, item.ID)
		if err != nil {
			d.logger.Error("failed to update status to sending",
				zap.String("queue_id", item.ID.String()),
				zap.Error(err),
			)
			res.Errors++
			res.ErrorDetails = append(res.ErrorDetails, d.detail(item, err))
			continue
		}
		if !claimed {
			d.logger.Info("email already claimed, skipping",
				zap.String("queue_id", item.ID.String()),
			)
			metrics.ClaimsSkipped.Inc()
			continue
		}

		sendErr := resolveErr
		if sendErr == nil {
			sendErr = d.deliver(ctx, item, cs, sender)
		}

		// A claimed item must leave sending even when the caller went away
		// during the send.
		writeCtx := context.WithoutCancel(ctx)

		if sendErr != nil {
			res.Errors++
			res.ErrorDetails = append(res.ErrorDetails, d.detail(item, sendErr))
			d.recordFailure(writeCtx, item, sendErr)
			continue
		}

		res.Processed++
		metrics.EmailsSent.WithLabelValues(string(item.EmailType)).Inc()

		if err := d.store.MarkSent(writeCtx, item.ID, d.now()); err != nil {
			d.logger.Error("failed to update sent status",
				zap.String("queue_id", item.ID.String()),
				zap.Error(err),
			)
			continue
		}

		d.logger.Info("email sent successfully",
			zap.String("queue_id", item.ID.String()),
			zap.String("email_type", string(item.EmailType)),
			zap.String("to", item.RecipientEmail),
		)
	}

	res.Success = true
	return res, nil
}

func (d *Drainer) deliver(
	ctx context.Context,
	item models.QueueItem,
	cs models.CompanySettings,
	sender email.Sender,
) error {
	rendered, err := email.Render(item, cs)
	if err != nil {
		return err
	}
	return sender.Send(ctx, rendered.Message(item))
}

// recordFailure applies the retry policy to an item whose attempt failed.
// An attempt whose outcome is unknown is never retried.
func (d *Drainer) recordFailure(ctx context.Context, item models.QueueItem, cause error) {
	retries := item.RetryCount + 1
	msg := Truncate(cause.Error(), d.errorLimit)
	emailType := string(item.EmailType)

	log := d.logger.With(
		zap.String("queue_id", item.ID.String()),
		zap.String("email_type", emailType),
		zap.Int("retry_count", retries),
		zap.Int("max_retries", item.MaxRetries),
		zap.Error(cause),
	)

	if retries >= item.MaxRetries || errors.Is(cause, email.ErrDeliveryUnknown) {
		metrics.EmailFailures.WithLabelValues(emailType).Inc()
		log.Error("email send failed permanently")
		if err := d.store.MarkFailed(ctx, item.ID, retries, msg); err != nil {
			log.Error("failed to update failure status", zap.NamedError("store_error", err))
		}
		return
	}

	next := d.now().Add(RetryDelay(d.baseDelay, item.RetryCount))
	metrics.EmailRetries.WithLabelValues(emailType).Inc()
	log.Warn("email send failed, rescheduled", zap.Time("scheduled_at", next))
	if err := d.store.MarkRetry(ctx, item.ID, retries, next, msg); err != nil {
		log.Error("failed to reschedule email", zap.NamedError("store_error", err))
	}
}

func (d *Drainer) detail(item models.QueueItem, err error) string {
	return fmt.Sprintf("email %s: %s", item.ID, Truncate(err.Error(), d.errorLimit))
}
