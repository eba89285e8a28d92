package email

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type throttled struct {
	next    Sender
	limiter *rate.Limiter
	timeout time.Duration
}

// Throttle waits on limiter before every send and bounds each send by
// timeout. A nil limiter or a non-positive timeout disables that part.
func Throttle(next Sender, limiter *rate.Limiter, timeout time.Duration) Sender {
	if limiter == nil && timeout <= 0 {
		return next
	}
	return &throttled{next: next, limiter: limiter, timeout: timeout}
}

func (t *throttled) Send(ctx context.Context, msg Message) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	return t.next.Send(ctx, msg)
}
