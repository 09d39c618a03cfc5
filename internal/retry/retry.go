package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

// Policy bounds how often a single step (one page load, one API call) is
// attempted before the surrounding run is aborted.
type Policy struct {
	Attempts  int           // total attempts including the first
	BaseDelay time.Duration // delay before the second attempt, doubled after each failure
	Jitter    bool          // apply ±30% jitter to each delay
}

// DefaultPagePolicy is the per-page budget of scraping adapters.
var DefaultPagePolicy = Policy{Attempts: 3, BaseDelay: time.Second, Jitter: true}

// Do runs fn until it succeeds, returns a non-transient error, the attempt
// budget is spent, or ctx is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, logger *slog.Logger, step string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.backoffDelay(attempt-1, lastErr)
			logger.Warn("retrying after transient error",
				"step", step,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay,
				"error", lastErr,
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !model.IsTransient(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}

// backoffDelay computes the delay before retry n (1-based).
// A Retry-After duration carried by an HTTP 429 takes precedence.
func (p Policy) backoffDelay(n int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
	}

	if p.Jitter {
		jitter := float64(delay) * 0.3
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
	}

	return delay
}
