// Package queue drains the notification queue: claims pending records,
// delivers them and settles each one as sent or failed.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

const (
	DefaultBatchSize  = 10
	DefaultStaleAfter = 5 * time.Minute
	DefaultMaxRetries = 3
)

// Options tunes the dispatcher. Zero fields take the defaults above.
type Options struct {
	BatchSize  int
	StaleAfter time.Duration
	MaxRetries int
	Clock      Clock
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	return o
}

// Summary counts what one DispatchPending call did.
type Summary struct {
	Claimed int
	Sent    int
	Failed  int
	Skipped int // claimed but not in processing, left untouched
}

// Dispatcher delivers queued notifications through a Mailer.
type Dispatcher struct {
	store  model.NotificationStore
	mailer model.Mailer
	opts   Options
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store model.NotificationStore, mailer model.Mailer, opts Options, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		mailer: mailer,
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// MaxRetries is the retry budget the dispatcher settles against.
func (d *Dispatcher) MaxRetries() int { return d.opts.MaxRetries }

// DispatchPending claims one batch and delivers it. Only a failed claim is
// returned as an error; delivery and settle failures are logged per record.
func (d *Dispatcher) DispatchPending(ctx context.Context) (Summary, error) {
	now := d.opts.Clock.Now()
	claimed, err := d.store.ClaimPending(ctx, model.ClaimParams{
		Limit:       d.opts.BatchSize,
		StaleBefore: now.Add(-d.opts.StaleAfter),
		Now:         now,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("claiming notifications: %w", err)
	}

	sum := Summary{Claimed: len(claimed)}
	for _, rec := range claimed {
		if !model.CanTransition(rec.Status, model.StatusSent) {
			d.logger.Error("claimed notification is not processing, not delivering",
				"notification_id", rec.ID, "status", rec.Status)
			sum.Skipped++
			continue
		}
		if d.deliver(ctx, rec) {
			sum.Sent++
		} else {
			sum.Failed++
		}
	}

	if sum.Claimed > 0 {
		d.logger.Info("dispatched notifications", "claimed", sum.Claimed, "sent", sum.Sent, "failed", sum.Failed)
	}
	return sum, nil
}

// deliver sends one record and settles it. It reports whether the record
// ended up sent.
func (d *Dispatcher) deliver(ctx context.Context, rec model.NotificationRecord) bool {
	logger := d.logger.With("notification_id", rec.ID, "recipient", rec.Recipient)

	sendErr := d.send(ctx, rec)
	at := d.opts.Clock.Now()

	if sendErr == nil {
		ok, err := d.store.MarkSent(ctx, rec.ID, at)
		switch {
		case err != nil:
			// Delivered but not recorded; the record is resent after the staleness window.
			logger.Error("recording sent notification failed", "error", err)
		case !ok:
			logger.Warn("notification no longer processing, sent state not recorded")
		default:
			logger.Debug("notification sent")
		}
		return true
	}

	logger.Warn("delivering notification failed", "retry_count", rec.RetryCount, "error", sendErr)
	ok, err := d.store.MarkFailed(ctx, rec.ID, sendErr.Error(), at)
	switch {
	case err != nil:
		logger.Error("recording failed notification failed", "error", err)
	case !ok:
		logger.Warn("notification no longer processing, failure not recorded")
	default:
		rec.Status = model.StatusFailed
		rec.RetryCount++
		if rec.Terminal(d.opts.MaxRetries) {
			logger.Error("notification exhausted its retries", "attempts", rec.RetryCount)
		}
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, rec model.NotificationRecord) error {
	if rec.Channel != model.ChannelEmail {
		return &model.DeliveryError{Recipient: rec.Recipient, Err: fmt.Errorf("unsupported channel %q", rec.Channel)}
	}
	err := d.mailer.Send(ctx, rec.Recipient, rec.Content.Subject, rec.Content.Body)
	if err == nil {
		return nil
	}
	var de *model.DeliveryError
	if errors.As(err, &de) {
		return err
	}
	return &model.DeliveryError{Recipient: rec.Recipient, Err: err}
}

// RetryFailed moves failed records with retry budget left back to pending.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int, error) {
	n, err := d.store.ResetFailed(ctx, d.opts.MaxRetries, d.opts.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("retrying failed notifications: %w", err)
	}
	if n > 0 {
		d.logger.Info("requeued failed notifications", "count", n)
	}
	return n, nil
}
