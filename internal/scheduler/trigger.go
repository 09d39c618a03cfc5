// Package scheduler fires the discovery and queue operations, either on
// cron specs or on demand from the API and CLI.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/amishk599/recruitwatch/internal/discovery"
	"github.com/amishk599/recruitwatch/internal/lock"
	"github.com/amishk599/recruitwatch/internal/queue"
)

// ErrBusy is returned when the same discovery already runs elsewhere.
var ErrBusy = errors.New("discovery already running")

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 30 * time.Minute

// Discoverer runs discovery for one or all sources.
type Discoverer interface {
	DiscoverOne(ctx context.Context, sourceID string) (discovery.Result, error)
	DiscoverAll(ctx context.Context) []discovery.Result
}

// Dispatcher drains and requeues the notification queue.
type Dispatcher interface {
	DispatchPending(ctx context.Context) (queue.Summary, error)
	RetryFailed(ctx context.Context) (int, error)
}

// Trigger is the single entry point for the four periodic operations.
// Discovery runs are coalesced in-process and guarded by a lock across
// processes. Queue operations rely on the store's row locking instead.
type Trigger struct {
	discoverer Discoverer
	dispatcher Dispatcher
	locker     lock.Locker
	lockTTL    time.Duration
	group      singleflight.Group
	logger     *slog.Logger
}

// NewTrigger wires a Trigger. A nil locker falls back to an in-process one.
func NewTrigger(d Discoverer, q Dispatcher, locker lock.Locker, logger *slog.Logger) *Trigger {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Trigger{
		discoverer: d,
		dispatcher: q,
		locker:     locker,
		lockTTL:    DefaultLockTTL,
		logger:     logger,
	}
}

// SetLockTTL overrides DefaultLockTTL. Non-positive values are ignored.
func (t *Trigger) SetLockTTL(d time.Duration) {
	if d > 0 {
		t.lockTTL = d
	}
}

// DiscoverAll runs every source once.
func (t *Trigger) DiscoverAll(ctx context.Context) ([]discovery.Result, error) {
	v, err, shared := t.group.Do("discover:all", func() (any, error) {
		var results []discovery.Result
		err := t.withLock(ctx, "discover:all", func() {
			results = t.discoverer.DiscoverAll(ctx)
		})
		return results, err
	})
	if shared {
		t.logger.Debug("joined running discovery", "key", "discover:all")
	}
	if err != nil {
		return nil, err
	}
	return v.([]discovery.Result), nil
}

// DiscoverOne runs a single source. When the run never started (busy or
// lock failure) the returned Result carries only Source and a nil Err.
func (t *Trigger) DiscoverOne(ctx context.Context, sourceID string) (discovery.Result, error) {
	key := "discover:" + sourceID
	v, err, _ := t.group.Do(key, func() (any, error) {
		var (
			res    discovery.Result
			runErr error
		)
		err := t.withLock(ctx, key, func() {
			res, runErr = t.discoverer.DiscoverOne(ctx, sourceID)
		})
		if err != nil {
			return discovery.Result{Source: sourceID}, err
		}
		return res, runErr
	})
	return v.(discovery.Result), err
}

// DispatchPending delivers one batch of queued notifications.
func (t *Trigger) DispatchPending(ctx context.Context) (queue.Summary, error) {
	return t.dispatcher.DispatchPending(ctx)
}

// RetryFailed requeues failed notifications that have retries left.
func (t *Trigger) RetryFailed(ctx context.Context) (int, error) {
	return t.dispatcher.RetryFailed(ctx)
}

func (t *Trigger) withLock(ctx context.Context, key string, fn func()) error {
	unlock, ok, err := t.locker.TryLock(ctx, key, t.lockTTL)
	if err != nil {
		t.logger.Error("acquiring lock failed", "key", key, "error", err)
		return fmt.Errorf("acquiring %s: %w", key, err)
	}
	if !ok {
		t.logger.Info("skipping, lock held elsewhere", "key", key)
		return fmt.Errorf("%w: %s", ErrBusy, key)
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			t.logger.Warn("releasing lock failed", "key", key, "error", err)
		}
	}()

	fn()
	return nil
}
