package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/recruitwatch/internal/discovery"
	"github.com/amishk599/recruitwatch/internal/lock"
	"github.com/amishk599/recruitwatch/internal/queue"
)

// --- Mock implementations ---

type fakeDiscoverer struct {
	allCalls atomic.Int32
	oneCalls atomic.Int32
	started  chan struct{} // receives one value per DiscoverAll, may be nil
	release  chan struct{} // blocks DiscoverAll until closed, may be nil
}

func (f *fakeDiscoverer) DiscoverAll(ctx context.Context) []discovery.Result {
	f.allCalls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return []discovery.Result{{Source: "eumc"}, {Source: "caumc", Err: errors.New("timeout")}}
}

func (f *fakeDiscoverer) DiscoverOne(_ context.Context, sourceID string) (discovery.Result, error) {
	f.oneCalls.Add(1)
	return discovery.Result{Source: sourceID}, nil
}

type countingDispatcher struct {
	dispatches atomic.Int32
	retries    atomic.Int32
}

func (d *countingDispatcher) DispatchPending(context.Context) (queue.Summary, error) {
	d.dispatches.Add(1)
	return queue.Summary{}, nil
}

func (d *countingDispatcher) RetryFailed(context.Context) (int, error) {
	d.retries.Add(1)
	return 0, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Trigger tests ---

func TestTrigger_DiscoverAllBusyWhenLocked(t *testing.T) {
	locker := lock.NewLocalLocker()
	unlock, ok, err := locker.TryLock(context.Background(), "discover:all", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-lock: ok=%v err=%v", ok, err)
	}
	defer unlock(context.Background())

	d := &fakeDiscoverer{}
	tr := NewTrigger(d, &countingDispatcher{}, locker, discardLogger())

	_, err = tr.DiscoverAll(context.Background())
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if d.allCalls.Load() != 0 {
		t.Error("discoverer must not run while locked")
	}
}

func TestTrigger_DiscoverAllReleasesLock(t *testing.T) {
	d := &fakeDiscoverer{}
	tr := NewTrigger(d, &countingDispatcher{}, nil, discardLogger())

	for i := 0; i < 2; i++ {
		results, err := tr.DiscoverAll(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(results) != 2 {
			t.Fatalf("run %d: expected 2 results, got %d", i, len(results))
		}
	}
	if got := d.allCalls.Load(); got != 2 {
		t.Errorf("allCalls = %d, want 2", got)
	}
}

func TestTrigger_ConcurrentDiscoverAllCoalesced(t *testing.T) {
	d := &fakeDiscoverer{started: make(chan struct{}, 2), release: make(chan struct{})}
	tr := NewTrigger(d, &countingDispatcher{}, nil, discardLogger())

	errs := make(chan error, 2)
	run := func() {
		_, err := tr.DiscoverAll(context.Background())
		errs <- err
	}

	go run()
	<-d.started
	go run()
	time.Sleep(50 * time.Millisecond) // let the second caller join
	close(d.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := d.allCalls.Load(); got != 1 {
		t.Errorf("allCalls = %d, want 1 (coalesced)", got)
	}
}

func TestTrigger_DiscoverOneLocksPerSource(t *testing.T) {
	locker := lock.NewLocalLocker()
	unlock, _, _ := locker.TryLock(context.Background(), "discover:eumc", time.Minute)
	defer unlock(context.Background())

	d := &fakeDiscoverer{}
	tr := NewTrigger(d, &countingDispatcher{}, locker, discardLogger())

	if _, err := tr.DiscoverOne(context.Background(), "eumc"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy for eumc, got %v", err)
	}
	res, err := tr.DiscoverOne(context.Background(), "caumc")
	if err != nil {
		t.Fatalf("caumc: %v", err)
	}
	if res.Source != "caumc" {
		t.Errorf("result source = %q", res.Source)
	}
	if d.oneCalls.Load() != 1 {
		t.Errorf("oneCalls = %d, want 1", d.oneCalls.Load())
	}
}

type refusingLocker struct{}

func (refusingLocker) TryLock(context.Context, string, time.Duration) (lock.UnlockFunc, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestTrigger_LockFailureIsReturned(t *testing.T) {
	d := &fakeDiscoverer{}
	tr := NewTrigger(d, &countingDispatcher{}, refusingLocker{}, discardLogger())

	res, err := tr.DiscoverOne(context.Background(), "eumc")
	if err == nil || errors.Is(err, ErrBusy) {
		t.Fatalf("expected lock error, got %v", err)
	}
	if res.Source != "eumc" || res.Err != nil || res.RunID != "" {
		t.Errorf("result = %+v, want a bare result for a run that never started", res)
	}
	if _, err := tr.DiscoverAll(context.Background()); err == nil {
		t.Fatal("DiscoverAll: expected lock error")
	}
	if d.oneCalls.Load() != 0 || d.allCalls.Load() != 0 {
		t.Error("discoverer must not run without the lock")
	}
}

// ctxDiscoverer keeps working for a while after ctx is cancelled.
type ctxDiscoverer struct {
	started  chan struct{}
	finished atomic.Bool
}

func (d *ctxDiscoverer) DiscoverAll(ctx context.Context) []discovery.Result {
	close(d.started)
	<-ctx.Done()
	time.Sleep(300 * time.Millisecond)
	d.finished.Store(true)
	return nil
}

func (d *ctxDiscoverer) DiscoverOne(_ context.Context, sourceID string) (discovery.Result, error) {
	return discovery.Result{Source: sourceID}, nil
}

func TestCron_RunWaitsForInitialDiscovery(t *testing.T) {
	d := &ctxDiscoverer{started: make(chan struct{})}
	tr := NewTrigger(d, &countingDispatcher{}, nil, discardLogger())
	c := NewCron(tr, Specs{Discovery: "@hourly", RunOnStart: true}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	<-d.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not return within 2s after cancel")
	}
	if !d.finished.Load() {
		t.Error("Run returned before the initial discovery finished")
	}
}

// --- Cron tests ---

func TestCron_RunOnStartAndCancel(t *testing.T) {
	d := &fakeDiscoverer{}
	tr := NewTrigger(d, &countingDispatcher{}, nil, discardLogger())
	c := NewCron(tr, Specs{Discovery: "@hourly", Dispatch: "@hourly", Retry: "@hourly", RunOnStart: true}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on cancel, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not return within 2s after cancel")
	}
	if got := d.allCalls.Load(); got != 1 {
		t.Errorf("allCalls = %d, want 1 immediate run", got)
	}
}

func TestCron_TicksDispatch(t *testing.T) {
	q := &countingDispatcher{}
	tr := NewTrigger(&fakeDiscoverer{}, q, nil, discardLogger())
	c := NewCron(tr, Specs{Dispatch: "@every 1s"}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	time.Sleep(2500 * time.Millisecond)
	cancel()
	<-done

	if got := q.dispatches.Load(); got < 2 {
		t.Errorf("dispatches = %d, want >= 2", got)
	}
}

func TestCron_InvalidSpec(t *testing.T) {
	tr := NewTrigger(&fakeDiscoverer{}, &countingDispatcher{}, nil, discardLogger())
	c := NewCron(tr, Specs{Discovery: "every now and then"}, discardLogger())

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}
