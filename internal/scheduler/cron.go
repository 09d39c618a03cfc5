package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Specs are robfig/cron schedules for the periodic operations.
type Specs struct {
	Discovery  string
	Dispatch   string
	Retry      string
	RunOnStart bool // run discovery once before the first tick
}

// DefaultSpecs: hourly discovery and retry sweep, dispatch every minute.
var DefaultSpecs = Specs{
	Discovery:  "@hourly",
	Dispatch:   "@every 1m",
	Retry:      "@hourly",
	RunOnStart: true,
}

// Cron fires a Trigger on its Specs.
type Cron struct {
	trigger *Trigger
	specs   Specs
	logger  *slog.Logger
}

func NewCron(trigger *Trigger, specs Specs, logger *slog.Logger) *Cron {
	return &Cron{trigger: trigger, specs: specs, logger: logger}
}

// Run registers the jobs and blocks until ctx is cancelled. It waits for
// running jobs, including the run-on-start discovery, to finish and returns
// nil on graceful shutdown.
func (c *Cron) Run(ctx context.Context) error {
	cl := cronLogger{c.logger}
	cr := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"discovery", c.specs.Discovery, func() { c.discover(ctx) }},
		{"dispatch", c.specs.Dispatch, func() { c.dispatch(ctx) }},
		{"retry", c.specs.Retry, func() { c.retry(ctx) }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := cr.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("scheduling %s %q: %w", j.name, j.spec, err)
		}
	}

	c.logger.Info("starting scheduler",
		"discovery", c.specs.Discovery,
		"dispatch", c.specs.Dispatch,
		"retry", c.specs.Retry,
	)
	cr.Start()

	var initial sync.WaitGroup
	if c.specs.RunOnStart {
		initial.Add(1)
		go func() {
			defer initial.Done()
			c.discover(ctx)
		}()
	}

	<-ctx.Done()
	c.logger.Info("shutting down scheduler")
	<-cr.Stop().Done()
	initial.Wait()
	return nil
}

func (c *Cron) discover(ctx context.Context) {
	results, err := c.trigger.DiscoverAll(ctx)
	if err != nil {
		c.logger.Warn("discovery not run", "error", err)
		return
	}
	var found, failed int
	for _, r := range results {
		found += len(r.Persisted)
		if r.Err != nil {
			failed++
		}
	}
	c.logger.Info("discovery cycle complete", "sources", len(results), "new_postings", found, "failed_sources", failed)
}

func (c *Cron) dispatch(ctx context.Context) {
	if _, err := c.trigger.DispatchPending(ctx); err != nil {
		c.logger.Error("dispatch failed", "error", err)
	}
}

func (c *Cron) retry(ctx context.Context) {
	if _, err := c.trigger.RetryFailed(ctx); err != nil {
		c.logger.Error("retry sweep failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
