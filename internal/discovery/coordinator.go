// Package discovery runs source adapters and turns their output into
// persisted postings and queued notifications.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/recruitwatch/internal/model"
)

// ErrUnknownSource is returned by DiscoverOne for unregistered sources.
var ErrUnknownSource = errors.New("unknown source")

// Registry resolves source ids to adapters.
type Registry interface {
	Get(sourceID string) (model.SourceAdapter, bool)
	Sources() []string
}

// Result summarizes one discovery run of a source.
type Result struct {
	Source    string
	RunID     string
	Scraped   int
	Persisted []model.Posting
	Skipped   int // already stored, by cursor re-check or unique key
	Queued    int // notifications created
	Err       error
}

// Coordinator owns the pipeline for every source:
// scrape → re-check cursor → insert-or-skip → match.
type Coordinator struct {
	registry Registry
	store    model.JobStore
	matcher  model.PostingMatcher
	alerter  model.Alerter
	now      func() time.Time
	logger   *slog.Logger
}

// NewCoordinator wires a coordinator. alerter may be nil.
func NewCoordinator(registry Registry, store model.JobStore, matcher model.PostingMatcher, alerter model.Alerter, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		store:    store,
		matcher:  matcher,
		alerter:  alerter,
		now:      time.Now,
		logger:   logger,
	}
}

// DiscoverOne runs a single source. The returned error is the run's error;
// Result is filled as far as the run got.
func (c *Coordinator) DiscoverOne(ctx context.Context, sourceID string) (Result, error) {
	res := Result{Source: sourceID, RunID: uuid.NewString()}
	logger := c.logger.With("source", sourceID, "run_id", res.RunID)

	adapter, ok := c.registry.Get(sourceID)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
		return res, res.Err
	}

	scraped, err := adapter.Scrape(ctx)
	if err != nil {
		res.Err = fmt.Errorf("scraping %s: %w", sourceID, err)
		c.reportScrapeFailure(ctx, logger, sourceID, err)
		return res, res.Err
	}
	res.Scraped = len(scraped)

	fresh, err := c.recheck(ctx, sourceID, scraped)
	if err != nil {
		res.Err = err
		logger.Error("discovery failed", "error", err)
		return res, err
	}
	res.Skipped = len(scraped) - len(fresh)

	persisted, dups, persistErr := c.persist(ctx, logger, fresh)
	res.Persisted = persisted
	res.Skipped += dups

	if len(persisted) > 0 {
		queued, err := c.matcher.Match(ctx, persisted)
		res.Queued = queued
		if err != nil {
			logger.Error("matching failed", "postings", len(persisted), "error", err)
			persistErr = errors.Join(persistErr, fmt.Errorf("matching %s: %w", sourceID, err))
		}
	}

	logger.Info("discovered source",
		"scraped", res.Scraped,
		"new", len(res.Persisted),
		"skipped", res.Skipped,
		"queued", res.Queued,
	)

	if persistErr != nil {
		res.Err = persistErr
		return res, persistErr
	}
	return res, nil
}

// DiscoverAll runs every registered source one after another. A failing
// source is logged and skipped.
func (c *Coordinator) DiscoverAll(ctx context.Context) []Result {
	sources := c.registry.Sources()
	results := make([]Result, 0, len(sources))

	for _, sourceID := range sources {
		if ctx.Err() != nil {
			c.logger.Warn("discovery cancelled", "remaining", len(sources)-len(results))
			break
		}
		res, err := c.DiscoverOne(ctx, sourceID)
		if err != nil {
			c.logger.Error("source skipped", "source", sourceID, "run_id", res.RunID, "error", err)
		}
		results = append(results, res)
	}
	return results
}

// recheck drops postings at or before the store's latest posting. Another
// run may have persisted newer rows after the adapter read its cursor.
func (c *Coordinator) recheck(ctx context.Context, sourceID string, scraped []model.Posting) ([]model.Posting, error) {
	latest, ok, err := c.store.LatestBySource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("re-reading cursor for %s: %w", sourceID, err)
	}
	if !ok {
		return scraped, nil
	}
	for i := len(scraped) - 1; i >= 0; i-- {
		if scraped[i].ExternalID == latest.ExternalID {
			return scraped[i+1:], nil
		}
	}
	return scraped, nil
}

// persist inserts postings oldest first. Duplicate keys are skipped. Any
// other store error stops the batch so that the cursor never moves past a
// posting that was not stored.
func (c *Coordinator) persist(ctx context.Context, logger *slog.Logger, postings []model.Posting) ([]model.Posting, int, error) {
	var (
		stored []model.Posting
		dups   int
	)
	for _, p := range postings {
		p.CreatedAt = c.now()
		saved, err := c.store.InsertPosting(ctx, p)
		if errors.Is(err, model.ErrDuplicateKey) {
			dups++
			logger.Debug("posting already stored", "external_id", p.ExternalID)
			continue
		}
		if err != nil {
			logger.Error("storing posting failed", "external_id", p.ExternalID, "error", err)
			return stored, dups, fmt.Errorf("storing %s/%s: %w", p.SourceID, p.ExternalID, err)
		}
		stored = append(stored, saved)
	}
	return stored, dups, nil
}

func (c *Coordinator) reportScrapeFailure(ctx context.Context, logger *slog.Logger, sourceID string, err error) {
	var structural *model.StructuralChangeError
	if !errors.As(err, &structural) {
		logger.Error("scrape failed", "error", err)
		return
	}

	logger.Error("source markup changed, operator attention needed", "detail", structural.Detail)
	if c.alerter == nil {
		return
	}
	if aerr := c.alerter.Alert(ctx, sourceID, err); aerr != nil {
		logger.Warn("sending alert failed", "error", aerr)
	}
}
