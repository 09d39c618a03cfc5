// Package match turns newly discovered postings into queued email
// notifications for the subscribers whose filters they satisfy.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

// Enqueuer is the write side of the notification queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, records []model.NotificationRecord) error
}

// SubscriptionMatcher pairs postings with subscriptions of the same source
// whose keywords hit the title.
type SubscriptionMatcher struct {
	subs       model.SubscriptionStore
	queue      Enqueuer
	sourceName func(string) string
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

var _ model.PostingMatcher = (*SubscriptionMatcher)(nil)

// Options customises rendering. Nil fields fall back to the source id and
// the local time zone.
type Options struct {
	SourceName func(sourceID string) string
	Location   *time.Location
}

// NewSubscriptionMatcher wires a matcher.
func NewSubscriptionMatcher(subs model.SubscriptionStore, queue Enqueuer, opts Options, logger *slog.Logger) *SubscriptionMatcher {
	m := &SubscriptionMatcher{
		subs:       subs,
		queue:      queue,
		sourceName: opts.SourceName,
		loc:        opts.Location,
		now:        time.Now,
		logger:     logger,
	}
	if m.sourceName == nil {
		m.sourceName = func(id string) string { return id }
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	return m
}

// Match enqueues one pending email per matching (posting, subscription)
// pair and returns how many were queued.
func (m *SubscriptionMatcher) Match(ctx context.Context, postings []model.Posting) (int, error) {
	if len(postings) == 0 {
		return 0, nil
	}

	subs, err := m.subs.ListBySources(ctx, distinctSources(postings))
	if err != nil {
		return 0, fmt.Errorf("listing subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	now := m.now()
	var records []model.NotificationRecord
	for _, p := range postings {
		for _, sub := range subs {
			if sub.SourceID != p.SourceID || !TitleMatches(sub.Keywords, p.Title) {
				continue
			}

			content, err := renderContent(p, sub, m.sourceName(p.SourceID), m.loc)
			if err != nil {
				return 0, fmt.Errorf("posting %s/%s: %w", p.SourceID, p.ExternalID, err)
			}

			rec := model.NotificationRecord{
				Channel:   model.ChannelEmail,
				Recipient: sub.Email,
				Content:   content,
				Status:    model.StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if p.ID != 0 {
				id := p.ID
				rec.PostingID = &id
			}
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return 0, nil
	}
	if err := m.queue.Enqueue(ctx, records); err != nil {
		return 0, fmt.Errorf("enqueueing %d notifications: %w", len(records), err)
	}

	m.logger.Info("queued notifications",
		"postings", len(postings),
		"subscriptions", len(subs),
		"notifications", len(records),
	)
	return len(records), nil
}

func distinctSources(postings []model.Posting) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range postings {
		if _, ok := seen[p.SourceID]; ok {
			continue
		}
		seen[p.SourceID] = struct{}{}
		out = append(out, p.SourceID)
	}
	return out
}
