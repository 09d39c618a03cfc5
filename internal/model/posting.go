package model

import (
	"context"
	"time"
)

// Posting is a normalized job listing from one recruitment source.
type Posting struct {
	ID                int64      // store-assigned, zero until persisted
	SourceID          string     // registry key of the originating source
	ExternalID        string     // source-scoped identifier
	Title             string
	URL               string     // empty when the source exposes no link
	StartAt           time.Time  // application window start
	EndAt             *time.Time // nil when the posting has no closing date
	IsOpenUntilFilled bool
	CreatedAt         time.Time // our clock
}

// Subscription is a user's interest in one source, narrowed by title keywords.
type Subscription struct {
	ID        int64
	Email     string
	Keywords  []string
	SourceID  string
	CreatedAt time.Time
}

// SourceAdapter scrapes one recruitment site.
// Scrape returns postings oldest-to-newest that are newer than the stored
// cursor for the source. Any error means the whole run is void.
type SourceAdapter interface {
	Source() string
	Scrape(ctx context.Context) ([]Posting, error)
}

// CursorReader exposes the latest stored posting of a source to adapters.
type CursorReader interface {
	LatestBySource(ctx context.Context, sourceID string) (Posting, bool, error)
}

// JobStore persists postings. InsertPosting returns ErrDuplicateKey when
// (ExternalID, SourceID) already exists.
type JobStore interface {
	CursorReader
	InsertPosting(ctx context.Context, p Posting) (Posting, error)
}

// SubscriptionStore reads and creates subscriptions.
type SubscriptionStore interface {
	ListBySources(ctx context.Context, sourceIDs []string) ([]Subscription, error)
	CreateSubscription(ctx context.Context, s Subscription) (Subscription, error)
}

// PostingMatcher turns freshly persisted postings into queued notifications.
type PostingMatcher interface {
	Match(ctx context.Context, postings []Posting) (int, error)
}

// Mailer delivers one message. Implementations return a *DeliveryError on failure.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// Alerter surfaces failures that need an operator.
type Alerter interface {
	Alert(ctx context.Context, sourceID string, err error) error
}
