package adapter

import (
	"context"
	"fmt"

	"github.com/amishk599/recruitwatch/internal/model"
)

// maxPages stops a pager that never reports its end.
const maxPages = 200

// collector accumulates one run's postings as pages arrive newest-first.
// It stops at the cursor and drops externalIds already seen in this run
// (pinned notices show up on every page).
type collector struct {
	cursor  string
	seen    map[string]struct{}
	items   []model.Posting
	reached bool
}

func newCollector(cursor string) *collector {
	return &collector{cursor: cursor, seen: make(map[string]struct{})}
}

// add consumes one page in display order. It returns false once the cursor
// has been reached and no further page should be read.
func (c *collector) add(page []model.Posting) bool {
	if c.reached {
		return false
	}
	for _, p := range page {
		if c.cursor != "" && p.ExternalID == c.cursor {
			c.reached = true
			return false
		}
		if _, dup := c.seen[p.ExternalID]; dup {
			continue
		}
		c.seen[p.ExternalID] = struct{}{}
		c.items = append(c.items, p)
	}
	return true
}

// postings returns the accumulated postings oldest-to-newest.
func (c *collector) postings() []model.Posting {
	out := make([]model.Posting, len(c.items))
	for i, p := range c.items {
		out[len(c.items)-1-i] = p
	}
	return out
}

// cursorFor returns the externalId of the newest stored posting of source,
// or "" when nothing is stored yet.
func cursorFor(ctx context.Context, reader model.CursorReader, source string) (string, error) {
	if reader == nil {
		return "", nil
	}
	latest, ok, err := reader.LatestBySource(ctx, source)
	if err != nil {
		return "", fmt.Errorf("%s: reading cursor: %w", source, err)
	}
	if !ok {
		return "", nil
	}
	return latest.ExternalID, nil
}
