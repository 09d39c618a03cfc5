package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/ratelimit"
	"github.com/amishk599/recruitwatch/internal/retry"
)

// APIOptions tunes JSON-API adapters. Zero values fall back to defaults.
type APIOptions struct {
	BaseURL  string
	PageSize int
	Policy   retry.Policy
	Pacer    *ratelimit.Pacer
}

func (o APIOptions) withDefaults(baseURL string, pageSize int) APIOptions {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.PageSize <= 0 {
		o.PageSize = pageSize
	}
	if o.Policy.Attempts <= 0 {
		o.Policy = retry.DefaultPagePolicy
	}
	if o.Pacer == nil {
		o.Pacer = ratelimit.NewPacer(ratelimit.DefaultPageDelay)
	}
	return o
}

// apiPage is one decoded page of a paginated JSON listing.
type apiPage struct {
	postings []model.Posting // newest first
	lastPage int             // as reported by this page
}

// pageFetcher requests page n (1-based) of a listing.
type pageFetcher func(ctx context.Context, page int) (apiPage, error)

// walkPages reads pages newest-first until the cursor or the last page.
// The last page is re-read from every page since it moves while new
// notices are posted.
func walkPages(ctx context.Context, source string, opts APIOptions, cursor string, fetch pageFetcher, logger *slog.Logger) ([]model.Posting, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, &model.ConfigurationError{Component: source, Detail: fmt.Sprintf("base url: %v", err)}
	}

	col := newCollector(cursor)
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, &model.StructuralChangeError{Source: source, Detail: fmt.Sprintf("listing did not end after %d pages", maxPages)}
		}

		var res apiPage
		err := retry.Do(ctx, opts.Policy, logger, fmt.Sprintf("page %d", page), func(ctx context.Context) error {
			if err := opts.Pacer.Wait(ctx, u.Host); err != nil {
				return err
			}
			var err error
			res, err = fetch(ctx, page)
			return err
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("read page", "page", page, "rows", len(res.postings), "last_page", res.lastPage)

		if !col.add(res.postings) || page >= res.lastPage {
			break
		}
	}

	postings := col.postings()
	logger.Info("scrape complete", "new", len(postings), "cursor", cursor, "cursor_reached", col.reached)
	return postings, nil
}

// newRequest builds a request against the adapter's base URL.
func newRequest(method, base, path string, query url.Values) (*http.Request, error) {
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return http.NewRequest(method, target, nil)
}
