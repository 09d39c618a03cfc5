package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/ratelimit"
	"github.com/amishk599/recruitwatch/internal/retry"
)

const defaultPageTimeout = 5 * time.Second

// BrowserOptions tunes the page loop of browser-driven adapters.
// Zero values fall back to the defaults.
type BrowserOptions struct {
	BaseURL     string
	PageTimeout time.Duration
	Policy      retry.Policy
	Pacer       *ratelimit.Pacer
}

func (o BrowserOptions) withDefaults(baseURL string) BrowserOptions {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.PageTimeout <= 0 {
		o.PageTimeout = defaultPageTimeout
	}
	if o.Policy.Attempts <= 0 {
		o.Policy = retry.DefaultPagePolicy
	}
	if o.Pacer == nil {
		o.Pacer = ratelimit.NewPacer(ratelimit.DefaultPageDelay)
	}
	return o
}

// pagerInfo locates the active pager entry and the one to click next.
type pagerInfo struct {
	current string // label of the active pager entry, "" without pager
	next    int    // pager index to click for the following page, -1 at the end
	arrow   bool   // next is a block arrow, not a page number
}

// pageResult is what a site parser extracts from one listing page.
type pageResult struct {
	postings []model.Posting // display order, newest first
	pagerInfo
}

// errPagerUnchanged marks a re-read page whose active pager entry did not move.
var errPagerUnchanged = errors.New("pager unchanged")

// pageParser turns a serialized listing page into postings.
// It must not touch the browser.
type pageParser func(doc *goquery.Document, base *url.URL) (pageResult, error)

// site describes the markup contract of one browser-driven source.
type site struct {
	source   string
	listPath string
	marker   string // element that signals the listing has rendered
	pager    string // selector of clickable pager entries
	parse    pageParser
}

// BrowserAdapter scrapes a listing that only renders in a real browser.
type BrowserAdapter struct {
	site    site
	browser Browser
	cursor  model.CursorReader
	opts    BrowserOptions
	logger  *slog.Logger
}

var _ model.SourceAdapter = (*BrowserAdapter)(nil)

func newBrowserAdapter(s site, defaultBase string, b Browser, cursor model.CursorReader, opts BrowserOptions, logger *slog.Logger) *BrowserAdapter {
	return &BrowserAdapter{
		site:    s,
		browser: b,
		cursor:  cursor,
		opts:    opts.withDefaults(defaultBase),
		logger:  logger.With("source", s.source),
	}
}

func (a *BrowserAdapter) Source() string { return a.site.source }

// Scrape walks the listing newest-first until the cursor or the last page.
// The browser session is released on every return path.
func (a *BrowserAdapter) Scrape(ctx context.Context) ([]model.Posting, error) {
	cursor, err := cursorFor(ctx, a.cursor, a.site.source)
	if err != nil {
		return nil, err
	}

	listURL := a.opts.BaseURL + a.site.listPath
	base, err := url.Parse(listURL)
	if err != nil {
		return nil, &model.ConfigurationError{Component: a.site.source, Detail: fmt.Sprintf("list url: %v", err)}
	}
	host := base.Host

	sess, err := a.browser.Open(ctx)
	if err != nil {
		var cfgErr *model.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, a.transient(fmt.Errorf("open browser: %w", err))
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			a.logger.Warn("closing browser session", "error", cerr)
		}
	}()

	if err := a.opts.Pacer.Wait(ctx, host); err != nil {
		return nil, err
	}
	err = retry.Do(ctx, a.opts.Policy, a.logger, "navigate", func(context.Context) error {
		if err := sess.Navigate(listURL); err != nil {
			return a.transient(fmt.Errorf("navigate %s: %w", listURL, err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	col := newCollector(cursor)
	previous := ""
	afterArrow := false
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, &model.StructuralChangeError{Source: a.site.source, Detail: fmt.Sprintf("pager did not end after %d pages", maxPages)}
		}

		res, err := a.readPage(ctx, sess, base, page, previous)
		if afterArrow && errors.Is(err, errPagerUnchanged) {
			// An enabled arrow past the last page number reloads the same page.
			a.logger.Debug("pager arrow did not advance, last page reached", "pager", previous)
			break
		}
		if err != nil {
			return nil, err
		}
		a.logger.Debug("read page", "page", page, "rows", len(res.postings), "pager", res.current)

		if !col.add(res.postings) || res.next < 0 {
			break
		}
		previous = res.current
		afterArrow = res.arrow

		if err := a.opts.Pacer.Wait(ctx, host); err != nil {
			return nil, err
		}
		clicked, err := sess.ClickNth(a.site.pager, res.next)
		if err != nil {
			return nil, a.transient(fmt.Errorf("click pager entry %d: %w", res.next, err))
		}
		if !clicked {
			return nil, &model.StructuralChangeError{Source: a.site.source, Detail: fmt.Sprintf("pager entry %d not clickable", res.next)}
		}
	}

	postings := col.postings()
	a.logger.Info("scrape complete", "new", len(postings), "cursor", cursor, "cursor_reached", col.reached)
	return postings, nil
}

// readPage waits for the listing marker, serializes the page and parses it,
// retrying transient failures. A page whose pager still shows the previous
// label has not finished loading and counts as transient.
func (a *BrowserAdapter) readPage(ctx context.Context, sess Session, base *url.URL, page int, previous string) (pageResult, error) {
	var res pageResult
	err := retry.Do(ctx, a.opts.Policy, a.logger, fmt.Sprintf("page %d", page), func(context.Context) error {
		if err := sess.WaitVisible(a.site.marker, a.opts.PageTimeout); err != nil {
			return a.transient(fmt.Errorf("wait for %q: %w", a.site.marker, err))
		}
		raw, err := sess.HTML()
		if err != nil {
			return a.transient(fmt.Errorf("read page html: %w", err))
		}
		doc, err := parseDocument(a.site.source, raw)
		if err != nil {
			return err
		}
		r, err := a.site.parse(doc, base)
		if err != nil {
			return err
		}
		if previous != "" && r.current == previous {
			return a.transient(fmt.Errorf("page %d still shows pager entry %q: %w", page, previous, errPagerUnchanged))
		}
		res = r
		return nil
	})
	return res, err
}

func (a *BrowserAdapter) transient(err error) error {
	return &model.TransientFetchError{Source: a.site.source, Err: err}
}

// parseDocument parses serialized HTML into a queryable document.
func parseDocument(source, raw string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, &model.StructuralChangeError{Source: source, Detail: fmt.Sprintf("parse html: %v", err)}
	}
	return goquery.NewDocumentFromNode(root), nil
}

// pagerState finds the active entry of a pager. The active marker may sit
// on the entry itself or on its parent list item. Entries whose label is not
// a page number are arrows; an enabled arrow right after the active entry
// leads to the next block of pages.
func pagerState(source string, entries *goquery.Selection, activeClasses ...string) (pagerInfo, error) {
	if entries.Length() == 0 {
		return pagerInfo{next: -1}, nil
	}

	active := -1
	entries.EachWithBreak(func(i int, s *goquery.Selection) bool {
		for _, class := range activeClasses {
			if s.HasClass(class) || s.Parent().HasClass(class) || s.Find("."+class).Length() > 0 {
				active = i
				return false
			}
		}
		return true
	})
	if active < 0 {
		return pagerInfo{}, &model.StructuralChangeError{Source: source, Detail: "pager has no active entry"}
	}

	info := pagerInfo{current: cleanText(entries.Eq(active).Text()), next: -1}
	if active+1 >= entries.Length() {
		return info, nil
	}
	candidate := entries.Eq(active + 1)
	if isPageNumber(candidate) {
		info.next = active + 1
		return info, nil
	}
	if pagerDisabled(candidate) {
		return info, nil
	}
	info.next, info.arrow = active+1, true
	return info, nil
}

func isPageNumber(s *goquery.Selection) bool {
	_, err := strconv.Atoi(cleanText(s.Text()))
	return err == nil
}

func pagerDisabled(s *goquery.Selection) bool {
	for _, sel := range []*goquery.Selection{s, s.Parent()} {
		if sel.HasClass("disabled") || sel.AttrOr("aria-disabled", "") == "true" {
			return true
		}
	}
	return false
}

// cleanText collapses whitespace in text content.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveHref makes href absolute against base.
func resolveHref(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
