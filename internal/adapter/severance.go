package adapter

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/amishk599/recruitwatch/internal/model"
)

const severanceBaseURL = "https://yuhs.recruiter.co.kr"

var severanceSite = site{
	source:   SourceSeverance,
	listPath: "/app/jobnotice/list",
	marker:   ".list-bbs",
	pager:    ".paging-wrapper li a",
	parse:    parseSeverancePage,
}

// NewSeveranceAdapter scrapes the Severance (Yonsei) recruiter board.
func NewSeveranceAdapter(b Browser, cursor model.CursorReader, opts BrowserOptions, logger *slog.Logger) *BrowserAdapter {
	return newBrowserAdapter(severanceSite, severanceBaseURL, b, cursor, opts, logger)
}

// parseSeverancePage reads `.list-bbs li` rows. The externalId is the last
// path segment of the notice link.
func parseSeverancePage(doc *goquery.Document, base *url.URL) (pageResult, error) {
	var (
		res    pageResult
		rowErr error
	)

	doc.Find(".list-bbs li").EachWithBreak(func(i int, row *goquery.Selection) bool {
		date := row.Find(".list-bbs-date").First()
		name := row.Find(".list-bbs-notice-name").First()
		link := row.Find(".list-bbs-notice-name a").First()
		if date.Length() == 0 || name.Length() == 0 || link.Length() == 0 {
			rowErr = severanceStructural("row %d: required element not found", i)
			return false
		}

		href, _ := link.Attr("href")
		abs, err := resolveHref(base, href)
		if err != nil || href == "" {
			rowErr = severanceStructural("row %d: bad notice link %q", i, href)
			return false
		}
		externalID := lastPathSegment(abs)
		if externalID == "" {
			rowErr = severanceStructural("row %d: no id in notice link %q", i, href)
			return false
		}

		w, err := parsePeriod(cleanText(date.Text()))
		if err != nil {
			rowErr = severanceStructural("row %d: %v", i, err)
			return false
		}

		res.postings = append(res.postings, model.Posting{
			SourceID:          SourceSeverance,
			ExternalID:        externalID,
			Title:             cleanText(name.Text()),
			URL:               abs,
			StartAt:           w.start,
			EndAt:             w.end,
			IsOpenUntilFilled: w.openEnded,
		})
		return true
	})
	if rowErr != nil {
		return pageResult{}, rowErr
	}

	pager, err := pagerState(SourceSeverance, doc.Find(".paging-wrapper li a"), "active")
	if err != nil {
		return pageResult{}, err
	}
	res.pagerInfo = pager
	return res, nil
}

// lastPathSegment returns the text after the final slash, without query.
func lastPathSegment(link string) string {
	link, _, _ = strings.Cut(link, "?")
	link, _, _ = strings.Cut(link, "#")
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndex(link, "/"); i >= 0 {
		return link[i+1:]
	}
	return link
}

func severanceStructural(format string, args ...any) error {
	return &model.StructuralChangeError{Source: SourceSeverance, Detail: fmt.Sprintf(format, args...)}
}
