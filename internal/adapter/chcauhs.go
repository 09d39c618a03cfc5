package adapter

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/amishk599/recruitwatch/internal/model"
)

const chcauhsBaseURL = "https://ch.cauhs.or.kr"

var chcauhsSite = site{
	source:   SourceChCauhs,
	listPath: "/recruit/job/noticeList.do",
	marker:   ".board_wrap .table_wrap table",
	pager:    ".btn_paging_wrapper ol li",
	parse:    parseChCauhsPage,
}

var (
	chcauhsDetailRegex  = regexp.MustCompile(`fn_Detail\('(\d+)'\)`)
	chcauhsReadCntRegex = regexp.MustCompile(`fn_readCntUpdate\('(\d+)'\)`)
)

// NewChCauhsAdapter scrapes the Chung-Ang University Gwangmyeong hospital
// board. It needs a real Chrome; see NewChromeBrowser.
func NewChCauhsAdapter(b Browser, cursor model.CursorReader, opts BrowserOptions, logger *slog.Logger) *BrowserAdapter {
	return newBrowserAdapter(chcauhsSite, chcauhsBaseURL, b, cursor, opts, logger)
}

// parseChCauhsPage reads the notice table. Links are javascript handlers
// carrying the notice number.
func parseChCauhsPage(doc *goquery.Document, base *url.URL) (pageResult, error) {
	var (
		res    pageResult
		rowErr error
	)

	viewURL := base.ResolveReference(&url.URL{Path: "noticeView.do"})

	doc.Find(".board_wrap .table_wrap table tbody tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		period := row.Find(".n_period").First()
		subject := row.Find(".n_subject").First()
		if subject.Length() == 0 && row.Find("td").Length() == 1 {
			// "no notices" placeholder row
			return true
		}
		if period.Length() == 0 || subject.Length() == 0 {
			rowErr = chcauhsStructural("row %d: required element not found", i)
			return false
		}

		inner, _ := subject.Html()
		noticeNo := chcauhsNoticeNo(inner)
		if noticeNo == "" {
			rowErr = chcauhsStructural("row %d: notice number not found", i)
			return false
		}

		w, err := parsePeriod(cleanText(period.Text()))
		if err != nil {
			rowErr = chcauhsStructural("row %d: %v", i, err)
			return false
		}

		link := *viewURL
		link.RawQuery = url.Values{"jobNoticeNo": {noticeNo}}.Encode()

		res.postings = append(res.postings, model.Posting{
			SourceID:          SourceChCauhs,
			ExternalID:        noticeNo,
			Title:             cleanText(subject.Text()),
			URL:               link.String(),
			StartAt:           w.start,
			EndAt:             w.end,
			IsOpenUntilFilled: w.openEnded,
		})
		return true
	})
	if rowErr != nil {
		return pageResult{}, rowErr
	}

	pager, err := pagerState(SourceChCauhs, doc.Find(".btn_paging_wrapper ol li"), "on", "active")
	if err != nil {
		return pageResult{}, err
	}
	res.pagerInfo = pager
	return res, nil
}

func chcauhsNoticeNo(markup string) string {
	markup = strings.ReplaceAll(markup, "&#39;", "'")
	if m := chcauhsDetailRegex.FindStringSubmatch(markup); m != nil {
		return m[1]
	}
	if m := chcauhsReadCntRegex.FindStringSubmatch(markup); m != nil {
		return m[1]
	}
	return ""
}

func chcauhsStructural(format string, args ...any) error {
	return &model.StructuralChangeError{Source: SourceChCauhs, Detail: fmt.Sprintf(format, args...)}
}
