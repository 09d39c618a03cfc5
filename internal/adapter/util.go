package adapter

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
)

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

// extractText converts an HTML or HTML-encoded string to plain text.
// It unescapes entities, strips all tags, then collapses whitespace.
func extractText(content string) string {
	unescaped := html.UnescapeString(content)
	plain := htmlTagRegex.ReplaceAllString(unescaped, "")
	return strings.Join(strings.Fields(plain), " ")
}

// seoul is the zone of every date printed by the supported sites.
var seoul = loadSeoul()

func loadSeoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006/01/02 15:04",
	"2006/01/02",
	"20060102",
}

// parseSiteDate parses a date as printed by a site. Values without an
// explicit offset are read as Asia/Seoul wall time.
func parseSiteDate(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, seoul); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Markers used in place of a closing date for postings that stay open
// until the position is filled.
var openEndedMarkers = []string{"수시", "상시", "채용시", "채용 시"}

func isOpenEnded(s string) bool {
	for _, m := range openEndedMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// window is the application period of a posting.
type window struct {
	start     time.Time
	end       *time.Time
	openEnded bool
}

// parsePeriod parses "start ~ end". A missing or open-ended end yields a
// window without end.
func parsePeriod(text string) (window, error) {
	startText, endText, _ := strings.Cut(strings.TrimSpace(text), "~")

	start, err := parseSiteDate(startText)
	if err != nil {
		return window{}, fmt.Errorf("period %q: start: %w", text, err)
	}

	w := window{start: start}
	endText = strings.TrimSpace(endText)
	switch {
	case endText == "":
	case isOpenEnded(endText):
		w.openEnded = true
	default:
		end, err := parseSiteDate(endText)
		if err != nil {
			return window{}, fmt.Errorf("period %q: end: %w", text, err)
		}
		w.end = &end
	}
	return w, nil
}

// Location returns the zone the supported sites publish their dates in.
func Location() *time.Location { return seoul }
