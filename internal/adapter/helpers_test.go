package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
	"github.com/amishk599/recruitwatch/internal/ratelimit"
	"github.com/amishk599/recruitwatch/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// roundTripFunc lets tests point an adapter's client at an httptest server.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// rewriteClient sends every request to srv regardless of the target host.
func rewriteClient(srv *httptest.Server) *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			req.URL.Scheme = "http"
			req.URL.Host = srv.Listener.Addr().String()
			return http.DefaultTransport.RoundTrip(req)
		}),
	}
}

var fastPolicy = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}

func fastAPIOptions() APIOptions {
	return APIOptions{Policy: fastPolicy, Pacer: ratelimit.NewPacer(0)}
}

func fastBrowserOptions() BrowserOptions {
	return BrowserOptions{PageTimeout: time.Second, Policy: fastPolicy, Pacer: ratelimit.NewPacer(0)}
}

// stubCursor returns a fixed latest posting.
type stubCursor struct {
	externalID string
	err        error
}

func (s stubCursor) LatestBySource(_ context.Context, source string) (model.Posting, bool, error) {
	if s.err != nil {
		return model.Posting{}, false, s.err
	}
	if s.externalID == "" {
		return model.Posting{}, false, nil
	}
	return model.Posting{SourceID: source, ExternalID: s.externalID}, true, nil
}

// fakeBrowser serves a fixed sequence of pages. Each successful click on the
// pager advances to the next page.
type fakeBrowser struct {
	pages    []string
	openErr  error
	waitErrs []error // consumed by successive WaitVisible calls
	sessions []*fakeSession
	// clickPastEnd makes a click on the last page succeed without moving,
	// like an enabled arrow that reloads the same page.
	clickPastEnd bool
}

func (b *fakeBrowser) Open(context.Context) (Session, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := &fakeSession{browser: b}
	b.sessions = append(b.sessions, s)
	return s, nil
}

type fakeSession struct {
	browser   *fakeBrowser
	current   int
	navigated []string
	clicks    []int
	waits     int
	closed    int
}

func (s *fakeSession) Navigate(url string) error {
	s.navigated = append(s.navigated, url)
	s.current = 0
	return nil
}

func (s *fakeSession) WaitVisible(string, time.Duration) error {
	s.waits++
	if len(s.browser.waitErrs) > 0 {
		err := s.browser.waitErrs[0]
		s.browser.waitErrs = s.browser.waitErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) HTML() (string, error) {
	if s.current >= len(s.browser.pages) {
		return "", errors.New("no such page")
	}
	return s.browser.pages[s.current], nil
}

func (s *fakeSession) ClickNth(_ string, n int) (bool, error) {
	s.clicks = append(s.clicks, n)
	if s.current+1 >= len(s.browser.pages) {
		return s.browser.clickPastEnd, nil
	}
	s.current++
	return true, nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

func externalIDs(postings []model.Posting) []string {
	ids := make([]string, len(postings))
	for i, p := range postings {
		ids[i] = p.ExternalID
	}
	return ids
}
