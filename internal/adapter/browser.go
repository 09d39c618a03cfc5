package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/amishk599/recruitwatch/internal/model"
)

// Browser opens automation sessions. Each adapter run owns exactly one
// session and must Close it on every path.
type Browser interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a single browser tab. It is bound to the context passed to
// Open; cancelling that context aborts any call in flight.
type Session interface {
	Navigate(url string) error
	// WaitVisible blocks until selector matches a visible element or timeout elapses.
	WaitVisible(selector string, timeout time.Duration) error
	// HTML returns the serialized document.
	HTML() (string, error)
	// ClickNth clicks the n-th (0-based) element matching selector, or the
	// first anchor inside it. It reports false when no such element exists.
	ClickNth(selector string, n int) (bool, error)
	Close() error
}

// ChromeOptions configures a locally installed Chrome or Chromium.
type ChromeOptions struct {
	ExecPath   string
	Headless   bool
	Production bool // adds flags suited to containers
}

// ChromeBrowser launches one Chrome process per session via chromedp.
type ChromeBrowser struct {
	opts ChromeOptions
}

var _ Browser = (*ChromeBrowser)(nil)

// NewChromeBrowser validates the executable path. A missing executable is a
// ConfigurationError and is reported before any scrape is attempted.
func NewChromeBrowser(opts ChromeOptions) (*ChromeBrowser, error) {
	if opts.ExecPath == "" {
		return nil, &model.ConfigurationError{Component: "browser", Detail: "CHROME_EXECUTABLE_PATH must be set"}
	}
	info, err := os.Stat(opts.ExecPath)
	if err != nil {
		return nil, &model.ConfigurationError{Component: "browser", Detail: fmt.Sprintf("chrome executable: %v", err)}
	}
	if info.IsDir() {
		return nil, &model.ConfigurationError{Component: "browser", Detail: fmt.Sprintf("chrome executable %s is a directory", opts.ExecPath)}
	}
	return &ChromeBrowser{opts: opts}, nil
}

// Open starts a browser process and a tab.
func (b *ChromeBrowser) Open(ctx context.Context) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(b.opts.ExecPath),
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if b.opts.Production {
		allocOpts = append(allocOpts,
			chromedp.DisableGPU,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// The first Run launches the process.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	return &chromeSession{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

type chromeSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

func (s *chromeSession) Navigate(url string) error {
	return chromedp.Run(s.ctx, chromedp.Navigate(url))
}

func (s *chromeSession) WaitVisible(selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromeSession) HTML() (string, error) {
	var doc string
	if err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &doc, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return doc, nil
}

const clickNthScript = `(() => {
	const el = document.querySelectorAll(%q)[%d];
	if (!el) return false;
	(el.querySelector('a') || el).click();
	return true;
})()`

func (s *chromeSession) ClickNth(selector string, n int) (bool, error) {
	var clicked bool
	script := fmt.Sprintf(clickNthScript, selector, n)
	if err := chromedp.Run(s.ctx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

// Close shuts the browser down and releases the allocator. Safe to call twice.
func (s *chromeSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.cancelTab()
	s.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
