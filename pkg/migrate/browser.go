package migrate

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/time/rate"
)

// BrowserOptions configures a BrowserFetcher.
type BrowserOptions struct {
	// Install downloads the Chromium build Playwright needs before starting.
	Install   bool
	Timeout   time.Duration
	Rate      float64
	UserAgent string
}

// BrowserFetcher renders pages in headless Chromium before extraction, for
// sites that build their content with JavaScript.
type BrowserFetcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	limiter *rate.Limiter
	timeout float64
}

// NewBrowserFetcher starts Playwright and a headless Chromium. Close must be
// called to stop them.
func NewBrowserFetcher(opts BrowserOptions) (*BrowserFetcher, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, goerr.Wrap(err, "failed to install playwright")
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to start playwright")
	}

	headless := true
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: &headless})
	if err != nil {
		_ = pw.Stop()
		return nil, goerr.Wrap(err, "failed to launch browser")
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{UserAgent: &ua})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, goerr.Wrap(err, "failed to create browser context")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}

	return &BrowserFetcher{
		pw:      pw,
		browser: browser,
		context: bctx,
		limiter: limiter,
		timeout: float64(timeout.Milliseconds()),
	}, nil
}

// Fetch opens url in a new tab, waits for the DOM and extracts the rendered
// HTML.
func (f *BrowserFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "rate limiter", goerr.V("url", url))
	}

	page, err := f.context.NewPage()
	if err != nil {
		return nil, goerr.Wrap(ErrFetch, "failed to open tab", goerr.V("url", url), goerr.V("cause", err.Error()))
	}
	defer func() {
		_ = page.Close()
	}()

	waitUntil := playwright.WaitUntilState("domcontentloaded")
	resp, err := page.Goto(url, playwright.PageGotoOptions{WaitUntil: &waitUntil, Timeout: &f.timeout})
	if err != nil {
		return nil, goerr.Wrap(ErrFetch, "navigation failed", goerr.V("url", url), goerr.V("cause", err.Error()))
	}
	if resp != nil && !resp.Ok() {
		return nil, goerr.Wrap(ErrFetch, "unexpected status", goerr.V("url", url), goerr.V("status", resp.Status()))
	}

	html, err := page.Content()
	if err != nil {
		return nil, goerr.Wrap(ErrFetch, "failed to read page", goerr.V("url", url), goerr.V("cause", err.Error()))
	}
	return Extract(strings.NewReader(html))
}

// Close stops the browser and Playwright.
func (f *BrowserFetcher) Close() error {
	_ = f.context.Close()
	_ = f.browser.Close()
	if err := f.pw.Stop(); err != nil {
		return goerr.Wrap(err, "failed to stop playwright")
	}
	return nil
}
