package migrate

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultRate         = 2.0
	DefaultUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	maxPageSize = 10 << 20
)

var ErrFetch = goerr.New("failed to fetch page")

// PageFetcher retrieves the readable content of a URL.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Fetcher is a rate-limited HTTP PageFetcher.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithRate limits requests per second. Zero or less disables the limit.
func WithRate(perSecond float64) FetcherOption {
	return func(f *Fetcher) {
		if perSecond <= 0 {
			f.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// NewFetcher returns a Fetcher with a browser User-Agent, a 30 second
// timeout and two requests per second.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: DefaultFetchTimeout},
		limiter:   rate.NewLimiter(rate.Limit(DefaultRate), 1),
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url and extracts its readable content.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(err, "rate limiter", goerr.V("url", url))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, goerr.Wrap(ErrFetch, "invalid request", goerr.V("url", url), goerr.V("cause", err.Error()))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(ErrFetch, "request failed", goerr.V("url", url), goerr.V("cause", err.Error()))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, goerr.Wrap(ErrFetch, "unexpected status", goerr.V("url", url), goerr.V("status", resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, goerr.Wrap(ErrFetch, "not an HTML page", goerr.V("url", url), goerr.V("content_type", ct))
	}

	page, err := Extract(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, goerr.Wrap(ErrFetch, "failed to extract content", goerr.V("url", url), goerr.V("cause", err.Error()))
	}
	return page, nil
}
