// Package collyfetcher retrieves catalog pages over HTTP using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PagePlaceholder is substituted with the page number in Config.URLTemplate.
const PagePlaceholder = "{page}"

// DefaultURLTemplate addresses the public books catalog.
const DefaultURLTemplate = "https://books.toscrape.com/catalogue/page-{page}.html"

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 15 * time.Second
	jitterPercent      = 10
)

// ErrNotFound signals the requested page is past the end of the catalog.
// It is terminal and never retried.
var ErrNotFound = errors.New("page not found")

// TransportError is returned once every attempt for a page has failed.
type TransportError struct {
	URL      string
	Attempts int
	// StatusCode is the last HTTP status seen, 0 when the request never got a response.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s failed after %d attempts (last status %d): %v", e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config controls collector and retry behavior.
type Config struct {
	URLTemplate string
	UserAgent   string
	Timeout     time.Duration
	// MaxAttempts is the total attempt budget per page, including the first try.
	MaxAttempts int
	// BackoffInitial is the delay before the first retry; zero retries immediately.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	RespectRobots  bool
	// RequestsPerSecond paces requests to the catalog host; <= 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Fetcher turns a page number into the page's markup. It is safe for
// concurrent use; every call shares one connection pool.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *robotsProbeState
	limiter       *ratelimit.Limiter
	emitter       progress.Emitter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, emitter progress.Emitter, logger *zap.Logger) (*Fetcher, error) {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = DefaultURLTemplate
	}
	if !strings.Contains(cfg.URLTemplate, PagePlaceholder) {
		return nil, fmt.Errorf("url template %q must contain %s", cfg.URLTemplate, PagePlaceholder)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BackoffInitial < 0 || cfg.BackoffMax < 0 {
		return nil, errors.New("backoff durations must be >= 0")
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Retries hit the same URL, so revisits must be allowed.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	// Bodies are returned whole.
	c.MaxBodySize = 0

	var (
		transport http.RoundTripper = newHTTPTransport()
		robots    *robotsProbeState
	)
	if cfg.RespectRobots {
		robots = newRobotsProbeState()
		transport = &robotsAwareTransport{base: transport, state: robots}
	}
	// Clones share the collector backend, so transport and timeout are set once here.
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		robots:        robots,
		limiter:       ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RequestsPerSecond, Burst: cfg.Burst}),
		emitter:       emitter,
		logger:        logger,
	}, nil
}

// URL renders the address of page.
func (f *Fetcher) URL(page int) string {
	return strings.ReplaceAll(f.cfg.URLTemplate, PagePlaceholder, strconv.Itoa(page))
}

// Fetch returns the markup of page. A 404 yields ErrNotFound straight away;
// any other failure is retried until the attempt budget is spent and then
// reported as a *TransportError.
func (f *Fetcher) Fetch(ctx context.Context, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}
	url := f.URL(page)

	var (
		body     string
		attempts int
		last     attemptResult
	)
	err := retry.Do(ctx, f.backoff(), func(ctx context.Context) error {
		waited, err := f.limiter.Wait(ctx, url)
		if err != nil {
			return err
		}
		if waited > 0 {
			f.logger.Debug("paced page fetch", zap.String("url", url), zap.Duration("waited", waited))
		}
		attempts++
		last = f.attempt(ctx, url, page, attempts)
		switch {
		case last.err == nil:
			body = last.body
			return nil
		case last.status == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, url)
		case ctx.Err() != nil:
			return fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
		case errors.Is(last.err, colly.ErrRobotsTxtBlocked):
			return last.err
		default:
			return retry.RetryableError(last.err)
		}
	})
	if f.robots != nil {
		f.robots.report(f.logger)
	}
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, ErrNotFound):
		return "", err
	case ctx.Err() != nil:
		return "", fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case errors.Is(err, ratelimit.ErrCanceled):
		return "", fmt.Errorf("fetch %s: %w", url, err)
	default:
		return "", &TransportError{URL: url, Attempts: attempts, StatusCode: last.status, Err: last.err}
	}
}

func (f *Fetcher) backoff() retry.Backoff {
	var b retry.Backoff
	if f.cfg.BackoffInitial > 0 {
		b = retry.NewExponential(f.cfg.BackoffInitial)
		if f.cfg.BackoffMax > 0 {
			b = retry.WithCappedDuration(f.cfg.BackoffMax, b)
		}
		b = retry.WithJitterPercent(jitterPercent, b)
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	return retry.WithMaxRetries(uint64(f.cfg.MaxAttempts-1), b)
}

type attemptResult struct {
	body   string
	status int
	bytes  int64
	err    error
}

func (f *Fetcher) attempt(ctx context.Context, url string, page, attempt int) attemptResult {
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	res := f.runCollector(ctx, collector, url)
	dur := time.Since(start)

	note := ""
	if res.err != nil {
		note = res.err.Error()
	}
	f.logger.Debug("page fetch attempt",
		zap.String("url", url),
		zap.Int("attempt", attempt),
		zap.Int("status", res.status),
		zap.Duration("dur", dur),
		zap.Error(res.err),
	)
	progress.EmitterFrom(ctx, f.emitter).Emit(progress.Event{
		Stage:       progress.StageFetchAttempt,
		Page:        page,
		URL:         url,
		StatusCode:  res.status,
		StatusClass: progress.ClassifyStatus(res.status),
		Attempt:     attempt,
		Bytes:       res.bytes,
		Dur:         dur,
		Note:        note,
	})
	return res
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, res *attemptResult) {
	hooks.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = string(r.Body)
		res.bytes = int64(len(r.Body))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
			res.bytes = int64(len(r.Body))
		}
		res.err = fmt.Errorf("colly response failed: %w", err)
	})
}

// runCollector visits url on its own goroutine, which owns the result until
// it is sent.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) attemptResult {
	done := make(chan attemptResult, 1)
	go func() {
		var res attemptResult
		f.configureCollectorHooks(collector, &res)
		if err := collector.Visit(url); err != nil && res.err == nil {
			res.err = fmt.Errorf("colly visit failed: %w", err)
		}
		done <- res
	}()

	select {
	case <-ctx.Done():
		return attemptResult{err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case res := <-done:
		return res
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
