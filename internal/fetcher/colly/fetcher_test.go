package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

const pageBody = `<html><body><ul class="pager"><li class="current">Page 1 of 2</li></ul></body></html>`

type scriptedServer struct {
	*httptest.Server
	hits     atomic.Int32
	statuses []int
}

// newScriptedServer answers successive requests with statuses; the last one repeats.
func newScriptedServer(t *testing.T, statuses ...int) *scriptedServer {
	t.Helper()
	s := &scriptedServer{statuses: statuses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.hits.Add(1)) - 1
		if n >= len(s.statuses) {
			n = len(s.statuses) - 1
		}
		assert.Equal(t, "catalog-test/1.0", r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(s.statuses[n])
		if s.statuses[n] == http.StatusOK {
			_, _ = w.Write([]byte(pageBody))
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestFetcher(t *testing.T, baseURL string, rec progress.Emitter) *Fetcher {
	t.Helper()
	f, err := New(Config{
		URLTemplate: baseURL + "/catalogue/page-{page}.html",
		UserAgent:   "catalog-test/1.0",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
	}, rec, nil)
	require.NoError(t, err)
	return f
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusOK)
	rec := &progress.Recorder{}
	f := newTestFetcher(t, srv.URL, rec)

	body, err := f.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, pageBody, body)
	assert.EqualValues(t, 1, srv.hits.Load())

	attempts := rec.ByStage(progress.StageFetchAttempt)
	require.Len(t, attempts, 1)
	assert.Equal(t, srv.URL+"/catalogue/page-1.html", attempts[0].URL)
	assert.Equal(t, http.StatusOK, attempts[0].StatusCode)
	assert.Equal(t, progress.Status2xx, attempts[0].StatusClass)
	assert.Equal(t, 1, attempts[0].Attempt)
	assert.EqualValues(t, len(pageBody), attempts[0].Bytes)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusNotFound)
	rec := &progress.Recorder{}
	f := newTestFetcher(t, srv.URL, rec)

	_, err := f.Fetch(context.Background(), 51)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "page-51.html")
	assert.EqualValues(t, 1, srv.hits.Load())

	attempts := rec.ByStage(progress.StageFetchAttempt)
	require.Len(t, attempts, 1)
	assert.Equal(t, progress.Status4xx, attempts[0].StatusClass)
}

func TestFetchRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK)
	rec := &progress.Recorder{}
	f := newTestFetcher(t, srv.URL, rec)

	body, err := f.Fetch(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, pageBody, body)
	assert.EqualValues(t, 3, srv.hits.Load())

	attempts := rec.ByStage(progress.StageFetchAttempt)
	require.Len(t, attempts, 3)
	for i, evt := range attempts {
		assert.Equal(t, i+1, evt.Attempt)
	}
	assert.Equal(t, progress.Status5xx, attempts[0].StatusClass)
	assert.Equal(t, http.StatusBadGateway, attempts[1].StatusCode)
	assert.Equal(t, progress.Status2xx, attempts[2].StatusClass)
}

func TestFetchExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusServiceUnavailable)
	f := newTestFetcher(t, srv.URL, nil)

	_, err := f.Fetch(context.Background(), 4)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, terr.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, terr.StatusCode)
	assert.Equal(t, srv.URL+"/catalogue/page-4.html", terr.URL)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 3, srv.hits.Load())
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	rec := &progress.Recorder{}
	f := newTestFetcher(t, base, rec)

	_, err := f.Fetch(context.Background(), 1)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, terr.Attempts)
	assert.Zero(t, terr.StatusCode)
	require.Error(t, terr.Err)

	attempts := rec.ByStage(progress.StageFetchAttempt)
	require.Len(t, attempts, 3)
	for _, evt := range attempts {
		assert.Equal(t, progress.StatusOther, evt.StatusClass)
		assert.NotEmpty(t, evt.Note)
	}
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f := newTestFetcher(t, srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var terr *TransportError
	assert.False(t, errors.As(err, &terr))
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	var pageHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /"))
			return
		}
		pageHits.Add(1)
		_, _ = w.Write([]byte(pageBody))
	}))
	t.Cleanup(srv.Close)

	f, err := New(Config{URLTemplate: srv.URL + "/catalogue/page-{page}.html", RespectRobots: true}, nil, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), 1)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)
	assert.Equal(t, 1, terr.Attempts)
	assert.Zero(t, pageHits.Load())
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URLTemplate: "https://example.com/catalogue/page-1.html"}, nil, nil)
	require.Error(t, err)

	_, err = New(Config{BackoffInitial: -time.Second}, nil, nil)
	require.Error(t, err)

	f, err := New(Config{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://books.toscrape.com/catalogue/page-7.html", f.URL(7))
	assert.Equal(t, 3, f.cfg.MaxAttempts)

	_, err = f.Fetch(context.Background(), 0)
	require.Error(t, err)
}

func TestBackoffBudget(t *testing.T) {
	t.Parallel()

	for _, initial := range []time.Duration{0, time.Millisecond} {
		f, err := New(Config{MaxAttempts: 4, BackoffInitial: initial, BackoffMax: 5 * time.Millisecond}, nil, nil)
		require.NoError(t, err)

		b := f.backoff()
		for i := 0; i < 3; i++ {
			d, stop := b.Next()
			require.False(t, stop, "retry %d", i)
			assert.LessOrEqual(t, d, 6*time.Millisecond)
		}
		_, stop := b.Next()
		assert.True(t, stop)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f, err := New(Config{}, nil, nil)
	require.NoError(t, err)

	hooks := &stubHooks{}
	var res attemptResult
	f.configureCollectorHooks(hooks, &res)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusOK, Body: []byte("body")})
	assert.Equal(t, "body", res.body)
	assert.EqualValues(t, 4, res.bytes)

	hooks.onError(&colly.Response{StatusCode: http.StatusTeapot}, errors.New("boom"))
	assert.Equal(t, http.StatusTeapot, res.status)
	require.ErrorContains(t, res.err, "boom")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

func TestFetchPacesRequests(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusOK)
	f, err := New(Config{
		URLTemplate:       srv.URL + "/catalogue/page-{page}.html",
		UserAgent:         "catalog-test/1.0",
		MaxAttempts:       1,
		RequestsPerSecond: 20,
		Burst:             1,
	}, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	for page := 1; page <= 3; page++ {
		_, err := f.Fetch(context.Background(), page)
		require.NoError(t, err)
	}
	// Two refills at 20 RPS take at least 100ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.EqualValues(t, 3, srv.hits.Load())
}

func TestFetchPacingHonorsContext(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusOK)
	f, err := New(Config{
		URLTemplate:       srv.URL + "/catalogue/page-{page}.html",
		UserAgent:         "catalog-test/1.0",
		RequestsPerSecond: 0.01,
		Burst:             1,
	}, nil, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, 2)
	require.Error(t, err)
	var transportErr *TransportError
	assert.False(t, errors.As(err, &transportErr))
	assert.EqualValues(t, 1, srv.hits.Load())
}

type captureSink struct {
	mu     sync.Mutex
	events []progress.Event
}

func (s *captureSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error { return nil }

func (s *captureSink) Events() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

func TestFetchEmitsThroughRunScopedHub(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusInternalServerError, http.StatusOK)
	sink := &captureSink{}
	hub := progress.NewHub(progress.Config{MaxBatchWait: 10 * time.Millisecond}, sink)
	// The fetcher holds the bare hub, as it does when shared across runs.
	f := newTestFetcher(t, srv.URL, hub)

	runID := uuid.New()
	ctx := progress.ContextWithEmitter(context.Background(), progress.WithRun(hub, runID, nil))
	_, err := f.Fetch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, hub.Close(context.Background()))

	assert.Zero(t, hub.Invalid())
	events := sink.Events()
	require.Len(t, events, 2)
	for _, evt := range events {
		require.NoError(t, evt.Validate())
		assert.Equal(t, progress.StageFetchAttempt, evt.Stage)
		assert.Equal(t, runID, evt.RunUUID())
	}
	assert.Equal(t, progress.Status5xx, events[0].StatusClass)
	assert.Equal(t, progress.Status2xx, events[1].StatusClass)
}

func TestFetchBareHubDiscardsUnscopedEvents(t *testing.T) {
	t.Parallel()

	srv := newScriptedServer(t, http.StatusOK)
	sink := &captureSink{}
	hub := progress.NewHub(progress.Config{}, sink)
	f := newTestFetcher(t, srv.URL, hub)

	_, err := f.Fetch(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, hub.Close(context.Background()))

	assert.EqualValues(t, 1, hub.Invalid())
	assert.Empty(t, sink.Events())
}

func TestFetchReturnsLargeBodyWhole(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 11<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, srv.URL, nil)
	got, err := f.Fetch(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, got, len(body))
}

func TestFetchCancelAbortsInFlightRequest(t *testing.T) {
	t.Parallel()

	gone := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(gone)
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f, err := New(Config{
		URLTemplate: srv.URL + "/catalogue/page-{page}.html",
		Timeout:     30 * time.Second,
		MaxAttempts: 1,
	}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("request kept running after the fetch context ended")
	}
}
