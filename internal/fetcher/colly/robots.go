package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	robotsFallbackReasonTLSHandshake = "TLS handshake timeout"
	robotsRetryBase                  = 250 * time.Millisecond
	robotsMaxRetries                 = 3
)

// robotsAwareTransport retries robots.txt probes that time out and, once
// they keep failing, answers with an allow-all policy so the catalog itself
// is still fetched.
type robotsAwareTransport struct {
	base    http.RoundTripper
	state   *robotsProbeState
	backoff func() retry.Backoff
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if t.state == nil || !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

func (t *robotsAwareTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	newBackoff := t.backoff
	if newBackoff == nil {
		newBackoff = defaultRobotsBackoff
	}
	var resp *http.Response
	err := retry.Do(req.Context(), newBackoff(), func(_ context.Context) error {
		r, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			resp = r
			return nil
		}
		if !isTransientTLSError(err) {
			return fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		return retry.RetryableError(err)
	})
	switch {
	case err == nil:
		return resp, nil
	case req.Context().Err() != nil:
		return nil, fmt.Errorf("robots roundtrip canceled: %w", req.Context().Err())
	case isTransientTLSError(err):
		t.state.markIndeterminate(robotsFallbackReasonTLSHandshake)
		return syntheticRobotsAllowAllResponse(req), nil
	default:
		return nil, err
	}
}

func defaultRobotsBackoff() retry.Backoff {
	return retry.WithMaxRetries(robotsMaxRetries, retry.NewExponential(robotsRetryBase))
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

// robotsProbeState remembers whether a robots.txt probe had to fall back to
// allow-all. It is shared by every fetch.
type robotsProbeState struct {
	mu            sync.Mutex
	indeterminate bool
	reason        string
	reported      bool
}

func newRobotsProbeState() *robotsProbeState {
	return &robotsProbeState{}
}

func (s *robotsProbeState) markIndeterminate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indeterminate {
		return
	}
	s.indeterminate = true
	s.reason = reason
}

// report logs the fallback once per Fetcher.
func (s *robotsProbeState) report(logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.indeterminate || s.reported {
		return
	}
	s.reported = true
	logger.Warn("robots.txt probe failed; treating catalog as allowed", zap.String("reason", s.reason))
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
