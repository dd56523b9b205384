package feedsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"transiter.dev/transiter/internal/logging"
)

// HTTPSource fetches feeds with GET requests. Requests to the same host are
// rate limited so many feeds of one agency do not hammer its server.
type HTTPSource struct {
	client      *http.Client
	timeout     time.Duration
	maxBodySize int64

	limit rate.Limit
	burst int
	mu    sync.Mutex
	hosts map[string]*rate.Limiter

	logger *slog.Logger
}

type HTTPOptions struct {
	// Timeout is the default per-request timeout.
	Timeout time.Duration
	// RequestsPerSecond per host. Zero or less disables limiting.
	RequestsPerSecond float64
	Burst             int
	MaxBodySize       int64
}

func NewHTTPSource(opts HTTPOptions) *HTTPSource {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &HTTPSource{
		client:      &http.Client{Transport: transport},
		timeout:     opts.Timeout,
		maxBodySize: opts.MaxBodySize,
		limit:       limit,
		burst:       opts.Burst,
		hosts:       map[string]*rate.Limiter{},
		logger:      slog.Default().With(slog.String("component", "http_feed_source")),
	}
}

func (s *HTTPSource) limiter(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.hosts[host]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.hosts[host] = limiter
	}
	return limiter
}

func (s *HTTPSource) Fetch(ctx context.Context, feed Feed) ([]byte, error) {
	u, err := url.Parse(feed.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if err := s.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	timeout := feed.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range feed.Headers {
		req.Header.Add(key, value)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute feed request: %w", err)
	}
	defer logging.SafeCloseWithLogging(resp.Body, s.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed fetch failed: %s returned %s", feed.URL, resp.Status)
	}

	body, err := readLimited(resp.Body, s.maxBodySize)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	s.logger.Debug("feed_downloaded",
		slog.String("feed_id", feed.ID),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)))
	return maybeGunzip(body, feed.Gzip, s.maxBodySize)
}
