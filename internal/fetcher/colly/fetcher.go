// Package collyfetcher implements the rate-limited source fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// Config controls collector behavior shared across sources.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// sourceState holds the per-source admission controls: a token bucket for
// the request rate, a semaphore for the concurrency ceiling, and the
// retry policy value.
type sourceState struct {
	limiter *rate.Limiter
	sem     chan struct{}
	retry   *records.RetryPolicy
}

// Fetcher issues outbound requests under per-source concurrency and rate
// ceilings, retrying transient failures with capped exponential backoff.
// All failure is returned, never raised, so the orchestrator can continue
// other sources.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector

	mu      sync.Mutex
	sources map[string]*sourceState
}

// New builds a Fetcher. Sources must be registered before fetching.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	// Revisits are allowed because retries and cache refreshes hit the
	// same URL within one collector lineage.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = false
	c.WithTransport(newHTTPTransport())
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Fetcher{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
		sources:       make(map[string]*sourceState),
	}
}

// Register installs the rate and retry policy for a source descriptor.
func (f *Fetcher) Register(src records.SourceDescriptor) {
	limit := rate.Inf
	if src.Rate.MinInterval > 0 {
		limit = rate.Every(src.Rate.MinInterval)
	} else if src.Rate.RequestsPerSecond > 0 {
		limit = rate.Limit(src.Rate.RequestsPerSecond)
	}
	burst := src.Rate.Burst
	if burst <= 0 {
		burst = 1
	}
	maxConcurrent := src.Rate.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[src.ID] = &sourceState{
		limiter: rate.NewLimiter(limit, burst),
		sem:     make(chan struct{}, maxConcurrent),
		retry:   records.NewRetryPolicy(src.Retry),
	}
}

func (f *Fetcher) stateFor(sourceID string) *sourceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.sources[sourceID]
	if !ok {
		st = &sourceState{
			limiter: rate.NewLimiter(rate.Inf, 1),
			sem:     make(chan struct{}, 1),
			retry:   records.NewRetryPolicy(records.RetryConfig{}),
		}
		f.sources[sourceID] = st
	}
	return st
}

// Fetch executes the request under the source's admission controls. On
// exhausted retries it returns a FetchFailed error carrying the terminal
// cause and retry count.
func (f *Fetcher) Fetch(ctx context.Context, request records.FetchRequest) (records.FetchResponse, error) {
	st := f.stateFor(request.SourceID)

	select {
	case st.sem <- struct{}{}:
	case <-ctx.Done():
		return records.FetchResponse{}, records.NewFetchFailed(request.SourceID, request.URL, 0, ctx.Err())
	}
	defer func() { <-st.sem }()

	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt < st.retry.MaxAttempts(); attempt++ {
		if err := f.waitForToken(ctx, st, request.SourceID); err != nil {
			return records.FetchResponse{}, records.NewFetchFailed(request.SourceID, request.URL, attempts, err)
		}

		attempts++
		resp, err := f.doFetch(ctx, request)
		if err == nil {
			metrics.ObserveFetch(request.SourceID, "ok", len(resp.Body))
			return resp, nil
		}
		lastErr = err

		if !st.retry.ShouldRetry(err, attempt) {
			break
		}
		metrics.ObserveRetry(request.SourceID)
		f.logger.Debug("retrying fetch",
			zap.String("source", request.SourceID),
			zap.String("url", request.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, st.retry.Backoff(attempt, err)); err != nil {
			lastErr = err
			break
		}
	}

	metrics.ObserveFetch(request.SourceID, "failed", 0)
	return records.FetchResponse{}, records.NewFetchFailed(
		request.SourceID, request.URL, attempts-1, lastErr)
}

func (f *Fetcher) waitForToken(ctx context.Context, st *sourceState, sourceID string) error {
	start := time.Now()
	if err := st.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(sourceID, waited)
	}
	return nil
}

func (f *Fetcher) doFetch(ctx context.Context, request records.FetchRequest) (records.FetchResponse, error) {
	var (
		result   records.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = records.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
			Duration:    time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = &records.StatusError{
				StatusCode: r.StatusCode,
				RetryAfter: parseRetryAfter(r.Headers.Get("Retry-After"), time.Now()),
			}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return records.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return records.FetchResponse{}, fetchErr
		}
		if err != nil {
			return records.FetchResponse{}, fmt.Errorf("visit %s: %w", request.URL, err)
		}
		return result, nil
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
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
		IdleConnTimeout:       90 * time.Second,
	}
}
