package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

func newTestFetcher(t *testing.T, src records.SourceDescriptor) *Fetcher {
	t.Helper()
	metrics.Init()
	f := New(Config{UserAgent: "leads-test", Timeout: 5 * time.Second}, zap.NewNop())
	f.Register(src)
	return f
}

func testSource(id string) records.SourceDescriptor {
	return records.SourceDescriptor{
		ID:   id,
		Kind: records.SourcePropertyCard,
		Rate: records.RatePolicy{MaxConcurrent: 2, Burst: 1},
		Retry: records.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	}
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, testSource("vgsi"))
	resp, err := f.Fetch(context.Background(), records.FetchRequest{SourceID: "vgsi", URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte("<html>ok</html>"), resp.Body)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, testSource("vgsi"))
	_, err := f.Fetch(context.Background(), records.FetchRequest{SourceID: "vgsi", URL: srv.URL})
	require.Error(t, err)
	require.True(t, records.IsKind(err, records.KindFetchFailed))
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(t, testSource("vgsi"))
	_, err := f.Fetch(context.Background(), records.FetchRequest{SourceID: "vgsi", URL: srv.URL})
	require.Error(t, err)
	require.True(t, records.IsKind(err, records.KindFetchFailed))
	require.Equal(t, int32(1), calls.Load())

	var cerr *records.Error
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, 0, cerr.Retries)
}

func TestFetchDoesNotRetryMalformedURL(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, testSource("vgsi"))
	_, err := f.Fetch(context.Background(), records.FetchRequest{SourceID: "vgsi", URL: "http://bad host/%zz"})
	require.Error(t, err)
	require.True(t, records.IsKind(err, records.KindFetchFailed))

	var cerr *records.Error
	require.True(t, errors.As(err, &cerr))
	require.Equal(t, 0, cerr.Retries)
}

func TestFetchRetriesTooManyRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, testSource("vgsi"))
	resp, err := f.Fetch(context.Background(), records.FetchRequest{SourceID: "vgsi", URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchHonorsMinInterval(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	src := testSource("slow")
	src.Rate.MinInterval = 100 * time.Millisecond
	f := newTestFetcher(t, src)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), records.FetchRequest{SourceID: "slow", URL: srv.URL})
		require.NoError(t, err)
	}
	// First token is free; the next two each wait the interval.
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestFetchCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newTestFetcher(t, testSource("vgsi"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, records.FetchRequest{SourceID: "vgsi", URL: srv.URL})
	require.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	require.Equal(t, time.Duration(0), parseRetryAfter("", now))
	require.Equal(t, time.Duration(0), parseRetryAfter("garbage", now))

	at := now.Add(90 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(at, now)
	require.Greater(t, got, 80*time.Second)
	require.LessOrEqual(t, got, 91*time.Second)
}
