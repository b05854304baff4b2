package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/cache"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/extract"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/hash/sha256"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/id/uuid"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/normalize"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/resolve"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/sink"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(req records.FetchRequest) (records.FetchResponse, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, req records.FetchRequest) (records.FetchResponse, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[req.SourceID]++
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeFetcher) callCount(sourceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[sourceID]
}

func gisSource(id string) records.SourceDescriptor {
	return records.SourceDescriptor{
		ID:      id,
		Kind:    records.SourceGIS,
		BaseURL: "https://gis.town.example/arcgis/rest/services/Parcels/MapServer/0",
	}
}

func featureBody(parcel, owner string) string {
	return fmt.Sprintf(`{"features":[{"attributes":{"PARCEL_ID":%q,"OWNER":%q}}]}`, parcel, owner)
}

func newTestOrchestrator(t *testing.T, sources []records.SourceDescriptor, fetcher records.Fetcher, store records.Cache, memSink *sink.Memory) *Orchestrator {
	t.Helper()
	metrics.Init()

	hasher := sha256.New()
	clock := fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	idgen := uuid.NewUUIDGenerator()
	logger := zap.NewNop()

	return New(
		Config{FetchWorkers: 2, ProcessWorkers: 2},
		sources,
		fetcher,
		store,
		extract.New(nil, hasher, logger),
		normalize.New(idgen, logger),
		resolve.New(0, 0, idgen, logger),
		memSink,
		nil,
		hasher,
		clock,
		idgen,
		logger,
	)
}

func TestRunCollectsAndResolves(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{respond: func(req records.FetchRequest) (records.FetchResponse, error) {
		return records.FetchResponse{
			URL:         req.URL,
			StatusCode:  200,
			ContentType: "application/json",
			Body: []byte(`{"features":[
				{"attributes":{"PARCEL_ID":"023-045","OWNER":"SMITH JOHN A"}},
				{"attributes":{"PARCEL_ID":"023-045","OWNER":"SMITH JOHN A"}}
			]}`),
		}, nil
	}}
	memSink := sink.NewMemory()
	store := cache.NewMemoryStore(sha256.New(), fixedClock{now: time.Now()})
	o := newTestOrchestrator(t, []records.SourceDescriptor{gisSource("gis-parcels")}, fetcher, store, memSink)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.RunStatusSucceeded, run.Status)
	require.Equal(t, 1, run.Clusters)

	counters := run.Sources["gis-parcels"]
	require.NotNil(t, counters)
	require.Equal(t, 1, counters.Attempted)
	require.Equal(t, 1, counters.Fetched)
	require.Equal(t, 2, counters.Extracted)
	require.Equal(t, 2, counters.Normalized)

	clusters, err := memSink.Clusters(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	require.Equal(t, "023-045", clusters[0].Canonical.ParcelID)
	require.Len(t, clusters[0].Members, 2)
}

func TestRunServesSecondPassFromCache(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{respond: func(req records.FetchRequest) (records.FetchResponse, error) {
		return records.FetchResponse{
			URL: req.URL, StatusCode: 200, ContentType: "application/json",
			Body: []byte(featureBody("023-045", "SMITH JOHN A")),
		}, nil
	}}
	src := gisSource("gis-parcels")
	src.CacheTTL = time.Hour
	memSink := sink.NewMemory()
	store := cache.NewMemoryStore(sha256.New(), fixedClock{now: time.Now()})
	o := newTestOrchestrator(t, []records.SourceDescriptor{src}, fetcher, store, memSink)

	first, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Sources["gis-parcels"].Fetched)

	second, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, second.Sources["gis-parcels"].CacheHits)
	require.Equal(t, 0, second.Sources["gis-parcels"].Fetched)
	require.Equal(t, 1, fetcher.callCount("gis-parcels"))
	require.Equal(t, 1, second.Clusters)
}

func TestRunIsolatesFailingSource(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{respond: func(req records.FetchRequest) (records.FetchResponse, error) {
		if req.SourceID == "gis-broken" {
			return records.FetchResponse{}, records.NewFetchFailed(req.SourceID, req.URL, 3,
				fmt.Errorf("status 503"))
		}
		return records.FetchResponse{
			URL: req.URL, StatusCode: 200, ContentType: "application/json",
			Body: []byte(featureBody("023-045", "SMITH JOHN A")),
		}, nil
	}}
	memSink := sink.NewMemory()
	store := cache.NewMemoryStore(sha256.New(), fixedClock{now: time.Now()})
	o := newTestOrchestrator(t,
		[]records.SourceDescriptor{gisSource("gis-broken"), gisSource("gis-parcels")},
		fetcher, store, memSink)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.RunStatusSucceeded, run.Status)
	require.Equal(t, 1, run.Sources["gis-broken"].Failed)
	require.Equal(t, 1, run.Sources["gis-parcels"].Normalized)

	var kinds []records.ErrorKind
	for _, e := range run.Errors {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, records.KindFetchFailed)
	require.Equal(t, 1, run.Clusters)
}

func TestRunWithOnlyFailuresIsFailed(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{respond: func(req records.FetchRequest) (records.FetchResponse, error) {
		return records.FetchResponse{}, records.NewFetchFailed(req.SourceID, req.URL, 3,
			fmt.Errorf("status 503"))
	}}
	memSink := sink.NewMemory()
	store := cache.NewMemoryStore(sha256.New(), fixedClock{now: time.Now()})
	o := newTestOrchestrator(t, []records.SourceDescriptor{gisSource("gis-parcels")}, fetcher, store, memSink)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.RunStatusFailed, run.Status)
	require.Zero(t, run.Clusters)
}

func TestRunRecordsValidationErrors(t *testing.T) {
	t.Parallel()

	// Feature with neither parcel id nor address fails normalization.
	fetcher := &fakeFetcher{respond: func(req records.FetchRequest) (records.FetchResponse, error) {
		return records.FetchResponse{
			URL: req.URL, StatusCode: 200, ContentType: "application/json",
			Body: []byte(`{"features":[{"attributes":{"OWNER":"SMITH JOHN A"}}]}`),
		}, nil
	}}
	memSink := sink.NewMemory()
	store := cache.NewMemoryStore(sha256.New(), fixedClock{now: time.Now()})
	o := newTestOrchestrator(t, []records.SourceDescriptor{gisSource("gis-parcels")}, fetcher, store, memSink)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, records.RunStatusSucceeded, run.Status)
	require.Zero(t, run.Sources["gis-parcels"].Normalized)

	var kinds []records.ErrorKind
	for _, e := range run.Errors {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, records.KindValidationError)
}

func TestRunCanceledBeforeStartIsCanceled(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{respond: func(req records.FetchRequest) (records.FetchResponse, error) {
		return records.FetchResponse{
			URL: req.URL, StatusCode: 200, ContentType: "application/json",
			Body: []byte(featureBody("023-045", "SMITH JOHN A")),
		}, nil
	}}
	memSink := sink.NewMemory()
	store := cache.NewMemoryStore(sha256.New(), fixedClock{now: time.Now()})
	o := newTestOrchestrator(t, []records.SourceDescriptor{gisSource("gis-parcels")}, fetcher, store, memSink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := o.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, records.RunStatusCanceled, run.Status)
	require.Zero(t, fetcher.callCount("gis-parcels"))

	// The partial (empty) run is still persisted.
	stored, ok, err := memSink.Run(context.Background(), run.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, records.RunStatusCanceled, stored.Status)
}
