// Package pipeline drives a collection run end to end: fetch, extract,
// normalize, resolve, persist.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/adapters"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// Config bounds the orchestrator's worker pools.
type Config struct {
	// FetchWorkers caps concurrent fetches across all sources. Per-source
	// caps still apply underneath.
	FetchWorkers int
	// ProcessWorkers caps concurrent extract/normalize work. Zero means
	// one per CPU.
	ProcessWorkers int
	// ExtractionTTL bounds how long extraction artifacts stay cached.
	ExtractionTTL time.Duration
}

// Orchestrator coordinates one collection pass over the configured
// sources. A failing source never takes the run down with it; failures
// land in the run summary.
type Orchestrator struct {
	cfg        Config
	sources    []records.SourceDescriptor
	fetcher    records.Fetcher
	cache      records.Cache
	extractor  records.Extractor
	normalizer records.Normalizer
	resolver   records.Resolver
	sink       records.Sink
	notifier   records.Notifier
	hasher     records.Hasher
	clock      records.Clock
	idgen      records.IDGenerator
	logger     *zap.Logger
}

// New wires the orchestrator from its collaborators.
func New(
	cfg Config,
	sources []records.SourceDescriptor,
	fetcher records.Fetcher,
	cache records.Cache,
	extractor records.Extractor,
	normalizer records.Normalizer,
	resolver records.Resolver,
	sink records.Sink,
	notifier records.Notifier,
	hasher records.Hasher,
	clock records.Clock,
	idgen records.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	if cfg.ProcessWorkers <= 0 {
		cfg.ProcessWorkers = runtime.GOMAXPROCS(0)
	}
	if cfg.ExtractionTTL <= 0 {
		cfg.ExtractionTTL = 24 * time.Hour
	}
	return &Orchestrator{
		cfg:        cfg,
		sources:    sources,
		fetcher:    fetcher,
		cache:      cache,
		extractor:  extractor,
		normalizer: normalizer,
		resolver:   resolver,
		sink:       sink,
		notifier:   notifier,
		hasher:     hasher,
		clock:      clock,
		idgen:      idgen,
		logger:     logger,
	}
}

// runState is the mutable state of one run, guarded by its mutex.
type runState struct {
	mu         sync.Mutex
	run        records.CollectionRun
	normalized []records.NormalizedRecord
}

func (s *runState) recordError(cerr records.CollectionError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run.Errors = append(s.run.Errors, cerr)
}

func (s *runState) counters(sourceID string, fn func(*records.SourceCounters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.run.CountersFor(sourceID))
}

func (s *runState) addNormalized(recs []records.NormalizedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.normalized = append(s.normalized, recs...)
}

// docBatch carries one parsed fetch response to the processing pool.
type docBatch struct {
	src  records.SourceDescriptor
	docs []records.RawDocument
}

// Run executes one collection pass. Cancellation drains in-flight work,
// resolves whatever was collected, and stores the partial result with its
// clusters marked incomplete.
func (o *Orchestrator) Run(ctx context.Context) (records.CollectionRun, error) {
	runID, err := o.idgen.NewID()
	if err != nil {
		return records.CollectionRun{}, fmt.Errorf("generate run id: %w", err)
	}

	state := &runState{run: records.CollectionRun{
		ID:        runID,
		Status:    records.RunStatusRunning,
		StartedAt: o.clock.Now(),
		Sources:   make(map[string]*records.SourceCounters),
	}}
	o.logger.Info("collection run started",
		zap.String("run", runID),
		zap.Int("sources", len(o.sources)),
	)

	docCh := make(chan docBatch)
	fetchSem := semaphore.NewWeighted(int64(o.cfg.FetchWorkers))

	var fetchGroup errgroup.Group
	for _, src := range o.sources {
		fetchGroup.Go(func() error {
			o.collectSource(ctx, src, state, fetchSem, docCh)
			return nil
		})
	}

	var procGroup errgroup.Group
	for i := 0; i < o.cfg.ProcessWorkers; i++ {
		procGroup.Go(func() error {
			for batch := range docCh {
				o.processBatch(ctx, batch, state)
			}
			return nil
		})
	}

	_ = fetchGroup.Wait()
	close(docCh)
	_ = procGroup.Wait()

	clusters, err := o.resolver.Resolve(context.WithoutCancel(ctx), state.normalized)
	if err != nil {
		return records.CollectionRun{}, fmt.Errorf("resolve entities: %w", err)
	}
	canceled := ctx.Err() != nil
	for i := range clusters {
		if canceled {
			clusters[i].Incomplete = true
		}
		for _, conflict := range clusters[i].Conflicts {
			state.run.Errors = append(state.run.Errors, records.CollectionError{
				SourceID: conflictSource(conflict),
				RecordID: clusters[i].ID,
				Kind:     records.KindResolutionConflict,
				Message:  fmt.Sprintf("field %s has %d competing values", conflict.Field, len(conflict.Candidates)),
			})
		}
	}

	run := o.finalize(state, clusters, canceled)

	// Persistence and notification run on a detached context so a
	// canceled run still leaves a consistent partial result behind.
	storeCtx := context.WithoutCancel(ctx)
	if err := o.sink.StoreRun(storeCtx, run, clusters); err != nil {
		return run, fmt.Errorf("store run %s: %w", run.ID, err)
	}
	if o.notifier != nil {
		if _, err := o.notifier.Publish(storeCtx, run); err != nil {
			o.logger.Warn("run notification failed", zap.String("run", run.ID), zap.Error(err))
		}
	}

	o.logger.Info("collection run finished",
		zap.String("run", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("clusters", run.Clusters),
		zap.Int("errors", len(run.Errors)),
	)
	return run, nil
}

// collectSource fetches and parses every request for one source. All
// failure is recorded against the run; nothing propagates.
func (o *Orchestrator) collectSource(ctx context.Context, src records.SourceDescriptor, state *runState, sem *semaphore.Weighted, docCh chan<- docBatch) {
	adapter, err := adapters.New(src, o.clock)
	if err != nil {
		state.recordError(records.CollectionError{
			SourceID: src.ID,
			Kind:     records.KindUnexpectedFormat,
			Message:  err.Error(),
			Terminal: true,
		})
		return
	}
	reqs, err := adapter.BuildRequests()
	if err != nil {
		state.recordError(records.CollectionError{
			SourceID: src.ID,
			Kind:     records.KindUnexpectedFormat,
			Message:  err.Error(),
			Terminal: true,
		})
		return
	}

	var group errgroup.Group
	for _, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Canceled mid-source: in-flight requests drain, the rest
			// are abandoned.
			break
		}
		group.Go(func() error {
			defer sem.Release(1)
			o.collectRequest(ctx, src, adapter, req, state, docCh)
			return nil
		})
	}
	_ = group.Wait()
}

// collectRequest runs one request through cache, fetch, and parse.
func (o *Orchestrator) collectRequest(ctx context.Context, src records.SourceDescriptor, adapter records.Adapter, req records.FetchRequest, state *runState, docCh chan<- docBatch) {
	state.counters(src.ID, func(c *records.SourceCounters) { c.Attempted++ })

	resp, fromCache, err := o.fetchCached(ctx, src, req)
	if err != nil {
		state.counters(src.ID, func(c *records.SourceCounters) { c.Failed++ })
		state.recordError(toCollectionError(src.ID, req, err))
		return
	}
	state.counters(src.ID, func(c *records.SourceCounters) {
		if fromCache {
			c.CacheHits++
		} else {
			c.Fetched++
		}
	})

	docs, err := adapter.ParseResponse(resp)
	if err != nil {
		state.counters(src.ID, func(c *records.SourceCounters) { c.Failed++ })
		state.recordError(toCollectionError(src.ID, req, err))
		return
	}
	if len(docs) == 0 {
		return
	}
	select {
	case docCh <- docBatch{src: src, docs: docs}:
	case <-ctx.Done():
	}
}

// fetchCached consults the fetch-stage cache before going to the network.
// A consistency fault on Put is reported but does not fail the request;
// the returned artifact is authoritative.
func (o *Orchestrator) fetchCached(ctx context.Context, src records.SourceDescriptor, req records.FetchRequest) (records.FetchResponse, bool, error) {
	artifact, err := o.cache.Get(ctx, req.CacheKey)
	if err == nil {
		return records.FetchResponse{
			URL:       req.URL,
			Body:      artifact.Payload,
			FromCache: true,
		}, true, nil
	}
	if !errors.Is(err, records.ErrCacheMiss) {
		o.logger.Warn("cache read fault, refetching",
			zap.String("source", src.ID),
			zap.String("key", string(req.CacheKey)),
			zap.Error(err),
		)
	}

	resp, err := o.fetcher.Fetch(ctx, req)
	if err != nil {
		return records.FetchResponse{}, false, err
	}

	ttl := src.CacheTTL
	artifact, err = o.cache.Put(ctx, req.CacheKey, resp.Body, ttl, records.OriginFetch)
	if err != nil {
		if records.IsKind(err, records.KindCacheConsistencyFault) {
			o.logger.Warn("cache write fault",
				zap.String("source", src.ID),
				zap.String("key", string(req.CacheKey)),
				zap.Error(err),
			)
			resp.Body = artifact.Payload
		} else {
			return records.FetchResponse{}, false, fmt.Errorf("cache fetch artifact: %w", err)
		}
	}
	return resp, false, nil
}

// processBatch extracts and normalizes the documents of one response.
func (o *Orchestrator) processBatch(ctx context.Context, batch docBatch, state *runState) {
	for _, doc := range batch.docs {
		recs, recErrs, err := o.extractCached(ctx, batch.src, doc)
		for _, recErr := range recErrs {
			state.recordError(recErr)
		}
		if err != nil {
			state.counters(batch.src.ID, func(c *records.SourceCounters) { c.Failed++ })
			state.recordError(toCollectionError(batch.src.ID, records.FetchRequest{URL: doc.URL}, err))
			continue
		}
		state.counters(batch.src.ID, func(c *records.SourceCounters) { c.Extracted += len(recs) })

		var normalized []records.NormalizedRecord
		for _, rec := range recs {
			norm, err := o.normalizer.Normalize(rec)
			if err != nil {
				state.recordError(toCollectionError(batch.src.ID, records.FetchRequest{URL: doc.URL}, err))
				continue
			}
			normalized = append(normalized, norm)
		}
		state.counters(batch.src.ID, func(c *records.SourceCounters) { c.Normalized += len(normalized) })
		state.addNormalized(normalized)
	}
}

// extractCached reuses a prior extraction of the same document bytes when
// one is cached. Extraction is deterministic, so byte-identical documents
// always yield the cached result.
func (o *Orchestrator) extractCached(ctx context.Context, src records.SourceDescriptor, doc records.RawDocument) ([]records.ExtractedRecord, []records.CollectionError, error) {
	if doc.ContentHash == "" {
		hash, err := o.hasher.Hash(doc.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("hash document: %w", err)
		}
		doc.ContentHash = hash
	}
	key := records.NewExtractionKey(src.ID, doc.ContentHash)

	if artifact, err := o.cache.Get(ctx, key); err == nil {
		var recs []records.ExtractedRecord
		if err := json.Unmarshal(artifact.Payload, &recs); err == nil {
			metrics.ObserveExtraction(string(doc.MediaType), "cached")
			return recs, nil, nil
		}
		// Undecodable artifact: fall through and re-extract.
	}

	recs, recErrs, err := o.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, recErrs, err
	}

	if payload, err := json.Marshal(recs); err == nil {
		if _, err := o.cache.Put(ctx, key, payload, o.cfg.ExtractionTTL, records.OriginExtraction); err != nil &&
			!records.IsKind(err, records.KindCacheConsistencyFault) {
			o.logger.Warn("cache extraction artifact",
				zap.String("source", src.ID),
				zap.String("key", string(key)),
				zap.Error(err),
			)
		}
	}
	return recs, recErrs, nil
}

// finalize stamps the terminal status onto the run.
func (o *Orchestrator) finalize(state *runState, clusters []records.EntityCluster, canceled bool) records.CollectionRun {
	state.mu.Lock()
	defer state.mu.Unlock()

	run := state.run
	run.FinishedAt = o.clock.Now()
	run.Clusters = len(clusters)

	attempted, failed := 0, 0
	for _, c := range run.Sources {
		attempted += c.Attempted
		failed += c.Failed
	}
	switch {
	case canceled:
		run.Status = records.RunStatusCanceled
	case attempted > 0 && failed == attempted:
		run.Status = records.RunStatusFailed
	default:
		run.Status = records.RunStatusSucceeded
	}
	return run
}

// toCollectionError converts any pipeline error into a run summary entry.
func toCollectionError(sourceID string, req records.FetchRequest, err error) records.CollectionError {
	var cerr *records.Error
	if errors.As(err, &cerr) {
		out := cerr.ToCollectionError()
		if out.Request == "" {
			out.Request = req.URL
		}
		return out
	}
	return records.CollectionError{
		SourceID: sourceID,
		Request:  req.URL,
		Kind:     records.KindFetchFailed,
		Message:  err.Error(),
		Terminal: true,
	}
}

// conflictSource names the source behind the first candidate of a
// conflict, for attribution in the run summary.
func conflictSource(conflict records.FieldConflict) string {
	if len(conflict.Candidates) == 0 {
		return ""
	}
	return conflict.Candidates[0].SourceID
}
