package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/cache"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/clock/system"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/config"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/extract"
	collyfetcher "github.com/TheClitCommander/Bay-Area-Leads/internal/fetcher/colly"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/hash/sha256"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/id/uuid"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/normalize"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/notify"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/pipeline"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/resolve"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/sink"
	pgsink "github.com/TheClitCommander/Bay-Area-Leads/internal/sink/postgres"
)

// collaborators bundles everything a command needs to run the pipeline.
type collaborators struct {
	orchestrator *pipeline.Orchestrator
	memory       *sink.Memory
	closers      []func()
}

func (c *collaborators) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// buildCollaborators wires the pipeline from configuration. The in-memory
// sink always participates so the API can serve the current process's
// runs; Postgres and Pub/Sub join when configured.
func buildCollaborators(ctx context.Context, cfg config.Config, logger *zap.Logger) (*collaborators, error) {
	sources, err := config.LoadSources(cfg.SourceSet)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	hasher := sha256.New()
	clock := system.New()
	idgen := uuid.NewUUIDGenerator()

	store, err := cache.NewFileStore(cache.Config{
		BaseDir:           cfg.Cache.Dir,
		CompressThreshold: cfg.Cache.CompressThreshold,
	}, hasher, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, logger)
	for _, src := range sources {
		fetcher.Register(src)
	}

	var ocr extract.OCREngine
	c := &collaborators{memory: sink.NewMemory()}
	if ocrFlag {
		engine, err := extract.NewTesseractEngine()
		if err != nil {
			logger.Warn("ocr unavailable, image-only pages will fail", zap.Error(err))
		} else {
			ocr = engine
			c.closers = append(c.closers, func() { _ = engine.Close() })
		}
	}

	sinks := []records.Sink{c.memory}
	if cfg.DB.DSN != "" {
		pg, err := pgsink.NewStore(ctx, pgsink.StoreConfig{
			DSN:          cfg.DB.DSN,
			RunTable:     cfg.DB.RunTable,
			ClusterTable: cfg.DB.ClusterTable,
			MaxConns:     int32(cfg.DB.MaxConns),
		})
		if err != nil {
			c.close()
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		c.closers = append(c.closers, pg.Close)
		sinks = append(sinks, pg)
	}

	var notifier records.Notifier = notify.Noop{}
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		ps, err := notify.NewPubSub(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("open pubsub notifier: %w", err)
		}
		c.closers = append(c.closers, func() { _ = ps.Close() })
		notifier = ps
	}

	c.orchestrator = pipeline.New(
		pipeline.Config{
			FetchWorkers:   cfg.Pipeline.FetchWorkers,
			ProcessWorkers: cfg.Pipeline.ProcessWorkers,
			ExtractionTTL:  cfg.DefaultCacheTTL(),
		},
		sources,
		fetcher,
		store,
		extract.New(ocr, hasher, logger),
		normalize.New(idgen, logger),
		resolve.New(cfg.Resolver.SimilarityThreshold, cfg.Resolver.NameThreshold, idgen, logger),
		sink.NewFanout(sinks...),
		notifier,
		hasher,
		clock,
		idgen,
		logger,
	)
	return c, nil
}
