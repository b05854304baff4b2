// Package postgres provides the Postgres-backed run sink.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool used for run rows.
type StoreConfig struct {
	DSN             string
	RunTable        string
	ClusterTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes run summaries and entity clusters into Postgres.
type Store struct {
	pool         execCloser
	runTable     string
	clusterTable string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	runTable, clusterTable, err := tableNames(cfg.RunTable, cfg.ClusterTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, runTable: runTable, clusterTable: clusterTable}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool execCloser, runTable, clusterTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	rt, ct, err := tableNames(runTable, clusterTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, runTable: rt, clusterTable: ct}, nil
}

func tableNames(runTable, clusterTable string) (string, string, error) {
	if runTable == "" {
		runTable = "collection_runs"
	}
	if clusterTable == "" {
		clusterTable = "entity_clusters"
	}
	if !validTableName.MatchString(runTable) {
		return "", "", fmt.Errorf("invalid table name %q", runTable)
	}
	if !validTableName.MatchString(clusterTable) {
		return "", "", fmt.Errorf("invalid table name %q", clusterTable)
	}
	return runTable, clusterTable, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRun inserts the run summary row and one row per cluster.
func (s *Store) StoreRun(ctx context.Context, run records.CollectionRun, clusters []records.EntityCluster) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}

	sources, err := json.Marshal(run.Sources)
	if err != nil {
		return fmt.Errorf("marshal run sources: %w", err)
	}
	runErrors, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	runQuery := fmt.Sprintf(`
		INSERT INTO %s (id, status, started_at, finished_at, clusters, sources, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING;
	`, s.runTable)
	if _, err := s.pool.Exec(ctx, runQuery,
		run.ID, string(run.Status), run.StartedAt, run.FinishedAt, run.Clusters, sources, runErrors,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	clusterQuery := fmt.Sprintf(`
		INSERT INTO %s (id, run_id, parcel_id, owner, address, confidence, incomplete, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING;
	`, s.clusterTable)
	for _, cluster := range clusters {
		payload, err := json.Marshal(cluster)
		if err != nil {
			return fmt.Errorf("marshal cluster %s: %w", cluster.ID, err)
		}
		if _, err := s.pool.Exec(ctx, clusterQuery,
			cluster.ID,
			run.ID,
			cluster.Canonical.ParcelID,
			cluster.Canonical.Owner,
			cluster.Canonical.Address.Line(),
			cluster.Confidence,
			cluster.Incomplete,
			payload,
		); err != nil {
			return fmt.Errorf("insert cluster %s: %w", cluster.ID, err)
		}
	}
	return nil
}
