// Package sink persists finished runs and their entity clusters.
package sink

import (
	"context"
	"sync"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// Fanout writes every run to all wrapped sinks in order, stopping at the
// first failure.
type Fanout struct {
	sinks []records.Sink
}

// NewFanout builds a sink that fans out to the given sinks.
func NewFanout(sinks ...records.Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// StoreRun stores the run in each wrapped sink.
func (f *Fanout) StoreRun(ctx context.Context, run records.CollectionRun, clusters []records.EntityCluster) error {
	for _, s := range f.sinks {
		if err := s.StoreRun(ctx, run, clusters); err != nil {
			return err
		}
	}
	return nil
}

// Memory is an in-process sink, used by tests and single-shot CLI runs
// that only need the printed summary.
type Memory struct {
	mu       sync.RWMutex
	runs     []records.CollectionRun
	clusters map[string][]records.EntityCluster
}

// NewMemory builds an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{clusters: make(map[string][]records.EntityCluster)}
}

// StoreRun records the run and its clusters.
func (m *Memory) StoreRun(_ context.Context, run records.CollectionRun, clusters []records.EntityCluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	m.clusters[run.ID] = clusters
	return nil
}

// Runs returns the stored runs, oldest first.
func (m *Memory) Runs(_ context.Context) ([]records.CollectionRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]records.CollectionRun, len(m.runs))
	copy(out, m.runs)
	return out, nil
}

// Run returns one run by ID.
func (m *Memory) Run(_ context.Context, id string) (records.CollectionRun, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, run := range m.runs {
		if run.ID == id {
			return run, true, nil
		}
	}
	return records.CollectionRun{}, false, nil
}

// Clusters returns the clusters stored for a run.
func (m *Memory) Clusters(_ context.Context, runID string) ([]records.EntityCluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]records.EntityCluster, len(m.clusters[runID]))
	copy(out, m.clusters[runID])
	return out, nil
}

// Cluster returns one cluster by ID, searching across runs.
func (m *Memory) Cluster(_ context.Context, id string) (records.EntityCluster, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, clusters := range m.clusters {
		for _, c := range clusters {
			if c.ID == id {
				return c, true, nil
			}
		}
	}
	return records.EntityCluster{}, false, nil
}
