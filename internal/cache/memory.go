package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// MemoryStore is an in-memory cache for tests and single-shot runs.
// It honors the same TTL, idempotence, and consistency semantics as the
// filesystem store.
type MemoryStore struct {
	hasher records.Hasher
	clock  records.Clock

	mu      sync.RWMutex
	entries map[records.CacheKey]records.CachedArtifact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(hasher records.Hasher, clock records.Clock) *MemoryStore {
	return &MemoryStore{
		hasher:  hasher,
		clock:   clock,
		entries: make(map[records.CacheKey]records.CachedArtifact),
	}
}

// Get returns the artifact for key or records.ErrCacheMiss.
func (s *MemoryStore) Get(_ context.Context, key records.CacheKey) (records.CachedArtifact, error) {
	s.mu.RLock()
	artifact, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return records.CachedArtifact{}, records.ErrCacheMiss
	}
	if artifact.Expired(s.clock.Now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return records.CachedArtifact{}, records.ErrCacheMiss
	}
	return artifact, nil
}

// Put stores payload under key with the shared write semantics.
func (s *MemoryStore) Put(
	_ context.Context,
	key records.CacheKey,
	payload []byte,
	ttl time.Duration,
	origin records.ArtifactOrigin,
) (records.CachedArtifact, error) {
	hash, err := s.hasher.Hash(payload)
	if err != nil {
		return records.CachedArtifact{}, fmt.Errorf("hash payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var fault error
	if existing, ok := s.entries[key]; ok && !existing.Expired(now) {
		if existing.Hash == hash {
			return existing, nil
		}
		fault = records.NewCacheConsistencyFault(key,
			fmt.Errorf("overwriting live entry with differing payload (old %s, new %s)", existing.Hash, hash))
	}

	artifact := records.CachedArtifact{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		Hash:      hash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Origin:    origin,
	}
	s.entries[key] = artifact
	return artifact, fault
}
