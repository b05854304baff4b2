// Package cache implements the content-addressed artifact store with
// TTL expiry and transparent compression.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/metrics"
	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// Config captures the parameters for the filesystem store.
type Config struct {
	// BaseDir is the root directory where artifacts are stored.
	BaseDir string
	// CompressThreshold is the payload size in bytes above which entries
	// are gzip-compressed on disk. Zero disables compression.
	CompressThreshold int
}

// FileStore persists artifacts on the local filesystem. Each key maps to a
// payload file and a metadata file; the (key, bytes, hash, expiry) triple
// is preserved verbatim so a cold-start warm cache stays valid.
type FileStore struct {
	baseDir   string
	threshold int
	hasher    records.Hasher
	clock     records.Clock
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[records.CacheKey]*sync.Mutex
}

// entryMeta is the on-disk metadata record for one artifact.
type entryMeta struct {
	Key        records.CacheKey       `json:"key"`
	Hash       string                 `json:"hash"`
	Compressed bool                   `json:"compressed"`
	CreatedAt  time.Time              `json:"created_at"`
	ExpiresAt  time.Time              `json:"expires_at"`
	Origin     records.ArtifactOrigin `json:"origin"`
}

// NewFileStore creates a filesystem-backed store, creating BaseDir if needed.
func NewFileStore(cfg Config, hasher records.Hasher, clock records.Clock, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("cache base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat cache directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create cache directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("cache path %s is not a directory", cfg.BaseDir)
	}
	return &FileStore{
		baseDir:   cfg.BaseDir,
		threshold: cfg.CompressThreshold,
		hasher:    hasher,
		clock:     clock,
		logger:    logger,
		locks:     make(map[records.CacheKey]*sync.Mutex),
	}, nil
}

// keyLock returns the per-key mutex, creating it on first use. Writes to
// the same key are serialized; distinct keys proceed without coordination.
func (s *FileStore) keyLock(key records.CacheKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Get returns the artifact for key, or records.ErrCacheMiss when absent or
// expired. Expired entries are lazily evicted.
func (s *FileStore) Get(_ context.Context, key records.CacheKey) (records.CachedArtifact, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.readMeta(key)
	if err != nil {
		if os.IsNotExist(err) {
			metrics.ObserveCache(stageLabel(key), "miss")
			return records.CachedArtifact{}, records.ErrCacheMiss
		}
		return records.CachedArtifact{}, fmt.Errorf("read cache metadata: %w", err)
	}

	now := s.clock.Now()
	if !meta.ExpiresAt.IsZero() && now.After(meta.ExpiresAt) {
		s.evict(key)
		metrics.ObserveCache(stageLabel(key), "miss")
		return records.CachedArtifact{}, records.ErrCacheMiss
	}

	raw, err := os.ReadFile(s.payloadPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return records.CachedArtifact{}, records.ErrCacheMiss
		}
		return records.CachedArtifact{}, fmt.Errorf("read cache payload: %w", err)
	}

	payload := raw
	if meta.Compressed {
		payload, err = gunzip(raw)
		if err != nil {
			return records.CachedArtifact{}, fmt.Errorf("decompress cache payload: %w", err)
		}
	}

	hash, err := s.hasher.Hash(payload)
	if err != nil {
		return records.CachedArtifact{}, fmt.Errorf("hash cache payload: %w", err)
	}
	if hash != meta.Hash {
		s.evict(key)
		return records.CachedArtifact{}, records.NewCacheConsistencyFault(key,
			fmt.Errorf("payload hash %s does not match stored hash %s", hash, meta.Hash))
	}

	metrics.ObserveCache(stageLabel(key), "hit")
	return records.CachedArtifact{
		Key:        key,
		Payload:    payload,
		Hash:       meta.Hash,
		Compressed: meta.Compressed,
		CreatedAt:  meta.CreatedAt,
		ExpiresAt:  meta.ExpiresAt,
		Origin:     meta.Origin,
	}, nil
}

// Put stores payload under key. Identical re-writes are idempotent; a
// differing payload for a live key is a consistency fault that is reported
// while the most recent write wins.
func (s *FileStore) Put(
	_ context.Context,
	key records.CacheKey,
	payload []byte,
	ttl time.Duration,
	origin records.ArtifactOrigin,
) (records.CachedArtifact, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	hash, err := s.hasher.Hash(payload)
	if err != nil {
		return records.CachedArtifact{}, fmt.Errorf("hash payload: %w", err)
	}

	now := s.clock.Now()
	var fault error
	if existing, metaErr := s.readMeta(key); metaErr == nil {
		live := existing.ExpiresAt.IsZero() || now.Before(existing.ExpiresAt)
		if live && existing.Hash == hash {
			// Idempotent write: leave the original entry untouched.
			return records.CachedArtifact{
				Key:        key,
				Payload:    payload,
				Hash:       hash,
				Compressed: existing.Compressed,
				CreatedAt:  existing.CreatedAt,
				ExpiresAt:  existing.ExpiresAt,
				Origin:     existing.Origin,
			}, nil
		}
		if live {
			fault = records.NewCacheConsistencyFault(key,
				fmt.Errorf("overwriting live entry with differing payload (old %s, new %s)", existing.Hash, hash))
			s.logger.Warn("cache consistency fault",
				zap.String("key", string(key)),
				zap.String("old_hash", existing.Hash),
				zap.String("new_hash", hash),
			)
			metrics.ObserveCache(stageLabel(key), "fault")
		}
	}

	stored := payload
	compressed := false
	if s.threshold > 0 && len(payload) > s.threshold {
		stored, err = gzipBytes(payload)
		if err != nil {
			return records.CachedArtifact{}, fmt.Errorf("compress payload: %w", err)
		}
		compressed = true
	}

	meta := entryMeta{
		Key:        key,
		Hash:       hash,
		Compressed: compressed,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		Origin:     origin,
	}
	if err := s.writeEntry(key, stored, meta); err != nil {
		return records.CachedArtifact{}, err
	}
	metrics.ObserveCache(stageLabel(key), "write")

	return records.CachedArtifact{
		Key:        key,
		Payload:    payload,
		Hash:       hash,
		Compressed: compressed,
		CreatedAt:  meta.CreatedAt,
		ExpiresAt:  meta.ExpiresAt,
		Origin:     origin,
	}, fault
}

func (s *FileStore) writeEntry(key records.CacheKey, stored []byte, meta entryMeta) error {
	if err := os.WriteFile(s.payloadPath(key), stored, 0o600); err != nil {
		return fmt.Errorf("write cache payload: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(key), metaJSON, 0o600); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

func (s *FileStore) readMeta(key records.CacheKey) (entryMeta, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("parse cache metadata: %w", err)
	}
	return meta, nil
}

func (s *FileStore) evict(key records.CacheKey) {
	if err := os.Remove(s.payloadPath(key)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("evict cache payload failed", zap.String("key", string(key)), zap.Error(err))
	}
	if err := os.Remove(s.metaPath(key)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("evict cache metadata failed", zap.String("key", string(key)), zap.Error(err))
	}
}

func (s *FileStore) payloadPath(key records.CacheKey) string {
	return filepath.Join(s.baseDir, string(key)+".bin")
}

func (s *FileStore) metaPath(key records.CacheKey) string {
	return filepath.Join(s.baseDir, string(key)+".json")
}

// stageLabel recovers the stage tag embedded in the key for metrics.
func stageLabel(key records.CacheKey) string {
	parts := strings.Split(string(key), "-")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return "unknown"
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close() //nolint:errcheck // read side
	return io.ReadAll(r)
}
