package records

import (
	"context"
	"time"
)

// Fetcher fetches a request under rate and retry policy. All failure is
// returned, never raised past the boundary.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Cache maps deterministic keys to previously computed artifacts.
// Get returns ErrCacheMiss when the key is absent or expired.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (CachedArtifact, error)
	Put(ctx context.Context, key CacheKey, payload []byte, ttl time.Duration, origin ArtifactOrigin) (CachedArtifact, error)
}

// Adapter builds fetch requests for one source and interprets its raw
// response shape. Adapters never call the network directly.
type Adapter interface {
	Source() SourceDescriptor
	BuildRequests() ([]FetchRequest, error)
	ParseResponse(resp FetchResponse) ([]RawDocument, error)
}

// Extractor converts raw bytes into typed records. Partial extraction
// within a valid document is reported per record in the error slice.
type Extractor interface {
	Extract(ctx context.Context, doc RawDocument) ([]ExtractedRecord, []CollectionError, error)
}

// Normalizer maps extractor output into the canonical schema.
type Normalizer interface {
	Normalize(rec ExtractedRecord) (NormalizedRecord, error)
}

// Resolver clusters normalized records that denote the same parcel/owner.
type Resolver interface {
	Resolve(ctx context.Context, recs []NormalizedRecord) ([]EntityCluster, error)
}

// Sink is the external persistence collaborator. It receives immutable
// clusters and the finalized run summary after each run.
type Sink interface {
	StoreRun(ctx context.Context, run CollectionRun, clusters []EntityCluster) error
}

// Notifier publishes run summaries to downstream consumers.
type Notifier interface {
	Publish(ctx context.Context, payload any) (string, error)
	Close() error
}

// Hasher computes digests for cache keys and corruption detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (injectable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and cluster identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
