// Package records defines the data model shared across the collection
// and resolution pipeline.
package records

import (
	"time"
)

// SourceKind names a family of municipal record sources.
type SourceKind string

// Source families supported by the adapters.
const (
	SourcePropertyCard SourceKind = "property_card"
	SourceMunicipalPDF SourceKind = "municipal_pdf"
	SourceGIS          SourceKind = "gis"
)

// MediaType classifies the payload shape a source is expected to return.
type MediaType string

// Media types the extractor dispatches on.
const (
	MediaHTML    MediaType = "text/html"
	MediaPDF     MediaType = "application/pdf"
	MediaGeoJSON MediaType = "application/json"
	MediaUnknown MediaType = "application/octet-stream"
)

// RatePolicy bounds outbound traffic for one source.
type RatePolicy struct {
	RequestsPerSecond float64
	Burst             int
	MaxConcurrent     int
	MinInterval       time.Duration
}

// RetryConfig parameterizes the fetcher's retry behavior for one source.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// SourceDescriptor is the immutable configuration for one source.
// Descriptors are created at configuration load and treated as read-only
// for the duration of a run.
type SourceDescriptor struct {
	ID              string
	Kind            SourceKind
	BaseURL         string
	MediaTypes      []MediaType
	Rate            RatePolicy
	Retry           RetryConfig
	CacheTTL        time.Duration
	Paginated       bool
	MaxPages        int
	RequiresSession bool
	Params          map[string]string
}

// FetchRequest captures one fetch attempt against a source. Requests are
// created per attempt and are not persisted beyond a run.
type FetchRequest struct {
	SourceID string
	URL      string
	Params   map[string]string
	CacheKey CacheKey
}

// FetchResponse is the raw result of a successful fetch.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
	FromCache   bool
}

// ArtifactOrigin records which stage produced a cached artifact.
type ArtifactOrigin string

// Artifact origins.
const (
	OriginFetch      ArtifactOrigin = "fetch"
	OriginExtraction ArtifactOrigin = "extraction"
)

// CachedArtifact is one cache entry. The payload bytes are owned
// exclusively by the cache store; other components hold references.
type CachedArtifact struct {
	Key        CacheKey
	Payload    []byte
	Hash       string
	Compressed bool
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Origin     ArtifactOrigin
}

// Expired reports whether the artifact is past its TTL at the given time.
func (a CachedArtifact) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// RawDocument is one logical document recovered from a fetch response.
// Body references the artifact payload; large payloads are never copied.
type RawDocument struct {
	SourceID    string
	URL         string
	MediaType   MediaType
	FetchedAt   time.Time
	Body        []byte
	ContentHash string
}

// ExtractedField is a single typed value with provenance coordinates and
// an extraction confidence in [0,1].
type ExtractedField struct {
	Name       string  `json:"name"`
	Value      string  `json:"value"`
	Page       int     `json:"page,omitempty"`
	Row        int     `json:"row,omitempty"`
	Col        int     `json:"col,omitempty"`
	Confidence float64 `json:"confidence"`
	OCR        bool    `json:"ocr,omitempty"`
}

// ExtractedTable is a recovered tabular region.
type ExtractedTable struct {
	Name       string     `json:"name"`
	Header     []string   `json:"header"`
	Rows       [][]string `json:"rows"`
	Page       int        `json:"page,omitempty"`
	Confidence float64    `json:"confidence"`
}

// ExtractedRecord groups the fields and tables for one logical unit
// (one parcel, one tax line).
type ExtractedRecord struct {
	SourceID     string           `json:"source_id"`
	DocumentHash string           `json:"document_hash"`
	Fields       []ExtractedField `json:"fields"`
	Tables       []ExtractedTable `json:"tables,omitempty"`
}

// Field returns the named field if present.
func (r ExtractedRecord) Field(name string) (ExtractedField, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return ExtractedField{}, false
}

// Address is the canonical address schema.
type Address struct {
	Number string `json:"number,omitempty"`
	Street string `json:"street,omitempty"`
	Unit   string `json:"unit,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
}

// Line renders the single-line street portion of the address.
func (a Address) Line() string {
	out := a.Number
	if a.Street != "" {
		if out != "" {
			out += " "
		}
		out += a.Street
	}
	if a.Unit != "" {
		out += " " + a.Unit
	}
	return out
}

// Empty reports whether no address component is set.
func (a Address) Empty() bool {
	return a.Number == "" && a.Street == "" && a.Unit == "" && a.City == "" && a.Zip == ""
}

// Assessment holds monetary figures in cents to avoid float drift.
type Assessment struct {
	LandValue     int64 `json:"land_value,omitempty"`
	BuildingValue int64 `json:"building_value,omitempty"`
	TotalValue    int64 `json:"total_value,omitempty"`
	TaxAmount     int64 `json:"tax_amount,omitempty"`
	Year          int   `json:"year,omitempty"`
}

// NormalizedRecord is the canonical schema instance produced by the
// normalizer. It is immutable once produced; a re-run yields a new record.
type NormalizedRecord struct {
	ID          string             `json:"id"`
	SourceID    string             `json:"source_id"`
	ParcelID    string             `json:"parcel_id,omitempty"`
	Address     Address            `json:"address"`
	Owner       string             `json:"owner,omitempty"`
	Assessment  Assessment         `json:"assessment"`
	Geometry    string             `json:"geometry,omitempty"`
	Description string             `json:"description,omitempty"`
	SaleDate    time.Time          `json:"sale_date,omitempty"`
	Confidence  map[string]float64 `json:"confidence,omitempty"`
	Missing     []string           `json:"missing,omitempty"`
	Extracted   *ExtractedRecord   `json:"-"`
}

// FieldConfidence returns the extraction confidence recorded for a
// canonical field, defaulting to zero when unknown.
func (r NormalizedRecord) FieldConfidence(field string) float64 {
	return r.Confidence[field]
}

// Provenance names the source and confidence behind one merged field.
type Provenance struct {
	SourceID   string  `json:"source_id"`
	RecordID   string  `json:"record_id"`
	Confidence float64 `json:"confidence"`
}

// FieldCandidate is one competing value for a field during a merge.
type FieldCandidate struct {
	Value      string  `json:"value"`
	SourceID   string  `json:"source_id"`
	Confidence float64 `json:"confidence"`
}

// FieldConflict flags contradictory required values within a cluster.
type FieldConflict struct {
	Field      string           `json:"field"`
	Candidates []FieldCandidate `json:"candidates"`
}

// EntityCluster is a set of normalized records believed to denote one
// real-world parcel/owner, with a field-by-field merged canonical record.
// Clusters are only mutated by adding members or re-splitting; they are
// never silently overwritten.
type EntityCluster struct {
	ID         string                `json:"id"`
	Members    []NormalizedRecord    `json:"members"`
	Canonical  NormalizedRecord      `json:"canonical"`
	Provenance map[string]Provenance `json:"provenance"`
	Conflicts  []FieldConflict       `json:"conflicts,omitempty"`
	Confidence float64               `json:"confidence"`
	Incomplete bool                  `json:"incomplete,omitempty"`
}

// ErrorKind classifies a collection failure.
type ErrorKind string

// Error kinds attached to a run summary.
const (
	KindFetchFailed           ErrorKind = "fetch_failed"
	KindUnexpectedFormat      ErrorKind = "unexpected_format"
	KindCorruptDocument       ErrorKind = "corrupt_document"
	KindValidationError       ErrorKind = "validation_error"
	KindResolutionConflict    ErrorKind = "resolution_conflict"
	KindCacheConsistencyFault ErrorKind = "cache_consistency_fault"
)

// CollectionError records one failure with enough identity to reproduce it.
type CollectionError struct {
	SourceID string    `json:"source_id"`
	Request  string    `json:"request,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Retries  int       `json:"retries,omitempty"`
	Terminal bool      `json:"terminal"`
}

// SourceCounters tracks per-source outcomes within a run.
type SourceCounters struct {
	Attempted  int `json:"attempted"`
	CacheHits  int `json:"cache_hits"`
	Fetched    int `json:"fetched"`
	Failed     int `json:"failed"`
	Extracted  int `json:"extracted"`
	Normalized int `json:"normalized"`
}

// RunStatus is the lifecycle state of a collection run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// CollectionRun summarizes one orchestrated collection pass. It is created
// at orchestration start, finalized at end, and immutable afterwards.
type CollectionRun struct {
	ID         string                     `json:"id"`
	Status     RunStatus                  `json:"status"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at,omitempty"`
	Sources    map[string]*SourceCounters `json:"sources"`
	Errors     []CollectionError          `json:"errors,omitempty"`
	Clusters   int                        `json:"clusters"`
}

// CountersFor returns the counter block for a source, creating it on
// first use.
func (r *CollectionRun) CountersFor(sourceID string) *SourceCounters {
	if r.Sources == nil {
		r.Sources = make(map[string]*SourceCounters)
	}
	c, ok := r.Sources[sourceID]
	if !ok {
		c = &SourceCounters{}
		r.Sources[sourceID] = c
	}
	return c
}
