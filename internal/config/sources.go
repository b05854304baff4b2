package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TheClitCommander/Bay-Area-Leads/internal/records"
)

// rawSource is the on-disk shape of one source descriptor. Durations are
// strings ("12h", "500ms") and get parsed during conversion.
type rawSource struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	BaseURL    string            `yaml:"base_url"`
	MediaTypes []string          `yaml:"media_types"`
	Rate       rawRate           `yaml:"rate"`
	Retry      rawRetry          `yaml:"retry"`
	CacheTTL   string            `yaml:"cache_ttl"`
	Paginated  bool              `yaml:"paginated"`
	MaxPages   int               `yaml:"max_pages"`
	Session    bool              `yaml:"requires_session"`
	Params     map[string]string `yaml:"params"`
}

type rawRate struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrent     int     `yaml:"max_concurrent"`
	MinInterval       string  `yaml:"min_interval"`
}

type rawRetry struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
}

type sourceSet struct {
	Sources []rawSource `yaml:"sources"`
}

// LoadSources reads the declarative SourceDescriptor list. The list is
// loaded once at startup and treated as read-only for the run's duration.
// An unparseable list is fatal to the run's start.
func LoadSources(path string) ([]records.SourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	var set sourceSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if len(set.Sources) == 0 {
		return nil, fmt.Errorf("sources file %s defines no sources", path)
	}

	out := make([]records.SourceDescriptor, 0, len(set.Sources))
	seen := make(map[string]bool, len(set.Sources))
	for _, raw := range set.Sources {
		src, err := convertSource(raw)
		if err != nil {
			return nil, err
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
		out = append(out, src)
	}
	return out, nil
}

func convertSource(raw rawSource) (records.SourceDescriptor, error) {
	if raw.ID == "" {
		return records.SourceDescriptor{}, fmt.Errorf("source missing id")
	}
	if raw.BaseURL == "" {
		return records.SourceDescriptor{}, fmt.Errorf("source %s: base_url is required", raw.ID)
	}

	kind := records.SourceKind(raw.Kind)
	switch kind {
	case records.SourcePropertyCard, records.SourceMunicipalPDF, records.SourceGIS:
	default:
		return records.SourceDescriptor{}, fmt.Errorf("source %s: unknown kind %q", raw.ID, raw.Kind)
	}

	minInterval, err := parseDuration(raw.ID, "rate.min_interval", raw.Rate.MinInterval)
	if err != nil {
		return records.SourceDescriptor{}, err
	}
	baseDelay, err := parseDuration(raw.ID, "retry.base_delay", raw.Retry.BaseDelay)
	if err != nil {
		return records.SourceDescriptor{}, err
	}
	maxDelay, err := parseDuration(raw.ID, "retry.max_delay", raw.Retry.MaxDelay)
	if err != nil {
		return records.SourceDescriptor{}, err
	}
	cacheTTL, err := parseDuration(raw.ID, "cache_ttl", raw.CacheTTL)
	if err != nil {
		return records.SourceDescriptor{}, err
	}

	src := records.SourceDescriptor{
		ID:      raw.ID,
		Kind:    kind,
		BaseURL: raw.BaseURL,
		Rate: records.RatePolicy{
			RequestsPerSecond: raw.Rate.RequestsPerSecond,
			Burst:             raw.Rate.Burst,
			MaxConcurrent:     raw.Rate.MaxConcurrent,
			MinInterval:       minInterval,
		},
		Retry: records.RetryConfig{
			MaxAttempts: raw.Retry.MaxAttempts,
			BaseDelay:   baseDelay,
			MaxDelay:    maxDelay,
		},
		CacheTTL:        cacheTTL,
		Paginated:       raw.Paginated,
		MaxPages:        raw.MaxPages,
		RequiresSession: raw.Session,
		Params:          raw.Params,
	}
	for _, mt := range raw.MediaTypes {
		src.MediaTypes = append(src.MediaTypes, records.MediaType(mt))
	}

	if src.Rate.MaxConcurrent <= 0 {
		src.Rate.MaxConcurrent = 1
	}
	if src.Rate.Burst <= 0 {
		src.Rate.Burst = 1
	}
	if src.CacheTTL <= 0 {
		src.CacheTTL = 24 * time.Hour
	}
	if src.Paginated && src.MaxPages <= 0 {
		src.MaxPages = 10
	}
	return src, nil
}

func parseDuration(sourceID, field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("source %s: %s: %w", sourceID, field, err)
	}
	return d, nil
}
