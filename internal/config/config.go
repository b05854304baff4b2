// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Pipeline  PipelineConfig `mapstructure:"pipeline"`
	Fetch     FetchConfig    `mapstructure:"fetch"`
	Cache     CacheConfig    `mapstructure:"cache"`
	Resolver  ResolverConfig `mapstructure:"resolver"`
	DB        DBConfig       `mapstructure:"db"`
	PubSub    PubSubConfig   `mapstructure:"pubsub"`
	Logging   LoggingConfig  `mapstructure:"logging"`
	SourceSet string         `mapstructure:"source_set"`
}

// ServerConfig controls the read-only query API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs orchestrator worker pools.
type PipelineConfig struct {
	FetchWorkers   int `mapstructure:"fetch_workers"`
	ProcessWorkers int `mapstructure:"process_workers"`
}

// FetchConfig sets fetcher-wide HTTP behavior; per-source rate and retry
// policy live in the source descriptors.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CacheConfig controls the content-addressed artifact store.
type CacheConfig struct {
	Dir               string `mapstructure:"dir"`
	DefaultTTLHours   int    `mapstructure:"default_ttl_hours"`
	CompressThreshold int    `mapstructure:"compress_threshold"`
}

// ResolverConfig tunes entity resolution. The similarity threshold
// gates address matching; the name threshold gates owner matching.
type ResolverConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	NameThreshold       float64 `mapstructure:"name_threshold"`
}

// DBConfig controls the Postgres persistence collaborator.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	ClusterTable string `mapstructure:"cluster_table"`
	RunTable     string `mapstructure:"run_table"`
	MaxConns     int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run-summary notifications. Empty values
// disable publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.fetch_workers", 4)
	v.SetDefault("pipeline.process_workers", 0) // 0 means GOMAXPROCS
	v.SetDefault("fetch.user_agent", "bay-area-leads-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.default_ttl_hours", 24)
	v.SetDefault("cache.compress_threshold", 4096)
	v.SetDefault("resolver.similarity_threshold", 0.85)
	v.SetDefault("resolver.name_threshold", 0.80)
	v.SetDefault("db.cluster_table", "entity_clusters")
	v.SetDefault("db.run_table", "collection_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("source_set", "config/sources.yaml")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.FetchWorkers <= 0 {
		return fmt.Errorf("pipeline.fetch_workers must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Resolver.SimilarityThreshold <= 0 || c.Resolver.SimilarityThreshold > 1 {
		return fmt.Errorf("resolver.similarity_threshold must be in (0,1]")
	}
	if c.Resolver.NameThreshold <= 0 || c.Resolver.NameThreshold > 1 {
		return fmt.Errorf("resolver.name_threshold must be in (0,1]")
	}
	return nil
}

// FetchTimeout converts the configured timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// DefaultCacheTTL converts the configured TTL into a duration.
func (c Config) DefaultCacheTTL() time.Duration {
	return time.Duration(c.Cache.DefaultTTLHours) * time.Hour
}
