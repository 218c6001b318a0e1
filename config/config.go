// Package config provides configuration loading and management for
// semvocab.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends for provisional terms.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendNATS   = "nats"
)

// Config represents the complete semvocab configuration
type Config struct {
	Vocab     VocabConfig     `yaml:"vocab"`
	Axioms    AxiomConfig     `yaml:"axioms"`
	Schemas   SchemaConfig    `yaml:"schemas"`
	Storage   StorageConfig   `yaml:"storage"`
	NATS      NATSConfig      `yaml:"nats"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	EvalCache EvalCacheConfig `yaml:"eval_cache"`
}

// VocabConfig configures the vocabulary snapshot
type VocabConfig struct {
	// SnapshotPath is the compiled vocabulary dump loaded at boot
	SnapshotPath string `yaml:"snapshot_path" env:"SEMVOCAB_SNAPSHOT_PATH"`
	// ProvisionalPrefix is the namespace new provisional URIs are minted in
	ProvisionalPrefix string `yaml:"provisional_prefix" env:"SEMVOCAB_PROVISIONAL_PREFIX"`
	// SavePath, when set, receives the overlaid snapshot on shutdown
	SavePath string `yaml:"save_path" env:"SEMVOCAB_SAVE_PATH"`
}

// AxiomConfig configures where axiom rule files are read from
type AxiomConfig struct {
	// Dir holds the rule files; a missing directory disables axioms
	Dir     string `yaml:"dir" env:"SEMVOCAB_AXIOM_DIR"`
	Pattern string `yaml:"pattern" env:"SEMVOCAB_AXIOM_PATTERN"`
}

// SchemaConfig configures where schema templates are read from
type SchemaConfig struct {
	Dir     string `yaml:"dir" env:"SEMVOCAB_SCHEMA_DIR"`
	Pattern string `yaml:"pattern" env:"SEMVOCAB_SCHEMA_PATTERN"`
}

// StorageConfig selects the provisional term store
type StorageConfig struct {
	// Backend is one of memory, bolt or nats
	Backend  string `yaml:"backend" env:"SEMVOCAB_STORAGE_BACKEND"`
	BoltPath string `yaml:"bolt_path" env:"SEMVOCAB_BOLT_PATH"`
	// Bucket is the bbolt bucket or JetStream KV bucket name
	Bucket string `yaml:"bucket" env:"SEMVOCAB_STORAGE_BUCKET"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = no NATS, events are not published)
	URL string `yaml:"url" env:"SEMVOCAB_NATS_URL"`
	// Subject receives snapshot publication events
	Subject string `yaml:"subject" env:"SEMVOCAB_NATS_SUBJECT"`
}

// WatchConfig configures file watching for reloads
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" env:"SEMVOCAB_WATCH"`
	Debounce time.Duration `yaml:"debounce" env:"SEMVOCAB_WATCH_DEBOUNCE"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the metrics HTTP address (empty = disabled)
	Listen string `yaml:"listen" env:"SEMVOCAB_METRICS_LISTEN"`
}

// EvalCacheConfig configures the evaluation memo
type EvalCacheConfig struct {
	// Size is the number of results kept (0 = disabled)
	Size int `yaml:"size" env:"SEMVOCAB_EVAL_CACHE_SIZE"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Vocab: VocabConfig{
			SnapshotPath: "vocab.json.gz",
		},
		Axioms: AxiomConfig{
			Dir:     "axioms",
			Pattern: "**/*.json",
		},
		Schemas: SchemaConfig{
			Dir:     "schemas",
			Pattern: "**/*.yaml",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		NATS: NATSConfig{
			Subject: "semvocab.snapshot.published",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 500 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Listen: "",
		},
		EvalCache: EvalCacheConfig{
			Size: 1024,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Vocab.SnapshotPath == "" {
		return fmt.Errorf("vocab.snapshot_path is required")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendNATS:
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("storage.bolt_path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, bolt, nats")
	}
	if c.Storage.Backend == BackendNATS && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required for the nats backend")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if c.EvalCache.Size < 0 {
		return fmt.Errorf("eval_cache.size must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Vocab
	if other.Vocab.SnapshotPath != "" {
		c.Vocab.SnapshotPath = other.Vocab.SnapshotPath
	}
	if other.Vocab.ProvisionalPrefix != "" {
		c.Vocab.ProvisionalPrefix = other.Vocab.ProvisionalPrefix
	}
	if other.Vocab.SavePath != "" {
		c.Vocab.SavePath = other.Vocab.SavePath
	}

	// Axioms and schemas
	if other.Axioms.Dir != "" {
		c.Axioms.Dir = other.Axioms.Dir
	}
	if other.Axioms.Pattern != "" {
		c.Axioms.Pattern = other.Axioms.Pattern
	}
	if other.Schemas.Dir != "" {
		c.Schemas.Dir = other.Schemas.Dir
	}
	if other.Schemas.Pattern != "" {
		c.Schemas.Pattern = other.Schemas.Pattern
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.BoltPath != "" {
		c.Storage.BoltPath = other.Storage.BoltPath
	}
	if other.Storage.Bucket != "" {
		c.Storage.Bucket = other.Storage.Bucket
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Subject != "" {
		c.NATS.Subject = other.NATS.Subject
	}

	// Watch settings are taken as a block; enabled=false is a zero value.
	if other.Watch != (WatchConfig{}) {
		c.Watch = other.Watch
	}

	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}
	if other.EvalCache.Size != 0 {
		c.EvalCache.Size = other.EvalCache.Size
	}
}
