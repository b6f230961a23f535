// Package config loads the server configuration from a YAML file with sane
// defaults for everything that is not set.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Storage backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// Config is the full server configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Index configures index construction and query behavior.
	Index IndexConfig `yaml:"index"`

	// Storage selects and configures the artifact store.
	Storage StorageConfig `yaml:"storage"`

	// CatalogPath is the SQLite tenant catalog file. Empty disables the
	// catalog.
	CatalogPath string `yaml:"catalog_path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is one of text, json.
	Format string `yaml:"format"`
}

// IndexConfig configures index construction and query behavior.
type IndexConfig struct {
	// Dimension, when > 0, is enforced on every embedding.
	Dimension int `yaml:"dimension"`

	// NList is the configured partition count; small batches are capped
	// automatically.
	NList int `yaml:"nlist"`

	// Threshold is the normalized-distance cutoff for query results.
	Threshold float32 `yaml:"threshold"`

	// IngestPerSecond, when > 0, rate-limits ingests across all users.
	IngestPerSecond float64 `yaml:"ingest_per_second"`

	// IngestBurst is the limiter burst size. Defaults to 1 when rate
	// limiting is enabled.
	IngestBurst int `yaml:"ingest_burst"`
}

// StorageConfig selects the artifact store backend.
type StorageConfig struct {
	// Backend is one of local, s3, minio.
	Backend string `yaml:"backend"`

	// Dir is the root directory for the local backend.
	Dir string `yaml:"dir"`

	S3    S3Config    `yaml:"s3"`
	Minio MinioConfig `yaml:"minio"`
}

// S3Config configures the AWS S3 backend. Credentials come from the
// standard AWS environment/config chain.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// MinioConfig configures the MinIO backend.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Default returns the default configuration: a local store under ./data,
// text logs at info, and the stock index parameters.
func Default() *Config {
	return &Config{
		Addr: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Index: IndexConfig{
			NList:     100,
			Threshold: 0.8,
		},
		Storage: StorageConfig{
			Backend: BackendLocal,
			Dir:     "data",
		},
	}
}

// Load reads a YAML config file and applies it on top of the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage: local backend requires dir")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage: s3 backend requires bucket")
		}
	case BackendMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage: minio backend requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}

	if c.Index.NList < 1 {
		return fmt.Errorf("index: nlist must be >= 1, got %d", c.Index.NList)
	}
	if c.Index.Threshold <= 0 || c.Index.Threshold > 1 {
		return fmt.Errorf("index: threshold must be in (0, 1], got %g", c.Index.Threshold)
	}

	return nil
}
