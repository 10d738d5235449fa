// Package config loads the preview service configuration from defaults, an
// optional YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/Lllllllleong/documentpreview/internal/gcp"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Worker sizing bounds for MaxConcurrent auto-detection.
const (
	MinWorkers = 1
	MaxWorkers = 8

	// cpuDivisor leaves headroom for the converter's own child processes.
	cpuDivisor = 2
)

// Defaults taken from the service this replaces.
const (
	DefaultBinary         = "soffice"
	DefaultTimeout        = 60 * time.Second
	DefaultRetention      = 7 * 24 * time.Hour
	DefaultSchedule       = "@weekly"
	DefaultCollection     = "document_previews"
	DefaultPort           = "8080"
	DefaultLockRetryDelay = 500 * time.Millisecond
)

var ErrConfigParse = errors.New("failed to parse config")

// Config holds all configuration for the preview service.
type Config struct {
	ProjectID   string            `yaml:"projectId"`
	BaseURL     string            `yaml:"baseUrl"` // prefix for generated preview URLs
	Cache       CacheConfig       `yaml:"cache"`
	Source      SourceConfig      `yaml:"source"`
	Converter   ConverterConfig   `yaml:"converter"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
	Redis       RedisConfig       `yaml:"redis"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Server      ServerConfig      `yaml:"server"`
}

// CacheConfig selects the cache store. Bucket wins over Dir when both are set.
type CacheConfig struct {
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"` // object name prefix inside Bucket
}

// SourceConfig selects where entity ids are resolved to document bytes.
type SourceConfig struct {
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	MaxBytes int64  `yaml:"maxBytes"` // 0 = unlimited
}

// ConverterConfig configures the external office-to-PDF converter.
type ConverterConfig struct {
	Binary         string        `yaml:"binary"`
	Timeout        time.Duration `yaml:"timeout"`
	ScratchDir     string        `yaml:"scratchDir"` // empty = os.TempDir()
	Serialize      bool          `yaml:"serialize"`  // one converter process at a time
	ValidateOutput bool          `yaml:"validateOutput"`
	Optimize       bool          `yaml:"optimize"`
}

// CoordinatorConfig bounds concurrent conversions. 0 = derive from GOMAXPROCS.
type CoordinatorConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent"`
}

// SweeperConfig controls cache retention.
type SweeperConfig struct {
	Retention time.Duration `yaml:"retention"`
	Schedule  string        `yaml:"schedule"` // cron spec for the daemon
	Workers   int           `yaml:"workers"`  // 0 = sweeper default
}

// RedisConfig enables the cross-instance conversion lock when URL is set.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	RetryDelay time.Duration `yaml:"retryDelay"`
}

// LedgerConfig enables Firestore conversion records when ProjectID is set.
type LedgerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Collection string `yaml:"collection"`
	DatabaseID string `yaml:"databaseId"`
}

// ServerConfig configures the standalone daemon.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{Dir: "document_previews"},
		Converter: ConverterConfig{
			Binary:         DefaultBinary,
			Timeout:        DefaultTimeout,
			ValidateOutput: true,
		},
		Sweeper: SweeperConfig{
			Retention: DefaultRetention,
			Schedule:  DefaultSchedule,
		},
		Redis:  RedisConfig{RetryDelay: DefaultLockRetryDelay},
		Ledger: LedgerConfig{Collection: DefaultCollection},
		Server: ServerConfig{Port: DefaultPort},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (skipped
// when path is empty), then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if cfg.Cache.Prefix != "" && !strings.HasSuffix(cfg.Cache.Prefix, "/") {
		cfg.Cache.Prefix += "/"
	}
	cfg.Coordinator.MaxConcurrent = ResolveWorkers(cfg.Coordinator.MaxConcurrent)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ProjectID = gcp.GetEnv("PROJECT_ID", c.ProjectID)
	c.BaseURL = gcp.GetEnv("PREVIEW_BASE_URL", c.BaseURL)

	c.Cache.Dir = gcp.GetEnv("PREVIEW_CACHE_DIR", c.Cache.Dir)
	c.Cache.Bucket = gcp.GetEnv("PREVIEW_CACHE_BUCKET", c.Cache.Bucket)
	c.Cache.Prefix = gcp.GetEnv("PREVIEW_CACHE_PREFIX", c.Cache.Prefix)

	c.Source.Dir = gcp.GetEnv("PREVIEW_SOURCE_DIR", c.Source.Dir)
	c.Source.Bucket = gcp.GetEnv("PREVIEW_SOURCE_BUCKET", c.Source.Bucket)

	c.Converter.Binary = gcp.GetEnv("SOFFICE_BIN", c.Converter.Binary)
	c.Converter.Timeout = gcp.GetEnvDuration("CONVERSION_TIMEOUT", c.Converter.Timeout)
	c.Converter.ScratchDir = gcp.GetEnv("CONVERTER_SCRATCH_DIR", c.Converter.ScratchDir)
	c.Converter.Serialize = gcp.GetEnvBool("CONVERTER_SERIALIZE", c.Converter.Serialize)
	c.Converter.ValidateOutput = gcp.GetEnvBool("VALIDATE_PDF_OUTPUT", c.Converter.ValidateOutput)
	c.Converter.Optimize = gcp.GetEnvBool("OPTIMIZE_PDF_OUTPUT", c.Converter.Optimize)

	c.Coordinator.MaxConcurrent = gcp.GetEnvInt("MAX_CONCURRENT_CONVERSIONS", c.Coordinator.MaxConcurrent)

	c.Sweeper.Retention = gcp.GetEnvDuration("PREVIEW_RETENTION", c.Sweeper.Retention)
	c.Sweeper.Schedule = gcp.GetEnv("SWEEP_SCHEDULE", c.Sweeper.Schedule)

	c.Redis.URL = gcp.GetEnv("REDIS_URL", c.Redis.URL)

	c.Ledger.Enabled = gcp.GetEnvBool("LEDGER_ENABLED", c.Ledger.Enabled)
	c.Ledger.Collection = gcp.GetEnv("FIRESTORE_COLLECTION", c.Ledger.Collection)
	c.Ledger.DatabaseID = gcp.GetEnv("FIRESTORE_DATABASE", c.Ledger.DatabaseID)

	c.Server.Port = gcp.GetEnv("PORT", c.Server.Port)
}

// Validate checks that the configuration can build a working service.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.Dir == "" && c.Cache.Bucket == "" {
		errs = append(errs, errors.New("one of PREVIEW_CACHE_DIR or PREVIEW_CACHE_BUCKET must be set"))
	}
	if c.Source.Dir == "" && c.Source.Bucket == "" {
		errs = append(errs, errors.New("one of PREVIEW_SOURCE_DIR or PREVIEW_SOURCE_BUCKET must be set"))
	}
	if c.Converter.Binary == "" {
		errs = append(errs, errors.New("converter binary must be set"))
	}
	if c.Converter.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("conversion timeout must be positive, got %s", c.Converter.Timeout))
	}
	if c.Sweeper.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Sweeper.Retention))
	}
	if c.Sweeper.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid sweep schedule %q: %w", c.Sweeper.Schedule, err))
		}
	}
	if c.Ledger.Enabled && c.ProjectID == "" {
		errs = append(errs, errors.New("PROJECT_ID must be set when the Firestore ledger is enabled"))
	}
	return errors.Join(errs...)
}

// ConversionSlots is the number of conversions allowed to run at once. With
// Serialize set it is 1: the slot is then taken before the cross-instance lock,
// so no lock is held while a conversion queues for the converter.
func (c *Config) ConversionSlots() int {
	if c.Converter.Serialize {
		return 1
	}
	return c.Coordinator.MaxConcurrent
}

// LockExpiry is how long a cross-instance conversion lock survives a crashed
// holder: the converter timeout plus time to store the result.
func (c *Config) LockExpiry() time.Duration {
	return c.Converter.Timeout + 30*time.Second
}

// ResolveWorkers returns the conversion worker count.
// Priority: explicit value > GOMAXPROCS-based calculation.
func ResolveWorkers(workers int) int {
	if workers > 0 {
		return workers
	}

	n := runtime.GOMAXPROCS(0) / cpuDivisor
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}
