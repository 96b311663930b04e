// Package config provides configuration management for the octree
// engine's CLI and service binaries.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Build    BuildConfig    `mapstructure:"build"`
	Resource ResourceConfig `mapstructure:"resource"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Serve    ServeConfig    `mapstructure:"serve"`
	Log      LogConfig      `mapstructure:"log"`
}

// BuildConfig holds sort-and-build pipeline configuration.
type BuildConfig struct {
	// DataDir is the root directory for sorted streams, descriptors,
	// and sibling-group stores.
	DataDir string `mapstructure:"data_dir"`
	// MaxLevel bounds the octree's Morton depth.
	MaxLevel uint8 `mapstructure:"max_level"`
	// MaxSamplesPerNode caps the per-node subsample count (M).
	MaxSamplesPerNode int `mapstructure:"max_samples_per_node"`
	// WorkItemSize is the number of points (S) each leaf-assembly
	// worker consumes per range.
	WorkItemSize uint64 `mapstructure:"work_item_size"`
}

// ResourceConfig holds the memory governor's budget, overridable by
// OCT_MEM_QUOTA and OCT_WORKERS.
type ResourceConfig struct {
	// MemQuotaBytes is the resident sibling-group budget (Q).
	MemQuotaBytes int64 `mapstructure:"mem_quota_bytes"`
	// SoftThresholdBytes triggers LRU release before MemQuotaBytes is
	// reached; must be <= MemQuotaBytes.
	SoftThresholdBytes int64 `mapstructure:"soft_threshold_bytes"`
	// Workers bounds the goroutine pool used by the sorter and builder.
	Workers int `mapstructure:"workers"`
}

// CatalogConfig holds the build-run catalog's database connection.
type CatalogConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, mysql, or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // file path for sqlite
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// ServeConfig holds the draw service's gRPC listener configuration.
type ServeConfig struct {
	Addr          string `mapstructure:"addr"`
	MaxBatchSize  int    `mapstructure:"max_batch_size"`
	FrameDeadline int    `mapstructure:"frame_deadline_ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path, applying
// OCT_-prefixed environment variable overrides on top of the file's
// values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/oocpc")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("OCT")
	v.AutomaticEnv()
	bindEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// A quota lowered below the default soft threshold (e.g. through
	// OCT_MEM_QUOTA) pulls the threshold down with it unless the file
	// sets the threshold explicitly.
	if !v.InConfig("resource.soft_threshold_bytes") && cfg.Resource.SoftThresholdBytes > cfg.Resource.MemQuotaBytes {
		cfg.Resource.SoftThresholdBytes = cfg.Resource.MemQuotaBytes
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from in-memory content (useful
// for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	v.SetEnvPrefix("OCT")
	v.AutomaticEnv()
	bindEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindEnvOverrides wires the documented OCT_* environment variables to
// their dotted config keys explicitly, since the underscores already
// present in those keys would make AutomaticEnv's key derivation
// ambiguous on its own.
func bindEnvOverrides(v *viper.Viper) {
	v.BindEnv("resource.mem_quota_bytes", "OCT_MEM_QUOTA")
	v.BindEnv("resource.workers", "OCT_WORKERS")
	v.BindEnv("build.work_item_size", "OCT_WORK_ITEM")
	v.BindEnv("build.data_dir", "OCT_DB_DIR")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("build.data_dir", "./data")
	v.SetDefault("build.max_level", 16)
	v.SetDefault("build.max_samples_per_node", 4096)
	v.SetDefault("build.work_item_size", 1<<16)

	v.SetDefault("resource.mem_quota_bytes", int64(1)<<30) // 1 GiB
	v.SetDefault("resource.soft_threshold_bytes", int64(896)<<20)
	v.SetDefault("resource.workers", 0) // 0 = package-local runtime.NumCPU default

	v.SetDefault("catalog.driver", "sqlite")
	v.SetDefault("catalog.database", "catalog.db")
	v.SetDefault("catalog.max_conns", 10)

	v.SetDefault("serve.addr", ":7777")
	v.SetDefault("serve.max_batch_size", 4096)
	v.SetDefault("serve.frame_deadline_ms", 16)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Resource.MemQuotaBytes <= 0 {
		return fmt.Errorf("resource mem quota must be positive")
	}
	if c.Resource.SoftThresholdBytes > c.Resource.MemQuotaBytes {
		return fmt.Errorf("resource soft threshold must not exceed mem quota")
	}
	switch c.Catalog.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported catalog driver: %s", c.Catalog.Driver)
	}
	if c.Build.MaxSamplesPerNode < 1 {
		return fmt.Errorf("build max samples per node must be at least 1")
	}
	return nil
}

// EnsureDataDir creates the build data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	if c.Build.DataDir == "" {
		return nil
	}
	return os.MkdirAll(c.Build.DataDir, 0o755)
}

// RunDir returns the directory holding one build run's artifacts.
func (c *Config) RunDir(runUUID string) string {
	return filepath.Join(c.Build.DataDir, runUUID)
}
