package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for StrataFS
type Config struct {
	// DataDir is the base directory for all persisted state
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Audit configuration
	Audit AuditConfig `mapstructure:"audit"`

	// Batch job ledger configuration
	Batch BatchConfig `mapstructure:"batch"`

	// Event dispatcher configuration
	Events EventsConfig `mapstructure:"events"`

	// Replication configuration
	Replication ReplicationConfig `mapstructure:"replication"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StorageConfig defines the storage core configuration
type StorageConfig struct {
	// Root is the directory holding bucket data and sidecar metadata
	Root string `mapstructure:"root"`

	// TestMode suppresses all network sinks (events, replication)
	TestMode bool `mapstructure:"test_mode"`

	// OrphanUploadAge is the cutoff for the multipart orphan sweeper
	OrphanUploadAge time.Duration `mapstructure:"orphan_upload_age"`

	// SweepInterval controls how often the orphan sweeper runs
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// DefaultMaxKeys is the listing page size (upper bound 1000)
	DefaultMaxKeys int `mapstructure:"default_max_keys"`

	// ChunkSize is the streaming I/O chunk size in bytes
	ChunkSize int `mapstructure:"chunk_size"`
}

// AuditConfig defines audit ledger configuration
type AuditConfig struct {
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// BatchConfig defines batch job ledger configuration
type BatchConfig struct {
	Dir string `mapstructure:"dir"`
}

// EventsConfig defines event dispatcher configuration
type EventsConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	SinkTimeout time.Duration `mapstructure:"sink_timeout"`

	// NATS topic sink
	NATSServerURL string `mapstructure:"nats_server_url"`

	// Kafka queue sink
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
}

// ReplicationConfig defines replication worker configuration
type ReplicationConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	PushTimeout time.Duration `mapstructure:"push_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

const (
	// DefaultChunkSize is the fixed streaming chunk size (64 KiB)
	DefaultChunkSize = 64 * 1024

	// MaxKeysLimit is the hard upper bound for listing page sizes
	MaxKeysLimit = 1000
)

// Load loads configuration from flags, config file and environment
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("STRATAFS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// NO default for data_dir - must be explicitly configured
	v.SetDefault("log_level", "info")

	v.SetDefault("storage.root", "")
	v.SetDefault("storage.test_mode", false)
	v.SetDefault("storage.orphan_upload_age", 7*24*time.Hour)
	v.SetDefault("storage.sweep_interval", time.Hour)
	v.SetDefault("storage.default_max_keys", MaxKeysLimit)
	v.SetDefault("storage.chunk_size", DefaultChunkSize)

	v.SetDefault("audit.db_path", "")
	v.SetDefault("audit.retention_days", 90)

	v.SetDefault("batch.dir", "")

	v.SetDefault("events.queue_size", 1024)
	v.SetDefault("events.sink_timeout", 30*time.Second)

	v.SetDefault("replication.queue_size", 1024)
	v.SetDefault("replication.push_timeout", 30*time.Second)
	v.SetDefault("replication.max_retries", 3)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.listen", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"data-dir":  "data_dir",
		"log-level": "log_level",
		"test-mode": "storage.test_mode",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

// Validate checks the configuration and materializes derived paths
func Validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or STRATAFS_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(cfg.DataDir, "objects")
	}
	if !filepath.IsAbs(cfg.Storage.Root) {
		absRoot, err := filepath.Abs(cfg.Storage.Root)
		if err == nil {
			cfg.Storage.Root = absRoot
		}
	}
	if err := os.MkdirAll(cfg.Storage.Root, 0755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}

	if cfg.Storage.ChunkSize <= 0 {
		cfg.Storage.ChunkSize = DefaultChunkSize
	}
	if cfg.Storage.DefaultMaxKeys <= 0 || cfg.Storage.DefaultMaxKeys > MaxKeysLimit {
		cfg.Storage.DefaultMaxKeys = MaxKeysLimit
	}
	if cfg.Storage.OrphanUploadAge <= 0 {
		cfg.Storage.OrphanUploadAge = 7 * 24 * time.Hour
	}

	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if cfg.Batch.Dir == "" {
		cfg.Batch.Dir = filepath.Join(cfg.DataDir, "batch")
	}

	if cfg.Events.QueueSize <= 0 {
		cfg.Events.QueueSize = 1024
	}
	if cfg.Events.SinkTimeout <= 0 {
		cfg.Events.SinkTimeout = 30 * time.Second
	}
	if cfg.Replication.QueueSize <= 0 {
		cfg.Replication.QueueSize = 1024
	}
	if cfg.Replication.PushTimeout <= 0 {
		cfg.Replication.PushTimeout = 30 * time.Second
	}

	return nil
}
