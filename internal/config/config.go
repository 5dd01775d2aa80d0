package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	ClusterID       string        `yaml:"cluster_id"`
	Region          string        `yaml:"region"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OffloadConfig holds offload coordination configuration.
// Treated as an immutable snapshot while an operation is in flight.
type OffloadConfig struct {
	// Thresholds
	MemoryThresholdPercent  float64 `yaml:"memory_threshold_percent"`
	StorageThresholdPercent float64 `yaml:"storage_threshold_percent"`
	MinByteDifference       uint64  `yaml:"min_byte_difference"`
	MaxBytePerTransfer      uint64  `yaml:"max_byte_per_transfer"`

	// Transfer settings
	SegmentSize            int64 `yaml:"segment_size"`
	MaxConcurrentTransfers int   `yaml:"max_concurrent_transfers"`
	TransferBufferSize     int   `yaml:"transfer_buffer_size"`

	// Timeouts
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	TransferTimeout     time.Duration `yaml:"transfer_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// Retry settings
	MaxRetries             int           `yaml:"max_retries"`
	RetryDelay             time.Duration `yaml:"retry_delay"`
	RetryBackoffMultiplier float64       `yaml:"retry_backoff_multiplier"`

	// Behavior
	AutoOffload       bool `yaml:"auto_offload"`
	CompressTransfers bool `yaml:"compress_transfers"`
	VerifyIntegrity   bool `yaml:"verify_integrity"`
	PreferLocalRegion bool `yaml:"prefer_local_region"`

	// Node selection
	MinAvailableStorageBytes uint64  `yaml:"min_available_storage_bytes"`
	MaxTargetCPUUsage        float64 `yaml:"max_target_cpu_usage"`
	MaxTargetMemoryUsage     float64 `yaml:"max_target_memory_usage"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds the local payload source configuration
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// Config represents the complete configuration for the offload engine
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Offload OffloadConfig `yaml:"offload"`
	Storage StorageConfig `yaml:"storage"`
	Gossip  GossipConfig  `yaml:"gossip"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultOffloadConfig returns the offload configuration defaults
func DefaultOffloadConfig() OffloadConfig {
	return OffloadConfig{
		MemoryThresholdPercent:  80.0,
		StorageThresholdPercent: 85.0,
		MinByteDifference:       100 * 1024 * 1024,
		MaxBytePerTransfer:      10 * 1024 * 1024 * 1024,

		SegmentSize:            1 * 1024 * 1024,
		MaxConcurrentTransfers: 4,
		TransferBufferSize:     64 * 1024,

		ConnectTimeout:      30 * time.Second,
		TransferTimeout:     300 * time.Second,
		HealthCheckInterval: 10 * time.Second,

		MaxRetries:             3,
		RetryDelay:             1000 * time.Millisecond,
		RetryBackoffMultiplier: 2.0,

		AutoOffload:       true,
		CompressTransfers: true,
		VerifyIntegrity:   true,
		PreferLocalRegion: true,

		MinAvailableStorageBytes: 1024 * 1024 * 1024,
		MaxTargetCPUUsage:        80.0,
		MaxTargetMemoryUsage:     85.0,
	}
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50053
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	def := DefaultOffloadConfig()
	if cfg.Offload.MemoryThresholdPercent == 0 {
		cfg.Offload.MemoryThresholdPercent = def.MemoryThresholdPercent
	}
	if cfg.Offload.StorageThresholdPercent == 0 {
		cfg.Offload.StorageThresholdPercent = def.StorageThresholdPercent
	}
	if cfg.Offload.MinByteDifference == 0 {
		cfg.Offload.MinByteDifference = def.MinByteDifference
	}
	if cfg.Offload.MaxBytePerTransfer == 0 {
		cfg.Offload.MaxBytePerTransfer = def.MaxBytePerTransfer
	}
	if cfg.Offload.SegmentSize == 0 {
		cfg.Offload.SegmentSize = def.SegmentSize
	}
	if cfg.Offload.MaxConcurrentTransfers == 0 {
		cfg.Offload.MaxConcurrentTransfers = def.MaxConcurrentTransfers
	}
	if cfg.Offload.TransferBufferSize == 0 {
		cfg.Offload.TransferBufferSize = def.TransferBufferSize
	}
	if cfg.Offload.ConnectTimeout == 0 {
		cfg.Offload.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.Offload.TransferTimeout == 0 {
		cfg.Offload.TransferTimeout = def.TransferTimeout
	}
	if cfg.Offload.HealthCheckInterval == 0 {
		cfg.Offload.HealthCheckInterval = def.HealthCheckInterval
	}
	if cfg.Offload.MaxRetries == 0 {
		cfg.Offload.MaxRetries = def.MaxRetries
	}
	if cfg.Offload.RetryDelay == 0 {
		cfg.Offload.RetryDelay = def.RetryDelay
	}
	if cfg.Offload.RetryBackoffMultiplier == 0 {
		cfg.Offload.RetryBackoffMultiplier = def.RetryBackoffMultiplier
	}
	if cfg.Offload.MinAvailableStorageBytes == 0 {
		cfg.Offload.MinAvailableStorageBytes = def.MinAvailableStorageBytes
	}
	if cfg.Offload.MaxTargetCPUUsage == 0 {
		cfg.Offload.MaxTargetCPUUsage = def.MaxTargetCPUUsage
	}
	if cfg.Offload.MaxTargetMemoryUsage == 0 {
		cfg.Offload.MaxTargetMemoryUsage = def.MaxTargetMemoryUsage
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/pairdb"
	}

	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = 1 * time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9094
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return c.Offload.Validate()
}

// Validate validates the offload configuration
func (c *OffloadConfig) Validate() error {
	if c.SegmentSize <= 0 {
		return fmt.Errorf("offload.segment_size must be positive")
	}
	if c.MaxConcurrentTransfers <= 0 {
		return fmt.Errorf("offload.max_concurrent_transfers must be positive")
	}
	if c.TransferBufferSize <= 0 {
		return fmt.Errorf("offload.transfer_buffer_size must be positive")
	}
	if c.MinByteDifference > c.MaxBytePerTransfer {
		return fmt.Errorf("offload.min_byte_difference exceeds offload.max_byte_per_transfer")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("offload.max_retries must not be negative")
	}
	if c.RetryBackoffMultiplier < 1.0 {
		return fmt.Errorf("offload.retry_backoff_multiplier must be at least 1.0")
	}
	if c.MaxTargetCPUUsage < 0 || c.MaxTargetCPUUsage > 100 {
		return fmt.Errorf("offload.max_target_cpu_usage must be between 0 and 100")
	}
	if c.MaxTargetMemoryUsage < 0 || c.MaxTargetMemoryUsage > 100 {
		return fmt.Errorf("offload.max_target_memory_usage must be between 0 and 100")
	}
	return nil
}
