package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete DittoDrive configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTODRIVE_*)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration type. Store
// sections carry a Type plus one option map per implementation
// (e.g. content.filesystem, content.s3); only the map matching Type is
// decoded, by the factory of that implementation.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metadata selects the relational store holding nodes, edges and uploads
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Content selects the permanent blob store for file payloads
	Content ContentConfig `mapstructure:"content" yaml:"content"`

	// Scratch selects the blob store holding upload chunks until merge
	Scratch ContentConfig `mapstructure:"scratch" yaml:"scratch"`

	// Hierarchy configures well-known container names
	Hierarchy HierarchyConfig `mapstructure:"hierarchy" yaml:"hierarchy"`

	// Uploads configures chunked upload limits
	Uploads UploadsConfig `mapstructure:"uploads" yaml:"uploads"`

	// GC configures the orphan collector
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// MetadataConfig specifies metadata store configuration.
type MetadataConfig struct {
	// Type specifies which metadata store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
}

// ContentConfig specifies content store configuration.
type ContentConfig struct {
	// Type specifies which content store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem memory s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// Memory contains memory-specific configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// HierarchyConfig configures the hierarchy service.
type HierarchyConfig struct {
	// RootName is the name of each member's root container
	RootName string `mapstructure:"root_name" yaml:"root_name" validate:"required"`

	// TrashName is the name of each member's trash container
	TrashName string `mapstructure:"trash_name" yaml:"trash_name" validate:"required"`

	// SpecialNames lists additional protected root-level container names
	SpecialNames []string `mapstructure:"special_names" yaml:"special_names" validate:"dive,required"`
}

// UploadsConfig configures the upload registrar.
type UploadsConfig struct {
	// MaxTotalChunks caps the declared chunk count of one upload (0 selects the default, 10000)
	MaxTotalChunks uint32 `mapstructure:"max_total_chunks" yaml:"max_total_chunks"`

	// MaxChunkSize caps the size of one chunk in bytes (0 selects the default, 16MB)
	MaxChunkSize int `mapstructure:"max_chunk_size" yaml:"max_chunk_size" validate:"gte=0"`

	// ChunksPerSecond is the global sustained chunk rate (0 = unlimited)
	ChunksPerSecond float64 `mapstructure:"chunks_per_second" yaml:"chunks_per_second" validate:"gte=0"`

	// Burst is the global chunk burst
	Burst int `mapstructure:"burst" yaml:"burst" validate:"gte=0"`

	// PerOwnerChunksPerSecond is the sustained chunk rate of one member (0 = unlimited)
	PerOwnerChunksPerSecond float64 `mapstructure:"per_owner_chunks_per_second" yaml:"per_owner_chunks_per_second" validate:"gte=0"`

	// PerOwnerBurst is the chunk burst of one member
	PerOwnerBurst int `mapstructure:"per_owner_burst" yaml:"per_owner_burst" validate:"gte=0"`

	// StaleAfter is the age after which `dittodrive sweep` abandons an upload
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after" validate:"gt=0"`
}

// GCConfig configures the orphan collector.
type GCConfig struct {
	// Enabled runs the collector periodically in `dittodrive serve`
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is the time between two collections
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// DryRun logs orphans without deleting them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Enabled starts the /metrics and /healthz HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
}

// envKeys are the leaf keys that can be set from the environment even when
// the config file does not mention them.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"server.shutdown_timeout",
	"metadata.type",
	"content.type", "scratch.type",
	"hierarchy.root_name", "hierarchy.trash_name",
	"uploads.max_total_chunks", "uploads.max_chunk_size",
	"uploads.chunks_per_second", "uploads.burst",
	"uploads.per_owner_chunks_per_second", "uploads.per_owner_burst",
	"uploads.stale_after",
	"gc.enabled", "gc.interval", "gc.dry_run",
	"metrics.enabled", "metrics.port",
}

// Load loads configuration from file, environment, and defaults.
//
// configPath may be empty to use the default location. A missing file is
// not an error: defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) error {
	// Example: DITTODRIVE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTODRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittodrive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittodrive")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
