package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittodrive/pkg/hierarchy"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMetadataDefaults(&cfg.Metadata)
	applyContentDefaults(&cfg.Content, "/tmp/dittodrive-content")
	applyContentDefaults(&cfg.Scratch, "/tmp/dittodrive-scratch")
	applyHierarchyDefaults(&cfg.Hierarchy)
	applyUploadsDefaults(&cfg.Uploads)
	applyGCDefaults(&cfg.GC)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetadataDefaults defaults to a persistent BadgerDB store: CLI
// commands run as separate processes and must see each other's writes.
func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/dittodrive-metadata"
	}
}

// applyContentDefaults sets content store defaults. path is the default
// filesystem directory.
func applyContentDefaults(cfg *ContentConfig, path string) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}

	// Filled for every type so that generated config files show them.
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = path
	}
	if _, ok := cfg.Memory["max_size_bytes"]; !ok {
		cfg.Memory["max_size_bytes"] = uint64(1073741824) // 1GB
	}
}

func applyHierarchyDefaults(cfg *HierarchyConfig) {
	if cfg.RootName == "" {
		cfg.RootName = hierarchy.DefaultRootName
	}
	if cfg.TrashName == "" {
		cfg.TrashName = hierarchy.DefaultTrashName
	}
	if cfg.SpecialNames == nil {
		cfg.SpecialNames = []string{}
	}
}

func applyUploadsDefaults(cfg *UploadsConfig) {
	if cfg.MaxTotalChunks == 0 {
		cfg.MaxTotalChunks = 10000
	}
	if cfg.MaxChunkSize == 0 {
		cfg.MaxChunkSize = 16 * 1024 * 1024 // 16MB
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	// Rates default to 0 (unlimited).
}

func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
