package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "info"

content:
  type: "filesystem"
  filesystem:
    path: "` + filepath.Join(tmpDir, "content") + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Metadata.Type != "badger" {
		t.Errorf("Expected default metadata type 'badger', got %q", cfg.Metadata.Type)
	}
	if cfg.Hierarchy.TrashName != "trash" {
		t.Errorf("Expected default trash name 'trash', got %q", cfg.Hierarchy.TrashName)
	}
	if cfg.Content.Filesystem["path"] != filepath.Join(tmpDir, "content") {
		t.Errorf("Expected configured content path, got %v", cfg.Content.Filesystem["path"])
	}
}

func TestLoad_FullConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
metadata:
  type: memory
content:
  type: memory
scratch:
  type: memory
hierarchy:
  trash_name: bin
  special_names: [shared]
uploads:
  max_total_chunks: 64
  max_chunk_size: 1024
  per_owner_chunks_per_second: 20
  per_owner_burst: 40
  stale_after: 6h
gc:
  enabled: true
  interval: 30m
  dry_run: true
metrics:
  enabled: true
  port: 9100
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Hierarchy.TrashName != "bin" || len(cfg.Hierarchy.SpecialNames) != 1 {
		t.Errorf("Unexpected hierarchy config: %+v", cfg.Hierarchy)
	}
	if cfg.Uploads.MaxTotalChunks != 64 || cfg.Uploads.MaxChunkSize != 1024 {
		t.Errorf("Unexpected upload limits: %+v", cfg.Uploads)
	}
	if cfg.Uploads.PerOwnerChunksPerSecond != 20 || cfg.Uploads.PerOwnerBurst != 40 {
		t.Errorf("Unexpected upload rates: %+v", cfg.Uploads)
	}
	if cfg.Uploads.StaleAfter != 6*time.Hour {
		t.Errorf("Expected stale_after 6h, got %v", cfg.Uploads.StaleAfter)
	}
	if !cfg.GC.Enabled || !cfg.GC.DryRun || cfg.GC.Interval != 30*time.Minute {
		t.Errorf("Unexpected gc config: %+v", cfg.GC)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Port != 9100 {
		t.Errorf("Unexpected metrics config: %+v", cfg.Metrics)
	}
}

func TestLoad_ZeroUploadCapsUseDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
content:
  type: "filesystem"
  filesystem:
    path: "` + filepath.Join(tmpDir, "content") + `"

uploads:
  max_total_chunks: 0
  max_chunk_size: 0
  chunks_per_second: 0
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Uploads.MaxTotalChunks != 10000 {
		t.Errorf("Expected max_total_chunks 0 to select 10000, got %d", cfg.Uploads.MaxTotalChunks)
	}
	if cfg.Uploads.MaxChunkSize != 16*1024*1024 {
		t.Errorf("Expected max_chunk_size 0 to select 16MB, got %d", cfg.Uploads.MaxChunkSize)
	}
	if cfg.Uploads.ChunksPerSecond != 0 {
		t.Errorf("Expected chunks_per_second 0 to stay unlimited, got %v", cfg.Uploads.ChunksPerSecond)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// An explicit missing path keeps the user's own config out of the test.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Content.Type != "filesystem" {
		t.Errorf("Expected default content type 'filesystem', got %q", cfg.Content.Type)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("DITTODRIVE_LOGGING_LEVEL", "debug")
	t.Setenv("DITTODRIVE_METADATA_TYPE", "memory")
	t.Setenv("DITTODRIVE_UPLOADS_MAX_TOTAL_CHUNKS", "12")
	t.Setenv("DITTODRIVE_GC_INTERVAL", "2h")

	cfg, err := Load(filepath.Join(tmpDir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level from env 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Metadata.Type != "memory" {
		t.Errorf("Expected metadata type from env 'memory', got %q", cfg.Metadata.Type)
	}
	if cfg.Uploads.MaxTotalChunks != 12 {
		t.Errorf("Expected max_total_chunks from env 12, got %d", cfg.Uploads.MaxTotalChunks)
	}
	if cfg.GC.Interval != 2*time.Hour {
		t.Errorf("Expected gc interval from env 2h, got %v", cfg.GC.Interval)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("logging:\n  level: [unclosed\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("metadata:\n  type: postgres\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown metadata type")
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if got := GetConfigDir(); got != filepath.Join(tmpDir, "dittodrive") {
		t.Errorf("Expected config dir under XDG_CONFIG_HOME, got %q", got)
	}
	if got := GetDefaultConfigPath(); got != filepath.Join(tmpDir, "dittodrive", "config.yaml") {
		t.Errorf("Unexpected default config path %q", got)
	}
	if ConfigExists() {
		t.Error("Expected no config file in a fresh directory")
	}
}
