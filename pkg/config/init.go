package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// sectionComments are written above each top-level section of a generated
// config file.
var sectionComments = map[string]string{
	"logging":   "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, or a file path)",
	"server":    "Process-wide settings",
	"metadata":  "Metadata store: memory (ephemeral) or badger (persistent)",
	"content":   "Permanent content store for file payloads: filesystem, memory or s3",
	"scratch":   "Scratch store for upload chunks until they are merged; must not share content's location",
	"hierarchy": "Well-known container names. special_names lists extra protected root-level containers",
	"uploads":   "Chunked upload limits. Size caps always apply; rates are chunks per second, 0 means unlimited",
	"gc":        "Orphan collector, run periodically by `dittodrive serve` when enabled",
	"metrics":   "Prometheus /metrics and /healthz endpoint",
}

// durationKeys are rendered as Go duration strings instead of nanoseconds.
var durationKeys = map[string]struct{}{
	"shutdown_timeout": {},
	"stale_after":      {},
	"interval":         {},
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced with force.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and one
// comment per section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if comment, ok := sectionComments[doc.Content[i].Value]; ok {
				doc.Content[i].HeadComment = comment
			}
		}
	}
	renderDurations(&doc)

	var buf bytes.Buffer
	buf.WriteString("# DittoDrive Configuration File\n")
	buf.WriteString("# Every key can be overridden with DITTODRIVE_<SECTION>_<KEY> environment variables.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.String(), nil
}

func renderDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if _, ok := durationKeys[key.Value]; ok && value.Kind == yaml.ScalarNode {
				if ns, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
					value.Value = time.Duration(ns).String()
					value.Tag = "!!str"
				}
			}
		}
	}
	for _, child := range n.Content {
		renderDurations(child)
	}
}
