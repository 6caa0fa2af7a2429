package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/hierarchy"
	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/upload"
	"github.com/marmos91/dittodrive/pkg/upload/chunk"
)

// Runtime holds every component built from a Config.
type Runtime struct {
	Metadata  metadata.Store
	Content   content.ListableContentStore
	Scratch   content.ListableContentStore
	Hierarchy *hierarchy.Service
	Uploads   *upload.Registrar
	Collector *gc.Collector
	Metrics   *MetricsResult
}

// ConfigureLogging applies the logging section to the global logger.
func ConfigureLogging(cfg *LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}

// Initialize creates the stores and services described by cfg.
//
// The orphan collector is created but not started, and neither is the
// metrics server. Close releases the stores.
func Initialize(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	rt := &Runtime{}

	var err error
	rt.Metadata, err = CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}

	rt.Content, err = CreateContentStore(ctx, &cfg.Content)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}

	rt.Scratch, err = CreateContentStore(ctx, &cfg.Scratch)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to create scratch store: %w", err)
	}

	rt.Metrics = InitializeMetrics(cfg, rt.Metadata.Healthcheck)

	rt.Hierarchy = hierarchy.New(rt.Metadata, rt.Content, hierarchy.Options{
		RootName:     cfg.Hierarchy.RootName,
		TrashName:    cfg.Hierarchy.TrashName,
		SpecialNames: cfg.Hierarchy.SpecialNames,
		Metrics:      rt.Metrics.Hierarchy,
	})

	assembler := chunk.NewAssembler(rt.Scratch, rt.Content, rt.Metrics.Upload)
	rt.Uploads = upload.NewRegistrar(rt.Metadata, rt.Hierarchy, assembler, rt.Content, upload.Options{
		MaxTotalChunks: cfg.Uploads.MaxTotalChunks,
		MaxChunkSize:   cfg.Uploads.MaxChunkSize,
		Limiter: ratelimiter.New(ratelimiter.Config{
			Rate:        cfg.Uploads.ChunksPerSecond,
			Burst:       cfg.Uploads.Burst,
			PerKeyRate:  cfg.Uploads.PerOwnerChunksPerSecond,
			PerKeyBurst: cfg.Uploads.PerOwnerBurst,
		}),
		Metrics: rt.Metrics.Upload,
	})

	rt.Collector, err = gc.NewCollector(rt.Metadata, rt.Content, rt.Scratch, gc.Config{
		Enabled:  cfg.GC.Enabled,
		Interval: cfg.GC.Interval,
		DryRun:   cfg.GC.DryRun,
	}, rt.Metrics.GC)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to create orphan collector: %w", err)
	}

	logger.Debug("Runtime initialized: metadata=%s content=%s scratch=%s",
		cfg.Metadata.Type, cfg.Content.Type, cfg.Scratch.Type)
	return rt, nil
}

// Close releases the metadata store. Content stores hold no resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.Metadata != nil {
		if err := r.Metadata.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close metadata store: %w", err))
		}
	}
	return errors.Join(errs...)
}
