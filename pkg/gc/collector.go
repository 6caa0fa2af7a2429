// Package gc reclaims orphaned content.
//
// A blob is orphaned when no block node references its key and no in-flight
// upload reserved it as its NodeKey. Orphans are left behind by best-effort
// blob deletes during subtree deletion and by crashes between a merge and
// its promotion. Scratch chunks are orphaned when their upload no longer
// exists, e.g. after a late duplicate chunk of a promoted upload.
//
// Ordering:
// Content is listed BEFORE the metadata references are read. Each key in the
// listing was written before the reference snapshot, so a key that is still
// wanted is visible as a node or upload in that snapshot. The reverse order
// could delete the blob of an upload initiated between the two reads.
package gc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Collector performs periodic orphan collection.
//
// Thread Safety: Safe for concurrent use. Runs are serialized.
type Collector struct {
	store   metadata.Store
	blobs   content.ListableContentStore
	scratch content.ListableContentStore
	config  Config
	metrics metrics.GCMetrics

	runMu    sync.Mutex
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether periodic collection runs
	Enabled bool

	// Interval is how often to collect (default: 24h)
	Interval time.Duration

	// Timeout bounds one periodic run (default: 10m)
	Timeout time.Duration

	// DryRun logs what would be deleted without deleting
	DryRun bool
}

// NewCollector creates a collector over the permanent content store blobs
// and, optionally, the upload scratch store (nil skips scratch collection).
//
// Both stores must be listable.
func NewCollector(store metadata.Store, blobs, scratch content.ContentStore, config Config, m metrics.GCMetrics) (*Collector, error) {
	listable, ok := blobs.(content.ListableContentStore)
	if !ok {
		return nil, fmt.Errorf("content store does not support listing")
	}

	var listableScratch content.ListableContentStore
	if scratch != nil {
		listableScratch, ok = scratch.(content.ListableContentStore)
		if !ok {
			return nil, fmt.Errorf("scratch store does not support listing")
		}
	}

	if config.Interval <= 0 {
		config.Interval = 24 * time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}

	return &Collector{
		store:   store,
		blobs:   listable,
		scratch: listableScratch,
		config:  config,
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins periodic collection in a background goroutine.
// Calling Start more than once is a no-op.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Orphan collection disabled")
		return
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	logger.Info("Starting orphan collector: interval=%s dry_run=%v", c.config.Interval, c.config.DryRun)
	go c.worker()
}

// Stop stops the background goroutine and waits for an in-progress run, or
// until ctx expires. Safe to call multiple times.
func (c *Collector) Stop(ctx context.Context) error {
	c.startMu.Lock()
	started := c.started
	c.startMu.Unlock()
	if !started {
		return nil
	}

	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		logger.Info("Orphan collector stopped")
		return nil
	case <-ctx.Done():
		logger.Warn("Orphan collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow performs one collection and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Orphan collection failed: %v", err)
			} else {
				logger.Info("Orphan collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// collect performs a single run:
//  1. List blob and scratch keys
//  2. Read referenced blob keys and live upload keys in one snapshot
//  3. Delete what is not referenced
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	stats := &Stats{StartTime: time.Now(), DryRun: c.config.DryRun}
	defer func() {
		stats.EndTime = time.Now()
		if c.metrics != nil {
			c.metrics.RecordRun(int(stats.ExistingCount+stats.ScratchCount),
				int(stats.OrphanedCount+stats.ScratchOrphanedCount),
				int(stats.DeletedCount), int(stats.FailedCount), stats.Duration())
		}
	}()

	existing, err := c.blobs.ListAllContent(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list content: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	var scratch []string
	if c.scratch != nil {
		scratch, err = c.scratch.ListAllContent(ctx)
		if err != nil {
			return stats, fmt.Errorf("failed to list scratch content: %w", err)
		}
		stats.ScratchCount = uint64(len(scratch))
	}

	referenced := make(map[string]struct{})
	live := make(map[string]struct{})
	err = c.store.View(ctx, func(tx metadata.Transaction) error {
		blocks, err := tx.BlockKeys()
		if err != nil {
			return err
		}
		for _, k := range blocks {
			referenced[k] = struct{}{}
		}

		uploads, err := tx.Uploads()
		if err != nil {
			return err
		}
		for _, u := range uploads {
			referenced[u.NodeKey] = struct{}{}
			live[u.Key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to read references: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	var orphans []string
	for _, k := range existing {
		if _, ok := referenced[k]; !ok {
			orphans = append(orphans, k)
		}
	}
	stats.OrphanedCount = uint64(len(orphans))

	var scratchOrphans []string
	for _, k := range scratch {
		if _, ok := live[uploadOf(k)]; !ok {
			scratchOrphans = append(scratchOrphans, k)
		}
	}
	stats.ScratchOrphanedCount = uint64(len(scratchOrphans))

	if c.config.DryRun {
		logOrphans("blob", orphans)
		logOrphans("scratch chunk", scratchOrphans)
		return stats, nil
	}

	if err := c.delete(ctx, c.blobs, orphans, stats); err != nil {
		return stats, err
	}
	if err := c.delete(ctx, c.scratch, scratchOrphans, stats); err != nil {
		return stats, err
	}

	logger.Debug("GC: %s", stats.Summary())
	return stats, nil
}

func (c *Collector) delete(ctx context.Context, store content.ContentStore, keys []string, stats *Stats) error {
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.Delete(ctx, k); err != nil {
			logger.Debug("GC: failed to delete %s: %v", k, err)
			stats.FailedCount++
			continue
		}
		stats.DeletedCount++
	}
	return nil
}

func logOrphans(kind string, keys []string) {
	if len(keys) == 0 {
		return
	}
	logger.Info("GC: DRY RUN - would delete %d %s(s):", len(keys), kind)
	for i, k := range keys {
		if i == 10 {
			logger.Info("  ... and %d more", len(keys)-10)
			break
		}
		logger.Info("  - %s", k)
	}
}

// uploadOf returns the upload key of a scratch chunk key "<upload>/<index>".
func uploadOf(scratchKey string) string {
	if i := strings.LastIndexByte(scratchKey, '/'); i >= 0 {
		return scratchKey[:i]
	}
	return scratchKey
}

// Stats contains statistics from a collection run.
type Stats struct {
	StartTime            time.Time
	EndTime              time.Time
	DryRun               bool
	ReferencedCount      uint64 // blob keys referenced by nodes or uploads
	ExistingCount        uint64 // blob keys in the content store
	OrphanedCount        uint64 // unreferenced blob keys
	ScratchCount         uint64 // chunk keys in the scratch store
	ScratchOrphanedCount uint64 // chunk keys of uploads that no longer exist
	DeletedCount         uint64 // blobs and chunks deleted
	FailedCount          uint64 // deletes that failed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d scratch=%d scratch_orphaned=%d deleted=%d failed=%d dry_run=%v duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount, s.ScratchCount, s.ScratchOrphanedCount,
		s.DeletedCount, s.FailedCount, s.DryRun, s.Duration())
}
