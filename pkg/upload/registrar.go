// Package upload tracks in-flight chunked uploads and promotes finished ones
// into block nodes.
//
// An upload is registered with Initiate, which reserves its (parent, name)
// pair against both nodes and other uploads. Chunks are handed to a
// chunk.Assembler; when the assembler reports that it merged the last chunk,
// the registrar deletes the upload row and materializes the block node in
// one metadata transaction. The merged blob is already in the content store
// at that point, under the upload's pre-allocated NodeKey.
//
// The registrar never expires uploads on its own. Sweep abandons uploads
// older than a cutoff and is driven by the operator (CLI or cron).
package upload

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/internal/ratelimiter"
	"github.com/marmos91/dittodrive/pkg/hierarchy"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/upload/chunk"
)

// Abandon reasons reported to metrics.
const (
	ReasonClient    = "client"
	ReasonSweep     = "sweep"
	ReasonPromotion = "promotion_failed"
)

// Options configures a Registrar.
type Options struct {
	// MaxTotalChunks caps the declared chunk count (0 = unlimited)
	MaxTotalChunks uint32

	// MaxChunkSize caps the payload of one chunk in bytes (0 = unlimited)
	MaxChunkSize int

	// Limiter throttles chunk ingest per owner; nil disables throttling
	Limiter *ratelimiter.Limiter

	// Metrics is optional; nil disables collection
	Metrics metrics.UploadMetrics

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Result is the outcome of ReceiveChunk.
type Result struct {
	// Done is true for the chunk that completed the upload
	Done bool

	// Size is the size of the finished file (Done only)
	Size uint64

	// Node is the block node created for the upload (Done only)
	Node *metadata.Node
}

// Registrar manages in-flight uploads.
//
// Thread Safety:
// Registrar is safe for concurrent use, including concurrent ReceiveChunk
// calls for the same upload.
type Registrar struct {
	store     metadata.Store
	hierarchy *hierarchy.Service
	assembler *chunk.Assembler
	blobs     content.ContentStore

	maxTotalChunks uint32
	maxChunkSize   int
	limiter        *ratelimiter.Limiter
	metrics        metrics.UploadMetrics
	now            func() time.Time
}

// NewRegistrar creates a registrar. blobs must be the permanent content store
// the assembler merges into.
func NewRegistrar(store metadata.Store, svc *hierarchy.Service, assembler *chunk.Assembler, blobs content.ContentStore, opts Options) *Registrar {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registrar{
		store:          store,
		hierarchy:      svc,
		assembler:      assembler,
		blobs:          blobs,
		maxTotalChunks: opts.MaxTotalChunks,
		maxChunkSize:   opts.MaxChunkSize,
		limiter:        opts.Limiter,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
}

// Initiate registers an upload of totalChunks chunks that will become a file
// called name under parentKey.
//
// The parent rules are those of hierarchy.Service.CreateContainer: ErrNotFound
// for a missing, non-container or foreign parent without a create grant, and
// ErrConflict when a node or another upload already uses the name.
func (r *Registrar) Initiate(ctx context.Context, owner metadata.MemberID, parentKey, name string, totalChunks uint32) (*metadata.Upload, error) {
	if totalChunks == 0 {
		return nil, metadata.NewValidationError("upload must have at least one chunk", name)
	}
	if r.maxTotalChunks > 0 && totalChunks > r.maxTotalChunks {
		return nil, metadata.NewValidationError(
			fmt.Sprintf("upload declares %d chunks, limit is %d", totalChunks, r.maxTotalChunks), name)
	}

	var upload *metadata.Upload
	err := r.store.Update(ctx, func(tx metadata.Transaction) error {
		parent, err := hierarchy.CheckTarget(tx, owner, parentKey, name)
		if err != nil {
			return err
		}

		upload = &metadata.Upload{
			Key:         metadata.NewKey(),
			NodeKey:     metadata.NewKey(),
			Owner:       owner,
			Parent:      parent.ID,
			Name:        name,
			TotalChunks: totalChunks,
			CreatedAt:   r.now(),
		}
		return tx.InsertUpload(upload)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Initiated upload %s: %q under %s, %d chunks", upload.Key, name, parentKey, totalChunks)
	return upload, nil
}

// ReceiveChunk stores chunk index of an upload. The call that completes the
// upload promotes it and returns the new node.
//
// Returns ErrNotFound if the upload does not exist (never initiated,
// abandoned, or already promoted). If promotion fails, the upload is
// abandoned and the promotion error returned; in particular ErrNotFound when
// the target container was deleted meanwhile.
func (r *Registrar) ReceiveChunk(ctx context.Context, uploadKey string, index uint32, data []byte) (Result, error) {
	upload, err := r.Get(ctx, uploadKey)
	if err != nil {
		return Result{}, err
	}

	if r.maxChunkSize > 0 && len(data) > r.maxChunkSize {
		return Result{}, metadata.NewValidationError(
			fmt.Sprintf("chunk of %d bytes exceeds limit of %d", len(data), r.maxChunkSize), uploadKey)
	}

	if err := r.throttle(ctx, upload.Owner); err != nil {
		return Result{}, err
	}

	res, err := r.assembler.Receive(ctx, chunk.Chunk{
		UploadKey: upload.Key,
		Index:     index,
		Total:     upload.TotalChunks,
		TargetKey: upload.NodeKey,
		Data:      data,
	})
	if err != nil || !res.Done {
		return Result{}, err
	}

	node, err := r.promote(ctx, upload, res.Size)
	if r.metrics != nil {
		r.metrics.RecordPromotion(err)
	}
	if err != nil {
		logger.Warn("Promotion of upload %s failed, abandoning: %v", upload.Key, err)
		if aerr := r.abandon(ctx, upload, ReasonPromotion); aerr != nil {
			logger.Warn("Failed to clean up upload %s: %v", upload.Key, aerr)
		}
		return Result{}, err
	}

	logger.Info("Upload %s completed: %q (%d bytes) as %s", upload.Key, upload.Name, res.Size, node.Key)
	return Result{Done: true, Size: res.Size, Node: node}, nil
}

// promote replaces the upload row with its block node.
func (r *Registrar) promote(ctx context.Context, upload *metadata.Upload, size uint64) (*metadata.Node, error) {
	defer r.assembler.Forget(upload.Key)

	var node *metadata.Node
	err := r.store.Update(ctx, func(tx metadata.Transaction) error {
		current, err := tx.GetUpload(upload.Key)
		if err != nil {
			return err
		}
		if err := tx.DeleteUpload(current.Key); err != nil {
			return err
		}
		node, err = r.hierarchy.Materialize(tx, current.Owner, current.Parent, current.Name, current.NodeKey, size)
		return err
	})
	return node, err
}

func (r *Registrar) throttle(ctx context.Context, owner metadata.MemberID) error {
	if r.limiter == nil {
		return nil
	}
	key := strconv.FormatUint(uint64(owner), 10)
	if r.limiter.Allow(key) {
		return nil
	}
	if r.metrics != nil {
		r.metrics.RecordThrottled()
	}
	if err := r.limiter.Wait(ctx, key); err != nil {
		return fmt.Errorf("chunk throttled: %w", err)
	}
	return nil
}

// Abandon cancels an upload: its row, its scratch chunks and any merged blob
// that no node references are removed. Abandoning a missing upload succeeds.
func (r *Registrar) Abandon(ctx context.Context, uploadKey string) error {
	upload, err := r.Get(ctx, uploadKey)
	if metadata.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.abandon(ctx, upload, ReasonClient)
}

func (r *Registrar) abandon(ctx context.Context, upload *metadata.Upload, reason string) error {
	err := r.store.Update(ctx, func(tx metadata.Transaction) error {
		return tx.DeleteUpload(upload.Key)
	})
	if err != nil {
		return err
	}

	if err := r.assembler.Discard(ctx, upload.Key, upload.TotalChunks); err != nil {
		return err
	}

	// The merged blob may exist if the merge ran before the abandon.
	var referenced bool
	err = r.store.View(ctx, func(tx metadata.Transaction) error {
		_, err := tx.GetNodeByKey(upload.NodeKey)
		if metadata.IsNotFound(err) {
			return nil
		}
		referenced = err == nil
		return err
	})
	if err != nil {
		return err
	}
	if !referenced {
		if err := r.blobs.Delete(ctx, upload.NodeKey); err != nil && !errors.Is(err, content.ErrContentNotFound) {
			return metadata.NewIOError("failed to delete merged blob", upload.NodeKey, err)
		}
	}

	if r.metrics != nil {
		r.metrics.RecordAbandon(reason)
	}
	logger.Debug("Abandoned upload %s (%s)", upload.Key, reason)
	return nil
}

// Get returns an in-flight upload.
func (r *Registrar) Get(ctx context.Context, uploadKey string) (*metadata.Upload, error) {
	var upload *metadata.Upload
	err := r.store.View(ctx, func(tx metadata.Transaction) error {
		var err error
		upload, err = tx.GetUpload(uploadKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return upload, nil
}

// List returns the in-flight uploads initiated by owner, oldest first.
func (r *Registrar) List(ctx context.Context, owner metadata.MemberID) ([]*metadata.Upload, error) {
	var out []*metadata.Upload
	err := r.store.View(ctx, func(tx metadata.Transaction) error {
		all, err := tx.Uploads()
		if err != nil {
			return err
		}
		for _, u := range all {
			if u.Owner == owner {
				out = append(out, u)
			}
		}
		return nil
	})
	return out, err
}

// Sweep abandons every upload created more than olderThan ago and returns
// how many were abandoned. It stops at the first failure.
func (r *Registrar) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.now().Add(-olderThan)

	var stale []*metadata.Upload
	err := r.store.View(ctx, func(tx metadata.Transaction) error {
		all, err := tx.Uploads()
		if err != nil {
			return err
		}
		for _, u := range all {
			if u.CreatedAt.Before(cutoff) {
				stale = append(stale, u)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, u := range stale {
		if err := r.abandon(ctx, u, ReasonSweep); err != nil {
			return swept, err
		}
		swept++
	}

	r.limiter.Prune(r.now())

	if swept > 0 {
		logger.Info("Swept %d stale uploads older than %s", swept, olderThan)
	}
	return swept, nil
}

// Live returns the keys of all in-flight uploads.
func (r *Registrar) Live(ctx context.Context) (map[string]struct{}, error) {
	live := make(map[string]struct{})
	err := r.store.View(ctx, func(tx metadata.Transaction) error {
		all, err := tx.Uploads()
		if err != nil {
			return err
		}
		for _, u := range all {
			live[u.Key] = struct{}{}
		}
		return nil
	})
	return live, err
}
