// Package chunk reassembles uploads from independently delivered chunks.
//
// Each chunk is written to a scratch content store under
// "<uploadKey>/<index>" as soon as it arrives; writes of different indices
// never wait on each other. The call that completes the upload merges the
// scratch chunks in index order into one blob in the permanent content store
// and then removes the scratch chunks.
//
// The scratch store is the source of truth for which chunks arrived. Each
// assembler caches the indices it has seen and, before reporting an upload
// incomplete, probes scratch for the lowest index it has not seen, so
// chunks delivered to other instances (or before a restart) count. A merged
// blob is written once: when the target key already exists, the upload is
// treated as merged and the blob is never rewritten.
package chunk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Chunk is one piece of an upload.
type Chunk struct {
	// UploadKey identifies the upload attempt
	UploadKey string

	// Index is the zero-based position of the chunk
	Index uint32

	// Total is the declared number of chunks
	Total uint32

	// TargetKey is the permanent content key the merged blob is written to
	TargetKey string

	Data []byte
}

// Result reports the outcome of Receive.
type Result struct {
	// Done is true for the call that completed the upload and found the
	// merged blob in place, whether it wrote the blob or another call did
	Done bool

	// Size is the merged blob size (Done only)
	Size uint64
}

// Assembler merges chunked uploads.
//
// Thread Safety:
// Receive may be called concurrently, including for the same upload.
type Assembler struct {
	scratch content.ContentStore
	blobs   content.ContentStore
	metrics metrics.UploadMetrics

	mu      sync.Mutex
	uploads map[string]*assembly
}

// assembly is the state of one upload.
type assembly struct {
	mu       sync.Mutex
	total    uint32
	received map[uint32]struct{}

	// next is the lowest index not known to be in scratch
	next   uint32
	merged bool
}

// NewAssembler creates an assembler writing chunks to scratch and merged
// blobs to blobs. m may be nil.
func NewAssembler(scratch, blobs content.ContentStore, m metrics.UploadMetrics) *Assembler {
	return &Assembler{
		scratch: scratch,
		blobs:   blobs,
		metrics: m,
		uploads: make(map[string]*assembly),
	}
}

// ScratchKey returns the scratch content key of a chunk.
func ScratchKey(uploadKey string, index uint32) string {
	return uploadKey + "/" + strconv.FormatUint(uint64(index), 10)
}

// Receive stores one chunk and merges the upload if the chunk completes it.
//
// Receiving an index twice overwrites the earlier payload in scratch, but
// never a merged blob. Chunks arriving after this assembler merged the upload
// report Done=false. A failed scratch write, probe or merge write is an ErrIO
// StoreError; after a failed merge the next Receive for the upload retries
// the merge. Scratch state is never rolled back here: callers Discard an
// upload to reclaim it.
func (a *Assembler) Receive(ctx context.Context, c Chunk) (result Result, err error) {
	if c.UploadKey == "" || c.TargetKey == "" {
		return Result{}, metadata.NewValidationError("chunk is missing its upload or target key", c.UploadKey)
	}
	if c.Total == 0 {
		return Result{}, metadata.NewValidationError("upload must have at least one chunk", c.UploadKey)
	}
	if c.Index >= c.Total {
		return Result{}, metadata.NewValidationError(
			fmt.Sprintf("chunk index %d out of range [0, %d)", c.Index, c.Total), c.UploadKey)
	}

	if err := a.scratch.WriteContent(ctx, ScratchKey(c.UploadKey, c.Index), c.Data); err != nil {
		a.recordChunk(len(c.Data), err)
		return Result{}, metadata.NewIOError("failed to write chunk to scratch storage", ScratchKey(c.UploadKey, c.Index), err)
	}
	a.recordChunk(len(c.Data), nil)

	asm := a.assembly(c.UploadKey, c.Total)

	asm.mu.Lock()
	defer asm.mu.Unlock()

	if asm.total != c.Total {
		return Result{}, metadata.NewValidationError(
			fmt.Sprintf("declared chunk count %d does not match %d", c.Total, asm.total), c.UploadKey)
	}
	if asm.merged {
		return Result{}, nil
	}

	asm.received[c.Index] = struct{}{}
	complete, err := a.advance(ctx, c.UploadKey, asm)
	if err != nil {
		return Result{}, err
	}
	if !complete {
		return Result{}, nil
	}

	size, err := a.mergeOnce(ctx, c.UploadKey, c.TargetKey, asm.total)
	if err != nil {
		return Result{}, err
	}
	asm.merged = true

	a.cleanup(ctx, c.UploadKey, asm.total)
	return Result{Done: true, Size: size}, nil
}

// assembly returns the state of uploadKey, creating it if needed.
func (a *Assembler) assembly(uploadKey string, total uint32) *assembly {
	a.mu.Lock()
	defer a.mu.Unlock()

	asm, ok := a.uploads[uploadKey]
	if !ok {
		asm = &assembly{total: total, received: make(map[uint32]struct{})}
		a.uploads[uploadKey] = asm
	}
	return asm
}

// advance moves asm.next past every index present in scratch and reports
// whether all chunks are there. It stops probing at the first absent index,
// so a chunk costs one probe plus one per index it learns about. asm.mu must
// be held.
func (a *Assembler) advance(ctx context.Context, uploadKey string, asm *assembly) (bool, error) {
	for asm.next < asm.total {
		if _, ok := asm.received[asm.next]; !ok {
			key := ScratchKey(uploadKey, asm.next)
			exists, err := a.scratch.ContentExists(ctx, key)
			if err != nil {
				return false, metadata.NewIOError("failed to probe scratch storage", key, err)
			}
			if !exists {
				return false, nil
			}
			asm.received[asm.next] = struct{}{}
		}
		asm.next++
	}
	return true, nil
}

// mergeOnce merges the upload unless its blob already exists, in which case
// the existing size is returned. A chunk missing from scratch is resolved the
// same way, since another instance deletes scratch only after its merge.
func (a *Assembler) mergeOnce(ctx context.Context, uploadKey, targetKey string, total uint32) (uint64, error) {
	size, merged, err := a.mergedSize(ctx, targetKey)
	if err != nil || merged {
		if merged {
			logger.Debug("Upload %s already merged into %s", uploadKey, targetKey)
		}
		return size, err
	}

	size, err = a.merge(ctx, uploadKey, targetKey, total)
	if err != nil && errors.Is(err, content.ErrContentNotFound) {
		if existing, merged, serr := a.mergedSize(ctx, targetKey); serr == nil && merged {
			return existing, nil
		}
	}
	return size, err
}

func (a *Assembler) mergedSize(ctx context.Context, targetKey string) (uint64, bool, error) {
	size, err := a.blobs.GetContentSize(ctx, targetKey)
	if errors.Is(err, content.ErrContentNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, metadata.NewIOError("failed to probe merged blob", targetKey, err)
	}
	return size, true, nil
}

// merge concatenates the scratch chunks in index order and writes the result
// under targetKey.
func (a *Assembler) merge(ctx context.Context, uploadKey, targetKey string, total uint32) (size uint64, err error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordMerge(size, time.Since(start), err)
		}
	}()

	var buf bytes.Buffer
	for i := uint32(0); i < total; i++ {
		data, err := content.ReadAll(ctx, a.scratch, ScratchKey(uploadKey, i))
		if err != nil {
			if errors.Is(err, content.ErrContentNotFound) {
				return 0, metadata.NewIOError("scratch chunk disappeared before merge", ScratchKey(uploadKey, i), err)
			}
			return 0, metadata.NewIOError("failed to read scratch chunk", ScratchKey(uploadKey, i), err)
		}
		buf.Write(data)
	}

	if err := a.blobs.WriteContent(ctx, targetKey, buf.Bytes()); err != nil {
		return 0, metadata.NewIOError("failed to write merged blob", targetKey, err)
	}

	logger.Debug("Merged upload %s: %d chunks, %d bytes into %s", uploadKey, total, buf.Len(), targetKey)
	return uint64(buf.Len()), nil
}

// cleanup deletes scratch chunks, best-effort.
func (a *Assembler) cleanup(ctx context.Context, uploadKey string, total uint32) {
	for i := uint32(0); i < total; i++ {
		key := ScratchKey(uploadKey, i)
		if err := a.scratch.Delete(ctx, key); err != nil {
			logger.Warn("Failed to delete scratch chunk %s: %v", key, err)
		}
	}
}

// Discard removes all scratch chunks of an upload and forgets its state.
// Discarding an unknown upload succeeds.
func (a *Assembler) Discard(ctx context.Context, uploadKey string, total uint32) error {
	a.Forget(uploadKey)

	var firstErr error
	for i := uint32(0); i < total; i++ {
		if err := a.scratch.Delete(ctx, ScratchKey(uploadKey, i)); err != nil && firstErr == nil {
			firstErr = metadata.NewIOError("failed to delete scratch chunk", ScratchKey(uploadKey, i), err)
		}
	}
	return firstErr
}

// Forget drops the in-process state of an upload, e.g. after promotion.
func (a *Assembler) Forget(uploadKey string) {
	a.mu.Lock()
	delete(a.uploads, uploadKey)
	a.mu.Unlock()
}

// Pending returns the number of uploads with in-process state.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.uploads)
}

func (a *Assembler) recordChunk(n int, err error) {
	if a.metrics != nil {
		a.metrics.RecordChunk(n, err)
	}
}
