package content

import (
	"context"
	"io"
)

// ============================================================================
// ContentStore Interface
// ============================================================================

// ContentStore is the blob gateway: key-addressed put/get/delete of payloads.
//
// The content store manages only raw bytes. It does NOT manage:
//   - Names, hierarchy, ownership → handled by the metadata store
//   - Access control → handled outside the core
//
// Content Coordination:
// A block node's Key is the content key of its payload. Content stores are
// not transactional with the metadata store, so the core orders operations:
//   - On upload completion the blob is written BEFORE the node row commits,
//     so no node ever references a missing blob
//   - On delete the node rows are removed first and blobs after, best-effort;
//     a failed blob delete leaves an orphan, reclaimed by pkg/gc
//
// Keys are opaque strings; implementations may encode them (the filesystem
// store hex-encodes them into file names).
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Concurrent writes of the same key are last-write-wins.
type ContentStore interface {
	// ReadContent returns a reader for the content stored under key.
	// The caller must close the reader.
	//
	// Returns ErrContentNotFound if key does not exist.
	ReadContent(ctx context.Context, key string) (io.ReadCloser, error)

	// GetContentSize returns the size of the content in bytes.
	//
	// Returns ErrContentNotFound if key does not exist.
	GetContentSize(ctx context.Context, key string) (uint64, error)

	// ContentExists reports whether key exists. A missing key is (false, nil).
	ContentExists(ctx context.Context, key string) (bool, error)

	// WriteContent stores data under key in one operation, replacing any
	// previous content.
	WriteContent(ctx context.Context, key string, data []byte) error

	// Delete removes the content under key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// GetStorageStats returns usage statistics.
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// ListableContentStore is implemented by stores that can enumerate their keys.
//
// It is required by the orphan collector (pkg/gc).
type ListableContentStore interface {
	ContentStore

	// ListAllContent returns every key in the store.
	ListAllContent(ctx context.Context) ([]string, error)
}

// StorageStats contains statistics about content storage.
type StorageStats struct {
	// TotalSize is the total capacity in bytes (^uint64(0) if unlimited/unknown)
	TotalSize uint64

	// UsedSize is the number of bytes stored
	UsedSize uint64

	// AvailableSize is the remaining capacity in bytes
	AvailableSize uint64

	// ContentCount is the number of stored objects
	ContentCount uint64

	// AverageSize is UsedSize / ContentCount (0 if empty)
	AverageSize uint64
}

// ReadAll reads the whole content under key.
func ReadAll(ctx context.Context, store ContentStore, key string) ([]byte, error) {
	r, err := store.ReadContent(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
