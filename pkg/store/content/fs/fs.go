package fs

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittodrive/pkg/store/content"
)

// FSContentStore implements content.ListableContentStore on a local directory.
//
// Each key is stored as one file named with the hex encoding of the key, so
// arbitrary keys (including '/' in scratch chunk keys) map to flat, safe
// file names.
//
// Writes go to a temporary file in the same directory and are renamed into
// place, so a reader never observes a partially written blob.
type FSContentStore struct {
	basePath string
}

// tempSuffix marks in-progress writes; they are skipped by ListAllContent.
const tempSuffix = ".tmp"

// NewFSContentStore creates a filesystem content store rooted at basePath.
//
// The directory is created if it doesn't exist.
func NewFSContentStore(ctx context.Context, basePath string) (*FSContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSContentStore{basePath: basePath}, nil
}

var _ content.ListableContentStore = (*FSContentStore)(nil)

func (r *FSContentStore) getFilePath(key string) string {
	return filepath.Join(r.basePath, hex.EncodeToString([]byte(key)))
}

func (r *FSContentStore) ReadContent(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(r.getFilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}

	return file, nil
}

func (r *FSContentStore) GetContentSize(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(r.getFilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}

	return uint64(info.Size()), nil
}

func (r *FSContentStore) ContentExists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(r.getFilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check content existence: %w", err)
	}

	return true, nil
}

func (r *FSContentStore) WriteContent(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return content.ErrInvalidKey
	}

	target := r.getFilePath(key)

	tmp, err := os.CreateTemp(r.basePath, filepath.Base(target)+".*"+tempSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	// Large payloads are written in chunks so cancellation is noticed.
	const chunkSize = 1 * 1024 * 1024
	for offset := 0; offset < len(data); offset += chunkSize {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		end := min(offset+chunkSize, len(data))
		if _, err := tmp.Write(data[offset:end]); err != nil {
			cleanup()
			return fmt.Errorf("failed to write content: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close content: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit content: %w", err)
	}
	return nil
}

func (r *FSContentStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(r.getFilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete content: %w", err)
	}

	return nil
}

func (r *FSContentStore) GetStorageStats(ctx context.Context) (*content.StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}

	var used, count uint64
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tempSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		used += uint64(info.Size())
		count++
	}

	avg := uint64(0)
	if count > 0 {
		avg = used / count
	}

	return &content.StorageStats{
		TotalSize:     ^uint64(0), // Would need platform-specific syscall
		UsedSize:      used,
		AvailableSize: ^uint64(0),
		ContentCount:  count,
		AverageSize:   avg,
	}, nil
}

func (r *FSContentStore) ListAllContent(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for i, entry := range entries {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if entry.IsDir() || strings.HasSuffix(entry.Name(), tempSuffix) {
			continue
		}
		raw, err := hex.DecodeString(entry.Name())
		if err != nil {
			// Not ours.
			continue
		}
		keys = append(keys, string(raw))
	}

	return keys, nil
}
