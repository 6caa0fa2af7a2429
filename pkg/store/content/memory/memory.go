package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/marmos91/dittodrive/pkg/store/content"
)

// MemoryContentStore implements content.ListableContentStore in memory.
//
// Suitable for tests and as a scratch store for chunk assembly when uploads
// are small. MaxSizeBytes (0 = unlimited) bounds total stored bytes.
type MemoryContentStore struct {
	data map[string][]byte

	maxSizeBytes uint64
	usedBytes    uint64

	mu sync.RWMutex
}

// NewMemoryContentStore creates an empty in-memory content store.
func NewMemoryContentStore(ctx context.Context, maxSizeBytes uint64) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryContentStore{
		data:         make(map[string][]byte),
		maxSizeBytes: maxSizeBytes,
	}, nil
}

var _ content.ListableContentStore = (*MemoryContentStore)(nil)

func (s *MemoryContentStore) ReadContent(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
	}

	// Stored slices are never mutated in place, so sharing them is safe.
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryContentStore) GetContentSize(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key]
	if !ok {
		return 0, fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
	}
	return uint64(len(data)), nil
}

func (s *MemoryContentStore) ContentExists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryContentStore) WriteContent(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return content.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := uint64(len(s.data[key]))
	next := s.usedBytes - previous + uint64(len(data))
	if s.maxSizeBytes > 0 && next > s.maxSizeBytes {
		return fmt.Errorf("write %s of %d bytes: %w", key, len(data), content.ErrStorageFull)
	}

	s.data[key] = bytes.Clone(data)
	s.usedBytes = next
	return nil
}

func (s *MemoryContentStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := s.data[key]; ok {
		s.usedBytes -= uint64(len(data))
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryContentStore) GetStorageStats(ctx context.Context) (*content.StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := uint64(len(s.data))
	avg := uint64(0)
	if count > 0 {
		avg = s.usedBytes / count
	}

	total := ^uint64(0)
	available := ^uint64(0)
	if s.maxSizeBytes > 0 {
		total = s.maxSizeBytes
		available = s.maxSizeBytes - s.usedBytes
	}

	return &content.StorageStats{
		TotalSize:     total,
		UsedSize:      s.usedBytes,
		AvailableSize: available,
		ContentCount:  count,
		AverageSize:   avg,
	}, nil
}

func (s *MemoryContentStore) ListAllContent(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
