package memory

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/internal"
)

// MemoryMetadataStore implements metadata.Store entirely in memory.
//
// It is suitable for tests, development and single-process deployments that
// do not need durability. All data is lost when the process exits.
//
// Thread Safety:
// Update transactions hold the write lock for their whole duration, so
// read-write transactions are fully serialized. View transactions share the
// read lock. Writes are staged in a per-transaction overlay and applied to
// the key space only when fn succeeds, which gives all-or-nothing semantics
// without an undo log.
type MemoryMetadataStore struct {
	mu sync.RWMutex

	// data is the committed key space (string(key) → value)
	data map[string][]byte

	// sequences holds the last allocated value of each named sequence.
	// Guarded by seqMu, not mu: allocation survives discarded transactions.
	seqMu     sync.Mutex
	sequences map[string]uint64

	closed bool
}

// NewMemoryMetadataStore creates an empty in-memory store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		data:      make(map[string][]byte),
		sequences: make(map[string]uint64),
	}
}

var errClosed = errors.New("memory metadata store is closed")

// View runs fn against the committed state under the read lock.
func (s *MemoryMetadataStore) View(ctx context.Context, fn func(tx metadata.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errClosed
	}

	txn := s.newTxn(true)
	return fn(internal.NewTransaction(txn))
}

// Update runs fn under the write lock and applies its writes if fn succeeds.
func (s *MemoryMetadataStore) Update(ctx context.Context, fn func(tx metadata.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	txn := s.newTxn(false)
	if err := fn(internal.NewTransaction(txn)); err != nil {
		return err
	}

	// The caller may have given up while fn ran.
	if err := ctx.Err(); err != nil {
		return err
	}

	txn.commit()
	return nil
}

// Healthcheck reports whether the store is open.
func (s *MemoryMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close drops all data.
func (s *MemoryMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

func (s *MemoryMetadataStore) newTxn(readOnly bool) *memoryTxn {
	return &memoryTxn{
		store:    s,
		readOnly: readOnly,
		pending:  make(map[string][]byte),
		deleted:  make(map[string]struct{}),
	}
}

// memoryTxn is an overlay over the committed key space.
type memoryTxn struct {
	store    *MemoryMetadataStore
	readOnly bool
	pending  map[string][]byte
	deleted  map[string]struct{}
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := t.pending[k]; ok {
		return bytes.Clone(v), nil
	}
	if _, ok := t.deleted[k]; ok {
		return nil, internal.ErrKeyNotFound
	}
	v, ok := t.store.data[k]
	if !ok {
		return nil, internal.ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memoryTxn) Set(key, value []byte) error {
	if t.readOnly {
		return internal.ErrReadOnly
	}
	k := string(key)
	delete(t.deleted, k)
	t.pending[k] = bytes.Clone(value)
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	if t.readOnly {
		return internal.ErrReadOnly
	}
	k := string(key)
	delete(t.pending, k)
	t.deleted[k] = struct{}{}
	return nil
}

func (t *memoryTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)

	keys := make([]string, 0)
	for k := range t.store.data {
		if !strings.HasPrefix(k, p) {
			continue
		}
		if _, gone := t.deleted[k]; gone {
			continue
		}
		if _, shadowed := t.pending[k]; shadowed {
			continue
		}
		keys = append(keys, k)
	}
	for k := range t.pending {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := t.Get([]byte(k))
		if err != nil {
			return err
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTxn) NextID(sequence string) (uint64, error) {
	if t.readOnly {
		return 0, internal.ErrReadOnly
	}
	t.store.seqMu.Lock()
	defer t.store.seqMu.Unlock()
	t.store.sequences[sequence]++
	return t.store.sequences[sequence], nil
}

func (t *memoryTxn) commit() {
	for k := range t.deleted {
		delete(t.store.data, k)
	}
	for k, v := range t.pending {
		t.store.data[k] = v
	}
}
