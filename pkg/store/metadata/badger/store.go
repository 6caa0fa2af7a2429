package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/internal"
)

// BadgerMetadataStore implements metadata.Store using BadgerDB for persistence.
//
// This implementation provides a persistent metadata store backed by BadgerDB,
// a fast embedded key-value store. It is suitable for:
//   - Production environments requiring persistence across restarts
//   - Systems where the tree must survive server crashes
//   - Multi-GB metadata storage requirements
//
// Key Features:
//   - Persistent storage with crash recovery (WAL-based)
//   - ACID transactions with serializable snapshot isolation
//   - Efficient range scans for child listings
//   - Monotonic ID allocation via Badger sequences
//
// Concurrency Model:
// BadgerDB detects read-write conflicts between concurrent transactions at
// commit time and rejects the later one with badger.ErrConflict. Update
// retries the whole closure on conflict (up to MaxRetries), which serializes
// conflicting structural changes such as two concurrent moves of one node:
// the retried closure sees the first move and re-validates against it.
//
// Storage Model:
// The relational schema is encoded as prefixed keys shared with the memory
// backend (see pkg/store/metadata/internal/keys.go).
type BadgerMetadataStore struct {
	// db is the BadgerDB database handle (thread-safe, uses internal MVCC)
	db *badger.DB

	// maxRetries bounds conflict retries in Update
	maxRetries int

	// sequences caches leased Badger sequences by name
	seqMu     sync.Mutex
	sequences map[string]*badger.Sequence
}

// BadgerMetadataStoreConfig contains configuration for creating a BadgerDB metadata store.
type BadgerMetadataStoreConfig struct {
	// DBPath is the directory where BadgerDB will store its files
	// BadgerDB creates multiple files in this directory (value log, LSM tree, etc.)
	DBPath string `mapstructure:"db_path"`

	// InMemory runs BadgerDB without touching disk (tests)
	InMemory bool `mapstructure:"in_memory"`

	// MaxRetries is the number of attempts for a conflicting Update (default: 10)
	MaxRetries int `mapstructure:"max_retries"`

	// BadgerOptions allows customization of BadgerDB behavior
	// If nil, sensible defaults are used
	BadgerOptions *badger.Options `mapstructure:"-"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// sequenceBandwidth is how many IDs a sequence leases per disk write.
const sequenceBandwidth = 128

// NewBadgerMetadataStore opens (or creates) a BadgerDB metadata store.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - config: DB path and tuning options
//
// Returns:
//   - *BadgerMetadataStore: A store ready for concurrent use
//   - error: Error if BadgerDB cannot be opened or context is cancelled
func NewBadgerMetadataStore(ctx context.Context, config BadgerMetadataStoreConfig) (*BadgerMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			if config.DBPath == "" {
				return nil, fmt.Errorf("badger metadata store: db_path is required")
			}
			opts = badger.DefaultOptions(config.DBPath)
		}

		// Metadata rows are small; compression is not worth it.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)

		blockCacheMB := config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		indexCacheMB := config.IndexCacheSizeMB
		if indexCacheMB == 0 {
			indexCacheMB = 32
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
		opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}

	return &BadgerMetadataStore{
		db:         db,
		maxRetries: maxRetries,
		sequences:  make(map[string]*badger.Sequence),
	}, nil
}

// View runs fn in a read-only Badger transaction.
func (s *BadgerMetadataStore) View(ctx context.Context, fn func(tx metadata.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(internal.NewTransaction(&badgerKV{txn: txn, store: s, readOnly: true}))
	})
}

// Update runs fn in a read-write Badger transaction, retrying on conflict.
//
// Every attempt re-runs fn from scratch against a fresh snapshot, so fn
// re-validates all of its preconditions.
func (s *BadgerMetadataStore) Update(ctx context.Context, fn func(tx metadata.Transaction) error) error {
	backoff := time.Millisecond

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(internal.NewTransaction(&badgerKV{txn: txn, store: s}))
		})
		if !errors.Is(err, badger.ErrConflict) {
			if errors.Is(err, badger.ErrTxnTooBig) {
				return metadata.NewIOError("transaction too large", "", err)
			}
			return err
		}

		if attempt >= s.maxRetries {
			return &metadata.StoreError{
				Code:    metadata.ErrConflict,
				Message: "concurrent modification, retries exhausted",
				Err:     err,
			}
		}

		logger.Debug("Badger transaction conflict (attempt %d/%d), retrying", attempt, s.maxRetries)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

// Healthcheck verifies that BadgerDB is open and readable.
func (s *BadgerMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return fmt.Errorf("badger metadata store is closed")
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(internal.SequenceNodes))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// Close releases leased sequences and closes BadgerDB.
//
// Releasing returns unused leased IDs so the next open continues right after
// the last allocated ID.
func (s *BadgerMetadataStore) Close() error {
	s.seqMu.Lock()
	for name, seq := range s.sequences {
		if err := seq.Release(); err != nil {
			logger.Warn("Failed to release badger sequence %s: %v", name, err)
		}
	}
	s.sequences = map[string]*badger.Sequence{}
	s.seqMu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func (s *BadgerMetadataStore) nextID(name string) (uint64, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	seq, ok := s.sequences[name]
	if !ok {
		var err error
		seq, err = s.db.GetSequence([]byte(name), sequenceBandwidth)
		if err != nil {
			return 0, fmt.Errorf("failed to open sequence %s: %w", name, err)
		}
		s.sequences[name] = seq
	}

	// Badger sequences start at 0; IDs start at 1.
	for {
		id, err := seq.Next()
		if err != nil {
			return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
		}
		if id != 0 {
			return id, nil
		}
	}
}
