package badger

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittodrive/pkg/store/metadata/internal"
)

// badgerKV adapts a *badger.Txn to internal.KV.
type badgerKV struct {
	txn      *badger.Txn
	store    *BadgerMetadataStore
	readOnly bool
}

func (k *badgerKV) Get(key []byte) ([]byte, error) {
	item, err := k.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, internal.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (k *badgerKV) Set(key, value []byte) error {
	if k.readOnly {
		return internal.ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	return k.txn.Set(key, value)
}

func (k *badgerKV) Delete(key []byte) error {
	if k.readOnly {
		return internal.ErrReadOnly
	}
	return k.txn.Delete(key)
}

// Scan iterates keys under prefix in order. Badger allows a single live
// iterator per read-write transaction, so the iterator is closed before
// returning and callbacks must not start another scan.
func (k *badgerKV) Scan(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := k.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		value, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to read value: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func (k *badgerKV) NextID(sequence string) (uint64, error) {
	if k.readOnly {
		return 0, internal.ErrReadOnly
	}
	return k.store.nextID(sequence)
}
