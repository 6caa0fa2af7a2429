package testing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunUploadTests executes all in-flight upload tests in the suite.
func (suite *StoreTestSuite) RunUploadTests(t *testing.T) {
	t.Run("InsertAndGet", suite.testInsertGetUpload)
	t.Run("DuplicateTarget", suite.testDuplicateUploadTarget)
	t.Run("DeleteIdempotent", suite.testDeleteUpload)
	t.Run("OrderedByCreation", suite.testUploadsOrdered)
}

func newUpload(owner metadata.MemberID, parent metadata.NodeID, name string, created time.Time) *metadata.Upload {
	return &metadata.Upload{
		Key:         metadata.NewKey(),
		NodeKey:     metadata.NewKey(),
		Owner:       owner,
		Parent:      parent,
		Name:        name,
		TotalChunks: 3,
		CreatedAt:   created,
	}
}

func (suite *StoreTestSuite) testInsertGetUpload(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	u := newUpload(owner, root.ID, "big.bin", time.Now().UTC())

	update(t, store, func(tx metadata.Transaction) error {
		return tx.InsertUpload(u)
	})

	view(t, store, func(tx metadata.Transaction) error {
		got, err := tx.GetUpload(u.Key)
		require.NoError(t, err)
		assert.Equal(t, u.NodeKey, got.NodeKey)
		assert.Equal(t, uint32(3), got.TotalChunks)

		byTarget, err := tx.UploadByTarget(root.ID, "big.bin")
		require.NoError(t, err)
		assert.Equal(t, u.Key, byTarget.Key)

		_, err = tx.UploadByTarget(root.ID, "other.bin")
		assert.True(t, metadata.IsNotFound(err))
		return nil
	})
}

func (suite *StoreTestSuite) testDuplicateUploadTarget(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	first := newUpload(owner, root.ID, "big.bin", time.Now())

	update(t, store, func(tx metadata.Transaction) error {
		return tx.InsertUpload(first)
	})

	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.InsertUpload(newUpload(owner, root.ID, "big.bin", time.Now()))
	})
	assert.True(t, metadata.IsConflict(err))

	err = store.Update(testContext(), func(tx metadata.Transaction) error {
		dup := newUpload(owner, root.ID, "else.bin", time.Now())
		dup.Key = first.Key
		return tx.InsertUpload(dup)
	})
	assert.True(t, metadata.IsConflict(err))
}

func (suite *StoreTestSuite) testDeleteUpload(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	u := newUpload(owner, root.ID, "big.bin", time.Now())

	update(t, store, func(tx metadata.Transaction) error {
		return tx.InsertUpload(u)
	})
	update(t, store, func(tx metadata.Transaction) error {
		require.NoError(t, tx.DeleteUpload(u.Key))
		return tx.DeleteUpload(u.Key)
	})

	view(t, store, func(tx metadata.Transaction) error {
		_, err := tx.GetUpload(u.Key)
		assert.True(t, metadata.IsNotFound(err))
		_, err = tx.UploadByTarget(root.ID, "big.bin")
		assert.True(t, metadata.IsNotFound(err))
		return nil
	})

	// The destination is free again.
	update(t, store, func(tx metadata.Transaction) error {
		return tx.InsertUpload(newUpload(owner, root.ID, "big.bin", time.Now()))
	})
}

func (suite *StoreTestSuite) testUploadsOrdered(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	late := newUpload(owner, root.ID, "late", base.Add(time.Hour))
	early := newUpload(owner, root.ID, "early", base)
	update(t, store, func(tx metadata.Transaction) error {
		if err := tx.InsertUpload(late); err != nil {
			return err
		}
		return tx.InsertUpload(early)
	})

	view(t, store, func(tx metadata.Transaction) error {
		uploads, err := tx.Uploads()
		require.NoError(t, err)
		require.Len(t, uploads, 2)
		assert.Equal(t, early.Key, uploads[0].Key)
		assert.Equal(t, late.Key, uploads[1].Key)
		return nil
	})
}

// ============================================================================
// Transactions
// ============================================================================

// RunTransactionTests executes the atomicity and isolation tests in the suite.
func (suite *StoreTestSuite) RunTransactionTests(t *testing.T) {
	t.Run("RollbackOnError", suite.testRollbackOnError)
	t.Run("ReadYourWrites", suite.testReadYourWrites)
	t.Run("ReadOnlyView", suite.testReadOnlyView)
	t.Run("ConcurrentUploadClaim", suite.testConcurrentUploadClaim)
	t.Run("Healthcheck", func(t *testing.T) {
		store := suite.NewStore(t)
		assert.NoError(t, store.Healthcheck(testContext()))
	})
}

func (suite *StoreTestSuite) testRollbackOnError(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	boom := errors.New("boom")

	var key string
	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		n := &metadata.Node{Key: metadata.NewKey(), Kind: metadata.KindContainer, Name: "ghost", Owner: owner}
		if err := tx.InsertNode(n); err != nil {
			return err
		}
		key = n.Key
		return boom
	})
	assert.ErrorIs(t, err, boom)

	view(t, store, func(tx metadata.Transaction) error {
		_, err := tx.GetNodeByKey(key)
		assert.True(t, metadata.IsNotFound(err))

		roots, err := tx.Roots(owner)
		require.NoError(t, err)
		assert.Empty(t, roots)
		return nil
	})
}

func (suite *StoreTestSuite) testReadYourWrites(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")

	update(t, store, func(tx metadata.Transaction) error {
		root := &metadata.Node{Key: metadata.NewKey(), Kind: metadata.KindContainer, Name: "root", Owner: owner}
		require.NoError(t, tx.InsertNode(root))
		child := &metadata.Node{Key: metadata.NewKey(), Kind: metadata.KindContainer, Name: "c", Owner: owner}
		require.NoError(t, tx.InsertNode(child))
		require.NoError(t, tx.InsertEdge(root.ID, child.ID))

		children, err := tx.Children(root.ID)
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{child.ID}, children)

		roots, err := tx.Roots(owner)
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{root.ID}, roots)
		return nil
	})
}

func (suite *StoreTestSuite) testReadOnlyView(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")

	err := store.View(testContext(), func(tx metadata.Transaction) error {
		return tx.InsertNode(&metadata.Node{Key: metadata.NewKey(), Kind: metadata.KindContainer, Name: "x", Owner: owner})
	})
	assert.Error(t, err)
}

// Concurrent transactions that each read-then-delete the same upload row
// must see exactly one winner.
func (suite *StoreTestSuite) testConcurrentUploadClaim(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	u := newUpload(owner, root.ID, "race.bin", time.Now())
	update(t, store, func(tx metadata.Transaction) error {
		return tx.InsertUpload(u)
	})

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed := false
			err := store.Update(testContext(), func(tx metadata.Transaction) error {
				claimed = false
				if _, err := tx.GetUpload(u.Key); err != nil {
					if metadata.IsNotFound(err) {
						return nil
					}
					return err
				}
				claimed = true
				return tx.DeleteUpload(u.Key)
			})
			if err == nil && claimed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
