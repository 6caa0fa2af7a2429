package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunNodeTests executes all node row tests in the suite.
func (suite *StoreTestSuite) RunNodeTests(t *testing.T) {
	t.Run("InsertAndGet", suite.testInsertAndGetNode)
	t.Run("DuplicateKey", suite.testDuplicateNodeKey)
	t.Run("EmptyKey", suite.testEmptyNodeKey)
	t.Run("NotFound", suite.testNodeNotFound)
	t.Run("IDsAreMonotonic", suite.testNodeIDsMonotonic)
	t.Run("UpdateNode", suite.testUpdateNode)
	t.Run("DeleteNode", suite.testDeleteNode)
	t.Run("NodesByOwner", suite.testNodesByOwner)
	t.Run("BlockKeys", suite.testBlockKeys)
	t.Run("Metadata", suite.testMetadata)
}

func (suite *StoreTestSuite) testInsertAndGetNode(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	n := createNode(t, store, owner, metadata.KindBlock, "a.txt")

	view(t, store, func(tx metadata.Transaction) error {
		got, err := tx.GetNode(n.ID)
		require.NoError(t, err)
		assert.Equal(t, n, got)

		byKey, err := tx.GetNodeByKey(n.Key)
		require.NoError(t, err)
		assert.Equal(t, n.ID, byKey.ID)
		return nil
	})
}

func (suite *StoreTestSuite) testDuplicateNodeKey(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	n := createNode(t, store, owner, metadata.KindContainer, "docs")

	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.InsertNode(&metadata.Node{Key: n.Key, Kind: metadata.KindContainer, Name: "other", Owner: owner})
	})
	assert.True(t, metadata.IsConflict(err), "expected conflict, got %v", err)
}

func (suite *StoreTestSuite) testEmptyNodeKey(t *testing.T) {
	store := suite.NewStore(t)

	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.InsertNode(&metadata.Node{Kind: metadata.KindContainer, Name: "x"})
	})
	assert.True(t, metadata.IsValidation(err))
}

func (suite *StoreTestSuite) testNodeNotFound(t *testing.T) {
	store := suite.NewStore(t)

	view(t, store, func(tx metadata.Transaction) error {
		_, err := tx.GetNode(42)
		assert.True(t, metadata.IsNotFound(err))

		_, err = tx.GetNodeByKey("missing")
		assert.True(t, metadata.IsNotFound(err))

		_, err = tx.GetMetadata(42)
		assert.True(t, metadata.IsNotFound(err))
		return nil
	})
}

func (suite *StoreTestSuite) testNodeIDsMonotonic(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")

	var last metadata.NodeID
	for range 5 {
		n := createNode(t, store, owner, metadata.KindContainer, "d")
		assert.Greater(t, n.ID, last)
		last = n.ID
	}
}

func (suite *StoreTestSuite) testUpdateNode(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	parent := createNode(t, store, owner, metadata.KindContainer, "root")
	child := createNode(t, store, owner, metadata.KindBlock, "old.txt")
	attach(t, store, parent.ID, child.ID)

	update(t, store, func(tx metadata.Transaction) error {
		renamed := *child
		renamed.Name = "new.txt"
		// Immutable fields are ignored.
		renamed.Kind = metadata.KindContainer
		return tx.UpdateNode(&renamed)
	})

	view(t, store, func(tx metadata.Transaction) error {
		got, err := tx.GetNode(child.ID)
		require.NoError(t, err)
		assert.Equal(t, "new.txt", got.Name)
		assert.Equal(t, metadata.KindBlock, got.Kind)

		old, err := tx.ChildrenByName(parent.ID, "old.txt")
		require.NoError(t, err)
		assert.Empty(t, old)

		found, err := tx.ChildrenByName(parent.ID, "new.txt")
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{child.ID}, found)
		return nil
	})
}

func (suite *StoreTestSuite) testDeleteNode(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	other := createMember(t, store, "bob")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	dir := createNode(t, store, owner, metadata.KindContainer, "dir")
	leaf := createNode(t, store, owner, metadata.KindBlock, "leaf")
	attach(t, store, root.ID, dir.ID)
	attach(t, store, dir.ID, leaf.ID)

	update(t, store, func(tx metadata.Transaction) error {
		return tx.PutGrant(&metadata.RoleGrant{Member: other, Node: dir.ID, Actions: metadata.ActionRead})
	})

	update(t, store, func(tx metadata.Transaction) error {
		return tx.DeleteNode(dir.ID)
	})

	view(t, store, func(tx metadata.Transaction) error {
		_, err := tx.GetNode(dir.ID)
		assert.True(t, metadata.IsNotFound(err))

		_, err = tx.GetNodeByKey(dir.Key)
		assert.True(t, metadata.IsNotFound(err))

		_, err = tx.GetMetadata(dir.ID)
		assert.True(t, metadata.IsNotFound(err))

		_, err = tx.GetGrant(other, dir.ID)
		assert.True(t, metadata.IsNotFound(err))

		children, err := tx.Children(root.ID)
		require.NoError(t, err)
		assert.Empty(t, children)

		// The orphaned child became a root.
		_, ok, err := tx.GetParent(leaf.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		roots, err := tx.Roots(owner)
		require.NoError(t, err)
		assert.ElementsMatch(t, []metadata.NodeID{root.ID, leaf.ID}, roots)
		return nil
	})
}

func (suite *StoreTestSuite) testNodesByOwner(t *testing.T) {
	store := suite.NewStore(t)
	alice := createMember(t, store, "alice")
	bob := createMember(t, store, "bob")
	a1 := createNode(t, store, alice, metadata.KindContainer, "a1")
	createNode(t, store, bob, metadata.KindContainer, "b1")
	a2 := createNode(t, store, alice, metadata.KindBlock, "a2")

	view(t, store, func(tx metadata.Transaction) error {
		nodes, err := tx.NodesByOwner(alice)
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, a1.ID, nodes[0].ID)
		assert.Equal(t, a2.ID, nodes[1].ID)
		return nil
	})
}

func (suite *StoreTestSuite) testBlockKeys(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	createNode(t, store, owner, metadata.KindContainer, "dir")
	b1 := createNode(t, store, owner, metadata.KindBlock, "f1")
	b2 := createNode(t, store, owner, metadata.KindBlock, "f2")

	view(t, store, func(tx metadata.Transaction) error {
		keys, err := tx.BlockKeys()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{b1.Key, b2.Key}, keys)
		return nil
	})
}

func (suite *StoreTestSuite) testMetadata(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	n := createNode(t, store, owner, metadata.KindBlock, "f")

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	update(t, store, func(tx metadata.Transaction) error {
		return tx.PutMetadata(&metadata.NodeMetadata{NodeID: n.ID, CreatedAt: created, UpdatedAt: created, Size: 11})
	})

	view(t, store, func(tx metadata.Transaction) error {
		md, err := tx.GetMetadata(n.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(11), md.Size)
		assert.True(t, created.Equal(md.CreatedAt))
		return nil
	})

	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.PutMetadata(&metadata.NodeMetadata{NodeID: 999})
	})
	assert.True(t, metadata.IsNotFound(err))
}
