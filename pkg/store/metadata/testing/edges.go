package testing

import (
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunEdgeTests executes all ancestry edge tests in the suite.
func (suite *StoreTestSuite) RunEdgeTests(t *testing.T) {
	t.Run("InsertEdge", suite.testInsertEdge)
	t.Run("SingleParent", suite.testSingleParent)
	t.Run("MissingEndpoints", suite.testEdgeMissingEndpoints)
	t.Run("DeleteEdge", suite.testDeleteEdge)
	t.Run("ChildrenOrdered", suite.testChildrenOrdered)
	t.Run("ChildrenByNameNonUnique", suite.testChildrenByNameNonUnique)
	t.Run("ChildrenByNamePrefix", suite.testChildrenByNamePrefix)
}

func (suite *StoreTestSuite) testInsertEdge(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	child := createNode(t, store, owner, metadata.KindBlock, "f")

	view(t, store, func(tx metadata.Transaction) error {
		roots, err := tx.Roots(owner)
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{root.ID, child.ID}, roots)
		return nil
	})

	attach(t, store, root.ID, child.ID)

	view(t, store, func(tx metadata.Transaction) error {
		parent, ok, err := tx.GetParent(child.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, root.ID, parent)

		_, ok, err = tx.GetParent(root.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		children, err := tx.Children(root.ID)
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{child.ID}, children)

		roots, err := tx.Roots(owner)
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{root.ID}, roots)
		return nil
	})
}

func (suite *StoreTestSuite) testSingleParent(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	a := createNode(t, store, owner, metadata.KindContainer, "a")
	b := createNode(t, store, owner, metadata.KindContainer, "b")
	child := createNode(t, store, owner, metadata.KindBlock, "f")
	attach(t, store, a.ID, child.ID)

	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.InsertEdge(b.ID, child.ID)
	})
	assert.True(t, metadata.IsConflict(err))

	view(t, store, func(tx metadata.Transaction) error {
		parent, _, err := tx.GetParent(child.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, parent)
		return nil
	})
}

func (suite *StoreTestSuite) testEdgeMissingEndpoints(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	n := createNode(t, store, owner, metadata.KindContainer, "a")

	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.InsertEdge(999, n.ID)
	})
	assert.True(t, metadata.IsNotFound(err))

	err = store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.InsertEdge(n.ID, 999)
	})
	assert.True(t, metadata.IsNotFound(err))
}

func (suite *StoreTestSuite) testDeleteEdge(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	child := createNode(t, store, owner, metadata.KindBlock, "f")
	attach(t, store, root.ID, child.ID)

	update(t, store, func(tx metadata.Transaction) error {
		require.NoError(t, tx.DeleteEdge(child.ID))
		// Deleting again is a no-op.
		return tx.DeleteEdge(child.ID)
	})

	view(t, store, func(tx metadata.Transaction) error {
		_, ok, err := tx.GetParent(child.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		byName, err := tx.ChildrenByName(root.ID, "f")
		require.NoError(t, err)
		assert.Empty(t, byName)

		roots, err := tx.Roots(owner)
		require.NoError(t, err)
		assert.ElementsMatch(t, []metadata.NodeID{root.ID, child.ID}, roots)
		return nil
	})

	// The child can be re-attached elsewhere.
	other := createNode(t, store, owner, metadata.KindContainer, "other")
	attach(t, store, other.ID, child.ID)
}

func (suite *StoreTestSuite) testChildrenOrdered(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")

	var want []metadata.NodeID
	for _, name := range []string{"c", "a", "b"} {
		n := createNode(t, store, owner, metadata.KindContainer, name)
		attach(t, store, root.ID, n.ID)
		want = append(want, n.ID)
	}

	view(t, store, func(tx metadata.Transaction) error {
		children, err := tx.Children(root.ID)
		require.NoError(t, err)
		assert.Equal(t, want, children)
		return nil
	})
}

// The store does not enforce sibling name uniqueness; that is the
// hierarchy service's job. It must still report every match.
func (suite *StoreTestSuite) testChildrenByNameNonUnique(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	t1 := createNode(t, store, owner, metadata.KindContainer, "trash")
	t2 := createNode(t, store, owner, metadata.KindContainer, "trash")
	attach(t, store, root.ID, t1.ID)
	attach(t, store, root.ID, t2.ID)

	view(t, store, func(tx metadata.Transaction) error {
		ids, err := tx.ChildrenByName(root.ID, "trash")
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{t1.ID, t2.ID}, ids)
		return nil
	})
}

func (suite *StoreTestSuite) testChildrenByNamePrefix(t *testing.T) {
	store := suite.NewStore(t)
	owner := createMember(t, store, "alice")
	root := createNode(t, store, owner, metadata.KindContainer, "root")
	a := createNode(t, store, owner, metadata.KindContainer, "a")
	ab := createNode(t, store, owner, metadata.KindContainer, "ab")
	attach(t, store, root.ID, a.ID)
	attach(t, store, root.ID, ab.ID)

	view(t, store, func(tx metadata.Transaction) error {
		ids, err := tx.ChildrenByName(root.ID, "a")
		require.NoError(t, err)
		assert.Equal(t, []metadata.NodeID{a.ID}, ids)
		return nil
	})
}
