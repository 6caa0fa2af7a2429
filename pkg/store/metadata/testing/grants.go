package testing

import (
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunGrantTests executes all role grant tests in the suite.
func (suite *StoreTestSuite) RunGrantTests(t *testing.T) {
	t.Run("PutAndGet", suite.testPutGetGrant)
	t.Run("Replace", suite.testReplaceGrant)
	t.Run("GrantsOnNode", suite.testGrantsOnNode)
	t.Run("Delete", suite.testDeleteGrant)
	t.Run("MissingReferences", suite.testGrantMissingReferences)
}

func (suite *StoreTestSuite) testPutGetGrant(t *testing.T) {
	store := suite.NewStore(t)
	alice := createMember(t, store, "alice")
	bob := createMember(t, store, "bob")
	n := createNode(t, store, alice, metadata.KindContainer, "shared")

	update(t, store, func(tx metadata.Transaction) error {
		return tx.PutGrant(&metadata.RoleGrant{Member: bob, Node: n.ID, Actions: metadata.ActionCreate | metadata.ActionRead})
	})

	view(t, store, func(tx metadata.Transaction) error {
		g, err := tx.GetGrant(bob, n.ID)
		require.NoError(t, err)
		assert.True(t, g.Actions.Has(metadata.ActionCreate))
		assert.False(t, g.Actions.Has(metadata.ActionDelete))

		_, err = tx.GetGrant(alice, n.ID)
		assert.True(t, metadata.IsNotFound(err))
		return nil
	})
}

func (suite *StoreTestSuite) testReplaceGrant(t *testing.T) {
	store := suite.NewStore(t)
	alice := createMember(t, store, "alice")
	bob := createMember(t, store, "bob")
	n := createNode(t, store, alice, metadata.KindContainer, "shared")

	for _, a := range []metadata.Action{metadata.ActionRead, metadata.ActionAll} {
		update(t, store, func(tx metadata.Transaction) error {
			return tx.PutGrant(&metadata.RoleGrant{Member: bob, Node: n.ID, Actions: a})
		})
	}

	view(t, store, func(tx metadata.Transaction) error {
		grants, err := tx.GrantsOnNode(n.ID)
		require.NoError(t, err)
		require.Len(t, grants, 1)
		assert.Equal(t, metadata.ActionAll, grants[0].Actions)
		return nil
	})
}

func (suite *StoreTestSuite) testGrantsOnNode(t *testing.T) {
	store := suite.NewStore(t)
	alice := createMember(t, store, "alice")
	bob := createMember(t, store, "bob")
	carol := createMember(t, store, "carol")
	n := createNode(t, store, alice, metadata.KindContainer, "shared")

	update(t, store, func(tx metadata.Transaction) error {
		if err := tx.PutGrant(&metadata.RoleGrant{Member: carol, Node: n.ID, Actions: metadata.ActionRead}); err != nil {
			return err
		}
		return tx.PutGrant(&metadata.RoleGrant{Member: bob, Node: n.ID, Actions: metadata.ActionRead})
	})

	view(t, store, func(tx metadata.Transaction) error {
		grants, err := tx.GrantsOnNode(n.ID)
		require.NoError(t, err)
		require.Len(t, grants, 2)
		assert.Equal(t, bob, grants[0].Member)
		assert.Equal(t, carol, grants[1].Member)
		return nil
	})
}

func (suite *StoreTestSuite) testDeleteGrant(t *testing.T) {
	store := suite.NewStore(t)
	alice := createMember(t, store, "alice")
	bob := createMember(t, store, "bob")
	n := createNode(t, store, alice, metadata.KindContainer, "shared")

	update(t, store, func(tx metadata.Transaction) error {
		return tx.PutGrant(&metadata.RoleGrant{Member: bob, Node: n.ID, Actions: metadata.ActionRead})
	})
	update(t, store, func(tx metadata.Transaction) error {
		require.NoError(t, tx.DeleteGrant(bob, n.ID))
		return tx.DeleteGrant(bob, n.ID)
	})

	view(t, store, func(tx metadata.Transaction) error {
		_, err := tx.GetGrant(bob, n.ID)
		assert.True(t, metadata.IsNotFound(err))
		return nil
	})
}

func (suite *StoreTestSuite) testGrantMissingReferences(t *testing.T) {
	store := suite.NewStore(t)
	alice := createMember(t, store, "alice")
	n := createNode(t, store, alice, metadata.KindContainer, "shared")

	err := store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.PutGrant(&metadata.RoleGrant{Member: 999, Node: n.ID, Actions: metadata.ActionRead})
	})
	assert.True(t, metadata.IsNotFound(err))

	err = store.Update(testContext(), func(tx metadata.Transaction) error {
		return tx.PutGrant(&metadata.RoleGrant{Member: alice, Node: 999, Actions: metadata.ActionRead})
	})
	assert.True(t, metadata.IsNotFound(err))
}

// ============================================================================
// Members
// ============================================================================

// RunMemberTests executes all member and service status tests in the suite.
func (suite *StoreTestSuite) RunMemberTests(t *testing.T) {
	t.Run("InsertAndGet", func(t *testing.T) {
		store := suite.NewStore(t)
		id := createMember(t, store, "alice")

		view(t, store, func(tx metadata.Transaction) error {
			m, err := tx.GetMember(id)
			require.NoError(t, err)
			assert.Equal(t, "alice", m.Key)

			byKey, err := tx.GetMemberByKey("alice")
			require.NoError(t, err)
			assert.Equal(t, id, byKey.ID)

			_, err = tx.GetMemberByKey("nobody")
			assert.True(t, metadata.IsNotFound(err))
			return nil
		})
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		store := suite.NewStore(t)
		createMember(t, store, "alice")

		err := store.Update(testContext(), func(tx metadata.Transaction) error {
			return tx.InsertMember(&metadata.Member{Key: "alice"})
		})
		assert.True(t, metadata.IsConflict(err))
	})

	t.Run("ServiceStatus", func(t *testing.T) {
		store := suite.NewStore(t)
		id := createMember(t, store, "alice")
		joined := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

		update(t, store, func(tx metadata.Transaction) error {
			return tx.PutServiceStatus(&metadata.ServiceStatus{Member: id, Available: true, JoinedAt: joined, UpdatedAt: joined})
		})

		view(t, store, func(tx metadata.Transaction) error {
			status, err := tx.GetServiceStatus(id)
			require.NoError(t, err)
			assert.True(t, status.Available)
			assert.True(t, joined.Equal(status.JoinedAt))
			return nil
		})

		err := store.Update(testContext(), func(tx metadata.Transaction) error {
			return tx.PutServiceStatus(&metadata.ServiceStatus{Member: 999})
		})
		assert.True(t, metadata.IsNotFound(err))
	})
}
