package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a comprehensive test suite for metadata.Store implementations.
// It tests the interface contract, not implementation details, covering node
// rows, ancestry edges and their indexes, grants, members and uploads.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) metadata.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh store instance
	// for each test. This ensures test isolation.
	NewStore func(t *testing.T) metadata.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Nodes", suite.RunNodeTests)
	t.Run("Edges", suite.RunEdgeTests)
	t.Run("Grants", suite.RunGrantTests)
	t.Run("Members", suite.RunMemberTests)
	t.Run("Uploads", suite.RunUploadTests)
	t.Run("Transactions", suite.RunTransactionTests)
}

// ============================================================================
// Helpers
// ============================================================================

func testContext() context.Context {
	return context.Background()
}

func update(t *testing.T, store metadata.Store, fn func(tx metadata.Transaction) error) {
	t.Helper()
	require.NoError(t, store.Update(testContext(), fn))
}

func view(t *testing.T, store metadata.Store, fn func(tx metadata.Transaction) error) {
	t.Helper()
	require.NoError(t, store.View(testContext(), fn))
}

func createMember(t *testing.T, store metadata.Store, key string) metadata.MemberID {
	t.Helper()
	m := &metadata.Member{Key: key}
	update(t, store, func(tx metadata.Transaction) error {
		return tx.InsertMember(m)
	})
	require.NotZero(t, m.ID)
	return m.ID
}

func createNode(t *testing.T, store metadata.Store, owner metadata.MemberID, kind metadata.NodeKind, name string) *metadata.Node {
	t.Helper()
	n := &metadata.Node{Key: metadata.NewKey(), Kind: kind, Name: name, Owner: owner}
	update(t, store, func(tx metadata.Transaction) error {
		if err := tx.InsertNode(n); err != nil {
			return err
		}
		now := time.Now()
		return tx.PutMetadata(&metadata.NodeMetadata{NodeID: n.ID, CreatedAt: now, UpdatedAt: now})
	})
	require.NotZero(t, n.ID)
	return n
}

func attach(t *testing.T, store metadata.Store, parent, child metadata.NodeID) {
	t.Helper()
	update(t, store, func(tx metadata.Transaction) error {
		return tx.InsertEdge(parent, child)
	})
}
