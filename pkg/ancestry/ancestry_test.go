package ancestry

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forest is a test fixture: a memory store plus a helper to add nodes.
type forest struct {
	t     *testing.T
	store *memory.MemoryMetadataStore
}

func newForest(t *testing.T) *forest {
	t.Helper()
	return &forest{t: t, store: memory.NewMemoryMetadataStore()}
}

func (f *forest) update(fn func(tx metadata.Transaction) error) error {
	return f.store.Update(context.Background(), fn)
}

func (f *forest) view(fn func(tx metadata.Transaction) error) {
	f.t.Helper()
	require.NoError(f.t, f.store.View(context.Background(), fn))
}

func (f *forest) node(name string) metadata.NodeID {
	f.t.Helper()
	n := &metadata.Node{Key: metadata.NewKey(), Kind: metadata.KindContainer, Name: name, Owner: 1}
	require.NoError(f.t, f.update(func(tx metadata.Transaction) error {
		return tx.InsertNode(n)
	}))
	return n.ID
}

func (f *forest) attach(child, parent metadata.NodeID) error {
	return f.update(func(tx metadata.Transaction) error {
		return Attach(tx, child, parent)
	})
}

// chain builds root -> n1 -> ... -> n(depth) and returns all IDs root-first.
func (f *forest) chain(depth int) []metadata.NodeID {
	f.t.Helper()
	ids := []metadata.NodeID{f.node("root")}
	for i := 0; i < depth; i++ {
		id := f.node("n")
		require.NoError(f.t, f.attach(id, ids[len(ids)-1]))
		ids = append(ids, id)
	}
	return ids
}

func collect(t *testing.T, tx metadata.Transaction, node metadata.NodeID) []metadata.NodeID {
	t.Helper()
	var out []metadata.NodeID
	for id, err := range Ancestors(tx, node) {
		require.NoError(t, err)
		out = append(out, id)
	}
	return out
}

func TestAttach(t *testing.T) {
	t.Run("InsertsEdge", func(t *testing.T) {
		f := newForest(t)
		root := f.node("root")
		child := f.node("child")
		require.NoError(t, f.attach(child, root))

		f.view(func(tx metadata.Transaction) error {
			parent, ok, err := Parent(tx, child)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, root, parent)
			return nil
		})
	})

	t.Run("ChildAlreadyAttached", func(t *testing.T) {
		f := newForest(t)
		a := f.node("a")
		b := f.node("b")
		c := f.node("c")
		require.NoError(t, f.attach(c, a))

		err := f.attach(c, b)
		assert.True(t, metadata.IsConflict(err))
	})

	t.Run("Self", func(t *testing.T) {
		f := newForest(t)
		a := f.node("a")
		assert.True(t, metadata.IsConflict(f.attach(a, a)))
	})

	t.Run("CycleRejected", func(t *testing.T) {
		f := newForest(t)
		ids := f.chain(4)
		root := ids[0]
		leaf := ids[len(ids)-1]

		// root is free to attach, but leaf is its descendant.
		err := f.attach(root, leaf)
		assert.True(t, metadata.IsConflict(err))

		f.view(func(tx metadata.Transaction) error {
			_, ok, err := Parent(tx, root)
			require.NoError(t, err)
			assert.False(t, ok, "root must stay a root")
			return nil
		})
	})

	t.Run("MissingParent", func(t *testing.T) {
		f := newForest(t)
		a := f.node("a")
		assert.True(t, metadata.IsNotFound(f.attach(a, 999)))
	})
}

func TestDetach(t *testing.T) {
	f := newForest(t)
	ids := f.chain(2)

	require.NoError(t, f.update(func(tx metadata.Transaction) error {
		if err := Detach(tx, ids[1]); err != nil {
			return err
		}
		// Roots detach as a no-op.
		return Detach(tx, ids[0])
	}))

	f.view(func(tx metadata.Transaction) error {
		assert.Empty(t, collect(t, tx, ids[1]))
		assert.Equal(t, []metadata.NodeID{ids[1]}, collect(t, tx, ids[2]))
		return nil
	})
}

func TestAncestors(t *testing.T) {
	f := newForest(t)
	ids := f.chain(3)

	f.view(func(tx metadata.Transaction) error {
		assert.Equal(t, []metadata.NodeID{ids[2], ids[1], ids[0]}, collect(t, tx, ids[3]))
		assert.Empty(t, collect(t, tx, ids[0]))
		return nil
	})

	t.Run("StopsEarly", func(t *testing.T) {
		f.view(func(tx metadata.Transaction) error {
			steps := 0
			for range Ancestors(tx, ids[3]) {
				steps++
				break
			}
			assert.Equal(t, 1, steps)
			return nil
		})
	})
}

func TestDescendants(t *testing.T) {
	f := newForest(t)
	root := f.node("root")
	a := f.node("a")
	b := f.node("b")
	a1 := f.node("a1")
	b1 := f.node("b1")
	a2 := f.node("a2")
	require.NoError(t, f.attach(a, root))
	require.NoError(t, f.attach(b, root))
	require.NoError(t, f.attach(a1, a))
	require.NoError(t, f.attach(b1, b))
	require.NoError(t, f.attach(a2, a1))

	f.view(func(tx metadata.Transaction) error {
		got, err := Descendants(tx, root)
		require.NoError(t, err)
		// Breadth-first, siblings by ID.
		assert.Equal(t, []metadata.NodeID{a, b, a1, b1, a2}, got)

		again, err := Descendants(tx, root)
		require.NoError(t, err)
		assert.Equal(t, got, again)

		leaf, err := Descendants(tx, a2)
		require.NoError(t, err)
		assert.Empty(t, leaf)
		return nil
	})
}

func TestIsDescendant(t *testing.T) {
	f := newForest(t)
	ids := f.chain(3)
	other := f.node("other")

	f.view(func(tx metadata.Transaction) error {
		ok, err := IsDescendant(tx, ids[3], ids[0])
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = IsDescendant(tx, ids[0], ids[3])
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = IsDescendant(tx, ids[2], ids[2])
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = IsDescendant(tx, other, ids[0])
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func TestPathRootDepth(t *testing.T) {
	f := newForest(t)
	ids := f.chain(3)

	f.view(func(tx metadata.Transaction) error {
		path, err := Path(tx, ids[3])
		require.NoError(t, err)
		assert.Equal(t, ids, path)

		root, err := Root(tx, ids[3])
		require.NoError(t, err)
		assert.Equal(t, ids[0], root)

		depth, err := Depth(tx, ids[3])
		require.NoError(t, err)
		assert.Equal(t, 3, depth)

		depth, err = Depth(tx, ids[0])
		require.NoError(t, err)
		assert.Equal(t, 0, depth)
		return nil
	})
}

// A corrupted edge table is reported, not looped on.
func TestAncestors_CorruptCycle(t *testing.T) {
	f := newForest(t)
	a := f.node("a")
	b := f.node("b")

	// Bypass Attach to plant a cycle.
	require.NoError(t, f.update(func(tx metadata.Transaction) error {
		if err := tx.InsertEdge(b, a); err != nil {
			return err
		}
		return tx.InsertEdge(a, b)
	}))

	f.view(func(tx metadata.Transaction) error {
		var last error
		for _, err := range Ancestors(tx, a) {
			last = err
		}
		assert.True(t, metadata.IsFatal(last))

		_, err := Descendants(tx, a)
		assert.True(t, metadata.IsFatal(err))
		return nil
	})
}

// Random attach/detach sequences never produce a cycle: every accepted
// Attach leaves each node's ancestor walk finite and free of the node itself.
func TestAttach_RandomForestStaysAcyclic(t *testing.T) {
	const (
		nodes = 30
		steps = 400
	)
	rng := rand.New(rand.NewPCG(42, 7))

	f := newForest(t)
	ids := make([]metadata.NodeID, nodes)
	for i := range ids {
		ids[i] = f.node("n")
	}

	for step := 0; step < steps; step++ {
		child := ids[rng.IntN(nodes)]
		parent := ids[rng.IntN(nodes)]

		err := f.update(func(tx metadata.Transaction) error {
			if rng.IntN(4) == 0 {
				return Detach(tx, child)
			}
			if err := Detach(tx, child); err != nil {
				return err
			}
			return Attach(tx, child, parent)
		})
		if err != nil {
			require.True(t, metadata.IsConflict(err), "step %d: unexpected error %v", step, err)
		}

		f.view(func(tx metadata.Transaction) error {
			for _, id := range ids {
				count := 0
				for ancestor, err := range Ancestors(tx, id) {
					require.NoError(t, err, "step %d", step)
					require.NotEqual(t, id, ancestor, "step %d: node is its own ancestor", step)
					count++
					require.LessOrEqual(t, count, nodes, "step %d: walk did not terminate", step)
				}
			}
			return nil
		})
	}
}
