package hierarchy

import (
	"context"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMove(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
		b := f.mkdir(alice.Member.ID, alice.Root.Key, "b")
		file := f.putFile(alice.Member.ID, a.Key, "f.txt", "data")

		require.NoError(t, f.svc.Move(f.ctx, file.Key, b.Key))
		assert.Equal(t, b.Key, f.parentOf(file.Key))

		path, err := f.svc.Path(f.ctx, file.Key)
		require.NoError(t, err)
		assert.Equal(t, "/root/b/f.txt", path)

		// Moving to the current parent is a no-op.
		require.NoError(t, f.svc.Move(f.ctx, file.Key, b.Key))
	})

	t.Run("IntoDescendantLeavesTreeUnchanged", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
		b := f.mkdir(alice.Member.ID, a.Key, "b")
		c := f.mkdir(alice.Member.ID, b.Key, "c")

		before := map[string]string{}
		for _, n := range []*metadata.Node{a, b, c} {
			before[n.Key] = f.parentOf(n.Key)
		}

		for _, target := range []*metadata.Node{a, b, c} {
			err := f.svc.Move(f.ctx, a.Key, target.Key)
			assert.True(t, metadata.IsValidation(err), "move into %s: got %v", target.Name, err)
		}

		for _, n := range []*metadata.Node{a, b, c} {
			assert.Equal(t, before[n.Key], f.parentOf(n.Key))
		}
	})

	// Scenario: special containers cannot be moved.
	t.Run("SpecialContainer", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		other := f.mkdir(alice.Member.ID, alice.Root.Key, "other")

		err := f.svc.Move(f.ctx, alice.Trash.Key, other.Key)
		assert.True(t, metadata.IsValidation(err))

		err = f.svc.Move(f.ctx, alice.Root.Key, other.Key)
		assert.True(t, metadata.IsValidation(err))
	})

	t.Run("TargetNotContainer", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
		file := f.putFile(alice.Member.ID, alice.Root.Key, "f.txt", "x")

		err := f.svc.Move(f.ctx, a.Key, file.Key)
		assert.True(t, metadata.IsNotFound(err))

		err = f.svc.Move(f.ctx, a.Key, "missing")
		assert.True(t, metadata.IsNotFound(err))
	})

	t.Run("NameClash", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
		f.putFile(alice.Member.ID, a.Key, "same.txt", "1")
		file := f.putFile(alice.Member.ID, alice.Root.Key, "same.txt", "2")

		err := f.svc.Move(f.ctx, file.Key, a.Key)
		assert.True(t, metadata.IsConflict(err))
		assert.Equal(t, alice.Root.Key, f.parentOf(file.Key))
	})

	t.Run("AcrossOwners", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		bob := f.provision("bob")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")

		err := f.svc.Move(f.ctx, a.Key, bob.Root.Key)
		assert.True(t, metadata.IsValidation(err))
	})
}

func TestMoveToTrash(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")

		require.NoError(t, f.svc.MoveToTrash(f.ctx, a.Key))
		assert.Equal(t, alice.Trash.Key, f.parentOf(a.Key))
	})

	t.Run("SpecialContainer", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")

		assert.True(t, metadata.IsValidation(f.svc.MoveToTrash(f.ctx, alice.Trash.Key)))
		assert.True(t, metadata.IsValidation(f.svc.MoveToTrash(f.ctx, alice.Root.Key)))
	})

	// Scenario: two containers named trash under the owner's root.
	t.Run("TwoTrashContainers", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")

		// Plant a second trash directly in the store, bypassing the
		// service's sibling name check.
		require.NoError(t, f.store.Update(f.ctx, func(tx metadata.Transaction) error {
			dup := &metadata.Node{Key: metadata.NewKey(), Kind: metadata.KindContainer, Name: DefaultTrashName, Owner: alice.Member.ID}
			if err := tx.InsertNode(dup); err != nil {
				return err
			}
			return tx.InsertEdge(alice.Root.ID, dup.ID)
		}))

		err := f.svc.MoveToTrash(f.ctx, a.Key)
		assert.True(t, metadata.IsFatal(err), "got %v", err)
		assert.Equal(t, alice.Root.Key, f.parentOf(a.Key))
	})

	t.Run("NoTrashContainer", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
		_, err := f.svc.DeleteSubtree(f.ctx, alice.Trash.Key, true)
		require.NoError(t, err)

		err = f.svc.MoveToTrash(f.ctx, a.Key)
		assert.True(t, metadata.IsFatal(err))
	})

	t.Run("CustomTrashName", func(t *testing.T) {
		f := newFixture(t)
		f.svc = New(f.store, f.blobs, Options{TrashName: "bin", SpecialNames: []string{"archive"}})
		alice := f.provision("alice")
		assert.Equal(t, "bin", alice.Trash.Name)

		archive := f.mkdir(alice.Member.ID, alice.Root.Key, "archive")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")

		assert.True(t, metadata.IsValidation(f.svc.MoveToTrash(f.ctx, archive.Key)))
		require.NoError(t, f.svc.MoveToTrash(f.ctx, a.Key))
		assert.Equal(t, alice.Trash.Key, f.parentOf(a.Key))
	})
}

func newBadgerFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badger.NewBadgerMetadataStore(context.Background(), badger.BadgerMetadataStoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs := newCountingBlobs(t)
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		blobs: blobs,
		svc:   New(store, blobs, Options{}),
	}
}

// Concurrent creates of one name under one parent: exactly one wins, the
// others see the conflict after their transaction is retried.
func TestCreateContainer_ConcurrentSameName(t *testing.T) {
	f := newBadgerFixture(t)
	alice := f.provision("alice")

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		conflict int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateContainer(f.ctx, alice.Member.ID, alice.Root.Key, "race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case metadata.IsConflict(err):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflict)

	entries, err := f.svc.List(f.ctx, alice.Root.Key)
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if e.Node.Name == "race" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// Two containers moved into each other concurrently must not form a cycle.
func TestMove_ConcurrentCrossMoves(t *testing.T) {
	f := newBadgerFixture(t)
	alice := f.provision("alice")

	for round := 0; round < 10; round++ {
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
		b := f.mkdir(alice.Member.ID, alice.Root.Key, "b")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() { defer wg.Done(); errs[0] = f.svc.Move(f.ctx, a.Key, b.Key) }()
		go func() { defer wg.Done(); errs[1] = f.svc.Move(f.ctx, b.Key, a.Key) }()
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.True(t, metadata.IsValidation(err) || metadata.IsConflict(err), "got %v", err)
			}
		}
		assert.Equal(t, 1, succeeded, "round %d", round)

		// Both paths still end at the root.
		for _, n := range []*metadata.Node{a, b} {
			path, err := f.svc.Path(f.ctx, n.Key)
			require.NoError(t, err)
			assert.Contains(t, path, "/root/")
		}

		_, err := f.svc.DeleteSubtree(f.ctx, a.Key, false)
		require.NoError(t, err)
		if f.exists(b.Key) {
			_, err = f.svc.DeleteSubtree(f.ctx, b.Key, false)
			require.NoError(t, err)
		}
	}
}
