package hierarchy

import (
	"io"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tree builds:
//
//	root/docs/
//	  a.txt
//	  sub/
//	    b.txt
//	    link -> a.txt
//	    deeper/
//	      c.txt
func buildTree(f *fixture, owner metadata.MemberID, rootKey string) (docs *metadata.Node, blocks []*metadata.Node, all []*metadata.Node) {
	docs = f.mkdir(owner, rootKey, "docs")
	a := f.putFile(owner, docs.Key, "a.txt", "aaa")
	sub := f.mkdir(owner, docs.Key, "sub")
	b := f.putFile(owner, sub.Key, "b.txt", "bbb")
	link, err := f.svc.CreateLink(f.ctx, owner, sub.Key, "link", a.Key)
	require.NoError(f.t, err)
	deeper := f.mkdir(owner, sub.Key, "deeper")
	c := f.putFile(owner, deeper.Key, "c.txt", "ccc")

	blocks = []*metadata.Node{a, b, c}
	all = []*metadata.Node{docs, a, sub, b, link, deeper, c}
	return docs, blocks, all
}

func TestDeleteSubtree(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	docs, blocks, all := buildTree(f, alice.Member.ID, alice.Root.Key)
	keep := f.putFile(alice.Member.ID, alice.Root.Key, "keep.txt", "keep")

	report, err := f.svc.DeleteSubtree(f.ctx, docs.Key, false)
	require.NoError(t, err)

	// |descendants| + 1 rows; one blob delete per block.
	assert.Equal(t, len(all), report.Nodes)
	assert.Equal(t, len(blocks), report.Blocks)
	assert.Zero(t, report.BlobFailures)

	for _, n := range all {
		assert.False(t, f.exists(n.Key), "%s should be gone", n.Name)
	}
	for _, b := range blocks {
		assert.Equal(t, 1, f.blobs.deletes[b.Key], "blob of %s", b.Name)
		ok, err := f.blobs.ContentExists(f.ctx, b.Key)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Len(t, f.blobs.deletes, len(blocks))

	// Unrelated nodes survive.
	assert.True(t, f.exists(keep.Key))
	assert.True(t, f.exists(alice.Trash.Key))
}

func TestDeleteSubtree_BlobFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	docs, blocks, all := buildTree(f, alice.Member.ID, alice.Root.Key)
	f.blobs.fail[blocks[1].Key] = true

	report, err := f.svc.DeleteSubtree(f.ctx, docs.Key, false)
	require.NoError(t, err)
	assert.Equal(t, len(all), report.Nodes)
	assert.Equal(t, 1, report.BlobFailures)

	// The rows are gone even though one blob survived as an orphan.
	assert.False(t, f.exists(blocks[1].Key))
	ok, err := f.blobs.ContentExists(f.ctx, blocks[1].Key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteSubtree_Special(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")

	_, err := f.svc.DeleteSubtree(f.ctx, alice.Trash.Key, false)
	assert.True(t, metadata.IsValidation(err))
	_, err = f.svc.DeleteSubtree(f.ctx, alice.Root.Key, false)
	assert.True(t, metadata.IsValidation(err))

	report, err := f.svc.DeleteSubtree(f.ctx, alice.Root.Key, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Nodes)
	assert.False(t, f.exists(alice.Trash.Key))
}

func TestDeleteSubtree_SingleBlock(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	file := f.putFile(alice.Member.ID, alice.Root.Key, "one.txt", "1")

	report, err := f.svc.DeleteSubtree(f.ctx, file.Key, false)
	require.NoError(t, err)
	assert.Equal(t, DeleteReport{Nodes: 1, Blocks: 1}, report)

	// The name is free again.
	f.putFile(alice.Member.ID, alice.Root.Key, "one.txt", "2")

	_, err = f.svc.DeleteSubtree(f.ctx, file.Key, false)
	assert.True(t, metadata.IsNotFound(err))
}

func TestEmptyTrash(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	docs, blocks, all := buildTree(f, alice.Member.ID, alice.Root.Key)
	loose := f.putFile(alice.Member.ID, alice.Root.Key, "loose.txt", "l")

	require.NoError(t, f.svc.MoveToTrash(f.ctx, docs.Key))
	require.NoError(t, f.svc.MoveToTrash(f.ctx, loose.Key))

	report, err := f.svc.EmptyTrash(f.ctx, alice.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, len(all)+1, report.Nodes)
	assert.Equal(t, len(blocks)+1, report.Blocks)

	entries, err := f.svc.List(f.ctx, alice.Trash.Key)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, f.exists(alice.Trash.Key))

	// Emptying an empty trash is fine.
	report, err = f.svc.EmptyTrash(f.ctx, alice.Member.ID)
	require.NoError(t, err)
	assert.Zero(t, report.Nodes)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	docs, blocks, _ := buildTree(f, alice.Member.ID, alice.Root.Key)

	t.Run("Stat", func(t *testing.T) {
		entry, err := f.svc.Stat(f.ctx, blocks[0].Key)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), entry.Metadata.Size)
		assert.False(t, entry.Metadata.CreatedAt.IsZero())
	})

	t.Run("ListSortedByName", func(t *testing.T) {
		entries, err := f.svc.List(f.ctx, docs.Key)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a.txt", entries[0].Node.Name)
		assert.Equal(t, "sub", entries[1].Node.Name)

		_, err = f.svc.List(f.ctx, blocks[0].Key)
		assert.True(t, metadata.IsValidation(err))
	})

	t.Run("Path", func(t *testing.T) {
		path, err := f.svc.Path(f.ctx, blocks[2].Key)
		require.NoError(t, err)
		assert.Equal(t, "/root/docs/sub/deeper/c.txt", path)
	})

	t.Run("Open", func(t *testing.T) {
		r, err := f.svc.Open(f.ctx, blocks[1].Key)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, r.Close())
		require.NoError(t, err)
		assert.Equal(t, "bbb", string(data))

		_, err = f.svc.Open(f.ctx, docs.Key)
		assert.True(t, metadata.IsValidation(err))
	})

	t.Run("OpenMissingBlob", func(t *testing.T) {
		require.NoError(t, f.blobs.ContentStore.Delete(f.ctx, blocks[2].Key))
		_, err := f.svc.Open(f.ctx, blocks[2].Key)
		assert.True(t, metadata.IsIO(err))
	})
}

func TestGrants(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	bob := f.provision("bob")
	carol := f.provision("carol")
	docs := f.mkdir(alice.Member.ID, alice.Root.Key, "docs")

	require.NoError(t, f.svc.Grant(f.ctx, bob.Member.ID, docs.Key, metadata.ActionRead|metadata.ActionUpdate))
	require.NoError(t, f.svc.Grant(f.ctx, carol.Member.ID, docs.Key, metadata.ActionAll))

	grant, err := f.svc.GrantOf(f.ctx, bob.Member.ID, docs.Key)
	require.NoError(t, err)
	assert.Equal(t, "read,update", grant.Actions.String())

	grants, err := f.svc.Grants(f.ctx, docs.Key)
	require.NoError(t, err)
	assert.Len(t, grants, 2)

	require.NoError(t, f.svc.Revoke(f.ctx, bob.Member.ID, docs.Key))
	require.NoError(t, f.svc.Revoke(f.ctx, bob.Member.ID, docs.Key))
	_, err = f.svc.GrantOf(f.ctx, bob.Member.ID, docs.Key)
	assert.True(t, metadata.IsNotFound(err))

	assert.True(t, metadata.IsValidation(f.svc.Grant(f.ctx, bob.Member.ID, docs.Key, 0)))
	assert.True(t, metadata.IsNotFound(f.svc.Grant(f.ctx, 999, docs.Key, metadata.ActionRead)))
	assert.True(t, metadata.IsNotFound(f.svc.Grant(f.ctx, bob.Member.ID, "missing", metadata.ActionRead)))

	// Grants go away with their node.
	_, err = f.svc.DeleteSubtree(f.ctx, docs.Key, false)
	require.NoError(t, err)
	require.NoError(t, f.store.View(f.ctx, func(tx metadata.Transaction) error {
		_, err := tx.GetGrant(carol.Member.ID, docs.ID)
		assert.True(t, metadata.IsNotFound(err))
		return nil
	}))
}
