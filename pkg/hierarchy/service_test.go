package hierarchy

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/marmos91/dittodrive/pkg/store/content"
	contentmemory "github.com/marmos91/dittodrive/pkg/store/content/memory"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBlobs wraps a content store, counting deletes per key and
// optionally failing deletes of selected keys.
type countingBlobs struct {
	content.ContentStore

	mu      sync.Mutex
	deletes map[string]int
	fail    map[string]bool
}

func newCountingBlobs(t *testing.T) *countingBlobs {
	t.Helper()
	inner, err := contentmemory.NewMemoryContentStore(context.Background(), 0)
	require.NoError(t, err)
	return &countingBlobs{ContentStore: inner, deletes: map[string]int{}, fail: map[string]bool{}}
}

func (c *countingBlobs) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes[key]++
	fail := c.fail[key]
	c.mu.Unlock()
	if fail {
		return errors.New("injected delete failure")
	}
	return c.ContentStore.Delete(ctx, key)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store metadata.Store
	blobs *countingBlobs
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewMemoryMetadataStore()
	blobs := newCountingBlobs(t)
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		blobs: blobs,
		svc:   New(store, blobs, Options{}),
	}
}

func (f *fixture) provision(key string) *Provisioned {
	f.t.Helper()
	p, err := f.svc.ProvisionMember(f.ctx, key)
	require.NoError(f.t, err)
	return p
}

func (f *fixture) mkdir(owner metadata.MemberID, parentKey, name string) *metadata.Node {
	f.t.Helper()
	n, err := f.svc.CreateContainer(f.ctx, owner, parentKey, name)
	require.NoError(f.t, err)
	return n
}

// putFile writes a blob and materializes a block for it, the way a finished
// upload does.
func (f *fixture) putFile(owner metadata.MemberID, parentKey, name, data string) *metadata.Node {
	f.t.Helper()
	key := metadata.NewKey()
	require.NoError(f.t, f.blobs.WriteContent(f.ctx, key, []byte(data)))

	var node *metadata.Node
	require.NoError(f.t, f.store.Update(f.ctx, func(tx metadata.Transaction) error {
		parent, err := tx.GetNodeByKey(parentKey)
		if err != nil {
			return err
		}
		node, err = f.svc.Materialize(tx, owner, parent.ID, name, key, uint64(len(data)))
		return err
	}))
	return node
}

func (f *fixture) parentOf(nodeKey string) string {
	f.t.Helper()
	var parentKey string
	require.NoError(f.t, f.store.View(f.ctx, func(tx metadata.Transaction) error {
		n, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		p, ok, err := tx.GetParent(n.ID)
		if err != nil || !ok {
			return err
		}
		parent, err := tx.GetNode(p)
		if err != nil {
			return err
		}
		parentKey = parent.Key
		return nil
	}))
	return parentKey
}

func (f *fixture) exists(nodeKey string) bool {
	f.t.Helper()
	_, err := f.svc.Stat(f.ctx, nodeKey)
	if metadata.IsNotFound(err) {
		return false
	}
	require.NoError(f.t, err)
	return true
}

// ============================================================================
// Provisioning
// ============================================================================

func TestProvisionMember(t *testing.T) {
	f := newFixture(t)
	p := f.provision("alice")

	assert.Equal(t, DefaultRootName, p.Root.Name)
	assert.Equal(t, DefaultTrashName, p.Trash.Name)
	assert.Equal(t, p.Member.ID, p.Trash.Owner)
	assert.Equal(t, p.Root.Key, f.parentOf(p.Trash.Key))

	home, err := f.svc.Home(f.ctx, p.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Root.Key, home.Key)

	trash, err := f.svc.Trash(f.ctx, p.Member.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Trash.Key, trash.Key)

	member, err := f.svc.Member(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, p.Member.ID, member.ID)

	require.NoError(t, f.store.View(f.ctx, func(tx metadata.Transaction) error {
		status, err := tx.GetServiceStatus(p.Member.ID)
		require.NoError(t, err)
		assert.True(t, status.Available)
		return nil
	}))

	_, err = f.svc.ProvisionMember(f.ctx, "alice")
	assert.True(t, metadata.IsConflict(err))
}

// ============================================================================
// CreateContainer / CreateLink
// ============================================================================

func TestCreateContainer(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")

		docs := f.mkdir(alice.Member.ID, alice.Root.Key, "docs")
		assert.Equal(t, metadata.KindContainer, docs.Kind)
		assert.Equal(t, alice.Root.Key, f.parentOf(docs.Key))
	})

	// Scenario: creating the same container twice.
	t.Run("DuplicateName", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		f.mkdir(alice.Member.ID, alice.Root.Key, "docs")

		_, err := f.svc.CreateContainer(f.ctx, alice.Member.ID, alice.Root.Key, "docs")
		assert.True(t, metadata.IsConflict(err), "got %v", err)
	})

	t.Run("SameNameDifferentParent", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
		f.mkdir(alice.Member.ID, alice.Root.Key, "docs")
		f.mkdir(alice.Member.ID, a.Key, "docs")
	})

	t.Run("ParentMissing", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")

		_, err := f.svc.CreateContainer(f.ctx, alice.Member.ID, "no-such-key", "docs")
		assert.True(t, metadata.IsNotFound(err))
	})

	t.Run("ParentIsBlock", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		file := f.putFile(alice.Member.ID, alice.Root.Key, "a.txt", "x")

		_, err := f.svc.CreateContainer(f.ctx, alice.Member.ID, file.Key, "docs")
		assert.True(t, metadata.IsNotFound(err))
	})

	t.Run("OtherOwnerWithoutGrant", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		bob := f.provision("bob")

		_, err := f.svc.CreateContainer(f.ctx, bob.Member.ID, alice.Root.Key, "intruder")
		assert.True(t, metadata.IsNotFound(err))

		// A read-only grant is not enough.
		require.NoError(t, f.svc.Grant(f.ctx, bob.Member.ID, alice.Root.Key, metadata.ActionRead))
		_, err = f.svc.CreateContainer(f.ctx, bob.Member.ID, alice.Root.Key, "intruder")
		assert.True(t, metadata.IsNotFound(err))
	})

	t.Run("OtherOwnerWithCreateGrant", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		bob := f.provision("bob")
		shared := f.mkdir(alice.Member.ID, alice.Root.Key, "shared")
		require.NoError(t, f.svc.Grant(f.ctx, bob.Member.ID, shared.Key, metadata.ActionCreate))

		n, err := f.svc.CreateContainer(f.ctx, bob.Member.ID, shared.Key, "from-bob")
		require.NoError(t, err)
		assert.Equal(t, alice.Member.ID, n.Owner, "new nodes take the tree owner")
	})

	t.Run("InvalidName", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")

		for _, name := range []string{"", ".", "..", "a/b", "nul\x00"} {
			_, err := f.svc.CreateContainer(f.ctx, alice.Member.ID, alice.Root.Key, name)
			assert.True(t, metadata.IsValidation(err), "name %q: got %v", name, err)
		}
	})

	t.Run("ClashWithUpload", func(t *testing.T) {
		f := newFixture(t)
		alice := f.provision("alice")
		require.NoError(t, f.store.Update(f.ctx, func(tx metadata.Transaction) error {
			return tx.InsertUpload(&metadata.Upload{
				Key: metadata.NewKey(), NodeKey: metadata.NewKey(), Owner: alice.Member.ID,
				Parent: alice.Root.ID, Name: "pending", TotalChunks: 1,
			})
		}))

		_, err := f.svc.CreateContainer(f.ctx, alice.Member.ID, alice.Root.Key, "pending")
		assert.True(t, metadata.IsConflict(err))
	})
}

func TestCreateLink(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	file := f.putFile(alice.Member.ID, alice.Root.Key, "a.txt", "linked content")

	link, err := f.svc.CreateLink(f.ctx, alice.Member.ID, alice.Root.Key, "shortcut", file.Key)
	require.NoError(t, err)
	assert.Equal(t, metadata.KindLink, link.Kind)
	assert.Equal(t, file.Key, link.LinkTarget)

	r, err := f.svc.Open(f.ctx, link.Key)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "linked content", string(data))

	_, err = f.svc.CreateLink(f.ctx, alice.Member.ID, alice.Root.Key, "dangling", "missing")
	assert.True(t, metadata.IsNotFound(err))
}

// ============================================================================
// Rename
// ============================================================================

func TestRename(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	a := f.mkdir(alice.Member.ID, alice.Root.Key, "a")
	f.mkdir(alice.Member.ID, alice.Root.Key, "b")

	require.NoError(t, f.svc.Rename(f.ctx, a.Key, "renamed"))
	entry, err := f.svc.Stat(f.ctx, a.Key)
	require.NoError(t, err)
	assert.Equal(t, "renamed", entry.Node.Name)

	// Same name is a no-op.
	require.NoError(t, f.svc.Rename(f.ctx, a.Key, "renamed"))

	err = f.svc.Rename(f.ctx, a.Key, "b")
	assert.True(t, metadata.IsConflict(err))

	err = f.svc.Rename(f.ctx, alice.Trash.Key, "bin")
	assert.True(t, metadata.IsValidation(err))

	err = f.svc.Rename(f.ctx, alice.Root.Key, "home")
	assert.True(t, metadata.IsValidation(err))

	err = f.svc.Rename(f.ctx, a.Key, "bad/name")
	assert.True(t, metadata.IsValidation(err))

	err = f.svc.Rename(f.ctx, "missing", "x")
	assert.True(t, metadata.IsNotFound(err))
}

// A container named like the trash is only special at root level.
func TestRename_NestedTrashNameIsNotSpecial(t *testing.T) {
	f := newFixture(t)
	alice := f.provision("alice")
	docs := f.mkdir(alice.Member.ID, alice.Root.Key, "docs")
	nested := f.mkdir(alice.Member.ID, docs.Key, DefaultTrashName)

	require.NoError(t, f.svc.Rename(f.ctx, nested.Key, "old"))
}
