// Package hierarchy implements the business rules of the file tree: creating,
// renaming, moving, trashing and deleting nodes, and recording role grants.
//
// Every mutation runs inside one metadata store transaction and composes
// pkg/ancestry edge operations with node row changes, so callers never
// observe a half-applied structural change. The service keeps no tree state
// in process; the metadata store is the single source of truth and may be
// shared by several service instances.
//
// Ownership:
// A tree belongs to the member owning its root. Nodes created under a
// container always take the container's owner, even when the creator is
// another member acting through a create grant, and nodes never move across
// owners. Per-owner lookups such as trash resolution therefore stay within
// one tree.
//
// Special containers:
// Roots, and root-level containers whose name is in the special set
// (by default only the trash), cannot be moved, renamed, trashed or deleted
// without force.
package hierarchy

import (
	"context"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/metrics"
	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Default well-known container names.
const (
	DefaultRootName  = "root"
	DefaultTrashName = "trash"
)

// Options configures a Service.
type Options struct {
	// RootName is the name given to a member's root container (default "root")
	RootName string

	// TrashName is the name of each member's trash container (default "trash")
	TrashName string

	// SpecialNames lists root-level container names protected like the
	// trash. TrashName is always included.
	SpecialNames []string

	// Metrics is optional; nil disables collection
	Metrics metrics.HierarchyMetrics

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Service is the hierarchy service.
//
// Thread Safety:
// Service is safe for concurrent use. Conflicting concurrent mutations are
// serialized by the metadata store's transactions.
type Service struct {
	store   metadata.Store
	blobs   content.ContentStore
	root    string
	trash   string
	special map[string]struct{}
	metrics metrics.HierarchyMetrics
	now     func() time.Time
}

// New creates a hierarchy service over the given metadata and content stores.
func New(store metadata.Store, blobs content.ContentStore, opts Options) *Service {
	if opts.RootName == "" {
		opts.RootName = DefaultRootName
	}
	if opts.TrashName == "" {
		opts.TrashName = DefaultTrashName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	special := map[string]struct{}{opts.TrashName: {}}
	for _, name := range opts.SpecialNames {
		special[name] = struct{}{}
	}

	return &Service{
		store:   store,
		blobs:   blobs,
		root:    opts.RootName,
		trash:   opts.TrashName,
		special: special,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// TrashName returns the configured trash container name.
func (s *Service) TrashName() string {
	return s.trash
}

// observe records an operation outcome. Use as
// defer s.observe("Op", time.Now(), &err).
func (s *Service) observe(operation string, start time.Time, err *error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(operation, time.Since(start), *err)
	}
	if *err != nil {
		logger.Debug("hierarchy: %s failed: %v", operation, *err)
	}
}

// Entry is a node with its metadata.
type Entry struct {
	Node     *metadata.Node
	Metadata *metadata.NodeMetadata
}

// ============================================================================
// Transaction Helpers
// ============================================================================

func (s *Service) update(ctx context.Context, fn func(tx metadata.Transaction) error) error {
	return s.store.Update(ctx, fn)
}

func (s *Service) view(ctx context.Context, fn func(tx metadata.Transaction) error) error {
	return s.store.View(ctx, fn)
}

// touch bumps the UpdatedAt of a container whose child set changed.
//
// Writing the parent's metadata row also makes concurrent child-set changes
// under the same parent conflict in optimistic backends, which is what keeps
// the sibling name check race-free.
func (s *Service) touch(tx metadata.Transaction, id metadata.NodeID) error {
	md, err := tx.GetMetadata(id)
	if metadata.IsNotFound(err) {
		md = &metadata.NodeMetadata{NodeID: id, CreatedAt: s.now()}
	} else if err != nil {
		return err
	}
	md.UpdatedAt = s.now()
	return tx.PutMetadata(md)
}

// isSpecial reports whether node is a root or a special root-level container.
func (s *Service) isSpecial(tx metadata.Transaction, node *metadata.Node) (bool, error) {
	parent, ok, err := tx.GetParent(node.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if !node.IsContainer() {
		return false, nil
	}
	if _, named := s.special[node.Name]; !named {
		return false, nil
	}
	_, parentHasParent, err := tx.GetParent(parent)
	if err != nil {
		return false, err
	}
	return !parentHasParent, nil
}

// ensureNameFree fails with ErrConflict if parent already has a child or an
// in-flight upload called name.
func ensureNameFree(tx metadata.Transaction, parent metadata.NodeID, name string) error {
	siblings, err := tx.ChildrenByName(parent, name)
	if err != nil {
		return err
	}
	if len(siblings) > 0 {
		return metadata.NewConflictError("an entry with this name already exists", name)
	}

	_, err = tx.UploadByTarget(parent, name)
	if err == nil {
		return metadata.NewConflictError("an upload to this name is in progress", name)
	}
	if !metadata.IsNotFound(err) {
		return err
	}
	return nil
}

// ResolveParent loads the container identified by parentKey on behalf of
// actor.
//
// Returns ErrNotFound if the key is unknown, the node is not a container, or
// it belongs to another member and actor has no create grant on it. The
// three cases are indistinguishable to the caller.
func ResolveParent(tx metadata.Transaction, actor metadata.MemberID, parentKey string) (*metadata.Node, error) {
	parent, err := tx.GetNodeByKey(parentKey)
	if err != nil {
		return nil, err
	}
	if !parent.IsContainer() {
		return nil, metadata.NewNotFoundError("parent container not found", parentKey)
	}
	if parent.Owner == actor {
		return parent, nil
	}

	grant, err := tx.GetGrant(actor, parent.ID)
	if metadata.IsNotFound(err) {
		return nil, metadata.NewNotFoundError("parent container not found", parentKey)
	}
	if err != nil {
		return nil, err
	}
	if !grant.Actions.Has(metadata.ActionCreate) {
		return nil, metadata.NewNotFoundError("parent container not found", parentKey)
	}
	return parent, nil
}

// CheckTarget verifies that actor can create name under parentKey and
// returns the parent. Used by the upload registrar before reserving a name.
func CheckTarget(tx metadata.Transaction, actor metadata.MemberID, parentKey, name string) (*metadata.Node, error) {
	if err := metadata.ValidateName(name); err != nil {
		return nil, err
	}
	parent, err := ResolveParent(tx, actor, parentKey)
	if err != nil {
		return nil, err
	}
	if err := ensureNameFree(tx, parent.ID, name); err != nil {
		return nil, err
	}
	// Reading the parent's metadata row makes a concurrent child insert
	// under it (which touches that row) conflict with the caller.
	if _, err := tx.GetMetadata(parent.ID); err != nil && !metadata.IsNotFound(err) {
		return nil, err
	}
	return parent, nil
}
