package metadata

import (
	"context"
)

// Store is the transactional relational store behind the file hierarchy.
//
// The store is the single source of truth for nodes, edges, grants, members
// and in-flight uploads. Services never cache tree state in process: every
// operation opens a transaction, reads what it needs, and commits.
//
// Transaction Semantics:
//   - View runs fn against a read-only snapshot
//   - Update runs fn in a read-write transaction; if fn returns an error,
//     or the commit fails, no write made by fn is visible to anyone
//   - Conflicting concurrent Updates are serialized by the backend; a
//     backend relying on optimistic concurrency retries fn and finally
//     returns an ErrConflict StoreError
//
// fn may be invoked more than once, so it must not have side effects outside
// the transaction (other than idempotent ones such as reading blobs).
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// A Transaction must not be used outside fn or shared between goroutines.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Transaction) error) error

	// Update runs fn in a read-write transaction and commits it.
	Update(ctx context.Context, fn func(tx Transaction) error) error

	// Healthcheck verifies the backend is usable.
	Healthcheck(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// Transaction exposes the row-level operations of the store.
//
// All lookups return an ErrNotFound StoreError when the row is absent. All
// inserts guarded by a uniqueness constraint return an ErrConflict StoreError
// on violation. Write methods on a read-only transaction return an error.
type Transaction interface {
	// ========================================================================
	// Nodes
	// ========================================================================

	// InsertNode allocates a new NodeID, stores node with it and sets node.ID.
	// Conflict if node.Key is already used.
	InsertNode(node *Node) error

	// GetNode returns the node with the given id.
	GetNode(id NodeID) (*Node, error)

	// GetNodeByKey resolves an opaque key to its node.
	GetNodeByKey(key string) (*Node, error)

	// UpdateNode rewrites the name and link target of an existing node.
	// ID, Key, Kind and Owner are immutable.
	UpdateNode(node *Node) error

	// DeleteNode removes the node together with its metadata, its parent
	// edge and its grants. Edges to its children are NOT removed: deleting a
	// container without deleting its subtree first orphans the children into
	// roots, so callers delete bottom-up.
	DeleteNode(id NodeID) error

	// NodesByOwner lists every node owned by owner ordered by ID.
	NodesByOwner(owner MemberID) ([]*Node, error)

	// BlockKeys returns the keys of every block node in the store.
	BlockKeys() ([]string, error)

	// ========================================================================
	// Node Metadata
	// ========================================================================

	// PutMetadata inserts or replaces the metadata of an existing node.
	PutMetadata(md *NodeMetadata) error

	// GetMetadata returns the metadata of a node.
	GetMetadata(id NodeID) (*NodeMetadata, error)

	// ========================================================================
	// Ancestry Edges
	// ========================================================================

	// InsertEdge stores the parent→child edge.
	// Conflict if child already has a parent edge.
	InsertEdge(parent, child NodeID) error

	// DeleteEdge removes the parent edge of child. Deleting an absent edge
	// is not an error.
	DeleteEdge(child NodeID) error

	// GetParent returns the parent of child; ok is false for roots.
	GetParent(child NodeID) (parent NodeID, ok bool, err error)

	// Children lists the children of parent ordered by ID.
	Children(parent NodeID) ([]NodeID, error)

	// ChildrenByName lists the children of parent with the given display
	// name, ordered by ID. More than one entry means the sibling name
	// invariant is broken.
	ChildrenByName(parent NodeID, name string) ([]NodeID, error)

	// Roots lists the nodes owned by owner that have no parent edge.
	Roots(owner MemberID) ([]NodeID, error)

	// ========================================================================
	// Role Grants
	// ========================================================================

	// PutGrant inserts or replaces the grant for (grant.Member, grant.Node).
	PutGrant(grant *RoleGrant) error

	// GetGrant returns the grant of member on node.
	GetGrant(member MemberID, node NodeID) (*RoleGrant, error)

	// GrantsOnNode lists all grants recorded on node ordered by member.
	GrantsOnNode(node NodeID) ([]*RoleGrant, error)

	// DeleteGrant removes the grant of member on node; absent is not an error.
	DeleteGrant(member MemberID, node NodeID) error

	// ========================================================================
	// Members
	// ========================================================================

	// InsertMember allocates a MemberID, stores member and sets member.ID.
	// Conflict if member.Key is already used.
	InsertMember(member *Member) error

	// GetMember returns a member by id.
	GetMember(id MemberID) (*Member, error)

	// GetMemberByKey resolves an external member key.
	GetMemberByKey(key string) (*Member, error)

	// PutServiceStatus inserts or replaces the service status of a member.
	PutServiceStatus(status *ServiceStatus) error

	// GetServiceStatus returns the service status of a member.
	GetServiceStatus(member MemberID) (*ServiceStatus, error)

	// ========================================================================
	// In-Flight Uploads
	// ========================================================================

	// InsertUpload stores a new upload.
	// Conflict if upload.Key exists, or another upload targets the same
	// (Parent, Name).
	InsertUpload(upload *Upload) error

	// GetUpload returns an upload by key.
	GetUpload(key string) (*Upload, error)

	// UploadByTarget returns the upload targeting (parent, name).
	UploadByTarget(parent NodeID, name string) (*Upload, error)

	// DeleteUpload removes an upload; absent is not an error.
	DeleteUpload(key string) error

	// Uploads lists all in-flight uploads ordered by creation time.
	Uploads() ([]*Upload, error)
}
