package internal

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// ErrKeyNotFound is returned by KV.Get for absent keys.
var ErrKeyNotFound = errors.New("kv: key not found")

// ErrReadOnly is returned by KV writes inside a read-only transaction.
var ErrReadOnly = errors.New("kv: transaction is read-only")

// KV is the ordered key-value transaction a backend provides.
//
// Scan must visit keys with the given prefix in ascending byte order,
// including writes made earlier in the same transaction. The callback must
// not mutate the KV; collect keys and mutate after Scan returns.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Scan(prefix []byte, fn func(key, value []byte) error) error

	// NextID allocates the next value of the named monotonic sequence.
	// Values start at 1. Allocated values are never reused, even if the
	// transaction is discarded.
	NextID(sequence string) (uint64, error)
}

// Tx implements metadata.Transaction over a KV.
//
// All table and index maintenance lives here so that every backend enforces
// exactly the same uniqueness and cascade rules.
type Tx struct {
	kv KV
}

// NewTransaction wraps kv as a metadata.Transaction.
func NewTransaction(kv KV) *Tx {
	return &Tx{kv: kv}
}

var _ metadata.Transaction = (*Tx)(nil)

// ============================================================================
// Helpers
// ============================================================================

func (t *Tx) exists(k []byte) (bool, error) {
	_, err := t.kv.Get(k)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tx) putRow(table string, k []byte, v any) error {
	b, err := encodeRow(table, v)
	if err != nil {
		return err
	}
	return t.kv.Set(k, b)
}

// scanIDs collects the trailing 8-byte IDs of all keys under prefix.
func (t *Tx) scanIDs(prefix []byte) ([]uint64, error) {
	var ids []uint64
	err := t.kv.Scan(prefix, func(k, _ []byte) error {
		ids = append(ids, decodeID(k))
		return nil
	})
	return ids, err
}

func getRow[T any](t *Tx, table string, k []byte, notFound string, ref string) (*T, error) {
	b, err := t.kv.Get(k)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, metadata.NewNotFoundError(notFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", table, err)
	}
	return decodeRow[T](table, b)
}

func nodeRef(id metadata.NodeID) string {
	return fmt.Sprintf("#%d", id)
}

// ============================================================================
// Nodes
// ============================================================================

func (t *Tx) InsertNode(node *metadata.Node) error {
	if node.Key == "" {
		return metadata.NewValidationError("node key must not be empty", "")
	}

	taken, err := t.exists(keyNodeKey(node.Key))
	if err != nil {
		return err
	}
	if taken {
		return metadata.NewConflictError("node key already exists", node.Key)
	}

	next, err := t.kv.NextID(SequenceNodes)
	if err != nil {
		return fmt.Errorf("failed to allocate node id: %w", err)
	}
	node.ID = metadata.NodeID(next)

	if err := t.putRow("node", keyNode(node.ID), node); err != nil {
		return err
	}
	if err := t.kv.Set(keyNodeKey(node.Key), encodeID(uint64(node.ID))); err != nil {
		return err
	}
	if err := t.kv.Set(keyOwner(node.Owner, node.ID), nil); err != nil {
		return err
	}
	// A new node has no edge yet, so it starts as a root.
	return t.kv.Set(keyRoot(node.Owner, node.ID), nil)
}

func (t *Tx) GetNode(id metadata.NodeID) (*metadata.Node, error) {
	return getRow[metadata.Node](t, "node", keyNode(id), "node not found", nodeRef(id))
}

func (t *Tx) GetNodeByKey(k string) (*metadata.Node, error) {
	b, err := t.kv.Get(keyNodeKey(k))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, metadata.NewNotFoundError("node not found", k)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve node key: %w", err)
	}
	return t.GetNode(metadata.NodeID(decodeID(b)))
}

func (t *Tx) UpdateNode(node *metadata.Node) error {
	current, err := t.GetNode(node.ID)
	if err != nil {
		return err
	}

	if current.Name != node.Name {
		parent, ok, err := t.GetParent(node.ID)
		if err != nil {
			return err
		}
		if ok {
			if err := t.kv.Delete(keyChildName(parent, current.Name, node.ID)); err != nil {
				return err
			}
			if err := t.kv.Set(keyChildName(parent, node.Name, node.ID), nil); err != nil {
				return err
			}
		}
	}

	current.Name = node.Name
	current.LinkTarget = node.LinkTarget
	return t.putRow("node", keyNode(node.ID), current)
}

func (t *Tx) DeleteNode(id metadata.NodeID) error {
	node, err := t.GetNode(id)
	if err != nil {
		return err
	}

	// Children of a deleted node become roots.
	children, err := t.Children(id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.DeleteEdge(child); err != nil {
			return err
		}
	}

	if err := t.DeleteEdge(id); err != nil {
		return err
	}

	grants, err := t.GrantsOnNode(id)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if err := t.kv.Delete(keyGrant(id, g.Member)); err != nil {
			return err
		}
	}

	for _, k := range [][]byte{
		keyRoot(node.Owner, id),
		keyOwner(node.Owner, id),
		keyMetadata(id),
		keyNodeKey(node.Key),
		keyNode(id),
	} {
		if err := t.kv.Delete(k); err != nil {
			return fmt.Errorf("failed to delete node: %w", err)
		}
	}
	return nil
}

func (t *Tx) NodesByOwner(owner metadata.MemberID) ([]*metadata.Node, error) {
	ids, err := t.scanIDs(keyOwnerPrefix(owner))
	if err != nil {
		return nil, err
	}
	nodes := make([]*metadata.Node, 0, len(ids))
	for _, id := range ids {
		n, err := t.GetNode(metadata.NodeID(id))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (t *Tx) BlockKeys() ([]string, error) {
	var keys []string
	err := t.kv.Scan([]byte(prefixNode), func(_, v []byte) error {
		n, err := decodeRow[metadata.Node]("node", v)
		if err != nil {
			return err
		}
		if n.Kind == metadata.KindBlock {
			keys = append(keys, n.Key)
		}
		return nil
	})
	return keys, err
}

// ============================================================================
// Node Metadata
// ============================================================================

func (t *Tx) PutMetadata(md *metadata.NodeMetadata) error {
	ok, err := t.exists(keyNode(md.NodeID))
	if err != nil {
		return err
	}
	if !ok {
		return metadata.NewNotFoundError("node not found", nodeRef(md.NodeID))
	}
	return t.putRow("metadata", keyMetadata(md.NodeID), md)
}

func (t *Tx) GetMetadata(id metadata.NodeID) (*metadata.NodeMetadata, error) {
	return getRow[metadata.NodeMetadata](t, "metadata", keyMetadata(id), "node metadata not found", nodeRef(id))
}

// ============================================================================
// Ancestry Edges
// ============================================================================

func (t *Tx) InsertEdge(parent, child metadata.NodeID) error {
	childNode, err := t.GetNode(child)
	if err != nil {
		return err
	}
	if _, err := t.GetNode(parent); err != nil {
		return err
	}

	has, err := t.exists(keyParent(child))
	if err != nil {
		return err
	}
	if has {
		return metadata.NewConflictError("node already has a parent", childNode.Key)
	}

	if err := t.kv.Set(keyParent(child), encodeID(uint64(parent))); err != nil {
		return err
	}
	if err := t.kv.Set(keyChild(parent, child), nil); err != nil {
		return err
	}
	if err := t.kv.Set(keyChildName(parent, childNode.Name, child), nil); err != nil {
		return err
	}
	return t.kv.Delete(keyRoot(childNode.Owner, child))
}

func (t *Tx) DeleteEdge(child metadata.NodeID) error {
	parent, ok, err := t.GetParent(child)
	if err != nil || !ok {
		return err
	}

	childNode, err := t.GetNode(child)
	if err != nil {
		return err
	}

	if err := t.kv.Delete(keyParent(child)); err != nil {
		return err
	}
	if err := t.kv.Delete(keyChild(parent, child)); err != nil {
		return err
	}
	if err := t.kv.Delete(keyChildName(parent, childNode.Name, child)); err != nil {
		return err
	}
	return t.kv.Set(keyRoot(childNode.Owner, child), nil)
}

func (t *Tx) GetParent(child metadata.NodeID) (metadata.NodeID, bool, error) {
	b, err := t.kv.Get(keyParent(child))
	if errors.Is(err, ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get parent edge: %w", err)
	}
	return metadata.NodeID(decodeID(b)), true, nil
}

func toNodeIDs(ids []uint64) []metadata.NodeID {
	out := make([]metadata.NodeID, len(ids))
	for i, id := range ids {
		out[i] = metadata.NodeID(id)
	}
	return out
}

func (t *Tx) Children(parent metadata.NodeID) ([]metadata.NodeID, error) {
	ids, err := t.scanIDs(keyChildPrefix(parent))
	if err != nil {
		return nil, err
	}
	return toNodeIDs(ids), nil
}

func (t *Tx) ChildrenByName(parent metadata.NodeID, name string) ([]metadata.NodeID, error) {
	ids, err := t.scanIDs(keyChildNamePrefix(parent, name))
	if err != nil {
		return nil, err
	}
	out := toNodeIDs(ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *Tx) Roots(owner metadata.MemberID) ([]metadata.NodeID, error) {
	ids, err := t.scanIDs(keyRootPrefix(owner))
	if err != nil {
		return nil, err
	}
	return toNodeIDs(ids), nil
}

// ============================================================================
// Role Grants
// ============================================================================

func (t *Tx) PutGrant(grant *metadata.RoleGrant) error {
	if _, err := t.GetNode(grant.Node); err != nil {
		return err
	}
	if _, err := t.GetMember(grant.Member); err != nil {
		return err
	}
	return t.putRow("grant", keyGrant(grant.Node, grant.Member), grant)
}

func (t *Tx) GetGrant(member metadata.MemberID, node metadata.NodeID) (*metadata.RoleGrant, error) {
	return getRow[metadata.RoleGrant](t, "grant", keyGrant(node, member), "grant not found", fmt.Sprintf("member #%d on %s", member, nodeRef(node)))
}

func (t *Tx) GrantsOnNode(node metadata.NodeID) ([]*metadata.RoleGrant, error) {
	var grants []*metadata.RoleGrant
	err := t.kv.Scan(keyGrantPrefix(node), func(_, v []byte) error {
		g, err := decodeRow[metadata.RoleGrant]("grant", v)
		if err != nil {
			return err
		}
		grants = append(grants, g)
		return nil
	})
	return grants, err
}

func (t *Tx) DeleteGrant(member metadata.MemberID, node metadata.NodeID) error {
	return t.kv.Delete(keyGrant(node, member))
}

// ============================================================================
// Members
// ============================================================================

func (t *Tx) InsertMember(member *metadata.Member) error {
	if member.Key == "" {
		return metadata.NewValidationError("member key must not be empty", "")
	}
	taken, err := t.exists(keyMemberKey(member.Key))
	if err != nil {
		return err
	}
	if taken {
		return metadata.NewConflictError("member already exists", member.Key)
	}

	next, err := t.kv.NextID(SequenceMembers)
	if err != nil {
		return fmt.Errorf("failed to allocate member id: %w", err)
	}
	member.ID = metadata.MemberID(next)

	if err := t.putRow("member", keyMember(member.ID), member); err != nil {
		return err
	}
	return t.kv.Set(keyMemberKey(member.Key), encodeID(uint64(member.ID)))
}

func (t *Tx) GetMember(id metadata.MemberID) (*metadata.Member, error) {
	return getRow[metadata.Member](t, "member", keyMember(id), "member not found", fmt.Sprintf("#%d", id))
}

func (t *Tx) GetMemberByKey(k string) (*metadata.Member, error) {
	b, err := t.kv.Get(keyMemberKey(k))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, metadata.NewNotFoundError("member not found", k)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve member key: %w", err)
	}
	return t.GetMember(metadata.MemberID(decodeID(b)))
}

func (t *Tx) PutServiceStatus(status *metadata.ServiceStatus) error {
	if _, err := t.GetMember(status.Member); err != nil {
		return err
	}
	return t.putRow("service status", keyServiceStatus(status.Member), status)
}

func (t *Tx) GetServiceStatus(member metadata.MemberID) (*metadata.ServiceStatus, error) {
	return getRow[metadata.ServiceStatus](t, "service status", keyServiceStatus(member), "service status not found", fmt.Sprintf("#%d", member))
}

// ============================================================================
// In-Flight Uploads
// ============================================================================

func (t *Tx) InsertUpload(upload *metadata.Upload) error {
	if upload.Key == "" {
		return metadata.NewValidationError("upload key must not be empty", "")
	}

	taken, err := t.exists(keyUpload(upload.Key))
	if err != nil {
		return err
	}
	if taken {
		return metadata.NewConflictError("upload already exists", upload.Key)
	}

	busy, err := t.exists(keyUploadTarget(upload.Parent, upload.Name))
	if err != nil {
		return err
	}
	if busy {
		return metadata.NewConflictError("an upload to this destination is already in progress", upload.Name)
	}

	if err := t.putRow("upload", keyUpload(upload.Key), upload); err != nil {
		return err
	}
	return t.kv.Set(keyUploadTarget(upload.Parent, upload.Name), []byte(upload.Key))
}

func (t *Tx) GetUpload(k string) (*metadata.Upload, error) {
	return getRow[metadata.Upload](t, "upload", keyUpload(k), "upload not found", k)
}

func (t *Tx) UploadByTarget(parent metadata.NodeID, name string) (*metadata.Upload, error) {
	b, err := t.kv.Get(keyUploadTarget(parent, name))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, metadata.NewNotFoundError("upload not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload target: %w", err)
	}
	return t.GetUpload(string(b))
}

func (t *Tx) DeleteUpload(k string) error {
	upload, err := t.GetUpload(k)
	if metadata.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	// Only drop the target index if it still points at this upload.
	target, err := t.kv.Get(keyUploadTarget(upload.Parent, upload.Name))
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	if err == nil && bytes.Equal(target, []byte(k)) {
		if err := t.kv.Delete(keyUploadTarget(upload.Parent, upload.Name)); err != nil {
			return err
		}
	}
	return t.kv.Delete(keyUpload(k))
}

func (t *Tx) Uploads() ([]*metadata.Upload, error) {
	var uploads []*metadata.Upload
	err := t.kv.Scan([]byte(prefixUpload), func(_, v []byte) error {
		u, err := decodeRow[metadata.Upload]("upload", v)
		if err != nil {
			return err
		}
		uploads = append(uploads, u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(uploads, func(i, j int) bool {
		return uploads[i].CreatedAt.Before(uploads[j].CreatedAt)
	})
	return uploads, nil
}
