package metadata

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeID is the internal, monotonically allocated identifier of a node.
//
// NodeIDs never leave the core: callers address nodes by their opaque Key.
// Zero is never allocated and means "no node".
type NodeID uint64

// MemberID is the internal identifier of a member account.
type MemberID uint64

// NodeKind is the kind of a file-system entry.
type NodeKind int

const (
	// KindContainer is a directory-like node that can have children
	KindContainer NodeKind = iota

	// KindBlock is a file whose content lives in the content store
	// under the node's Key
	KindBlock

	// KindLink is a reference to another node, by key
	KindLink
)

// String returns the kind name as used in logs and on the wire.
func (k NodeKind) String() string {
	switch k {
	case KindContainer:
		return "container"
	case KindBlock:
		return "block"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Node is one entry of the file hierarchy.
//
// The parent of a node is not stored on the node itself: it lives in the edge
// table (see Transaction.InsertEdge), one edge per non-root node.
type Node struct {
	// ID is the internal identifier, allocated by the store on insert
	ID NodeID `json:"id"`

	// Key is the public opaque key, random and stable across renames and moves.
	// For blocks, Key is also the content store key of the file payload.
	Key string `json:"key"`

	// Kind is container, block or link
	Kind NodeKind `json:"kind"`

	// Name is the display name, unique among siblings
	Name string `json:"name"`

	// Owner is the member owning the node
	Owner MemberID `json:"owner"`

	// LinkTarget is the key of the referenced node (links only)
	LinkTarget string `json:"link_target,omitempty"`
}

// IsContainer reports whether the node can have children.
func (n *Node) IsContainer() bool {
	return n.Kind == KindContainer
}

// NodeMetadata holds the one-to-one metadata record of a node.
type NodeMetadata struct {
	NodeID    NodeID    `json:"node_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Size is the byte size of a block's committed content (0 otherwise)
	Size uint64 `json:"size"`
}

// Action is a permitted action recorded on a role grant.
type Action uint8

const (
	ActionCreate Action = 1 << iota
	ActionRead
	ActionUpdate
	ActionDelete
)

// ActionAll grants every action.
const ActionAll = ActionCreate | ActionRead | ActionUpdate | ActionDelete

// Has reports whether all actions in want are present.
func (a Action) Has(want Action) bool {
	return a&want == want
}

// String renders the action set as e.g. "create,read".
func (a Action) String() string {
	var parts []string
	if a.Has(ActionCreate) {
		parts = append(parts, "create")
	}
	if a.Has(ActionRead) {
		parts = append(parts, "read")
	}
	if a.Has(ActionUpdate) {
		parts = append(parts, "update")
	}
	if a.Has(ActionDelete) {
		parts = append(parts, "delete")
	}
	return strings.Join(parts, ",")
}

// ParseActions parses a comma separated action list.
func ParseActions(s string) (Action, error) {
	var a Action
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "create":
			a |= ActionCreate
		case "read":
			a |= ActionRead
		case "update":
			a |= ActionUpdate
		case "delete":
			a |= ActionDelete
		case "all":
			a |= ActionAll
		case "":
		default:
			return 0, NewValidationError("unknown action", part)
		}
	}
	return a, nil
}

// RoleGrant records that a member may perform Actions on a node.
//
// The store only records grants. What a grant means is decided by the
// authorization layer in front of the core.
type RoleGrant struct {
	Member  MemberID `json:"member"`
	Node    NodeID   `json:"node"`
	Actions Action   `json:"actions"`
}

// Member is an account owning nodes and grants.
type Member struct {
	ID MemberID `json:"id"`

	// Key is the stable external identifier of the account
	Key string `json:"key"`
}

// ServiceStatus is the availability sub-record of a member.
type ServiceStatus struct {
	Member    MemberID  `json:"member"`
	Available bool      `json:"available"`
	JoinedAt  time.Time `json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Upload is an in-flight chunked upload.
//
// It exists between Initiate and promotion (or Abandon). At most one upload
// may target a given (Parent, Name) pair.
type Upload struct {
	// Key identifies the upload attempt
	Key string `json:"key"`

	// NodeKey is the key the finished block will get, and the content key the
	// merged blob is written under. Distinct from every existing node key.
	NodeKey string `json:"node_key"`

	Owner       MemberID  `json:"owner"`
	Parent      NodeID    `json:"parent"`
	Name        string    `json:"name"`
	TotalChunks uint32    `json:"total_chunks"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewKey generates a fresh opaque key.
func NewKey() string {
	return uuid.NewString()
}

// MaxNameLength is the maximum display name length in bytes.
const MaxNameLength = 255

// ValidateName checks that name can be stored as a display name.
//
// Names must be non-empty, at most MaxNameLength bytes, must not be "." or
// "..", and must not contain '/' or NUL (NUL is the index key separator).
func ValidateName(name string) error {
	if name == "" {
		return NewValidationError("name must not be empty", name)
	}
	if len(name) > MaxNameLength {
		return NewValidationError("name too long", name)
	}
	if name == "." || name == ".." {
		return NewValidationError("reserved name", name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return NewValidationError("name contains illegal character", name)
	}
	return nil
}
