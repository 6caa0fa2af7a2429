package internal

import (
	"encoding/binary"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Key Namespace Design
// ====================
//
// Both metadata backends (memory and BadgerDB) are ordered key-value spaces,
// so the relational schema is laid out as prefixed keys. Numeric identifiers
// are encoded as 8-byte big-endian integers so that byte order equals numeric
// order and range scans return rows sorted by ID.
//
// Table                 Prefix   Key Format                                 Value
// =================================================================================
// Nodes                 "n:"     n:<id>                                    Node (JSON)
// Node key index        "nk:"    nk:<key>                                  id
// Node metadata         "m:"     m:<id>                                    NodeMetadata (JSON)
// Nodes by owner        "o:"     o:<owner><id>                             empty
// Roots by owner        "r:"     r:<owner><id>                             empty
// Parent edges          "p:"     p:<child>                                 parent id
// Children              "c:"     c:<parent><child>                         empty
// Children by name      "cn:"    cn:<parent><name>\x00<child>              empty
// Role grants           "g:"     g:<node><member>                          RoleGrant (JSON)
// Members               "mb:"    mb:<id>                                   Member (JSON)
// Member key index      "mk:"    mk:<key>                                  id
// Service status        "ss:"    ss:<member>                               ServiceStatus (JSON)
// Uploads               "u:"     u:<key>                                   Upload (JSON)
// Upload target index   "ut:"    ut:<parent><name>\x00                     upload key
//
// The "p:" row is the ancestry edge proper (unique on the child side). "c:",
// "cn:" and "r:" are derived indexes maintained in the same transaction as
// every edge change; they never hold a transitive closure.
//
// Names cannot contain NUL (see metadata.ValidateName), so the NUL separator
// after <name> keeps "cn:" prefixes for "a" from matching "ab".

const (
	prefixNode          = "n:"
	prefixNodeKey       = "nk:"
	prefixMetadata      = "m:"
	prefixOwner         = "o:"
	prefixRoot          = "r:"
	prefixParent        = "p:"
	prefixChild         = "c:"
	prefixChildName     = "cn:"
	prefixGrant         = "g:"
	prefixMember        = "mb:"
	prefixMemberKey     = "mk:"
	prefixServiceStatus = "ss:"
	prefixUpload        = "u:"
	prefixUploadTarget  = "ut:"
)

// Sequence names used for ID allocation.
const (
	SequenceNodes   = "seq:nodes"
	SequenceMembers = "seq:members"
)

func appendID(b []byte, id uint64) []byte {
	return binary.BigEndian.AppendUint64(b, id)
}

func encodeID(id uint64) []byte {
	return appendID(make([]byte, 0, 8), id)
}

func decodeID(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b[len(b)-8:])
}

func key(prefix string, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func keyNode(id metadata.NodeID) []byte {
	return key(prefixNode, encodeID(uint64(id)))
}

func keyNodeKey(k string) []byte {
	return key(prefixNodeKey, []byte(k))
}

func keyMetadata(id metadata.NodeID) []byte {
	return key(prefixMetadata, encodeID(uint64(id)))
}

func keyOwnerPrefix(owner metadata.MemberID) []byte {
	return key(prefixOwner, encodeID(uint64(owner)))
}

func keyOwner(owner metadata.MemberID, id metadata.NodeID) []byte {
	return appendID(keyOwnerPrefix(owner), uint64(id))
}

func keyRootPrefix(owner metadata.MemberID) []byte {
	return key(prefixRoot, encodeID(uint64(owner)))
}

func keyRoot(owner metadata.MemberID, id metadata.NodeID) []byte {
	return appendID(keyRootPrefix(owner), uint64(id))
}

func keyParent(child metadata.NodeID) []byte {
	return key(prefixParent, encodeID(uint64(child)))
}

func keyChildPrefix(parent metadata.NodeID) []byte {
	return key(prefixChild, encodeID(uint64(parent)))
}

func keyChild(parent, child metadata.NodeID) []byte {
	return appendID(keyChildPrefix(parent), uint64(child))
}

func keyChildNamePrefix(parent metadata.NodeID, name string) []byte {
	out := key(prefixChildName, encodeID(uint64(parent)), []byte(name))
	return append(out, 0)
}

func keyChildName(parent metadata.NodeID, name string, child metadata.NodeID) []byte {
	return appendID(keyChildNamePrefix(parent, name), uint64(child))
}

func keyGrantPrefix(node metadata.NodeID) []byte {
	return key(prefixGrant, encodeID(uint64(node)))
}

func keyGrant(node metadata.NodeID, member metadata.MemberID) []byte {
	return appendID(keyGrantPrefix(node), uint64(member))
}

func keyMember(id metadata.MemberID) []byte {
	return key(prefixMember, encodeID(uint64(id)))
}

func keyMemberKey(k string) []byte {
	return key(prefixMemberKey, []byte(k))
}

func keyServiceStatus(member metadata.MemberID) []byte {
	return key(prefixServiceStatus, encodeID(uint64(member)))
}

func keyUpload(k string) []byte {
	return key(prefixUpload, []byte(k))
}

func keyUploadTarget(parent metadata.NodeID, name string) []byte {
	out := key(prefixUploadTarget, encodeID(uint64(parent)), []byte(name))
	return append(out, 0)
}
