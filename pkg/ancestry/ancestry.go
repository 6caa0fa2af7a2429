// Package ancestry maintains the parent/child structure of the file hierarchy.
//
// The tree is stored as an adjacency table: one parent edge per non-root
// node, no precomputed transitive rows. Ancestor queries walk edges upward
// (O(depth)); descendant queries walk child edges downward (O(subtree)).
//
// All functions operate on a caller-supplied metadata.Transaction and keep no
// state of their own, so every structural change composes with the caller's
// other writes into one atomic unit, and concurrent callers are serialized by
// the store alone.
//
// Every structural mutation of the hierarchy goes through Attach and Detach.
// Attach refuses any edge that would close a cycle, so a store written only
// through this package is always a forest.
package ancestry

import (
	"fmt"
	"iter"
	"slices"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Attach makes parent the parent of child.
//
// Returns an ErrConflict StoreError if child already has a parent (Detach it
// first), if parent is child, or if parent is a descendant of child. The
// cycle guard walks upward from parent until a root or child is reached.
func Attach(tx metadata.Transaction, child, parent metadata.NodeID) error {
	if child == parent {
		return metadata.NewConflictError("cannot attach a node to itself", nodeRef(child))
	}

	if _, ok, err := tx.GetParent(child); err != nil {
		return err
	} else if ok {
		return metadata.NewConflictError("node already has a parent", nodeRef(child))
	}

	for ancestor, err := range walkUp(tx, parent, true) {
		if err != nil {
			return err
		}
		if ancestor == child {
			return metadata.NewConflictError("attach would create a cycle", nodeRef(child))
		}
	}

	return tx.InsertEdge(parent, child)
}

// Detach removes the parent edge of child, turning it into a root.
// Detaching a root is a no-op.
func Detach(tx metadata.Transaction, child metadata.NodeID) error {
	return tx.DeleteEdge(child)
}

// Parent returns the parent of node; ok is false when node is a root.
func Parent(tx metadata.Transaction, node metadata.NodeID) (parent metadata.NodeID, ok bool, err error) {
	return tx.GetParent(node)
}

// Ancestors yields the ancestors of node, nearest first, ending at the root.
// node itself is never yielded.
//
// The sequence is lazy: each step reads one edge. Iteration stops at the
// first error, which is yielded with a zero NodeID. Meeting a node twice
// means the stored edges contain a cycle; that is reported as ErrFatal
// rather than looping.
func Ancestors(tx metadata.Transaction, node metadata.NodeID) iter.Seq2[metadata.NodeID, error] {
	return walkUp(tx, node, false)
}

// walkUp yields the chain above start. With inclusive, start itself is
// yielded first.
func walkUp(tx metadata.Transaction, start metadata.NodeID, inclusive bool) iter.Seq2[metadata.NodeID, error] {
	return func(yield func(metadata.NodeID, error) bool) {
		seen := map[metadata.NodeID]struct{}{start: {}}

		if inclusive && !yield(start, nil) {
			return
		}

		current := start
		for {
			parent, ok, err := tx.GetParent(current)
			if err != nil {
				yield(0, err)
				return
			}
			if !ok {
				return
			}

			if _, dup := seen[parent]; dup {
				yield(0, metadata.NewFatalError("cycle detected in ancestry edges", nodeRef(parent)))
				return
			}
			seen[parent] = struct{}{}

			if !yield(parent, nil) {
				return
			}
			current = parent
		}
	}
}

// Descendants returns every node reachable from node by following child
// edges, excluding node itself.
//
// The order is breadth-first, with siblings ordered by NodeID, so repeated
// calls against the same state return the same slice.
func Descendants(tx metadata.Transaction, node metadata.NodeID) ([]metadata.NodeID, error) {
	var out []metadata.NodeID
	seen := map[metadata.NodeID]struct{}{node: {}}
	queue := []metadata.NodeID{node}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := tx.Children(current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, dup := seen[child]; dup {
				return nil, metadata.NewFatalError("cycle detected in ancestry edges", nodeRef(child))
			}
			seen[child] = struct{}{}
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

// IsDescendant reports whether of is an ancestor of candidate.
// A node is not its own descendant.
func IsDescendant(tx metadata.Transaction, candidate, of metadata.NodeID) (bool, error) {
	for ancestor, err := range Ancestors(tx, candidate) {
		if err != nil {
			return false, err
		}
		if ancestor == of {
			return true, nil
		}
	}
	return false, nil
}

// Root returns the root of the tree containing node (node itself for a root).
func Root(tx metadata.Transaction, node metadata.NodeID) (metadata.NodeID, error) {
	root := node
	for ancestor, err := range Ancestors(tx, node) {
		if err != nil {
			return 0, err
		}
		root = ancestor
	}
	return root, nil
}

// Path returns the chain from the root down to node, both included.
func Path(tx metadata.Transaction, node metadata.NodeID) ([]metadata.NodeID, error) {
	path := []metadata.NodeID{node}
	for ancestor, err := range Ancestors(tx, node) {
		if err != nil {
			return nil, err
		}
		path = append(path, ancestor)
	}

	slices.Reverse(path)
	return path, nil
}

// Depth returns the number of edges between node and its root.
func Depth(tx metadata.Transaction, node metadata.NodeID) (int, error) {
	depth := 0
	for _, err := range Ancestors(tx, node) {
		if err != nil {
			return 0, err
		}
		depth++
	}
	return depth, nil
}

func nodeRef(id metadata.NodeID) string {
	return fmt.Sprintf("#%d", id)
}
