package hierarchy

import (
	"context"
	"time"

	"github.com/marmos91/dittodrive/pkg/ancestry"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Rename changes the display name of a node.
//
// Returns ErrConflict if a sibling (or an in-flight upload under the same
// parent) already uses newName, and ErrValidation for special containers or
// an illegal name. Renaming a node to its current name is a no-op.
func (s *Service) Rename(ctx context.Context, nodeKey, newName string) (err error) {
	defer s.observe("Rename", time.Now(), &err)

	if err := metadata.ValidateName(newName); err != nil {
		return err
	}

	return s.update(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		if node.Name == newName {
			return nil
		}

		special, err := s.isSpecial(tx, node)
		if err != nil {
			return err
		}
		if special {
			return metadata.NewValidationError("special containers cannot be renamed", node.Name)
		}

		parent, _, err := tx.GetParent(node.ID)
		if err != nil {
			return err
		}
		if err := ensureNameFree(tx, parent, newName); err != nil {
			return err
		}

		node.Name = newName
		if err := tx.UpdateNode(node); err != nil {
			return err
		}
		if err := s.touch(tx, node.ID); err != nil {
			return err
		}
		return s.touch(tx, parent)
	})
}

// Move re-parents a node under newParentKey.
//
// Returns ErrValidation if newParent is the node itself or one of its
// descendants, if the node is a special container, or if the move would
// cross owners; ErrNotFound if newParent does not exist or is not a
// container; ErrConflict on a name clash in newParent. The old edge is
// removed and the new one inserted in one transaction; on any error the tree
// is left unchanged.
func (s *Service) Move(ctx context.Context, nodeKey, newParentKey string) (err error) {
	defer s.observe("Move", time.Now(), &err)

	return s.update(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		target, err := tx.GetNodeByKey(newParentKey)
		if err != nil {
			return err
		}
		return s.move(tx, node, target)
	})
}

func (s *Service) move(tx metadata.Transaction, node, target *metadata.Node) error {
	special, err := s.isSpecial(tx, node)
	if err != nil {
		return err
	}
	if special {
		return metadata.NewValidationError("special containers cannot be moved", node.Name)
	}

	if !target.IsContainer() {
		return metadata.NewNotFoundError("target container not found", target.Key)
	}
	if target.Owner != node.Owner {
		return metadata.NewValidationError("cannot move a node into another member's tree", node.Key)
	}

	// Cycle guard.
	if target.ID == node.ID {
		return metadata.NewValidationError("cannot move a node into itself", node.Key)
	}
	inside, err := ancestry.IsDescendant(tx, target.ID, node.ID)
	if err != nil {
		return err
	}
	if inside {
		return metadata.NewValidationError("cannot move a node into its own descendant", node.Key)
	}

	oldParent, hasParent, err := tx.GetParent(node.ID)
	if err != nil {
		return err
	}
	if hasParent && oldParent == target.ID {
		return nil
	}

	if err := ensureNameFree(tx, target.ID, node.Name); err != nil {
		return err
	}

	if err := ancestry.Detach(tx, node.ID); err != nil {
		return err
	}
	if err := ancestry.Attach(tx, node.ID, target.ID); err != nil {
		return err
	}

	if hasParent {
		if err := s.touch(tx, oldParent); err != nil {
			return err
		}
	}
	return s.touch(tx, target.ID)
}

// MoveToTrash moves a node into its owner's trash container.
//
// Returns ErrFatal if the owner does not have exactly one trash container
// (the store is inconsistent and is not repaired here), and ErrValidation
// for special containers.
func (s *Service) MoveToTrash(ctx context.Context, nodeKey string) (err error) {
	defer s.observe("MoveToTrash", time.Now(), &err)

	return s.update(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}

		special, err := s.isSpecial(tx, node)
		if err != nil {
			return err
		}
		if special {
			return metadata.NewValidationError("special containers cannot be trashed", node.Name)
		}

		trash, err := s.resolveTrash(tx, node.Owner)
		if err != nil {
			return err
		}
		return s.move(tx, node, trash)
	})
}

// resolveTrash finds the single trash container among the owner's
// root-level children.
func (s *Service) resolveTrash(tx metadata.Transaction, owner metadata.MemberID) (*metadata.Node, error) {
	roots, err := tx.Roots(owner)
	if err != nil {
		return nil, err
	}

	var found []metadata.NodeID
	for _, root := range roots {
		ids, err := tx.ChildrenByName(root, s.trash)
		if err != nil {
			return nil, err
		}
		found = append(found, ids...)
	}

	switch len(found) {
	case 1:
	case 0:
		return nil, &metadata.StoreError{Code: metadata.ErrFatal, Message: "owner has no trash container"}
	default:
		return nil, &metadata.StoreError{Code: metadata.ErrFatal, Message: "owner has more than one trash container"}
	}

	trash, err := tx.GetNode(found[0])
	if err != nil {
		return nil, err
	}
	if !trash.IsContainer() {
		return nil, metadata.NewFatalError("trash is not a container", trash.Key)
	}
	return trash, nil
}
