package hierarchy

import (
	"context"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/ancestry"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Provisioned is the result of ProvisionMember.
type Provisioned struct {
	Member *metadata.Member
	Root   *metadata.Node
	Trash  *metadata.Node
}

// ProvisionMember creates a member account with its service status, a root
// container and a trash container under it.
//
// Returns ErrConflict if a member with externalKey already exists.
func (s *Service) ProvisionMember(ctx context.Context, externalKey string) (result *Provisioned, err error) {
	defer s.observe("ProvisionMember", time.Now(), &err)

	err = s.update(ctx, func(tx metadata.Transaction) error {
		now := s.now()

		member := &metadata.Member{Key: externalKey}
		if err := tx.InsertMember(member); err != nil {
			return err
		}
		if err := tx.PutServiceStatus(&metadata.ServiceStatus{
			Member:    member.ID,
			Available: true,
			JoinedAt:  now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}

		root := &metadata.Node{Key: metadata.NewKey(), Kind: metadata.KindContainer, Name: s.root, Owner: member.ID}
		if err := s.insert(tx, root, 0); err != nil {
			return err
		}

		trash, err := s.createChild(tx, root, &metadata.Node{
			Key:  metadata.NewKey(),
			Kind: metadata.KindContainer,
			Name: s.trash,
		}, 0)
		if err != nil {
			return err
		}

		result = &Provisioned{Member: member, Root: root, Trash: trash}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Provisioned member %s (root %s)", externalKey, result.Root.Key)
	return result, nil
}

// CreateContainer creates an empty container called name under parentKey.
//
// Returns ErrNotFound if the parent does not exist, is not a container, or
// belongs to another member and actor holds no create grant on it;
// ErrConflict if the name is already used under the parent (by a node or an
// in-flight upload); ErrValidation for an illegal name.
func (s *Service) CreateContainer(ctx context.Context, actor metadata.MemberID, parentKey, name string) (node *metadata.Node, err error) {
	defer s.observe("CreateContainer", time.Now(), &err)

	err = s.update(ctx, func(tx metadata.Transaction) error {
		parent, err := CheckTarget(tx, actor, parentKey, name)
		if err != nil {
			return err
		}
		node, err = s.createChild(tx, parent, &metadata.Node{
			Key:  metadata.NewKey(),
			Kind: metadata.KindContainer,
			Name: name,
		}, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateLink creates a link called name under parentKey pointing at
// targetKey. The same rules as CreateContainer apply; additionally the
// target must exist.
func (s *Service) CreateLink(ctx context.Context, actor metadata.MemberID, parentKey, name, targetKey string) (node *metadata.Node, err error) {
	defer s.observe("CreateLink", time.Now(), &err)

	err = s.update(ctx, func(tx metadata.Transaction) error {
		parent, err := CheckTarget(tx, actor, parentKey, name)
		if err != nil {
			return err
		}
		if _, err := tx.GetNodeByKey(targetKey); err != nil {
			return err
		}
		node, err = s.createChild(tx, parent, &metadata.Node{
			Key:        metadata.NewKey(),
			Kind:       metadata.KindLink,
			Name:       name,
			LinkTarget: targetKey,
		}, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Materialize creates a block node for content already written under
// nodeKey, inside the caller's transaction.
//
// It is the promotion step of an upload: the caller deletes its in-flight
// upload row in the same transaction, so the node appears exactly when the
// upload disappears. The caller must have released the (parent, name)
// reservation of the upload before calling.
func (s *Service) Materialize(tx metadata.Transaction, actor metadata.MemberID, parentID metadata.NodeID, name, nodeKey string, size uint64) (*metadata.Node, error) {
	if err := metadata.ValidateName(name); err != nil {
		return nil, err
	}

	parent, err := tx.GetNode(parentID)
	if err != nil {
		return nil, err
	}
	parent, err = ResolveParent(tx, actor, parent.Key)
	if err != nil {
		return nil, err
	}
	if err := ensureNameFree(tx, parent.ID, name); err != nil {
		return nil, err
	}

	return s.createChild(tx, parent, &metadata.Node{
		Key:  nodeKey,
		Kind: metadata.KindBlock,
		Name: name,
	}, size)
}

// insert stores node with fresh metadata.
func (s *Service) insert(tx metadata.Transaction, node *metadata.Node, size uint64) error {
	if err := tx.InsertNode(node); err != nil {
		return err
	}
	now := s.now()
	return tx.PutMetadata(&metadata.NodeMetadata{
		NodeID:    node.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Size:      size,
	})
}

// createChild inserts node under parent. The owner is inherited from parent.
func (s *Service) createChild(tx metadata.Transaction, parent, node *metadata.Node, size uint64) (*metadata.Node, error) {
	node.Owner = parent.Owner
	if err := s.insert(tx, node, size); err != nil {
		return nil, err
	}
	if err := ancestry.Attach(tx, node.ID, parent.ID); err != nil {
		return nil, err
	}
	if err := s.touch(tx, parent.ID); err != nil {
		return nil, err
	}
	return node, nil
}
