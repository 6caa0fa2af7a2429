package hierarchy

import (
	"context"
	"time"

	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// Grant records that member may perform actions on the node. An existing
// grant of the same member on the node is replaced.
//
// The service only records grants; apart from create grants on shared
// parent containers (see ResolveParent) it does not interpret them.
func (s *Service) Grant(ctx context.Context, member metadata.MemberID, nodeKey string, actions metadata.Action) (err error) {
	defer s.observe("Grant", time.Now(), &err)

	if actions == 0 {
		return metadata.NewValidationError("grant must name at least one action", nodeKey)
	}

	return s.update(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		return tx.PutGrant(&metadata.RoleGrant{Member: member, Node: node.ID, Actions: actions})
	})
}

// Revoke removes the grant of member on the node. Revoking an absent grant
// succeeds.
func (s *Service) Revoke(ctx context.Context, member metadata.MemberID, nodeKey string) (err error) {
	defer s.observe("Revoke", time.Now(), &err)

	return s.update(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		return tx.DeleteGrant(member, node.ID)
	})
}

// Grants lists every grant recorded on the node.
func (s *Service) Grants(ctx context.Context, nodeKey string) (grants []*metadata.RoleGrant, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		grants, err = tx.GrantsOnNode(node.ID)
		return err
	})
	return grants, err
}

// GrantOf returns the grant of member on the node.
func (s *Service) GrantOf(ctx context.Context, member metadata.MemberID, nodeKey string) (grant *metadata.RoleGrant, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		grant, err = tx.GetGrant(member, node.ID)
		return err
	})
	return grant, err
}
