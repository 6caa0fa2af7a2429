package hierarchy

import (
	"context"
	"slices"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/ancestry"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// DeleteReport summarizes a subtree delete.
type DeleteReport struct {
	// Nodes is the number of node rows removed
	Nodes int

	// Blocks is the number of block nodes among them (one blob delete each)
	Blocks int

	// BlobFailures counts blob deletes that failed; the blobs are left as
	// orphans for the collector
	BlobFailures int
}

// DeleteSubtree deletes a node and all of its descendants.
//
// Rows are removed in one transaction. Blobs of the removed block nodes are
// deleted after the commit; those deletes are best-effort: a failure is
// logged and counted in the report, never returned, because the removed rows
// are what makes the files gone.
//
// Special containers are rejected with ErrValidation unless force is set.
func (s *Service) DeleteSubtree(ctx context.Context, nodeKey string, force bool) (report DeleteReport, err error) {
	defer s.observe("DeleteSubtree", time.Now(), &err)

	var blobs []string
	err = s.update(ctx, func(tx metadata.Transaction) error {
		report = DeleteReport{}
		blobs = blobs[:0]

		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}

		if !force {
			special, err := s.isSpecial(tx, node)
			if err != nil {
				return err
			}
			if special {
				return metadata.NewValidationError("special containers cannot be deleted", node.Name)
			}
		}

		keys, n, err := s.deleteRows(tx, node)
		if err != nil {
			return err
		}
		report.Nodes = n
		blobs = append(blobs, keys...)
		return nil
	})
	if err != nil {
		return DeleteReport{}, err
	}

	report.Blocks = len(blobs)
	report.BlobFailures = s.deleteBlobs(ctx, blobs)
	s.recordDelete(report)

	logger.Debug("Deleted subtree %s: %d nodes, %d blobs (%d failed)", nodeKey, report.Nodes, report.Blocks, report.BlobFailures)
	return report, nil
}

// EmptyTrash deletes every subtree inside the owner's trash.
//
// All rows go in one transaction; blobs are deleted afterwards as in
// DeleteSubtree.
func (s *Service) EmptyTrash(ctx context.Context, owner metadata.MemberID) (report DeleteReport, err error) {
	defer s.observe("EmptyTrash", time.Now(), &err)

	var blobs []string
	err = s.update(ctx, func(tx metadata.Transaction) error {
		report = DeleteReport{}
		blobs = blobs[:0]

		trash, err := s.resolveTrash(tx, owner)
		if err != nil {
			return err
		}
		children, err := tx.Children(trash.ID)
		if err != nil {
			return err
		}

		for _, id := range children {
			child, err := tx.GetNode(id)
			if err != nil {
				return err
			}
			keys, n, err := s.deleteRows(tx, child)
			if err != nil {
				return err
			}
			report.Nodes += n
			blobs = append(blobs, keys...)
		}
		return nil
	})
	if err != nil {
		return DeleteReport{}, err
	}

	report.Blocks = len(blobs)
	report.BlobFailures = s.deleteBlobs(ctx, blobs)
	s.recordDelete(report)

	logger.Info("Emptied trash of member #%d: %d nodes, %d blobs", owner, report.Nodes, report.Blocks)
	return report, nil
}

// deleteRows removes node and its descendants and returns the blob keys of
// the removed blocks and the number of removed rows.
func (s *Service) deleteRows(tx metadata.Transaction, node *metadata.Node) ([]string, int, error) {
	descendants, err := ancestry.Descendants(tx, node.ID)
	if err != nil {
		return nil, 0, err
	}

	parent, hasParent, err := tx.GetParent(node.ID)
	if err != nil {
		return nil, 0, err
	}

	// Deepest first, so no delete ever has children left to re-root.
	doomed := append([]metadata.NodeID{node.ID}, descendants...)
	slices.Reverse(doomed)

	var blobs []string
	for _, id := range doomed {
		n, err := tx.GetNode(id)
		if err != nil {
			return nil, 0, err
		}
		if n.Kind == metadata.KindBlock {
			blobs = append(blobs, n.Key)
		}
		if err := tx.DeleteNode(id); err != nil {
			return nil, 0, err
		}
	}

	if hasParent {
		if err := s.touch(tx, parent); err != nil {
			return nil, 0, err
		}
	}
	return blobs, len(doomed), nil
}

// deleteBlobs deletes each key and returns the number of failures.
func (s *Service) deleteBlobs(ctx context.Context, keys []string) int {
	failures := 0
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			failures++
			logger.Warn("Failed to delete blob %s (left as orphan): %v", key, err)
		}
	}
	return failures
}

func (s *Service) recordDelete(report DeleteReport) {
	if s.metrics != nil {
		s.metrics.RecordSubtreeDelete(report.Nodes, report.Blocks, report.BlobFailures)
	}
}
