package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/marmos91/dittodrive/pkg/ancestry"
	"github.com/marmos91/dittodrive/pkg/store/content"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// maxLinkHops bounds link resolution in Open.
const maxLinkHops = 8

// Member resolves an external member key.
func (s *Service) Member(ctx context.Context, externalKey string) (member *metadata.Member, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		member, err = tx.GetMemberByKey(externalKey)
		return err
	})
	return member, err
}

// Home returns the owner's root container.
func (s *Service) Home(ctx context.Context, owner metadata.MemberID) (home *metadata.Node, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		roots, err := tx.Roots(owner)
		if err != nil {
			return err
		}
		for _, id := range roots {
			n, err := tx.GetNode(id)
			if err != nil {
				return err
			}
			if n.IsContainer() && n.Name == s.root {
				home = n
				return nil
			}
		}
		return metadata.NewNotFoundError("member has no root container", fmt.Sprintf("#%d", owner))
	})
	return home, err
}

// Trash returns the owner's trash container.
func (s *Service) Trash(ctx context.Context, owner metadata.MemberID) (trash *metadata.Node, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		trash, err = s.resolveTrash(tx, owner)
		return err
	})
	return trash, err
}

// Stat returns a node and its metadata.
func (s *Service) Stat(ctx context.Context, nodeKey string) (entry *Entry, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		entry, err = loadEntry(tx, node)
		return err
	})
	return entry, err
}

// List returns the children of a container sorted by name.
func (s *Service) List(ctx context.Context, nodeKey string) (entries []*Entry, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		if !node.IsContainer() {
			return metadata.NewValidationError("not a container", nodeKey)
		}

		children, err := tx.Children(node.ID)
		if err != nil {
			return err
		}
		entries = make([]*Entry, 0, len(children))
		for _, id := range children {
			child, err := tx.GetNode(id)
			if err != nil {
				return err
			}
			e, err := loadEntry(tx, child)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Node.Name < entries[j].Node.Name
	})
	return entries, nil
}

// Path returns the slash separated path of a node from its root,
// e.g. "/root/docs/a.txt".
func (s *Service) Path(ctx context.Context, nodeKey string) (path string, err error) {
	err = s.view(ctx, func(tx metadata.Transaction) error {
		node, err := tx.GetNodeByKey(nodeKey)
		if err != nil {
			return err
		}
		ids, err := ancestry.Path(tx, node.ID)
		if err != nil {
			return err
		}

		var b strings.Builder
		for _, id := range ids {
			n, err := tx.GetNode(id)
			if err != nil {
				return err
			}
			b.WriteByte('/')
			b.WriteString(n.Name)
		}
		path = b.String()
		return nil
	})
	return path, err
}

// Open returns a reader for the content of a block, following links.
//
// Returns ErrValidation for containers and link chains longer than
// maxLinkHops, ErrNotFound for dangling links, and ErrIO when the block's
// blob cannot be read.
func (s *Service) Open(ctx context.Context, nodeKey string) (io.ReadCloser, error) {
	var block *metadata.Node
	err := s.view(ctx, func(tx metadata.Transaction) error {
		key := nodeKey
		for hop := 0; ; hop++ {
			node, err := tx.GetNodeByKey(key)
			if err != nil {
				return err
			}
			switch node.Kind {
			case metadata.KindBlock:
				block = node
				return nil
			case metadata.KindLink:
				if hop >= maxLinkHops {
					return metadata.NewValidationError("too many levels of links", nodeKey)
				}
				key = node.LinkTarget
			default:
				return metadata.NewValidationError("not a file", nodeKey)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	r, err := s.blobs.ReadContent(ctx, block.Key)
	if err != nil {
		if errors.Is(err, content.ErrContentNotFound) {
			return nil, metadata.NewIOError("content missing for block", block.Key, err)
		}
		return nil, metadata.NewIOError("failed to read content", block.Key, err)
	}
	return r, nil
}

func loadEntry(tx metadata.Transaction, node *metadata.Node) (*Entry, error) {
	md, err := tx.GetMetadata(node.ID)
	if err != nil {
		return nil, err
	}
	return &Entry{Node: node, Metadata: md}, nil
}
