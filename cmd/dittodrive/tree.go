package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/hierarchy"
	"github.com/spf13/cobra"
)

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent> <name>",
		Short: "Create a container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				member, err := actor(ctx, rt.Hierarchy)
				if err != nil {
					return err
				}
				parent, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				node, err := rt.Hierarchy.CreateContainer(ctx, member.ID, parent, args[1])
				if err != nil {
					return err
				}
				fmt.Println(node.Key)
				return nil
			})
		},
	}
}

func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <parent> <name> <target>",
		Short: "Create a link to another node",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				member, err := actor(ctx, rt.Hierarchy)
				if err != nil {
					return err
				}
				parent, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				target, err := resolve(ctx, rt.Hierarchy, args[2])
				if err != nil {
					return err
				}
				node, err := rt.Hierarchy.CreateLink(ctx, member.ID, parent, args[1], target)
				if err != nil {
					return err
				}
				fmt.Println(node.Key)
				return nil
			})
		},
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls <container>",
		Aliases: []string{"list"},
		Short:   "List the children of a container",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				key, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				entries, err := rt.Hierarchy.List(ctx, key)
				if err != nil {
					return err
				}
				printEntries(os.Stdout, entries)
				return nil
			})
		},
	}
}

func printEntries(out io.Writer, entries []*hierarchy.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tNAME\tSIZE\tUPDATED\tKEY")
	for _, e := range entries {
		var size uint64
		updated := "-"
		if e.Metadata != nil {
			size = e.Metadata.Size
			updated = e.Metadata.UpdatedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.Node.Kind, e.Node.Name, size, updated, e.Node.Key)
	}
	_ = w.Flush()
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <node>",
		Short: "Show a node, its metadata and its path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				key, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				entry, err := rt.Hierarchy.Stat(ctx, key)
				if err != nil {
					return err
				}
				path, err := rt.Hierarchy.Path(ctx, key)
				if err != nil {
					return err
				}

				fmt.Printf("Key:     %s\n", entry.Node.Key)
				fmt.Printf("Kind:    %s\n", entry.Node.Kind)
				fmt.Printf("Path:    %s\n", path)
				if entry.Node.LinkTarget != "" {
					fmt.Printf("Target:  %s\n", entry.Node.LinkTarget)
				}
				if entry.Metadata != nil {
					fmt.Printf("Size:    %d\n", entry.Metadata.Size)
					fmt.Printf("Created: %s\n", entry.Metadata.CreatedAt.Format(time.RFC3339))
					fmt.Printf("Updated: %s\n", entry.Metadata.UpdatedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func newCatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <file>",
		Short: "Write the content of a file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				key, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				rc, err := rt.Hierarchy.Open(ctx, key)
				if err != nil {
					return err
				}
				defer func() { _ = rc.Close() }()

				_, err = io.Copy(os.Stdout, rc)
				return err
			})
		},
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <node> <new-parent>",
		Short: "Move a node under another container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				key, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				parent, err := resolve(ctx, rt.Hierarchy, args[1])
				if err != nil {
					return err
				}
				return rt.Hierarchy.Move(ctx, key, parent)
			})
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <node> <new-name>",
		Short: "Rename a node in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				key, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				return rt.Hierarchy.Rename(ctx, key, args[1])
			})
		},
	}
}

func newTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trash <node>",
		Short: "Move a node into its owner's trash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				key, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				return rt.Hierarchy.MoveToTrash(ctx, key)
			})
		},
	}
}

func newRmCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rm <node>",
		Short: "Delete a node and its whole subtree",
		Long: `Delete a node and its whole subtree.

Root, trash and special containers are refused unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				key, err := resolve(ctx, rt.Hierarchy, args[0])
				if err != nil {
					return err
				}
				report, err := rt.Hierarchy.DeleteSubtree(ctx, key, force)
				if err != nil {
					return err
				}
				printReport(report)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "also delete protected containers")
	return cmd
}

func newEmptyTrashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "empty-trash",
		Short: "Delete everything in the acting member's trash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				member, err := actor(ctx, rt.Hierarchy)
				if err != nil {
					return err
				}
				report, err := rt.Hierarchy.EmptyTrash(ctx, member.ID)
				if err != nil {
					return err
				}
				printReport(report)
				return nil
			})
		},
	}
}

func printReport(report hierarchy.DeleteReport) {
	fmt.Printf("Deleted %d nodes (%d files)\n", report.Nodes, report.Blocks)
	if report.BlobFailures > 0 {
		fmt.Printf("%d blobs could not be deleted and are left to the collector\n", report.BlobFailures)
	}
}
