package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/spf13/cobra"
)

func newProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision <member-key>",
		Short: "Create a member with its root and trash containers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				p, err := rt.Hierarchy.ProvisionMember(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("member %s\nroot   %s\ntrash  %s\n", p.Member.Key, p.Root.Key, p.Trash.Key)
				return nil
			})
		},
	}
}

func newGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant <member-key> <node> <actions>",
		Short: "Grant a member actions on a node",
		Long: `Grant a member actions on a node.

Actions are a comma separated list of create, read, update, delete, or all.
A grant replaces any earlier grant of the same member on the node.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := metadata.ParseActions(args[2])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				member, err := rt.Hierarchy.Member(ctx, args[0])
				if err != nil {
					return err
				}
				key, err := resolve(ctx, rt.Hierarchy, args[1])
				if err != nil {
					return err
				}
				if err := rt.Hierarchy.Grant(ctx, member.ID, key, actions); err != nil {
					return err
				}
				fmt.Printf("Granted %s to %s on %s\n", actions, member.Key, key)
				return nil
			})
		},
	}
}

func newRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <member-key> <node>",
		Short: "Remove a member's grant on a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				member, err := rt.Hierarchy.Member(ctx, args[0])
				if err != nil {
					return err
				}
				key, err := resolve(ctx, rt.Hierarchy, args[1])
				if err != nil {
					return err
				}
				return rt.Hierarchy.Revoke(ctx, member.ID, key)
			})
		},
	}
}
