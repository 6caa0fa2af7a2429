// dittodrive is the command line front end of the DittoDrive file store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/hierarchy"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	cfgFile  string
	asMember string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dittodrive",
		Short: "DittoDrive - per-member hierarchical file store",
		Long: `DittoDrive stores a tree of containers, files and links per member,
with chunked uploads into a pluggable content store.

QUICK START:

  # Write a default configuration file
  dittodrive init

  # Create a member with its root and trash containers
  dittodrive provision alice

  # Upload a file and list the root container
  dittodrive --as alice upload ./report.pdf /root
  dittodrive --as alice ls /root

Nodes are addressed either by key or by path. Paths start at the member's
root container, e.g. /root/docs/report.pdf.`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/dittodrive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&asMember, "as", "", "external key of the member to act as")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newProvisionCmd())
	rootCmd.AddCommand(newGrantCmd())
	rootCmd.AddCommand(newRevokeCmd())
	rootCmd.AddCommand(newMkdirCmd())
	rootCmd.AddCommand(newLinkCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newCatCmd())
	rootCmd.AddCommand(newMvCmd())
	rootCmd.AddCommand(newRenameCmd())
	rootCmd.AddCommand(newTrashCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newEmptyTrashCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newUploadsCmd())
	rootCmd.AddCommand(newGCCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newServeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps store error codes to process exit codes so scripts can tell
// a missing node from a conflict.
func exitCode(err error) int {
	switch {
	case metadata.IsNotFound(err):
		return 2
	case metadata.IsConflict(err):
		return 3
	case metadata.IsValidation(err):
		return 4
	default:
		return 1
	}
}

// openRuntime loads the configuration, applies its logging section and
// builds the runtime. Callers Close the runtime.
func openRuntime(ctx context.Context) (*config.Config, *config.Runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := config.ConfigureLogging(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	rt, err := config.Initialize(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rt, nil
}

// withRuntime runs fn against a freshly opened runtime.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, rt *config.Runtime) error) error {
	ctx := cmd.Context()
	cfg, rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	return fn(ctx, cfg, rt)
}

// actor resolves the --as flag.
func actor(ctx context.Context, svc *hierarchy.Service) (*metadata.Member, error) {
	if asMember == "" {
		return nil, fmt.Errorf("--as is required for this command")
	}
	return svc.Member(ctx, asMember)
}

// resolve turns a key or a /root/... path into a node key. Paths are walked
// from the acting member's root container.
func resolve(ctx context.Context, svc *hierarchy.Service, arg string) (string, error) {
	if !strings.HasPrefix(arg, "/") {
		return arg, nil
	}

	member, err := actor(ctx, svc)
	if err != nil {
		return "", err
	}
	home, err := svc.Home(ctx, member.ID)
	if err != nil {
		return "", err
	}

	parts := strings.Split(strings.Trim(arg, "/"), "/")
	if parts[0] != home.Name {
		return "", metadata.NewNotFoundError("path does not start at the root container", arg)
	}

	key := home.Key
	for _, name := range parts[1:] {
		if name == "" {
			continue
		}
		entries, err := svc.List(ctx, key)
		if err != nil {
			return "", err
		}
		next := ""
		for _, e := range entries {
			if e.Node.Name == name {
				next = e.Node.Key
				break
			}
		}
		if next == "" {
			return "", metadata.NewNotFoundError("no such node", arg)
		}
		key = next
	}
	return key, nil
}
