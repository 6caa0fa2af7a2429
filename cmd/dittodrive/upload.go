package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/upload"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var (
		name      string
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "upload <file> <parent>",
		Short: "Upload a local file in chunks",
		Long: `Upload a local file in chunks.

The file is split into chunks of --chunk-size bytes (default and maximum:
uploads.max_chunk_size). An empty file is sent as a single empty chunk.
If a chunk fails the upload is abandoned.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			return withRuntime(cmd, func(ctx context.Context, cfg *config.Config, rt *config.Runtime) error {
				member, err := actor(ctx, rt.Hierarchy)
				if err != nil {
					return err
				}
				parent, err := resolve(ctx, rt.Hierarchy, args[1])
				if err != nil {
					return err
				}

				size := chunkSize
				if size <= 0 || size > cfg.Uploads.MaxChunkSize {
					size = cfg.Uploads.MaxChunkSize
				}
				chunks := split(data, size)

				up, err := rt.Uploads.Initiate(ctx, member.ID, parent, name, uint32(len(chunks)))
				if err != nil {
					return err
				}

				var res upload.Result
				for i, c := range chunks {
					res, err = rt.Uploads.ReceiveChunk(ctx, up.Key, uint32(i), c)
					if err != nil {
						_ = rt.Uploads.Abandon(context.WithoutCancel(ctx), up.Key)
						return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
					}
				}
				if !res.Done {
					return fmt.Errorf("upload %s did not complete", up.Key)
				}

				fmt.Printf("%s (%d bytes in %d chunks)\n", res.Node.Key, res.Size, len(chunks))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "name of the new file (default: local file name)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size in bytes")
	return cmd
}

// split cuts data into chunks of at most size bytes; empty data yields one
// empty chunk.
func split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for offset := 0; offset < len(data); offset += size {
		chunks = append(chunks, data[offset:min(offset+size, len(data))])
	}
	return chunks
}

func newUploadsCmd() *cobra.Command {
	uploadsCmd := &cobra.Command{
		Use:   "uploads",
		Short: "Inspect and abandon in-flight uploads",
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the acting member's in-flight uploads",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				member, err := actor(ctx, rt.Hierarchy)
				if err != nil {
					return err
				}
				uploads, err := rt.Uploads.List(ctx, member.ID)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "KEY\tNAME\tCHUNKS\tCREATED")
				for _, u := range uploads {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", u.Key, u.Name, u.TotalChunks, u.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	uploadsCmd.AddCommand(listCmd)

	abandonCmd := &cobra.Command{
		Use:   "abandon <upload-key>",
		Short: "Abandon an upload and reclaim its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, _ *config.Config, rt *config.Runtime) error {
				return rt.Uploads.Abandon(ctx, args[0])
			})
		},
	}
	uploadsCmd.AddCommand(abandonCmd)

	return uploadsCmd
}
