package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/marmos91/dittomedia/pkg/upload"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newUploadCmd() *cobra.Command {
	var (
		opts     upload.InitOptions
		parallel int
		verify   bool
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a file through a chunked upload session",
		Long: `Upload splits <file> into chunks, sends them through the chunked upload
coordinator (concurrently and in any order) and merges the session. It is
the scripted equivalent of a browser uploading a large file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			rec, err := chunkedUpload(ctx, rt.Uploads, args[0], opts, parallel, verify)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().Int64Var(&opts.ChunkSize, "chunk-size", 0, "Chunk size in bytes (default from config)")
	cmd.Flags().StringVar(&opts.TargetBackendID, "backend", "", "Storage backend id")
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "Tenant whose default backend receives the file")
	cmd.Flags().StringVar(&opts.MimeType, "mime", "", "MIME type (default: sniffed from content)")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "Chunks sent concurrently")
	cmd.Flags().BoolVar(&verify, "verify", true, "Send a SHA-256 with every chunk")
	return cmd
}

// chunkedUpload drives one session from InitSession to Merge. The session
// is cancelled when a chunk cannot be sent.
func chunkedUpload(ctx context.Context, c *upload.Coordinator, path string, opts upload.InitOptions, parallel int, verify bool) (*media.FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	opts.FileName = filepath.Base(path)
	opts.DeclaredSize = info.Size()

	sess, err := c.InitSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("Upload %s: %d bytes in %d chunks of %d", sess.ID, sess.DeclaredSize, sess.TotalChunks, sess.ChunkSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for index := 0; index < sess.TotalChunks; index++ {
		g.Go(func() error {
			return sendChunk(gctx, c, f, sess, index, verify)
		})
	}

	if err := g.Wait(); err != nil {
		if _, cerr := c.Cancel(context.WithoutCancel(ctx), sess.ID); cerr != nil {
			logger.Warn("Upload %s: cancel failed: %v", sess.ID, cerr)
		}
		return nil, err
	}

	return c.Merge(ctx, sess.ID, upload.MergeOptions{})
}

// sendChunk reads chunk index of f and writes it to the session.
func sendChunk(ctx context.Context, c *upload.Coordinator, f io.ReaderAt, sess *media.ChunkUploadSession, index int, verify bool) error {
	offset := int64(index) * sess.ChunkSize
	length := min(sess.ChunkSize, sess.DeclaredSize-offset)

	var expected string
	if verify {
		digest, err := media.HashReader(io.NewSectionReader(f, offset, length))
		if err != nil {
			return fmt.Errorf("hash chunk %d: %w", index, err)
		}
		expected = digest.Hex
	}

	if _, err := c.PutChunk(ctx, sess.ID, index, io.NewSectionReader(f, offset, length), expected); err != nil {
		return fmt.Errorf("chunk %d: %w", index, err)
	}
	return nil
}
