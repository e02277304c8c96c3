package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/marmos91/dittomedia/pkg/content"
	"github.com/marmos91/dittomedia/pkg/media"
	"github.com/spf13/cobra"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPutCmd() *cobra.Command {
	var opts content.PutOptions
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Store a local file (deduplicated by content hash)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			if opts.OriginalName == "" {
				opts.OriginalName = filepath.Base(args[0])
			}

			rec, err := rt.Content.Put(ctx, args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&opts.TargetBackendID, "backend", "", "Storage backend id (default: tenant or system default)")
	cmd.Flags().StringVar(&opts.TenantID, "tenant", "", "Tenant whose default backend receives the file")
	cmd.Flags().StringVar(&opts.OriginalName, "name", "", "Original file name (default: base name of <file>)")
	cmd.Flags().StringVar(&opts.MimeType, "mime", "", "MIME type (default: sniffed from content)")
	return cmd
}

func newInfoCmd() *cobra.Command {
	var expires time.Duration
	cmd := &cobra.Command{
		Use:   "info <file-id>",
		Short: "Show a file record and its current URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			rec, err := rt.Content.Get(ctx, args[0])
			if err != nil {
				return err
			}
			url, err := rt.Content.URL(ctx, args[0], expires)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), struct {
				Record    *media.FileRecord `json:"record"`
				ServedURL string            `json:"served_url"`
			}{rec, url})
		},
	}
	cmd.Flags().DurationVar(&expires, "expires", 0, "Signed URL lifetime (0 = public URL)")
	return cmd
}

func newReleaseCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "release <file-id>",
		Short: "Drop one reference to a file, deleting its bytes at zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			deleted, err := rt.Content.Release(ctx, args[0], force)
			if err != nil {
				return err
			}

			if deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: deleted\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: reference released\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Delete regardless of the reference count")
	return cmd
}
