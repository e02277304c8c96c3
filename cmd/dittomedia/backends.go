package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	catalogmemory "github.com/marmos91/dittomedia/pkg/catalog/memory"
	"github.com/marmos91/dittomedia/pkg/config"
	"github.com/marmos91/dittomedia/pkg/registry"
	"github.com/spf13/cobra"
)

func newBackendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Inspect storage backends",
	}
	cmd.AddCommand(newBackendsListCmd(), newBackendsTestCmd())
	return cmd
}

func newBackendsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the storage configurations known to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			configs, err := rt.Catalog.ListStorageConfigs(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDRIVER\tSCOPE\tDEFAULT\tCDN")
			for _, c := range configs {
				scope := "system"
				if c.TenantID != "" {
					scope = "tenant:" + c.TenantID
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", c.ID, c.Name, c.Driver, scope, c.IsDefault, c.CDNDomain)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", registry.BuiltinLocalID, "builtin", "local", "fallback", "-", "")
			return w.Flush()
		},
	}
}

func newBackendsTestCmd() *cobra.Command {
	var (
		rawOpts []string
		from    string
	)
	cmd := &cobra.Command{
		Use:   "test [driver]",
		Short: "Check that a backend is reachable with the given options",
		Example: `  dittomedia backends test s3 --opt region=eu-west-1 --opt bucket=media
  dittomedia backends test --from main`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			driver, options, err := connectionTarget(args, from, rawOpts)
			if err != nil {
				return err
			}

			reg := registry.New(catalogmemory.New(), registry.Config{})
			if err := config.RegisterDrivers(reg); err != nil {
				return err
			}

			result := reg.TestConnection(cmd.Context(), driver, options)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("connection test failed")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawOpts, "opt", "o", nil, "Driver option as key=value (repeatable)")
	cmd.Flags().StringVar(&from, "from", "", "Test the configured backend with this id")
	return cmd
}

// connectionTarget resolves the driver and options to test, either from a
// backend of the config file or from the command line.
func connectionTarget(args []string, from string, rawOpts []string) (string, map[string]any, error) {
	options := make(map[string]any)
	driver := ""

	if from != "" {
		cfg, err := loadConfig()
		if err != nil {
			return "", nil, err
		}
		found := false
		for _, b := range cfg.Storage.Backends {
			if b.ID == from {
				driver = b.Driver
				for k, v := range b.Options {
					options[k] = v
				}
				found = true
				break
			}
		}
		if !found {
			return "", nil, fmt.Errorf("backend %q not found in configuration", from)
		}
	}

	if len(args) == 1 {
		driver = strings.ToLower(args[0])
	}
	if driver == "" {
		return "", nil, fmt.Errorf("a driver argument or --from is required")
	}

	for _, kv := range rawOpts {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return "", nil, fmt.Errorf("invalid option %q (want key=value)", kv)
		}
		options[k] = v
	}
	return driver, options, nil
}
