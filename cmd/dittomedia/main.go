// Command dittomedia operates the media storage subsystem: it writes the
// default configuration, runs the maintenance service and exposes the
// content store and upload coordinator for scripting and troubleshooting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittomedia/internal/logger"
	"github.com/marmos91/dittomedia/pkg/config"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

var configFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dittomedia: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dittomedia",
		Short: "Deduplicating media storage with pluggable backends",
		Long: `DittoMedia stores uploaded files once per content hash on local disk or
S3-compatible object storage, tracks references in a catalog and reclaims
unreferenced bytes and abandoned chunked uploads in the background.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/dittomedia/config.yaml)")
	cmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newPutCmd(),
		newInfoCmd(),
		newReleaseCmd(),
		newUploadCmd(),
		newSweepCmd(),
		newBackendsCmd(),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig loads the configuration and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := config.ConfigureLogging(&cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openRuntime builds the runtime without metrics for one-shot commands.
// The caller must Close it.
func openRuntime(ctx context.Context) (*config.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt, err := config.Build(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// closeRuntime closes rt, logging rather than returning the error so it
// never masks the command's own result.
func closeRuntime(rt *config.Runtime) {
	if err := rt.Close(); err != nil {
		logger.Warn("Failed to close runtime: %v", err)
	}
}
