// Command retom manages a local photo collection from the terminal: adding
// and seeding photos, listing them with their develop state and flipping the
// unlock and premium flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/retom/internal/config"
	"github.com/dharsanguruparan/retom/internal/logging"
	"github.com/dharsanguruparan/retom/internal/retro"
	"github.com/dharsanguruparan/retom/internal/storage"
)

type options struct {
	configPath string
	dataDir    string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "retom: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "retom",
		Short: "retom photo collection CLI",
		Long: `retom keeps a collection of retro-filtered photos that develop over time.
The CLI works directly on the data directory; run it while the server is stopped
or accept that the server will not see changes until it restarts.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("RETOM_CONFIG"), "YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.dataDir, "data-dir", "d", "", "Data directory (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log store activity")
	cmd.AddCommand(
		newAddCmd(opts),
		newListCmd(opts),
		newSeedCmd(opts),
		newUnlockCmd(opts),
		newPremiumCmd(opts),
		newSweepCmd(opts),
	)
	return cmd
}

// openStore loads configuration and the persisted collection.
func openStore(cmd *cobra.Command, opts *options) (*storage.Store, *config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	level := "warn"
	if opts.verbose {
		level = cfg.LogLevel
	}
	var logger *logrus.Logger
	if logger, err = logging.NewWithOutput(cmd.ErrOrStderr(), level, cfg.LogFormat); err != nil {
		return nil, nil, err
	}
	store, err := storage.New(storage.Config{
		Dir:           cfg.DataDir,
		Processor:     retro.NewProcessor(cfg.JPEGQuality, cfg.StampLayout),
		Logger:        logger,
		DevelopDelay:  cfg.DevelopDelay,
		RequireAdGate: cfg.RequireAdGate,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := store.Load(); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", store.StatePath(), err)
	}
	return store, cfg, nil
}
