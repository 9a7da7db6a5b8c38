// Package cmd implements the geospaas-harvester command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/config"
	"github.com/JakeFAU/geospaas-harvester/internal/logging"
)

// settingsKeyType is the key for storing loaded settings in the context.
type settingsKeyType string

const settingsKey settingsKeyType = "settings"

// settings is what PersistentPreRunE hands to subcommands.
type settings struct {
	cfg    config.Config
	logger *zap.Logger
}

func settingsFrom(ctx context.Context) (*settings, error) {
	s, ok := ctx.Value(settingsKey).(*settings)
	if !ok || s == nil {
		return nil, fmt.Errorf("configuration was not loaded")
	}
	return s, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "geospaas-harvester",
		Short: "Harvests geospatial dataset metadata into a catalog.",
		Long: `geospaas-harvester crawls remote and local repositories of geospatial
datasets, normalizes what it finds and writes it to a dataset catalog.
Each configured search runs in isolation and can be resumed after a
shutdown from its cursor file.`,
		SilenceUsage: true,

		// Loads configuration and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), settingsKey, &settings{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if s, err := settingsFrom(cmd.Context()); err == nil {
				// stderr sync fails on some terminals; nothing to do about it.
				_ = s.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (settings may also come from HARVESTER_* variables)")

	cmd.AddCommand(newHarvestCmd(), newReplayCmd(), newProvidersCmd())
	return cmd
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
