package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/api"
	"github.com/JakeFAU/geospaas-harvester/internal/app"
	"github.com/JakeFAU/geospaas-harvester/internal/config"
	"github.com/JakeFAU/geospaas-harvester/internal/orchestrator"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	var (
		searchesFile string
		endless      bool
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs every configured search",
		Long: `Runs every search from the search file against its provider. With
--endless each search is repeated after poll_interval seconds until the
process receives SIGINT or SIGTERM. Interrupted searches save a cursor
and continue from it on the next start.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settingsFrom(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("endless") {
				s.cfg.Endless = endless
			}
			return runHarvest(cmd.Context(), s, searchesFile)
		},
	}
	cmd.Flags().StringVar(&searchesFile, "searches", "searches.yml", "search definitions file")
	cmd.Flags().BoolVar(&endless, "endless", false, "repeat searches until interrupted (overrides the endless setting)")
	return cmd
}

func runHarvest(ctx context.Context, s *settings, searchesFile string) error {
	logger := s.logger
	searches, err := config.LoadSearches(searchesFile)
	if err != nil {
		return err
	}

	ctx, stop := orchestrator.SignalContext(ctx)
	defer stop()

	telemetry.InitTracing()
	services, err := app.New(ctx, s.cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		_ = services.Close()
	}()
	services.LogVocabularies()

	targets, err := services.Targets(searches)
	if err != nil {
		return err
	}
	o := services.Orchestrator(targets)

	shutdownStatus := serveStatus(s.cfg.Metrics.Addr, api.NewServer(o, logger).Handler(), logger)
	defer shutdownStatus()

	logger.Info("harvest started", zap.Int("targets", len(targets)), zap.Bool("endless", s.cfg.Endless))
	report := o.Run(ctx)
	for _, t := range report.Targets {
		logger.Info("target finished",
			zap.String("target", t.Name),
			zap.String("phase", string(t.Phase)),
			zap.Int("cycles", t.Cycles),
			zap.Int("written", t.Summary.Written),
			zap.Int("failed", t.Summary.Failed),
			zap.String("cursor", t.Cursor),
		)
	}

	failed := report.Failed()
	if len(failed) == 0 {
		logger.Info("harvest finished")
		return nil
	}
	for _, t := range failed {
		logger.Error("target failed", zap.String("target", t.Name), zap.Error(t.Err))
	}
	return fmt.Errorf("%d of %d targets failed", len(failed), len(report.Targets))
}

// serveStatus starts the status API when addr is set and returns a function
// that shuts it down.
func serveStatus(addr string, handler http.Handler, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("status server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown error", zap.Error(err))
		}
	}
}
