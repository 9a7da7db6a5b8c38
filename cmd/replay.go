package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/app"
	"github.com/JakeFAU/geospaas-harvester/internal/orchestrator"
	"github.com/JakeFAU/geospaas-harvester/internal/replay"
)

// newReplayCmd creates the 'replay' subcommand.
func newReplayCmd() *cobra.Command {
	var (
		target string
		rounds int
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Retries quarantined records",
		Long: `Feeds the records kept in the quarantine back through normalization
and into the catalog. Entries that go through are deleted. The others
are retried after a wait that doubles each round, up to
quarantine.replay_rounds rounds.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := settingsFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), s, replay.Config{Target: target, Rounds: rounds, Wait: wait})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "only replay records of this search")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "retry rounds (overrides quarantine.replay_rounds)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "pause after the first round (overrides quarantine.replay_wait_seconds)")
	return cmd
}

func runReplay(ctx context.Context, s *settings, cfg replay.Config) error {
	ctx, stop := orchestrator.SignalContext(ctx)
	defer stop()

	services, err := app.New(ctx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		_ = services.Close()
	}()

	r, err := services.Replayer(cfg)
	if err != nil {
		return err
	}
	rep, err := r.Run(ctx)
	s.logger.Info("replay finished",
		zap.Int("rounds", rep.Rounds),
		zap.Int("attempted", rep.Attempted),
		zap.Int("replayed", rep.Replayed),
		zap.Int("remaining", rep.Remaining),
	)
	if err != nil {
		return err
	}
	if rep.Remaining > 0 {
		return fmt.Errorf("%d quarantined records still fail", rep.Remaining)
	}
	return nil
}
