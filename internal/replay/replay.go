// Package replay feeds quarantined records back through the ingest pipeline
// and removes the entries that now go through.
package replay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
	"github.com/JakeFAU/geospaas-harvester/internal/quarantine"
)

const (
	defaultRounds = 5
	defaultWait   = time.Minute
)

// Config bounds the retry rounds. The wait doubles after every round that
// left entries behind.
type Config struct {
	Rounds int
	Wait   time.Duration
	// Target limits the replay to one target; empty replays all of them.
	Target string
}

func (c Config) withDefaults() Config {
	if c.Rounds <= 0 {
		c.Rounds = defaultRounds
	}
	if c.Wait <= 0 {
		c.Wait = defaultWait
	}
	return c
}

// Runner ingests one source. *ingest.Ingester satisfies it.
type Runner interface {
	Run(ctx context.Context, target string, src ingest.Source, filters ...ingest.DatasetFilter) (ingest.Summary, error)
}

// Entries lists and removes quarantined records. *quarantine.Reader
// satisfies it.
type Entries interface {
	List(ctx context.Context, target string) ([]quarantine.Stored, error)
	Delete(ctx context.Context, objectPath string) error
}

// Report counts the outcome of a replay.
type Report struct {
	Rounds    int `json:"rounds"`
	Attempted int `json:"attempted"`
	Replayed  int `json:"replayed"`
	Remaining int `json:"remaining"`
}

// Replayer retries quarantined records until they are all catalogued or the
// rounds run out.
type Replayer struct {
	cfg     Config
	entries Entries
	runner  Runner
	logger  *zap.Logger
}

// New builds a Replayer. runner must not quarantine again, otherwise every
// failed attempt would add a new entry.
func New(cfg Config, entries Entries, runner Runner, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{
		cfg:     cfg.withDefaults(),
		entries: entries,
		runner:  runner,
		logger:  logger.Named("replay"),
	}
}

// Run replays until nothing is left, the rounds are spent or ctx ends.
func (r *Replayer) Run(ctx context.Context) (Report, error) {
	var rep Report
	wait := r.cfg.Wait
	for round := 1; round <= r.cfg.Rounds; round++ {
		pending, err := r.entries.List(ctx, r.cfg.Target)
		if err != nil {
			return rep, err
		}
		rep.Remaining = len(pending)
		if len(pending) == 0 {
			break
		}
		rep.Rounds = round

		for _, stored := range pending {
			if err := ctx.Err(); err != nil {
				return rep, fmt.Errorf("replay canceled: %w", err)
			}
			rep.Attempted++
			if r.replayOne(ctx, stored) {
				rep.Replayed++
				rep.Remaining--
			}
		}
		if rep.Remaining == 0 || round == r.cfg.Rounds {
			break
		}

		r.logger.Warn("quarantined records still failing, retrying later",
			zap.Int("round", round),
			zap.Int("remaining", rep.Remaining),
			zap.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return rep, fmt.Errorf("replay canceled: %w", ctx.Err())
		case <-timer.C:
		}
		wait *= 2
	}

	switch {
	case rep.Remaining > 0:
		r.logger.Error("quarantined records could not be replayed", zap.Int("remaining", rep.Remaining))
	case rep.Attempted > 0:
		r.logger.Info("all quarantined records replayed", zap.Int("replayed", rep.Replayed))
	default:
		r.logger.Info("quarantine is empty")
	}
	return rep, nil
}

// replayOne ingests one entry and deletes it when it no longer fails.
func (r *Replayer) replayOne(ctx context.Context, stored quarantine.Stored) bool {
	logger := r.logger.With(zap.String("object", stored.Path), zap.String("target", stored.Entry.Target))
	rec, err := stored.Entry.RawRecord()
	if err != nil {
		logger.Warn("quarantine entry cannot be rebuilt", zap.Error(err))
		return false
	}
	sum, err := r.runner.Run(ctx, stored.Entry.Target, ingest.NewSliceSource(rec))
	if err != nil {
		logger.Warn("replay failed", zap.String("url", rec.URL), zap.Error(err))
		return false
	}
	if sum.Failed > 0 {
		logger.Debug("record still fails", zap.String("url", rec.URL))
		return false
	}
	if err := r.entries.Delete(ctx, stored.Path); err != nil {
		logger.Warn("replayed entry could not be removed", zap.Error(err))
		return false
	}
	logger.Info("quarantined record replayed", zap.String("url", rec.URL),
		zap.Int("written", sum.Written),
		zap.Int("duplicates", sum.Duplicates),
	)
	return true
}
