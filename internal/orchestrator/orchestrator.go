package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
	"github.com/JakeFAU/geospaas-harvester/internal/provider"
	"github.com/JakeFAU/geospaas-harvester/internal/state"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

// Phase is a target lifecycle state.
type Phase string

// Target phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhaseCompleted  Phase = "completed"
	PhaseCancelling Phase = "cancelling"
	PhaseDumped     Phase = "dumped"
	PhaseFailed     Phase = "failed"
	PhaseExited     Phase = "exited"
)

// ErrGraceExceeded reports a target that was still running when the
// shutdown grace period ended.
var ErrGraceExceeded = errors.New("target did not stop within the grace period")

// WorkerCrash is an unexpected panic inside a target's worker.
type WorkerCrash struct {
	Target string
	Value  any
	Stack  []byte
}

func (e *WorkerCrash) Error() string {
	return fmt.Sprintf("target %s crashed: %v", e.Target, e.Value)
}

// Target is one configured search against one provider.
type Target struct {
	Name     string
	Provider *provider.Provider
	Params   map[string]any
}

// IngesterFactory builds the pipeline of one target cycle.
type IngesterFactory func(target string, cfg ingest.Config) *ingest.Ingester

// Config controls scheduling and shutdown.
type Config struct {
	Endless      bool
	PollInterval time.Duration
	Grace        time.Duration
	// Ingest holds the global pipeline sizing; searches may override it.
	Ingest ingest.Config
}

// Orchestrator runs every target until completion or shutdown.
type Orchestrator struct {
	cfg         Config
	states      *state.Store
	newIngester IngesterFactory
	logger      *zap.Logger
	runs        []*targetRun
}

// New validates every target's search parameters. Targets that fail
// validation are reported as failed and never started; the others are
// unaffected.
func New(cfg Config, targets []Target, states *state.Store, newIngester IngesterFactory, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	o := &Orchestrator{
		cfg:         cfg,
		states:      states,
		newIngester: newIngester,
		logger:      logger.Named("orchestrator"),
	}
	for _, t := range targets {
		run := &targetRun{target: t, phase: PhaseIdle}
		res, err := t.Provider.Search(t.Params)
		if err != nil {
			o.logger.Error("invalid search parameters", zap.String("target", t.Name), zap.Error(err))
			run.phase, run.err, run.invalid = PhaseFailed, err, true
		} else {
			run.ingest = cfg.Ingest.Merge(res.IngestConfig())
		}
		o.runs = append(o.runs, run)
	}
	return o
}

// WriteWorkerDemand sums the write pool sizes of every runnable target.
func (o *Orchestrator) WriteWorkerDemand() int {
	total := 0
	for _, r := range o.runs {
		if r.invalid {
			continue
		}
		n := r.ingest.WriteWorkers
		if n <= 0 {
			n = 1
		}
		total += n
	}
	return total
}

// CheckConnectionBudget warns when the targets together may open more catalog
// connections than maxConns minus headroom. It reports whether the budget
// holds. The limit is not enforced.
func (o *Orchestrator) CheckConnectionBudget(maxConns, headroom int) bool {
	if maxConns <= 0 {
		return true
	}
	demand, budget := o.WriteWorkerDemand(), maxConns-headroom
	if demand > budget {
		o.logger.Warn("write workers exceed the catalog connection budget",
			zap.Int("write_workers", demand),
			zap.Int("max_conns", maxConns),
			zap.Int("headroom", headroom),
		)
		return false
	}
	return true
}

// Run starts every valid target and blocks until they all exit. Cancelling
// ctx starts the graceful shutdown.
func (o *Orchestrator) Run(ctx context.Context) Report {
	hardCtx, kill := context.WithCancel(context.WithoutCancel(ctx))
	defer kill()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for _, run := range o.runs {
		if run.invalid {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			telemetry.IncActiveTargets()
			defer telemetry.DecActiveTargets()
			o.supervise(hardCtx, stop, run)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Info("shutdown requested, stopping targets", zap.Duration("grace", o.cfg.Grace))
		close(stop)
		timer := time.NewTimer(o.cfg.Grace)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			kill()
			for _, run := range o.runs {
				if run.forceKill() {
					o.logger.Error("target killed after grace period", zap.String("target", run.target.Name))
				}
			}
		}
	}
	return o.Snapshot()
}

// Snapshot reports the current state of every target.
func (o *Orchestrator) Snapshot() Report {
	rep := Report{Targets: make([]TargetReport, 0, len(o.runs))}
	for _, r := range o.runs {
		rep.Targets = append(rep.Targets, r.report())
	}
	return rep
}

func stopping(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// supervise runs cycles of one target until it completes, fails for good or
// shutdown is requested.
func (o *Orchestrator) supervise(ctx context.Context, stop <-chan struct{}, run *targetRun) {
	logger := o.logger.With(zap.String("target", run.target.Name))
	defer run.exit()

	for {
		retry := o.cycle(ctx, stop, run, logger)
		if !retry || !o.cfg.Endless || stopping(stop) || ctx.Err() != nil {
			return
		}
		run.setPhase(PhaseIdle)
		logger.Info("waiting for next cycle", zap.Duration("poll_interval", o.cfg.PollInterval))
		timer := time.NewTimer(o.cfg.PollInterval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle runs the target once and reports whether a later cycle may run.
func (o *Orchestrator) cycle(ctx context.Context, stop <-chan struct{}, run *targetRun, logger *zap.Logger) (retry bool) {
	t := run.target
	run.startCycle()
	logger.Info("cycle started", zap.Int("cycle", run.cycles()))

	defer func() {
		if r := recover(); r != nil {
			crash := &WorkerCrash{Target: t.Name, Value: r, Stack: debug.Stack()}
			logger.Error("target crashed", zap.Any("panic", r), zap.ByteString("stack", crash.Stack))
			run.finish(PhaseFailed, ingest.Summary{}, crash)
			retry = true
		}
	}()

	res, err := t.Provider.Search(t.Params)
	if err != nil {
		logger.Error("search failed", zap.Error(err))
		run.finish(PhaseFailed, ingest.Summary{}, err)
		return false
	}
	res.Named(t.Name)

	prior, found, err := o.states.Load(t.Name, t.Provider.Kind().Name)
	if err != nil {
		logger.Error("cannot resume target", zap.String("cursor", o.states.Path(t.Name)), zap.Error(err))
		run.finish(PhaseFailed, ingest.Summary{}, err)
		return false
	}
	if found {
		if err := res.Restore(prior); err != nil {
			err = fmt.Errorf("restore %s: %w: %w", t.Name, state.ErrIncompatibleState, err)
			logger.Error("cannot resume target", zap.Error(err))
			run.finish(PhaseFailed, ingest.Summary{}, err)
			return false
		}
		logger.Info("resuming from cursor", zap.String("cursor", o.states.Path(t.Name)))
	}

	ingester := o.newIngester(t.Name, run.ingest)
	var (
		cycleDone   = make(chan struct{})
		stopperDone = make(chan struct{})
		endOnce     sync.Once
	)
	endCycle := func() { endOnce.Do(func() { close(cycleDone) }) }
	defer endCycle()
	go func() {
		defer close(stopperDone)
		select {
		case <-stop:
			run.setPhase(PhaseCancelling)
			logger.Info("stopping crawler")
			res.Stop()
		case <-cycleDone:
		}
	}()

	sum, err := res.Ingest(ctx, ingester)
	endCycle()
	<-stopperDone
	var crash *ingest.PanicError
	switch {
	case errors.As(err, &crash):
		werr := &WorkerCrash{Target: t.Name, Value: crash.Value, Stack: crash.Stack}
		logger.Error("target crashed", zap.Any("panic", crash.Value), zap.ByteString("stack", crash.Stack))
		run.finish(PhaseFailed, sum, werr)
		return true
	case ctx.Err() != nil:
		// Killed after the grace period; queued records were dropped, so the
		// previous cursor is kept.
		run.finish(PhaseFailed, sum, fmt.Errorf("%w: %w", ErrGraceExceeded, err))
		return false
	case err != nil:
		logger.Error("cycle failed", zap.Error(err))
		o.dump(run, res, logger)
		run.finish(PhaseFailed, sum, err)
		return true
	case sum.Stopped:
		if derr := o.dump(run, res, logger); derr != nil {
			run.finish(PhaseFailed, sum, derr)
			return false
		}
		run.finish(PhaseDumped, sum, nil)
		return false
	default:
		if derr := o.states.Delete(t.Name); derr != nil {
			logger.Warn("remove cursor", zap.Error(derr))
		}
		run.finish(PhaseCompleted, sum, nil)
		logger.Info("cycle completed", zap.Int("written", sum.Written), zap.Int("duplicates", sum.Duplicates), zap.Int("failed", sum.Failed))
		return true
	}
}

func (o *Orchestrator) dump(run *targetRun, res *provider.Results, logger *zap.Logger) error {
	st, err := res.State()
	if err == nil {
		err = o.states.Save(run.target.Name, st)
	}
	if err != nil {
		logger.Error("dump cursor", zap.Error(err))
		return fmt.Errorf("dump cursor for %s: %w", run.target.Name, err)
	}
	run.setCursor(o.states.Path(run.target.Name))
	logger.Info("cursor dumped", zap.String("cursor", o.states.Path(run.target.Name)))
	return nil
}
