package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/geospaas-harvester/internal/crawler"
	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/queue/memory"
	"github.com/JakeFAU/geospaas-harvester/internal/telemetry"
)

const (
	defaultFetchWorkers  = 1
	defaultWriteWorkers  = 1
	defaultQueueCapacity = 500
)

// Config sizes the pipeline. Zero values take the defaults.
type Config struct {
	FetchWorkers  int `mapstructure:"fetch_workers"`
	WriteWorkers  int `mapstructure:"write_workers"`
	QueueCapacity int `mapstructure:"queue_capacity"`
	// Topic receives a Notification per newly written dataset when a
	// publisher is configured.
	Topic string `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = defaultFetchWorkers
	}
	if c.WriteWorkers <= 0 {
		c.WriteWorkers = defaultWriteWorkers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	return c
}

// Merge returns c with the non-zero fields of override applied.
func (c Config) Merge(override Config) Config {
	if override.FetchWorkers > 0 {
		c.FetchWorkers = override.FetchWorkers
	}
	if override.WriteWorkers > 0 {
		c.WriteWorkers = override.WriteWorkers
	}
	if override.QueueCapacity > 0 {
		c.QueueCapacity = override.QueueCapacity
	}
	if override.Topic != "" {
		c.Topic = override.Topic
	}
	return c
}

// Source yields raw records. crawler.Crawler satisfies it.
type Source interface {
	Next(ctx context.Context) (harvest.RawRecord, error)
}

// Quarantiner keeps records that failed normalization.
type Quarantiner interface {
	Put(ctx context.Context, target string, rec harvest.RawRecord, reason error) (string, error)
}

// DatasetFilter reports whether a normalized dataset should be written.
type DatasetFilter func(harvest.Dataset) bool

// TimeFilter keeps datasets whose coverage overlaps r.
func TimeFilter(r harvest.TimeRange) DatasetFilter {
	return func(ds harvest.Dataset) bool {
		return r.Intersects(ds.TimeCoverageStart, ds.TimeCoverageEnd)
	}
}

// Summary counts the outcome of one run.
type Summary struct {
	Written    int  `json:"written"`
	Duplicates int  `json:"duplicates"`
	Failed     int  `json:"failed"`
	Filtered   int  `json:"filtered"`
	Stopped    bool `json:"stopped"`
}

// Notification announces a dataset that was added to the catalog.
type Notification struct {
	Target            string    `json:"target"`
	EntryID           string    `json:"entry_id"`
	URI               string    `json:"uri"`
	Title             string    `json:"title,omitempty"`
	TimeCoverageStart time.Time `json:"time_coverage_start,omitzero"`
	TimeCoverageEnd   time.Time `json:"time_coverage_end,omitzero"`
}

// Attributes exposes routing keys as message attributes.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"target": n.Target, "entry_id": n.EntryID}
}

// item travels from the fetch pool to the write pool. A nil dataset marks a
// record whose normalization failed.
type item struct {
	dataset *harvest.Dataset
	url     string
}

type tally struct {
	written    atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
	filtered   atomic.Int64
	stopped    atomic.Bool
}

func (t *tally) summary() Summary {
	return Summary{
		Written:    int(t.written.Load()),
		Duplicates: int(t.duplicates.Load()),
		Failed:     int(t.failed.Load()),
		Filtered:   int(t.filtered.Load()),
		Stopped:    t.stopped.Load(),
	}
}

// PanicError is returned when a pool worker panicked. The run is abandoned
// but the process keeps going.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker panic: %v", e.Value)
}

func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return fn()
	}
}

// Ingester runs the fetch/normalize and write pools for one source at a time.
type Ingester struct {
	cfg        Config
	normalizer harvest.Normalizer
	catalog    harvest.Catalog
	quarantine Quarantiner
	publisher  harvest.Publisher
	logger     *zap.Logger
}

// New constructs an Ingester. quarantine and publisher may be nil.
func New(
	cfg Config,
	normalizer harvest.Normalizer,
	catalog harvest.Catalog,
	quarantine Quarantiner,
	publisher harvest.Publisher,
	logger *zap.Logger,
) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		cfg:        cfg.withDefaults(),
		normalizer: normalizer,
		catalog:    catalog,
		quarantine: quarantine,
		publisher:  publisher,
		logger:     logger.Named("ingest"),
	}
}

// Config reports the effective pool sizes.
func (in *Ingester) Config() Config { return in.cfg }

// Run drains src into the catalog and blocks until every queued dataset was
// handled. Stopping the source ends the run gracefully; cancelling ctx
// abandons queued work and returns the context error.
func (in *Ingester) Run(ctx context.Context, target string, src Source, filters ...DatasetFilter) (Summary, error) {
	logger := in.logger.With(zap.String("target", target))
	q := memory.NewQueue[item](in.cfg.QueueCapacity)
	var t tally

	writers, wctx := errgroup.WithContext(ctx)
	for i := 0; i < in.cfg.WriteWorkers; i++ {
		wlog := logger.With(zap.Int("index", i))
		writers.Go(guard(func() error {
			return in.writeLoop(wctx, target, q, &t, wlog)
		}))
	}

	var (
		fetchers errgroup.Group
		halt     atomic.Bool
	)
	for i := 0; i < in.cfg.FetchWorkers; i++ {
		flog := logger.With(zap.Int("index", i))
		fetch := guard(func() error {
			return in.fetchLoop(wctx, target, src, q, filters, &t, &halt, flog)
		})
		fetchers.Go(func() error {
			err := fetch()
			if err != nil {
				halt.Store(true)
			}
			return err
		})
	}

	fetchErr := fetchers.Wait()
	q.Close()
	writeErr := writers.Wait()
	telemetry.SetQueueDepth(target, 0)

	sum := t.summary()
	logger.Info("ingest finished",
		zap.Int("written", sum.Written),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("failed", sum.Failed),
		zap.Int("filtered", sum.Filtered),
		zap.Bool("stopped", sum.Stopped),
	)

	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("ingest %s: %w", target, err)
	}
	var crash *PanicError
	for _, err := range []error{writeErr, fetchErr} {
		if errors.As(err, &crash) {
			return sum, fmt.Errorf("ingest %s: %w", target, crash)
		}
	}
	if fetchErr != nil {
		return sum, fmt.Errorf("ingest %s: %w", target, fetchErr)
	}
	if writeErr != nil {
		return sum, fmt.Errorf("ingest %s: %w", target, writeErr)
	}
	return sum, nil
}

func (in *Ingester) fetchLoop(
	ctx context.Context,
	target string,
	src Source,
	q *memory.Queue[item],
	filters []DatasetFilter,
	t *tally,
	halt *atomic.Bool,
	logger *zap.Logger,
) error {
	for !halt.Load() {
		rec, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, crawler.ErrStopped):
			t.stopped.Store(true)
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if halt.Load() {
				// Another worker already reported the failure.
				return nil
			}
			logger.Error("source failed", zap.Error(err))
			return err
		}

		next, keep := in.normalize(ctx, target, rec, filters, t, logger)
		if !keep {
			continue
		}
		if err := q.Enqueue(ctx, next); err != nil {
			return err
		}
		telemetry.SetQueueDepth(target, q.Len())
	}
	return nil
}

// normalize converts rec and reports whether anything should be queued.
func (in *Ingester) normalize(
	ctx context.Context,
	target string,
	rec harvest.RawRecord,
	filters []DatasetFilter,
	t *tally,
	logger *zap.Logger,
) (item, bool) {
	if in.known(ctx, rec.URL, logger) {
		t.duplicates.Add(1)
		telemetry.ObserveRecord(target, telemetry.OutcomeDuplicate)
		return item{}, false
	}
	ds, err := in.normalizer.Normalize(ctx, rec)
	if err != nil {
		logger.Warn("normalization failed", zap.String("url", rec.URL), zap.Error(err))
		if in.quarantine != nil {
			uri, qerr := in.quarantine.Put(ctx, target, rec, err)
			if qerr != nil {
				logger.Warn("quarantine failed", zap.String("url", rec.URL), zap.Error(qerr))
			} else {
				logger.Debug("record quarantined", zap.String("url", rec.URL), zap.String("object", uri))
			}
		}
		return item{url: rec.URL}, true
	}
	ds.Target = target
	for _, keep := range filters {
		if !keep(ds) {
			t.filtered.Add(1)
			telemetry.ObserveRecord(target, telemetry.OutcomeFiltered)
			return item{}, false
		}
	}
	return item{dataset: &ds, url: rec.URL}, true
}

// known reports whether the catalog already holds a dataset at uri. Lookup
// failures fall through to normalization; the write stays idempotent.
func (in *Ingester) known(ctx context.Context, uri string, logger *zap.Logger) bool {
	checker, ok := in.catalog.(harvest.ExistenceChecker)
	uri = strings.TrimSpace(uri)
	if !ok || uri == "" {
		return false
	}
	found, err := checker.Exists(ctx, uri)
	if err != nil {
		logger.Warn("catalog lookup failed", zap.String("url", uri), zap.Error(err))
		return false
	}
	if found {
		logger.Debug("dataset already catalogued", zap.String("url", uri))
	}
	return found
}

func (in *Ingester) writeLoop(ctx context.Context, target string, q *memory.Queue[item], t *tally, logger *zap.Logger) error {
	for {
		next, err := q.Dequeue(ctx)
		if errors.Is(err, memory.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		telemetry.SetQueueDepth(target, q.Len())

		if next.dataset == nil {
			t.failed.Add(1)
			telemetry.ObserveRecord(target, telemetry.OutcomeFailed)
			continue
		}
		in.write(ctx, target, *next.dataset, t, logger)
	}
}

func (in *Ingester) write(ctx context.Context, target string, ds harvest.Dataset, t *tally, logger *zap.Logger) {
	err := in.catalog.Write(ctx, ds)
	switch {
	case err == nil:
		t.written.Add(1)
		telemetry.ObserveRecord(target, telemetry.OutcomeWritten)
		in.notify(ctx, target, ds, logger)
	case errors.Is(err, harvest.ErrDuplicate):
		t.duplicates.Add(1)
		telemetry.ObserveRecord(target, telemetry.OutcomeDuplicate)
		logger.Debug("dataset already catalogued", zap.String("entry_id", ds.EntryID))
	default:
		t.failed.Add(1)
		telemetry.ObserveRecord(target, telemetry.OutcomeFailed)
		logger.Warn("catalog write failed",
			zap.String("entry_id", ds.EntryID),
			zap.String("url", ds.URI),
			zap.Error(err),
		)
	}
}

func (in *Ingester) notify(ctx context.Context, target string, ds harvest.Dataset, logger *zap.Logger) {
	if in.publisher == nil || in.cfg.Topic == "" {
		return
	}
	msg := Notification{
		Target:            target,
		EntryID:           ds.EntryID,
		URI:               ds.URI,
		Title:             ds.Title,
		TimeCoverageStart: ds.TimeCoverageStart,
		TimeCoverageEnd:   ds.TimeCoverageEnd,
	}
	if _, err := in.publisher.Publish(ctx, in.cfg.Topic, msg); err != nil {
		logger.Warn("publish notification failed", zap.String("entry_id", ds.EntryID), zap.Error(err))
	}
}
