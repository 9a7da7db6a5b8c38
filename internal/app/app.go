// Package app builds the long-lived harvester services from configuration
// and wires them into an orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/clock/system"
	"github.com/JakeFAU/geospaas-harvester/internal/config"
	"github.com/JakeFAU/geospaas-harvester/internal/crawler"
	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/id/uuid"
	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
	"github.com/JakeFAU/geospaas-harvester/internal/normalize"
	"github.com/JakeFAU/geospaas-harvester/internal/orchestrator"
	"github.com/JakeFAU/geospaas-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/geospaas-harvester/internal/provider"
	pubsubpublisher "github.com/JakeFAU/geospaas-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/geospaas-harvester/internal/quarantine"
	"github.com/JakeFAU/geospaas-harvester/internal/replay"
	"github.com/JakeFAU/geospaas-harvester/internal/state"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/gcs"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/local"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/memory"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/postgres"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/s3"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/sqlite"
)

// App holds the shared services of one harvester process.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	catalog    harvest.Catalog
	quarantine ingest.Quarantiner
	blobs      harvest.BlobStore
	publisher  harvest.Publisher
	normalizer harvest.Normalizer
	states     *state.Store
	limiter    *ratelimit.Limiter
	closers    []func() error
}

// New connects every backend named by cfg. Anything opened before a failure
// is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{
		cfg:        cfg,
		logger:     logger,
		normalizer: normalize.New(),
		limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             1,
		}),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	clock := system.New()
	if a.states, err = state.NewStore(cfg.StateDir, clock); err != nil {
		return a, err
	}
	if err = a.openCatalog(ctx); err != nil {
		return a, err
	}
	if err = a.openQuarantine(ctx, clock); err != nil {
		return a, err
	}
	if err = a.openPublisher(ctx); err != nil {
		return a, err
	}
	logger.Info("services initialized",
		zap.String("catalog", cfg.Catalog.Backend),
		zap.String("quarantine", cfg.Quarantine.Backend),
		zap.Bool("notifications", a.publisher != nil),
	)
	return a, nil
}

func (a *App) openCatalog(ctx context.Context) error {
	c := a.cfg.Catalog
	switch c.Backend {
	case "postgres":
		store, err := postgres.NewCatalogStore(ctx, postgres.Config{
			DSN:             c.DSN,
			Table:           c.Table,
			MaxConns:        int32(c.MaxConns),
			MinConns:        int32(c.MinConns),
			MaxConnLifetime: c.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("open postgres catalog: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if c.CreateSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("create catalog schema: %w", err)
			}
		}
		a.catalog = store
	case "sqlite":
		store, err := sqlite.Open(sqlite.Config{DSN: c.DSN, Table: c.Table, MaxConns: c.MaxConns})
		if err != nil {
			return fmt.Errorf("open sqlite catalog: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if c.CreateSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("create catalog schema: %w", err)
			}
		}
		a.catalog = store
	case "memory":
		a.catalog = memory.NewCatalogStore()
	default:
		return fmt.Errorf("unknown catalog backend %q", c.Backend)
	}
	return nil
}

func (a *App) openQuarantine(ctx context.Context, clock harvest.Clock) error {
	q := a.cfg.Quarantine
	var blobs harvest.BlobStore
	switch q.Backend {
	case "none":
		return nil
	case "local":
		store, err := local.New(local.Config{Dir: q.Dir})
		if err != nil {
			return fmt.Errorf("open local quarantine: %w", err)
		}
		blobs = store
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: q.Bucket})
		if err != nil {
			return fmt.Errorf("open gcs quarantine: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		blobs = store
	case "s3":
		store, err := s3.New(s3.Config{
			Endpoint:  q.Endpoint,
			Bucket:    q.Bucket,
			AccessKey: q.AccessKey,
			SecretKey: q.SecretKey,
			UseSSL:    q.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("open s3 quarantine: %w", err)
		}
		blobs = store
	case "memory":
		blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown quarantine backend %q", q.Backend)
	}
	a.blobs = blobs
	a.quarantine = quarantine.New(blobs, q.Prefix, clock, uuid.New())
	return nil
}

func (a *App) openPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" {
		return nil
	}
	pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("open dataset notifications: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	a.publisher = pub
	return nil
}

// Catalog exposes the dataset catalog.
func (a *App) Catalog() harvest.Catalog { return a.catalog }

// States exposes the cursor store.
func (a *App) States() *state.Store { return a.states }

// CrawlerOptions is the shared HTTP behaviour of every provider.
func (a *App) CrawlerOptions() crawler.Options {
	h := a.cfg.HTTP
	return crawler.Options{
		Limiter: a.limiter,
		Retry: crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
			MaxAttempts: h.MaxRetries + 1,
			BaseDelay:   h.BackoffInitial(),
			MaxDelay:    h.BackoffMax(),
		}),
		UserAgent: h.UserAgent,
		Timeout:   h.Timeout(),
		Logger:    a.logger,
	}
}

// Targets resolves every search against its configured provider. Providers
// are built once and shared by the searches that name them.
func (a *App) Targets(s config.Searches) ([]orchestrator.Target, error) {
	if err := a.cfg.CheckProviders(s); err != nil {
		return nil, err
	}
	built := make(map[string]*provider.Provider)
	targets := make([]orchestrator.Target, 0, len(s.Searches))
	for _, search := range s.Searches {
		p, ok := built[search.Provider]
		if !ok {
			entry, _ := a.cfg.Provider(search.Provider)
			var err error
			p, err = provider.New(search.Provider, entry,
				provider.WithStrict(a.cfg.StrictSearchParameters),
				provider.WithCommon(s.Common),
				provider.WithCrawlerOptions(a.CrawlerOptions()),
				provider.WithLogger(a.logger),
			)
			if err != nil {
				return nil, &config.ConfigurationError{Field: "providers." + search.Provider, Reason: "invalid provider", Err: err}
			}
			built[search.Provider] = p
		}
		targets = append(targets, orchestrator.Target{Name: search.Name, Provider: p, Params: search.Params})
	}
	return targets, nil
}

// NewIngester builds the pipeline for one target cycle.
func (a *App) NewIngester(target string, cfg ingest.Config) *ingest.Ingester {
	cfg.Topic = a.cfg.PubSub.TopicName
	return ingest.New(cfg, a.normalizer, a.catalog, a.quarantine, a.publisher, a.logger.With(zap.String("target", target)))
}

// Replayer builds the quarantine replay. Zero fields of cfg take the
// configured values. Its ingester does not quarantine again.
func (a *App) Replayer(cfg replay.Config) (*replay.Replayer, error) {
	browser, ok := a.blobs.(harvest.BlobBrowser)
	if !ok {
		return nil, &config.ConfigurationError{Field: "quarantine.backend", Reason: fmt.Sprintf("backend %q keeps nothing to replay", a.cfg.Quarantine.Backend)}
	}
	if cfg.Rounds <= 0 {
		cfg.Rounds = a.cfg.Quarantine.ReplayRounds
	}
	if cfg.Wait <= 0 {
		cfg.Wait = a.cfg.Quarantine.ReplayWait()
	}
	ingestCfg := a.cfg.Ingester
	ingestCfg.Topic = a.cfg.PubSub.TopicName
	in := ingest.New(ingestCfg, a.normalizer, a.catalog, nil, a.publisher, a.logger)
	reader := quarantine.NewReader(browser, a.cfg.Quarantine.Prefix, a.logger)
	return replay.New(cfg, reader, in, a.logger), nil
}

// Orchestrator schedules targets with the configured shutdown behaviour.
func (a *App) Orchestrator(targets []orchestrator.Target) *orchestrator.Orchestrator {
	o := orchestrator.New(orchestrator.Config{
		Endless:      a.cfg.Endless,
		PollInterval: a.cfg.PollInterval(),
		Grace:        a.cfg.ShutdownGrace(),
		Ingest:       a.cfg.Ingester,
	}, targets, a.states, a.NewIngester, a.logger)
	if a.cfg.Catalog.Backend != "memory" {
		o.CheckConnectionBudget(a.cfg.Catalog.MaxConns, a.cfg.Catalog.ConnectionHeadroom)
	}
	return o
}

// LogVocabularies records the vocabulary refresh settings. Refreshing
// controlled vocabularies is left to the catalog side.
func (a *App) LogVocabularies() {
	versions := make([]string, 0, len(a.cfg.PythesintVersions))
	for name, v := range a.cfg.PythesintVersions {
		versions = append(versions, name+"="+v)
	}
	sort.Strings(versions)
	a.logger.Info("vocabulary settings",
		zap.Bool("update_vocabularies", a.cfg.UpdateVocabularies),
		zap.Bool("update_pythesint", a.cfg.UpdatePythesint),
		zap.Strings("versions", versions),
	)
}

// Close releases backends in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
