package provider

import (
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/args"
	"github.com/JakeFAU/geospaas-harvester/internal/crawler"
	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
)

// Parameters shared by every kind.
const (
	ParamStartTime = "start_time"
	ParamEndTime   = "end_time"
	ParamLocation  = "location"
	ParamIngester  = "ingester"
)

var ingesterParser = args.MustNewParser([]args.Spec{
	args.IntegerMin("fetch_workers", 1),
	args.IntegerMin("write_workers", 1),
	args.IntegerMin("queue_capacity", 1),
})

// CommonSpecs returns the search parameters every kind accepts.
func CommonSpecs() []args.Spec {
	return []args.Spec{
		args.Datetime(ParamStartTime, args.Help("earliest acquisition time")),
		args.Datetime(ParamEndTime, args.Help("latest acquisition time")),
		args.WKT(ParamLocation, nil, args.Help("search area as WKT")),
		args.Mapping(ParamIngester, ingesterParser, args.Help("pipeline sizing for this search")),
	}
}

// Option customizes a Provider.
type Option func(*Provider)

// WithStrict sets whether unknown search keys are rejected (the default) or
// dropped.
func WithStrict(strict bool) Option {
	return func(p *Provider) { p.strict = strict }
}

// WithCommon sets parameters merged under every search.
func WithCommon(common map[string]any) Option {
	return func(p *Provider) { p.common = maps.Clone(common) }
}

// WithCrawlerOptions sets the HTTP collaborators handed to crawlers.
func WithCrawlerOptions(opts crawler.Options) Option {
	return func(p *Provider) { p.crawlerOpts = opts }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Provider is one configured repository.
type Provider struct {
	name        string
	kind        Kind
	settings    args.ParameterSet
	search      *args.Parser
	strict      bool
	common      map[string]any
	crawlerOpts crawler.Options
	logger      *zap.Logger
}

// New validates a provider configuration entry. The entry's "type" key
// selects the kind; the remaining keys are the kind's settings.
func New(name string, entry map[string]any, opts ...Option) (*Provider, error) {
	p := &Provider{name: name, strict: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}

	kindName, _ := entry["type"].(string)
	kind, ok := Lookup(kindName)
	if !ok {
		return nil, fmt.Errorf("provider %s: unknown type %q (want one of %s)", name, kindName, strings.Join(KindNames(), ", "))
	}
	p.kind = kind

	settingsParser, err := args.NewParser(append([]args.Spec{args.Choice("type", KindNames())}, kind.Settings...), args.WithStrict(p.strict))
	if err != nil {
		return nil, fmt.Errorf("provider %s settings: %w", name, err)
	}
	p.settings, err = settingsParser.Parse(entry)
	if err != nil {
		return nil, fmt.Errorf("provider %s settings: %w", name, err)
	}

	p.search, err = args.NewParser(append(CommonSpecs(), kind.Search...), args.WithStrict(p.strict))
	if err != nil {
		return nil, fmt.Errorf("provider %s search specs: %w", name, err)
	}
	p.logger = p.logger.Named("provider").With(zap.String("provider", name), zap.String("kind", kind.Name))
	if p.crawlerOpts.Logger == nil {
		p.crawlerOpts.Logger = p.logger
	}
	return p, nil
}

// Name returns the configured provider name.
func (p *Provider) Name() string { return p.name }

// Kind returns the provider's registry entry.
func (p *Provider) Kind() Kind { return p.kind }

// Describe returns the search specs the provider accepts. It has no side
// effects.
func (p *Provider) Describe() []args.Spec { return p.search.Specs() }

// Search validates params merged over the common parameters and returns a
// handle over a new crawler.
func (p *Provider) Search(params map[string]any) (*Results, error) {
	merged := make(map[string]any, len(p.common)+len(params))
	maps.Copy(merged, p.common)
	maps.Copy(merged, params)

	ps, err := p.search.Parse(merged)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.name, err)
	}
	if ignored := p.search.Unknown(merged); len(ignored) > 0 {
		p.logger.Warn("ignoring unknown search parameters", zap.String("provider", p.name), zap.Strings("keys", ignored))
	}
	window := timeRange(ps)
	if !window.Start.IsZero() && !window.End.IsZero() && window.End.Before(window.Start) {
		return nil, fmt.Errorf("search %s: %w", p.name, &args.ValidationError{Fields: []args.FieldError{{
			Field:   ParamEndTime,
			Problem: args.ProblemInvalid,
			Reason:  "end_time is before start_time",
		}}})
	}

	filter := crawler.Filter{Time: window, Area: ps.Geometry(ParamLocation)}
	c, err := p.kind.New(p.settings, ps, filter, p.crawlerOpts)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.name, err)
	}
	p.logger.Debug("search prepared", zap.Strings("params", ps.Names()))

	r := &Results{
		name:    p.name,
		crawler: c,
		params:  ps,
		ingest:  ingesterConfig(ps.Params(ParamIngester)),
	}
	if p.kind.FolderCoverage && !window.IsZero() {
		r.datasetFilters = append(r.datasetFilters, ingest.TimeFilter(window))
	}
	return r, nil
}

func timeRange(ps args.ParameterSet) harvest.TimeRange {
	var r harvest.TimeRange
	if t, ok := ps.Time(ParamStartTime); ok {
		r.Start = t
	}
	if t, ok := ps.Time(ParamEndTime); ok {
		r.End = t
	}
	return r
}

func ingesterConfig(ps args.ParameterSet) ingest.Config {
	return ingest.Config{
		FetchWorkers:  ps.Int("fetch_workers"),
		WriteWorkers:  ps.Int("write_workers"),
		QueueCapacity: ps.Int("queue_capacity"),
	}
}
