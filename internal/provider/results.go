package provider

import (
	"context"

	"github.com/JakeFAU/geospaas-harvester/internal/args"
	"github.com/JakeFAU/geospaas-harvester/internal/crawler"
	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
)

// RecordFilter reports whether a raw record should be kept.
type RecordFilter func(harvest.RawRecord) bool

// Results is the lazy outcome of a search. It is a crawler.Crawler whose
// records additionally pass the handle's record filters.
type Results struct {
	name           string
	crawler        crawler.Crawler
	params         args.ParameterSet
	ingest         ingest.Config
	recordFilters  []RecordFilter
	datasetFilters []ingest.DatasetFilter
}

var _ crawler.Crawler = (*Results)(nil)

// Name is used as the target name when ingesting.
func (r *Results) Name() string { return r.name }

// Named returns r relabelled for a harvest target.
func (r *Results) Named(name string) *Results {
	r.name = name
	return r
}

// Params returns the validated search parameters.
func (r *Results) Params() args.ParameterSet { return r.params }

// IngestConfig returns the per-search pipeline sizing. Zero fields mean
// "use the global setting".
func (r *Results) IngestConfig() ingest.Config { return r.ingest }

// Filter adds a predicate over raw records.
func (r *Results) Filter(keep RecordFilter) *Results {
	r.recordFilters = append(r.recordFilters, keep)
	return r
}

// FilterDatasets adds a predicate over normalized datasets.
func (r *Results) FilterDatasets(keep ingest.DatasetFilter) *Results {
	r.datasetFilters = append(r.datasetFilters, keep)
	return r
}

// DatasetFilters returns the dataset predicates applied by Ingest.
func (r *Results) DatasetFilters() []ingest.DatasetFilter {
	return append([]ingest.DatasetFilter(nil), r.datasetFilters...)
}

// Next returns the next record accepted by every record filter.
func (r *Results) Next(ctx context.Context) (harvest.RawRecord, error) {
	for {
		rec, err := r.crawler.Next(ctx)
		if err != nil {
			return harvest.RawRecord{}, err
		}
		if r.keep(rec) {
			return rec, nil
		}
	}
}

func (r *Results) keep(rec harvest.RawRecord) bool {
	for _, keep := range r.recordFilters {
		if !keep(rec) {
			return false
		}
	}
	return true
}

// Stop asks the crawler to stop after its buffered records.
func (r *Results) Stop() { r.crawler.Stop() }

// State captures the crawler position.
func (r *Results) State() (harvest.CrawlerState, error) { return r.crawler.State() }

// Restore resumes the crawler from state.
func (r *Results) Restore(state harvest.CrawlerState) error { return r.crawler.Restore(state) }

// Ingest drains every result into the catalog through in.
func (r *Results) Ingest(ctx context.Context, in *ingest.Ingester) (ingest.Summary, error) {
	return in.Run(ctx, r.name, r, r.datasetFilters...)
}
