package harvest

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
)

// RawRecord is one repository-native description of a dataset. The metadata
// layout is opaque to the pipeline and handed untouched to the Normalizer.
type RawRecord struct {
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// Start and End carry the time coverage the crawler could infer, zero
	// when unknown.
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
	// Geometry is the footprint reported by the repository, nil when unknown.
	Geometry orb.Geometry `json:"-"`
}

// Dataset is the canonical record written to the catalog. EntryID is the
// stable identifier used for idempotent writes.
type Dataset struct {
	EntryID           string         `json:"entry_id"`
	Title             string         `json:"title,omitempty"`
	Summary           string         `json:"summary,omitempty"`
	URI               string         `json:"uri"`
	Target            string         `json:"target,omitempty"`
	TimeCoverageStart time.Time      `json:"time_coverage_start,omitzero"`
	TimeCoverageEnd   time.Time      `json:"time_coverage_end,omitzero"`
	Location          string         `json:"location,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// CrawlerState is a versioned snapshot of a crawler's traversal position.
// Data is owned by the crawler kind named in Kind.
type CrawlerState struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// TimeRange bounds a search in time. A zero bound is open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether both bounds are open.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Intersects reports whether a coverage [start, end] overlaps the range.
// Unknown coverage bounds never exclude a record.
func (r TimeRange) Intersects(start, end time.Time) bool {
	if !start.IsZero() && !r.End.IsZero() && start.After(r.End) {
		return false
	}
	if !end.IsZero() && !r.Start.IsZero() && end.Before(r.Start) {
		return false
	}
	return true
}
