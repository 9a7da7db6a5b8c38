package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// KindResto names resto search APIs.
const KindResto = "resto"

// RestoQuery describes one resto collection search.
type RestoQuery struct {
	BaseURL    string
	Collection string
	// Extra holds additional server-side filters (status, dataset, ...).
	Extra  map[string]string
	Time   harvest.TimeRange
	Area   orb.Geometry
	Paging int
}

type restoFetcher struct {
	client *jsonClient
	search string
	query  url.Values
}

type restoResponse struct {
	Features []restoFeature `json:"features"`
}

type restoFeature struct {
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// NewResto builds a crawler over a resto collection search.
func NewResto(q RestoQuery, opts Options) (*Paginated, error) {
	if strings.TrimSpace(q.BaseURL) == "" {
		return nil, fmt.Errorf("resto url is required")
	}
	if strings.TrimSpace(q.Collection) == "" {
		return nil, fmt.Errorf("resto collection is required")
	}
	query := url.Values{}
	query.Set("sortParam", "published")
	query.Set("sortOrder", "ascending")
	if !q.Time.Start.IsZero() {
		query.Set("startDate", q.Time.Start.UTC().Format(time.RFC3339))
	}
	if !q.Time.End.IsZero() {
		query.Set("completionDate", q.Time.End.UTC().Format(time.RFC3339))
	}
	if q.Area != nil {
		query.Set("geometry", wkt.MarshalString(q.Area))
	}
	for k, v := range q.Extra {
		if v != "" {
			query.Set(k, v)
		}
	}
	opts = opts.withDefaults()
	f := &restoFetcher{
		client: newJSONClient(KindResto, opts),
		search: strings.TrimRight(q.BaseURL, "/") + "/api/collections/" + url.PathEscape(q.Collection) + "/search.json",
		query:  query,
	}
	return NewPaginated(KindResto, f, q.Paging, Filter{Time: q.Time, Area: q.Area}, opts.Logger.Named(KindResto)), nil
}

func (f *restoFetcher) FirstPage() int { return 1 }

func (f *restoFetcher) FetchPage(ctx context.Context, page, size int) ([]harvest.RawRecord, error) {
	query := cloneValues(f.query)
	query.Set("page", strconv.Itoa(page))
	query.Set("maxRecords", strconv.Itoa(size))

	var resp restoResponse
	if err := f.client.getJSON(ctx, f.search, query, &resp); err != nil {
		return nil, err
	}
	records := make([]harvest.RawRecord, 0, len(resp.Features))
	for _, feature := range resp.Features {
		records = append(records, feature.record())
	}
	return records, nil
}

func (feat restoFeature) record() harvest.RawRecord {
	metadata := make(map[string]any, len(feat.Properties)+2)
	for k, v := range feat.Properties {
		metadata[k] = v
	}
	metadata["id"] = feat.ID
	rec := harvest.RawRecord{
		URL:      downloadURL(feat.Properties),
		Metadata: metadata,
		Start:    parseTimeField(feat.Properties["startDate"]),
		End:      parseTimeField(feat.Properties["completionDate"]),
	}
	if len(feat.Geometry) > 0 && string(feat.Geometry) != "null" {
		if g, err := geojson.UnmarshalGeometry(feat.Geometry); err == nil && g.Geometry() != nil {
			rec.Geometry = g.Geometry()
			metadata["location"] = wkt.MarshalString(rec.Geometry)
		}
	}
	if rec.End.IsZero() {
		rec.End = rec.Start
	}
	return rec
}

func downloadURL(props map[string]any) string {
	services, _ := props["services"].(map[string]any)
	download, _ := services["download"].(map[string]any)
	if u, ok := download["url"].(string); ok {
		return u
	}
	return ""
}

// parseTimeField reads a provider timestamp in any layout dateparse knows.
// Zone-less values are taken as UTC. Anything else yields the zero time.
func parseTimeField(v any) time.Time {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseIn(strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
