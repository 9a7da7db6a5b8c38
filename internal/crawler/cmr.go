package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// KindCMR names NASA Earthdata CMR granule searches.
const KindCMR = "cmr"

// DefaultCMRURL is the public UMM-JSON granule search endpoint.
const DefaultCMRURL = "https://cmr.earthdata.nasa.gov/search/granules.umm_json"

// CMRQuery describes one CMR granule search.
type CMRQuery struct {
	SearchURL string
	ShortName string
	Extra     map[string]string
	Time      harvest.TimeRange
	Area      orb.Geometry
	Paging    int
}

type cmrFetcher struct {
	client *jsonClient
	search string
	query  url.Values
}

type cmrResponse struct {
	Items []cmrItem `json:"items"`
}

type cmrItem struct {
	Meta map[string]any `json:"meta"`
	UMM  cmrUMM         `json:"umm"`
}

type cmrUMM struct {
	GranuleUR      string `json:"GranuleUR"`
	TemporalExtent struct {
		RangeDateTime struct {
			BeginningDateTime string `json:"BeginningDateTime"`
			EndingDateTime    string `json:"EndingDateTime"`
		} `json:"RangeDateTime"`
		SingleDateTime string `json:"SingleDateTime"`
	} `json:"TemporalExtent"`
	SpatialExtent struct {
		HorizontalSpatialDomain struct {
			Geometry struct {
				BoundingRectangles []struct {
					West  float64 `json:"WestBoundingCoordinate"`
					East  float64 `json:"EastBoundingCoordinate"`
					North float64 `json:"NorthBoundingCoordinate"`
					South float64 `json:"SouthBoundingCoordinate"`
				} `json:"BoundingRectangles"`
				GPolygons []struct {
					Boundary struct {
						Points []struct {
							Longitude float64 `json:"Longitude"`
							Latitude  float64 `json:"Latitude"`
						} `json:"Points"`
					} `json:"Boundary"`
				} `json:"GPolygons"`
			} `json:"Geometry"`
		} `json:"HorizontalSpatialDomain"`
	} `json:"SpatialExtent"`
	RelatedUrls []struct {
		URL  string `json:"URL"`
		Type string `json:"Type"`
	} `json:"RelatedUrls"`
}

// NewCMR builds a crawler over a CMR granule search.
func NewCMR(q CMRQuery, opts Options) (*Paginated, error) {
	if strings.TrimSpace(q.ShortName) == "" {
		return nil, fmt.Errorf("cmr short_name is required")
	}
	search := q.SearchURL
	if search == "" {
		search = DefaultCMRURL
	}
	query := url.Values{}
	query.Set("short_name", q.ShortName)
	query.Set("sort_key", "+start_date")
	if !q.Time.IsZero() {
		query.Set("temporal", cmrTime(q.Time.Start)+","+cmrTime(q.Time.End))
	}
	if q.Area != nil {
		key, value, err := cmrSpatial(q.Area)
		if err != nil {
			return nil, err
		}
		query.Set(key, value)
	}
	for k, v := range q.Extra {
		if v != "" {
			query.Set(k, v)
		}
	}
	opts = opts.withDefaults()
	f := &cmrFetcher{
		client: newJSONClient(KindCMR, opts),
		search: search,
		query:  query,
	}
	return NewPaginated(KindCMR, f, q.Paging, Filter{Time: q.Time, Area: q.Area}, opts.Logger.Named(KindCMR)), nil
}

func cmrTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// cmrSpatial renders the search area in CMR's lon/lat list syntax.
func cmrSpatial(g orb.Geometry) (string, string, error) {
	join := func(points []orb.Point) string {
		parts := make([]string, 0, len(points)*2)
		for _, p := range points {
			parts = append(parts,
				strconv.FormatFloat(p.Lon(), 'f', -1, 64),
				strconv.FormatFloat(p.Lat(), 'f', -1, 64))
		}
		return strings.Join(parts, ",")
	}
	switch v := g.(type) {
	case orb.Point:
		return "point", join([]orb.Point{v}), nil
	case orb.LineString:
		return "line", join(v), nil
	case orb.Polygon:
		return "polygon", join(v[0]), nil
	}
	return "", "", fmt.Errorf("cmr searches do not support %s geometries", g.GeoJSONType())
}

func (f *cmrFetcher) FirstPage() int { return 1 }

func (f *cmrFetcher) FetchPage(ctx context.Context, page, size int) ([]harvest.RawRecord, error) {
	query := cloneValues(f.query)
	query.Set("page_num", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(size))

	var resp cmrResponse
	if err := f.client.getJSON(ctx, f.search, query, &resp); err != nil {
		return nil, err
	}
	records := make([]harvest.RawRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		records = append(records, item.record())
	}
	return records, nil
}

func (item cmrItem) record() harvest.RawRecord {
	umm := item.UMM
	rec := harvest.RawRecord{
		Metadata: map[string]any{
			"meta":     item.Meta,
			"entry_id": umm.GranuleUR,
		},
		Start: parseTimeField(umm.TemporalExtent.RangeDateTime.BeginningDateTime),
		End:   parseTimeField(umm.TemporalExtent.RangeDateTime.EndingDateTime),
	}
	if rec.Start.IsZero() {
		rec.Start = parseTimeField(umm.TemporalExtent.SingleDateTime)
	}
	if rec.End.IsZero() {
		rec.End = rec.Start
	}
	rec.Metadata["time_coverage_start"] = umm.TemporalExtent.RangeDateTime.BeginningDateTime
	rec.Metadata["time_coverage_end"] = umm.TemporalExtent.RangeDateTime.EndingDateTime

	for _, u := range umm.RelatedUrls {
		if u.Type == "GET DATA" {
			rec.URL = u.URL
			break
		}
	}
	if rec.URL == "" && len(umm.RelatedUrls) > 0 {
		rec.URL = umm.RelatedUrls[0].URL
	}
	rec.Metadata["url"] = rec.URL

	geom := umm.SpatialExtent.HorizontalSpatialDomain.Geometry
	switch {
	case len(geom.GPolygons) > 0 && len(geom.GPolygons[0].Boundary.Points) >= 3:
		ring := make(orb.Ring, 0, len(geom.GPolygons[0].Boundary.Points)+1)
		for _, p := range geom.GPolygons[0].Boundary.Points {
			ring = append(ring, orb.Point{p.Longitude, p.Latitude})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}
		rec.Geometry = orb.Polygon{ring}
	case len(geom.BoundingRectangles) > 0:
		r := geom.BoundingRectangles[0]
		rec.Geometry = orb.Bound{Min: orb.Point{r.West, r.South}, Max: orb.Point{r.East, r.North}}.ToPolygon()
	}
	if rec.Geometry != nil {
		rec.Metadata["location"] = wkt.MarshalString(rec.Geometry)
	}
	return rec
}
