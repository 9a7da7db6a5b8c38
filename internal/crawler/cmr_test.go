package crawler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

const cmrPage = `{
  "hits": 2,
  "items": [
    {
      "meta": {"concept-id": "G1-POCLOUD"},
      "umm": {
        "GranuleUR": "20240310-MUR-L4",
        "TemporalExtent": {"RangeDateTime": {
          "BeginningDateTime": "2024-03-10T00:00:00.000Z",
          "EndingDateTime": "2024-03-10T23:59:59.000Z"
        }},
        "SpatialExtent": {"HorizontalSpatialDomain": {"Geometry": {
          "BoundingRectangles": [{
            "WestBoundingCoordinate": -10, "EastBoundingCoordinate": 10,
            "NorthBoundingCoordinate": 70, "SouthBoundingCoordinate": 50
          }]
        }}},
        "RelatedUrls": [
          {"URL": "https://archive.example/browse.png", "Type": "GET RELATED VISUALIZATION"},
          {"URL": "https://archive.example/20240310-MUR-L4.nc", "Type": "GET DATA"}
        ]
      }
    },
    {
      "meta": {"concept-id": "G2-POCLOUD"},
      "umm": {
        "GranuleUR": "20240311-MUR-L4",
        "TemporalExtent": {"SingleDateTime": "2024-03-11T12:00:00Z"},
        "SpatialExtent": {"HorizontalSpatialDomain": {"Geometry": {
          "GPolygons": [{"Boundary": {"Points": [
            {"Longitude": 0, "Latitude": 55},
            {"Longitude": 5, "Latitude": 55},
            {"Longitude": 5, "Latitude": 60}
          ]}}]
        }}},
        "RelatedUrls": [{"URL": "https://archive.example/20240311-MUR-L4.nc", "Type": "GET DATA"}]
      }
    }
  ]
}`

func TestCMRCrawler(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		queries []url.Values
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/vnd.nasa.cmr.umm_results+json")
		if r.URL.Query().Get("page_num") == "1" {
			_, _ = w.Write([]byte(cmrPage))
			return
		}
		_, _ = w.Write([]byte(`{"hits": 2, "items": []}`))
	}))
	t.Cleanup(ts.Close)

	c, err := NewCMR(CMRQuery{
		SearchURL: ts.URL + "/search/granules.umm_json",
		ShortName: "MUR-JPL-L4-GLOB-v4.1",
		Time:      march(),
		Area:      orb.Polygon{{{-5, 52}, {8, 52}, {8, 62}, {-5, 62}, {-5, 52}}},
		Paging:    2,
	}, Options{HTTPClient: ts.Client(), Retry: fastRetry(2)})
	require.NoError(t, err)

	first, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://archive.example/20240310-MUR-L4.nc", first.URL)
	require.Equal(t, "20240310-MUR-L4", first.Metadata["entry_id"])
	require.Equal(t, map[string]any{"concept-id": "G1-POCLOUD"}, first.Metadata["meta"])
	require.Equal(t, time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC), first.End)
	require.Equal(t, orb.Bound{Min: orb.Point{-10, 50}, Max: orb.Point{10, 70}}, first.Geometry.Bound())

	second, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "20240311-MUR-L4", second.Metadata["entry_id"])
	require.Equal(t, second.Start, second.End)
	polygon, ok := second.Geometry.(orb.Polygon)
	require.True(t, ok)
	require.True(t, polygon[0].Closed())
	require.Len(t, polygon[0], 4)

	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, queries, 2)
	q := queries[0]
	require.Equal(t, "MUR-JPL-L4-GLOB-v4.1", q.Get("short_name"))
	require.Equal(t, "+start_date", q.Get("sort_key"))
	require.Equal(t, "2024-03-01T00:00:00Z,2024-03-31T00:00:00Z", q.Get("temporal"))
	require.Equal(t, "-5,52,8,52,8,62,-5,62,-5,52", q.Get("polygon"))
	require.Equal(t, "1", q.Get("page_num"))
	require.Equal(t, "2", q.Get("page_size"))
	require.Equal(t, "2", queries[1].Get("page_num"))
}

func TestCMRSpatial(t *testing.T) {
	t.Parallel()

	key, value, err := cmrSpatial(orb.Point{4.5, 60.25})
	require.NoError(t, err)
	require.Equal(t, "point", key)
	require.Equal(t, "4.5,60.25", value)

	key, value, err = cmrSpatial(orb.LineString{{0, 0}, {1, 1}})
	require.NoError(t, err)
	require.Equal(t, "line", key)
	require.Equal(t, "0,0,1,1", value)

	_, _, err = cmrSpatial(orb.MultiPoint{{0, 0}})
	require.ErrorContains(t, err, "MultiPoint")
}

func TestNewCMRRequiresShortName(t *testing.T) {
	t.Parallel()

	_, err := NewCMR(CMRQuery{}, Options{})
	require.ErrorContains(t, err, "short_name is required")
}
