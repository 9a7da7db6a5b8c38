package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

func restoFeatureJSON(id, start string, lon, lat float64) map[string]any {
	return map[string]any{
		"id":       id,
		"geometry": map[string]any{"type": "Point", "coordinates": []float64{lon, lat}},
		"properties": map[string]any{
			"title":          id,
			"startDate":      start,
			"completionDate": start,
			"services": map[string]any{
				"download": map[string]any{"url": "https://dl.example/" + id + ".zip"},
			},
		},
	}
}

type restoServer struct {
	mu      sync.Mutex
	queries []url.Values
	pages   map[string][]map[string]any
	fail    int
	status  int
}

func (s *restoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, r.URL.Query())
	if r.URL.Path != "/api/collections/S1/search.json" {
		http.NotFound(w, r)
		return
	}
	if s.fail > 0 {
		s.fail--
		w.WriteHeader(s.status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":     "FeatureCollection",
		"features": s.pages[r.URL.Query().Get("page")],
	})
}

func (s *restoServer) requests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.queries...)
}

func march() harvest.TimeRange {
	return harvest.TimeRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestRestoCrawlerQueriesAndFilters(t *testing.T) {
	t.Parallel()

	srv := &restoServer{pages: map[string][]map[string]any{
		"1": {
			restoFeatureJSON("in-range", "2024-03-10T10:00:00Z", 5, 60),
			// Servers sometimes ignore the temporal filter.
			restoFeatureJSON("too-old", "2023-01-10T10:00:00Z", 5, 60),
		},
		"2": {
			restoFeatureJSON("far-away", "2024-03-11T10:00:00Z", 120, -30),
		},
	}}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	area := orb.Polygon{{{0, 55}, {10, 55}, {10, 65}, {0, 65}, {0, 55}}}
	c, err := NewResto(RestoQuery{
		BaseURL:    ts.URL + "/",
		Collection: "S1",
		Extra:      map[string]string{"status": "all", "dataset": ""},
		Time:       march(),
		Area:       area,
		Paging:     2,
	}, Options{HTTPClient: ts.Client(), Retry: fastRetry(2)})
	require.NoError(t, err)

	rec, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://dl.example/in-range.zip", rec.URL)
	require.Equal(t, "in-range", rec.Metadata["id"])
	require.Equal(t, "in-range", rec.Metadata["title"])
	require.Equal(t, "POINT(5 60)", rec.Metadata["location"])
	require.Equal(t, orb.Point{5, 60}, rec.Geometry)
	require.Equal(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), rec.Start)

	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)

	queries := srv.requests()
	require.Len(t, queries, 2)
	first := queries[0]
	require.Equal(t, "1", first.Get("page"))
	require.Equal(t, "2", first.Get("maxRecords"))
	require.Equal(t, "published", first.Get("sortParam"))
	require.Equal(t, "ascending", first.Get("sortOrder"))
	require.Equal(t, "2024-03-01T00:00:00Z", first.Get("startDate"))
	require.Equal(t, "2024-03-31T00:00:00Z", first.Get("completionDate"))
	require.True(t, strings.HasPrefix(first.Get("geometry"), "POLYGON"))
	require.Equal(t, "all", first.Get("status"))
	require.False(t, first.Has("dataset"))
	require.Equal(t, "2", queries[1].Get("page"))
}

func TestRestoCrawlerRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	srv := &restoServer{
		fail:   1,
		status: http.StatusServiceUnavailable,
		pages: map[string][]map[string]any{
			"1": {restoFeatureJSON("only", "2024-03-10T10:00:00Z", 5, 60)},
		},
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	c, err := NewResto(RestoQuery{BaseURL: ts.URL, Collection: "S1", Paging: 10},
		Options{HTTPClient: ts.Client(), Retry: fastRetry(3)})
	require.NoError(t, err)

	rec, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://dl.example/only.zip", rec.URL)
	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.Len(t, srv.requests(), 2)
}

func TestRestoCrawlerGivesUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		attempts int
	}{
		{name: "server error exhausts retries", status: http.StatusBadGateway, attempts: 3},
		{name: "client error fails at once", status: http.StatusBadRequest, attempts: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := &restoServer{fail: 100, status: tc.status}
			ts := httptest.NewServer(srv)
			t.Cleanup(ts.Close)

			c, err := NewResto(RestoQuery{BaseURL: ts.URL, Collection: "S1"},
				Options{HTTPClient: ts.Client(), Retry: fastRetry(3)})
			require.NoError(t, err)

			_, err = c.Next(context.Background())
			var crawlErr *CrawlerError
			require.ErrorAs(t, err, &crawlErr)
			require.Equal(t, KindResto, crawlErr.Kind)
			require.Equal(t, tc.attempts, crawlErr.Attempts)
			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			require.Equal(t, tc.status, statusErr.StatusCode)
			require.Len(t, srv.requests(), tc.attempts)
		})
	}
}

func TestRestoCrawlerRejectsGarbage(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	t.Cleanup(ts.Close)

	c, err := NewResto(RestoQuery{BaseURL: ts.URL, Collection: "S1"},
		Options{HTTPClient: ts.Client(), Retry: fastRetry(3)})
	require.NoError(t, err)

	_, err = c.Next(context.Background())
	var crawlErr *CrawlerError
	require.ErrorAs(t, err, &crawlErr)
	require.Equal(t, 1, crawlErr.Attempts)
	require.ErrorContains(t, err, "decode resto response")
}

func TestNewRestoValidatesQuery(t *testing.T) {
	t.Parallel()

	_, err := NewResto(RestoQuery{Collection: "S1"}, Options{})
	require.ErrorContains(t, err, "url is required")
	_, err = NewResto(RestoQuery{BaseURL: "https://colhub.example"}, Options{})
	require.ErrorContains(t, err, "collection is required")
}

func TestRestoCrawlerStopInterruptsRetries(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		hits    int
		stopper func()
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		stop := stopper
		mu.Unlock()
		if stop != nil {
			stop()
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)

	c, err := NewResto(RestoQuery{BaseURL: ts.URL, Collection: "S1", Paging: 10},
		Options{HTTPClient: ts.Client(), Retry: fastRetry(5)})
	require.NoError(t, err)
	mu.Lock()
	stopper = c.Stop
	mu.Unlock()

	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	var cerr *CrawlerError
	require.False(t, errors.As(err, &cerr), "a stop is not a crawl failure")

	mu.Lock()
	require.Less(t, hits, 5)
	mu.Unlock()

	raw, err := c.State()
	require.NoError(t, err)
	var st pageState
	require.NoError(t, json.Unmarshal(raw.Data, &st))
	require.Equal(t, 1, st.Page)
	require.Zero(t, st.Delivered)
}

func TestRestoCrawlerReadsLooseTimestamps(t *testing.T) {
	t.Parallel()

	srv := &restoServer{pages: map[string][]map[string]any{
		"1": {
			restoFeatureJSON("spaced", "2024-03-10 10:00:00", 5, 60),
			restoFeatureJSON("too-old", "2023-01-10T10:00:00+0000", 5, 60),
			restoFeatureJSON("garbled", "sometime in spring", 5, 60),
		},
	}}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	core, logs := observer.New(zapcore.WarnLevel)
	c, err := NewResto(RestoQuery{BaseURL: ts.URL, Collection: "S1", Time: march(), Paging: 10},
		Options{HTTPClient: ts.Client(), Retry: fastRetry(1), Logger: zap.New(core)})
	require.NoError(t, err)

	rec, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "spaced", rec.Metadata["id"])
	require.Equal(t, time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), rec.Start)

	// Unknown times pass the window but are reported.
	rec, err = c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "garbled", rec.Metadata["id"])
	require.True(t, rec.Start.IsZero())
	require.Equal(t, 1, logs.FilterMessage("record time unknown, kept despite search window").Len())

	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}
