package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	ObserveRecord("handler-test", OutcomeWritten)
	ObserveCrawlerRequest("resto", 0)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), `harvester_records_total{outcome="written",target="handler-test"} 1`)
	require.Contains(t, string(body), `harvester_crawler_requests_total{kind="resto",status="error"}`)
}

func TestObserveHTTPRequest(t *testing.T) {
	t.Parallel()

	ObserveHTTPRequest(http.MethodGet, "/observe-test", http.StatusNotFound, 20*time.Millisecond)

	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/observe-test", "404")), 0)
}

func TestTracerIsUsableWithoutProvider(t *testing.T) {
	t.Parallel()

	InitTracing()
	require.NotNil(t, Tracer("crawler"))
}
