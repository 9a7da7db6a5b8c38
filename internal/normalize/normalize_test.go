package normalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/hash/sha256"
)

func TestFieldMapperMapsKnownFields(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	rec := harvest.RawRecord{
		URL: "https://dl.example/S1A_IW_GRDH.zip",
		Metadata: map[string]any{
			"id":          "f0c1",
			"title":       "S1A_IW_GRDH",
			"description": "Sentinel-1 ground range product",
			"location":    "POINT(5 60)",
		},
		Start:    start,
		End:      start.Add(time.Minute),
		Geometry: orb.Point{1, 1},
	}

	ds, err := New().Normalize(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "f0c1", ds.EntryID)
	require.Equal(t, "S1A_IW_GRDH", ds.Title)
	require.Equal(t, "Sentinel-1 ground range product", ds.Summary)
	require.Equal(t, rec.URL, ds.URI)
	require.Equal(t, "POINT(5 60)", ds.Location)
	require.Equal(t, start, ds.TimeCoverageStart)
	require.Equal(t, start.Add(time.Minute), ds.TimeCoverageEnd)
	require.Equal(t, rec.Metadata, ds.Metadata)
}

func TestFieldMapperFallbacks(t *testing.T) {
	t.Parallel()

	rec := harvest.RawRecord{
		URL: "https://archive.example/2024/03/sst_0310.nc",
		Metadata: map[string]any{
			"time_coverage_start": "2024-03-10",
			"time_coverage_end":   "2024-03-10T23:59:59Z",
		},
		Geometry: orb.Point{5, 60},
	}

	ds, err := New().Normalize(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, sha256.New().Fingerprint(rec.URL), ds.EntryID)
	require.Equal(t, "sst_0310.nc", ds.Title)
	require.Equal(t, "POINT(5 60)", ds.Location)
	require.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), ds.TimeCoverageStart)
	require.Equal(t, time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC), ds.TimeCoverageEnd)

	again, err := New().Normalize(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, ds.EntryID, again.EntryID)
}

func TestFieldMapperNumericIdentifier(t *testing.T) {
	t.Parallel()

	ds, err := New().Normalize(context.Background(), harvest.RawRecord{
		URL:      "https://dl.example/42",
		Metadata: map[string]any{"id": float64(42)},
	})
	require.NoError(t, err)
	require.Equal(t, "42", ds.EntryID)
}

func TestFieldMapperFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  harvest.RawRecord
		want string
	}{
		{
			name: "missing url",
			rec:  harvest.RawRecord{Metadata: map[string]any{"id": "x"}},
			want: "record has no url",
		},
		{
			name: "bad url",
			rec:  harvest.RawRecord{URL: "https://dl.example/%zz"},
			want: "invalid URL escape",
		},
		{
			name: "bad date",
			rec:  harvest.RawRecord{URL: "https://dl.example/a", Metadata: map[string]any{"startDate": "yesterday-ish"}},
			want: "unparsable datetime",
		},
		{
			name: "inverted coverage",
			rec: harvest.RawRecord{
				URL:   "https://dl.example/a",
				Start: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
				End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			want: "before it starts",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := New().Normalize(context.Background(), tc.rec)
			var normErr *NormalizationError
			require.ErrorAs(t, err, &normErr)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestFieldMapperMissingURLIsErrNoURL(t *testing.T) {
	t.Parallel()

	_, err := New().Normalize(context.Background(), harvest.RawRecord{URL: "  "})
	require.True(t, errors.Is(err, ErrNoURL))
}

func TestFunc(t *testing.T) {
	t.Parallel()

	var n harvest.Normalizer = Func(func(_ context.Context, rec harvest.RawRecord) (harvest.Dataset, error) {
		return harvest.Dataset{EntryID: rec.URL}, nil
	})
	ds, err := n.Normalize(context.Background(), harvest.RawRecord{URL: "u"})
	require.NoError(t, err)
	require.Equal(t, "u", ds.EntryID)
}
