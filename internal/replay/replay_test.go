package replay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geospaas-harvester/internal/clock/system"
	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/id/uuid"
	"github.com/JakeFAU/geospaas-harvester/internal/ingest"
	"github.com/JakeFAU/geospaas-harvester/internal/normalize"
	"github.com/JakeFAU/geospaas-harvester/internal/quarantine"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/local"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/memory"
)

type blobs interface {
	harvest.BlobStore
	harvest.BlobBrowser
}

// flakyNormalizer fails a URL for its first failures attempts. A negative
// count fails it forever.
type flakyNormalizer struct {
	mu       sync.Mutex
	failures map[string]int
	mapper   harvest.Normalizer
}

func (f *flakyNormalizer) Normalize(ctx context.Context, rec harvest.RawRecord) (harvest.Dataset, error) {
	f.mu.Lock()
	left, ok := f.failures[rec.URL]
	if ok && left != 0 {
		f.failures[rec.URL] = left - 1
	}
	f.mu.Unlock()
	if ok && left != 0 {
		return harvest.Dataset{}, &normalize.NormalizationError{URL: rec.URL, Err: errors.New("upstream metadata unavailable")}
	}
	return f.mapper.Normalize(ctx, rec)
}

func quarantined(t *testing.T, store harvest.BlobStore, target string, urls ...string) {
	t.Helper()
	w := quarantine.New(store, "quarantine", system.New(), uuid.New())
	for _, u := range urls {
		_, err := w.Put(context.Background(), target, harvest.RawRecord{URL: u}, errors.New("first attempt failed"))
		require.NoError(t, err)
	}
}

func TestReplayRemovesRecoveredEntries(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) blobs{
		"memory": func(*testing.T) blobs { return memory.NewBlobStore() },
		"local": func(t *testing.T) blobs {
			store, err := local.New(local.Config{Dir: t.TempDir()})
			require.NoError(t, err)
			return store
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := open(t)
			quarantined(t, store, "colhub",
				"https://dl.example/fixed.nc",
				"https://dl.example/flaky.nc",
				"https://dl.example/broken.nc",
			)
			catalog := memory.NewCatalogStore()
			norm := &flakyNormalizer{
				mapper: normalize.New(),
				failures: map[string]int{
					"https://dl.example/flaky.nc":  1,
					"https://dl.example/broken.nc": -1,
				},
			}
			reader := quarantine.NewReader(store, "quarantine", nil)
			r := New(Config{Rounds: 3, Wait: time.Millisecond}, reader,
				ingest.New(ingest.Config{}, norm, catalog, nil, nil, nil), nil)

			rep, err := r.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, Report{Rounds: 3, Attempted: 6, Replayed: 2, Remaining: 1}, rep)
			require.Equal(t, 2, catalog.Len())

			left, err := reader.List(context.Background(), "colhub")
			require.NoError(t, err)
			require.Len(t, left, 1)
			require.Equal(t, "https://dl.example/broken.nc", left[0].Entry.Record.URL)
		})
	}
}

func TestReplayStopsEarlyWhenEverythingGoesThrough(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	quarantined(t, store, "podaac", "https://dl.example/a.nc")
	quarantined(t, store, "colhub", "https://dl.example/b.nc")
	catalog := memory.NewCatalogStore()
	reader := quarantine.NewReader(store, "quarantine", nil)

	r := New(Config{Target: "podaac", Wait: time.Hour}, reader,
		ingest.New(ingest.Config{}, normalize.New(), catalog, nil, nil, nil), nil)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Rounds: 1, Attempted: 1, Replayed: 1}, rep)

	others, err := reader.List(context.Background(), "colhub")
	require.NoError(t, err)
	require.Len(t, others, 1)
}

func TestReplayTreatsCataloguedRecordsAsDone(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	quarantined(t, store, "podaac", "https://dl.example/a.nc")
	catalog := memory.NewCatalogStore()
	ds, err := normalize.New().Normalize(context.Background(), harvest.RawRecord{URL: "https://dl.example/a.nc"})
	require.NoError(t, err)
	require.NoError(t, catalog.Write(context.Background(), ds))

	r := New(Config{}, quarantine.NewReader(store, "quarantine", nil),
		ingest.New(ingest.Config{}, normalize.New(), catalog, nil, nil, nil), nil)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Replayed)
	require.Empty(t, store.Paths())
}

func TestReplayEmptyQuarantine(t *testing.T) {
	t.Parallel()

	r := New(Config{}, quarantine.NewReader(memory.NewBlobStore(), "quarantine", nil),
		ingest.New(ingest.Config{}, normalize.New(), memory.NewCatalogStore(), nil, nil, nil), nil)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{}, rep)
}

func TestReplayHonorsCancellationWhileWaiting(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	quarantined(t, store, "colhub", "https://dl.example/broken.nc")
	norm := &flakyNormalizer{mapper: normalize.New(), failures: map[string]int{"https://dl.example/broken.nc": -1}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := New(Config{Rounds: 5, Wait: time.Hour}, quarantine.NewReader(store, "quarantine", nil),
		ingest.New(ingest.Config{}, norm, memory.NewCatalogStore(), nil, nil, nil), nil)
	rep, err := r.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, rep.Rounds)
	require.Equal(t, 1, rep.Remaining)
	require.Len(t, store.Paths(), 1)
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, defaultRounds, cfg.Rounds)
	require.Equal(t, defaultWait, cfg.Wait)
}
