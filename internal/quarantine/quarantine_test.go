package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
	"github.com/JakeFAU/geospaas-harvester/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "id-" + string(rune('0'+s.n)), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func TestWriterPut(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)
	w := New(blobs, "/quarantine/", fixedClock{now}, &seqIDs{})

	rec := harvest.RawRecord{
		URL:      "https://dl.example/broken",
		Metadata: map[string]any{"id": "broken"},
		Geometry: orb.Point{5, 60},
	}
	uri, err := w.Put(context.Background(), "colhub/s1", rec, errors.New("record has no time coverage"))
	require.NoError(t, err)
	require.Equal(t, "memory://quarantine/colhub_s1/2024/03/10/id-1.json", uri)

	data, contentType, ok := blobs.Object("quarantine/colhub_s1/2024/03/10/id-1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)

	var entry Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	require.Equal(t, "colhub/s1", entry.Target)
	require.Equal(t, "record has no time coverage", entry.Reason)
	require.Equal(t, now, entry.QuarantinedAt)
	require.Equal(t, rec.URL, entry.Record.URL)
	require.Equal(t, "broken", entry.Record.Metadata["id"])
	require.Equal(t, "POINT(5 60)", entry.Geometry)
}

func TestWriterPutFailures(t *testing.T) {
	t.Parallel()

	w := New(memory.NewBlobStore(), "", fixedClock{time.Now()}, failingIDs{})
	_, err := w.Put(context.Background(), "t", harvest.RawRecord{}, nil)
	require.ErrorContains(t, err, "entropy exhausted")
}

func TestSafeSegment(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a_b", safeSegment("a/b"))
	require.Equal(t, "_", safeSegment(".."))
	require.Equal(t, "_", safeSegment(" "))
	require.Equal(t, "podaac", safeSegment("podaac"))
}
