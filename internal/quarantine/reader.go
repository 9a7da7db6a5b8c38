package quarantine

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"
	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// Stored is an entry together with the object it was read from.
type Stored struct {
	Path  string
	Entry Entry
}

// RawRecord rebuilds the quarantined record, footprint included.
func (e Entry) RawRecord() (harvest.RawRecord, error) {
	rec := e.Record
	if e.Geometry != "" {
		g, err := wkt.Unmarshal(e.Geometry)
		if err != nil {
			return harvest.RawRecord{}, fmt.Errorf("decode geometry: %w", err)
		}
		rec.Geometry = g
	}
	return rec, nil
}

// Reader reads back what a Writer with the same prefix stored.
type Reader struct {
	store  harvest.BlobBrowser
	prefix string
	logger *zap.Logger
}

// NewReader builds a Reader over store.
func NewReader(store harvest.BlobBrowser, prefix string, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.Named("quarantine"),
	}
}

// List returns the entries of target, or of every target when target is
// empty, oldest object path first. Objects that do not decode are logged and
// skipped so one damaged file cannot block the rest.
func (r *Reader) List(ctx context.Context, target string) ([]Stored, error) {
	prefix := r.prefix
	if target != "" {
		prefix = path.Join(prefix, safeSegment(target))
	}
	if prefix != "" {
		prefix += "/"
	}
	paths, err := r.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}

	out := make([]Stored, 0, len(paths))
	for _, p := range paths {
		if !strings.HasSuffix(p, ".json") {
			continue
		}
		data, err := r.store.GetObject(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("read quarantine entry %s: %w", p, err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			r.logger.Warn("skipping malformed quarantine entry", zap.String("object", p), zap.Error(err))
			continue
		}
		out = append(out, Stored{Path: p, Entry: entry})
	}
	return out, nil
}

// Delete removes one entry.
func (r *Reader) Delete(ctx context.Context, objectPath string) error {
	if err := r.store.DeleteObject(ctx, objectPath); err != nil {
		return fmt.Errorf("delete quarantine entry: %w", err)
	}
	return nil
}
