// Package quarantine keeps records that failed normalization for later
// inspection or replay.
package quarantine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// Entry is the document written for one failed record.
type Entry struct {
	Target        string            `json:"target"`
	Reason        string            `json:"reason"`
	QuarantinedAt time.Time         `json:"quarantined_at"`
	Record        harvest.RawRecord `json:"record"`
	// Geometry is the record footprint as WKT, since RawRecord does not
	// serialize it.
	Geometry string `json:"geometry,omitempty"`
}

// Writer stores one JSON object per failed record under
// <prefix>/<target>/<yyyy>/<mm>/<dd>/<id>.json.
type Writer struct {
	store  harvest.BlobStore
	prefix string
	clock  harvest.Clock
	ids    harvest.IDGenerator
}

// New builds a Writer over store.
func New(store harvest.BlobStore, prefix string, clock harvest.Clock, ids harvest.IDGenerator) *Writer {
	return &Writer{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock,
		ids:    ids,
	}
}

// Put writes rec with the failure reason and returns the object URI.
func (w *Writer) Put(ctx context.Context, target string, rec harvest.RawRecord, reason error) (string, error) {
	now := w.clock.Now().UTC()
	id, err := w.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("quarantine id: %w", err)
	}
	entry := Entry{
		Target:        target,
		QuarantinedAt: now,
		Record:        rec,
	}
	if reason != nil {
		entry.Reason = reason.Error()
	}
	if rec.Geometry != nil {
		entry.Geometry = wkt.MarshalString(rec.Geometry)
	}
	body, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal quarantine entry: %w", err)
	}

	objectPath := path.Join(w.prefix, safeSegment(target), now.Format("2006/01/02"), id+".json")
	uri, err := w.store.PutObject(ctx, objectPath, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("quarantine record: %w", err)
	}
	return uri, nil
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
