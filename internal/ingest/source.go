package ingest

import (
	"context"
	"io"
	"sync"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// SliceSource hands out a fixed list of records in order, then io.EOF. It is
// safe for concurrent fetch workers.
type SliceSource struct {
	mu      sync.Mutex
	records []harvest.RawRecord
	next    int
}

// NewSliceSource builds a Source over records.
func NewSliceSource(records ...harvest.RawRecord) *SliceSource {
	return &SliceSource{records: records}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (harvest.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return harvest.RawRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.records) {
		return harvest.RawRecord{}, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}
