// Package memory provides in-process catalog and blob stores for local runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// CatalogStore is an identifier-keyed catalog. It records the peak number of
// concurrent writes so callers can verify their write concurrency.
type CatalogStore struct {
	mu       sync.Mutex
	datasets map[string]harvest.Dataset
	uris     map[string]struct{}
	order    []string

	writeDelay time.Duration
	failWith   func(harvest.Dataset) error

	inFlight atomic.Int32
	peak     atomic.Int32
	attempts atomic.Int64
}

// CatalogOption configures a CatalogStore.
type CatalogOption func(*CatalogStore)

// WithWriteDelay makes every write take at least d.
func WithWriteDelay(d time.Duration) CatalogOption {
	return func(s *CatalogStore) { s.writeDelay = d }
}

// WithWriteError injects failures: a non-nil result from fn fails the write.
func WithWriteError(fn func(harvest.Dataset) error) CatalogOption {
	return func(s *CatalogStore) { s.failWith = fn }
}

// NewCatalogStore creates an empty catalog.
func NewCatalogStore(opts ...CatalogOption) *CatalogStore {
	s := &CatalogStore{
		datasets: make(map[string]harvest.Dataset),
		uris:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write implements harvest.Catalog.
func (s *CatalogStore) Write(ctx context.Context, ds harvest.Dataset) error {
	s.attempts.Add(1)
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	if s.writeDelay > 0 {
		timer := time.NewTimer(s.writeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("write canceled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if ds.EntryID == "" {
		return fmt.Errorf("dataset entry id is required")
	}
	if s.failWith != nil {
		if err := s.failWith(ds); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.datasets[ds.EntryID]; exists {
		return fmt.Errorf("write %s: %w", ds.EntryID, harvest.ErrDuplicate)
	}
	s.datasets[ds.EntryID] = ds
	s.uris[ds.URI] = struct{}{}
	s.order = append(s.order, ds.EntryID)
	return nil
}

// Exists implements harvest.ExistenceChecker.
func (s *CatalogStore) Exists(_ context.Context, uri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uris[uri]
	return ok, nil
}

// Datasets returns stored datasets in write order.
func (s *CatalogStore) Datasets() []harvest.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]harvest.Dataset, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.datasets[id])
	}
	return out
}

// Get returns the dataset stored under id.
func (s *CatalogStore) Get(id string) (harvest.Dataset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[id]
	return ds, ok
}

// Len reports the number of stored datasets.
func (s *CatalogStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.datasets)
}

// Attempts reports how many writes were attempted, including failures.
func (s *CatalogStore) Attempts() int64 { return s.attempts.Load() }

// PeakConcurrentWrites reports the highest number of simultaneous writes.
func (s *CatalogStore) PeakConcurrentWrites() int { return int(s.peak.Load()) }
