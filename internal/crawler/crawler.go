package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/paulmach/orb"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// Crawler yields raw records one at a time. Next returns io.EOF once the
// repository is exhausted and ErrStopped once Stop was called and every
// already-fetched record has been delivered. Implementations are safe for
// concurrent use.
type Crawler interface {
	Next(ctx context.Context) (harvest.RawRecord, error)
	Stop()
	State() (harvest.CrawlerState, error)
	Restore(state harvest.CrawlerState) error
}

// ErrStopped is returned by Next after a cooperative stop.
var ErrStopped = errors.New("crawler stopped")

// CrawlerError reports a remote request that failed for good, either because
// retries ran out or because the failure is not transient.
type CrawlerError struct {
	Kind     string
	URL      string
	Attempts int
	Err      error
}

func (e *CrawlerError) Error() string {
	return fmt.Sprintf("%s crawler: request %s failed after %d attempt(s): %v", e.Kind, e.URL, e.Attempts, e.Err)
}

func (e *CrawlerError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// permanentError marks failures that retrying cannot fix, such as an
// undecodable response body.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// stopFlag is a one-shot cooperative stop signal. The zero value is ready to
// use.
type stopFlag struct {
	init sync.Once
	once sync.Once
	ch   chan struct{}
}

func (s *stopFlag) done() <-chan struct{} {
	s.init.Do(func() { s.ch = make(chan struct{}) })
	return s.ch
}

func (s *stopFlag) stop() {
	s.done()
	s.once.Do(func() { close(s.ch) })
}

func (s *stopFlag) stopped() bool {
	select {
	case <-s.done():
		return true
	default:
		return false
	}
}

type stopKey struct{}

// withStop lets request helpers below a crawler observe its stop flag.
func withStop(ctx context.Context, stop <-chan struct{}) context.Context {
	return context.WithValue(ctx, stopKey{}, stop)
}

// stopFrom returns the stop channel set by withStop, or nil, which never
// fires.
func stopFrom(ctx context.Context) <-chan struct{} {
	stop, _ := ctx.Value(stopKey{}).(<-chan struct{})
	return stop
}

// terminal reports whether err ends the crawl for good, so later Next calls
// may return it without another request.
func terminal(err error) bool {
	var cerr *CrawlerError
	return errors.As(err, &cerr)
}

// Filter is the client-side guard applied to every record before it is
// yielded.
type Filter struct {
	Time harvest.TimeRange
	// Area limits records to footprints whose bounding box intersects the
	// area's bounding box. Records without a footprint pass.
	Area orb.Geometry
}

// Match reports whether rec may be yielded.
func (f Filter) Match(rec harvest.RawRecord) bool {
	if !f.Time.Intersects(rec.Start, rec.End) {
		return false
	}
	if f.Area != nil && rec.Geometry != nil && !f.Area.Bound().Intersects(rec.Geometry.Bound()) {
		return false
	}
	return true
}

func checkState(state harvest.CrawlerState, kind string, version int) error {
	if state.Kind != kind {
		return fmt.Errorf("state belongs to a %q crawler, not %q", state.Kind, kind)
	}
	if state.Version != version {
		return fmt.Errorf("unsupported %s state version %d (want %d)", kind, state.Version, version)
	}
	return nil
}
