package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

const paginatedStateVersion = 1

// PageFetcher retrieves one page of a search. page counts from the
// fetcher's FirstPage.
type PageFetcher interface {
	FirstPage() int
	FetchPage(ctx context.Context, page, size int) ([]harvest.RawRecord, error)
}

// pageState is the resumable cursor: the page being consumed and how many of
// its records were already handed out. A page shorter than the page size is
// the last one.
type pageState struct {
	Page      int  `json:"page"`
	Delivered int  `json:"delivered"`
	Done      bool `json:"done"`
}

// Paginated walks a page-numbered search API.
type Paginated struct {
	kind     string
	fetcher  PageFetcher
	pageSize int
	filter   Filter
	logger   *zap.Logger

	mu     sync.Mutex
	state  pageState
	buffer []harvest.RawRecord
	loaded bool
	failed error

	stop stopFlag
}

// NewPaginated builds a crawler over fetcher.
func NewPaginated(kind string, fetcher PageFetcher, pageSize int, filter Filter, logger *zap.Logger) *Paginated {
	if pageSize <= 0 {
		pageSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginated{
		kind:     kind,
		fetcher:  fetcher,
		pageSize: pageSize,
		filter:   filter,
		logger:   logger,
		state:    pageState{Page: fetcher.FirstPage()},
	}
}

// Next implements Crawler.
func (c *Paginated) Next(ctx context.Context) (harvest.RawRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.loaded && c.state.Delivered < len(c.buffer) {
			rec := c.buffer[c.state.Delivered]
			c.state.Delivered++
			if c.filter.Match(rec) {
				if !c.filter.Time.IsZero() && rec.Start.IsZero() && rec.End.IsZero() {
					c.logger.Warn("record time unknown, kept despite search window", zap.String("url", rec.URL))
				}
				return rec, nil
			}
			c.logger.Debug("record outside search window", zap.String("url", rec.URL))
			continue
		}
		if c.loaded {
			c.state = c.nextPage(c.state, len(c.buffer))
			c.buffer, c.loaded = nil, false
		}
		if c.state.Done {
			return harvest.RawRecord{}, io.EOF
		}
		if c.failed != nil {
			return harvest.RawRecord{}, c.failed
		}
		if c.stop.stopped() {
			return harvest.RawRecord{}, ErrStopped
		}

		records, err := c.fetcher.FetchPage(withStop(ctx, c.stop.done()), c.state.Page, c.pageSize)
		if errors.Is(err, ErrStopped) {
			return harvest.RawRecord{}, ErrStopped
		}
		if err != nil {
			if terminal(err) {
				c.failed = err
			}
			return harvest.RawRecord{}, err
		}
		c.logger.Debug("fetched page", zap.Int("page", c.state.Page), zap.Int("records", len(records)))
		if len(records) == 0 {
			c.state.Done = true
			return harvest.RawRecord{}, io.EOF
		}
		c.buffer, c.loaded = records, true
		if c.state.Delivered > len(records) {
			c.state.Delivered = len(records)
		}
	}
}

func (c *Paginated) nextPage(s pageState, pageLen int) pageState {
	return pageState{Page: s.Page + 1, Done: pageLen < c.pageSize}
}

// Stop implements Crawler.
func (c *Paginated) Stop() {
	c.stop.stop()
}

// State implements Crawler. A fully delivered page is reported as the start
// of the following one so resuming does not fetch it again.
func (c *Paginated) State() (harvest.CrawlerState, error) {
	c.mu.Lock()
	s := c.state
	if c.loaded && s.Delivered >= len(c.buffer) {
		s = c.nextPage(s, len(c.buffer))
	}
	c.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return harvest.CrawlerState{}, fmt.Errorf("marshal %s state: %w", c.kind, err)
	}
	return harvest.CrawlerState{Kind: c.kind, Version: paginatedStateVersion, Data: data}, nil
}

// Restore implements Crawler.
func (c *Paginated) Restore(state harvest.CrawlerState) error {
	if err := checkState(state, c.kind, paginatedStateVersion); err != nil {
		return err
	}
	var s pageState
	if err := json.Unmarshal(state.Data, &s); err != nil {
		return fmt.Errorf("unmarshal %s state: %w", c.kind, err)
	}
	if s.Page < c.fetcher.FirstPage() || s.Delivered < 0 {
		return fmt.Errorf("invalid %s state: page %d, delivered %d", c.kind, s.Page, s.Delivered)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.buffer, c.loaded, c.failed = nil, false, nil
	return nil
}
