package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

const directoryStateVersion = 1

// Entry is one item of a folder listing.
type Entry struct {
	Path string
	Dir  bool
}

// Lister reads folder contents from a directory-like repository.
type Lister interface {
	List(ctx context.Context, folder string) ([]Entry, error)
	DownloadURL(path string) string
}

type pendingFile struct {
	Path  string    `json:"path"`
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// dirState holds the folders still to list (a stack) and the files of the
// last listed folder not yet handed out.
type dirState struct {
	ToProcess []string      `json:"to_process"`
	Pending   []pendingFile `json:"pending"`
}

// Directory walks a folder tree depth first, pruning folders whose date
// coverage falls outside the search window.
type Directory struct {
	kind     string
	root     string
	lister   Lister
	include  *regexp.Regexp
	filter   Filter
	maxDepth int
	retry    *ExponentialRetryPolicy
	logger   *zap.Logger

	mu     sync.Mutex
	state  dirState
	failed error

	stop stopFlag
}

// DirectoryConfig configures a Directory crawler.
type DirectoryConfig struct {
	Kind    string
	Root    string
	Include *regexp.Regexp
	Filter  Filter
	// MaxDepth limits how many folder levels below Root are explored; zero
	// means unlimited.
	MaxDepth int
	Retry    *ExponentialRetryPolicy
	Logger   *zap.Logger
}

// NewDirectory builds a crawler rooted at cfg.Root.
func NewDirectory(cfg DirectoryConfig, lister Lister) *Directory {
	if cfg.Retry == nil {
		cfg.Retry = NewExponentialRetryPolicy(RetryConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Include == nil {
		cfg.Include = regexp.MustCompile(".")
	}
	return &Directory{
		kind:     cfg.Kind,
		root:     cfg.Root,
		lister:   lister,
		include:  cfg.Include,
		filter:   cfg.Filter,
		maxDepth: cfg.MaxDepth,
		retry:    cfg.Retry,
		logger:   cfg.Logger,
		state:    dirState{ToProcess: []string{cfg.Root}},
	}
}

// Next implements Crawler.
func (c *Directory) Next(ctx context.Context) (harvest.RawRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if len(c.state.Pending) > 0 {
			f := c.state.Pending[0]
			c.state.Pending = c.state.Pending[1:]
			rec := harvest.RawRecord{
				URL:      c.lister.DownloadURL(f.Path),
				Metadata: map[string]any{"path": f.Path},
				Start:    f.Start,
				End:      f.End,
			}
			if c.filter.Match(rec) {
				return rec, nil
			}
			continue
		}
		if len(c.state.ToProcess) == 0 {
			return harvest.RawRecord{}, io.EOF
		}
		if c.failed != nil {
			return harvest.RawRecord{}, c.failed
		}
		if c.stop.stopped() {
			return harvest.RawRecord{}, ErrStopped
		}
		if err := c.processFolder(ctx); err != nil {
			if terminal(err) {
				c.failed = err
			}
			return harvest.RawRecord{}, err
		}
	}
}

// processFolder lists the folder on top of the stack. The folder is only
// popped once its listing succeeded so a failed request stays resumable.
func (c *Directory) processFolder(ctx context.Context) error {
	last := len(c.state.ToProcess) - 1
	folder := c.state.ToProcess[last]

	var entries []Entry
	attempts, err := c.retry.Do(ctx, c.stop.done(), func(ctx context.Context) error {
		var listErr error
		entries, listErr = c.lister.List(ctx, folder)
		return listErr
	})
	if errors.Is(err, ErrStopped) {
		return ErrStopped
	}
	if err != nil {
		return &CrawlerError{Kind: c.kind, URL: folder, Attempts: attempts, Err: err}
	}
	c.state.ToProcess = c.state.ToProcess[:last]
	c.logger.Debug("listed folder", zap.String("folder", folder), zap.Int("entries", len(entries)))

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	start, end := FolderCoverage(folder)
	var folders []string
	for _, e := range entries {
		if e.Dir {
			fs, fe := FolderCoverage(e.Path)
			if c.withinDepth(e.Path) && c.filter.Time.Intersects(fs, fe) && !slices.Contains(c.state.ToProcess, e.Path) {
				folders = append(folders, e.Path)
			}
			continue
		}
		if c.include.MatchString(e.Path) {
			c.state.Pending = append(c.state.Pending, pendingFile{Path: e.Path, Start: start, End: end})
		}
	}
	// Push in reverse so folders are explored in ascending order.
	for i := len(folders) - 1; i >= 0; i-- {
		c.state.ToProcess = append(c.state.ToProcess, folders[i])
	}
	return nil
}

func (c *Directory) withinDepth(folder string) bool {
	if c.maxDepth <= 0 {
		return true
	}
	rel := strings.Trim(filepath.ToSlash(strings.TrimPrefix(folder, c.root)), "/")
	if rel == "" {
		return true
	}
	return strings.Count(rel, "/")+1 <= c.maxDepth
}

// Stop implements Crawler.
func (c *Directory) Stop() {
	c.stop.stop()
}

// State implements Crawler.
func (c *Directory) State() (harvest.CrawlerState, error) {
	c.mu.Lock()
	s := dirState{
		ToProcess: append([]string{}, c.state.ToProcess...),
		Pending:   append([]pendingFile{}, c.state.Pending...),
	}
	c.mu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		return harvest.CrawlerState{}, fmt.Errorf("marshal %s state: %w", c.kind, err)
	}
	return harvest.CrawlerState{Kind: c.kind, Version: directoryStateVersion, Data: data}, nil
}

// Restore implements Crawler.
func (c *Directory) Restore(state harvest.CrawlerState) error {
	if err := checkState(state, c.kind, directoryStateVersion); err != nil {
		return err
	}
	var s dirState
	if err := json.Unmarshal(state.Data, &s); err != nil {
		return fmt.Errorf("unmarshal %s state: %w", c.kind, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.failed = nil
	return nil
}

const (
	yearPattern      = `y?(?P<year>\d{4})`
	monthPattern     = `m?(?P<month>1[0-2]|0[1-9])`
	dayPattern       = `(?P<day>3[0-1]|[1-2]\d|0[1-9])`
	dayOfYearPattern = `(?P<day>36[0-6]|3[0-5]\d|[1-2]\d\d|0[1-9]\d|00[1-9])`
)

var (
	yearMatcher      = regexp.MustCompile(`^.*/` + yearPattern + `(/.*)?$`)
	monthMatcher     = regexp.MustCompile(`^.*/` + yearPattern + `/?` + monthPattern + `(/.*)?$`)
	dayMatcher       = regexp.MustCompile(`^.*/` + yearPattern + `/?` + monthPattern + `/?` + dayPattern + `(/.*)?$`)
	dayOfYearMatcher = regexp.MustCompile(`^.*/` + yearPattern + `/` + dayOfYearPattern + `(/.*)?$`)
)

// FolderCoverage infers the time span a folder covers from date components
// in its path (yyyy, yyyy/mm, yyyymm, yyyy/mm/dd, yyyymmdd, yyyy/ddd). Both
// bounds are zero when the path carries no date.
func FolderCoverage(path string) (time.Time, time.Time) {
	if m := submatches(dayMatcher, path); m != nil {
		start := time.Date(m["year"], time.Month(m["month"]), m["day"], 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1)
	}
	if m := submatches(dayOfYearMatcher, path); m != nil {
		start := time.Date(m["year"], time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, m["day"]-1)
		return start, start.AddDate(0, 0, 1)
	}
	if m := submatches(monthMatcher, path); m != nil {
		start := time.Date(m["year"], time.Month(m["month"]), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	if m := submatches(yearMatcher, path); m != nil {
		start := time.Date(m["year"], time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0)
	}
	return time.Time{}, time.Time{}
}

func submatches(re *regexp.Regexp, s string) map[string]int {
	match := re.FindStringSubmatch(s)
	if match == nil {
		return nil
	}
	out := make(map[string]int)
	for i, name := range re.SubexpNames() {
		if name == "" || match[i] == "" {
			continue
		}
		n, err := strconv.Atoi(match[i])
		if err != nil {
			return nil
		}
		out[name] = n
	}
	return out
}
