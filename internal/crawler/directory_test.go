package crawler

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// countingLister wraps a Lister and records every folder it lists.
type countingLister struct {
	Lister
	listed []string
}

func (l *countingLister) List(ctx context.Context, folder string) ([]Entry, error) {
	l.listed = append(l.listed, folder)
	return l.Lister.List(ctx, folder)
}

// MockLister is a mock implementation of the Lister interface.
type MockLister struct {
	mock.Mock
}

func (m *MockLister) List(ctx context.Context, folder string) ([]Entry, error) {
	args := m.Called(ctx, folder)
	entries, _ := args.Get(0).([]Entry)
	return entries, args.Error(1)
}

func (m *MockLister) DownloadURL(path string) string {
	return "https://repo.example" + path
}

func errorAsCrawler(t *testing.T, err error) *CrawlerError {
	t.Helper()
	var crawlErr *CrawlerError
	require.ErrorAs(t, err, &crawlErr)
	return crawlErr
}

func writeTree(t *testing.T, files ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	}
	return root
}

func TestLocalCrawlerPrunesFoldersOutsideWindow(t *testing.T) {
	t.Parallel()

	root := writeTree(t,
		"2024/02/sst_0201.nc",
		"2024/03/sst_0301.nc",
		"2024/03/sst_0302.nc",
		"2024/03/notes.txt",
		"2024/04/sst_0401.nc",
		"2023/12/sst_1201.nc",
	)
	lister := &countingLister{Lister: LocalLister{}}
	window := harvest.TimeRange{
		Start: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	}
	c := NewDirectory(DirectoryConfig{
		Kind:    KindLocal,
		Root:    root,
		Include: regexp.MustCompile(`\.nc$`),
		Filter:  Filter{Time: window},
		Retry:   fastRetry(1),
	}, lister)

	urls := drain(t, c)
	require.Equal(t, []string{
		filepath.Join(root, "2024", "03", "sst_0301.nc"),
		filepath.Join(root, "2024", "03", "sst_0302.nc"),
	}, urls)
	require.Equal(t, []string{
		root,
		filepath.Join(root, "2024"),
		filepath.Join(root, "2024", "03"),
	}, lister.listed)
}

func TestLocalCrawlerWalksInOrderAndResumes(t *testing.T) {
	t.Parallel()

	root := writeTree(t,
		"2023/11/a.nc",
		"2023/12/b.nc",
		"2023/12/c.nc",
		"2024/01/d.nc",
	)
	full := drain(t, NewLocal(root, nil, Filter{}, Options{Retry: fastRetry(1)}))
	require.Equal(t, []string{
		filepath.Join(root, "2023", "11", "a.nc"),
		filepath.Join(root, "2023", "12", "b.nc"),
		filepath.Join(root, "2023", "12", "c.nc"),
		filepath.Join(root, "2024", "01", "d.nc"),
	}, full)

	c := NewLocal(root, nil, Filter{}, Options{Retry: fastRetry(1)})
	for range 2 {
		_, err := c.Next(context.Background())
		require.NoError(t, err)
	}
	state, err := c.State()
	require.NoError(t, err)
	require.Equal(t, KindLocal, state.Kind)

	resumed := NewLocal(root, nil, Filter{}, Options{Retry: fastRetry(1)})
	require.NoError(t, resumed.Restore(state))
	require.Equal(t, full[2:], drain(t, resumed))
}

func TestDirectoryMaxDepth(t *testing.T) {
	t.Parallel()

	root := writeTree(t, "z.nc", "a/y.nc", "a/b/x.nc", "a/b/c/w.nc")
	c := NewDirectory(DirectoryConfig{
		Kind:     KindLocal,
		Root:     root,
		MaxDepth: 1,
		Retry:    fastRetry(1),
	}, LocalLister{})

	require.Equal(t, []string{
		filepath.Join(root, "z.nc"),
		filepath.Join(root, "a", "y.nc"),
	}, drain(t, c))
}

func TestLocalCrawlerReportsMissingRoot(t *testing.T) {
	t.Parallel()

	c := NewLocal(filepath.Join(t.TempDir(), "missing"), nil, Filter{}, Options{Retry: fastRetry(3)})
	_, err := c.Next(context.Background())
	var crawlErr *CrawlerError
	require.ErrorAs(t, err, &crawlErr)
	require.Equal(t, 1, crawlErr.Attempts)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDirectoryKeepsFolderAfterFailedListing(t *testing.T) {
	t.Parallel()

	lister := new(MockLister)
	lister.On("List", mock.Anything, "/data/").Return(nil, errors.New("connection reset")).Twice()
	lister.On("List", mock.Anything, "/data/").Return([]Entry{{Path: "/data/a.nc"}}, nil).Once()

	c := NewDirectory(DirectoryConfig{Kind: KindHTTP, Root: "/data/", Retry: fastRetry(2)}, lister)

	_, err := c.Next(context.Background())
	var crawlErr *CrawlerError
	require.ErrorAs(t, err, &crawlErr)
	require.Equal(t, 2, crawlErr.Attempts)

	state, err := c.State()
	require.NoError(t, err)
	require.JSONEq(t, `{"to_process":["/data/"],"pending":[]}`, string(state.Data))

	// The failed crawler keeps reporting the same error without listing again.
	_, again := c.Next(context.Background())
	require.Same(t, crawlErr, errorAsCrawler(t, again))

	resumed := NewDirectory(DirectoryConfig{Kind: KindHTTP, Root: "/data/", Retry: fastRetry(2)}, lister)
	require.NoError(t, resumed.Restore(state))
	rec, err := resumed.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://repo.example/data/a.nc", rec.URL)
	require.Equal(t, "/data/a.nc", rec.Metadata["path"])
	lister.AssertExpectations(t)
}

func TestDirectoryStopFinishesListedFolder(t *testing.T) {
	t.Parallel()

	lister := new(MockLister)
	lister.On("List", mock.Anything, "/data/").Return([]Entry{
		{Path: "/data/b.nc"},
		{Path: "/data/a.nc"},
		{Path: "/data/2024/", Dir: true},
	}, nil).Once()

	c := NewDirectory(DirectoryConfig{Kind: KindHTTP, Root: "/data/", Retry: fastRetry(1)}, lister)
	first, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/data/a.nc", first.Metadata["path"])

	c.Stop()
	second, err := c.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/data/b.nc", second.Metadata["path"])

	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, ErrStopped)

	state, err := c.State()
	require.NoError(t, err)
	require.JSONEq(t, `{"to_process":["/data/2024/"],"pending":[]}`, string(state.Data))
	lister.AssertExpectations(t)
}

func TestDirectoryEmptyTreeIsExhausted(t *testing.T) {
	t.Parallel()

	c := NewLocal(t.TempDir(), nil, Filter{}, Options{Retry: fastRetry(1)})
	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestFolderCoverage(t *testing.T) {
	t.Parallel()

	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		path       string
		start, end time.Time
	}{
		{path: "/data/2024", start: day(2024, 1, 1), end: day(2025, 1, 1)},
		{path: "/data/2024/", start: day(2024, 1, 1), end: day(2025, 1, 1)},
		{path: "/data/2024/03", start: day(2024, 3, 1), end: day(2024, 4, 1)},
		{path: "/data/202403", start: day(2024, 3, 1), end: day(2024, 4, 1)},
		{path: "/data/y2024/m03/", start: day(2024, 3, 1), end: day(2024, 4, 1)},
		{path: "/data/2024/03/15", start: day(2024, 3, 15), end: day(2024, 3, 16)},
		{path: "/data/20240315", start: day(2024, 3, 15), end: day(2024, 3, 16)},
		{path: "/data/2024/075", start: day(2024, 3, 15), end: day(2024, 3, 16)},
		{path: "/data/2024/12/31/extra", start: day(2024, 12, 31), end: day(2025, 1, 1)},
		{path: "/data/latest"},
		{path: "/data/2024/13", start: day(2024, 1, 1), end: day(2025, 1, 1)},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			t.Parallel()
			start, end := FolderCoverage(tc.path)
			require.Equal(t, tc.start, start)
			require.Equal(t, tc.end, end)
		})
	}
}

func TestDirectoryStopInterruptsListingRetries(t *testing.T) {
	t.Parallel()

	lister := new(MockLister)
	c := NewDirectory(DirectoryConfig{Kind: KindHTTP, Root: "/data/", Retry: fastRetry(5)}, lister)
	lister.On("List", mock.Anything, "/data/").
		Run(func(mock.Arguments) { c.Stop() }).
		Return(nil, errors.New("connection reset")).Once()

	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, ErrStopped)

	state, err := c.State()
	require.NoError(t, err)
	require.JSONEq(t, `{"to_process":["/data/"],"pending":[]}`, string(state.Data))
	lister.AssertExpectations(t)
}
