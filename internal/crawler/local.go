package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// KindLocal names local filesystem trees.
const KindLocal = "local"

// LocalLister lists folders on the local filesystem.
type LocalLister struct{}

// List implements Lister.
func (LocalLister) List(ctx context.Context, folder string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	dirEntries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, e := range dirEntries {
		entries = append(entries, Entry{Path: filepath.Join(folder, e.Name()), Dir: e.IsDir()})
	}
	return entries, nil
}

// DownloadURL implements Lister; local datasets are addressed by path.
func (LocalLister) DownloadURL(path string) string {
	return path
}

// NewLocal builds a crawler over a local directory tree.
func NewLocal(root string, include *regexp.Regexp, filter Filter, opts Options) *Directory {
	opts = opts.withDefaults()
	return NewDirectory(DirectoryConfig{
		Kind:    KindLocal,
		Root:    filepath.Clean(root),
		Include: include,
		Filter:  filter,
		Retry:   opts.Retry,
		Logger:  opts.Logger.Named(KindLocal),
	}, LocalLister{})
}
