// Package local writes quarantined records to a directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// Dir is the root directory objects are written below.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// BlobStore writes objects below a root directory. Objects appear atomically:
// readers never observe a partially written file.
type BlobStore struct {
	dir string
}

// New creates the root directory if needed and checks that it is writable.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("quarantine directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create quarantine directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat quarantine directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("quarantine path %s is not a directory", dir)
	}

	check, err := os.CreateTemp(dir, ".check-*")
	if err != nil {
		return nil, fmt.Errorf("quarantine directory is not writable: %w", err)
	}
	_ = check.Close()
	if err := os.Remove(check.Name()); err != nil {
		return nil, fmt.Errorf("remove write check file: %w", err)
	}
	return &BlobStore{dir: filepath.Clean(dir)}, nil
}

// PutObject writes data to path below the root and returns a file:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("put object canceled: %w", err)
	}
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	parent := filepath.Dir(fullPath)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(parent, ".tmp-"+filepath.Base(fullPath)+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename object: %w", err)
	}
	return "file://" + fullPath, nil
}

func (s *BlobStore) resolve(path string) (string, error) {
	fullPath := filepath.Clean(filepath.Join(s.dir, filepath.FromSlash(path)))
	if !strings.HasPrefix(fullPath, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the quarantine directory", path)
	}
	return fullPath, nil
}

// ListObjects implements harvest.BlobBrowser. In-flight temporary files are
// not listed.
func (s *BlobStore) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		if rel = filepath.ToSlash(rel); strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// GetObject implements harvest.BlobBrowser.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- resolve keeps the path below the store root.
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get %s: %w", path, harvest.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// DeleteObject implements harvest.BlobBrowser and prunes directories it
// leaves empty. Deleting a missing object is not an error.
func (s *BlobStore) DeleteObject(_ context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	for dir := filepath.Dir(fullPath); dir != s.dir; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}
