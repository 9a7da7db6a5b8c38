// Package state persists crawler cursors between runs, one file per target.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/geospaas-harvester/internal/harvest"
)

// FormatVersion tags the envelope layout of cursor files.
const FormatVersion = 1

// ErrIncompatibleState reports a cursor file that cannot be resumed safely.
var ErrIncompatibleState = errors.New("incompatible crawler state")

// Envelope is the on-disk cursor document.
type Envelope struct {
	FormatVersion int                  `json:"format_version"`
	Target        string               `json:"target"`
	SavedAt       time.Time            `json:"saved_at"`
	State         harvest.CrawlerState `json:"state"`
}

// Store reads and writes cursor files in one directory.
type Store struct {
	dir   string
	clock harvest.Clock
}

// NewStore creates dir if needed.
func NewStore(dir string, clock harvest.Clock) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{dir: dir, clock: clock}, nil
}

// Path returns the cursor file location for target.
func (s *Store) Path(target string) string {
	return filepath.Join(s.dir, FileName(target))
}

// Save writes the cursor for target atomically.
func (s *Store) Save(target string, st harvest.CrawlerState) error {
	body, err := json.MarshalIndent(Envelope{
		FormatVersion: FormatVersion,
		Target:        target,
		SavedAt:       s.clock.Now().UTC(),
		State:         st,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".cursor-*")
	if err != nil {
		return fmt.Errorf("create temp cursor: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cursor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("sync cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cursor: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(target)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}

// Load returns the saved cursor for target. found is false when no cursor
// exists. A cursor written by an unknown format version, for another target
// or for a different crawler kind fails with ErrIncompatibleState.
func (s *Store) Load(target, kind string) (st harvest.CrawlerState, found bool, err error) {
	body, err := os.ReadFile(s.Path(target))
	if errors.Is(err, os.ErrNotExist) {
		return harvest.CrawlerState{}, false, nil
	}
	if err != nil {
		return harvest.CrawlerState{}, false, fmt.Errorf("read cursor: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return harvest.CrawlerState{}, false, fmt.Errorf("%w: decode %s: %v", ErrIncompatibleState, s.Path(target), err)
	}
	switch {
	case env.FormatVersion != FormatVersion:
		return harvest.CrawlerState{}, false, fmt.Errorf("%w: format version %d, want %d", ErrIncompatibleState, env.FormatVersion, FormatVersion)
	case env.Target != target:
		return harvest.CrawlerState{}, false, fmt.Errorf("%w: cursor belongs to target %q", ErrIncompatibleState, env.Target)
	case env.State.Kind != kind:
		return harvest.CrawlerState{}, false, fmt.Errorf("%w: cursor kind %q, want %q", ErrIncompatibleState, env.State.Kind, kind)
	}
	return env.State, true, nil
}

// Delete removes the cursor for target. A missing cursor is not an error.
func (s *Store) Delete(target string) error {
	if err := os.Remove(s.Path(target)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}

// FileName is the cursor file name of target. Names that need escaping get a
// short digest of the original so distinct targets never share a file.
func FileName(target string) string {
	var b strings.Builder
	for _, r := range target {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		name = "_"
	}
	if name != target {
		sum := sha256.Sum256([]byte(target))
		name += "-" + hex.EncodeToString(sum[:4])
	}
	return name + ".cursor.json"
}
