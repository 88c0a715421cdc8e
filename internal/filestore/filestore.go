// Package filestore is the durable file store: atomic write-or-replace over a
// private directory tree.
//
// No reader ever observes a half-written file as current. WriteAtomic stages
// bytes in a sibling "<target>.tmp.<nonce>" file and moves it into place with
// whatever move primitive the filesystem offers.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/vfs"
	"github.com/google/uuid"
)

const (
	maxMoveAttempts = 6
	moveBackoffStep = 80 * time.Millisecond

	tempMarker = ".tmp."
)

// ValidateFunc inspects the bytes re-read from the staged temp file.
type ValidateFunc func(staged []byte) error

// Store is a durable file store rooted at a directory.
type Store struct {
	fs   vfs.FS
	root string

	// wait is replaced in tests to skip the backoff sleeps.
	wait func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	strategy moveStrategy
}

// New returns a store rooted at root.
func New(fsys vfs.FS, root string) *Store {
	return &Store{fs: fsys, root: root, wait: sleepCtx}
}

// Root returns the directory the store is rooted at.
func (s *Store) Root() string {
	return s.root
}

// Path resolves a store-relative path to a filesystem path.
func (s *Store) Path(rel string) (string, error) {
	return s.resolve(rel)
}

// WriteAtomic writes data to rel so that readers see either the previous
// content or the new content, never a partial file.
func (s *Store) WriteAtomic(ctx context.Context, rel string, data []byte, validate ValidateFunc) error {
	target, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &WriteError{Op: "mkdir", Path: rel, Err: err}
	}

	tmp := target + tempMarker + uuid.NewString()[:8]
	if err := s.fs.WriteFile(tmp, data); err != nil {
		return errors.Join(&WriteError{Op: "write temp", Path: rel, Err: err}, s.removeQuiet(tmp))
	}

	if validate != nil {
		staged, err := s.fs.ReadFile(tmp)
		if err != nil {
			return &WriteError{Op: "re-read temp", Path: rel, Err: err}
		}
		if err := validate(staged); err != nil {
			return &ValidationFailedError{Path: rel, TempPath: tmp, Err: err}
		}
	}

	return s.replace(ctx, tmp, target, rel)
}

// Write writes data to rel directly. It is not atomic.
func (s *Store) Write(rel string, data []byte) error {
	target, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &WriteError{Op: "mkdir", Path: rel, Err: err}
	}
	if err := s.fs.WriteFile(target, data); err != nil {
		return &WriteError{Op: "write", Path: rel, Err: err}
	}
	return nil
}

// Read returns the content of rel. A missing file yields an error matching fs.ErrNotExist.
func (s *Store) Read(rel string) ([]byte, error) {
	target, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", rel, err)
	}
	return data, nil
}

// Exists reports whether rel exists.
func (s *Store) Exists(rel string) (bool, error) {
	target, err := s.resolve(rel)
	if err != nil {
		return false, err
	}
	if _, err := s.fs.Stat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %q: %w", rel, err)
	}
	return true, nil
}

// Delete removes rel. Deleting a missing file is not an error.
func (s *Store) Delete(rel string) error {
	target, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", rel, err)
	}
	return nil
}

// DeleteDirectory removes the directory rel. Without recursive, the
// directory must be empty.
func (s *Store) DeleteDirectory(rel string, recursive bool) error {
	target, err := s.resolve(rel)
	if err != nil {
		return err
	}
	info, err := s.fs.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &DirectoryNotFoundError{Path: rel}
		}
		return fmt.Errorf("failed to stat %q: %w", rel, err)
	}
	if !info.IsDir() {
		return &InvalidPathError{Path: rel, Reason: "not a directory"}
	}
	if recursive {
		err = s.fs.RemoveAll(target)
	} else {
		err = s.fs.Remove(target)
	}
	if err != nil {
		return fmt.Errorf("failed to delete directory %q: %w", rel, err)
	}
	return nil
}

// SweepTemp removes leftover temp files under the directory rel and returns
// how many were removed. A missing directory sweeps nothing.
func (s *Store) SweepTemp(rel string) (int, error) {
	dir, err := s.resolve(rel)
	if err != nil {
		return 0, err
	}
	return s.sweep(dir)
}

func (s *Store) sweep(dir string) (int, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			n, err := s.sweep(p)
			removed += n
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if !strings.Contains(entry.Name(), tempMarker) {
			continue
		}
		if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove temp file %s: %w", entry.Name(), err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// resolve validates a store-relative, slash-separated path.
func (s *Store) resolve(rel string) (string, error) {
	switch {
	case rel == "":
		return "", &InvalidPathError{Path: rel, Reason: "empty"}
	case strings.ContainsAny(rel, "\\\x00"):
		return "", &InvalidPathError{Path: rel, Reason: "contains a backslash or NUL"}
	case path.IsAbs(rel) || filepath.IsAbs(rel):
		return "", &InvalidPathError{Path: rel, Reason: "absolute"}
	}
	cleaned := path.Clean(rel)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &InvalidPathError{Path: rel, Reason: "escapes the store root"}
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *Store) removeQuiet(p string) error {
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func logger() *slog.Logger {
	return slog.Default().With("component", "filestore")
}
