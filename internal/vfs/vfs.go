// Package vfs provides the filesystem abstraction under the durable file store.
//
// The base FS covers plain file I/O. Moving a file into place is exposed
// through optional capabilities because the native primitive is not uniform:
// some filesystems only rename within a directory (Renamer), others need the
// destination directory spelled out (Mover), and some offer neither.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
)

var (
	// ErrLocked is returned by a move when the destination name is held by
	// another reader. The caller may retry.
	ErrLocked = errors.New("vfs: destination locked")

	// ErrSignatureUnsupported is returned by a move capability that exists but
	// does not accept this calling form.
	ErrSignatureUnsupported = errors.New("vfs: move signature unsupported")
)

// FS is the minimal filesystem used by the durable store.
type FS interface {
	MkdirAll(path string, perm os.FileMode) error

	// WriteFile creates or truncates name and writes data, syncing before close.
	WriteFile(name string, data []byte) error

	ReadFile(name string) ([]byte, error)
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
	RemoveAll(path string) error
	ReadDir(path string) ([]os.DirEntry, error)
}

// Renamer renames oldpath to newName inside the same directory.
// newName must not contain a path separator.
type Renamer interface {
	Rename(oldpath, newName string) error
}

// Mover moves oldpath to destDir/newName.
type Mover interface {
	Move(oldpath, destDir, newName string) error
}

// osFS implements FS, Renamer and Mover on the OS filesystem.
type osFS struct{}

// Default returns the OS filesystem.
func Default() FS {
	return osFS{}
}

func (osFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (osFS) WriteFile(name string, data []byte) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return errors.Join(err, f.Close())
	}
	if err := f.Sync(); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

func (osFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (osFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (osFS) Remove(name string) error {
	return os.Remove(name)
}

func (osFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (osFS) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (osFS) Rename(oldpath, newName string) error {
	if filepath.Base(newName) != newName {
		return fmt.Errorf("%w: %q is not a bare name", ErrSignatureUnsupported, newName)
	}
	return classify(os.Rename(oldpath, filepath.Join(filepath.Dir(oldpath), newName)))
}

func (osFS) Move(oldpath, destDir, newName string) error {
	return classify(os.Rename(oldpath, filepath.Join(destDir, newName)))
}

// classify maps platform "busy" errors onto ErrLocked.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) || isSharingViolation(err) {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}
	return err
}

// isSharingViolation reports the Windows ERROR_SHARING_VIOLATION (32) and
// ERROR_LOCK_VIOLATION (33) codes.
func isSharingViolation(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	return runtime.GOOS == "windows" && (errno == 32 || errno == 33)
}
