package filestore

import (
	"errors"
	"fmt"
)

// ErrMoveUnavailable reports that the filesystem offers no usable move
// primitive. WriteAtomic handles it by falling back to copy-then-delete; it is
// only returned to callers of the lower-level helpers.
var ErrMoveUnavailable = errors.New("filestore: move primitive unavailable")

// InvalidPathError is returned for paths that are empty, absolute or escape the root.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("filestore: invalid path %q: %s", e.Path, e.Reason)
}

// DirectoryNotFoundError is returned when a directory operation targets a missing directory.
type DirectoryNotFoundError struct {
	Path string
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("filestore: directory %q not found", e.Path)
}

// MoveLockedExhaustedError is returned when the destination stayed locked
// for every replace attempt. It is fatal for the write.
type MoveLockedExhaustedError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *MoveLockedExhaustedError) Error() string {
	return fmt.Sprintf("filestore: %q still locked after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *MoveLockedExhaustedError) Unwrap() error { return e.Err }

// ValidationFailedError is returned when the validate callback rejects the
// staged bytes. The target is untouched and the temp file is left at TempPath.
type ValidationFailedError struct {
	Path     string
	TempPath string
	Err      error
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("filestore: validation of %q failed: %v", e.Path, e.Err)
}

func (e *ValidationFailedError) Unwrap() error { return e.Err }

// WriteError is the umbrella for durable write failures.
type WriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("filestore: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
