package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEngineStopped is returned by every call once the engine has shut
	// down or failed fatally.
	ErrEngineStopped = errors.New("engine: stopped")

	// ErrTxDone is returned when a Tx is used after its transaction ended.
	ErrTxDone = errors.New("engine: transaction already finished")
)

// RemoteError is an error raised on the engine side and carried back in a response.
type RemoteError struct {
	Op      string
	Message string
	// Code is the SQLite primary result code, 0 when the error did not come from SQLite.
	Code int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Op, e.Message)
}

// IsDuplicateColumn reports whether err is SQLite's "duplicate column name"
// error from ALTER TABLE ... ADD COLUMN.
func IsDuplicateColumn(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && strings.Contains(re.Message, "duplicate column name")
}

// IsConstraint reports whether err is a SQLite constraint violation.
func IsConstraint(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == sqliteConstraint
}

// OpenError is returned when the engine does not hand back a usable handle.
type OpenError struct {
	Locator string
	Err     error
}

func (e *OpenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: open %q returned no usable handle", e.Locator)
	}
	return fmt.Sprintf("engine: open %q: %v", e.Locator, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Diagnostics describes the environment the engine failed to start in.
type Diagnostics struct {
	GOOS            string
	GOARCH          string
	DataDir         string
	DataDirWritable bool
	SharedMemory    bool
	SQLiteVersion   string
}

// BootstrapError is returned when the engine never reported ready. It is
// fatal for the session.
type BootstrapError struct {
	Reason      string
	Diagnostics Diagnostics
	Err         error
}

func (e *BootstrapError) Error() string {
	msg := fmt.Sprintf("engine bootstrap failed: %s (os=%s/%s data_dir=%s writable=%t shm=%t)",
		e.Reason, e.Diagnostics.GOOS, e.Diagnostics.GOARCH, e.Diagnostics.DataDir,
		e.Diagnostics.DataDirWritable, e.Diagnostics.SharedMemory)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BootstrapError) Unwrap() error { return e.Err }
