package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// ErrInjectedWriteError is returned when a write error is injected.
var ErrInjectedWriteError = errors.New("vfs: injected write error")

// FaultInjectionFS wraps an FS and allows injecting move and write failures.
// It exposes both move capabilities; each can be switched to answer
// ErrSignatureUnsupported. Use Plain to hide the capabilities entirely.
type FaultInjectionFS struct {
	base FS

	mu sync.Mutex

	renameDisabled bool
	moveDisabled   bool
	lockedMoves    int
	moveErr        error
	writeErrorPath string

	renameCalls int
	moveCalls   int
}

// NewFaultInjectionFS creates a new fault-injecting filesystem wrapper.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{base: base}
}

// DisableRename makes the single-argument form answer ErrSignatureUnsupported.
func (fs *FaultInjectionFS) DisableRename() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.renameDisabled = true
}

// DisableMove makes the two-argument form answer ErrSignatureUnsupported.
func (fs *FaultInjectionFS) DisableMove() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.moveDisabled = true
}

// LockNextMoves makes the next n move attempts (either form) fail with ErrLocked.
func (fs *FaultInjectionFS) LockNextMoves(n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.lockedMoves = n
}

// InjectMoveError makes every move attempt fail with err.
func (fs *FaultInjectionFS) InjectMoveError(err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.moveErr = err
}

// InjectWriteError makes writes to path fail.
func (fs *FaultInjectionFS) InjectWriteError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.writeErrorPath = path
}

// ClearErrors clears all injected failures.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.renameDisabled = false
	fs.moveDisabled = false
	fs.lockedMoves = 0
	fs.moveErr = nil
	fs.writeErrorPath = ""
}

// Calls returns how many times each move form was invoked.
func (fs *FaultInjectionFS) Calls() (rename, move int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.renameCalls, fs.moveCalls
}

func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	return fs.base.MkdirAll(path, perm)
}

func (fs *FaultInjectionFS) WriteFile(name string, data []byte) error {
	fs.mu.Lock()
	fail := fs.writeErrorPath != "" && filepath.Clean(name) == filepath.Clean(fs.writeErrorPath)
	fs.mu.Unlock()
	if fail {
		return ErrInjectedWriteError
	}
	return fs.base.WriteFile(name, data)
}

func (fs *FaultInjectionFS) ReadFile(name string) ([]byte, error) {
	return fs.base.ReadFile(name)
}

func (fs *FaultInjectionFS) Stat(name string) (os.FileInfo, error) {
	return fs.base.Stat(name)
}

func (fs *FaultInjectionFS) Remove(name string) error {
	return fs.base.Remove(name)
}

func (fs *FaultInjectionFS) RemoveAll(path string) error {
	return fs.base.RemoveAll(path)
}

func (fs *FaultInjectionFS) ReadDir(path string) ([]os.DirEntry, error) {
	return fs.base.ReadDir(path)
}

func (fs *FaultInjectionFS) Rename(oldpath, newName string) error {
	fs.mu.Lock()
	fs.renameCalls++
	if fs.renameDisabled {
		fs.mu.Unlock()
		return ErrSignatureUnsupported
	}
	if err := fs.injectedMoveErrLocked(); err != nil {
		fs.mu.Unlock()
		return err
	}
	fs.mu.Unlock()
	return fs.move(oldpath, filepath.Join(filepath.Dir(oldpath), newName))
}

func (fs *FaultInjectionFS) Move(oldpath, destDir, newName string) error {
	fs.mu.Lock()
	fs.moveCalls++
	if fs.moveDisabled {
		fs.mu.Unlock()
		return ErrSignatureUnsupported
	}
	if err := fs.injectedMoveErrLocked(); err != nil {
		fs.mu.Unlock()
		return err
	}
	fs.mu.Unlock()
	return fs.move(oldpath, filepath.Join(destDir, newName))
}

// injectedMoveErrLocked must be called with fs.mu held.
func (fs *FaultInjectionFS) injectedMoveErrLocked() error {
	if fs.moveErr != nil {
		return fs.moveErr
	}
	if fs.lockedMoves > 0 {
		fs.lockedMoves--
		return ErrLocked
	}
	return nil
}

func (fs *FaultInjectionFS) move(oldpath, newpath string) error {
	if m, ok := fs.base.(Mover); ok {
		return m.Move(oldpath, filepath.Dir(newpath), filepath.Base(newpath))
	}
	return os.Rename(oldpath, newpath)
}

// Plain hides every move capability of fs, leaving only the FS methods.
func Plain(fs FS) FS {
	return plainFS{fs}
}

type plainFS struct {
	FS
}
