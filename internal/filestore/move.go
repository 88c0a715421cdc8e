package filestore

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/vfs"
)

// moveStrategy is the cached outcome of probing the filesystem's move
// capabilities, in priority order.
type moveStrategy int

const (
	strategyUnknown moveStrategy = iota
	strategyRename               // vfs.Renamer: new name only
	strategyMove                 // vfs.Mover: destination dir + new name
	strategyNone                 // copy-then-delete
)

type moveResult int

const (
	moveOK moveResult = iota
	moveLocked
	moveUnsupported
	moveFailed
)

// replace moves tmp over target, retrying while the destination is locked.
func (s *Store) replace(ctx context.Context, tmp, target, rel string) error {
	for attempt := 1; ; attempt++ {
		res, err := s.tryMove(tmp, target)
		switch res {
		case moveOK:
			return nil
		case moveUnsupported:
			logger().DebugContext(ctx, "move unavailable, copying instead", "path", rel)
			return s.copyThenDelete(tmp, target, rel)
		case moveLocked:
			if attempt >= maxMoveAttempts {
				return &MoveLockedExhaustedError{Path: rel, Attempts: attempt, Err: err}
			}
			logger().WarnContext(ctx, "destination locked, retrying", "path", rel, "attempt", attempt)
			if err := s.wait(ctx, moveBackoffStep*time.Duration(attempt)); err != nil {
				return &WriteError{Op: "move", Path: rel, Err: err}
			}
		default:
			return &WriteError{Op: "move", Path: rel, Err: err}
		}
	}
}

// tryMove performs one remove-then-move step with the cached strategy,
// demoting the strategy when a form answers ErrSignatureUnsupported.
func (s *Store) tryMove(tmp, target string) (moveResult, error) {
	st := s.currentStrategy()
	for {
		if st == strategyNone {
			return moveUnsupported, ErrMoveUnavailable
		}
		err := s.moveWith(st, tmp, target)
		if errors.Is(err, fs.ErrExist) {
			// The primitive refuses to overwrite: clear the name and go again.
			if rmErr := s.fs.Remove(target); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				err = rmErr
			} else {
				err = s.moveWith(st, tmp, target)
			}
		}
		switch {
		case err == nil:
			return moveOK, nil
		case errors.Is(err, vfs.ErrSignatureUnsupported):
			st = s.demote(st)
		case errors.Is(err, vfs.ErrLocked):
			return moveLocked, err
		default:
			return moveFailed, err
		}
	}
}

func (s *Store) moveWith(st moveStrategy, tmp, target string) error {
	switch st {
	case strategyRename:
		return s.fs.(vfs.Renamer).Rename(tmp, filepath.Base(target))
	case strategyMove:
		return s.fs.(vfs.Mover).Move(tmp, filepath.Dir(target), filepath.Base(target))
	default:
		return ErrMoveUnavailable
	}
}

func (s *Store) currentStrategy() moveStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strategy == strategyUnknown {
		s.strategy = s.probeFrom(strategyRename)
	}
	return s.strategy
}

// demote caches and returns the next available strategy after st.
func (s *Store) demote(st moveStrategy) moveStrategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategy = s.probeFrom(st + 1)
	return s.strategy
}

func (s *Store) probeFrom(st moveStrategy) moveStrategy {
	if st <= strategyRename {
		if _, ok := s.fs.(vfs.Renamer); ok {
			return strategyRename
		}
	}
	if st <= strategyMove {
		if _, ok := s.fs.(vfs.Mover); ok {
			return strategyMove
		}
	}
	return strategyNone
}

// copyThenDelete gives up atomicity to make progress on filesystems without a move.
func (s *Store) copyThenDelete(tmp, target, rel string) error {
	data, err := s.fs.ReadFile(tmp)
	if err != nil {
		return &WriteError{Op: "copy", Path: rel, Err: err}
	}
	if err := s.fs.WriteFile(target, data); err != nil {
		return &WriteError{Op: "copy", Path: rel, Err: err}
	}
	if err := s.removeQuiet(tmp); err != nil {
		return &WriteError{Op: "remove temp", Path: rel, Err: err}
	}
	return nil
}
