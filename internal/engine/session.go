package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Querier runs statements against one database.
type Querier interface {
	Exec(ctx context.Context, stmt string, params ...any) (Result, error)
	Query(ctx context.Context, stmt string, params ...any) ([]Row, error)
}

// Session is an open handle bound to its client. Its mutex serialises
// callers, so no statement interleaves with an exclusive transaction.
type Session struct {
	client *Client
	handle Handle
	mu     sync.Mutex
}

// OpenSession opens locator and wraps the handle in a Session.
func (c *Client) OpenSession(ctx context.Context, locator string) (*Session, error) {
	h, err := c.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	return &Session{client: c, handle: h}, nil
}

// Handle returns the engine handle behind the session.
func (s *Session) Handle() Handle {
	return s.handle
}

func (s *Session) Exec(ctx context.Context, stmt string, params ...any) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Exec(ctx, s.handle, stmt, params...)
}

func (s *Session) Query(ctx context.Context, stmt string, params ...any) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Query(ctx, s.handle, stmt, params...)
}

func (s *Session) QueryArrays(ctx context.Context, stmt string, params ...any) ([]string, [][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.QueryArrays(ctx, s.handle, stmt, params...)
}

// Close closes the underlying handle.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.CloseHandle(ctx, s.handle)
}

// Exclusive runs fn inside BEGIN EXCLUSIVE ... COMMIT. Any error or panic
// from fn rolls the transaction back; the error is returned and the panic
// re-raised.
func (s *Session) Exclusive(ctx context.Context, fn func(tx *Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// BEGIN and COMMIT always wait for the engine, so a cancelled caller
	// never leaves the connection inside an open transaction.
	if _, err := s.client.Exec(context.WithoutCancel(ctx), s.handle, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{client: s.client, handle: s.handle}
	if err := ctx.Err(); err != nil {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			return errors.Join(fmt.Errorf("failed to begin transaction: %w", err), rbErr)
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}

	tx.done = true
	if _, err := s.client.Exec(context.WithoutCancel(ctx), s.handle, "COMMIT"); err != nil {
		tx.done = false
		if rbErr := tx.rollback(ctx); rbErr != nil {
			return errors.Join(fmt.Errorf("failed to commit: %w", err), rbErr)
		}
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Tx runs statements inside an exclusive transaction. It is only valid
// inside the function passed to Exclusive.
type Tx struct {
	client *Client
	handle Handle
	done   bool
}

func (tx *Tx) Exec(ctx context.Context, stmt string, params ...any) (Result, error) {
	if tx.done {
		return Result{}, ErrTxDone
	}
	return tx.client.Exec(ctx, tx.handle, stmt, params...)
}

func (tx *Tx) Query(ctx context.Context, stmt string, params ...any) ([]Row, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.client.Query(ctx, tx.handle, stmt, params...)
}

// rollback runs even when ctx is already cancelled.
func (tx *Tx) rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	_, err := tx.client.Exec(context.WithoutCancel(ctx), tx.handle, "ROLLBACK")
	return err
}
