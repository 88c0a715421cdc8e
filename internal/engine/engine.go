// Package engine is the asynchronous client to the embedded SQLite engine.
//
// The engine runs on its own goroutine and owns every connection. Callers
// talk to it only through request/response messages paired by a correlation
// id, so a slow statement never runs on the caller's goroutine and
// concurrent callers are served strictly in arrival order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBootstrapTimeout bounds how long Start waits for the ready message.
const DefaultBootstrapTimeout = 15 * time.Second

// Options configures Start.
type Options struct {
	// DataDir is where relative locators resolve.
	DataDir string

	// BootstrapTimeout defaults to DefaultBootstrapTimeout.
	BootstrapTimeout time.Duration

	// OnError receives fatal engine errors after a successful start.
	OnError func(error)

	// Test hooks.
	warmup        func(ctx context.Context) error
	beforeRequest func(req request)
}

// Client is the caller side of the engine protocol.
type Client struct {
	reqs   chan request
	resps  chan response
	events chan event
	quit   chan struct{}
	done   chan struct{}

	onError func(error)

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	fatal   error

	stopOnce sync.Once
	stopped  chan struct{}

	diag Diagnostics
}

// Start launches the engine and waits for it to report ready. It fails with
// *BootstrapError when the engine errors during init or does not answer
// within the bootstrap timeout.
func Start(ctx context.Context, opts Options) (*Client, error) {
	if opts.BootstrapTimeout <= 0 {
		opts.BootstrapTimeout = DefaultBootstrapTimeout
	}

	c := &Client{
		reqs:    make(chan request),
		resps:   make(chan response),
		events:  make(chan event, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		pending: make(map[uint64]chan response),
		onError: opts.OnError,
		diag: Diagnostics{
			GOOS:            runtime.GOOS,
			GOARCH:          runtime.GOARCH,
			DataDir:         opts.DataDir,
			DataDirWritable: probeWritable(opts.DataDir),
		},
	}

	w := &worker{
		dataDir:       opts.DataDir,
		in:            c.reqs,
		out:           c.resps,
		events:        c.events,
		quit:          c.quit,
		done:          c.done,
		warmup:        opts.warmup,
		beforeRequest: opts.beforeRequest,
	}
	go w.run()

	timer := time.NewTimer(opts.BootstrapTimeout)
	defer timer.Stop()

	select {
	case ev := <-c.events:
		if ev.Kind != eventReady {
			return nil, c.bootstrapFailed("engine reported an error during init", ev.Err)
		}
		c.diag.SQLiteVersion = ev.SQLiteVersion
		c.diag.SharedMemory = ev.SharedMemory
	case <-timer.C:
		return nil, c.bootstrapFailed(fmt.Sprintf("no ready message within %s", opts.BootstrapTimeout), nil)
	case <-ctx.Done():
		return nil, c.bootstrapFailed("start cancelled", ctx.Err())
	}

	go c.dispatch()
	go c.watch()

	slog.Debug("engine ready", "sqlite", c.diag.SQLiteVersion, "data_dir", opts.DataDir)
	return c, nil
}

func (c *Client) bootstrapFailed(reason string, err error) error {
	bErr := &BootstrapError{Reason: reason, Diagnostics: c.diag, Err: err}
	c.stop(bErr)
	<-c.done
	return bErr
}

// Diagnostics returns what the client knows about the engine environment.
func (c *Client) Diagnostics() Diagnostics {
	return c.diag
}

// Close stops the engine and closes every open handle.
func (c *Client) Close() error {
	c.stop(ErrEngineStopped)
	<-c.done
	return nil
}

// Err returns the error that stopped the client, or nil while it runs.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

func (c *Client) stop(cause error) {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.fatal = cause
		c.mu.Unlock()
		close(c.quit)
		close(c.stopped)
	})
}

// dispatch routes each response to the caller waiting on its id.
func (c *Client) dispatch() {
	for {
		select {
		case resp := <-c.resps:
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			delete(c.pending, resp.ID)
			c.mu.Unlock()
			if !ok {
				slog.Debug("dropping response for abandoned request", "id", resp.ID)
				continue
			}
			ch <- resp
		case <-c.stopped:
			return
		}
	}
}

// watch forwards fatal engine events to the error listener.
func (c *Client) watch() {
	select {
	case ev := <-c.events:
		if ev.Kind == eventFatal {
			slog.Error("engine failed", "error", ev.Err)
			c.stop(fmt.Errorf("%w: %w", ErrEngineStopped, ev.Err))
			if c.onError != nil {
				c.onError(ev.Err)
			}
		}
	case <-c.stopped:
	}
}

// call sends req and waits for the paired response.
func (c *Client) call(ctx context.Context, req request) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}
	req.ID = c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.fatal != nil {
		err := c.fatal
		c.mu.Unlock()
		return response{}, stoppedErr(err)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}

	select {
	case c.reqs <- req:
	case <-c.stopped:
		abandon()
		return response{}, stoppedErr(c.Err())
	case <-ctx.Done():
		abandon()
		return response{}, ctx.Err()
	}

	select {
	case resp := <-ch:
		if resp.Err != nil {
			return resp, resp.Err
		}
		return resp, nil
	case <-c.stopped:
		abandon()
		return response{}, stoppedErr(c.Err())
	case <-ctx.Done():
		abandon()
		return response{}, ctx.Err()
	}
}

func stoppedErr(cause error) error {
	switch {
	case cause == nil:
		return ErrEngineStopped
	case errors.Is(cause, ErrEngineStopped):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrEngineStopped, cause)
	}
}

// Open opens the database at locator and returns its handle.
func (c *Client) Open(ctx context.Context, locator string) (Handle, error) {
	resp, err := c.call(ctx, request{Op: opOpen, Locator: locator})
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) {
			return 0, &OpenError{Locator: locator, Err: err}
		}
		return 0, err
	}
	if resp.Handle == 0 {
		return 0, &OpenError{Locator: locator}
	}
	return resp.Handle, nil
}

// CloseHandle closes a handle returned by Open.
func (c *Client) CloseHandle(ctx context.Context, h Handle) error {
	_, err := c.call(ctx, request{Op: opClose, Handle: h})
	return err
}

// Exec runs a statement that returns no rows.
func (c *Client) Exec(ctx context.Context, h Handle, stmt string, params ...any) (Result, error) {
	resp, err := c.call(ctx, request{Op: opExec, Handle: h, Stmt: stmt, Params: params})
	if err != nil {
		return Result{}, err
	}
	return resp.Result, nil
}

// Query runs a statement and returns its rows keyed by column name.
func (c *Client) Query(ctx context.Context, h Handle, stmt string, params ...any) ([]Row, error) {
	resp, err := c.call(ctx, request{Op: opQuery, Handle: h, Stmt: stmt, Params: params})
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, env := range resp.Rows {
		if env.Row == nil {
			break
		}
		rows = append(rows, env.Row.(Row))
	}
	return rows, nil
}

// QueryArrays runs a statement and returns positional rows with the column names.
func (c *Client) QueryArrays(ctx context.Context, h Handle, stmt string, params ...any) ([]string, [][]any, error) {
	resp, err := c.call(ctx, request{Op: opQueryArrays, Handle: h, Stmt: stmt, Params: params})
	if err != nil {
		return nil, nil, err
	}
	var rows [][]any
	for _, env := range resp.Rows {
		if env.Row == nil {
			break
		}
		rows = append(rows, env.Row.([]any))
	}
	return resp.Columns, rows, nil
}

func probeWritable(dir string) bool {
	if dir == "" {
		return false
	}
	f, err := os.CreateTemp(dir, ".cuptrack-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return true
}
