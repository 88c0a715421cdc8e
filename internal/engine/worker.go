package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const busyTimeoutMS = 5000

var sqliteConstraint = int(sqlite3.ErrConstraint)

// worker owns every SQLite connection. It runs on a single goroutine and
// executes requests in arrival order.
type worker struct {
	dataDir string
	in      <-chan request
	out     chan<- response
	events  chan<- event
	quit    <-chan struct{}
	done    chan<- struct{}

	warmup        func(ctx context.Context) error
	beforeRequest func(req request)

	next  Handle
	conns map[Handle]*pinnedConn
}

type pinnedConn struct {
	db   *sqlx.DB
	conn *sqlx.Conn
}

func (w *worker) run() {
	defer close(w.done)
	defer w.closeAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if w.warmup != nil {
		if err := w.warmup(ctx); err != nil {
			w.emit(event{Kind: eventFatal, Err: fmt.Errorf("engine init: %w", err)})
			return
		}
	}
	version, _, _ := sqlite3.Version()
	w.emit(event{Kind: eventReady, SQLiteVersion: version, SharedMemory: probeSharedMemory(ctx)})

	for {
		select {
		case <-w.quit:
			return
		case req := <-w.in:
			resp, fatal := w.serve(ctx, req)
			select {
			case w.out <- resp:
			case <-w.quit:
				return
			}
			if fatal != nil {
				w.emit(event{Kind: eventFatal, Err: fatal})
				return
			}
		}
	}
}

func (w *worker) emit(ev event) {
	select {
	case w.events <- ev:
	case <-w.quit:
	}
}

// serve handles one request. A panic turns into an error response and a
// fatal engine error.
func (w *worker) serve(ctx context.Context, req request) (resp response, fatal error) {
	defer func() {
		if p := recover(); p != nil {
			fatal = fmt.Errorf("engine panic during %s: %v", req.Op, p)
			resp = response{ID: req.ID, Err: &RemoteError{Op: string(req.Op), Message: fatal.Error()}}
		}
	}()
	if w.beforeRequest != nil {
		w.beforeRequest(req)
	}
	return w.handle(ctx, req), nil
}

func (w *worker) handle(ctx context.Context, req request) response {
	resp := response{ID: req.ID, Handle: req.Handle}
	var err error

	switch req.Op {
	case opOpen:
		resp.Handle, err = w.open(ctx, req.Locator)
	case opClose:
		err = w.close(req.Handle)
	case opExec:
		resp.Result, err = w.exec(ctx, req)
	case opQuery:
		resp.Columns, resp.Rows, err = w.query(ctx, req, false)
	case opQueryArrays:
		resp.Columns, resp.Rows, err = w.query(ctx, req, true)
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}

	if err != nil {
		resp.Err = toRemote(req.Op, err)
	}
	return resp
}

func (w *worker) open(ctx context.Context, locator string) (Handle, error) {
	dsn, readOnly, err := w.resolve(locator)
	if err != nil {
		return 0, err
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return 0, err
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Connx(ctx)
	if err != nil {
		return 0, errors.Join(err, db.Close())
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMS),
	}
	if readOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON")
	} else if !isMemory(dsn) {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			return 0, errors.Join(fmt.Errorf("%s: %w", p, err), conn.Close(), db.Close())
		}
	}

	if w.conns == nil {
		w.conns = make(map[Handle]*pinnedConn)
	}
	w.next++
	w.conns[w.next] = &pinnedConn{db: db, conn: conn}
	return w.next, nil
}

func (w *worker) close(h Handle) error {
	pc, ok := w.conns[h]
	if !ok {
		return fmt.Errorf("unknown handle %d", h)
	}
	delete(w.conns, h)
	return errors.Join(pc.conn.Close(), pc.db.Close())
}

func (w *worker) closeAll() {
	for h := range w.conns {
		_ = w.close(h)
	}
}

func (w *worker) exec(ctx context.Context, req request) (Result, error) {
	pc, ok := w.conns[req.Handle]
	if !ok {
		return Result{}, fmt.Errorf("unknown handle %d", req.Handle)
	}
	res, err := pc.conn.ExecContext(ctx, req.Stmt, req.Params...)
	if err != nil {
		return Result{}, err
	}
	var out Result
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertID, _ = res.LastInsertId()
	return out, nil
}

// query reads the whole result set and frames it as envelopes followed by
// the nil terminator.
func (w *worker) query(ctx context.Context, req request, arrays bool) ([]string, []envelope, error) {
	pc, ok := w.conns[req.Handle]
	if !ok {
		return nil, nil, fmt.Errorf("unknown handle %d", req.Handle)
	}
	rows, err := pc.conn.QueryxContext(ctx, req.Stmt, req.Params...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []envelope
	for rows.Next() {
		if arrays {
			vals, err := rows.SliceScan()
			if err != nil {
				return nil, nil, err
			}
			out = append(out, envelope{Row: vals})
			continue
		}
		m := make(map[string]any, len(columns))
		if err := rows.MapScan(m); err != nil {
			return nil, nil, err
		}
		out = append(out, envelope{Row: Row(m)})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, append(out, envelope{Row: nil}), nil
}

// resolve turns a locator into a DSN. Relative paths live under the data dir.
func (w *worker) resolve(locator string) (dsn string, readOnly bool, err error) {
	if locator == "" {
		return "", false, errors.New("empty locator")
	}
	readOnly = strings.Contains(locator, "mode=ro")

	switch {
	case locator == ":memory:":
		return locator, false, nil
	case strings.HasPrefix(locator, "file:"):
		rest := strings.TrimPrefix(locator, "file:")
		p, query, _ := strings.Cut(rest, "?")
		if p != "" && !strings.HasPrefix(p, ":memory:") && !strings.Contains(query, "mode=memory") && !filepath.IsAbs(p) {
			p = filepath.Join(w.dataDir, p)
		}
		if query != "" {
			return "file:" + p + "?" + query, readOnly, nil
		}
		return "file:" + p, readOnly, nil
	case filepath.IsAbs(locator):
		return locator, false, nil
	default:
		return filepath.Join(w.dataDir, locator), false, nil
	}
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// probeSharedMemory checks that SQLite can set up a shared-cache memory
// database, the same facility WAL needs for its index.
func probeSharedMemory(ctx context.Context) bool {
	db, err := sql.Open("sqlite3", "file:cuptrack-shm-probe?mode=memory&cache=shared")
	if err != nil {
		return false
	}
	defer db.Close()
	return db.PingContext(ctx) == nil
}

func toRemote(o op, err error) *RemoteError {
	re := &RemoteError{Op: string(o), Message: err.Error()}
	var se sqlite3.Error
	if errors.As(err, &se) {
		re.Code = int(se.Code)
	}
	return re
}
