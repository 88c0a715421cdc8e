package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupClient starts an engine over a temp data dir.
func setupClient(t *testing.T, opts Options) *Client {
	t.Helper()

	if opts.DataDir == "" {
		opts.DataDir = t.TempDir()
	}
	c, err := Start(context.Background(), opts)
	require.NoError(t, err, "Failed to start engine")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func setupSession(t *testing.T) *Session {
	t.Helper()

	c := setupClient(t, Options{})
	s, err := c.OpenSession(context.Background(), "test.sqlite3")
	require.NoError(t, err)

	_, err = s.Exec(context.Background(), `CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, qty INTEGER)`)
	require.NoError(t, err)
	return s
}

func TestStart_ReportsDiagnostics(t *testing.T) {
	c := setupClient(t, Options{})

	d := c.Diagnostics()
	assert.NotEmpty(t, d.SQLiteVersion)
	assert.True(t, d.DataDirWritable)
	assert.True(t, d.SharedMemory)
	assert.NotEmpty(t, d.GOOS)
}

func TestStart_Timeout(t *testing.T) {
	var calls []error
	opts := Options{
		DataDir:          t.TempDir(),
		BootstrapTimeout: 50 * time.Millisecond,
		OnError:          func(err error) { calls = append(calls, err) },
		warmup: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	c, err := Start(context.Background(), opts)
	require.Nil(t, c)

	var bErr *BootstrapError
	require.ErrorAs(t, err, &bErr)
	assert.Contains(t, bErr.Reason, "no ready message")
	assert.Equal(t, opts.DataDir, bErr.Diagnostics.DataDir)
	assert.Empty(t, calls, "bootstrap failures are returned, not reported to the listener")
}

func TestStart_InitFailure(t *testing.T) {
	boom := errors.New("wasm missing")
	_, err := Start(context.Background(), Options{
		DataDir: t.TempDir(),
		warmup:  func(context.Context) error { return boom },
	})

	var bErr *BootstrapError
	require.ErrorAs(t, err, &bErr)
	assert.ErrorIs(t, err, boom)
}

func TestOpen_BadLocator(t *testing.T) {
	c := setupClient(t, Options{})

	_, err := c.Open(context.Background(), "")
	var oErr *OpenError
	require.ErrorAs(t, err, &oErr)

	_, err = c.Open(context.Background(), "file:missing/nowhere.sqlite3?mode=ro")
	require.ErrorAs(t, err, &oErr)
}

func TestExecAndQuery(t *testing.T) {
	s := setupSession(t)
	ctx := context.Background()

	res, err := s.Exec(ctx, `INSERT INTO items (name, qty) VALUES (?, ?)`, "a", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, int64(1), res.LastInsertID)

	_, err = s.Exec(ctx, `INSERT INTO items (name, qty) VALUES (?, NULL)`, "b")
	require.NoError(t, err)

	rows, err := s.Query(ctx, `SELECT id, name, qty FROM items ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].String("name"))
	assert.Equal(t, 1, rows[0].Int("qty"))
	assert.Nil(t, rows[1].StringPtr("qty"))

	cols, arrays, err := s.QueryArrays(ctx, `SELECT name, qty FROM items ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "qty"}, cols)
	require.Len(t, arrays, 2)
	assert.Equal(t, "b", arrays[1][0])

	rows, err = s.Query(ctx, `SELECT name FROM items WHERE qty > 100`)
	require.NoError(t, err)
	assert.Empty(t, rows, "the stream terminator is never returned as a row")
}

func TestRemoteErrors(t *testing.T) {
	s := setupSession(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, `INSERT INTO items (name) VALUES ('dup')`)
	require.NoError(t, err)
	_, err = s.Exec(ctx, `INSERT INTO items (name) VALUES ('dup')`)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int(sqlite3.ErrConstraint), re.Code)
	assert.True(t, IsConstraint(err))

	_, err = s.Exec(ctx, `ALTER TABLE items ADD COLUMN qty INTEGER`)
	assert.True(t, IsDuplicateColumn(err))
}

func TestExclusive_CommitAndRollback(t *testing.T) {
	s := setupSession(t)
	ctx := context.Background()

	err := s.Exclusive(ctx, func(tx *Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO items (name) VALUES ('kept')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("abort")
	err = s.Exclusive(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO items (name) VALUES ('lost')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = s.Exclusive(ctx, func(tx *Tx) error {
			_, _ = tx.Exec(ctx, `INSERT INTO items (name) VALUES ('panicked')`)
			panic("boom")
		})
	})

	rows, err := s.Query(ctx, `SELECT name FROM items`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0].String("name"))
}

func TestExclusive_TxUnusableAfterwards(t *testing.T) {
	s := setupSession(t)
	ctx := context.Background()

	var leaked *Tx
	require.NoError(t, s.Exclusive(ctx, func(tx *Tx) error {
		leaked = tx
		return nil
	}))

	_, err := leaked.Exec(ctx, `INSERT INTO items (name) VALUES ('late')`)
	assert.ErrorIs(t, err, ErrTxDone)
}

// sessionWithHook opens a session whose engine runs hook before each request.
func sessionWithHook(t *testing.T, hook func(req request)) *Session {
	t.Helper()

	c := setupClient(t, Options{beforeRequest: hook})
	s, err := c.OpenSession(context.Background(), "test.sqlite3")
	require.NoError(t, err)
	_, err = s.Exec(context.Background(), `CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, qty INTEGER)`)
	require.NoError(t, err)
	return s
}

func TestExclusive_CancelledDuringBegin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := sessionWithHook(t, func(req request) {
		if req.Stmt == "BEGIN EXCLUSIVE" {
			cancel()
		}
	})

	called := false
	err := s.Exclusive(ctx, func(tx *Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)

	bg := context.Background()
	err = s.Exclusive(bg, func(tx *Tx) error {
		_, err := tx.Exec(bg, `INSERT INTO items (name) VALUES ('after')`)
		return err
	})
	require.NoError(t, err, "The connection is not left inside a transaction")

	rows, err := s.Query(bg, `SELECT name FROM items`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "after", rows[0].String("name"))
}

func TestExclusive_CancelledDuringCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := sessionWithHook(t, func(req request) {
		if req.Stmt == "COMMIT" {
			cancel()
		}
	})

	err := s.Exclusive(ctx, func(tx *Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO items (name) VALUES ('committed')`)
		return err
	})
	require.NoError(t, err, "A commit the engine ran is reported as committed")

	rows, err := s.Query(context.Background(), `SELECT name FROM items`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "committed", rows[0].String("name"))
}

func TestConcurrentCallersAreSerialised(t *testing.T) {
	s := setupSession(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Exclusive(ctx, func(tx *Tx) error {
				rows, err := tx.Query(ctx, `SELECT COUNT(*) AS n FROM items`)
				if err != nil {
					return err
				}
				n := rows[0].Int("n")
				_, err = tx.Exec(ctx, `INSERT INTO items (name, qty) VALUES (?, ?)`, time.Now().String()+string(rune('a'+i)), n)
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rows, err := s.Query(ctx, `SELECT qty FROM items ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 20)
	for i, r := range rows {
		assert.Equal(t, i, r.Int("qty"), "each transaction saw every earlier commit")
	}
}

func TestFatalEngineError(t *testing.T) {
	reported := make(chan error, 1)
	c := setupClient(t, Options{
		OnError: func(err error) { reported <- err },
		beforeRequest: func(req request) {
			if req.Stmt == "SELECT 'crash'" {
				panic("engine crashed")
			}
		},
	})
	ctx := context.Background()

	h, err := c.Open(ctx, ":memory:")
	require.NoError(t, err)

	_, err = c.Query(ctx, h, "SELECT 'crash'")
	require.Error(t, err)

	select {
	case err := <-reported:
		assert.Contains(t, err.Error(), "engine crashed")
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error was not reported")
	}

	_, err = c.Exec(ctx, h, "SELECT 1")
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestCallAfterClose(t *testing.T) {
	c := setupClient(t, Options{})
	require.NoError(t, c.Close())

	_, err := c.Open(context.Background(), ":memory:")
	assert.ErrorIs(t, err, ErrEngineStopped)
}

func TestCallHonoursContext(t *testing.T) {
	c := setupClient(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Open(ctx, ":memory:")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveLocator(t *testing.T) {
	w := &worker{dataDir: "/data"}

	tests := []struct {
		locator  string
		dsn      string
		readOnly bool
	}{
		{"app.sqlite3", "/data/app.sqlite3", false},
		{"/abs/x.sqlite3", "/abs/x.sqlite3", false},
		{":memory:", ":memory:", false},
		{"file:song_master/s.sqlite3?mode=ro", "file:/data/song_master/s.sqlite3?mode=ro", true},
		{"file:/abs/s.sqlite3?mode=ro", "file:/abs/s.sqlite3?mode=ro", true},
		{"file:mem?mode=memory&cache=shared", "file:mem?mode=memory&cache=shared", false},
	}
	for _, tt := range tests {
		t.Run(tt.locator, func(t *testing.T) {
			dsn, ro, err := w.resolve(tt.locator)
			require.NoError(t, err)
			assert.Equal(t, tt.dsn, dsn)
			assert.Equal(t, tt.readOnly, ro)
		})
	}
}
