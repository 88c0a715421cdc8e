package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/filestore"
	"github.com/AdamBeresnev/cuptrack/internal/service"
	"github.com/AdamBeresnev/cuptrack/internal/vfs"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDatabase runs stmts against a fresh database file and returns its bytes.
func buildDatabase(t *testing.T, stmts ...string) []byte {
	t.Helper()
	p := filepath.Join(t.TempDir(), "catalog.sqlite3")

	db, err := sqlx.Open("sqlite3", p)
	require.NoError(t, err)
	for _, stmt := range stmts {
		db.MustExec(stmt)
	}
	require.NoError(t, db.Close())

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return data
}

// buildCatalog writes a small catalog database and returns its bytes.
func buildCatalog(t *testing.T, titles map[int]string) []byte {
	t.Helper()
	stmts := []string{`CREATE TABLE charts (
		chart_id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		play_style TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		level INTEGER NOT NULL)`}
	for id, title := range titles {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO charts VALUES (%d, '%s', 'artist', 'SP', 'ANOTHER', 12)`, id, title))
	}
	return buildDatabase(t, stmts...)
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type publisher struct {
	manifest  atomic.Value
	file      atomic.Value
	manifests atomic.Int32
	downloads atomic.Int32
	lastQuery atomic.Value
}

func (p *publisher) publish(name string, data []byte) {
	p.file.Store(data)
	p.manifest.Store(Manifest{
		FileName:      name,
		SchemaVersion: 1,
		SHA256:        digest(data),
		ByteSize:      int64(len(data)),
		UpdatedAt:     "2026-02-10T00:00:00Z",
	})
}

func (p *publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m := p.manifest.Load().(Manifest)
	switch r.URL.Path {
	case "/latest.json":
		p.manifests.Add(1)
		p.lastQuery.Store(r.URL.Query().Get("ts") + "|" + r.Header.Get("Cache-Control"))
		_ = json.NewEncoder(w).Encode(m)
	case "/" + m.FileName:
		p.downloads.Add(1)
		_, _ = w.Write(p.file.Load().([]byte))
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	engine   *engine.Client
	files    *filestore.Store
	settings *service.SettingsService
	syncer   *Syncer
	pub      *publisher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	client, err := engine.Start(ctx, engine.Options{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	files := filestore.New(vfs.Default(), dir)
	d, err := service.Open(ctx, service.Deps{Engine: client, Files: files})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(ctx) })

	pub := &publisher{}
	pub.publish("songs_v1.sqlite3", buildCatalog(t, map[int]string{1: "One", 2: "Two"}))
	srv := httptest.NewServer(pub)
	t.Cleanup(srv.Close)

	syncer := NewSyncer(client, files, d.Settings(), Options{
		BaseURL: srv.URL + "/",
		Now:     func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) },
	})
	syncer.wait = func(context.Context, time.Duration) error { return nil }

	return &fixture{engine: client, files: files, settings: d.Settings(), syncer: syncer, pub: pub}
}

func TestSync_InstallsThenSkips(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	res, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
	assert.Equal(t, "songs_v1.sqlite3", res.Manifest.FileName)
	assert.Equal(t, "1770681600000|no-cache", f.pub.lastQuery.Load(), "Manifest fetch bypasses caches")

	ok, err := f.files.Exists("song_master/songs_v1.sqlite3")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.files.Exists("song_master/songs_v1.sqlite3.tmp.staging")
	require.NoError(t, err)
	assert.False(t, ok, "Staged copy is removed")

	meta, err := f.files.Read("song_master/latest_meta.json")
	require.NoError(t, err)
	assert.Contains(t, string(meta), `"file_name": "songs_v1.sqlite3"`)

	sha, err := f.settings.Get(ctx, SettingSHA256)
	require.NoError(t, err)
	assert.Equal(t, res.Manifest.SHA256, sha)

	res, err = f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, res.Status)
	assert.EqualValues(t, 1, f.pub.downloads.Load())
}

func TestSync_ReplacesPreviousFile(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx)
	require.NoError(t, err)

	f.pub.publish("songs_v2.sqlite3", buildCatalog(t, map[int]string{3: "Three"}))
	res, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)

	ok, err := f.files.Exists("song_master/songs_v1.sqlite3")
	require.NoError(t, err)
	assert.False(t, ok)

	cat, err := OpenCurrent(ctx, f.engine, f.settings)
	require.NoError(t, err)
	defer cat.Close(ctx)
	assert.Equal(t, "songs_v2.sqlite3", cat.FileName())
}

func TestSync_FirstSyncFailureIsError(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *publisher)
	}{
		{"sha mismatch", func(p *publisher) {
			m := p.manifest.Load().(Manifest)
			m.SHA256 = digest([]byte("other"))
			p.manifest.Store(m)
		}},
		{"size mismatch", func(p *publisher) {
			m := p.manifest.Load().(Manifest)
			m.ByteSize++
			p.manifest.Store(m)
		}},
		{"not sqlite", func(p *publisher) {
			p.publish("songs_v1.sqlite3", []byte("definitely not a database file"))
		}},
		{"no charts table", func(p *publisher) {
			p.publish("songs_v1.sqlite3", buildDatabase(t, `CREATE TABLE songs (id INTEGER PRIMARY KEY)`))
		}},
		{"unsupported schema", func(p *publisher) {
			m := p.manifest.Load().(Manifest)
			m.SchemaVersion = SchemaVersion + 1
			p.manifest.Store(m)
		}},
		{"path in file name", func(p *publisher) {
			m := p.manifest.Load().(Manifest)
			m.FileName = "../escape.sqlite3"
			p.manifest.Store(m)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			tt.mutate(f.pub)

			_, err := f.syncer.Sync(context.Background())
			require.Error(t, err)

			file, gerr := f.settings.Get(context.Background(), SettingFile)
			require.NoError(t, gerr)
			assert.Empty(t, file)
		})
	}
}

func TestSync_FailureWithPreviousCopyIsStale(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.syncer.Sync(ctx)
	require.NoError(t, err)

	f.pub.publish("songs_v2.sqlite3", buildCatalog(t, map[int]string{3: "Three"}))
	m := f.pub.manifest.Load().(Manifest)
	m.SHA256 = digest([]byte("tampered"))
	f.pub.manifest.Store(m)

	res, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusStale, res.Status)
	assert.Equal(t, "songs_v1.sqlite3", res.Manifest.FileName)
	assert.Contains(t, res.Reason, "sha256 mismatch")
	assert.Error(t, res.Err)

	file, err := f.settings.Get(ctx, SettingFile)
	require.NoError(t, err)
	assert.Equal(t, "songs_v1.sqlite3", file)
}

func TestSync_ServerDown(t *testing.T) {
	f := setup(t)
	f.syncer.base = "http://127.0.0.1:1"

	_, err := f.syncer.Sync(context.Background())
	assert.Error(t, err)
}

func TestLookupCharts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := OpenCurrent(ctx, f.engine, f.settings)
	assert.ErrorIs(t, err, ErrNoCatalog)

	_, err = f.syncer.Sync(ctx)
	require.NoError(t, err)

	cat, err := OpenCurrent(ctx, f.engine, f.settings)
	require.NoError(t, err)
	defer cat.Close(ctx)

	infos, err := cat.LookupCharts(ctx, []int{2, 1, 2, 99})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "One", infos[1].Title)
	assert.Equal(t, "Two", infos[2].Title)
	assert.Equal(t, 12, infos[2].Level)
	_, ok := infos[99]
	assert.False(t, ok)

	infos, err = cat.LookupCharts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = cat.session.Exec(ctx, `DELETE FROM charts`)
	assert.Error(t, err, "Catalog handle is read-only")
}

func TestVerifySettings_Retries(t *testing.T) {
	f := setup(t)
	var waits int
	f.syncer.wait = func(context.Context, time.Duration) error { waits++; return nil }

	err := f.syncer.verifySettings(context.Background(), Manifest{SHA256: digest([]byte("never written"))})
	require.Error(t, err)
	assert.Equal(t, verifyAttempts-1, waits)
}
