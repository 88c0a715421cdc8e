package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/filestore"
	"github.com/AdamBeresnev/cuptrack/internal/media"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
)

const (
	verifyAttempts = 3
	verifyInterval = 100 * time.Millisecond
)

// Settings is where the installed catalog is recorded. SetMany must be atomic.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, values map[string]string) error
}

type Status string

const (
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	// StatusStale means the sync failed and the previous copy stays in use.
	StatusStale Status = "stale"
)

type Result struct {
	Status   Status   `json:"status"`
	Manifest Manifest `json:"manifest"`
	Reason   string   `json:"reason,omitempty"`
	Err      error    `json:"-"`
}

type Options struct {
	BaseURL string

	// Client defaults to an http.Client with Timeout.
	Client  *http.Client
	Timeout time.Duration

	Now func() time.Time
}

// Syncer downloads, verifies and installs the published catalog.
type Syncer struct {
	engine   *engine.Client
	files    *filestore.Store
	settings Settings
	base     string
	client   *http.Client
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
}

func NewSyncer(client *engine.Client, files *filestore.Store, settings Settings, opts Options) *Syncer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		engine:   client,
		files:    files,
		settings: settings,
		base:     strings.TrimRight(opts.BaseURL, "/"),
		client:   opts.Client,
		now:      opts.Now,
		wait:     sleepCtx,
	}
}

// Sync brings the local catalog up to date. When anything fails and a
// previous copy is installed, the result is StatusStale with no error.
// Without a previous copy the failure is returned.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	res, err := s.sync(ctx)
	if err == nil {
		return res, nil
	}

	prev, ok := s.previous(ctx)
	if !ok {
		return Result{}, fmt.Errorf("catalog sync failed: %w", err)
	}
	logger().WarnContext(ctx, "catalog sync failed, keeping previous copy", "file", prev.FileName, "error", err)
	return Result{Status: StatusStale, Manifest: prev, Reason: err.Error(), Err: err}, nil
}

func (s *Syncer) sync(ctx context.Context) (Result, error) {
	if s.base == "" {
		return Result{}, errors.New("no catalog base url configured")
	}

	m, err := s.fetchManifest(ctx)
	if err != nil {
		return Result{}, err
	}

	current, err := s.settings.Get(ctx, SettingSHA256)
	if err != nil {
		return Result{}, err
	}
	file, err := s.settings.Get(ctx, SettingFile)
	if err != nil {
		return Result{}, err
	}
	if current == m.SHA256 && file == m.FileName {
		ok, err := s.files.Exists(m.Path())
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{Status: StatusUnchanged, Manifest: m}, nil
		}
	}

	data, err := s.download(ctx, m)
	if err != nil {
		return Result{}, err
	}
	if err := verify(m, data); err != nil {
		return Result{}, err
	}
	if err := s.smokeTest(ctx, m, data); err != nil {
		return Result{}, err
	}

	if err := s.files.WriteAtomic(ctx, m.Path(), data, media.ValidateSQLite); err != nil {
		return Result{}, fmt.Errorf("failed to install catalog: %w", err)
	}
	meta, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Result{}, err
	}
	if err := s.files.WriteAtomic(ctx, path.Join(Dir, MetaFile), meta, validateJSON); err != nil {
		return Result{}, fmt.Errorf("failed to write catalog meta: %w", err)
	}

	values := map[string]string{
		SettingFile:          m.FileName,
		SettingSHA256:        m.SHA256,
		SettingSchemaVersion: strconv.Itoa(m.SchemaVersion),
		SettingUpdatedAt:     m.UpdatedAt,
		SettingSyncedAt:      utils.Timestamp(s.now()),
	}
	if err := s.settings.SetMany(ctx, values); err != nil {
		return Result{}, fmt.Errorf("failed to record catalog: %w", err)
	}
	if err := s.verifySettings(ctx, m); err != nil {
		return Result{}, err
	}

	if file != "" && file != m.FileName {
		if err := s.files.Delete(path.Join(Dir, file)); err != nil {
			logger().WarnContext(ctx, "failed to remove previous catalog", "file", file, "error", err)
		}
	}

	logger().InfoContext(ctx, "catalog updated", "file", m.FileName, "bytes", m.ByteSize, "schema", m.SchemaVersion)
	return Result{Status: StatusUpdated, Manifest: m}, nil
}

func (s *Syncer) fetchManifest(ctx context.Context) (Manifest, error) {
	u, err := url.Parse(s.base + "/latest.json")
	if err != nil {
		return Manifest{}, fmt.Errorf("invalid catalog base url: %w", err)
	}
	q := u.Query()
	q.Set("ts", strconv.FormatInt(s.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String(), 1<<20)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.SHA256 = strings.ToLower(strings.TrimSpace(m.SHA256))
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (s *Syncer) download(ctx context.Context, m Manifest) ([]byte, error) {
	target := s.base + "/" + url.PathEscape(m.FileName)
	if m.DownloadURL != "" {
		base, err := url.Parse(s.base + "/")
		if err != nil {
			return nil, err
		}
		ref, err := url.Parse(m.DownloadURL)
		if err != nil {
			return nil, fmt.Errorf("invalid download_url: %w", err)
		}
		target = base.ResolveReference(ref).String()
	}

	data, err := s.get(ctx, target, m.ByteSize+1)
	if err != nil {
		return nil, fmt.Errorf("failed to download catalog: %w", err)
	}
	return data, nil
}

func (s *Syncer) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Redacted())
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

func verify(m Manifest, data []byte) error {
	if int64(len(data)) != m.ByteSize {
		return fmt.Errorf("catalog size mismatch: got %d bytes, want %d", len(data), m.ByteSize)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != m.SHA256 {
		return fmt.Errorf("catalog sha256 mismatch: got %s, want %s", got, m.SHA256)
	}
	return media.ValidateSQLite(data)
}

// smokeTest opens the staged copy read-only and queries the charts table.
func (s *Syncer) smokeTest(ctx context.Context, m Manifest, data []byte) (err error) {
	staged := stagingPath(m.FileName)
	if err := s.files.Write(staged, data); err != nil {
		return err
	}
	defer func() {
		if derr := s.files.Delete(staged); derr != nil {
			logger().WarnContext(ctx, "failed to remove staged catalog", "error", derr)
		}
	}()

	session, err := s.engine.OpenSession(ctx, readOnlyLocator(staged))
	if err != nil {
		return fmt.Errorf("staged catalog does not open: %w", err)
	}
	defer func() { err = errors.Join(err, session.Close(ctx)) }()

	if _, err := session.Query(ctx, `SELECT chart_id, title, artist, play_style, difficulty, level FROM charts LIMIT 1`); err != nil {
		return fmt.Errorf("staged catalog failed smoke test: %w", err)
	}
	return nil
}

// verifySettings re-reads the recorded sha until it matches.
func (s *Syncer) verifySettings(ctx context.Context, m Manifest) error {
	var got string
	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		v, err := s.settings.Get(ctx, SettingSHA256)
		if err == nil && v == m.SHA256 {
			return nil
		}
		got = v
		if attempt < verifyAttempts {
			if err := s.wait(ctx, verifyInterval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("catalog settings did not persist: have sha256 %q, want %q", got, m.SHA256)
}

// previous returns the manifest of the installed copy, if one is usable.
func (s *Syncer) previous(ctx context.Context) (Manifest, bool) {
	file, err := s.settings.Get(ctx, SettingFile)
	if err != nil || file == "" {
		return Manifest{}, false
	}
	m := Manifest{FileName: file}
	if ok, err := s.files.Exists(m.Path()); err != nil || !ok {
		return Manifest{}, false
	}

	if raw, err := s.files.Read(path.Join(Dir, MetaFile)); err == nil {
		var meta Manifest
		if json.Unmarshal(raw, &meta) == nil && meta.FileName == file {
			return meta, true
		}
	}
	m.SHA256, _ = s.settings.Get(ctx, SettingSHA256)
	return m, true
}

func readOnlyLocator(rel string) string {
	return "file:" + rel + "?mode=ro"
}

func validateJSON(data []byte) error {
	if !json.Valid(bytes.TrimSpace(data)) {
		return errors.New("invalid json")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func logger() *slog.Logger {
	return slog.Default().With("component", "catalog")
}
