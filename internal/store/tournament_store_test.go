package store

import (
	"context"
	"testing"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

// setupSession starts an engine on a temp dir and opens an empty app database.
func setupSession(t *testing.T) *engine.Session {
	t.Helper()

	client, err := engine.Start(context.Background(), engine.Options{DataDir: t.TempDir()})
	require.NoError(t, err, "Failed to start engine")
	t.Cleanup(func() { _ = client.Close() })

	session, err := client.OpenSession(context.Background(), "app_data.sqlite3")
	require.NoError(t, err, "Failed to open app database")
	return session
}

// setupTestDB is setupSession with every migration applied.
func setupTestDB(t *testing.T) *engine.Session {
	t.Helper()
	session := setupSession(t)
	require.NoError(t, EnsureSchema(context.Background(), session, testNow), "Failed to apply migrations")
	return session
}

func newTournament(name, start, end string) *tournament.Tournament {
	ts := utils.Timestamp(testNow)
	return &tournament.Tournament{
		UUID:      uuid.NewString(),
		DefHash:   "hash-" + name,
		Name:      name,
		Owner:     "owner",
		Hashtag:   "cup",
		StartDate: start,
		EndDate:   end,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func insertTournament(t *testing.T, db engine.Querier, tr *tournament.Tournament, charts ...int) {
	t.Helper()
	ctx := context.Background()
	s := NewTournamentStore()
	require.NoError(t, s.CreateTournament(ctx, db, tr))
	require.NoError(t, s.CreateCharts(ctx, db, tr.UUID, charts))
}

func TestMigrations_Enumerated(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	for i, m := range migrations {
		assert.Equal(t, uint(i+1), m.Version)
		assert.NotEmpty(t, m.Statements)
	}
	assert.Equal(t, "evidence_dimensions", migrations[1].Identifier)
	assert.Len(t, migrations[1].Statements, 2)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, EnsureSchema(ctx, db, testNow))

	v, ok, err := NewSettingsStore().Get(ctx, db, SettingSchemaVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestEnsureSchema_ToleratesExistingColumns(t *testing.T) {
	db := setupSession(t)
	ctx := context.Background()

	migrations, err := Migrations()
	require.NoError(t, err)
	for _, stmt := range migrations[0].Statements {
		_, err := db.Exec(ctx, stmt)
		require.NoError(t, err)
	}
	// A previous build added width without recording the version.
	_, err = db.Exec(ctx, `ALTER TABLE evidences ADD COLUMN width INTEGER NOT NULL DEFAULT 0`)
	require.NoError(t, err)
	require.NoError(t, NewSettingsStore().Set(ctx, db, SettingSchemaVersion, "1", testNow))

	require.NoError(t, EnsureSchema(ctx, db, testNow))

	rows, err := db.Query(ctx, `SELECT width, height FROM evidences`)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEnsureSchema_BackfillsDefinitionHash(t *testing.T) {
	db := setupSession(t)
	ctx := context.Background()

	migrations, err := Migrations()
	require.NoError(t, err)
	for _, m := range migrations[:2] {
		for _, stmt := range m.Statements {
			_, err := db.Exec(ctx, stmt)
			require.NoError(t, err)
		}
	}
	require.NoError(t, NewSettingsStore().Set(ctx, db, SettingSchemaVersion, "2", testNow))

	id := uuid.NewString()
	_, err = db.Exec(ctx, `INSERT INTO tournaments (tournament_uuid, tournament_name, owner, hashtag, start_date, end_date, is_imported, created_at, updated_at)
		VALUES (?, 'Old Cup', 'O', 'cup', '2026-02-01', '2026-02-28', 0, 'x', 'x')`, id)
	require.NoError(t, err)
	require.NoError(t, NewTournamentStore().CreateCharts(ctx, db, id, []int{200, 100}))

	require.NoError(t, EnsureSchema(ctx, db, testNow))

	got, err := NewTournamentStore().GetTournament(ctx, db, id)
	require.NoError(t, err)

	want, err := payload.ContentHash(payload.Payload{
		V: 1, UUID: id, Name: "Old Cup", Owner: "O", Hashtag: "cup",
		Start: "2026-02-01", End: "2026-02-28", Charts: []int{100, 200},
	})
	require.NoError(t, err)
	assert.Equal(t, want, got.DefHash)
}

func TestCreateTournament(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewTournamentStore()

	tr := newTournament("Cup A", "2026-02-01", "2026-02-28")
	insertTournament(t, db, tr, 300, 100, 200)

	got, err := s.GetTournament(ctx, db, tr.UUID)
	require.NoError(t, err)
	assert.Equal(t, tr.Name, got.Name)
	assert.Nil(t, got.SourceUUID)
	assert.False(t, got.IsImported)

	ids, err := s.ChartIDs(ctx, db, tr.UUID)
	require.NoError(t, err)
	assert.Equal(t, []int{300, 100, 200}, ids, "insertion order is kept")

	ok, err := s.HasChart(ctx, db, tr.UUID, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetTournament(ctx, db, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSourceUUIDIsUnique(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewTournamentStore()

	a := newTournament("A", "2026-02-01", "2026-02-28")
	a.SourceUUID = utils.Ptr("shared")
	a.IsImported = true
	require.NoError(t, s.CreateTournament(ctx, db, a))

	b := newTournament("B", "2026-02-01", "2026-02-28")
	b.SourceUUID = utils.Ptr("shared")
	b.IsImported = true
	err := s.CreateTournament(ctx, db, b)
	assert.True(t, engine.IsConstraint(err))

	found, err := s.FindForImport(ctx, db, "shared")
	require.NoError(t, err)
	assert.Equal(t, a.UUID, found.UUID)

	found, err = s.FindForImport(ctx, db, a.UUID)
	require.NoError(t, err, "a local uuid matches too")
	assert.Equal(t, a.UUID, found.UUID)
}

func TestListSummaries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewTournamentStore()
	today := "2026-02-10"

	activeLate := newTournament("active-late", "2026-02-01", "2026-02-20")
	activeEarly := newTournament("active-early", "2026-02-05", "2026-02-15")
	upcoming := newTournament("upcoming", "2026-03-01", "2026-03-31")
	endedOld := newTournament("ended-old", "2026-01-01", "2026-01-10")
	endedNew := newTournament("ended-new", "2026-01-01", "2026-02-09")
	for _, tr := range []*tournament.Tournament{activeLate, activeEarly, upcoming, endedOld, endedNew} {
		insertTournament(t, db, tr, 1, 2)
	}

	ev := NewEvidenceStore()
	ts := utils.Timestamp(testNow)
	require.NoError(t, ev.CreateEvidence(ctx, db, &tournament.Evidence{
		TournamentUUID: activeEarly.UUID, ChartID: 1, FileName: "1.jpg", SHA256: "a", UpdateSeq: 1, CreatedAt: ts, UpdatedAt: ts,
	}))
	require.NoError(t, ev.CreateEvidence(ctx, db, &tournament.Evidence{
		TournamentUUID: activeEarly.UUID, ChartID: 2, FileName: "2.jpg", SHA256: "b", UpdateSeq: 3, FileDeleted: true, CreatedAt: ts, UpdatedAt: ts,
	}))

	names := func(list []tournament.Summary) []string {
		var out []string
		for _, s := range list {
			out = append(out, s.Name)
		}
		return out
	}

	active, err := s.ListSummaries(ctx, db, tournament.TabActive, today)
	require.NoError(t, err)
	assert.Equal(t, []string{"active-early", "active-late"}, names(active))
	assert.Equal(t, 2, active[0].ChartCount)
	assert.Equal(t, 1, active[0].SubmittedCount, "deleted evidence does not count")

	up, err := s.ListSummaries(ctx, db, tournament.TabUpcoming, today)
	require.NoError(t, err)
	assert.Equal(t, []string{"upcoming"}, names(up))

	ended, err := s.ListSummaries(ctx, db, tournament.TabEnded, today)
	require.NoError(t, err)
	assert.Equal(t, []string{"ended-new", "ended-old"}, names(ended))

	cutoff, err := s.EndedOnOrBefore(ctx, db, "2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, []string{endedOld.UUID}, cutoff)
}

func TestDeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewTournamentStore()

	tr := newTournament("Cup", "2026-02-01", "2026-02-28")
	insertTournament(t, db, tr, 1)
	ts := utils.Timestamp(testNow)
	require.NoError(t, NewEvidenceStore().CreateEvidence(ctx, db, &tournament.Evidence{
		TournamentUUID: tr.UUID, ChartID: 1, FileName: "1.jpg", SHA256: "a", UpdateSeq: 1, CreatedAt: ts, UpdatedAt: ts,
	}))

	deleted, err := s.DeleteTournament(ctx, db, tr.UUID)
	require.NoError(t, err)
	assert.True(t, deleted)

	for _, table := range []string{"tournament_charts", "evidences"} {
		rows, err := db.Query(ctx, `SELECT COUNT(*) AS n FROM `+table)
		require.NoError(t, err)
		assert.Equal(t, 0, rows[0].Int("n"), table)
	}

	deleted, err = s.DeleteTournament(ctx, db, tr.UUID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestEvidenceStore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ev := NewEvidenceStore()

	tr := newTournament("Cup", "2026-02-01", "2026-02-28")
	insertTournament(t, db, tr, 1, 2)

	ts := utils.Timestamp(testNow)
	e := &tournament.Evidence{
		TournamentUUID: tr.UUID, ChartID: 1, FileName: "1.jpg", SHA256: "a",
		Width: 640, Height: 480, UpdateSeq: 1, CreatedAt: ts, UpdatedAt: ts,
	}
	require.NoError(t, ev.CreateEvidence(ctx, db, e))

	e.SHA256 = "b"
	e.UpdateSeq = 2
	require.NoError(t, ev.UpdateEvidence(ctx, db, e))

	got, err := ev.GetEvidence(ctx, db, tr.UUID, 1)
	require.NoError(t, err)
	assert.Equal(t, "b", got.SHA256)
	assert.Equal(t, 2, got.UpdateSeq)
	assert.Equal(t, 640, got.Width)

	live, err := ev.ListLive(ctx, db)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	require.NoError(t, ev.MarkDeleted(ctx, db, tr.UUID, 1, testNow))
	got, err = ev.GetEvidence(ctx, db, tr.UUID, 1)
	require.NoError(t, err)
	assert.True(t, got.FileDeleted)
	require.NotNil(t, got.DeletedAt)

	live, err = ev.ListLiveForTournaments(ctx, db, []string{tr.UUID})
	require.NoError(t, err)
	assert.Empty(t, live)

	_, err = ev.GetEvidence(ctx, db, tr.UUID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsStore(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := NewSettingsStore()

	_, ok, err := s.Get(ctx, db, "auto_delete_days")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, db, "auto_delete_days", "30", testNow))
	require.NoError(t, s.Set(ctx, db, "auto_delete_days", "14", testNow))

	v, ok, err := s.Get(ctx, db, "auto_delete_days")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "14", v)

	all, err := s.List(ctx, db)
	require.NoError(t, err)
	assert.Len(t, all, 2, "schema_version plus the new key")
}
