package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shaOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestUpsertEvidenceMetadata_Sequence(t *testing.T) {
	d, _ := setupDomain(t)
	ctx := context.Background()
	svc := d.Evidence()
	id := createTournament(t, d, "2026-02-01", "2026-02-28", 7)

	shaA := strings.Repeat("a", 64)
	shaB := strings.Repeat("b", 64)

	first, err := svc.UpsertEvidenceMetadata(ctx, EvidenceInput{TournamentUUID: id, ChartID: 7, SHA256: shaA, Width: 10, Height: 5})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{FileName: "7.jpg", UpdateSeq: 1, Updated: true}, first)

	same, err := svc.UpsertEvidenceMetadata(ctx, EvidenceInput{TournamentUUID: id, ChartID: 7, SHA256: strings.ToUpper(shaA)})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{FileName: "7.jpg", UpdateSeq: 1, Updated: false}, same, "Same content must be a no-op")

	changed, err := svc.UpsertEvidenceMetadata(ctx, EvidenceInput{TournamentUUID: id, ChartID: 7, SHA256: shaB})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{FileName: "7.jpg", UpdateSeq: 2, Updated: true}, changed)

	list, err := d.Tournaments().ListTournaments(ctx, tournament.TabActive, testToday)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].SubmittedCount)
}

func TestUpsertEvidenceMetadata_Validation(t *testing.T) {
	d, _ := setupDomain(t)
	ctx := context.Background()
	svc := d.Evidence()
	id := createTournament(t, d, "2026-02-01", "2026-02-28", 7)
	sha := strings.Repeat("c", 64)

	tests := []struct {
		name  string
		in    EvidenceInput
		field string
	}{
		{"missing tournament uuid", EvidenceInput{ChartID: 7, SHA256: sha}, "tournamentUuid"},
		{"bad chart id", EvidenceInput{TournamentUUID: id, ChartID: 0, SHA256: sha}, "chartId"},
		{"short sha", EvidenceInput{TournamentUUID: id, ChartID: 7, SHA256: "abc"}, "sha256"},
		{"non hex sha", EvidenceInput{TournamentUUID: id, ChartID: 7, SHA256: strings.Repeat("z", 64)}, "sha256"},
		{"negative size", EvidenceInput{TournamentUUID: id, ChartID: 7, SHA256: sha, Width: -1}, "dimensions"},
		{"unknown tournament", EvidenceInput{TournamentUUID: uuid.NewString(), ChartID: 7, SHA256: sha}, "tournamentUuid"},
		{"chart not in tournament", EvidenceInput{TournamentUUID: id, ChartID: 8, SHA256: sha}, "chartId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpsertEvidenceMetadata(ctx, tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestSaveEvidence(t *testing.T) {
	d, files := setupDomain(t)
	ctx := context.Background()
	svc := d.Evidence()
	id := createTournament(t, d, "2026-02-01", "2026-02-28", 1)

	img := testJPEG(t, 16, 9, 0x80)
	res, err := svc.SaveEvidence(ctx, id, 1, img, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{FileName: "1.jpg", UpdateSeq: 1, Updated: true}, res)

	stored, err := files.Read(tournament.EvidencePath(id, 1))
	require.NoError(t, err)
	assert.Equal(t, img, stored)

	read, err := svc.ReadEvidence(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, img, read)

	detail, err := d.Tournaments().GetTournamentDetail(ctx, id)
	require.NoError(t, err)
	ev := detail.Charts[0].Evidence
	require.NotNil(t, ev)
	assert.Equal(t, shaOf(img), ev.SHA256)
	assert.Equal(t, 16, ev.Width)
	assert.Equal(t, 9, ev.Height)

	again, err := svc.SaveEvidence(ctx, id, 1, img, 0, 0)
	require.NoError(t, err)
	assert.False(t, again.Updated)

	_, err = svc.SaveEvidence(ctx, id, 1, []byte("not a jpeg"), 0, 0)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	stored, err = files.Read(tournament.EvidencePath(id, 1))
	require.NoError(t, err)
	assert.Equal(t, img, stored, "Rejected uploads must leave the previous blob intact")
}

func TestReconcileEvidenceFiles(t *testing.T) {
	d, files := setupDomain(t)
	ctx := context.Background()
	svc := d.Evidence()
	id := createTournament(t, d, "2026-02-01", "2026-02-28", 1, 2)

	_, err := svc.SaveEvidence(ctx, id, 1, testJPEG(t, 4, 4, 0x10), 0, 0)
	require.NoError(t, err)
	_, err = svc.SaveEvidence(ctx, id, 2, testJPEG(t, 4, 4, 0x20), 0, 0)
	require.NoError(t, err)
	require.NoError(t, files.Write(tournament.EvidenceDir(id)+"/2.jpg.tmp.deadbeef", []byte("x")))

	require.NoError(t, files.Delete(tournament.EvidencePath(id, 1)))

	n, err := svc.ReconcileEvidenceFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := files.Exists(tournament.EvidenceDir(id) + "/2.jpg.tmp.deadbeef")
	require.NoError(t, err)
	assert.False(t, ok, "Reconcile sweeps temp files")

	detail, err := d.Tournaments().GetTournamentDetail(ctx, id)
	require.NoError(t, err)
	assert.True(t, detail.Charts[0].Evidence.FileDeleted)
	assert.NotNil(t, detail.Charts[0].Evidence.DeletedAt)
	assert.False(t, detail.Charts[1].Evidence.FileDeleted)
	assert.Equal(t, 1, detail.SubmittedCount)

	n, err = svc.ReconcileEvidenceFiles(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err := svc.SaveEvidence(ctx, id, 1, testJPEG(t, 4, 4, 0x10), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{FileName: "1.jpg", UpdateSeq: 2, Updated: true}, res, "Re-uploading a deleted blob bumps the sequence")
}

func TestPurgeExpiredEvidence(t *testing.T) {
	d, files := setupDomain(t)
	ctx := context.Background()
	svc := d.Evidence()

	// 40 and 10 days before testToday.
	old := createTournament(t, d, "2025-12-20", "2026-01-01", 1)
	recent := createTournament(t, d, "2026-01-20", "2026-01-31", 1)
	_, err := svc.SaveEvidence(ctx, old, 1, testJPEG(t, 4, 4, 0x30), 0, 0)
	require.NoError(t, err)
	_, err = svc.SaveEvidence(ctx, recent, 1, testJPEG(t, 4, 4, 0x40), 0, 0)
	require.NoError(t, err)

	n, err := svc.PurgeExpiredEvidenceIfNeeded(ctx, testToday)
	require.NoError(t, err)
	assert.Zero(t, n, "Purge is off by default")

	require.NoError(t, d.Settings().SetMany(ctx, map[string]string{
		SettingAutoDeleteEnabled: "1",
		SettingAutoDeleteDays:    "30",
	}))

	n, err = svc.PurgeExpiredEvidenceIfNeeded(ctx, testToday)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := files.Exists(tournament.EvidencePath(old, 1))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = files.Exists(tournament.EvidencePath(recent, 1))
	require.NoError(t, err)
	assert.True(t, ok)

	last, err := d.Settings().Get(ctx, SettingLastPurgeDay)
	require.NoError(t, err)
	assert.Equal(t, testToday, last)

	n, err = svc.PurgeExpiredEvidenceIfNeeded(ctx, testToday)
	require.NoError(t, err)
	assert.Zero(t, n, "Purge runs at most once per day")

	n, err = svc.PurgeExpiredEvidenceIfNeeded(ctx, "2026-03-05")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "The recent tournament expires later")

	_, err = svc.PurgeExpiredEvidenceIfNeeded(ctx, "yesterday")
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSettings(t *testing.T) {
	d, _ := setupDomain(t)
	ctx := context.Background()
	svc := d.Settings()

	days, err := svc.GetInt(ctx, SettingAutoDeleteDays)
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	enabled, err := svc.GetBool(ctx, SettingAutoDeleteEnabled)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, svc.Set(ctx, SettingAutoDeleteDays, "7"))
	days, err = svc.GetInt(ctx, SettingAutoDeleteDays)
	require.NoError(t, err)
	assert.Equal(t, 7, days)

	err = svc.SetMany(ctx, map[string]string{SettingAutoDeleteEnabled: "true", SettingAutoDeleteDays: "-1"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, SettingAutoDeleteDays, ve.Field)

	enabled, err = svc.GetBool(ctx, SettingAutoDeleteEnabled)
	require.NoError(t, err)
	assert.False(t, enabled, "Rejected batches must not be partially applied")

	list, err := svc.List(ctx)
	require.NoError(t, err)
	keys := make([]string, len(list))
	for i, s := range list {
		keys[i] = s.Key
	}
	assert.Contains(t, keys, SettingAutoDeleteEnabled)
	assert.Contains(t, keys, SettingAutoDeleteDays)
	assert.Contains(t, keys, "schema_version")
}
