package store

import (
	"context"
	"fmt"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
)

type TournamentStore struct{}

func NewTournamentStore() *TournamentStore {
	return &TournamentStore{}
}

const summaryColumns = `t.*,
	(SELECT COUNT(*) FROM tournament_charts c WHERE c.tournament_uuid = t.tournament_uuid) AS chart_count,
	(SELECT COUNT(*) FROM evidences e
		WHERE e.tournament_uuid = t.tournament_uuid AND e.update_seq > 0 AND e.file_deleted = 0) AS submitted_count`

func (s *TournamentStore) CreateTournament(ctx context.Context, q engine.Querier, t *tournament.Tournament) error {
	_, err := namedExec(ctx, q, `INSERT INTO tournaments (tournament_uuid, source_tournament_uuid, def_hash, tournament_name, owner, hashtag, start_date, end_date, is_imported, created_at, updated_at)
		VALUES (:tournament_uuid, :source_tournament_uuid, :def_hash, :tournament_name, :owner, :hashtag, :start_date, :end_date, :is_imported, :created_at, :updated_at)`, t)
	return err
}

func (s *TournamentStore) CreateCharts(ctx context.Context, q engine.Querier, tournamentUUID string, chartIDs []int) error {
	if len(chartIDs) == 0 {
		return nil
	}
	charts := make([]tournament.Chart, len(chartIDs))
	for i, id := range chartIDs {
		charts[i] = tournament.Chart{TournamentUUID: tournamentUUID, ChartID: id}
	}
	_, err := namedExec(ctx, q, `INSERT INTO tournament_charts (tournament_uuid, chart_id)
		VALUES (:tournament_uuid, :chart_id)`, charts)
	return err
}

func (s *TournamentStore) GetTournament(ctx context.Context, q engine.Querier, uuid string) (*tournament.Tournament, error) {
	rows, err := q.Query(ctx, `SELECT * FROM tournaments WHERE tournament_uuid = ?`, uuid)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	t := tournamentFromRow(rows[0])
	return &t, nil
}

// FindForImport returns the tournament an incoming payload uuid refers to:
// the one imported from it, or a local tournament that was shared under it.
func (s *TournamentStore) FindForImport(ctx context.Context, q engine.Querier, payloadUUID string) (*tournament.Tournament, error) {
	rows, err := q.Query(ctx, `SELECT * FROM tournaments
		WHERE source_tournament_uuid = ? OR tournament_uuid = ?
		ORDER BY is_imported DESC LIMIT 1`, payloadUUID, payloadUUID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	t := tournamentFromRow(rows[0])
	return &t, nil
}

// ChartIDs returns the chart ids of a tournament in insertion order.
func (s *TournamentStore) ChartIDs(ctx context.Context, q engine.Querier, uuid string) ([]int, error) {
	rows, err := q.Query(ctx, `SELECT chart_id FROM tournament_charts WHERE tournament_uuid = ? ORDER BY id ASC`, uuid)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(rows))
	for i, r := range rows {
		ids[i] = r.Int("chart_id")
	}
	return ids, nil
}

func (s *TournamentStore) HasChart(ctx context.Context, q engine.Querier, uuid string, chartID int) (bool, error) {
	rows, err := q.Query(ctx, `SELECT 1 AS ok FROM tournament_charts WHERE tournament_uuid = ? AND chart_id = ?`, uuid, chartID)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *TournamentStore) GetSummary(ctx context.Context, q engine.Querier, uuid string) (*tournament.Summary, error) {
	rows, err := q.Query(ctx, `SELECT `+summaryColumns+` FROM tournaments t WHERE t.tournament_uuid = ?`, uuid)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	sum := summaryFromRow(rows[0])
	return &sum, nil
}

// ListSummaries returns the tournaments in tab on day, in the tab's order.
func (s *TournamentStore) ListSummaries(ctx context.Context, q engine.Querier, tab tournament.Tab, day string) ([]tournament.Summary, error) {
	var where, order string
	args := []any{day}
	switch tab {
	case tournament.TabActive:
		where = `t.start_date <= ? AND t.end_date >= ?`
		order = `t.end_date ASC, t.start_date ASC, t.created_at ASC`
		args = append(args, day)
	case tournament.TabUpcoming:
		where = `t.start_date > ?`
		order = `t.start_date ASC, t.end_date ASC, t.created_at ASC`
	case tournament.TabEnded:
		where = `t.end_date < ?`
		order = `t.end_date DESC, t.start_date DESC, t.created_at DESC`
	default:
		return nil, fmt.Errorf("unknown tab %q", tab)
	}

	rows, err := q.Query(ctx, `SELECT `+summaryColumns+` FROM tournaments t WHERE `+where+` ORDER BY `+order, args...)
	if err != nil {
		return nil, err
	}
	out := make([]tournament.Summary, len(rows))
	for i, r := range rows {
		out[i] = summaryFromRow(r)
	}
	return out, nil
}

// EndedOnOrBefore returns the uuids of tournaments whose end date is at or before day.
func (s *TournamentStore) EndedOnOrBefore(ctx context.Context, q engine.Querier, day string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT tournament_uuid FROM tournaments WHERE end_date <= ? ORDER BY end_date ASC`, day)
	if err != nil {
		return nil, err
	}
	uuids := make([]string, len(rows))
	for i, r := range rows {
		uuids[i] = r.String("tournament_uuid")
	}
	return uuids, nil
}

func (s *TournamentStore) ListMissingHash(ctx context.Context, q engine.Querier) ([]tournament.Tournament, error) {
	rows, err := q.Query(ctx, `SELECT * FROM tournaments WHERE def_hash = '' OR def_hash IS NULL`)
	if err != nil {
		return nil, err
	}
	out := make([]tournament.Tournament, len(rows))
	for i, r := range rows {
		out[i] = tournamentFromRow(r)
	}
	return out, nil
}

func (s *TournamentStore) UpdateHash(ctx context.Context, q engine.Querier, uuid, hash string, now time.Time) error {
	_, err := q.Exec(ctx, `UPDATE tournaments SET def_hash = ?, updated_at = ? WHERE tournament_uuid = ?`,
		hash, utils.Timestamp(now), uuid)
	return err
}

// DeleteTournament removes the row; charts and evidence rows go with it.
func (s *TournamentStore) DeleteTournament(ctx context.Context, q engine.Querier, uuid string) (bool, error) {
	res, err := q.Exec(ctx, `DELETE FROM tournaments WHERE tournament_uuid = ?`, uuid)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func tournamentFromRow(r engine.Row) tournament.Tournament {
	return tournament.Tournament{
		UUID:       r.String("tournament_uuid"),
		SourceUUID: r.StringPtr("source_tournament_uuid"),
		DefHash:    r.String("def_hash"),
		Name:       r.String("tournament_name"),
		Owner:      r.String("owner"),
		Hashtag:    r.String("hashtag"),
		StartDate:  r.String("start_date"),
		EndDate:    r.String("end_date"),
		IsImported: r.Bool("is_imported"),
		CreatedAt:  r.String("created_at"),
		UpdatedAt:  r.String("updated_at"),
	}
}

func summaryFromRow(r engine.Row) tournament.Summary {
	return tournament.Summary{
		Tournament:     tournamentFromRow(r),
		ChartCount:     r.Int("chart_count"),
		SubmittedCount: r.Int("submitted_count"),
	}
}
