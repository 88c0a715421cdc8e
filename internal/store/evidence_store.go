package store

import (
	"context"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
)

type EvidenceStore struct{}

func NewEvidenceStore() *EvidenceStore {
	return &EvidenceStore{}
}

func (s *EvidenceStore) GetEvidence(ctx context.Context, q engine.Querier, uuid string, chartID int) (*tournament.Evidence, error) {
	rows, err := q.Query(ctx, `SELECT * FROM evidences WHERE tournament_uuid = ? AND chart_id = ?`, uuid, chartID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	e := evidenceFromRow(rows[0])
	return &e, nil
}

func (s *EvidenceStore) CreateEvidence(ctx context.Context, q engine.Querier, e *tournament.Evidence) error {
	_, err := namedExec(ctx, q, `INSERT INTO evidences (tournament_uuid, chart_id, file_name, sha256, width, height, update_seq, file_deleted, deleted_at, created_at, updated_at)
		VALUES (:tournament_uuid, :chart_id, :file_name, :sha256, :width, :height, :update_seq, :file_deleted, :deleted_at, :created_at, :updated_at)`, e)
	return err
}

func (s *EvidenceStore) UpdateEvidence(ctx context.Context, q engine.Querier, e *tournament.Evidence) error {
	_, err := namedExec(ctx, q, `UPDATE evidences SET file_name = :file_name, sha256 = :sha256, width = :width, height = :height,
		update_seq = :update_seq, file_deleted = :file_deleted, deleted_at = :deleted_at, updated_at = :updated_at
		WHERE tournament_uuid = :tournament_uuid AND chart_id = :chart_id`, e)
	return err
}

// ListByTournament returns every evidence row of a tournament.
func (s *EvidenceStore) ListByTournament(ctx context.Context, q engine.Querier, uuid string) ([]tournament.Evidence, error) {
	rows, err := q.Query(ctx, `SELECT * FROM evidences WHERE tournament_uuid = ? ORDER BY chart_id ASC`, uuid)
	if err != nil {
		return nil, err
	}
	return evidencesFromRows(rows), nil
}

// ListLive returns rows that still claim a blob on disk.
func (s *EvidenceStore) ListLive(ctx context.Context, q engine.Querier) ([]tournament.Evidence, error) {
	rows, err := q.Query(ctx, `SELECT * FROM evidences WHERE update_seq > 0 AND file_deleted = 0 ORDER BY tournament_uuid, chart_id`)
	if err != nil {
		return nil, err
	}
	return evidencesFromRows(rows), nil
}

// ListLiveForTournaments is ListLive restricted to the given tournaments.
func (s *EvidenceStore) ListLiveForTournaments(ctx context.Context, q engine.Querier, uuids []string) ([]tournament.Evidence, error) {
	var out []tournament.Evidence
	for _, uuid := range uuids {
		rows, err := q.Query(ctx, `SELECT * FROM evidences
			WHERE tournament_uuid = ? AND update_seq > 0 AND file_deleted = 0 ORDER BY chart_id`, uuid)
		if err != nil {
			return nil, err
		}
		out = append(out, evidencesFromRows(rows)...)
	}
	return out, nil
}

// MarkDeleted soft-expires one evidence row.
func (s *EvidenceStore) MarkDeleted(ctx context.Context, q engine.Querier, uuid string, chartID int, now time.Time) error {
	ts := utils.Timestamp(now)
	_, err := q.Exec(ctx, `UPDATE evidences SET file_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE tournament_uuid = ? AND chart_id = ? AND file_deleted = 0`, ts, ts, uuid, chartID)
	return err
}

func evidencesFromRows(rows []engine.Row) []tournament.Evidence {
	out := make([]tournament.Evidence, len(rows))
	for i, r := range rows {
		out[i] = evidenceFromRow(r)
	}
	return out
}

func evidenceFromRow(r engine.Row) tournament.Evidence {
	return tournament.Evidence{
		TournamentUUID: r.String("tournament_uuid"),
		ChartID:        r.Int("chart_id"),
		FileName:       r.String("file_name"),
		SHA256:         r.String("sha256"),
		Width:          r.Int("width"),
		Height:         r.Int("height"),
		UpdateSeq:      r.Int("update_seq"),
		FileDeleted:    r.Bool("file_deleted"),
		DeletedAt:      r.StringPtr("deleted_at"),
		CreatedAt:      r.String("created_at"),
		UpdatedAt:      r.String("updated_at"),
	}
}
