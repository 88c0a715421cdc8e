package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/AdamBeresnev/cuptrack/internal/calendar"
	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/media"
	"github.com/AdamBeresnev/cuptrack/internal/store"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
)

type EvidenceService struct {
	d           *Domain
	tournaments *store.TournamentStore
	store       *store.EvidenceStore
}

func NewEvidenceService(d *Domain, tournaments *store.TournamentStore, store *store.EvidenceStore) *EvidenceService {
	return &EvidenceService{d: d, tournaments: tournaments, store: store}
}

type EvidenceInput struct {
	TournamentUUID string `json:"tournamentUuid"`
	ChartID        int    `json:"chartId"`
	SHA256         string `json:"sha256"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

type UpsertResult struct {
	FileName  string `json:"fileName"`
	UpdateSeq int    `json:"updateSeq"`
	Updated   bool   `json:"updated"`
}

// UpsertEvidenceMetadata records a blob for a chart. Saving the same sha
// again is a no-op; a new sha or a previously deleted row bumps update_seq.
func (s *EvidenceService) UpsertEvidenceMetadata(ctx context.Context, in EvidenceInput) (UpsertResult, error) {
	db, err := s.d.Session()
	if err != nil {
		return UpsertResult{}, err
	}
	in.SHA256 = strings.ToLower(strings.TrimSpace(in.SHA256))
	if err := validateEvidenceInput(in); err != nil {
		return UpsertResult{}, err
	}

	var result UpsertResult
	err = db.Exclusive(ctx, func(tx *engine.Tx) error {
		if err := s.checkChart(ctx, tx, in.TournamentUUID, in.ChartID); err != nil {
			return err
		}

		existing, err := s.store.GetEvidence(ctx, tx, in.TournamentUUID, in.ChartID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ts := utils.Timestamp(s.d.clock())
		fileName := tournament.EvidenceFileName(in.ChartID)

		if existing == nil {
			e := &tournament.Evidence{
				TournamentUUID: in.TournamentUUID,
				ChartID:        in.ChartID,
				FileName:       fileName,
				SHA256:         in.SHA256,
				Width:          in.Width,
				Height:         in.Height,
				UpdateSeq:      1,
				CreatedAt:      ts,
				UpdatedAt:      ts,
			}
			if err := s.store.CreateEvidence(ctx, tx, e); err != nil {
				return fmt.Errorf("failed to insert evidence: %w", err)
			}
			result = UpsertResult{FileName: fileName, UpdateSeq: 1, Updated: true}
			return nil
		}

		if existing.SHA256 == in.SHA256 && !existing.FileDeleted && existing.UpdateSeq > 0 {
			result = UpsertResult{FileName: existing.FileName, UpdateSeq: existing.UpdateSeq, Updated: false}
			return nil
		}

		existing.FileName = fileName
		existing.SHA256 = in.SHA256
		existing.Width = in.Width
		existing.Height = in.Height
		existing.UpdateSeq++
		existing.FileDeleted = false
		existing.DeletedAt = nil
		existing.UpdatedAt = ts
		if err := s.store.UpdateEvidence(ctx, tx, existing); err != nil {
			return fmt.Errorf("failed to update evidence: %w", err)
		}
		result = UpsertResult{FileName: fileName, UpdateSeq: existing.UpdateSeq, Updated: true}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// SaveEvidence durably writes a JPEG blob for a chart and records it.
// Zero dimensions are read from the JPEG header.
func (s *EvidenceService) SaveEvidence(ctx context.Context, tournamentUUID string, chartID int, data []byte, width, height int) (UpsertResult, error) {
	db, err := s.d.Session()
	if err != nil {
		return UpsertResult{}, err
	}
	if err := media.ValidateJPEG(data); err != nil {
		return UpsertResult{}, &ValidationError{Field: "image", Reason: err.Error()}
	}
	if width == 0 || height == 0 {
		width, height, err = media.JPEGSize(data)
		if err != nil {
			return UpsertResult{}, &ValidationError{Field: "image", Reason: err.Error()}
		}
	}
	if err := s.checkChart(ctx, db, tournamentUUID, chartID); err != nil {
		return UpsertResult{}, err
	}

	sum := sha256.Sum256(data)
	rel := tournament.EvidencePath(tournamentUUID, chartID)
	if err := s.d.files.WriteAtomic(ctx, rel, data, media.ValidateJPEG); err != nil {
		return UpsertResult{}, err
	}

	result, err := s.UpsertEvidenceMetadata(ctx, EvidenceInput{
		TournamentUUID: tournamentUUID,
		ChartID:        chartID,
		SHA256:         hex.EncodeToString(sum[:]),
		Width:          width,
		Height:         height,
	})
	if err != nil {
		return UpsertResult{}, err
	}
	logger().InfoContext(ctx, "evidence saved", "tournament", tournamentUUID, "chart", chartID, "seq", result.UpdateSeq, "updated", result.Updated)
	return result, nil
}

// ReadEvidence returns the stored blob of a live submission.
func (s *EvidenceService) ReadEvidence(ctx context.Context, tournamentUUID string, chartID int) ([]byte, error) {
	db, err := s.d.Session()
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetEvidence(ctx, db, tournamentUUID, chartID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !e.Submitted()) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.d.files.Read(e.Path())
}

// ReconcileEvidenceFiles marks rows whose blob has gone missing as deleted
// and sweeps leftover temp files. It returns how many rows were marked.
func (s *EvidenceService) ReconcileEvidenceFiles(ctx context.Context) (int, error) {
	db, err := s.d.Session()
	if err != nil {
		return 0, err
	}

	if n, err := s.d.files.SweepTemp(tournament.EvidenceRoot); err != nil {
		logger().WarnContext(ctx, "temp sweep incomplete", "error", err)
	} else if n > 0 {
		logger().InfoContext(ctx, "temp files swept", "count", n)
	}

	live, err := s.store.ListLive(ctx, db)
	if err != nil {
		return 0, err
	}
	var missing []tournament.Evidence
	for _, e := range live {
		ok, err := s.d.files.Exists(e.Path())
		if err != nil {
			return 0, err
		}
		if !ok {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	now := s.d.clock()
	err = db.Exclusive(ctx, func(tx *engine.Tx) error {
		for _, e := range missing {
			if err := s.store.MarkDeleted(ctx, tx, e.TournamentUUID, e.ChartID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger().InfoContext(ctx, "evidence reconciled", "missing", len(missing))
	return len(missing), nil
}

// PurgeExpiredEvidenceIfNeeded deletes the blobs of tournaments that ended
// at least auto_delete_days ago. It runs at most once per calendar day and
// returns how many rows were purged.
func (s *EvidenceService) PurgeExpiredEvidenceIfNeeded(ctx context.Context, today string) (int, error) {
	db, err := s.d.Session()
	if err != nil {
		return 0, err
	}
	if !calendar.Valid(today) {
		return 0, &ValidationError{Field: "today", Reason: fmt.Sprintf("invalid calendar date %q", today)}
	}

	settings := s.d.Settings()
	enabled, err := settings.GetBool(ctx, SettingAutoDeleteEnabled)
	if err != nil {
		return 0, err
	}
	days, err := settings.GetInt(ctx, SettingAutoDeleteDays)
	if err != nil {
		return 0, err
	}
	if !enabled || days <= 0 {
		return 0, nil
	}
	last, err := settings.Get(ctx, SettingLastPurgeDay)
	if err != nil {
		return 0, err
	}
	if last == today {
		return 0, nil
	}

	cutoff, err := calendar.AddDays(today, -days)
	if err != nil {
		return 0, err
	}
	ended, err := s.tournaments.EndedOnOrBefore(ctx, db, cutoff)
	if err != nil {
		return 0, err
	}
	expired, err := s.store.ListLiveForTournaments(ctx, db, ended)
	if err != nil {
		return 0, err
	}

	for _, e := range expired {
		if err := s.d.files.Delete(e.Path()); err != nil {
			return 0, fmt.Errorf("failed to delete expired evidence: %w", err)
		}
	}

	now := s.d.clock()
	err = db.Exclusive(ctx, func(tx *engine.Tx) error {
		for _, e := range expired {
			if err := s.store.MarkDeleted(ctx, tx, e.TournamentUUID, e.ChartID, now); err != nil {
				return err
			}
		}
		return settings.store.Set(ctx, tx, SettingLastPurgeDay, today, now)
	})
	if err != nil {
		return 0, err
	}

	logger().InfoContext(ctx, "evidence purged", "count", len(expired), "cutoff", cutoff)
	return len(expired), nil
}

func (s *EvidenceService) checkChart(ctx context.Context, q engine.Querier, tournamentUUID string, chartID int) error {
	if _, err := s.tournaments.GetTournament(ctx, q, tournamentUUID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ValidationError{Field: "tournamentUuid", Reason: "unknown tournament"}
		}
		return err
	}
	ok, err := s.tournaments.HasChart(ctx, q, tournamentUUID, chartID)
	if err != nil {
		return err
	}
	if !ok {
		return &ValidationError{Field: "chartId", Reason: fmt.Sprintf("chart %d is not part of the tournament", chartID)}
	}
	return nil
}

func validateEvidenceInput(in EvidenceInput) error {
	switch {
	case in.TournamentUUID == "":
		return &ValidationError{Field: "tournamentUuid", Reason: "required"}
	case in.ChartID <= 0:
		return &ValidationError{Field: "chartId", Reason: "must be a positive integer"}
	case !isSHA256Hex(in.SHA256):
		return &ValidationError{Field: "sha256", Reason: "must be 64 hex characters"}
	case in.Width < 0 || in.Height < 0:
		return &ValidationError{Field: "dimensions", Reason: "must not be negative"}
	}
	return nil
}

func isSHA256Hex(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
