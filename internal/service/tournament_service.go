package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/filestore"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/AdamBeresnev/cuptrack/internal/store"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
	"github.com/google/uuid"
)

type TournamentService struct {
	d        *Domain
	store    *store.TournamentStore
	evidence *store.EvidenceStore
}

func NewTournamentService(d *Domain, store *store.TournamentStore, evidence *store.EvidenceStore) *TournamentService {
	return &TournamentService{d: d, store: store, evidence: evidence}
}

type CreateInput struct {
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	Hashtag   string `json:"hashtag"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	ChartIDs  []int  `json:"chartIds"`
}

// ImportPreview is what an import would do, computed without writing.
type ImportPreview struct {
	Payload      payload.Payload `json:"payload"`
	Mode         ImportMode      `json:"mode"`
	ExistingUUID string          `json:"existingUuid,omitempty"`
}

// Export is a stored tournament encoded for sharing.
type Export struct {
	Encoded   string `json:"encoded"`
	SharePath string `json:"sharePath"`
}

// CreateTournament validates in, then inserts the tournament and its charts
// in one exclusive transaction. It returns the new local uuid.
func (s *TournamentService) CreateTournament(ctx context.Context, in CreateInput, today string) (string, error) {
	db, err := s.d.Session()
	if err != nil {
		return "", err
	}

	p, err := payload.Normalize(payload.Payload{
		V:       payload.Version,
		UUID:    uuid.NewString(),
		Name:    in.Name,
		Owner:   in.Owner,
		Hashtag: in.Hashtag,
		Start:   in.StartDate,
		End:     in.EndDate,
		Charts:  in.ChartIDs,
	}, payload.Options{Today: today})
	if err != nil {
		return "", asValidationError(err)
	}

	hash, err := payload.ContentHash(p)
	if err != nil {
		return "", err
	}

	ts := utils.Timestamp(s.d.clock())
	t := &tournament.Tournament{
		UUID:      p.UUID,
		DefHash:   hash,
		Name:      p.Name,
		Owner:     p.Owner,
		Hashtag:   p.Hashtag,
		StartDate: p.Start,
		EndDate:   p.End,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	err = db.Exclusive(ctx, func(tx *engine.Tx) error {
		if err := s.store.CreateTournament(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to insert tournament: %w", err)
		}
		if err := s.store.CreateCharts(ctx, tx, t.UUID, p.Charts); err != nil {
			return fmt.Errorf("failed to insert charts: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	logger().InfoContext(ctx, "tournament created", "uuid", t.UUID, "charts", len(p.Charts))
	return t.UUID, nil
}

// ImportTournament stores a shared definition unless one with the same
// identity already exists. Existing rows are never overwritten.
func (s *TournamentService) ImportTournament(ctx context.Context, raw payload.Payload) (ImportResult, error) {
	db, err := s.d.Session()
	if err != nil {
		return ImportResult{}, err
	}

	p, err := payload.Normalize(raw, payload.Options{})
	if err != nil {
		return ImportResult{}, asValidationError(err)
	}
	hash, err := payload.ContentHash(p)
	if err != nil {
		return ImportResult{}, err
	}

	var result ImportResult
	err = db.Exclusive(ctx, func(tx *engine.Tx) error {
		existing, err := s.store.FindForImport(ctx, tx, p.UUID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		var existingHash *string
		if existing != nil {
			existingHash = &existing.DefHash
		}

		switch ResolveImportMode(existingHash, hash) {
		case ModeAlreadyImported:
			result = ImportResult{Decision: DecisionAlreadyImported, TournamentUUID: existing.UUID}
			return nil
		case ModeConflict:
			result = ImportResult{Decision: DecisionConflict, TournamentUUID: existing.UUID}
			return nil
		}

		ts := utils.Timestamp(s.d.clock())
		t := &tournament.Tournament{
			UUID:       uuid.NewString(),
			SourceUUID: utils.Ptr(p.UUID),
			DefHash:    hash,
			Name:       p.Name,
			Owner:      p.Owner,
			Hashtag:    p.Hashtag,
			StartDate:  p.Start,
			EndDate:    p.End,
			IsImported: true,
			CreatedAt:  ts,
			UpdatedAt:  ts,
		}
		if err := s.store.CreateTournament(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to insert tournament: %w", err)
		}
		if err := s.store.CreateCharts(ctx, tx, t.UUID, p.Charts); err != nil {
			return fmt.Errorf("failed to insert charts: %w", err)
		}
		result = ImportResult{Decision: DecisionImported, TournamentUUID: t.UUID}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	logger().InfoContext(ctx, "tournament import", "decision", result.Decision, "uuid", result.TournamentUUID, "source", p.UUID)
	return result, nil
}

// ImportEncoded decodes a share link or bare payload text and imports it.
// Payloads that have already ended are rejected.
func (s *TournamentService) ImportEncoded(ctx context.Context, text, today string) (ImportResult, error) {
	decoded, err := decodeLink(text, today)
	if err != nil {
		return ImportResult{}, err
	}
	return s.ImportTournament(ctx, decoded.Payload)
}

// PreviewImport decodes text and reports what importing it would do.
func (s *TournamentService) PreviewImport(ctx context.Context, text, today string) (ImportPreview, error) {
	db, err := s.d.Session()
	if err != nil {
		return ImportPreview{}, err
	}
	decoded, err := decodeLink(text, today)
	if err != nil {
		return ImportPreview{}, err
	}
	p := decoded.Payload
	hash, err := payload.ContentHash(p)
	if err != nil {
		return ImportPreview{}, err
	}

	existing, err := s.store.FindForImport(ctx, db, p.UUID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ImportPreview{}, err
	}
	preview := ImportPreview{Payload: p, Mode: ModeInsert}
	if existing != nil {
		preview.Mode = ResolveImportMode(&existing.DefHash, hash)
		preview.ExistingUUID = existing.UUID
	}
	return preview, nil
}

func decodeLink(text, today string) (payload.Decoded, error) {
	encoded, err := payload.ExtractFromLink(text)
	if err != nil {
		return payload.Decoded{}, err
	}
	decoded, err := payload.Decode(encoded, payload.Options{Today: today})
	if err != nil {
		return payload.Decoded{}, asValidationError(err)
	}
	return decoded, nil
}

// ExportTournament encodes a stored tournament under its shareable identity.
func (s *TournamentService) ExportTournament(ctx context.Context, uuid string) (Export, error) {
	db, err := s.d.Session()
	if err != nil {
		return Export{}, err
	}
	t, err := s.get(ctx, db, uuid)
	if err != nil {
		return Export{}, err
	}
	charts, err := s.store.ChartIDs(ctx, db, uuid)
	if err != nil {
		return Export{}, err
	}
	encoded, err := payload.Encode(t.Payload(charts))
	if err != nil {
		return Export{}, err
	}
	return Export{Encoded: encoded, SharePath: payload.ShareLink(encoded)}, nil
}

// ListTournaments returns the tournaments in tab as of today.
func (s *TournamentService) ListTournaments(ctx context.Context, tab tournament.Tab, today string) ([]tournament.Summary, error) {
	db, err := s.d.Session()
	if err != nil {
		return nil, err
	}
	if _, ok := tournament.ParseTab(string(tab)); !ok {
		return nil, &ValidationError{Field: "tab", Reason: fmt.Sprintf("unknown tab %q", tab)}
	}
	return s.store.ListSummaries(ctx, db, tab, today)
}

// GetTournamentDetail returns the tournament with its charts in insertion
// order. Charts the catalog does not know are reported with InCatalog=false.
func (s *TournamentService) GetTournamentDetail(ctx context.Context, uuid string) (*tournament.Detail, error) {
	db, err := s.d.Session()
	if err != nil {
		return nil, err
	}

	summary, err := s.store.GetSummary(ctx, db, uuid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTournamentNotFound
	}
	if err != nil {
		return nil, err
	}
	chartIDs, err := s.store.ChartIDs(ctx, db, uuid)
	if err != nil {
		return nil, err
	}
	evidences, err := s.evidence.ListByTournament(ctx, db, uuid)
	if err != nil {
		return nil, err
	}
	byChart := make(map[int]*tournament.Evidence, len(evidences))
	for i := range evidences {
		byChart[evidences[i].ChartID] = &evidences[i]
	}

	var infos map[int]tournament.ChartInfo
	if c := s.d.chartCatalog(); c != nil {
		infos, err = c.LookupCharts(ctx, chartIDs)
		if err != nil {
			logger().WarnContext(ctx, "chart catalog unavailable", "error", err)
			infos = nil
		}
	}

	detail := &tournament.Detail{Summary: *summary, Charts: make([]tournament.ChartDetail, len(chartIDs))}
	for i, id := range chartIDs {
		cd := tournament.ChartDetail{ChartID: id, Evidence: byChart[id]}
		if info, ok := infos[id]; ok {
			cd.InCatalog = true
			cd.Info = &info
		}
		detail.Charts[i] = cd
	}
	return detail, nil
}

// DeleteTournament removes the tournament's blobs and evidence directory,
// then the row. Charts and evidence rows cascade.
func (s *TournamentService) DeleteTournament(ctx context.Context, uuid string) error {
	db, err := s.d.Session()
	if err != nil {
		return err
	}
	if _, err := s.get(ctx, db, uuid); err != nil {
		return err
	}

	evidences, err := s.evidence.ListByTournament(ctx, db, uuid)
	if err != nil {
		return err
	}
	for _, e := range evidences {
		if err := s.d.files.Delete(e.Path()); err != nil {
			return fmt.Errorf("failed to delete evidence blob: %w", err)
		}
	}
	var notFound *filestore.DirectoryNotFoundError
	if err := s.d.files.DeleteDirectory(tournament.EvidenceDir(uuid), true); err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to delete evidence directory: %w", err)
	}

	err = db.Exclusive(ctx, func(tx *engine.Tx) error {
		_, err := s.store.DeleteTournament(ctx, tx, uuid)
		return err
	})
	if err != nil {
		return err
	}
	logger().InfoContext(ctx, "tournament deleted", "uuid", uuid, "evidences", len(evidences))
	return nil
}

func (s *TournamentService) get(ctx context.Context, q engine.Querier, uuid string) (*tournament.Tournament, error) {
	t, err := s.store.GetTournament(ctx, q, uuid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTournamentNotFound
	}
	return t, err
}

