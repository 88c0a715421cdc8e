package tournament

import (
	"path"
	"strconv"
)

// EvidenceRoot is the data-dir relative directory holding evidence blobs.
const EvidenceRoot = "evidences"

type Evidence struct {
	TournamentUUID string  `db:"tournament_uuid" json:"tournamentUuid"`
	ChartID        int     `db:"chart_id" json:"chartId"`
	FileName       string  `db:"file_name" json:"fileName"`
	SHA256         string  `db:"sha256" json:"sha256"`
	Width          int     `db:"width" json:"width"`
	Height         int     `db:"height" json:"height"`
	UpdateSeq      int     `db:"update_seq" json:"updateSeq"`
	FileDeleted    bool    `db:"file_deleted" json:"fileDeleted"`
	DeletedAt      *string `db:"deleted_at" json:"deletedAt,omitempty"`
	CreatedAt      string  `db:"created_at" json:"createdAt"`
	UpdatedAt      string  `db:"updated_at" json:"updatedAt"`
}

// Submitted reports whether the row counts as a live submission.
func (e *Evidence) Submitted() bool {
	return e.UpdateSeq > 0 && !e.FileDeleted
}

// Path is the blob location relative to the data dir.
func (e *Evidence) Path() string {
	return path.Join(EvidenceDir(e.TournamentUUID), e.FileName)
}

// EvidenceFileName is the deterministic blob name for a chart.
func EvidenceFileName(chartID int) string {
	return strconv.Itoa(chartID) + ".jpg"
}

// EvidenceDir is the directory holding a tournament's blobs.
func EvidenceDir(tournamentUUID string) string {
	return path.Join(EvidenceRoot, tournamentUUID)
}

// EvidencePath is the blob location for a chart of a tournament.
func EvidencePath(tournamentUUID string, chartID int) string {
	return path.Join(EvidenceDir(tournamentUUID), EvidenceFileName(chartID))
}

type Setting struct {
	Key       string `db:"key" json:"key"`
	Value     string `db:"value" json:"value"`
	UpdatedAt string `db:"updated_at" json:"updatedAt"`
}
