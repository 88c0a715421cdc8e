package tournament

import (
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
)

type Tab string

const (
	TabActive   Tab = "active"
	TabUpcoming Tab = "upcoming"
	TabEnded    Tab = "ended"
)

// ParseTab accepts the three list tabs; anything else is reported as not ok.
func ParseTab(s string) (Tab, bool) {
	switch t := Tab(s); t {
	case TabActive, TabUpcoming, TabEnded:
		return t, true
	}
	return "", false
}

type Tournament struct {
	UUID       string  `db:"tournament_uuid" json:"uuid"`
	SourceUUID *string `db:"source_tournament_uuid" json:"sourceUuid,omitempty"`
	DefHash    string  `db:"def_hash" json:"defHash"`
	Name       string  `db:"tournament_name" json:"name"`
	Owner      string  `db:"owner" json:"owner"`
	Hashtag    string  `db:"hashtag" json:"hashtag"`
	StartDate  string  `db:"start_date" json:"startDate"`
	EndDate    string  `db:"end_date" json:"endDate"`
	IsImported bool    `db:"is_imported" json:"isImported"`
	CreatedAt  string  `db:"created_at" json:"createdAt"`
	UpdatedAt  string  `db:"updated_at" json:"updatedAt"`
}

// PayloadUUID is the identity the definition travels under: the source
// uuid for imported tournaments, the local uuid otherwise.
func (t *Tournament) PayloadUUID() string {
	if src := utils.Deref(t.SourceUUID); t.IsImported && src != "" {
		return src
	}
	return t.UUID
}

// Payload rebuilds the portable definition from the stored row.
func (t *Tournament) Payload(chartIDs []int) payload.Payload {
	return payload.Payload{
		V:       payload.Version,
		UUID:    t.PayloadUUID(),
		Name:    t.Name,
		Owner:   t.Owner,
		Hashtag: t.Hashtag,
		Start:   t.StartDate,
		End:     t.EndDate,
		Charts:  chartIDs,
	}
}

// TabOn returns the list tab the tournament falls in on day.
func (t *Tournament) TabOn(day string) Tab {
	switch {
	case t.StartDate > day:
		return TabUpcoming
	case t.EndDate < day:
		return TabEnded
	default:
		return TabActive
	}
}

type Chart struct {
	ID             int64  `db:"id"`
	TournamentUUID string `db:"tournament_uuid"`
	ChartID        int    `db:"chart_id"`
}

// Summary is a tournament with its chart aggregates.
type Summary struct {
	Tournament
	ChartCount     int `json:"chartCount"`
	SubmittedCount int `json:"submittedCount"`
}

// Detail is a summary plus every chart in insertion order.
type Detail struct {
	Summary
	Charts []ChartDetail `json:"charts"`
}

type ChartDetail struct {
	ChartID   int        `json:"chartId"`
	InCatalog bool       `json:"inCatalog"`
	Info      *ChartInfo `json:"info,omitempty"`
	Evidence  *Evidence  `json:"evidence,omitempty"`
}

// ChartInfo is the catalog's description of a chart.
type ChartInfo struct {
	ChartID    int    `json:"chartId"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	PlayStyle  string `json:"playStyle"`
	Difficulty string `json:"difficulty"`
	Level      int    `json:"level"`
}
