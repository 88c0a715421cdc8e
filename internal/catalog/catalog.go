package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/jmoiron/sqlx"
)

// ErrNoCatalog means no catalog has been synced yet.
var ErrNoCatalog = errors.New("no chart catalog installed")

// lookupBatch keeps IN lists under SQLite's variable limit.
const lookupBatch = 500

// Catalog is a read-only handle on an installed catalog.
type Catalog struct {
	session  *engine.Session
	fileName string
}

// Open opens the installed catalog file read-only.
func Open(ctx context.Context, client *engine.Client, fileName string) (*Catalog, error) {
	m := Manifest{FileName: fileName}
	session, err := client.OpenSession(ctx, readOnlyLocator(m.Path()))
	if err != nil {
		return nil, err
	}
	return &Catalog{session: session, fileName: fileName}, nil
}

// OpenCurrent opens whichever catalog settings record as installed.
func OpenCurrent(ctx context.Context, client *engine.Client, settings Settings) (*Catalog, error) {
	file, err := settings.Get(ctx, SettingFile)
	if err != nil {
		return nil, err
	}
	if file == "" {
		return nil, ErrNoCatalog
	}
	return Open(ctx, client, file)
}

func (c *Catalog) FileName() string {
	return c.fileName
}

func (c *Catalog) Close(ctx context.Context) error {
	return c.session.Close(ctx)
}

// LookupCharts describes the given charts. Ids the catalog does not know are
// absent from the result.
func (c *Catalog) LookupCharts(ctx context.Context, chartIDs []int) (map[int]tournament.ChartInfo, error) {
	ids := slices.Compact(slices.Sorted(slices.Values(chartIDs)))
	out := make(map[int]tournament.ChartInfo, len(ids))

	for batch := range slices.Chunk(ids, lookupBatch) {
		query, args, err := sqlx.In(`SELECT chart_id, title, artist, play_style, difficulty, level
			FROM charts WHERE chart_id IN (?)`, batch)
		if err != nil {
			return nil, err
		}
		rows, err := c.session.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up charts: %w", err)
		}
		for _, r := range rows {
			info := tournament.ChartInfo{
				ChartID:    r.Int("chart_id"),
				Title:      r.String("title"),
				Artist:     r.String("artist"),
				PlayStyle:  r.String("play_style"),
				Difficulty: r.String("difficulty"),
				Level:      r.Int("level"),
			}
			out[info.ChartID] = info
		}
	}
	return out, nil
}
