// Package service is the domain store: transactional tournament, evidence
// and settings logic over the engine session and the durable file store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/calendar"
	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/filestore"
	"github.com/AdamBeresnev/cuptrack/internal/store"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
)

// AppDatabase is the locator of the app database inside the data dir.
const AppDatabase = "app_data.sqlite3"

// ChartCatalog describes charts by id. Unknown ids are simply absent from
// the result.
type ChartCatalog interface {
	LookupCharts(ctx context.Context, chartIDs []int) (map[int]tournament.ChartInfo, error)
}

type Deps struct {
	Engine *engine.Client
	Files  *filestore.Store

	// Locator defaults to AppDatabase.
	Locator string

	// Location decides which calendar day "today" is. Defaults to UTC.
	Location *time.Location

	// Now defaults to time.Now.
	Now func() time.Time

	Catalog ChartCatalog
}

// Domain owns the app database handle for its lifetime.
type Domain struct {
	mu      sync.RWMutex
	session *engine.Session
	files   *filestore.Store
	loc     *time.Location
	now     func() time.Time
	catalog ChartCatalog
}

// Open opens the app database, brings the schema up to date and returns
// the ready Domain.
func Open(ctx context.Context, deps Deps) (*Domain, error) {
	if deps.Engine == nil || deps.Files == nil {
		return nil, errors.New("domain store needs an engine and a file store")
	}
	if deps.Locator == "" {
		deps.Locator = AppDatabase
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	session, err := deps.Engine.OpenSession(ctx, deps.Locator)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx, session, deps.Now()); err != nil {
		return nil, errors.Join(err, session.Close(ctx))
	}

	return &Domain{
		session: session,
		files:   deps.Files,
		loc:     deps.Location,
		now:     deps.Now,
		catalog: deps.Catalog,
	}, nil
}

// Close releases the database handle. Later calls fail with ErrNotInitialized.
func (d *Domain) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Close(ctx)
	d.session = nil
	return err
}

// Session returns the open app database session.
func (d *Domain) Session() (*engine.Session, error) {
	if d == nil {
		return nil, ErrNotInitialized
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, ErrNotInitialized
	}
	return d.session, nil
}

// Today is the calendar day the whole process agrees on.
func (d *Domain) Today() string {
	if d == nil {
		return calendar.Today(nil)
	}
	return calendar.DayOf(d.clock(), d.loc)
}

// SetCatalog swaps the chart catalog, for example after a catalog sync.
func (d *Domain) SetCatalog(c ChartCatalog) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalog = c
}

func (d *Domain) chartCatalog() ChartCatalog {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.catalog
}

func (d *Domain) clock() time.Time {
	if d.now == nil {
		return time.Now()
	}
	return d.now()
}

func (d *Domain) Tournaments() *TournamentService {
	return NewTournamentService(d, store.NewTournamentStore(), store.NewEvidenceStore())
}

func (d *Domain) Evidence() *EvidenceService {
	return NewEvidenceService(d, store.NewTournamentStore(), store.NewEvidenceStore())
}

func (d *Domain) Settings() *SettingsService {
	return NewSettingsService(d, store.NewSettingsStore())
}

func logger() *slog.Logger {
	return slog.Default().With("component", "domain")
}
