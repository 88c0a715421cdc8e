// Package app wires the engine, file store, domain store, catalog and
// instance coordinator for one data directory.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/calendar"
	"github.com/AdamBeresnev/cuptrack/internal/catalog"
	"github.com/AdamBeresnev/cuptrack/internal/config"
	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/filestore"
	"github.com/AdamBeresnev/cuptrack/internal/instance"
	"github.com/AdamBeresnev/cuptrack/internal/service"
	"github.com/AdamBeresnev/cuptrack/internal/vfs"
)

// ErrGuest is returned by operations that need the database when another
// process owns the data directory.
var ErrGuest = errors.New("another cuptrack instance owns this data directory")

type App struct {
	Config      *config.Config
	Coordinator *instance.Coordinator

	// Set only on the owner.
	Engine *engine.Client
	Files  *filestore.Store
	Domain *service.Domain
	Syncer *catalog.Syncer

	mu      sync.Mutex
	catalog *catalog.Catalog
}

// Open claims the data directory. The owner gets the full stack; a guest
// gets only the coordinator, for delegating imports.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	a.Coordinator = instance.New(instance.Options{
		DataDir:       cfg.DataDir,
		SocketTimeout: cfg.DelegationSocketTimeout,
		SharedTimeout: cfg.DelegationSharedTimeout,
		Today:         func() string { return a.Today() },
	})
	role, err := a.Coordinator.Acquire()
	if err != nil {
		return nil, err
	}
	if role == instance.RoleGuest {
		return a, nil
	}

	a.Engine, err = engine.Start(ctx, engine.Options{
		DataDir:          cfg.DataDir,
		BootstrapTimeout: cfg.EngineBootstrapTimeout,
		OnError: func(err error) {
			slog.Error("storage engine stopped", "error", err)
		},
	})
	if err != nil {
		var bErr *engine.BootstrapError
		if errors.As(err, &bErr) {
			d := bErr.Diagnostics
			slog.Error("storage engine failed to start", "reason", bErr.Reason,
				"os", d.GOOS, "arch", d.GOARCH, "data_dir", d.DataDir,
				"writable", d.DataDirWritable, "shared_memory", d.SharedMemory, "error", bErr.Err)
		}
		return nil, errors.Join(err, a.Coordinator.Close())
	}

	a.Files = filestore.New(vfs.Default(), cfg.DataDir)
	a.Domain, err = service.Open(ctx, service.Deps{
		Engine:   a.Engine,
		Files:    a.Files,
		Location: loc,
	})
	if err != nil {
		return nil, errors.Join(err, a.Engine.Close(), a.Coordinator.Close())
	}

	a.Syncer = catalog.NewSyncer(a.Engine, a.Files, a.Domain.Settings(), catalog.Options{
		BaseURL: cfg.CatalogBaseURL,
		Timeout: cfg.CatalogTimeout,
	})
	if err := a.reloadCatalog(ctx); err != nil {
		slog.Warn("chart catalog unavailable", "error", err)
	}
	return a, nil
}

func (a *App) Role() instance.Role {
	return a.Coordinator.Role()
}

// Today is the calendar day in the configured time zone.
func (a *App) Today() string {
	if a.Domain != nil {
		return a.Domain.Today()
	}
	loc, err := a.Config.Location()
	if err != nil {
		loc = time.UTC
	}
	return calendar.Today(loc)
}

// Maintain runs the startup housekeeping: reconcile blobs against rows,
// then the daily purge. Failures are logged and do not stop startup.
func (a *App) Maintain(ctx context.Context) {
	if a.Domain == nil {
		return
	}
	evidence := a.Domain.Evidence()
	if n, err := evidence.ReconcileEvidenceFiles(ctx); err != nil {
		slog.WarnContext(ctx, "evidence reconcile failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "evidence reconciled", "missing", n)
	}
	if n, err := evidence.PurgeExpiredEvidenceIfNeeded(ctx, a.Today()); err != nil {
		slog.WarnContext(ctx, "evidence purge failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "evidence purged", "count", n)
	}
}

// SyncCatalog syncs and, when a new copy was installed, swaps the lookup
// handle the domain uses.
func (a *App) SyncCatalog(ctx context.Context) (catalog.Result, error) {
	if a.Syncer == nil {
		return catalog.Result{}, ErrGuest
	}
	res, err := a.Syncer.Sync(ctx)
	if err != nil {
		return res, err
	}
	if res.Status == catalog.StatusUpdated {
		if err := a.reloadCatalog(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (a *App) reloadCatalog(ctx context.Context) error {
	cat, err := catalog.OpenCurrent(ctx, a.Engine, a.Domain.Settings())
	if errors.Is(err, catalog.ErrNoCatalog) {
		return nil
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	prev := a.catalog
	a.catalog = cat
	a.mu.Unlock()

	a.Domain.SetCatalog(cat)
	if prev != nil {
		return prev.Close(ctx)
	}
	return nil
}

// ImportOutcome is the result of Import on either role.
type ImportOutcome struct {
	Result    *service.ImportResult
	Delegated *instance.Outcome
}

// Import imports raw directly on the owner and delegates it on a guest.
func (a *App) Import(ctx context.Context, raw string) (ImportOutcome, error) {
	return a.RetryImport(ctx, "", raw)
}

// RetryImport is Import for a delegation that was not acknowledged. A guest
// resends raw under requestID; an empty id starts a new delegation. An owner
// imports directly, since it is the side that dedups.
func (a *App) RetryImport(ctx context.Context, requestID, raw string) (ImportOutcome, error) {
	if a.Domain == nil {
		var out instance.Outcome
		var err error
		if requestID == "" {
			out, err = a.Coordinator.DelegateImport(ctx, raw)
		} else {
			out, err = a.Coordinator.RedeliverImport(ctx, requestID, raw)
		}
		if err != nil {
			return ImportOutcome{}, err
		}
		return ImportOutcome{Delegated: &out}, nil
	}
	res, err := a.Domain.Tournaments().ImportEncoded(ctx, raw, a.Today())
	if err != nil {
		return ImportOutcome{}, err
	}
	return ImportOutcome{Result: &res}, nil
}

// HandleDelegated runs an import a guest handed over.
func (a *App) HandleDelegated(ctx context.Context, req instance.Request) instance.Ack {
	res, err := a.Domain.Tournaments().ImportEncoded(ctx, req.Payload, a.Today())
	if err != nil {
		slog.WarnContext(ctx, "delegated import failed", "id", req.ID, "tab", req.TabID, "error", err)
		return instance.Ack{Error: err.Error()}
	}
	return instance.Ack{OK: true, Decision: string(res.Decision), TournamentUUID: res.TournamentUUID}
}

// ServeDelegation answers guests until ctx is done. It is a no-op on a guest.
func (a *App) ServeDelegation(ctx context.Context) error {
	if a.Role() != instance.RoleOwner {
		return nil
	}
	err := a.Coordinator.Serve(ctx, a.HandleDelegated)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.mu.Lock()
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close(ctx))
		a.catalog = nil
	}
	a.mu.Unlock()
	if a.Domain != nil {
		errs = append(errs, a.Domain.Close(ctx))
	}
	if a.Engine != nil {
		errs = append(errs, a.Engine.Close())
	}
	errs = append(errs, a.Coordinator.Close())
	return errors.Join(errs...)
}
