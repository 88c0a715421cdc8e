package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/payload"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SettingSchemaVersion records the last applied migration version.
const SettingSchemaVersion = "schema_version"

// DB is an engine session able to run exclusive transactions.
type DB interface {
	engine.Querier
	Exclusive(ctx context.Context, fn func(tx *engine.Tx) error) error
}

// Migration is one embedded schema step.
type Migration struct {
	Version    uint
	Identifier string
	Statements []string
}

// Migrations enumerates the embedded migrations in version order.
func Migrations() ([]Migration, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations: %w", err)
	}
	defer src.Close()
	return readMigrations(src)
}

func readMigrations(src source.Driver) ([]Migration, error) {
	var out []Migration
	v, err := src.First()
	for err == nil {
		rc, ident, rErr := src.ReadUp(v)
		if rErr != nil {
			return nil, fmt.Errorf("failed to read migration %d: %w", v, rErr)
		}
		body, rErr := io.ReadAll(rc)
		_ = rc.Close()
		if rErr != nil {
			return nil, fmt.Errorf("failed to read migration %d: %w", v, rErr)
		}
		out = append(out, Migration{Version: v, Identifier: ident, Statements: splitStatements(string(body))})
		v, err = src.Next(v)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to enumerate migrations: %w", err)
	}
	return out, nil
}

// splitStatements splits a migration body on semicolons, dropping "--" comment lines.
func splitStatements(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var stmts []string
	for _, s := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// EnsureSchema applies every migration above the stored schema version,
// one exclusive transaction per version, then backfills missing definition
// hashes. It is safe to run on every start.
func EnsureSchema(ctx context.Context, db DB, now time.Time) error {
	migrations, err := Migrations()
	if err != nil {
		return err
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	settings := NewSettingsStore()
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := db.Exclusive(ctx, func(tx *engine.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.Exec(ctx, stmt); err != nil {
					if engine.IsDuplicateColumn(err) {
						slog.Debug("column already present", "migration", m.Identifier)
						continue
					}
					return fmt.Errorf("migration %d (%s): %w", m.Version, m.Identifier, err)
				}
			}
			return settings.Set(ctx, tx, SettingSchemaVersion, strconv.FormatUint(uint64(m.Version), 10), now)
		})
		if err != nil {
			return err
		}
		slog.Info("applied migration", "version", m.Version, "name", m.Identifier)
	}

	return backfillDefHashes(ctx, db, now)
}

func schemaVersion(ctx context.Context, q engine.Querier) (uint, error) {
	rows, err := q.Query(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'app_settings'`)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	value, ok, err := NewSettingsStore().Get(ctx, q, SettingSchemaVersion)
	if err != nil || !ok {
		return 0, err
	}
	v, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s setting %q: %w", SettingSchemaVersion, value, err)
	}
	return uint(v), nil
}

// backfillDefHashes computes def_hash for rows written before the column existed.
func backfillDefHashes(ctx context.Context, db DB, now time.Time) error {
	tournaments := NewTournamentStore()
	return db.Exclusive(ctx, func(tx *engine.Tx) error {
		missing, err := tournaments.ListMissingHash(ctx, tx)
		if err != nil {
			return err
		}
		for _, t := range missing {
			charts, err := tournaments.ChartIDs(ctx, tx, t.UUID)
			if err != nil {
				return err
			}
			p, err := payload.Normalize(t.Payload(charts), payload.Options{})
			if err != nil {
				// Rows that no longer validate keep an empty hash and never dedup.
				slog.Warn("cannot hash stored tournament", "uuid", t.UUID, "error", err)
				continue
			}
			hash, err := payload.ContentHash(p)
			if err != nil {
				return err
			}
			if err := tournaments.UpdateHash(ctx, tx, t.UUID, hash, now); err != nil {
				return err
			}
		}
		return nil
	})
}
