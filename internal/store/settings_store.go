package store

import (
	"context"
	"time"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
	"github.com/AdamBeresnev/cuptrack/internal/utils"
)

type SettingsStore struct{}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{}
}

// Get returns the value of key and whether it is set.
func (s *SettingsStore) Get(ctx context.Context, q engine.Querier, key string) (string, bool, error) {
	rows, err := q.Query(ctx, `SELECT value FROM app_settings WHERE key = ?`, key)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return rows[0].String("value"), true, nil
}

func (s *SettingsStore) Set(ctx context.Context, q engine.Querier, key, value string, now time.Time) error {
	_, err := namedExec(ctx, q, `INSERT INTO app_settings (key, value, updated_at) VALUES (:key, :value, :updated_at)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		tournament.Setting{Key: key, Value: value, UpdatedAt: utils.Timestamp(now)})
	return err
}

func (s *SettingsStore) List(ctx context.Context, q engine.Querier) ([]tournament.Setting, error) {
	rows, err := q.Query(ctx, `SELECT key, value, updated_at FROM app_settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	out := make([]tournament.Setting, len(rows))
	for i, r := range rows {
		out[i] = tournament.Setting{Key: r.String("key"), Value: r.String("value"), UpdatedAt: r.String("updated_at")}
	}
	return out, nil
}
