package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/AdamBeresnev/cuptrack/internal/engine"
	"github.com/AdamBeresnev/cuptrack/internal/store"
	"github.com/AdamBeresnev/cuptrack/internal/tournament"
)

const (
	SettingAutoDeleteEnabled = "auto_delete_enabled"
	SettingAutoDeleteDays    = "auto_delete_days"
	SettingLastPurgeDay      = "evidence_last_purge_day"
)

// settingDefaults apply when a key has never been written.
var settingDefaults = map[string]string{
	SettingAutoDeleteEnabled: "0",
	SettingAutoDeleteDays:    "30",
}

type SettingsService struct {
	d     *Domain
	store *store.SettingsStore
}

func NewSettingsService(d *Domain, store *store.SettingsStore) *SettingsService {
	return &SettingsService{d: d, store: store}
}

// Get returns the stored value of key, its default, or "".
func (s *SettingsService) Get(ctx context.Context, key string) (string, error) {
	db, err := s.d.Session()
	if err != nil {
		return "", err
	}
	v, ok, err := s.store.Get(ctx, db, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return settingDefaults[key], nil
	}
	return v, nil
}

func (s *SettingsService) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil || v == "" {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("setting %s is not a boolean: %q", key, v)
	}
	return b, nil
}

func (s *SettingsService) GetInt(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("setting %s is not an integer: %q", key, v)
	}
	return n, nil
}

func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany writes all values in one transaction.
func (s *SettingsService) SetMany(ctx context.Context, values map[string]string) error {
	db, err := s.d.Session()
	if err != nil {
		return err
	}
	if err := validateSettings(values); err != nil {
		return err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	now := s.d.clock()
	return db.Exclusive(ctx, func(tx *engine.Tx) error {
		for _, k := range keys {
			if err := s.store.Set(ctx, tx, k, values[k], now); err != nil {
				return fmt.Errorf("failed to write setting %s: %w", k, err)
			}
		}
		return nil
	})
}

// List returns every stored setting, with defaults filled in for the
// known keys that were never written.
func (s *SettingsService) List(ctx context.Context) ([]tournament.Setting, error) {
	db, err := s.d.Session()
	if err != nil {
		return nil, err
	}
	stored, err := s.store.List(ctx, db)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(stored))
	for _, st := range stored {
		seen[st.Key] = true
	}
	for k, v := range settingDefaults {
		if !seen[k] {
			stored = append(stored, tournament.Setting{Key: k, Value: v})
		}
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].Key < stored[j].Key })
	return stored, nil
}

func validateSettings(values map[string]string) error {
	for k, v := range values {
		switch k {
		case "":
			return &ValidationError{Field: "key", Reason: "required"}
		case SettingAutoDeleteEnabled:
			if _, err := strconv.ParseBool(v); err != nil {
				return &ValidationError{Field: k, Reason: "must be a boolean"}
			}
		case SettingAutoDeleteDays:
			if n, err := strconv.Atoi(v); err != nil || n < 0 {
				return &ValidationError{Field: k, Reason: "must be a non-negative integer"}
			}
		}
	}
	return nil
}
