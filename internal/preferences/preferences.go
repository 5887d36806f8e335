// Package preferences persists the user choices that survive restarts.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/charlesng35/radiolink/internal/database"
)

// Preferences are the persisted session and relay settings. Empty strings mean unset.
type Preferences struct {
	DefaultConnection    string `json:"default_connection"`
	DefaultGuiConnection string `json:"default_gui_connection"`
	ClientID             string `json:"client_id"`
	StationName          string `json:"station_name"`
	RelayEnabled         bool   `json:"relay_enabled"`
	RelayEmail           string `json:"relay_email"`
}

// Store loads and saves Preferences as a unit.
type Store interface {
	Load(ctx context.Context) (Preferences, error)
	Save(ctx context.Context, prefs Preferences) error
}

// EnsureClientID assigns a random client identity when none is set and reports
// whether it did.
func EnsureClientID(prefs *Preferences) bool {
	if strings.TrimSpace(prefs.ClientID) != "" {
		return false
	}
	prefs.ClientID = strings.ToUpper(uuid.NewString())
	return true
}

// SettingsStore keeps Preferences in the settings table.
type SettingsStore struct {
	db *gorm.DB
}

// NewSettingsStore binds a SettingsStore to db.
func NewSettingsStore(db *gorm.DB) (*SettingsStore, error) {
	if db == nil {
		return nil, errors.New("preferences: db is required")
	}
	return &SettingsStore{db: db}, nil
}

// Load implements Store.
func (s *SettingsStore) Load(ctx context.Context) (Preferences, error) {
	session, err := database.GetSettings(ctx, s.db, "session.")
	if err != nil {
		return Preferences{}, err
	}
	relay, err := database.GetSettings(ctx, s.db, "relay.")
	if err != nil {
		return Preferences{}, err
	}

	prefs := Preferences{
		DefaultConnection:    session[database.DefaultConnectionSetting],
		DefaultGuiConnection: session[database.DefaultGuiConnectionSetting],
		ClientID:             session[database.ClientIDSetting],
		StationName:          session[database.StationNameSetting],
		RelayEmail:           relay[database.RelayEmailSetting],
	}
	if raw := relay[database.RelayEnabledSetting]; raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Preferences{}, fmt.Errorf("preferences: %s: %w", database.RelayEnabledSetting, err)
		}
		prefs.RelayEnabled = enabled
	}
	return prefs, nil
}

// Save implements Store. Every key is written inside one transaction.
func (s *SettingsStore) Save(ctx context.Context, prefs Preferences) error {
	values := map[string]string{
		database.DefaultConnectionSetting:    prefs.DefaultConnection,
		database.DefaultGuiConnectionSetting: prefs.DefaultGuiConnection,
		database.ClientIDSetting:             prefs.ClientID,
		database.StationNameSetting:          prefs.StationName,
		database.RelayEnabledSetting:         strconv.FormatBool(prefs.RelayEnabled),
		database.RelayEmailSetting:           prefs.RelayEmail,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			if err := database.UpsertSetting(ctx, tx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// MemoryStore holds Preferences in memory.
type MemoryStore struct {
	mu    sync.Mutex
	prefs Preferences
	saves int
}

// NewMemoryStore seeds a MemoryStore with initial.
func NewMemoryStore(initial Preferences) *MemoryStore {
	return &MemoryStore{prefs: initial}
}

// Load implements Store.
func (m *MemoryStore) Load(context.Context) (Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, prefs Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs = prefs
	m.saves++
	return nil
}

// Saves reports how many times Save ran.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
