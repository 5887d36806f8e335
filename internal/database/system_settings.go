package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/radiolink/internal/models"
)

// Setting keys persisted by the application.
const (
	DefaultConnectionSetting    = "session.default_connection"
	DefaultGuiConnectionSetting = "session.default_gui_connection"
	ClientIDSetting             = "session.client_id"
	StationNameSetting          = "session.station_name"
	RelayEnabledSetting         = "relay.enabled"
	RelayEmailSetting           = "relay.email"
	VaultKeySetting             = "vault.encryption_key"
)

// GetSetting returns the stored value for key, or "" when it was never written.
func GetSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errors.New("settings: db is nil")
	}

	var setting models.Setting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	switch {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("settings: get %q: %w", key, err)
	}
}

// GetSettings loads every key with the given prefix.
func GetSettings(ctx context.Context, db *gorm.DB, prefix string) (map[string]string, error) {
	if db == nil {
		return nil, errors.New("settings: db is nil")
	}

	var rows []models.Setting
	if err := db.WithContext(ctx).Where("key LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("settings: list %q: %w", prefix, err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

// UpsertSetting stores or updates a value.
func UpsertSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return errors.New("settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("settings: key is required")
	}

	record := models.Setting{Key: key, Value: value}
	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("settings: upsert %q: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key. Missing keys are not an error.
func DeleteSetting(ctx context.Context, db *gorm.DB, key string) error {
	if db == nil {
		return errors.New("settings: db is nil")
	}
	if err := db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("settings: delete %q: %w", key, err)
	}
	return nil
}
