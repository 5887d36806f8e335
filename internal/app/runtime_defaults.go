package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/radiolink/internal/database"
)

const vaultSecretBytes = 32

// ApplyRuntimeDefaults ensures the vault key is populated even when no configuration
// file supplies one. A key stored by an earlier run is reused; otherwise a new key is
// generated and stored. The returned map names generated keys, never their values.
func ApplyRuntimeDefaults(ctx context.Context, cfg *Config, db *gorm.DB) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)
	if strings.TrimSpace(cfg.Vault.EncryptionKey) != "" {
		return generated, nil
	}

	if db != nil {
		stored, err := database.GetSetting(ctx, db, database.VaultKeySetting)
		if err != nil {
			return nil, fmt.Errorf("load vault encryption key: %w", err)
		}
		if stored != "" {
			cfg.Vault.EncryptionKey = stored
			return generated, nil
		}
	}

	secret, err := generateHexKey(vaultSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate vault encryption key: %w", err)
	}
	if db != nil {
		if err := database.UpsertSetting(ctx, db, database.VaultKeySetting, secret); err != nil {
			return nil, fmt.Errorf("store vault encryption key: %w", err)
		}
	}
	cfg.Vault.EncryptionKey = secret
	generated["vault.encryption_key"] = true
	return generated, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
