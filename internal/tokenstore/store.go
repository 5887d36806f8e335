// Package tokenstore keeps relay refresh credentials, keyed by account.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/radiolink/internal/models"
	"github.com/charlesng35/radiolink/pkg/crypto"
)

// DefaultService scopes the relay refresh credentials.
const DefaultService = "relay.refresh_token"

// Store persists one secret per account.
type Store interface {
	Get(ctx context.Context, account string) (string, bool, error)
	Set(ctx context.Context, account, secret string) error
	Delete(ctx context.Context, account string) error
}

// GormStore seals secrets with AES-GCM before they reach the credentials table.
type GormStore struct {
	db      *gorm.DB
	service string
	key     []byte
}

// NewGormStore validates key length and binds the store to service.
func NewGormStore(db *gorm.DB, service string, key []byte) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("token store: db is required")
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("token store: key must be 16, 24 or 32 bytes (got %d)", len(key))
	}
	if strings.TrimSpace(service) == "" {
		service = DefaultService
	}
	return &GormStore{db: db, service: service, key: append([]byte(nil), key...)}, nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, account string) (string, bool, error) {
	account = normalizeAccount(account)
	if account == "" {
		return "", false, nil
	}

	var record models.Credential
	err := s.db.WithContext(ctx).
		Where("service = ? AND account = ?", s.service, account).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("token store: load %q: %w", account, err)
	}

	plaintext, err := crypto.Decrypt(record.Secret, s.key)
	if err != nil {
		return "", false, fmt.Errorf("token store: unseal %q: %w", account, err)
	}
	return string(plaintext), true, nil
}

// Set implements Store, replacing any existing secret for account.
func (s *GormStore) Set(ctx context.Context, account, secret string) error {
	account = normalizeAccount(account)
	if account == "" {
		return errors.New("token store: account is required")
	}

	sealed, err := crypto.Encrypt([]byte(secret), s.key)
	if err != nil {
		return fmt.Errorf("token store: seal: %w", err)
	}

	record := models.Credential{Service: s.service, Account: account, Secret: sealed}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service"}, {Name: "account"}},
		DoUpdates: clause.Assignments(map[string]any{"secret": sealed, "updated_at": time.Now().UTC()}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("token store: save %q: %w", account, err)
	}
	return nil
}

// Delete implements Store. Unknown accounts are ignored.
func (s *GormStore) Delete(ctx context.Context, account string) error {
	account = normalizeAccount(account)
	if account == "" {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("service = ? AND account = ?", s.service, account).
		Delete(&models.Credential{}).Error
	if err != nil {
		return fmt.Errorf("token store: delete %q: %w", account, err)
	}
	return nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, account string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[normalizeAccount(account)]
	return secret, ok, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, account, secret string) error {
	account = normalizeAccount(account)
	if account == "" {
		return errors.New("token store: account is required")
	}
	m.mu.Lock()
	m.secrets[account] = secret
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, account string) error {
	m.mu.Lock()
	delete(m.secrets, normalizeAccount(account))
	m.mu.Unlock()
	return nil
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
