// Package history records connection lifecycle events.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/radiolink/internal/models"
)

// Actions recorded by the session manager.
const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionConflict   = "conflict"
	ActionRelayLogin = "relay_login"
)

// Results.
const (
	ResultRequested = "requested"
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultCancelled = "cancelled"
)

// Entry is one event to persist.
type Entry struct {
	Action  string
	Serial  string
	Kind    string
	Station string
	Reason  string
	Result  string
	Details map[string]any
}

// Filters narrows List.
type Filters struct {
	Action string
	Serial string
	Since  *time.Time
}

// ListOptions pages List.
type ListOptions struct {
	Page     int
	PageSize int
	Filters  Filters
}

// Service persists and queries connection events.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService binds a Service to db.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("history: db is required")
	}
	return &Service{db: db, now: time.Now}, nil
}

// Record stores entry.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("history: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("history: result is required")
	}

	event := models.ConnectionEvent{
		Action:  strings.TrimSpace(entry.Action),
		Serial:  strings.TrimSpace(entry.Serial),
		Kind:    entry.Kind,
		Station: entry.Station,
		Reason:  entry.Reason,
		Result:  strings.TrimSpace(entry.Result),
	}
	if len(entry.Details) > 0 {
		event.Details = datatypes.JSONMap(entry.Details)
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("history: record %s: %w", event.Action, err)
	}
	return nil
}

// List returns newest-first events and the total matching count.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]models.ConnectionEvent, int64, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := applyFilters(s.db.WithContext(ctx).Model(&models.ConnectionEvent{}), opts.Filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("history: count: %w", err)
	}

	var events []models.ConnectionEvent
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("history: list: %w", err)
	}
	return events, total, nil
}

// PruneOlderThan deletes events older than retention and returns how many went.
func (s *Service) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.New("history: retention must be positive")
	}

	cutoff := s.now().Add(-retention)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ConnectionEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("history: prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func applyFilters(query *gorm.DB, filters Filters) *gorm.DB {
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Serial != "" {
		query = query.Where("serial = ?", filters.Serial)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	return query
}
