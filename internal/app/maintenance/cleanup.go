// Package maintenance schedules background upkeep: silent relay session
// renewal, connection history pruning and removal of stale credentials.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/radiolink/internal/models"
	"github.com/charlesng35/radiolink/pkg/logger"
)

const (
	defaultHistoryRetentionDays = 90
	defaultCredentialMaxAge     = 180 * 24 * time.Hour
	defaultRefreshSpec          = "@every 30m"
	defaultHistorySpec          = "@daily"
	defaultCredentialSpec       = "@weekly"
)

// Refresher renews the relay login while it is active.
type Refresher interface {
	RefreshLogin()
}

// Pruner deletes connection history older than a retention window.
type Pruner interface {
	PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// Cleaner coordinates background maintenance tasks.
type Cleaner struct {
	db        *gorm.DB
	refresher Refresher
	history   Pruner
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int
	maxAge    time.Duration

	refreshSchedule    string
	historySchedule    string
	credentialSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithHistoryRetentionDays adjusts how long history is kept. Zero keeps it forever.
func WithHistoryRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days >= 0 {
			cleaner.retention = days
		}
	}
}

// WithCredentialMaxAge adjusts how long an unused credential is kept.
func WithCredentialMaxAge(age time.Duration) Option {
	return func(cleaner *Cleaner) {
		if age > 0 {
			cleaner.maxAge = age
		}
	}
}

// WithRefreshSchedule overrides the cron specification for relay session renewal.
func WithRefreshSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.refreshSchedule = spec
		}
	}
}

// WithHistorySchedule overrides the cron specification for history pruning.
func WithHistorySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.historySchedule = spec
		}
	}
}

// WithCredentialSchedule overrides the cron specification for credential cleanup.
func WithCredentialSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.credentialSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Any nil dependency results in the
// corresponding job being skipped.
func NewCleaner(db *gorm.DB, refresher Refresher, history Pruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                 db,
		refresher:          refresher,
		history:            history,
		now:                time.Now,
		retention:          defaultHistoryRetentionDays,
		maxAge:             defaultCredentialMaxAge,
		refreshSchedule:    defaultRefreshSpec,
		historySchedule:    defaultHistorySpec,
		credentialSchedule: defaultCredentialSpec,
		log:                logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.refresher != nil || cleaner.history != nil || cleaner.db != nil

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.refresher != nil {
		if _, err := c.cron.AddFunc(c.refreshSchedule, c.refresher.RefreshLogin); err != nil {
			return fmt.Errorf("maintenance: refresh schedule: %w", err)
		}
	}

	if c.history != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.historySchedule, func() {
			if _, err := c.pruneHistory(context.Background()); err != nil {
				c.log.Warn("history pruning failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: history schedule: %w", err)
		}
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.credentialSchedule, func() {
			if _, err := CleanupCredentials(context.Background(), c.db, c.now().Add(-c.maxAge)); err != nil {
				c.log.Warn("credential cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: credential schedule: %w", err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.refresher != nil {
		c.refresher.RefreshLogin()
	}

	if c.history != nil && c.retention > 0 {
		if _, err := c.pruneHistory(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		if _, err := CleanupCredentials(ctx, c.db, c.now().Add(-c.maxAge)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) pruneHistory(ctx context.Context) (int64, error) {
	removed, err := c.history.PruneOlderThan(ctx, time.Duration(c.retention)*24*time.Hour)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		c.log.Info("pruned connection history", zap.Int64("removed", removed))
	}
	return removed, nil
}

// CleanupCredentials removes stored credentials not written since cutoff.
func CleanupCredentials(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup credentials: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("updated_at < ?", cutoff).
		Delete(&models.Credential{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup credentials: %w", result.Error)
	}
	return result.RowsAffected, nil
}
