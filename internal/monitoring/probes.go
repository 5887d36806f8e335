package monitoring

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// LinkStatus reports whether a long-lived link is up.
type LinkStatus interface {
	Connected() bool
}

// Database returns a critical probe that pings the database handle.
func Database(db *gorm.DB) Probe {
	return Probe{
		Name:     "database",
		Critical: true,
		Run: func(ctx context.Context) error {
			if db == nil {
				return errors.New("database not configured")
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

// Link returns a non-critical probe reporting whether link is connected.
func Link(name string, link LinkStatus) Probe {
	return Probe{
		Name: name,
		Run: func(context.Context) error {
			if link == nil || !link.Connected() {
				return errors.New("not connected")
			}
			return nil
		},
	}
}
