package models

import "time"

// Setting is a key/value pair that survives restarts: persisted defaults,
// client identity and relay preferences.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
