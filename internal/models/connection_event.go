package models

import "gorm.io/datatypes"

// ConnectionEvent is one entry of the connection history.
type ConnectionEvent struct {
	BaseModel

	Action  string            `gorm:"not null;index" json:"action"`
	Serial  string            `gorm:"index" json:"serial,omitempty"`
	Kind    string            `json:"kind,omitempty"`
	Station string            `json:"station,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Result  string            `gorm:"not null" json:"result"`
	Details datatypes.JSONMap `gorm:"type:json" json:"details,omitempty"`
}
