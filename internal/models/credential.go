package models

// Credential holds a sealed secret for one account of one service. Secret is
// ciphertext produced by pkg/crypto; plaintext never reaches the database.
type Credential struct {
	BaseModel

	Service string `gorm:"not null;uniqueIndex:idx_credentials_service_account" json:"service"`
	Account string `gorm:"not null;uniqueIndex:idx_credentials_service_account" json:"account"`
	Secret  string `gorm:"type:text;not null" json:"-"`
}
