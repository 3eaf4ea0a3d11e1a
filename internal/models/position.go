package models

import "time"

// VaultPosition represents a wallet's share balance in a vault
type VaultPosition struct {
	Wallet    string    `json:"wallet" db:"wallet"`
	VaultID   string    `json:"vaultId" db:"vault_id"`
	Shares    string    `json:"shares" db:"shares"` // Decimal string to avoid float rounding
	OpenedAt  time.Time `json:"openedAt" db:"opened_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
