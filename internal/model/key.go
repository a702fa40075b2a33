package model

import (
	"time"

	"github.com/google/uuid"
)

// VaultKey is the active wrapped data key for a vault. Exactly one row
// per vault_id; versions are strictly monotonic per vault.
type VaultKey struct {
	VaultID    uuid.UUID `json:"vaultId"    gorm:"primaryKey;type:uuid"`
	Version    uint32    `json:"version"    gorm:"not null"`
	WrappedKey []byte    `json:"-"          gorm:"not null"`
	IV         []byte    `json:"-"          gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"  gorm:"not null;default:now()"`
}

func (VaultKey) TableName() string { return "vault_keys" }

// VaultKeyTrashed is a superseded key, retained until its online
// re-encryption pass completes (RotationCompletedAt set).
type VaultKeyTrashed struct {
	ID                  uuid.UUID  `json:"id"                  gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VaultID             uuid.UUID  `json:"vaultId"             gorm:"not null;type:uuid;index:idx_trashed_vault_version"`
	Version             uint32     `json:"version"             gorm:"not null;index:idx_trashed_vault_version"`
	WrappedKey          []byte     `json:"-"                   gorm:"not null"`
	IV                  []byte     `json:"-"                   gorm:"not null"`
	CreatedAt           time.Time  `json:"createdAt"           gorm:"not null;default:now()"`
	RotationCompletedAt *time.Time `json:"rotationCompletedAt,omitempty"`
}

func (VaultKeyTrashed) TableName() string { return "vault_keys_trashed" }

// InternalSecret stores a single wrapped process-wide secret, e.g. "jwt-secret".
// Keyed by a unique string name ("internal_secrets(key)").
type InternalSecret struct {
	Key         string    `json:"key"         gorm:"primaryKey"`
	WrappedData []byte    `json:"-"           gorm:"not null"`
	IV          []byte    `json:"-"           gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt"   gorm:"not null;default:now()"`
	UpdatedAt   time.Time `json:"updatedAt"   gorm:"not null;default:now()"`
}

func (InternalSecret) TableName() string { return "internal_secrets" }
