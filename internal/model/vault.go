// Package model holds the GORM-mapped persistence types shared across Vaulthalla.
package model

import (
	"time"

	"github.com/google/uuid"
)

// VaultType distinguishes the backing implementation of a Vault.
type VaultType string

const (
	VaultTypeLocal VaultType = "local"
	VaultTypeS3    VaultType = "s3"
)

// Vault is a named, per-owner storage domain with its own encryption key
// and backing implementation. S3-only fields are zero-valued for Local vaults.
type Vault struct {
	ID          uuid.UUID `json:"id"          gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Name        string    `json:"name"        gorm:"not null;uniqueIndex:idx_vault_name_owner"`
	OwnerID     uuid.UUID `json:"ownerId"     gorm:"not null;type:uuid;uniqueIndex:idx_vault_name_owner"`
	Type        VaultType `json:"type"        gorm:"not null"`
	MountPoint  string    `json:"mountPoint"  gorm:"not null"`
	QuotaBytes  int64     `json:"quotaBytes"  gorm:"not null;default:0"` // 0 = unlimited
	Description string    `json:"description"`
	IsActive    bool      `json:"isActive"    gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"createdAt"   gorm:"not null;default:now()"`
	UpdatedAt   time.Time `json:"updatedAt"   gorm:"not null;default:now()"`

	// S3 variant fields.
	APIKeyID        *uuid.UUID `json:"apiKeyId,omitempty"        gorm:"type:uuid"`
	Bucket          string     `json:"bucket,omitempty"`
	EncryptUpstream bool       `json:"encryptUpstream"           gorm:"not null;default:false"`
}

func (Vault) TableName() string { return "vault" }

// APIKey is a wrapped credential for talking to an S3-compatible provider.
// The secret is never stored in plaintext: WrappedSecret is encrypted under the
// master key with IV.
type APIKey struct {
	ID            uuid.UUID `json:"id"            gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID        uuid.UUID `json:"userId"        gorm:"not null;type:uuid"`
	Name          string    `json:"name"          gorm:"not null"`
	Provider      string    `json:"provider"      gorm:"not null"`
	AccessKey     string    `json:"accessKey"     gorm:"not null"`
	WrappedSecret []byte    `json:"-"             gorm:"not null"`
	IV            []byte    `json:"-"             gorm:"not null"`
	Region        string    `json:"region"`
	Endpoint      string    `json:"endpoint"`
	CreatedAt     time.Time `json:"createdAt"     gorm:"not null;default:now()"`
}

func (APIKey) TableName() string { return "api_keys" }
