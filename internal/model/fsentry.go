package model

import (
	"time"

	"github.com/google/uuid"
)

// FSEntry is directory/file metadata shared by directories and files.
// (parent_id, name) is unique within a vault; exactly one root entry with
// path "/" exists per vault.
type FSEntry struct {
	ID               uuid.UUID  `json:"id"               gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VaultID          uuid.UUID  `json:"vaultId"          gorm:"not null;type:uuid;uniqueIndex:idx_fsentry_vault_path;index:idx_fsentry_parent_name,unique"`
	ParentID         *uuid.UUID `json:"parentId,omitempty" gorm:"type:uuid;index:idx_fsentry_parent_name,unique"`
	Name             string     `json:"name"             gorm:"not null;index:idx_fsentry_parent_name,unique"`
	Path             string     `json:"path"             gorm:"not null;uniqueIndex:idx_fsentry_vault_path"`
	IsDir            bool       `json:"isDir"            gorm:"not null"`
	Inode            uint64     `json:"inode"            gorm:"not null"`
	Mode             uint32     `json:"mode"             gorm:"not null"`
	OwnerUID         uint32     `json:"ownerUid"         gorm:"not null"`
	GroupGID         uint32     `json:"groupGid"         gorm:"not null"`
	Base32Alias      string     `json:"base32Alias"      gorm:"not null;uniqueIndex"`
	CreatedBy        uuid.UUID  `json:"createdBy"        gorm:"not null;type:uuid"`
	LastModifiedBy   uuid.UUID  `json:"lastModifiedBy"   gorm:"not null;type:uuid"`
	CreatedAt        time.Time  `json:"createdAt"        gorm:"not null;default:now()"`
	UpdatedAt        time.Time  `json:"updatedAt"        gorm:"not null;default:now()"`

	// File-only fields (zero-valued for directories).
	SizeBytes               int64  `json:"sizeBytes,omitempty"`
	MimeType                string `json:"mimeType,omitempty"`
	ContentHash              string `json:"contentHash,omitempty"`
	EncryptionIV             []byte `json:"-"`
	EncryptedWithKeyVersion  uint32 `json:"encryptedWithKeyVersion,omitempty"`
}

func (FSEntry) TableName() string { return "fs_entry" }

// IsRoot reports whether this entry is the vault's root directory.
func (e FSEntry) IsRoot() bool { return e.Path == "/" }

// TrashedFile records a file moved to trash, atomically, pending janitor GC.
type TrashedFile struct {
	ID          uuid.UUID  `json:"id"          gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VaultID     uuid.UUID  `json:"vaultId"     gorm:"not null;type:uuid"`
	Base32Alias string     `json:"base32Alias" gorm:"not null"`
	TrashedAt   time.Time  `json:"trashedAt"   gorm:"not null;default:now()"`
	TrashedBy   uuid.UUID  `json:"trashedBy"   gorm:"not null;type:uuid"`
	BackingPath string     `json:"backingPath" gorm:"not null"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

func (TrashedFile) TableName() string { return "files_trashed" }

// CacheIndexEntry is the S3-vault content-addressed local cache index,
// keyed by (vault_id, path). LRU eviction is driven by LastAccessed.
type CacheIndexEntry struct {
	ID           uuid.UUID `json:"id"           gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VaultID      uuid.UUID `json:"vaultId"      gorm:"not null;type:uuid;uniqueIndex:idx_cache_vault_path"`
	Path         string    `json:"path"         gorm:"not null;uniqueIndex:idx_cache_vault_path"`
	BackingPath  string    `json:"backingPath"  gorm:"not null"`
	SizeBytes    int64     `json:"sizeBytes"    gorm:"not null"`
	LastAccessed time.Time `json:"lastAccessed" gorm:"not null;default:now()"`
}

func (CacheIndexEntry) TableName() string { return "cache_index" }
