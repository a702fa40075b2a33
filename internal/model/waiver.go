package model

import (
	"time"

	"github.com/google/uuid"
)

// Waiver is an append-only audit record capturing explicit user consent to
// a destructive encryption-state change on a non-empty S3 bucket.
type Waiver struct {
	ID                uuid.UUID  `json:"id"                gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VaultID           uuid.UUID  `json:"vaultId"           gorm:"not null;type:uuid"`
	UserID            uuid.UUID  `json:"userId"            gorm:"not null;type:uuid"`
	APIKeyID          *uuid.UUID `json:"apiKeyId,omitempty" gorm:"type:uuid"`
	EncryptUpstream   bool       `json:"encryptUpstream"   gorm:"not null"`
	WaiverText        string     `json:"waiverText"        gorm:"not null"`
	OverridingRole    *uuid.UUID `json:"overridingRole,omitempty" gorm:"type:uuid"`
	CreatedAt         time.Time  `json:"createdAt"         gorm:"not null;default:now()"`
}

func (Waiver) TableName() string { return "waivers" }

// Task is a generic queued background-work row for deferring work past the
// request/response boundary. The store persists and claims tasks; the trash
// janitor and the waiver gate do not use them.
type Task struct {
	ID         uuid.UUID      `json:"id"         gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	TaskType   string         `json:"taskType"   gorm:"not null"`
	TaskBody   map[string]any `json:"taskBody"   gorm:"type:jsonb;serializer:json"`
	CreatedAt  time.Time      `json:"createdAt"  gorm:"not null;default:now()"`
	NotBefore  time.Time      `json:"notBefore"  gorm:"not null;default:now()"`
	Attempts   int            `json:"attempts"   gorm:"not null;default:0"`
	LastError  string         `json:"lastError,omitempty"`
}

func (Task) TableName() string { return "tasks" }
