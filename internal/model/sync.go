package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncTrigger identifies what caused a sync task to run.
type SyncTrigger string

const (
	TriggerSchedule SyncTrigger = "schedule"
	TriggerWebhook  SyncTrigger = "webhook"
	TriggerManual   SyncTrigger = "manual"
	TriggerStartup  SyncTrigger = "startup"
)

// SyncOutcome is the terminal state of a SyncEvent.
type SyncOutcome string

const (
	OutcomeSuccess   SyncOutcome = "success"
	OutcomeFailed    SyncOutcome = "failed"
	OutcomeSuspended SyncOutcome = "suspended" // conflict policy Ask
)

// SyncEvent is a retained history record of one sync task run.
type SyncEvent struct {
	ID         uuid.UUID   `json:"id"         gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	VaultID    uuid.UUID   `json:"vaultId"    gorm:"not null;type:uuid;index"`
	Trigger    SyncTrigger `json:"trigger"    gorm:"not null"`
	StartedAt  time.Time   `json:"startedAt"  gorm:"not null;default:now()"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Outcome    SyncOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
}

func (SyncEvent) TableName() string { return "sync_events" }

// ConflictPolicy governs how a sync worker (FSync for Local vaults, RSync
// for S3 vaults) resolves conflicting local/remote changes.
type ConflictPolicy string

const (
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictKeepBoth   ConflictPolicy = "keep_both"
	ConflictAsk        ConflictPolicy = "ask"
	ConflictKeepLocal  ConflictPolicy = "keep_local"
	ConflictKeepRemote ConflictPolicy = "keep_remote"
)

// SyncStrategy governs an S3-vault worker's one/two-way sync behavior.
type SyncStrategy string

const (
	StrategyCache  SyncStrategy = "cache"  // pull on access; push local changes only
	StrategySync   SyncStrategy = "sync"   // bidirectional
	StrategyMirror SyncStrategy = "mirror" // one-way push, remote-only entries deleted
)

// FSync holds the Local-vault sync policy for one vault.
type FSync struct {
	VaultID        uuid.UUID      `json:"vaultId"        gorm:"primaryKey;type:uuid"`
	Interval       time.Duration  `json:"interval"       gorm:"not null"`
	ConflictPolicy ConflictPolicy `json:"conflictPolicy" gorm:"not null;default:overwrite"`
}

func (FSync) TableName() string { return "fsync" }

// RSync holds the S3-vault sync policy for one vault.
type RSync struct {
	VaultID        uuid.UUID      `json:"vaultId"        gorm:"primaryKey;type:uuid"`
	Interval       time.Duration  `json:"interval"       gorm:"not null"`
	Strategy       SyncStrategy   `json:"strategy"       gorm:"not null;default:cache"`
	ConflictPolicy ConflictPolicy `json:"conflictPolicy" gorm:"not null;default:keep_remote"`
}

func (RSync) TableName() string { return "rsync" }

// Sync is the common per-vault bookkeeping row the SyncController consults
// to compute scheduling priority, independent of vault type.
type Sync struct {
	VaultID          uuid.UUID  `json:"vaultId"          gorm:"primaryKey;type:uuid"`
	LastSuccessAt    *time.Time `json:"lastSuccessAt,omitempty"`
	ManualTrigger    bool       `json:"manualTrigger"    gorm:"not null;default:false"`
	RotationPending  bool       `json:"rotationPending"  gorm:"not null;default:false"`
}

func (Sync) TableName() string { return "sync" }
