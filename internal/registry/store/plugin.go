// Package store is the SPI for the daemon's persistence backend. A Store
// implementation owns the database connection and performs CRUD and the
// transactional operations (key rotation, refresh-token rotation) the
// higher-level managers build on.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/model"
)

// Store is the primary data-access interface for the daemon.
type Store interface {
	// Vaults
	CreateVault(ctx context.Context, v *model.Vault) error
	GetVault(ctx context.Context, id uuid.UUID) (*model.Vault, error)
	GetVaultByName(ctx context.Context, ownerID uuid.UUID, name string) (*model.Vault, error)
	ListVaults(ctx context.Context, ownerID *uuid.UUID) ([]model.Vault, error)
	UpdateVault(ctx context.Context, v *model.Vault) error
	DeleteVault(ctx context.Context, id uuid.UUID) error

	// API keys
	CreateAPIKey(ctx context.Context, k *model.APIKey) error
	GetAPIKey(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error

	// Vault keys / rotation
	GetActiveVaultKey(ctx context.Context, vaultID uuid.UUID) (*model.VaultKey, error)
	GetTrashedVaultKey(ctx context.Context, vaultID uuid.UUID, version uint32) (*model.VaultKeyTrashed, error)
	// ListTrashedVaultKeys returns every trashed key row for vaultID,
	// regardless of whether its online re-encryption pass has completed.
	ListTrashedVaultKeys(ctx context.Context, vaultID uuid.UUID) ([]model.VaultKeyTrashed, error)
	CreateInitialVaultKey(ctx context.Context, key *model.VaultKey) error
	// PrepareKeyRotation atomically moves the current active key row to the
	// trashed table and installs newKey as the new active row, within a
	// single transaction.
	PrepareKeyRotation(ctx context.Context, vaultID uuid.UUID, newKey *model.VaultKey) error
	// FinishKeyRotation stamps the trashed row's rotation_completed_at and
	// clears Sync.RotationPending for the vault.
	FinishKeyRotation(ctx context.Context, vaultID uuid.UUID, version uint32) error
	// UpdateVaultKeyWrapping overwrites the active key row's wrapped bytes
	// in place, without touching its version — used to re-wrap a vault's
	// data key under a new master key, as opposed to PrepareKeyRotation's
	// rotation of the data key itself.
	UpdateVaultKeyWrapping(ctx context.Context, vaultID uuid.UUID, iv, wrappedKey []byte) error
	// UpdateTrashedVaultKeyWrapping overwrites a trashed key row's wrapped
	// bytes in place, for the same master-key-rewrap purpose.
	UpdateTrashedVaultKeyWrapping(ctx context.Context, id uuid.UUID, iv, wrappedKey []byte) error

	// Internal secrets (JWT signing key, etc.) wrapped under the master key.
	GetInternalSecret(ctx context.Context, key string) (*model.InternalSecret, error)
	PutInternalSecret(ctx context.Context, s *model.InternalSecret) error

	// Filesystem entries
	CreateFSEntry(ctx context.Context, e *model.FSEntry) error
	GetFSEntry(ctx context.Context, vaultID uuid.UUID, id uuid.UUID) (*model.FSEntry, error)
	GetFSEntryByPath(ctx context.Context, vaultID uuid.UUID, path string) (*model.FSEntry, error)
	ListChildren(ctx context.Context, vaultID uuid.UUID, parentID uuid.UUID) ([]model.FSEntry, error)
	// ListAllFSEntries returns every live entry in the vault, flat, for the
	// sync controller's backend-vs-metadata diff.
	ListAllFSEntries(ctx context.Context, vaultID uuid.UUID) ([]model.FSEntry, error)
	UpdateFSEntry(ctx context.Context, e *model.FSEntry) error
	DeleteFSEntry(ctx context.Context, vaultID uuid.UUID, id uuid.UUID) error
	MoveToTrash(ctx context.Context, entry *model.FSEntry, trashed *model.TrashedFile) error

	// Trash janitor
	ListTrashOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.TrashedFile, error)
	PurgeTrash(ctx context.Context, id uuid.UUID) error

	// Users, roles, groups
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetUserByName(ctx context.Context, name string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	CreateRole(ctx context.Context, r *model.Role) error
	GetRole(ctx context.Context, id uuid.UUID) (*model.Role, error)
	GetRoleByName(ctx context.Context, name string) (*model.Role, error)
	CreateRoleAssignment(ctx context.Context, ra *model.RoleAssignment) error
	DeleteRoleAssignment(ctx context.Context, id uuid.UUID) error
	ListRoleAssignments(ctx context.Context, subjectType model.SubjectType, subjectID uuid.UUID) ([]model.RoleAssignment, error)
	CreateGroup(ctx context.Context, g *model.Group) error
	GetGroupByName(ctx context.Context, name string) (*model.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error
	RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error
	ListGroupMemberships(ctx context.Context, userID uuid.UUID) ([]model.GroupMembership, error)
	// CreateOverride persists a PermissionOverride. Callers compile its
	// Pattern with permission.CompileOverride first and reject the request
	// on a bad pattern, so a row is never inserted that Evaluate couldn't run.
	CreateOverride(ctx context.Context, o *model.PermissionOverride) error
	DeleteOverride(ctx context.Context, id uuid.UUID) error
	ListOverrides(ctx context.Context, assignmentID uuid.UUID) ([]model.PermissionOverride, error)

	// Sessions / refresh tokens
	CreateRefreshToken(ctx context.Context, r *model.RefreshTokenRecord) error
	GetRefreshToken(ctx context.Context, jti uuid.UUID) (*model.RefreshTokenRecord, error)
	// RotateRefreshToken atomically revokes old and inserts next within one
	// transaction, so a retried refresh request cannot resurrect a revoked token.
	RotateRefreshToken(ctx context.Context, oldJTI uuid.UUID, next *model.RefreshTokenRecord) error
	RevokeRefreshToken(ctx context.Context, jti uuid.UUID) error
	RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)

	// Sync
	GetSync(ctx context.Context, vaultID uuid.UUID) (*model.Sync, error)
	UpsertSync(ctx context.Context, s *model.Sync) error
	GetFSync(ctx context.Context, vaultID uuid.UUID) (*model.FSync, error)
	GetRSync(ctx context.Context, vaultID uuid.UUID) (*model.RSync, error)
	CreateSyncEvent(ctx context.Context, e *model.SyncEvent) error
	FinishSyncEvent(ctx context.Context, id uuid.UUID, outcome model.SyncOutcome, errMsg string) error
	DeleteSyncEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Waivers
	CreateWaiver(ctx context.Context, w *model.Waiver) error

	// Tasks
	CreateTask(ctx context.Context, t *model.Task) error
	ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	FailTask(ctx context.Context, id uuid.UUID, errMsg string, retryDelay time.Duration) error

	// Cache index (S3-vault content cache bookkeeping)
	GetCacheIndexEntry(ctx context.Context, vaultID uuid.UUID, path string) (*model.CacheIndexEntry, error)
	UpsertCacheIndexEntry(ctx context.Context, e *model.CacheIndexEntry) error
	DeleteCacheIndexEntry(ctx context.Context, vaultID uuid.UUID, path string) error
	// ListCacheIndexEntries returns every cache entry for vaultID ordered
	// oldest-accessed first, for LRU eviction and total-size accounting.
	ListCacheIndexEntries(ctx context.Context, vaultID uuid.UUID) ([]model.CacheIndexEntry, error)

	Close() error
}

// Loader creates a Store from the context's Config.
type Loader func(ctx context.Context) (Store, error)

// Plugin bundles a store backend name with its loader function.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from plugin package init().
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
