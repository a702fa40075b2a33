// Package gormstore implements the store.Store contract on top of GORM,
// supporting both PostgreSQL and SQLite (the latter primarily for the
// testing Mode and single-binary deployments). Dialect is chosen at load
// time from Config.DatastoreType.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/model"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	registrystore "github.com/chirino/vaulthalla/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{Name: "postgres", Loader: load})
	registrystore.Register(registrystore.Plugin{Name: "sqlite", Loader: load})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &migrator{}})
}

func load(ctx context.Context) (registrystore.Store, error) {
	cfg := config.FromContext(ctx)
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gormstore: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	return &Store{db: db}, nil
}

func open(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatastoreType {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.DBURL), &gorm.Config{})
	default:
		return gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	}
}

type migrator struct{}

func (m *migrator) Name() string { return "gormstore-schema" }

func (m *migrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg != nil && !cfg.DatastoreMigrateAtStart {
		return nil
	}
	db, err := open(cfg)
	if err != nil {
		return fmt.Errorf("migration: connecting: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	log.Info("running migration", "name", m.Name())
	return db.AutoMigrate(
		&model.Vault{}, &model.APIKey{},
		&model.VaultKey{}, &model.VaultKeyTrashed{}, &model.InternalSecret{},
		&model.FSEntry{}, &model.TrashedFile{}, &model.CacheIndexEntry{},
		&model.Role{}, &model.RoleAssignment{}, &model.PermissionOverride{},
		&model.Group{}, &model.GroupMembership{}, &model.User{},
		&model.RefreshTokenRecord{},
		&model.SyncEvent{}, &model.FSync{}, &model.RSync{}, &model.Sync{},
		&model.Waiver{}, &model.Task{},
	)
}

// Store implements registrystore.Store on top of a *gorm.DB.
type Store struct {
	db *gorm.DB
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ── Vaults ──────────────────────────────────────────────────────────────────

func (s *Store) CreateVault(ctx context.Context, v *model.Vault) error {
	return wrap(s.db.WithContext(ctx).Create(v).Error)
}

func (s *Store) GetVault(ctx context.Context, id uuid.UUID) (*model.Vault, error) {
	var v model.Vault
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("vault", id.String(), err)
	}
	return &v, nil
}

func (s *Store) GetVaultByName(ctx context.Context, ownerID uuid.UUID, name string) (*model.Vault, error) {
	var v model.Vault
	err := s.db.WithContext(ctx).First(&v, "owner_id = ? AND name = ?", ownerID, name).Error
	if err != nil {
		return nil, notFoundOr("vault", name, err)
	}
	return &v, nil
}

func (s *Store) ListVaults(ctx context.Context, ownerID *uuid.UUID) ([]model.Vault, error) {
	q := s.db.WithContext(ctx)
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}
	var vaults []model.Vault
	if err := q.Find(&vaults).Error; err != nil {
		return nil, wrap(err)
	}
	return vaults, nil
}

func (s *Store) UpdateVault(ctx context.Context, v *model.Vault) error {
	return wrap(s.db.WithContext(ctx).Save(v).Error)
}

func (s *Store) DeleteVault(ctx context.Context, id uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.Vault{}, "id = ?", id).Error)
}

// ── API keys ──────────────────────────────────────────────────────────────

func (s *Store) CreateAPIKey(ctx context.Context, k *model.APIKey) error {
	return wrap(s.db.WithContext(ctx).Create(k).Error)
}

func (s *Store) GetAPIKey(ctx context.Context, id uuid.UUID) (*model.APIKey, error) {
	var k model.APIKey
	if err := s.db.WithContext(ctx).First(&k, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("apikey", id.String(), err)
	}
	return &k, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.APIKey{}, "id = ?", id).Error)
}

// ── Vault keys / rotation ───────────────────────────────────────────────────

func (s *Store) GetActiveVaultKey(ctx context.Context, vaultID uuid.UUID) (*model.VaultKey, error) {
	var k model.VaultKey
	err := s.db.WithContext(ctx).First(&k, "vault_id = ?", vaultID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.KeyMissingError{VaultID: vaultID.String()}
		}
		return nil, wrap(err)
	}
	return &k, nil
}

func (s *Store) GetTrashedVaultKey(ctx context.Context, vaultID uuid.UUID, version uint32) (*model.VaultKeyTrashed, error) {
	var k model.VaultKeyTrashed
	err := s.db.WithContext(ctx).First(&k, "vault_id = ? AND version = ?", vaultID, version).Error
	if err != nil {
		return nil, notFoundOr("vault_key_trashed", vaultID.String(), err)
	}
	return &k, nil
}

func (s *Store) CreateInitialVaultKey(ctx context.Context, key *model.VaultKey) error {
	return wrap(s.db.WithContext(ctx).Create(key).Error)
}

func (s *Store) ListTrashedVaultKeys(ctx context.Context, vaultID uuid.UUID) ([]model.VaultKeyTrashed, error) {
	var rows []model.VaultKeyTrashed
	if err := s.db.WithContext(ctx).Find(&rows, "vault_id = ?", vaultID).Error; err != nil {
		return nil, wrap(err)
	}
	return rows, nil
}

func (s *Store) UpdateVaultKeyWrapping(ctx context.Context, vaultID uuid.UUID, iv, wrappedKey []byte) error {
	return wrap(s.db.WithContext(ctx).Model(&model.VaultKey{}).Where("vault_id = ?", vaultID).Updates(map[string]any{
		"iv":          iv,
		"wrapped_key": wrappedKey,
	}).Error)
}

func (s *Store) UpdateTrashedVaultKeyWrapping(ctx context.Context, id uuid.UUID, iv, wrappedKey []byte) error {
	return wrap(s.db.WithContext(ctx).Model(&model.VaultKeyTrashed{}).Where("id = ?", id).Updates(map[string]any{
		"iv":          iv,
		"wrapped_key": wrappedKey,
	}).Error)
}

// PrepareKeyRotation moves the current active key to the trashed table and
// installs newKey as active, in a single transaction — see EncryptionManager.
func (s *Store) PrepareKeyRotation(ctx context.Context, vaultID uuid.UUID, newKey *model.VaultKey) error {
	return wrap(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.VaultKey
		if err := tx.First(&current, "vault_id = ?", vaultID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &registrystore.KeyMissingError{VaultID: vaultID.String()}
			}
			return err
		}
		trashed := model.VaultKeyTrashed{
			ID:         uuid.New(),
			VaultID:    current.VaultID,
			Version:    current.Version,
			WrappedKey: current.WrappedKey,
			IV:         current.IV,
			CreatedAt:  current.CreatedAt,
		}
		if err := tx.Create(&trashed).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.VaultKey{}, "vault_id = ?", vaultID).Error; err != nil {
			return err
		}
		return tx.Create(newKey).Error
	}))
}

func (s *Store) FinishKeyRotation(ctx context.Context, vaultID uuid.UUID, version uint32) error {
	return wrap(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&model.VaultKeyTrashed{}).
			Where("vault_id = ? AND version = ?", vaultID, version).
			Update("rotation_completed_at", now).Error; err != nil {
			return err
		}
		return tx.Model(&model.Sync{}).
			Where("vault_id = ?", vaultID).
			Update("rotation_pending", false).Error
	}))
}

// ── Internal secrets ────────────────────────────────────────────────────────

func (s *Store) GetInternalSecret(ctx context.Context, key string) (*model.InternalSecret, error) {
	var rec model.InternalSecret
	if err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error; err != nil {
		return nil, notFoundOr("internal_secret", key, err)
	}
	return &rec, nil
}

func (s *Store) PutInternalSecret(ctx context.Context, rec *model.InternalSecret) error {
	return wrap(s.db.WithContext(ctx).Save(rec).Error)
}

// ── FS entries ──────────────────────────────────────────────────────────────

func (s *Store) CreateFSEntry(ctx context.Context, e *model.FSEntry) error {
	return wrap(s.db.WithContext(ctx).Create(e).Error)
}

func (s *Store) GetFSEntry(ctx context.Context, vaultID, id uuid.UUID) (*model.FSEntry, error) {
	var e model.FSEntry
	err := s.db.WithContext(ctx).First(&e, "vault_id = ? AND id = ?", vaultID, id).Error
	if err != nil {
		return nil, notFoundOr("fsentry", id.String(), err)
	}
	return &e, nil
}

func (s *Store) GetFSEntryByPath(ctx context.Context, vaultID uuid.UUID, path string) (*model.FSEntry, error) {
	var e model.FSEntry
	err := s.db.WithContext(ctx).First(&e, "vault_id = ? AND path = ?", vaultID, path).Error
	if err != nil {
		return nil, notFoundOr("fsentry", path, err)
	}
	return &e, nil
}

func (s *Store) ListChildren(ctx context.Context, vaultID, parentID uuid.UUID) ([]model.FSEntry, error) {
	var entries []model.FSEntry
	if err := s.db.WithContext(ctx).Find(&entries, "vault_id = ? AND parent_id = ?", vaultID, parentID).Error; err != nil {
		return nil, wrap(err)
	}
	return entries, nil
}

func (s *Store) ListAllFSEntries(ctx context.Context, vaultID uuid.UUID) ([]model.FSEntry, error) {
	var entries []model.FSEntry
	if err := s.db.WithContext(ctx).Find(&entries, "vault_id = ?", vaultID).Error; err != nil {
		return nil, wrap(err)
	}
	return entries, nil
}

func (s *Store) UpdateFSEntry(ctx context.Context, e *model.FSEntry) error {
	return wrap(s.db.WithContext(ctx).Save(e).Error)
}

func (s *Store) DeleteFSEntry(ctx context.Context, vaultID, id uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.FSEntry{}, "vault_id = ? AND id = ?", vaultID, id).Error)
}

// MoveToTrash deletes the live FSEntry row and inserts its TrashedFile shadow
// atomically, so a crash between the two never leaves an orphaned backing file.
func (s *Store) MoveToTrash(ctx context.Context, entry *model.FSEntry, trashed *model.TrashedFile) error {
	return wrap(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.FSEntry{}, "vault_id = ? AND id = ?", entry.VaultID, entry.ID).Error; err != nil {
			return err
		}
		return tx.Create(trashed).Error
	}))
}

func (s *Store) ListTrashOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]model.TrashedFile, error) {
	var rows []model.TrashedFile
	err := s.db.WithContext(ctx).Where("trashed_at < ?", cutoff).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrap(err)
	}
	return rows, nil
}

func (s *Store) PurgeTrash(ctx context.Context, id uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.TrashedFile{}, "id = ?", id).Error)
}

// ── Users, roles, groups ─────────────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	return wrap(s.db.WithContext(ctx).Create(u).Error)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("user", id.String(), err)
	}
	return &u, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "name = ?", name).Error; err != nil {
		return nil, notFoundOr("user", name, err)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error; err != nil {
		return nil, notFoundOr("user", email, err)
	}
	return &u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	return wrap(s.db.WithContext(ctx).Save(u).Error)
}

func (s *Store) CreateRole(ctx context.Context, r *model.Role) error {
	return wrap(s.db.WithContext(ctx).Create(r).Error)
}

func (s *Store) GetRole(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var r model.Role
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFoundOr("role", id.String(), err)
	}
	return &r, nil
}

func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var r model.Role
	if err := s.db.WithContext(ctx).First(&r, "name = ?", name).Error; err != nil {
		return nil, notFoundOr("role", name, err)
	}
	return &r, nil
}

func (s *Store) CreateRoleAssignment(ctx context.Context, ra *model.RoleAssignment) error {
	return wrap(s.db.WithContext(ctx).Create(ra).Error)
}

func (s *Store) DeleteRoleAssignment(ctx context.Context, id uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.RoleAssignment{}, "id = ?", id).Error)
}

func (s *Store) ListRoleAssignments(ctx context.Context, subjectType model.SubjectType, subjectID uuid.UUID) ([]model.RoleAssignment, error) {
	var rows []model.RoleAssignment
	err := s.db.WithContext(ctx).Find(&rows, "subject_type = ? AND subject_id = ?", subjectType, subjectID).Error
	if err != nil {
		return nil, wrap(err)
	}
	return rows, nil
}

func (s *Store) CreateGroup(ctx context.Context, g *model.Group) error {
	return wrap(s.db.WithContext(ctx).Create(g).Error)
}

func (s *Store) GetGroupByName(ctx context.Context, name string) (*model.Group, error) {
	var g model.Group
	if err := s.db.WithContext(ctx).First(&g, "name = ?", name).Error; err != nil {
		return nil, notFoundOr("group", name, err)
	}
	return &g, nil
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Create(&model.GroupMembership{GroupID: groupID, UserID: userID}).Error)
}

func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.GroupMembership{}, "group_id = ? AND user_id = ?", groupID, userID).Error)
}

func (s *Store) ListGroupMemberships(ctx context.Context, userID uuid.UUID) ([]model.GroupMembership, error) {
	var rows []model.GroupMembership
	if err := s.db.WithContext(ctx).Find(&rows, "user_id = ?", userID).Error; err != nil {
		return nil, wrap(err)
	}
	return rows, nil
}

func (s *Store) CreateOverride(ctx context.Context, o *model.PermissionOverride) error {
	return wrap(s.db.WithContext(ctx).Create(o).Error)
}

func (s *Store) DeleteOverride(ctx context.Context, id uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.PermissionOverride{}, "id = ?", id).Error)
}

func (s *Store) ListOverrides(ctx context.Context, assignmentID uuid.UUID) ([]model.PermissionOverride, error) {
	var rows []model.PermissionOverride
	err := s.db.WithContext(ctx).Find(&rows, "assignment_id = ? AND enabled = ?", assignmentID, true).Error
	if err != nil {
		return nil, wrap(err)
	}
	return rows, nil
}

// ── Refresh tokens ──────────────────────────────────────────────────────────

func (s *Store) CreateRefreshToken(ctx context.Context, r *model.RefreshTokenRecord) error {
	return wrap(s.db.WithContext(ctx).Create(r).Error)
}

func (s *Store) GetRefreshToken(ctx context.Context, jti uuid.UUID) (*model.RefreshTokenRecord, error) {
	var r model.RefreshTokenRecord
	if err := s.db.WithContext(ctx).First(&r, "jti = ?", jti).Error; err != nil {
		return nil, notFoundOr("refresh_token", jti.String(), err)
	}
	return &r, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldJTI uuid.UUID, next *model.RefreshTokenRecord) error {
	return wrap(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.RefreshTokenRecord{}).
			Where("jti = ? AND revoked = ?", oldJTI, false).
			Update("revoked", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &registrystore.ConflictError{Message: "refresh token already revoked", Code: "token_reused"}
		}
		return tx.Create(next).Error
	}))
}

func (s *Store) RevokeRefreshToken(ctx context.Context, jti uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Model(&model.RefreshTokenRecord{}).
		Where("jti = ?", jti).Update("revoked", true).Error)
}

func (s *Store) RevokeAllRefreshTokensForUser(ctx context.Context, userID uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Model(&model.RefreshTokenRecord{}).
		Where("user_id = ? AND revoked = ?", userID, false).Update("revoked", true).Error)
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&model.RefreshTokenRecord{}, "expires_at < ?", cutoff)
	return res.RowsAffected, wrap(res.Error)
}

// ── Sync ────────────────────────────────────────────────────────────────────

func (s *Store) GetSync(ctx context.Context, vaultID uuid.UUID) (*model.Sync, error) {
	var rec model.Sync
	if err := s.db.WithContext(ctx).First(&rec, "vault_id = ?", vaultID).Error; err != nil {
		return nil, notFoundOr("sync", vaultID.String(), err)
	}
	return &rec, nil
}

func (s *Store) UpsertSync(ctx context.Context, rec *model.Sync) error {
	return wrap(s.db.WithContext(ctx).Save(rec).Error)
}

func (s *Store) GetFSync(ctx context.Context, vaultID uuid.UUID) (*model.FSync, error) {
	var rec model.FSync
	if err := s.db.WithContext(ctx).First(&rec, "vault_id = ?", vaultID).Error; err != nil {
		return nil, notFoundOr("fsync", vaultID.String(), err)
	}
	return &rec, nil
}

func (s *Store) GetRSync(ctx context.Context, vaultID uuid.UUID) (*model.RSync, error) {
	var rec model.RSync
	if err := s.db.WithContext(ctx).First(&rec, "vault_id = ?", vaultID).Error; err != nil {
		return nil, notFoundOr("rsync", vaultID.String(), err)
	}
	return &rec, nil
}

func (s *Store) CreateSyncEvent(ctx context.Context, e *model.SyncEvent) error {
	return wrap(s.db.WithContext(ctx).Create(e).Error)
}

func (s *Store) FinishSyncEvent(ctx context.Context, id uuid.UUID, outcome model.SyncOutcome, errMsg string) error {
	now := time.Now()
	return wrap(s.db.WithContext(ctx).Model(&model.SyncEvent{}).Where("id = ?", id).Updates(map[string]any{
		"finished_at": now,
		"outcome":     outcome,
		"error":       errMsg,
	}).Error)
}

func (s *Store) DeleteSyncEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&model.SyncEvent{}, "started_at < ?", cutoff)
	return res.RowsAffected, wrap(res.Error)
}

// ── Waivers ─────────────────────────────────────────────────────────────────

func (s *Store) CreateWaiver(ctx context.Context, w *model.Waiver) error {
	return wrap(s.db.WithContext(ctx).Create(w).Error)
}

// ── Tasks ───────────────────────────────────────────────────────────────────

func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	return wrap(s.db.WithContext(ctx).Create(t).Error)
}

func (s *Store) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.WithContext(ctx).
		Where("not_before <= ?", time.Now()).
		Order("not_before asc").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, wrap(err)
	}
	return tasks, nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.Task{}, "id = ?", id).Error)
}

func (s *Store) FailTask(ctx context.Context, id uuid.UUID, errMsg string, retryDelay time.Duration) error {
	return wrap(s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": errMsg,
		"not_before": time.Now().Add(retryDelay),
	}).Error)
}

// ── Cache index ─────────────────────────────────────────────────────────────

func (s *Store) GetCacheIndexEntry(ctx context.Context, vaultID uuid.UUID, path string) (*model.CacheIndexEntry, error) {
	var e model.CacheIndexEntry
	err := s.db.WithContext(ctx).First(&e, "vault_id = ? AND path = ?", vaultID, path).Error
	if err != nil {
		return nil, notFoundOr("cache_index", path, err)
	}
	return &e, nil
}

func (s *Store) UpsertCacheIndexEntry(ctx context.Context, e *model.CacheIndexEntry) error {
	return wrap(s.db.WithContext(ctx).Save(e).Error)
}

func (s *Store) DeleteCacheIndexEntry(ctx context.Context, vaultID uuid.UUID, path string) error {
	return wrap(s.db.WithContext(ctx).Delete(&model.CacheIndexEntry{}, "vault_id = ? AND path = ?", vaultID, path).Error)
}

func (s *Store) ListCacheIndexEntries(ctx context.Context, vaultID uuid.UUID) ([]model.CacheIndexEntry, error) {
	var rows []model.CacheIndexEntry
	err := s.db.WithContext(ctx).Order("last_accessed ASC").Find(&rows, "vault_id = ?", vaultID).Error
	if err != nil {
		return nil, wrap(err)
	}
	return rows, nil
}

// ── helpers ─────────────────────────────────────────────────────────────────

func notFoundOr(resource, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &registrystore.NotFoundError{Resource: resource, ID: id}
	}
	return wrap(err)
}

// wrap leaves already-typed store errors untouched and folds any other
// driver/GORM error into InternalError so callers never see raw pgx/sqlite errors.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *registrystore.NotFoundError, *registrystore.ConflictError,
		*registrystore.ValidationError, *registrystore.KeyMissingError:
		return err
	}
	return &registrystore.InternalError{Err: err}
}
