// Package runtime builds the single Runtime value that main.go/cmd/serve
// constructs once and threads through every manager, per the "explicit
// threaded Runtime instead of global registries" design note: unlike the
// package-level plugin registries (which only register implementations
// available at build time), Runtime itself holds no package-level state
// and is rebuilt fresh in every test.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/auth"
	"github.com/chirino/vaulthalla/internal/auth/token"
	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/plugin/storage/local"
	"github.com/chirino/vaulthalla/internal/plugin/storage/s3"
	registrycache "github.com/chirino/vaulthalla/internal/registry/cache"
	registrymigrate "github.com/chirino/vaulthalla/internal/registry/migrate"
	"github.com/chirino/vaulthalla/internal/registry/sealedkey"
	"github.com/chirino/vaulthalla/internal/registry/store"
	"github.com/chirino/vaulthalla/internal/session"
	"github.com/chirino/vaulthalla/internal/storage"
)

// Runtime bundles the daemon's long-lived managers. Nothing here is a
// package-level variable; every field is constructed by New and scoped to
// the Runtime value that owns it.
type Runtime struct {
	Config        *config.Config
	Store         store.Store
	MasterKey     []byte
	sealedKey     sealedkey.Provider
	sealedKeyName string

	Sessions *session.Manager
	Tokens   *token.Manager
	Auth     *auth.Manager

	vaultKeysMu sync.Mutex
	vaultKeys   map[uuid.UUID]*crypto.Manager

	contentCacheOnce sync.Once
	contentCache     registrycache.ContentCache
	contentCacheErr  error
}

// New wires a Runtime from cfg: selects and unseals the configured
// SealedKeyProvider, opens the configured Store (running migrations if
// cfg.DatastoreMigrateAtStart), and constructs SessionManager, the JWT
// token Manager, and AuthManager on top.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	ctx = config.WithContext(ctx, cfg)

	keyPlugin, err := sealedkey.Select(cfg.SealedKeyProviderType)
	if err != nil {
		return nil, fmt.Errorf("runtime: selecting sealed-key provider: %w", err)
	}
	provider, err := keyPlugin.Loader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("runtime: loading sealed-key provider: %w", err)
	}
	if err := provider.Init(ctx, nil); err != nil {
		return nil, fmt.Errorf("runtime: initializing sealed-key provider: %w", err)
	}
	masterKey, err := provider.MasterKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: unsealing master key: %w", err)
	}

	if cfg.DatastoreMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return nil, fmt.Errorf("runtime: running migrations: %w", err)
		}
	}
	storeLoader, err := store.Select(cfg.DatastoreType)
	if err != nil {
		return nil, fmt.Errorf("runtime: selecting store: %w", err)
	}
	st, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: opening store: %w", err)
	}

	if err := seedDefaultRole(ctx, st, cfg.DefaultUserRoleName); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("runtime: seeding default role: %w", err)
	}

	sessions := session.New(st)
	tokens := token.NewManager(st, masterKey, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err := tokens.LoadOrCreateSigningKey(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("runtime: loading signing key: %w", err)
	}
	authMgr := auth.NewManager(st, sessions, tokens, cfg.DefaultUserRoleName, cfg.PasswordMinLength)

	return &Runtime{
		Config:        cfg,
		Store:         st,
		MasterKey:     masterKey,
		sealedKey:     provider,
		sealedKeyName: keyPlugin.Name,
		Sessions:      sessions,
		Tokens:        tokens,
		Auth:          authMgr,
		vaultKeys:     make(map[uuid.UUID]*crypto.Manager),
	}, nil
}

// seedDefaultRole ensures the process-wide role auth.Manager.RegisterUser
// binds every freshly registered User.RoleID to exists before the first
// registration ever runs. It carries no global capability bits: a new
// user can manage nothing daemon-wide until an operator grants a vault
// role via internal/cliserver's vault.grant, matching spec.md §4.5 step 2
// (a global capability is checked against the user's process-wide role
// only, never a vault role).
func seedDefaultRole(ctx context.Context, st store.Store, name string) error {
	if _, err := st.GetRoleByName(ctx, name); err == nil {
		return nil
	} else if _, notFound := err.(*store.NotFoundError); !notFound {
		return fmt.Errorf("looking up default role %q: %w", name, err)
	}
	role := &model.Role{
		ID:   uuid.New(),
		Name: name,
		Type: model.RoleTypeUser,
	}
	if err := st.CreateRole(ctx, role); err != nil {
		return fmt.Errorf("creating default role %q: %w", name, err)
	}
	return nil
}

// EncryptionManager returns the crypto.Manager for vaultID, constructing
// and caching one (loading its active key from the store) on first use.
// Safe for concurrent callers; only one Manager is ever built per vault.
func (r *Runtime) EncryptionManager(ctx context.Context, vaultID uuid.UUID) (*crypto.Manager, error) {
	r.vaultKeysMu.Lock()
	if mgr, ok := r.vaultKeys[vaultID]; ok {
		r.vaultKeysMu.Unlock()
		return mgr, nil
	}
	r.vaultKeysMu.Unlock()

	mgr := crypto.NewManager(r.Store, vaultID, r.MasterKey)
	if err := mgr.LoadKey(ctx); err != nil {
		return nil, err
	}

	r.vaultKeysMu.Lock()
	defer r.vaultKeysMu.Unlock()
	if existing, ok := r.vaultKeys[vaultID]; ok {
		return existing, nil
	}
	r.vaultKeys[vaultID] = mgr
	return mgr, nil
}

// StorageEngine builds the storage.Engine for vaultID, dispatching on the
// vault's VaultType to construct either the Local or the S3 VaultBackend —
// the tagged-union dispatch spec.md calls for in place of Go interface
// embedding of a base Vault type.
func (r *Runtime) StorageEngine(ctx context.Context, vaultID uuid.UUID) (*storage.Engine, error) {
	vault, err := r.Store.GetVault(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	enc, err := r.EncryptionManager(ctx, vaultID)
	if err != nil {
		return nil, err
	}

	var backend storage.VaultBackend
	switch vault.Type {
	case model.VaultTypeLocal:
		backend, err = local.New(vault.MountPoint)
		if err != nil {
			return nil, fmt.Errorf("runtime: building local backend for vault %s: %w", vaultID, err)
		}
	case model.VaultTypeS3:
		backend, err = r.s3Backend(ctx, vault)
		if err != nil {
			return nil, fmt.Errorf("runtime: building s3 backend for vault %s: %w", vaultID, err)
		}
	default:
		return nil, fmt.Errorf("runtime: unknown vault type %q", vault.Type)
	}

	return storage.NewEngine(vault, backend, r.Store, enc), nil
}

func (r *Runtime) s3Backend(ctx context.Context, vault *model.Vault) (storage.VaultBackend, error) {
	if vault.APIKeyID == nil {
		return nil, fmt.Errorf("s3 vault has no associated api key")
	}
	apiKey, err := r.Store.GetAPIKey(ctx, *vault.APIKeyID)
	if err != nil {
		return nil, err
	}
	secret, err := crypto.Open(r.MasterKey, apiKey.IV, apiKey.WrappedSecret)
	if err != nil {
		return nil, fmt.Errorf("unwrapping api key secret: %w", err)
	}

	cache, err := r.loadContentCache(ctx)
	if err != nil {
		return nil, err
	}

	return s3.New(s3.Config{
		AccessKey:     apiKey.AccessKey,
		SecretKey:     string(secret),
		Region:        apiKey.Region,
		Endpoint:      apiKey.Endpoint,
		Bucket:        vault.Bucket,
		VaultID:       vault.ID,
		Store:         r.Store,
		Cache:         cache,
		CacheCapBytes: r.Config.CacheCapBytes,
	})
}

// loadContentCache lazily selects and constructs the daemon-wide S3 content
// cache, shared across every S3 vault's Engine, per cfg.CacheType.
func (r *Runtime) loadContentCache(ctx context.Context) (registrycache.ContentCache, error) {
	r.contentCacheOnce.Do(func() {
		loader, err := registrycache.Select(r.Config.CacheType)
		if err != nil {
			r.contentCacheErr = fmt.Errorf("runtime: selecting content cache: %w", err)
			return
		}
		cache, err := loader(ctx)
		if err != nil {
			r.contentCacheErr = fmt.Errorf("runtime: loading content cache: %w", err)
			return
		}
		r.contentCache = cache
	})
	return r.contentCache, r.contentCacheErr
}

// RotateMasterKey implements SealedKeyProvider's update_master_key
// contract end to end: it reseals the underlying provider under newKey,
// then re-wraps every secret this Runtime knows was wrapped under the old
// master key (the JWT signing key, and every vault's active and trashed
// data-key rows) so the daemon keeps working the moment this returns. A
// vault's data key itself is unchanged — only the bytes wrapping it are —
// so this carries none of crypto.Manager.PrepareKeyRotation's file
// re-encryption cost; it runs synchronously rather than in the background.
func (r *Runtime) RotateMasterKey(ctx context.Context, newKey []byte) error {
	oldKey := r.MasterKey

	secret, err := r.Store.GetInternalSecret(ctx, token.SigningKeySecretName)
	if err != nil {
		return fmt.Errorf("runtime: loading signing key for rewrap: %w", err)
	}
	plain, err := crypto.Open(oldKey, secret.IV, secret.WrappedData)
	if err != nil {
		return fmt.Errorf("runtime: unwrapping signing key: %w", err)
	}
	newIV, newWrapped, err := crypto.Seal(newKey, plain)
	if err != nil {
		return fmt.Errorf("runtime: rewrapping signing key: %w", err)
	}

	vaults, err := r.Store.ListVaults(ctx, nil)
	if err != nil {
		return fmt.Errorf("runtime: listing vaults for rewrap: %w", err)
	}

	type rewrappedVaultKey struct {
		vaultID uuid.UUID
		iv      []byte
		wrapped []byte
	}
	type rewrappedTrashedKey struct {
		id      uuid.UUID
		iv      []byte
		wrapped []byte
	}
	var activeKeys []rewrappedVaultKey
	var trashedKeys []rewrappedTrashedKey

	for _, v := range vaults {
		active, err := r.Store.GetActiveVaultKey(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("runtime: loading active key for vault %s: %w", v.ID, err)
		}
		plainKey, err := crypto.Open(oldKey, active.IV, active.WrappedKey)
		if err != nil {
			return fmt.Errorf("runtime: unwrapping active key for vault %s: %w", v.ID, err)
		}
		iv, wrapped, err := crypto.Seal(newKey, plainKey)
		if err != nil {
			return fmt.Errorf("runtime: rewrapping active key for vault %s: %w", v.ID, err)
		}
		activeKeys = append(activeKeys, rewrappedVaultKey{vaultID: v.ID, iv: iv, wrapped: wrapped})

		trashed, err := r.Store.ListTrashedVaultKeys(ctx, v.ID)
		if err != nil {
			return fmt.Errorf("runtime: listing trashed keys for vault %s: %w", v.ID, err)
		}
		for _, tk := range trashed {
			plainKey, err := crypto.Open(oldKey, tk.IV, tk.WrappedKey)
			if err != nil {
				return fmt.Errorf("runtime: unwrapping trashed key %s: %w", tk.ID, err)
			}
			iv, wrapped, err := crypto.Seal(newKey, plainKey)
			if err != nil {
				return fmt.Errorf("runtime: rewrapping trashed key %s: %w", tk.ID, err)
			}
			trashedKeys = append(trashedKeys, rewrappedTrashedKey{id: tk.ID, iv: iv, wrapped: wrapped})
		}
	}

	// Every dependent secret is unwrapped and rewrapped in memory before
	// any persisted state changes, so a failure above leaves the old
	// master key fully authoritative. Only once every rewrap has
	// succeeded do we reseal the provider and persist the results.
	if err := r.sealedKey.UpdateMasterKey(ctx, newKey); err != nil {
		return fmt.Errorf("runtime: resealing master key under provider %q: %w", r.sealedKeyName, err)
	}

	if err := r.Store.PutInternalSecret(ctx, &model.InternalSecret{
		Key:         token.SigningKeySecretName,
		WrappedData: newWrapped,
		IV:          newIV,
	}); err != nil {
		return fmt.Errorf("runtime: persisting rewrapped signing key: %w", err)
	}
	for _, k := range activeKeys {
		if err := r.Store.UpdateVaultKeyWrapping(ctx, k.vaultID, k.iv, k.wrapped); err != nil {
			return fmt.Errorf("runtime: persisting rewrapped active key for vault %s: %w", k.vaultID, err)
		}
	}
	for _, k := range trashedKeys {
		if err := r.Store.UpdateTrashedVaultKeyWrapping(ctx, k.id, k.iv, k.wrapped); err != nil {
			return fmt.Errorf("runtime: persisting rewrapped trashed key %s: %w", k.id, err)
		}
	}

	r.MasterKey = newKey
	r.vaultKeysMu.Lock()
	r.vaultKeys = make(map[uuid.UUID]*crypto.Manager)
	r.vaultKeysMu.Unlock()
	return nil
}

// Close releases the Runtime's Store connection.
func (r *Runtime) Close() error {
	return r.Store.Close()
}
