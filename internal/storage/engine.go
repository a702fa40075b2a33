package storage

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/crypto"
	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/permission"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

// Engine is the per-vault handle higher layers operate through: it
// authorises every operation against a permission.Snapshot, drives the
// backend with a retry/backoff policy, and keeps FSEntry metadata in the
// Store in sync with backend bytes.
type Engine struct {
	Vault   *model.Vault
	backend VaultBackend
	store   store.Store
	enc     *crypto.Manager
}

// NewEngine builds an Engine for vault, backed by backend and enc (the
// vault's already-loaded crypto.Manager).
func NewEngine(vault *model.Vault, backend VaultBackend, st store.Store, enc *crypto.Manager) *Engine {
	return &Engine{Vault: vault, backend: backend, store: st, enc: enc}
}

// Backend exposes the underlying VaultBackend for the sync controller's
// drift detection, which diffs raw backend keys against the FSEntry
// tree — keys with no referencing entry have no path to authorize or
// trash through the normal Engine API.
func (e *Engine) Backend() VaultBackend { return e.backend }

func forbidden(op model.Capability, path string) error {
	return &store.ForbiddenError{Reason: fmt.Sprintf("capability %d denied for %q", op, path)}
}

func (e *Engine) authorize(snap permission.Snapshot, op model.Capability, path string) error {
	if !permission.Evaluate(snap, op, path) {
		metrics.RecordPermissionDenial(op.String())
		return forbidden(op, path)
	}
	return nil
}

// uidFromUUID derives a stable POSIX-style numeric id from the high bytes
// of a UUID, for FSEntry.OwnerUID/GroupGID — those fields exist for
// clients that mount a vault over a POSIX-shaped protocol and expect
// numeric owners, not UUIDs.
func uidFromUUID(id uuid.UUID) uint32 {
	return binary.BigEndian.Uint32(id[:4])
}

// Put encrypts plaintext and writes it under path, creating a new FSEntry
// if none exists there yet or overwriting an existing file's content (the
// Base32Alias, and therefore the backend key, is reused on overwrite).
func (e *Engine) Put(ctx context.Context, snap permission.Snapshot, actor uuid.UUID, path string, plaintext []byte) (*model.FSEntry, error) {
	if err := e.authorize(snap, model.CapUpload, path); err != nil {
		return nil, err
	}
	if isRootPath(path) {
		return nil, &store.ValidationError{Message: "cannot put to the vault root"}
	}

	parent, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, parentPath(path))
	if err != nil {
		return nil, err
	}
	if !parent.IsDir {
		return nil, &store.ValidationError{Message: "parent is not a directory"}
	}

	ciphertext, ivB64, version, err := e.enc.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypting %q: %w", path, err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("decoding iv for %q: %w", path, err)
	}
	hash := sha256.Sum256(plaintext)

	existing, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, path)
	if err != nil {
		if _, ok := err.(*store.NotFoundError); !ok {
			return nil, err
		}
		existing = nil
	}

	now := time.Now()
	entry := existing
	if entry == nil {
		entry = &model.FSEntry{
			ID:          uuid.New(),
			VaultID:     e.Vault.ID,
			ParentID:    &parent.ID,
			Name:        baseName(path),
			Path:        path,
			IsDir:       false,
			Base32Alias: newAlias(),
			Mode:        0o644,
			OwnerUID:    uidFromUUID(actor),
			GroupGID:    uidFromUUID(actor),
			Inode:       binary.BigEndian.Uint64(sha256.Sum256([]byte(path))[:8]),
			CreatedBy:   actor,
			CreatedAt:   now,
		}
	} else if entry.IsDir {
		return nil, &store.ConflictError{Message: "path is a directory", Code: "is_directory"}
	}

	entry.LastModifiedBy = actor
	entry.UpdatedAt = now
	entry.SizeBytes = int64(len(plaintext))
	entry.ContentHash = hex.EncodeToString(hash[:])
	entry.EncryptionIV = iv
	entry.EncryptedWithKeyVersion = version

	if err := withRetry(ctx, func() error { return e.backend.Put(ctx, entry.Base32Alias, ciphertext) }); err != nil {
		return nil, fmt.Errorf("writing %q: %w", path, err)
	}

	if existing == nil {
		if err := e.store.CreateFSEntry(ctx, entry); err != nil {
			return nil, err
		}
	} else {
		if err := e.store.UpdateFSEntry(ctx, entry); err != nil {
			return nil, err
		}
	}

	log.Info("storage put", "vault", e.Vault.ID, "path", path, "bytes", len(plaintext), "actor", actor)
	return entry, nil
}

// Get decrypts and returns the content at path.
func (e *Engine) Get(ctx context.Context, snap permission.Snapshot, path string) ([]byte, error) {
	if err := e.authorize(snap, model.CapDownload, path); err != nil {
		return nil, err
	}
	entry, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, path)
	if err != nil {
		return nil, err
	}
	if entry.IsDir {
		return nil, &store.ValidationError{Message: "path is a directory"}
	}

	var ciphertext []byte
	err = withRetry(ctx, func() error {
		var getErr error
		ciphertext, getErr = e.backend.Get(ctx, entry.Base32Alias)
		return getErr
	})
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}

	ivB64 := base64.StdEncoding.EncodeToString(entry.EncryptionIV)
	return e.enc.Decrypt(ciphertext, ivB64, entry.EncryptedWithKeyVersion)
}

// List returns path's children, or the whole subtree when recursive is set.
func (e *Engine) List(ctx context.Context, snap permission.Snapshot, path string, recursive bool) ([]model.FSEntry, error) {
	if err := e.authorize(snap, model.CapList, path); err != nil {
		return nil, err
	}
	dir, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, path)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir {
		return nil, &store.ValidationError{Message: "path is not a directory"}
	}
	return e.listChildren(ctx, dir.ID, recursive)
}

func (e *Engine) listChildren(ctx context.Context, parentID uuid.UUID, recursive bool) ([]model.FSEntry, error) {
	children, err := e.store.ListChildren(ctx, e.Vault.ID, parentID)
	if err != nil {
		return nil, err
	}
	if !recursive {
		return children, nil
	}
	out := make([]model.FSEntry, 0, len(children))
	for _, c := range children {
		out = append(out, c)
		if c.IsDir {
			sub, err := e.listChildren(ctx, c.ID, true)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
	}
	return out, nil
}

// Remove moves the entry at path to trash. The backend object is left in
// place; the janitor purges it once the trash retention window elapses.
// Non-empty directories cannot be removed.
func (e *Engine) Remove(ctx context.Context, snap permission.Snapshot, actor uuid.UUID, path string) error {
	if err := e.authorize(snap, model.CapDelete, path); err != nil {
		return err
	}
	if isRootPath(path) {
		return &store.ValidationError{Message: "cannot remove the vault root"}
	}
	entry, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, path)
	if err != nil {
		return err
	}
	if entry.IsDir {
		children, err := e.store.ListChildren(ctx, e.Vault.ID, entry.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return &store.ConflictError{Message: "directory is not empty", Code: "not_empty"}
		}
	}

	trashed := &model.TrashedFile{
		ID:          uuid.New(),
		VaultID:     e.Vault.ID,
		Base32Alias: entry.Base32Alias,
		TrashedAt:   time.Now(),
		TrashedBy:   actor,
		BackingPath: entry.Base32Alias,
	}
	if err := e.store.MoveToTrash(ctx, entry, trashed); err != nil {
		return err
	}
	log.Info("storage remove", "vault", e.Vault.ID, "path", path, "actor", actor)
	return nil
}

// Mkdir creates an empty directory at path.
func (e *Engine) Mkdir(ctx context.Context, snap permission.Snapshot, actor uuid.UUID, path string) (*model.FSEntry, error) {
	if err := e.authorize(snap, model.CapMkdir, path); err != nil {
		return nil, err
	}
	if isRootPath(path) {
		return nil, &store.ConflictError{Message: "root already exists", Code: "is_directory"}
	}
	if _, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, path); err == nil {
		return nil, &store.ConflictError{Message: "path already exists", Code: "already_exists"}
	} else if _, ok := err.(*store.NotFoundError); !ok {
		return nil, err
	}

	parent, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, parentPath(path))
	if err != nil {
		return nil, err
	}
	if !parent.IsDir {
		return nil, &store.ValidationError{Message: "parent is not a directory"}
	}

	now := time.Now()
	entry := &model.FSEntry{
		ID:             uuid.New(),
		VaultID:        e.Vault.ID,
		ParentID:       &parent.ID,
		Name:           baseName(path),
		Path:           path,
		IsDir:          true,
		Base32Alias:    newAlias(),
		Mode:           0o755,
		OwnerUID:       uidFromUUID(actor),
		GroupGID:       uidFromUUID(actor),
		Inode:          binary.BigEndian.Uint64(sha256.Sum256([]byte(path))[:8]),
		CreatedBy:      actor,
		LastModifiedBy: actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := withRetry(ctx, func() error { return e.backend.Mkdir(ctx, entry.Base32Alias) }); err != nil {
		return nil, fmt.Errorf("creating directory %q: %w", path, err)
	}
	if err := e.store.CreateFSEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Move relocates the entry at src to dst (possibly under a different
// parent). Directory moves rewrite every descendant's Path. Backend bytes
// are untouched: the backend key is the entry's Base32Alias, stable
// across renames and moves.
func (e *Engine) Move(ctx context.Context, snap permission.Snapshot, actor uuid.UUID, src, dst string) error {
	if err := e.authorize(snap, model.CapMove, src); err != nil {
		return err
	}
	if isRootPath(src) {
		return &store.ValidationError{Message: "cannot move the vault root"}
	}
	entry, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, src)
	if err != nil {
		return err
	}
	if _, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, dst); err == nil {
		return &store.ConflictError{Message: "destination already exists", Code: "already_exists"}
	} else if _, ok := err.(*store.NotFoundError); !ok {
		return err
	}
	newParent, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, parentPath(dst))
	if err != nil {
		return err
	}
	if !newParent.IsDir {
		return &store.ValidationError{Message: "destination parent is not a directory"}
	}

	return e.relocate(ctx, entry, newParent.ID, baseName(dst), dst, actor)
}

// Rename changes the entry at path's Name in place, keeping its parent.
func (e *Engine) Rename(ctx context.Context, snap permission.Snapshot, actor uuid.UUID, path, newName string) error {
	if err := e.authorize(snap, model.CapRename, path); err != nil {
		return err
	}
	if isRootPath(path) {
		return &store.ValidationError{Message: "cannot rename the vault root"}
	}
	entry, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, path)
	if err != nil {
		return err
	}
	if entry.ParentID == nil {
		return &store.ValidationError{Message: "entry has no parent"}
	}
	dst := joinPath(parentPath(path), newName)
	if _, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, dst); err == nil {
		return &store.ConflictError{Message: "destination already exists", Code: "already_exists"}
	} else if _, ok := err.(*store.NotFoundError); !ok {
		return err
	}
	return e.relocate(ctx, entry, *entry.ParentID, newName, dst, actor)
}

func (e *Engine) relocate(ctx context.Context, entry *model.FSEntry, newParentID uuid.UUID, newName, newPath string, actor uuid.UUID) error {
	oldPath := entry.Path
	entry.ParentID = &newParentID
	entry.Name = newName
	entry.Path = newPath
	entry.LastModifiedBy = actor
	entry.UpdatedAt = time.Now()
	if err := e.store.UpdateFSEntry(ctx, entry); err != nil {
		return err
	}
	if entry.IsDir {
		if err := e.rewriteDescendantPaths(ctx, entry.ID, oldPath, newPath); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) rewriteDescendantPaths(ctx context.Context, parentID uuid.UUID, oldPrefix, newPrefix string) error {
	children, err := e.store.ListChildren(ctx, e.Vault.ID, parentID)
	if err != nil {
		return err
	}
	for i := range children {
		c := children[i]
		c.Path = newPrefix + c.Path[len(oldPrefix):]
		if err := e.store.UpdateFSEntry(ctx, &c); err != nil {
			return err
		}
		if c.IsDir {
			if err := e.rewriteDescendantPaths(ctx, c.ID, oldPrefix+"/"+c.Name, newPrefix+"/"+c.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Copy duplicates the file at src to dst under a fresh Base32Alias, so the
// two entries never share backend bytes.
func (e *Engine) Copy(ctx context.Context, snap permission.Snapshot, actor uuid.UUID, src, dst string) (*model.FSEntry, error) {
	if err := e.authorize(snap, model.CapDownload, src); err != nil {
		return nil, err
	}
	if err := e.authorize(snap, model.CapUpload, dst); err != nil {
		return nil, err
	}
	srcEntry, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, src)
	if err != nil {
		return nil, err
	}
	if srcEntry.IsDir {
		return nil, &store.ValidationError{Message: "copying directories is not supported"}
	}
	if _, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, dst); err == nil {
		return nil, &store.ConflictError{Message: "destination already exists", Code: "already_exists"}
	} else if _, ok := err.(*store.NotFoundError); !ok {
		return nil, err
	}
	newParent, err := e.store.GetFSEntryByPath(ctx, e.Vault.ID, parentPath(dst))
	if err != nil {
		return nil, err
	}
	if !newParent.IsDir {
		return nil, &store.ValidationError{Message: "destination parent is not a directory"}
	}

	now := time.Now()
	dstEntry := *srcEntry
	dstEntry.ID = uuid.New()
	dstEntry.ParentID = &newParent.ID
	dstEntry.Name = baseName(dst)
	dstEntry.Path = dst
	dstEntry.Base32Alias = newAlias()
	dstEntry.CreatedBy = actor
	dstEntry.LastModifiedBy = actor
	dstEntry.CreatedAt = now
	dstEntry.UpdatedAt = now

	if err := withRetry(ctx, func() error { return e.backend.Copy(ctx, srcEntry.Base32Alias, dstEntry.Base32Alias) }); err != nil {
		return nil, fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}
	if err := e.store.CreateFSEntry(ctx, &dstEntry); err != nil {
		return nil, err
	}
	return &dstEntry, nil
}

// FreeSpace prefers the vault's configured quota when one is set, falling
// back to the backend's own notion of free space otherwise.
func (e *Engine) FreeSpace(ctx context.Context) (uint64, error) {
	if e.Vault.QuotaBytes > 0 {
		used, err := e.VaultSize(ctx)
		if err != nil {
			return 0, err
		}
		if used >= uint64(e.Vault.QuotaBytes) {
			return 0, nil
		}
		return uint64(e.Vault.QuotaBytes) - used, nil
	}
	var free uint64
	err := withRetry(ctx, func() error {
		var err error
		free, err = e.backend.FreeSpace(ctx)
		return err
	})
	return free, err
}

// CacheSize returns the backend's local content cache size (zero for Local).
func (e *Engine) CacheSize(ctx context.Context) (uint64, error) {
	return e.backend.CacheSize(ctx)
}

// VaultSize returns the total size of the vault's backend objects.
func (e *Engine) VaultSize(ctx context.Context) (uint64, error) {
	var size uint64
	err := withRetry(ctx, func() error {
		var err error
		size, err = e.backend.VaultSize(ctx)
		return err
	})
	return size, err
}
