// Package crypto implements per-vault data-key custody and AEAD encryption,
// including online key rotation. One Manager exists per open vault; the
// wrapping master key itself is supplied by a sealedkey.Provider at startup
// and never touches the Store.
package crypto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chirino/vaulthalla/internal/metrics"
	"github.com/chirino/vaulthalla/internal/model"
	"github.com/chirino/vaulthalla/internal/registry/store"
)

// Manager owns the current data key for one vault: AEAD encrypt/decrypt of
// file payloads, and orchestration of online key rotation.
type Manager struct {
	store     store.Store
	vaultID   uuid.UUID
	masterKey []byte

	mu      sync.RWMutex
	version uint32
	key     []byte // unwrapped current key
	oldKey  []byte // unwrapped previous key, present iff rotation is in progress

	rotationInProgress atomic.Bool
}

// NewManager constructs a Manager bound to one vault. Call LoadKey before
// any Encrypt/Decrypt call.
func NewManager(st store.Store, vaultID uuid.UUID, masterKey []byte) *Manager {
	return &Manager{store: st, vaultID: vaultID, masterKey: masterKey}
}

// LoadKey reads the vault's wrapped key from the Store and unwraps it with
// the master key. Returns *store.KeyMissingError if no active key row
// exists, or a wrapped error if the unwrap itself fails (wrong master key,
// corrupted row).
func (m *Manager) LoadKey(ctx context.Context) error {
	row, err := m.store.GetActiveVaultKey(ctx, m.vaultID)
	if err != nil {
		return err
	}
	plain, err := openAESGCM(m.masterKey, row.IV, row.WrappedKey)
	if err != nil {
		return fmt.Errorf("unwrapping vault key: %w", err)
	}
	m.mu.Lock()
	m.key = plain
	m.version = row.Version
	m.mu.Unlock()
	return nil
}

// BootstrapKey generates and persists the vault's first data key. Callers
// create the Vault row first, then call this once before LoadKey.
func (m *Manager) BootstrapKey(ctx context.Context) error {
	plain := make([]byte, 32)
	if _, err := rand.Read(plain); err != nil {
		return fmt.Errorf("generating vault key: %w", err)
	}
	iv, wrapped, err := sealAESGCM(m.masterKey, plain)
	if err != nil {
		return fmt.Errorf("wrapping vault key: %w", err)
	}
	if err := m.store.CreateInitialVaultKey(ctx, &model.VaultKey{
		VaultID:    m.vaultID,
		Version:    1,
		WrappedKey: wrapped,
		IV:         iv,
	}); err != nil {
		return err
	}
	m.mu.Lock()
	m.key = plain
	m.version = 1
	m.mu.Unlock()
	return nil
}

// Version returns the current key version.
func (m *Manager) Version() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Encrypt seals plaintext with the current key and a fresh random IV. IV is
// returned base64-encoded so callers can persist it alongside the file row.
func (m *Manager) Encrypt(plaintext []byte) (ciphertext []byte, ivB64 string, version uint32, err error) {
	m.mu.RLock()
	key := m.key
	version = m.version
	m.mu.RUnlock()

	iv, ct, err := sealAESGCM(key, plaintext)
	if err != nil {
		return nil, "", 0, err
	}
	return ct, base64.StdEncoding.EncodeToString(iv), version, nil
}

// Decrypt opens ciphertext with whichever key matches version: the current
// key if version equals the current version, or — only while a rotation is
// in progress — the previous key if version is exactly one behind. Any
// other version is store.UnknownKeyVersionError; an authentication-tag
// mismatch is store.CorruptError.
func (m *Manager) Decrypt(ciphertext []byte, ivB64 string, version uint32) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, fmt.Errorf("decoding iv: %w", err)
	}

	m.mu.RLock()
	curVersion := m.version
	curKey := m.key
	rotating := m.rotationInProgress.Load()
	oldKey := m.oldKey
	m.mu.RUnlock()

	var key []byte
	switch {
	case version == curVersion:
		key = curKey
	case rotating && oldKey != nil && version == curVersion-1:
		key = oldKey
	default:
		return nil, &store.UnknownKeyVersionError{VaultID: m.vaultID.String(), Version: version}
	}

	plain, err := openAESGCM(key, iv, ciphertext)
	if err != nil {
		return nil, &store.CorruptError{Detail: err.Error()}
	}
	return plain, nil
}

// PrepareKeyRotation moves the current key to the trashed-key table, mints a
// fresh key at version+1, and swaps it in as current — all within a single
// Store transaction, so no observer sees a torn state. Encrypt calls
// arriving concurrently (even mid-call) use the new version as soon as this
// returns; Decrypt calls for the superseded version fall back to old_key
// until FinishKeyRotation.
func (m *Manager) PrepareKeyRotation(ctx context.Context) error {
	m.mu.RLock()
	prevKey := m.key
	prevVersion := m.version
	m.mu.RUnlock()

	newPlain := make([]byte, 32)
	if _, err := rand.Read(newPlain); err != nil {
		return fmt.Errorf("generating rotated key: %w", err)
	}
	iv, wrapped, err := sealAESGCM(m.masterKey, newPlain)
	if err != nil {
		return fmt.Errorf("wrapping rotated key: %w", err)
	}
	newRow := &model.VaultKey{
		VaultID:    m.vaultID,
		Version:    prevVersion + 1,
		WrappedKey: wrapped,
		IV:         iv,
	}
	if err := m.store.PrepareKeyRotation(ctx, m.vaultID, newRow); err != nil {
		metrics.RecordKeyRotation("failed")
		return err
	}

	m.mu.Lock()
	m.oldKey = prevKey
	m.key = newPlain
	m.version = prevVersion + 1
	m.mu.Unlock()
	m.rotationInProgress.Store(true)
	return nil
}

// FinishKeyRotation stamps the trashed row's completion timestamp and drops
// the retained old key. Called once the sync worker has re-encrypted every
// object stamped with the superseded version.
func (m *Manager) FinishKeyRotation(ctx context.Context) error {
	m.mu.RLock()
	version := m.version - 1
	m.mu.RUnlock()

	if err := m.store.FinishKeyRotation(ctx, m.vaultID, version); err != nil {
		metrics.RecordKeyRotation("failed")
		return err
	}
	m.mu.Lock()
	m.oldKey = nil
	m.mu.Unlock()
	m.rotationInProgress.Store(false)
	metrics.RecordKeyRotation("ok")
	return nil
}

// RotationInProgress reports whether a rotation is currently active.
func (m *Manager) RotationInProgress() bool {
	return m.rotationInProgress.Load()
}

// RotateDecryptEncrypt re-encrypts an object bound to the superseded key
// version with the current key, for the sync worker's rotation walk. It is
// a no-op returning the input unchanged when no rotation is in progress.
func (m *Manager) RotateDecryptEncrypt(ciphertext []byte, ivB64 string) (newCiphertext []byte, newIVB64 string, err error) {
	if !m.rotationInProgress.Load() {
		return ciphertext, ivB64, nil
	}

	m.mu.RLock()
	oldKey := m.oldKey
	curKey := m.key
	m.mu.RUnlock()
	if oldKey == nil {
		return ciphertext, ivB64, nil
	}

	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return nil, "", fmt.Errorf("decoding iv: %w", err)
	}
	plain, err := openAESGCM(oldKey, iv, ciphertext)
	if err != nil {
		return nil, "", &store.CorruptError{Detail: err.Error()}
	}
	newIV, newCT, err := sealAESGCM(curKey, plain)
	if err != nil {
		return nil, "", err
	}
	return newCT, base64.StdEncoding.EncodeToString(newIV), nil
}
