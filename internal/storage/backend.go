// Package storage implements the per-vault StorageEngine: a uniform API
// over Local and S3 backends, giving higher layers the same put/get/list/
// remove/move/rename/copy/mkdir surface regardless of where a vault's
// bytes actually live.
package storage

import (
	"context"
	"errors"
)

// VaultBackend is the object-level operations a storage plugin implements.
// It knows nothing about FSEntry metadata, permissions, or audit logging —
// those are Engine's job. Keys are opaque backend identifiers (an
// FSEntry's Base32Alias): stable for the life of the entry, so moving or
// renaming a file is a pure metadata update and never touches backend
// bytes.
type VaultBackend interface {
	Put(ctx context.Context, key string, plaintext []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Remove deletes the backend object outright. Engine never calls this
	// directly on a user-facing remove — files move to TrashedFile first —
	// it is used by the trash janitor once it purges a trashed row.
	Remove(ctx context.Context, key string) error
	Copy(ctx context.Context, srcKey, dstKey string) error
	// Mkdir records a directory marker with the backend, if the backend
	// needs one (S3 providers that want a listable prefix marker). Local
	// directories carry no bytes; the Local backend's Mkdir is a no-op.
	Mkdir(ctx context.Context, key string) error

	// FreeSpace is remaining capacity on the backing store when the vault
	// has no configured quota (Engine prefers Vault.QuotaBytes - VaultSize
	// when a quota is set, and falls back to this only when it isn't).
	FreeSpace(ctx context.Context) (uint64, error)
	// CacheSize is the size of the backend's local content cache. Always
	// zero for the Local backend, which has no cache to speak of.
	CacheSize(ctx context.Context) (uint64, error)
	// VaultSize is the total size of all objects the backend currently holds.
	VaultSize(ctx context.Context) (uint64, error)

	// List returns every key the backend currently holds bytes for. The
	// sync controller uses this to diff backend reality against the
	// FSEntry tree: keys present in the backend with no referencing entry
	// are drift (an out-of-band write), keys an entry references but the
	// backend doesn't have are corruption.
	List(ctx context.Context) ([]string, error)
}

// ErrAuthentication marks a backend error as a credential failure: fatal,
// never retried. Backends should wrap the underlying error with
// fmt.Errorf("...: %w", ErrAuthentication) when the provider rejects
// credentials (S3 403/InvalidAccessKeyId, local permission-denied opening
// the mount point) so withRetry can tell it apart from a transient I/O blip.
var ErrAuthentication = errors.New("storage backend authentication failure")

// IsAuthenticationError reports whether err (or anything it wraps) is an
// authentication failure.
func IsAuthenticationError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}
