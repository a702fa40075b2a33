// Package local implements storage.VaultBackend against a directory on the
// daemon's own filesystem. Every FSEntry's bytes live at
// filepath.Join(mountPoint, key), where key is the entry's Base32Alias — a
// flat, content-addressed layout, so moves and renames never touch disk.
package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/chirino/vaulthalla/internal/storage"
)

// Backend is a storage.VaultBackend rooted at MountPoint.
type Backend struct {
	MountPoint string
}

// New creates a Backend rooted at mountPoint, creating the directory if it
// does not already exist.
func New(mountPoint string) (*Backend, error) {
	if err := os.MkdirAll(mountPoint, 0o700); err != nil {
		return nil, fmt.Errorf("local backend: creating mount point %q: %w", mountPoint, err)
	}
	return &Backend{MountPoint: mountPoint}, nil
}

func (b *Backend) path(key string) string {
	return filepath.Join(b.MountPoint, key)
}

func (b *Backend) Put(_ context.Context, key string, plaintext []byte) error {
	if err := os.WriteFile(b.path(key), plaintext, 0o600); err != nil {
		return b.classify(err)
	}
	return nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		return nil, b.classify(err)
	}
	return data, nil
}

func (b *Backend) Remove(_ context.Context, key string) error {
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return b.classify(err)
	}
	return nil
}

func (b *Backend) Copy(_ context.Context, srcKey, dstKey string) error {
	data, err := os.ReadFile(b.path(srcKey))
	if err != nil {
		return b.classify(err)
	}
	if err := os.WriteFile(b.path(dstKey), data, 0o600); err != nil {
		return b.classify(err)
	}
	return nil
}

// Mkdir is a no-op: directory FSEntries carry no bytes in the Local
// backend, only metadata.
func (b *Backend) Mkdir(_ context.Context, _ string) error { return nil }

func (b *Backend) FreeSpace(_ context.Context) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(b.MountPoint, &stat); err != nil {
		return 0, b.classify(err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CacheSize is always zero: the Local backend has no separate content cache.
func (b *Backend) CacheSize(_ context.Context) (uint64, error) { return 0, nil }

func (b *Backend) VaultSize(_ context.Context) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(b.MountPoint, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, b.classify(err)
	}
	return total, nil
}

// List returns the path, relative to MountPoint, of every regular file under it —
// the flat layout means those names are exactly the backend keys in use.
func (b *Backend) List(_ context.Context) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.MountPoint, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.MountPoint, path)
		if err != nil {
			return err
		}
		keys = append(keys, rel)
		return nil
	})
	if err != nil {
		return nil, b.classify(err)
	}
	return keys, nil
}

// classify wraps permission errors as storage.ErrAuthentication so the
// retry policy treats them as fatal instead of retrying a denial that will
// never succeed.
func (b *Backend) classify(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("local backend: %w: %w", storage.ErrAuthentication, err)
	}
	return err
}

var _ storage.VaultBackend = (*Backend)(nil)
