// Package file registers the "file" sealed-key provider: the master key is
// generated once and stored as a raw 32-byte file under the secrets
// directory, 0600. This is the default provider and the one used in
// TEST_MODE, where the secrets directory is sandboxed under os.TempDir().
package file

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/registry/sealedkey"
)

func init() {
	sealedkey.Register(sealedkey.Plugin{
		Name: "file",
		Loader: func(_ context.Context, cfg *config.Config) (sealedkey.Provider, error) {
			name := cfg.SealedKeySecretName
			if name == "" {
				name = "master"
			}
			return &provider{
				path: filepath.Join(cfg.ResolvedSecretsDir(), name+".key"),
			}, nil
		},
	})
}

type provider struct {
	path string

	mu          sync.RWMutex
	key         []byte
	initialized bool
}

func (p *provider) ID() string { return "file" }

func (p *provider) SealedExists(_ context.Context) (bool, error) {
	_, err := os.Stat(p.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("sealedkey/file: stat %s: %w", p.path, err)
}

// Init unseals the persisted key file if one exists; otherwise it seals
// initial (or, if nil, 32 freshly generated bytes) and persists it.
// Idempotent once a key is loaded in memory.
func (p *provider) Init(_ context.Context, initial []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err == nil {
		if len(data) != 32 {
			return fmt.Errorf("sealedkey/file: %s: expected 32 bytes, got %d", p.path, len(data))
		}
		p.key = data
		p.initialized = true
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("sealedkey/file: reading %s: %w", p.path, err)
	}

	key := initial
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("sealedkey/file: generating master key: %w", err)
		}
	}
	if err := p.persist(key); err != nil {
		return err
	}
	p.key = key
	p.initialized = true
	return nil
}

func (p *provider) MasterKey(_ context.Context) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, &sealedkey.NotInitializedError{Provider: "file"}
	}
	return p.key, nil
}

// UpdateMasterKey reseals the key file under newKey and swaps it in as the
// key MasterKey returns from then on. The caller owns re-wrapping every
// secret that was sealed under the previous key.
func (p *provider) UpdateMasterKey(_ context.Context, newKey []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.persist(newKey); err != nil {
		return err
	}
	p.key = newKey
	p.initialized = true
	return nil
}

func (p *provider) persist(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("sealedkey/file: creating secrets dir: %w", err)
	}
	if err := os.WriteFile(p.path, key, 0600); err != nil {
		return fmt.Errorf("sealedkey/file: writing %s: %w", p.path, err)
	}
	return nil
}
