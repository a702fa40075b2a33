// Package vaulttransit registers the "vaulttransit" sealed-key provider.
// The master key is generated once, wrapped via HashiCorp Vault's Transit
// secrets engine, and the wrapped blob is persisted to the secrets
// directory; Vault is consulted only to unwrap it at startup.
package vaulttransit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/registry/sealedkey"
)

func init() {
	sealedkey.Register(sealedkey.Plugin{
		Name: "vaulttransit",
		Loader: func(_ context.Context, cfg *config.Config) (sealedkey.Provider, error) {
			if cfg.SealedKeyVaultTransitKey == "" {
				return nil, fmt.Errorf("vaulttransit provider: SealedKeyVaultTransitKey is required")
			}
			vc := vaultapi.DefaultConfig()
			if cfg.SealedKeyVaultTransitAddr != "" {
				vc.Address = cfg.SealedKeyVaultTransitAddr
			}
			client, err := vaultapi.NewClient(vc)
			if err != nil {
				return nil, fmt.Errorf("vaulttransit provider: creating client: %w", err)
			}
			name := cfg.SealedKeySecretName
			if name == "" {
				name = "master"
			}
			return &provider{
				client:     client,
				transitKey: cfg.SealedKeyVaultTransitKey,
				path:       filepath.Join(cfg.ResolvedSecretsDir(), name+".vault"),
			}, nil
		},
	})
}

type provider struct {
	client     *vaultapi.Client
	transitKey string
	path       string

	mu          sync.RWMutex
	key         []byte
	initialized bool
}

func (p *provider) ID() string { return "vaulttransit" }

func (p *provider) SealedExists(_ context.Context) (bool, error) {
	_, err := os.Stat(p.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("sealedkey/vaulttransit: stat %s: %w", p.path, err)
}

// Init reads the wrapped blob from disk and unwraps it via Transit decrypt.
// If no blob exists yet, initial (or, if nil, a fresh random key) is
// wrapped via Transit encrypt and persisted.
func (p *provider) Init(ctx context.Context, initial []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	wrapped, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("sealedkey/vaulttransit: reading %s: %w", p.path, err)
		}
		key := initial
		if key == nil {
			key = make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("sealedkey/vaulttransit: generating master key: %w", err)
			}
		}
		if err := p.persist(ctx, key); err != nil {
			return err
		}
		p.key = key
		p.initialized = true
		return nil
	}

	plain, err := p.transitDecrypt(ctx, wrapped)
	if err != nil {
		return fmt.Errorf("sealedkey/vaulttransit: unwrapping %s: %w", p.path, err)
	}
	p.key = plain
	p.initialized = true
	return nil
}

func (p *provider) MasterKey(_ context.Context) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, &sealedkey.NotInitializedError{Provider: "vaulttransit"}
	}
	return p.key, nil
}

// UpdateMasterKey wraps newKey via Transit encrypt, persists the new blob,
// and swaps it in as the key MasterKey returns from then on. The caller
// owns re-wrapping every secret that was sealed under the previous key.
func (p *provider) UpdateMasterKey(ctx context.Context, newKey []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.persist(ctx, newKey); err != nil {
		return err
	}
	p.key = newKey
	p.initialized = true
	return nil
}

func (p *provider) persist(ctx context.Context, key []byte) error {
	blob, err := p.transitEncrypt(ctx, key)
	if err != nil {
		return fmt.Errorf("sealedkey/vaulttransit: wrapping master key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("sealedkey/vaulttransit: creating secrets dir: %w", err)
	}
	if err := os.WriteFile(p.path, blob, 0600); err != nil {
		return fmt.Errorf("sealedkey/vaulttransit: writing %s: %w", p.path, err)
	}
	return nil
}

func (p *provider) transitEncrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/encrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, fmt.Errorf("transit/encrypt: %w", err)
	}
	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("transit/encrypt: missing ciphertext in response")
	}
	return []byte(ciphertext), nil
}

func (p *provider) transitDecrypt(ctx context.Context, wrapped []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"ciphertext": string(wrapped),
	})
	if err != nil {
		return nil, fmt.Errorf("transit/decrypt: %w", err)
	}
	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("transit/decrypt: missing plaintext in response")
	}
	plain, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("transit/decrypt: decoding plaintext: %w", err)
	}
	return plain, nil
}
