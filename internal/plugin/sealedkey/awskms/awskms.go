// Package awskms registers the "awskms" sealed-key provider. The master key
// is generated once, wrapped via AWS KMS Encrypt, and the wrapped blob is
// persisted to the secrets directory; AWS KMS is consulted only to
// unwrap it at startup, never per-request.
package awskms

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/chirino/vaulthalla/internal/config"
	"github.com/chirino/vaulthalla/internal/registry/sealedkey"
)

func init() {
	sealedkey.Register(sealedkey.Plugin{
		Name: "awskms",
		Loader: func(ctx context.Context, cfg *config.Config) (sealedkey.Provider, error) {
			if cfg.SealedKeyAWSKMSKeyID == "" {
				return nil, fmt.Errorf("awskms provider: SealedKeyAWSKMSKeyID is required")
			}
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("awskms provider: loading AWS config: %w", err)
			}
			name := cfg.SealedKeySecretName
			if name == "" {
				name = "master"
			}
			return &provider{
				client: kms.NewFromConfig(awsCfg),
				keyID:  cfg.SealedKeyAWSKMSKeyID,
				path:   filepath.Join(cfg.ResolvedSecretsDir(), name+".kms"),
			}, nil
		},
	})
}

type provider struct {
	client *kms.Client
	keyID  string
	path   string

	mu          sync.RWMutex
	key         []byte
	initialized bool
}

func (p *provider) ID() string { return "awskms" }

func (p *provider) SealedExists(_ context.Context) (bool, error) {
	_, err := os.Stat(p.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("sealedkey/awskms: stat %s: %w", p.path, err)
}

// Init reads the wrapped blob from disk and unwraps it via KMS Decrypt. If
// no blob exists yet, initial (or, if nil, a fresh random key) is wrapped
// via KMS Encrypt and persisted.
func (p *provider) Init(ctx context.Context, initial []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	wrapped, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("sealedkey/awskms: reading %s: %w", p.path, err)
		}
		key := initial
		if key == nil {
			key = make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("sealedkey/awskms: generating master key: %w", err)
			}
		}
		if err := p.persist(ctx, key); err != nil {
			return err
		}
		p.key = key
		p.initialized = true
		return nil
	}

	plain, err := p.kmsDecrypt(ctx, wrapped)
	if err != nil {
		return fmt.Errorf("sealedkey/awskms: unwrapping %s: %w", p.path, err)
	}
	p.key = plain
	p.initialized = true
	return nil
}

func (p *provider) MasterKey(_ context.Context) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return nil, &sealedkey.NotInitializedError{Provider: "awskms"}
	}
	return p.key, nil
}

// UpdateMasterKey wraps newKey via KMS Encrypt, persists the new blob, and
// swaps it in as the key MasterKey returns from then on. The caller owns
// re-wrapping every secret that was sealed under the previous key.
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
	blob, err := p.kmsEncrypt(ctx, key)
	if err != nil {
		return fmt.Errorf("sealedkey/awskms: wrapping master key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("sealedkey/awskms: creating secrets dir: %w", err)
	}
	if err := os.WriteFile(p.path, blob, 0600); err != nil {
		return fmt.Errorf("sealedkey/awskms: writing %s: %w", p.path, err)
	}
	return nil
}

func (p *provider) kmsEncrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms Encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

func (p *provider) kmsDecrypt(ctx context.Context, wrapped []byte) ([]byte, error) {
	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          aws.String(p.keyID),
	})
	if err != nil {
		return nil, fmt.Errorf("kms Decrypt: %w", err)
	}
	return out.Plaintext, nil
}
