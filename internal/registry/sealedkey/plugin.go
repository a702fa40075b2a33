// Package sealedkey is the SPI for pluggable master-key custody backends.
// A Provider's only job is producing the raw master key material at startup;
// everything downstream (per-vault data-key wrapping in internal/crypto,
// wrapping of the JWT signing key in internal/auth/token) is built on top of it.
package sealedkey

import (
	"context"
	"fmt"

	"github.com/chirino/vaulthalla/internal/config"
)

// Provider is custody of a single 256-bit master key, sealed to hardware
// or to a file with equivalent access controls.
type Provider interface {
	// ID returns the provider identifier ("file", "awskms", "vaulttransit").
	ID() string

	// Init unseals the provider's persisted blob if one exists. If none
	// exists and initial is non-nil, initial is sealed and persisted as
	// the master key. Otherwise 32 random bytes are generated, sealed,
	// and persisted. Idempotent: a second Init call on an already-loaded
	// provider is a no-op.
	Init(ctx context.Context, initial []byte) error

	// MasterKey returns the unsealed master key material. Fails with
	// *NotInitializedError if Init has not run yet.
	MasterKey(ctx context.Context) ([]byte, error)

	// UpdateMasterKey atomically reseals the provider's persisted blob
	// under newKey and swaps it in as the key MasterKey returns from then
	// on. Callers are responsible for re-wrapping every secret that was
	// wrapped under the old master key.
	UpdateMasterKey(ctx context.Context, newKey []byte) error

	// SealedExists reports whether a sealed blob is already persisted,
	// without unsealing it.
	SealedExists(ctx context.Context) (bool, error)
}

// NotInitializedError is returned by MasterKey when Init has not been
// called (or has not completed successfully) yet.
type NotInitializedError struct {
	Provider string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("sealedkey: provider %q is not initialized", e.Provider)
}

// Plugin bundles a provider name with its loader function.
type Plugin struct {
	Name   string
	Loader func(ctx context.Context, cfg *config.Config) (Provider, error)
}

var plugins []Plugin

// Register adds a sealed-key provider plugin. Called from plugin package init().
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered provider names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the Plugin for the given name.
func Select(name string) (Plugin, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p, nil
		}
	}
	return Plugin{}, fmt.Errorf("unknown sealed-key provider %q; registered: %v", name, Names())
}
