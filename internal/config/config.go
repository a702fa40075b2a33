package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the vaulthalla daemon, loaded from a
// YAML file (default /etc/vaulthalla/config.yaml) and overridable by flags.
type Config struct {
	// Mode controls sandboxing: "prod" (default) or "testing". In testing mode
	// (or when TEST_MODE is set) all state paths relocate under a sandbox prefix.
	Mode string

	// Database (Store contract backend).
	DBURL                   string
	DatastoreType           string // "postgres" or "sqlite"
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// State directories.
	StateDir   string // base for local backing trees / cache directories
	SecretsDir string // sealed-key file storage
	TempDir    string

	// SealedKeyProvider.
	SealedKeyProviderType     string // "file", "awskms", "vaulttransit"
	SealedKeySecretName       string // domain name, default "master"
	SealedKeyAWSKMSKeyID      string
	SealedKeyVaultTransitAddr string
	SealedKeyVaultTransitKey  string

	// S3-vault content cache.
	CacheType     string // "redis", "ristretto", or "none"
	RedisURL      string
	CacheCapBytes int64

	// Sync controller.
	SyncWorkerPoolSize  int
	SyncDefaultInterval time.Duration

	// Session / token lifecycle.
	JWTIssuer              string
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	UnauthSessionTimeout   time.Duration
	IdleSessionTimeout     time.Duration
	LifecycleSweepInterval time.Duration
	RefreshUrgentWindow    time.Duration
	RefreshRequestedWindow time.Duration

	// Trash janitor.
	TrashRetention       time.Duration
	JanitorSweepInterval time.Duration

	// Sync event retention.
	SyncEventRetention time.Duration
	SyncEventMaxRows   int

	// HTTP dispatcher.
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	CORSOrigins        string
	MaxBodySize        int64
	DrainTimeout       int

	// Admin Unix-domain socket.
	AdminSocketPath  string
	AdminSocketGroup string

	// Password policy.
	PasswordMinLength int

	// Auth.
	DefaultUserRoleName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		StateDir:                "/var/lib/vaulthalla",
		SecretsDir:              "/etc/vaulthalla/secrets",
		SealedKeyProviderType:   "file",
		SealedKeySecretName:     "master",
		CacheType:               "none",
		CacheCapBytes:           1 << 30, // 1 GiB
		SyncWorkerPoolSize:      4,
		SyncDefaultInterval:     5 * time.Minute,
		JWTIssuer:               "vaulthalla",
		AccessTokenTTL:          60 * time.Minute,
		RefreshTokenTTL:         7 * 24 * time.Hour,
		UnauthSessionTimeout:    2 * time.Minute,
		IdleSessionTimeout:      30 * time.Minute,
		LifecycleSweepInterval:  60 * time.Second,
		RefreshUrgentWindow:     10 * time.Second,
		RefreshRequestedWindow:  5 * time.Minute,
		TrashRetention:          30 * 24 * time.Hour,
		JanitorSweepInterval:    1 * time.Hour,
		SyncEventRetention:      30 * 24 * time.Hour,
		SyncEventMaxRows:        10000,
		Listener: ListenerConfig{
			Port:              8443,
			EnablePlainText:   false,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
		},
		MaxBodySize:         64 * 1024 * 1024,
		DrainTimeout:        30,
		AdminSocketPath:     "/run/vaulthalla/admin.sock",
		AdminSocketGroup:    "vaulthalla",
		PasswordMinLength:   12,
		DefaultUserRoleName: "user",
	}
}

// TestMode reports whether state paths should relocate under a sandbox prefix,
// either via explicit Mode or the TEST_MODE environment variable.
func (c *Config) TestMode() bool {
	if c != nil && c.Mode == ModeTesting {
		return true
	}
	v := strings.TrimSpace(os.Getenv("TEST_MODE"))
	return v != "" && v != "0" && v != "false"
}

// ResolvedStateDir returns the local backing-tree / cache root, relocated
// under a sandbox prefix in TEST_MODE.
func (c *Config) ResolvedStateDir() string {
	return c.sandboxed(c.StateDir, "/var/lib/vaulthalla")
}

// ResolvedSecretsDir returns the sealed-key file directory, relocated under
// a sandbox prefix in TEST_MODE.
func (c *Config) ResolvedSecretsDir() string {
	return c.sandboxed(c.SecretsDir, "/etc/vaulthalla/secrets")
}

// ResolvedTempDir returns the configured temp directory or the platform default.
func (c *Config) ResolvedTempDir() string {
	if c == nil {
		return os.TempDir()
	}
	if dir := strings.TrimSpace(c.TempDir); dir != "" {
		return dir
	}
	return os.TempDir()
}

func (c *Config) sandboxed(configured, fallback string) string {
	dir := fallback
	if c != nil && strings.TrimSpace(configured) != "" {
		dir = configured
	}
	if c != nil && c.TestMode() {
		return filepath.Join(os.TempDir(), "vaulthalla-sandbox", strings.TrimPrefix(dir, string(filepath.Separator)))
	}
	return dir
}
