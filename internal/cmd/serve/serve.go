package serve

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/chirino/vaulthalla/internal/config"

	// Import all plugins to trigger init() registration.
	_ "github.com/chirino/vaulthalla/internal/plugin/cache/noop"
	_ "github.com/chirino/vaulthalla/internal/plugin/cache/redis"
	_ "github.com/chirino/vaulthalla/internal/plugin/cache/ristretto"
	_ "github.com/chirino/vaulthalla/internal/plugin/sealedkey/awskms"
	_ "github.com/chirino/vaulthalla/internal/plugin/sealedkey/file"
	_ "github.com/chirino/vaulthalla/internal/plugin/sealedkey/vaulttransit"
	_ "github.com/chirino/vaulthalla/internal/plugin/store/gormstore"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the vaulthalla daemon",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			return run(config.WithContext(ctx, &cfg), &cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{
		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULTHALLA_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for the dispatch listener (self-signed if omitted)",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULTHALLA_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for the dispatch listener (self-signed if omitted)",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULTHALLA_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULTHALLA_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins, or * for any",
		},
		&cli.IntFlag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULTHALLA_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum dispatch request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("VAULTHALLA_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Seconds allowed for in-flight requests to drain on shutdown",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("VAULTHALLA_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "Dispatch endpoint port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("VAULTHALLA_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Serve the dispatch endpoint over plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("VAULTHALLA_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Serve the dispatch endpoint over TLS",
		},

		// ── Network Listener: Management ─────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Network Listener: Management:",
			Sources:     cli.EnvVars("VAULTHALLA_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Port for /healthz, /readyz and /metrics",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Network Listener: Management:",
			Sources:     cli.EnvVars("VAULTHALLA_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for the management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Network Listener: Management:",
			Sources:     cli.EnvVars("VAULTHALLA_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for the management server",
		},

		// ── Admin socket ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "admin-socket-path",
			Category:    "Admin:",
			Sources:     cli.EnvVars("VAULTHALLA_ADMIN_SOCKET_PATH"),
			Destination: &cfg.AdminSocketPath,
			Value:       cfg.AdminSocketPath,
			Usage:       "Admin Unix-domain socket path",
		},
		&cli.StringFlag{
			Name:        "admin-socket-group",
			Category:    "Admin:",
			Sources:     cli.EnvVars("VAULTHALLA_ADMIN_SOCKET_GROUP"),
			Destination: &cfg.AdminSocketGroup,
			Value:       cfg.AdminSocketGroup,
			Usage:       "Group permitted to use the admin socket",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULTHALLA_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Store backend (postgres|sqlite)",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULTHALLA_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL",
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULTHALLA_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULTHALLA_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("VAULTHALLA_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations automatically at startup",
		},

		// ── State ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "state-dir",
			Category:    "State:",
			Sources:     cli.EnvVars("VAULTHALLA_STATE_DIR"),
			Destination: &cfg.StateDir,
			Value:       cfg.StateDir,
			Usage:       "Local backing-tree / cache directory root",
		},
		&cli.StringFlag{
			Name:        "secrets-dir",
			Category:    "State:",
			Sources:     cli.EnvVars("VAULTHALLA_SECRETS_DIR"),
			Destination: &cfg.SecretsDir,
			Value:       cfg.SecretsDir,
			Usage:       "Directory holding the file SealedKeyProvider's sealed master key",
		},

		// ── SealedKeyProvider ─────────────────────────────────────
		&cli.StringFlag{
			Name:        "sealed-key-kind",
			Category:    "SealedKeyProvider:",
			Sources:     cli.EnvVars("VAULTHALLA_SEALED_KEY_KIND"),
			Destination: &cfg.SealedKeyProviderType,
			Value:       cfg.SealedKeyProviderType,
			Usage:       "Master-key custody backend (file|awskms|vaulttransit)",
		},
		&cli.StringFlag{
			Name:        "sealed-key-secret-name",
			Category:    "SealedKeyProvider:",
			Sources:     cli.EnvVars("VAULTHALLA_SEALED_KEY_SECRET_NAME"),
			Destination: &cfg.SealedKeySecretName,
			Value:       cfg.SealedKeySecretName,
			Usage:       "Domain name under which the sealed master key is stored",
		},
		&cli.StringFlag{
			Name:        "kms-key-id",
			Category:    "SealedKeyProvider:",
			Sources:     cli.EnvVars("VAULTHALLA_KMS_KEY_ID"),
			Destination: &cfg.SealedKeyAWSKMSKeyID,
			Usage:       "AWS KMS key ID for the awskms SealedKeyProvider",
		},
		&cli.StringFlag{
			Name:        "vault-transit-addr",
			Category:    "SealedKeyProvider:",
			Sources:     cli.EnvVars("VAULTHALLA_VAULT_TRANSIT_ADDR", "VAULT_ADDR"),
			Destination: &cfg.SealedKeyVaultTransitAddr,
			Usage:       "HashiCorp Vault address for the vaulttransit SealedKeyProvider",
		},
		&cli.StringFlag{
			Name:        "vault-transit-key",
			Category:    "SealedKeyProvider:",
			Sources:     cli.EnvVars("VAULTHALLA_VAULT_TRANSIT_KEY"),
			Destination: &cfg.SealedKeyVaultTransitKey,
			Usage:       "Vault Transit key name for the vaulttransit SealedKeyProvider",
		},

		// ── S3-vault content cache ────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("VAULTHALLA_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "S3-vault content cache backend (none|ristretto|redis)",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("VAULTHALLA_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.IntFlag{
			Name:        "cache-cap-bytes",
			Category:    "Cache:",
			Sources:     cli.EnvVars("VAULTHALLA_CACHE_CAP_BYTES"),
			Destination: &cfg.CacheCapBytes,
			Value:       cfg.CacheCapBytes,
			Usage:       "Content cache capacity in bytes",
		},

		// ── Sync controller ───────────────────────────────────────
		&cli.IntFlag{
			Name:        "sync-pool-size",
			Category:    "Sync:",
			Sources:     cli.EnvVars("VAULTHALLA_SYNC_POOL_SIZE"),
			Destination: &cfg.SyncWorkerPoolSize,
			Value:       cfg.SyncWorkerPoolSize,
			Usage:       "SyncController worker pool size",
		},
		&cli.DurationFlag{
			Name:        "sync-default-interval",
			Category:    "Sync:",
			Sources:     cli.EnvVars("VAULTHALLA_SYNC_DEFAULT_INTERVAL"),
			Destination: &cfg.SyncDefaultInterval,
			Value:       cfg.SyncDefaultInterval,
			Usage:       "How often a vault without its own schedule is re-synced",
		},

		// ── Session / token lifecycle ─────────────────────────────
		&cli.StringFlag{
			Name:        "jwt-issuer",
			Category:    "Auth:",
			Sources:     cli.EnvVars("VAULTHALLA_JWT_ISSUER"),
			Destination: &cfg.JWTIssuer,
			Value:       cfg.JWTIssuer,
			Usage:       "Issuer claim for minted access/refresh JWTs",
		},
		&cli.DurationFlag{
			Name:        "access-token-ttl",
			Category:    "Auth:",
			Sources:     cli.EnvVars("VAULTHALLA_ACCESS_TOKEN_TTL"),
			Destination: &cfg.AccessTokenTTL,
			Value:       cfg.AccessTokenTTL,
			Usage:       "Access token lifetime",
		},
		&cli.DurationFlag{
			Name:        "refresh-token-ttl",
			Category:    "Auth:",
			Sources:     cli.EnvVars("VAULTHALLA_REFRESH_TOKEN_TTL"),
			Destination: &cfg.RefreshTokenTTL,
			Value:       cfg.RefreshTokenTTL,
			Usage:       "Refresh token lifetime",
		},
		&cli.IntFlag{
			Name:        "password-min-length",
			Category:    "Auth:",
			Sources:     cli.EnvVars("VAULTHALLA_PASSWORD_MIN_LENGTH"),
			Destination: &cfg.PasswordMinLength,
			Value:       cfg.PasswordMinLength,
			Usage:       "Minimum password length",
		},
		&cli.StringFlag{
			Name:        "default-user-role",
			Category:    "Auth:",
			Sources:     cli.EnvVars("VAULTHALLA_DEFAULT_USER_ROLE"),
			Destination: &cfg.DefaultUserRoleName,
			Value:       cfg.DefaultUserRoleName,
			Usage:       "Role name granted to every newly registered user",
		},

		// ── Connection lifecycle ──────────────────────────────────
		&cli.DurationFlag{
			Name:        "lifecycle-sweep-interval",
			Category:    "Lifecycle:",
			Sources:     cli.EnvVars("VAULTHALLA_LIFECYCLE_SWEEP_INTERVAL"),
			Destination: &cfg.LifecycleSweepInterval,
			Value:       cfg.LifecycleSweepInterval,
			Usage:       "How often the session table is swept for timeouts/refresh nudges",
		},
		&cli.DurationFlag{
			Name:        "unauth-session-timeout",
			Category:    "Lifecycle:",
			Sources:     cli.EnvVars("VAULTHALLA_UNAUTH_SESSION_TIMEOUT"),
			Destination: &cfg.UnauthSessionTimeout,
			Value:       cfg.UnauthSessionTimeout,
			Usage:       "Grace period for a connection to complete authentication",
		},
		&cli.DurationFlag{
			Name:        "idle-session-timeout",
			Category:    "Lifecycle:",
			Sources:     cli.EnvVars("VAULTHALLA_IDLE_SESSION_TIMEOUT"),
			Destination: &cfg.IdleSessionTimeout,
			Value:       cfg.IdleSessionTimeout,
			Usage:       "How long an authenticated but silent connection is kept",
		},

		// ── Trash janitor ─────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "trash-retention",
			Category:    "Janitor:",
			Sources:     cli.EnvVars("VAULTHALLA_TRASH_RETENTION"),
			Destination: &cfg.TrashRetention,
			Value:       cfg.TrashRetention,
			Usage:       "How long a trashed file is kept before the janitor purges it",
		},
		&cli.DurationFlag{
			Name:        "janitor-sweep-interval",
			Category:    "Janitor:",
			Sources:     cli.EnvVars("VAULTHALLA_JANITOR_SWEEP_INTERVAL"),
			Destination: &cfg.JanitorSweepInterval,
			Value:       cfg.JanitorSweepInterval,
			Usage:       "How often the trash table is swept for purgeable rows",
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	closeFn, err := StartServer(ctx, cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := closeFn(drainCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	log.Info("server stopped")
	return nil
}

// maxBodySizeMiddleware rejects any dispatch request whose body exceeds
// limitBytes. The dispatch envelope always arrives as a single JSON
// document — file contents included, base64-encoded in the payload — so
// unlike the reference daemon's attachments route there is no streaming
// multipart upload to exempt from the limit.
func maxBodySizeMiddleware(limitBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limitBytes)
		c.Next()
	}
}
