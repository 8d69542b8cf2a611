package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ORACLE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ORACLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Chainlink nodes and seed identifiers are only configurable in TOML.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ORACLE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ORACLE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ORACLE_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ORACLE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ORACLE_CHAIN_ID")
	setDuration(&cfg.Chain.CallTimeout, "ORACLE_CHAIN_CALL_TIMEOUT")

	// ── Adapter ──
	setStr(&cfg.Adapter.InitialOwner, "ORACLE_ADAPTER_INITIAL_OWNER")
	setStr(&cfg.Adapter.GuardianAddress, "ORACLE_ADAPTER_GUARDIAN_ADDRESS")
	setDuration(&cfg.Adapter.SignatureTTL, "ORACLE_ADAPTER_SIGNATURE_TTL")
	setStr(&cfg.Adapter.APIURL, "ORACLE_ADAPTER_API_URL")

	// ── Store ──
	setStr(&cfg.Store, "ORACLE_STORE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORACLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ORACLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORACLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORACLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORACLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORACLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORACLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORACLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORACLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORACLE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ORACLE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ORACLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORACLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORACLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORACLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORACLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORACLE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LeaseTTL, "ORACLE_REDIS_LEASE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ORACLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORACLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORACLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORACLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORACLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORACLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORACLE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ORACLE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ORACLE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.ExportAfterDays, "ORACLE_ARCHIVE_EXPORT_AFTER_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "ORACLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORACLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ORACLE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ORACLE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ORACLE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORACLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORACLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORACLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORACLE_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.OutageCooldown, "ORACLE_NOTIFY_OUTAGE_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORACLE_MODE")
	setStr(&cfg.LogLevel, "ORACLE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
