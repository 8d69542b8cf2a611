// Package config defines the top-level configuration for the oracle adapter
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORACLE_* environment variables.
type Config struct {
	Wallet      WalletConfig       `toml:"wallet"`
	Chain       ChainConfig        `toml:"chain"`
	Adapter     AdapterConfig      `toml:"adapter"`
	Chainlink   ChainlinkConfig    `toml:"chainlink"`
	Identifiers []IdentifierConfig `toml:"identifiers"`
	Store       string             `toml:"store"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Redis       RedisConfig        `toml:"redis"`
	S3          S3Config           `toml:"s3"`
	Archive     ArchiveConfig      `toml:"archive"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// WalletConfig holds the operator key used by the CLI to sign admin and
// fulfillment calls.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig points aggregator reads at a JSON-RPC endpoint. ChainID also
// scopes signed calls.
type ChainConfig struct {
	RPCURL      string   `toml:"rpc_url"`
	ChainID     int64    `toml:"chain_id"`
	CallTimeout duration `toml:"call_timeout"`
}

// AdapterConfig holds registry authority and API client settings.
type AdapterConfig struct {
	// InitialOwner becomes the authority the first time the registry starts
	// with empty storage.
	InitialOwner string `toml:"initial_owner"`
	// GuardianAddress receives ownership from the transfer-ownership
	// command. Empty leaves ownership where it is.
	GuardianAddress string   `toml:"guardian_address"`
	SignatureTTL    duration `toml:"signature_ttl"`
	APIURL          string   `toml:"api_url"`
}

// ChainlinkConfig lists the nodes that serve job-based bindings.
type ChainlinkConfig struct {
	Nodes []NodeConfig `toml:"nodes"`
}

// NodeConfig is one Chainlink node. OracleAddress is the address bound in
// the registry and the key the node signs fulfillments with.
type NodeConfig struct {
	OracleAddress string   `toml:"oracle_address"`
	URL           string   `toml:"url"`
	AccessKey     string   `toml:"access_key"`
	AccessSecret  string   `toml:"access_secret"`
	Timeout       duration `toml:"timeout"`
}

// IdentifierConfig is one entry of the seed list applied by the seed
// command. JobID may be empty for aggregator bindings.
type IdentifierConfig struct {
	Name         string `toml:"name"`
	Address      string `toml:"address"`
	IsAggregator bool   `toml:"is_aggregator"`
	JobID        string `toml:"job_id"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, events stay
// in-process and no writer lease or rate limiting is applied.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LeaseTTL   duration `toml:"lease_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls periodic export of fulfilled requests and registry
// snapshots to S3. Requests are exported once they have been fulfilled for
// ExportAfterDays; zero exports everything fulfilled so far. Exported rows
// stay in the primary store.
type ArchiveConfig struct {
	Enabled         bool     `toml:"enabled"`
	Interval        duration `toml:"interval"`
	ExportAfterDays int      `toml:"export_after_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// Duration builds a config duration, mainly for tests and defaults.
func Duration(d time.Duration) duration { return duration{d} }

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters. APIKey, when set, is required
// on read endpoints; mutating endpoints are always authenticated by
// signature.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials. OutageCooldown is the
// minimum gap between two outage alerts for the same identifier.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	OutageCooldown    duration `toml:"outage_cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:     1,
			CallTimeout: duration{5 * time.Second},
		},
		Adapter: AdapterConfig{
			SignatureTTL: duration{5 * time.Minute},
			APIURL:       "http://localhost:8000",
		},
		Store: "postgres",
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			LeaseTTL:   duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oracle-adapter",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:         false,
			Interval:        duration{time.Hour},
			ExportAfterDays: 30,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:         []string{"ownership_transferred", "binding_removed", "oracle_unavailable"},
			OutageCooldown: duration{5 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

var validStores = map[string]bool{
	"postgres": true,
	"memory":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsServer reports whether the mode runs the HTTP API.
func (c *Config) NeedsServer() bool {
	return c.Mode == "server" || c.Mode == "full"
}

// NeedsArchive reports whether the mode runs the archive loop.
func (c *Config) NeedsArchive() bool {
	return c.Archive.Enabled && (c.Mode == "archive" || c.Mode == "full")
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validStores[c.Store] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: postgres, memory)", c.Store))
	}

	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.CallTimeout.Duration <= 0 {
		errs = append(errs, "chain: call_timeout must be > 0")
	}

	checkAddr := func(field, v string, required bool) {
		if v == "" {
			if required {
				errs = append(errs, field+" must be set")
			}
			return
		}
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("%s: %q is not a hex address", field, v))
		} else if common.HexToAddress(v) == (common.Address{}) {
			errs = append(errs, field+" must not be the zero address")
		}
	}
	checkAddr("adapter: initial_owner", c.Adapter.InitialOwner, false)
	checkAddr("adapter: guardian_address", c.Adapter.GuardianAddress, false)
	if c.Adapter.SignatureTTL.Duration <= 0 {
		errs = append(errs, "adapter: signature_ttl must be > 0")
	}

	seenNodes := make(map[common.Address]bool)
	for i, n := range c.Chainlink.Nodes {
		field := fmt.Sprintf("chainlink.nodes[%d]", i)
		checkAddr(field+": oracle_address", n.OracleAddress, true)
		if n.URL == "" {
			errs = append(errs, field+": url must be set")
		}
		if common.IsHexAddress(n.OracleAddress) {
			addr := common.HexToAddress(n.OracleAddress)
			if seenNodes[addr] {
				errs = append(errs, fmt.Sprintf("%s: duplicate oracle_address %s", field, addr.Hex()))
			}
			seenNodes[addr] = true
		}
	}

	seenIDs := make(map[string]bool)
	for i, id := range c.Identifiers {
		field := fmt.Sprintf("identifiers[%d]", i)
		if id.Name == "" || len(id.Name) > 32 {
			errs = append(errs, field+": name must be 1-32 bytes")
		}
		if seenIDs[id.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate name %q", field, id.Name))
		}
		seenIDs[id.Name] = true
		checkAddr(field+": address", id.Address, true)
		if !id.IsAggregator && id.JobID == "" {
			errs = append(errs, field+": job_id is required when is_aggregator is false")
		}
	}

	if c.Store == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be >= 1s")
		}
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.ExportAfterDays < 0 {
			errs = append(errs, "archive: export_after_days must be >= 0")
		}
	}
	if c.Mode == "archive" && !c.Archive.Enabled {
		errs = append(errs, "archive: mode archive requires archive.enabled")
	}
	if c.Mode == "archive" && c.Store == "memory" {
		errs = append(errs, "archive: mode archive needs a shared store, not memory")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Notify.OutageCooldown.Duration < 0 {
		errs = append(errs, "notify: outage_cooldown must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
