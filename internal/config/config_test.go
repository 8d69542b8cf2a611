package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "server"
store = "memory"
log_level = "debug"

[chain]
rpc_url = "http://localhost:8545"
chain_id = 31337
call_timeout = "2s"

[adapter]
initial_owner = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
signature_ttl = "90s"

[redis]
enabled = false

[[chainlink.nodes]]
oracle_address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
url = "http://node-1:6688"
access_key = "key"
access_secret = "secret"
timeout = "3s"

[[identifiers]]
name = "ETH/USD"
address = "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"
is_aggregator = true

[[identifiers]]
name = "GOLD/USD"
address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
job_id = "gold-usd-job"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, int64(31337), cfg.Chain.ChainID)
	assert.Equal(t, 2*time.Second, cfg.Chain.CallTimeout.Duration)
	assert.Equal(t, 90*time.Second, cfg.Adapter.SignatureTTL.Duration)
	assert.False(t, cfg.Redis.Enabled)

	// untouched sections keep defaults
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Postgres.Host)

	require.Len(t, cfg.Chainlink.Nodes, 1)
	assert.Equal(t, 3*time.Second, cfg.Chainlink.Nodes[0].Timeout.Duration)
	require.Len(t, cfg.Identifiers, 2)
	assert.True(t, cfg.Identifiers[0].IsAggregator)
	assert.Equal(t, "gold-usd-job", cfg.Identifiers[1].JobID)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, sampleTOML+"\n[strategy]\nname = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORACLE_MODE", "full")
	t.Setenv("ORACLE_CHAIN_ID", "10")
	t.Setenv("ORACLE_SERVER_PORT", "9100")
	t.Setenv("ORACLE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("ORACLE_ADAPTER_SIGNATURE_TTL", "1m")
	t.Setenv("ORACLE_REDIS_ENABLED", "not-a-bool")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, int64(10), cfg.Chain.ChainID)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, time.Minute, cfg.Adapter.SignatureTTL.Duration)
	// unparseable values leave the file value in place
	assert.False(t, cfg.Redis.Enabled)
}

func TestArchiveExportAfterDays(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML+"\n[archive]\nexport_after_days = 7\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Archive.ExportAfterDays)

	t.Setenv("ORACLE_ARCHIVE_EXPORT_AFTER_DAYS", "3")
	cfg, err = Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Archive.ExportAfterDays)

	// the former key name is refused
	_, err = Load(writeConfig(t, sampleTOML+"\n[archive]\nretention_days = 7\n"))
	require.ErrorContains(t, err, "unknown keys")
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := Load("../../config.example.toml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Identifiers, 2)
	assert.Len(t, cfg.Chainlink.Nodes, 1)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "trading" },
			wantErr: `unknown mode "trading"`,
		},
		{
			name:    "zero owner",
			mutate:  func(c *Config) { c.Adapter.InitialOwner = "0x0000000000000000000000000000000000000000" },
			wantErr: "initial_owner must not be the zero address",
		},
		{
			name:    "bad guardian",
			mutate:  func(c *Config) { c.Adapter.GuardianAddress = "guardian" },
			wantErr: "is not a hex address",
		},
		{
			name: "job identifier without job id",
			mutate: func(c *Config) {
				c.Identifiers = []IdentifierConfig{{Name: "BTC/USD", Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}}
			},
			wantErr: "job_id is required",
		},
		{
			name: "duplicate identifier",
			mutate: func(c *Config) {
				entry := IdentifierConfig{Name: "BTC/USD", Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", IsAggregator: true}
				c.Identifiers = []IdentifierConfig{entry, entry}
			},
			wantErr: `duplicate name "BTC/USD"`,
		},
		{
			name: "duplicate node",
			mutate: func(c *Config) {
				n := NodeConfig{OracleAddress: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", URL: "http://n"}
				c.Chainlink.Nodes = []NodeConfig{n, n}
			},
			wantErr: "duplicate oracle_address",
		},
		{
			name:    "archive mode requires archive",
			mutate:  func(c *Config) { c.Mode = "archive" },
			wantErr: "mode archive requires archive.enabled",
		},
		{
			name:    "archive mode rejects memory store",
			mutate:  func(c *Config) { c.Mode = "archive"; c.Store = "memory" },
			wantErr: "needs a shared store",
		},
		{
			name:    "memory store skips postgres checks",
			mutate:  func(c *Config) { c.Store = "memory"; c.Postgres.Host = "" },
			wantErr: "",
		},
		{
			name:    "negative outage cooldown",
			mutate:  func(c *Config) { c.Notify.OutageCooldown.Duration = -time.Second },
			wantErr: "outage_cooldown must be >= 0",
		},
		{
			name:    "postgres needs host",
			mutate:  func(c *Config) { c.Postgres.Host = "" },
			wantErr: "postgres: host must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Chainlink.Nodes = []NodeConfig{{OracleAddress: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", AccessSecret: "s"}}

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Wallet.PrivateKey)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Chainlink.Nodes[0].AccessSecret)
	assert.Empty(t, out.Chainlink.Nodes[0].AccessKey)

	// original untouched
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, "s", cfg.Chainlink.Nodes[0].AccessSecret)
}
