package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/oracleadapter/internal/blob/s3"
	"github.com/alanyoungcy/oracleadapter/internal/cache/redis"
	"github.com/alanyoungcy/oracleadapter/internal/config"
	"github.com/alanyoungcy/oracleadapter/internal/crypto"
	"github.com/alanyoungcy/oracleadapter/internal/domain"
	"github.com/alanyoungcy/oracleadapter/internal/notify"
	"github.com/alanyoungcy/oracleadapter/internal/oracle"
	"github.com/alanyoungcy/oracleadapter/internal/service"
	"github.com/alanyoungcy/oracleadapter/internal/source/chainlink"
	"github.com/alanyoungcy/oracleadapter/internal/store/memory"
	"github.com/alanyoungcy/oracleadapter/internal/store/postgres"
)

// eventStreamLen caps the redis event stream.
const eventStreamLen = 10000

// Dependencies bundles everything the run modes and CLI commands need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	RegistryStore domain.RegistryStore
	RequestStore  domain.RequestStore
	AuditStore    domain.AuditStore

	// Events. With redis disabled both are the same in-process sink.
	Publisher domain.EventPublisher
	Events    domain.EventSource

	// Coordination; nil when redis is disabled.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blob storage; nil unless archive is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Verifier *crypto.Verifier

	// Probes are the dependency checks reported by /api/health.
	Probes map[string]func(context.Context) error

	Registry *oracle.Registry
	Engine   *oracle.Engine
	Oracle   *service.OracleService
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{Probes: make(map[string]func(context.Context) error)}

	// --- Stores ---
	switch cfg.Store {
	case "memory":
		deps.RegistryStore = memory.NewRegistryStore()
		deps.RequestStore = memory.NewRequestStore()
		deps.AuditStore = memory.NewAuditStore()
		logger.Warn("using in-memory store; registry state is lost on restart")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		}, logger)
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		deps.Probes["postgres"] = pgClient.Ping
		pool := pgClient.Pool()
		deps.RegistryStore = postgres.NewRegistryStore(pool)
		deps.RequestStore = postgres.NewRequestStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Probes["redis"] = redisClient.Ping

		bus := redis.NewEventBus(redisClient, eventStreamLen, logger)
		deps.Publisher = bus
		deps.Events = bus
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	} else {
		sink := memory.NewEventSink()
		deps.Publisher = sink
		deps.Events = sink
	}

	// --- S3 ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Probes["s3"] = s3Client.Health
		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, reader, deps.RequestStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Price sources ---
	var caller ethereum.ContractCaller
	if cfg.Chain.RPCURL != "" {
		ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return fail("ethclient", err)
		}
		closers = append(closers, ec.Close)
		caller = ec
	} else {
		logger.Warn("chain.rpc_url not set; aggregator bindings will report oracle unavailable")
	}
	nodes := make([]chainlink.NodeConfig, 0, len(cfg.Chainlink.Nodes))
	for _, n := range cfg.Chainlink.Nodes {
		nodes = append(nodes, chainlink.NodeConfig{
			OracleAddress: n.OracleAddress,
			URL:           n.URL,
			AccessKey:     n.AccessKey,
			AccessSecret:  n.AccessSecret,
			Timeout:       n.Timeout.Duration,
		})
	}
	resolver, err := chainlink.NewResolver(caller, cfg.Chain.CallTimeout.Duration, nodes, logger)
	if err != nil {
		return fail("chainlink", err)
	}

	// --- Adapter ---
	deployer, err := initialOwner(cfg)
	if err != nil {
		return fail("initial owner", err)
	}
	deps.Registry, err = oracle.NewRegistry(ctx, deps.RegistryStore, deps.Publisher, logger, deployer)
	if err != nil {
		return fail("registry", err)
	}
	deps.Engine, err = oracle.NewEngine(ctx, deps.Registry, resolver, deps.RequestStore, deps.Publisher, logger)
	if err != nil {
		return fail("engine", err)
	}

	var alerts service.Alerter
	if deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}
	deps.Oracle = service.NewOracleService(
		oracle.NewAdapter(deps.Registry, deps.Engine),
		deps.AuditStore,
		deps.Archiver,
		alerts,
		logger,
		service.WithOutageCooldown(cfg.Notify.OutageCooldown.Duration),
	)
	closers = append(closers, deps.Oracle.Close)
	deps.Verifier = crypto.NewVerifier(cfg.Chain.ChainID, cfg.Adapter.SignatureTTL.Duration)

	return deps, cleanup, nil
}

// initialOwner picks the authority recorded when storage is empty: the
// configured initial owner, else the operator wallet.
func initialOwner(cfg *config.Config) (common.Address, error) {
	if cfg.Adapter.InitialOwner != "" {
		return common.HexToAddress(cfg.Adapter.InitialOwner), nil
	}
	keyCfg := WalletKey(cfg)
	if !keyCfg.Configured() {
		return common.Address{}, nil
	}
	signer, err := crypto.LoadSigner(keyCfg, cfg.Chain.ChainID)
	if err != nil {
		return common.Address{}, err
	}
	return signer.Address(), nil
}

// WalletKey maps the wallet section onto the key loader configuration.
func WalletKey(cfg *config.Config) crypto.KeyConfig {
	return crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
}
