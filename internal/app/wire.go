package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/perpkeeper/internal/blob/s3"
	"github.com/alanyoungcy/perpkeeper/internal/cache/redis"
	"github.com/alanyoungcy/perpkeeper/internal/config"
	"github.com/alanyoungcy/perpkeeper/internal/contracts"
	"github.com/alanyoungcy/perpkeeper/internal/crypto"
	"github.com/alanyoungcy/perpkeeper/internal/domain"
	"github.com/alanyoungcy/perpkeeper/internal/metrics"
	"github.com/alanyoungcy/perpkeeper/internal/notify"
	"github.com/alanyoungcy/perpkeeper/internal/platform/cosmwasm"
	"github.com/alanyoungcy/perpkeeper/internal/retry"
	"github.com/alanyoungcy/perpkeeper/internal/server/handler"
	"github.com/alanyoungcy/perpkeeper/internal/store/postgres"
)

// Dependencies bundles everything the modes run on. Optional backends are
// nil when disabled in the configuration.
type Dependencies struct {
	// Chain
	LCD       *cosmwasm.Client
	Wallet    *cosmwasm.SigningClient
	Engine    *contracts.EngineClient
	Insurance *contracts.InsuranceFundClient
	Vamm      *contracts.VammClient
	Pricefeed *contracts.PricefeedClient

	// Redis
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	StatusCache *redis.StatusCache
	SignalBus   *redis.SignalBus

	// Postgres
	Executions domain.ExecutionStore
	Cycles     domain.CycleStore
	Audit      domain.AuditStore
	Recorder   *postgres.Recorder

	// S3
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Pingers are probed by the health endpoint.
	Pingers map[string]handler.Pinger
}

// Wire constructs all concrete dependencies from cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New(deps.Registry)
	}

	// --- Chain ---
	if err := wireChain(cfg, deps, logger); err != nil {
		return fail(err)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Pingers["redis"] = rc

		deps.LockManager = redis.NewLockManager(rc)
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.StatusCache = redis.NewStatusCache(rc, logger)
		deps.SignalBus = redis.NewSignalBus(rc, logger)
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		deps.Pingers["postgres"] = pg

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pg.Pool()
		executions := postgres.NewExecutionStore(pool)
		cycles := postgres.NewCycleStore(pool)
		audit := postgres.NewAuditStore(pool)
		deps.Executions, deps.Cycles, deps.Audit = executions, cycles, audit
		deps.Recorder = postgres.NewRecorder(cycles, executions, audit, logger)
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Pingers["s3"] = sc
		// Executions and audit stay nil without postgres; only reports are
		// archived then.
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), deps.Executions, deps.Audit, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.RateLimiter != nil && cfg.Notify.ThrottleLimit > 0 {
		deps.Notifier.WithThrottle(notify.Throttle{
			Limiter: deps.RateLimiter,
			Limit:   cfg.Notify.ThrottleLimit,
			Window:  cfg.Notify.ThrottleWindow.Duration,
		})
	}

	return deps, cleanup, nil
}

// wireChain loads the keeper key and builds the LCD, signing and contract
// clients.
func wireChain(cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("wire: load key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, cfg.Chain.Prefix)
	if err != nil {
		return fmt.Errorf("wire: signer: %w", err)
	}
	gasPrice, err := cfg.GasPriceDecimal()
	if err != nil {
		return fmt.Errorf("wire: gas price: %w", err)
	}

	lcd := cosmwasm.NewClient(cfg.Chain.LCDURL, cfg.Chain.RequestTimeout.Duration)
	deps.LCD = lcd
	deps.Wallet = cosmwasm.NewSigningClient(lcd, signer, cosmwasm.WalletConfig{
		ChainID:   cfg.Chain.ChainID,
		Denom:     cfg.Chain.Denom,
		GasPrice:  gasPrice,
		BaseGas:   cfg.Chain.BaseGas,
		GasPerMsg: cfg.Chain.GasPerMsg,
		Memo:      cfg.Chain.Memo,
		Confirm: retry.Policy{
			MaxAttempts:     cfg.Chain.ConfirmAttempts,
			InitialInterval: cfg.Chain.ConfirmInterval.Duration,
			MaxInterval:     cfg.Chain.ConfirmInterval.Duration,
			Multiplier:      1,
		},
	}, logger)

	deps.Engine = contracts.NewEngineClient(lcd, cfg.Contracts.Engine)
	deps.Vamm = contracts.NewVammClient(lcd)
	if cfg.Contracts.InsuranceFund != "" {
		deps.Insurance = contracts.NewInsuranceFundClient(lcd, cfg.Contracts.InsuranceFund)
	}
	if cfg.Contracts.Pricefeed != "" {
		deps.Pricefeed = contracts.NewPricefeedClient(lcd, cfg.Contracts.Pricefeed)
	}

	logger.Info("keeper account loaded",
		slog.String("address", signer.Address()),
		slog.String("chain_id", cfg.Chain.ChainID),
	)
	return nil
}
