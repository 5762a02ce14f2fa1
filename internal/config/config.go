// Package config defines the keeper's configuration, its defaults and
// validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by PERPKEEPER_* environment variables.
type Config struct {
	Chain     ChainConfig     `toml:"chain"`
	Wallet    WalletConfig    `toml:"wallet"`
	Contracts ContractsConfig `toml:"contracts"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Pricefeed PricefeedConfig `toml:"pricefeed"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// ChainConfig describes the Cosmos chain and how transactions are paid for.
type ChainConfig struct {
	ChainID string `toml:"chain_id"`
	// LCDURL is the REST endpoint for queries and broadcast.
	LCDURL string `toml:"lcd_url"`
	// RPCURL is the CometBFT endpoint used for new-block events.
	RPCURL          string   `toml:"rpc_url"`
	Prefix          string   `toml:"prefix"`
	Denom           string   `toml:"denom"`
	GasPrice        string   `toml:"gas_price"`
	BaseGas         uint64   `toml:"base_gas"`
	GasPerMsg       uint64   `toml:"gas_per_msg"`
	Memo            string   `toml:"memo"`
	RequestTimeout  duration `toml:"request_timeout"`
	ConfirmAttempts int      `toml:"confirm_attempts"`
	ConfirmInterval duration `toml:"confirm_interval"`
}

// WalletConfig holds the keeper account key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ContractsConfig holds the protocol contract addresses.
type ContractsConfig struct {
	Engine        string `toml:"engine"`
	InsuranceFund string `toml:"insurance_fund"`
	Pricefeed     string `toml:"pricefeed"`
}

// KeeperConfig tunes the trigger cycle.
type KeeperConfig struct {
	Interval     duration `toml:"interval"`
	BlockTrigger bool     `toml:"block_trigger"`
	// MinBalance in the fee denom's base unit.
	MinBalance     string   `toml:"min_balance"`
	DryRun         bool     `toml:"dry_run"`
	PageSize       uint32   `toml:"page_size"`
	MarketLimit    uint32   `toml:"market_limit"`
	MaxConcurrency int      `toml:"max_concurrency"`
	ClosePrice     string   `toml:"close_price"`
	BatchMode      string   `toml:"batch_mode"`
	FundingGrace   duration `toml:"funding_grace"`
	Whitelist      []string `toml:"whitelist"`
	LockKey        string   `toml:"lock_key"`
	LockTTL        duration `toml:"lock_ttl"`
	// TickOrderBuy and TickOrderSell are the engine order_by values used
	// when walking ticks (1 ascending, 2 descending).
	TickOrderBuy  int `toml:"tick_order_buy"`
	TickOrderSell int `toml:"tick_order_sell"`
}

// FeedConfig is one oracle price pushed on chain.
type FeedConfig struct {
	Key string `toml:"key"`
	URL string `toml:"url"`
}

// PricefeedConfig tunes the oracle price relay.
type PricefeedConfig struct {
	Interval        duration     `toml:"interval"`
	TimestampLag    duration     `toml:"timestamp_lag"`
	MaxDeviationBps int64        `toml:"max_deviation_bps"`
	OracleTimeout   duration     `toml:"oracle_timeout"`
	OracleAttempts  int          `toml:"oracle_attempts"`
	Feeds           []FeedConfig `toml:"feeds"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds object storage parameters for the report archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays moves executions older than this out of postgres. Zero
	// disables the sweep.
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds the status server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
	// ThrottleLimit alerts per event per ThrottleWindow; needs redis.
	ThrottleLimit  int      `toml:"throttle_limit"`
	ThrottleWindow duration `toml:"throttle_window"`
}

// MetricsConfig toggles the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration decodes TOML strings like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Modes accepted by the binary.
const (
	ModeKeeper    = "keeper"
	ModePricefeed = "pricefeed"
	ModeFull      = "full"
	ModeMonitor   = "monitor"
)

var validModes = map[string]bool{
	ModeKeeper:    true,
	ModePricefeed: true,
	ModeFull:      true,
	ModeMonitor:   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config with production defaults. Contract addresses and
// the key have no default.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:         "Oraichain",
			LCDURL:          "https://lcd.orai.io",
			RPCURL:          "https://rpc.orai.io",
			Prefix:          "orai",
			Denom:           "orai",
			GasPrice:        "0.001",
			BaseGas:         200_000,
			GasPerMsg:       300_000,
			RequestTimeout:  duration{30 * time.Second},
			ConfirmAttempts: 20,
			ConfirmInterval: duration{1500 * time.Millisecond},
		},
		Keeper: KeeperConfig{
			Interval:       duration{3 * time.Second},
			MinBalance:     "1000000",
			PageSize:       100,
			MaxConcurrency: 16,
			ClosePrice:     "simulated",
			BatchMode:      "split",
			FundingGrace:   duration{6 * time.Second},
			LockKey:        "keeper:cycle",
			LockTTL:        duration{2 * time.Minute},
			TickOrderBuy:   2,
			TickOrderSell:  1,
		},
		Pricefeed: PricefeedConfig{
			Interval:       duration{30 * time.Second},
			TimestampLag:   duration{12 * time.Second},
			OracleTimeout:  duration{30 * time.Second},
			OracleAttempts: 3,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "perpkeeper:",
		},
		S3: S3Config{
			Region:          "us-east-1",
			UseSSL:          true,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Addr:       ":8080",
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			DiscordUsername: "perpkeeper",
			ThrottleLimit:   5,
			ThrottleWindow:  duration{10 * time.Minute},
		},
		Metrics:  MetricsConfig{Enabled: true},
		Mode:     ModeKeeper,
		LogLevel: "info",
	}
}

// Submits reports whether the mode sends transactions.
func (c *Config) Submits() bool {
	return c.Mode != ModeMonitor
}

// RunsKeeper reports whether the mode runs the trigger cycle.
func (c *Config) RunsKeeper() bool {
	return c.Mode == ModeKeeper || c.Mode == ModeFull || c.Mode == ModeMonitor
}

// RunsPricefeed reports whether the mode runs the price relay.
func (c *Config) RunsPricefeed() bool {
	return c.Mode == ModePricefeed || c.Mode == ModeFull
}

// GasPriceDecimal parses chain.gas_price.
func (c *Config) GasPriceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(c.Chain.GasPrice))
}

// MinBalanceInt parses keeper.min_balance.
func (c *Config) MinBalanceInt() (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(strings.TrimSpace(c.Keeper.MinBalance))
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("config: keeper.min_balance %q is not an integer", c.Keeper.MinBalance)
	}
	return v, nil
}

// Validate checks Config and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		add("unknown mode %q (valid: keeper, pricefeed, full, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Chain
	if c.Chain.ChainID == "" {
		add("chain: chain_id must not be empty")
	}
	if !validURL(c.Chain.LCDURL) {
		add("chain: lcd_url %q is not an http(s) URL", c.Chain.LCDURL)
	}
	if c.Keeper.BlockTrigger && c.RunsKeeper() && !validURL(c.Chain.RPCURL) {
		add("chain: rpc_url is required when keeper.block_trigger is set")
	}
	if c.Chain.Prefix == "" || c.Chain.Denom == "" {
		add("chain: prefix and denom must not be empty")
	}
	if gp, err := c.GasPriceDecimal(); err != nil || gp.IsNegative() {
		add("chain: gas_price %q must be a non-negative decimal", c.Chain.GasPrice)
	}
	if c.Chain.GasPerMsg == 0 {
		add("chain: gas_per_msg must be > 0")
	}
	if c.Chain.ConfirmAttempts < 1 {
		add("chain: confirm_attempts must be >= 1")
	}

	// Wallet is needed to sign, and in monitor mode for the address.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		add("wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	// Contracts
	if c.Contracts.Engine == "" {
		add("contracts: engine must not be empty")
	}
	if c.RunsKeeper() && c.Contracts.InsuranceFund == "" {
		add("contracts: insurance_fund is required for mode %s", c.Mode)
	}
	if c.RunsPricefeed() && c.Contracts.Pricefeed == "" {
		add("contracts: pricefeed is required for mode %s", c.Mode)
	}

	// Keeper
	if c.RunsKeeper() {
		if c.Keeper.Interval.Duration <= 0 {
			add("keeper: interval must be > 0")
		}
		if mb, err := c.MinBalanceInt(); err != nil || mb.IsNegative() {
			add("keeper: min_balance %q must be a non-negative integer", c.Keeper.MinBalance)
		}
		if c.Keeper.PageSize == 0 {
			add("keeper: page_size must be > 0")
		}
		if c.Keeper.ClosePrice != "simulated" && c.Keeper.ClosePrice != "spot" {
			add("keeper: close_price must be simulated or spot, got %q", c.Keeper.ClosePrice)
		}
		if c.Keeper.BatchMode != "split" && c.Keeper.BatchMode != "single" {
			add("keeper: batch_mode must be split or single, got %q", c.Keeper.BatchMode)
		}
		if c.Keeper.FundingGrace.Duration < 0 {
			add("keeper: funding_grace must not be negative")
		}
		for _, o := range []int{c.Keeper.TickOrderBuy, c.Keeper.TickOrderSell} {
			if o != 1 && o != 2 {
				add("keeper: tick orders must be 1 (ascending) or 2 (descending), got %d", o)
				break
			}
		}
		if c.Keeper.LockTTL.Duration <= 0 {
			add("keeper: lock_ttl must be > 0")
		}
	}

	// Pricefeed
	if c.RunsPricefeed() {
		if len(c.Pricefeed.Feeds) == 0 {
			add("pricefeed: at least one feed is required for mode %s", c.Mode)
		}
		seen := map[string]bool{}
		for i, f := range c.Pricefeed.Feeds {
			if f.Key == "" || !validURL(f.URL) {
				add("pricefeed: feed %d needs a key and an http(s) url", i)
			}
			if seen[f.Key] {
				add("pricefeed: duplicate feed key %q", f.Key)
			}
			seen[f.Key] = true
		}
		if c.Pricefeed.Interval.Duration <= 0 {
			add("pricefeed: interval must be > 0")
		}
		if c.Pricefeed.OracleAttempts < 1 {
			add("pricefeed: oracle_attempts must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" || c.Postgres.Database == "" {
				add("postgres: host and database must be set (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			add("s3: bucket and region must not be empty")
		}
		if c.S3.RetentionDays > 0 && !c.Postgres.Enabled {
			add("s3: retention_days needs postgres to be enabled")
		}
		if c.S3.RetentionDays > 0 && c.S3.ArchiveInterval.Duration <= 0 {
			add("s3: archive_interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
