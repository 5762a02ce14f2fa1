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

// Load decodes the TOML file at path over Defaults, loads .env when present
// and applies PERPKEEPER_* overrides. An empty path uses defaults and the
// environment only. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deployment values
// without touching the TOML file. Empty variables are ignored.
func applyEnvOverrides(cfg *Config) {
	// Chain
	setStr(&cfg.Chain.ChainID, "PERPKEEPER_CHAIN_ID")
	setStr(&cfg.Chain.LCDURL, "PERPKEEPER_CHAIN_LCD_URL")
	setStr(&cfg.Chain.RPCURL, "PERPKEEPER_CHAIN_RPC_URL")
	setStr(&cfg.Chain.GasPrice, "PERPKEEPER_CHAIN_GAS_PRICE")
	setUint64(&cfg.Chain.BaseGas, "PERPKEEPER_CHAIN_BASE_GAS")
	setUint64(&cfg.Chain.GasPerMsg, "PERPKEEPER_CHAIN_GAS_PER_MSG")

	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "PERPKEEPER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PERPKEEPER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PERPKEEPER_WALLET_KEY_PASSWORD")

	// Contracts
	setStr(&cfg.Contracts.Engine, "PERPKEEPER_CONTRACTS_ENGINE")
	setStr(&cfg.Contracts.InsuranceFund, "PERPKEEPER_CONTRACTS_INSURANCE_FUND")
	setStr(&cfg.Contracts.Pricefeed, "PERPKEEPER_CONTRACTS_PRICEFEED")

	// Keeper
	setDuration(&cfg.Keeper.Interval, "PERPKEEPER_KEEPER_INTERVAL")
	setBool(&cfg.Keeper.BlockTrigger, "PERPKEEPER_KEEPER_BLOCK_TRIGGER")
	setStr(&cfg.Keeper.MinBalance, "PERPKEEPER_KEEPER_MIN_BALANCE")
	setBool(&cfg.Keeper.DryRun, "PERPKEEPER_KEEPER_DRY_RUN")
	setInt(&cfg.Keeper.MaxConcurrency, "PERPKEEPER_KEEPER_MAX_CONCURRENCY")
	setStr(&cfg.Keeper.BatchMode, "PERPKEEPER_KEEPER_BATCH_MODE")
	setStringSlice(&cfg.Keeper.Whitelist, "PERPKEEPER_KEEPER_WHITELIST")

	// Pricefeed
	setDuration(&cfg.Pricefeed.Interval, "PERPKEEPER_PRICEFEED_INTERVAL")
	setInt64(&cfg.Pricefeed.MaxDeviationBps, "PERPKEEPER_PRICEFEED_MAX_DEVIATION_BPS")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "PERPKEEPER_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "PERPKEEPER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPKEEPER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPKEEPER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPKEEPER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPKEEPER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPKEEPER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPKEEPER_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "PERPKEEPER_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "PERPKEEPER_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PERPKEEPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPKEEPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPKEEPER_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PERPKEEPER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "PERPKEEPER_REDIS_KEY_PREFIX")

	// S3
	setBool(&cfg.S3.Enabled, "PERPKEEPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PERPKEEPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPKEEPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPKEEPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPKEEPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPKEEPER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PERPKEEPER_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "PERPKEEPER_S3_RETENTION_DAYS")

	// Server
	setBool(&cfg.Server.Enabled, "PERPKEEPER_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "PERPKEEPER_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "PERPKEEPER_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPKEEPER_SERVER_CORS_ORIGINS")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "PERPKEEPER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPKEEPER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPKEEPER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPKEEPER_NOTIFY_EVENTS")

	// Top-level
	setBool(&cfg.Metrics.Enabled, "PERPKEEPER_METRICS_ENABLED")
	setStr(&cfg.Mode, "PERPKEEPER_MODE")
	setStr(&cfg.LogLevel, "PERPKEEPER_LOG_LEVEL")
}

// Typed env helpers. Each leaves the target alone when the variable is unset
// or does not parse.

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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
