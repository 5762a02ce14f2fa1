package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
mode = "full"
log_level = "debug"

[chain]
lcd_url = "https://lcd.testnet.orai.io"
gas_price = "0.0025"

[wallet]
private_key = "0x1111111111111111111111111111111111111111111111111111111111111111"

[contracts]
engine = "orai1engine"
insurance_fund = "orai1insurance"
pricefeed = "orai1pricefeed"

[keeper]
interval = "5s"
whitelist = ["orai1whale"]

[pricefeed]
interval = "1m"

[[pricefeed.feeds]]
key = "ORAI"
url = "https://pricefeed.example/orai"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("PERPKEEPER_CONTRACTS_ENGINE", "orai1override")
	t.Setenv("PERPKEEPER_KEEPER_DRY_RUN", "true")
	t.Setenv("PERPKEEPER_NOTIFY_EVENTS", "tx_failed, balance_low ,")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Keeper.Interval.Duration != 5*time.Second {
		t.Errorf("keeper interval = %v", cfg.Keeper.Interval)
	}
	if cfg.Keeper.FundingGrace.Duration != 6*time.Second {
		t.Errorf("funding grace default lost: %v", cfg.Keeper.FundingGrace)
	}
	if cfg.Contracts.Engine != "orai1override" {
		t.Errorf("engine = %q, env override not applied", cfg.Contracts.Engine)
	}
	if !cfg.Keeper.DryRun {
		t.Error("dry run override not applied")
	}
	if strings.Join(cfg.Notify.Events, "|") != "tx_failed|balance_low" {
		t.Errorf("events = %v", cfg.Notify.Events)
	}
	if len(cfg.Pricefeed.Feeds) != 1 || cfg.Pricefeed.Feeds[0].Key != "ORAI" {
		t.Errorf("feeds = %+v", cfg.Pricefeed.Feeds)
	}
	if !cfg.RunsKeeper() || !cfg.RunsPricefeed() || !cfg.Submits() {
		t.Error("full mode should run both loops and submit")
	}

	gp, err := cfg.GasPriceDecimal()
	if err != nil || gp.String() != "0.0025" {
		t.Errorf("gas price = %v, %v", gp, err)
	}
	mb, err := cfg.MinBalanceInt()
	if err != nil || mb.Int64() != 1_000_000 {
		t.Errorf("min balance = %v, %v", mb, err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, sampleTOML+"\n[keeper.extra]\nfoo = 1\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("Load() error = %v, want unknown keys", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Defaults()
		c.Wallet.PrivateKey = "abc"
		c.Contracts.Engine = "orai1engine"
		c.Contracts.InsuranceFund = "orai1insurance"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with contracts", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"mode is normalised", func(c *Config) { c.Mode = " Monitor " }, ""},
		{"no key", func(c *Config) { c.Wallet.PrivateKey = "" }, "wallet"},
		{"key file without password", func(c *Config) {
			c.Wallet.PrivateKey = ""
			c.Wallet.EncryptedKeyPath = "/keys/keeper.json"
		}, "key_password"},
		{"bad gas price", func(c *Config) { c.Chain.GasPrice = "cheap" }, "gas_price"},
		{"bad min balance", func(c *Config) { c.Keeper.MinBalance = "1e6" }, "min_balance"},
		{"bad tick order", func(c *Config) { c.Keeper.TickOrderBuy = 3 }, "tick orders"},
		{"bad batch mode", func(c *Config) { c.Keeper.BatchMode = "atomic" }, "batch_mode"},
		{"pricefeed without feeds", func(c *Config) {
			c.Mode = ModePricefeed
			c.Contracts.Pricefeed = "orai1pricefeed"
		}, "at least one feed"},
		{"duplicate feeds", func(c *Config) {
			c.Mode = ModePricefeed
			c.Contracts.Pricefeed = "orai1pricefeed"
			c.Pricefeed.Feeds = []FeedConfig{{"ORAI", "https://a"}, {"ORAI", "https://b"}}
		}, "duplicate feed"},
		{"block trigger needs rpc", func(c *Config) {
			c.Keeper.BlockTrigger = true
			c.Chain.RPCURL = ""
		}, "rpc_url"},
		{"retention needs postgres", func(c *Config) {
			c.S3.Enabled = true
			c.S3.Bucket = "b"
			c.S3.RetentionDays = 30
		}, "retention_days"},
		{"telegram half set", func(c *Config) { c.Notify.TelegramToken = "t" }, "telegram"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedactedConfig(t *testing.T) {
	c := Defaults()
	c.Wallet.PrivateKey = "deadbeef"
	c.Postgres.DSN = "postgres://keeper:hunter2@db:5432/keeper"
	c.Notify.DiscordWebhookURL = "https://discord.example/hook"
	c.Keeper.Whitelist = []string{"orai1whale"}

	out := RedactedConfig(&c)
	if out.Wallet.PrivateKey != redacted || out.Notify.DiscordWebhookURL != redacted {
		t.Errorf("secrets not redacted: %+v", out.Wallet)
	}
	if strings.Contains(out.Postgres.DSN, "hunter2") || !strings.Contains(out.Postgres.DSN, "db:5432") {
		t.Errorf("dsn = %q", out.Postgres.DSN)
	}
	out.Keeper.Whitelist[0] = "changed"
	if c.Keeper.Whitelist[0] != "orai1whale" {
		t.Error("redacted copy aliases the original whitelist")
	}
	if c.Wallet.PrivateKey != "deadbeef" {
		t.Error("original mutated")
	}
}
