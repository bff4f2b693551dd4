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
// built-in defaults, applies CROSSTRADE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSTRADE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "CROSSTRADE_MODE")
	setStr(&cfg.LogLevel, "CROSSTRADE_LOG_LEVEL")

	// ── Server ──
	setInt(&cfg.Server.Port, "CROSSTRADE_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStringSlice(&cfg.Server.CORSOrigins, "CROSSTRADE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CROSSTRADE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CROSSTRADE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CROSSTRADE_SERVER_RATE_WINDOW")

	// ── Database ──
	setStr(&cfg.Database.DSN, "CROSSTRADE_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Database.Host, "CROSSTRADE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CROSSTRADE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CROSSTRADE_DATABASE_NAME")
	setStr(&cfg.Database.User, "CROSSTRADE_DATABASE_USER")
	setStr(&cfg.Database.Password, "CROSSTRADE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CROSSTRADE_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "CROSSTRADE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CROSSTRADE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.PreferIPv4, "CROSSTRADE_DATABASE_PREFER_IPV4")
	setBool(&cfg.Database.RunMigrations, "CROSSTRADE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "CROSSTRADE_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL") // platform alias
	setStr(&cfg.Redis.Addr, "CROSSTRADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSTRADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSTRADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSTRADE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "CROSSTRADE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CROSSTRADE_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CROSSTRADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSTRADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSTRADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSTRADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSTRADE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CROSSTRADE_S3_USE_SSL")
	setStr(&cfg.S3.Prefix, "CROSSTRADE_S3_PREFIX")

	// ── Relay ──
	setStr(&cfg.Relay.BaseURL, "CROSSTRADE_RELAY_BASE_URL")
	setStr(&cfg.Relay.APIKey, "CROSSTRADE_RELAY_API_KEY")
	setFloat64(&cfg.Relay.RPS, "CROSSTRADE_RELAY_RPS")
	setStr(&cfg.Relay.WebhookSecret, "CROSSTRADE_RELAY_WEBHOOK_SECRET")
	setDuration(&cfg.Relay.FirstPoll, "CROSSTRADE_RELAY_FIRST_POLL")
	setDuration(&cfg.Relay.PollInterval, "CROSSTRADE_RELAY_POLL_INTERVAL")
	setInt(&cfg.Relay.MaxPolls, "CROSSTRADE_RELAY_MAX_POLLS")

	// ── Exchange ──
	setStr(&cfg.Exchange.ClobHost, "CROSSTRADE_EXCHANGE_CLOB_HOST")
	setStr(&cfg.Exchange.GammaHost, "CROSSTRADE_EXCHANGE_GAMMA_HOST")
	setFloat64(&cfg.Exchange.RPS, "CROSSTRADE_EXCHANGE_RPS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CROSSTRADE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "CROSSTRADE_CHAIN_ID")
	setStr(&cfg.Chain.DestinationCurrency, "CROSSTRADE_CHAIN_DESTINATION_CURRENCY")

	// ── Wallet relayer ──
	setBool(&cfg.WalletRelayer.Enabled, "CROSSTRADE_WALLET_RELAYER_ENABLED")
	setStr(&cfg.WalletRelayer.BaseURL, "CROSSTRADE_WALLET_RELAYER_BASE_URL")
	setStr(&cfg.WalletRelayer.BuilderKey, "CROSSTRADE_BUILDER_API_KEY")
	setStr(&cfg.WalletRelayer.BuilderSecret, "CROSSTRADE_BUILDER_API_SECRET")
	setStr(&cfg.WalletRelayer.BuilderPassphrase, "CROSSTRADE_BUILDER_API_PASSPHRASE")

	// ── Security ──
	setStr(&cfg.Security.ServerSecret, "CROSSTRADE_SERVER_SECRET")
	setStr(&cfg.Security.SealSecret, "CROSSTRADE_SEAL_SECRET")
	setStr(&cfg.Security.KeyDomain, "CROSSTRADE_KEY_DOMAIN")

	// ── Risk ──
	setStr(&cfg.Risk.MinAmountWei, "CROSSTRADE_RISK_MIN_AMOUNT_WEI")
	setStr(&cfg.Risk.MaxAmountWei, "CROSSTRADE_RISK_MAX_AMOUNT_WEI")
	setInt(&cfg.Risk.MaxSlippageBps, "CROSSTRADE_RISK_MAX_SLIPPAGE_BPS")
	setInt(&cfg.Risk.UserRateLimit, "CROSSTRADE_RISK_USER_RATE_LIMIT")
	setDuration(&cfg.Risk.UserRateWindow, "CROSSTRADE_RISK_USER_RATE_WINDOW")

	// ── Scheduler ──
	setStr(&cfg.Scheduler.Backend, "CROSSTRADE_SCHEDULER_BACKEND")
	setInt(&cfg.Scheduler.Concurrency, "CROSSTRADE_SCHEDULER_CONCURRENCY")
	setDuration(&cfg.Scheduler.PollInterval, "CROSSTRADE_SCHEDULER_POLL_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSTRADE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSTRADE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSTRADE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSTRADE_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CROSSTRADE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CROSSTRADE_ARCHIVE_RETENTION_DAYS")
}

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
