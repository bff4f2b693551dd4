// Package config defines the top-level configuration for the crosstrade
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSTRADE_* environment variables.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Database      DatabaseConfig      `toml:"database"`
	Redis         RedisConfig         `toml:"redis"`
	S3            S3Config            `toml:"s3"`
	Relay         RelayConfig         `toml:"relay"`
	Exchange      ExchangeConfig      `toml:"exchange"`
	Chain         ChainConfig         `toml:"chain"`
	WalletRelayer WalletRelayerConfig `toml:"wallet_relayer"`
	Security      SecurityConfig      `toml:"security"`
	Risk          RiskConfig          `toml:"risk"`
	Resilience    ResilienceConfig    `toml:"resilience"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Orders        OrdersConfig        `toml:"orders"`
	Notify        NotifyConfig        `toml:"notify"`
	Archive       ArchiveConfig       `toml:"archive"`
	Mode          string              `toml:"mode"`
	LogLevel      string              `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	MaxConnIdle   duration `toml:"max_conn_idle"`
	PreferIPv4    bool     `toml:"prefer_ipv4"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
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
	Prefix         string `toml:"prefix"`
}

// RelayConfig holds the bridge provider endpoint and polling cadence.
type RelayConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	RPS           float64  `toml:"rps"`
	WebhookSecret string   `toml:"webhook_secret"`
	FirstPoll     duration `toml:"first_poll"`
	PollInterval  duration `toml:"poll_interval"`
	MaxPolls      int      `toml:"max_polls"`
}

// ExchangeConfig holds the prediction-market exchange endpoints.
type ExchangeConfig struct {
	ClobHost  string  `toml:"clob_host"`
	GammaHost string  `toml:"gamma_host"`
	RPS       float64 `toml:"rps"`
}

// ChainConfig describes the destination chain every intent settles on.
type ChainConfig struct {
	RPCURL              string `toml:"rpc_url"`
	ChainID             int64  `toml:"chain_id"`
	DestinationCurrency string `toml:"destination_currency"`
}

// WalletRelayerConfig holds the gasless relayer used to deploy smart
// wallets. Disabled means every user trades from an EOA.
type WalletRelayerConfig struct {
	Enabled           bool   `toml:"enabled"`
	BaseURL           string `toml:"base_url"`
	BuilderKey        string `toml:"builder_key"`
	BuilderSecret     string `toml:"builder_secret"`
	BuilderPassphrase string `toml:"builder_passphrase"`
}

// SecurityConfig holds the server-side secrets for key derivation and
// signature sealing.
type SecurityConfig struct {
	ServerSecret string `toml:"server_secret"`
	KeyDomain    string `toml:"key_domain"`
	SealSecret   string `toml:"seal_secret"`
}

// RiskConfig holds pre-trade limits for BUY intents. Amounts are in wei.
type RiskConfig struct {
	MinAmountWei   string   `toml:"min_amount_wei"`
	MaxAmountWei   string   `toml:"max_amount_wei"`
	MaxSlippageBps int      `toml:"max_slippage_bps"`
	UserRateLimit  int      `toml:"user_rate_limit"`
	UserRateWindow duration `toml:"user_rate_window"`
}

// ResilienceConfig tunes breakers, retries and call timeouts.
type ResilienceConfig struct {
	BreakerWindow       duration `toml:"breaker_window"`
	BreakerVolume       int      `toml:"breaker_volume"`
	BreakerErrorPercent float64  `toml:"breaker_error_percent"`
	BreakerReset        duration `toml:"breaker_reset"`
	RetryMaxAttempts    int      `toml:"retry_max_attempts"`
	RetryInitial        duration `toml:"retry_initial"`
	RetryMaxDelay       duration `toml:"retry_max_delay"`
	QuoteTimeout        duration `toml:"quote_timeout"`
	StatusTimeout       duration `toml:"status_timeout"`
	OrderTimeout        duration `toml:"order_timeout"`
}

// SchedulerConfig selects the job backend and tunes the queue worker.
type SchedulerConfig struct {
	// Backend is "redis" (durable, with in-process fallback) or "memory".
	Backend       string   `toml:"backend"`
	PollInterval  duration `toml:"poll_interval"`
	BatchSize     int      `toml:"batch_size"`
	Concurrency   int      `toml:"concurrency"`
	Lease         duration `toml:"lease"`
	DeadLetterMax int64    `toml:"dead_letter_max"`
}

// OrdersConfig tunes order placement and status polling.
type OrdersConfig struct {
	PriceBuffer       string   `toml:"price_buffer"`
	LockTTL           duration `toml:"lock_ttl"`
	CircuitRetryDelay duration `toml:"circuit_retry_delay"`
	MaxPlaceAttempts  int      `toml:"max_place_attempts"`
	StatusFirstPoll   duration `toml:"status_first_poll"`
	StatusBase        duration `toml:"status_base"`
	StatusMax         duration `toml:"status_max"`
	StatusMaxAttempts int      `toml:"status_max_attempts"`
	ApprovalTTL       duration `toml:"approval_ttl"`
	MarketCacheTTL    duration `toml:"market_cache_ttl"`
}

// NotifyConfig holds notification channel credentials and dispatch tuning.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Buffer            int      `toml:"buffer"`
	Workers           int      `toml:"workers"`
}

// ArchiveConfig controls export of terminal intents to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	MaxCatchUp    int      `toml:"max_catch_up"`
	PartSizeMB    int      `toml:"part_size_mb"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crosstrade",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			MaxConnIdle:   duration{5 * time.Minute},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "crosstrade",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "crosstrade-archive",
			ForcePathStyle: true,
		},
		Relay: RelayConfig{
			BaseURL:      "https://api.relay.link",
			RPS:          5,
			FirstPoll:    duration{2 * time.Second},
			PollInterval: duration{time.Second},
			MaxPolls:     60,
		},
		Exchange: ExchangeConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			RPS:       10,
		},
		Chain: ChainConfig{
			RPCURL:              "https://polygon-rpc.com",
			ChainID:             137,
			DestinationCurrency: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
		},
		WalletRelayer: WalletRelayerConfig{
			BaseURL: "https://relayer-v2.polymarket.com",
		},
		Security: SecurityConfig{
			KeyDomain: "crosstrade",
		},
		Risk: RiskConfig{
			MinAmountWei:   "1000000000000000",
			MaxAmountWei:   "10000000000000000000",
			MaxSlippageBps: 500,
			UserRateLimit:  10,
			UserRateWindow: duration{time.Minute},
		},
		Resilience: ResilienceConfig{
			BreakerWindow:       duration{10 * time.Second},
			BreakerVolume:       5,
			BreakerErrorPercent: 50,
			BreakerReset:        duration{30 * time.Second},
			RetryMaxAttempts:    3,
			RetryInitial:        duration{200 * time.Millisecond},
			RetryMaxDelay:       duration{2 * time.Second},
			QuoteTimeout:        duration{15 * time.Second},
			StatusTimeout:       duration{5 * time.Second},
			OrderTimeout:        duration{30 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Backend:       "redis",
			PollInterval:  duration{250 * time.Millisecond},
			BatchSize:     32,
			Concurrency:   8,
			Lease:         duration{time.Minute},
			DeadLetterMax: 10000,
		},
		Orders: OrdersConfig{
			PriceBuffer:       "0.02",
			LockTTL:           duration{45 * time.Second},
			CircuitRetryDelay: duration{30 * time.Second},
			MaxPlaceAttempts:  5,
			StatusFirstPoll:   duration{time.Second},
			StatusBase:        duration{time.Second},
			StatusMax:         duration{10 * time.Second},
			StatusMaxAttempts: 30,
			ApprovalTTL:       duration{24 * time.Hour},
			MarketCacheTTL:    duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			Events:  []string{"failed", "needs_retry", "poll_exhausted"},
			Buffer:  1024,
			Workers: 2,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 30,
			MaxCatchUp:    7,
			PartSizeMB:    8,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
	"dev":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNotifyEvents = map[string]bool{
	"failed":         true,
	"needs_retry":    true,
	"poll_exhausted": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)
	dev := mode == "dev"

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full, dev)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Server
	if mode != "worker" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Database and Redis are optional only in dev mode.
	if !dev {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
		if c.Redis.Addr == "" && c.Redis.URL == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Upstreams
	if c.Relay.BaseURL == "" {
		errs = append(errs, "relay: base_url must not be empty")
	}
	if c.Relay.MaxPolls < 1 {
		errs = append(errs, "relay: max_polls must be >= 1")
	}
	if !dev && len(c.Relay.WebhookSecret) < 16 {
		errs = append(errs, "relay: webhook_secret must be at least 16 characters")
	}
	if c.Exchange.ClobHost == "" || c.Exchange.GammaHost == "" {
		errs = append(errs, "exchange: clob_host and gamma_host must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.DestinationCurrency) {
		errs = append(errs, fmt.Sprintf("chain: destination_currency %q is not an address", c.Chain.DestinationCurrency))
	}
	if c.WalletRelayer.Enabled {
		if c.WalletRelayer.BaseURL == "" {
			errs = append(errs, "wallet_relayer: base_url must not be empty when enabled")
		}
		if c.WalletRelayer.BuilderKey == "" || c.WalletRelayer.BuilderSecret == "" || c.WalletRelayer.BuilderPassphrase == "" {
			errs = append(errs, "wallet_relayer: builder_key, builder_secret and builder_passphrase must all be set")
		}
	}

	// Security
	if len(c.Security.ServerSecret) < 32 {
		errs = append(errs, "security: server_secret must be at least 32 characters")
	}
	if len(c.Security.SealSecret) < 32 {
		errs = append(errs, "security: seal_secret must be at least 32 characters")
	}
	if c.Security.ServerSecret != "" && c.Security.ServerSecret == c.Security.SealSecret {
		errs = append(errs, "security: seal_secret must differ from server_secret")
	}
	if c.Security.KeyDomain == "" {
		errs = append(errs, "security: key_domain must not be empty")
	}

	// Risk
	minWei, minErr := decimal.NewFromString(c.Risk.MinAmountWei)
	maxWei, maxErr := decimal.NewFromString(c.Risk.MaxAmountWei)
	if minErr != nil || maxErr != nil {
		errs = append(errs, "risk: min_amount_wei and max_amount_wei must be integers")
	} else if minWei.Sign() <= 0 || maxWei.LessThan(minWei) {
		errs = append(errs, "risk: require 0 < min_amount_wei <= max_amount_wei")
	}
	if c.Risk.MaxSlippageBps < 0 || c.Risk.MaxSlippageBps > 10000 {
		errs = append(errs, "risk: max_slippage_bps must be 0-10000")
	}

	// Resilience
	if c.Resilience.BreakerErrorPercent <= 0 || c.Resilience.BreakerErrorPercent > 100 {
		errs = append(errs, "resilience: breaker_error_percent must be in (0, 100]")
	}
	if c.Resilience.RetryMaxAttempts < 1 {
		errs = append(errs, "resilience: retry_max_attempts must be >= 1")
	}

	// Scheduler
	switch c.Scheduler.Backend {
	case "redis":
		if dev {
			errs = append(errs, "scheduler: backend must be \"memory\" in dev mode")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("scheduler: unknown backend %q (valid: redis, memory)", c.Scheduler.Backend))
	}
	if c.Scheduler.Concurrency < 1 || c.Scheduler.BatchSize < 1 {
		errs = append(errs, "scheduler: concurrency and batch_size must be >= 1")
	}

	// Orders
	if buf, err := decimal.NewFromString(c.Orders.PriceBuffer); err != nil || buf.IsNegative() || buf.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "orders: price_buffer must be a decimal in [0, 1)")
	}
	if c.Orders.MaxPlaceAttempts < 1 || c.Orders.StatusMaxAttempts < 1 {
		errs = append(errs, "orders: max_place_attempts and status_max_attempts must be >= 1")
	}

	// Notify
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, "s3: bucket and region must be set when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.MaxCatchUp < 1 {
			errs = append(errs, "archive: max_catch_up must be >= 1")
		}
		if c.Archive.PartSizeMB < 5 {
			errs = append(errs, "archive: part_size_mb must be >= 5")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
