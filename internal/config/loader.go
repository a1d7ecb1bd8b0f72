package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Strategy ──
	setStr(&cfg.Strategy.Instrument, "PERPARB_STRATEGY_INSTRUMENT")
	setFloat64(&cfg.Strategy.EntryThresholdPct, "PERPARB_STRATEGY_ENTRY_THRESHOLD_PCT")
	setFloat64(&cfg.Strategy.PositionSizeUSD, "PERPARB_STRATEGY_POSITION_SIZE_USD")
	setFloat64(&cfg.Strategy.MaxPositionSizeUSD, "PERPARB_STRATEGY_MAX_POSITION_SIZE_USD")
	setInt(&cfg.Strategy.PollIntervalMs, "PERPARB_STRATEGY_POLL_INTERVAL_MS")
	setInt(&cfg.Strategy.QuoteTimeoutMs, "PERPARB_STRATEGY_QUOTE_TIMEOUT_MS")
	setBool(&cfg.Strategy.CycleLock, "PERPARB_STRATEGY_CYCLE_LOCK")
	setDuration(&cfg.Strategy.CycleLockTTL, "PERPARB_STRATEGY_CYCLE_LOCK_TTL")

	// ── Funding ──
	setInt(&cfg.Funding.FundingWindowSeconds, "PERPARB_FUNDING_WINDOW_SECONDS")
	setInt(&cfg.Funding.PollIntervalMs, "PERPARB_FUNDING_POLL_INTERVAL_MS")
	setDuration(&cfg.Funding.SettlementInterval, "PERPARB_FUNDING_SETTLEMENT_INTERVAL")
	setStr(&cfg.Funding.FundingVenue, "PERPARB_FUNDING_VENUE")

	// ── Execution ──
	setStr(&cfg.Execution.Mode, "PERPARB_EXECUTION_MODE")
	setInt(&cfg.Execution.SubmitTimeoutMs, "PERPARB_EXECUTION_SUBMIT_TIMEOUT_MS")
	setInt(&cfg.Execution.ConfirmTimeoutMs, "PERPARB_EXECUTION_CONFIRM_TIMEOUT_MS")
	setInt(&cfg.Execution.ConfirmPollMs, "PERPARB_EXECUTION_CONFIRM_POLL_MS")

	// ── Venues ──
	applyVenueOverrides(&cfg.VenueA, "PERPARB_VENUE_A_")
	applyVenueOverrides(&cfg.VenueB, "PERPARB_VENUE_B_")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "PERPARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "PERPARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "PERPARB_WALLET_KEY_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PERPARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PERPARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PERPARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PERPARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PERPARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PERPARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PERPARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "PERPARB_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PERPARB_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PERPARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PERPARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPARB_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "PERPARB_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PERPARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PERPARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PERPARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PERPARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPARB_MODE")
	setStr(&cfg.LogLevel, "PERPARB_LOG_LEVEL")
	setBool(&cfg.DryRun, "PERPARB_DRY_RUN")
	setBool(&cfg.DryRun, "SIMULATE") // compatibility alias
}

func applyVenueOverrides(v *VenueConfig, prefix string) {
	setStr(&v.ID, prefix+"ID")
	setStr(&v.Kind, prefix+"KIND")
	setStr(&v.QuoteStyle, prefix+"QUOTE_STYLE")
	setFloat64(&v.LotSize, prefix+"LOT_SIZE")
	setFloat64(&v.LimitMarkupPct, prefix+"LIMIT_MARKUP_PCT")
	setStr(&v.BaseURL, prefix+"BASE_URL")
	setStr(&v.WsURL, prefix+"WS_URL")
	setStr(&v.APIKey, prefix+"API_KEY")
	setStr(&v.APISecret, prefix+"API_SECRET")
	setStr(&v.Subaccount, prefix+"SUBACCOUNT")
	setInt(&v.MarketIndex, prefix+"MARKET_INDEX")
	setBool(&v.UseStream, prefix+"USE_STREAM")
	setInt(&v.RateLimitPerSecond, prefix+"RATE_LIMIT_PER_SECOND")
	setFloat64(&v.MinFeeBalance, prefix+"MIN_FEE_BALANCE")
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
