// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/perparb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPARB_* environment variables.
type Config struct {
	Strategy  StrategyConfig  `toml:"strategy"`
	Funding   FundingConfig   `toml:"funding"`
	Execution ExecutionConfig `toml:"execution"`
	VenueA    VenueConfig     `toml:"venue_a"`
	VenueB    VenueConfig     `toml:"venue_b"`
	Wallet    WalletConfig    `toml:"wallet"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	// DryRun keeps quotes and positions live but routes every order to a
	// paper fill engine.
	DryRun bool `toml:"dry_run"`
}

// StrategyConfig holds the parameters shared by both strategies. Percentages
// are expressed in percent, so 0.5 means half a percent.
type StrategyConfig struct {
	Instrument         string  `toml:"instrument"`
	EntryThresholdPct  float64 `toml:"entry_threshold_pct"`
	PositionSizeUSD    float64 `toml:"position_size_usd"`
	MaxPositionSizeUSD float64 `toml:"max_position_size_usd"`
	PollIntervalMs     int     `toml:"poll_interval_ms"`
	QuoteTimeoutMs     int     `toml:"quote_timeout_ms"`
	// CycleLock takes a Redis lock around each cycle so two processes never
	// trade the same instrument at once.
	CycleLock    bool     `toml:"cycle_lock"`
	CycleLockTTL duration `toml:"cycle_lock_ttl"`
}

// FundingConfig holds the funding-capture strategy parameters.
type FundingConfig struct {
	FundingWindowSeconds int      `toml:"funding_window_seconds"`
	PollIntervalMs       int      `toml:"poll_interval_ms"`
	SettlementInterval   duration `toml:"settlement_interval"`
	// FundingVenue selects which venue's funding rate drives the projection:
	// "a" or "b".
	FundingVenue string `toml:"funding_venue"`
}

// ExecutionConfig controls the two-leg coordinator.
type ExecutionConfig struct {
	// Mode is "auto", "atomic" or "sequential". Auto picks atomic when both
	// venues can build instructions for a shared submitter.
	Mode             string `toml:"mode"`
	SubmitTimeoutMs  int    `toml:"submit_timeout_ms"`
	ConfirmTimeoutMs int    `toml:"confirm_timeout_ms"`
	ConfirmPollMs    int    `toml:"confirm_poll_ms"`
}

// VenueConfig describes one venue.
type VenueConfig struct {
	ID             string      `toml:"id"`
	Kind           string      `toml:"kind"`
	QuoteStyle     string      `toml:"quote_style"`
	LotSize        float64     `toml:"lot_size"`
	LimitMarkupPct float64     `toml:"limit_markup_pct"`
	BaseURL        string      `toml:"base_url"`
	WsURL          string      `toml:"ws_url"`
	APIKey         string      `toml:"api_key"`
	APISecret      string      `toml:"api_secret"`
	Subaccount     string      `toml:"subaccount"`
	MarketIndex    int         `toml:"market_index"`
	ChainID        int64       `toml:"chain_id"`
	UseStream      bool        `toml:"use_stream"`
	MaxQuoteAge    duration    `toml:"max_quote_age"`
	// RateLimitPerSecond is shared through redis by every process using the
	// same account; 0 disables it.
	RateLimitPerSecond int `toml:"rate_limit_per_second"`
	// MinFeeBalance is the native balance a chain venue's signer must hold
	// for a cycle to trade; 0 disables the check.
	MinFeeBalance float64     `toml:"min_fee_balance"`
	Paper         PaperConfig `toml:"paper"`
}

// PaperConfig seeds a simulated venue.
type PaperConfig struct {
	Bid              float64 `toml:"bid"`
	Ask              float64 `toml:"ask"`
	Mark             float64 `toml:"mark"`
	BaseReserve      float64 `toml:"base_reserve"`
	QuoteReserve     float64 `toml:"quote_reserve"`
	FundingHourlyPct float64 `toml:"funding_hourly_pct"`
}

// WalletConfig holds the signing key for on-chain venues.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
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
	Enabled         bool   `toml:"enabled"`
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	StreamMaxLen    int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old execution records to object storage.
type ArchiveConfig struct {
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
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

// ServerConfig holds HTTP status server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimitPerMinute caps requests per client IP; 0 disables it.
	// Requires redis.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Strategy: StrategyConfig{
			Instrument:         "SOL-PERP",
			EntryThresholdPct:  0.5,
			PositionSizeUSD:    1000,
			MaxPositionSizeUSD: 5000,
			PollIntervalMs:     1000,
			QuoteTimeoutMs:     2000,
			CycleLock:          false,
			CycleLockTTL:       duration{30 * time.Second},
		},
		Funding: FundingConfig{
			FundingWindowSeconds: 30,
			PollIntervalMs:       1000,
			SettlementInterval:   duration{time.Hour},
			FundingVenue:         "b",
		},
		Execution: ExecutionConfig{
			Mode:             "auto",
			SubmitTimeoutMs:  5000,
			ConfirmTimeoutMs: 15000,
			ConfirmPollMs:    500,
		},
		VenueA: VenueConfig{
			ID:             "venue_a",
			Kind:           "paper",
			QuoteStyle:     string(domain.QuoteTopOfBook),
			LotSize:        0.01,
			LimitMarkupPct: 1.0,
			MaxQuoteAge:    duration{5 * time.Second},
		},
		VenueB: VenueConfig{
			ID:          "venue_b",
			Kind:        "paper",
			QuoteStyle:  string(domain.QuoteCurve),
			LotSize:     0.01,
			MaxQuoteAge: duration{5 * time.Second},
		},
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
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perparb-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"partial_failure", "trade_executed", "error"},
		},
		Mode:     "price_arb",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"price_arb":   true,
	"funding_arb": true,
	"all":         true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validVenueKinds = map[string]bool{
	"paper": true,
	"cex":   true,
	"chain": true,
}

var validExecutionModes = map[string]bool{
	"auto":       true,
	"atomic":     true,
	"sequential": true,
}

// RunsFunding reports whether the funding-capture strategy is active.
func (c *Config) RunsFunding() bool {
	m := strings.ToLower(c.Mode)
	return m == "funding_arb" || m == "all"
}

// RunsPriceArb reports whether the continuous spread strategy is active.
func (c *Config) RunsPriceArb() bool {
	m := strings.ToLower(c.Mode)
	return m == "price_arb" || m == "all"
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. The error wraps
// domain.ErrConfigurationInvalid.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: price_arb, funding_arb, all)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Strategy
	if strings.TrimSpace(c.Strategy.Instrument) == "" {
		errs = append(errs, "strategy: instrument must not be empty")
	}
	if c.Strategy.EntryThresholdPct <= 0 {
		errs = append(errs, "strategy: entry_threshold_pct must be > 0")
	}
	if c.Strategy.PositionSizeUSD <= 0 {
		errs = append(errs, "strategy: position_size_usd must be > 0")
	}
	if c.Strategy.MaxPositionSizeUSD <= 0 {
		errs = append(errs, "strategy: max_position_size_usd must be > 0")
	}
	if c.Strategy.PollIntervalMs <= 0 {
		errs = append(errs, "strategy: poll_interval_ms must be > 0")
	}
	if c.Strategy.QuoteTimeoutMs <= 0 {
		errs = append(errs, "strategy: quote_timeout_ms must be > 0")
	}
	if c.Strategy.CycleLock && !c.Redis.Enabled {
		errs = append(errs, "strategy: cycle_lock requires redis.enabled")
	}

	// Funding
	if c.RunsFunding() {
		window := time.Duration(c.Funding.FundingWindowSeconds) * time.Second
		if c.Funding.FundingWindowSeconds <= 0 {
			errs = append(errs, "funding: funding_window_seconds must be > 0")
		}
		if c.Funding.SettlementInterval.Duration <= 0 {
			errs = append(errs, "funding: settlement_interval must be > 0")
		} else if window >= c.Funding.SettlementInterval.Duration {
			errs = append(errs, "funding: funding_window_seconds must be shorter than settlement_interval")
		}
		if c.Funding.PollIntervalMs <= 0 {
			errs = append(errs, "funding: poll_interval_ms must be > 0")
		}
		if fv := strings.ToLower(c.Funding.FundingVenue); fv != "a" && fv != "b" {
			errs = append(errs, fmt.Sprintf("funding: funding_venue must be \"a\" or \"b\", got %q", c.Funding.FundingVenue))
		}
	}

	// Execution
	if !validExecutionModes[strings.ToLower(c.Execution.Mode)] {
		errs = append(errs, fmt.Sprintf("execution: unknown mode %q (valid: auto, atomic, sequential)", c.Execution.Mode))
	}
	if c.Execution.SubmitTimeoutMs <= 0 {
		errs = append(errs, "execution: submit_timeout_ms must be > 0")
	}
	if c.Execution.ConfirmTimeoutMs <= 0 {
		errs = append(errs, "execution: confirm_timeout_ms must be > 0")
	}
	if c.Execution.ConfirmPollMs <= 0 {
		errs = append(errs, "execution: confirm_poll_ms must be > 0")
	}

	// Venues
	errs = append(errs, c.VenueA.validate("venue_a")...)
	errs = append(errs, c.VenueB.validate("venue_b")...)
	if c.VenueA.ID != "" && c.VenueA.ID == c.VenueB.ID {
		errs = append(errs, "venues: venue_a.id and venue_b.id must differ")
	}
	if c.VenueA.Kind == "chain" || c.VenueB.Kind == "chain" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for chain venues")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit_per_minute requires redis.enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrConfigurationInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (v VenueConfig) validate(section string) []string {
	var errs []string
	if strings.TrimSpace(v.ID) == "" {
		errs = append(errs, section+": id must not be empty")
	}
	if !validVenueKinds[v.Kind] {
		errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: paper, cex, chain)", section, v.Kind))
	}
	switch domain.QuoteStyle(v.QuoteStyle) {
	case domain.QuoteTopOfBook, domain.QuoteCurve:
	default:
		errs = append(errs, fmt.Sprintf("%s: unknown quote_style %q (valid: top_of_book, curve)", section, v.QuoteStyle))
	}
	if v.LotSize <= 0 {
		errs = append(errs, section+": lot_size must be > 0")
	}
	if v.LimitMarkupPct < 0 || v.LimitMarkupPct >= 100 {
		errs = append(errs, section+": limit_markup_pct must be in [0, 100)")
	}
	if (v.Kind == "cex" || v.Kind == "chain") && v.BaseURL == "" {
		errs = append(errs, section+": base_url is required for kind "+v.Kind)
	}
	if v.Kind == "cex" && (v.APIKey == "" || v.APISecret == "") {
		errs = append(errs, section+": api_key and api_secret are required for kind cex")
	}
	if v.RateLimitPerSecond < 0 {
		errs = append(errs, section+": rate_limit_per_second must not be negative")
	}
	if v.MinFeeBalance < 0 {
		errs = append(errs, section+": min_fee_balance must not be negative")
	}
	if v.UseStream && v.WsURL == "" {
		errs = append(errs, section+": ws_url is required when use_stream is set")
	}
	if v.Kind == "paper" {
		p := v.Paper
		if p.Bid < 0 || p.Ask < 0 || p.Mark < 0 {
			errs = append(errs, section+": paper prices must not be negative")
		}
		if p.Bid > 0 && p.Ask > 0 && p.Bid > p.Ask {
			errs = append(errs, section+": paper bid must not exceed ask")
		}
	}
	return errs
}

// Duration helpers convert the millisecond fields to time.Duration.

func (s StrategyConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func (s StrategyConfig) QuoteTimeout() time.Duration {
	return time.Duration(s.QuoteTimeoutMs) * time.Millisecond
}

func (f FundingConfig) PollInterval() time.Duration {
	return time.Duration(f.PollIntervalMs) * time.Millisecond
}

func (f FundingConfig) Window() time.Duration {
	return time.Duration(f.FundingWindowSeconds) * time.Second
}

func (e ExecutionConfig) SubmitTimeout() time.Duration {
	return time.Duration(e.SubmitTimeoutMs) * time.Millisecond
}

func (e ExecutionConfig) ConfirmTimeout() time.Duration {
	return time.Duration(e.ConfirmTimeoutMs) * time.Millisecond
}

func (e ExecutionConfig) ConfirmPoll() time.Duration {
	return time.Duration(e.ConfirmPollMs) * time.Millisecond
}
