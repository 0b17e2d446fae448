// Package config defines the top-level configuration for the up/down
// arbitrage bot and provides loading and validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by UPDOWNBOT_* environment
// variables.
type Config struct {
	Venue    VenueConfig    `toml:"venue"`
	Spot     SpotConfig     `toml:"spot"`
	Oracle   OracleConfig   `toml:"oracle"`
	Trading  TradingConfig  `toml:"trading"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// VenueConfig holds the binary-market venue endpoints and credentials.
type VenueConfig struct {
	WsHost       string `toml:"ws_host"`
	RestHost     string `toml:"rest_host"`
	MarketPrefix string `toml:"market_prefix"`

	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	// EncryptedSecretPath points to a JSON blob produced by the crypto
	// package; when set, ApiSecret is decrypted from it at startup.
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// SpotConfig holds the spot-price feed parameters.
type SpotConfig struct {
	WsURL  string `toml:"ws_url"`
	Symbol string `toml:"symbol"`
}

// OracleConfig holds the settlement-oracle (Chainlink on Polygon) reader
// parameters. The oracle is the cross-check source for the spot reference.
type OracleConfig struct {
	Enabled    bool     `toml:"enabled"`
	RpcURLs    []string `toml:"rpc_urls"`
	Aggregator string   `toml:"aggregator"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// TradingConfig holds every tunable of the decision pipeline. All thresholds
// are injected; the core never hard-codes them.
type TradingConfig struct {
	// MinProfitThreshold is theta: the minimum fractional net edge.
	MinProfitThreshold float64 `toml:"min_profit_threshold"`
	// MaxSlippage is the maximum fractional VWAP degradation vs top-of-book.
	MaxSlippage float64 `toml:"max_slippage"`
	// TakerFee is the venue taker fee as a fraction of notional.
	TakerFee float64 `toml:"taker_fee"`

	// MaxPositionTesting / MaxPositionProduction are the per-trade dollar
	// caps; Mode selects which applies.
	MaxPositionTesting    float64 `toml:"max_position_testing"`
	MaxPositionProduction float64 `toml:"max_position_production"`

	DailyLossLimit float64 `toml:"daily_loss_limit"`

	// MaxOpportunityAge is the validity horizon attached to every detected
	// opportunity.
	MaxOpportunityAge duration `toml:"max_opportunity_age"`
	// StalenessMaxAge disqualifies a sub-feed whose last update is older.
	StalenessMaxAge duration `toml:"staleness_max_age"`
	// ScanInterval is the polling safety net behind the event-driven path.
	ScanInterval duration `toml:"scan_interval"`

	// MomentumWindow bounds the spot-price lookback.
	MomentumWindow duration `toml:"momentum_window"`
	// SpotMoveMin is the fractional spot move considered meaningful.
	SpotMoveMin float64 `toml:"spot_move_min"`
	// LagRatio: the implied probability must have moved at least this
	// fraction of the spot move, else the market is lagging.
	LagRatio float64 `toml:"lag_ratio"`
	// OracleDiscountBound: a side the oracle already favors trading below
	// this ask is a mispricing.
	OracleDiscountBound float64 `toml:"oracle_discount_bound"`

	// SubmitTimeout bounds the wait for a venue acknowledgment.
	SubmitTimeout duration `toml:"submit_timeout"`
	// OrderRateLimit / OrderRateWindow bound outbound submissions.
	OrderRateLimit  int      `toml:"order_rate_limit"`
	OrderRateWindow duration `toml:"order_rate_window"`
}

// PostgresConfig holds ledger database connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for ledger archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "250ms", "2s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// MaxPosition returns the per-trade dollar cap for the configured mode.
// Testing and production share one code path; only this cap differs.
func (c *Config) MaxPosition() float64 {
	if strings.EqualFold(c.Mode, "production") {
		return c.Trading.MaxPositionProduction
	}
	return c.Trading.MaxPositionTesting
}

// Defaults returns a Config populated with the documented default values.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			WsHost:       "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			RestHost:     "https://clob.polymarket.com",
			MarketPrefix: "btc-updown-15m",
		},
		Spot: SpotConfig{
			WsURL:  "wss://stream.binance.com:9443/ws",
			Symbol: "btcusdt",
		},
		Oracle: OracleConfig{
			Enabled: true,
			RpcURLs: []string{
				"https://polygon-bor-rpc.publicnode.com",
				"https://polygon.drpc.org",
				"https://polygon-rpc.com",
			},
			Aggregator: "0xc907E116054Ad103354f2D350FD2514433D57F6f",
			CacheTTL:   duration{time.Second},
		},
		Trading: TradingConfig{
			MinProfitThreshold:    0.04,
			MaxSlippage:           0.025,
			TakerFee:              0.015,
			MaxPositionTesting:    3.0,
			MaxPositionProduction: 10.0,
			DailyLossLimit:        5.0,
			MaxOpportunityAge:     duration{250 * time.Millisecond},
			StalenessMaxAge:       duration{2 * time.Second},
			ScanInterval:          duration{10 * time.Second},
			MomentumWindow:        duration{5 * time.Second},
			SpotMoveMin:           0.001,
			LagRatio:              0.5,
			OracleDiscountBound:   0.85,
			SubmitTimeout:         duration{3 * time.Second},
			OrderRateLimit:        10,
			OrderRateWindow:       duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updownbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updownbot-data",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Notify: NotifyConfig{
			Events: []string{
				"opportunity_detected", "order_filled", "order_failed",
				"risk_halted", "unhedged_leg", "feed_stale",
			},
		},
		Mode:     "testing",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. Testing and
// production are a single switch over the position cap, not separate paths.
var validModes = map[string]bool{
	"testing":    true,
	"production": true,
	"monitor":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found. A validation failure is
// the only fatal startup error in the system.
func (c *Config) Validate() error {
	var problems []string

	if !validModes[strings.ToLower(c.Mode)] {
		problems = append(problems, fmt.Sprintf("mode %q is not one of testing/production/monitor", c.Mode))
	}
	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug/info/warn/error", c.LogLevel))
	}

	t := c.Trading
	if t.MinProfitThreshold <= 0 || t.MinProfitThreshold >= 1 {
		problems = append(problems, "trading.min_profit_threshold must be in (0, 1)")
	}
	if t.MaxSlippage < 0 || t.MaxSlippage >= 1 {
		problems = append(problems, "trading.max_slippage must be in [0, 1)")
	}
	if t.TakerFee < 0 || t.TakerFee >= 1 {
		problems = append(problems, "trading.taker_fee must be in [0, 1)")
	}
	if t.MaxPositionTesting <= 0 {
		problems = append(problems, "trading.max_position_testing must be positive")
	}
	if t.MaxPositionProduction <= 0 {
		problems = append(problems, "trading.max_position_production must be positive")
	}
	if t.DailyLossLimit <= 0 {
		problems = append(problems, "trading.daily_loss_limit must be positive")
	}
	if t.MaxOpportunityAge.Duration <= 0 {
		problems = append(problems, "trading.max_opportunity_age must be positive")
	}
	if t.StalenessMaxAge.Duration <= 0 {
		problems = append(problems, "trading.staleness_max_age must be positive")
	}
	if t.ScanInterval.Duration <= 0 {
		problems = append(problems, "trading.scan_interval must be positive")
	}
	if t.MomentumWindow.Duration <= 0 {
		problems = append(problems, "trading.momentum_window must be positive")
	}
	if t.LagRatio <= 0 || t.LagRatio >= 1 {
		problems = append(problems, "trading.lag_ratio must be in (0, 1)")
	}
	if t.SubmitTimeout.Duration <= 0 {
		problems = append(problems, "trading.submit_timeout must be positive")
	}

	if c.Venue.WsHost == "" {
		problems = append(problems, "venue.ws_host must be set")
	}
	if c.Spot.WsURL == "" {
		problems = append(problems, "spot.ws_url must be set")
	}
	if c.Oracle.Enabled && len(c.Oracle.RpcURLs) == 0 {
		problems = append(problems, "oracle.rpc_urls must be set when oracle is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
