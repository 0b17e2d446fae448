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
// built-in defaults, applies UPDOWNBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known UPDOWNBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.WsHost, "UPDOWNBOT_VENUE_WS_HOST")
	setStr(&cfg.Venue.RestHost, "UPDOWNBOT_VENUE_REST_HOST")
	setStr(&cfg.Venue.MarketPrefix, "UPDOWNBOT_VENUE_MARKET_PREFIX")
	setStr(&cfg.Venue.ApiKey, "UPDOWNBOT_VENUE_API_KEY")
	setStr(&cfg.Venue.ApiSecret, "UPDOWNBOT_VENUE_API_SECRET")
	setStr(&cfg.Venue.ApiPassphrase, "UPDOWNBOT_VENUE_API_PASSPHRASE")
	setStr(&cfg.Venue.EncryptedSecretPath, "UPDOWNBOT_VENUE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Venue.SecretPassword, "UPDOWNBOT_VENUE_SECRET_PASSWORD")

	// ── Spot ──
	setStr(&cfg.Spot.WsURL, "UPDOWNBOT_SPOT_WS_URL")
	setStr(&cfg.Spot.Symbol, "UPDOWNBOT_SPOT_SYMBOL")

	// ── Oracle ──
	setBool(&cfg.Oracle.Enabled, "UPDOWNBOT_ORACLE_ENABLED")
	setStringSlice(&cfg.Oracle.RpcURLs, "UPDOWNBOT_ORACLE_RPC_URLS")
	setStr(&cfg.Oracle.Aggregator, "UPDOWNBOT_ORACLE_AGGREGATOR")
	setDuration(&cfg.Oracle.CacheTTL, "UPDOWNBOT_ORACLE_CACHE_TTL")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinProfitThreshold, "UPDOWNBOT_TRADING_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Trading.MaxSlippage, "UPDOWNBOT_TRADING_MAX_SLIPPAGE")
	setFloat64(&cfg.Trading.TakerFee, "UPDOWNBOT_TRADING_TAKER_FEE")
	setFloat64(&cfg.Trading.MaxPositionTesting, "UPDOWNBOT_TRADING_MAX_POSITION_TESTING")
	setFloat64(&cfg.Trading.MaxPositionProduction, "UPDOWNBOT_TRADING_MAX_POSITION_PRODUCTION")
	setFloat64(&cfg.Trading.DailyLossLimit, "UPDOWNBOT_TRADING_DAILY_LOSS_LIMIT")
	setDuration(&cfg.Trading.MaxOpportunityAge, "UPDOWNBOT_TRADING_MAX_OPPORTUNITY_AGE")
	setDuration(&cfg.Trading.StalenessMaxAge, "UPDOWNBOT_TRADING_STALENESS_MAX_AGE")
	setDuration(&cfg.Trading.ScanInterval, "UPDOWNBOT_TRADING_SCAN_INTERVAL")
	setDuration(&cfg.Trading.MomentumWindow, "UPDOWNBOT_TRADING_MOMENTUM_WINDOW")
	setFloat64(&cfg.Trading.SpotMoveMin, "UPDOWNBOT_TRADING_SPOT_MOVE_MIN")
	setFloat64(&cfg.Trading.LagRatio, "UPDOWNBOT_TRADING_LAG_RATIO")
	setFloat64(&cfg.Trading.OracleDiscountBound, "UPDOWNBOT_TRADING_ORACLE_DISCOUNT_BOUND")
	setDuration(&cfg.Trading.SubmitTimeout, "UPDOWNBOT_TRADING_SUBMIT_TIMEOUT")
	setInt(&cfg.Trading.OrderRateLimit, "UPDOWNBOT_TRADING_ORDER_RATE_LIMIT")
	setDuration(&cfg.Trading.OrderRateWindow, "UPDOWNBOT_TRADING_ORDER_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWNBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "UPDOWNBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWNBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWNBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWNBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWNBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWNBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWNBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWNBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWNBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWNBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWNBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWNBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWNBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWNBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWNBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "UPDOWNBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "UPDOWNBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWNBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWNBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWNBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWNBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWNBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWNBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "UPDOWNBOT_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWNBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWNBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWNBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UPDOWNBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWNBOT_MODE")
	setStr(&cfg.LogLevel, "UPDOWNBOT_LOG_LEVEL")
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
