package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsPassValidation(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
mode = "monitor"

[trading]
min_profit_threshold = 0.06
max_opportunity_age = "500ms"

[redis]
addr = "redis.internal:6380"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "monitor", cfg.Mode)
	require.Equal(t, 0.06, cfg.Trading.MinProfitThreshold)
	require.Equal(t, 500*time.Millisecond, cfg.Trading.MaxOpportunityAge.Duration)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)

	// Untouched sections keep their defaults.
	require.Equal(t, 0.015, cfg.Trading.TakerFee)
	require.Equal(t, "btc-updown-15m", cfg.Venue.MarketPrefix)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UPDOWNBOT_VENUE_API_KEY", "from-env")
	t.Setenv("UPDOWNBOT_TRADING_DAILY_LOSS_LIMIT", "7.5")
	t.Setenv("UPDOWNBOT_TRADING_SUBMIT_TIMEOUT", "5s")
	t.Setenv("UPDOWNBOT_ORACLE_RPC_URLS", "https://a.example, https://b.example")
	t.Setenv("UPDOWNBOT_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, "from-env", cfg.Venue.ApiKey)
	require.Equal(t, 7.5, cfg.Trading.DailyLossLimit)
	require.Equal(t, 5*time.Second, cfg.Trading.SubmitTimeout.Duration)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Oracle.RpcURLs)
	require.False(t, cfg.Postgres.RunMigrations)
}

func TestEnvOverrideIgnoresMalformedValues(t *testing.T) {
	t.Setenv("UPDOWNBOT_TRADING_DAILY_LOSS_LIMIT", "not-a-number")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	require.Equal(t, 5.0, cfg.Trading.DailyLossLimit)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Trading.MinProfitThreshold = 0
	cfg.Trading.LagRatio = 1.5
	cfg.Venue.WsHost = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "mode")
	require.Contains(t, err.Error(), "min_profit_threshold")
	require.Contains(t, err.Error(), "lag_ratio")
	require.Contains(t, err.Error(), "ws_host")
}

func TestValidateOracleRPCsOnlyWhenEnabled(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.RpcURLs = nil

	require.Error(t, cfg.Validate())

	cfg.Oracle.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestMaxPositionFollowsMode(t *testing.T) {
	cfg := Defaults()

	cfg.Mode = "testing"
	require.Equal(t, 3.0, cfg.MaxPosition())

	cfg.Mode = "production"
	require.Equal(t, 10.0, cfg.MaxPosition())

	// Monitor never trades; the testing cap is a harmless default.
	cfg.Mode = "monitor"
	require.Equal(t, 3.0, cfg.MaxPosition())
}

func TestRedactedMasksSecretsOnly(t *testing.T) {
	cfg := Defaults()
	cfg.Venue.ApiKey = "key"
	cfg.Venue.ApiSecret = "secret"
	cfg.Postgres.Password = "pgpass"
	cfg.Notify.TelegramToken = "tok"

	red := Redacted(&cfg)

	require.Equal(t, "***", red.Venue.ApiKey)
	require.Equal(t, "***", red.Venue.ApiSecret)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Notify.TelegramToken)

	// Non-secret fields and the original are untouched.
	require.Equal(t, cfg.Venue.RestHost, red.Venue.RestHost)
	require.Equal(t, "key", cfg.Venue.ApiKey)

	// Empty secrets stay empty, not masked.
	require.Empty(t, red.Redis.Password)
}

func TestDurationTextRoundTrip(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	require.Equal(t, 250*time.Millisecond, d.Duration)

	out, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "250ms", string(out))
}
