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
// built-in defaults, applies STRATCORE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known STRATCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.Venue, "STRATCORE_EXCHANGE_VENUE")
	setStr(&cfg.Exchange.ApiKey, "STRATCORE_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "STRATCORE_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedKeyPath, "STRATCORE_EXCHANGE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Exchange.KeyPassword, "STRATCORE_EXCHANGE_KEY_PASSWORD")
	setDuration(&cfg.Exchange.OrderTimeout, "STRATCORE_EXCHANGE_ORDER_TIMEOUT")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "STRATCORE_FEED_WS_URL")
	setDuration(&cfg.Feed.ReorderWindow, "STRATCORE_FEED_REORDER_WINDOW")
	setInt(&cfg.Feed.MaxWindowSize, "STRATCORE_FEED_MAX_WINDOW_SIZE")
	setBool(&cfg.Feed.WarmupFromCache, "STRATCORE_FEED_WARMUP_FROM_CACHE")

	// ── Gate ──
	setInt(&cfg.Gate.RequiredConfirmations, "STRATCORE_GATE_REQUIRED_CONFIRMATIONS")
	setFloat64(&cfg.Gate.MinScore, "STRATCORE_GATE_MIN_SCORE")

	// ── Risk ──
	setStr(&cfg.Risk.Scope, "STRATCORE_RISK_SCOPE")
	setFloat64(&cfg.Risk.InitialEquity, "STRATCORE_RISK_INITIAL_EQUITY")
	setInt(&cfg.Risk.MaxDailyTrades, "STRATCORE_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.MaxDrawdownPercent, "STRATCORE_RISK_MAX_DRAWDOWN_PERCENT")
	setFloat64(&cfg.Risk.MaxNotional, "STRATCORE_RISK_MAX_NOTIONAL")

	// ── Orion ──
	setBool(&cfg.Orion.Enabled, "STRATCORE_ORION_ENABLED")
	setBool(&cfg.Orion.AutoExecute, "STRATCORE_ORION_AUTO_EXECUTE")
	setFloat64(&cfg.Orion.MinBasisPercent, "STRATCORE_ORION_MIN_BASIS_PERCENT")
	setFloat64(&cfg.Orion.CapitalPerTrade, "STRATCORE_ORION_CAPITAL_PER_TRADE")
	setDuration(&cfg.Orion.ScanInterval, "STRATCORE_ORION_SCAN_INTERVAL")

	// ── Argus ──
	setBool(&cfg.Argus.Enabled, "STRATCORE_ARGUS_ENABLED")
	setFloat64(&cfg.Argus.ZScoreThreshold, "STRATCORE_ARGUS_Z_SCORE_THRESHOLD")
	setFloat64(&cfg.Argus.VolumeRatioThreshold, "STRATCORE_ARGUS_VOLUME_RATIO_THRESHOLD")
	setDuration(&cfg.Argus.FlagTTL, "STRATCORE_ARGUS_FLAG_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STRATCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "STRATCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STRATCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STRATCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STRATCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STRATCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STRATCORE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STRATCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STRATCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STRATCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STRATCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STRATCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STRATCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STRATCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STRATCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STRATCORE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "STRATCORE_REDIS_CACHE_TTL")
	setDuration(&cfg.Redis.LockTTL, "STRATCORE_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "STRATCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STRATCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "STRATCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STRATCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STRATCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STRATCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STRATCORE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "STRATCORE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "STRATCORE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "STRATCORE_ARCHIVE_INTERVAL")
	setDuration(&cfg.Archive.SnapshotInterval, "STRATCORE_ARCHIVE_SNAPSHOT_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STRATCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STRATCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STRATCORE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STRATCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STRATCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STRATCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "STRATCORE_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "STRATCORE_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "STRATCORE_NOTIFY_EVENTS")
	setInt(&cfg.Notify.EventsPerMinute, "STRATCORE_NOTIFY_EVENTS_PER_MINUTE")

	// ── Top-level ──
	setStr(&cfg.Mode, "STRATCORE_MODE")
	setStr(&cfg.LogLevel, "STRATCORE_LOG_LEVEL")
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

func setDuration(dst *Duration, key string) {
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
