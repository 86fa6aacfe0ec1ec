// Package config defines the top-level configuration for the strategy
// execution core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dkwok94/stratcore/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by STRATCORE_* environment
// variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Feed     FeedConfig     `toml:"feed"`
	Engine   EngineConfig   `toml:"engine"`
	Gate     GateConfig     `toml:"gate"`
	Risk     RiskConfig     `toml:"risk"`
	Orion    OrionConfig    `toml:"orion"`
	Argus    ArgusConfig    `toml:"argus"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Replay   ReplayConfig   `toml:"replay"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig selects and parameterizes the execution adapter. The core
// only depends on the adapter contract; credentials are passed through to
// whichever implementation is wired in.
type ExchangeConfig struct {
	Venue            string   `toml:"venue"` // "paper" is built in
	ApiKey           string   `toml:"api_key"`
	ApiSecret        string   `toml:"api_secret"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	OrderTimeout     Duration `toml:"order_timeout"`
	BreakerFailures  int      `toml:"breaker_failures"` // consecutive failures before the transport breaker opens
	BreakerCooldown  Duration `toml:"breaker_cooldown"`

	Paper PaperConfig `toml:"paper"`
}

// PaperConfig tunes the built-in dry-run adapter.
type PaperConfig struct {
	SlippageBps  float64 `toml:"slippage_bps"`
	TakerFeeRate float64 `toml:"taker_fee_rate"`
	FillRatio    float64 `toml:"fill_ratio"` // 1.0 fills fully; <1 simulates partials
	OrdersPerSec float64 `toml:"orders_per_sec"`
}

// FeedConfig holds market data stream parameters.
type FeedConfig struct {
	WsURL           string   `toml:"ws_url"`
	ReorderWindow   Duration `toml:"reorder_window"` // holdback for out-of-order events
	MaxWindowSize   int      `toml:"max_window_size"`
	WarmupFromCache bool     `toml:"warmup_from_cache"`
}

// CadenceConfig maps a cadence profile to its timeframe and warm-up window.
type CadenceConfig struct {
	Interval string `toml:"interval"`
	Window   int    `toml:"window"`
}

// BotConfig declares one bot instance: a symbol, a strategy, and the
// position management parameters for that pipeline. Strategy parameters are
// tagged structs validated at construction, never free-form maps.
type BotConfig struct {
	ID       string `toml:"id"`
	Symbol   string `toml:"symbol"`
	Strategy string `toml:"strategy"`
	Cadence  string `toml:"cadence"` // hft, mft or lft
	Enabled  bool   `toml:"enabled"`

	SizeQuote    float64  `toml:"size_quote"` // quote currency committed per entry
	Leverage     float64  `toml:"leverage"`
	EntryTimeout Duration `toml:"entry_timeout"`

	EnablePyramiding          bool    `toml:"enable_pyramiding"`
	MaxPyramidLevels          int     `toml:"max_pyramid_levels"`
	PyramidStepPercent        float64 `toml:"pyramid_step_percent"`
	TrailingActivationPercent float64 `toml:"trailing_activation_percent"`
	TrailingStopPercent       float64 `toml:"trailing_stop_percent"`

	Trend    TrendParams    `toml:"trend"`
	MeanRev  MeanRevParams  `toml:"meanrev"`
	VWAP     VWAPParams     `toml:"vwap"`
	Breakout BreakoutParams `toml:"breakout"`
	Grid     GridParams     `toml:"grid"`
	DCA      DCAParams      `toml:"dca"`
}

// EngineConfig holds the bot fleet and cadence profiles.
type EngineConfig struct {
	Bots    []BotConfig              `toml:"bots"`
	Cadence map[string]CadenceConfig `toml:"cadence"`
}

// TrendParams configures the trend-following generator.
type TrendParams struct {
	FastPeriod      int     `toml:"fast_period"`
	SlowPeriod      int     `toml:"slow_period"`
	StopPercent     float64 `toml:"stop_percent"`
	TargetPercent   float64 `toml:"target_percent"`
	MinSlopePercent float64 `toml:"min_slope_percent"`
}

// MeanRevParams configures the Bollinger+RSI mean-reversion generator.
type MeanRevParams struct {
	Period        int     `toml:"period"`
	StdDevs       float64 `toml:"std_devs"`
	RSIPeriod     int     `toml:"rsi_period"`
	RSIOversold   float64 `toml:"rsi_oversold"`
	RSIOverbought float64 `toml:"rsi_overbought"`
	StopPercent   float64 `toml:"stop_percent"`
}

// VWAPParams configures the VWAP-reversion generator.
type VWAPParams struct {
	Period           int     `toml:"period"`
	DeviationPercent float64 `toml:"deviation_percent"`
	StopPercent      float64 `toml:"stop_percent"`
}

// BreakoutParams configures the volume-breakout generator.
type BreakoutParams struct {
	RangePeriod      int     `toml:"range_period"`
	VolumePeriod     int     `toml:"volume_period"`
	VolumeMultiplier float64 `toml:"volume_multiplier"`
	StopPercent      float64 `toml:"stop_percent"`
	TargetPercent    float64 `toml:"target_percent"`
}

// GridParams configures the grid generator.
type GridParams struct {
	Levels           int     `toml:"levels"`
	SpacingPercent   float64 `toml:"spacing_percent"`
	TolerancePercent float64 `toml:"tolerance_percent"`
	AnchorPeriod     int     `toml:"anchor_period"`
}

// DCAParams configures the DCA accumulation generator.
type DCAParams struct {
	Interval    Duration `toml:"interval"`
	RSIPeriod   int      `toml:"rsi_period"`
	RSIMax      float64  `toml:"rsi_max"` // only accumulate below this RSI
	StopPercent float64  `toml:"stop_percent"`
}

// GateConfig holds confirmation gate thresholds and layer weights.
type GateConfig struct {
	RequiredConfirmations int     `toml:"required_confirmations"`
	MinScore              float64 `toml:"min_score"`
	MinRiskReward         float64 `toml:"min_risk_reward"`
	MaxSpreadBps          float64 `toml:"max_spread_bps"`
	MinImbalance          float64 `toml:"min_imbalance"`
	VolumeMultiplier      float64 `toml:"volume_multiplier"`

	Weights GateWeights `toml:"weights"`
}

// GateWeights are per-layer weights for the aggregate score.
type GateWeights struct {
	RiskReward   float64 `toml:"risk_reward"`
	Spread       float64 `toml:"spread"`
	Imbalance    float64 `toml:"imbalance"`
	Regime       float64 `toml:"regime"`
	Volume       float64 `toml:"volume"`
	Manipulation float64 `toml:"manipulation"`
}

// RiskConfig holds account-level guardrails.
type RiskConfig struct {
	Scope              string  `toml:"scope"`
	InitialEquity      float64 `toml:"initial_equity"`
	MaxDailyTrades     int     `toml:"max_daily_trades"`
	MaxDrawdownPercent float64 `toml:"max_drawdown_percent"`
	MaxNotional        float64 `toml:"max_notional"` // per proposed entry
}

// BasisPair names one spot/futures symbol pair Orion scans.
type BasisPair struct {
	Spot    string `toml:"spot"`
	Futures string `toml:"futures"`
}

// OrionConfig holds cash-and-carry scanner and execution parameters.
type OrionConfig struct {
	Enabled             bool        `toml:"enabled"`
	AutoExecute         bool        `toml:"auto_execute"`
	Pairs               []BasisPair `toml:"pairs"`
	ScanInterval        Duration    `toml:"scan_interval"`
	MinBasisPercent     float64     `toml:"min_basis_percent"`
	ExitBasisPercent    float64     `toml:"exit_basis_percent"`
	ReversalStopPercent float64     `toml:"reversal_stop_percent"`
	MinCapital          float64     `toml:"min_capital"`
	MaxCapital          float64     `toml:"max_capital"`
	CapitalPerTrade     float64     `toml:"capital_per_trade"`
}

// ArgusConfig holds pump/dump detector thresholds.
type ArgusConfig struct {
	Enabled              bool     `toml:"enabled"`
	ReturnWindow         int      `toml:"return_window"`   // 1m candles in the move window
	BaselineWindow       int      `toml:"baseline_window"` // 1m candles in the baseline
	ZScoreThreshold      float64  `toml:"z_score_threshold"`
	VolumeRatioThreshold float64  `toml:"volume_ratio_threshold"`
	FlagTTL              Duration `toml:"flag_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   Duration `toml:"cache_ttl"`
	LockTTL    Duration `toml:"lock_ttl"`
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
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled          bool     `toml:"enabled"`
	RetentionDays    int      `toml:"retention_days"`
	Interval         Duration `toml:"interval"`
	SnapshotInterval Duration `toml:"snapshot_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"` // enables HMAC signing of webhook payloads
	Events            []string `toml:"events"`
	EventsPerMinute   int      `toml:"events_per_minute"` // per-channel burst control
}

// ReplayConfig holds parameters for the offline replay mode.
type ReplayConfig struct {
	File     string `toml:"file"`   // local JSONL candle file
	S3Key    string `toml:"s3_key"` // alternative: object key in the archive bucket; a trailing "/" replays every object under the prefix
	Symbol   string `toml:"symbol"`
	Strategy string `toml:"strategy"`
	Interval string `toml:"interval"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Strategy names accepted in BotConfig.Strategy.
var validStrategies = map[string]bool{
	"trend":    true,
	"meanrev":  true,
	"vwap":     true,
	"breakout": true,
	"grid":     true,
	"dca":      true,
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":    true,
	"scan":   true,
	"replay": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			Venue:           "paper",
			OrderTimeout:    Duration{10 * time.Second},
			BreakerFailures: 5,
			BreakerCooldown: Duration{30 * time.Second},
			Paper: PaperConfig{
				SlippageBps:  2,
				TakerFeeRate: 0.0004,
				FillRatio:    1.0,
				OrdersPerSec: 10,
			},
		},
		Feed: FeedConfig{
			ReorderWindow:   Duration{2 * time.Second},
			MaxWindowSize:   500,
			WarmupFromCache: true,
		},
		Engine: EngineConfig{
			Cadence: map[string]CadenceConfig{
				"hft": {Interval: "1m", Window: 120},
				"mft": {Interval: "15m", Window: 96},
				"lft": {Interval: "4h", Window: 90},
			},
		},
		Gate: GateConfig{
			RequiredConfirmations: 3,
			MinScore:              60,
			MinRiskReward:         1.5,
			MaxSpreadBps:          10,
			MinImbalance:          0.1,
			VolumeMultiplier:      1.2,
			Weights: GateWeights{
				RiskReward:   1.0,
				Spread:       0.5,
				Imbalance:    0.75,
				Regime:       1.0,
				Volume:       0.75,
				Manipulation: 1.5,
			},
		},
		Risk: RiskConfig{
			Scope:              "account",
			InitialEquity:      10_000,
			MaxDailyTrades:     20,
			MaxDrawdownPercent: 10,
			MaxNotional:        50_000,
		},
		Orion: OrionConfig{
			Enabled:             false,
			AutoExecute:         false,
			ScanInterval:        Duration{time.Minute},
			MinBasisPercent:     0.3,
			ExitBasisPercent:    0.1,
			ReversalStopPercent: -0.5,
			MinCapital:          100,
			MaxCapital:          100_000,
			CapitalPerTrade:     1_000,
		},
		Argus: ArgusConfig{
			Enabled:              true,
			ReturnWindow:         5,
			BaselineWindow:       60,
			ZScoreThreshold:      4.0,
			VolumeRatioThreshold: 5.0,
			FlagTTL:              Duration{30 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "stratcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			CacheTTL:   Duration{15 * time.Minute},
			LockTTL:    Duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "stratcore-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:          false,
			RetentionDays:    90,
			Interval:         Duration{6 * time.Hour},
			SnapshotInterval: Duration{10 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events:          []string{"breaker_tripped", "breaker_reset", "position_closed", "position_error"},
			EventsPerMinute: 20,
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, scan, replay)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.Venue == "" {
		errs = append(errs, "exchange: venue must not be empty")
	}
	if c.Exchange.Venue != "paper" {
		if c.Exchange.ApiKey == "" && c.Exchange.EncryptedKeyPath == "" {
			errs = append(errs, "exchange: either api_key or encrypted_key_path must be set for venue "+c.Exchange.Venue)
		}
		if c.Exchange.EncryptedKeyPath != "" && c.Exchange.KeyPassword == "" {
			errs = append(errs, "exchange: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Exchange.OrderTimeout.Duration <= 0 {
		errs = append(errs, "exchange: order_timeout must be positive")
	}
	if c.Exchange.Paper.FillRatio <= 0 || c.Exchange.Paper.FillRatio > 1 {
		errs = append(errs, fmt.Sprintf("exchange.paper: fill_ratio must be in (0,1], got %f", c.Exchange.Paper.FillRatio))
	}

	// Feed
	if c.Mode == "run" && c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty in run mode")
	}
	if c.Feed.MaxWindowSize < 10 {
		errs = append(errs, "feed: max_window_size must be >= 10")
	}
	if c.Feed.ReorderWindow.Duration < 0 {
		errs = append(errs, "feed: reorder_window must not be negative")
	}

	// Engine
	ids := make(map[string]bool, len(c.Engine.Bots))
	for i, bot := range c.Engine.Bots {
		prefix := fmt.Sprintf("engine.bots[%d]", i)
		if bot.ID == "" {
			errs = append(errs, prefix+": id must not be empty")
		} else if ids[bot.ID] {
			errs = append(errs, prefix+": duplicate bot id "+bot.ID)
		}
		ids[bot.ID] = true
		if bot.Symbol == "" {
			errs = append(errs, prefix+": symbol must not be empty")
		}
		if !validStrategies[bot.Strategy] {
			errs = append(errs, fmt.Sprintf("%s: unknown strategy %q", prefix, bot.Strategy))
		}
		if _, ok := c.Engine.Cadence[bot.Cadence]; !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown cadence %q", prefix, bot.Cadence))
		}
		if bot.SizeQuote <= 0 {
			errs = append(errs, prefix+": size_quote must be > 0")
		}
		if bot.Leverage < 1 {
			errs = append(errs, prefix+": leverage must be >= 1")
		}
		if bot.EntryTimeout.Duration <= 0 {
			errs = append(errs, prefix+": entry_timeout must be positive")
		}
		if bot.EnablePyramiding {
			if bot.MaxPyramidLevels < 1 {
				errs = append(errs, prefix+": max_pyramid_levels must be >= 1 when pyramiding is enabled")
			}
			if bot.PyramidStepPercent <= 0 {
				errs = append(errs, prefix+": pyramid_step_percent must be > 0 when pyramiding is enabled")
			}
		}
		if bot.TrailingStopPercent < 0 || bot.TrailingActivationPercent < 0 {
			errs = append(errs, prefix+": trailing percentages must not be negative")
		}
	}
	for name, cad := range c.Engine.Cadence {
		if !domain.Interval(cad.Interval).Valid() {
			errs = append(errs, fmt.Sprintf("engine.cadence.%s: unknown interval %q", name, cad.Interval))
		}
		if cad.Window < 10 {
			errs = append(errs, fmt.Sprintf("engine.cadence.%s: window must be >= 10", name))
		}
	}

	// Gate
	if c.Gate.RequiredConfirmations < 1 {
		errs = append(errs, "gate: required_confirmations must be >= 1")
	}
	if c.Gate.MinScore < 0 || c.Gate.MinScore > 100 {
		errs = append(errs, fmt.Sprintf("gate: min_score must be in [0,100], got %f", c.Gate.MinScore))
	}

	// Risk
	if c.Risk.Scope == "" {
		errs = append(errs, "risk: scope must not be empty")
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if c.Risk.MaxDrawdownPercent <= 0 || c.Risk.MaxDrawdownPercent > 100 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown_percent must be in (0,100], got %f", c.Risk.MaxDrawdownPercent))
	}
	if c.Risk.InitialEquity <= 0 {
		errs = append(errs, "risk: initial_equity must be > 0")
	}

	// Orion
	if c.Orion.Enabled {
		if len(c.Orion.Pairs) == 0 {
			errs = append(errs, "orion: at least one pair is required when enabled")
		}
		for i, pair := range c.Orion.Pairs {
			if pair.Spot == "" || pair.Futures == "" {
				errs = append(errs, fmt.Sprintf("orion.pairs[%d]: spot and futures must both be set", i))
			}
		}
		if c.Orion.MinBasisPercent <= 0 {
			errs = append(errs, "orion: min_basis_percent must be > 0 when enabled")
		}
		if c.Orion.MinCapital <= 0 || c.Orion.MaxCapital < c.Orion.MinCapital {
			errs = append(errs, "orion: capital bounds require 0 < min_capital <= max_capital")
		}
		if c.Orion.CapitalPerTrade < c.Orion.MinCapital || c.Orion.CapitalPerTrade > c.Orion.MaxCapital {
			errs = append(errs, "orion: capital_per_trade must lie within [min_capital, max_capital]")
		}
		if c.Orion.ScanInterval.Duration <= 0 {
			errs = append(errs, "orion: scan_interval must be positive")
		}
	}

	// Argus
	if c.Argus.Enabled {
		if c.Argus.ReturnWindow < 2 {
			errs = append(errs, "argus: return_window must be >= 2")
		}
		if c.Argus.BaselineWindow <= c.Argus.ReturnWindow {
			errs = append(errs, "argus: baseline_window must exceed return_window")
		}
		if c.Argus.ZScoreThreshold <= 0 {
			errs = append(errs, "argus: z_score_threshold must be > 0")
		}
		if c.Argus.FlagTTL.Duration <= 0 {
			errs = append(errs, "argus: flag_ttl must be positive")
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 settings are only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Replay
	if c.Mode == "replay" {
		if c.Replay.File == "" && c.Replay.S3Key == "" {
			errs = append(errs, "replay: file or s3_key must be set in replay mode")
		}
		if !validStrategies[c.Replay.Strategy] {
			errs = append(errs, fmt.Sprintf("replay: unknown strategy %q", c.Replay.Strategy))
		}
		if c.Replay.Symbol == "" {
			errs = append(errs, "replay: symbol must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
