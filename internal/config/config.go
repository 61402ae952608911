// Package config defines the top-level configuration for the trading engine
// and provides validation helpers. Configuration is loaded once at startup
// and immutable thereafter; no component re-reads the process environment at
// runtime.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ULTRA_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Risk       RiskConfig       `toml:"risk"`
	CopyTrader CopyTraderConfig `toml:"copy_trader"`
	MarketMaker MarketMakerConfig `toml:"market_maker"`
	Sniper     SniperConfig     `toml:"sniper"`
	Markets    []MarketConfig   `toml:"markets"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Notify     NotifyConfig     `toml:"notify"`
	Advisory   AdvisoryConfig   `toml:"advisory"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	Address          string `toml:"address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds exchange API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	DataHost      string `toml:"data_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// RiskConfig holds the hard limits enforced by the risk gate. DryRun defaults
// to true; live trading must be opted into explicitly.
type RiskConfig struct {
	DryRun           bool     `toml:"dry_run"`
	MaxPositionUSDC  float64  `toml:"max_position_usdc"`
	DailyLossLimit   float64  `toml:"daily_loss_limit"`
	MaxOpenPositions int      `toml:"max_open_positions"`
	MinOrderUSDC     float64  `toml:"min_order_usdc"`
	ResetTimeUTC     string   `toml:"reset_time_utc"` // "HH:MM", daily counter reset
}

// CopyTraderConfig holds copy-trading strategy parameters.
type CopyTraderConfig struct {
	Enabled          bool     `toml:"enabled"`
	TargetAddress    string   `toml:"target_address"`
	SizePercent      float64  `toml:"size_percent"`      // fraction of observed trade, in percent
	SlippageTol      float64  `toml:"slippage_tolerance"` // max price worsening vs observed, absolute
	MaxSignalAge     duration `toml:"max_signal_age"`
	MinSignalUSDC    float64  `toml:"min_signal_usdc"`
	AutoSellProfit   float64  `toml:"auto_sell_profit"` // percent above entry for the exit order
	Markets          []string `toml:"markets"`
}

// MarketMakerConfig holds quoting parameters for the market maker.
type MarketMakerConfig struct {
	Enabled         bool     `toml:"enabled"`
	QuoteSize       float64  `toml:"quote_size"`
	SpreadTicks     int      `toml:"spread_ticks"`
	RequoteInterval duration `toml:"requote_interval"`
	RequoteTicks    int      `toml:"requote_ticks"` // midpoint move that forces a requote
	SkewPerUnit     float64  `toml:"skew_per_unit"` // ticks of quote shift per unit of inventory
	ExpiryCutoff    duration `toml:"expiry_cutoff"` // stop quoting inside this window before expiry
	Markets         []string `toml:"markets"`
}

// SniperConfig holds parameters for the orderbook sniper.
type SniperConfig struct {
	Enabled     bool     `toml:"enabled"`
	BidPrice    float64  `toml:"bid_price"` // resting low bid, e.g. 0.02
	Shares      float64  `toml:"shares"`
	DepthTicks  int      `toml:"depth_ticks"` // minimum distance below best bid
	MaxAge      duration `toml:"max_age"`
	Cooldown    duration `toml:"cooldown"`
	SellTarget  float64  `toml:"sell_target"`
	Markets     []string `toml:"markets"`
}

// MarketConfig describes a subscribed market. Token IDs are the two
// complementary outcome tokens; tick size defaults to 0.01.
type MarketConfig struct {
	ID        string   `toml:"id"`
	Slug      string   `toml:"slug"`
	Outcomes  []string `toml:"outcomes"`
	TokenIDs  []string `toml:"token_ids"`
	TickSize  float64  `toml:"tick_size"`
	ExpiresAt string   `toml:"expires_at"` // RFC3339, empty for open-ended markets
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
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
	StreamMaxLen    int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for the fill and
// report archive.
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

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// AdvisoryConfig holds best-effort advisory inputs. These never gate the
// order path; a zero value disables them.
type AdvisoryConfig struct {
	SentimentURL string   `toml:"sentiment_url"`
	Timeout      duration `toml:"timeout"`
	CacheTTL     duration `toml:"cache_ttl"`
}

// GatewayConfig tunes the order gateway boundary.
type GatewayConfig struct {
	AckTimeout     duration `toml:"ack_timeout"`
	OrdersPerSec   int      `toml:"orders_per_sec"`
	ReconcileEvery duration `toml:"reconcile_every"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. The risk section mirrors the
// conservative out-of-the-box limits: dry-run on, $50 per-market cap, $20
// daily loss limit.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 0,
		},
		Risk: RiskConfig{
			DryRun:           true,
			MaxPositionUSDC:  50,
			DailyLossLimit:   20,
			MaxOpenPositions: 5,
			MinOrderUSDC:     0.10,
			ResetTimeUTC:     "00:00",
		},
		CopyTrader: CopyTraderConfig{
			SizePercent:    10,
			SlippageTol:    0.01,
			MaxSignalAge:   duration{10 * time.Second},
			MinSignalUSDC:  5,
			AutoSellProfit: 20,
		},
		MarketMaker: MarketMakerConfig{
			QuoteSize:       10,
			SpreadTicks:     1,
			RequoteInterval: duration{15 * time.Second},
			RequoteTicks:    2,
			SkewPerUnit:     0.05,
			ExpiryCutoff:    duration{2 * time.Minute},
		},
		Sniper: SniperConfig{
			BidPrice:   0.02,
			Shares:     50,
			DepthTicks: 2,
			MaxAge:     duration{4 * time.Minute},
			Cooldown:   duration{90 * time.Second},
			SellTarget: 0.15,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "require",
			PoolMaxConns: 8,
			PoolMinConns: 1,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        8,
			MaxRetries:      3,
			CacheTTLMinutes: 10,
			StreamMaxLen:    10000,
		},
		Gateway: GatewayConfig{
			AckTimeout:     duration{10 * time.Second},
			OrdersPerSec:   10,
			ReconcileEvery: duration{30 * time.Second},
		},
		Advisory: AdvisoryConfig{
			Timeout:  duration{500 * time.Millisecond},
			CacheTTL: duration{5 * time.Minute},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// Validate checks internal consistency of the loaded configuration. It
// returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "monitor":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Risk.MaxPositionUSDC <= 0 {
		return fmt.Errorf("config: risk.max_position_usdc must be positive, got %v", c.Risk.MaxPositionUSDC)
	}
	if c.Risk.DailyLossLimit <= 0 {
		return fmt.Errorf("config: risk.daily_loss_limit must be positive, got %v", c.Risk.DailyLossLimit)
	}
	if _, err := parseResetTime(c.Risk.ResetTimeUTC); err != nil {
		return fmt.Errorf("config: risk.reset_time_utc: %w", err)
	}

	if !c.Risk.DryRun {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			return fmt.Errorf("config: live trading requires wallet.private_key or wallet.encrypted_key_path")
		}
	}

	if c.CopyTrader.Enabled {
		if c.CopyTrader.TargetAddress == "" {
			return fmt.Errorf("config: copy_trader.target_address is required when enabled")
		}
		if c.CopyTrader.SizePercent <= 0 || c.CopyTrader.SizePercent > 100 {
			return fmt.Errorf("config: copy_trader.size_percent must be in (0,100], got %v", c.CopyTrader.SizePercent)
		}
	}

	if c.MarketMaker.Enabled && c.MarketMaker.QuoteSize <= 0 {
		return fmt.Errorf("config: market_maker.quote_size must be positive, got %v", c.MarketMaker.QuoteSize)
	}

	if c.Sniper.Enabled {
		if c.Sniper.BidPrice <= 0 || c.Sniper.BidPrice >= 1 {
			return fmt.Errorf("config: sniper.bid_price must be in (0,1), got %v", c.Sniper.BidPrice)
		}
	}

	for i, m := range c.Markets {
		if m.ID == "" {
			return fmt.Errorf("config: markets[%d] missing id", i)
		}
		if len(m.TokenIDs) != 2 {
			return fmt.Errorf("config: markets[%d] (%s) needs exactly 2 token_ids", i, m.ID)
		}
	}

	return nil
}

// parseResetTime parses "HH:MM" into the offset from midnight UTC.
func parseResetTime(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ResetOffset returns the configured daily reset time as an offset from
// midnight UTC. Invalid values were rejected by Validate.
func (r RiskConfig) ResetOffset() time.Duration {
	off, _ := parseResetTime(r.ResetTimeUTC)
	return off
}
