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
// built-in defaults, applies ULTRA_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. If path is empty or the
// file does not exist, defaults plus environment overrides are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ULTRA_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets and safety limits at deploy time without
// touching the TOML file. The bare DRY_RUN, MAX_POSITION_USDC, and
// DAILY_LOSS_LIMIT names are honored as aliases for the risk section.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ULTRA_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.Address, "ULTRA_WALLET_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ULTRA_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ULTRA_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "ULTRA_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "ULTRA_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "ULTRA_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.WsHost, "ULTRA_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "ULTRA_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "ULTRA_POLYMARKET_SIGNATURE_TYPE")

	// ── Risk (safety-critical, bare aliases kept for operators) ──
	setBool(&cfg.Risk.DryRun, "ULTRA_RISK_DRY_RUN")
	setBool(&cfg.Risk.DryRun, "DRY_RUN")
	setFloat64(&cfg.Risk.MaxPositionUSDC, "ULTRA_RISK_MAX_POSITION_USDC")
	setFloat64(&cfg.Risk.MaxPositionUSDC, "MAX_POSITION_USDC")
	setFloat64(&cfg.Risk.DailyLossLimit, "ULTRA_RISK_DAILY_LOSS_LIMIT")
	setFloat64(&cfg.Risk.DailyLossLimit, "DAILY_LOSS_LIMIT")
	setInt(&cfg.Risk.MaxOpenPositions, "ULTRA_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.MinOrderUSDC, "ULTRA_RISK_MIN_ORDER_USDC")
	setStr(&cfg.Risk.ResetTimeUTC, "ULTRA_RISK_RESET_TIME_UTC")

	// ── Copy trader ──
	setBool(&cfg.CopyTrader.Enabled, "ULTRA_COPY_TRADER_ENABLED")
	setStr(&cfg.CopyTrader.TargetAddress, "ULTRA_COPY_TRADER_ADDRESS")
	setFloat64(&cfg.CopyTrader.SizePercent, "ULTRA_COPY_TRADER_SIZE_PERCENT")
	setFloat64(&cfg.CopyTrader.SlippageTol, "ULTRA_COPY_TRADER_SLIPPAGE_TOLERANCE")
	setDuration(&cfg.CopyTrader.MaxSignalAge, "ULTRA_COPY_TRADER_MAX_SIGNAL_AGE")
	setFloat64(&cfg.CopyTrader.MinSignalUSDC, "ULTRA_COPY_TRADER_MIN_SIGNAL_USDC")
	setFloat64(&cfg.CopyTrader.AutoSellProfit, "ULTRA_COPY_TRADER_AUTO_SELL_PROFIT")
	setStringSlice(&cfg.CopyTrader.Markets, "ULTRA_COPY_TRADER_MARKETS")

	// ── Market maker ──
	setBool(&cfg.MarketMaker.Enabled, "ULTRA_MARKET_MAKER_ENABLED")
	setFloat64(&cfg.MarketMaker.QuoteSize, "ULTRA_MARKET_MAKER_QUOTE_SIZE")
	setInt(&cfg.MarketMaker.SpreadTicks, "ULTRA_MARKET_MAKER_SPREAD_TICKS")
	setDuration(&cfg.MarketMaker.RequoteInterval, "ULTRA_MARKET_MAKER_REQUOTE_INTERVAL")
	setInt(&cfg.MarketMaker.RequoteTicks, "ULTRA_MARKET_MAKER_REQUOTE_TICKS")
	setFloat64(&cfg.MarketMaker.SkewPerUnit, "ULTRA_MARKET_MAKER_SKEW_PER_UNIT")
	setDuration(&cfg.MarketMaker.ExpiryCutoff, "ULTRA_MARKET_MAKER_EXPIRY_CUTOFF")
	setStringSlice(&cfg.MarketMaker.Markets, "ULTRA_MARKET_MAKER_MARKETS")

	// ── Sniper ──
	setBool(&cfg.Sniper.Enabled, "ULTRA_SNIPER_ENABLED")
	setFloat64(&cfg.Sniper.BidPrice, "ULTRA_SNIPER_BID_PRICE")
	setFloat64(&cfg.Sniper.Shares, "ULTRA_SNIPER_SHARES")
	setInt(&cfg.Sniper.DepthTicks, "ULTRA_SNIPER_DEPTH_TICKS")
	setDuration(&cfg.Sniper.MaxAge, "ULTRA_SNIPER_MAX_AGE")
	setDuration(&cfg.Sniper.Cooldown, "ULTRA_SNIPER_COOLDOWN")
	setFloat64(&cfg.Sniper.SellTarget, "ULTRA_SNIPER_SELL_TARGET")
	setStringSlice(&cfg.Sniper.Markets, "ULTRA_SNIPER_MARKETS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ULTRA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ULTRA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ULTRA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ULTRA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ULTRA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ULTRA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ULTRA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ULTRA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ULTRA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ULTRA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ULTRA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ULTRA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ULTRA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ULTRA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ULTRA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ULTRA_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "ULTRA_REDIS_CACHE_TTL_MINUTES")
	setInt(&cfg.Redis.StreamMaxLen, "ULTRA_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ULTRA_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ULTRA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ULTRA_S3_REGION")
	setStr(&cfg.S3.Bucket, "ULTRA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ULTRA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ULTRA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ULTRA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ULTRA_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ULTRA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ULTRA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ULTRA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ULTRA_NOTIFY_EVENTS")

	// ── Advisory ──
	setStr(&cfg.Advisory.SentimentURL, "ULTRA_ADVISORY_SENTIMENT_URL")
	setDuration(&cfg.Advisory.Timeout, "ULTRA_ADVISORY_TIMEOUT")
	setDuration(&cfg.Advisory.CacheTTL, "ULTRA_ADVISORY_CACHE_TTL")

	// ── Gateway ──
	setDuration(&cfg.Gateway.AckTimeout, "ULTRA_GATEWAY_ACK_TIMEOUT")
	setInt(&cfg.Gateway.OrdersPerSec, "ULTRA_GATEWAY_ORDERS_PER_SEC")
	setDuration(&cfg.Gateway.ReconcileEvery, "ULTRA_GATEWAY_RECONCILE_EVERY")

	// ── Top-level ──
	setStr(&cfg.Mode, "ULTRA_MODE")
	setStr(&cfg.LogLevel, "ULTRA_LOG_LEVEL")
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
