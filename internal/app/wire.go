package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/ultratrader/internal/blob/s3"
	"github.com/alanyoungcy/ultratrader/internal/cache/redis"
	"github.com/alanyoungcy/ultratrader/internal/config"
	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/notify"
	"github.com/alanyoungcy/ultratrader/internal/platform/polymarket"
	"github.com/alanyoungcy/ultratrader/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function. Trade
// mode requires Postgres and Redis; monitor mode tolerates a nil store layer.
type Dependencies struct {
	// Markets is the resolved trading universe: configured markets enriched
	// with exchange metadata where the gamma API could supply it.
	Markets []domain.Market

	// Stores
	MarketStore   domain.MarketStore
	OrderStore    domain.OrderStore
	FillStore     domain.FillStore
	PositionStore domain.PositionStore
	AuditStore    domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Archival (nil unless S3 is enabled and Postgres is connected)
	Archiver domain.Archiver

	// Exchange REST clients
	Gamma *polymarket.GammaClient
	Data  *polymarket.DataClient

	// Notifications (nil when no channel is configured)
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require persistence.
func needsPostgres(mode string) bool {
	return mode == "trade"
}

// Wire constructs all concrete infrastructure from the given configuration
// and returns it together with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.FillStore = postgres.NewFillStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.BookCache = redis.NewOrderbookCache(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if deps.FillStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				deps.FillStore,
				deps.AuditStore,
			)
		}
	}

	// --- Exchange REST clients ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Data = polymarket.NewDataClient(cfg.Polymarket.DataHost)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Trading universe ---
	deps.Markets = resolveMarkets(ctx, cfg, deps, logger)

	return deps, cleanup, nil
}

// resolveMarkets turns the configured market list into domain markets,
// enriching each from the gamma API when reachable. Resolution is best
// effort; a market that cannot be enriched still trades with the configured
// identity fields.
func resolveMarkets(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) []domain.Market {
	markets := make([]domain.Market, 0, len(cfg.Markets))

	for _, mc := range cfg.Markets {
		m := domain.Market{
			ID:       mc.ID,
			Slug:     mc.Slug,
			TickSize: mc.TickSize,
			Status:   domain.MarketStatusActive,
		}
		for i := 0; i < 2 && i < len(mc.TokenIDs); i++ {
			m.TokenIDs[i] = mc.TokenIDs[i]
		}
		for i := 0; i < 2 && i < len(mc.Outcomes); i++ {
			m.Outcomes[i] = mc.Outcomes[i]
		}
		if mc.ExpiresAt != "" {
			if ts, err := time.Parse(time.RFC3339, mc.ExpiresAt); err == nil {
				m.ExpiresAt = ts
			}
		}
		if m.TickSize <= 0 {
			m.TickSize = 0.01
		}

		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		remote, err := deps.Gamma.GetMarket(fetchCtx, m.ID)
		cancel()
		if err != nil {
			logger.Warn("market metadata fetch failed, using configured values",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		} else {
			m = mergeMarket(m, remote)
		}

		if deps.MarketStore != nil {
			if err := deps.MarketStore.Upsert(ctx, m); err != nil {
				logger.Warn("market persist failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
			}
		}
		if err := deps.MarketCache.Set(ctx, m); err != nil {
			logger.Debug("market cache write failed", slog.String("market_id", m.ID), slog.String("error", err.Error()))
		}

		markets = append(markets, m)
	}

	return markets
}

// mergeMarket overlays exchange metadata onto a configured market. Configured
// token IDs win when present so an operator can pin the exact tokens to trade.
func mergeMarket(local, remote domain.Market) domain.Market {
	m := remote
	m.ID = local.ID
	if local.Slug != "" {
		m.Slug = local.Slug
	}
	if local.TokenIDs[0] != "" {
		m.TokenIDs = local.TokenIDs
	}
	if local.Outcomes[0] != "" {
		m.Outcomes = local.Outcomes
	}
	if local.TickSize > 0 && local.TickSize != 0.01 {
		m.TickSize = local.TickSize
	}
	if m.TickSize <= 0 {
		m.TickSize = 0.01
	}
	if !local.ExpiresAt.IsZero() {
		m.ExpiresAt = local.ExpiresAt
	}
	if m.Status == "" {
		m.Status = domain.MarketStatusActive
	}
	return m
}
