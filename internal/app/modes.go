package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ultratrader/internal/advisory"
	"github.com/alanyoungcy/ultratrader/internal/alert"
	"github.com/alanyoungcy/ultratrader/internal/crypto"
	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/executor"
	"github.com/alanyoungcy/ultratrader/internal/feed"
	"github.com/alanyoungcy/ultratrader/internal/gateway"
	"github.com/alanyoungcy/ultratrader/internal/ledger"
	"github.com/alanyoungcy/ultratrader/internal/lifecycle"
	"github.com/alanyoungcy/ultratrader/internal/platform/polymarket"
	"github.com/alanyoungcy/ultratrader/internal/risk"
	"github.com/alanyoungcy/ultratrader/internal/scheduler"
	"github.com/alanyoungcy/ultratrader/internal/strategy"
)

// engineEnv is the read-only view strategies get of engine state.
type engineEnv struct {
	ledger  *ledger.Ledger
	tracker *lifecycle.Tracker
	markets map[string]domain.Market
}

func (e *engineEnv) Position(marketID, tokenID string) (domain.Position, bool) {
	return e.ledger.Position(marketID, tokenID)
}

func (e *engineEnv) NetSize(marketID string) float64 {
	return e.ledger.NetSize(marketID)
}

func (e *engineEnv) OpenOrders(strategyName, marketID string) []domain.Order {
	return e.tracker.OpenOrdersFor(strategyName, marketID)
}

func (e *engineEnv) Market(marketID string) (domain.Market, bool) {
	m, ok := e.markets[marketID]
	return m, ok
}

// TradeMode assembles and runs the full trading engine: feed in, strategies
// and risk gate in the middle, gateway out. It blocks until the context is
// cancelled or a component fails fatally.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	logger := a.logger

	if len(deps.Markets) == 0 {
		return errors.New("app: trade mode requires at least one configured market")
	}

	// Alert bus and consumers.
	alerts := alert.NewBus(0, logger)
	alerts.AddConsumer(alert.LogConsumer{Logger: logger})
	alerts.AddConsumer(alert.NewStreamConsumer(deps.SignalBus, ""))
	if deps.Notifier != nil {
		alerts.AddConsumer(deps.Notifier)
	}

	// Risk gate.
	gate := risk.NewGate(risk.Limits{
		DryRun:           cfg.Risk.DryRun,
		MaxPositionUSDC:  cfg.Risk.MaxPositionUSDC,
		DailyLossLimit:   cfg.Risk.DailyLossLimit,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MinOrderUSDC:     cfg.Risk.MinOrderUSDC,
		ResetOffset:      cfg.Risk.ResetOffset(),
	}, alerts, deps.AuditStore, logger)

	// Position ledger, feeding exposure and PnL back into the gate.
	led := ledger.New(deps.PositionStore, deps.FillStore, gate, logger)

	// Order gateway. Dry-run builds the matching simulator; the live path is
	// never constructed, so no order can reach the exchange by accident.
	var (
		gw     gateway.Gateway
		sim    *gateway.Sim
		live   *gateway.Live
		wallet = cfg.Wallet.Address
	)
	if cfg.Risk.DryRun {
		sim = gateway.NewSim(logger)
		gw = sim
		if wallet == "" {
			wallet = "dry-run"
		}
	} else {
		privateKey, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("app: load wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(privateKey, cfg.Polymarket.ChainID)
		if err != nil {
			return fmt.Errorf("app: wallet signer: %w", err)
		}
		wallet = signer.Address().Hex()

		clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, nil)
		if err := clob.DeriveAPIKey(ctx); err != nil {
			return fmt.Errorf("app: derive clob api key: %w", err)
		}

		live = gateway.NewLive(clob, deps.RateLimiter, logger, gateway.LiveConfig{
			OrdersPerSec:   cfg.Gateway.OrdersPerSec,
			ReconcileEvery: cfg.Gateway.ReconcileEvery.Duration,
		})
		gw = live
	}

	// Order lifecycle tracker.
	tracker := lifecycle.New(gw, led, gate, alerts, deps.OrderStore, logger, lifecycle.Config{
		AckTimeout: cfg.Gateway.AckTimeout.Duration,
	})

	// Strategy environment.
	marketsByID := make(map[string]domain.Market, len(deps.Markets))
	for _, m := range deps.Markets {
		marketsByID[m.ID] = m
	}
	env := &engineEnv{ledger: led, tracker: tracker, markets: marketsByID}

	// Advisory input for the copy trader.
	var advisor advisory.Advisor = advisory.Noop{}
	if cfg.Advisory.SentimentURL != "" {
		advisor = advisory.NewSentiment(
			cfg.Advisory.SentimentURL,
			cfg.Advisory.Timeout.Duration,
			cfg.Advisory.CacheTTL.Duration,
			logger,
		)
	}

	// Strategies. One instance per (strategy, market) pair: each instance
	// sees only its own market's events and keeps no state shared with its
	// siblings, so the scheduler can run pairs concurrently.
	registry := strategy.NewRegistry()
	sched := scheduler.New(logger, alerts)

	subscribed := func(want []string) []string {
		if len(want) == 0 {
			ids := make([]string, 0, len(deps.Markets))
			for _, m := range deps.Markets {
				ids = append(ids, m.ID)
			}
			return ids
		}
		var ids []string
		for _, id := range want {
			if _, ok := marketsByID[id]; ok {
				ids = append(ids, id)
			}
		}
		return ids
	}

	if cfg.CopyTrader.Enabled {
		for _, id := range subscribed(cfg.CopyTrader.Markets) {
			ctCfg := cfg.CopyTrader
			ctCfg.Markets = []string{id}
			ct := strategy.NewCopyTrader(ctCfg, env, advisor, logger)
			registry.Register(ct)
			sched.Add(ct, id)
		}
	}
	if cfg.MarketMaker.Enabled {
		for _, id := range subscribed(cfg.MarketMaker.Markets) {
			mmCfg := cfg.MarketMaker
			mmCfg.Markets = []string{id}
			mm := strategy.NewMarketMaker(mmCfg, env, logger)
			registry.Register(mm)
			sched.Add(mm, id)
		}
	}
	if cfg.Sniper.Enabled {
		for _, id := range subscribed(cfg.Sniper.Markets) {
			snCfg := cfg.Sniper
			snCfg.Markets = []string{id}
			sn := strategy.NewSniper(snCfg, env, logger)
			registry.Register(sn)
			sched.Add(sn, id)
		}
	}
	if len(registry.List()) == 0 {
		return errors.New("app: trade mode requires at least one enabled strategy")
	}
	logger.Info("strategies enabled", slog.Any("names", registry.List()))

	// Executor drains strategy intents through the gate into the tracker.
	exec := executor.New(sched.Intents(), gate, tracker, wallet, logger)

	// Dead or filled orders release their dedup slot, so cancel-and-replace
	// at an unchanged price is not suppressed as a duplicate.
	tracker.OnTerminal(exec.OrderClosed)

	// Kill-switch: freeze strategies, then pull every resting order.
	gate.OnHalt(func(reason string) {
		sched.PauseAll()
		cancelCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		tracker.CancelAll(cancelCtx)
	})

	g, runCtx := errgroup.WithContext(ctx)

	// Fills flow back to the owning strategy.
	tracker.OnFill(func(fill domain.Fill, order domain.Order) {
		sched.NotifyFill(runCtx, fill, order)
	})

	// Feed sink: mark the ledger, drive the simulator's matching, then hand
	// the event to the scheduler.
	sink := func(ctx context.Context, ev domain.FeedEvent) {
		if ev.Type == domain.FeedEventBook && ev.Book != nil {
			if ev.Book.BestBid > 0 && ev.Book.BestAsk > 0 {
				led.MarkPrice(ev.Book.AssetID, (ev.Book.BestBid+ev.Book.BestAsk)/2)
			}
			if sim != nil {
				sim.UpdateBook(ev.Book.AssetID, ev.Book.BestBid, ev.Book.BestAsk)
			}
		}
		sched.Dispatch(ctx, ev)
	}

	marketFeed := feed.NewMarketFeed(
		cfg.Polymarket.WsHost,
		deps.Markets,
		sink,
		deps.PriceCache,
		deps.BookCache,
		alerts,
		logger,
	)

	g.Go(func() error { return alerts.Run(runCtx) })
	g.Go(func() error { return gate.Run(runCtx) })
	g.Go(func() error { return tracker.Run(runCtx) })
	g.Go(func() error { return sched.Run(runCtx) })
	g.Go(func() error { return exec.Run(runCtx) })
	g.Go(func() error {
		defer marketFeed.Close()
		return marketFeed.Run(runCtx)
	})
	if live != nil {
		g.Go(func() error { return live.Run(runCtx) })
	}
	if cfg.CopyTrader.Enabled {
		watcher := feed.NewWalletWatcher(deps.Data, cfg.CopyTrader.TargetAddress, sink, logger)
		g.Go(func() error { return watcher.Run(runCtx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiver(runCtx, deps.Archiver, gate) })
	}

	alerts.Publishf(alert.LevelInfo, "engine_start", "Engine started",
		fmt.Sprintf("mode=trade dry_run=%v markets=%d", cfg.Risk.DryRun, len(deps.Markets)), nil)

	err := g.Wait()

	if closeErr := registry.Close(); closeErr != nil {
		logger.Warn("strategy close", slog.String("error", closeErr.Error()))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: trade mode: %w", err)
	}
	return nil
}

// runArchiver exports the previous day's fills and risk report shortly after
// each UTC midnight.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver, gate *risk.Gate) error {
	const afterMidnight = 5 * time.Minute

	for {
		now := time.Now().UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			Add(24*time.Hour + afterMidnight)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		day := time.Now().UTC().AddDate(0, 0, -1)

		archiveCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		count, err := archiver.ArchiveFills(archiveCtx, day)
		if err != nil {
			a.logger.Error("fill archive failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
		} else if count > 0 {
			a.logger.Info("fills archived",
				slog.String("day", day.Format("2006-01-02")),
				slog.Int64("count", count),
			)
		}
		if err := archiver.ArchiveDailyReport(archiveCtx, day, gate.Status()); err != nil {
			a.logger.Error("daily report archive failed",
				slog.String("day", day.Format("2006-01-02")),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// MonitorMode tails the durable alert stream and periodically logs cached
// prices for the configured markets. It never places orders and needs only
// Redis.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	logger := a.logger.With(slog.String("mode", "monitor"))

	var assets []string
	for _, m := range deps.Markets {
		for _, tok := range m.TokenIDs {
			if tok != "" {
				assets = append(assets, tok)
			}
		}
	}

	alertTicker := time.NewTicker(2 * time.Second)
	defer alertTicker.Stop()
	priceTicker := time.NewTicker(30 * time.Second)
	defer priceTicker.Stop()

	lastID := "0"
	logger.Info("monitor started", slog.Int("assets", len(assets)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-alertTicker.C:
			events, nextID, err := alert.ReadStream(ctx, deps.SignalBus, "", lastID, 100)
			if err != nil {
				logger.Warn("alert stream read failed", slog.String("error", err.Error()))
				continue
			}
			lastID = nextID
			for _, ev := range events {
				logger.Info("alert",
					slog.String("level", string(ev.Level)),
					slog.String("type", ev.Type),
					slog.String("message", ev.Message),
					slog.Time("ts", ev.Timestamp),
				)
			}

		case <-priceTicker.C:
			if len(assets) == 0 {
				continue
			}
			prices, err := deps.PriceCache.GetPrices(ctx, assets)
			if err != nil {
				logger.Warn("price read failed", slog.String("error", err.Error()))
				continue
			}
			for asset, price := range prices {
				logger.Info("price",
					slog.String("asset", asset),
					slog.Float64("mid", price),
				)
			}
		}
	}
}
