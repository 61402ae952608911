package feed

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

// walletPollInterval is how often the tracked wallet's activity is polled.
// The data API is the only source for third-party trades; there is no push
// channel for wallets we do not own.
const walletPollInterval = 3 * time.Second

// TradeSource is the slice of the data API the watcher needs.
type TradeSource interface {
	GetWalletTrades(ctx context.Context, wallet string, limit int) ([]domain.WalletSignal, error)
}

// WalletWatcher polls a tracked wallet's trade activity and emits each new
// trade exactly once as a wallet signal. Signals are never coalesced or
// dropped; emission blocks until the sink accepts.
type WalletWatcher struct {
	source TradeSource
	wallet string
	sink   Sink
	logger *slog.Logger

	seen    map[string]time.Time // signal key -> observed at
	started time.Time
}

// NewWalletWatcher creates a watcher for one wallet address.
func NewWalletWatcher(source TradeSource, wallet string, sink Sink, logger *slog.Logger) *WalletWatcher {
	return &WalletWatcher{
		source: source,
		wallet: wallet,
		sink:   sink,
		logger: logger.With(
			slog.String("component", "wallet_watcher"),
			slog.String("wallet", wallet)),
		seen: make(map[string]time.Time),
	}
}

// Run polls until ctx is cancelled. Trades executed before startup are
// recorded but not emitted, so a restart does not replay the wallet's
// history as fresh signals.
func (w *WalletWatcher) Run(ctx context.Context) error {
	w.started = time.Now()

	ticker := time.NewTicker(walletPollInterval)
	defer ticker.Stop()

	// Prime the seen set so only post-start trades signal.
	if err := w.poll(ctx, false); err != nil {
		w.logger.Warn("initial wallet poll failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx, true); err != nil {
				w.logger.Warn("wallet poll failed", slog.String("error", err.Error()))
			}
			w.prune()
		}
	}
}

func (w *WalletWatcher) poll(ctx context.Context, emit bool) error {
	trades, err := w.source.GetWalletTrades(ctx, w.wallet, 50)
	if err != nil {
		return err
	}

	for _, sig := range trades {
		key := signalKey(sig)
		if _, ok := w.seen[key]; ok {
			continue
		}
		w.seen[key] = time.Now()

		if !emit || sig.Timestamp.Before(w.started) {
			continue
		}

		w.logger.Info("wallet trade observed",
			slog.String("market_id", sig.MarketID),
			slog.String("side", string(sig.Side)),
			slog.Float64("price", sig.Price),
			slog.Float64("size", sig.Size))

		w.sink(ctx, domain.FeedEvent{
			Type:      domain.FeedEventSignal,
			MarketID:  sig.MarketID,
			Signal:    &sig,
			Timestamp: sig.Timestamp,
		})
	}

	return nil
}

// prune drops seen entries old enough that the API will no longer return
// them, keeping the set bounded.
func (w *WalletWatcher) prune() {
	cutoff := time.Now().Add(-time.Hour)
	for k, at := range w.seen {
		if at.Before(cutoff) {
			delete(w.seen, k)
		}
	}
}

func signalKey(sig domain.WalletSignal) string {
	return sig.AssetID + "|" + string(sig.Side) +
		"|" + sig.Timestamp.UTC().Format(time.RFC3339) +
		"|" + strconv.FormatFloat(sig.Price, 'f', 6, 64) +
		"|" + strconv.FormatFloat(sig.Size, 'f', 6, 64)
}
