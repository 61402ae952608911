package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/config"
	"github.com/alanyoungcy/ultratrader/internal/domain"
)

const trackedWallet = "0xAbCd000000000000000000000000000000000001"

type fixedAdvisor struct {
	score float64
	ok    bool
}

func (a fixedAdvisor) Confidence(context.Context, string) (float64, bool) {
	return a.score, a.ok
}

func ctConfig() config.CopyTraderConfig {
	cfg := config.Defaults().CopyTrader
	cfg.Enabled = true
	cfg.TargetAddress = trackedWallet
	cfg.SizePercent = 10
	cfg.SlippageTol = 0.01
	cfg.MaxSignalAge.Duration = 10 * time.Second
	cfg.MinSignalUSDC = 5
	cfg.AutoSellProfit = 20
	return cfg
}

func walletSignal(side domain.OrderSide, price, size float64) domain.WalletSignal {
	return domain.WalletSignal{
		Wallet:    trackedWallet,
		MarketID:  "m1",
		AssetID:   "tok-yes",
		Side:      side,
		Price:     price,
		Size:      size,
		Timestamp: time.Now(),
	}
}

func TestCopyTraderMirrorsBuyWithSlippageBound(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())
	require.NoError(t, ct.Init(context.Background()))

	intents, err := ct.OnWalletSignal(context.Background(), walletSignal(domain.OrderSideBuy, 0.40, 200))
	require.NoError(t, err)
	require.Len(t, intents, 1)

	in := intents[0]
	assert.Equal(t, domain.OrderSideBuy, in.Side)
	assert.InDelta(t, 0.41, in.Price(), 1e-9) // observed + tolerance
	assert.InDelta(t, 20.0, in.Size(), 1e-9)  // 10% of 200
	assert.False(t, in.ExpiresAt.IsZero())
}

func TestCopyTraderIgnoresOtherWallets(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	sig := walletSignal(domain.OrderSideBuy, 0.40, 200)
	sig.Wallet = "0x0000000000000000000000000000000000000002"
	intents, err := ct.OnWalletSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCopyTraderWalletMatchIsCaseInsensitive(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	sig := walletSignal(domain.OrderSideBuy, 0.40, 200)
	sig.Wallet = "0xABCD000000000000000000000000000000000001"
	intents, err := ct.OnWalletSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Len(t, intents, 1)
}

func TestCopyTraderSkipsStaleSignal(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	sig := walletSignal(domain.OrderSideBuy, 0.40, 200)
	sig.Timestamp = time.Now().Add(-time.Minute)
	intents, err := ct.OnWalletSignal(context.Background(), sig)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCopyTraderSkipsSmallSignal(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	// $4 notional, below the $5 floor.
	intents, err := ct.OnWalletSignal(context.Background(), walletSignal(domain.OrderSideBuy, 0.40, 10))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCopyTraderScalesByAdvisorConfidence(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), fixedAdvisor{score: 1, ok: true}, testLogger())

	intents, err := ct.OnWalletSignal(context.Background(), walletSignal(domain.OrderSideBuy, 0.40, 200))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.InDelta(t, 20.0, intents[0].Size(), 1e-9) // full confidence, full size

	ct = NewCopyTrader(ctConfig(), newFakeEnv(), fixedAdvisor{score: 0, ok: true}, testLogger())
	intents, err = ct.OnWalletSignal(context.Background(), walletSignal(domain.OrderSideBuy, 0.40, 200))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.InDelta(t, 10.0, intents[0].Size(), 1e-9) // zero confidence halves
}

func TestCopyTraderSellCappedAtHolding(t *testing.T) {
	env := newFakeEnv()
	env.positions["m1|tok-yes"] = domain.Position{MarketID: "m1", TokenID: "tok-yes", Size: 5}
	ct := NewCopyTrader(ctConfig(), env, nil, testLogger())

	// 10% of 200 would be 20, but only 5 are held.
	intents, err := ct.OnWalletSignal(context.Background(), walletSignal(domain.OrderSideSell, 0.60, 200))
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.OrderSideSell, intents[0].Side)
	assert.InDelta(t, 5.0, intents[0].Size(), 1e-9)
	assert.InDelta(t, 0.59, intents[0].Price(), 1e-9) // observed - tolerance
}

func TestCopyTraderSellWithoutPositionIsSkipped(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	intents, err := ct.OnWalletSignal(context.Background(), walletSignal(domain.OrderSideSell, 0.60, 200))
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCopyTraderAutoSellArmsAfterFullFill(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	fill := domain.Fill{
		ID: "f1", OrderID: "o1", MarketID: "m1", TokenID: "tok-yes",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 20_000_000,
	}
	order := domain.Order{
		ID: "o1", MarketID: "m1", TokenID: "tok-yes", Side: domain.OrderSideBuy,
		SizeUnits: 20_000_000, FilledUnits: 20_000_000, AvgFillPrice: 0.40,
		Status: domain.OrderStatusFilled, Strategy: "copy_trader",
	}

	intents, err := ct.OnFill(context.Background(), fill, order)
	require.NoError(t, err)
	require.Len(t, intents, 1)

	exit := intents[0]
	assert.Equal(t, domain.OrderSideSell, exit.Side)
	assert.InDelta(t, 0.48, exit.Price(), 1e-9) // 0.40 * 1.20
	assert.EqualValues(t, 20_000_000, exit.SizeUnits)
}

// The exit price must land on the market's tick grid; a raw percentage
// markup usually does not.
func TestCopyTraderAutoSellRoundsTargetToTick(t *testing.T) {
	env := newFakeEnv()
	env.addMarket(testMarket("m1"))
	ct := NewCopyTrader(ctConfig(), env, nil, testLogger())

	fill := domain.Fill{
		ID: "f1", OrderID: "o1", MarketID: "m1", TokenID: "tok-yes",
		Side: domain.OrderSideBuy, PriceTicks: 410_000, SizeUnits: 20_000_000,
	}
	order := domain.Order{
		ID: "o1", MarketID: "m1", TokenID: "tok-yes", Side: domain.OrderSideBuy,
		SizeUnits: 20_000_000, FilledUnits: 20_000_000, AvgFillPrice: 0.41,
		Status: domain.OrderStatusFilled, Strategy: "copy_trader",
	}

	intents, err := ct.OnFill(context.Background(), fill, order)
	require.NoError(t, err)
	require.Len(t, intents, 1)

	// 0.41 * 1.20 = 0.492, rounded onto the 0.01 grid.
	assert.InDelta(t, 0.49, intents[0].Price(), 1e-9)
}

func TestCopyTraderAutoSellWaitsForFullFill(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	fill := domain.Fill{ID: "f1", OrderID: "o1", MarketID: "m1", TokenID: "tok-yes",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 5_000_000}
	order := domain.Order{ID: "o1", Status: domain.OrderStatusPartiallyFilled,
		SizeUnits: 20_000_000, FilledUnits: 5_000_000}

	intents, err := ct.OnFill(context.Background(), fill, order)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCopyTraderNoAutoSellOnSellFills(t *testing.T) {
	ct := NewCopyTrader(ctConfig(), newFakeEnv(), nil, testLogger())

	fill := domain.Fill{ID: "f1", OrderID: "o1", Side: domain.OrderSideSell,
		PriceTicks: 480_000, SizeUnits: 20_000_000}
	order := domain.Order{ID: "o1", Status: domain.OrderStatusFilled}

	intents, err := ct.OnFill(context.Background(), fill, order)
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestCopyTraderRespectsMarketAllowList(t *testing.T) {
	cfg := ctConfig()
	cfg.Markets = []string{"other-market"}
	ct := NewCopyTrader(cfg, newFakeEnv(), nil, testLogger())

	intents, err := ct.OnWalletSignal(context.Background(), walletSignal(domain.OrderSideBuy, 0.40, 200))
	require.NoError(t, err)
	assert.Empty(t, intents)
}
