package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/gateway"
	"github.com/alanyoungcy/ultratrader/internal/ledger"
)

type fakeGateway struct {
	events     chan gateway.Event
	submitted  []domain.Order
	cancelled  []string
	submitErr  error
	acceptFunc func(domain.Order) domain.SubmitResult
	statusFn   func(string) (domain.OrderStatus, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(chan gateway.Event, 64)}
}

func (f *fakeGateway) Submit(_ context.Context, order domain.Order) (domain.SubmitResult, error) {
	if f.submitErr != nil {
		return domain.SubmitResult{}, f.submitErr
	}
	f.submitted = append(f.submitted, order)
	if f.acceptFunc != nil {
		return f.acceptFunc(order), nil
	}
	return domain.SubmitResult{Accepted: true, OrderID: order.ID}, nil
}

func (f *fakeGateway) Cancel(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGateway) Status(_ context.Context, orderID string) (domain.OrderStatus, error) {
	if f.statusFn != nil {
		return f.statusFn(orderID)
	}
	return "", domain.ErrNotFound
}

func (f *fakeGateway) Events() <-chan gateway.Event { return f.events }

type fakeRisk struct {
	committed map[string]float64
	released  map[string]float64
}

func newFakeRisk() *fakeRisk {
	return &fakeRisk{committed: make(map[string]float64), released: make(map[string]float64)}
}

func (f *fakeRisk) CommitFill(marketID string, side domain.OrderSide, notional float64) {
	if side == domain.OrderSideBuy {
		f.committed[marketID] += notional
	}
}

func (f *fakeRisk) ReleaseReservation(marketID string, side domain.OrderSide, notional float64) {
	if side == domain.OrderSideBuy {
		f.released[marketID] += notional
	}
}

type fakeOrderStore struct {
	created []domain.Order
	updated []string
}

func (f *fakeOrderStore) Create(_ context.Context, order domain.Order) error {
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrderStore) UpdateStatus(_ context.Context, id string, _ domain.OrderStatus, _ int64, _ float64) error {
	f.updated = append(f.updated, id)
	return nil
}

func (f *fakeOrderStore) GetByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}

func (f *fakeOrderStore) ListOpen(context.Context, string) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeOrderStore) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrder(id string) domain.Order {
	return domain.Order{
		ID:         id,
		MarketID:   "m1",
		TokenID:    "tok1",
		Side:       domain.OrderSideBuy,
		Type:       domain.OrderTypeGTC,
		PriceTicks: 400_000, // 0.40
		SizeUnits:  10_000_000,
		Strategy:   "test",
	}
}

func newTestTracker(gw gateway.Gateway, risk RiskFeedback) *Tracker {
	lg := ledger.New(nil, nil, nil, testLogger())
	return New(gw, lg, risk, nil, nil, testLogger(), Config{AckTimeout: 50 * time.Millisecond, SweepEvery: 10 * time.Millisecond})
}

func TestSubmitThenAckOpensOrder(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(gw, nil)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))

	o, ok := tr.Order("o1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})

	o, _ = tr.Order("o1")
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assert.Len(t, tr.OpenOrders(), 1)
}

func TestSubmitErrorReleasesReservation(t *testing.T) {
	gw := newFakeGateway()
	gw.submitErr = errors.New("connection refused")
	risk := newFakeRisk()
	tr := newTestTracker(gw, risk)

	err := tr.Submit(context.Background(), testOrder("o1"))
	require.Error(t, err)

	_, ok := tr.Order("o1")
	assert.False(t, ok)
	assert.InDelta(t, 4.0, risk.released["m1"], 1e-9)
}

func TestRejectionReleasesReservation(t *testing.T) {
	gw := newFakeGateway()
	risk := newFakeRisk()
	tr := newTestTracker(gw, risk)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventRejected, OrderID: "o1", Message: "insufficient balance"})

	o, _ := tr.Order("o1")
	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assert.InDelta(t, 4.0, risk.released["m1"], 1e-9)

	// A replayed rejection does not double release.
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventRejected, OrderID: "o1"})
	assert.InDelta(t, 4.0, risk.released["m1"], 1e-9)
}

func TestPartialThenFullFill(t *testing.T) {
	gw := newFakeGateway()
	risk := newFakeRisk()
	tr := newTestTracker(gw, risk)

	var fills []domain.Fill
	tr.OnFill(func(f domain.Fill, _ domain.Order) { fills = append(fills, f) })

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})

	f1 := domain.Fill{ID: "f1", OrderID: "o1", MarketID: "m1", TokenID: "tok1",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 4_000_000, Timestamp: time.Now()}
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventFill, OrderID: "o1", Fill: &f1})

	o, _ := tr.Order("o1")
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
	assert.EqualValues(t, 4_000_000, o.FilledUnits)
	assert.InDelta(t, 1.6, risk.committed["m1"], 1e-9) // 0.40 * 4

	f2 := domain.Fill{ID: "f2", OrderID: "o1", MarketID: "m1", TokenID: "tok1",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 6_000_000, Timestamp: time.Now()}
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventFill, OrderID: "o1", Fill: &f2})

	o, _ = tr.Order("o1")
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.EqualValues(t, o.SizeUnits, o.FilledUnits)
	assert.InDelta(t, 0.40, o.AvgFillPrice, 1e-9)
	assert.Len(t, fills, 2)
	assert.Empty(t, tr.OpenOrders())
}

func TestReplayedFillIsIgnored(t *testing.T) {
	gw := newFakeGateway()
	risk := newFakeRisk()
	tr := newTestTracker(gw, risk)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})

	f := domain.Fill{ID: "f1", OrderID: "o1", MarketID: "m1", TokenID: "tok1",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 4_000_000, Timestamp: time.Now()}
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventFill, OrderID: "o1", Fill: &f})
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventFill, OrderID: "o1", Fill: &f})

	o, _ := tr.Order("o1")
	assert.EqualValues(t, 4_000_000, o.FilledUnits)
	assert.InDelta(t, 1.6, risk.committed["m1"], 1e-9)
}

func TestFillAfterTerminalFreezesOrder(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(gw, nil)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventCancelled, OrderID: "o1"})

	f := domain.Fill{ID: "f-late", OrderID: "o1", MarketID: "m1", TokenID: "tok1",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 1_000_000, Timestamp: time.Now()}
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventFill, OrderID: "o1", Fill: &f})

	// Frozen: the late fill must not mutate the order.
	o, _ := tr.Order("o1")
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.Zero(t, o.FilledUnits)

	// Subsequent events for the frozen order are dropped too.
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})
	o, _ = tr.Order("o1")
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
}

func TestCancelIsIdempotent(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(gw, nil)

	// Unknown order: successful no-op, no gateway call.
	require.NoError(t, tr.Cancel(context.Background(), "missing"))
	assert.Empty(t, gw.cancelled)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})

	require.NoError(t, tr.Cancel(context.Background(), "o1"))
	assert.Equal(t, []string{"o1"}, gw.cancelled)

	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventCancelled, OrderID: "o1"})

	// Terminal order: no second gateway call.
	require.NoError(t, tr.Cancel(context.Background(), "o1"))
	assert.Equal(t, []string{"o1"}, gw.cancelled)
}

func TestCancelAllSkipsTerminalOrders(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(gw, nil)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))
	require.NoError(t, tr.Submit(context.Background(), testOrder("o2")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventRejected, OrderID: "o2"})

	tr.CancelAll(context.Background())
	assert.Equal(t, []string{"o1"}, gw.cancelled)
}

func TestGatewayAssignedIDRekeysOrder(t *testing.T) {
	gw := newFakeGateway()
	gw.acceptFunc = func(o domain.Order) domain.SubmitResult {
		return domain.SubmitResult{Accepted: true, OrderID: "exchange-" + o.ID}
	}
	tr := newTestTracker(gw, nil)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))

	_, ok := tr.Order("o1")
	assert.False(t, ok)
	o, ok := tr.Order("exchange-o1")
	require.True(t, ok)
	assert.Equal(t, "exchange-o1", o.ID)
}

// The pending row must be written under the exchange-assigned ID, or the
// status updates keyed by it would match no row.
func TestGatewayAssignedIDPersistsUnderNewID(t *testing.T) {
	gw := newFakeGateway()
	gw.acceptFunc = func(o domain.Order) domain.SubmitResult {
		return domain.SubmitResult{Accepted: true, OrderID: "exchange-" + o.ID}
	}
	store := &fakeOrderStore{}
	lg := ledger.New(nil, nil, nil, testLogger())
	tr := New(gw, lg, nil, nil, store, testLogger(), Config{AckTimeout: 50 * time.Millisecond, SweepEvery: 10 * time.Millisecond})

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))

	require.Len(t, store.created, 1)
	assert.Equal(t, "exchange-o1", store.created[0].ID)

	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "exchange-o1"})
	require.Len(t, store.updated, 1)
	assert.Equal(t, "exchange-o1", store.updated[0])
}

func TestTerminalTransitionsNotifyCallback(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(gw, nil)

	var closed []string
	tr.OnTerminal(func(o domain.Order) { closed = append(closed, o.ID) })

	// Cancelled.
	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o1"})
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventCancelled, OrderID: "o1"})
	assert.Equal(t, []string{"o1"}, closed)

	// Rejected.
	require.NoError(t, tr.Submit(context.Background(), testOrder("o2")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventRejected, OrderID: "o2"})
	assert.Equal(t, []string{"o1", "o2"}, closed)

	// Fully filled. A partial fill must not fire the callback.
	require.NoError(t, tr.Submit(context.Background(), testOrder("o3")))
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventAck, OrderID: "o3"})
	part := domain.Fill{ID: "f1", OrderID: "o3", MarketID: "m1", TokenID: "tok1",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 4_000_000, Timestamp: time.Now()}
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventFill, OrderID: "o3", Fill: &part})
	assert.Equal(t, []string{"o1", "o2"}, closed)

	rest := domain.Fill{ID: "f2", OrderID: "o3", MarketID: "m1", TokenID: "tok1",
		Side: domain.OrderSideBuy, PriceTicks: 400_000, SizeUnits: 6_000_000, Timestamp: time.Now()}
	tr.handleEvent(context.Background(), gateway.Event{Type: gateway.EventFill, OrderID: "o3", Fill: &rest})
	assert.Equal(t, []string{"o1", "o2", "o3"}, closed)
}

func TestAckTimeoutFallsBackToRejected(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(string) (domain.OrderStatus, error) {
		return "", domain.ErrNotFound
	}
	risk := newFakeRisk()
	tr := newTestTracker(gw, risk)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))

	time.Sleep(60 * time.Millisecond)
	tr.sweepPending(context.Background())

	o, _ := tr.Order("o1")
	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assert.InDelta(t, 4.0, risk.released["m1"], 1e-9)
}

func TestAckTimeoutReconcilesToOpen(t *testing.T) {
	gw := newFakeGateway()
	gw.statusFn = func(string) (domain.OrderStatus, error) {
		return domain.OrderStatusOpen, nil
	}
	tr := newTestTracker(gw, nil)

	require.NoError(t, tr.Submit(context.Background(), testOrder("o1")))

	time.Sleep(60 * time.Millisecond)
	tr.sweepPending(context.Background())

	o, _ := tr.Order("o1")
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
}

func TestOpenOrdersForFiltersByStrategyAndMarket(t *testing.T) {
	gw := newFakeGateway()
	tr := newTestTracker(gw, nil)

	o1 := testOrder("o1")
	o2 := testOrder("o2")
	o2.Strategy = "other"
	o3 := testOrder("o3")
	o3.MarketID = "m2"

	for _, o := range []domain.Order{o1, o2, o3} {
		require.NoError(t, tr.Submit(context.Background(), o))
	}

	got := tr.OpenOrdersFor("test", "m1")
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].ID)
}
