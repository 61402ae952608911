package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/ultratrader/internal/domain"
)

type fakeAdmitter struct {
	decision  domain.Decision
	evaluated []domain.OrderIntent
}

func (f *fakeAdmitter) Evaluate(_ context.Context, intent domain.OrderIntent) domain.Admission {
	f.evaluated = append(f.evaluated, intent)
	if f.decision == "" {
		return domain.Admission{Decision: domain.DecisionAdmit}
	}
	return domain.Admission{Decision: f.decision, Reason: domain.RejectPositionLimit}
}

type fakeSink struct {
	submitted []domain.Order
	cancelled []string
	orders    map[string]domain.Order
}

func (f *fakeSink) Submit(_ context.Context, order domain.Order) error {
	f.submitted = append(f.submitted, order)
	if f.orders == nil {
		f.orders = make(map[string]domain.Order)
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeSink) Cancel(_ context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeSink) Order(orderID string) (domain.Order, bool) {
	o, ok := f.orders[orderID]
	return o, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func placeIntent(id string, price, size float64) domain.OrderIntent {
	return domain.OrderIntent{
		ID:         id,
		Kind:       domain.IntentPlace,
		Strategy:   "test",
		MarketID:   "m1",
		TokenID:    "tok1",
		Side:       domain.OrderSideBuy,
		PriceTicks: int64(price * 1e6),
		SizeUnits:  int64(size * 1e6),
		CreatedAt:  time.Now(),
	}
}

func TestExecutorSubmitsAdmittedIntent(t *testing.T) {
	gate := &fakeAdmitter{}
	sink := &fakeSink{}
	e := New(nil, gate, sink, "0xwallet", testLogger())

	e.execute(context.Background(), placeIntent("i1", 0.40, 10))

	require.Len(t, sink.submitted, 1)
	o := sink.submitted[0]
	assert.Equal(t, "i1", o.ID)
	assert.Equal(t, "0xwallet", o.Wallet)
	assert.Equal(t, domain.OrderTypeGTC, o.Type)
	assert.EqualValues(t, 400_000, o.PriceTicks)
}

func TestExecutorDropsRejectedIntent(t *testing.T) {
	gate := &fakeAdmitter{decision: domain.DecisionReject}
	sink := &fakeSink{}
	e := New(nil, gate, sink, "0xwallet", testLogger())

	e.execute(context.Background(), placeIntent("i1", 0.40, 10))
	assert.Empty(t, sink.submitted)
}

func TestExecutorCancelBypassesGate(t *testing.T) {
	gate := &fakeAdmitter{decision: domain.DecisionHalt}
	sink := &fakeSink{}
	e := New(nil, gate, sink, "0xwallet", testLogger())

	e.execute(context.Background(), domain.OrderIntent{
		ID:       "i1",
		Kind:     domain.IntentCancel,
		Strategy: "test",
		MarketID: "m1",
		CancelID: "order-9",
	})

	assert.Empty(t, gate.evaluated)
	assert.Equal(t, []string{"order-9"}, sink.cancelled)
}

func TestExecutorSkipsExpiredIntent(t *testing.T) {
	gate := &fakeAdmitter{}
	sink := &fakeSink{}
	e := New(nil, gate, sink, "0xwallet", testLogger())

	in := placeIntent("i1", 0.40, 10)
	in.ExpiresAt = time.Now().Add(-time.Second)
	e.execute(context.Background(), in)

	assert.Empty(t, gate.evaluated)
	assert.Empty(t, sink.submitted)
}

func TestExecutorSuppressesDuplicateContent(t *testing.T) {
	gate := &fakeAdmitter{}
	sink := &fakeSink{}
	e := New(nil, gate, sink, "0xwallet", testLogger())

	// Fresh IDs, identical content: second one is a duplicate.
	e.execute(context.Background(), placeIntent("i1", 0.40, 10))
	e.execute(context.Background(), placeIntent("i2", 0.40, 10))
	require.Len(t, sink.submitted, 1)

	// Different price is a distinct order.
	e.execute(context.Background(), placeIntent("i3", 0.41, 10))
	assert.Len(t, sink.submitted, 2)
}

// A cancel-then-replace batch at unchanged prices must execute in full: the
// cancels release the dedup entries of the quotes they pull, so the
// replacement orders are not mistaken for duplicates.
func TestExecutorCancelReleasesDedupForReplacement(t *testing.T) {
	intents := make(chan []domain.OrderIntent, 2)
	gate := &fakeAdmitter{}
	sink := &fakeSink{}
	e := New(intents, gate, sink, "0xwallet", testLogger())

	bid := placeIntent("q1-bid", 0.40, 10)
	ask := placeIntent("q1-ask", 0.44, 10)
	intents <- []domain.OrderIntent{bid, ask}
	intents <- []domain.OrderIntent{
		{ID: "c1", Kind: domain.IntentCancel, Strategy: "test", MarketID: "m1", CancelID: "q1-bid"},
		{ID: "c2", Kind: domain.IntentCancel, Strategy: "test", MarketID: "m1", CancelID: "q1-ask"},
		placeIntent("q2-bid", 0.40, 10),
		placeIntent("q2-ask", 0.44, 10),
	}
	close(intents)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{"q1-bid", "q1-ask"}, sink.cancelled)
	require.Len(t, sink.submitted, 4)
	assert.Equal(t, "q2-bid", sink.submitted[2].ID)
	assert.Equal(t, "q2-ask", sink.submitted[3].ID)
}

// OrderClosed releases the dedup entry when an order dies outside the intent
// stream (fill, rejection, reconcile), so the same content may be re-placed
// without waiting out the dedup window.
func TestExecutorOrderClosedReleasesDedup(t *testing.T) {
	gate := &fakeAdmitter{}
	sink := &fakeSink{}
	e := New(nil, gate, sink, "0xwallet", testLogger())

	e.execute(context.Background(), placeIntent("i1", 0.40, 10))
	e.execute(context.Background(), placeIntent("i2", 0.40, 10))
	require.Len(t, sink.submitted, 1)

	e.OrderClosed(sink.submitted[0])

	e.execute(context.Background(), placeIntent("i3", 0.40, 10))
	require.Len(t, sink.submitted, 2)
	assert.Equal(t, "i3", sink.submitted[1].ID)
}

func TestExecutorRunDrainsBatchesInOrder(t *testing.T) {
	intents := make(chan []domain.OrderIntent, 2)
	gate := &fakeAdmitter{}
	sink := &fakeSink{}
	e := New(intents, gate, sink, "0xwallet", testLogger())

	cancel := domain.OrderIntent{ID: "c1", Kind: domain.IntentCancel, MarketID: "m1", CancelID: "old"}
	intents <- []domain.OrderIntent{cancel, placeIntent("i1", 0.40, 10)}
	close(intents)

	require.NoError(t, e.Run(context.Background()))

	// The cancel reached the sink before the placement.
	require.Len(t, sink.cancelled, 1)
	require.Len(t, sink.submitted, 1)
}

func TestDedupExpiresEntries(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	in := placeIntent("i1", 0.40, 10)
	assert.False(t, d.IsDuplicate(in))
	assert.True(t, d.IsDuplicate(in))

	time.Sleep(20 * time.Millisecond)
	d.Cleanup()
	assert.False(t, d.IsDuplicate(in))
}
