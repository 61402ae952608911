// Package scheduler fans feed events out to strategy workers. One worker is
// registered per (strategy, market) pair and events are routed only to the
// workers subscribed to their market, so a slow strategy can never stall the
// feed or its peers. Book updates are coalesced latest-state-wins per asset
// while a worker is busy; wallet signals and fills are queued losslessly.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ultratrader/internal/alert"
	"github.com/alanyoungcy/ultratrader/internal/domain"
	"github.com/alanyoungcy/ultratrader/internal/strategy"
)

// WorkerState is the lifecycle state of a strategy worker.
type WorkerState string

const (
	StateCreated WorkerState = "created"
	StateRunning WorkerState = "running"
	StatePaused  WorkerState = "paused"
	StateStopped WorkerState = "stopped"
)

// signalQueueSize bounds the lossless queues. Wallet signals and fills are
// rare relative to book traffic; hitting this limit blocks the producer
// rather than dropping.
const signalQueueSize = 256

// timerInterval is the cadence of every worker's OnTimer callback.
const timerInterval = time.Second

type fillEvent struct {
	fill  domain.Fill
	order domain.Order
}

// Scheduler owns the strategy workers and the single ordered intent stream
// they feed.
type Scheduler struct {
	logger  *slog.Logger
	alerts  *alert.Bus
	intents chan []domain.OrderIntent

	mu       sync.Mutex
	workers  map[string]*worker   // keyed by pairKey
	byMarket map[string][]*worker // routing index, market ID -> subscribed workers
}

type worker struct {
	strat    strategy.Strategy
	marketID string
	logger   *slog.Logger

	mu      sync.Mutex
	state   WorkerState
	paused  bool
	pending map[string]domain.BookUpdate // coalesced, keyed by asset
	wake    chan struct{}

	signals chan domain.WalletSignal
	ticks   chan domain.TradeTick
	fills   chan fillEvent
}

func pairKey(strategyName, marketID string) string {
	return strategyName + "|" + marketID
}

// New creates a Scheduler. Emitted intent batches preserve in-slice order;
// the executor must consume them on a single goroutine.
func New(logger *slog.Logger, alerts *alert.Bus) *Scheduler {
	return &Scheduler{
		logger:   logger.With(slog.String("component", "scheduler")),
		alerts:   alerts,
		intents:  make(chan []domain.OrderIntent, 64),
		workers:  make(map[string]*worker),
		byMarket: make(map[string][]*worker),
	}
}

// Add registers a strategy instance as the worker for one market. Must be
// called before Run.
func (s *Scheduler) Add(st strategy.Strategy, marketID string) {
	w := &worker{
		strat:    st,
		marketID: marketID,
		logger: s.logger.With(
			slog.String("strategy", st.Name()),
			slog.String("market_id", marketID)),
		state:   StateCreated,
		pending: make(map[string]domain.BookUpdate),
		wake:    make(chan struct{}, 1),
		signals: make(chan domain.WalletSignal, signalQueueSize),
		ticks:   make(chan domain.TradeTick, signalQueueSize),
		fills:   make(chan fillEvent, signalQueueSize),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(st.Name(), marketID)
	if old, ok := s.workers[key]; ok {
		// Re-registering a pair replaces the worker in the routing index too.
		peers := s.byMarket[marketID]
		for i, p := range peers {
			if p == old {
				s.byMarket[marketID] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
	}
	s.workers[key] = w
	s.byMarket[marketID] = append(s.byMarket[marketID], w)
}

// Intents returns the ordered intent stream produced by all workers.
func (s *Scheduler) Intents() <-chan []domain.OrderIntent {
	return s.intents
}

// Dispatch routes one feed event to the workers subscribed to its market.
// Book updates overwrite the worker's pending entry for that asset; signals
// and ticks are enqueued and block when a worker's queue is full.
func (s *Scheduler) Dispatch(ctx context.Context, ev domain.FeedEvent) {
	s.mu.Lock()
	ws := make([]*worker, len(s.byMarket[ev.MarketID]))
	copy(ws, s.byMarket[ev.MarketID])
	s.mu.Unlock()

	for _, w := range ws {
		switch ev.Type {
		case domain.FeedEventBook:
			if ev.Book != nil {
				w.offerBook(*ev.Book)
			}
		case domain.FeedEventTick:
			if ev.Tick != nil {
				select {
				case w.ticks <- *ev.Tick:
				case <-ctx.Done():
					return
				}
			}
		case domain.FeedEventSignal:
			if ev.Signal != nil {
				select {
				case w.signals <- *ev.Signal:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// NotifyFill routes an applied fill to the worker that owns the order's
// (strategy, market) pair.
func (s *Scheduler) NotifyFill(ctx context.Context, fill domain.Fill, order domain.Order) {
	s.mu.Lock()
	w, ok := s.workers[pairKey(order.Strategy, order.MarketID)]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.fills <- fillEvent{fill: fill, order: order}:
	case <-ctx.Done():
	}
}

// Pause stops one strategy from producing intents across all of its markets.
// The strategy keeps observing events so its internal state stays current;
// only its intent output is discarded while paused.
func (s *Scheduler) Pause(name string) {
	for _, w := range s.workersFor(name) {
		w.setPaused(true)
	}
	s.logger.Info("strategy paused", slog.String("strategy", name))
}

// Resume re-enables a paused strategy across all of its markets.
func (s *Scheduler) Resume(name string) {
	for _, w := range s.workersFor(name) {
		w.setPaused(false)
		w.kick()
	}
	s.logger.Info("strategy resumed", slog.String("strategy", name))
}

// PauseAll pauses every worker. Invoked on kill-switch.
func (s *Scheduler) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.workers {
		w.setPaused(true)
		s.logger.Info("strategy paused", slog.String("worker", key))
	}
}

// States reports the lifecycle state of every worker, keyed by
// "strategy|market".
func (s *Scheduler) States() map[string]WorkerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]WorkerState, len(s.workers))
	for key, w := range s.workers {
		out[key] = w.currentState()
	}
	return out
}

// Run initializes every strategy and drives the workers until ctx is
// cancelled. A strategy whose Init fails aborts startup.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	ws := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		ws = append(ws, w)
	}
	s.mu.Unlock()

	seen := make(map[strategy.Strategy]bool, len(ws))
	for _, w := range ws {
		if seen[w.strat] {
			continue
		}
		seen[w.strat] = true
		if err := w.strat.Init(ctx); err != nil {
			return fmt.Errorf("scheduler: init %s: %w", w.strat.Name(), err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range ws {
		g.Go(func() error {
			return s.runWorker(ctx, w)
		})
	}

	err := g.Wait()
	close(s.intents)
	return err
}

// --------------------------------------------------------------------------
// Worker loop
// --------------------------------------------------------------------------

func (s *Scheduler) runWorker(ctx context.Context, w *worker) error {
	w.setState(StateRunning)
	defer w.setState(StateStopped)

	timer := time.NewTicker(timerInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig := <-w.signals:
			s.invoke(ctx, w, func() ([]domain.OrderIntent, error) {
				return w.strat.OnWalletSignal(ctx, sig)
			})

		case f := <-w.fills:
			s.invoke(ctx, w, func() ([]domain.OrderIntent, error) {
				return w.strat.OnFill(ctx, f.fill, f.order)
			})

		case tick := <-w.ticks:
			s.invoke(ctx, w, func() ([]domain.OrderIntent, error) {
				return w.strat.OnTradeTick(ctx, tick)
			})

		case <-w.wake:
			for _, book := range w.takeBooks() {
				s.invoke(ctx, w, func() ([]domain.OrderIntent, error) {
					return w.strat.OnBookUpdate(ctx, book)
				})
			}

		case now := <-timer.C:
			s.invoke(ctx, w, func() ([]domain.OrderIntent, error) {
				return w.strat.OnTimer(ctx, now)
			})
		}
	}
}

// invoke calls one strategy callback and forwards the resulting intent batch.
// A paused worker still runs the callback, so the strategy observes every
// event and its state stays current; its intents are discarded until resume.
// Callback errors are reported and swallowed; one bad decision must not kill
// the worker.
func (s *Scheduler) invoke(ctx context.Context, w *worker, fn func() ([]domain.OrderIntent, error)) {
	intents, err := fn()
	if err != nil {
		w.logger.Error("strategy callback failed", slog.String("error", err.Error()))
		if s.alerts != nil {
			s.alerts.Publishf(alert.LevelWarning, "strategy_error", "Strategy error",
				fmt.Sprintf("%s: %v", w.strat.Name(), err), nil)
		}
		return
	}
	if w.isPaused() || len(intents) == 0 {
		return
	}

	select {
	case s.intents <- intents:
	case <-ctx.Done():
	}
}

// workersFor returns all workers owned by one strategy name.
func (s *Scheduler) workersFor(name string) []*worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*worker
	for _, w := range s.workers {
		if w.strat.Name() == name {
			out = append(out, w)
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Worker state
// --------------------------------------------------------------------------

// offerBook stores the newest book state for the asset and wakes the
// worker. An unprocessed older update for the same asset is overwritten.
func (w *worker) offerBook(book domain.BookUpdate) {
	w.mu.Lock()
	w.pending[book.AssetID] = book
	w.mu.Unlock()
	w.kick()
}

// takeBooks drains the coalesced book map.
func (w *worker) takeBooks() []domain.BookUpdate {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	out := make([]domain.BookUpdate, 0, len(w.pending))
	for k, b := range w.pending {
		out = append(out, b)
		delete(w.pending, k)
	}
	return out
}

func (w *worker) kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) setPaused(p bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = p
	if w.state == StateRunning && p {
		w.state = StatePaused
	} else if w.state == StatePaused && !p {
		w.state = StateRunning
	}
}

func (w *worker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *worker) setState(st WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused && st == StateRunning {
		w.state = StatePaused
		return
	}
	w.state = st
}

func (w *worker) currentState() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}
