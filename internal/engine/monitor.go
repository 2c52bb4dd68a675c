package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/event"
	"tpsl_monitor/internal/infra"
	"tpsl_monitor/internal/service"

	"github.com/shopspring/decimal"
)

// Monitor wires the price feed, the evaluator and the dispatcher around one order registry.
type Monitor struct {
	registry   *service.OrderRegistry
	feed       domain.PriceFeed
	evaluator  *Evaluator
	dispatcher *Dispatcher
	logger     *slog.Logger

	seq atomic.Uint64

	lifecycle      sync.Mutex
	running        bool
	stopEvaluator  context.CancelFunc
	stopDispatcher context.CancelFunc
	evaluatorDone  sync.WaitGroup
	dispatcherDone sync.WaitGroup
}

// NewMonitor creates a stopped monitor. Register the trigger callback before Start.
func NewMonitor(cfg *infra.Config, registry *service.OrderRegistry, feed domain.PriceFeed, metrics *infra.Metrics) *Monitor {
	dispatcher := NewDispatcher(cfg.Engine.TriggerQueueSize, cfg.DispatchTimeout(), metrics)
	return &Monitor{
		registry:   registry,
		feed:       feed,
		evaluator:  NewEvaluator(cfg.Engine.PriceInboxSize, registry, dispatcher.Queue(), metrics),
		dispatcher: dispatcher,
		logger:     slog.Default().With("module", "tpsl_monitor"),
	}
}

// Start launches the evaluator and dispatcher loops and connects the feed.
// Tickers of orders already in the registry are watched again. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if m.running {
		return
	}
	// the dispatcher outlives the evaluator: it is cancelled only after the last trigger send
	evalCtx, stopEvaluator := context.WithCancel(ctx)
	dispCtx, stopDispatcher := context.WithCancel(context.WithoutCancel(ctx))
	m.stopEvaluator = stopEvaluator
	m.stopDispatcher = stopDispatcher
	m.running = true

	m.evaluatorDone.Add(1)
	go func() {
		defer m.evaluatorDone.Done()
		defer stopDispatcher()
		m.evaluator.Run(evalCtx)
	}()
	m.dispatcherDone.Add(1)
	go func() {
		defer m.dispatcherDone.Done()
		m.dispatcher.Run(dispCtx)
	}()

	tickers := m.registry.ActiveTickers()
	for _, ticker := range tickers {
		m.feed.WatchTicker(ticker)
	}
	m.feed.RegisterPriceHandler(m.onPrice)
	m.feed.Start()

	m.logger.Info("TP/SL monitor started", slog.Int("tickers", len(tickers)))
}

// Stop disconnects the feed and waits for both loops to exit.
// The evaluator exits first so the dispatcher flush sees every trigger it sent.
// Safe to call repeatedly and before Start; the monitor can be started again afterwards.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	if !m.running {
		return
	}
	m.running = false

	m.feed.Stop()
	m.stopEvaluator()
	m.evaluatorDone.Wait()
	m.stopDispatcher()
	m.dispatcherDone.Wait()

	m.logger.Info("TP/SL monitor stopped")
}

// onPrice is the feed handler. It never blocks the feed read loop.
func (m *Monitor) onPrice(ticker, wireSymbol string, price decimal.Decimal) {
	ev := event.AcquirePriceUpdate()
	ev.Seq = m.seq.Add(1)
	ev.Ts = time.Now()
	ev.Symbol = domain.NormalizeTicker(ticker)
	ev.WireSymbol = wireSymbol
	ev.Price = price

	if !m.evaluator.Offer(ev) {
		m.logger.Debug("Price inbox full, dropping update", slog.String("symbol", wireSymbol))
	}
}

// WatchTicker asks the feed to stream prices for ticker.
func (m *Monitor) WatchTicker(ticker string) {
	m.feed.WatchTicker(domain.NormalizeTicker(ticker))
}

// RegisterTriggerCallback installs the consumer of fired triggers.
func (m *Monitor) RegisterTriggerCallback(fn TriggerFunc) {
	m.dispatcher.SetCallback(fn)
}

func (m *Monitor) AddOrder(spec domain.OrderSpec) domain.ConditionalOrder {
	return m.registry.AddOrder(spec)
}

func (m *Monitor) GetOrders(wallet string) []domain.ConditionalOrder {
	return m.registry.GetOrders(wallet)
}

func (m *Monitor) UpdateOrder(wallet, id string, patch domain.OrderPatch) (domain.ConditionalOrder, error) {
	return m.registry.UpdateOrder(wallet, id, patch)
}

func (m *Monitor) RemoveOrder(wallet, id string) bool {
	return m.registry.RemoveOrder(wallet, id)
}

// Registry exposes the underlying order registry.
func (m *Monitor) Registry() *service.OrderRegistry {
	return m.registry
}

// FeedState reports the connection state of the price feed.
func (m *Monitor) FeedState() domain.FeedState {
	return m.feed.State()
}

// LastPrice returns the last price evaluated for ticker.
func (m *Monitor) LastPrice(ticker string) (decimal.Decimal, bool) {
	return m.evaluator.LastPrice(domain.NormalizeTicker(ticker))
}

// IsRunning reports whether Start has been called without a matching Stop.
func (m *Monitor) IsRunning() bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.running
}
