package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tpsl_monitor/internal/event"
	"tpsl_monitor/internal/infra"
	"tpsl_monitor/internal/service"

	"github.com/shopspring/decimal"
)

// Evaluator is the single-threaded price event processor.
// It checks every active order of a ticker against each price and emits triggers.
type Evaluator struct {
	inbox    chan *event.PriceUpdate
	registry *service.OrderRegistry
	triggers chan<- event.Trigger
	metrics  *infra.Metrics
	logger   *slog.Logger
	now      func() time.Time

	lastSeq uint64

	// Used only for external reads
	mu         sync.RWMutex
	lastPrices map[string]decimal.Decimal
}

// NewEvaluator creates an evaluator that pushes fired triggers into triggers.
func NewEvaluator(inboxSize int, registry *service.OrderRegistry, triggers chan<- event.Trigger, metrics *infra.Metrics) *Evaluator {
	return &Evaluator{
		inbox:      make(chan *event.PriceUpdate, inboxSize),
		registry:   registry,
		triggers:   triggers,
		metrics:    metrics,
		logger:     slog.Default().With("module", "tpsl_evaluator"),
		now:        time.Now,
		lastPrices: make(map[string]decimal.Decimal),
	}
}

// Offer queues a price update without blocking.
// It returns false and releases ev when the inbox is full.
func (e *Evaluator) Offer(ev *event.PriceUpdate) bool {
	select {
	case e.inbox <- ev:
		return true
	default:
		event.ReleasePriceUpdate(ev)
		if e.metrics != nil {
			e.metrics.RecordPriceDropped()
		}
		return false
	}
}

// Run drains the inbox until ctx is cancelled. This MUST be run in a single goroutine.
func (e *Evaluator) Run(ctx context.Context) {
	e.logger.Info("Evaluator started")
	for {
		select {
		case <-ctx.Done():
			e.drain()
			e.logger.Info("Evaluator stopped")
			return
		case ev := <-e.inbox:
			e.safeProcess(ctx, ev)
		}
	}
}

// drain discards queued prices so a restart never evaluates stale ticks.
func (e *Evaluator) drain() {
	for {
		select {
		case ev := <-e.inbox:
			event.ReleasePriceUpdate(ev)
		default:
			return
		}
	}
}

func (e *Evaluator) safeProcess(ctx context.Context, ev *event.PriceUpdate) {
	defer event.ReleasePriceUpdate(ev)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Evaluator panic recovered",
				slog.Any("panic", r),
				slog.String("symbol", ev.Symbol),
			)
		}
	}()
	e.processPrice(ctx, ev)
}

// processPrice evaluates one price against the current active orders of its ticker.
func (e *Evaluator) processPrice(ctx context.Context, ev *event.PriceUpdate) {
	start := time.Now()
	if ev.Seq != 0 {
		if e.lastSeq != 0 && ev.Seq > e.lastSeq+1 {
			e.logger.Debug("Skipped dropped prices",
				slog.Uint64("from", e.lastSeq+1),
				slog.Uint64("to", ev.Seq-1),
			)
		}
		e.lastSeq = ev.Seq
	}

	e.mu.Lock()
	e.lastPrices[ev.Symbol] = ev.Price
	e.mu.Unlock()

	for _, order := range e.registry.ActiveOrdersForSymbol(ev.Symbol) {
		kind, hit := order.Evaluate(ev.Price)
		if !hit {
			continue
		}

		triggered, ok := e.registry.MarkOrderTriggered(order.ID, kind.Status())
		if !ok {
			// removed or already triggered since the fetch
			continue
		}

		e.logger.Info("Order triggered",
			slog.String("id", triggered.ID),
			slog.String("wallet", triggered.WalletAddress),
			slog.String("ticker", triggered.Ticker),
			slog.String("kind", string(kind)),
			slog.String("price", ev.Price.String()),
		)
		if e.metrics != nil {
			e.metrics.RecordTrigger()
		}

		tr := event.Trigger{
			Order:       triggered,
			Kind:        kind,
			Price:       ev.Price,
			TriggeredAt: e.now(),
		}
		select {
		case e.triggers <- tr:
		case <-ctx.Done():
			e.logger.Warn("Trigger abandoned on shutdown",
				slog.String("id", triggered.ID),
				slog.String("kind", string(kind)),
			)
			if e.metrics != nil {
				e.metrics.RecordTriggerDropped()
			}
			return
		}
	}

	if e.metrics != nil {
		e.metrics.RecordPrice(time.Since(start).Nanoseconds())
	}
}

// LastPrice returns the last evaluated price of a ticker (external read).
func (e *Evaluator) LastPrice(ticker string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.lastPrices[ticker]
	return p, ok
}
