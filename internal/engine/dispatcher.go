package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/event"
	"tpsl_monitor/internal/infra"

	"github.com/shopspring/decimal"
)

// TriggerFunc consumes a fired trigger, typically by closing the position.
type TriggerFunc func(ctx context.Context, order domain.ConditionalOrder, kind domain.TriggerKind, price decimal.Decimal) error

// Dispatcher delivers triggers to the registered TriggerFunc from a bounded queue.
// Consumer errors and panics are contained here and never reach the evaluator.
type Dispatcher struct {
	queue   chan event.Trigger
	timeout time.Duration
	metrics *infra.Metrics
	logger  *slog.Logger

	mu       sync.RWMutex
	callback TriggerFunc
}

// NewDispatcher creates a dispatcher with a queue of the given size.
func NewDispatcher(queueSize int, timeout time.Duration, metrics *infra.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:   make(chan event.Trigger, queueSize),
		timeout: timeout,
		metrics: metrics,
		logger:  slog.Default().With("module", "tpsl_dispatcher"),
	}
}

// Queue returns the trigger channel the evaluator sends to.
func (d *Dispatcher) Queue() chan<- event.Trigger {
	return d.queue
}

// SetCallback installs the trigger consumer. Registering again replaces it.
func (d *Dispatcher) SetCallback(fn TriggerFunc) {
	d.mu.Lock()
	d.callback = fn
	d.mu.Unlock()
}

// Pending returns the number of queued triggers.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Run delivers triggers until ctx is cancelled, then flushes what is already queued.
// Queued orders are already terminal, so they are delivered rather than lost.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.flush(context.WithoutCancel(ctx))
			d.logger.Info("Dispatcher stopped")
			return
		case tr := <-d.queue:
			d.dispatch(ctx, tr)
		}
	}
}

func (d *Dispatcher) flush(ctx context.Context) {
	for {
		select {
		case tr := <-d.queue:
			d.dispatch(ctx, tr)
		default:
			return
		}
	}
}

// dispatch invokes the callback once for tr.
func (d *Dispatcher) dispatch(ctx context.Context, tr event.Trigger) {
	d.mu.RLock()
	fn := d.callback
	d.mu.RUnlock()

	if fn == nil {
		d.logger.Warn("No trigger callback registered, dropping trigger",
			slog.String("id", tr.Order.ID),
			slog.String("kind", string(tr.Kind)),
		)
		if d.metrics != nil {
			d.metrics.RecordTriggerDropped()
		}
		return
	}

	if err := d.invoke(ctx, fn, tr); err != nil {
		d.logger.Error("Trigger callback failed",
			slog.String("id", tr.Order.ID),
			slog.String("wallet", tr.Order.WalletAddress),
			slog.String("kind", string(tr.Kind)),
			slog.Any("error", err),
		)
		if d.metrics != nil {
			d.metrics.RecordDispatchFailure()
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, fn TriggerFunc, tr event.Trigger) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return fn(callCtx, tr.Order, tr.Kind, tr.Price)
}
