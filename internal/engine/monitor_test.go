package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/infra"
	"tpsl_monitor/internal/service"

	"github.com/shopspring/decimal"
)

// fakeFeed is an in-process PriceFeed that lets tests push prices.
type fakeFeed struct {
	mu      sync.Mutex
	handler domain.PriceHandler
	watched []string
	started int
	stopped int
	state   domain.FeedState
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{state: domain.FeedStopped}
}

func (f *fakeFeed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.state = domain.FeedOpen
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.state = domain.FeedStopped
}

func (f *fakeFeed) WatchTicker(ticker string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.watched {
		if w == ticker {
			return
		}
	}
	f.watched = append(f.watched, ticker)
}

func (f *fakeFeed) RegisterPriceHandler(h domain.PriceHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeFeed) State() domain.FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeFeed) IsConnected() bool {
	return f.State() == domain.FeedOpen
}

func (f *fakeFeed) push(ticker string, price int64) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ticker, ticker+"USDT", decimal.NewFromInt(price))
	}
}

func (f *fakeFeed) watchedTickers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.watched...)
}

type firedTrigger struct {
	order domain.ConditionalOrder
	kind  domain.TriggerKind
	price decimal.Decimal
}

type harness struct {
	monitor *Monitor
	feed    *fakeFeed
	metrics *infra.Metrics
	fired   chan firedTrigger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.Engine.PriceInboxSize = 64
	cfg.Engine.TriggerQueueSize = 16
	cfg.Engine.DispatchTimeoutMS = 500

	h := &harness{
		feed:    newFakeFeed(),
		metrics: &infra.Metrics{},
		fired:   make(chan firedTrigger, 16),
	}
	h.monitor = NewMonitor(cfg, service.NewOrderRegistry(), h.feed, h.metrics)
	h.monitor.RegisterTriggerCallback(func(ctx context.Context, order domain.ConditionalOrder, kind domain.TriggerKind, price decimal.Decimal) error {
		h.fired <- firedTrigger{order, kind, price}
		return nil
	})
	t.Cleanup(h.monitor.Stop)
	return h
}

// pushAndWait pushes a price and waits until the evaluator has processed it.
func (h *harness) pushAndWait(t *testing.T, ticker string, price int64) {
	t.Helper()
	before := h.metrics.Snapshot().PricesProcessed
	h.feed.push(ticker, price)
	deadline := time.Now().Add(2 * time.Second)
	for h.metrics.Snapshot().PricesProcessed == before {
		if time.Now().After(deadline) {
			t.Fatalf("price %s@%d not processed", ticker, price)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) expectTrigger(t *testing.T) firedTrigger {
	t.Helper()
	select {
	case tr := <-h.fired:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trigger")
		return firedTrigger{}
	}
}

func (h *harness) expectNoTrigger(t *testing.T) {
	t.Helper()
	select {
	case tr := <-h.fired:
		t.Fatalf("unexpected trigger %s for %s at %s", tr.kind, tr.order.ID, tr.price)
	case <-time.After(50 * time.Millisecond):
	}
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func orderSpec(side domain.Side, tp, sl *decimal.Decimal) domain.OrderSpec {
	return domain.OrderSpec{
		WalletAddress:   "0xabc",
		Ticker:          "BTC",
		Side:            side,
		EntryPrice:      decimal.NewFromInt(65000),
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		Leverage:        decimal.NewFromInt(10),
		Amount:          "0.5",
		PositionID:      "pos-1",
	}
}

func TestMonitor_LongTakeProfit(t *testing.T) {
	h := newHarness(t)
	o := h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), dec(60000)))
	h.monitor.WatchTicker("btc")
	h.monitor.Start(context.Background())

	h.pushAndWait(t, "BTC", 69000)
	h.expectNoTrigger(t)
	if st := h.monitor.GetOrders("0xabc")[0].Status; st != domain.OrderStatusActive {
		t.Fatalf("Expected active after 69000, got %s", st)
	}

	h.pushAndWait(t, "BTC", 70500)
	tr := h.expectTrigger(t)
	if tr.order.ID != o.ID || tr.kind != domain.TriggerTakeProfit || !tr.price.Equal(decimal.NewFromInt(70500)) {
		t.Errorf("Unexpected trigger %+v", tr)
	}
	if tr.order.Status != domain.OrderStatusTriggeredTP {
		t.Errorf("Dispatched order should carry terminal status, got %s", tr.order.Status)
	}
	if st := h.monitor.GetOrders("0xabc")[0].Status; st != domain.OrderStatusTriggeredTP {
		t.Errorf("Expected triggered_tp, got %s", st)
	}

	// later prices never re-trigger
	h.pushAndWait(t, "BTC", 80000)
	h.pushAndWait(t, "BTC", 50000)
	h.expectNoTrigger(t)

	if n := h.metrics.Snapshot().TriggersFired; n != 1 {
		t.Errorf("Expected 1 trigger fired, got %d", n)
	}
	if p, ok := h.monitor.LastPrice("btc"); !ok || !p.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("Expected last price 50000, got %v %v", p, ok)
	}
}

func TestMonitor_ShortStopLoss(t *testing.T) {
	h := newHarness(t)
	h.monitor.AddOrder(orderSpec(domain.SideShort, dec(60000), dec(70000)))
	h.monitor.Start(context.Background())

	h.pushAndWait(t, "BTC", 71000)
	tr := h.expectTrigger(t)
	if tr.kind != domain.TriggerStopLoss {
		t.Errorf("Expected sl, got %s", tr.kind)
	}
	if st := h.monitor.GetOrders("0xabc")[0].Status; st != domain.OrderStatusTriggeredSL {
		t.Errorf("Expected triggered_sl, got %s", st)
	}
}

func TestMonitor_OnlyActiveOrdersTrigger(t *testing.T) {
	h := newHarness(t)
	done := h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), nil))
	h.monitor.Registry().MarkOrderTriggered(done.ID, domain.OrderStatusTriggeredTP)
	active := h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), nil))
	h.monitor.Start(context.Background())

	h.pushAndWait(t, "BTC", 71000)
	tr := h.expectTrigger(t)
	if tr.order.ID != active.ID {
		t.Errorf("Expected %s to trigger, got %s", active.ID, tr.order.ID)
	}
	h.expectNoTrigger(t)
}

func TestMonitor_TakeProfitWinsSameTick(t *testing.T) {
	h := newHarness(t)
	h.monitor.AddOrder(orderSpec(domain.SideLong, dec(100), dec(200)))
	h.monitor.Start(context.Background())

	h.pushAndWait(t, "BTC", 150)
	if tr := h.expectTrigger(t); tr.kind != domain.TriggerTakeProfit {
		t.Errorf("Expected tp to win, got %s", tr.kind)
	}
	h.expectNoTrigger(t)
}

func TestMonitor_OtherSymbolsIgnored(t *testing.T) {
	h := newHarness(t)
	h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), dec(60000)))
	h.monitor.Start(context.Background())

	h.pushAndWait(t, "ETH", 90000)
	h.expectNoTrigger(t)
}

func TestMonitor_UpdateVisibleNextTick(t *testing.T) {
	h := newHarness(t)
	o := h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), nil))
	h.monitor.Start(context.Background())

	h.pushAndWait(t, "BTC", 69000)
	h.expectNoTrigger(t)

	if _, err := h.monitor.UpdateOrder("0xabc", o.ID, domain.OrderPatch{
		TakeProfitPrice: domain.SetPrice(decimal.NewFromInt(68000)),
	}); err != nil {
		t.Fatalf("UpdateOrder failed: %v", err)
	}

	h.pushAndWait(t, "BTC", 69000)
	if tr := h.expectTrigger(t); tr.order.ID != o.ID {
		t.Errorf("Expected updated order to trigger, got %s", tr.order.ID)
	}
}

func TestMonitor_RemovedOrderNeverTriggers(t *testing.T) {
	h := newHarness(t)
	o := h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), nil))
	h.monitor.Start(context.Background())

	if !h.monitor.RemoveOrder("0xABC", o.ID) {
		t.Fatal("Expected removal")
	}
	h.pushAndWait(t, "BTC", 75000)
	h.expectNoTrigger(t)
}

func TestMonitor_CallbackFailuresContained(t *testing.T) {
	h := newHarness(t)
	calls := make(chan domain.TriggerKind, 4)
	h.monitor.RegisterTriggerCallback(func(ctx context.Context, order domain.ConditionalOrder, kind domain.TriggerKind, price decimal.Decimal) error {
		calls <- kind
		if order.Ticker == "BTC" {
			panic("close failed hard")
		}
		return errors.New("settlement unavailable")
	})

	h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), nil))
	eth := orderSpec(domain.SideShort, nil, dec(4000))
	eth.Ticker = "ETH"
	h.monitor.AddOrder(eth)
	h.monitor.Start(context.Background())

	h.pushAndWait(t, "BTC", 70000)
	h.pushAndWait(t, "ETH", 4100)

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatal("callback not invoked")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.metrics.Snapshot().DispatchFailures < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 2 dispatch failures, got %d", h.metrics.Snapshot().DispatchFailures)
		}
		time.Sleep(time.Millisecond)
	}

	// monitor keeps processing after the failures
	h.pushAndWait(t, "BTC", 1)
	if !h.monitor.IsRunning() {
		t.Error("Monitor should still be running")
	}
}

func TestMonitor_Lifecycle(t *testing.T) {
	h := newHarness(t)
	h.monitor.AddOrder(orderSpec(domain.SideLong, dec(70000), nil))
	inert := orderSpec(domain.SideLong, nil, nil)
	inert.Ticker = "SOL"
	h.monitor.AddOrder(inert)

	h.monitor.Stop() // before Start

	h.monitor.Start(context.Background())
	h.monitor.Start(context.Background())

	if w := h.feed.watchedTickers(); len(w) != 1 || w[0] != "BTC" {
		t.Errorf("Expected Start to watch [BTC], got %v", w)
	}
	if h.feed.started != 1 {
		t.Errorf("Expected feed started once, got %d", h.feed.started)
	}
	if h.monitor.FeedState() != domain.FeedOpen {
		t.Errorf("Expected open feed, got %s", h.monitor.FeedState())
	}

	h.monitor.Stop()
	h.monitor.Stop()
	if h.feed.stopped != 1 {
		t.Errorf("Expected feed stopped once, got %d", h.feed.stopped)
	}
	if h.monitor.IsRunning() {
		t.Error("Monitor should be stopped")
	}

	// restart
	h.monitor.Start(context.Background())
	h.pushAndWait(t, "BTC", 70000)
	h.expectTrigger(t)
}

func TestMonitor_StopAccountsForEveryTrigger(t *testing.T) {
	for i := 0; i < 20; i++ {
		cfg := infra.DefaultConfig()
		cfg.Engine.TriggerQueueSize = 8

		registry := service.NewOrderRegistry()
		for j := 0; j < 500; j++ {
			registry.AddOrder(orderSpec(domain.SideLong, dec(100), nil))
		}

		feed := newFakeFeed()
		metrics := &infra.Metrics{}
		m := NewMonitor(cfg, registry, feed, metrics)

		var mu sync.Mutex
		delivered := 0
		m.RegisterTriggerCallback(func(ctx context.Context, o domain.ConditionalOrder, k domain.TriggerKind, p decimal.Decimal) error {
			mu.Lock()
			delivered++
			mu.Unlock()
			return nil
		})

		m.Start(context.Background())
		feed.push("BTC", 200)
		time.Sleep(200 * time.Microsecond)
		m.Stop()

		terminal := 0
		for _, o := range registry.GetOrders("0xabc") {
			if !o.IsActive() {
				terminal++
			}
		}

		mu.Lock()
		got := delivered
		mu.Unlock()
		dropped := int(metrics.Snapshot().TriggersDropped)
		if terminal != got+dropped {
			t.Fatalf("iteration %d: terminal=%d delivered=%d dropped=%d pending=%d",
				i, terminal, got, dropped, m.dispatcher.Pending())
		}
	}
}

func TestMonitor_ParentCancelFlushesAfterEvaluator(t *testing.T) {
	cfg := infra.DefaultConfig()
	cfg.Engine.TriggerQueueSize = 8

	registry := service.NewOrderRegistry()
	for j := 0; j < 500; j++ {
		registry.AddOrder(orderSpec(domain.SideLong, dec(100), nil))
	}
	feed := newFakeFeed()
	metrics := &infra.Metrics{}
	m := NewMonitor(cfg, registry, feed, metrics)

	var mu sync.Mutex
	delivered := 0
	m.RegisterTriggerCallback(func(ctx context.Context, o domain.ConditionalOrder, k domain.TriggerKind, p decimal.Decimal) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	feed.push("BTC", 200)
	time.Sleep(200 * time.Microsecond)
	cancel()
	m.Stop()

	terminal := 0
	for _, o := range registry.GetOrders("0xabc") {
		if !o.IsActive() {
			terminal++
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if dropped := int(metrics.Snapshot().TriggersDropped); terminal != delivered+dropped {
		t.Errorf("terminal=%d delivered=%d dropped=%d", terminal, delivered, dropped)
	}
}
