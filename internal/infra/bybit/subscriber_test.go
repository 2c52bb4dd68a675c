package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// fakeFeed is a minimal Bybit-like websocket endpoint that records subscribe requests.
type fakeFeed struct {
	srv   *httptest.Server
	subs  chan subscribeRequest
	conns chan *websocket.Conn
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()
	f := &fakeFeed{
		subs:  make(chan subscribeRequest, 64),
		conns: make(chan *websocket.Conn, 16),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req subscribeRequest
			if json.Unmarshal(msg, &req) == nil && req.Op == opSubscribe {
				f.subs <- req
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFeed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeFeed) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func (f *fakeFeed) nextSub(t *testing.T) subscribeRequest {
	t.Helper()
	select {
	case req := <-f.subs:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribe request")
		return subscribeRequest{}
	}
}

func (f *fakeFeed) noSub(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case req := <-f.subs:
		t.Fatalf("unexpected subscribe request: %v", req.Args)
	case <-time.After(wait):
	}
}

func newTestSubscriber(t *testing.T, url string) (*Subscriber, *infra.Metrics) {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.Feed.WSURL = url
	cfg.Feed.ReconnectDelayMS = 50
	cfg.Feed.PingIntervalSec = 1
	cfg.Feed.HandshakeTimeoutSec = 1
	metrics := &infra.Metrics{}
	s := NewSubscriber(cfg, metrics)
	t.Cleanup(s.Stop)
	return s, metrics
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWireSymbolMapping(t *testing.T) {
	tests := []struct {
		ticker, wire string
	}{
		{"BTC", "BTCUSDT"},
		{"eth", "ETHUSDT"},
		{"1000PEPE", "1000PEPEUSDT"},
	}
	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			for _, suffix := range []string{"USDT", "usdt"} {
				if got := ToWireSymbol(tt.ticker, suffix); got != tt.wire {
					t.Errorf("ToWireSymbol(%s, %s) = %s, want %s", tt.ticker, suffix, got, tt.wire)
				}
				if got := FromWireSymbol(tt.wire, suffix); got != strings.ToUpper(tt.ticker) {
					t.Errorf("FromWireSymbol(%s, %s) = %s, want %s", tt.wire, suffix, got, strings.ToUpper(tt.ticker))
				}
			}
		})
	}
}

func TestNewSubscriber_NormalizesQuoteSuffix(t *testing.T) {
	cfg := infra.DefaultConfig()
	cfg.Feed.QuoteSuffix = "usdt"
	s := NewSubscriber(cfg, nil)

	if got := s.topic("btc"); got != "tickers.BTCUSDT" {
		t.Errorf("topic = %s, want tickers.BTCUSDT", got)
	}
}

func TestSubscriber_WatchEmptyTicker(t *testing.T) {
	s, _ := newTestSubscriber(t, "ws://127.0.0.1:1")

	s.WatchTicker("  ")
	if w := s.Watched(); len(w) != 0 {
		t.Errorf("Empty ticker should not be watched, got %v", w)
	}
}

func TestSubscriber_DialFailureIsRetriable(t *testing.T) {
	feed := newFakeFeed(t)
	url := feed.url()
	feed.srv.Close()

	s, _ := newTestSubscriber(t, url)
	_, err := s.connect(context.Background())
	if err == nil {
		t.Fatal("Expected dial error")
	}
	if !errors.Is(err, domain.ErrConnectionFailed) {
		t.Errorf("Expected ErrConnectionFailed in chain, got %v", err)
	}
	if !domain.IsRetriable(err) {
		t.Errorf("Dial failure should be retriable: %v", err)
	}
}

func TestSubscriber_WriteDeadlineOnStalledPeer(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release // never reads
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s, _ := newTestSubscriber(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	s.writeTimeout = 100 * time.Millisecond
	if _, err := s.connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer s.closeConnection()

	payload := make([]byte, 1<<20)
	start := time.Now()
	var err error
	for i := 0; i < 256 && err == nil; i++ {
		err = s.threadSafeWrite(websocket.BinaryMessage, payload)
	}
	if err == nil {
		t.Fatal("Expected write to time out on a peer that never reads")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Writes took %v, deadline not applied", elapsed)
	}
}

func TestSubscriber_BatchSubscribeOnConnect(t *testing.T) {
	feed := newFakeFeed(t)
	s, _ := newTestSubscriber(t, feed.url())

	s.WatchTicker("btc")
	s.WatchTicker("ETH")
	s.WatchTicker("Btc") // duplicate

	s.Start()
	s.Start() // idempotent

	req := feed.nextSub(t)
	want := []string{"tickers.BTCUSDT", "tickers.ETHUSDT"}
	if len(req.Args) != len(want) || req.Args[0] != want[0] || req.Args[1] != want[1] {
		t.Errorf("Expected one batched subscribe %v, got %v", want, req.Args)
	}
	feed.noSub(t, 100*time.Millisecond)

	select {
	case <-feed.conns:
		t.Error("Second Start opened another connection")
	default:
	}
}

func TestSubscriber_IncrementalSubscribe(t *testing.T) {
	feed := newFakeFeed(t)
	s, metrics := newTestSubscriber(t, feed.url())

	s.Start()
	feed.nextConn(t)
	waitFor(t, s.IsConnected)

	// empty set: nothing sent on connect
	feed.noSub(t, 50*time.Millisecond)

	s.WatchTicker("sol")
	req := feed.nextSub(t)
	if len(req.Args) != 1 || req.Args[0] != "tickers.SOLUSDT" {
		t.Errorf("Expected incremental subscribe for SOL, got %v", req.Args)
	}

	s.WatchTicker("SOL")
	feed.noSub(t, 100*time.Millisecond)

	if n := metrics.Snapshot().WatchedSymbols; n != 1 {
		t.Errorf("Expected 1 watched symbol, got %d", n)
	}
}

func TestSubscriber_ResubscribeAfterDisconnect(t *testing.T) {
	feed := newFakeFeed(t)
	s, metrics := newTestSubscriber(t, feed.url())

	s.WatchTicker("BTC")
	s.Start()
	conn := feed.nextConn(t)
	feed.nextSub(t)
	waitFor(t, s.IsConnected)

	s.WatchTicker("ETH")
	if req := feed.nextSub(t); len(req.Args) != 1 || req.Args[0] != "tickers.ETHUSDT" {
		t.Fatalf("Expected incremental ETH subscribe, got %v", req.Args)
	}

	// simulated upstream disconnect
	conn.Close()
	waitFor(t, func() bool { return !s.IsConnected() })
	s.WatchTicker("SOL") // added while disconnected: no write

	feed.nextConn(t)
	req := feed.nextSub(t)
	want := map[string]bool{"tickers.BTCUSDT": true, "tickers.ETHUSDT": true, "tickers.SOLUSDT": true}
	if len(req.Args) != len(want) {
		t.Fatalf("Expected resubscribe of full set %v, got %v", want, req.Args)
	}
	for _, topic := range req.Args {
		if !want[topic] {
			t.Errorf("Unexpected topic %s", topic)
		}
	}

	if metrics.Snapshot().Reconnects == 0 {
		t.Error("Expected reconnect to be recorded")
	}
}

func TestSubscriber_PriceHandling(t *testing.T) {
	feed := newFakeFeed(t)
	s, _ := newTestSubscriber(t, feed.url())

	type tick struct {
		ticker, wire string
		price        decimal.Decimal
	}
	var mu sync.Mutex
	var got []tick
	s.RegisterPriceHandler(func(ticker, wire string, price decimal.Decimal) {
		mu.Lock()
		got = append(got, tick{ticker, wire, price})
		mu.Unlock()
	})

	s.WatchTicker("BTC")
	s.Start()
	conn := feed.nextConn(t)
	feed.nextSub(t)

	frames := []string{
		`{"topic":"tickers.BTCUSDT","type":"snapshot","data":{"symbol":"BTCUSDT","lastPrice":"69000.5"},"ts":1}`,
		`not json`,
		`{"success":true,"ret_msg":"","op":"subscribe"}`,
		`{"topic":"orderbook.1.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"1"}}`,
		`{"topic":"tickers.BTCUSDT","type":"delta","data":{"symbol":"BTCUSDT","fundingRate":"0.0001"}}`,
		`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"0"}}`,
		`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"-5"}}`,
		`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"abc"}}`,
		`{"topic":"tickers.DOGEUSDT","data":{"symbol":"DOGEUSDT","lastPrice":"0.1"}}`,
		`{"topic":"tickers.BTCUSDT","data":[1,2,3]}`,
		`{"topic":"tickers.BTCUSDT","type":"delta","data":{"symbol":"BTCUSDT","lastPrice":"70500"},"ts":2}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("Expected 2 accepted prices, got %d: %+v", len(got), got)
	}
	if got[0].ticker != "BTC" || got[0].wire != "BTCUSDT" || !got[0].price.Equal(decimal.RequireFromString("69000.5")) {
		t.Errorf("Unexpected first tick %+v", got[0])
	}
	if !got[1].price.Equal(decimal.NewFromInt(70500)) {
		t.Errorf("Unexpected second tick %+v", got[1])
	}
}

func TestSubscriber_StopPreventsReconnect(t *testing.T) {
	feed := newFakeFeed(t)
	s, _ := newTestSubscriber(t, feed.url())

	s.Start()
	feed.nextConn(t)
	waitFor(t, s.IsConnected)

	s.Stop()
	s.Stop() // idempotent

	if st := s.State(); st != domain.FeedStopped {
		t.Errorf("Expected stopped, got %s", st)
	}

	select {
	case <-feed.conns:
		t.Fatal("Reconnected after Stop")
	case <-time.After(200 * time.Millisecond):
	}

	// restartable
	s.Start()
	feed.nextConn(t)
	waitFor(t, s.IsConnected)
}

func TestSubscriber_UnreachableFeed(t *testing.T) {
	feed := newFakeFeed(t)
	url := feed.url()
	feed.srv.Close()

	s, metrics := newTestSubscriber(t, url)
	s.Stop() // stop before start is a no-op

	s.Start()
	s.WatchTicker("BTC")

	waitFor(t, func() bool { return metrics.Snapshot().Reconnects >= 2 })
	if s.IsConnected() {
		t.Error("Should not be connected")
	}
	if w := s.Watched(); len(w) != 1 || w[0] != "BTC" {
		t.Errorf("Expected BTC kept in watch set, got %v", w)
	}

	s.Stop()
	if st := s.State(); st != domain.FeedStopped {
		t.Errorf("Expected stopped, got %s", st)
	}
}
