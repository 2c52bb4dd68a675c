package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Subscriber keeps one websocket to the Bybit public linear stream and the set of
// tickers subscribed on it. The set only grows and is replayed on every reconnect.
type Subscriber struct {
	url              string
	quoteSuffix      string
	topicPrefix      string
	reconnectDelay   time.Duration
	pingInterval     time.Duration
	readTimeout      time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	metrics          *infra.Metrics
	logger           *slog.Logger

	lifecycle sync.Mutex // serializes Start and Stop
	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	state     domain.FeedState
	watched   map[string]struct{}
	order     []string // watched tickers in insertion order
	handler   domain.PriceHandler
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ domain.PriceFeed = (*Subscriber)(nil)

// NewSubscriber creates a stopped subscriber from the feed section of cfg.
func NewSubscriber(cfg *infra.Config, metrics *infra.Metrics) *Subscriber {
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	return &Subscriber{
		url:              cfg.Feed.WSURL,
		quoteSuffix:      strings.ToUpper(cfg.Feed.QuoteSuffix),
		topicPrefix:      cfg.Feed.TopicPrefix,
		reconnectDelay:   cfg.ReconnectDelay(),
		pingInterval:     cfg.PingInterval(),
		readTimeout:      cfg.ReadTimeout(),
		handshakeTimeout: cfg.HandshakeTimeout(),
		writeTimeout:     cfg.WriteTimeout(),
		metrics:          metrics,
		logger:           slog.Default().With("module", "price_feed"),
		state:            domain.FeedStopped,
		watched:          make(map[string]struct{}),
	}
}

// Start begins connecting. Calling Start on a running subscriber is a no-op.
func (s *Subscriber) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.state = domain.FeedConnecting
	s.wg.Add(1)
	s.mu.Unlock()

	go s.connectionLoop(ctx)
	s.logger.Info("📡 Price feed started", slog.String("url", s.url))
}

// Stop cancels any pending reconnect, closes the socket and waits for the
// connection goroutine. Safe to call repeatedly and from any state.
func (s *Subscriber) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.closeConnection()
	s.wg.Wait()

	s.mu.Lock()
	s.state = domain.FeedStopped
	s.mu.Unlock()
	s.logger.Info("📡 Price feed stopped")
}

// WatchTicker adds ticker to the subscription set. While open it subscribes
// immediately; otherwise the ticker goes out with the next resubscribe burst.
func (s *Subscriber) WatchTicker(ticker string) {
	ticker = domain.NormalizeTicker(ticker)
	if ticker == "" {
		s.logger.Warn("Ignoring watch request", slog.Any("error", domain.ErrInvalidSymbol))
		return
	}

	s.mu.Lock()
	if _, ok := s.watched[ticker]; ok {
		s.mu.Unlock()
		return
	}
	s.watched[ticker] = struct{}{}
	s.order = append(s.order, ticker)
	open := s.state == domain.FeedOpen
	count := len(s.order)
	s.mu.Unlock()

	s.metrics.SetWatchedSymbols(count)

	if !open {
		s.logger.Debug("Watch deferred until connected", slog.String("ticker", ticker))
		return
	}

	topic := s.topic(ticker)
	if err := s.send(subscribeRequest{Op: opSubscribe, Args: []string{topic}}); err != nil {
		// the resubscribe on the next connect covers it
		s.logger.Warn("Incremental subscribe failed", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	s.logger.Info("Subscribed", slog.String("topic", topic))
}

// RegisterPriceHandler installs the single consumer of price updates, replacing any previous one.
func (s *Subscriber) RegisterPriceHandler(h domain.PriceHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Subscriber) State() domain.FeedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the socket is open.
func (s *Subscriber) IsConnected() bool {
	return s.State() == domain.FeedOpen
}

// Watched returns the subscription set in insertion order.
func (s *Subscriber) Watched() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Subscriber) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.closeConnection()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Price feed panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("Price feed connection failed", slog.Any("error", err))
		} else {
			done := make(chan struct{})
			s.wg.Add(1)
			go s.pingLoop(ctx, done)
			s.readLoop(ctx, conn)
			close(done)
		}

		if !s.waitReconnect(ctx) {
			return
		}
	}
}

// waitReconnect blocks for the fixed reconnect delay. There is only one
// connection goroutine, so at most one reconnect timer is ever pending.
func (s *Subscriber) waitReconnect(ctx context.Context) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.state = domain.FeedConnecting
	s.mu.Unlock()

	s.metrics.RecordReconnect()
	s.logger.Info("Reconnecting", slog.Duration("delay", s.reconnectDelay))

	timer := time.NewTimer(s.reconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Subscriber) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	s.conn = conn
	s.state = domain.FeedOpen
	topics := make([]string, len(s.order))
	for i, ticker := range s.order {
		topics[i] = s.topic(ticker)
	}
	s.mu.Unlock()

	s.metrics.IncrementConnections()
	s.logger.Info("📡 Connected to Bybit WS")

	// One batched request for the whole set bounds message count on reconnect storms.
	if len(topics) > 0 {
		if err := s.send(subscribeRequest{Op: opSubscribe, Args: topics}); err != nil {
			s.closeConnection()
			return nil, domain.NewNetworkError("subscribe", err)
		}
		s.logger.Info("Subscribed to tickers", slog.Int("count", len(topics)))
	}
	return conn, nil
}

func (s *Subscriber) pingLoop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := s.send(subscribeRequest{Op: opPing}); err != nil {
				s.logger.Debug("Ping failed", slog.Any("error", err))
			}
		}
	}
}

func (s *Subscriber) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("📡 WS disconnected", slog.Any("error", domain.NewNetworkError("read", err)))
			}
			s.closeConnection()
			return
		}
		s.handleMessage(msg)
	}
}

// handleMessage parses defensively: anything that is not a positive last price for
// a watched ticker is dropped without error.
func (s *Subscriber) handleMessage(msg []byte) {
	var frame tickerFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return
	}
	if !strings.HasPrefix(frame.Topic, s.topicPrefix) || len(frame.Data) == 0 {
		return
	}

	var data tickerData
	if err := json.Unmarshal(frame.Data, &data); err != nil || data.LastPrice == "" {
		return
	}
	price, err := decimal.NewFromString(data.LastPrice)
	if err != nil || !price.IsPositive() {
		return
	}

	wire := data.Symbol
	if wire == "" {
		wire = strings.TrimPrefix(frame.Topic, s.topicPrefix)
	}
	ticker := FromWireSymbol(wire, s.quoteSuffix)

	s.mu.RLock()
	_, watched := s.watched[ticker]
	handler := s.handler
	s.mu.RUnlock()

	if !watched || handler == nil {
		return
	}
	handler(ticker, wire, price)
}

func (s *Subscriber) send(req subscribeRequest) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.threadSafeWrite(websocket.TextMessage, b)
}

func (s *Subscriber) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return domain.ErrNotConnected
	}
	// a stalled peer must not pin mu, closeConnection needs it
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *Subscriber) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.metrics.DecrementConnections()
	}
	if s.running {
		s.state = domain.FeedConnecting
	} else {
		s.state = domain.FeedStopped
	}
}

func (s *Subscriber) topic(ticker string) string {
	return s.topicPrefix + ToWireSymbol(ticker, s.quoteSuffix)
}
