package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"tpsl_monitor/internal/domain"

	"github.com/shopspring/decimal"
)

const userAgent = "tpsl-monitor/0.1"

// closeRequest is the body POSTed to the settlement endpoint.
type closeRequest struct {
	OrderID       string `json:"orderId"`
	PositionID    string `json:"positionId"`
	WalletAddress string `json:"walletAddress"`
	Ticker        string `json:"ticker"`
	Side          string `json:"side"`
	Kind          string `json:"triggerType"`
	Price         string `json:"triggerPrice"`
	Amount        string `json:"amount"`
	Leverage      string `json:"leverage"`
}

// HTTPSettler asks an external settlement service to close positions.
type HTTPSettler struct {
	url        string
	path       string
	maxRetries int
	backoff    time.Duration
	signer     *Signer // nil: unsigned
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Settler = (*HTTPSettler)(nil)

// NewHTTPSettler creates a settler posting to endpoint. signer may be nil.
func NewHTTPSettler(endpoint string, timeout time.Duration, maxRetries int, signer *Signer) *HTTPSettler {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	path := "/"
	if u, err := url.Parse(endpoint); err == nil && u.Path != "" {
		path = u.Path
	}
	return &HTTPSettler{
		url:        endpoint,
		path:       path,
		maxRetries: maxRetries,
		signer:     signer,
		backoff:    time.Second,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: slog.Default().With("module", "settlement"),
	}
}

// ClosePosition posts the close request, retrying transient failures with exponential backoff.
func (s *HTTPSettler) ClosePosition(ctx context.Context, order domain.ConditionalOrder, kind domain.TriggerKind, price decimal.Decimal) error {
	body, err := json.Marshal(closeRequest{
		OrderID:       order.ID,
		PositionID:    order.PositionID,
		WalletAddress: order.WalletAddress,
		Ticker:        order.Ticker,
		Side:          string(order.Side),
		Kind:          string(kind),
		Price:         price.String(),
		Amount:        order.Amount,
		Leverage:      order.Leverage.String(),
	})
	if err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		if i > 0 {
			// Exponential backoff: 1x, 2x, 4x
			delay := s.backoff * time.Duration(1<<uint(i-1))
			s.logger.Info("Retrying position close",
				slog.String("position", order.PositionID),
				slog.Int("attempt", i),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := s.doPost(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("Position close attempt failed",
			slog.String("position", order.PositionID),
			slog.Int("attempt", i+1),
			slog.Any("error", err),
		)
		if !domain.IsRetriable(err) {
			return err
		}
	}
	return lastErr
}

func (s *HTTPSettler) doPost(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return domain.NewFatalNetworkError("settle", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if s.signer != nil {
		for k, v := range s.signer.GenerateHeaders(http.MethodPost, s.path, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("settle", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return domain.NewStatusError("settle", resp.StatusCode, fmt.Errorf("%s", bytes.TrimSpace(msg)))
}
