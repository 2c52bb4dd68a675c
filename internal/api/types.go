package api

import (
	"time"

	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/infra"

	"github.com/shopspring/decimal"
)

// createOrderRequest is the body of POST /tpsl/orders
type createOrderRequest struct {
	WalletAddress   string           `json:"walletAddress"`
	Ticker          string           `json:"ticker"`
	Side            string           `json:"side"`
	EntryPrice      decimal.Decimal  `json:"entryPrice"`      // default 0
	TakeProfitPrice *decimal.Decimal `json:"takeProfitPrice"` // null: no TP
	StopLossPrice   *decimal.Decimal `json:"stopLossPrice"`   // null: no SL
	Leverage        *decimal.Decimal `json:"leverage"`        // default 1
	Amount          string           `json:"amount"`          // default "0"
	PositionID      string           `json:"positionId"`
}

// updateOrderRequest is the body of PUT /tpsl/orders/{id}.
// Omitted prices are kept, explicit nulls clear them.
type updateOrderRequest struct {
	WalletAddress   string               `json:"walletAddress"`
	TakeProfitPrice domain.OptionalPrice `json:"takeProfitPrice"`
	StopLossPrice   domain.OptionalPrice `json:"stopLossPrice"`
}

// Response is the envelope of every reply
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type orderResponse struct {
	Response
	Order domain.ConditionalOrder `json:"order"`
}

type ordersResponse struct {
	Response
	Orders []domain.ConditionalOrder `json:"orders"`
}

type triggersResponse struct {
	Response
	Triggers []domain.TriggerRecord `json:"triggers"`
}

type healthResponse struct {
	Response
	Status    string                `json:"status"`
	Timestamp time.Time             `json:"timestamp"`
	Feed      domain.FeedState      `json:"feed"`
	Metrics   infra.MetricsSnapshot `json:"metrics"`
}
