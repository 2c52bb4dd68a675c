package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of the position an order protects.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide normalizes s and validates it.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	default:
		return "", ErrInvalidSide
	}
}

// OrderStatus is a one-way state machine: active -> triggered_tp | triggered_sl.
type OrderStatus string

const (
	OrderStatusActive      OrderStatus = "active"
	OrderStatusTriggeredTP OrderStatus = "triggered_tp"
	OrderStatusTriggeredSL OrderStatus = "triggered_sl"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusTriggeredTP || s == OrderStatusTriggeredSL
}

// TriggerKind identifies which condition fired.
type TriggerKind string

const (
	TriggerTakeProfit TriggerKind = "tp"
	TriggerStopLoss   TriggerKind = "sl"
)

// Status returns the terminal status an order moves to for this kind.
func (k TriggerKind) Status() OrderStatus {
	if k == TriggerTakeProfit {
		return OrderStatusTriggeredTP
	}
	return OrderStatusTriggeredSL
}

const OrderTypePerp = "perp"

// ConditionalOrder is a take-profit / stop-loss order watching one ticker.
// Prices are decimal; TakeProfitPrice and StopLossPrice are nil when unset.
type ConditionalOrder struct {
	ID              string           `json:"id"`
	WalletAddress   string           `json:"walletAddress"`
	Ticker          string           `json:"ticker"`
	Type            string           `json:"type"`
	Side            Side             `json:"side"`
	EntryPrice      decimal.Decimal  `json:"entryPrice"`
	TakeProfitPrice *decimal.Decimal `json:"takeProfitPrice"`
	StopLossPrice   *decimal.Decimal `json:"stopLossPrice"`
	Leverage        decimal.Decimal  `json:"leverage"`
	Amount          string           `json:"amount"`
	PositionID      string           `json:"positionId"`
	CreatedAt       time.Time        `json:"createdAt"`
	Status          OrderStatus      `json:"status"`
}

// OrderSpec carries the caller-supplied fields of a new order.
type OrderSpec struct {
	WalletAddress   string
	Ticker          string
	Side            Side
	EntryPrice      decimal.Decimal
	TakeProfitPrice *decimal.Decimal
	StopLossPrice   *decimal.Decimal
	Leverage        decimal.Decimal
	Amount          string
	PositionID      string
}

// OrderPatch updates the trigger prices of an active order.
type OrderPatch struct {
	TakeProfitPrice OptionalPrice `json:"takeProfitPrice"`
	StopLossPrice   OptionalPrice `json:"stopLossPrice"`
}

// IsActive reports whether the order is still evaluated against prices.
func (o *ConditionalOrder) IsActive() bool {
	return o.Status == OrderStatusActive
}

// HasCondition reports whether at least one of TP or SL is set.
func (o *ConditionalOrder) HasCondition() bool {
	return o.TakeProfitPrice != nil || o.StopLossPrice != nil
}

// Clone returns a deep copy, so callers never share price pointers with the registry.
func (o ConditionalOrder) Clone() ConditionalOrder {
	o.TakeProfitPrice = clonePrice(o.TakeProfitPrice)
	o.StopLossPrice = clonePrice(o.StopLossPrice)
	return o
}

func clonePrice(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// NormalizeWallet returns the canonical form of a wallet key.
func NormalizeWallet(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}

// NormalizeTicker returns the canonical form of a ticker.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
