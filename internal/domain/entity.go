package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TriggerRecord is one fired trigger as written to the trigger journal.
type TriggerRecord struct {
	ID              uint                `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID         string              `gorm:"index" json:"order_id"`
	WalletAddress   string              `gorm:"index" json:"wallet_address"`
	Ticker          string              `json:"ticker"`
	Side            string              `json:"side"`
	Kind            string              `json:"kind"` // "tp" or "sl"
	Price           decimal.Decimal     `json:"price"`
	TakeProfitPrice decimal.NullDecimal `json:"take_profit_price"`
	StopLossPrice   decimal.NullDecimal `json:"stop_loss_price"`
	EntryPrice      decimal.Decimal     `json:"entry_price"`
	Leverage        decimal.Decimal     `json:"leverage"`
	Amount          string              `json:"amount"`
	PositionID      string              `json:"position_id"`
	CloseError      string              `json:"close_error,omitempty"`
	TriggeredAt     time.Time           `gorm:"index" json:"triggered_at"`
	CreatedAt       time.Time           `json:"created_at"`
}

// NewTriggerRecord builds a journal row from a triggered order.
func NewTriggerRecord(order ConditionalOrder, kind TriggerKind, price decimal.Decimal, at time.Time) *TriggerRecord {
	return &TriggerRecord{
		OrderID:         order.ID,
		WalletAddress:   order.WalletAddress,
		Ticker:          order.Ticker,
		Side:            string(order.Side),
		Kind:            string(kind),
		Price:           price,
		TakeProfitPrice: toNullDecimal(order.TakeProfitPrice),
		StopLossPrice:   toNullDecimal(order.StopLossPrice),
		EntryPrice:      order.EntryPrice,
		Leverage:        order.Leverage,
		Amount:          order.Amount,
		PositionID:      order.PositionID,
		TriggeredAt:     at,
	}
}

func toNullDecimal(p *decimal.Decimal) decimal.NullDecimal {
	if p == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*p)
}
