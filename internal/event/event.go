package event

import (
	"time"

	"tpsl_monitor/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceUpdate is one last-traded price from the feed.
type PriceUpdate struct {
	Seq        uint64
	Ts         time.Time
	Symbol     string // internal ticker, e.g. "BTC"
	WireSymbol string // upstream symbol, e.g. "BTCUSDT"
	Price      decimal.Decimal
}

// Trigger is emitted once per order when its TP or SL fires.
type Trigger struct {
	Order       domain.ConditionalOrder
	Kind        domain.TriggerKind
	Price       decimal.Decimal
	TriggeredAt time.Time
}
