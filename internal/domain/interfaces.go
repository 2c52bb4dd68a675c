package domain

import (
	"github.com/shopspring/decimal"
)

// FeedState is the connection state of a price feed.
type FeedState string

const (
	FeedStopped    FeedState = "stopped"
	FeedConnecting FeedState = "connecting"
	FeedOpen       FeedState = "open"
)

// PriceHandler receives confirmed price updates from a feed.
// ticker is the internal ticker, wireSymbol the upstream one.
type PriceHandler func(ticker, wireSymbol string, price decimal.Decimal)

// PriceFeed defines the interface for streaming market-data connectors
type PriceFeed interface {
	Start()
	Stop()
	WatchTicker(ticker string)
	RegisterPriceHandler(h PriceHandler)
	State() FeedState
	IsConnected() bool
}

// TriggerJournal defines how fired triggers are recorded
type TriggerJournal interface {
	SaveTrigger(rec *TriggerRecord) error
	ListTriggers(wallet string, limit int) ([]TriggerRecord, error)
}
