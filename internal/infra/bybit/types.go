package bybit

import (
	"encoding/json"
	"strings"
)

const (
	opSubscribe = "subscribe"
	opPing      = "ping"
)

// subscribeRequest Structure
type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// tickerFrame is a push on the tickers.<SYMBOL> topic.
// Acks and pongs ({"success":true,"op":"subscribe"}) carry no topic and are dropped.
type tickerFrame struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // snapshot, delta
	Data  json.RawMessage `json:"data"`
	Ts    int64           `json:"ts"`
}

type tickerData struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"` // absent on deltas that did not trade
}

// ToWireSymbol maps an internal ticker to the linear perpetual symbol (BTC -> BTCUSDT).
func ToWireSymbol(ticker, quoteSuffix string) string {
	return strings.ToUpper(ticker) + strings.ToUpper(quoteSuffix)
}

// FromWireSymbol strips the quote suffix (BTCUSDT -> BTC).
func FromWireSymbol(symbol, quoteSuffix string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), strings.ToUpper(quoteSuffix))
}
