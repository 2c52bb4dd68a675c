package event

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// priceUpdatePool provides sync.Pool for high-frequency price update allocation.
//
// Usage:
//
//	ev := AcquirePriceUpdate()
//	ev.Symbol = "BTC"
//	// ... use event ...
//	ReleasePriceUpdate(ev)  // Return to pool after processing
var priceUpdatePool = sync.Pool{
	New: func() interface{} {
		return &PriceUpdate{}
	},
}

// AcquirePriceUpdate gets a PriceUpdate from the pool.
// The returned event has zero values and must be initialized.
func AcquirePriceUpdate() *PriceUpdate {
	return priceUpdatePool.Get().(*PriceUpdate)
}

// ReleasePriceUpdate returns a PriceUpdate to the pool.
// The event is reset to zero values before being pooled.
func ReleasePriceUpdate(ev *PriceUpdate) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = time.Time{}
	ev.Symbol = ""
	ev.WireSymbol = ""
	ev.Price = decimal.Zero

	priceUpdatePool.Put(ev)
}

// Warmup pre-allocates price updates to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	evs := make([]*PriceUpdate, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquirePriceUpdate())
	}
	for _, ev := range evs {
		ReleasePriceUpdate(ev)
	}
}
