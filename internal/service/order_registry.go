package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tpsl_monitor/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRegistry is the in-memory store of conditional orders.
// Orders are partitioned by wallet, with secondary indexes by id and by ticker (active only).
// Every read returns copies; mutation goes through the methods below.
type OrderRegistry struct {
	mu       sync.RWMutex
	wallets  map[string][]*record          // wallet -> orders in insertion order
	byID     map[string]*record            // id -> order
	byTicker map[string]map[string]*record // ticker -> id -> active order
	nextSeq  uint64
	now      func() time.Time
	logger   *slog.Logger
}

type record struct {
	order domain.ConditionalOrder
	seq   uint64
}

// NewOrderRegistry creates an empty registry
func NewOrderRegistry() *OrderRegistry {
	return &OrderRegistry{
		wallets:  make(map[string][]*record),
		byID:     make(map[string]*record),
		byTicker: make(map[string]map[string]*record),
		now:      time.Now,
		logger:   slog.Default().With("module", "tpsl_store"),
	}
}

// AddOrder stores a new active order and returns it.
func (r *OrderRegistry) AddOrder(spec domain.OrderSpec) domain.ConditionalOrder {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	rec := &record{
		seq: r.nextSeq,
		order: domain.ConditionalOrder{
			ID:              "tpsl_" + uuid.NewString(),
			WalletAddress:   domain.NormalizeWallet(spec.WalletAddress),
			Ticker:          domain.NormalizeTicker(spec.Ticker),
			Type:            domain.OrderTypePerp,
			Side:            spec.Side,
			EntryPrice:      spec.EntryPrice,
			TakeProfitPrice: spec.TakeProfitPrice,
			StopLossPrice:   spec.StopLossPrice,
			Leverage:        spec.Leverage,
			Amount:          spec.Amount,
			PositionID:      spec.PositionID,
			CreatedAt:       r.now(),
			Status:          domain.OrderStatusActive,
		}.Clone(),
	}

	wallet := rec.order.WalletAddress
	r.wallets[wallet] = append(r.wallets[wallet], rec)
	r.byID[rec.order.ID] = rec
	r.indexTicker(rec)

	r.logger.Info("Added order",
		slog.String("id", rec.order.ID),
		slog.String("wallet", wallet),
		slog.String("ticker", rec.order.Ticker),
		slog.String("side", string(rec.order.Side)),
		slog.String("tp", priceString(rec.order.TakeProfitPrice)),
		slog.String("sl", priceString(rec.order.StopLossPrice)),
	)
	return rec.order.Clone()
}

// GetOrders returns all orders of a wallet (any status) in insertion order.
func (r *OrderRegistry) GetOrders(wallet string) []domain.ConditionalOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.wallets[domain.NormalizeWallet(wallet)]
	result := make([]domain.ConditionalOrder, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.order.Clone())
	}
	return result
}

// UpdateOrder changes the trigger prices of an active order.
// Returns domain.ErrOrderNotFound when the wallet has no active order with that id.
func (r *OrderRegistry) UpdateOrder(wallet, id string, patch domain.OrderPatch) (domain.ConditionalOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.find(domain.NormalizeWallet(wallet), id)
	if rec == nil || !rec.order.IsActive() {
		return domain.ConditionalOrder{}, fmt.Errorf("update %s: %w", id, domain.ErrOrderNotFound)
	}

	if patch.TakeProfitPrice.Set {
		rec.order.TakeProfitPrice = clonePrice(patch.TakeProfitPrice.Price)
	}
	if patch.StopLossPrice.Set {
		rec.order.StopLossPrice = clonePrice(patch.StopLossPrice.Price)
	}

	r.logger.Info("Updated order",
		slog.String("id", id),
		slog.String("tp", priceString(rec.order.TakeProfitPrice)),
		slog.String("sl", priceString(rec.order.StopLossPrice)),
	)
	return rec.order.Clone(), nil
}

// RemoveOrder deletes an order regardless of status and reports whether it existed.
// A wallet whose last order is removed is dropped entirely.
func (r *OrderRegistry) RemoveOrder(wallet, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	wallet = domain.NormalizeWallet(wallet)
	recs := r.wallets[wallet]
	idx := -1
	for i, rec := range recs {
		if rec.order.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	rec := recs[idx]
	recs = append(recs[:idx], recs[idx+1:]...)
	if len(recs) == 0 {
		delete(r.wallets, wallet)
	} else {
		r.wallets[wallet] = recs
	}
	delete(r.byID, id)
	r.unindexTicker(rec)

	r.logger.Info("Removed order", slog.String("id", id), slog.String("wallet", wallet))
	return true
}

// GetAllActiveOrders returns every active order across wallets.
func (r *OrderRegistry) GetAllActiveOrders() []domain.ConditionalOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]*record, 0)
	for _, byID := range r.byTicker {
		for _, rec := range byID {
			recs = append(recs, rec)
		}
	}
	return copySorted(recs)
}

// ActiveOrdersForSymbol returns active orders on one ticker in insertion order.
func (r *OrderRegistry) ActiveOrdersForSymbol(ticker string) []domain.ConditionalOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.byTicker[domain.NormalizeTicker(ticker)]
	recs := make([]*record, 0, len(byID))
	for _, rec := range byID {
		recs = append(recs, rec)
	}
	return copySorted(recs)
}

// ActiveTickers returns the tickers of active orders that carry at least one condition, sorted.
func (r *OrderRegistry) ActiveTickers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tickers := make([]string, 0, len(r.byTicker))
	for ticker, byID := range r.byTicker {
		for _, rec := range byID {
			if rec.order.HasCondition() {
				tickers = append(tickers, ticker)
				break
			}
		}
	}
	sort.Strings(tickers)
	return tickers
}

// MarkOrderTriggered moves an active order to a terminal status.
// Compare-and-swap: only the first call for an id succeeds; unknown, removed or already
// terminal orders are a no-op and report false.
func (r *OrderRegistry) MarkOrderTriggered(id string, status domain.OrderStatus) (domain.ConditionalOrder, bool) {
	if !status.IsTerminal() {
		return domain.ConditionalOrder{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok || !rec.order.IsActive() {
		return domain.ConditionalOrder{}, false
	}
	rec.order.Status = status
	r.unindexTicker(rec)
	return rec.order.Clone(), true
}

// Len returns the total number of stored orders.
func (r *OrderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// find must be called with lock held
func (r *OrderRegistry) find(wallet, id string) *record {
	rec, ok := r.byID[id]
	if !ok || rec.order.WalletAddress != wallet {
		return nil
	}
	return rec
}

// indexTicker must be called with lock held
func (r *OrderRegistry) indexTicker(rec *record) {
	if !rec.order.IsActive() {
		return
	}
	byID, ok := r.byTicker[rec.order.Ticker]
	if !ok {
		byID = make(map[string]*record)
		r.byTicker[rec.order.Ticker] = byID
	}
	byID[rec.order.ID] = rec
}

// unindexTicker must be called with lock held
func (r *OrderRegistry) unindexTicker(rec *record) {
	byID, ok := r.byTicker[rec.order.Ticker]
	if !ok {
		return
	}
	delete(byID, rec.order.ID)
	if len(byID) == 0 {
		delete(r.byTicker, rec.order.Ticker)
	}
}

func copySorted(recs []*record) []domain.ConditionalOrder {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].seq < recs[j].seq
	})
	result := make([]domain.ConditionalOrder, len(recs))
	for i, rec := range recs {
		result[i] = rec.order.Clone()
	}
	return result
}

func clonePrice(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func priceString(p *decimal.Decimal) string {
	if p == nil {
		return "null"
	}
	return p.String()
}
