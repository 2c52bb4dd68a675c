package domain

import "github.com/shopspring/decimal"

// TakeProfitHit checks the take-profit condition.
// Returns true when:
// - Side is long and currentPrice >= TakeProfitPrice
// - Side is short and currentPrice <= TakeProfitPrice
func (o *ConditionalOrder) TakeProfitHit(currentPrice decimal.Decimal) bool {
	if o.TakeProfitPrice == nil {
		return false
	}
	switch o.Side {
	case SideLong:
		return currentPrice.GreaterThanOrEqual(*o.TakeProfitPrice)
	case SideShort:
		return currentPrice.LessThanOrEqual(*o.TakeProfitPrice)
	default:
		return false
	}
}

// StopLossHit checks the stop-loss condition.
// Returns true when:
// - Side is long and currentPrice <= StopLossPrice
// - Side is short and currentPrice >= StopLossPrice
func (o *ConditionalOrder) StopLossHit(currentPrice decimal.Decimal) bool {
	if o.StopLossPrice == nil {
		return false
	}
	switch o.Side {
	case SideLong:
		return currentPrice.LessThanOrEqual(*o.StopLossPrice)
	case SideShort:
		return currentPrice.GreaterThanOrEqual(*o.StopLossPrice)
	default:
		return false
	}
}

// Evaluate decides whether currentPrice fires the order.
// Take-profit is checked first: when both conditions hold on the same price, TP wins.
// Inactive orders never fire.
func (o *ConditionalOrder) Evaluate(currentPrice decimal.Decimal) (TriggerKind, bool) {
	if !o.IsActive() {
		return "", false
	}
	if o.TakeProfitHit(currentPrice) {
		return TriggerTakeProfit, true
	}
	if o.StopLossHit(currentPrice) {
		return TriggerStopLoss, true
	}
	return "", false
}
