package router

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
)

// OrderRouter is the thin, logged layer every lifecycle order passes through.
// Market entries and exits are the critical path and surface their failures;
// the optional resting partial-TP limit is best-effort and degrades to
// software-monitored exits on the next candle.
type OrderRouter struct {
	exchange connectors.ExchangeConnector
}

func NewOrderRouter(exchange connectors.ExchangeConnector) *OrderRouter {
	return &OrderRouter{exchange: exchange}
}

// ExecuteEntry places a market buy for quoteAmount of the quote asset.
func (r *OrderRouter) ExecuteEntry(ctx context.Context, symbol string, quoteAmount float64) (*connectors.OrderResult, error) {
	logger.WithFields(map[string]interface{}{
		"venue":  r.exchange.Name(),
		"symbol": symbol,
		"quote":  quoteAmount,
	}).Info("Routing market entry")

	result, err := r.exchange.MarketBuyQuote(ctx, symbol, quoteAmount)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"venue":  r.exchange.Name(),
			"symbol": symbol,
			"kind":   connectors.KindOf(err).String(),
		}).WithError(err).Error("Market entry failed")
		return nil, fmt.Errorf("market entry for %s failed: %w", symbol, err)
	}
	return result, nil
}

// ExecuteExit places a market sell for qty of the base asset.
func (r *OrderRouter) ExecuteExit(ctx context.Context, symbol string, qty float64) (*connectors.OrderResult, error) {
	logger.WithFields(map[string]interface{}{
		"venue":  r.exchange.Name(),
		"symbol": symbol,
		"qty":    qty,
	}).Info("Routing market exit")

	result, err := r.exchange.MarketSell(ctx, symbol, qty)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"venue":  r.exchange.Name(),
			"symbol": symbol,
			"kind":   connectors.KindOf(err).String(),
		}).WithError(err).Error("Market exit failed")
		return nil, fmt.Errorf("market exit for %s failed: %w", symbol, err)
	}
	return result, nil
}

// PlacePartialTPLimit places the optional resting partial take-profit order.
// A failure here is logged and swallowed: the engine falls back to monitoring
// the level in software, so the caller always receives (maybe-nil, nil).
func (r *OrderRouter) PlacePartialTPLimit(ctx context.Context, symbol string, qty, price float64) *connectors.OrderResult {
	result, err := r.exchange.LimitSell(ctx, symbol, qty, price)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"venue":  r.exchange.Name(),
			"symbol": symbol,
			"qty":    qty,
			"price":  price,
		}).WithError(err).Warn("Partial TP limit placement failed, falling back to software exit")
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"venue":    r.exchange.Name(),
		"symbol":   symbol,
		"order_id": result.OrderID,
		"price":    price,
	}).Info("Partial TP limit placed")
	return result
}

// CancelResting cancels all open orders for the symbol, best-effort. Exit
// paths call this before or after closing; a failure must never block the
// position closure itself.
func (r *OrderRouter) CancelResting(ctx context.Context, symbol string) {
	if err := r.exchange.CancelAllOrders(ctx, symbol); err != nil {
		logger.WithFields(map[string]interface{}{
			"venue":  r.exchange.Name(),
			"symbol": symbol,
		}).WithError(err).Warn("Cancel of resting orders failed")
	}
}
