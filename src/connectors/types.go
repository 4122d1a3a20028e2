package connectors

import (
	"context"

	"tradeexecutor/src/model"
)

// ExchangeConnector is the uniform capability surface over one venue. Both
// adapters normalize their responses so downstream logic is venue-agnostic.
type ExchangeConnector interface {
	Name() string

	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	GetFreeBalance(ctx context.Context, asset string) (float64, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)

	// MarketBuyQuote spends quoteAmount of the quote asset at market.
	MarketBuyQuote(ctx context.Context, symbol string, quoteAmount float64) (*OrderResult, error)
	MarketSell(ctx context.Context, symbol string, qty float64) (*OrderResult, error)
	LimitSell(ctx context.Context, symbol string, qty, price float64) (*OrderResult, error)

	// PlaceBracketSell arms a take-profit limit plus a stop-limit on qty.
	PlaceBracketSell(ctx context.Context, symbol string, qty, tpPrice, slStopPrice, slLimitPrice float64) (*BracketResult, error)

	GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// OrderResult is the normalized shape of a single placed order.
type OrderResult struct {
	OrderID     string
	Symbol      string
	Side        string
	Status      string
	ExecutedQty float64
	// AvgPrice is computed from fill line-items when the venue reports them,
	// otherwise from the cumulative quote / executed quantity ratio.
	AvgPrice float64
}

// BracketResult is the normalized shape of a bracket (OCO) placement. Either
// leg id may be empty when the venue response was malformed; the signal
// executor treats that as an invariant violation, not this layer.
type BracketResult struct {
	TPOrderID string
	SLOrderID string
	Reports   []OrderReport
}

// OrderReport is one leg as reported inside a bracket placement response.
type OrderReport struct {
	OrderID string
	Type    string
	Status  string
	Price   float64
}

// SymbolFilters carries the venue-enforced precision and minimum-notional
// metadata for one symbol.
type SymbolFilters struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	TickSize    float64
	StepSize    float64
	MinNotional float64
}
