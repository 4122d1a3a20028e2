package risk

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Params drives all sizing and exit math. Pure data, immutable after
// construction; both the live engine and the backtest replay consume the same
// instance so the two paths cannot drift apart.
type Params struct {
	PositionPct  float64 `envconfig:"POSITION_PCT" default:"0.03"`
	StopATRMult  float64 `envconfig:"STOP_ATR_MULT" default:"1.5"`
	TPATRMult    float64 `envconfig:"TP_ATR_MULT" default:"3.0"`
	TakerFee     float64 `envconfig:"TAKER_FEE" default:"0.001"`
	MakerFee     float64 `envconfig:"MAKER_FEE" default:"0.001"`
	SlippageBps  float64 `envconfig:"SLIPPAGE_BPS" default:"5.0"`
	PartialTPPct float64 `envconfig:"PARTIAL_TP_PCT" default:"0.5"`
	Trailing     bool    `envconfig:"TRAILING_ENABLED" default:"true"`
}

func GetParams() Params {
	var params Params
	if err := envconfig.Process("", &params); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return params
}

// OrderNotional converts the free quote balance into a quote amount to spend.
// Never negative.
func (p Params) OrderNotional(balance float64) float64 {
	notional := balance * p.PositionPct
	if notional < 0 {
		return 0
	}
	return notional
}

// SlippageAdjust models expected slippage around a reference price: entries
// pay up, exits receive less.
func (p Params) SlippageAdjust(price float64, isEntry bool) float64 {
	adj := p.SlippageBps / 10000.0
	if isEntry {
		return price * (1 + adj)
	}
	return price * (1 - adj)
}

// StopsFromATR derives the static stop and take-profit levels from the ATR
// frozen at entry.
func (p Params) StopsFromATR(entry, atr float64) (stop, takeProfit float64) {
	return entry - atr*p.StopATRMult, entry + atr*p.TPATRMult
}

// TrailingStop recomputes the trailing level from the best price seen. Callers
// only invoke this on a new high, which keeps the level monotonically
// non-decreasing for a long position.
func (p Params) TrailingStop(bestPrice, atr float64) float64 {
	return bestPrice - atr*p.StopATRMult
}

// EffectiveStop is the level an open long actually exits at: the tighter of
// static and trailing when trailing is enabled, else the static stop.
func (p Params) EffectiveStop(staticStop, trailingStop float64, trailingEnabled bool) float64 {
	if !trailingEnabled {
		return staticStop
	}
	if trailingStop < staticStop {
		return trailingStop
	}
	return staticStop
}

// FeeUSD prices the venue fee on a notional. Taker for market orders, maker
// for resting limits.
func (p Params) FeeUSD(notional float64, taker bool) float64 {
	if taker {
		return notional * p.TakerFee
	}
	return notional * p.MakerFee
}

// PartialQty is the slice sold at the first take-profit touch.
func (p Params) PartialQty(fullQty float64) float64 {
	return fullQty * p.PartialTPPct
}
