package backtest

import (
	"context"
	"fmt"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/engine"
	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/risk"
)

type Config struct {
	Exchange        string  `envconfig:"BACKTEST_EXCHANGE" default:"binance"`
	Symbol          string  `envconfig:"BACKTEST_SYMBOL" default:"BTCUSDT"`
	Timeframe       string  `envconfig:"BACKTEST_TIMEFRAME" default:"1h"`
	FromMs          int64   `envconfig:"BACKTEST_FROM_MS" default:"0"`
	ToMs            int64   `envconfig:"BACKTEST_TO_MS" default:"0"`
	InitialBalance  float64 `envconfig:"BACKTEST_INITIAL_BALANCE" default:"10000"`
	ATRPeriod       int     `envconfig:"ATR_PERIOD" default:"14"`
	CooldownCandles int     `envconfig:"COOLDOWN_CANDLES" default:"3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// CandleSource is the slice of the candle store the replay needs.
type CandleSource interface {
	ListRange(ctx context.Context, exchange, symbol, timeframe string, fromMs, toMs int64) ([]model.OHLCVCandle, error)
}

var _ CandleSource = (*repository.CandleRepository)(nil)

// EntryRule decides whether to open a long given the history up to and
// including the current bar. The exit side is never rule-driven: stops,
// trailing and take-profits follow the same math as live trading.
type EntryRule func(history []model.Candle) bool

// EnterAlways opens a position whenever the replay is flat and out of
// cooldown. Useful as the exit-logic benchmark.
func EnterAlways(history []model.Candle) bool { return true }

// EnterAboveSMA opens only when the close is above its simple moving average,
// the minimal trend filter.
func EnterAboveSMA(period int) EntryRule {
	return func(history []model.Candle) bool {
		if period <= 0 || len(history) < period {
			return false
		}
		sum := 0.0
		for _, c := range history[len(history)-period:] {
			sum += c.Close
		}
		return history[len(history)-1].Close > sum/float64(period)
	}
}

// Report aggregates one replay. Wins and WinRate count exit events, so a
// partial take-profit and the later full close each contribute one event.
type Report struct {
	Bars         int     `json:"bars"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	TotalFees    float64 `json:"total_fees"`
	FinalBalance float64 `json:"final_balance"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Sharpe       float64 `json:"sharpe"`
}

// Backtester replays stored candle history through the exact position
// lifecycle rules the live engine applies, with a simulated cash ledger in
// place of a venue. Same risk.Params instance, same ATR, same exit ordering.
type Backtester struct {
	cfg    Config
	params risk.Params
	rule   EntryRule
}

func NewBacktester(cfg Config, params risk.Params, rule EntryRule) *Backtester {
	if rule == nil {
		rule = EnterAlways
	}
	return &Backtester{cfg: cfg, params: params, rule: rule}
}

// RunFromStore loads the configured range and replays it.
func (b *Backtester) RunFromStore(ctx context.Context, store CandleSource) (Report, error) {
	toMs := b.cfg.ToMs
	if toMs <= 0 {
		toMs = int64(1) << 62
	}
	rows, err := store.ListRange(ctx, b.cfg.Exchange, b.cfg.Symbol, b.cfg.Timeframe, b.cfg.FromMs, toMs)
	if err != nil {
		return Report{}, err
	}

	candles := make([]model.Candle, len(rows))
	for i, row := range rows {
		candles[i] = row.ToCandle()
	}
	return b.Run(candles), nil
}

// simPosition mirrors the live position fields the exit math reads.
type simPosition struct {
	qty          float64
	entry        float64
	atr          float64
	stop         float64
	takeProfit   float64
	best         float64
	trailingStop float64
	partialDone  bool
	entryFee     float64
}

// Run replays the candle series bar by bar. Fills happen at the bar close
// adjusted for slippage, matching how the live engine models fills when the
// venue reports no average price.
func (b *Backtester) Run(candles []model.Candle) Report {
	cash := b.cfg.InitialBalance
	var pos *simPosition
	var openedAt int
	equity := make([]float64, 0, len(candles))

	report := Report{Bars: len(candles)}
	exits := 0

	closePosition := func(fill, qty float64) {
		fee := b.params.FeeUSD(fill*qty, true)
		cash += fill*qty - fee
		pnl := (fill-pos.entry)*qty - fee
		report.TotalPnL += pnl
		report.TotalFees += pos.entryFee + fee
		exits++
		if pnl > 0 {
			report.Wins++
		}
		pos = nil
	}

	for i, candle := range candles {
		price := candle.Close

		if pos != nil {
			if price > pos.best {
				pos.best = price
				if b.params.Trailing {
					pos.trailingStop = b.params.TrailingStop(pos.best, pos.atr)
				}
			}

			partialThisBar := false
			if !pos.partialDone && price >= pos.takeProfit {
				qty := b.params.PartialQty(pos.qty)
				fill := b.params.SlippageAdjust(price, false)
				fee := b.params.FeeUSD(fill*qty, true)
				cash += fill*qty - fee
				pnl := (fill-pos.entry)*qty - fee
				report.TotalPnL += pnl
				report.TotalFees += fee
				exits++
				if pnl > 0 {
					report.Wins++
				}
				pos.qty -= qty
				pos.partialDone = true
				partialThisBar = true
			}

			if pos != nil && pos.qty > 0 {
				effectiveStop := b.params.EffectiveStop(pos.stop, pos.trailingStop, b.params.Trailing)
				if price <= effectiveStop {
					closePosition(b.params.SlippageAdjust(price, false), pos.qty)
				} else if pos.partialDone && !partialThisBar && price >= pos.takeProfit {
					closePosition(b.params.SlippageAdjust(price, false), pos.qty)
				}
			} else if pos != nil {
				// The partial consumed the whole position, so that event was
				// already counted; only the entry fee remains to settle.
				report.TotalFees += pos.entryFee
				pos = nil
			}
		} else if i >= openedAt+b.cfg.CooldownCandles || report.Trades == 0 {
			history := candles[:i+1]
			atr := engine.ComputeATR(history, b.cfg.ATRPeriod)
			if atr > 0 && b.rule(history) {
				notional := b.params.OrderNotional(cash)
				entryFill := b.params.SlippageAdjust(price, true)
				if notional > 0 && entryFill > 0 {
					qty := notional / entryFill
					fee := b.params.FeeUSD(notional, true)
					cash -= notional + fee
					stop, takeProfit := b.params.StopsFromATR(entryFill, atr)
					pos = &simPosition{
						qty:          qty,
						entry:        entryFill,
						atr:          atr,
						stop:         stop,
						takeProfit:   takeProfit,
						best:         entryFill,
						trailingStop: b.params.TrailingStop(entryFill, atr),
						entryFee:     fee,
					}
					openedAt = i
					report.Trades++
				}
			}
		}

		markToMarket := cash
		if pos != nil {
			markToMarket += pos.qty * price
		}
		equity = append(equity, markToMarket)
	}

	// Liquidate anything still open at the last close so the ledger balances.
	if pos != nil && len(candles) > 0 {
		closePosition(b.params.SlippageAdjust(candles[len(candles)-1].Close, false), pos.qty)
		equity[len(equity)-1] = cash
	}

	report.FinalBalance = cash
	if exits > 0 {
		report.WinRate = float64(report.Wins) / float64(exits)
	}
	report.MaxDrawdown = maxDrawdown(equity)
	report.Sharpe = sharpe(equity, barsPerYear(b.cfg.Timeframe))

	logger.WithFields(map[string]interface{}{
		"symbol":  b.cfg.Symbol,
		"bars":    report.Bars,
		"trades":  report.Trades,
		"pnl":     report.TotalPnL,
		"sharpe":  report.Sharpe,
		"max_dd":  report.MaxDrawdown,
		"balance": report.FinalBalance,
	}).Info("Backtest finished")

	return report
}
