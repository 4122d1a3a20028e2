package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/model"
	"tradeexecutor/src/portfolio"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/risk"
	"tradeexecutor/src/router"
	"tradeexecutor/src/signalsource"
)

// Narrow persistence surfaces so tests can drive the state machine without a
// database. The gorm repositories satisfy these.
type TradeLedger interface {
	InsertEntry(ctx context.Context, trade *model.TradeRecord) error
	CloseTrade(ctx context.Context, tradeID uint, exitPrice, pnlUSD, feeUSDAdd float64) error
}

type EventSink interface {
	Append(ctx context.Context, kind, detail string) error
}

type StateReader interface {
	Get(ctx context.Context) (*model.SystemState, error)
}

type DedupStore interface {
	AlreadyExecuted(ctx context.Context, signalID string) (bool, error)
	MarkExecuted(ctx context.Context, executed *model.ExecutedSignal) error
}

var (
	_ TradeLedger = (*repository.TradeRepository)(nil)
	_ EventSink   = (*repository.EventLogRepository)(nil)
	_ StateReader = (*repository.SystemStateRepository)(nil)
	_ DedupStore  = (*repository.SignalDedupRepository)(nil)
)

// Engine is the position lifecycle state machine. Each symbol's closed-candle
// stream is consumed by its own sequential loop that exclusively owns that
// symbol's candle state; the loops share only the exchange rate limiter and
// the internally locked position registry.
type Engine struct {
	cfg       Config
	params    risk.Params
	exchange  connectors.ExchangeConnector
	router    *router.OrderRouter
	portfolio *portfolio.Portfolio
	source    signalsource.Source
	gate      *signalsource.ThresholdGate

	trades TradeLedger
	events EventSink
	state  StateReader
	dedup  DedupStore

	// states is built once at construction and never mutated afterwards, so
	// each symbol's loop goroutine reads the map without synchronization and
	// owns its own *symbolState exclusively.
	states map[string]*symbolState
}

// symbolState is the candle bookkeeping owned by exactly one symbol loop.
type symbolState struct {
	index   int
	history []model.Candle
}

func NewEngine(
	cfg Config,
	params risk.Params,
	exchange connectors.ExchangeConnector,
	orderRouter *router.OrderRouter,
	source signalsource.Source,
	gate *signalsource.ThresholdGate,
	trades TradeLedger,
	events EventSink,
	state StateReader,
	dedup DedupStore,
) *Engine {
	states := make(map[string]*symbolState, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		states[symbol] = &symbolState{}
	}

	return &Engine{
		cfg:       cfg,
		params:    params,
		exchange:  exchange,
		router:    orderRouter,
		portfolio: portfolio.NewPortfolio(cfg.CooldownCandles),
		source:    source,
		gate:      gate,
		trades:    trades,
		events:    events,
		state:     state,
		dedup:     dedup,
		states:    states,
	}
}

// Portfolio exposes the registry for reconciliation and shutdown reporting.
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.portfolio }

// Run fans the shared candle stream out into one sequential loop per symbol
// and blocks until the stream closes or ctx is canceled.
func (e *Engine) Run(ctx context.Context, candles <-chan connectors.ClosedCandle) {
	perSymbol := make(map[string]chan connectors.ClosedCandle, len(e.cfg.Symbols))
	var wg sync.WaitGroup

	for _, symbol := range e.cfg.Symbols {
		ch := make(chan connectors.ClosedCandle, 16)
		perSymbol[symbol] = ch
		wg.Add(1)
		go func(symbol string, ch <-chan connectors.ClosedCandle) {
			defer wg.Done()
			for candle := range ch {
				e.OnClosedCandle(ctx, symbol, candle.Candle)
			}
		}(symbol, ch)
	}

	for {
		select {
		case <-ctx.Done():
			for _, ch := range perSymbol {
				close(ch)
			}
			wg.Wait()
			return
		case candle, ok := <-candles:
			if !ok {
				for _, ch := range perSymbol {
					close(ch)
				}
				wg.Wait()
				return
			}
			ch, known := perSymbol[candle.Symbol]
			if !known {
				continue
			}
			select {
			case ch <- candle:
			case <-ctx.Done():
			}
		}
	}
}

// OnClosedCandle advances one symbol's state machine by one closed candle.
// The evaluation order is fixed: trailing update, partial take-profit, stop,
// second-touch full exit, then entry evaluation.
func (e *Engine) OnClosedCandle(ctx context.Context, symbol string, candle model.Candle) {
	st, known := e.states[symbol]
	if !known {
		return
	}

	st.history = append(st.history, candle)
	if max := e.cfg.ATRPeriod*4 + 4; len(st.history) > max {
		st.history = st.history[len(st.history)-max:]
	}
	index := st.index
	st.index++

	price := candle.Close

	if pos := e.portfolio.Get(symbol); pos != nil {
		e.advancePosition(ctx, pos, price)
		return
	}

	if e.portfolio.InCooldown(symbol, index) {
		return
	}
	e.evaluateEntry(ctx, symbol, price, index, st.history)
}

func (e *Engine) advancePosition(ctx context.Context, pos *portfolio.Position, price float64) {
	// New high moves the trailing level; the level never moves back down.
	if price > pos.BestPrice {
		pos.BestPrice = price
		if pos.Trailing {
			pos.TrailingStop = e.params.TrailingStop(pos.BestPrice, pos.ATRAtEntry)
		}
	}

	partialThisCandle := false
	if !pos.PartialDone && price >= pos.TakeProfit {
		e.executePartialExit(ctx, pos, price)
		partialThisCandle = true
		if pos.Quantity <= 0 {
			// The partial consumed everything that was left.
			e.finishPosition(ctx, pos, price, "PARTIAL_CONSUMED_ALL")
			return
		}
	}

	effectiveStop := e.params.EffectiveStop(pos.StopPrice, pos.TrailingStop, pos.Trailing)
	if price <= effectiveStop {
		e.executeFullExit(ctx, pos, price, "STOP_OUT")
		return
	}

	if pos.PartialDone && !partialThisCandle && price >= pos.TakeProfit {
		e.executeFullExit(ctx, pos, price, "SECOND_TOUCH_TP")
	}
}

func (e *Engine) executePartialExit(ctx context.Context, pos *portfolio.Position, price float64) {
	qty := e.params.PartialQty(pos.Quantity)
	if qty > pos.Quantity {
		qty = pos.Quantity
	}

	result, err := e.router.ExecuteExit(ctx, pos.Symbol, qty)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol": pos.Symbol,
			"qty":    qty,
		}).WithError(err).Error("Partial take-profit exit failed, retrying next candle")
		return
	}

	fill := e.fillPrice(result, price, false)
	soldQty := qty
	if result != nil && result.ExecutedQty > 0 {
		soldQty = result.ExecutedQty
	}
	if soldQty > pos.Quantity {
		soldQty = pos.Quantity
	}

	fee := e.params.FeeUSD(fill*soldQty, true)
	pnl := (fill-pos.EntryPrice)*soldQty - fee

	pos.Quantity -= soldQty
	if pos.Quantity < 0 {
		pos.Quantity = 0
	}
	pos.PartialDone = true
	pos.RealizedPnL += pnl
	pos.FeesUSD += fee

	logger.WithFields(map[string]interface{}{
		"symbol":    pos.Symbol,
		"sold_qty":  soldQty,
		"fill":      fill,
		"pnl_usd":   pnl,
		"remaining": pos.Quantity,
	}).Info("Partial take-profit executed")

	_ = e.events.Append(ctx, "PARTIAL_TP",
		fmt.Sprintf("symbol=%s qty=%.8f fill=%.8f pnl=%.4f", pos.Symbol, soldQty, fill, pnl))
}

func (e *Engine) executeFullExit(ctx context.Context, pos *portfolio.Position, price float64, reason string) {
	result, err := e.router.ExecuteExit(ctx, pos.Symbol, pos.Quantity)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol": pos.Symbol,
			"reason": reason,
		}).WithError(err).Error("Full exit failed, retrying next candle")
		return
	}

	fill := e.fillPrice(result, price, false)
	e.closeOut(ctx, pos, fill, reason)
}

// finishPosition closes the ledger and registry when no quantity remains.
func (e *Engine) finishPosition(ctx context.Context, pos *portfolio.Position, price float64, reason string) {
	e.closeOut(ctx, pos, e.params.SlippageAdjust(price, false), reason)
}

func (e *Engine) closeOut(ctx context.Context, pos *portfolio.Position, fill float64, reason string) {
	fee := e.params.FeeUSD(fill*pos.Quantity, true)
	finalSlice := (fill-pos.EntryPrice)*pos.Quantity - fee
	totalPnL := pos.RealizedPnL + finalSlice
	totalFees := pos.FeesUSD + fee

	if err := e.trades.CloseTrade(ctx, pos.TradeID, fill, totalPnL, totalFees); err != nil {
		logger.WithFields(map[string]interface{}{
			"symbol":   pos.Symbol,
			"trade_id": pos.TradeID,
		}).WithError(err).Error("Failed to close trade ledger row")
	}

	e.router.CancelResting(ctx, pos.Symbol)
	e.portfolio.Close(pos.Symbol)

	logger.WithFields(map[string]interface{}{
		"symbol":  pos.Symbol,
		"fill":    fill,
		"pnl_usd": totalPnL,
		"reason":  reason,
	}).Info("Position fully exited")

	_ = e.events.Append(ctx, "POSITION_CLOSED",
		fmt.Sprintf("symbol=%s fill=%.8f pnl=%.4f reason=%s", pos.Symbol, fill, totalPnL, reason))
}

func (e *Engine) evaluateEntry(ctx context.Context, symbol string, price float64, index int, history []model.Candle) {
	state, err := e.state.Get(ctx)
	if err != nil {
		logger.WithField("symbol", symbol).WithError(err).Error("Failed to read system state")
		return
	}
	if !state.Operational() {
		return
	}

	signal, err := e.source.Next(ctx, symbol)
	if err != nil {
		logger.WithField("symbol", symbol).WithError(err).Error("Signal source poll failed")
		return
	}
	if signal == nil {
		return
	}

	log := logger.WithFields(map[string]interface{}{
		"symbol":    symbol,
		"signal_id": signal.ID,
	})

	seen, err := e.dedup.AlreadyExecuted(ctx, signal.ID)
	if err != nil {
		log.WithError(err).Error("Dedup lookup failed, holding signal")
		return
	}
	if seen {
		log.Debug("Signal already executed, skipping")
		return
	}

	if signal.Verdict != model.VerdictTrade || signal.Execution.Direction != model.DirectionLong {
		e.markExecuted(ctx, signal, "REJECTED_NOT_ACTIONABLE")
		return
	}
	if !signal.Certified {
		log.Warn("Uncertified signal rejected")
		e.markExecuted(ctx, signal, "REJECTED_UNCERTIFIED")
		return
	}

	accepted, advice, err := e.gate.Accept(ctx, symbol, history)
	if err != nil {
		log.WithError(err).Error("Classifier evaluation failed, holding signal")
		return
	}
	if !accepted {
		log.WithField("confidence", advice.Confidence).Info("Signal held by classifier gate")
		e.markExecuted(ctx, signal, "REJECTED_CLASSIFIER")
		return
	}

	atr := ComputeATR(history, e.cfg.ATRPeriod)
	if atr <= 0 {
		log.Debug("Insufficient history for ATR, holding entry")
		return
	}

	balance, err := e.exchange.GetFreeBalance(ctx, e.cfg.QuoteAsset)
	if err != nil {
		log.WithError(err).Error("Balance fetch failed, holding signal")
		return
	}

	notional := e.params.OrderNotional(balance)
	if signal.Execution.QuoteAmount != nil && *signal.Execution.QuoteAmount > 0 {
		notional = *signal.Execution.QuoteAmount
	}
	if notional <= 0 {
		log.WithField("balance", balance).Warn("Zero notional, rejecting entry")
		e.markExecuted(ctx, signal, "REJECTED_ZERO_NOTIONAL")
		return
	}

	// Re-check the operational gates immediately before placing the order.
	state, err = e.state.Get(ctx)
	if err != nil || !state.Operational() {
		log.Warn("System no longer operational at final gate, holding signal")
		return
	}

	result, err := e.router.ExecuteEntry(ctx, symbol, notional)
	if err != nil {
		if connectors.KindOf(err) == connectors.KindRejected {
			e.markExecuted(ctx, signal, "REJECTED_BY_VENUE")
		}
		return
	}

	entryFill := e.fillPrice(result, price, true)
	qty := result.ExecutedQty
	if qty <= 0 {
		qty = notional / entryFill
	}

	stop, takeProfit := e.params.StopsFromATR(entryFill, atr)
	entryFee := e.params.FeeUSD(entryFill*qty, true)

	trade := &model.TradeRecord{
		Exchange:   e.exchange.Name(),
		Symbol:     symbol,
		Side:       "BUY",
		Quantity:   qty,
		EntryPrice: entryFill,
		EntryTime:  time.Now().UTC(),
		FeeUSD:     entryFee,
		Meta:       fmt.Sprintf("signal=%s atr=%.8f confidence=%.4f", signal.ID, atr, advice.Confidence),
	}
	if err := e.trades.InsertEntry(ctx, trade); err != nil {
		log.WithError(err).Error("Failed to persist trade entry")
	}

	pos := &portfolio.Position{
		Symbol:       symbol,
		Quantity:     qty,
		EntryPrice:   entryFill,
		EntryTime:    trade.EntryTime,
		ATRAtEntry:   atr,
		StopPrice:    stop,
		TakeProfit:   takeProfit,
		BestPrice:    entryFill,
		Trailing:     e.params.Trailing,
		TrailingStop: e.params.TrailingStop(entryFill, atr),
		TradeID:      trade.ID,
		FeesUSD:      entryFee,
	}
	if err := e.portfolio.Open(pos, index); err != nil {
		log.WithError(err).Error("Registry rejected position open")
		return
	}

	e.markExecuted(ctx, signal, "ENGINE_BUY")
	_ = e.events.Append(ctx, "POSITION_OPENED",
		fmt.Sprintf("symbol=%s qty=%.8f entry=%.8f stop=%.8f tp=%.8f signal=%s",
			symbol, qty, entryFill, stop, takeProfit, signal.ID))

	// Optional resting partial take-profit; failure falls back to the
	// software-monitored exit on the next candle.
	e.router.PlacePartialTPLimit(ctx, symbol, e.params.PartialQty(qty), takeProfit)
}

func (e *Engine) markExecuted(ctx context.Context, signal *model.Signal, action string) {
	err := e.dedup.MarkExecuted(ctx, &model.ExecutedSignal{
		SignalID:    signal.ID,
		Fingerprint: signal.Fingerprint,
		Action:      action,
		Symbol:      signal.Execution.Symbol,
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"signal_id": signal.ID,
			"action":    action,
		}).WithError(err).Error("Failed to mark signal executed")
	}
}

// fillPrice prefers the venue-reported average fill, falling back to the
// candle close. Slippage applies in both cases so live accounting and the
// replay model stay on the same math.
func (e *Engine) fillPrice(result *connectors.OrderResult, price float64, isEntry bool) float64 {
	if result != nil && result.AvgPrice > 0 {
		return e.params.SlippageAdjust(result.AvgPrice, isEntry)
	}
	return e.params.SlippageAdjust(price, isEntry)
}
