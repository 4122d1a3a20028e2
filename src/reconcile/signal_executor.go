package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/engine"
	"tradeexecutor/src/model"
	"tradeexecutor/src/risk"
	"tradeexecutor/src/signalsource"
)

// SignalExecutor applies outbox signals directly at the venue: market buys
// protected by a resting bracket, and sells that tear the bracket down first.
// Every terminal outcome, including rejections, lands in the dedup set so a
// redelivered signal id is provably a no-op.
type SignalExecutor struct {
	cfg      Config
	params   risk.Params
	exchange connectors.ExchangeConnector
	source   signalsource.Source
	links    LinkStore
	state    StateControl
	events   EventSink
	dedup    DedupStore
}

func NewSignalExecutor(
	cfg Config,
	params risk.Params,
	exchange connectors.ExchangeConnector,
	source signalsource.Source,
	links LinkStore,
	state StateControl,
	events EventSink,
	dedup DedupStore,
) *SignalExecutor {
	return &SignalExecutor{
		cfg:      cfg,
		params:   params,
		exchange: exchange,
		source:   source,
		links:    links,
		state:    state,
		events:   events,
		dedup:    dedup,
	}
}

// Run polls the signal source until ctx is canceled. Signals for any symbol
// are drained one at a time; ordering within the outbox is preserved.
func (s *SignalExecutor) Run(ctx context.Context, poll time.Duration) {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				signal, err := s.source.Next(ctx, "")
				if err != nil {
					logger.WithError(err).Error("Signal source poll failed")
					break
				}
				if signal == nil {
					break
				}
				if err := s.HandleSignal(ctx, signal); err != nil {
					logger.WithField("signal_id", signal.ID).WithError(err).Error("Signal handling failed")
				}
			}
		}
	}
}

// HandleSignal drives one signal to a terminal outcome, or holds it (no dedup
// row) when a transient condition blocks execution so redelivery retries it.
func (s *SignalExecutor) HandleSignal(ctx context.Context, signal *model.Signal) error {
	if signal == nil || signal.ID == "" {
		return nil
	}

	log := logger.WithFields(map[string]interface{}{
		"signal_id": signal.ID,
		"verdict":   signal.Verdict,
		"symbol":    signal.Execution.Symbol,
	})

	seen, err := s.dedup.AlreadyExecuted(ctx, signal.ID)
	if err != nil {
		return err
	}
	if seen {
		log.Debug("Signal already executed, skipping")
		return nil
	}

	state, err := s.state.Get(ctx)
	if err != nil {
		return err
	}
	if !state.Operational() {
		log.Warn("System not operational, holding signal")
		return nil
	}

	if !signal.Certified {
		log.Warn("Uncertified signal rejected")
		s.markExecuted(ctx, signal, "REJECTED_UNCERTIFIED")
		return nil
	}

	if s.cfg.DemoMode() {
		log.Info("Demo mode, signal recorded without venue orders")
		_ = s.events.Append(ctx, "DEMO_EXECUTION",
			fmt.Sprintf("signal=%s verdict=%s symbol=%s", signal.ID, signal.Verdict, signal.Execution.Symbol))
		s.markExecuted(ctx, signal, "DEMO_"+signal.Verdict)
		return nil
	}
	if !s.cfg.LiveTradingAllowed() {
		log.Error("Live trading not confirmed, rejecting signal")
		s.markExecuted(ctx, signal, "REJECTED_LIVE_UNCONFIRMED")
		return nil
	}

	switch signal.Verdict {
	case model.VerdictSell:
		return s.executeSell(ctx, signal)
	case model.VerdictTrade:
		if signal.Execution.Direction != model.DirectionLong {
			s.markExecuted(ctx, signal, "REJECTED_NOT_ACTIONABLE")
			return nil
		}
		return s.executeBuy(ctx, signal)
	default:
		s.markExecuted(ctx, signal, "REJECTED_NOT_ACTIONABLE")
		return nil
	}
}

func (s *SignalExecutor) executeBuy(ctx context.Context, signal *model.Signal) error {
	symbol := strings.ToUpper(signal.Execution.Symbol)
	log := logger.WithFields(map[string]interface{}{
		"signal_id": signal.ID,
		"symbol":    symbol,
	})

	armed, err := s.links.HasActiveForSymbol(ctx, symbol)
	if err != nil {
		return err
	}
	if armed {
		log.Warn("Symbol already carries an armed bracket, rejecting buy")
		s.markExecuted(ctx, signal, "REJECTED_EXPOSURE_EXISTS")
		return nil
	}

	filters, err := s.exchange.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return err
	}

	balance, err := s.exchange.GetFreeBalance(ctx, filters.QuoteAsset)
	if err != nil {
		return err
	}
	notional := s.params.OrderNotional(balance)
	if signal.Execution.QuoteAmount != nil && *signal.Execution.QuoteAmount > 0 {
		notional = *signal.Execution.QuoteAmount
	}
	if notional < filters.MinNotional || notional <= 0 {
		log.WithFields(map[string]interface{}{
			"notional":     notional,
			"min_notional": filters.MinNotional,
		}).Warn("Notional below venue minimum, rejecting buy")
		s.markExecuted(ctx, signal, "REJECTED_MIN_NOTIONAL")
		return nil
	}

	candles, err := s.exchange.GetKlines(ctx, symbol, s.cfg.Interval, s.cfg.ATRPeriod+1)
	if err != nil {
		return err
	}
	atr := engine.ComputeATR(candles, s.cfg.ATRPeriod)
	if atr <= 0 {
		log.Warn("Insufficient history for ATR, holding buy")
		return nil
	}

	if held, err := s.finalGate(ctx); err != nil || held {
		return err
	}

	buy, err := s.exchange.MarketBuyQuote(ctx, symbol, notional)
	if err != nil {
		if connectors.KindOf(err) == connectors.KindRejected {
			log.WithError(err).Warn("Venue rejected market buy")
			s.markExecuted(ctx, signal, "REJECTED_BY_VENUE")
			return nil
		}
		return err
	}

	// Prefer the venue-reported fill; fall back to the latest close so the
	// bracket can always be priced.
	entry := buy.AvgPrice
	if entry <= 0 {
		entry = candles[len(candles)-1].Close
	}

	stop, takeProfit := s.params.StopsFromATR(entry, atr)
	tpPrice := connectors.FloorToStep(takeProfit, filters.TickSize)
	slStop := connectors.FloorToStep(stop, filters.TickSize)
	slLimit := connectors.FloorToStep(stop*s.cfg.RetrySellBuffer, filters.TickSize)
	qty := connectors.FloorToStep(buy.ExecutedQty*s.cfg.SellBuffer, filters.StepSize)

	if held, err := s.finalGate(ctx); err != nil || held {
		return err
	}

	bracket, bracketErr := s.exchange.PlaceBracketSell(ctx, symbol, qty, tpPrice, slStop, slLimit)
	if !s.bracketValid(bracket, bracketErr) {
		s.raiseOCOInvalid(ctx, signal, symbol, bracket, bracketErr)
		return bracketErr
	}

	link := &model.OCOLink{
		SignalID:     signal.ID,
		Symbol:       symbol,
		BaseAsset:    filters.BaseAsset,
		TPOrderID:    bracket.TPOrderID,
		SLOrderID:    bracket.SLOrderID,
		TPPrice:      tpPrice,
		SLStopPrice:  slStop,
		SLLimitPrice: slLimit,
		Quantity:     qty,
		Status:       model.OCOStatusActive,
	}
	if err := s.links.Create(ctx, link); err != nil {
		log.WithError(err).Error("Failed to persist OCO link for armed bracket")
	}

	s.markExecuted(ctx, signal, "LIVE_BUY")
	_ = s.events.Append(ctx, "POSITION_OPENED",
		fmt.Sprintf("symbol=%s qty=%.8f entry=%.8f tp=%.8f sl=%.8f signal=%s",
			symbol, qty, entry, tpPrice, slStop, signal.ID))

	log.WithFields(map[string]interface{}{
		"qty":   qty,
		"entry": entry,
		"tp":    tpPrice,
		"sl":    slStop,
	}).Info("Buy executed and bracket armed")
	return nil
}

func (s *SignalExecutor) executeSell(ctx context.Context, signal *model.Signal) error {
	symbol := strings.ToUpper(signal.Execution.Symbol)
	action := signal.ExitAction()
	pct := signal.ExitPct()

	log := logger.WithFields(map[string]interface{}{
		"signal_id": signal.ID,
		"symbol":    symbol,
		"action":    action,
		"pct":       pct,
	})

	links, err := s.links.ListActiveBySymbol(ctx, symbol)
	if err != nil {
		return err
	}

	// Tear the bracket down before selling, otherwise the resting legs hold
	// the base balance and the market sell cannot fill.
	if len(links) > 0 {
		if err := s.exchange.CancelAllOrders(ctx, symbol); err != nil {
			log.WithError(err).Error("Failed to cancel bracket before sell, holding signal")
			return err
		}
		for i := range links {
			if err := s.links.SetStatus(ctx, links[i].ID, model.OCOStatusCanceledBySignal); err != nil {
				log.WithField("link_id", links[i].ID).WithError(err).Error("Failed to transition canceled link")
			}
		}
	}

	filters, err := s.exchange.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return err
	}

	// The free base balance is re-derived after cancellation; the bracket's
	// recorded quantity can be stale after fees or partial fills.
	freeBase, err := s.exchange.GetFreeBalance(ctx, filters.BaseAsset)
	if err != nil {
		return err
	}

	sellQty := connectors.FloorToStep(freeBase*pct*s.cfg.SellBuffer, filters.StepSize)
	if sellQty <= 0 {
		log.WithField("free_base", freeBase).Warn("Nothing to sell")
		s.markExecuted(ctx, signal, "REJECTED_NOTHING_TO_SELL")
		return nil
	}

	if held, err := s.finalGate(ctx); err != nil || held {
		return err
	}

	result, err := s.exchange.MarketSell(ctx, symbol, sellQty)
	if err != nil {
		// A rejection here is usually an insufficient-balance race; one retry
		// with the wider safety buffer.
		retryQty := connectors.FloorToStep(freeBase*pct*s.cfg.RetrySellBuffer, filters.StepSize)
		log.WithError(err).WithField("retry_qty", retryQty).Warn("Market sell failed, retrying with wider buffer")
		result, err = s.exchange.MarketSell(ctx, symbol, retryQty)
		if err != nil {
			if connectors.KindOf(err) == connectors.KindRejected {
				s.markExecuted(ctx, signal, "REJECTED_BY_VENUE")
				_ = s.events.Append(ctx, "SELL_FAILED",
					fmt.Sprintf("symbol=%s signal=%s", symbol, signal.ID))
				return nil
			}
			return err
		}
		sellQty = retryQty
	}

	soldQty := sellQty
	if result != nil && result.ExecutedQty > 0 {
		soldQty = result.ExecutedQty
	}

	action = s.rearmAfterPartial(ctx, signal, symbol, action, filters, links, log)

	tag := "LIVE_SELL"
	if action == model.SellActionPartial {
		tag = "LIVE_SELL_PARTIAL"
	} else if action == model.SellActionEmergency {
		tag = "LIVE_SELL_EMERGENCY"
	}
	s.markExecuted(ctx, signal, tag)
	_ = s.events.Append(ctx, "POSITION_REDUCED",
		fmt.Sprintf("symbol=%s qty=%.8f action=%s signal=%s", symbol, soldQty, action, signal.ID))

	log.WithField("sold_qty", soldQty).Info("Sell executed")
	return nil
}

// rearmAfterPartial puts a fresh bracket on whatever base quantity remains
// after a partial sell, reusing the torn-down bracket's reference prices. A
// failed re-arm degrades the action to a plain sell; an invalid bracket
// response engages the kill switch like any other bracket placement.
func (s *SignalExecutor) rearmAfterPartial(
	ctx context.Context,
	signal *model.Signal,
	symbol, action string,
	filters *connectors.SymbolFilters,
	canceled []model.OCOLink,
	log *logger.Entry,
) string {
	if action != model.SellActionPartial || len(canceled) == 0 {
		return action
	}

	remaining, err := s.exchange.GetFreeBalance(ctx, filters.BaseAsset)
	if err != nil {
		log.WithError(err).Error("Failed to re-derive remaining balance, bracket not re-armed")
		return action
	}
	qty := connectors.FloorToStep(remaining*s.cfg.SellBuffer, filters.StepSize)
	if qty <= 0 {
		log.Info("No remaining quantity after partial sell")
		return model.SellActionNormal
	}

	if held, err := s.finalGate(ctx); err != nil || held {
		return action
	}

	ref := canceled[len(canceled)-1]
	tpPrice := connectors.FloorToStep(ref.TPPrice, filters.TickSize)
	slStop := connectors.FloorToStep(ref.SLStopPrice, filters.TickSize)
	slLimit := connectors.FloorToStep(ref.SLLimitPrice, filters.TickSize)

	bracket, bracketErr := s.exchange.PlaceBracketSell(ctx, symbol, qty, tpPrice, slStop, slLimit)
	if !s.bracketValid(bracket, bracketErr) {
		s.raiseOCOInvalid(ctx, signal, symbol, bracket, bracketErr)
		return action
	}

	link := &model.OCOLink{
		SignalID:     signal.ID + "/REARM",
		Symbol:       symbol,
		BaseAsset:    filters.BaseAsset,
		TPOrderID:    bracket.TPOrderID,
		SLOrderID:    bracket.SLOrderID,
		TPPrice:      tpPrice,
		SLStopPrice:  slStop,
		SLLimitPrice: slLimit,
		Quantity:     qty,
		Status:       model.OCOStatusActive,
	}
	if err := s.links.Create(ctx, link); err != nil {
		log.WithError(err).Error("Failed to persist re-armed OCO link")
	}

	log.WithFields(map[string]interface{}{
		"qty": qty,
		"tp":  tpPrice,
		"sl":  slStop,
	}).Info("Bracket re-armed on remaining quantity")
	return action
}

// bracketValid checks the bracket invariant: placement succeeded, both leg
// ids are present, and they are distinct orders.
func (s *SignalExecutor) bracketValid(bracket *connectors.BracketResult, err error) bool {
	if err != nil || bracket == nil {
		return false
	}
	if bracket.TPOrderID == "" || bracket.SLOrderID == "" {
		return false
	}
	return bracket.TPOrderID != bracket.SLOrderID
}

// raiseOCOInvalid is the invariant-violation path: the position may be
// partially protected or naked, so all trading halts until an operator
// inspects the venue.
func (s *SignalExecutor) raiseOCOInvalid(ctx context.Context, signal *model.Signal, symbol string, bracket *connectors.BracketResult, err error) {
	tpID, slID := "", ""
	if bracket != nil {
		tpID, slID = bracket.TPOrderID, bracket.SLOrderID
	}

	logger.WithFields(map[string]interface{}{
		"signal_id": signal.ID,
		"symbol":    symbol,
		"tp_order":  tpID,
		"sl_order":  slID,
	}).WithError(err).Error("Bracket placement invalid, engaging kill switch")

	reason := fmt.Sprintf("invalid bracket for %s (signal %s)", symbol, signal.ID)
	if ksErr := s.state.SetKillSwitch(ctx, true, reason); ksErr != nil {
		logger.WithError(ksErr).Error("Failed to engage kill switch")
	}
	_ = s.events.Append(ctx, "OCO_INVALID",
		fmt.Sprintf("symbol=%s signal=%s tp=%s sl=%s", symbol, signal.ID, tpID, slID))
	s.markExecuted(ctx, signal, "OCO_INVALID")
}

// finalGate re-reads the system state immediately before an order is placed.
// Returns held=true when the system went non-operational mid-flight.
func (s *SignalExecutor) finalGate(ctx context.Context) (bool, error) {
	state, err := s.state.Get(ctx)
	if err != nil {
		return false, err
	}
	if !state.Operational() {
		logger.Warn("System no longer operational at final gate")
		return true, nil
	}
	return false, nil
}

func (s *SignalExecutor) markExecuted(ctx context.Context, signal *model.Signal, action string) {
	err := s.dedup.MarkExecuted(ctx, &model.ExecutedSignal{
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
