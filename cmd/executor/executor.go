package executor

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/database"
	"tradeexecutor/src/engine"
	"tradeexecutor/src/model"
	"tradeexecutor/src/reconcile"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/risk"
	"tradeexecutor/src/router"
	"tradeexecutor/src/server"
	"tradeexecutor/src/signalsource"
)

// klineStream is what both venue websocket feeds provide.
type klineStream interface {
	Run(ctx context.Context)
	Candles() <-chan connectors.ClosedCandle
}

// Executor wires the full trading service: database, venue connector, candle
// feed, lifecycle engine, signal executor, reconciler and the HTTP endpoints.
type Executor struct{}

func (e *Executor) Start() error {
	cfg := GetConfig()
	engCfg := engine.GetConfig()
	recCfg := reconcile.GetConfig()
	connCfg := connectors.GetConfig()
	params := risk.GetParams()

	if err := database.InitMainDB(); err != nil {
		return err
	}

	var exchange connectors.ExchangeConnector
	var stream klineStream
	switch strings.ToLower(cfg.Exchange) {
	case "binance":
		exchange = connectors.NewBinanceConnector(connCfg)
		stream = connectors.NewBinanceKlineStream(connCfg, engCfg.Symbols, engCfg.Interval)
	case "bybit":
		exchange = connectors.NewBybitConnector(connCfg)
		stream = connectors.NewBybitKlineStream(connCfg, engCfg.Symbols, engCfg.Interval)
	default:
		return fmt.Errorf("unsupported exchange %q", cfg.Exchange)
	}

	trades := repository.NewTradeRepository()
	links := repository.NewOCOLinkRepository()
	state := repository.NewSystemStateRepository()
	events := repository.NewEventLogRepository()
	dedup := repository.NewSignalDedupRepository()

	outbox := signalsource.NewFileOutbox(signalsource.GetConfig().OutboxPath)
	gate := signalsource.NewThresholdGate(nil, engCfg.MLMinProba)

	// Exactly one component drains the outbox; the other sees no signals.
	var engineSource signalsource.Source = signalsource.Empty{}
	var executorSource signalsource.Source = signalsource.Empty{}
	if strings.EqualFold(cfg.SignalDriver, "engine") {
		engineSource = outbox
	} else {
		executorSource = outbox
	}

	eng := engine.NewEngine(engCfg, params, exchange, router.NewOrderRouter(exchange),
		engineSource, gate, trades, events, state, dedup)
	reconciler := reconcile.NewReconciler(recCfg, exchange, links, state, events)
	signals := reconcile.NewSignalExecutor(recCfg, params, exchange, executorSource, links, state, events, dedup)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// No order leaves this process until the stored bracket links agree with
	// the venue.
	if err := reconciler.StartupSync(ctx); err != nil {
		return err
	}
	if err := state.SetStatus(ctx, model.SystemStatusActive); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"exchange": exchange.Name(),
		"symbols":  engCfg.Symbols,
		"interval": engCfg.Interval,
		"mode":     recCfg.Mode,
	}).Info("Executor starting")

	go stream.Run(ctx)
	go reconciler.Run(ctx)
	go signals.Run(ctx, time.Duration(cfg.SignalPollSeconds)*time.Second)
	go server.StartServer(ctx, server.GetConfig().Port, state)

	eng.Run(ctx, stream.Candles())

	logger.Info("Executor stopped")
	return nil
}
