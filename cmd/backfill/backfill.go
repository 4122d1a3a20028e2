package backfill

import (
	"context"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"

	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
)

const (
	Duration1m = "1m"
	Duration1h = "1h"
)

// Backfill downloads historical OHLCV bars and stores them for the backtest
// replay. Re-running over an overlapping range is harmless: the candle store
// ignores bars it already holds.
type Backfill struct {
	Log     *logger.Entry
	Candles *repository.CandleRepository
	Config  *Config

	exchange goex.API
}

func (b *Backfill) Start() error {
	if b.Config == nil {
		b.Config = GetConfig()
	}
	if b.exchange == nil {
		b.exchange = newBinanceInstance()
	}

	ctx := context.Background()

	if b.Config.AutoMode {
		if err := b.determineStartPoint(ctx); err != nil {
			return err
		}
	}

	return b.fetchAndStore(ctx)
}

func newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

// determineStartPoint resumes from one interval before the newest stored bar
// so the still-open bar at the previous run's edge gets replaced by its final
// form on re-fetch.
func (b *Backfill) determineStartPoint(ctx context.Context) error {
	latest, err := b.Candles.LatestOpenTime(ctx, b.Config.Exchange, b.pair(), b.Config.Duration)
	if err != nil {
		return err
	}
	if latest == 0 {
		b.Log.WithField("StartDt", b.Config.StartDt.String()).
			Info("No stored bars, starting from the configured date")
		return nil
	}

	b.Config.StartDt = time.UnixMilli(latest).UTC().Add(-b.parseDuration())
	b.Log.WithFields(logger.Fields{
		"StartDt": b.Config.StartDt.String(),
		"EndDt":   b.Config.EndDt.String(),
	}).Info("Resuming from latest stored bar")
	return nil
}

func (b *Backfill) fetchAndStore(ctx context.Context) error {
	klines, err := b.fetchSeries()
	if err != nil {
		return err
	}

	durationMs := b.parseDuration().Milliseconds()
	rows := make([]model.OHLCVCandle, 0, len(klines))
	for _, k := range klines {
		openMs := k.Timestamp * 1000
		rows = append(rows, model.OHLCVCandle{
			Exchange:  b.Config.Exchange,
			Symbol:    b.pair(),
			Timeframe: b.Config.Duration,
			OpenTime:  openMs,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Vol,
			CloseTime: openMs + durationMs - 1,
		})
	}

	if err := b.Candles.InsertBatch(ctx, rows); err != nil {
		return err
	}

	b.Log.WithFields(logger.Fields{
		"symbol": b.pair(),
		"bars":   len(rows),
	}).Info("Backfill batch stored")
	return nil
}

func (b *Backfill) fetchSeries() ([]goex.Kline, error) {
	targetSymbol := goex.NewCurrencyPair(
		goex.Currency{Symbol: b.Config.Symbol},
		goex.Currency{Symbol: b.Config.Quote},
	)

	const millis = 1000
	return b.exchange.GetKlineRecords(
		targetSymbol,
		b.parseDurationToGoex(),
		b.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", b.Config.StartDt.Unix()*millis).
			Optional("endTime", b.Config.EndDt.Unix()*millis),
	)
}

func (b *Backfill) pair() string {
	return b.Config.Symbol + b.Config.Quote
}

func (b *Backfill) parseDuration() time.Duration {
	switch b.Config.Duration {
	case Duration1m:
		return time.Minute
	case Duration1h:
		return time.Hour
	default:
		panic("invalid DURATION env var")
	}
}

func (b *Backfill) parseDurationToGoex() goex.KlinePeriod {
	switch b.Config.Duration {
	case Duration1m:
		return goex.KLINE_PERIOD_1MIN
	case Duration1h:
		return goex.KLINE_PERIOD_1H
	default:
		panic("invalid DURATION env var")
	}
}
