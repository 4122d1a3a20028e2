package repository

import (
	"context"
	"errors"
	"strings"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// CandleRepository stores historical OHLCV bars used by backtests and the
// backfill command.
type CandleRepository struct {
	db *gorm.DB
}

func NewCandleRepository() *CandleRepository {
	return &CandleRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *CandleRepository) WithDB(db *gorm.DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// InsertBatch upserts a batch of candles. Re-backfilling an overlapping range
// is a no-op for bars already stored.
func (r *CandleRepository) InsertBatch(ctx context.Context, candles []model.OHLCVCandle) error {
	if len(candles) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "exchange"}, {Name: "symbol"}, {Name: "timeframe"}, {Name: "open_time"},
			},
			DoNothing: true,
		}).
		CreateInBatches(candles, 500).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "CandleRepository",
			"op":    "InsertBatch",
			"count": len(candles),
		}).WithError(err).Error("Failed to insert candle batch")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "CandleRepository",
		"op":    "InsertBatch",
		"count": len(candles),
	}).Debug("Candle batch stored")

	return nil
}

// ListRange fetches bars for one series in [fromMs, toMs), ordered by open
// time ascending.
func (r *CandleRepository) ListRange(ctx context.Context, exchange, symbol, timeframe string, fromMs, toMs int64) ([]model.OHLCVCandle, error) {
	var candles []model.OHLCVCandle

	err := r.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timeframe = ? AND open_time >= ? AND open_time < ?",
			strings.ToLower(exchange), strings.ToUpper(symbol), timeframe, fromMs, toMs).
		Order("open_time ASC").
		Find(&candles).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "CandleRepository",
			"op":        "ListRange",
			"exchange":  exchange,
			"symbol":    symbol,
			"timeframe": timeframe,
		}).WithError(err).Error("Failed to list candle range")
		return nil, err
	}

	return candles, nil
}

// LatestOpenTime returns the newest stored open time for a series, or 0 when
// the series is empty. The backfill command resumes from here.
func (r *CandleRepository) LatestOpenTime(ctx context.Context, exchange, symbol, timeframe string) (int64, error) {
	var candle model.OHLCVCandle

	err := r.db.WithContext(ctx).
		Where("exchange = ? AND symbol = ? AND timeframe = ?",
			strings.ToLower(exchange), strings.ToUpper(symbol), timeframe).
		Order("open_time DESC").
		First(&candle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}

	return candle.OpenTime, nil
}
