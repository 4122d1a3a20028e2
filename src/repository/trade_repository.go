package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// TradeRepository handles the append-only trade ledger.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main database.
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// InsertEntry records a newly opened trade. The given record is updated with
// the generated ID and timestamps.
func (r *TradeRepository) InsertEntry(ctx context.Context, trade *model.TradeRecord) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "TradeRepository",
		"op":     "InsertEntry",
		"symbol": trade.Symbol,
		"qty":    trade.Quantity,
		"entry":  trade.EntryPrice,
	}).Debug("Inserting trade entry")

	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		logger.WithField("repo", "TradeRepository").WithError(err).Error("Failed to insert trade entry")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TradeRepository",
		"op":       "InsertEntry",
		"trade_id": trade.ID,
	}).Info("Trade entry recorded")

	return nil
}

// CloseTrade writes the exit side of a ledger row exactly once: exit price,
// exit time, realized PnL and the additional fee incurred on the exit.
func (r *TradeRepository) CloseTrade(ctx context.Context, tradeID uint, exitPrice, pnlUSD, feeUSDAdd float64) error {
	now := time.Now().UTC()

	logger.WithFields(map[string]interface{}{
		"repo":     "TradeRepository",
		"op":       "CloseTrade",
		"trade_id": tradeID,
		"exit":     exitPrice,
		"pnl_usd":  pnlUSD,
	}).Debug("Closing trade")

	err := r.db.WithContext(ctx).
		Model(&model.TradeRecord{}).
		Where("id = ?", tradeID).
		Updates(map[string]interface{}{
			"exit_price": exitPrice,
			"exit_time":  now,
			"pnl_usd":    pnlUSD,
			"fee_usd":    gorm.Expr("fee_usd + ?", feeUSDAdd),
		}).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradeRepository",
			"op":       "CloseTrade",
			"trade_id": tradeID,
		}).WithError(err).Error("Failed to close trade")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TradeRepository",
		"op":       "CloseTrade",
		"trade_id": tradeID,
		"pnl_usd":  pnlUSD,
	}).Info("Trade closed")

	return nil
}

// FindByID fetches a single trade by its primary ID.
// Returns (nil, nil) if the trade is not found.
func (r *TradeRepository) FindByID(ctx context.Context, id uint) (*model.TradeRecord, error) {
	var trade model.TradeRecord

	err := r.db.WithContext(ctx).First(&trade, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch trade by ID")
		return nil, err
	}

	return &trade, nil
}

// FindLatest returns the latest trades ordered from newest to oldest.
func (r *TradeRepository) FindLatest(ctx context.Context, limit int) ([]model.TradeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var trades []model.TradeRecord

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":  "TradeRepository",
			"op":    "FindLatest",
			"limit": limit,
		}).WithError(err).Error("Failed to fetch latest trades")
		return nil, err
	}

	return trades, nil
}
