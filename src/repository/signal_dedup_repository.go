package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// SignalDedupRepository persists the set of already-executed signal IDs so a
// restart never replays an instruction that already reached the exchange.
type SignalDedupRepository struct {
	db *gorm.DB
}

func NewSignalDedupRepository() *SignalDedupRepository {
	return &SignalDedupRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SignalDedupRepository) WithDB(db *gorm.DB) *SignalDedupRepository {
	return &SignalDedupRepository{db: db}
}

// AlreadyExecuted reports whether the signal ID has been marked before.
func (r *SignalDedupRepository) AlreadyExecuted(ctx context.Context, signalID string) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.ExecutedSignal{}).
		Where("signal_id = ?", signalID).
		Count(&count).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalDedupRepository",
			"op":        "AlreadyExecuted",
			"signal_id": signalID,
		}).WithError(err).Error("Failed to check executed signal")
		return false, err
	}

	return count > 0, nil
}

// MarkExecuted records the signal ID. The insert is idempotent: a conflict on
// the unique signal_id index is swallowed so re-marking is harmless.
func (r *SignalDedupRepository) MarkExecuted(ctx context.Context, executed *model.ExecutedSignal) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "signal_id"}},
			DoNothing: true,
		}).
		Create(executed).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalDedupRepository",
			"op":        "MarkExecuted",
			"signal_id": executed.SignalID,
		}).WithError(err).Error("Failed to mark signal executed")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "SignalDedupRepository",
		"op":        "MarkExecuted",
		"signal_id": executed.SignalID,
		"action":    executed.Action,
	}).Debug("Signal marked executed")

	return nil
}
