package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// SystemStateRepository manages the single-row system state: overall status,
// startup sync flag and the kill switch. The row is created lazily on first
// read so a fresh database boots into a halted, unsynced state.
type SystemStateRepository struct {
	db *gorm.DB
}

func NewSystemStateRepository() *SystemStateRepository {
	return &SystemStateRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SystemStateRepository) WithDB(db *gorm.DB) *SystemStateRepository {
	return &SystemStateRepository{db: db}
}

// Get returns the current system state, creating the default row if none
// exists yet.
func (r *SystemStateRepository) Get(ctx context.Context) (*model.SystemState, error) {
	var state model.SystemState

	err := r.db.WithContext(ctx).Order("id ASC").First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = model.SystemState{Status: model.SystemStatusHalted}
			if createErr := r.db.WithContext(ctx).Create(&state).Error; createErr != nil {
				return nil, createErr
			}
			logger.WithField("repo", "SystemStateRepository").Info("Initialized default system state")
			return &state, nil
		}
		logger.WithField("repo", "SystemStateRepository").WithError(err).Error("Failed to fetch system state")
		return nil, err
	}

	return &state, nil
}

// SetKillSwitch flips the kill switch. Once engaged it stays engaged until an
// operator explicitly clears it.
func (r *SystemStateRepository) SetKillSwitch(ctx context.Context, engaged bool, reason string) error {
	state, err := r.Get(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Model(&model.SystemState{}).
		Where("id = ?", state.ID).
		Update("kill_switch", engaged).Error
	if err != nil {
		logger.WithField("repo", "SystemStateRepository").WithError(err).Error("Failed to set kill switch")
		return err
	}

	if engaged {
		logger.WithFields(map[string]interface{}{
			"repo":   "SystemStateRepository",
			"reason": reason,
		}).Warn("Kill switch ENGAGED - trading halted")
	} else {
		logger.WithField("repo", "SystemStateRepository").Info("Kill switch cleared")
	}

	return nil
}

// SetStatus updates the overall system status.
func (r *SystemStateRepository) SetStatus(ctx context.Context, status string) error {
	state, err := r.Get(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Model(&model.SystemState{}).
		Where("id = ?", state.ID).
		Update("status", status).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "SystemStateRepository",
			"status": status,
		}).WithError(err).Error("Failed to set system status")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "SystemStateRepository",
		"status": status,
	}).Info("System status updated")

	return nil
}

// SetStartupSyncOK marks the result of the startup reconciliation pass.
func (r *SystemStateRepository) SetStartupSyncOK(ctx context.Context, ok bool) error {
	state, err := r.Get(ctx)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).
		Model(&model.SystemState{}).
		Where("id = ?", state.ID).
		Update("startup_sync_ok", ok).Error
	if err != nil {
		logger.WithField("repo", "SystemStateRepository").WithError(err).Error("Failed to set startup sync flag")
		return err
	}

	return nil
}
