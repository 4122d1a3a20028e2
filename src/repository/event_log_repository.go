package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// EventLogRepository appends operational events (kill switch engagements,
// reconcile transitions, rejected signals) for later audit.
type EventLogRepository struct {
	db *gorm.DB
}

func NewEventLogRepository() *EventLogRepository {
	return &EventLogRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *EventLogRepository) WithDB(db *gorm.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

// Append writes a single event. Failures are logged but never block the
// trading path; the event log is best-effort.
func (r *EventLogRepository) Append(ctx context.Context, kind, detail string) error {
	event := model.EventLog{Kind: kind, Detail: detail}

	if err := r.db.WithContext(ctx).Create(&event).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "EventLogRepository",
			"kind": kind,
		}).WithError(err).Error("Failed to append event")
		return err
	}

	return nil
}

// Latest returns the newest events, most recent first.
func (r *EventLogRepository) Latest(ctx context.Context, limit int) ([]model.EventLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var events []model.EventLog

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	return events, nil
}
