package repository

import (
	"context"
	"errors"
	"strings"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradeexecutor/src/database"
	"tradeexecutor/src/model"
)

// OCOLinkRepository handles bracket-order link rows. Links are append-only:
// they are created once and only ever transitioned between statuses.
type OCOLinkRepository struct {
	db *gorm.DB
}

func NewOCOLinkRepository() *OCOLinkRepository {
	return &OCOLinkRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OCOLinkRepository) WithDB(db *gorm.DB) *OCOLinkRepository {
	return &OCOLinkRepository{db: db}
}

// Create inserts a new ACTIVE link for a freshly armed bracket.
func (r *OCOLinkRepository) Create(ctx context.Context, link *model.OCOLink) error {
	if link.Status == "" {
		link.Status = model.OCOStatusActive
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "OCOLinkRepository",
		"op":        "Create",
		"signal_id": link.SignalID,
		"symbol":    link.Symbol,
		"tp_order":  link.TPOrderID,
		"sl_order":  link.SLOrderID,
	}).Debug("Creating OCO link")

	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		logger.WithField("repo", "OCOLinkRepository").WithError(err).Error("Failed to create OCO link")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "OCOLinkRepository",
		"op":      "Create",
		"link_id": link.ID,
		"symbol":  link.Symbol,
	}).Info("OCO link created")

	return nil
}

// ListActive returns up to limit links still in ACTIVE status, oldest first.
func (r *OCOLinkRepository) ListActive(ctx context.Context, limit int) ([]model.OCOLink, error) {
	if limit <= 0 {
		limit = 50
	}

	var links []model.OCOLink

	err := r.db.WithContext(ctx).
		Where("status = ?", model.OCOStatusActive).
		Order("id ASC").
		Limit(limit).
		Find(&links).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OCOLinkRepository",
			"op":   "ListActive",
		}).WithError(err).Error("Failed to list active OCO links")
		return nil, err
	}

	return links, nil
}

// ListActiveBySymbol returns ACTIVE links for one symbol, oldest first.
func (r *OCOLinkRepository) ListActiveBySymbol(ctx context.Context, symbol string) ([]model.OCOLink, error) {
	var links []model.OCOLink

	err := r.db.WithContext(ctx).
		Where("status = ? AND symbol = ?", model.OCOStatusActive, strings.ToUpper(symbol)).
		Order("id ASC").
		Find(&links).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OCOLinkRepository",
			"op":     "ListActiveBySymbol",
			"symbol": symbol,
		}).WithError(err).Error("Failed to list active OCO links for symbol")
		return nil, err
	}

	return links, nil
}

// HasActiveForSymbol reports whether the symbol currently carries an armed
// bracket. At most one ACTIVE link per symbol is an invariant the signal
// executor relies on before opening new exposure.
func (r *OCOLinkRepository) HasActiveForSymbol(ctx context.Context, symbol string) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.OCOLink{}).
		Where("status = ? AND symbol = ?", model.OCOStatusActive, strings.ToUpper(symbol)).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// SetStatus transitions a link. Terminal links are never transitioned again;
// the guard is in the WHERE clause so concurrent reconcile passes cannot
// double-transition a row.
func (r *OCOLinkRepository) SetStatus(ctx context.Context, linkID uint, status string) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "OCOLinkRepository",
		"op":      "SetStatus",
		"link_id": linkID,
		"status":  status,
	}).Debug("Transitioning OCO link status")

	err := r.db.WithContext(ctx).
		Model(&model.OCOLink{}).
		Where("id = ? AND status = ?", linkID, model.OCOStatusActive).
		Update("status", status).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OCOLinkRepository",
			"op":      "SetStatus",
			"link_id": linkID,
			"status":  status,
		}).WithError(err).Error("Failed to transition OCO link status")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":    "OCOLinkRepository",
		"op":      "SetStatus",
		"link_id": linkID,
		"status":  status,
	}).Info("OCO link status updated")

	return nil
}

// FindByID fetches a single link. Returns (nil, nil) when not found.
func (r *OCOLinkRepository) FindByID(ctx context.Context, id uint) (*model.OCOLink, error) {
	var link model.OCOLink

	err := r.db.WithContext(ctx).First(&link, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &link, nil
}
