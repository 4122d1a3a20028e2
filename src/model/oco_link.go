package model

import "time"

// OCOLink records a take-profit/stop-loss bracket pair placed at a venue.
// Rows are never deleted; the reconciler only transitions their status, so the
// table doubles as an audit trail of every bracket the system ever armed.
type OCOLink struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SignalID     string    `gorm:"size:100;index" json:"signal_id"`
	Symbol       string    `gorm:"size:50;index" json:"symbol"`
	BaseAsset    string    `gorm:"size:20" json:"base_asset"`
	TPOrderID    string    `gorm:"size:100" json:"tp_order_id"`
	SLOrderID    string    `gorm:"size:100" json:"sl_order_id"`
	TPPrice      float64   `json:"tp_price"`
	SLStopPrice  float64   `json:"sl_stop_price"`
	SLLimitPrice float64   `json:"sl_limit_price"`
	Quantity     float64   `json:"quantity"`
	Status       string    `gorm:"size:30;not null;default:ACTIVE;index" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	OCOStatusActive           = "ACTIVE"
	OCOStatusClosedTP         = "CLOSED_TP"
	OCOStatusClosedSL         = "CLOSED_SL"
	OCOStatusCanceledBySignal = "CANCELED_BY_SIGNAL"
	OCOStatusFailed           = "FAILED"
)

// OCOStatusTerminal reports whether a link status can no longer change.
func OCOStatusTerminal(status string) bool {
	switch status {
	case OCOStatusClosedTP, OCOStatusClosedSL, OCOStatusCanceledBySignal, OCOStatusFailed:
		return true
	}
	return false
}

func (OCOLink) TableName() string {
	return "oco_links"
}
