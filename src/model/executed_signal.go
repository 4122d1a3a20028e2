package model

import "time"

// ExecutedSignal is the persisted dedup set for inbound signals. A row exists
// for every signal id that reached a terminal outcome, including rejections,
// so redelivery of the same signal is provably a no-op across restarts.
type ExecutedSignal struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SignalID    string    `gorm:"size:100;uniqueIndex;not null" json:"signal_id"`
	Fingerprint string    `gorm:"size:128;index" json:"fingerprint"`
	Action      string    `gorm:"size:50" json:"action"`
	Symbol      string    `gorm:"size:50" json:"symbol"`
	CreatedAt   time.Time `json:"created_at"`
}

func (ExecutedSignal) TableName() string {
	return "executed_signals"
}
