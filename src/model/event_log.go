package model

import "time"

// EventLog is the append-only decision trail: one row per signal outcome,
// bracket transition, rejection or fail-safe, detailed enough to reconstruct
// the state machine's trajectory after the fact.
type EventLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"size:60;index" json:"kind"`
	Detail    string    `gorm:"type:text" json:"detail"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (EventLog) TableName() string {
	return "event_log"
}
