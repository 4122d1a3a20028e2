package model

import "time"

// SystemState is the single process-wide control row: operational status,
// the startup-sync flag, and the kill switch. The writer is responsible for
// keeping it well-typed; consumers never sniff shapes.
type SystemState struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Status        string    `gorm:"size:30;not null;default:ACTIVE" json:"status"`
	StartupSyncOK bool      `gorm:"not null;default:false" json:"startup_sync_ok"`
	KillSwitch    bool      `gorm:"not null;default:false" json:"kill_switch"`
	UpdatedAt     time.Time `json:"updated_at"`
}

const (
	SystemStatusActive  = "ACTIVE"
	SystemStatusRunning = "RUNNING"
	SystemStatusHalted  = "HALTED"
)

func (SystemState) TableName() string {
	return "system_state"
}

// Operational reports whether execution is allowed at all: synced, in an
// active status, and kill switch off.
func (s SystemState) Operational() bool {
	if s.KillSwitch {
		return false
	}
	if !s.StartupSyncOK {
		return false
	}
	return s.Status == SystemStatusActive || s.Status == SystemStatusRunning
}
