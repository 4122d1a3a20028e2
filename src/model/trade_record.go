package model

import "time"

// TradeRecord is one row of the append-only trade ledger. It is created on a
// confirmed entry fill and updated exactly once when the position fully closes.
type TradeRecord struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Exchange   string     `gorm:"size:50;index" json:"exchange"`
	Symbol     string     `gorm:"size:50;index" json:"symbol"`
	Side       string     `gorm:"size:10" json:"side"`
	Quantity   float64    `json:"quantity"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	PnlUSD     *float64   `json:"pnl_usd,omitempty"`
	FeeUSD     float64    `json:"fee_usd"`
	Meta       string     `gorm:"type:text" json:"meta"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (TradeRecord) TableName() string {
	return "trades"
}
