package model

import "time"

// Candle is one OHLCV bar as read from a venue, normalized across exchanges.
// Times are epoch milliseconds as the venues report them.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// OHLCVCandle is the persisted form of a candle used by the backfill command
// and the backtest replay.
type OHLCVCandle struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Exchange  string    `gorm:"size:50;uniqueIndex:idx_ohlcv_lookup" json:"exchange"`
	Symbol    string    `gorm:"size:50;uniqueIndex:idx_ohlcv_lookup" json:"symbol"`
	Timeframe string    `gorm:"size:10;uniqueIndex:idx_ohlcv_lookup" json:"timeframe"`
	OpenTime  int64     `gorm:"uniqueIndex:idx_ohlcv_lookup" json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime int64     `json:"close_time"`
	CreatedAt time.Time `json:"created_at"`
}

func (OHLCVCandle) TableName() string {
	return "ohlcv_candles"
}

// ToCandle converts the persisted row into the wire form shared with the
// live feed.
func (c OHLCVCandle) ToCandle() Candle {
	return Candle{
		OpenTime:  c.OpenTime,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		CloseTime: c.CloseTime,
	}
}
