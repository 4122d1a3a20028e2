package backfill

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	StartDt   time.Time `envconfig:"START_DATE" default:"2024-01-01T00:00:00Z"`
	EndDt     time.Time `envconfig:"END_DATE" default:"2027-01-01T00:00:00Z"`
	Duration  string    `envconfig:"DURATION" default:"1h"`
	AutoMode  bool      `envconfig:"AUTO_MODE" default:"false"`
	Symbol    string    `envconfig:"SYMBOL" default:"BTC"`
	Quote     string    `envconfig:"QUOTE" default:"USDT"`
	Limit     int       `envconfig:"LIMIT" default:"1000"`
	Exchange  string    `envconfig:"BACKFILL_EXCHANGE" default:"binance"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
