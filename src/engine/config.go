package engine

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Symbols         []string `envconfig:"SYMBOLS" default:"BTCUSDT"`
	Interval        string   `envconfig:"CANDLE_INTERVAL" default:"1h"`
	CooldownCandles int      `envconfig:"COOLDOWN_CANDLES" default:"3"`
	MLMinProba      float64  `envconfig:"ML_MIN_PROBA" default:"0.55"`
	ATRPeriod       int      `envconfig:"ATR_PERIOD" default:"14"`
	QuoteAsset      string   `envconfig:"QUOTE_ASSET" default:"USDT"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
