package connectors

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BinanceAPIKey    string `envconfig:"BINANCE_API_KEY"`
	BinanceAPISecret string `envconfig:"BINANCE_API_SECRET"`
	BinanceBaseURL   string `envconfig:"BINANCE_BASE_URL" default:"https://api.binance.com"`
	BinanceWSURL     string `envconfig:"BINANCE_WS_URL" default:"wss://stream.binance.com:9443/ws"`

	BybitAPIKey     string `envconfig:"BYBIT_API_KEY"`
	BybitAPISecret  string `envconfig:"BYBIT_API_SECRET"`
	BybitBaseURL    string `envconfig:"BYBIT_BASE_URL" default:"https://api.bybit.com"`
	BybitWSURL      string `envconfig:"BYBIT_WS_URL" default:"wss://stream.bybit.com/v5/public/spot"`
	BybitRecvWindow int    `envconfig:"BYBIT_RECV_WINDOW" default:"5000"`

	// Token bucket shared by every call to the same venue. RatePerSec is the
	// continuous refill rate, Burst the bucket capacity.
	RatePerSec float64 `envconfig:"EXCHANGE_RATE_PER_SEC" default:"8"`
	Burst      int     `envconfig:"EXCHANGE_RATE_BURST" default:"16"`

	HTTPTimeoutSeconds int `envconfig:"EXCHANGE_HTTP_TIMEOUT_SECONDS" default:"15"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
