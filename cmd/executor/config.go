package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Exchange string `envconfig:"EXCHANGE" default:"binance"`

	// SignalDriver picks which component consumes the outbox: "executor"
	// applies signals immediately with a venue-side bracket, "engine" defers
	// entries to the candle-synced lifecycle loop.
	SignalDriver      string `envconfig:"SIGNAL_DRIVER" default:"executor"`
	SignalPollSeconds int    `envconfig:"SIGNAL_POLL_SECONDS" default:"5"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
