package reconcile

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

const (
	ModeDemo    = "DEMO"
	ModeTestnet = "TESTNET"
	ModeLive    = "LIVE"

	// liveConfirmationPhrase must be set verbatim in LIVE_CONFIRMATION before
	// any order reaches a production venue.
	liveConfirmationPhrase = "I_UNDERSTAND_LIVE_TRADING"
)

type Config struct {
	Mode             string  `envconfig:"EXECUTION_MODE" default:"DEMO"`
	LiveConfirmation string  `envconfig:"LIVE_CONFIRMATION" default:""`
	IntervalSeconds  int     `envconfig:"RECONCILE_INTERVAL_SECONDS" default:"30"`
	MaxLinksPerPass  int     `envconfig:"RECONCILE_MAX_LINKS" default:"50"`
	SellBuffer       float64 `envconfig:"SELL_BUFFER" default:"0.999"`
	RetrySellBuffer  float64 `envconfig:"RETRY_SELL_BUFFER" default:"0.995"`
	ATRPeriod        int     `envconfig:"ATR_PERIOD" default:"14"`
	Interval         string  `envconfig:"CANDLE_INTERVAL" default:"1h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// DemoMode reports whether orders are simulated instead of sent to a venue.
func (c Config) DemoMode() bool {
	return c.Mode == ModeDemo
}

// LiveTradingAllowed is the safety interlock: LIVE mode additionally requires
// the explicit confirmation phrase. TESTNET needs no confirmation.
func (c Config) LiveTradingAllowed() bool {
	switch c.Mode {
	case ModeTestnet:
		return true
	case ModeLive:
		return c.LiveConfirmation == liveConfirmationPhrase
	}
	return false
}
