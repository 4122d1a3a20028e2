package backtestcmd

import (
	"context"
	"encoding/json"
	"os"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/backtest"
	"tradeexecutor/src/repository"
	"tradeexecutor/src/risk"
)

// Runner replays stored history with the live risk parameters and writes the
// report to stdout.
type Runner struct {
	Log *logger.Entry
}

func (r *Runner) Start() error {
	cfg := backtest.GetConfig()
	params := risk.GetParams()

	bt := backtest.NewBacktester(cfg, params, backtest.EnterAboveSMA(cfg.ATRPeriod))
	report, err := bt.RunFromStore(context.Background(), repository.NewCandleRepository())
	if err != nil {
		return err
	}

	r.Log.WithFields(logger.Fields{
		"symbol": cfg.Symbol,
		"bars":   report.Bars,
		"trades": report.Trades,
	}).Info("Backtest complete")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
