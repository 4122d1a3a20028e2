package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradeexecutor/cmd/backfill"
	"tradeexecutor/cmd/backtestcmd"
	"tradeexecutor/cmd/executor"
	"tradeexecutor/src/database"
	"tradeexecutor/src/repository"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "tradeexecutor CMD"
	app.Usage = "The trade executor command line interface"

	app.Commands = []cli.Command{
		executorCMD,
		backfillCMD,
		backtestCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	executorCMD = cli.Command{
		Name:        "executor",
		Usage:       "run the trading executor",
		Action:      executorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the live trading executor`,
	}
	backfillCMD = cli.Command{
		Name:        "backfill",
		Usage:       "download OHLCV history",
		Action:      backfillAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Download OHLCV candle history into the local store`,
	}
	backtestCMD = cli.Command{
		Name:        "backtest",
		Usage:       "replay stored history",
		Action:      backtestAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Replay stored candle history through the live exit rules`,
	}
)

func executorAction(_ *cli.Context) error {
	logrus.Info("Starting executor CMD")

	exec := &executor.Executor{}
	if err := exec.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func backfillAction(_ *cli.Context) error {
	logrus.Info("Starting backfill CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	bf := &backfill.Backfill{
		Log:     logrus.WithField("cmd", "backfill"),
		Candles: repository.NewCandleRepository(),
	}
	if err := bf.Start(); err != nil {
		logrus.WithError(err).Error("Starting backfill cmd")
		return err
	}
	return nil
}

func backtestAction(_ *cli.Context) error {
	logrus.Info("Starting backtest CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	runner := &backtestcmd.Runner{Log: logrus.WithField("cmd", "backtest")}
	if err := runner.Start(); err != nil {
		logrus.WithError(err).Error("Starting backtest cmd")
		return err
	}
	return nil
}
