package backtest

import (
	"math"
	"testing"

	"tradeexecutor/src/model"
	"tradeexecutor/src/risk"
)

func testConfig() Config {
	return Config{
		Exchange:        "binance",
		Symbol:          "BTCUSDT",
		Timeframe:       "1h",
		InitialBalance:  10000,
		ATRPeriod:       1,
		CooldownCandles: 3,
	}
}

func testParams() risk.Params {
	return risk.Params{
		PositionPct:  0.03,
		StopATRMult:  1.5,
		TPATRMult:    3.0,
		TakerFee:     0.001,
		MakerFee:     0.001,
		SlippageBps:  0,
		PartialTPPct: 0.5,
		Trailing:     true,
	}
}

func bar(o, h, l, c float64) model.Candle {
	return model.Candle{Open: o, High: h, Low: l, Close: c}
}

func almostEqual(t *testing.T, got, want float64, what string) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("%s: got %v, want %v", what, got, want)
	}
}

// TestReplayMatchesRiskMath walks the reference scenario through the replay:
// entry at 100 with ATR 2, partial at 106, stop-out of the remainder at 95.
// Every figure must come out of the shared risk math.
func TestReplayMatchesRiskMath(t *testing.T) {
	candles := []model.Candle{
		bar(100, 100, 100, 100),
		bar(100, 101, 99, 100),  // ATR=2, entry at close 100
		bar(100, 106, 100, 106), // partial take-profit
		bar(106, 106, 94, 95),   // stop-out
	}

	bt := NewBacktester(testConfig(), testParams(), EnterAlways)
	report := bt.Run(candles)

	if report.Trades != 1 {
		t.Fatalf("expected one trade, got %d", report.Trades)
	}

	// Entry: 3% of 10000 = 300 notional at 100 = 3 units, 0.3 entry fee.
	// Partial: sell 1.5 at 106, fee 0.159, pnl 8.841.
	// Stop: sell 1.5 at 95, fee 0.1425, pnl -7.6425.
	wantPnL := (6*1.5 - 106*1.5*0.001) + ((95.0-100.0)*1.5 - 95*1.5*0.001)
	almostEqual(t, report.TotalPnL, wantPnL, "total PnL")
	almostEqual(t, report.TotalFees, 0.3+0.159+0.1425, "total fees")

	// Cash: 10000 - 300 - 0.3 + (106*1.5 - 0.159) + (95*1.5 - 0.1425).
	wantBalance := 10000.0 - 300.0 - 0.3 + (159.0 - 0.159) + (142.5 - 0.1425)
	almostEqual(t, report.FinalBalance, wantBalance, "final balance")

	// Two exit events: the winning partial and the losing stop-out.
	if report.Wins != 1 {
		t.Fatalf("expected the partial exit to count as the only win, got %d", report.Wins)
	}
	almostEqual(t, report.WinRate, 0.5, "win rate over exit events")
}

// TestReplayIsDeterministic runs the same series twice and expects identical
// reports.
func TestReplayIsDeterministic(t *testing.T) {
	candles := make([]model.Candle, 0, 200)
	price := 100.0
	for i := 0; i < 200; i++ {
		// Deterministic sawtooth with enough range to trigger entries and exits.
		delta := float64((i*37)%13) - 6
		next := price + delta
		high := math.Max(price, next) + 1
		low := math.Min(price, next) - 1
		candles = append(candles, bar(price, high, low, next))
		price = next
	}

	bt := NewBacktester(testConfig(), testParams(), EnterAlways)
	first := bt.Run(candles)
	second := bt.Run(candles)

	if first != second {
		t.Fatalf("replay not deterministic:\n first=%+v\nsecond=%+v", first, second)
	}
	if first.Trades == 0 {
		t.Fatal("series should produce at least one trade")
	}
}

// TestCooldownBlocksReentry verifies no new entry opens inside the cooldown
// window after a stop-out.
func TestCooldownBlocksReentry(t *testing.T) {
	candles := []model.Candle{
		bar(100, 100, 100, 100),
		bar(100, 101, 99, 100), // entry
		bar(100, 100, 90, 91),  // stop-out
		bar(91, 92, 90, 91),    // cooldown
		bar(91, 92, 90, 91),    // cooldown
		bar(91, 92, 90, 91),    // first eligible bar (index 4 >= 1+3)
	}

	bt := NewBacktester(testConfig(), testParams(), EnterAlways)
	report := bt.Run(candles)

	if report.Trades != 2 {
		t.Fatalf("expected re-entry only after cooldown, got %d trades", report.Trades)
	}
}

func TestOpenPositionLiquidatedAtEnd(t *testing.T) {
	candles := []model.Candle{
		bar(100, 100, 100, 100),
		bar(100, 101, 99, 100), // entry
		bar(100, 102, 100, 101),
	}

	bt := NewBacktester(testConfig(), testParams(), EnterAlways)
	report := bt.Run(candles)

	if report.Trades != 1 {
		t.Fatalf("expected one trade, got %d", report.Trades)
	}
	// 3 units bought at 100, liquidated at 101.
	wantPnL := 3.0 - 101*3*0.001
	almostEqual(t, report.TotalPnL, wantPnL, "liquidation PnL")
}

func TestEnterAboveSMA(t *testing.T) {
	rising := []model.Candle{bar(0, 0, 0, 100), bar(0, 0, 0, 101), bar(0, 0, 0, 102)}
	falling := []model.Candle{bar(0, 0, 0, 102), bar(0, 0, 0, 101), bar(0, 0, 0, 100)}

	rule := EnterAboveSMA(3)
	if !rule(rising) {
		t.Fatal("close above SMA must pass")
	}
	if rule(falling) {
		t.Fatal("close below SMA must not pass")
	}
	if rule(rising[:2]) {
		t.Fatal("insufficient history must not pass")
	}
}

func TestMaxDrawdown(t *testing.T) {
	almostEqual(t, maxDrawdown([]float64{100, 120, 90, 110, 80}), (120.0-80.0)/120.0, "drawdown")
	almostEqual(t, maxDrawdown([]float64{100, 110, 120}), 0, "monotonic curve")
	almostEqual(t, maxDrawdown(nil), 0, "empty curve")
}

func TestSharpeGuards(t *testing.T) {
	// Too few returns.
	if got := sharpe([]float64{100, 101, 102}, 8760); got != 0 {
		t.Fatalf("expected 0 with short series, got %v", got)
	}

	// Zero variance.
	flat := make([]float64, 100)
	for i := range flat {
		flat[i] = 100
	}
	if got := sharpe(flat, 8760); got != 0 {
		t.Fatalf("expected 0 with zero variance, got %v", got)
	}

	// Strictly growing equity has a positive ratio.
	growing := make([]float64, 100)
	v := 100.0
	for i := range growing {
		growing[i] = v
		v *= 1 + 0.001*float64(i%3)
	}
	if got := sharpe(growing, 8760); got <= 0 {
		t.Fatalf("expected positive Sharpe, got %v", got)
	}
}
