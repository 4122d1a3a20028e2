package backtest

import "math"

// minReturnsForSharpe guards against quoting a ratio off a handful of bars.
const minReturnsForSharpe = 50

func barsPerYear(timeframe string) float64 {
	switch timeframe {
	case "1m":
		return 525600
	case "5m":
		return 105120
	case "15m":
		return 35040
	case "30m":
		return 17520
	case "1h":
		return 8760
	case "4h":
		return 2190
	case "1d", "D":
		return 365
	}
	return 8760
}

// maxDrawdown is the deepest peak-to-trough fall of the equity curve, as a
// fraction of the peak.
func maxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sharpe annualizes the per-bar equity returns. Returns 0 when the series is
// too short or has no variance, never NaN.
func sharpe(equity []float64, annualBars float64) float64 {
	if len(equity) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	if len(returns) < minReturnsForSharpe {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	if variance == 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(annualBars)
}
