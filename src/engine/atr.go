package engine

import (
	"math"

	"tradeexecutor/src/model"
)

// ComputeATR is Wilder's Average True Range over the trailing period. Returns
// 0 until enough candles exist (period+1, since true range needs the previous
// close).
func ComputeATR(candles []model.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	start := len(candles) - period
	atr := 0.0
	for i := start; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := math.Max(candles[i].High-candles[i].Low,
			math.Max(math.Abs(candles[i].High-prevClose), math.Abs(candles[i].Low-prevClose)))
		atr += tr
	}
	return atr / float64(period)
}
