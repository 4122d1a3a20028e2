package connectors

import "github.com/shopspring/decimal"

// FloorToStep floors value down to the nearest multiple of step. Venues reject
// orders whose price or quantity is off-grid, and flooring (never rounding up)
// guarantees the result stays within the free balance. Computed with decimals
// so the step division carries no float drift.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	floored := v.Div(s).Floor().Mul(s)
	f, _ := floored.Float64()
	return f
}
