package signalsource

import (
	"context"

	"tradeexecutor/src/model"
)

// Source hands the lifecycle engine the next pending signal for a symbol, or
// nil when there is none. Implementations must tolerate redelivery: the
// idempotency layer downstream makes duplicates harmless.
type Source interface {
	Next(ctx context.Context, symbol string) (*model.Signal, error)
}

// Empty is a Source that never yields signals, used when another component
// owns the outbox.
type Empty struct{}

func (Empty) Next(ctx context.Context, symbol string) (*model.Signal, error) { return nil, nil }

// Advice is the opaque directional recommendation produced by the external
// acceptance filter.
type Advice struct {
	Direction  string
	Confidence float64
}

// Classifier is the machine-learned acceptance filter consumed as an opaque
// function. Signal generation itself lives outside this system.
type Classifier interface {
	Evaluate(ctx context.Context, symbol string, candles []model.Candle) (Advice, error)
}

// ThresholdGate wraps a Classifier with the minimum-confidence entry gate.
type ThresholdGate struct {
	classifier Classifier
	minProba   float64
}

func NewThresholdGate(classifier Classifier, minProba float64) *ThresholdGate {
	return &ThresholdGate{classifier: classifier, minProba: minProba}
}

// Accept returns whether the filter endorses a long entry with confidence at
// or above the threshold. A nil underlying classifier accepts everything,
// which is the gate-disabled configuration.
func (g *ThresholdGate) Accept(ctx context.Context, symbol string, candles []model.Candle) (bool, Advice, error) {
	if g.classifier == nil {
		return true, Advice{Direction: model.DirectionLong, Confidence: 1}, nil
	}

	advice, err := g.classifier.Evaluate(ctx, symbol, candles)
	if err != nil {
		return false, advice, err
	}
	if advice.Direction != model.DirectionLong {
		return false, advice, nil
	}
	return advice.Confidence >= g.minProba, advice, nil
}
