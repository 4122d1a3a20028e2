package model

// Signal is an external trade instruction consumed from the append-only
// outbox. It is immutable once received; the idempotency layer guarantees it
// executes at most once even across process restarts.
type Signal struct {
	ID          string          `json:"signal_id"`
	Fingerprint string          `json:"fingerprint"`
	Verdict     string          `json:"final_verdict"`
	Certified   bool            `json:"certified_signal"`
	Confidence  float64         `json:"confidence"`
	Execution   SignalExecution `json:"execution"`
}

type SignalExecution struct {
	Symbol       string      `json:"symbol"`
	Direction    string      `json:"direction"`
	EntryType    string      `json:"entry_type"`
	PositionSize *float64    `json:"position_size,omitempty"`
	QuoteAmount  *float64    `json:"quote_amount,omitempty"`
	Exit         *SignalExit `json:"exit,omitempty"`
}

// SignalExit describes how a SELL verdict should be applied.
type SignalExit struct {
	Action string   `json:"action"`
	Pct    *float64 `json:"pct,omitempty"`
}

const (
	VerdictTrade = "TRADE"
	VerdictSell  = "SELL"

	DirectionLong = "LONG"

	EntryTypeMarket = "MARKET"

	SellActionNormal    = "NORMAL"
	SellActionPartial   = "PARTIAL"
	SellActionEmergency = "EMERGENCY"
)

// ExitAction resolves the sell action, defaulting to NORMAL when the signal
// carries no explicit exit block.
func (s Signal) ExitAction() string {
	if s.Execution.Exit != nil && s.Execution.Exit.Action != "" {
		return s.Execution.Exit.Action
	}
	return SellActionNormal
}

// ExitPct resolves the sell fraction in [0..1]. Values above 1 are read as
// percentages. Full exits default to 1, partial exits to 0.3, matching the
// signal producer's conventions.
func (s Signal) ExitPct() float64 {
	var raw *float64
	if s.Execution.Exit != nil {
		raw = s.Execution.Exit.Pct
	}
	if raw == nil {
		if s.ExitAction() == SellActionPartial {
			return 0.3
		}
		return 1.0
	}
	pct := *raw
	if pct > 1.0 {
		pct = pct / 100.0
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	return pct
}
