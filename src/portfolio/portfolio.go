package portfolio

import (
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Position is one open long. Quantity only ever moves downward via partial
// exits; ATRAtEntry is frozen at entry and drives all subsequent stop math.
type Position struct {
	Symbol       string
	Quantity     float64
	EntryPrice   float64
	EntryTime    time.Time
	ATRAtEntry   float64
	StopPrice    float64
	TakeProfit   float64
	BestPrice    float64
	Trailing     bool
	TrailingStop float64
	TradeID      uint
	PartialDone  bool

	// Realized figures accumulated by partial exits; folded into the ledger
	// row when the position fully closes.
	RealizedPnL float64
	FeesUSD     float64
}

// Portfolio is the in-memory symbol → open position registry plus per-symbol
// cooldown bookkeeping. The registry maps are guarded because every symbol
// loop touches them; each *Position value is still mutated only from its own
// symbol's sequential candle loop.
type Portfolio struct {
	mu        sync.Mutex
	positions map[string]*Position
	openedAt  map[string]int
	cooldown  int
}

func NewPortfolio(cooldownCandles int) *Portfolio {
	return &Portfolio{
		positions: make(map[string]*Position),
		openedAt:  make(map[string]int),
		cooldown:  cooldownCandles,
	}
}

func (p *Portfolio) HasPosition(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.positions[symbol]
	return ok
}

func (p *Portfolio) Get(symbol string) *Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[symbol]
}

// Open registers a new position. Callers must check HasPosition first; an
// attempt to open over an existing position is rejected, never merged.
func (p *Portfolio) Open(position *Position, candleIndex int) error {
	if position == nil || position.Quantity <= 0 {
		return fmt.Errorf("cannot open position with non-positive quantity")
	}

	p.mu.Lock()
	if _, exists := p.positions[position.Symbol]; exists {
		p.mu.Unlock()
		return fmt.Errorf("position already open for %s", position.Symbol)
	}
	p.positions[position.Symbol] = position
	p.openedAt[position.Symbol] = candleIndex
	p.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"symbol": position.Symbol,
		"qty":    position.Quantity,
		"entry":  position.EntryPrice,
		"stop":   position.StopPrice,
		"tp":     position.TakeProfit,
	}).Info("Position opened")

	return nil
}

func (p *Portfolio) Close(symbol string) {
	p.mu.Lock()
	_, ok := p.positions[symbol]
	if ok {
		delete(p.positions, symbol)
	}
	p.mu.Unlock()

	if ok {
		logger.WithField("symbol", symbol).Info("Position closed")
	}
}

// InCooldown reports whether the symbol is still inside its post-open
// cooldown window at the given candle index.
func (p *Portfolio) InCooldown(symbol string, candleIndex int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	opened, ok := p.openedAt[symbol]
	if !ok {
		return false
	}
	return candleIndex < opened+p.cooldown
}

// OpenSymbols lists symbols with an open position.
func (p *Portfolio) OpenSymbols() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	symbols := make([]string, 0, len(p.positions))
	for symbol := range p.positions {
		symbols = append(symbols, symbol)
	}
	return symbols
}
