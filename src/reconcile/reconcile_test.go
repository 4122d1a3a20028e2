package reconcile

import (
	"context"
	"fmt"
	"testing"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/model"
	"tradeexecutor/src/risk"
)

// ----- fakes -----

type memLinks struct {
	rows   []*model.OCOLink
	nextID uint
}

func (m *memLinks) Create(ctx context.Context, link *model.OCOLink) error {
	m.nextID++
	link.ID = m.nextID
	if link.Status == "" {
		link.Status = model.OCOStatusActive
	}
	copied := *link
	m.rows = append(m.rows, &copied)
	return nil
}

func (m *memLinks) ListActive(ctx context.Context, limit int) ([]model.OCOLink, error) {
	var out []model.OCOLink
	for _, row := range m.rows {
		if row.Status == model.OCOStatusActive {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memLinks) ListActiveBySymbol(ctx context.Context, symbol string) ([]model.OCOLink, error) {
	var out []model.OCOLink
	for _, row := range m.rows {
		if row.Status == model.OCOStatusActive && row.Symbol == symbol {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memLinks) HasActiveForSymbol(ctx context.Context, symbol string) (bool, error) {
	links, _ := m.ListActiveBySymbol(ctx, symbol)
	return len(links) > 0, nil
}

func (m *memLinks) SetStatus(ctx context.Context, linkID uint, status string) error {
	for _, row := range m.rows {
		if row.ID == linkID && row.Status == model.OCOStatusActive {
			row.Status = status
		}
	}
	return nil
}

func (m *memLinks) byID(id uint) *model.OCOLink {
	for _, row := range m.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

type memState struct {
	state       model.SystemState
	killReasons []string
}

func (m *memState) Get(ctx context.Context) (*model.SystemState, error) {
	s := m.state
	return &s, nil
}

func (m *memState) SetKillSwitch(ctx context.Context, engaged bool, reason string) error {
	m.state.KillSwitch = engaged
	if engaged {
		m.killReasons = append(m.killReasons, reason)
	}
	return nil
}

func (m *memState) SetStartupSyncOK(ctx context.Context, ok bool) error {
	m.state.StartupSyncOK = ok
	return nil
}

type memEvents struct{ kinds []string }

func (m *memEvents) Append(ctx context.Context, kind, detail string) error {
	m.kinds = append(m.kinds, kind)
	return nil
}

func (m *memEvents) has(kind string) bool {
	for _, k := range m.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type memDedup struct{ seen map[string]string }

func (m *memDedup) AlreadyExecuted(ctx context.Context, signalID string) (bool, error) {
	_, ok := m.seen[signalID]
	return ok, nil
}

func (m *memDedup) MarkExecuted(ctx context.Context, executed *model.ExecutedSignal) error {
	if m.seen == nil {
		m.seen = make(map[string]string)
	}
	if _, ok := m.seen[executed.SignalID]; !ok {
		m.seen[executed.SignalID] = executed.Action
	}
	return nil
}

// fakeVenue scripts order statuses and records every mutating call.
type fakeVenue struct {
	statuses   map[string]string
	balances   map[string]float64
	buyResult  *connectors.OrderResult
	buyErr     error
	sellErr    error
	sellErrs   int
	bracket    *connectors.BracketResult
	bracketErr error

	buys      []float64
	sells     []float64
	brackets  [][4]float64
	cancels   int
	statusErr error
}

func (f *fakeVenue) Name() string { return "fake" }

func (f *fakeVenue) GetPrice(ctx context.Context, symbol string) (float64, error) { return 100, nil }

func (f *fakeVenue) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	candles := make([]model.Candle, limit)
	for i := range candles {
		candles[i] = model.Candle{Open: 100, High: 101, Low: 99, Close: 100}
	}
	return candles, nil
}

func (f *fakeVenue) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	return f.balances[asset], nil
}

func (f *fakeVenue) GetSymbolFilters(ctx context.Context, symbol string) (*connectors.SymbolFilters, error) {
	return &connectors.SymbolFilters{
		Symbol:      symbol,
		BaseAsset:   "BTC",
		QuoteAsset:  "USDT",
		TickSize:    0.01,
		StepSize:    0.0001,
		MinNotional: 10,
	}, nil
}

func (f *fakeVenue) MarketBuyQuote(ctx context.Context, symbol string, quoteAmount float64) (*connectors.OrderResult, error) {
	f.buys = append(f.buys, quoteAmount)
	return f.buyResult, f.buyErr
}

func (f *fakeVenue) MarketSell(ctx context.Context, symbol string, qty float64) (*connectors.OrderResult, error) {
	f.sells = append(f.sells, qty)
	if f.sellErrs > 0 {
		f.sellErrs--
		return nil, f.sellErr
	}
	return &connectors.OrderResult{OrderID: "sell-1", ExecutedQty: qty}, nil
}

func (f *fakeVenue) LimitSell(ctx context.Context, symbol string, qty, price float64) (*connectors.OrderResult, error) {
	return &connectors.OrderResult{OrderID: "limit-1"}, nil
}

func (f *fakeVenue) PlaceBracketSell(ctx context.Context, symbol string, qty, tpPrice, slStopPrice, slLimitPrice float64) (*connectors.BracketResult, error) {
	f.brackets = append(f.brackets, [4]float64{qty, tpPrice, slStopPrice, slLimitPrice})
	return f.bracket, f.bracketErr
}

func (f *fakeVenue) GetOrderStatus(ctx context.Context, symbol, orderID string) (string, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.statuses[orderID], nil
}

func (f *fakeVenue) CancelAllOrders(ctx context.Context, symbol string) error {
	f.cancels++
	return nil
}

// ----- harness -----

func testConfig() Config {
	return Config{
		Mode:            ModeTestnet,
		IntervalSeconds: 30,
		MaxLinksPerPass: 50,
		SellBuffer:      0.999,
		RetrySellBuffer: 0.995,
		ATRPeriod:       14,
		Interval:        "1h",
	}
}

func testParams() risk.Params {
	return risk.Params{
		PositionPct:  0.03,
		StopATRMult:  1.5,
		TPATRMult:    3.0,
		TakerFee:     0.001,
		MakerFee:     0.001,
		SlippageBps:  5.0,
		PartialTPPct: 0.5,
		Trailing:     true,
	}
}

func operationalState() *memState {
	return &memState{state: model.SystemState{
		Status:        model.SystemStatusActive,
		StartupSyncOK: true,
	}}
}

func activeLink(links *memLinks, symbol, tpID, slID string) *model.OCOLink {
	link := &model.OCOLink{
		SignalID:    "sig-base",
		Symbol:      symbol,
		BaseAsset:   "BTC",
		TPOrderID:   tpID,
		SLOrderID:   slID,
		TPPrice:     106,
		SLStopPrice: 97,
		Quantity:    0.5,
	}
	_ = links.Create(context.Background(), link)
	return link
}

func sellSignal(id, action string, pct float64) *model.Signal {
	sig := &model.Signal{
		ID:        id,
		Verdict:   model.VerdictSell,
		Certified: true,
		Execution: model.SignalExecution{
			Symbol:    "BTCUSDT",
			Direction: model.DirectionLong,
		},
	}
	if action != "" {
		sig.Execution.Exit = &model.SignalExit{Action: action, Pct: &pct}
	}
	return sig
}

// ----- reconciler tests -----

// TestReconcilerStopFillClosesLink covers the stop leg filling at the venue:
// the link transitions to CLOSED_SL and the surviving take-profit leg is
// canceled.
func TestReconcilerStopFillClosesLink(t *testing.T) {
	links := &memLinks{}
	link := activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{statuses: map[string]string{"sl-1": "Filled", "tp-1": "New"}}
	events := &memEvents{}
	state := operationalState()

	rec := NewReconciler(testConfig(), venue, links, state, events)
	if err := rec.Pass(context.Background()); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	if got := links.byID(link.ID).Status; got != model.OCOStatusClosedSL {
		t.Fatalf("expected CLOSED_SL, got %s", got)
	}
	if venue.cancels != 1 {
		t.Fatalf("expected sibling cancel, got %d cancels", venue.cancels)
	}
	if !events.has("OCO_CLOSED_SL") {
		t.Fatalf("expected OCO_CLOSED_SL event, got %v", events.kinds)
	}
}

func TestReconcilerTakeProfitFill(t *testing.T) {
	links := &memLinks{}
	link := activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{statuses: map[string]string{"sl-1": "New", "tp-1": "closed"}}
	events := &memEvents{}

	rec := NewReconciler(testConfig(), venue, links, operationalState(), events)
	if err := rec.Pass(context.Background()); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	if got := links.byID(link.ID).Status; got != model.OCOStatusClosedTP {
		t.Fatalf("expected CLOSED_TP, got %s", got)
	}
}

// TestReconcilerSingleCanceledLegStaysActive verifies a link with one dead
// leg is left ACTIVE: the surviving leg still protects the position.
func TestReconcilerSingleCanceledLegStaysActive(t *testing.T) {
	links := &memLinks{}
	link := activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{statuses: map[string]string{"sl-1": "Cancelled", "tp-1": "New"}}

	rec := NewReconciler(testConfig(), venue, links, operationalState(), &memEvents{})
	_ = rec.Pass(context.Background())

	if got := links.byID(link.ID).Status; got != model.OCOStatusActive {
		t.Fatalf("expected link to stay ACTIVE, got %s", got)
	}
}

// TestReconcilerBothLegsCanceled marks the link FAILED without touching the
// kill switch.
func TestReconcilerBothLegsCanceled(t *testing.T) {
	links := &memLinks{}
	link := activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{statuses: map[string]string{"sl-1": "expired", "tp-1": "Rejected"}}
	state := operationalState()
	events := &memEvents{}

	rec := NewReconciler(testConfig(), venue, links, state, events)
	_ = rec.Pass(context.Background())

	if got := links.byID(link.ID).Status; got != model.OCOStatusFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
	if state.state.KillSwitch {
		t.Fatal("both-legs-canceled must not engage the kill switch")
	}
	if !events.has("OCO_FAILED") {
		t.Fatalf("expected OCO_FAILED event, got %v", events.kinds)
	}
}

func TestReconcilerLookupFailureKeepsLinkActive(t *testing.T) {
	links := &memLinks{}
	link := activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{statusErr: fmt.Errorf("venue down")}

	rec := NewReconciler(testConfig(), venue, links, operationalState(), &memEvents{})
	if err := rec.Pass(context.Background()); err != nil {
		t.Fatalf("per-link lookup failure must not fail the pass: %v", err)
	}
	if got := links.byID(link.ID).Status; got != model.OCOStatusActive {
		t.Fatalf("expected link to stay ACTIVE on lookup failure, got %s", got)
	}
}

func TestStartupSyncSetsFlag(t *testing.T) {
	state := operationalState()
	state.state.StartupSyncOK = false

	rec := NewReconciler(testConfig(), &fakeVenue{}, &memLinks{}, state, &memEvents{})
	if err := rec.StartupSync(context.Background()); err != nil {
		t.Fatalf("startup sync failed: %v", err)
	}
	if !state.state.StartupSyncOK {
		t.Fatal("expected startup sync flag set")
	}
}

// ----- signal executor tests -----

func newExecutor(venue *fakeVenue, links *memLinks, state *memState, events *memEvents, dedup *memDedup) *SignalExecutor {
	return NewSignalExecutor(testConfig(), testParams(), venue, nil, links, state, events, dedup)
}

// TestBuyArmsBracket covers the happy buy path: market buy, bracket armed,
// link created, signal marked executed.
func TestBuyArmsBracket(t *testing.T) {
	venue := &fakeVenue{
		balances:  map[string]float64{"USDT": 10000},
		buyResult: &connectors.OrderResult{OrderID: "buy-1", ExecutedQty: 3, AvgPrice: 100},
		bracket:   &connectors.BracketResult{TPOrderID: "tp-1", SLOrderID: "sl-1"},
	}
	links := &memLinks{}
	dedup := &memDedup{}
	events := &memEvents{}

	exec := newExecutor(venue, links, operationalState(), events, dedup)
	sig := &model.Signal{
		ID:        "sig-buy",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	if err := exec.HandleSignal(context.Background(), sig); err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	if len(venue.buys) != 1 || venue.buys[0] != 300 {
		t.Fatalf("expected one 300 USDT buy, got %v", venue.buys)
	}
	if len(venue.brackets) != 1 {
		t.Fatalf("expected one bracket placement, got %d", len(venue.brackets))
	}
	active, _ := links.ListActiveBySymbol(context.Background(), "BTCUSDT")
	if len(active) != 1 {
		t.Fatalf("expected one ACTIVE link, got %d", len(active))
	}
	if active[0].TPOrderID != "tp-1" || active[0].SLOrderID != "sl-1" {
		t.Fatalf("link carries wrong leg ids: %+v", active[0])
	}
	if dedup.seen["sig-buy"] != "LIVE_BUY" {
		t.Fatalf("expected LIVE_BUY dedup tag, got %q", dedup.seen["sig-buy"])
	}
}

// TestDuplicateSignalSkipped replays an executed signal id and expects no
// venue interaction at all.
func TestDuplicateSignalSkipped(t *testing.T) {
	venue := &fakeVenue{balances: map[string]float64{"USDT": 10000}}
	dedup := &memDedup{seen: map[string]string{"sig-dup": "LIVE_BUY"}}

	exec := newExecutor(venue, &memLinks{}, operationalState(), &memEvents{}, dedup)
	sig := &model.Signal{
		ID:        "sig-dup",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	if err := exec.HandleSignal(context.Background(), sig); err != nil {
		t.Fatalf("duplicate handling failed: %v", err)
	}
	if len(venue.buys) != 0 || len(venue.brackets) != 0 {
		t.Fatal("duplicate signal must not reach the venue")
	}
}

// TestInvalidBracketEngagesKillSwitch covers the missing-leg invariant: the
// bracket response lacks the stop leg, so trading halts.
func TestInvalidBracketEngagesKillSwitch(t *testing.T) {
	venue := &fakeVenue{
		balances:   map[string]float64{"USDT": 10000},
		buyResult:  &connectors.OrderResult{OrderID: "buy-1", ExecutedQty: 3, AvgPrice: 100},
		bracket:    &connectors.BracketResult{TPOrderID: "tp-1"},
		bracketErr: fmt.Errorf("stop leg rejected"),
	}
	links := &memLinks{}
	state := operationalState()
	events := &memEvents{}
	dedup := &memDedup{}

	exec := newExecutor(venue, links, state, events, dedup)
	sig := &model.Signal{
		ID:        "sig-bad-bracket",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	_ = exec.HandleSignal(context.Background(), sig)

	if !state.state.KillSwitch {
		t.Fatal("expected kill switch engaged")
	}
	if !events.has("OCO_INVALID") {
		t.Fatalf("expected OCO_INVALID event, got %v", events.kinds)
	}
	active, _ := links.ListActiveBySymbol(context.Background(), "BTCUSDT")
	if len(active) != 0 {
		t.Fatal("invalid bracket must not create a link")
	}
	if dedup.seen["sig-bad-bracket"] != "OCO_INVALID" {
		t.Fatalf("expected OCO_INVALID dedup tag, got %q", dedup.seen["sig-bad-bracket"])
	}
}

func TestDuplicateLegIDsAreInvalid(t *testing.T) {
	venue := &fakeVenue{
		balances:  map[string]float64{"USDT": 10000},
		buyResult: &connectors.OrderResult{OrderID: "buy-1", ExecutedQty: 3, AvgPrice: 100},
		bracket:   &connectors.BracketResult{TPOrderID: "same", SLOrderID: "same"},
	}
	state := operationalState()

	exec := newExecutor(venue, &memLinks{}, state, &memEvents{}, &memDedup{})
	sig := &model.Signal{
		ID:        "sig-same-leg",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	_ = exec.HandleSignal(context.Background(), sig)

	if !state.state.KillSwitch {
		t.Fatal("identical leg ids must engage the kill switch")
	}
}

// TestPartialSellRearmsBracket covers the partial exit: bracket canceled,
// half sold, a fresh bracket armed on the remainder with the old reference
// prices and a /REARM link id.
func TestPartialSellRearmsBracket(t *testing.T) {
	links := &memLinks{}
	activeLink(links, "BTCUSDT", "tp-1", "sl-1")

	venue := &fakeVenue{
		balances: map[string]float64{"BTC": 0.5},
		bracket:  &connectors.BracketResult{TPOrderID: "tp-2", SLOrderID: "sl-2"},
	}
	dedup := &memDedup{}
	events := &memEvents{}

	exec := newExecutor(venue, links, operationalState(), events, dedup)
	if err := exec.HandleSignal(context.Background(), sellSignal("sig-partial", model.SellActionPartial, 0.5)); err != nil {
		t.Fatalf("partial sell failed: %v", err)
	}

	if venue.cancels != 1 {
		t.Fatalf("expected bracket cancel before sell, got %d", venue.cancels)
	}
	if len(venue.sells) != 1 {
		t.Fatalf("expected one market sell, got %d", len(venue.sells))
	}
	// 0.5 BTC * 0.5 pct * 0.999 buffer floored to the 0.0001 step.
	if got := venue.sells[0]; got != 0.2497 {
		t.Fatalf("expected sell qty 0.2497, got %v", got)
	}

	if len(venue.brackets) != 1 {
		t.Fatalf("expected re-armed bracket, got %d placements", len(venue.brackets))
	}
	if venue.brackets[0][1] != 106 || venue.brackets[0][2] != 97 {
		t.Fatalf("re-arm must reuse reference prices, got %v", venue.brackets[0])
	}

	var rearm *model.OCOLink
	for _, row := range links.rows {
		if row.SignalID == "sig-partial/REARM" {
			rearm = row
		}
	}
	if rearm == nil || rearm.Status != model.OCOStatusActive {
		t.Fatal("expected ACTIVE /REARM link")
	}
	if links.rows[0].Status != model.OCOStatusCanceledBySignal {
		t.Fatalf("original link must be CANCELED_BY_SIGNAL, got %s", links.rows[0].Status)
	}
	if dedup.seen["sig-partial"] != "LIVE_SELL_PARTIAL" {
		t.Fatalf("expected LIVE_SELL_PARTIAL tag, got %q", dedup.seen["sig-partial"])
	}
}

// TestFullSellNoRearm verifies a NORMAL sell liquidates without re-arming.
func TestFullSellNoRearm(t *testing.T) {
	links := &memLinks{}
	activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{balances: map[string]float64{"BTC": 0.5}}
	dedup := &memDedup{}

	exec := newExecutor(venue, links, operationalState(), &memEvents{}, dedup)
	if err := exec.HandleSignal(context.Background(), sellSignal("sig-full", "", 0)); err != nil {
		t.Fatalf("full sell failed: %v", err)
	}

	if len(venue.brackets) != 0 {
		t.Fatal("full sell must not re-arm a bracket")
	}
	if got := venue.sells[0]; got != 0.4995 {
		t.Fatalf("expected sell qty 0.4995, got %v", got)
	}
	if dedup.seen["sig-full"] != "LIVE_SELL" {
		t.Fatalf("expected LIVE_SELL tag, got %q", dedup.seen["sig-full"])
	}
}

// TestSellRetriesWithWiderBuffer covers the insufficient-balance race: the
// first sell is rejected, the retry uses the 0.995 buffer.
func TestSellRetriesWithWiderBuffer(t *testing.T) {
	links := &memLinks{}
	activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{
		balances: map[string]float64{"BTC": 0.5},
		sellErr:  fmt.Errorf("insufficient balance"),
		sellErrs: 1,
	}

	exec := newExecutor(venue, links, operationalState(), &memEvents{}, &memDedup{})
	if err := exec.HandleSignal(context.Background(), sellSignal("sig-retry", "", 0)); err != nil {
		t.Fatalf("sell with retry failed: %v", err)
	}

	if len(venue.sells) != 2 {
		t.Fatalf("expected two sell attempts, got %d", len(venue.sells))
	}
	if venue.sells[1] != 0.4975 {
		t.Fatalf("expected retry qty 0.4975, got %v", venue.sells[1])
	}
}

// TestKillSwitchHoldsSignal verifies an engaged kill switch blocks execution
// without consuming the signal.
func TestKillSwitchHoldsSignal(t *testing.T) {
	venue := &fakeVenue{balances: map[string]float64{"USDT": 10000}}
	state := operationalState()
	state.state.KillSwitch = true
	dedup := &memDedup{}

	exec := newExecutor(venue, &memLinks{}, state, &memEvents{}, dedup)
	sig := &model.Signal{
		ID:        "sig-held",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	if err := exec.HandleSignal(context.Background(), sig); err != nil {
		t.Fatalf("hold must not error: %v", err)
	}
	if len(venue.buys) != 0 {
		t.Fatal("kill switch must block the buy")
	}
	if _, ok := dedup.seen["sig-held"]; ok {
		t.Fatal("held signal must stay out of the dedup set for redelivery")
	}
}

// TestDemoModeRecordsWithoutVenue verifies DEMO mode marks the signal
// executed without any venue interaction.
func TestDemoModeRecordsWithoutVenue(t *testing.T) {
	venue := &fakeVenue{balances: map[string]float64{"USDT": 10000}}
	dedup := &memDedup{}
	events := &memEvents{}

	cfg := testConfig()
	cfg.Mode = ModeDemo
	exec := NewSignalExecutor(cfg, testParams(), venue, nil, &memLinks{}, operationalState(), events, dedup)

	sig := &model.Signal{
		ID:        "sig-demo",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	if err := exec.HandleSignal(context.Background(), sig); err != nil {
		t.Fatalf("demo handling failed: %v", err)
	}
	if len(venue.buys) != 0 || len(venue.brackets) != 0 {
		t.Fatal("demo mode must not reach the venue")
	}
	if dedup.seen["sig-demo"] != "DEMO_TRADE" {
		t.Fatalf("expected DEMO_TRADE tag, got %q", dedup.seen["sig-demo"])
	}
	if !events.has("DEMO_EXECUTION") {
		t.Fatalf("expected DEMO_EXECUTION event, got %v", events.kinds)
	}
}

// TestLiveModeRequiresConfirmation rejects orders in LIVE mode without the
// confirmation phrase.
func TestLiveModeRequiresConfirmation(t *testing.T) {
	venue := &fakeVenue{balances: map[string]float64{"USDT": 10000}}
	dedup := &memDedup{}

	cfg := testConfig()
	cfg.Mode = ModeLive
	cfg.LiveConfirmation = ""
	exec := NewSignalExecutor(cfg, testParams(), venue, nil, &memLinks{}, operationalState(), &memEvents{}, dedup)

	sig := &model.Signal{
		ID:        "sig-live",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	_ = exec.HandleSignal(context.Background(), sig)

	if len(venue.buys) != 0 {
		t.Fatal("unconfirmed live mode must not place orders")
	}
	if dedup.seen["sig-live"] != "REJECTED_LIVE_UNCONFIRMED" {
		t.Fatalf("expected REJECTED_LIVE_UNCONFIRMED, got %q", dedup.seen["sig-live"])
	}
}

// TestMinNotionalRejected covers a balance too small for the venue minimum.
func TestMinNotionalRejected(t *testing.T) {
	venue := &fakeVenue{balances: map[string]float64{"USDT": 100}} // 3 USDT notional < 10 min
	dedup := &memDedup{}

	exec := newExecutor(venue, &memLinks{}, operationalState(), &memEvents{}, dedup)
	sig := &model.Signal{
		ID:        "sig-small",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	if err := exec.HandleSignal(context.Background(), sig); err != nil {
		t.Fatalf("min-notional rejection must not error: %v", err)
	}
	if len(venue.buys) != 0 {
		t.Fatal("below-minimum notional must not buy")
	}
	if dedup.seen["sig-small"] != "REJECTED_MIN_NOTIONAL" {
		t.Fatalf("expected REJECTED_MIN_NOTIONAL, got %q", dedup.seen["sig-small"])
	}
}

func TestExposureExistsRejected(t *testing.T) {
	links := &memLinks{}
	activeLink(links, "BTCUSDT", "tp-1", "sl-1")
	venue := &fakeVenue{balances: map[string]float64{"USDT": 10000}}
	dedup := &memDedup{}

	exec := newExecutor(venue, links, operationalState(), &memEvents{}, dedup)
	sig := &model.Signal{
		ID:        "sig-exposed",
		Verdict:   model.VerdictTrade,
		Certified: true,
		Execution: model.SignalExecution{Symbol: "BTCUSDT", Direction: model.DirectionLong},
	}
	_ = exec.HandleSignal(context.Background(), sig)

	if len(venue.buys) != 0 {
		t.Fatal("existing bracket must block a second buy")
	}
	if dedup.seen["sig-exposed"] != "REJECTED_EXPOSURE_EXISTS" {
		t.Fatalf("expected REJECTED_EXPOSURE_EXISTS, got %q", dedup.seen["sig-exposed"])
	}
}
