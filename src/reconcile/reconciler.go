package reconcile

import (
	"context"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/connectors"
	"tradeexecutor/src/model"
	"tradeexecutor/src/repository"
)

// Narrow persistence surfaces mirrored from the gorm repositories so the
// reconciliation logic is testable without a database.
type LinkStore interface {
	Create(ctx context.Context, link *model.OCOLink) error
	ListActive(ctx context.Context, limit int) ([]model.OCOLink, error)
	ListActiveBySymbol(ctx context.Context, symbol string) ([]model.OCOLink, error)
	HasActiveForSymbol(ctx context.Context, symbol string) (bool, error)
	SetStatus(ctx context.Context, linkID uint, status string) error
}

type StateControl interface {
	Get(ctx context.Context) (*model.SystemState, error)
	SetKillSwitch(ctx context.Context, engaged bool, reason string) error
	SetStartupSyncOK(ctx context.Context, ok bool) error
}

type EventSink interface {
	Append(ctx context.Context, kind, detail string) error
}

type DedupStore interface {
	AlreadyExecuted(ctx context.Context, signalID string) (bool, error)
	MarkExecuted(ctx context.Context, executed *model.ExecutedSignal) error
}

var (
	_ LinkStore    = (*repository.OCOLinkRepository)(nil)
	_ StateControl = (*repository.SystemStateRepository)(nil)
	_ EventSink    = (*repository.EventLogRepository)(nil)
	_ DedupStore   = (*repository.SignalDedupRepository)(nil)
)

// Venue order statuses are normalized to lower case before classification.
// Closed means the leg filled; canceled covers every way a leg can die
// without filling.
func legClosed(status string) bool {
	switch strings.ToLower(status) {
	case "closed", "filled":
		return true
	}
	return false
}

func legCanceled(status string) bool {
	switch strings.ToLower(status) {
	case "canceled", "cancelled", "expired", "rejected":
		return true
	}
	return false
}

// Reconciler periodically walks the ACTIVE bracket links and converges their
// database status with what the venue reports. It only ever transitions link
// rows; it never places orders.
type Reconciler struct {
	exchange connectors.ExchangeConnector
	links    LinkStore
	state    StateControl
	events   EventSink
	interval time.Duration
	maxLinks int
}

func NewReconciler(cfg Config, exchange connectors.ExchangeConnector, links LinkStore, state StateControl, events EventSink) *Reconciler {
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		exchange: exchange,
		links:    links,
		state:    state,
		events:   events,
		interval: interval,
		maxLinks: cfg.MaxLinksPerPass,
	}
}

// StartupSync runs one reconciliation pass and, if it completes, marks the
// startup-sync flag so the executors are allowed to trade. A failed pass
// leaves the flag untouched and the system halted.
func (r *Reconciler) StartupSync(ctx context.Context) error {
	if err := r.Pass(ctx); err != nil {
		logger.WithError(err).Error("Startup reconciliation failed, trading stays blocked")
		return err
	}
	if err := r.state.SetStartupSyncOK(ctx, true); err != nil {
		return err
	}
	_ = r.events.Append(ctx, "STARTUP_SYNC_OK", "startup reconciliation pass completed")
	return nil
}

// Run blocks, reconciling on a fixed interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Pass(ctx); err != nil {
				logger.WithError(err).Error("Reconciliation pass failed")
			}
		}
	}
}

// Pass reconciles one batch of ACTIVE links. Per-link lookup failures are
// logged and the link stays ACTIVE for the next pass; only the initial list
// query can fail the pass itself.
func (r *Reconciler) Pass(ctx context.Context) error {
	links, err := r.links.ListActive(ctx, r.maxLinks)
	if err != nil {
		return err
	}

	for i := range links {
		r.reconcileLink(ctx, &links[i])
	}
	return nil
}

func (r *Reconciler) reconcileLink(ctx context.Context, link *model.OCOLink) {
	log := logger.WithFields(map[string]interface{}{
		"link_id": link.ID,
		"symbol":  link.Symbol,
	})

	slStatus, slErr := r.exchange.GetOrderStatus(ctx, link.Symbol, link.SLOrderID)
	tpStatus, tpErr := r.exchange.GetOrderStatus(ctx, link.Symbol, link.TPOrderID)
	if slErr != nil || tpErr != nil {
		log.WithFields(map[string]interface{}{
			"sl_err": slErr,
			"tp_err": tpErr,
		}).Warn("Order status lookup failed, link stays active")
		return
	}

	switch {
	case legClosed(slStatus):
		r.closeLink(ctx, link, model.OCOStatusClosedSL, "OCO_CLOSED_SL")

	case legClosed(tpStatus):
		r.closeLink(ctx, link, model.OCOStatusClosedTP, "OCO_CLOSED_TP")

	case legCanceled(slStatus) && legCanceled(tpStatus):
		// Both legs died without filling. The base position is now naked;
		// record the failure loudly but leave the operator in control.
		log.WithFields(map[string]interface{}{
			"sl_status": slStatus,
			"tp_status": tpStatus,
		}).Error("Both bracket legs canceled, position unprotected")
		if err := r.links.SetStatus(ctx, link.ID, model.OCOStatusFailed); err != nil {
			log.WithError(err).Error("Failed to mark link FAILED")
			return
		}
		_ = r.events.Append(ctx, "OCO_FAILED", "symbol="+link.Symbol+" signal="+link.SignalID)

	case legCanceled(slStatus) || legCanceled(tpStatus):
		// One leg gone, the other still resting. The remaining leg still
		// protects (or caps) the position, so the link stays ACTIVE and the
		// condition is surfaced for the operator.
		log.WithFields(map[string]interface{}{
			"sl_status": slStatus,
			"tp_status": tpStatus,
		}).Warn("One bracket leg canceled, sibling still open")
	}
}

// closeLink transitions a filled bracket and cancels the surviving sibling
// leg. The venue legs are independent orders, so the sibling does not die on
// its own.
func (r *Reconciler) closeLink(ctx context.Context, link *model.OCOLink, status, eventKind string) {
	log := logger.WithFields(map[string]interface{}{
		"link_id": link.ID,
		"symbol":  link.Symbol,
		"status":  status,
	})

	if err := r.links.SetStatus(ctx, link.ID, status); err != nil {
		log.WithError(err).Error("Failed to transition link")
		return
	}
	if err := r.exchange.CancelAllOrders(ctx, link.Symbol); err != nil {
		log.WithError(err).Warn("Failed to cancel sibling leg")
	}

	log.Info("Bracket resolved")
	_ = r.events.Append(ctx, eventKind, "symbol="+link.Symbol+" signal="+link.SignalID)
}
