package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/audit"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/scheduler"
	"sentinel/internal/store"
	"sentinel/internal/store/model"
)

// Monitor is the periodic orchestrator. Each cycle it fetches the
// exchange's open conditional orders and positions once, then walks the
// ledger's active orders sequentially; an error on one order never aborts
// the rest of the cycle. Overlapping cycles are prevented by the
// scheduler's skip-if-running guard.
type Monitor struct {
	store      store.Store
	gw         exchange.Gateway
	classifier *Classifier
	writer     *Writer
	recorder   *audit.Recorder
	interval   time.Duration
}

func NewMonitor(st store.Store, gw exchange.Gateway, classifier *Classifier, writer *Writer, recorder *audit.Recorder, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		store:      st,
		gw:         gw,
		classifier: classifier,
		writer:     writer,
		recorder:   recorder,
		interval:   interval,
	}
}

// Start blocks until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil {
		return
	}
	sched := scheduler.NewIntervalScheduler("reconcile", m.interval)
	sched.RunImmediately = true
	sched.Start(ctx, func(taskCtx context.Context) {
		if err := m.RunCycle(taskCtx); err != nil {
			logger.Errorf("reconcile: cycle failed: %v", err)
		}
	})
}

// exchangeSnapshot indexes one cycle's view of the exchange.
type exchangeSnapshot struct {
	orderIDs  map[string]exchange.ConditionalOrder
	orderKeys map[string]exchange.ConditionalOrder // contract|side|kind
	positions map[string]exchange.Position         // contract|side
}

// RunCycle performs one reconciliation pass. Exported so tests and the ops
// endpoint can drive it directly.
func (m *Monitor) RunCycle(ctx context.Context) error {
	if m == nil || m.store == nil || m.gw == nil {
		return fmt.Errorf("monitor not initialized")
	}
	active, err := m.store.Orders().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active orders: %w", err)
	}
	if len(active) == 0 {
		return nil
	}

	snap, err := m.snapshotExchange(ctx)
	if err != nil {
		// Without a trustworthy exchange view, nothing can be classified
		// this cycle. Transient by taxonomy; the next tick retries.
		return err
	}

	ledgerIDs := make(map[string]struct{}, len(active))
	for _, o := range active {
		ledgerIDs[o.OrderID] = struct{}{}
	}

	for _, order := range active {
		if err := m.processOrder(ctx, order, snap, ledgerIDs); err != nil {
			logger.Errorf("reconcile: order %s (%s %s/%s) failed, continuing: %v",
				order.OrderID, order.Type, order.Symbol, order.Side, err)
		}
	}
	return nil
}

func (m *Monitor) snapshotExchange(ctx context.Context) (*exchangeSnapshot, error) {
	exOrders, err := m.gw.ConditionalOrders(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("fetch exchange orders: %w", err)
	}
	exPositions, err := m.gw.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange positions: %w", err)
	}
	snap := &exchangeSnapshot{
		orderIDs:  make(map[string]exchange.ConditionalOrder, len(exOrders)),
		orderKeys: make(map[string]exchange.ConditionalOrder, len(exOrders)),
		positions: make(map[string]exchange.Position, len(exPositions)),
	}
	for _, o := range exOrders {
		snap.orderIDs[o.ID] = o
		snap.orderKeys[orderKey(o.Contract, string(o.PositionSide), string(o.Kind))] = o
	}
	for _, p := range exPositions {
		snap.positions[posKey(p.Contract, string(p.Side))] = p
	}
	return snap, nil
}

func (m *Monitor) processOrder(ctx context.Context, order model.PriceOrderModel, snap *exchangeSnapshot, ledgerIDs map[string]struct{}) error {
	contract, err := m.gw.NormalizeContract(order.Symbol)
	if err != nil {
		return err
	}
	if _, ok := snap.orderIDs[order.OrderID]; ok {
		return nil // still live on the exchange
	}

	// Identifier drift repair: the exchange replaced the order and assigned
	// a new id, but an order for the same contract, protected side and kind
	// is still open. Rewrite the ledger id in place and keep it active.
	if cand, ok := snap.orderKeys[orderKey(contract, order.Side, order.Type)]; ok {
		if _, tracked := ledgerIDs[cand.ID]; !tracked {
			if err := m.store.Orders().RewriteOrderID(ctx, order.OrderID, cand.ID); err != nil {
				return fmt.Errorf("rewrite drifted order id %s -> %s: %w", order.OrderID, cand.ID, err)
			}
			ledgerIDs[cand.ID] = struct{}{}
			logger.Warnf("reconcile: order id drift repaired %s -> %s (%s %s/%s)",
				order.OrderID, cand.ID, order.Type, order.Symbol, order.Side)
			return nil
		}
	}

	_, positionOnExchange := snap.positions[posKey(contract, order.Side)]
	cls, err := m.classifier.Classify(ctx, order, contract, positionOnExchange)
	if err != nil {
		return err
	}

	switch cls.Verdict {
	case VerdictTriggered:
		return m.applyTriggered(ctx, contract, order, cls.Evidence)
	case VerdictCancelled:
		if err := m.store.Orders().UpdateStatus(ctx, order.OrderID, model.OrderStatusCancelled, nil); err != nil {
			return fmt.Errorf("mark order cancelled: %w", err)
		}
		logger.Infof("reconcile: %s %s/%s order %s cancelled on exchange, ledger updated",
			order.Type, order.Symbol, order.Side, order.OrderID)
		return nil
	case VerdictAmbiguous:
		pos, err := m.store.Positions().Find(ctx, order.Symbol, order.Side)
		if err != nil {
			return err
		}
		return m.writer.CommitAmbiguous(ctx, contract, pos, &order)
	default:
		return fmt.Errorf("unknown verdict %q", cls.Verdict)
	}
}

func (m *Monitor) applyTriggered(ctx context.Context, contract string, order model.PriceOrderModel, evidence *exchange.Trade) error {
	pos, err := m.store.Positions().Find(ctx, order.Symbol, order.Side)
	if err != nil {
		return err
	}
	if pos == nil {
		// The order fired but the ledger never had (or already lost) the
		// position. Close the order and surface the gap instead of
		// inventing a position to close.
		now := time.Now()
		if err := m.store.Orders().UpdateStatus(ctx, order.OrderID, model.OrderStatusTriggered, &now); err != nil {
			return fmt.Errorf("mark orphan order triggered: %w", err)
		}
		if m.recorder != nil {
			_ = m.recorder.Record(ctx, "conditional_close_orphan_order", order.Symbol, order.Side, true, false, order.OrderID,
				"conditional order triggered on exchange but ledger holds no matching position")
		}
		return nil
	}
	return m.writer.CommitTriggered(ctx, contract, pos, &order, evidence)
}

func orderKey(contract, side, kind string) string {
	return strings.ToUpper(contract) + "|" + strings.ToLower(side) + "|" + strings.ToLower(kind)
}

func posKey(contract, side string) string {
	return strings.ToUpper(contract) + "|" + strings.ToLower(side)
}
