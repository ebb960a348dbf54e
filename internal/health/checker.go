// Package health runs the scheduled health check: it refreshes price/PnL
// on ledger positions from the exchange view and drives the staged partial
// take-profit through the coordinator.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"sentinel/internal/coordinator"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/scheduler"
	"sentinel/internal/store"
	"sentinel/internal/store/model"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const StageOnePartialTP = "stage1_partial_tp"

type Config struct {
	Interval        time.Duration
	Stage1ProfitPct float64 // profit (percent of margin) that arms stage 1
	Stage1Ratio     float64 // fraction of the position closed at stage 1
}

type Checker struct {
	store  store.Store
	gw     exchange.Gateway
	closer exchange.PartialCloser
	coord  *coordinator.Coordinator
	cfg    Config
}

func NewChecker(st store.Store, gw exchange.Gateway, closer exchange.PartialCloser, coord *coordinator.Coordinator, cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Stage1ProfitPct <= 0 {
		cfg.Stage1ProfitPct = 2.0
	}
	if cfg.Stage1Ratio <= 0 || cfg.Stage1Ratio >= 1 {
		cfg.Stage1Ratio = 0.5
	}
	return &Checker{store: st, gw: gw, closer: closer, coord: coord, cfg: cfg}
}

func (c *Checker) Start(ctx context.Context) {
	if c == nil {
		return
	}
	sched := scheduler.NewIntervalScheduler("health", c.cfg.Interval)
	sched.Start(ctx, func(taskCtx context.Context) {
		if err := c.RunCycle(taskCtx); err != nil {
			logger.Errorf("health: cycle failed: %v", err)
		}
	})
}

// RunCycle refreshes every ledger position against the exchange snapshot.
// Per-position errors are contained.
func (c *Checker) RunCycle(ctx context.Context) error {
	if c == nil || c.store == nil || c.gw == nil {
		return fmt.Errorf("health checker not initialized")
	}
	ledger, err := c.store.Positions().List(ctx)
	if err != nil {
		return fmt.Errorf("list ledger positions: %w", err)
	}
	if len(ledger) == 0 {
		return nil
	}
	exPositions, err := c.gw.Positions(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange positions: %w", err)
	}
	index := make(map[string]exchange.Position, len(exPositions))
	for _, p := range exPositions {
		index[strings.ToUpper(p.Contract)+"|"+string(p.Side)] = p
	}

	for i := range ledger {
		pos := ledger[i]
		contract, err := c.gw.NormalizeContract(pos.Symbol)
		if err != nil {
			logger.Warnf("health: %s: %v", pos.Symbol, err)
			continue
		}
		live, ok := index[strings.ToUpper(contract)+"|"+pos.Side]
		if !ok {
			// Gone on the exchange; that is the reconcile monitor's case,
			// not ours.
			continue
		}
		if err := c.refreshPosition(ctx, contract, pos, live); err != nil {
			logger.Warnf("health: refresh %s/%s failed: %v", pos.Symbol, pos.Side, err)
		}
	}
	return nil
}

func (c *Checker) refreshPosition(ctx context.Context, contract string, pos model.PositionModel, live exchange.Position) error {
	profitPct := profitPercent(live.UnrealizedPnL, pos.EntryPrice, pos.Quantity, pos.Leverage)

	meta := map[string]any{}
	if len(pos.Metadata) > 0 {
		_ = json.Unmarshal(pos.Metadata, &meta)
	}
	meta["current_price"] = live.MarkPrice
	meta["unrealized_pnl"] = live.UnrealizedPnL
	meta["profit_pct"] = profitPct
	meta["refreshed_at"] = time.Now().UnixMilli()
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := c.store.Positions().UpdateMetadata(ctx, pos.Symbol, pos.Side, string(raw)); err != nil {
		return err
	}

	stage1Done := gjson.GetBytes(pos.Metadata, "milestones.stage1_done").Bool()
	if stage1Done || c.closer == nil || c.coord == nil {
		return nil
	}
	if profitPct < c.cfg.Stage1ProfitPct {
		return nil
	}
	return c.runStageOne(ctx, contract, pos, meta)
}

func (c *Checker) runStageOne(ctx context.Context, contract string, pos model.PositionModel, meta map[string]any) error {
	side, ok := exchange.ParseSide(pos.Side)
	if !ok {
		return fmt.Errorf("invalid side %q", pos.Side)
	}
	closeQty, _ := decimal.NewFromFloat(pos.Quantity).
		Mul(decimal.NewFromFloat(c.cfg.Stage1Ratio)).
		Float64()

	outcome, err := c.coord.Run(ctx, pos.Symbol, StageOnePartialTP, func(actionCtx context.Context) error {
		return c.closer.ClosePosition(actionCtx, contract, side, closeQty)
	})
	if err != nil {
		return err
	}
	if outcome.Skipped() {
		logger.Infof("health: stage1 partial tp for %s %s", pos.Symbol, outcome)
		return nil
	}

	meta["milestones"] = map[string]any{
		"stage1_done":    true,
		"stage1_qty":     closeQty,
		"stage1_done_at": time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := c.store.Positions().UpdateMetadata(ctx, pos.Symbol, pos.Side, string(raw)); err != nil {
		return err
	}
	logger.Infof("health: stage1 partial tp executed %s/%s qty=%.8g", pos.Symbol, pos.Side, closeQty)
	return nil
}

func profitPercent(unrealizedPnL, entryPrice, qty, leverage float64) float64 {
	if entryPrice <= 0 || qty <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	margin := decimal.NewFromFloat(entryPrice).
		Mul(decimal.NewFromFloat(qty)).
		Div(decimal.NewFromFloat(leverage))
	if margin.IsZero() {
		return 0
	}
	pct, _ := decimal.NewFromFloat(unrealizedPnL).Div(margin).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
