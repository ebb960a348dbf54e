package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/store/model"

	"github.com/shopspring/decimal"
)

// Verdict is the outcome of classifying a conditional order that is no
// longer visible on the exchange.
type Verdict string

const (
	VerdictTriggered Verdict = "triggered"
	VerdictCancelled Verdict = "cancelled"
	// VerdictAmbiguous means the position vanished but no explaining trade
	// was ever found. This must not be guessed away.
	VerdictAmbiguous Verdict = "ambiguous"
)

// Classification carries the verdict plus, when triggered, the fill that
// proves it.
type Classification struct {
	Verdict  Verdict
	Evidence *exchange.Trade
}

// Tunables are the empirical trade-matching constants. They have no stated
// derivation and should be validated against real fill-slippage data, so
// they are configuration, not invariants.
type Tunables struct {
	TradeSearchLimit  int
	TradeRetries      int
	TradeRetryDelay   time.Duration
	PriceTolerancePct float64 // percent of the trigger price, e.g. 0.1
	WindowSlack       time.Duration
	ExhaustiveWindow  time.Duration
}

func (t *Tunables) withDefaults() Tunables {
	out := *t
	if out.TradeSearchLimit <= 0 {
		out.TradeSearchLimit = 100
	}
	if out.TradeRetries <= 0 {
		out.TradeRetries = 3
	}
	if out.TradeRetryDelay <= 0 {
		out.TradeRetryDelay = 2 * time.Second
	}
	if out.PriceTolerancePct <= 0 {
		out.PriceTolerancePct = 0.1
	}
	if out.WindowSlack <= 0 {
		out.WindowSlack = 5 * time.Second
	}
	if out.ExhaustiveWindow <= 0 {
		out.ExhaustiveWindow = 24 * time.Hour
	}
	return out
}

// Classifier decides whether a missing conditional order fired or was
// cancelled, using the exchange trade history as evidence.
type Classifier struct {
	gw exchange.Gateway

	mu  sync.RWMutex
	tun Tunables

	nowFn func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClassifier(gw exchange.Gateway, tun Tunables) *Classifier {
	return &Classifier{
		gw:    gw,
		tun:   tun.withDefaults(),
		nowFn: time.Now,
		sleep: sleepCtx,
	}
}

// UpdateTunables swaps the matching constants, e.g. after a config reload.
func (c *Classifier) UpdateTunables(tun Tunables) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tun = tun.withDefaults()
	c.mu.Unlock()
}

func (c *Classifier) tunables() Tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tun
}

// Classify assumes order is absent from the exchange's open order list.
// positionOnExchange reports whether the protected position still shows on
// the exchange. The trade feed lags conditional-order fills, so the search
// is retried with a fixed delay before concluding anything.
func (c *Classifier) Classify(ctx context.Context, order model.PriceOrderModel, contract string, positionOnExchange bool) (Classification, error) {
	if c == nil || c.gw == nil {
		return Classification{}, fmt.Errorf("classifier not initialized")
	}
	tun := c.tunables()
	sinceMs := order.CreatedAt().Add(-tun.WindowSlack).UnixMilli()

	var lastErr error
	queriesOK := 0
	for attempt := 0; attempt < tun.TradeRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, tun.TradeRetryDelay); err != nil {
				return Classification{}, err
			}
		}
		trades, err := c.gw.MyTrades(ctx, contract, tun.TradeSearchLimit, sinceMs)
		if err != nil {
			lastErr = err
			logger.Warnf("classifier: trade search attempt %d/%d failed order=%s: %v", attempt+1, tun.TradeRetries, order.OrderID, err)
			continue
		}
		queriesOK++
		if match := matchCloseTrade(trades, order, sinceMs, tun.PriceTolerancePct); match != nil {
			return Classification{Verdict: VerdictTriggered, Evidence: match}, nil
		}
	}
	if queriesOK == 0 {
		return Classification{}, fmt.Errorf("trade search never succeeded for order %s: %w", order.OrderID, lastErr)
	}

	if positionOnExchange {
		// The position survived and no matching fill exists: the order was
		// cancelled or replaced outside our control.
		return Classification{Verdict: VerdictCancelled}, nil
	}

	// Position and order both vanished. Before escalating, widen the search
	// to the full exhaustive window in case the creation timestamp drifted.
	exSinceMs := c.nowFn().Add(-tun.ExhaustiveWindow).UnixMilli()
	trades, err := c.gw.MyTrades(ctx, contract, 1000, exSinceMs)
	if err != nil {
		return Classification{}, fmt.Errorf("exhaustive trade search failed for order %s: %w", order.OrderID, err)
	}
	if match := matchCloseTrade(trades, order, exSinceMs, tun.PriceTolerancePct); match != nil {
		return Classification{Verdict: VerdictTriggered, Evidence: match}, nil
	}
	return Classification{Verdict: VerdictAmbiguous}, nil
}

// matchCloseTrade picks the close-direction fill consistent with the
// order's trigger, preferring the earliest timestamp at or after the
// window start.
func matchCloseTrade(trades []exchange.Trade, order model.PriceOrderModel, windowStartMs int64, tolerancePct float64) *exchange.Trade {
	side, ok := exchange.ParseSide(order.Side)
	if !ok {
		return nil
	}
	closeDir := side.CloseDirection()
	var best *exchange.Trade
	for i := range trades {
		t := trades[i]
		if t.Side != closeDir {
			continue
		}
		if t.TimestampMs < windowStartMs {
			continue
		}
		if !priceConsistent(t.Price, order.TriggerPrice, order.Type, side, tolerancePct) {
			continue
		}
		if best == nil || t.TimestampMs < best.TimestampMs {
			best = &trades[i]
		}
	}
	return best
}

// priceConsistent tests the fill price against the trigger with a small
// directional tolerance. A stop on a long fills at or below its trigger,
// so the fill may only exceed the trigger by the tolerance; a take-profit
// on a long fills at or above, so it may only undershoot by the tolerance.
// Shorts mirror both rules.
func priceConsistent(fillPrice, triggerPrice float64, kind string, side exchange.Side, tolerancePct float64) bool {
	if triggerPrice <= 0 || fillPrice <= 0 {
		return false
	}
	fill := decimal.NewFromFloat(fillPrice)
	trigger := decimal.NewFromFloat(triggerPrice)
	tol := trigger.Mul(decimal.NewFromFloat(tolerancePct)).Div(decimal.NewFromInt(100))

	fillsBelow := kind == model.OrderKindStopLoss
	if side == exchange.SideShort {
		fillsBelow = !fillsBelow
	}
	if fillsBelow {
		return fill.LessThanOrEqual(trigger.Add(tol))
	}
	return fill.GreaterThanOrEqual(trigger.Sub(tol))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
