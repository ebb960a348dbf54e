package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinel/internal/audit"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/logger"
	"sentinel/internal/store"
	"sentinel/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	opConditionalClose  = "conditional_close"
	opAmbiguousClose    = "conditional_close_no_trade_evidence"
	tradeStatusFilled   = "filled"
	closeEventUnhandled = 0
)

// Writer commits the ledger mutation for a fired conditional order as one
// atomic unit. The step ordering inside the transaction is fixed: the
// position row goes first, so no concurrent reader can mistake a
// half-closed position for open.
type Writer struct {
	store    store.Store
	gw       exchange.Gateway
	recorder *audit.Recorder
	feeRate  float64 // taker fee estimate used when the fill carries none
	nowFn    func() time.Time
}

func NewWriter(st store.Store, gw exchange.Gateway, recorder *audit.Recorder, takerFeeRate float64) *Writer {
	if takerFeeRate <= 0 {
		takerFeeRate = 0.0005
	}
	return &Writer{store: st, gw: gw, recorder: recorder, feeRate: takerFeeRate, nowFn: time.Now}
}

// CommitTriggered applies the full close for a triggered order with trade
// evidence: delete position, mark order triggered, cancel the sibling
// locally, insert the close trade and the close event. Any step failing
// rolls the whole transaction back and leaves an inconsistent-state record
// so the discrepancy is never silently lost.
func (w *Writer) CommitTriggered(ctx context.Context, contract string, pos *model.PositionModel, order *model.PriceOrderModel, evidence *exchange.Trade) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("writer not initialized")
	}
	if pos == nil || order == nil || evidence == nil {
		return fmt.Errorf("writer: position, order and evidence are all required")
	}
	side, ok := exchange.ParseSide(pos.Side)
	if !ok {
		return fmt.Errorf("writer: position %s has invalid side %q", pos.Symbol, pos.Side)
	}
	siblingID := siblingOrderID(pos, order.OrderID)

	err := w.runClose(ctx, func(uow store.UnitOfWork) error {
		deleted, err := uow.Positions().Delete(ctx, pos.Symbol, pos.Side)
		if err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
		if !deleted {
			return fmt.Errorf("position %s/%s already removed", pos.Symbol, pos.Side)
		}

		triggeredAt := evidence.Time()
		if err := uow.Orders().UpdateStatus(ctx, order.OrderID, model.OrderStatusTriggered, &triggeredAt); err != nil {
			return fmt.Errorf("mark order triggered: %w", err)
		}

		if siblingID != "" {
			if err := uow.Orders().UpdateStatus(ctx, siblingID, model.OrderStatusCancelled, nil); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("cancel sibling order %s: %w", siblingID, err)
			}
		}

		qty := evidence.Size
		if qty <= 0 {
			qty = pos.Quantity
		}
		pnl := w.gw.CalculatePnL(pos.EntryPrice, evidence.Price, qty, side, contract)
		fee := evidence.Fee
		if fee <= 0 {
			fee = w.estimateFee(evidence.Price, qty)
		}
		trade := &model.TradeModel{
			OrderID:     evidence.ID,
			Symbol:      pos.Symbol,
			Side:        pos.Side,
			Type:        model.TradeTypeClose,
			Price:       evidence.Price,
			Quantity:    qty,
			Leverage:    pos.Leverage,
			PnL:         pnl,
			Fee:         fee,
			TimestampMs: evidence.TimestampMs,
			Status:      tradeStatusFilled,
		}
		if err := uow.Trades().Insert(ctx, trade); err != nil {
			return fmt.Errorf("insert close trade: %w", err)
		}

		evt := &model.PositionCloseEventModel{
			Symbol:         pos.Symbol,
			Side:           pos.Side,
			CloseReason:    order.Type,
			TriggerType:    order.Type,
			TriggerPrice:   order.TriggerPrice,
			ClosePrice:     evidence.Price,
			EntryPrice:     pos.EntryPrice,
			Quantity:       qty,
			Leverage:       pos.Leverage,
			PnL:            pnl,
			PnLPercent:     pnlPercent(pnl, pos.EntryPrice, qty, pos.Leverage),
			Fee:            fee,
			TriggerOrderID: order.OrderID,
			CloseTradeID:   evidence.ID,
			OrderID:        pos.EntryOrderID,
			Processed:      closeEventUnhandled,
		}
		if err := uow.CloseEvents().Insert(ctx, evt); err != nil {
			return fmt.Errorf("insert close event: %w", err)
		}
		return nil
	})
	if err != nil {
		if w.recorder != nil {
			_ = w.recorder.Record(ctx, opConditionalClose, pos.Symbol, pos.Side, true, false, order.OrderID, err.Error())
		}
		return err
	}

	logger.Infof("reconcile: %s %s/%s triggered at %.8g, pnl recorded via trade %s",
		order.Type, pos.Symbol, pos.Side, evidence.Price, evidence.ID)
	w.cancelRemote(ctx, contract, siblingID)
	return nil
}

// CommitAmbiguous removes a position the exchange no longer has, without
// trade evidence. No trade or close event is fabricated; a higher-severity
// inconsistent-state record documents the gap instead.
func (w *Writer) CommitAmbiguous(ctx context.Context, contract string, pos *model.PositionModel, order *model.PriceOrderModel) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("writer not initialized")
	}
	if order == nil {
		return fmt.Errorf("writer: order is required")
	}
	symbol := order.Symbol
	side := order.Side
	if pos != nil {
		symbol = pos.Symbol
		side = pos.Side
	}
	siblingID := ""
	if pos != nil {
		siblingID = siblingOrderID(pos, order.OrderID)
	}

	err := w.runClose(ctx, func(uow store.UnitOfWork) error {
		if pos != nil {
			if _, err := uow.Positions().Delete(ctx, pos.Symbol, pos.Side); err != nil {
				return fmt.Errorf("delete stale position: %w", err)
			}
		}
		now := w.nowFn()
		if err := uow.Orders().UpdateStatus(ctx, order.OrderID, model.OrderStatusTriggered, &now); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("mark order triggered: %w", err)
		}
		if siblingID != "" {
			if err := uow.Orders().UpdateStatus(ctx, siblingID, model.OrderStatusCancelled, nil); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("cancel sibling order %s: %w", siblingID, err)
			}
		}
		return nil
	})
	if err != nil {
		if w.recorder != nil {
			_ = w.recorder.Record(ctx, opAmbiguousClose, symbol, side, true, false, order.OrderID, err.Error())
		}
		return err
	}

	// Money changed hands with no explainable trade record: db_success
	// stays false because the close trade and close event could not be
	// written truthfully.
	if w.recorder != nil {
		_ = w.recorder.Record(ctx, opAmbiguousClose, symbol, side, true, false, order.OrderID,
			"position and conditional order vanished from exchange, exhaustive trade search found no matching fill; ledger position removed without pnl")
	}
	w.cancelRemote(ctx, contract, siblingID)
	return nil
}

func (w *Writer) runClose(ctx context.Context, fn func(store.UnitOfWork) error) error {
	uow, err := w.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(uow); err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			logger.Errorf("reconcile: rollback failed: %v", rbErr)
		}
		return err
	}
	if err := uow.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// cancelRemote is best-effort: the exchange rejects or ignores a cancel
// against a closed position, so failure only warrants a warning.
func (w *Writer) cancelRemote(ctx context.Context, contract, orderID string) {
	if w == nil || w.gw == nil || orderID == "" {
		return
	}
	if err := w.gw.CancelOrder(ctx, contract, orderID); err != nil {
		logger.Warnf("reconcile: remote cancel of sibling order %s failed (non-fatal): %v", orderID, err)
	}
}

func (w *Writer) estimateFee(price, qty float64) float64 {
	fee, _ := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(qty)).
		Mul(decimal.NewFromFloat(w.feeRate)).
		Float64()
	return fee
}

// pnlPercent expresses pnl against the position's margin.
func pnlPercent(pnl, entryPrice, qty, leverage float64) float64 {
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
	pct, _ := decimal.NewFromFloat(pnl).Div(margin).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// siblingOrderID returns the protective order that did not trigger.
func siblingOrderID(pos *model.PositionModel, triggeredID string) string {
	if pos == nil {
		return ""
	}
	if pos.SLOrderID != "" && pos.SLOrderID != triggeredID {
		return pos.SLOrderID
	}
	if pos.TPOrderID != "" && pos.TPOrderID != triggeredID {
		return pos.TPOrderID
	}
	return ""
}
