package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentinel/internal/audit"
	"sentinel/internal/gateway/exchange"
	"sentinel/internal/store/gormstore"
	"sentinel/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(st *gormstore.GormStore, gw *mockGateway) *Monitor {
	recorder := audit.NewRecorder(st.Inconsistencies())
	classifier := newTestClassifier(gw, Tunables{TradeRetries: 2})
	writer := NewWriter(st, gw, recorder, 0)
	return NewMonitor(st, gw, classifier, writer, recorder, time.Minute)
}

func TestRunCycleNoActiveOrdersSkipsExchange(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	m := newTestMonitor(st, gw)

	// No expectations registered: any gateway call would fail the test.
	require.NoError(t, m.RunCycle(context.Background()))
	gw.AssertExpectations(t)
}

func TestRunCycleLeavesLiveOrdersAlone(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	ctx := context.Background()
	m := newTestMonitor(st, gw)

	require.NoError(t, st.Orders().Insert(ctx, &model.PriceOrderModel{
		OrderID: "sl-1", Symbol: "BTC/USDT", Side: "long", Type: model.OrderKindStopLoss, TriggerPrice: 49000,
	}))
	gw.On("ConditionalOrders", mock.Anything, "").Return([]exchange.ConditionalOrder{
		{ID: "sl-1", Contract: "BTCUSDT", PositionSide: exchange.SideLong, Kind: exchange.KindStopLoss, TriggerPrice: 49000},
	}, nil).Once()
	gw.On("Positions", mock.Anything).Return([]exchange.Position{}, nil).Once()

	require.NoError(t, m.RunCycle(ctx))

	got, err := st.Orders().FindByOrderID(ctx, "sl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderStatusActive, got.Status)
	gw.AssertExpectations(t)
}

func TestRunCycleRepairsIdentifierDrift(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	ctx := context.Background()
	m := newTestMonitor(st, gw)

	require.NoError(t, st.Orders().Insert(ctx, &model.PriceOrderModel{
		OrderID: "old-1", Symbol: "BTC/USDT", Side: "long", Type: model.OrderKindStopLoss, TriggerPrice: 49000,
	}))
	// The exchange replaced the order: same contract, protected side and
	// kind, fresh identifier.
	gw.On("ConditionalOrders", mock.Anything, "").Return([]exchange.ConditionalOrder{
		{ID: "new-2", Contract: "BTCUSDT", PositionSide: exchange.SideLong, Kind: exchange.KindStopLoss, TriggerPrice: 49100},
	}, nil).Once()
	gw.On("Positions", mock.Anything).Return([]exchange.Position{
		{Contract: "BTCUSDT", Side: exchange.SideLong, Size: 0.1},
	}, nil).Once()

	require.NoError(t, m.RunCycle(ctx))

	// The row was rewritten in place and stays active; nothing was
	// classified.
	gone, err := st.Orders().FindByOrderID(ctx, "old-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
	repaired, err := st.Orders().FindByOrderID(ctx, "new-2")
	require.NoError(t, err)
	require.NotNil(t, repaired)
	assert.Equal(t, model.OrderStatusActive, repaired.Status)
	gw.AssertExpectations(t)
}

func TestRunCycleTriggeredCloseIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	ctx := context.Background()
	m := newTestMonitor(st, gw)

	pos := testPosition()
	require.NoError(t, st.Positions().Save(ctx, pos))
	require.NoError(t, st.Orders().Insert(ctx, &model.PriceOrderModel{
		OrderID: "sl-1", Symbol: "BTC/USDT", Side: "long", Type: model.OrderKindStopLoss, TriggerPrice: 49000, Quantity: 0.1,
		CreatedAtUnix: time.Now().Add(-time.Hour).UnixMilli(),
	}))

	evidence := exchange.Trade{ID: "t-99", Contract: "BTCUSDT", Side: "sell", Price: 48990, Size: 0.1, Fee: 2.45, TimestampMs: time.Now().UnixMilli()}
	gw.On("ConditionalOrders", mock.Anything, "").Return([]exchange.ConditionalOrder{}, nil).Once()
	gw.On("Positions", mock.Anything).Return([]exchange.Position{}, nil).Once()
	gw.On("MyTrades", mock.Anything, "BTCUSDT", 100, mock.Anything).Return([]exchange.Trade{evidence}, nil).Once()
	gw.On("CancelOrder", mock.Anything, "BTCUSDT", "tp-1").Return(nil).Once()

	require.NoError(t, m.RunCycle(ctx))

	got, err := st.Positions().Find(ctx, "BTC/USDT", "long")
	require.NoError(t, err)
	assert.Nil(t, got)
	trade, err := st.Trades().FindByOrderID(ctx, "t-99")
	require.NoError(t, err)
	require.NotNil(t, trade)

	// Second pass: the order is terminal, so the exchange is not even
	// queried and no second trade or event appears.
	require.NoError(t, m.RunCycle(ctx))
	trades, err := st.Trades().ListRecent(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
	events, err := st.CloseEvents().ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	gw.AssertExpectations(t)
}

func TestRunCycleMarksCancelledOrders(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	ctx := context.Background()
	m := newTestMonitor(st, gw)

	require.NoError(t, st.Orders().Insert(ctx, &model.PriceOrderModel{
		OrderID: "sl-1", Symbol: "BTC/USDT", Side: "long", Type: model.OrderKindStopLoss, TriggerPrice: 49000,
		CreatedAtUnix: time.Now().Add(-time.Hour).UnixMilli(),
	}))
	// The position survives on the exchange and no fill exists: the order
	// was cancelled out-of-band.
	gw.On("ConditionalOrders", mock.Anything, "").Return([]exchange.ConditionalOrder{}, nil).Once()
	gw.On("Positions", mock.Anything).Return([]exchange.Position{
		{Contract: "BTCUSDT", Side: exchange.SideLong, Size: 0.1},
	}, nil).Once()
	gw.On("MyTrades", mock.Anything, "BTCUSDT", 100, mock.Anything).Return([]exchange.Trade{}, nil).Times(2)

	require.NoError(t, m.RunCycle(ctx))

	got, err := st.Orders().FindByOrderID(ctx, "sl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	gw.AssertExpectations(t)
}

func TestRunCycleOrphanTriggeredOrderIsRecorded(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	ctx := context.Background()
	m := newTestMonitor(st, gw)

	// Order fired but the ledger holds no position for it.
	require.NoError(t, st.Orders().Insert(ctx, &model.PriceOrderModel{
		OrderID: "sl-1", Symbol: "BTC/USDT", Side: "long", Type: model.OrderKindStopLoss, TriggerPrice: 49000,
		CreatedAtUnix: time.Now().Add(-time.Hour).UnixMilli(),
	}))
	evidence := exchange.Trade{ID: "t-1", Contract: "BTCUSDT", Side: "sell", Price: 48990, Size: 0.1, TimestampMs: time.Now().UnixMilli()}
	gw.On("ConditionalOrders", mock.Anything, "").Return([]exchange.ConditionalOrder{}, nil).Once()
	gw.On("Positions", mock.Anything).Return([]exchange.Position{}, nil).Once()
	gw.On("MyTrades", mock.Anything, "BTCUSDT", 100, mock.Anything).Return([]exchange.Trade{evidence}, nil).Once()

	require.NoError(t, m.RunCycle(ctx))

	got, err := st.Orders().FindByOrderID(ctx, "sl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderStatusTriggered, got.Status)

	// No position was invented.
	trades, err := st.Trades().ListRecent(ctx, "BTC/USDT", 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
	open, err := st.Inconsistencies().ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "conditional_close_orphan_order", open[0].Operation)
	gw.AssertExpectations(t)
}

func TestRunCycleAbortsWhenSnapshotFails(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	ctx := context.Background()
	m := newTestMonitor(st, gw)

	require.NoError(t, st.Orders().Insert(ctx, &model.PriceOrderModel{
		OrderID: "sl-1", Symbol: "BTC/USDT", Side: "long", Type: model.OrderKindStopLoss, TriggerPrice: 49000,
	}))
	gw.On("ConditionalOrders", mock.Anything, "").Return(nil, errors.New("gateway down")).Once()

	require.Error(t, m.RunCycle(ctx))

	// Nothing was classified or mutated.
	got, err := st.Orders().FindByOrderID(ctx, "sl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderStatusActive, got.Status)
	gw.AssertExpectations(t)
}

func TestRunCycleContainsPerOrderFailure(t *testing.T) {
	st := newTestStore(t)
	gw := &mockGateway{}
	ctx := context.Background()
	m := newTestMonitor(st, gw)

	require.NoError(t, st.Orders().Insert(ctx, &model.PriceOrderModel{
		OrderID: "sl-1", Symbol: "BTC/USDT", Side: "long", Type: model.OrderKindStopLoss, TriggerPrice: 49000,
		CreatedAtUnix: time.Now().Add(-time.Hour).UnixMilli(),
	}))
	gw.On("ConditionalOrders", mock.Anything, "").Return([]exchange.ConditionalOrder{}, nil).Once()
	gw.On("Positions", mock.Anything).Return([]exchange.Position{}, nil).Once()
	gw.On("MyTrades", mock.Anything, "BTCUSDT", 100, mock.Anything).Return(nil, errors.New("rate limited")).Times(2)

	// The classification error is contained: the cycle itself succeeds and
	// the order stays active for the next pass.
	require.NoError(t, m.RunCycle(ctx))
	got, err := st.Orders().FindByOrderID(ctx, "sl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.OrderStatusActive, got.Status)
	gw.AssertExpectations(t)
}
