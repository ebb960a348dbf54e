package reconcile

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"sentinel/internal/gateway/exchange"
	"sentinel/internal/store/gormstore"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *gormstore.GormStore {
	t.Helper()
	st, err := gormstore.Open(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// mockGateway stubs the exchange query surface. Contract normalization and
// PnL math stay real so ledger rows written through it carry meaningful
// numbers.
type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) NormalizeContract(symbol string) (string, error) {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "/", ""), nil
}

func (m *mockGateway) Positions(ctx context.Context) ([]exchange.Position, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]exchange.Position), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) ConditionalOrders(ctx context.Context, contract string) ([]exchange.ConditionalOrder, error) {
	args := m.Called(ctx, contract)
	if v := args.Get(0); v != nil {
		return v.([]exchange.ConditionalOrder), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) MyTrades(ctx context.Context, contract string, limit int, sinceMs int64) ([]exchange.Trade, error) {
	args := m.Called(ctx, contract, limit, sinceMs)
	if v := args.Get(0); v != nil {
		return v.([]exchange.Trade), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) CancelOrder(ctx context.Context, contract, orderID string) error {
	return m.Called(ctx, contract, orderID).Error(0)
}

func (m *mockGateway) CalculatePnL(entryPrice, exitPrice, quantity float64, side exchange.Side, contract string) float64 {
	if side == exchange.SideShort {
		return (entryPrice - exitPrice) * quantity
	}
	return (exitPrice - entryPrice) * quantity
}

var _ exchange.Gateway = (*mockGateway)(nil)
