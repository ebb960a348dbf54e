package exchange

import "context"

// Gateway is the exchange capability surface consumed by the reconcile core.
// The exchange is the authoritative source for whether positions and orders
// actually exist; the core's job is to make the local ledger converge to it.
type Gateway interface {
	Name() string

	// NormalizeContract maps a human symbol ("BTC/USDT") to the exchange
	// contract identifier ("BTCUSDT").
	NormalizeContract(symbol string) (string, error)

	Positions(ctx context.Context) ([]Position, error)

	// ConditionalOrders lists untriggered stop/take-profit orders. Empty
	// contract means all contracts.
	ConditionalOrders(ctx context.Context, contract string) ([]ConditionalOrder, error)

	// MyTrades returns account fills for a contract, newest last, starting
	// at sinceMs (unix milliseconds).
	MyTrades(ctx context.Context, contract string, limit int, sinceMs int64) ([]Trade, error)

	// CancelOrder is best-effort; callers treat failure as non-fatal.
	CancelOrder(ctx context.Context, contract, orderID string) error

	CalculatePnL(entryPrice, exitPrice, quantity float64, side Side, contract string) float64
}

// PartialCloser closes part of a live position with a reduce-only market
// order. Consumed by the health checker only, never by the reconcile core.
type PartialCloser interface {
	ClosePosition(ctx context.Context, contract string, side Side, quantity float64) error
}
