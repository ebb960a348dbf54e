package store

import (
	"context"
	"time"

	"sentinel/internal/store/model"
)

// UnitOfWork defines a transaction scope. Repositories obtained from it
// operate inside the transaction; nothing is visible to other readers until
// Commit.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	Positions() PositionRepository
	Orders() PriceOrderRepository
	Trades() TradeRepository
	CloseEvents() CloseEventRepository
}

// Store is the entry point for ledger access. The repository accessors
// operate in autocommit mode; Begin opens a UnitOfWork for multi-row
// mutations that must land atomically.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)

	Positions() PositionRepository
	Orders() PriceOrderRepository
	Trades() TradeRepository
	CloseEvents() CloseEventRepository
	Inconsistencies() InconsistencyRepository
	KV() KVRepository

	Close() error
}

// PositionRepository handles position rows. Find returns (nil, nil) when no
// row exists.
type PositionRepository interface {
	Save(ctx context.Context, pos *model.PositionModel) error
	Find(ctx context.Context, symbol, side string) (*model.PositionModel, error)
	List(ctx context.Context) ([]model.PositionModel, error)
	// Delete removes the row and reports whether one existed.
	Delete(ctx context.Context, symbol, side string) (bool, error)
	UpdateMetadata(ctx context.Context, symbol, side, metadata string) error
}

// PriceOrderRepository handles conditional order rows.
type PriceOrderRepository interface {
	Insert(ctx context.Context, order *model.PriceOrderModel) error
	ListActive(ctx context.Context) ([]model.PriceOrderModel, error)
	FindByOrderID(ctx context.Context, orderID string) (*model.PriceOrderModel, error)
	// UpdateStatus moves an order out of active. It only matches rows whose
	// current status is active, which makes the transition monotonic.
	UpdateStatus(ctx context.Context, orderID, status string, triggeredAt *time.Time) error
	// RewriteOrderID heals identifier drift after exchange-side order
	// replacement. The order stays active.
	RewriteOrderID(ctx context.Context, oldID, newID string) error
}

type TradeRepository interface {
	Insert(ctx context.Context, trade *model.TradeModel) error
	FindByOrderID(ctx context.Context, orderID string) (*model.TradeModel, error)
	ListRecent(ctx context.Context, symbol string, limit int) ([]model.TradeModel, error)
}

type CloseEventRepository interface {
	Insert(ctx context.Context, evt *model.PositionCloseEventModel) error
	ListRecent(ctx context.Context, limit int) ([]model.PositionCloseEventModel, error)
	FindByTriggerOrderID(ctx context.Context, triggerOrderID string) (*model.PositionCloseEventModel, error)
}

// InconsistencyRepository is append-only from the engine's point of view;
// MarkResolved exists for the operator endpoint only.
type InconsistencyRepository interface {
	Insert(ctx context.Context, rec *model.InconsistentStateModel) error
	ListOpen(ctx context.Context, limit int) ([]model.InconsistentStateModel, error)
	MarkResolved(ctx context.Context, id int64) error
}

// KVRepository is the generic key/value row store backing leases and
// recency markers. Get returns (nil, nil) when the key is absent.
type KVRepository interface {
	Get(ctx context.Context, key string) (*model.ConfigEntryModel, error)
	Put(ctx context.Context, key, value string, at time.Time) error
	Delete(ctx context.Context, key string) error
	// DeleteIfValue deletes the row only when its value still matches,
	// reporting whether a row was removed.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}
