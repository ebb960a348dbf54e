package model

import (
	"time"

	"gorm.io/datatypes"
)

// Price order lifecycle. Status is monotonic: active is the only
// non-terminal state, and no order re-enters it.
const (
	OrderStatusActive    = "active"
	OrderStatusTriggered = "triggered"
	OrderStatusCancelled = "cancelled"
)

const (
	OrderKindStopLoss   = "stop_loss"
	OrderKindTakeProfit = "take_profit"
)

const (
	TradeTypeOpen  = "open"
	TradeTypeClose = "close"
)

// PositionModel is the ledger's view of one live position. At most one row
// exists per (symbol, side). The row is deleted as the first step of
// closing, never left half-updated.
type PositionModel struct {
	ID           int64          `gorm:"column:id;primaryKey"`
	Symbol       string         `gorm:"column:symbol;uniqueIndex:idx_position_symbol_side,priority:1"`
	Side         string         `gorm:"column:side;uniqueIndex:idx_position_symbol_side,priority:2"`
	EntryPrice   float64        `gorm:"column:entry_price"`
	Quantity     float64        `gorm:"column:quantity"`
	Leverage     float64        `gorm:"column:leverage"`
	StopLoss     float64        `gorm:"column:stop_loss"`
	ProfitTarget float64        `gorm:"column:profit_target"`
	SLOrderID    string         `gorm:"column:sl_order_id"`
	TPOrderID    string         `gorm:"column:tp_order_id"`
	EntryOrderID string         `gorm:"column:entry_order_id"`
	OpenedAtMs   int64          `gorm:"column:opened_at"`
	Metadata     datatypes.JSON `gorm:"column:metadata;type:TEXT"`

	CreatedAtUnix int64 `gorm:"column:created_at"`
	UpdatedAtUnix int64 `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

func (p PositionModel) OpenedAt() time.Time {
	if p.OpenedAtMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.OpenedAtMs)
}

// PriceOrderModel is one conditional (stop-loss / take-profit) order the
// ledger believes is held by the exchange.
type PriceOrderModel struct {
	ID              int64   `gorm:"column:id;primaryKey"`
	OrderID         string  `gorm:"column:order_id;uniqueIndex"`
	Symbol          string  `gorm:"column:symbol;index"`
	Side            string  `gorm:"column:side"`
	Type            string  `gorm:"column:type"`
	TriggerPrice    float64 `gorm:"column:trigger_price"`
	Quantity        float64 `gorm:"column:quantity"`
	Status          string  `gorm:"column:status;index"`
	CreatedAtUnix   int64   `gorm:"column:created_at"`
	UpdatedAtUnix   int64   `gorm:"column:updated_at"`
	TriggeredAtUnix *int64  `gorm:"column:triggered_at"`
	PositionOrderID string  `gorm:"column:position_order_id;index"`
}

func (PriceOrderModel) TableName() string { return "price_orders" }

func (o PriceOrderModel) CreatedAt() time.Time {
	if o.CreatedAtUnix <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(o.CreatedAtUnix)
}

// TradeModel is one open or close fill recorded in the ledger.
type TradeModel struct {
	ID          int64   `gorm:"column:id;primaryKey"`
	OrderID     string  `gorm:"column:order_id;index"`
	Symbol      string  `gorm:"column:symbol;index"`
	Side        string  `gorm:"column:side"`
	Type        string  `gorm:"column:type"`
	Price       float64 `gorm:"column:price"`
	Quantity    float64 `gorm:"column:quantity"`
	Leverage    float64 `gorm:"column:leverage"`
	PnL         float64 `gorm:"column:pnl"`
	Fee         float64 `gorm:"column:fee"`
	TimestampMs int64   `gorm:"column:timestamp"`
	Status      string  `gorm:"column:status"`
}

func (TradeModel) TableName() string { return "trades" }

// PositionCloseEventModel is the denormalized audit record of one close,
// one-to-one with each close trade.
type PositionCloseEventModel struct {
	ID             int64   `gorm:"column:id;primaryKey"`
	Symbol         string  `gorm:"column:symbol;index"`
	Side           string  `gorm:"column:side"`
	CloseReason    string  `gorm:"column:close_reason"`
	TriggerType    string  `gorm:"column:trigger_type"`
	TriggerPrice   float64 `gorm:"column:trigger_price"`
	ClosePrice     float64 `gorm:"column:close_price"`
	EntryPrice     float64 `gorm:"column:entry_price"`
	Quantity       float64 `gorm:"column:quantity"`
	Leverage       float64 `gorm:"column:leverage"`
	PnL            float64 `gorm:"column:pnl"`
	PnLPercent     float64 `gorm:"column:pnl_percent"`
	Fee            float64 `gorm:"column:fee"`
	TriggerOrderID string  `gorm:"column:trigger_order_id;index"`
	CloseTradeID   string  `gorm:"column:close_trade_id"`
	OrderID        string  `gorm:"column:order_id"`
	CreatedAtUnix  int64   `gorm:"column:created_at"`
	Processed      int     `gorm:"column:processed"`
}

func (PositionCloseEventModel) TableName() string { return "position_close_events" }

// InconsistentStateModel is the append-only safety valve: every ambiguous
// classification or partially failed transaction lands here instead of
// being approximated away.
type InconsistentStateModel struct {
	ID              int64  `gorm:"column:id;primaryKey"`
	Operation       string `gorm:"column:operation"`
	Symbol          string `gorm:"column:symbol;index"`
	Side            string `gorm:"column:side"`
	ExchangeSuccess int    `gorm:"column:exchange_success"`
	DBSuccess       int    `gorm:"column:db_success"`
	ExchangeOrderID string `gorm:"column:exchange_order_id"`
	ErrorMessage    string `gorm:"column:error_message"`
	CreatedAtUnix   int64  `gorm:"column:created_at"`
	Resolved        int    `gorm:"column:resolved;index"`
}

func (InconsistentStateModel) TableName() string { return "inconsistent_states" }

// ConfigEntryModel is a generic key/value row. Leases and execution
// recency markers live here.
type ConfigEntryModel struct {
	Key           string `gorm:"column:key;primaryKey"`
	Value         string `gorm:"column:value"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (ConfigEntryModel) TableName() string { return "config_entries" }

func (e ConfigEntryModel) UpdatedAt() time.Time {
	if e.UpdatedAtUnix <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.UpdatedAtUnix)
}
