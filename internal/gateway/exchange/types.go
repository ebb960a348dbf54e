// Package exchange defines the canonical capability surface the reconcile
// core consumes. Vendor-specific response shapes are normalized into the
// canonical {Position, ConditionalOrder, Trade} types at this boundary; the
// core never branches on vendor identity.
package exchange

import (
	"strings"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// CloseDirection returns the taker direction of a trade that closes a
// position on this side.
func (s Side) CloseDirection() string {
	if s == SideShort {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return SideLong, true
	case "short", "sell":
		return SideShort, true
	default:
		return "", false
	}
}

// OrderKind distinguishes the two conditional order types.
type OrderKind string

const (
	KindStopLoss   OrderKind = "stop_loss"
	KindTakeProfit OrderKind = "take_profit"
)

// Position is a live position as reported by the exchange.
type Position struct {
	Contract      string
	Side          Side
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	Leverage      float64
	UnrealizedPnL float64
	UpdatedAt     time.Time
}

// ConditionalOrder is an untriggered stop-loss or take-profit order held by
// the exchange. PositionSide is the side of the position it protects, not
// the direction of the implied market order.
type ConditionalOrder struct {
	ID           string
	Contract     string
	PositionSide Side
	Kind         OrderKind
	TriggerPrice float64
	InitialSize  float64
	CreatedAt    time.Time
}

// Trade is one fill from the account trade history.
type Trade struct {
	ID          string
	Contract    string
	Side        string // "buy" or "sell"
	Price       float64
	Size        float64
	Fee         float64
	TimestampMs int64
}

func (t Trade) Time() time.Time {
	return time.UnixMilli(t.TimestampMs)
}
