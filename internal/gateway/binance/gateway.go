// Package binance adapts the go-binance USD-M futures client to the
// exchange.Gateway capability surface. All vendor response shapes are
// converted to canonical types here.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sentinel/internal/gateway/exchange"
	symbolpkg "sentinel/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// Gateway implements exchange.Gateway and exchange.PartialCloser on top of
// the Binance USD-M futures REST API.
type Gateway struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Gateway{cfg: final, client: client}, nil
}

func (g *Gateway) Name() string { return "binance-futures" }

func (g *Gateway) NormalizeContract(symbol string) (string, error) {
	contract := symbolpkg.Binance.ToExchange(symbol)
	if contract == "" {
		return "", fmt.Errorf("binance: cannot normalize symbol %q", symbol)
	}
	return contract, nil
}

func (g *Gateway) Positions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: position risk: %w", err)
	}
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := exchange.SideLong
		if amt < 0 {
			side = exchange.SideShort
			amt = -amt
		}
		out = append(out, exchange.Position{
			Contract:      strings.ToUpper(r.Symbol),
			Side:          side,
			Size:          amt,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			Leverage:      parseFloat(r.Leverage),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			UpdatedAt:     time.Now(),
		})
	}
	return out, nil
}

func (g *Gateway) ConditionalOrders(ctx context.Context, contract string) ([]exchange.ConditionalOrder, error) {
	svc := g.client.NewListOpenOrdersService()
	if c := strings.TrimSpace(contract); c != "" {
		svc = svc.Symbol(c)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: open orders: %w", err)
	}
	out := make([]exchange.ConditionalOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		kind, ok := orderKind(o.Type)
		if !ok {
			continue
		}
		out = append(out, exchange.ConditionalOrder{
			ID:           strconv.FormatInt(o.OrderID, 10),
			Contract:     strings.ToUpper(o.Symbol),
			PositionSide: protectedSide(o.Side),
			Kind:         kind,
			TriggerPrice: parseFloat(o.StopPrice),
			InitialSize:  parseFloat(o.OrigQuantity),
			CreatedAt:    time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

func (g *Gateway) MyTrades(ctx context.Context, contract string, limit int, sinceMs int64) ([]exchange.Trade, error) {
	contract = strings.TrimSpace(contract)
	if contract == "" {
		return nil, fmt.Errorf("binance: my trades requires a contract")
	}
	if limit <= 0 {
		limit = 100
	}
	svc := g.client.NewListAccountTradeService().Symbol(contract).Limit(limit)
	if sinceMs > 0 {
		svc = svc.StartTime(sinceMs)
	}
	trades, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: account trades: %w", err)
	}
	out := make([]exchange.Trade, 0, len(trades))
	for _, t := range trades {
		if t == nil {
			continue
		}
		side := "buy"
		if t.Side == futures.SideTypeSell {
			side = "sell"
		}
		out = append(out, exchange.Trade{
			ID:          strconv.FormatInt(t.ID, 10),
			Contract:    strings.ToUpper(t.Symbol),
			Side:        side,
			Price:       parseFloat(t.Price),
			Size:        parseFloat(t.Quantity),
			Fee:         parseFloat(t.Commission),
			TimestampMs: t.Time,
		})
	}
	return out, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, contract, orderID string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("binance: invalid order id %q: %w", orderID, err)
	}
	_, err = g.client.NewCancelOrderService().Symbol(strings.TrimSpace(contract)).OrderID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", orderID, err)
	}
	return nil
}

// CalculatePnL computes realized PnL in quote currency. Decimal arithmetic
// keeps the result exact for audit rows.
func (g *Gateway) CalculatePnL(entryPrice, exitPrice, quantity float64, side exchange.Side, contract string) float64 {
	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromFloat(quantity)
	diff := exit.Sub(entry)
	if side == exchange.SideShort {
		diff = entry.Sub(exit)
	}
	pnl, _ := diff.Mul(qty).Float64()
	return pnl
}

// ClosePosition submits a reduce-only market order against the position.
func (g *Gateway) ClosePosition(ctx context.Context, contract string, side exchange.Side, quantity float64) error {
	if quantity <= 0 {
		return fmt.Errorf("binance: close quantity must be positive")
	}
	orderSide := futures.SideTypeSell
	if side == exchange.SideShort {
		orderSide = futures.SideTypeBuy
	}
	qty := decimal.NewFromFloat(quantity).String()
	_, err := g.client.NewCreateOrderService().
		Symbol(strings.TrimSpace(contract)).
		Side(orderSide).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: close %s %s qty=%s: %w", contract, side, qty, err)
	}
	return nil
}

func orderKind(t futures.OrderType) (exchange.OrderKind, bool) {
	switch t {
	case futures.OrderTypeStop, futures.OrderTypeStopMarket:
		return exchange.KindStopLoss, true
	case futures.OrderTypeTakeProfit, futures.OrderTypeTakeProfitMarket:
		return exchange.KindTakeProfit, true
	default:
		return "", false
	}
}

// protectedSide maps the close-order direction to the side of the position
// it protects: a SELL conditional closes a long, a BUY closes a short.
func protectedSide(s futures.SideType) exchange.Side {
	if s == futures.SideTypeBuy {
		return exchange.SideShort
	}
	return exchange.SideLong
}

func parseFloat(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

var (
	_ exchange.Gateway       = (*Gateway)(nil)
	_ exchange.PartialCloser = (*Gateway)(nil)
)
