package engine

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide normalizes user input; unknown values are returned unchanged
// so validation can report them.
func ParseSide(raw string) Side {
	return Side(strings.ToLower(strings.TrimSpace(raw)))
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
		return true
	default:
		return false
	}
}

// NeedsPrice reports whether the type requires a trigger/limit price.
func (t OrderType) NeedsPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStop
}

func ParseOrderType(raw string) OrderType {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return OrderTypeMarket
	}
	return OrderType(trimmed)
}

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusExecuting OrderStatus = "executing"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Open reports whether the order still sits in the queue.
func (s OrderStatus) Open() bool {
	return s == StatusPending || s == StatusExecuting
}

// Metadata is an opaque bag carried on orders and signals. The engine
// copies it but never reads it.
type Metadata map[string]any

// Clone deep-copies nested maps and slices so snapshots never alias caller data.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = cloneValue(child)
		}
		return out
	case Metadata:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return val
	}
}

// OrderRequest is the input to order creation.
type OrderRequest struct {
	StrategyID string           `json:"strategy_id"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Type       OrderType        `json:"type"`
	Quantity   decimal.Decimal  `json:"quantity"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Metadata   Metadata         `json:"metadata,omitempty"`
}

// Order is one instruction to buy or sell a quantity of a symbol.
type Order struct {
	ID           string           `json:"id"`
	Seq          uint64           `json:"seq"`
	StrategyID   string           `json:"strategy_id"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"side"`
	Type         OrderType        `json:"type"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Status       OrderStatus      `json:"status"`
	FillPrice    decimal.Decimal  `json:"fill_price"`
	FillQuantity decimal.Decimal  `json:"fill_quantity"`
	Reason       string           `json:"reason,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Metadata     Metadata         `json:"metadata,omitempty"`
}

// Clone returns a copy that shares nothing mutable with o.
func (o Order) Clone() Order {
	cp := o
	if o.Price != nil {
		p := *o.Price
		cp.Price = &p
	}
	cp.Metadata = o.Metadata.Clone()
	return cp
}

// Notional is quantity times fill price for filled orders, zero otherwise.
func (o Order) Notional() decimal.Decimal {
	if o.Status != StatusFilled {
		return decimal.Zero
	}
	return o.FillQuantity.Mul(o.FillPrice)
}

// PositionKey identifies a position.
type PositionKey struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
}

func (k PositionKey) String() string {
	return k.StrategyID + "/" + k.Symbol
}

// Position is the net exposure of one strategy in one symbol.
type Position struct {
	StrategyID    string          `json:"strategy_id"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Stale         bool            `json:"stale"`
	Fills         int             `json:"fills"`
	OpenedAt      time.Time       `json:"opened_at"`
	LastUpdatedAt time.Time       `json:"last_updated_at"`
}

func (p Position) Key() PositionKey {
	return PositionKey{StrategyID: p.StrategyID, Symbol: p.Symbol}
}

// Flat reports a zero quantity.
func (p Position) Flat() bool {
	return p.Quantity.IsZero()
}

// MarketValue is quantity times the last mark price.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// RiskMetrics is the point-in-time risk summary.
type RiskMetrics struct {
	DailyPnL        decimal.Decimal `json:"daily_pnl"`
	DailyReturn     decimal.Decimal `json:"daily_return"`
	CurrentDrawdown decimal.Decimal `json:"current_drawdown"`
	Exposure        decimal.Decimal `json:"exposure"`
}

// Portfolio is the engine-wide valuation state.
type Portfolio struct {
	PortfolioValue      decimal.Decimal `json:"portfolio_value"`
	Cash                decimal.Decimal `json:"cash"`
	DayStartValue       decimal.Decimal `json:"day_start_value"`
	PeakValue           decimal.Decimal `json:"peak_value"`
	MaxDrawdownFromPeak decimal.Decimal `json:"max_drawdown_from_peak"`
	RiskMetrics         RiskMetrics     `json:"risk_metrics"`
	StalePositions      int             `json:"stale_positions"`
	ValuedAt            time.Time       `json:"valued_at"`
}

// Fill is an external execution report for one order.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// PriceLookup maps a symbol to its current price.
type PriceLookup interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// PriceFunc adapts a function to PriceLookup.
type PriceFunc func(symbol string) (decimal.Decimal, bool)

func (f PriceFunc) Price(symbol string) (decimal.Decimal, bool) {
	return f(symbol)
}

// noPrices is used when an engine has no lookup configured.
type noPrices struct{}

func (noPrices) Price(string) (decimal.Decimal, bool) { return decimal.Zero, false }
