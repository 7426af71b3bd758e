package engine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SignalAction is what a strategy asks for on one symbol.
type SignalAction string

const (
	ActionBuy   SignalAction = "buy"
	ActionSell  SignalAction = "sell"
	ActionClose SignalAction = "close"
	ActionHold  SignalAction = "hold"
)

// Signal is a single strategy instruction. Exactly one of Quantity or
// Weight sizes a buy/sell; Weight is a fraction of portfolio value.
type Signal struct {
	Symbol   string           `json:"symbol"`
	Action   SignalAction     `json:"action"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Weight   *decimal.Decimal `json:"weight,omitempty"`
	Type     OrderType        `json:"type,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Metadata Metadata         `json:"metadata,omitempty"`
}

// SignalResult reports the outcome of one signal.
type SignalResult struct {
	Index   int    `json:"index"`
	Symbol  string `json:"symbol"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
	OrderID string `json:"order_id,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StrategyExecution is the payload of strategy:executed.
type StrategyExecution struct {
	StrategyID string         `json:"strategy_id"`
	Results    []SignalResult `json:"results"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Metadata   Metadata       `json:"metadata,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// orderFor translates a buy/sell signal to an order request. Weight
// sizing divides weight x portfolio value by the signal price, or the
// current market price when the signal carries none.
func orderFor(strategyID string, sig Signal, portfolioValue decimal.Decimal, prices PriceLookup) (OrderRequest, error) {
	side := SideBuy
	if sig.Action == ActionSell {
		side = SideSell
	}
	typ := sig.Type
	if typ == "" {
		typ = OrderTypeMarket
	}
	req := OrderRequest{
		StrategyID: strategyID,
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       typ,
		Price:      sig.Price,
		Metadata:   sig.Metadata,
	}
	switch {
	case sig.Quantity != nil && sig.Weight != nil:
		return OrderRequest{}, validationf("signal sets both quantity and weight")
	case sig.Quantity != nil:
		req.Quantity = *sig.Quantity
		return req, nil
	case sig.Weight != nil:
		qty, err := weightQuantity(*sig.Weight, sig, portfolioValue, prices)
		if err != nil {
			return OrderRequest{}, err
		}
		req.Quantity = qty
		return req, nil
	default:
		return OrderRequest{}, validationf("signal needs a quantity or a weight")
	}
}

func weightQuantity(weight decimal.Decimal, sig Signal, portfolioValue decimal.Decimal, prices PriceLookup) (decimal.Decimal, error) {
	if !weight.IsPositive() || weight.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, validationf("weight must be in (0, 1], got %s", weight)
	}
	if !portfolioValue.IsPositive() {
		return decimal.Zero, validationf("cannot size by weight with portfolio value %s", portfolioValue)
	}
	var px decimal.Decimal
	if sig.Price != nil {
		px = *sig.Price
	} else if p, ok := prices.Price(normalizeSymbol(sig.Symbol)); ok {
		px = p
	}
	if !px.IsPositive() {
		return decimal.Zero, validationf("no price available to size %s by weight", sig.Symbol)
	}
	return weight.Mul(portfolioValue).Div(px), nil
}

func parseAction(raw SignalAction) SignalAction {
	return SignalAction(strings.ToLower(strings.TrimSpace(string(raw))))
}
