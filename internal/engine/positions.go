package engine

import (
	"time"

	"stratexec/internal/events"

	"github.com/shopspring/decimal"
)

// positionBook aggregates fills per (strategy, symbol) and keeps cash. It is
// the only writer of Position values and of the Portfolio.
type positionBook struct {
	positions map[PositionKey]*Position
	keys      []PositionKey
	portfolio Portfolio
	emit      emitFunc
}

func newPositionBook(emit emitFunc) *positionBook {
	if emit == nil {
		emit = func(events.Type, any) {}
	}
	return &positionBook{
		positions: make(map[PositionKey]*Position),
		emit:      emit,
	}
}

// seed resets the portfolio fields. Positions are retained.
func (b *positionBook) seed(value, cash decimal.Decimal, at time.Time) {
	b.portfolio = Portfolio{
		PortfolioValue:      value,
		Cash:                cash,
		DayStartValue:       value,
		PeakValue:           value,
		MaxDrawdownFromPeak: decimal.Zero,
		ValuedAt:            at,
	}
}

func signOf(d decimal.Decimal) int {
	return d.Sign()
}

// applyFill folds one fill into the position for the order's key and
// settles cash. Realized P&L is booked on the closed part of a reducing
// fill; a fill that flips the position re-opens the residual at fillPrice.
func (b *positionBook) applyFill(o Order, price, qty decimal.Decimal, at time.Time) Position {
	key := PositionKey{StrategyID: o.StrategyID, Symbol: o.Symbol}
	delta := qty.Mul(decimal.NewFromInt(o.Side.Sign()))

	pos, ok := b.positions[key]
	if !ok {
		pos = &Position{
			StrategyID:   key.StrategyID,
			Symbol:       key.Symbol,
			Quantity:     decimal.Zero,
			AveragePrice: decimal.Zero,
			RealizedPnL:  decimal.Zero,
			OpenedAt:     at,
		}
		b.positions[key] = pos
		b.keys = append(b.keys, key)
	}

	existing := pos.Quantity
	switch {
	case existing.IsZero():
		pos.Quantity = delta
		pos.AveragePrice = price
		pos.OpenedAt = at
	case signOf(existing) == signOf(delta):
		next := existing.Add(delta)
		cost := existing.Abs().Mul(pos.AveragePrice).Add(delta.Abs().Mul(price))
		pos.Quantity = next
		pos.AveragePrice = cost.Div(next.Abs())
	default:
		closed := decimal.Min(delta.Abs(), existing.Abs())
		pnl := closed.Mul(price.Sub(pos.AveragePrice)).Mul(decimal.NewFromInt(int64(signOf(existing))))
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		next := existing.Add(delta)
		pos.Quantity = next
		if !next.IsZero() && signOf(next) != signOf(existing) {
			pos.AveragePrice = price
			pos.OpenedAt = at
		}
	}

	pos.Fills++
	pos.CurrentPrice = price
	pos.UnrealizedPnL = pos.Quantity.Mul(price.Sub(pos.AveragePrice))
	pos.LastUpdatedAt = at

	b.portfolio.Cash = b.portfolio.Cash.Sub(delta.Mul(price))

	out := *pos
	b.emit(events.PositionUpdated, out)
	return out
}

func (b *positionBook) get(key PositionKey) (Position, bool) {
	pos, ok := b.positions[key]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// list returns copies in first-fill order.
func (b *positionBook) list() []Position {
	out := make([]Position, 0, len(b.keys))
	for _, k := range b.keys {
		out = append(out, *b.positions[k])
	}
	return out
}

func (b *positionBook) openCount() int {
	n := 0
	for _, p := range b.positions {
		if !p.Flat() {
			n++
		}
	}
	return n
}

// valuation is the result of marking every position to market.
type valuation struct {
	holdings decimal.Decimal
	exposure decimal.Decimal
	stale    int
	marks    map[PositionKey]decimal.Decimal
}

// markToMarket prices every open position without mutating anything.
// Symbols the lookup cannot price are counted stale and left out.
func (b *positionBook) markToMarket(prices PriceLookup) valuation {
	v := valuation{
		holdings: decimal.Zero,
		exposure: decimal.Zero,
		marks:    make(map[PositionKey]decimal.Decimal, len(b.positions)),
	}
	for _, key := range b.keys {
		pos := b.positions[key]
		if pos.Flat() {
			continue
		}
		px, ok := prices.Price(pos.Symbol)
		if !ok || !px.IsPositive() {
			v.stale++
			continue
		}
		v.marks[key] = px
		mv := pos.Quantity.Mul(px)
		v.holdings = v.holdings.Add(mv)
		v.exposure = v.exposure.Add(mv.Abs())
	}
	return v
}

// calculatePortfolioValue marks positions to market, recomputes the
// portfolio value and advances peak and max drawdown.
func (b *positionBook) calculatePortfolioValue(prices PriceLookup, at time.Time) Portfolio {
	v := b.markToMarket(prices)
	for _, key := range b.keys {
		pos := b.positions[key]
		if pos.Flat() {
			pos.UnrealizedPnL = decimal.Zero
			pos.Stale = false
			continue
		}
		px, ok := v.marks[key]
		if !ok {
			pos.Stale = true
			continue
		}
		pos.Stale = false
		pos.CurrentPrice = px
		pos.UnrealizedPnL = pos.Quantity.Mul(px.Sub(pos.AveragePrice))
	}

	p := &b.portfolio
	p.PortfolioValue = p.Cash.Add(v.holdings)
	if p.PortfolioValue.GreaterThan(p.PeakValue) {
		p.PeakValue = p.PortfolioValue
	}
	if dd := drawdown(p.PeakValue, p.PortfolioValue); dd.GreaterThan(p.MaxDrawdownFromPeak) {
		p.MaxDrawdownFromPeak = dd
	}
	p.StalePositions = v.stale
	p.ValuedAt = at
	p.RiskMetrics = riskMetrics(*p, v.exposure)

	out := *p
	b.emit(events.PortfolioUpdated, out)
	return out
}

// exposure sums |quantity x mark| over open, non-stale positions using
// the marks from the last valuation.
func (b *positionBook) exposure() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range b.positions {
		if pos.Flat() || pos.Stale {
			continue
		}
		total = total.Add(pos.MarketValue().Abs())
	}
	return total
}

func drawdown(peak, value decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return peak.Sub(value).Div(peak)
}
