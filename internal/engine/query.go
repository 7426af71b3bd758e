package engine

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable view of the engine taken at the end of the
// last mutation. Callers must treat it as read-only.
type Snapshot struct {
	EngineID         string         `json:"engine_id"`
	State            State          `json:"state"`
	Orders           []Order        `json:"orders"`
	Positions        []Position     `json:"positions"`
	Portfolio        Portfolio      `json:"portfolio"`
	ActiveStrategies []string       `json:"active_strategies"`
	QueueDepth       int            `json:"queue_depth"`
	OpenPositions    int            `json:"open_positions"`
	Thresholds       RiskThresholds `json:"thresholds"`
	FillsApplied     int            `json:"fills_applied"`
	FillErrors       int            `json:"fill_errors"`
	TakenAt          time.Time      `json:"taken_at"`
}

// refreshSnapshot must be called with e.mu held.
func (e *Engine) refreshSnapshot() {
	p := e.positions.portfolio
	p.RiskMetrics = riskMetrics(p, e.positions.exposure())
	e.snap.Store(&Snapshot{
		EngineID:         e.id,
		State:            e.state,
		Orders:           e.orders.view(),
		Positions:        e.positions.list(),
		Portfolio:        p,
		ActiveStrategies: append([]string(nil), e.strategies...),
		QueueDepth:       e.orders.open(),
		OpenPositions:    e.positions.openCount(),
		Thresholds:       e.thresholds,
		FillsApplied:     e.applied,
		FillErrors:       e.fillErrors,
		TakenAt:          e.opts.Clock.Now(),
	})
}

// Snapshot returns the latest read view without taking the engine lock.
func (e *Engine) Snapshot() *Snapshot {
	return e.snap.Load()
}

func (e *Engine) State() State { return e.Snapshot().State }

func (e *Engine) Running() bool { return e.Snapshot().State == StateRunning }

// OrderFilter narrows ListOrders. Empty fields match everything.
type OrderFilter struct {
	StrategyID string
	Symbol     string
	Status     OrderStatus
}

func (f OrderFilter) match(o Order) bool {
	if f.StrategyID != "" && o.StrategyID != f.StrategyID {
		return false
	}
	if f.Symbol != "" && o.Symbol != normalizeSymbol(f.Symbol) {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	return true
}

// PositionFilter narrows ListPositions. Flat positions are hidden unless
// IncludeZero is set.
type PositionFilter struct {
	StrategyID  string
	Symbol      string
	IncludeZero bool
}

func (f PositionFilter) match(p Position) bool {
	if f.StrategyID != "" && p.StrategyID != f.StrategyID {
		return false
	}
	if f.Symbol != "" && p.Symbol != normalizeSymbol(f.Symbol) {
		return false
	}
	return f.IncludeZero || !p.Flat()
}

// Order returns one order by id.
func (e *Engine) Order(id string) (Order, error) {
	if i, ok := e.orders.index(id); ok {
		// an order created after this snapshot was taken is not visible yet
		if orders := e.Snapshot().Orders; i < len(orders) {
			return orders[i].Clone(), nil
		}
	}
	return Order{}, notFoundf("order %s", id)
}

// ListOrders returns orders in creation order.
func (e *Engine) ListOrders(f OrderFilter) []Order {
	snap := e.Snapshot()
	out := make([]Order, 0, len(snap.Orders))
	for _, o := range snap.Orders {
		if f.match(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Position returns the position for (strategy, symbol).
func (e *Engine) Position(strategyID, symbol string) (Position, error) {
	key := PositionKey{StrategyID: strings.TrimSpace(strategyID), Symbol: normalizeSymbol(symbol)}
	for _, p := range e.Snapshot().Positions {
		if p.Key() == key {
			return p, nil
		}
	}
	return Position{}, notFoundf("position %s", key)
}

// ListPositions returns positions in first-fill order.
func (e *Engine) ListPositions(f PositionFilter) []Position {
	snap := e.Snapshot()
	out := make([]Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if f.match(p) {
			out = append(out, p)
		}
	}
	return out
}

// PortfolioSnapshot returns the last computed valuation.
func (e *Engine) PortfolioSnapshot() Portfolio {
	return e.Snapshot().Portfolio
}

// RiskMetrics returns the current risk summary.
func (e *Engine) RiskMetrics() RiskMetrics {
	return e.Snapshot().Portfolio.RiskMetrics
}

// RiskLevel classifies current metrics against the engine thresholds.
func (e *Engine) RiskLevel() RiskLevel {
	snap := e.Snapshot()
	return riskLevel(snap.Portfolio.RiskMetrics, snap.Thresholds)
}

// Statistics summarizes orders and positions.
type Statistics struct {
	EngineID         string              `json:"engine_id"`
	State            State               `json:"state"`
	TotalOrders      int                 `json:"total_orders"`
	OrdersByStatus   map[OrderStatus]int `json:"orders_by_status"`
	FilledNotional   decimal.Decimal     `json:"filled_notional"`
	ActiveStrategies int                 `json:"active_strategies"`
	Positions        int                 `json:"positions"`
	OpenPositions    int                 `json:"open_positions"`
	RealizedPnL      decimal.Decimal     `json:"realized_pnl"`
	UnrealizedPnL    decimal.Decimal     `json:"unrealized_pnl"`
	QueueDepth       int                 `json:"queue_depth"`
	FillsApplied     int                 `json:"fills_applied"`
	FillErrors       int                 `json:"fill_errors"`
	PortfolioValue   decimal.Decimal     `json:"portfolio_value"`
	Cash             decimal.Decimal     `json:"cash"`
}

func (e *Engine) Statistics() Statistics {
	snap := e.Snapshot()
	st := Statistics{
		EngineID:         snap.EngineID,
		State:            snap.State,
		TotalOrders:      len(snap.Orders),
		OrdersByStatus:   make(map[OrderStatus]int),
		FilledNotional:   decimal.Zero,
		ActiveStrategies: len(snap.ActiveStrategies),
		Positions:        len(snap.Positions),
		OpenPositions:    snap.OpenPositions,
		RealizedPnL:      decimal.Zero,
		UnrealizedPnL:    decimal.Zero,
		QueueDepth:       snap.QueueDepth,
		FillsApplied:     snap.FillsApplied,
		FillErrors:       snap.FillErrors,
		PortfolioValue:   snap.Portfolio.PortfolioValue,
		Cash:             snap.Portfolio.Cash,
	}
	for _, o := range snap.Orders {
		st.OrdersByStatus[o.Status]++
		st.FilledNotional = st.FilledNotional.Add(o.Notional())
	}
	for _, p := range snap.Positions {
		st.RealizedPnL = st.RealizedPnL.Add(p.RealizedPnL)
		if !p.Stale {
			st.UnrealizedPnL = st.UnrealizedPnL.Add(p.UnrealizedPnL)
		}
	}
	return st
}

// HealthReport is the scored health of one engine.
type HealthReport struct {
	EngineID         string           `json:"engine_id"`
	Score            int              `json:"score"`
	Status           HealthStatus     `json:"status"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	Running          bool             `json:"running"`
	Components       HealthComponents `json:"components"`
	Metrics          RiskMetrics      `json:"metrics"`
	ActiveStrategies int              `json:"active_strategies"`
	OpenPositions    int              `json:"open_positions"`
	PendingOrders    int              `json:"pending_orders"`
	StalePositions   int              `json:"stale_positions"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Health scores the engine from its latest snapshot.
func (e *Engine) Health() HealthReport {
	snap := e.Snapshot()
	in := HealthInputs{
		Running:          snap.State == StateRunning,
		Metrics:          snap.Portfolio.RiskMetrics,
		ActiveStrategies: len(snap.ActiveStrategies),
		OpenPositions:    snap.OpenPositions,
		PendingOrders:    snap.QueueDepth,
	}
	score, comps := healthScore(in, e.opts.Scoring)
	return HealthReport{
		EngineID:         snap.EngineID,
		Score:            score,
		Status:           healthStatus(score),
		RiskLevel:        riskLevel(in.Metrics, snap.Thresholds),
		Running:          in.Running,
		Components:       comps,
		Metrics:          in.Metrics,
		ActiveStrategies: in.ActiveStrategies,
		OpenPositions:    in.OpenPositions,
		PendingOrders:    in.PendingOrders,
		StalePositions:   snap.Portfolio.StalePositions,
		GeneratedAt:      e.opts.Clock.Now(),
	}
}

// HealthScore exposes the scoring function for callers that assemble their
// own inputs.
func HealthScore(in HealthInputs, score ScoringFunc) (int, HealthStatus, HealthComponents) {
	s, c := healthScore(in, score)
	return s, healthStatus(s), c
}
