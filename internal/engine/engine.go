// Package engine turns strategy signals into orders, folds fills into
// positions, values the portfolio and derives risk and health figures.
//
// One Engine is a single mutual-exclusion domain: every mutation runs under
// its lock, readers get an immutable snapshot refreshed at the end of each
// mutation, and events are published after the lock is released. Events
// reach subscribers in sequence order even when mutations race.
package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"stratexec/internal/clock"
	"stratexec/internal/events"
	"stratexec/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultQueueCapacity = 1024
	DefaultFillInbox     = 256
)

// State is the engine lifecycle: created -> running -> stopped, and
// stopped -> running again on restart.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Options configures an Engine. Zero fields take defaults.
type Options struct {
	QueueCapacity int
	FillInbox     int
	Thresholds    RiskThresholds
	Scoring       ScoringFunc
	Clock         clock.Clock
	Bus           *events.Bus
	Prices        PriceLookup
	// OnFillError observes fills from the inbox that could not be applied.
	OnFillError func(Fill, error)
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.FillInbox <= 0 {
		o.FillInbox = DefaultFillInbox
	}
	if o.Thresholds == (RiskThresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
	if o.Scoring == nil {
		o.Scoring = DefaultDailyReturnScore
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystem()
	}
	if o.Bus == nil {
		o.Bus = events.NewBus()
	}
	if o.Prices == nil {
		o.Prices = noPrices{}
	}
	return o
}

// Lifecycle is the payload of engine:started and engine:stopped.
type Lifecycle struct {
	EngineID   string    `json:"engine_id"`
	State      State     `json:"state"`
	Portfolio  Portfolio `json:"portfolio"`
	OpenOrders int       `json:"open_orders"`
}

// CancelResult reports a cancellation. NoOp is set when the order had
// already reached a terminal state.
type CancelResult struct {
	Order Order `json:"order"`
	NoOp  bool  `json:"no_op"`
}

// Engine is the aggregate root for one trading account.
type Engine struct {
	id   string
	opts Options
	log  logger.Component

	mu         sync.Mutex
	state      State
	orders     *orderBook
	positions  *positionBook
	strategies []string
	active     map[string]struct{}
	thresholds RiskThresholds
	pending    []events.Event
	applied    int
	fillErrors int

	// outbox holds events in sequence order until one goroutine at a time
	// delivers them. Lock order is mu then pubMu.
	pubMu    sync.Mutex
	outbox   []events.Event
	draining bool

	fills chan Fill
	snap  atomic.Pointer[Snapshot]
}

// New builds a stopped engine in the created state.
func New(id string, opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		id:         id,
		opts:       opts,
		log:        logger.With("component", "engine", "engine", id),
		state:      StateCreated,
		active:     make(map[string]struct{}),
		thresholds: opts.Thresholds,
		fills:      make(chan Fill, opts.FillInbox),
	}
	e.orders = newOrderBook(opts.Clock, opts.QueueCapacity, e.emit)
	e.positions = newPositionBook(e.emit)
	e.refreshSnapshot()
	return e
}

func (e *Engine) ID() string { return e.id }

// Bus returns the bus events are published on.
func (e *Engine) Bus() *events.Bus { return e.opts.Bus }

// emit queues an event; it must be called with e.mu held.
func (e *Engine) emit(t events.Type, payload any) {
	e.pending = append(e.pending, events.Event{
		ID:       uuid.NewString(),
		Seq:      e.opts.Clock.Next(),
		Type:     t,
		EngineID: e.id,
		At:       e.opts.Clock.Now(),
		Payload:  payload,
	})
}

// mutate runs fn under the engine lock, refreshes the read snapshot and
// then publishes whatever fn emitted, outside the lock.
func (e *Engine) mutate(fn func() error) error {
	err := e.locked(fn)
	e.deliver()
	return err
}

func (e *Engine) locked(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	err := fn()
	e.refreshSnapshot()
	if len(e.pending) > 0 {
		e.pubMu.Lock()
		e.outbox = append(e.outbox, e.pending...)
		e.pubMu.Unlock()
	}
	e.pending = nil
	return err
}

// deliver publishes the outbox unless another goroutine already is. The
// active deliverer keeps going until the outbox is empty, so it also picks
// up events from mutations made by subscribers or racing callers; those
// callers return before their events are delivered.
func (e *Engine) deliver() {
	e.pubMu.Lock()
	if e.draining {
		e.pubMu.Unlock()
		return
	}
	e.draining = true
	for len(e.outbox) > 0 {
		batch := e.outbox
		e.outbox = nil
		e.pubMu.Unlock()
		e.opts.Bus.Publish(batch...)
		e.pubMu.Lock()
	}
	e.draining = false
	e.pubMu.Unlock()
}

func (e *Engine) requireRunning() error {
	if e.state != StateRunning {
		return ErrEngineNotRunning
	}
	return nil
}

// Start seeds the portfolio and begins accepting orders. Starting a
// running engine is a no-op; starting a stopped one re-seeds the portfolio
// and keeps orders and positions.
func (e *Engine) Start(initialValue, initialCash decimal.Decimal) error {
	return e.mutate(func() error {
		if e.state == StateRunning {
			return nil
		}
		if initialValue.IsNegative() || initialCash.IsNegative() {
			return validationf("initial value and cash must be >= 0")
		}
		e.positions.seed(initialValue, initialCash, e.opts.Clock.Now())
		e.state = StateRunning
		e.emit(events.EngineStarted, e.lifecycle())
		e.log.Infof("engine started value=%s cash=%s", initialValue, initialCash)
		return nil
	})
}

// Stop halts order intake. Outstanding orders are left as they are.
func (e *Engine) Stop() error {
	return e.mutate(func() error {
		if e.state != StateRunning {
			return nil
		}
		e.state = StateStopped
		e.emit(events.EngineStopped, e.lifecycle())
		e.log.Infof("engine stopped open_orders=%d", e.orders.open())
		return nil
	})
}

func (e *Engine) lifecycle() Lifecycle {
	return Lifecycle{
		EngineID:   e.id,
		State:      e.state,
		Portfolio:  e.positions.portfolio,
		OpenOrders: e.orders.open(),
	}
}

// SubmitOrder creates an order from an explicit request.
func (e *Engine) SubmitOrder(req OrderRequest) (Order, error) {
	var out Order
	err := e.mutate(func() error {
		if err := e.requireRunning(); err != nil {
			return err
		}
		o, err := e.orders.create(req)
		if err != nil {
			e.log.Warnf("order rejected strategy=%s symbol=%s: %v", req.StrategyID, req.Symbol, err)
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// AdvanceOrder moves a pending order to executing.
func (e *Engine) AdvanceOrder(orderID string) (Order, error) {
	var out Order
	err := e.mutate(func() error {
		if err := e.requireRunning(); err != nil {
			return err
		}
		o, err := e.orders.advance(orderID)
		out = o
		return err
	})
	return out, err
}

// NextExecutable hands the oldest pending order to an execution source
// and marks it executing. It never blocks.
func (e *Engine) NextExecutable() (Order, bool) {
	var (
		out Order
		ok  bool
	)
	_ = e.mutate(func() error {
		if e.state != StateRunning {
			return nil
		}
		out, ok = e.orders.nextExecutable()
		return nil
	})
	return out, ok
}

// ResolveFill applies a fill synchronously: the order is marked filled,
// the position and cash are updated and the portfolio is revalued.
func (e *Engine) ResolveFill(orderID string, price, qty decimal.Decimal) (Order, error) {
	var out Order
	err := e.mutate(func() error {
		if err := e.requireRunning(); err != nil {
			return err
		}
		o, err := e.orders.resolveFill(orderID, price, qty)
		if err != nil {
			return err
		}
		now := e.opts.Clock.Now()
		e.positions.applyFill(o, price, qty, now)
		e.positions.calculatePortfolioValue(withFillPrice(e.opts.Prices, o.Symbol, price), now)
		e.applied++
		out = o
		return nil
	})
	return out, err
}

// fillPriceLookup prices the just-filled symbol at its fill price when
// the primary lookup has no quote for it.
type fillPriceLookup struct {
	primary PriceLookup
	symbol  string
	price   decimal.Decimal
}

func withFillPrice(primary PriceLookup, symbol string, price decimal.Decimal) PriceLookup {
	return fillPriceLookup{primary: primary, symbol: symbol, price: price}
}

func (l fillPriceLookup) Price(symbol string) (decimal.Decimal, bool) {
	if px, ok := l.primary.Price(symbol); ok {
		return px, true
	}
	if symbol == l.symbol {
		return l.price, true
	}
	return decimal.Zero, false
}

// SubmitFill queues an asynchronous fill for Run. It never blocks.
func (e *Engine) SubmitFill(f Fill) error {
	select {
	case e.fills <- f:
		return nil
	default:
		return ErrInboxFull
	}
}

// Run applies queued fills in arrival order until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-e.fills:
			if _, err := e.ResolveFill(f.OrderID, f.Price, f.Quantity); err != nil {
				e.fillFailed(f, err)
			}
		}
	}
}

func (e *Engine) fillFailed(f Fill, err error) {
	e.mu.Lock()
	e.fillErrors++
	e.refreshSnapshot()
	e.mu.Unlock()
	e.log.Warnf("fill for order %s dropped: %v", f.OrderID, err)
	if e.opts.OnFillError != nil {
		e.opts.OnFillError(f, err)
	}
}

// CancelOrder cancels an open order. Cancelling an order that is already
// terminal succeeds with NoOp set and changes nothing. Cancellation is
// accepted while stopped so callers can clean up after Stop.
func (e *Engine) CancelOrder(orderID string) (CancelResult, error) {
	var res CancelResult
	err := e.mutate(func() error {
		o, err := e.orders.cancel(orderID)
		switch {
		case err == nil:
			res = CancelResult{Order: o}
			return nil
		case errors.Is(err, ErrInvalidState):
			res = CancelResult{Order: o, NoOp: true}
			return nil
		default:
			return err
		}
	})
	return res, err
}

// RejectOrder records that the execution source refused an open order.
func (e *Engine) RejectOrder(orderID, reason string) (Order, error) {
	var out Order
	err := e.mutate(func() error {
		o, err := e.orders.reject(orderID, reason)
		out = o
		if err == nil {
			e.log.Warnf("order %s rejected by execution: %s", orderID, reason)
		}
		return err
	})
	return out, err
}

// ExecuteStrategy translates each signal into at most one order. A failing
// signal is reported in its result and does not stop the others.
func (e *Engine) ExecuteStrategy(strategyID string, signals []Signal, meta Metadata) ([]SignalResult, error) {
	strategyID = strings.TrimSpace(strategyID)
	var results []SignalResult
	err := e.mutate(func() error {
		if err := e.requireRunning(); err != nil {
			return err
		}
		if strategyID == "" {
			return validationf("strategy id is required")
		}
		e.registerStrategy(strategyID)
		results = make([]SignalResult, 0, len(signals))
		exec := StrategyExecution{StrategyID: strategyID, Metadata: meta.Clone()}
		for i, sig := range signals {
			res := e.executeSignal(strategyID, i, sig, meta)
			if res.Success {
				exec.Succeeded++
			} else {
				exec.Failed++
			}
			results = append(results, res)
		}
		exec.Results = append([]SignalResult(nil), results...)
		e.emit(events.StrategyExecuted, exec)
		e.log.Infof("strategy %s executed signals=%d ok=%d failed=%d", strategyID, len(signals), exec.Succeeded, exec.Failed)
		return nil
	})
	return results, err
}

func (e *Engine) registerStrategy(id string) {
	if _, ok := e.active[id]; ok {
		return
	}
	e.active[id] = struct{}{}
	e.strategies = append(e.strategies, id)
}

func (e *Engine) executeSignal(strategyID string, idx int, sig Signal, meta Metadata) SignalResult {
	action := parseAction(sig.Action)
	res := SignalResult{Index: idx, Symbol: normalizeSymbol(sig.Symbol), Action: string(action)}
	var (
		o   Order
		err error
	)
	switch action {
	case ActionHold:
		res.Success = true
		return res
	case ActionClose:
		o, err = e.closePosition(strategyID, sig.Symbol, hundred, mergeMetadata(meta, sig.Metadata))
	case ActionBuy, ActionSell:
		sig.Metadata = mergeMetadata(meta, sig.Metadata)
		var req OrderRequest
		req, err = orderFor(strategyID, sig, e.positions.portfolio.PortfolioValue, e.opts.Prices)
		if err == nil {
			o, err = e.orders.create(req)
		}
	default:
		err = validationf("unknown signal action %q", sig.Action)
	}
	if err != nil {
		res.Kind = KindOf(err)
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.OrderID = o.ID
	return res
}

func mergeMetadata(base, over Metadata) Metadata {
	if len(base) == 0 {
		return over
	}
	out := base.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

// ClosePosition submits a market order for percentage (0, 100] of the
// position, on the opposite side.
func (e *Engine) ClosePosition(strategyID, symbol string, percentage decimal.Decimal) (Order, error) {
	var out Order
	err := e.mutate(func() error {
		if err := e.requireRunning(); err != nil {
			return err
		}
		o, err := e.closePosition(strings.TrimSpace(strategyID), symbol, percentage, nil)
		out = o
		return err
	})
	return out, err
}

func (e *Engine) closePosition(strategyID, symbol string, percentage decimal.Decimal, meta Metadata) (Order, error) {
	if !percentage.IsPositive() || percentage.GreaterThan(hundred) {
		return Order{}, validationf("close percentage must be in (0, 100], got %s", percentage)
	}
	key := PositionKey{StrategyID: strategyID, Symbol: normalizeSymbol(symbol)}
	pos, ok := e.positions.get(key)
	if !ok || pos.Flat() {
		return Order{}, notFoundf("no open position for %s", key)
	}
	side := SideSell
	if pos.Quantity.IsNegative() {
		side = SideBuy
	}
	md := meta.Clone()
	if md == nil {
		md = Metadata{}
	}
	md["close_percentage"] = percentage.String()
	return e.orders.create(OrderRequest{
		StrategyID: strategyID,
		Symbol:     key.Symbol,
		Side:       side,
		Type:       OrderTypeMarket,
		Quantity:   pos.Quantity.Abs().Mul(percentage).Div(hundred),
		Metadata:   md,
	})
}

// Revalue marks every position to market with the engine's price lookup.
func (e *Engine) Revalue() (Portfolio, error) {
	var out Portfolio
	err := e.mutate(func() error {
		if err := e.requireRunning(); err != nil {
			return err
		}
		out = e.positions.calculatePortfolioValue(e.opts.Prices, e.opts.Clock.Now())
		return nil
	})
	return out, err
}

// ResetDay starts a new trading day at the current portfolio value.
func (e *Engine) ResetDay() error {
	return e.mutate(func() error {
		if err := e.requireRunning(); err != nil {
			return err
		}
		e.positions.portfolio.DayStartValue = e.positions.portfolio.PortfolioValue
		return nil
	})
}

// SetThresholds replaces the risk thresholds.
func (e *Engine) SetThresholds(t RiskThresholds) {
	_ = e.mutate(func() error {
		e.thresholds = t
		return nil
	})
}
