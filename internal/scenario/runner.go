package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stratexec/internal/clock"
	"stratexec/internal/engine"
	"stratexec/internal/events"
	"stratexec/internal/logger"
	"stratexec/internal/market"

	"github.com/shopspring/decimal"
)

var defaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// StepResult is the outcome of one step.
type StepResult struct {
	Index      int      `json:"index"`
	Kind       string   `json:"kind"`
	OrderIDs   []string `json:"order_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
	Mismatches []string `json:"mismatches,omitempty"`
}

func (r StepResult) Failed() bool {
	return len(r.Mismatches) > 0
}

// Result is the outcome of a replay.
type Result struct {
	Name   string           `json:"name"`
	Steps  []StepResult     `json:"steps"`
	Events map[string]int   `json:"events"`
	Final  *engine.Snapshot `json:"final"`
}

func (r Result) Failed() int {
	n := 0
	for _, st := range r.Steps {
		if st.Failed() {
			n++
		}
	}
	return n
}

func (r Result) OK() bool { return r.Failed() == 0 }

type runner struct {
	clk    *clock.Manual
	prices *market.PriceBook
	eng    *engine.Engine
	last   string
}

// Run replays sc on a new engine. The returned error covers setup only;
// step failures are reported in the result.
func Run(sc Scenario) (Result, error) {
	start := sc.Start
	if start.IsZero() {
		start = defaultStart
	}
	clk := clock.NewManual(start)
	bus := events.NewBus()
	counts := make(map[string]int)
	bus.Subscribe(func(ev events.Event) { counts[string(ev.Type)]++ })

	r := &runner{clk: clk, prices: market.NewPriceBook(market.WithClock(clk))}
	r.eng = engine.New(sc.Engine.ID, engine.Options{
		QueueCapacity: sc.Engine.QueueCapacity,
		Clock:         clk,
		Bus:           bus,
		Prices:        r.prices,
	})
	cash := sc.Engine.InitialValue.Decimal
	if sc.Engine.InitialCash != nil {
		cash = sc.Engine.InitialCash.Decimal
	}
	if err := r.eng.Start(sc.Engine.InitialValue.Decimal, cash); err != nil {
		return Result{}, err
	}

	log := logger.With("component", "replay", "scenario", sc.Name)
	res := Result{Name: sc.Name, Events: counts}
	for i, st := range sc.Steps {
		out := StepResult{Index: i + 1, Kind: st.kind()}
		ids, err := r.apply(st)
		out.OrderIDs = ids
		if err != nil {
			out.Error = err.Error()
		}
		out.Mismatches = r.check(st.Expect, err)
		if out.Failed() {
			log.Warnf("step %d %s failed: %s", out.Index, out.Kind, strings.Join(out.Mismatches, "; "))
		}
		res.Steps = append(res.Steps, out)
	}
	res.Final = r.eng.Snapshot()
	_ = r.eng.Stop()
	return res, nil
}

func (r *runner) apply(st Step) ([]string, error) {
	switch {
	case len(st.Prices) > 0:
		for sym, px := range st.Prices {
			if err := r.prices.Set(sym, px.Decimal); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case len(st.Drop) > 0:
		for _, sym := range st.Drop {
			r.prices.Remove(sym)
		}
		return nil, nil
	case st.Execute != nil:
		return r.execute(st.Execute)
	case st.Order != nil:
		return r.order(st.Order)
	case st.Fill != nil:
		return r.fill(st.Fill)
	case st.Cancel != "":
		res, err := r.eng.CancelOrder(r.resolve(st.Cancel))
		if err != nil {
			return nil, err
		}
		return []string{res.Order.ID}, nil
	case st.Close != nil:
		pct := decimal.NewFromInt(100)
		if st.Close.Percentage != nil {
			pct = st.Close.Percentage.Decimal
		}
		o, err := r.eng.ClosePosition(st.Close.Strategy, st.Close.Symbol, pct)
		if err != nil {
			return nil, err
		}
		r.last = o.ID
		return []string{o.ID}, nil
	case st.Advance != "":
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return nil, err
		}
		r.clk.Advance(d)
		return nil, nil
	case st.Revalue:
		_, err := r.eng.Revalue()
		return nil, err
	case st.ResetDay:
		return nil, r.eng.ResetDay()
	default:
		return nil, nil
	}
}

func (r *runner) resolve(ref string) string {
	if strings.EqualFold(strings.TrimSpace(ref), "last") {
		return r.last
	}
	return ref
}

func (r *runner) execute(x *ExecuteStep) ([]string, error) {
	signals := make([]engine.Signal, 0, len(x.Signals))
	for _, s := range x.Signals {
		signals = append(signals, engine.Signal{
			Symbol:   s.Symbol,
			Action:   engine.SignalAction(strings.ToLower(s.Action)),
			Quantity: s.Quantity.ptr(),
			Weight:   s.Weight.ptr(),
			Type:     engine.OrderType(strings.ToLower(s.Type)),
			Price:    s.Price.ptr(),
			Metadata: s.Metadata,
		})
	}
	results, err := r.eng.ExecuteStrategy(x.Strategy, signals, x.Metadata)
	if err != nil {
		return nil, err
	}
	var (
		ids  []string
		errs []error
	)
	for _, res := range results {
		if res.OrderID != "" {
			ids = append(ids, res.OrderID)
			r.last = res.OrderID
		}
		if !res.Success {
			errs = append(errs, fmt.Errorf("signal %d (%s): %s", res.Index, res.Kind, res.Error))
		}
	}
	return ids, errors.Join(errs...)
}

func (r *runner) order(x *OrderStep) ([]string, error) {
	o, err := r.eng.SubmitOrder(engine.OrderRequest{
		StrategyID: x.Strategy,
		Symbol:     x.Symbol,
		Side:       engine.Side(strings.ToLower(x.Side)),
		Type:       engine.OrderType(strings.ToLower(x.Type)),
		Quantity:   x.Quantity.Decimal,
		Price:      x.Price.ptr(),
	})
	if o.ID != "" {
		r.last = o.ID
	}
	if err != nil {
		return nil, err
	}
	return []string{o.ID}, nil
}

func (r *runner) fill(x *FillStep) ([]string, error) {
	id := r.resolve(x.Order)
	o, err := r.eng.Order(id)
	if err != nil {
		return nil, err
	}
	qty := o.Quantity
	if x.Quantity != nil {
		qty = x.Quantity.Decimal
	}
	if _, err := r.eng.ResolveFill(id, x.Price.Decimal, qty); err != nil {
		return nil, err
	}
	return []string{id}, nil
}

func (r *runner) check(x *Expect, stepErr error) []string {
	var out []string
	if x == nil {
		if stepErr != nil {
			out = append(out, "unexpected error: "+stepErr.Error())
		}
		return out
	}
	if x.Error != "" {
		switch {
		case stepErr == nil:
			out = append(out, fmt.Sprintf("error: got none want %q", x.Error))
		case x.Error != engine.KindOf(stepErr) && !strings.Contains(stepErr.Error(), x.Error):
			out = append(out, fmt.Sprintf("error: got %q want %q", stepErr.Error(), x.Error))
		}
	} else if stepErr != nil {
		out = append(out, "unexpected error: "+stepErr.Error())
	}

	snap := r.eng.Snapshot()
	p := snap.Portfolio
	out = appendAmount(out, "cash", p.Cash, x.Cash)
	out = appendAmount(out, "portfolio_value", p.PortfolioValue, x.PortfolioValue)
	out = appendAmount(out, "max_drawdown", p.MaxDrawdownFromPeak, x.MaxDrawdown)
	if x.RealizedPnL != nil {
		out = appendAmount(out, "realized_pnl", r.eng.Statistics().RealizedPnL, x.RealizedPnL)
	}
	if x.RiskLevel != "" {
		if got := r.eng.RiskLevel(); !strings.EqualFold(string(got), x.RiskLevel) {
			out = append(out, fmt.Sprintf("risk_level: got %s want %s", got, x.RiskLevel))
		}
	}
	if x.HealthStatus != "" {
		if got := r.eng.Health().Status; !strings.EqualFold(string(got), x.HealthStatus) {
			out = append(out, fmt.Sprintf("health_status: got %s want %s", got, x.HealthStatus))
		}
	}
	if x.OpenOrders != nil && snap.QueueDepth != *x.OpenOrders {
		out = append(out, fmt.Sprintf("open_orders: got %d want %d", snap.QueueDepth, *x.OpenOrders))
	}
	for _, pe := range x.Positions {
		pos, err := r.eng.Position(pe.Strategy, pe.Symbol)
		if err != nil {
			out = append(out, err.Error())
			continue
		}
		label := pe.Strategy + "/" + pos.Symbol
		out = appendAmount(out, label+" quantity", pos.Quantity, pe.Quantity)
		out = appendAmount(out, label+" average_price", pos.AveragePrice, pe.AveragePrice)
		out = appendAmount(out, label+" realized_pnl", pos.RealizedPnL, pe.RealizedPnL)
		if pe.Stale != nil && pos.Stale != *pe.Stale {
			out = append(out, fmt.Sprintf("%s stale: got %v want %v", label, pos.Stale, *pe.Stale))
		}
	}
	return out
}

func appendAmount(out []string, name string, got decimal.Decimal, want *Amount) []string {
	if want == nil || got.Equal(want.Decimal) {
		return out
	}
	return append(out, fmt.Sprintf("%s: got %s want %s", name, got, want.Decimal))
}
