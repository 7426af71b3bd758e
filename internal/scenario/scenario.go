// Package scenario replays scripted trading sessions against a fresh engine
// on a manual clock and checks the resulting state.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Amount is a decimal that decodes from YAML numbers or strings without
// passing through float64.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", n.Line)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(n.Value))
	if err != nil {
		return fmt.Errorf("line %d: %q is not a number", n.Line, n.Value)
	}
	a.Decimal = d
	return nil
}

func (a *Amount) ptr() *decimal.Decimal {
	if a == nil {
		return nil
	}
	d := a.Decimal
	return &d
}

// Scenario is one replay file.
type Scenario struct {
	Name   string    `yaml:"name"`
	Engine Setup     `yaml:"engine"`
	Start  time.Time `yaml:"start"`
	Steps  []Step    `yaml:"steps"`
}

type Setup struct {
	ID            string  `yaml:"id"`
	InitialValue  Amount  `yaml:"initial_value"`
	InitialCash   *Amount `yaml:"initial_cash"`
	QueueCapacity int     `yaml:"queue_capacity"`
}

// Step holds exactly one action.
type Step struct {
	Prices   map[string]Amount `yaml:"prices"`
	Drop     []string          `yaml:"drop"`
	Execute  *ExecuteStep      `yaml:"execute"`
	Order    *OrderStep        `yaml:"order"`
	Fill     *FillStep         `yaml:"fill"`
	Cancel   string            `yaml:"cancel"`
	Close    *CloseStep        `yaml:"close"`
	Advance  string            `yaml:"advance"`
	Revalue  bool              `yaml:"revalue"`
	ResetDay bool              `yaml:"reset_day"`
	Expect   *Expect           `yaml:"expect"`
}

type ExecuteStep struct {
	Strategy string         `yaml:"strategy"`
	Signals  []SignalSpec   `yaml:"signals"`
	Metadata map[string]any `yaml:"metadata"`
}

type SignalSpec struct {
	Symbol   string         `yaml:"symbol"`
	Action   string         `yaml:"action"`
	Quantity *Amount        `yaml:"quantity"`
	Weight   *Amount        `yaml:"weight"`
	Type     string         `yaml:"type"`
	Price    *Amount        `yaml:"price"`
	Metadata map[string]any `yaml:"metadata"`
}

type OrderStep struct {
	Strategy string  `yaml:"strategy"`
	Symbol   string  `yaml:"symbol"`
	Side     string  `yaml:"side"`
	Type     string  `yaml:"type"`
	Quantity Amount  `yaml:"quantity"`
	Price    *Amount `yaml:"price"`
}

// FillStep fills an order. Order is an order id or "last" for the most
// recently created order. Quantity defaults to the order quantity.
type FillStep struct {
	Order    string  `yaml:"order"`
	Price    Amount  `yaml:"price"`
	Quantity *Amount `yaml:"quantity"`
}

type CloseStep struct {
	Strategy   string  `yaml:"strategy"`
	Symbol     string  `yaml:"symbol"`
	Percentage *Amount `yaml:"percentage"`
}

// Expect compares engine state after the step. Unset fields are ignored.
type Expect struct {
	Cash           *Amount          `yaml:"cash"`
	PortfolioValue *Amount          `yaml:"portfolio_value"`
	RealizedPnL    *Amount          `yaml:"realized_pnl"`
	MaxDrawdown    *Amount          `yaml:"max_drawdown"`
	RiskLevel      string           `yaml:"risk_level"`
	HealthStatus   string           `yaml:"health_status"`
	OpenOrders     *int             `yaml:"open_orders"`
	Positions      []PositionExpect `yaml:"positions"`
	Error          string           `yaml:"error"`
}

type PositionExpect struct {
	Strategy     string  `yaml:"strategy"`
	Symbol       string  `yaml:"symbol"`
	Quantity     *Amount `yaml:"quantity"`
	AveragePrice *Amount `yaml:"average_price"`
	RealizedPnL  *Amount `yaml:"realized_pnl"`
	Stale        *bool   `yaml:"stale"`
}

func (s Step) kind() string {
	switch {
	case len(s.Prices) > 0:
		return "prices"
	case len(s.Drop) > 0:
		return "drop"
	case s.Execute != nil:
		return "execute"
	case s.Order != nil:
		return "order"
	case s.Fill != nil:
		return "fill"
	case s.Cancel != "":
		return "cancel"
	case s.Close != nil:
		return "close"
	case s.Advance != "":
		return "advance"
	case s.Revalue:
		return "revalue"
	case s.ResetDay:
		return "reset_day"
	case s.Expect != nil:
		return "expect"
	default:
		return ""
	}
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		len(s.Prices) > 0, len(s.Drop) > 0, s.Execute != nil, s.Order != nil, s.Fill != nil,
		s.Cancel != "", s.Close != nil, s.Advance != "", s.Revalue, s.ResetDay,
	} {
		if set {
			n++
		}
	}
	return n
}

// Parse decodes a scenario strictly; unknown keys are errors.
func Parse(raw []byte) (Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario failed: %w", err)
	}
	if err := sc.validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

func Load(path string) (Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario failed: %w", err)
	}
	sc, err := Parse(raw)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func (sc *Scenario) validate() error {
	if strings.TrimSpace(sc.Engine.ID) == "" {
		sc.Engine.ID = "replay"
	}
	if !sc.Engine.InitialValue.IsPositive() {
		return fmt.Errorf("engine.initial_value must be > 0")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("scenario has no steps")
	}
	for i, st := range sc.Steps {
		n := st.actions()
		if n > 1 {
			return fmt.Errorf("step %d: has %d actions, want one", i+1, n)
		}
		if n == 0 && st.Expect == nil {
			return fmt.Errorf("step %d: empty", i+1)
		}
		if st.Advance != "" {
			if _, err := time.ParseDuration(st.Advance); err != nil {
				return fmt.Errorf("step %d: advance: %w", i+1, err)
			}
		}
	}
	return nil
}
