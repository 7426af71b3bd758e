// Package execution simulates an execution venue for engines that have no
// real exchange behind them.
package execution

import (
	"context"
	"errors"
	"time"

	"stratexec/internal/engine"
	"stratexec/internal/logger"

	"github.com/shopspring/decimal"
)

// Venue is the part of an engine the simulator drives.
type Venue interface {
	ID() string
	Order(id string) (engine.Order, error)
	NextExecutable() (engine.Order, bool)
	SubmitFill(engine.Fill) error
	RejectOrder(orderID, reason string) (engine.Order, error)
}

// Paper fills engine orders against a price lookup. Market orders fill at
// the current price adjusted by slippage; limit orders fill at their limit
// once the market trades through it; stop orders fill at market once
// triggered. Orders that cannot fill yet rest until a later Step.
type Paper struct {
	venues   func() []Venue
	prices   engine.PriceLookup
	slippage decimal.Decimal
	log      logger.Component

	resting map[string]map[string]engine.Order
}

type PaperOption func(*Paper)

// WithSlippageBps worsens market fills by bps basis points.
func WithSlippageBps(bps int64) PaperOption {
	return func(p *Paper) {
		if bps > 0 {
			p.slippage = decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
		}
	}
}

func NewPaper(venues func() []Venue, prices engine.PriceLookup, opts ...PaperOption) *Paper {
	p := &Paper{
		venues:   venues,
		prices:   prices,
		slippage: decimal.Zero,
		log:      logger.With("component", "paper"),
		resting:  make(map[string]map[string]engine.Order),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Step pulls every executable order from each venue and tries to fill
// resting ones. It returns the number of fills submitted. Step is not safe
// for concurrent use.
func (p *Paper) Step() int {
	if p.venues == nil {
		return 0
	}
	n := 0
	live := make(map[string]struct{})
	for _, v := range p.venues() {
		live[v.ID()] = struct{}{}
		book := p.resting[v.ID()]
		if book == nil {
			book = make(map[string]engine.Order)
			p.resting[v.ID()] = book
		}
		for {
			o, ok := v.NextExecutable()
			if !ok {
				break
			}
			book[o.ID] = o
		}
		for id, o := range book {
			if cur, err := v.Order(id); err != nil || !cur.Status.Open() {
				delete(book, id)
				continue
			}
			filled, keep := p.try(v, o)
			if filled {
				n++
			}
			if !keep {
				delete(book, id)
			}
		}
	}
	for id := range p.resting {
		if _, ok := live[id]; !ok {
			delete(p.resting, id)
		}
	}
	return n
}

// Resting counts orders waiting for a price.
func (p *Paper) Resting() int {
	n := 0
	for _, book := range p.resting {
		n += len(book)
	}
	return n
}

// try reports whether a fill was submitted and whether the order should
// stay resting.
func (p *Paper) try(v Venue, o engine.Order) (bool, bool) {
	mkt, ok := p.prices.Price(o.Symbol)
	if !ok && o.Type == engine.OrderTypeMarket {
		if _, err := v.RejectOrder(o.ID, "no market price for "+o.Symbol); err != nil {
			p.log.Warnf("reject %s: %v", o.ID, err)
		}
		return false, false
	}
	if !ok {
		return false, true
	}
	price, fill := p.fillPrice(o, mkt)
	if !fill {
		return false, true
	}
	err := v.SubmitFill(engine.Fill{OrderID: o.ID, Price: price, Quantity: o.Quantity})
	switch {
	case err == nil:
		p.log.Debugf("paper fill engine=%s order=%s %s %s %s@%s", v.ID(), o.ID, o.Side, o.Quantity, o.Symbol, price)
		return true, false
	case errors.Is(err, engine.ErrInboxFull):
		return false, true
	default:
		p.log.Warnf("submit fill %s: %v", o.ID, err)
		return false, false
	}
}

func (p *Paper) fillPrice(o engine.Order, mkt decimal.Decimal) (decimal.Decimal, bool) {
	buy := o.Side == engine.SideBuy
	switch o.Type {
	case engine.OrderTypeLimit:
		limit := *o.Price
		if (buy && mkt.LessThanOrEqual(limit)) || (!buy && mkt.GreaterThanOrEqual(limit)) {
			return limit, true
		}
		return decimal.Zero, false
	case engine.OrderTypeStop:
		stop := *o.Price
		if (buy && mkt.GreaterThanOrEqual(stop)) || (!buy && mkt.LessThanOrEqual(stop)) {
			return p.slip(mkt, buy), true
		}
		return decimal.Zero, false
	default:
		return p.slip(mkt, buy), true
	}
}

func (p *Paper) slip(px decimal.Decimal, buy bool) decimal.Decimal {
	if p.slippage.IsZero() {
		return px
	}
	adj := px.Mul(p.slippage)
	if buy {
		return px.Add(adj)
	}
	return px.Sub(adj)
}

// Run calls Step every interval until ctx is done.
func (p *Paper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.log.Infof("paper execution started interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Step()
		}
	}
}
