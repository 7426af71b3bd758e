// Package market keeps the latest price per symbol and serves it to the
// engines as their price lookup.
package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stratexec/internal/clock"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuote = errors.New("invalid quote")

// Quote is one price observation.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
	Source string          `json:"source,omitempty"`
}

// PriceBook is a concurrency-safe last-price table. With a max age set,
// quotes older than that are treated as missing.
type PriceBook struct {
	clock  clock.Clock
	maxAge time.Duration

	mu       sync.RWMutex
	quotes   map[string]Quote
	watchers []func(Quote)
}

type Option func(*PriceBook)

func WithMaxAge(d time.Duration) Option {
	return func(b *PriceBook) { b.maxAge = d }
}

func WithClock(c clock.Clock) Option {
	return func(b *PriceBook) {
		if c != nil {
			b.clock = c
		}
	}
}

func NewPriceBook(opts ...Option) *PriceBook {
	b := &PriceBook{
		clock:  clock.NewSystem(),
		quotes: make(map[string]Quote),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Update stores q unless an equal or newer quote is already held. It
// reports whether the book changed.
func (b *PriceBook) Update(q Quote) (bool, error) {
	q.Symbol = normalize(q.Symbol)
	if q.Symbol == "" {
		return false, fmt.Errorf("%w: symbol is required", ErrInvalidQuote)
	}
	if !q.Price.IsPositive() {
		return false, fmt.Errorf("%w: %s price must be > 0, got %s", ErrInvalidQuote, q.Symbol, q.Price)
	}
	if q.At.IsZero() {
		q.At = b.clock.Now()
	}
	b.mu.Lock()
	if cur, ok := b.quotes[q.Symbol]; ok && q.At.Before(cur.At) {
		b.mu.Unlock()
		return false, nil
	}
	b.quotes[q.Symbol] = q
	watchers := append([]func(Quote){}, b.watchers...)
	b.mu.Unlock()

	for _, fn := range watchers {
		fn(q)
	}
	return true, nil
}

// Set is Update for a bare price stamped now.
func (b *PriceBook) Set(symbol string, price decimal.Decimal) error {
	_, err := b.Update(Quote{Symbol: symbol, Price: price})
	return err
}

// Quote returns the held quote, fresh or not.
func (b *PriceBook) Quote(symbol string) (Quote, bool) {
	b.mu.RLock()
	q, ok := b.quotes[normalize(symbol)]
	b.mu.RUnlock()
	return q, ok
}

// Price implements the engine price lookup.
func (b *PriceBook) Price(symbol string) (decimal.Decimal, bool) {
	q, ok := b.Quote(symbol)
	if !ok {
		return decimal.Zero, false
	}
	if b.maxAge > 0 && b.clock.Now().Sub(q.At) > b.maxAge {
		return decimal.Zero, false
	}
	return q.Price, true
}

func (b *PriceBook) Remove(symbol string) {
	b.mu.Lock()
	delete(b.quotes, normalize(symbol))
	b.mu.Unlock()
}

// Snapshot returns every held quote sorted by symbol.
func (b *PriceBook) Snapshot() []Quote {
	b.mu.RLock()
	out := make([]Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OnUpdate registers fn to run after every accepted quote, outside the
// book's lock.
func (b *PriceBook) OnUpdate(fn func(Quote)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.watchers = append(b.watchers, fn)
	b.mu.Unlock()
}
