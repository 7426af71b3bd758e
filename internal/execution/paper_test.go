package execution

import (
	"context"
	"testing"
	"time"

	"stratexec/internal/clock"
	"stratexec/internal/engine"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

type MockVenue struct {
	mock.Mock
	queue []engine.Order
}

func (m *MockVenue) ID() string { return "mock" }

func (m *MockVenue) Order(id string) (engine.Order, error) {
	args := m.Called(id)
	return args.Get(0).(engine.Order), args.Error(1)
}

func (m *MockVenue) NextExecutable() (engine.Order, bool) {
	if len(m.queue) == 0 {
		return engine.Order{}, false
	}
	o := m.queue[0]
	m.queue = m.queue[1:]
	return o, true
}

func (m *MockVenue) SubmitFill(f engine.Fill) error {
	args := m.Called(f)
	return args.Error(0)
}

func (m *MockVenue) RejectOrder(id, reason string) (engine.Order, error) {
	args := m.Called(id, reason)
	return engine.Order{}, args.Error(0)
}

type fixedPrices map[string]decimal.Decimal

func (f fixedPrices) Price(symbol string) (decimal.Decimal, bool) {
	px, ok := f[symbol]
	return px, ok
}

func executing(o engine.Order) engine.Order {
	o.Status = engine.StatusExecuting
	return o
}

func single(v Venue) func() []Venue {
	return func() []Venue { return []Venue{v} }
}

func TestPaper_MarketFillsWithSlippage(t *testing.T) {
	o := executing(engine.Order{ID: "o1", Symbol: "BTC", Side: engine.SideBuy, Type: engine.OrderTypeMarket, Quantity: dec("2")})
	v := &MockVenue{queue: []engine.Order{o}}
	v.On("Order", "o1").Return(o, nil)
	v.On("SubmitFill", mock.MatchedBy(func(f engine.Fill) bool {
		return f.OrderID == "o1" && f.Price.Equal(dec("101")) && f.Quantity.Equal(dec("2"))
	})).Return(nil).Once()

	p := NewPaper(single(v), fixedPrices{"BTC": dec("100")}, WithSlippageBps(100))
	assert.Equal(t, 1, p.Step())
	assert.Zero(t, p.Resting())
	v.AssertExpectations(t)
}

func TestPaper_MarketWithoutPriceRejects(t *testing.T) {
	o := executing(engine.Order{ID: "o1", Symbol: "XYZ", Side: engine.SideSell, Type: engine.OrderTypeMarket, Quantity: dec("1")})
	v := &MockVenue{queue: []engine.Order{o}}
	v.On("Order", "o1").Return(o, nil)
	v.On("RejectOrder", "o1", mock.Anything).Return(nil).Once()

	p := NewPaper(single(v), fixedPrices{})
	assert.Zero(t, p.Step())
	assert.Zero(t, p.Resting())
	v.AssertExpectations(t)
	v.AssertNotCalled(t, "SubmitFill", mock.Anything)
}

func TestPaper_LimitRestsUntilCrossed(t *testing.T) {
	o := executing(engine.Order{ID: "l1", Symbol: "ETH", Side: engine.SideBuy, Type: engine.OrderTypeLimit, Quantity: dec("1"), Price: decp("2000")})
	v := &MockVenue{queue: []engine.Order{o}}
	v.On("Order", "l1").Return(o, nil)
	prices := fixedPrices{"ETH": dec("2100")}

	p := NewPaper(single(v), prices)
	assert.Zero(t, p.Step())
	assert.Equal(t, 1, p.Resting())

	prices["ETH"] = dec("1990")
	v.On("SubmitFill", mock.MatchedBy(func(f engine.Fill) bool {
		return f.Price.Equal(dec("2000"))
	})).Return(nil).Once()
	assert.Equal(t, 1, p.Step())
	assert.Zero(t, p.Resting())
	v.AssertExpectations(t)
}

func TestPaper_StopTriggers(t *testing.T) {
	o := executing(engine.Order{ID: "s1", Symbol: "BTC", Side: engine.SideSell, Type: engine.OrderTypeStop, Quantity: dec("1"), Price: decp("90")})
	v := &MockVenue{queue: []engine.Order{o}}
	v.On("Order", "s1").Return(o, nil)
	prices := fixedPrices{"BTC": dec("95")}

	p := NewPaper(single(v), prices)
	assert.Zero(t, p.Step())

	prices["BTC"] = dec("89")
	v.On("SubmitFill", mock.MatchedBy(func(f engine.Fill) bool {
		return f.Price.Equal(dec("89"))
	})).Return(nil).Once()
	assert.Equal(t, 1, p.Step())
	v.AssertExpectations(t)
}

func TestPaper_DropsOrdersNoLongerOpen(t *testing.T) {
	o := executing(engine.Order{ID: "l1", Symbol: "ETH", Side: engine.SideBuy, Type: engine.OrderTypeLimit, Quantity: dec("1"), Price: decp("1")})
	v := &MockVenue{queue: []engine.Order{o}}
	cancelled := o
	cancelled.Status = engine.StatusCancelled
	v.On("Order", "l1").Return(o, nil).Once()
	v.On("Order", "l1").Return(cancelled, nil)

	p := NewPaper(single(v), fixedPrices{"ETH": dec("5")})
	p.Step()
	require.Equal(t, 1, p.Resting())
	p.Step()
	assert.Zero(t, p.Resting())
}

func TestPaper_InboxFullKeepsResting(t *testing.T) {
	o := executing(engine.Order{ID: "o1", Symbol: "BTC", Side: engine.SideBuy, Type: engine.OrderTypeMarket, Quantity: dec("1")})
	v := &MockVenue{queue: []engine.Order{o}}
	v.On("Order", "o1").Return(o, nil)
	v.On("SubmitFill", mock.Anything).Return(engine.ErrInboxFull).Once()
	v.On("SubmitFill", mock.Anything).Return(nil).Once()

	p := NewPaper(single(v), fixedPrices{"BTC": dec("1")})
	assert.Zero(t, p.Step())
	assert.Equal(t, 1, p.Resting())
	assert.Equal(t, 1, p.Step())
}

func TestPaper_AgainstEngine(t *testing.T) {
	prices := fixedPrices{"BTC": dec("50000")}
	eng := engine.New("paper", engine.Options{
		Clock:  clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		Prices: prices,
	})
	require.NoError(t, eng.Start(dec("100000"), dec("100000")))
	o, err := eng.SubmitOrder(engine.OrderRequest{StrategyID: "s", Symbol: "BTC", Side: engine.SideBuy, Type: engine.OrderTypeMarket, Quantity: dec("1")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	p := NewPaper(func() []Venue { return []Venue{eng} }, prices)
	require.Equal(t, 1, p.Step())
	require.Eventually(t, func() bool {
		got, err := eng.Order(o.ID)
		return err == nil && got.Status == engine.StatusFilled
	}, time.Second, 5*time.Millisecond)
	assert.True(t, eng.PortfolioSnapshot().Cash.Equal(dec("50000")))
}
