package engine

import (
	"context"
	"testing"
	"time"

	"stratexec/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Lifecycle(t *testing.T) {
	reg := NewRegistry(context.Background(), Options{})
	defer reg.Close()

	a, err := reg.Create("alpha")
	require.NoError(t, err)
	_, err = reg.Create(" beta ")
	require.NoError(t, err)

	_, err = reg.Create("alpha")
	require.ErrorIs(t, err, ErrEngineExists)
	assert.Equal(t, KindInvalidState, KindOf(err))

	_, err = reg.Create("")
	require.ErrorIs(t, err, ErrValidation)

	got, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Same(t, a, got)

	ids := []string{}
	for _, e := range reg.List() {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []string{"alpha", "beta"}, ids)

	require.NoError(t, a.Start(d("100"), d("100")))
	require.NoError(t, reg.Delete("alpha"))
	assert.Equal(t, StateStopped, a.State(), "delete stops the engine")

	_, err = reg.Get("alpha")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, reg.Delete("alpha"), ErrNotFound)
}

func TestRegistry_EnginesAreIndependent(t *testing.T) {
	reg := NewRegistry(context.Background(), Options{})
	defer reg.Close()

	var seen []string
	reg.Bus().Subscribe(func(ev events.Event) {
		seen = append(seen, ev.EngineID)
	}, events.OrderCreated)

	a, err := reg.Create("a")
	require.NoError(t, err)
	b, err := reg.Create("b")
	require.NoError(t, err)
	require.NoError(t, a.Start(d("1000"), d("1000")))
	require.NoError(t, b.Start(d("1000"), d("1000")))

	buy(t, a, "BTC", "1")
	assert.Len(t, a.ListOrders(OrderFilter{}), 1)
	assert.Empty(t, b.ListOrders(OrderFilter{}))
	assert.Equal(t, []string{"a"}, seen)
}

func TestRegistry_FillLoopRuns(t *testing.T) {
	reg := NewRegistry(context.Background(), Options{})
	defer reg.Close()

	eng, err := reg.Create("loop")
	require.NoError(t, err)
	require.NoError(t, eng.Start(d("1000"), d("1000")))
	o := buy(t, eng, "BTC", "1")
	require.NoError(t, eng.SubmitFill(Fill{OrderID: o.ID, Price: d("10"), Quantity: d("1")}))

	require.Eventually(t, func() bool {
		got, err := eng.Order(o.ID)
		return err == nil && got.Status == StatusFilled
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_SetThresholds(t *testing.T) {
	reg := NewRegistry(context.Background(), Options{})
	defer reg.Close()

	before, err := reg.Create("before")
	require.NoError(t, err)
	th := RiskThresholds{HighDrawdown: 0.4, HighDailyMove: 0.3, MediumDrawdown: 0.2, MediumDailyMove: 0.1}
	reg.SetThresholds(th)
	after, err := reg.Create("after")
	require.NoError(t, err)

	assert.Equal(t, th, before.Snapshot().Thresholds)
	assert.Equal(t, th, after.Snapshot().Thresholds)
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry(context.Background(), Options{})
	eng, err := reg.Create("x")
	require.NoError(t, err)
	require.NoError(t, eng.Start(d("1"), d("1")))

	reg.Close()
	reg.Close()
	assert.Equal(t, StateStopped, eng.State())
	assert.Empty(t, reg.List())
	_, err = reg.Create("y")
	require.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_CreateTweak(t *testing.T) {
	reg := NewRegistry(context.Background(), Options{QueueCapacity: 10})
	defer reg.Close()

	eng, err := reg.Create("small", func(o *Options) { o.QueueCapacity = 1 })
	require.NoError(t, err)
	require.NoError(t, eng.Start(d("1"), d("1")))
	buy(t, eng, "BTC", "1")
	_, err = eng.SubmitOrder(OrderRequest{StrategyID: "s1", Symbol: "BTC", Side: SideBuy, Type: OrderTypeMarket, Quantity: d("1")})
	require.ErrorIs(t, err, ErrQueueFull)
}
