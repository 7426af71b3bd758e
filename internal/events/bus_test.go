package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) types() []Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Type, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	all := &collector{}
	orders := &collector{}
	bus.Subscribe(all.handle)
	bus.Subscribe(orders.handle, OrderCreated, OrderFilled)

	bus.Publish(
		Event{Seq: 1, Type: EngineStarted},
		Event{Seq: 2, Type: OrderCreated},
		Event{Seq: 3, Type: PositionUpdated},
		Event{Seq: 4, Type: OrderFilled},
	)

	assert.Equal(t, []Type{EngineStarted, OrderCreated, PositionUpdated, OrderFilled}, all.types())
	assert.Equal(t, []Type{OrderCreated, OrderFilled}, orders.types())
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	c := &collector{}
	sub := bus.Subscribe(c.handle)
	require.Equal(t, 1, bus.Len())

	bus.Publish(Event{Type: EngineStarted})
	sub.Close()
	sub.Close()
	bus.Publish(Event{Type: EngineStopped})

	assert.Equal(t, []Type{EngineStarted}, c.types())
	assert.Equal(t, 0, bus.Len())
}

func TestHandlerMayUnsubscribeAndPanic(t *testing.T) {
	bus := NewBus()
	var self *Subscription
	calls := 0
	self = bus.Subscribe(func(Event) {
		calls++
		self.Close()
	})
	bus.Subscribe(func(Event) { panic("boom") })
	after := &collector{}
	bus.Subscribe(after.handle)

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: OrderCreated}, Event{Type: OrderFilled})
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, []Type{OrderCreated, OrderFilled}, after.types())
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() { bus.Publish(Event{Type: EngineStarted}) })
	assert.Nil(t, bus.Subscribe(nil))
}
