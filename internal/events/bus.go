package events

import (
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"stratexec/internal/logger"
)

// Bus fans events out to subscribers. The zero value is not usable; use NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      uint64
	bus     *Bus
	handler Handler
	types   map[Type]struct{}
	closed  atomic.Bool
}

// Subscribe registers h for the given types, or for every type when none
// are given.
func (b *Bus) Subscribe(h Handler, types ...Type) *Subscription {
	if h == nil {
		return nil
	}
	sub := &Subscription{bus: b, handler: h}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Close detaches the subscription. Safe to call more than once, including
// from inside the handler.
func (s *Subscription) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
}

func (s *Subscription) wants(t Type) bool {
	if s.closed.Load() {
		return false
	}
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers events in order to every matching subscriber, oldest
// subscription first. The bus lock is not held while handlers run, so a
// handler may subscribe, unsubscribe or call back into the publisher.
func (b *Bus) Publish(evts ...Event) {
	if len(evts) == 0 {
		return
	}
	subs := b.snapshot()
	if len(subs) == 0 {
		return
	}
	for _, evt := range evts {
		for _, sub := range subs {
			if !sub.wants(evt.Type) {
				continue
			}
			deliver(sub, evt)
		}
	}
}

func (b *Bus) snapshot() []*Subscription {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

func deliver(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("event subscriber %d panic on %s: %v\n%s", sub.id, evt.Type, r, debug.Stack())
		}
	}()
	sub.handler(evt)
}
