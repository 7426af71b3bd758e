package journal

import (
	"context"
	"sync/atomic"
	"time"

	"stratexec/internal/events"
	"stratexec/internal/logger"
	"stratexec/internal/pkg/circuit"
)

const (
	defaultBuffer = 1024
	maxBatch      = 128
	flushTimeout  = 5 * time.Second
)

// Appender is the write side of the journal.
type Appender interface {
	Append(ctx context.Context, evts ...events.Event) error
}

// Recorder copies bus events into the journal from its own goroutine so
// publishers never wait on disk. Writes go through a circuit breaker; while
// it is open, or when the buffer is full, events are dropped and counted.
type Recorder struct {
	store   Appender
	breaker *circuit.Breaker
	ch      chan events.Event

	written atomic.Int64
	dropped atomic.Int64
}

func NewRecorder(store Appender, breaker *circuit.Breaker, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if breaker == nil {
		breaker = circuit.New("journal", 5, 30*time.Second)
	}
	return &Recorder{store: store, breaker: breaker, ch: make(chan events.Event, buffer)}
}

// Attach subscribes the recorder to every event on bus.
func (r *Recorder) Attach(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(r.Handle)
}

// Handle enqueues ev without blocking.
func (r *Recorder) Handle(ev events.Event) {
	select {
	case r.ch <- ev:
	default:
		if n := r.dropped.Add(1); n == 1 || n%1000 == 0 {
			logger.Warnf("[journal] buffer full, dropped=%d", n)
		}
	}
}

// Run writes queued events in batches until ctx is done, then flushes what
// is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case ev := <-r.ch:
			r.write(ctx, r.batch(ev))
		}
	}
}

func (r *Recorder) batch(first events.Event) []events.Event {
	out := []events.Event{first}
	for len(out) < maxBatch {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case ev := <-r.ch:
			r.write(ctx, r.batch(ev))
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, batch []events.Event) {
	err := r.breaker.Do(func() error {
		return r.store.Append(ctx, batch...)
	})
	if err != nil {
		r.dropped.Add(int64(len(batch)))
		logger.Warnf("[journal] dropped %d events: %v", len(batch), err)
		return
	}
	r.written.Add(int64(len(batch)))
}

// Stats reports counters and breaker state.
type Stats struct {
	Written int64         `json:"written"`
	Dropped int64         `json:"dropped"`
	Pending int           `json:"pending"`
	Breaker circuit.Stats `json:"breaker"`
}

func (r *Recorder) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Pending: len(r.ch),
		Breaker: r.breaker.Stats(),
	}
}
