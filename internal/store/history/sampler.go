package history

import (
	"context"
	"sync"
	"time"

	"stratexec/internal/engine"
	"stratexec/internal/events"
	"stratexec/internal/logger"
)

// Sampler keeps the latest portfolio valuation per engine and writes the
// changed ones on every tick. Valuations arriving between ticks coalesce.
type Sampler struct {
	store     *Store
	retention int

	mu      sync.Mutex
	latest  map[string]engine.Portfolio
	seqs    map[string]uint64
	written map[string]time.Time
}

func NewSampler(store *Store, retention int) *Sampler {
	return &Sampler{
		store:     store,
		retention: retention,
		latest:    make(map[string]engine.Portfolio),
		seqs:      make(map[string]uint64),
		written:   make(map[string]time.Time),
	}
}

// Attach subscribes the sampler to portfolio updates on bus.
func (s *Sampler) Attach(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(s.Handle, events.PortfolioUpdated)
}

// Handle keeps ev when it is newer than the held valuation for its engine.
func (s *Sampler) Handle(ev events.Event) {
	p, ok := ev.Payload.(engine.Portfolio)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, seen := s.seqs[ev.EngineID]; seen && ev.Seq <= last {
		return
	}
	s.seqs[ev.EngineID] = ev.Seq
	s.latest[ev.EngineID] = p
}

// Flush writes every valuation not yet stored and prunes each touched
// engine down to the retention limit.
func (s *Sampler) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	var points []Point
	for id, p := range s.latest {
		if last, ok := s.written[id]; ok && !p.ValuedAt.After(last) {
			continue
		}
		points = append(points, PointFrom(id, p))
	}
	s.mu.Unlock()
	if len(points) == 0 {
		return 0, nil
	}
	if _, err := s.store.Insert(ctx, points...); err != nil {
		return 0, err
	}
	s.mu.Lock()
	for _, p := range points {
		if p.At.After(s.written[p.EngineID]) {
			s.written[p.EngineID] = p.At
		}
	}
	s.mu.Unlock()
	if s.retention > 0 {
		for _, p := range points {
			if _, err := s.store.Prune(ctx, p.EngineID, s.retention); err != nil {
				logger.Warnf("[history] prune %s: %v", p.EngineID, err)
			}
		}
	}
	return len(points), nil
}

// Run flushes every interval until ctx is done, then flushes once more.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := s.Flush(flushCtx)
			cancel()
			if err != nil {
				logger.Warnf("[history] final flush: %v", err)
			}
			return nil
		case <-ticker.C:
			if _, err := s.Flush(ctx); err != nil {
				logger.Warnf("[history] flush: %v", err)
			}
		}
	}
}
