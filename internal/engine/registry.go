package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"stratexec/internal/events"
	"stratexec/internal/logger"
)

// Registry owns a set of independent engines. Engines share the registry's
// bus and nothing else. Each engine's fill loop runs on its own goroutine
// for as long as the engine is registered.
type Registry struct {
	ctx      context.Context
	defaults Options
	bus      *events.Bus

	mu      sync.RWMutex
	engines map[string]*registered
	ids     []string
	closed  bool
	wg      sync.WaitGroup
}

type registered struct {
	engine *Engine
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry returns a registry whose fill loops stop when ctx is done.
// defaults seeds the options of every engine it creates.
func NewRegistry(ctx context.Context, defaults Options) *Registry {
	if ctx == nil {
		ctx = context.Background()
	}
	if defaults.Bus == nil {
		defaults.Bus = events.NewBus()
	}
	return &Registry{
		ctx:      ctx,
		defaults: defaults,
		bus:      defaults.Bus,
		engines:  make(map[string]*registered),
	}
}

func (r *Registry) Bus() *events.Bus { return r.bus }

// Create builds, registers and starts the fill loop of a new engine. The
// engine itself is left in the created state.
func (r *Registry) Create(id string, tweak ...func(*Options)) (*Engine, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, validationf("engine id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.engines[id]; ok {
		return nil, fmt.Errorf("engine %s: %w", id, ErrEngineExists)
	}
	opts := r.defaults
	for _, fn := range tweak {
		if fn != nil {
			fn(&opts)
		}
	}
	opts.Bus = r.bus
	eng := New(id, opts)

	ctx, cancel := context.WithCancel(r.ctx)
	reg := &registered{engine: eng, cancel: cancel, done: make(chan struct{})}
	r.engines[id] = reg
	r.ids = append(r.ids, id)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(reg.done)
		_ = eng.Run(ctx)
	}()
	logger.Infof("engine %s registered", id)
	return eng, nil
}

// Get returns the engine registered under id.
func (r *Registry) Get(id string) (*Engine, error) {
	r.mu.RLock()
	reg, ok := r.engines[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok {
		return nil, notFoundf("engine %s", id)
	}
	return reg.engine, nil
}

// Delete stops the engine, ends its fill loop and forgets it.
func (r *Registry) Delete(id string) error {
	id = strings.TrimSpace(id)
	r.mu.Lock()
	reg, ok := r.engines[id]
	if ok {
		delete(r.engines, id)
		for i, v := range r.ids {
			if v == id {
				r.ids = append(r.ids[:i], r.ids[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return notFoundf("engine %s", id)
	}
	r.shutdown(reg)
	logger.Infof("engine %s deleted", id)
	return nil
}

func (r *Registry) shutdown(reg *registered) {
	_ = reg.engine.Stop()
	reg.cancel()
	<-reg.done
}

// List returns engines in registration order.
func (r *Registry) List() []*Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Engine, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.engines[id].engine)
	}
	return out
}

// SetThresholds applies t to every registered engine and to engines
// created later.
func (r *Registry) SetThresholds(t RiskThresholds) {
	r.mu.Lock()
	r.defaults.Thresholds = t
	engines := make([]*Engine, 0, len(r.engines))
	for _, id := range r.ids {
		engines = append(engines, r.engines[id].engine)
	}
	r.mu.Unlock()
	for _, eng := range engines {
		eng.SetThresholds(t)
	}
}

// Close stops every engine and waits for all fill loops to exit. Further
// Create calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	regs := make([]*registered, 0, len(r.engines))
	for _, id := range r.ids {
		regs = append(regs, r.engines[id])
	}
	r.engines = make(map[string]*registered)
	r.ids = nil
	r.mu.Unlock()

	for _, reg := range regs {
		r.shutdown(reg)
	}
	r.wg.Wait()
}
