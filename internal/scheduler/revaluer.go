package scheduler

import (
	"context"
	"errors"
	"time"

	"stratexec/internal/engine"
	"stratexec/internal/logger"

	"golang.org/x/sync/errgroup"
)

const day = 24 * time.Hour

// Target is the slice of an engine the revaluer drives.
type Target interface {
	ID() string
	Running() bool
	Revalue() (engine.Portfolio, error)
	ResetDay() error
}

// Revaluer periodically revalues every running engine and rolls their
// day-start value once a day.
type Revaluer struct {
	targets  func() []Target
	interval time.Duration
	dayReset time.Duration
	log      logger.Component
}

// NewRevaluer revalues every interval. dayResetOffset is the UTC time of
// day at which each engine's day-start value is reset.
func NewRevaluer(targets func() []Target, interval, dayResetOffset time.Duration) *Revaluer {
	return &Revaluer{
		targets:  targets,
		interval: interval,
		dayReset: dayResetOffset % day,
		log:      logger.With("component", "revaluer"),
	}
}

// RegistryTargets adapts a registry to the revaluer.
func RegistryTargets(reg *engine.Registry) func() []Target {
	return func() []Target {
		engines := reg.List()
		out := make([]Target, 0, len(engines))
		for _, e := range engines {
			out = append(out, e)
		}
		return out
	}
}

// RevalueAll revalues every running target and returns how many succeeded.
func (r *Revaluer) RevalueAll() int {
	n := 0
	for _, t := range r.targets() {
		if !t.Running() {
			continue
		}
		if _, err := t.Revalue(); err != nil {
			if !errors.Is(err, engine.ErrEngineNotRunning) {
				r.log.Warnf("revalue %s: %v", t.ID(), err)
			}
			continue
		}
		n++
	}
	return n
}

// ResetDayAll resets the day-start value of every running target.
func (r *Revaluer) ResetDayAll() int {
	n := 0
	for _, t := range r.targets() {
		if !t.Running() {
			continue
		}
		if err := t.ResetDay(); err != nil {
			if !errors.Is(err, engine.ErrEngineNotRunning) {
				r.log.Warnf("reset day %s: %v", t.ID(), err)
			}
			continue
		}
		n++
	}
	if n > 0 {
		r.log.Infof("day reset for %d engines", n)
	}
	return n
}

// Run drives both schedules until ctx is done.
func (r *Revaluer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	revalue := NewAlignedScheduler("revalue", r.interval, 0)
	reset := NewAlignedScheduler("day-reset", day, r.dayReset)
	g.Go(func() error {
		return revalue.Run(ctx, func(context.Context) { r.RevalueAll() })
	})
	g.Go(func() error {
		return reset.Run(ctx, func(context.Context) { r.ResetDayAll() })
	})
	return g.Wait()
}
