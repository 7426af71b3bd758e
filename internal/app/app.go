package app

import (
	"context"
	"errors"
	"fmt"

	"stratexec/internal/config"
	"stratexec/internal/engine"
	"stratexec/internal/execution"
	"stratexec/internal/logger"
	"stratexec/internal/market"
	"stratexec/internal/scheduler"
	"stratexec/internal/store/history"
	"stratexec/internal/store/journal"
	adminhttp "stratexec/internal/transport/http/admin"

	"golang.org/x/sync/errgroup"
)

// App owns the engines and every long-running collaborator around them.
type App struct {
	cfg      *config.Config
	registry *engine.Registry
	prices   *market.PriceBook
	revaluer *scheduler.Revaluer
	paper    *execution.Paper
	http     *adminhttp.Server
	watcher  *config.Watcher

	journal  *journal.Store
	recorder *journal.Recorder
	history  *history.Store
	sampler  *history.Sampler

	Summary *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg, opts)
}

// Run serves until ctx is cancelled. On the way out the engines are
// stopped first so their final events still reach the stores.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.watcher != nil {
		a.watcher.Start()
	}

	persistCtx, stopPersist := context.WithCancel(context.WithoutCancel(ctx))
	persist, persistCtx := errgroup.WithContext(persistCtx)
	if a.recorder != nil {
		persist.Go(func() error { return a.recorder.Run(persistCtx) })
	}
	if a.sampler != nil {
		persist.Go(func() error { return a.sampler.Run(persistCtx, a.cfg.Store.HistoryInterval) })
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("admin http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error { return a.revaluer.Run(ctx) })
	if a.paper != nil {
		group.Go(func() error { return a.paper.Run(ctx, a.cfg.Execution.Interval) })
	}

	err := group.Wait()
	a.registry.Close()
	stopPersist()
	err = errors.Join(err, persist.Wait())
	if a.recorder != nil {
		st := a.recorder.Stats()
		logger.Infof("journal written=%d dropped=%d", st.Written, st.Dropped)
	}
	a.release()
	return err
}

func (a *App) release() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("close journal: %v", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warnf("close history: %v", err)
		}
	}
}

func (a *App) Registry() *engine.Registry { return a.registry }

func (a *App) Prices() *market.PriceBook { return a.prices }
