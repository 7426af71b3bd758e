package app

import (
	"context"
	"fmt"
	"strings"

	"stratexec/internal/config"
	"stratexec/internal/engine"
	"stratexec/internal/events"
	"stratexec/internal/execution"
	"stratexec/internal/logger"
	"stratexec/internal/market"
	"stratexec/internal/pkg/circuit"
	"stratexec/internal/scheduler"
	"stratexec/internal/store/history"
	"stratexec/internal/store/journal"
	adminhttp "stratexec/internal/transport/http/admin"
)

// AppBuilder assembles an App from configuration. The opener and server
// hooks exist so tests can swap collaborators.
type AppBuilder struct {
	cfg        *config.Config
	configPath string

	journalFn func(config.StoreConfig) (*journal.Store, error)
	historyFn func(config.StoreConfig) (*history.Store, error)
	httpFn    func(adminhttp.ServerConfig) (*adminhttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithConfigPath enables hot reload of the risk section from path.
func WithConfigPath(path string) AppBuilderOption {
	return func(b *AppBuilder) { b.configPath = strings.TrimSpace(path) }
}

func WithServerFactory(fn func(adminhttp.ServerConfig) (*adminhttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.httpFn = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		journalFn: openJournal,
		historyFn: openHistory,
		httpFn:    adminhttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func openJournal(cfg config.StoreConfig) (*journal.Store, error) {
	return journal.Open(cfg.JournalPath)
}

func openHistory(cfg config.StoreConfig) (*history.Store, error) {
	return history.Open(cfg.HistoryPath)
}

func provideAppBuilder(cfg *config.Config, opts []AppBuilderOption) *AppBuilder {
	return NewAppBuilder(cfg, opts...)
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	a.prices = market.NewPriceBook(market.WithMaxAge(cfg.Market.MaxQuoteAge))
	for sym, px := range cfg.Market.Prices {
		if _, err := a.prices.Update(market.Quote{Symbol: sym, Price: px, Source: "config"}); err != nil {
			return nil, fmt.Errorf("seed price %s: %w", sym, err)
		}
	}

	bus := events.NewBus()
	a.registry = engine.NewRegistry(ctx, engine.Options{
		QueueCapacity: cfg.Engine.QueueCapacity,
		FillInbox:     cfg.Engine.FillInbox,
		Thresholds:    cfg.Risk.Thresholds(),
		Bus:           bus,
		Prices:        a.prices,
		OnFillError: func(f engine.Fill, err error) {
			logger.Warnf("fill for order %s dropped: %v", f.OrderID, err)
		},
	})

	if cfg.Store.JournalEnabled {
		store, err := b.journalFn(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.journal = store
		breaker := circuit.New("journal", cfg.Store.JournalFailures, cfg.Store.JournalCooldown)
		breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
			logger.Warnf("[%s] breaker %s -> %s", name, from, to)
		})
		a.recorder = journal.NewRecorder(store, breaker, 0)
		a.recorder.Attach(bus)
	}
	if cfg.Store.HistoryEnabled {
		store, err := b.historyFn(cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.history = store
		a.sampler = history.NewSampler(store, cfg.Store.HistoryRetention)
		a.sampler.Attach(bus)
	}

	if err := bootEngines(a.registry, cfg.Engines); err != nil {
		return nil, err
	}

	a.revaluer = scheduler.NewRevaluer(scheduler.RegistryTargets(a.registry),
		cfg.Scheduler.RevalueInterval, cfg.Scheduler.DayResetOffset)
	if cfg.Execution.Paper() {
		a.paper = execution.NewPaper(registryVenues(a.registry), a.prices,
			execution.WithSlippageBps(cfg.Execution.SlippageBps))
	}

	serverCfg := adminhttp.ServerConfig{
		Addr:         cfg.App.HTTPAddr,
		Registry:     a.registry,
		Prices:       a.prices,
		InitialValue: cfg.Engine.InitialValue,
		InitialCash:  cfg.Engine.InitialCash,
	}
	if a.journal != nil {
		serverCfg.Journal = a.journal
	}
	if a.history != nil {
		serverCfg.History = a.history
	}
	if a.http, err = b.httpFn(serverCfg); err != nil {
		return nil, err
	}

	if b.configPath != "" {
		w, err := config.NewWatcher(b.configPath, cfg)
		if err != nil {
			return nil, err
		}
		reg := a.registry
		w.Subscribe(func(next *config.Config) {
			reg.SetThresholds(next.Risk.Thresholds())
			logger.SetLevel(next.App.LogLevel)
			logger.Infof("config reloaded: risk thresholds %+v", next.Risk.Thresholds())
		})
		a.watcher = w
	}

	a.Summary = buildSummary(cfg, a.registry)
	return a, nil
}

func bootEngines(reg *engine.Registry, entries []config.EngineEntry) error {
	for _, entry := range entries {
		eng, err := reg.Create(entry.ID)
		if err != nil {
			return fmt.Errorf("create engine %s: %w", entry.ID, err)
		}
		if !entry.AutoStart {
			continue
		}
		if err := eng.Start(entry.InitialValue, entry.InitialCash); err != nil {
			return fmt.Errorf("start engine %s: %w", entry.ID, err)
		}
	}
	return nil
}

func registryVenues(reg *engine.Registry) func() []execution.Venue {
	return func() []execution.Venue {
		engines := reg.List()
		out := make([]execution.Venue, 0, len(engines))
		for _, e := range engines {
			out = append(out, e)
		}
		return out
	}
}
