package config

import (
	"strings"
	"time"

	"stratexec/internal/engine"

	"github.com/shopspring/decimal"
)

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultAppLogPath       = "data/logs/stratexec.log"
	defaultInitialValue     = 100000
	defaultRevalueInterval  = time.Minute
	defaultExecutionMode    = ExecutionManual
	defaultExecutionTick    = time.Second
	defaultJournalPath      = "data/journal.db"
	defaultJournalFailures  = 5
	defaultJournalCooldown  = 30 * time.Second
	defaultHistoryPath      = "data/history.db"
	defaultHistoryRetention = 10000
	defaultHistoryInterval  = 10 * time.Second
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	for i := range c.Engines {
		c.Engines[i].applyDefaults(c.Engine)
	}
	c.Market.normalize()
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.queue_capacity",
			need:  func() bool { return e.QueueCapacity <= 0 },
			apply: func() { e.QueueCapacity = engine.DefaultQueueCapacity },
		},
		fieldDefault{
			key:   "engine.fill_inbox",
			need:  func() bool { return e.FillInbox <= 0 },
			apply: func() { e.FillInbox = engine.DefaultFillInbox },
		},
		fieldDefault{
			key:   "engine.initial_value",
			need:  func() bool { return e.InitialValue.IsZero() },
			apply: func() { e.InitialValue = decimal.NewFromInt(defaultInitialValue) },
		},
	)
	// cash follows value unless given
	if !keys.isSet("engine.initial_cash") && e.InitialCash.IsZero() {
		e.InitialCash = e.InitialValue
	}
}

func (e *EngineEntry) applyDefaults(base EngineConfig) {
	e.ID = strings.TrimSpace(e.ID)
	if e.InitialValue.IsZero() {
		e.InitialValue = base.InitialValue
	}
	if e.InitialCash.IsZero() {
		e.InitialCash = e.InitialValue
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	def := engine.DefaultThresholds()
	applyFieldDefaults(keys,
		floatFieldDefault("risk.high_drawdown", &r.HighDrawdown, def.HighDrawdown),
		floatFieldDefault("risk.high_daily_move", &r.HighDailyMove, def.HighDailyMove),
		floatFieldDefault("risk.medium_drawdown", &r.MediumDrawdown, def.MediumDrawdown),
		floatFieldDefault("risk.medium_daily_move", &r.MediumDailyMove, def.MediumDailyMove),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "scheduler.revalue_interval",
			need:  func() bool { return s.RevalueInterval <= 0 },
			apply: func() { s.RevalueInterval = defaultRevalueInterval },
		},
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("execution.mode", &e.Mode, defaultExecutionMode),
		fieldDefault{
			key:   "execution.interval",
			need:  func() bool { return e.Interval <= 0 },
			apply: func() { e.Interval = defaultExecutionTick },
		},
	)
	e.Mode = strings.ToLower(strings.TrimSpace(e.Mode))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("store.journal_enabled", &s.JournalEnabled, true),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
		boolFieldDefault("store.history_enabled", &s.HistoryEnabled, true),
		stringFieldDefault("store.history_path", &s.HistoryPath, defaultHistoryPath),
		fieldDefault{
			key:   "store.journal_failure_threshold",
			need:  func() bool { return s.JournalFailures <= 0 },
			apply: func() { s.JournalFailures = defaultJournalFailures },
		},
		fieldDefault{
			key:   "store.journal_cooldown",
			need:  func() bool { return s.JournalCooldown <= 0 },
			apply: func() { s.JournalCooldown = defaultJournalCooldown },
		},
		fieldDefault{
			key:   "store.history_retention",
			need:  func() bool { return s.HistoryRetention <= 0 },
			apply: func() { s.HistoryRetention = defaultHistoryRetention },
		},
		fieldDefault{
			key:   "store.history_interval",
			need:  func() bool { return s.HistoryInterval <= 0 },
			apply: func() { s.HistoryInterval = defaultHistoryInterval },
		},
	)
}

func (m *MarketConfig) normalize() {
	if len(m.Prices) == 0 {
		return
	}
	out := make(map[string]decimal.Decimal, len(m.Prices))
	for sym, px := range m.Prices {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			out[sym] = px
		}
	}
	m.Prices = out
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
