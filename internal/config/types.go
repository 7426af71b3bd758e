package config

import (
	"strings"
	"time"

	"stratexec/internal/engine"

	"github.com/shopspring/decimal"
)

// Config is the process configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Engine    EngineConfig    `toml:"engine"`
	Engines   []EngineEntry   `toml:"engines"`
	Risk      RiskConfig      `toml:"risk"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Execution ExecutionConfig `toml:"execution"`
	Market    MarketConfig    `toml:"market"`
	Store     StoreConfig     `toml:"store"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// EngineConfig holds the defaults every engine is created with.
type EngineConfig struct {
	QueueCapacity int             `toml:"queue_capacity"`
	FillInbox     int             `toml:"fill_inbox"`
	InitialValue  decimal.Decimal `toml:"initial_value"`
	InitialCash   decimal.Decimal `toml:"initial_cash"`
}

// EngineEntry is an engine created at boot.
type EngineEntry struct {
	ID           string          `toml:"id"`
	InitialValue decimal.Decimal `toml:"initial_value"`
	InitialCash  decimal.Decimal `toml:"initial_cash"`
	AutoStart    bool            `toml:"auto_start"`
}

// RiskConfig mirrors engine.RiskThresholds. It is the only section that
// is reloaded while running.
type RiskConfig struct {
	HighDrawdown    float64 `toml:"high_drawdown"`
	HighDailyMove   float64 `toml:"high_daily_move"`
	MediumDrawdown  float64 `toml:"medium_drawdown"`
	MediumDailyMove float64 `toml:"medium_daily_move"`
}

func (r RiskConfig) Thresholds() engine.RiskThresholds {
	return engine.RiskThresholds{
		HighDrawdown:    r.HighDrawdown,
		HighDailyMove:   r.HighDailyMove,
		MediumDrawdown:  r.MediumDrawdown,
		MediumDailyMove: r.MediumDailyMove,
	}
}

type SchedulerConfig struct {
	RevalueInterval time.Duration `toml:"revalue_interval"`
	DayResetOffset  time.Duration `toml:"day_reset_offset"`
}

const (
	ExecutionManual = "manual"
	ExecutionPaper  = "paper"
)

type ExecutionConfig struct {
	Mode        string        `toml:"mode"`
	Interval    time.Duration `toml:"interval"`
	SlippageBps int64         `toml:"slippage_bps"`
}

func (e ExecutionConfig) Paper() bool {
	return strings.EqualFold(strings.TrimSpace(e.Mode), ExecutionPaper)
}

type MarketConfig struct {
	MaxQuoteAge time.Duration              `toml:"max_quote_age"`
	Prices      map[string]decimal.Decimal `toml:"prices"`
}

type StoreConfig struct {
	JournalEnabled   bool          `toml:"journal_enabled"`
	JournalPath      string        `toml:"journal_path"`
	JournalFailures  int           `toml:"journal_failure_threshold"`
	JournalCooldown  time.Duration `toml:"journal_cooldown"`
	HistoryEnabled   bool          `toml:"history_enabled"`
	HistoryPath      string        `toml:"history_path"`
	HistoryRetention int           `toml:"history_retention"`
	HistoryInterval  time.Duration `toml:"history_interval"`
}

// keySet tracks the dotted paths set explicitly in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault fills one field unless the key was set explicitly.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
