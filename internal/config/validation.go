package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Engines))
	for i, e := range c.Engines {
		if e.ID == "" {
			return fmt.Errorf("engines[%d].id cannot be empty", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("engines[%d].id %q is duplicated", i, e.ID)
		}
		seen[e.ID] = true
		if e.InitialValue.IsNegative() || e.InitialCash.IsNegative() {
			return fmt.Errorf("engines.%s initial value and cash must be >= 0", e.ID)
		}
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.QueueCapacity <= 0 {
		return fmt.Errorf("engine.queue_capacity must be > 0")
	}
	if e.FillInbox <= 0 {
		return fmt.Errorf("engine.fill_inbox must be > 0")
	}
	if e.InitialValue.IsNegative() {
		return fmt.Errorf("engine.initial_value must be >= 0")
	}
	if e.InitialCash.IsNegative() {
		return fmt.Errorf("engine.initial_cash must be >= 0")
	}
	return nil
}

// validate checks that each threshold is a fraction and that the medium
// band sits below the high band.
func (r *RiskConfig) validate() error {
	fields := []struct {
		key string
		val float64
	}{
		{"risk.high_drawdown", r.HighDrawdown},
		{"risk.high_daily_move", r.HighDailyMove},
		{"risk.medium_drawdown", r.MediumDrawdown},
		{"risk.medium_daily_move", r.MediumDailyMove},
	}
	for _, f := range fields {
		if f.val <= 0 || f.val > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", f.key, f.val)
		}
	}
	if r.MediumDrawdown > r.HighDrawdown {
		return fmt.Errorf("risk.medium_drawdown must not exceed risk.high_drawdown")
	}
	if r.MediumDailyMove > r.HighDailyMove {
		return fmt.Errorf("risk.medium_daily_move must not exceed risk.high_daily_move")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.RevalueInterval <= 0 {
		return fmt.Errorf("scheduler.revalue_interval must be > 0")
	}
	if s.DayResetOffset < 0 {
		return fmt.Errorf("scheduler.day_reset_offset must be >= 0")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	switch e.Mode {
	case ExecutionManual, ExecutionPaper:
	default:
		return fmt.Errorf("execution.mode must be %s or %s, got %q", ExecutionManual, ExecutionPaper, e.Mode)
	}
	if e.SlippageBps < 0 {
		return fmt.Errorf("execution.slippage_bps must be >= 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if m.MaxQuoteAge < 0 {
		return fmt.Errorf("market.max_quote_age must be >= 0")
	}
	for sym, px := range m.Prices {
		if !px.IsPositive() {
			return fmt.Errorf("market.prices.%s must be > 0", sym)
		}
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if s.JournalEnabled && strings.TrimSpace(s.JournalPath) == "" {
		return fmt.Errorf("store.journal_path is required when the journal is enabled")
	}
	if s.HistoryEnabled && strings.TrimSpace(s.HistoryPath) == "" {
		return fmt.Errorf("store.history_path is required when history is enabled")
	}
	return nil
}
