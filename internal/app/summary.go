package app

import (
	"fmt"
	"sort"
	"strings"

	"stratexec/internal/config"
	"stratexec/internal/engine"
)

type StartupSummary struct {
	Env       string
	HTTPAddr  string
	Engines   []EngineLine
	Execution string
	Revalue   string
	Journal   string
	History   string
	Prices    []string
	Risk      engine.RiskThresholds
}

type EngineLine struct {
	ID    string
	State engine.State
	Value string
	Cash  string
}

func buildSummary(cfg *config.Config, reg *engine.Registry) *StartupSummary {
	s := &StartupSummary{
		Env:       cfg.App.Env,
		HTTPAddr:  cfg.App.HTTPAddr,
		Execution: cfg.Execution.Mode,
		Revalue:   cfg.Scheduler.RevalueInterval.String(),
		Journal:   "disabled",
		History:   "disabled",
		Risk:      cfg.Risk.Thresholds(),
	}
	if cfg.Execution.Paper() {
		s.Execution = fmt.Sprintf("paper (tick=%s slippage=%dbps)", cfg.Execution.Interval, cfg.Execution.SlippageBps)
	}
	if cfg.Store.JournalEnabled {
		s.Journal = cfg.Store.JournalPath
	}
	if cfg.Store.HistoryEnabled {
		s.History = fmt.Sprintf("%s (every %s, keep %d)", cfg.Store.HistoryPath, cfg.Store.HistoryInterval, cfg.Store.HistoryRetention)
	}
	for _, eng := range reg.List() {
		snap := eng.Snapshot()
		s.Engines = append(s.Engines, EngineLine{
			ID:    snap.EngineID,
			State: snap.State,
			Value: snap.Portfolio.PortfolioValue.String(),
			Cash:  snap.Portfolio.Cash.String(),
		})
	}
	for sym, px := range cfg.Market.Prices {
		s.Prices = append(s.Prices, sym+"="+px.String())
	}
	sort.Strings(s.Prices)
	return s
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("STARTUP SUMMARY")/2, "STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf("  env:        %s\n", s.Env)
	fmt.Printf("  admin http: %s\n", s.HTTPAddr)
	fmt.Printf("  execution:  %s\n", s.Execution)
	fmt.Printf("  revalue:    every %s\n", s.Revalue)
	fmt.Printf("  journal:    %s\n", s.Journal)
	fmt.Printf("  history:    %s\n", s.History)
	fmt.Printf("  prices:     %s\n", formatList(s.Prices))
	fmt.Printf("  risk:       high dd>%.2f move>%.2f, medium dd>%.2f move>%.2f\n",
		s.Risk.HighDrawdown, s.Risk.HighDailyMove, s.Risk.MediumDrawdown, s.Risk.MediumDailyMove)
	fmt.Println()

	fmt.Println("[ENGINES]")
	if len(s.Engines) == 0 {
		fmt.Println("  (none)")
	}
	for _, e := range s.Engines {
		fmt.Printf("  > %s state=%s value=%s cash=%s\n", e.ID, e.State, e.Value, e.Cash)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
