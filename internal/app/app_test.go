package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stratexec/internal/config"
	"stratexec/internal/engine"
	"stratexec/internal/store/history"
	"stratexec/internal/store/journal"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
app:
  log_level: warn
  log_path: ""
  http_addr: "127.0.0.1:0"
engine:
  initial_value: 10000
engines:
  - id: main
    auto_start: true
  - id: idle
risk:
  high_drawdown: 0.15
  high_daily_move: 0.10
  medium_drawdown: 0.05
  medium_daily_move: 0.03
execution:
  mode: paper
  interval: 10ms
market:
  prices:
    btc: 100
store:
  journal_path: {{dir}}/journal.db
  history_path: {{dir}}/history.db
  history_interval: 10ms
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(body, "{{dir}}", dir)), 0o644))
	return path
}

func TestApp_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := NewApp(cfg, WithConfigPath(path))
	require.NoError(t, err)

	main, err := a.Registry().Get("main")
	require.NoError(t, err)
	assert.True(t, main.Running())
	idle, err := a.Registry().Get("idle")
	require.NoError(t, err)
	assert.Equal(t, engine.StateCreated, idle.State())
	px, ok := a.Prices().Price("BTC")
	require.True(t, ok)
	assert.True(t, px.Equal(decimal.NewFromInt(100)))
	require.Len(t, a.Summary.Engines, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	o, err := main.SubmitOrder(engine.OrderRequest{
		StrategyID: "s1", Symbol: "BTC", Side: engine.SideBuy, Type: engine.OrderTypeMarket, Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := main.Order(o.ID)
		return err == nil && got.Status == engine.StatusFilled
	}, 2*time.Second, 10*time.Millisecond, "paper executor fills market orders")
	assert.True(t, main.PortfolioSnapshot().Cash.Equal(decimal.NewFromInt(9800)))

	reloaded := strings.Replace(testConfig, "high_drawdown: 0.15", "high_drawdown: 0.25", 1)
	writeConfig(t, dir, reloaded)
	require.NoError(t, a.watcher.Reload())
	assert.Equal(t, 0.25, main.Snapshot().Thresholds.HighDrawdown)
	assert.Equal(t, 0.25, idle.Snapshot().Thresholds.HighDrawdown)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, engine.StateStopped, main.State())

	js, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer js.Close()
	recs, err := js.List(context.Background(), journal.Query{EngineID: "main"})
	require.NoError(t, err)
	types := map[string]bool{}
	for _, r := range recs {
		types[string(r.Type)] = true
	}
	for _, want := range []string{"engine:started", "order:created", "order:filled", "engine:stopped"} {
		assert.True(t, types[want], "journal has %s", want)
	}

	hs, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer hs.Close()
	points, err := hs.List(context.Background(), "main", time.Time{}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, points)
}

func TestApp_BootFailsOnBadEngine(t *testing.T) {
	dir := t.TempDir()
	body := strings.Replace(testConfig, "  - id: idle\n", "  - id: idle\n  - id: main\n", 1)
	path := writeConfig(t, dir, body)
	_, err := config.Load(path)
	require.Error(t, err, "duplicate engine ids are rejected by validation")

	cfg, err := config.Load(writeConfig(t, dir, testConfig))
	require.NoError(t, err)
	cfg.Engines = append(cfg.Engines, config.EngineEntry{ID: "main"})
	_, err = NewApp(cfg)
	require.ErrorIs(t, err, engine.ErrEngineExists)
}

func TestNewApp_NilConfig(t *testing.T) {
	_, err := NewApp(nil)
	require.Error(t, err)
}
