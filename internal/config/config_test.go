package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8003", cfg.App.HTTPAddr)
	assert.Equal(t, "data/tradewind.db", cfg.Journal.DBPath)
	assert.Equal(t, "binance", cfg.Market.Source)
	assert.Equal(t, 100.0, cfg.Modes.Intraday.BudgetTotal)
	assert.Equal(t, "15:20", cfg.Modes.Intraday.TimeExit)
	assert.Equal(t, 20, cfg.Modes.Swing.HorizonDays)
	assert.Equal(t, "after_exits", cfg.Rebalance.Order)
	assert.True(t, cfg.Rebalance.Enabled)
	assert.Equal(t, 4, cfg.Engine.MaxParallel)
}

func TestLoadAppliesDefaultsForAbsentKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", `
app:
  log_level: debug
modes:
  intraday:
    budget_total: 500
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 500.0, cfg.Modes.Intraday.BudgetTotal)
	// 未写的键落默认值。
	assert.Equal(t, ":8003", cfg.App.HTTPAddr)
	assert.Equal(t, "5m", cfg.Modes.Intraday.Interval)
	assert.Equal(t, 1000.0, cfg.Modes.Swing.BudgetTotal)
}

func TestLoadExplicitZeroKeptWhenKeySet(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", `
modes:
  intraday:
    time_exit: ""
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// 显式写空串的键不再被默认值覆盖。
	assert.Equal(t, "", cfg.Modes.Intraday.TimeExit)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "base.yaml", `
app:
  log_level: warn
  http_addr: ":7001"
`)
	path := writeYAML(t, dir, "config.yaml", `
include:
  - base.yaml
app:
  http_addr: ":7002"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// 主文件后合并，覆盖 include 文件。
	assert.Equal(t, ":7002", cfg.App.HTTPAddr)
	assert.Equal(t, "warn", cfg.App.LogLevel)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeYAML(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad source", "market:\n  source: yahoo\n"},
		{"bad timezone", "market:\n  timezone: Mars/Olympus\n"},
		{"bad interval", "modes:\n  intraday:\n    interval: 5x\n"},
		{"bad time_exit", "modes:\n  intraday:\n    time_exit: 3pm\n"},
		{"bad rebalance order", "rebalance:\n  order: mid_run\n"},
		{"inverted thresholds", "rebalance:\n  partial_threshold_pct: 30\n  full_threshold_pct: 20\n"},
		{"file source without dir", "market:\n  source: file\n  file_dir: \" \"\n"},
		{"bad scheduler interval", "scheduler:\n  enabled: true\n  interval: 5x\n"},
		{"bad scheduler mode", "scheduler:\n  enabled: true\n  mode: SCALP\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeYAML(t, dir, "config.yaml", tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	_, err = Load("")
	require.Error(t, err)
}

func TestModeByName(t *testing.T) {
	cfg := Default()
	m, ok := cfg.Modes.ModeByName(" intraday ")
	require.True(t, ok)
	assert.Equal(t, "5m", m.Interval)

	m, ok = cfg.Modes.ModeByName("SWING")
	require.True(t, ok)
	assert.Equal(t, "1d", m.Interval)

	_, ok = cfg.Modes.ModeByName("SCALP")
	assert.False(t, ok)
}

func TestIsValidInterval(t *testing.T) {
	for _, good := range []string{"5m", "1h", "1d", "1w", "15m"} {
		assert.True(t, IsValidInterval(good), good)
	}
	for _, bad := range []string{"", "m", "5x", "h1", "5 m"} {
		assert.False(t, IsValidInterval(bad), bad)
	}
}
