package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/internal/config"
	"tradewind/internal/market"
)

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Fetch(context.Context, string, string, string) ([]market.Candle, error) {
	return nil, nil
}

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.App.DataDir = dir
	cfg.App.LogPath = ""
	cfg.Journal.DBPath = filepath.Join(dir, "journal.db")
	cfg.Market.Timezone = "UTC"
	return cfg
}

func TestBuildWiresDependencies(t *testing.T) {
	cfg := testAppConfig(t)
	b := NewAppBuilder(cfg, WithCandleSource(stubSource{}))
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.NotNil(t, a.Engine())
	assert.NotNil(t, a.Universe())
	assert.NotNil(t, a.server)
	// scheduler 默认关闭
	assert.Nil(t, a.runner)
}

func TestBuildEnablesSchedulerWhenConfigured(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Interval = "5m"
	cfg.Scheduler.Mode = "INTRADAY"
	b := NewAppBuilder(cfg, WithCandleSource(stubSource{}))
	a, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	assert.NotNil(t, a.runner)
}

func TestBuildRejectsNilConfig(t *testing.T) {
	_, err := NewAppBuilder(nil).Build(context.Background())
	assert.Error(t, err)

	_, err = NewApp(nil)
	assert.Error(t, err)
}

func TestDefaultSourceSelection(t *testing.T) {
	src, err := defaultSource(config.MarketConfig{Source: "binance"})
	require.NoError(t, err)
	assert.Equal(t, "binance", src.Name())

	dir := t.TempDir()
	src, err = defaultSource(config.MarketConfig{Source: "file", FileDir: dir})
	require.NoError(t, err)
	assert.Equal(t, "file", src.Name())

	_, err = defaultSource(config.MarketConfig{Source: "yahoo"})
	assert.Error(t, err)
}
