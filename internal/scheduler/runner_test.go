package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/internal/config"
	"tradewind/internal/market"
)

func utcCalendar(t *testing.T) *market.Calendar {
	t.Helper()
	cal, err := market.NewCalendar("UTC")
	require.NoError(t, err)
	return cal
}

func TestNewAutoRunnerDisabled(t *testing.T) {
	r, err := NewAutoRunner(config.SchedulerConfig{Enabled: false}, utcCalendar(t), nil)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestNewAutoRunnerValidation(t *testing.T) {
	cal := utcCalendar(t)
	run := func(context.Context, string, string) error { return nil }

	cases := []struct {
		name string
		cfg  config.SchedulerConfig
	}{
		{"缺少模式", config.SchedulerConfig{Enabled: true, Interval: "5m"}},
		{"无效周期", config.SchedulerConfig{Enabled: true, Interval: "5x", Mode: "INTRADAY"}},
		{"无效偏移", config.SchedulerConfig{Enabled: true, Interval: "5m", Offset: "abc", Mode: "INTRADAY"}},
		{"负偏移", config.SchedulerConfig{Enabled: true, Interval: "5m", Offset: "-10s", Mode: "INTRADAY"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAutoRunner(tc.cfg, cal, run)
			assert.Error(t, err)
		})
	}

	_, err := NewAutoRunner(config.SchedulerConfig{Enabled: true, Interval: "5m", Mode: "intraday"}, cal, nil)
	assert.Error(t, err)
}

func TestAutoRunnerTickSkipsWeekend(t *testing.T) {
	cal := utcCalendar(t)
	calls := 0
	r, err := NewAutoRunner(config.SchedulerConfig{
		Enabled:  true,
		Interval: "5m",
		Offset:   "10s",
		Mode:     "intraday",
	}, cal, func(_ context.Context, date, mode string) error {
		calls++
		assert.Equal(t, "2026-01-05", date)
		assert.Equal(t, "INTRADAY", mode)
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 5*time.Minute, r.interval)
	assert.Equal(t, 10*time.Second, r.offset)

	// 周六不触发
	r.nowFn = func() time.Time {
		return time.Date(2026, 1, 3, 15, 0, 0, 0, time.UTC)
	}
	r.tick(context.Background())
	assert.Equal(t, 0, calls)

	// 周一触发
	r.nowFn = func() time.Time {
		return time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)
	}
	r.tick(context.Background())
	assert.Equal(t, 1, calls)
}

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 4H ", 4 * time.Hour, true},
		{"", 0, false},
		{"m", 0, false},
		{"0m", 0, false},
		{"5x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestDropUnclosedBinanceKline(t *testing.T) {
	interval := 5 * time.Minute
	base := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)
	klines := []market.Candle{
		{OpenTime: base.Add(-10 * time.Minute).UnixMilli()},
		{OpenTime: base.Add(-5 * time.Minute).UnixMilli()},
		{OpenTime: base.UnixMilli()},
	}

	// 最后一根尚未收盘（含宽限期），应被丢弃
	now := base.Add(4 * time.Minute)
	got := dropUnclosedBinanceKlineAt(klines, interval, now, 10*time.Second)
	assert.Len(t, got, 2)

	// 收盘已过宽限期，保留
	now = base.Add(interval).Add(11 * time.Second)
	got = dropUnclosedBinanceKlineAt(klines, interval, now, 10*time.Second)
	assert.Len(t, got, 3)

	// 空切片与非法周期原样返回
	assert.Empty(t, dropUnclosedBinanceKlineAt(nil, interval, now, 0))
	assert.Len(t, dropUnclosedBinanceKlineAt(klines, 0, now, 0), 3)
}
