package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kolkata(t *testing.T) *Calendar {
	t.Helper()
	cal, err := NewCalendar("Asia/Kolkata")
	require.NoError(t, err)
	return cal
}

func TestNewCalendarBadTimezone(t *testing.T) {
	_, err := NewCalendar("Mars/Olympus")
	require.Error(t, err)
}

func TestTodayAndDateOfUseExchangeTimezone(t *testing.T) {
	cal := kolkata(t)
	// UTC 20:00 已是 Kolkata 次日 01:30。
	now := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-06", cal.Today(now))
	assert.Equal(t, "2026-01-06", cal.DateOf(now.UnixMilli()))

	noon := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-01-05", cal.Today(noon))
}

func TestIsWeekend(t *testing.T) {
	cal := kolkata(t)
	cases := []struct {
		date    string
		weekend bool
	}{
		{"2026-01-02", false}, // 周五
		{"2026-01-03", true},  // 周六
		{"2026-01-04", true},  // 周日
		{"2026-01-05", false}, // 周一
	}
	for _, tc := range cases {
		got, err := cal.IsWeekend(tc.date)
		require.NoError(t, err)
		assert.Equal(t, tc.weekend, got, tc.date)
	}

	_, err := cal.IsWeekend("01/05/2026")
	require.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	cal := kolkata(t)
	days, err := cal.DaysBetween("2026-01-05", "2026-01-25")
	require.NoError(t, err)
	assert.Equal(t, 20, days)

	// from 晚于 to 取 0，不报错。
	days, err = cal.DaysBetween("2026-01-25", "2026-01-05")
	require.NoError(t, err)
	assert.Equal(t, 0, days)

	_, err = cal.DaysBetween("bad", "2026-01-05")
	require.Error(t, err)
}

func TestAtOrAfterTimeOfDay(t *testing.T) {
	cal := kolkata(t)
	// Kolkata 15:20 = UTC 09:50。
	at := time.Date(2026, 1, 5, 9, 50, 0, 0, time.UTC).UnixMilli()
	before := time.Date(2026, 1, 5, 9, 49, 0, 0, time.UTC).UnixMilli()
	after := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC).UnixMilli()

	ok, err := cal.AtOrAfterTimeOfDay(at, "15:20")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cal.AtOrAfterTimeOfDay(before, "15:20")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cal.AtOrAfterTimeOfDay(after, "15:20")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = cal.AtOrAfterTimeOfDay(at, "3pm")
	require.Error(t, err)
}

func TestBarsFor(t *testing.T) {
	cases := []struct {
		period, interval string
		want             int
	}{
		{"1d", "1h", 24},
		{"5d", "5m", 1000}, // 1440 截断到 1000
		{"6mo", "1d", 180},
		{"1y", "1w", 52},
		{"1d", "1w", 1}, // 不足一根取 1
	}
	for _, tc := range cases {
		got, err := BarsFor(tc.period, tc.interval)
		require.NoError(t, err, "%s/%s", tc.period, tc.interval)
		assert.Equal(t, tc.want, got, "%s/%s", tc.period, tc.interval)
	}

	_, err := BarsFor("", "5m")
	require.Error(t, err)
	_, err = BarsFor("5d", "5x")
	require.Error(t, err)
}

func TestValidateSeries(t *testing.T) {
	good := []Candle{{OpenTime: 1}, {OpenTime: 2}, {OpenTime: 3}}
	require.NoError(t, ValidateSeries(good))

	dup := []Candle{{OpenTime: 1}, {OpenTime: 1}}
	require.Error(t, ValidateSeries(dup))

	unsorted := []Candle{{OpenTime: 2}, {OpenTime: 1}}
	require.Error(t, ValidateSeries(unsorted))
}
