package universe

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/config"
	"tradewind/internal/market"
	"tradewind/internal/store"
	"tradewind/internal/store/gormstore"
	"tradewind/internal/store/model"
	"tradewind/internal/strategy/rules"
)

func fptr(v float64) *float64 { return &v }

func TestReadinessScoreBands(t *testing.T) {
	bullish := indicator.Snapshot{
		Close:      105,
		EMA20:      100,
		RSI14:      60,
		SMA50:      fptr(100),
		PrevSMA50:  fptr(99),
		MACD:       fptr(1.2),
		MACDSignal: fptr(0.8),
	}
	assert.Equal(t, 1.0, ReadinessScore(bullish))

	bearish := indicator.Snapshot{
		Close:      90,
		EMA20:      100,
		RSI14:      30,
		SMA50:      fptr(100),
		PrevSMA50:  fptr(101),
		MACD:       fptr(-1.0),
		MACDSignal: fptr(0.5),
	}
	assert.Equal(t, 0.3, ReadinessScore(bearish))

	// 缺少次级窗口时按低档计分，不报错。
	thin := indicator.Snapshot{Close: 105, EMA20: 100, RSI14: 60}
	assert.InDelta(t, 0.10+0.25+0.05+0.20, ReadinessScore(thin), 1e-9)
}

func TestMomentumScoreComponents(t *testing.T) {
	full := indicator.Snapshot{
		Close:    110,
		High:     110.2,
		EMA20:    105,
		EMASlope: 0.4,
		RSI14:    62,
		Volume:   5000,
		VolAvg20: 2000,
	}
	assert.Equal(t, 100.0, MomentumScore(full))

	flat := indicator.Snapshot{
		Close:    100,
		High:     104,
		EMA20:    101,
		EMASlope: -0.1,
		RSI14:    48,
		Volume:   900,
		VolAvg20: 2000,
	}
	assert.Equal(t, 0.0, MomentumScore(flat))
}

func TestScoreForPicksMetricByMode(t *testing.T) {
	snap := indicator.Snapshot{Close: 100, Volume: 3000, EMA20: 90, EMASlope: 1, RSI14: 60}
	assert.Equal(t, MomentumScore(snap), ScoreFor(rules.ModeIntraday, snap))
	assert.Equal(t, ReadinessScore(snap), ScoreFor(rules.ModeSwing, snap))
	assert.Equal(t, 300000.0, Turnover(snap))
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

type fakeSource struct {
	data map[string][]market.Candle
	errs map[string]error
}

func (f *fakeSource) Fetch(_ context.Context, symbol, _, _ string) ([]market.Candle, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return f.data[symbol], nil
}

func (f *fakeSource) Name() string { return "fake" }

// steadySeries 生成交替涨跌的日内序列，基准价决定成交额排序。
func steadySeries(n int, base float64, endTS int64) []market.Candle {
	out := make([]market.Candle, n)
	px := base
	for i := 0; i < n; i++ {
		open := px
		if i > 0 {
			if i%2 == 1 {
				px += 1.0
			} else {
				px -= 0.5
			}
		}
		hi, lo := open, px
		if lo > hi {
			hi, lo = lo, hi
		}
		closeTime := endTS - int64(n-1-i)*300_000
		out[i] = market.Candle{
			OpenTime:  closeTime - 300_000,
			CloseTime: closeTime,
			Open:      open,
			High:      hi + 0.25,
			Low:       lo - 0.25,
			Close:     px,
			Volume:    1000,
		}
	}
	return out
}

func newTestService(t *testing.T, src *fakeSource, limit int) (*Service, store.Store) {
	t.Helper()
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "universe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	cal, err := market.NewCalendar("UTC")
	require.NoError(t, err)
	cfg := &config.Config{
		Modes: config.ModesConfig{
			Intraday: config.ModeConfig{Interval: "5m", Period: "5d", WarmupCandles: 21},
			Swing:    config.ModeConfig{Interval: "1d", Period: "6mo", WarmupCandles: 60},
		},
		Universe: config.UniverseConfig{Limit: limit, RetentionDays: 30},
	}
	svc := NewService(st, src, cal, cfg)
	svc.SetNow(func() time.Time { return time.Date(2026, 1, 5, 18, 0, 0, 0, time.UTC) })
	return svc, st
}

func seedUniverseWatchlist(t *testing.T, st store.Store, date, mode string, symbols ...string) {
	t.Helper()
	entries := make([]model.WatchlistEntry, 0, len(symbols))
	for _, sym := range symbols {
		entries = append(entries, model.WatchlistEntry{Date: date, Mode: mode, Symbol: sym, Source: "test"})
	}
	uow, err := st.Begin(context.Background())
	require.NoError(t, err)
	_, err = uow.Watchlist().Add(context.Background(), entries)
	require.NoError(t, err)
	require.NoError(t, uow.Commit())
}

func TestRefreshRanksIntradayByTurnover(t *testing.T) {
	date := "2026-01-05"
	endTS := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC).UnixMilli()
	src := &fakeSource{
		data: map[string][]market.Candle{
			"LOWP": steadySeries(40, 50, endTS),
			"MIDP": steadySeries(40, 100, endTS),
			"HIGH": steadySeries(40, 200, endTS),
		},
		errs: map[string]error{},
	}
	svc, st := newTestService(t, src, 2)
	seedUniverseWatchlist(t, st, date, rules.ModeIntraday, "LOWP", "MIDP", "HIGH")

	res, err := svc.Refresh(context.Background(), date, "intraday")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	require.Len(t, res.Ranked, 2, "list truncated to the configured limit")
	assert.Equal(t, "HIGH", res.Ranked[0].Symbol)
	assert.Equal(t, 1, res.Ranked[0].Rank)
	assert.Equal(t, "MIDP", res.Ranked[1].Symbol)
	assert.Greater(t, res.Ranked[0].Turnover, res.Ranked[1].Turnover)

	rows, err := svc.Top(context.Background(), date, "intraday", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "HIGH", rows[0].Symbol)
	assert.Equal(t, 1, rows[0].Rank)
}

func TestRefreshSkipsFailingSymbol(t *testing.T) {
	date := "2026-01-05"
	endTS := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC).UnixMilli()
	src := &fakeSource{
		data: map[string][]market.Candle{
			"GOOD": steadySeries(40, 100, endTS),
			"BAD1": nil, // 历史不足
		},
		errs: map[string]error{"BAD2": fmt.Errorf("feed down")},
	}
	svc, st := newTestService(t, src, 10)
	seedUniverseWatchlist(t, st, date, rules.ModeIntraday, "GOOD", "BAD1", "BAD2")

	res, err := svc.Refresh(context.Background(), date, "intraday")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	require.Len(t, res.Ranked, 1)
	assert.Equal(t, "GOOD", res.Ranked[0].Symbol)
	assert.Len(t, res.Errors, 2)
}

func TestRefreshReplacesPreviousRows(t *testing.T) {
	date := "2026-01-05"
	endTS := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC).UnixMilli()
	src := &fakeSource{
		data: map[string][]market.Candle{
			"AAA": steadySeries(40, 100, endTS),
			"BBB": steadySeries(40, 150, endTS),
		},
		errs: map[string]error{},
	}
	svc, st := newTestService(t, src, 10)
	seedUniverseWatchlist(t, st, date, rules.ModeIntraday, "AAA", "BBB")

	_, err := svc.Refresh(context.Background(), date, "intraday")
	require.NoError(t, err)

	// 第二次刷新时 BBB 掉线，旧行必须被整组替换而不是叠加。
	src.errs["BBB"] = fmt.Errorf("feed down")
	_, err = svc.Refresh(context.Background(), date, "intraday")
	require.NoError(t, err)

	rows, err := svc.Top(context.Background(), date, "intraday", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "AAA", rows[0].Symbol)
}

func TestRefreshUnknownMode(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{data: map[string][]market.Candle{}, errs: map[string]error{}}, 10)
	_, err := svc.Refresh(context.Background(), "2026-01-05", "scalping")
	require.Error(t, err)
}
