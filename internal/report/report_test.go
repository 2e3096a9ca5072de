package report

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"tradewind/internal/config"
	"tradewind/internal/journal"
	"tradewind/internal/market"
	"tradewind/internal/store/gormstore"
	"tradewind/internal/store/model"
)

type stubSource struct {
	candles []market.Candle
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Fetch(_ context.Context, _, _, _ string) ([]market.Candle, error) {
	return s.candles, nil
}

func testCandles(n int) []market.Candle {
	end := time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC).UnixMilli()
	step := int64(5 * time.Minute / time.Millisecond)
	candles := make([]market.Candle, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			price += 1.0
		} else {
			price -= 0.5
		}
		open := price - 0.2
		closeTime := end - int64(n-1-i)*step
		candles[i] = market.Candle{
			OpenTime:  closeTime - step,
			CloseTime: closeTime,
			Open:      open,
			High:      price + 0.3,
			Low:       open - 0.3,
			Close:     price,
			Volume:    1000,
		}
	}
	return candles
}

func newTestBuilder(t *testing.T) (*Builder, *journal.JournalStore, *gormstore.GormStore, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := gormstore.NewGormStore(filepath.Join(dir, "domain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	jr, err := journal.NewJournalStore(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jr.Close() })

	cfg := config.ReportConfig{Enabled: true, Dir: filepath.Join(dir, "reports")}
	modes := config.ModesConfig{
		Intraday: config.ModeConfig{Interval: "5m", Period: "5d", WarmupCandles: 21},
	}
	b := NewBuilder(cfg, modes, st, jr, &stubSource{candles: testCandles(40)})
	return b, jr, st, dir
}

func seedRun(t *testing.T, b *Builder, jr *journal.JournalStore, st *gormstore.GormStore, runID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, jr.StartRun(ctx, journal.RunRecord{
		RunID:     runID,
		Date:      "2026-01-05",
		Mode:      "INTRADAY",
		Symbols:   []string{"AAA"},
		StartedAt: time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC).UnixMilli(),
	}))

	ts := time.Date(2026, 1, 5, 16, 0, 0, 0, time.UTC).UnixMilli()
	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	plan := &model.TradePlan{
		PlanUID:    runID + "-AAA-plan",
		RunID:      runID,
		Date:       "2026-01-05",
		Mode:       "INTRADAY",
		Symbol:     "AAA",
		PlanType:   model.PlanTypeMarket,
		Side:       model.SideBuy,
		Qty:        5,
		EntryPrice: 110,
		ExitPrice:  112,
		Status:     model.PlanStatusClosed,
		ExitRulesJSON: datatypes.JSON(
			[]byte(`{"trailing_stop":108.9,"take_profit":113.3,"time_exit":"15:20"}`)),
		CreatedTS: ts,
		UpdatedTS: ts,
	}
	require.NoError(t, uow.Plans().Create(ctx, plan))
	pnl := 10.0
	require.NoError(t, uow.Transactions().Create(ctx, &model.Transaction{
		TxnUID:    runID + "-AAA-plan-txn-exit",
		RunID:     runID,
		PlanID:    plan.ID,
		Date:      "2026-01-05",
		Mode:      "INTRADAY",
		Symbol:    "AAA",
		Side:      model.SideSell,
		OrderType: model.OrderTypeTakeProfit,
		Qty:       5,
		Price:     112,
		Amount:    560,
		PnL:       &pnl,
		TS:        ts,
		CreatedTS: ts,
	}))
	require.NoError(t, uow.Commit())
}

func TestBuildRunWritesHTML(t *testing.T) {
	b, jr, st, _ := newTestBuilder(t)
	seedRun(t, b, jr, st, "run-report")

	res, err := b.BuildRun(context.Background(), "run-report")
	require.NoError(t, err)
	assert.Equal(t, b.HTMLPath("run-report"), res.HTMLPath)
	assert.Empty(t, res.PNGPath)

	html, err := os.ReadFile(res.HTMLPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "AAA")
	assert.Contains(t, string(html), "Realized PnL")
	assert.Contains(t, string(html), "time_exit=15:20")
}

func TestBuildRunUnknownRun(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	_, err := b.BuildRun(context.Background(), "missing")
	assert.Error(t, err)
}

func TestExitRuleSummary(t *testing.T) {
	assert.Empty(t, exitRuleSummary(nil))
	assert.Empty(t, exitRuleSummary([]model.TradePlan{{}}))
	assert.Empty(t, exitRuleSummary([]model.TradePlan{
		{ExitRulesJSON: datatypes.JSON([]byte(`not-json`))},
	}))

	intraday := model.TradePlan{ExitRulesJSON: datatypes.JSON(
		[]byte(`{"trailing_stop":108.9,"take_profit":113.3,"time_exit":"15:20"}`))}
	assert.Equal(t, "stop=108.9000 tp=113.3000 time_exit=15:20",
		exitRuleSummary([]model.TradePlan{intraday}))

	swing := model.TradePlan{ExitRulesJSON: datatypes.JSON(
		[]byte(`{"trailing_stop":95.5,"take_profit":120,"horizon_days":5}`))}
	// 最后一个计划优先。
	assert.Equal(t, "stop=95.5000 tp=120.0000 horizon=5d",
		exitRuleSummary([]model.TradePlan{intraday, swing}))
}

func TestBuildRunRenderPNGUsesInjectedRenderer(t *testing.T) {
	b, jr, st, _ := newTestBuilder(t)
	b.cfg.RenderPNG = true
	b.renderFn = func(_ context.Context, html []byte, _, _ int) ([]byte, error) {
		require.NotEmpty(t, html)
		return []byte("png-bytes"), nil
	}
	seedRun(t, b, jr, st, "run-png")

	res, err := b.BuildRun(context.Background(), "run-png")
	require.NoError(t, err)
	require.NotEmpty(t, res.PNGPath)
	data, err := os.ReadFile(res.PNGPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestCandleIndexAt(t *testing.T) {
	candles := testCandles(5)
	assert.Equal(t, 0, candleIndexAt(candles, candles[0].CloseTime-1))
	assert.Equal(t, 2, candleIndexAt(candles, candles[2].CloseTime))
	assert.Equal(t, 4, candleIndexAt(candles, candles[4].CloseTime+999))
	assert.Equal(t, -1, candleIndexAt(nil, 0))
}

func TestSanitizeRunID(t *testing.T) {
	assert.Equal(t, "run_2026-01-05_a", sanitizeRunID("run/2026-01-05:a"))
}
