package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *JournalStore {
	t.Helper()
	store, err := NewJournalStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := RunRecord{
		RunID:     "run-20260102-intraday",
		Date:      "2026-01-02",
		Mode:      "intraday",
		Symbols:   []string{"aapl", "MSFT", "AAPL"},
		StartedAt: 1767340800000,
	}
	require.NoError(t, store.StartRun(ctx, rec))

	got, ok, err := store.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusStarted, got.Status)
	assert.Equal(t, "INTRADAY", got.Mode)
	assert.Equal(t, []string{"AAPL", "MSFT"}, got.Symbols)
	assert.EqualValues(t, 0, got.FinishedAt)

	require.NoError(t, store.FinishRun(ctx, rec.RunID, RunStatusCompleted,
		1767344400000, `{"plans_created":2}`, ""))
	got, ok, err = store.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusCompleted, got.Status)
	assert.EqualValues(t, 1767344400000, got.FinishedAt)
	assert.Equal(t, `{"plans_created":2}`, got.StatsJSON)

	// 重放同一 run_id 应重置收尾字段。
	require.NoError(t, store.StartRun(ctx, rec))
	got, ok, err = store.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RunStatusStarted, got.Status)
	assert.EqualValues(t, 0, got.FinishedAt)
	assert.Empty(t, got.StatsJSON)
}

func TestFinishRunUnknownID(t *testing.T) {
	store := newTestStore(t)
	err := store.FinishRun(context.Background(), "missing", RunStatusFailed, 1, "", "boom")
	assert.Error(t, err)
}

func TestListRunsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	runs := []RunRecord{
		{RunID: "r1", Date: "2026-01-02", Mode: "INTRADAY", Symbols: []string{"AAPL"}, StartedAt: 100},
		{RunID: "r2", Date: "2026-01-02", Mode: "SWING", Symbols: []string{"MSFT"}, StartedAt: 200},
		{RunID: "r3", Date: "2026-01-05", Mode: "INTRADAY", Symbols: []string{"AAPL", "NVDA"}, StartedAt: 300},
	}
	for _, r := range runs {
		require.NoError(t, store.StartRun(ctx, r))
	}
	require.NoError(t, store.FinishRun(ctx, "r1", RunStatusCompleted, 150, "{}", ""))

	t.Run("按日期过滤", func(t *testing.T) {
		got, err := store.ListRuns(ctx, RunQuery{Date: "2026-01-02"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r2", got[0].RunID)
		assert.Equal(t, "r1", got[1].RunID)
	})

	t.Run("按模式过滤", func(t *testing.T) {
		got, err := store.ListRuns(ctx, RunQuery{Mode: "intraday"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r3", got[0].RunID)
	})

	t.Run("按状态过滤", func(t *testing.T) {
		got, err := store.ListRuns(ctx, RunQuery{Status: RunStatusCompleted})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r1", got[0].RunID)
	})

	t.Run("按符号过滤命中符号清单", func(t *testing.T) {
		got, err := store.ListRuns(ctx, RunQuery{Symbol: "nvda"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r3", got[0].RunID)
	})

	t.Run("分页", func(t *testing.T) {
		got, err := store.ListRuns(ctx, RunQuery{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r2", got[0].RunID)
	})
}

func insertDecision(t *testing.T, db *sql.DB, rec DecisionRecord) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO decision_logs (run_id, trace_id, date, mode, symbol, stage, action,
			rule, confidence, rationale, features_json, plan_id, ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.TraceID, rec.Date, rec.Mode, rec.Symbol, rec.Stage, rec.Action,
		rec.Rule, rec.Confidence, rec.Rationale, rec.Features, rec.PlanID, rec.TS, rec.TS)
	require.NoError(t, err)
}

func TestListDecisionsFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	db, err := store.conn()
	require.NoError(t, err)

	planID := int64(7)
	decisions := []DecisionRecord{
		{RunID: "r1", TraceID: "r1-AAPL", Date: "2026-01-02", Mode: "INTRADAY", Symbol: "AAPL",
			Stage: "trend", Action: "CLASSIFY", Rule: "uptrend_momentum", Confidence: 0,
			Rationale: "Price above SMA20, EMA20 rising, RSI above 55", TS: 100},
		{RunID: "r1", TraceID: "r1-AAPL", Date: "2026-01-02", Mode: "INTRADAY", Symbol: "AAPL",
			Stage: "entry", Action: "BUY", Rule: "intraday_breakout", Confidence: 0.7,
			Rationale: "Trend up and RSI below overbought threshold", PlanID: &planID, TS: 101},
		{RunID: "r1", TraceID: "r1-MSFT", Date: "2026-01-02", Mode: "INTRADAY", Symbol: "MSFT",
			Stage: "entry", Action: "HOLD", Rule: "hold_default", Confidence: 0.5,
			Rationale: "No clear directional edge", TS: 102},
		{RunID: "r2", TraceID: "r2-AAPL", Date: "2026-01-05", Mode: "SWING", Symbol: "AAPL",
			Stage: "exit", Action: "SELL", Rule: "take_profit", Confidence: 0.74,
			Rationale: "Take-profit reached", TS: 200},
	}
	for _, d := range decisions {
		insertDecision(t, db, d)
	}

	t.Run("按运行过滤", func(t *testing.T) {
		got, err := store.ListDecisions(ctx, DecisionQuery{RunID: "r1"})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("按符号与阶段过滤", func(t *testing.T) {
		got, err := store.ListDecisions(ctx, DecisionQuery{Symbol: "aapl", Stage: "entry"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "intraday_breakout", got[0].Rule)
		require.NotNil(t, got[0].PlanID)
		assert.EqualValues(t, 7, *got[0].PlanID)
	})

	t.Run("按模式过滤时间倒序", func(t *testing.T) {
		got, err := store.ListDecisions(ctx, DecisionQuery{Mode: "intraday"})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.EqualValues(t, 102, got[0].TS)
	})
}

func TestBuildRunTraces(t *testing.T) {
	records := []DecisionRecord{
		{ID: 3, RunID: "r1", TraceID: "r1-MSFT", Symbol: "MSFT", Stage: "entry", TS: 105},
		{ID: 2, RunID: "r1", TraceID: "r1-AAPL", Symbol: "AAPL", Stage: "entry", TS: 101},
		{ID: 1, RunID: "r1", TraceID: "r1-AAPL", Symbol: "AAPL", Stage: "trend", TS: 100},
	}
	traces := BuildRunTraces(records)
	require.Len(t, traces, 2)
	// 最新 trace 在前。
	assert.Equal(t, "MSFT", traces[0].Symbol)
	require.Len(t, traces[1].Steps, 2)
	assert.Equal(t, "trend", traces[1].Steps[0].Stage)
	assert.Equal(t, "entry", traces[1].Steps[1].Stage)

	assert.Nil(t, BuildRunTraces(nil))
}

func TestUseExternalDB(t *testing.T) {
	dir := t.TempDir()
	external, err := sql.Open("sqlite", "file:"+filepath.Join(dir, "shared.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = external.Close() })

	store, err := NewJournalStore(filepath.Join(dir, "own.db"))
	require.NoError(t, err)
	require.NoError(t, store.UseExternalDB(external))

	ctx := context.Background()
	require.NoError(t, store.StartRun(ctx, RunRecord{RunID: "rx", Date: "2026-01-02", Mode: "SWING", StartedAt: 1}))

	// Close 不应关掉外部连接。
	require.NoError(t, store.Close())
	var count int
	require.NoError(t, external.QueryRow("SELECT COUNT(*) FROM trading_runs").Scan(&count))
	assert.Equal(t, 1, count)
}
