package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/strategy/rules"
)

func fptr(v float64) *float64 { return &v }

func intradayRules(t *testing.T) rules.Ruleset {
	t.Helper()
	rs, ok := rules.DefaultRuleset(rules.ModeIntraday)
	require.True(t, ok)
	return rs
}

func swingRules(t *testing.T) rules.Ruleset {
	t.Helper()
	rs, ok := rules.DefaultRuleset(rules.ModeSwing)
	require.True(t, ok)
	return rs
}

func TestClassifyTrendIntraday(t *testing.T) {
	rs := intradayRules(t)

	t.Run("多头动量", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 105, SMA20: 100, EMA20: 101, PrevEMA20: 100, RSI14: 60}
		trend, rule, rationale := ClassifyTrend(snap, rules.ModeIntraday, rs.Trend)
		assert.Equal(t, TrendUp, trend)
		assert.Equal(t, "uptrend_momentum", rule)
		assert.Equal(t, "Price above SMA20, EMA20 rising, RSI above 55", rationale)
	})

	t.Run("空头动量", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 95, SMA20: 100, EMA20: 99, PrevEMA20: 100, RSI14: 40}
		trend, rule, rationale := ClassifyTrend(snap, rules.ModeIntraday, rs.Trend)
		assert.Equal(t, TrendDown, trend)
		assert.Equal(t, "downtrend_momentum", rule)
		assert.Equal(t, "Price below SMA20, EMA20 falling, RSI below 45", rationale)
	})

	t.Run("信号相互矛盾时判震荡", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 105, SMA20: 100, EMA20: 101, PrevEMA20: 100, RSI14: 50}
		trend, rule, rationale := ClassifyTrend(snap, rules.ModeIntraday, rs.Trend)
		assert.Equal(t, TrendSideways, trend)
		assert.Equal(t, "sideways_default", rule)
		assert.Equal(t, "Mixed momentum signals without directional confirmation", rationale)
	})
}

func TestClassifyTrendSwing(t *testing.T) {
	rs := swingRules(t)

	t.Run("SMA50 抬升且 RSI 健康", func(t *testing.T) {
		snap := indicator.Snapshot{
			Close: 110, SMA20: 108, RSI14: 60,
			SMA50: fptr(100), PrevSMA50: fptr(99),
		}
		trend, rule, _ := ClassifyTrend(snap, rules.ModeSwing, rs.Trend)
		assert.Equal(t, TrendUp, trend)
		assert.Equal(t, "uptrend_sma50", rule)
	})

	t.Run("缺少 SMA50 时不可能判多", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 110, SMA20: 100, RSI14: 60}
		trend, _, _ := ClassifyTrend(snap, rules.ModeSwing, rs.Trend)
		assert.Equal(t, TrendSideways, trend)
	})

	t.Run("RSI 过热脱离健康区间", func(t *testing.T) {
		snap := indicator.Snapshot{
			Close: 110, SMA20: 108, RSI14: 75,
			SMA50: fptr(100), PrevSMA50: fptr(99),
		}
		trend, _, _ := ClassifyTrend(snap, rules.ModeSwing, rs.Trend)
		assert.Equal(t, TrendSideways, trend)
	})

	t.Run("跌破 SMA20 且 RSI 弱", func(t *testing.T) {
		snap := indicator.Snapshot{
			Close: 90, SMA20: 100, RSI14: 40,
			SMA50: fptr(100), PrevSMA50: fptr(101),
		}
		trend, rule, _ := ClassifyTrend(snap, rules.ModeSwing, rs.Trend)
		assert.Equal(t, TrendDown, trend)
		assert.Equal(t, "downtrend_weak_rsi", rule)
	})
}

func TestEvaluateEntryIntraday(t *testing.T) {
	rs := intradayRules(t)
	lv := EntryLevels{TargetPct: 1.5, StopPct: 1.0}

	t.Run("趋势向上且未超买", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 200, SMA20: 195, EMA20: 196, PrevEMA20: 195, RSI14: 62}
		sig := EvaluateEntry(snap, rules.ModeIntraday, rs, lv)
		assert.Equal(t, ActionBuy, sig.Action)
		assert.Equal(t, "intraday_momentum_buy", sig.Rule)
		assert.InDelta(t, 0.7, sig.Confidence, 1e-9)
		assert.Equal(t, "Trend up and RSI below overbought threshold", sig.Rationale)
		assert.InDelta(t, 198.0, sig.Stop, 1e-9)
		assert.InDelta(t, 203.0, sig.Target, 1e-9)
		assert.Equal(t, TrendUp, sig.Trend)
	})

	t.Run("超买时不追高", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 200, SMA20: 195, EMA20: 196, PrevEMA20: 195, RSI14: 75}
		sig := EvaluateEntry(snap, rules.ModeIntraday, rs, lv)
		assert.Equal(t, ActionHold, sig.Action)
		assert.Equal(t, "hold_no_edge", sig.Rule)
		assert.Equal(t, "No clear directional edge", sig.Rationale)
		assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
	})

	t.Run("趋势向下给出卖出信号", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 180, SMA20: 195, EMA20: 194, PrevEMA20: 195, RSI14: 38}
		sig := EvaluateEntry(snap, rules.ModeIntraday, rs, lv)
		assert.Equal(t, ActionSell, sig.Action)
		assert.Equal(t, "intraday_momentum_sell", sig.Rule)
		assert.Equal(t, "Trend down and RSI above oversold threshold", sig.Rationale)
	})
}

func TestEvaluateEntrySwingBreakout(t *testing.T) {
	rs := swingRules(t)
	lv := EntryLevels{ATRStopMult: 1.5, ATRTargetMult: 2.0}
	snap := indicator.Snapshot{
		Close: 102, SMA20: 99, EMA20: 99.5, PrevEMA20: 99, RSI14: 60, ATR14: 2,
		SMA50: fptr(95), PrevSMA50: fptr(94), High20: fptr(100),
	}

	sig := EvaluateEntry(snap, rules.ModeSwing, rs, lv)
	assert.Equal(t, ActionBuySetup, sig.Action)
	assert.Equal(t, "swing_breakout", sig.Rule)
	assert.InDelta(t, 0.76, sig.Confidence, 1e-9)
	assert.Equal(t, "Breakout above 20-day high in uptrend with healthy RSI", sig.Rationale)
	assert.InDelta(t, 100.2, sig.Trigger, 1e-9)
	assert.InDelta(t, 97.2, sig.Stop, 1e-9)
	assert.InDelta(t, 104.2, sig.Target, 1e-9)
	assert.Equal(t, TrendUp, sig.Trend)
	assert.Equal(t, "uptrend_sma50", sig.TrendRule)
}

func TestEvaluateEntrySwingPullback(t *testing.T) {
	rs := swingRules(t)
	lv := EntryLevels{ATRStopMult: 1.5, ATRTargetMult: 2.0}
	snap := indicator.Snapshot{
		Close: 101, SMA20: 100, EMA20: 100, PrevEMA20: 99.8, RSI14: 55, ATR14: 1.5,
		SMA50: fptr(95), PrevSMA50: fptr(94), High20: fptr(105),
	}

	sig := EvaluateEntry(snap, rules.ModeSwing, rs, lv)
	assert.Equal(t, ActionBuySetup, sig.Action)
	assert.Equal(t, "swing_pullback", sig.Rule)
	assert.InDelta(t, 0.68, sig.Confidence, 1e-9)
	assert.Equal(t, "Pullback near EMA20 in uptrend with RSI support", sig.Rationale)
	assert.InDelta(t, 101.101, sig.Trigger, 1e-9)
	assert.InDelta(t, 98.851, sig.Stop, 1e-9)
	assert.InDelta(t, 104.101, sig.Target, 1e-9)
}

func TestEvaluateEntrySwingHold(t *testing.T) {
	rs := swingRules(t)

	t.Run("无任何形态", func(t *testing.T) {
		snap := indicator.Snapshot{
			Close: 90, SMA20: 95, EMA20: 100, PrevEMA20: 100, RSI14: 55,
			SMA50: fptr(95), PrevSMA50: fptr(94), High20: fptr(105),
		}
		sig := EvaluateEntry(snap, rules.ModeSwing, rs, EntryLevels{})
		assert.Equal(t, ActionHold, sig.Action)
		assert.Equal(t, "No swing entry setup", sig.Rationale)
	})

	t.Run("历史不足信号", func(t *testing.T) {
		sig := InsufficientSwingSignal(rs)
		assert.Equal(t, ActionHold, sig.Action)
		assert.Equal(t, "insufficient_history", sig.Rule)
		assert.InDelta(t, 0.4, sig.Confidence, 1e-9)
		assert.Equal(t, "Not enough daily candles for stable swing setup", sig.Rationale)
	})
}

func TestEvaluateExitPriority(t *testing.T) {
	rs := swingRules(t)
	pos := Position{EntryPrice: 100, Stop: 95, Target: 110, HeldDays: 25, HorizonDays: 20}

	t.Run("三个条件同时成立时止损优先", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 94, High: 111, Low: 94}
		sig := EvaluateExit(snap, pos, rules.ModeSwing, false, rs)
		assert.Equal(t, ActionExit, sig.Action)
		assert.Equal(t, "trailing_stop_breach", sig.Rule)
		assert.Equal(t, "Close breached trailing stop", sig.Rationale)
		assert.InDelta(t, 95.0, sig.ExitPrice, 1e-9)
		assert.InDelta(t, 0.72, sig.Confidence, 1e-9)
	})

	t.Run("止盈压过时间离场", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 109, High: 111, Low: 107}
		sig := EvaluateExit(snap, pos, rules.ModeSwing, false, rs)
		assert.Equal(t, "take_profit", sig.Rule)
		assert.Equal(t, "Take-profit reached", sig.Rationale)
		assert.InDelta(t, 110.0, sig.ExitPrice, 1e-9)
		assert.InDelta(t, 0.74, sig.Confidence, 1e-9)
	})

	t.Run("只剩时间条件", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 105, High: 106, Low: 104}
		sig := EvaluateExit(snap, pos, rules.ModeSwing, false, rs)
		assert.Equal(t, "time_stop", sig.Rule)
		assert.Equal(t, "Time-stop reached for swing horizon", sig.Rationale)
		assert.InDelta(t, 105.0, sig.ExitPrice, 1e-9, "时间离场按收盘价成交")
		assert.InDelta(t, 0.70, sig.Confidence, 1e-9)
	})

	t.Run("条件都不满足继续持有", func(t *testing.T) {
		held := Position{EntryPrice: 100, Stop: 95, Target: 110, HeldDays: 3, HorizonDays: 20}
		snap := indicator.Snapshot{Close: 105, High: 106, Low: 104}
		sig := EvaluateExit(snap, held, rules.ModeSwing, false, rs)
		assert.Equal(t, ActionHold, sig.Action)
		assert.Equal(t, "hold_position", sig.Rule)
		assert.InDelta(t, 0.55, sig.Confidence, 1e-9)
	})
}

func TestEvaluateExitIntraday(t *testing.T) {
	rs := intradayRules(t)
	pos := Position{EntryPrice: 200, Stop: 198, Target: 203}

	t.Run("触及止损", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 199, High: 201, Low: 197.5}
		sig := EvaluateExit(snap, pos, rules.ModeIntraday, false, rs)
		assert.Equal(t, "intraday_stop_loss", sig.Rule)
		assert.InDelta(t, 198.0, sig.ExitPrice, 1e-9)
	})

	t.Run("触及目标", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 202, High: 203.5, Low: 199}
		sig := EvaluateExit(snap, pos, rules.ModeIntraday, false, rs)
		assert.Equal(t, "intraday_take_profit", sig.Rule)
		assert.InDelta(t, 203.0, sig.ExitPrice, 1e-9)
	})

	t.Run("收盘前强制离场", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 201, High: 202, Low: 199}
		sig := EvaluateExit(snap, pos, rules.ModeIntraday, true, rs)
		assert.Equal(t, "intraday_time_exit", sig.Rule)
		assert.Equal(t, "Session time exit reached", sig.Rationale)
		assert.InDelta(t, 201.0, sig.ExitPrice, 1e-9)
	})

	t.Run("盘中继续持有", func(t *testing.T) {
		snap := indicator.Snapshot{Close: 201, High: 202, Low: 199}
		sig := EvaluateExit(snap, pos, rules.ModeIntraday, false, rs)
		assert.Equal(t, ActionHold, sig.Action)
	})
}

func TestShouldRaiseStop(t *testing.T) {
	assert.True(t, ShouldRaiseStop(96, 95))
	assert.False(t, ShouldRaiseStop(95, 95), "等值不更新")
	assert.False(t, ShouldRaiseStop(94, 95), "追踪止损只抬不降")
	assert.True(t, ShouldRaiseStop(94, 0), "首次设置直接生效")
	assert.False(t, ShouldRaiseStop(0, 95))
}

func TestTrailingStop(t *testing.T) {
	assert.InDelta(t, 97.0, TrailingStop(100, 2, 1.5), 1e-9)
	assert.InDelta(t, 0.0, TrailingStop(0, 2, 1.5), 1e-9)
	assert.InDelta(t, 100.0, TrailingStop(100, 0, 1.5), 1e-9)
}
