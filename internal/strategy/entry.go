package strategy

import (
	"math"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/strategy/rules"
)

// EntryLevels 携带入场价位计算需要的模式参数。
type EntryLevels struct {
	TargetPct     float64 // 日内目标涨幅（百分比）
	StopPct       float64 // 日内止损跌幅（百分比）
	ATRStopMult   float64 // 波段止损 ATR 倍数
	ATRTargetMult float64 // 波段止盈 ATR 倍数
}

type entryContext struct {
	snap   indicator.Snapshot
	trend  Trend
	rs     rules.Ruleset
	levels EntryLevels
}

// entryRule 与趋势表同构：顺序求值，首个命中者产出信号。
type entryRule struct {
	name  string
	match func(c entryContext) bool
	build func(c entryContext) Signal
}

var intradayEntryTable = []entryRule{
	{
		name: "intraday_momentum_buy",
		match: func(c entryContext) bool {
			return c.trend == TrendUp && c.snap.RSI14 < c.rs.Entry.RSIOverbought
		},
		build: func(c entryContext) Signal {
			return Signal{
				Action:     ActionBuy,
				Confidence: c.rs.Entry.ConfMomentum,
				Rationale:  "Trend up and RSI below overbought threshold",
				Stop:       round4(c.snap.Close * (1 - c.levels.StopPct/100)),
				Target:     round4(c.snap.Close * (1 + c.levels.TargetPct/100)),
			}
		},
	},
	{
		name: "intraday_momentum_sell",
		match: func(c entryContext) bool {
			return c.trend == TrendDown && c.snap.RSI14 > c.rs.Entry.RSIOversold
		},
		build: func(c entryContext) Signal {
			return Signal{
				Action:     ActionSell,
				Confidence: c.rs.Entry.ConfMomentum,
				Rationale:  "Trend down and RSI above oversold threshold",
			}
		},
	},
}

var swingEntryTable = []entryRule{
	{
		name: "swing_breakout",
		match: func(c entryContext) bool {
			if c.trend != TrendUp || c.snap.High20 == nil {
				return false
			}
			return c.snap.Close > *c.snap.High20 &&
				c.snap.RSI14 >= c.rs.Trend.RSIBandLow && c.snap.RSI14 <= c.rs.Trend.RSIBandHigh
		},
		build: func(c entryContext) Signal {
			trigger := round4(*c.snap.High20 * (1 + c.rs.Entry.BreakoutBufferPct/100))
			return swingSetup(c, trigger, c.rs.Entry.ConfBreakout,
				"Breakout above 20-day high in uptrend with healthy RSI")
		},
	},
	{
		name: "swing_pullback",
		match: func(c entryContext) bool {
			if c.trend != TrendUp || c.snap.EMA20 <= 0 {
				return false
			}
			band := math.Abs(c.snap.Close-c.snap.EMA20) / c.snap.EMA20
			return band <= c.rs.Entry.PullbackBandPct/100 && c.snap.RSI14 > c.rs.Entry.PullbackRSIMin
		},
		build: func(c entryContext) Signal {
			base := math.Max(c.snap.EMA20, c.snap.Close)
			trigger := round4(base * (1 + c.rs.Entry.PullbackBufferPct/100))
			return swingSetup(c, trigger, c.rs.Entry.ConfPullback,
				"Pullback near EMA20 in uptrend with RSI support")
		},
	},
}

// swingSetup 根据触发价推导止损止盈，条件单三件套一次算齐。
func swingSetup(c entryContext, trigger, conf float64, rationale string) Signal {
	return Signal{
		Action:     ActionBuySetup,
		Confidence: conf,
		Rationale:  rationale,
		Trigger:    trigger,
		Stop:       round4(trigger - c.levels.ATRStopMult*c.snap.ATR14),
		Target:     round4(trigger + c.levels.ATRTargetMult*c.snap.ATR14),
	}
}

// EvaluateEntry 先判趋势再跑入场规则表，输出带完整溯源字段的信号。
func EvaluateEntry(snap indicator.Snapshot, mode string, rs rules.Ruleset, lv EntryLevels) Signal {
	trend, trendRule, trendRationale := ClassifyTrend(snap, mode, rs.Trend)
	ctx := entryContext{snap: snap, trend: trend, rs: rs, levels: lv}

	table := intradayEntryTable
	holdRationale := "No clear directional edge"
	if mode == rules.ModeSwing {
		table = swingEntryTable
		holdRationale = "No swing entry setup"
	}

	for _, rule := range table {
		if rule.match(ctx) {
			sig := rule.build(ctx)
			sig.Rule = rule.name
			sig.Trend = trend
			sig.TrendRule = trendRule
			sig.TrendRationale = trendRationale
			return sig
		}
	}
	return Signal{
		Action:         ActionHold,
		Rule:           "hold_no_edge",
		Confidence:     rs.Entry.ConfHold,
		Rationale:      holdRationale,
		Trend:          trend,
		TrendRule:      trendRule,
		TrendRationale: trendRationale,
	}
}

// InsufficientSwingSignal 在日线历史不足时产出可入账的 HOLD 信号。
func InsufficientSwingSignal(rs rules.Ruleset) Signal {
	return Signal{
		Action:         ActionHold,
		Rule:           "insufficient_history",
		Confidence:     rs.Entry.ConfInsufficient,
		Rationale:      "Not enough daily candles for stable swing setup",
		Trend:          TrendSideways,
		TrendRule:      "sideways_default",
		TrendRationale: sidewaysRationale,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
