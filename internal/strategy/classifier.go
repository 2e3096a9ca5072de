package strategy

import (
	"fmt"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/strategy/rules"
)

// trendRule 是趋势规则表的一行：按声明顺序求值，首个命中者生效。
type trendRule struct {
	name      string
	label     Trend
	match     func(s indicator.Snapshot, p rules.TrendParams) bool
	rationale func(p rules.TrendParams) string
}

var intradayTrendTable = []trendRule{
	{
		name:  "uptrend_momentum",
		label: TrendUp,
		match: func(s indicator.Snapshot, p rules.TrendParams) bool {
			return s.Close > s.SMA20 && s.EMA20 > s.PrevEMA20 && s.RSI14 > p.RSIBullMin
		},
		rationale: func(p rules.TrendParams) string {
			return fmt.Sprintf("Price above SMA20, EMA20 rising, RSI above %.0f", p.RSIBullMin)
		},
	},
	{
		name:  "downtrend_momentum",
		label: TrendDown,
		match: func(s indicator.Snapshot, p rules.TrendParams) bool {
			return s.Close < s.SMA20 && s.EMA20 < s.PrevEMA20 && s.RSI14 < p.RSIBearMax
		},
		rationale: func(p rules.TrendParams) string {
			return fmt.Sprintf("Price below SMA20, EMA20 falling, RSI below %.0f", p.RSIBearMax)
		},
	},
}

var swingTrendTable = []trendRule{
	{
		name:  "uptrend_sma50",
		label: TrendUp,
		match: func(s indicator.Snapshot, p rules.TrendParams) bool {
			if s.SMA50 == nil || s.PrevSMA50 == nil {
				return false
			}
			return s.Close > *s.SMA50 && *s.SMA50 > *s.PrevSMA50 &&
				s.RSI14 >= p.RSIBandLow && s.RSI14 <= p.RSIBandHigh
		},
		rationale: func(p rules.TrendParams) string {
			return "Close above rising SMA50 with healthy RSI"
		},
	},
	{
		name:  "downtrend_weak_rsi",
		label: TrendDown,
		match: func(s indicator.Snapshot, p rules.TrendParams) bool {
			return s.Close < s.SMA20 && s.RSI14 < p.RSIBearMax
		},
		rationale: func(p rules.TrendParams) string {
			return "Close below SMA20 with weak RSI"
		},
	},
}

const sidewaysRationale = "Mixed momentum signals without directional confirmation"

// ClassifyTrend 对快照跑一遍趋势规则表，返回标签、命中规则名与说明。
// 同一快照永远得到同一结果，表外没有任何隐藏状态。
func ClassifyTrend(snap indicator.Snapshot, mode string, p rules.TrendParams) (Trend, string, string) {
	table := intradayTrendTable
	if mode == rules.ModeSwing {
		table = swingTrendTable
	}
	for _, rule := range table {
		if rule.match(snap, p) {
			return rule.label, rule.name, rule.rationale(p)
		}
	}
	return TrendSideways, "sideways_default", sidewaysRationale
}
