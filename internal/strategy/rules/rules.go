package rules

import (
	"fmt"
	"strings"
)

// 模式名与配置保持一致，大写。
const (
	ModeIntraday = "INTRADAY"
	ModeSwing    = "SWING"
)

// TrendParams 控制趋势判定的 RSI 阈值。
type TrendParams struct {
	RSIBullMin  float64 `json:"trend_rsi_bull_min"`
	RSIBearMax  float64 `json:"trend_rsi_bear_max"`
	RSIBandLow  float64 `json:"trend_rsi_band_low"`
	RSIBandHigh float64 `json:"trend_rsi_band_high"`
}

// EntryParams 控制入场规则表的阈值与置信度。
type EntryParams struct {
	RSIOverbought float64 `json:"entry_rsi_overbought"`
	RSIOversold   float64 `json:"entry_rsi_oversold"`

	BreakoutBufferPct float64 `json:"breakout_buffer_pct"`
	PullbackBufferPct float64 `json:"pullback_buffer_pct"`
	PullbackBandPct   float64 `json:"pullback_band_pct"`
	PullbackRSIMin    float64 `json:"pullback_rsi_min"`

	ConfMomentum     float64 `json:"conf_momentum"`
	ConfBreakout     float64 `json:"conf_breakout"`
	ConfPullback     float64 `json:"conf_pullback"`
	ConfHold         float64 `json:"conf_hold"`
	ConfInsufficient float64 `json:"conf_insufficient"`
}

// ExitParams 控制离场规则表的置信度。
type ExitParams struct {
	ConfStop   float64 `json:"conf_stop"`
	ConfTarget float64 `json:"conf_target"`
	ConfTime   float64 `json:"conf_time"`
	ConfHold   float64 `json:"conf_hold_position"`
}

// Ruleset 是一个模式完整的规则参数集。
type Ruleset struct {
	Mode        string
	Version     int
	Description string
	Trend       TrendParams
	Entry       EntryParams
	Exit        ExitParams
}

// DefaultRuleset 返回内置参数，YAML 覆盖文件缺失时直接使用。
func DefaultRuleset(mode string) (Ruleset, bool) {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case ModeIntraday:
		return Ruleset{
			Mode:        ModeIntraday,
			Version:     1,
			Description: "momentum rules on 5m candles",
			Trend: TrendParams{
				RSIBullMin: 55,
				RSIBearMax: 45,
			},
			Entry: EntryParams{
				RSIOverbought:    70,
				RSIOversold:      30,
				ConfMomentum:     0.7,
				ConfHold:         0.5,
				ConfInsufficient: 0.4,
			},
			Exit: ExitParams{
				ConfStop:   0.72,
				ConfTarget: 0.74,
				ConfTime:   0.70,
				ConfHold:   0.55,
			},
		}, true
	case ModeSwing:
		return Ruleset{
			Mode:        ModeSwing,
			Version:     1,
			Description: "breakout and pullback setups on daily candles",
			Trend: TrendParams{
				RSIBearMax:  45,
				RSIBandLow:  50,
				RSIBandHigh: 70,
			},
			Entry: EntryParams{
				BreakoutBufferPct: 0.2,
				PullbackBufferPct: 0.1,
				PullbackBandPct:   1.2,
				PullbackRSIMin:    45,
				ConfBreakout:      0.76,
				ConfPullback:      0.68,
				ConfHold:          0.5,
				ConfInsufficient:  0.4,
			},
			Exit: ExitParams{
				ConfStop:   0.72,
				ConfTarget: 0.74,
				ConfTime:   0.70,
				ConfHold:   0.55,
			},
		}, true
	}
	return Ruleset{}, false
}

// applyParams 把覆盖参数叠加到规则集上，未知键由 schema 拦截。
func applyParams(rs *Ruleset, params map[string]any) error {
	for key, raw := range params {
		val, ok := toFloat(raw)
		if !ok {
			return fmt.Errorf("ruleset %s 参数 %s 不是数字: %v", rs.Mode, key, raw)
		}
		switch key {
		case "trend_rsi_bull_min":
			rs.Trend.RSIBullMin = val
		case "trend_rsi_bear_max":
			rs.Trend.RSIBearMax = val
		case "trend_rsi_band_low":
			rs.Trend.RSIBandLow = val
		case "trend_rsi_band_high":
			rs.Trend.RSIBandHigh = val
		case "entry_rsi_overbought":
			rs.Entry.RSIOverbought = val
		case "entry_rsi_oversold":
			rs.Entry.RSIOversold = val
		case "breakout_buffer_pct":
			rs.Entry.BreakoutBufferPct = val
		case "pullback_buffer_pct":
			rs.Entry.PullbackBufferPct = val
		case "pullback_band_pct":
			rs.Entry.PullbackBandPct = val
		case "pullback_rsi_min":
			rs.Entry.PullbackRSIMin = val
		case "conf_momentum":
			rs.Entry.ConfMomentum = val
		case "conf_breakout":
			rs.Entry.ConfBreakout = val
		case "conf_pullback":
			rs.Entry.ConfPullback = val
		case "conf_hold":
			rs.Entry.ConfHold = val
		case "conf_insufficient":
			rs.Entry.ConfInsufficient = val
		case "conf_stop":
			rs.Exit.ConfStop = val
		case "conf_target":
			rs.Exit.ConfTarget = val
		case "conf_time":
			rs.Exit.ConfTime = val
		case "conf_hold_position":
			rs.Exit.ConfHold = val
		default:
			return fmt.Errorf("ruleset %s 包含未知参数 %s", rs.Mode, key)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
