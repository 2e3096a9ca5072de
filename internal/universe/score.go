package universe

import (
	"math"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/strategy/rules"
)

// ReadinessScore 衡量波段候选的就绪度，四个分量各有高低两档：
// 趋势向上 0.35 否则 0.10，RSI 落在 [50,70] 0.25 否则 0.10，
// MACD 在信号线上方 0.20 否则 0.05，收盘在 EMA20 上方 0.20 否则 0.05。
// 总分封顶 1.0，保留四位小数。
func ReadinessScore(snap indicator.Snapshot) float64 {
	score := 0.0
	if snap.SMA50 != nil && snap.PrevSMA50 != nil &&
		snap.Close > *snap.SMA50 && *snap.SMA50 >= *snap.PrevSMA50 {
		score += 0.35
	} else {
		score += 0.10
	}
	if snap.RSI14 >= 50 && snap.RSI14 <= 70 {
		score += 0.25
	} else {
		score += 0.10
	}
	if snap.MACD != nil && snap.MACDSignal != nil && *snap.MACD > *snap.MACDSignal {
		score += 0.20
	} else {
		score += 0.05
	}
	if snap.Close > snap.EMA20 {
		score += 0.20
	} else {
		score += 0.05
	}
	if score > 1.0 {
		score = 1.0
	}
	return round4(score)
}

// MomentumScore 衡量日内动量，满分 100：
// 收盘在 EMA20 上方 +25，EMA 斜率为正 +20，放量（当根成交量超过
// 20 根均量的 1.5 倍）+25，RSI 落在 [55,70] +20，收盘贴近当根最高价
// （不低于最高价的 99.5%）+10。
func MomentumScore(snap indicator.Snapshot) float64 {
	score := 0.0
	if snap.Close > snap.EMA20 {
		score += 25
	}
	if snap.EMASlope > 0 {
		score += 20
	}
	if snap.VolAvg20 > 0 && snap.Volume > 1.5*snap.VolAvg20 {
		score += 25
	}
	if snap.RSI14 >= 55 && snap.RSI14 <= 70 {
		score += 20
	}
	if snap.High > 0 && snap.Close >= 0.995*snap.High {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// ScoreFor 按模式选用评分口径：日内看动量，波段看就绪度。
func ScoreFor(mode string, snap indicator.Snapshot) float64 {
	if mode == rules.ModeIntraday {
		return MomentumScore(snap)
	}
	return ReadinessScore(snap)
}

// Turnover 是当根 K 线的成交额（价格×成交量），日内排序的主键。
func Turnover(snap indicator.Snapshot) float64 {
	return round4(snap.Close * snap.Volume)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
