package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"tradewind/internal/market"
)

// ErrInsufficientData 表示 K 线长度不足以计算核心指标。
var ErrInsufficientData = errors.New("insufficient candle data")

// 核心窗口（20 周期均线 + ATR/RSI 14）至少需要的 K 线数。
// 多出的一根用于读取前值以判断均线斜率。
const minCoreCandles = 21

// 次级窗口（50 周期均线）可读前值所需的最小长度。
const minSecondaryCandles = 51

// Settings 描述一次快照计算的输入参数。
type Settings struct {
	Symbol   string
	Interval string
	Warmup   int  // 模式要求的最小 K 线数，低于该值直接失败
	Swing    bool // 是否计算波段扩展指标（50 均线 / MACD / high20）
}

// Snapshot 是单个 symbol 在最新一根 K 线上的指标快照。
// 指针字段在历史不足以覆盖次级窗口时为 nil，而不是报错。
type Snapshot struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	TS       int64   `json:"ts"`
	Close    float64 `json:"close"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Volume   float64 `json:"volume"`

	SMA20     float64 `json:"sma20"`
	EMA20     float64 `json:"ema20"`
	PrevEMA20 float64 `json:"prev_ema20"`
	EMASlope  float64 `json:"ema_slope"`
	RSI14     float64 `json:"rsi14"`
	ATR14     float64 `json:"atr14"`
	VolAvg20  float64 `json:"vol_avg20"`

	SMA50      *float64 `json:"sma50,omitempty"`
	PrevSMA50  *float64 `json:"prev_sma50,omitempty"`
	EMA50      *float64 `json:"ema50,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	High20     *float64 `json:"high20,omitempty"`
}

// Compute 对有序 K 线序列计算指标快照。纯函数，不做任何 IO。
func Compute(candles []market.Candle, cfg Settings) (Snapshot, error) {
	required := cfg.Warmup
	if required < minCoreCandles {
		required = minCoreCandles
	}
	if len(candles) < required {
		return Snapshot{}, fmt.Errorf("%w: %s 需要 %d 根 K 线，仅有 %d",
			ErrInsufficientData, cfg.Symbol, required, len(candles))
	}
	if err := market.ValidateSeries(candles); err != nil {
		return Snapshot{}, err
	}

	closes := market.Closes(candles)
	highs := market.Highs(candles)
	lows := market.Lows(candles)
	volumes := market.Volumes(candles)
	last := len(candles) - 1
	latest := candles[last]

	sma20 := talib.Sma(closes, 20)
	ema20 := talib.Ema(closes, 20)
	rsi14 := talib.Rsi(closes, 14)
	atr14 := talib.Atr(highs, lows, closes, 14)
	volAvg := talib.Sma(volumes, 20)

	snap := Snapshot{
		Symbol:    cfg.Symbol,
		Interval:  cfg.Interval,
		TS:        latest.CloseTime,
		Close:     round4(latest.Close),
		High:      round4(latest.High),
		Low:       round4(latest.Low),
		Volume:    round4(latest.Volume),
		SMA20:     seriesAt(sma20, last),
		EMA20:     seriesAt(ema20, last),
		PrevEMA20: seriesAt(ema20, last-1),
		RSI14:     rsiAt(rsi14, last),
		ATR14:     clampNonNegative(seriesAt(atr14, last)),
		VolAvg20:  seriesAt(volAvg, last),
	}
	if flatWindow(closes, last, 14) {
		// 无涨跌的窗口按中性 50 处理，talib 在该退化情形下会给 0。
		snap.RSI14 = 50
	}
	snap.EMASlope = round4(snap.EMA20 - snap.PrevEMA20)

	if !cfg.Swing {
		return snap, nil
	}

	// 波段扩展：历史不足 50 周期窗口时保持 nil。
	if len(candles) >= minSecondaryCandles {
		sma50 := talib.Sma(closes, 50)
		ema50 := talib.Ema(closes, 50)
		snap.SMA50 = floatPtr(seriesAt(sma50, last))
		snap.PrevSMA50 = floatPtr(seriesAt(sma50, last-1))
		snap.EMA50 = floatPtr(seriesAt(ema50, last))
	}
	if len(candles) >= 35 {
		macd, signal, _ := talib.Macd(closes, 12, 26, 9)
		snap.MACD = floatPtr(seriesAt(macd, last))
		snap.MACDSignal = floatPtr(seriesAt(signal, last))
	}
	// high20 取前 20 根（不含当前）最高价的最大值。
	rollingMax := talib.Max(highs, 20)
	if last-1 >= 19 {
		snap.High20 = floatPtr(seriesAt(rollingMax, last-1))
	}
	return snap, nil
}

// Features 把快照压平成 JSON 特征包，用于决策留痕。
func (s Snapshot) Features() map[string]any {
	out := map[string]any{
		"close":      s.Close,
		"high":       s.High,
		"low":        s.Low,
		"volume":     s.Volume,
		"sma20":      s.SMA20,
		"ema20":      s.EMA20,
		"prev_ema20": s.PrevEMA20,
		"ema_slope":  s.EMASlope,
		"rsi14":      s.RSI14,
		"atr14":      s.ATR14,
		"vol_avg20":  s.VolAvg20,
	}
	if s.SMA50 != nil {
		out["sma50"] = *s.SMA50
	}
	if s.PrevSMA50 != nil {
		out["prev_sma50"] = *s.PrevSMA50
	}
	if s.EMA50 != nil {
		out["ema50"] = *s.EMA50
	}
	if s.MACD != nil {
		out["macd"] = *s.MACD
	}
	if s.MACDSignal != nil {
		out["macd_signal"] = *s.MACDSignal
	}
	if s.High20 != nil {
		out["high20"] = *s.High20
	}
	return out
}

// seriesAt 读取指定下标的指标值，NaN/Inf/越界时返回 0。
func seriesAt(series []float64, idx int) float64 {
	if idx < 0 || idx >= len(series) {
		return 0
	}
	v := series[idx]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return round4(v)
}

// rsiAt 读取 RSI 并限制在 [0,100]，无涨跌的退化序列按中性 50 处理。
func rsiAt(series []float64, idx int) float64 {
	if idx < 0 || idx >= len(series) {
		return 50
	}
	v := series[idx]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 50
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return round4(v)
}

// flatWindow 判断最近 period+1 个收盘价是否完全没有波动。
func flatWindow(closes []float64, last, period int) bool {
	start := last - period
	if start < 0 {
		start = 0
	}
	for i := start + 1; i <= last; i++ {
		if closes[i] != closes[start] {
			return false
		}
	}
	return true
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func floatPtr(v float64) *float64 {
	return &v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

