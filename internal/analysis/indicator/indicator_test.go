package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/internal/market"
)

// risingCandles 构造稳步上涨的序列：每根收盘比前一根高 delta。
func risingCandles(n int, start, delta float64) []market.Candle {
	out := make([]market.Candle, n)
	price := start
	for i := range out {
		open := price
		price += delta
		out[i] = market.Candle{
			OpenTime:  int64(i) * 300_000,
			CloseTime: int64(i)*300_000 + 299_999,
			Open:      open,
			High:      price + 0.5,
			Low:       open - 0.5,
			Close:     price,
			Volume:    1000 + float64(i),
		}
	}
	return out
}

func flatCandles(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 300_000,
			CloseTime: int64(i)*300_000 + 299_999,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		}
	}
	return out
}

func TestComputeInsufficientData(t *testing.T) {
	_, err := Compute(risingCandles(10, 100, 1), Settings{Symbol: "AAA", Warmup: 21})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)

	// Warmup 高于核心窗口时以 Warmup 为准。
	_, err = Compute(risingCandles(30, 100, 1), Settings{Symbol: "AAA", Warmup: 60})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestComputeIntradaySnapshot(t *testing.T) {
	candles := risingCandles(40, 100, 1)
	snap, err := Compute(candles, Settings{Symbol: "AAA", Interval: "5m", Warmup: 21})
	require.NoError(t, err)

	assert.Equal(t, "AAA", snap.Symbol)
	assert.Equal(t, candles[len(candles)-1].CloseTime, snap.TS)
	assert.InDelta(t, candles[len(candles)-1].Close, snap.Close, 1e-9)
	assert.GreaterOrEqual(t, snap.RSI14, 0.0)
	assert.LessOrEqual(t, snap.RSI14, 100.0)
	assert.GreaterOrEqual(t, snap.ATR14, 0.0)
	// 稳步上涨，EMA20 必然高于前值。
	assert.Greater(t, snap.EMASlope, 0.0)
	assert.Greater(t, snap.EMA20, snap.PrevEMA20)
	assert.Greater(t, snap.VolAvg20, 0.0)

	// 日内模式不带次级窗口。
	assert.Nil(t, snap.SMA50)
	assert.Nil(t, snap.High20)
}

func TestComputeSwingSecondaryWindows(t *testing.T) {
	// 45 根：够 MACD 与 high20，不够 50 均线前值。
	snap, err := Compute(risingCandles(45, 100, 1), Settings{Symbol: "AAA", Warmup: 21, Swing: true})
	require.NoError(t, err)
	assert.Nil(t, snap.SMA50)
	assert.Nil(t, snap.PrevSMA50)
	assert.Nil(t, snap.EMA50)
	require.NotNil(t, snap.MACD)
	require.NotNil(t, snap.MACDSignal)
	require.NotNil(t, snap.High20)

	// 80 根：全部就位。
	snap, err = Compute(risingCandles(80, 100, 1), Settings{Symbol: "AAA", Warmup: 60, Swing: true})
	require.NoError(t, err)
	require.NotNil(t, snap.SMA50)
	require.NotNil(t, snap.PrevSMA50)
	require.NotNil(t, snap.EMA50)
	assert.Greater(t, *snap.SMA50, *snap.PrevSMA50)
}

func TestComputeHigh20ExcludesCurrentBar(t *testing.T) {
	candles := flatCandles(60, 100)
	// 当前 K 线冲高，high20 只看此前 20 根，不应包含它。
	candles[59].High = 500
	candles[59].Close = 120
	snap, err := Compute(candles, Settings{Symbol: "AAA", Warmup: 21, Swing: true})
	require.NoError(t, err)
	require.NotNil(t, snap.High20)
	assert.InDelta(t, 100, *snap.High20, 1e-9)
}

func TestComputeFlatSeriesNeutralRSI(t *testing.T) {
	snap, err := Compute(flatCandles(40, 100), Settings{Symbol: "AAA", Warmup: 21})
	require.NoError(t, err)
	assert.InDelta(t, 50, snap.RSI14, 1e-9)
	assert.InDelta(t, 0, snap.EMASlope, 1e-9)
}

func TestFeaturesKeys(t *testing.T) {
	snap, err := Compute(risingCandles(80, 100, 1), Settings{Symbol: "AAA", Warmup: 60, Swing: true})
	require.NoError(t, err)

	feats := snap.Features()
	for _, key := range []string{
		"close", "sma20", "ema20", "prev_ema20", "ema_slope",
		"rsi14", "atr14", "vol_avg20", "sma50", "ema50",
		"macd", "macd_signal", "high20",
	} {
		assert.Contains(t, feats, key)
	}

	intraday, err := Compute(risingCandles(40, 100, 1), Settings{Symbol: "AAA", Warmup: 21})
	require.NoError(t, err)
	feats = intraday.Features()
	assert.NotContains(t, feats, "sma50")
	assert.NotContains(t, feats, "high20")
}
