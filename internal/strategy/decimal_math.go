package strategy

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	decimalEps  = decimal.NewFromFloat(1e-8)
	decimalZero = decimal.Zero
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

// priceAtOrBelow 判断价格是否触及或跌破参考价。零值参考价视为未设置。
func priceAtOrBelow(price, ref float64) bool {
	if ref <= 0 || price <= 0 {
		return false
	}
	return decimalCompare(price, ref) <= 0
}

// priceAtOrAbove 判断价格是否触及或突破参考价。
func priceAtOrAbove(price, ref float64) bool {
	if ref <= 0 || price <= 0 {
		return false
	}
	return decimalCompare(price, ref) >= 0
}

// ShouldRaiseStop 判断候选止损是否高于当前止损，带 epsilon 防抖。
// 追踪止损只抬不降。
func ShouldRaiseStop(candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	return decFromFloat(candidate).Cmp(decFromFloat(current).Add(decimalEps)) > 0
}

// TrailingStop 计算追踪止损候选价：收盘价回撤 mult 倍 ATR。
func TrailingStop(close, atr, mult float64) float64 {
	if close <= 0 {
		return 0
	}
	c := decFromFloat(close)
	delta := decFromFloat(atr).Mul(decFromFloat(mult))
	out, _ := c.Sub(delta).Round(4).Float64()
	return out
}
