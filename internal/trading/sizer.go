package trading

import (
	"fmt"
	"math"

	"tradewind/internal/store/model"
)

// SizePosition 按当日预算计算可买股数：qty = floor(min(remaining, total) / price)。
// 预算不足一股或价格非法都归零，由调用方降级为不交易决策。
func SizePosition(budget *model.DailyBudget, price float64) int {
	if budget == nil || price <= 0 {
		return 0
	}
	usable := math.Min(budget.Remaining, budget.Total)
	if usable <= 0 {
		return 0
	}
	qty := int(math.Floor(usable / price))
	if qty < 0 {
		return 0
	}
	return qty
}

// admitEntry 做入场前的预算与仓位检查，返回可买股数。
// 不抛异常：预算不足与仓位满员都以哨兵错误表达，引擎把它们降级为
// 带理由的 CANCELLED 计划。
func admitEntry(budget *model.DailyBudget, price float64, holding, maxPositions int) (int, error) {
	if holding >= maxPositions {
		return 0, fmt.Errorf("%w: %d/%d", ErrPositionCapReached, holding, maxPositions)
	}
	qty := SizePosition(budget, price)
	if qty <= 0 {
		return 0, fmt.Errorf("%w: remaining=%.2f price=%.4f", ErrBudgetExhausted, remainingOf(budget), price)
	}
	return qty, nil
}

func remainingOf(budget *model.DailyBudget) float64 {
	if budget == nil {
		return 0
	}
	return budget.Remaining
}
