package trading

import (
	"fmt"

	"tradewind/internal/store/model"
)

// planTransitions 是计划状态机的完整转移表。表里没有的流转一律拒绝，
// 终态（CLOSED/CANCELLED）没有出边。
var planTransitions = map[model.PlanStatus][]model.PlanStatus{
	model.PlanStatusPlanned: {
		model.PlanStatusPendingTrigger,
		model.PlanStatusFilled,
		model.PlanStatusCancelled,
	},
	model.PlanStatusPendingTrigger: {
		model.PlanStatusFilled,
		model.PlanStatusCancelled,
	},
	model.PlanStatusFilled: {
		model.PlanStatusProtected,
	},
	model.PlanStatusProtected: {
		model.PlanStatusClosed,
	},
}

// gttTransitions 是条件单状态机的转移表。
var gttTransitions = map[model.GTTStatus][]model.GTTStatus{
	model.GTTStatusPending: {
		model.GTTStatusTriggered,
		model.GTTStatusCancelled,
	},
}

// CanTransit 判断计划状态流转是否合法。
func CanTransit(from, to model.PlanStatus) bool {
	for _, next := range planTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitPlan 把计划推进到目标状态，非法流转返回 ErrIllegalTransition，
// 计划对象保持不变。
func TransitPlan(plan *model.TradePlan, to model.PlanStatus) error {
	if plan == nil {
		return fmt.Errorf("%w: plan 为空", ErrIllegalTransition)
	}
	if !CanTransit(plan.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, plan.Status, to)
	}
	plan.Status = to
	return nil
}

// TransitOrder 把条件单推进到目标状态。
func TransitOrder(order *model.GTTOrder, to model.GTTStatus) error {
	if order == nil {
		return fmt.Errorf("%w: order 为空", ErrIllegalTransition)
	}
	for _, next := range gttTransitions[order.Status] {
		if next == to {
			order.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, order.Status, to)
}
