package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradewind/internal/store/model"
)

func TestPlanTransitionTable(t *testing.T) {
	all := []model.PlanStatus{
		model.PlanStatusPlanned,
		model.PlanStatusPendingTrigger,
		model.PlanStatusFilled,
		model.PlanStatusProtected,
		model.PlanStatusClosed,
		model.PlanStatusCancelled,
	}
	allowed := map[model.PlanStatus]map[model.PlanStatus]bool{
		model.PlanStatusPlanned: {
			model.PlanStatusPendingTrigger: true,
			model.PlanStatusFilled:         true,
			model.PlanStatusCancelled:      true,
		},
		model.PlanStatusPendingTrigger: {
			model.PlanStatusFilled:    true,
			model.PlanStatusCancelled: true,
		},
		model.PlanStatusFilled:    {model.PlanStatusProtected: true},
		model.PlanStatusProtected: {model.PlanStatusClosed: true},
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[from][to], CanTransit(from, to),
				"%s -> %s", from, to)
		}
	}
}

func TestTransitPlanRejectsIllegalMove(t *testing.T) {
	plan := &model.TradePlan{Status: model.PlanStatusClosed}
	err := TransitPlan(plan, model.PlanStatusProtected)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, model.PlanStatusClosed, plan.Status, "failed transition must not mutate the plan")

	require.NoError(t, TransitPlan(&model.TradePlan{Status: model.PlanStatusFilled}, model.PlanStatusProtected))
	assert.ErrorIs(t, TransitPlan(nil, model.PlanStatusFilled), ErrIllegalTransition)
}

func TestTransitOrderTerminalStates(t *testing.T) {
	ord := &model.GTTOrder{Status: model.GTTStatusPending}
	require.NoError(t, TransitOrder(ord, model.GTTStatusTriggered))
	assert.Equal(t, model.GTTStatusTriggered, ord.Status)

	err := TransitOrder(ord, model.GTTStatusCancelled)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, model.GTTStatusTriggered, ord.Status)

	cancelled := &model.GTTOrder{Status: model.GTTStatusCancelled}
	assert.ErrorIs(t, TransitOrder(cancelled, model.GTTStatusTriggered), ErrIllegalTransition)
}

func TestSizePosition(t *testing.T) {
	cases := []struct {
		name      string
		remaining float64
		total     float64
		price     float64
		want      int
	}{
		{"floor of remaining over price", 1000, 1000, 110.5, 9},
		{"exact multiple", 500, 1000, 100, 5},
		{"remaining below one share", 50, 1000, 110.5, 0},
		{"capped by total", 2000, 1000, 100, 10},
		{"zero price", 1000, 1000, 0, 0},
		{"negative price", 1000, 1000, -5, 0},
		{"depleted budget", 0, 1000, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &model.DailyBudget{Remaining: tc.remaining, Total: tc.total}
			assert.Equal(t, tc.want, SizePosition(b, tc.price))
		})
	}
	assert.Zero(t, SizePosition(nil, 100))
}

func TestAdmitEntry(t *testing.T) {
	b := &model.DailyBudget{Remaining: 1000, Total: 1000}

	qty, err := admitEntry(b, 110.5, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 9, qty)

	_, err = admitEntry(b, 110.5, 3, 3)
	assert.ErrorIs(t, err, ErrPositionCapReached)

	_, err = admitEntry(&model.DailyBudget{Remaining: 10, Total: 1000}, 110.5, 0, 3)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestRebalanceDecide(t *testing.T) {
	p := RebalancePolicy{
		Enabled:             true,
		PartialThresholdPct: 15,
		FullThresholdPct:    30,
		PartialFraction:     0.5,
	}

	action, imp := p.Decide(1.0, 0.95)
	assert.Equal(t, RebalanceNone, action)
	assert.InDelta(t, 5.26, imp, 0.01)

	action, _ = p.Decide(1.0, 0.8)
	assert.Equal(t, RebalancePartial, action)

	action, _ = p.Decide(1.0, 0.5)
	assert.Equal(t, RebalanceFull, action)

	// 最弱持仓评分非正时按 100% 改善处理。
	action, imp = p.Decide(0.6, 0)
	assert.Equal(t, RebalanceFull, action)
	assert.Equal(t, 100.0, imp)

	action, _ = p.Decide(0, 0)
	assert.Equal(t, RebalanceNone, action)

	disabled := RebalancePolicy{PartialThresholdPct: 15, FullThresholdPct: 30}
	action, _ = disabled.Decide(1.0, 0.1)
	assert.Equal(t, RebalanceNone, action)
}

func TestRunIDDerivedUIDsAreStable(t *testing.T) {
	assert.Equal(t, planUID("run-1", "AAPL"), planUID("run-1", "AAPL"))
	assert.NotEqual(t, planUID("run-1", "AAPL"), planUID("run-2", "AAPL"))
	assert.NotEqual(t, planUID("run-1", "AAPL"), planUID("run-1", "MSFT"))
	assert.Equal(t, orderUID("plan-1", "entry"), orderUID("plan-1", "entry"))
	assert.NotEqual(t, orderUID("plan-1", "entry"), orderUID("plan-1", "protect"))
	assert.Equal(t, txnUID("plan-1", "exit"), txnUID("plan-1", "exit"))
	assert.Equal(t, traceID("run-1", "AAPL"), traceID("run-1", "AAPL"))

	a := NewRunID("2026-01-05", "INTRADAY")
	b := NewRunID("2026-01-05", "INTRADAY")
	assert.NotEqual(t, a, b, "fresh run IDs must be unique")
}
