package trading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/logger"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
	"tradewind/internal/strategy"
	"tradewind/internal/strategy/rules"
)

// 决策日志的阶段名，journal 的过滤键。
const (
	stageAnalysis  = "analysis"
	stageTrend     = "trend"
	stageEntry     = "entry"
	stageTrigger   = "trigger"
	stageFill      = "fill"
	stageProtect   = "protect"
	stageTrail     = "trail"
	stageExit      = "exit"
	stageExpiry    = "expiry"
	stageRebalance = "rebalance"
)

// 引擎自身产生的理由文案。规则表命中的理由由 strategy 包给出，
// 这里只覆盖降级与簿记类决策。
const (
	reasonBudgetExhausted = "Budget exhausted for the day"
	reasonPositionCap     = "Max open positions reached"
	reasonTriggerExpired  = "Entry trigger expired without fill"
	reasonSessionOver     = "Session time exit already passed"
	reasonDuplicatePlan   = "Plan already exists for this symbol today"
	reasonProtectiveStop  = "Protective sell order placed at initial stop"
	reasonTrailingRaised  = "Trailing stop raised"
	reasonAwaitingTrigger = "Trigger not reached"
	reasonExitDay         = "Forced exit-day close"

	reasonRebalanceHold    = "Improvement below rebalance threshold"
	reasonRebalancePartial = "Partial rebalance of weakest position"
	reasonRebalanceFull    = "Full rebalance out of weakest position"
	reasonRebalanceEnter   = "Rebalance entry into stronger candidate"
)

func (rc *runContext) decision(symbol, stage, action, rule string, conf float64,
	rationale string, features map[string]any, planID *int64, ts int64) *model.DecisionLog {
	return &model.DecisionLog{
		RunID:        rc.runID,
		TraceID:      traceID(rc.runID, symbol),
		Date:         rc.date,
		Mode:         rc.mode,
		Symbol:       symbol,
		Stage:        stage,
		Action:       action,
		Rule:         rule,
		RulesFired:   rulesFired(rule),
		Confidence:   conf,
		Rationale:    rationale,
		FeaturesJSON: featuresJSON(features),
		PlanID:       planID,
		TS:           ts,
		CreatedTS:    ts,
	}
}

// rulesFired 把命中的规则名拼成 |A|B| 形式的审计串。
func rulesFired(names ...string) string {
	out := ""
	for _, n := range names {
		if n == "" {
			continue
		}
		out += "|" + n
	}
	if out == "" {
		return ""
	}
	return out + "|"
}

func featuresJSON(features map[string]any) datatypes.JSON {
	if len(features) == 0 {
		return nil
	}
	b, err := json.Marshal(features)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func buildSnapshotRow(rc *runContext, snap indicator.Snapshot, trend strategy.Trend) *model.MarketSnapshot {
	features, _ := json.Marshal(snap.Features())
	return &model.MarketSnapshot{
		RunID:        rc.runID,
		Date:         rc.date,
		Mode:         rc.mode,
		Symbol:       snap.Symbol,
		Interval:     snap.Interval,
		TS:           snap.TS,
		Close:        snap.Close,
		SMA20:        snap.SMA20,
		EMA20:        snap.EMA20,
		RSI14:        snap.RSI14,
		ATR14:        snap.ATR14,
		SMA50:        snap.SMA50,
		EMA50:        snap.EMA50,
		MACD:         snap.MACD,
		MACDSignal:   snap.MACDSignal,
		High20:       snap.High20,
		Trend:        string(trend),
		FeaturesJSON: datatypes.JSON(features),
		CreatedTS:    snap.TS,
	}
}

// entryPhase 给每个分析成功的 symbol 落快照与趋势留痕，空仓的跑入场
// 规则表。启动时已有挂单或持仓的 symbol 不重复开仓。
func (e *Engine) entryPhase(ctx context.Context, rc *runContext) {
	for _, sym := range rc.symbols {
		a := rc.analyses[sym]
		if a == nil {
			continue
		}
		if a.err != nil {
			e.journalAnalysisError(ctx, rc, sym, a.err)
			continue
		}
		var err error
		if len(rc.pending[sym]) > 0 || len(rc.holdings[sym]) > 0 {
			err = e.recordSnapshotOnly(ctx, rc, sym, a)
		} else {
			err = e.tryEnter(ctx, rc, sym, a)
		}
		if err != nil {
			rc.fail(sym, err)
			logger.Errorf("入场阶段失败 symbol=%s: %v", sym, err)
		}
	}
}

func (e *Engine) journalAnalysisError(ctx context.Context, rc *runContext, sym string, aErr error) {
	rc.fail(sym, aErr)
	rule := "fetch_error"
	if errors.Is(aErr, indicator.ErrInsufficientData) {
		rule = "insufficient_data"
	}
	err := e.withTx(ctx, func(uow store.UnitOfWork) error {
		return uow.Decisions().Append(ctx,
			rc.decision(sym, stageAnalysis, "SKIP", rule, 0, aErr.Error(), nil, nil, rc.dayTS))
	})
	if err != nil {
		logger.Errorf("分析失败留痕失败 symbol=%s: %v", sym, err)
	}
}

func (e *Engine) recordSnapshotOnly(ctx context.Context, rc *runContext, sym string, a *symbolAnalysis) error {
	trend, trendRule, trendRationale := strategy.ClassifyTrend(a.snap, rc.mode, rc.rules.Trend)
	snapRow := buildSnapshotRow(rc, a.snap, trend)
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		if err := uow.Snapshots().Save(ctx, snapRow); err != nil {
			return err
		}
		return uow.Decisions().Append(ctx,
			rc.decision(sym, stageTrend, "CLASSIFY", trendRule, 0, trendRationale,
				a.snap.Features(), nil, a.snap.TS))
	})
}

func (e *Engine) tryEnter(ctx context.Context, rc *runContext, sym string, a *symbolAnalysis) error {
	snap := a.snap
	ts := snap.TS
	levels := strategy.EntryLevels{
		TargetPct:     rc.cfg.TargetPct,
		StopPct:       rc.cfg.StopPct,
		ATRStopMult:   rc.cfg.ATRStopMult,
		ATRTargetMult: rc.cfg.ATRTargetMult,
	}
	var sig strategy.Signal
	if rc.mode == rules.ModeSwing && snap.SMA50 == nil {
		sig = strategy.InsufficientSwingSignal(rc.rules)
	} else {
		sig = strategy.EvaluateEntry(snap, rc.mode, rc.rules, levels)
	}
	a.entrySignal = &sig
	rc.summary.Signals[string(sig.Action)]++

	snapRow := buildSnapshotRow(rc, snap, sig.Trend)
	trendRow := rc.decision(sym, stageTrend, "CLASSIFY", sig.TrendRule, 0, sig.TrendRationale,
		snap.Features(), nil, ts)

	switch sig.Action {
	case strategy.ActionBuy:
		if e.sessionOver(rc, ts) {
			return e.withTx(ctx, func(uow store.UnitOfWork) error {
				if err := uow.Snapshots().Save(ctx, snapRow); err != nil {
					return err
				}
				return uow.Decisions().Append(ctx, trendRow,
					rc.decision(sym, stageEntry, "SKIP", "session_over", sig.Confidence,
						reasonSessionOver, nil, nil, ts))
			})
		}
		return e.openMarketPlan(ctx, rc, sym, a, sig, snapRow, trendRow)
	case strategy.ActionBuySetup:
		return e.openGTTPlan(ctx, rc, sym, a, sig, snapRow, trendRow)
	default:
		if sig.Action == strategy.ActionHold {
			rc.summary.Holds++
		}
		return e.withTx(ctx, func(uow store.UnitOfWork) error {
			if err := uow.Snapshots().Save(ctx, snapRow); err != nil {
				return err
			}
			return uow.Decisions().Append(ctx, trendRow,
				rc.decision(sym, stageEntry, string(sig.Action), sig.Rule, sig.Confidence,
					sig.Rationale, nil, nil, ts))
		})
	}
}

// openMarketPlan 处理日内市价入场：建计划、立即成交、扣预算、挂保护单，
// 全部落在同一事务。预算或仓位不允许时计划降级为 CANCELLED 并留痕。
func (e *Engine) openMarketPlan(ctx context.Context, rc *runContext, sym string, a *symbolAnalysis,
	sig strategy.Signal, snapRow *model.MarketSnapshot, trendRow *model.DecisionLog) error {
	snap := a.snap
	ts := snap.TS
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		if err := uow.Snapshots().Save(ctx, snapRow); err != nil {
			return err
		}
		active, err := uow.Plans().HasActive(ctx, rc.date, rc.mode, sym)
		if err != nil {
			return err
		}
		if active {
			return uow.Decisions().Append(ctx, trendRow,
				rc.decision(sym, stageEntry, "SKIP", "duplicate_plan", sig.Confidence,
					reasonDuplicatePlan, nil, nil, ts))
		}
		budget, err := uow.Budgets().Get(ctx, rc.date, rc.mode)
		if err != nil {
			return err
		}
		qty, admitErr := admitEntry(budget, snap.Close, rc.holdingCount, rc.cfg.MaxOpenPositions)

		plan := &model.TradePlan{
			PlanUID:     planUID(rc.runID, sym),
			RunID:       rc.runID,
			Date:        rc.date,
			Mode:        rc.mode,
			Symbol:      sym,
			PlanType:    model.PlanTypeMarket,
			Side:        model.SideBuy,
			Qty:         qty,
			PriceRef:    snap.Close,
			StopLoss:    sig.Stop,
			TakeProfit:  sig.Target,
			HorizonDays: rc.cfg.HorizonDays,
			Confidence:  sig.Confidence,
			Rationale:   sig.Rationale,
			Status:      model.PlanStatusPlanned,
			CreatedTS:   ts,
			UpdatedTS:   ts,
		}
		if err := uow.Plans().Create(ctx, plan); err != nil {
			return err
		}
		entryRow := rc.decision(sym, stageEntry, string(sig.Action), sig.Rule, sig.Confidence,
			sig.Rationale, snap.Features(), &plan.ID, ts)
		entryRow.RulesFired = rulesFired(sig.TrendRule, sig.Rule)

		if admitErr != nil {
			return e.cancelNewPlan(ctx, uow, rc, plan, admitErr, ts, trendRow, entryRow)
		}

		cost := float64(qty) * snap.Close
		if _, err := uow.Budgets().Debit(ctx, rc.date, rc.mode, cost, ts); err != nil {
			return err
		}
		if err := TransitPlan(plan, model.PlanStatusFilled); err != nil {
			return err
		}
		plan.EntryPrice = snap.Close
		plan.EntryDate = rc.date
		plan.UpdatedTS = ts
		txn := &model.Transaction{
			TxnUID:       txnUID(plan.PlanUID, "entry"),
			RunID:        rc.runID,
			PlanID:       plan.ID,
			Date:         rc.date,
			Mode:         rc.mode,
			Symbol:       sym,
			Side:         model.SideBuy,
			OrderType:    model.OrderTypeMarket,
			Qty:          qty,
			Price:        snap.Close,
			Amount:       round2(cost),
			FeaturesJSON: featuresJSON(snap.Features()),
			TS:           ts,
			CreatedTS:    ts,
		}
		if err := uow.Transactions().Create(ctx, txn); err != nil {
			return err
		}
		protect, err := e.placeProtection(ctx, uow, rc, plan, ts)
		if err != nil {
			return err
		}
		if err := uow.Plans().Save(ctx, plan); err != nil {
			return err
		}

		rc.holdingCount++
		rc.enteredNow[sym] = true
		rc.summary.Buys++
		fillRow := rc.decision(sym, stageFill, "FILL", "market_fill", sig.Confidence, sig.Rationale,
			map[string]any{"price": snap.Close, "qty": qty}, &plan.ID, ts)
		fillRow.TransactionID = &txn.ID
		return uow.Decisions().Append(ctx, trendRow, entryRow, fillRow,
			rc.decision(sym, stageProtect, "PROTECT", "protective_stop", 0, reasonProtectiveStop,
				map[string]any{"stop": protect.TriggerPrice, "target": plan.TakeProfit}, &plan.ID, ts))
	})
}

// openGTTPlan 处理波段条件单入场：建计划、挂入场 BUY 条件单，
// 成交要等后续运行的触发检查。
func (e *Engine) openGTTPlan(ctx context.Context, rc *runContext, sym string, a *symbolAnalysis,
	sig strategy.Signal, snapRow *model.MarketSnapshot, trendRow *model.DecisionLog) error {
	snap := a.snap
	ts := snap.TS
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		if err := uow.Snapshots().Save(ctx, snapRow); err != nil {
			return err
		}
		active, err := uow.Plans().HasActive(ctx, rc.date, rc.mode, sym)
		if err != nil {
			return err
		}
		if active {
			return uow.Decisions().Append(ctx, trendRow,
				rc.decision(sym, stageEntry, "SKIP", "duplicate_plan", sig.Confidence,
					reasonDuplicatePlan, nil, nil, ts))
		}
		budget, err := uow.Budgets().Get(ctx, rc.date, rc.mode)
		if err != nil {
			return err
		}
		qty, admitErr := admitEntry(budget, sig.Trigger, rc.holdingCount, rc.cfg.MaxOpenPositions)

		trigger := sig.Trigger
		plan := &model.TradePlan{
			PlanUID:       planUID(rc.runID, sym),
			RunID:         rc.runID,
			Date:          rc.date,
			Mode:          rc.mode,
			Symbol:        sym,
			PlanType:      model.PlanTypeGTT,
			Side:          model.SideBuy,
			Qty:           qty,
			PriceRef:      snap.Close,
			StopLoss:      sig.Stop,
			TakeProfit:    sig.Target,
			GTTBuyTrigger: &trigger,
			HorizonDays:   rc.cfg.HorizonDays,
			Confidence:    sig.Confidence,
			Rationale:     sig.Rationale,
			Status:        model.PlanStatusPlanned,
			CreatedTS:     ts,
			UpdatedTS:     ts,
		}
		if err := uow.Plans().Create(ctx, plan); err != nil {
			return err
		}
		entryRow := rc.decision(sym, stageEntry, string(sig.Action), sig.Rule, sig.Confidence,
			sig.Rationale, snap.Features(), &plan.ID, ts)
		entryRow.RulesFired = rulesFired(sig.TrendRule, sig.Rule)

		if admitErr != nil {
			return e.cancelNewPlan(ctx, uow, rc, plan, admitErr, ts, trendRow, entryRow)
		}

		if err := TransitPlan(plan, model.PlanStatusPendingTrigger); err != nil {
			return err
		}
		plan.UpdatedTS = ts
		order := &model.GTTOrder{
			OrderUID:     orderUID(plan.PlanUID, "entry"),
			PlanID:       plan.ID,
			RunID:        rc.runID,
			Date:         rc.date,
			Mode:         rc.mode,
			Symbol:       sym,
			Side:         model.SideBuy,
			TriggerPrice: trigger,
			LimitPrice:   trigger,
			Qty:          qty,
			Status:       model.GTTStatusPending,
			CreatedTS:    ts,
			UpdatedTS:    ts,
		}
		if err := uow.Orders().Create(ctx, order); err != nil {
			return err
		}
		if err := uow.Plans().Save(ctx, plan); err != nil {
			return err
		}
		return uow.Decisions().Append(ctx, trendRow, entryRow)
	})
}

// cancelNewPlan 把刚建的计划降级为 CANCELLED 并写明原因。
func (e *Engine) cancelNewPlan(ctx context.Context, uow store.UnitOfWork, rc *runContext,
	plan *model.TradePlan, admitErr error, ts int64, rows ...*model.DecisionLog) error {
	if err := TransitPlan(plan, model.PlanStatusCancelled); err != nil {
		return err
	}
	plan.Rationale = cancelReason(admitErr)
	plan.UpdatedTS = ts
	if err := uow.Plans().Save(ctx, plan); err != nil {
		return err
	}
	rows = append(rows, rc.decision(plan.Symbol, stageEntry, "CANCEL", cancelRule(admitErr),
		plan.Confidence, cancelReason(admitErr), nil, &plan.ID, ts))
	return uow.Decisions().Append(ctx, rows...)
}

// placeProtection 在成交后挂保护 SELL 条件单并把计划推进到 PROTECTED。
// 调用方负责随后 Save 计划。
func (e *Engine) placeProtection(ctx context.Context, uow store.UnitOfWork, rc *runContext,
	plan *model.TradePlan, ts int64) (*model.GTTOrder, error) {
	order := &model.GTTOrder{
		OrderUID:     orderUID(plan.PlanUID, "protect"),
		PlanID:       plan.ID,
		RunID:        rc.runID,
		Date:         rc.date,
		Mode:         rc.mode,
		Symbol:       plan.Symbol,
		Side:         model.SideSell,
		TriggerPrice: plan.StopLoss,
		LimitPrice:   plan.StopLoss,
		Qty:          plan.Qty,
		Status:       model.GTTStatusPending,
		CreatedTS:    ts,
		UpdatedTS:    ts,
	}
	if err := uow.Orders().Create(ctx, order); err != nil {
		return nil, err
	}
	if err := TransitPlan(plan, model.PlanStatusProtected); err != nil {
		return nil, err
	}
	exitRules := map[string]any{
		"trailing_stop": plan.StopLoss,
		"take_profit":   plan.TakeProfit,
	}
	if rc.mode == rules.ModeIntraday && rc.cfg.TimeExit != "" {
		exitRules["time_exit"] = rc.cfg.TimeExit
	} else {
		exitRules["horizon_days"] = plan.HorizonDays
	}
	b, err := json.Marshal(exitRules)
	if err != nil {
		return nil, err
	}
	plan.ExitRulesJSON = datatypes.JSON(b)
	stop := plan.StopLoss
	plan.GTTSellTrigger = &stop
	plan.UpdatedTS = ts
	return order, nil
}

// triggerPhase 对运行开始时已存在的入场条件单做过期与触发检查。
func (e *Engine) triggerPhase(ctx context.Context, rc *runContext) {
	for _, sym := range rc.symbols {
		orders := rc.pending[sym]
		if len(orders) == 0 {
			continue
		}
		a := rc.analyses[sym]
		if a == nil || a.err != nil {
			continue
		}
		for i := range orders {
			if err := e.processEntryOrder(ctx, rc, sym, orders[i], a); err != nil {
				rc.fail(sym, err)
				logger.Errorf("触发检查失败 symbol=%s order=%s: %v", sym, orders[i].OrderUID, err)
			}
		}
	}
}

func (e *Engine) processEntryOrder(ctx context.Context, rc *runContext, sym string,
	ord model.GTTOrder, a *symbolAnalysis) error {
	snap := a.snap
	ts := snap.TS
	order := &ord
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		plan, err := uow.Plans().FindByID(ctx, order.PlanID)
		if err != nil {
			return err
		}
		if plan == nil {
			return fmt.Errorf("挂单 %s 找不到计划 %d", order.OrderUID, order.PlanID)
		}
		if plan.Status != model.PlanStatusPendingTrigger {
			return nil
		}

		age, err := e.calendar.DaysBetween(plan.Date, rc.date)
		if err != nil {
			return err
		}
		if plan.HorizonDays > 0 && age > plan.HorizonDays {
			return e.cancelPendingEntry(ctx, uow, rc, plan, order, "gtt_expiry", reasonTriggerExpired, ts)
		}

		if !priceReached(snap.High, order.TriggerPrice) {
			return uow.Decisions().Append(ctx,
				rc.decision(sym, stageTrigger, "WAIT", "awaiting_trigger", plan.Confidence,
					reasonAwaitingTrigger,
					map[string]any{"trigger": order.TriggerPrice, "high": snap.High}, &plan.ID, ts))
		}

		// 成交前复核仓位与预算，窗口期内其他成交可能已占走额度。
		if rc.holdingCount >= rc.cfg.MaxOpenPositions {
			return e.cancelPendingEntry(ctx, uow, rc, plan, order, "position_cap", reasonPositionCap, ts)
		}
		budget, err := uow.Budgets().Get(ctx, rc.date, rc.mode)
		if err != nil {
			return err
		}
		qty := plan.Qty
		cost := float64(qty) * order.TriggerPrice
		if cost > remainingOf(budget) {
			qty = SizePosition(budget, order.TriggerPrice)
			cost = float64(qty) * order.TriggerPrice
		}
		if qty <= 0 {
			return e.cancelPendingEntry(ctx, uow, rc, plan, order, "budget_exhausted", reasonBudgetExhausted, ts)
		}
		if _, err := uow.Budgets().Debit(ctx, rc.date, rc.mode, cost, ts); err != nil {
			return err
		}

		// 成交价按触发价记，不追当根最高价。
		if err := TransitOrder(order, model.GTTStatusTriggered); err != nil {
			return err
		}
		executed := order.TriggerPrice
		order.ExecutedPrice = &executed
		order.TriggeredAt = &ts
		order.Qty = qty
		order.UpdatedTS = ts
		if err := uow.Orders().Save(ctx, order); err != nil {
			return err
		}

		if err := TransitPlan(plan, model.PlanStatusFilled); err != nil {
			return err
		}
		plan.EntryPrice = executed
		plan.EntryDate = rc.date
		plan.Qty = qty
		plan.UpdatedTS = ts
		txn := &model.Transaction{
			TxnUID:       txnUID(plan.PlanUID, "entry"),
			RunID:        rc.runID,
			PlanID:       plan.ID,
			Date:         rc.date,
			Mode:         rc.mode,
			Symbol:       sym,
			Side:         model.SideBuy,
			OrderType:    model.OrderTypeGTTTrigger,
			GTTOrderID:   &order.ID,
			Qty:          qty,
			Price:        executed,
			Amount:       round2(cost),
			FeaturesJSON: featuresJSON(snap.Features()),
			TS:           ts,
			CreatedTS:    ts,
		}
		if err := uow.Transactions().Create(ctx, txn); err != nil {
			return err
		}
		protect, err := e.placeProtection(ctx, uow, rc, plan, ts)
		if err != nil {
			return err
		}
		if err := uow.Plans().Save(ctx, plan); err != nil {
			return err
		}

		rc.holdingCount++
		rc.enteredNow[sym] = true
		rc.summary.Buys++
		fillRow := rc.decision(sym, stageFill, "FILL", "gtt_trigger", plan.Confidence, plan.Rationale,
			map[string]any{"trigger": executed, "high": snap.High, "qty": qty}, &plan.ID, ts)
		fillRow.TransactionID = &txn.ID
		return uow.Decisions().Append(ctx, fillRow,
			rc.decision(sym, stageProtect, "PROTECT", "protective_stop", 0, reasonProtectiveStop,
				map[string]any{"stop": protect.TriggerPrice, "target": plan.TakeProfit}, &plan.ID, ts))
	})
}

func (e *Engine) cancelPendingEntry(ctx context.Context, uow store.UnitOfWork, rc *runContext,
	plan *model.TradePlan, order *model.GTTOrder, rule, reason string, ts int64) error {
	if err := TransitOrder(order, model.GTTStatusCancelled); err != nil {
		return err
	}
	order.UpdatedTS = ts
	if err := uow.Orders().Save(ctx, order); err != nil {
		return err
	}
	if err := TransitPlan(plan, model.PlanStatusCancelled); err != nil {
		return err
	}
	plan.Rationale = reason
	plan.UpdatedTS = ts
	if err := uow.Plans().Save(ctx, plan); err != nil {
		return err
	}
	stage := stageExpiry
	if rule != "gtt_expiry" {
		stage = stageFill
	}
	return uow.Decisions().Append(ctx,
		rc.decision(plan.Symbol, stage, "CANCEL", rule, plan.Confidence, reason, nil, &plan.ID, ts))
}

// trailingPhase 为运行开始时已受保护的持仓抬高止损，只升不降。
func (e *Engine) trailingPhase(ctx context.Context, rc *runContext) {
	if rc.cfg.ATRStopMult <= 0 {
		return
	}
	for _, sym := range rc.symbols {
		plans := rc.holdings[sym]
		if len(plans) == 0 {
			continue
		}
		a := rc.analyses[sym]
		if a == nil || a.err != nil {
			continue
		}
		for _, plan := range plans {
			if plan.Status != model.PlanStatusProtected {
				continue
			}
			candidate := strategy.TrailingStop(a.snap.Close, a.snap.ATR14, rc.cfg.ATRStopMult)
			if !strategy.ShouldRaiseStop(candidate, plan.StopLoss) {
				continue
			}
			if err := e.raiseStop(ctx, rc, plan, candidate, a.snap.TS); err != nil {
				rc.fail(sym, err)
				logger.Errorf("移动止损失败 symbol=%s plan=%d: %v", sym, plan.ID, err)
			}
		}
	}
}

func (e *Engine) raiseStop(ctx context.Context, rc *runContext, plan *model.TradePlan,
	stop float64, ts int64) error {
	prev := plan.StopLoss
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		fresh, err := uow.Plans().FindByID(ctx, plan.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.Status != model.PlanStatusProtected {
			return nil
		}
		fresh.StopLoss = stop
		s := stop
		fresh.GTTSellTrigger = &s
		fresh.ExitRulesJSON = mergedExitRules(fresh.ExitRulesJSON, stop)
		fresh.UpdatedTS = ts
		if err := uow.Plans().Save(ctx, fresh); err != nil {
			return err
		}
		orders, err := uow.Orders().FindByPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		for i := range orders {
			o := orders[i]
			if o.Side != model.SideSell || o.Status != model.GTTStatusPending {
				continue
			}
			o.TriggerPrice = stop
			o.LimitPrice = stop
			o.UpdatedTS = ts
			if err := uow.Orders().Save(ctx, &o); err != nil {
				return err
			}
		}
		// 同步内存副本，离场阶段按抬高后的止损判定。
		plan.StopLoss = stop
		plan.GTTSellTrigger = fresh.GTTSellTrigger
		plan.ExitRulesJSON = fresh.ExitRulesJSON
		return uow.Decisions().Append(ctx,
			rc.decision(plan.Symbol, stageTrail, "RAISE", "trailing_stop", 0, reasonTrailingRaised,
				map[string]any{"from": prev, "to": stop}, &plan.ID, ts))
	})
}

func mergedExitRules(raw datatypes.JSON, stop float64) datatypes.JSON {
	fields := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fields)
	}
	fields["trailing_stop"] = stop
	b, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return datatypes.JSON(b)
}

// exitPhase 按 止损 > 止盈 > 时间 的优先级检查运行开始时的持仓。
// 离场检查不受预算影响，每次运行都会执行。
func (e *Engine) exitPhase(ctx context.Context, rc *runContext) {
	for _, sym := range rc.symbols {
		plans := rc.holdings[sym]
		if len(plans) == 0 {
			continue
		}
		a := rc.analyses[sym]
		if a == nil || a.err != nil {
			continue
		}
		for _, plan := range plans {
			if plan.Status != model.PlanStatusProtected {
				continue
			}
			if err := e.evaluatePlanExit(ctx, rc, plan, a); err != nil {
				rc.fail(sym, err)
				logger.Errorf("离场检查失败 symbol=%s plan=%d: %v", sym, plan.ID, err)
			}
		}
	}
}

func (e *Engine) evaluatePlanExit(ctx context.Context, rc *runContext, plan *model.TradePlan,
	a *symbolAnalysis) error {
	snap := a.snap
	ts := snap.TS
	heldDays := 0
	if plan.EntryDate != "" {
		if d, err := e.calendar.DaysBetween(plan.EntryDate, rc.date); err == nil {
			heldDays = d
		}
	}
	pos := strategy.Position{
		EntryPrice:  plan.EntryPrice,
		Stop:        plan.StopLoss,
		Target:      plan.TakeProfit,
		HeldDays:    heldDays,
		HorizonDays: plan.HorizonDays,
	}
	sig := strategy.EvaluateExit(snap, pos, rc.mode, e.sessionOver(rc, ts), rc.rules)
	rc.summary.Signals[string(sig.Action)]++
	if sig.Action != strategy.ActionExit {
		rc.summary.Holds++
		return e.withTx(ctx, func(uow store.UnitOfWork) error {
			return uow.Decisions().Append(ctx,
				rc.decision(plan.Symbol, stageExit, string(sig.Action), sig.Rule, sig.Confidence,
					sig.Rationale, map[string]any{
						"close": snap.Close, "stop": plan.StopLoss,
						"target": plan.TakeProfit, "held_days": heldDays,
					}, &plan.ID, ts))
		})
	}
	return e.closePlan(ctx, rc, plan, closeRequest{
		price:      sig.ExitPrice,
		rule:       sig.Rule,
		rationale:  sig.Rationale,
		confidence: sig.Confidence,
		orderType:  exitOrderType(sig.Rule),
		stage:      stageExit,
		txnLeg:     "exit",
		note:       sig.Rule,
		features:   snap.Features(),
		ts:         ts,
	})
}

// closeRequest 描述一次整仓了结。
type closeRequest struct {
	price      float64
	rule       string
	rationale  string
	confidence float64
	orderType  model.OrderType
	stage      string
	txnLeg     string
	note       string
	features   map[string]any
	ts         int64
}

// closePlan 平掉一笔 PROTECTED 计划：计划收口、保护单了结、成交回报
// 带盈亏，一个事务完成。卖出不回补预算。
func (e *Engine) closePlan(ctx context.Context, rc *runContext, plan *model.TradePlan,
	req closeRequest) error {
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		fresh, err := uow.Plans().FindByID(ctx, plan.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.Status != model.PlanStatusProtected {
			return nil
		}
		qty := fresh.Qty
		if err := TransitPlan(fresh, model.PlanStatusClosed); err != nil {
			return err
		}
		fresh.ExitPrice = req.price
		fresh.UpdatedTS = req.ts
		if err := uow.Plans().Save(ctx, fresh); err != nil {
			return err
		}

		// 保护单随计划了结：止损/止盈按触发记，时间类口径撤销。
		orders, err := uow.Orders().FindByPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		var firedOrderID *int64
		for i := range orders {
			o := orders[i]
			if o.Side != model.SideSell || o.Status != model.GTTStatusPending {
				continue
			}
			if req.orderType.ProtectiveFill() {
				if err := TransitOrder(&o, model.GTTStatusTriggered); err != nil {
					return err
				}
				p := req.price
				tts := req.ts
				o.ExecutedPrice = &p
				o.TriggeredAt = &tts
				id := o.ID
				firedOrderID = &id
			} else {
				if err := TransitOrder(&o, model.GTTStatusCancelled); err != nil {
					return err
				}
			}
			o.UpdatedTS = req.ts
			if err := uow.Orders().Save(ctx, &o); err != nil {
				return err
			}
		}

		pnl := round2((req.price - fresh.EntryPrice) * float64(qty))
		txn := &model.Transaction{
			TxnUID:       txnUID(fresh.PlanUID, req.txnLeg),
			RunID:        rc.runID,
			PlanID:       fresh.ID,
			Date:         rc.date,
			Mode:         rc.mode,
			Symbol:       fresh.Symbol,
			Side:         model.SideSell,
			OrderType:    req.orderType,
			GTTOrderID:   firedOrderID,
			Qty:          qty,
			Price:        req.price,
			Amount:       round2(float64(qty) * req.price),
			PnL:          &pnl,
			Note:         req.note,
			FeaturesJSON: featuresJSON(req.features),
			TS:           req.ts,
			CreatedTS:    req.ts,
		}
		if err := uow.Transactions().Create(ctx, txn); err != nil {
			return err
		}

		rc.holdingCount--
		plan.Status = model.PlanStatusClosed
		rc.summary.Sells++
		exitRow := rc.decision(fresh.Symbol, req.stage, "EXIT", req.rule, req.confidence, req.rationale,
			map[string]any{
				"exit_price": req.price, "entry_price": fresh.EntryPrice,
				"qty": qty, "pnl": pnl,
			}, &fresh.ID, req.ts)
		exitRow.TransactionID = &txn.ID
		return uow.Decisions().Append(ctx, exitRow)
	})
}

func (e *Engine) sessionOver(rc *runContext, ts int64) bool {
	if rc.mode != rules.ModeIntraday || rc.cfg.TimeExit == "" {
		return false
	}
	over, err := e.calendar.AtOrAfterTimeOfDay(ts, rc.cfg.TimeExit)
	if err != nil {
		return false
	}
	return over
}

func exitOrderType(rule string) model.OrderType {
	switch rule {
	case "take_profit", "intraday_take_profit":
		return model.OrderTypeTakeProfit
	case "time_stop", "intraday_time_exit":
		return model.OrderTypeTimeExit
	default:
		return model.OrderTypeStopLoss
	}
}

func cancelRule(err error) string {
	if errors.Is(err, ErrPositionCapReached) {
		return "position_cap"
	}
	return "budget_exhausted"
}

func cancelReason(err error) string {
	if errors.Is(err, ErrPositionCapReached) {
		return reasonPositionCap
	}
	return reasonBudgetExhausted
}

// priceReached 用定点比较判断触发价是否被当根最高价够到。
func priceReached(high, trigger float64) bool {
	if trigger <= 0 {
		return false
	}
	return decimal.NewFromFloat(high).Cmp(decimal.NewFromFloat(trigger)) >= 0
}
