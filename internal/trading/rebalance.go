package trading

import (
	"context"
	"fmt"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/logger"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
	"tradewind/internal/strategy"
	"tradewind/internal/strategy/rules"
)

// 再平衡时点相对出场检查的先后。
const (
	RebalanceBeforeExits = "before_exits"
	RebalanceAfterExits  = "after_exits"
)

// RebalanceAction 是再平衡策略的裁决结果。
type RebalanceAction int

const (
	RebalanceNone RebalanceAction = iota
	RebalancePartial
	RebalanceFull
)

func (a RebalanceAction) String() string {
	switch a {
	case RebalancePartial:
		return "PARTIAL"
	case RebalanceFull:
		return "FULL"
	default:
		return "NONE"
	}
}

// RebalancePolicy 是持仓换手策略的参数集，来自配置。
type RebalancePolicy struct {
	Enabled             bool
	Order               string
	PartialThresholdPct float64
	FullThresholdPct    float64
	PartialFraction     float64
}

// ImprovementPct 计算最优候选相对最弱持仓的改善幅度（百分比）。
// 最弱持仓评分非正而候选为正时按 100 处理，避免除零与符号翻转。
func ImprovementPct(best, weakest float64) float64 {
	if weakest <= 0 {
		if best > 0 {
			return 100
		}
		return 0
	}
	return (best - weakest) / weakest * 100
}

// Decide 把改善幅度映射到动作：不超过部分阈值不动，超过全量阈值整仓
// 换手，两者之间按比例减仓。
func (p RebalancePolicy) Decide(best, weakest float64) (RebalanceAction, float64) {
	improvement := ImprovementPct(best, weakest)
	if !p.Enabled {
		return RebalanceNone, improvement
	}
	switch {
	case improvement <= p.PartialThresholdPct:
		return RebalanceNone, improvement
	case improvement > p.FullThresholdPct:
		return RebalanceFull, improvement
	default:
		return RebalancePartial, improvement
	}
}

// rebalancePhase 把最弱持仓换成评分更高的空仓候选。执行时点
//（出场检查之前或之后）由策略配置决定，两种顺序语义都被测试覆盖。
func (e *Engine) rebalancePhase(ctx context.Context, rc *runContext) {
	weakest := e.weakestHolding(rc)
	best := e.bestCandidate(rc)
	if weakest == nil || best == nil {
		return
	}
	wa := rc.analyses[weakest.Symbol]
	action, improvement := e.policy.Decide(best.score, wa.score)
	ts := wa.snap.TS
	features := map[string]any{
		"weakest":         weakest.Symbol,
		"weakest_score":   wa.score,
		"candidate":       best.symbol,
		"candidate_score": best.score,
		"improvement_pct": round2(improvement),
	}

	var err error
	switch action {
	case RebalanceFull:
		err = e.rebalanceFull(ctx, rc, weakest, wa, best, features)
	case RebalancePartial:
		err = e.rebalancePartial(ctx, rc, weakest, wa, features)
	default:
		err = e.withTx(ctx, func(uow store.UnitOfWork) error {
			return uow.Decisions().Append(ctx,
				rc.decision(weakest.Symbol, stageRebalance, "HOLD", "rebalance_below_threshold", 0,
					reasonRebalanceHold, features, &weakest.ID, ts))
		})
	}
	if err != nil {
		rc.fail(weakest.Symbol, err)
		logger.Errorf("再平衡失败 weakest=%s candidate=%s: %v", weakest.Symbol, best.symbol, err)
	}
}

// weakestHolding 返回评分最低的 PROTECTED 持仓；分析失败的持仓不参与换手。
func (e *Engine) weakestHolding(rc *runContext) *model.TradePlan {
	var weakest *model.TradePlan
	var lowest float64
	for _, sym := range rc.symbols {
		a := rc.analyses[sym]
		if a == nil || a.err != nil {
			continue
		}
		for _, plan := range rc.holdings[sym] {
			if plan.Status != model.PlanStatusProtected {
				continue
			}
			if weakest == nil || a.score < lowest {
				weakest = plan
				lowest = a.score
			}
		}
	}
	return weakest
}

// bestCandidate 在本次运行给出买入信号却仍然空仓的 symbol 里挑评分最高者。
func (e *Engine) bestCandidate(rc *runContext) *symbolAnalysis {
	var best *symbolAnalysis
	for _, sym := range rc.symbols {
		a := rc.analyses[sym]
		if a == nil || a.err != nil || a.entrySignal == nil {
			continue
		}
		if rc.enteredNow[sym] || len(rc.holdings[sym]) > 0 || len(rc.pending[sym]) > 0 {
			continue
		}
		act := a.entrySignal.Action
		if act != strategy.ActionBuy && act != strategy.ActionBuySetup {
			continue
		}
		if best == nil || a.score > best.score {
			best = a
		}
	}
	return best
}

// rebalancePartial 按比例减掉最弱持仓，计划保持 PROTECTED，保护单数量同步。
func (e *Engine) rebalancePartial(ctx context.Context, rc *runContext, plan *model.TradePlan,
	wa *symbolAnalysis, features map[string]any) error {
	ts := wa.snap.TS
	price := wa.snap.Close
	sellQty := int(float64(plan.Qty) * e.policy.PartialFraction)
	if sellQty < 1 {
		sellQty = 1
	}
	if sellQty >= plan.Qty {
		sellQty = plan.Qty - 1
	}
	if sellQty < 1 {
		return e.withTx(ctx, func(uow store.UnitOfWork) error {
			return uow.Decisions().Append(ctx,
				rc.decision(plan.Symbol, stageRebalance, "SKIP", "rebalance_partial", 0,
					"Position too small for a partial sale", features, &plan.ID, ts))
		})
	}
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		fresh, err := uow.Plans().FindByID(ctx, plan.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.Status != model.PlanStatusProtected {
			return nil
		}
		fresh.Qty -= sellQty
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
			o.Qty = fresh.Qty
			o.UpdatedTS = ts
			if err := uow.Orders().Save(ctx, &o); err != nil {
				return err
			}
		}
		pnl := round2((price - fresh.EntryPrice) * float64(sellQty))
		txn := &model.Transaction{
			TxnUID:       txnUID(fresh.PlanUID, "rebalance-partial"),
			RunID:        rc.runID,
			PlanID:       fresh.ID,
			Date:         rc.date,
			Mode:         rc.mode,
			Symbol:       fresh.Symbol,
			Side:         model.SideSell,
			OrderType:    model.OrderTypeRebalance,
			Qty:          sellQty,
			Price:        price,
			Amount:       round2(float64(sellQty) * price),
			PnL:          &pnl,
			Note:         "rebalance_partial",
			FeaturesJSON: featuresJSON(features),
			TS:           ts,
			CreatedTS:    ts,
		}
		if err := uow.Transactions().Create(ctx, txn); err != nil {
			return err
		}
		plan.Qty = fresh.Qty
		rc.summary.Rebalances++
		features["sold_qty"] = sellQty
		features["pnl"] = pnl
		row := rc.decision(fresh.Symbol, stageRebalance, "PARTIAL", "rebalance_partial", 0,
			reasonRebalancePartial, features, &fresh.ID, ts)
		row.TransactionID = &txn.ID
		return uow.Decisions().Append(ctx, row)
	})
}

// rebalanceFull 整仓卖出最弱持仓，再用卖出所得按收盘价买入最优候选。
// 候选买不进时换手只完成卖出一腿并留痕。
func (e *Engine) rebalanceFull(ctx context.Context, rc *runContext, plan *model.TradePlan,
	wa *symbolAnalysis, best *symbolAnalysis, features map[string]any) error {
	ts := wa.snap.TS
	price := wa.snap.Close
	proceeds := round2(float64(plan.Qty) * price)
	if err := e.closePlan(ctx, rc, plan, closeRequest{
		price:      price,
		rule:       "rebalance_full",
		rationale:  reasonRebalanceFull,
		confidence: 0,
		orderType:  model.OrderTypeRebalance,
		stage:      stageRebalance,
		txnLeg:     "rebalance",
		note:       "rebalance_full",
		features:   features,
		ts:         ts,
	}); err != nil {
		return err
	}
	rc.summary.Sells--
	rc.summary.Rebalances++
	return e.rebalanceEnter(ctx, rc, best, proceeds, features)
}

// rebalanceEnter 用卖出所得市价买入候选。换手回收的是已经占用的
// 资金，不走当日预算：预算既不回补也不再扣，spent+remaining 恒等于
// total，预算花光的日子全量换手照样能买进候选。
func (e *Engine) rebalanceEnter(ctx context.Context, rc *runContext, best *symbolAnalysis,
	proceeds float64, features map[string]any) error {
	snap := best.snap
	sym := best.symbol
	ts := snap.TS
	price := snap.Close
	stop, target := e.marketLevels(rc, snap)
	sig := best.entrySignal
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		active, err := uow.Plans().HasActive(ctx, rc.date, rc.mode, sym)
		if err != nil {
			return err
		}
		if active {
			return uow.Decisions().Append(ctx,
				rc.decision(sym, stageRebalance, "SKIP", "duplicate_plan", sig.Confidence,
					reasonDuplicatePlan, features, nil, ts))
		}
		qty := 0
		if price > 0 && proceeds > 0 {
			qty = int(proceeds / price)
		}
		// 同一 run 里该 symbol 可能已有被取消的常规入场计划，UID 加腿区分。
		plan := &model.TradePlan{
			PlanUID:     planUID(rc.runID, sym) + "-rb",
			RunID:       rc.runID,
			Date:        rc.date,
			Mode:        rc.mode,
			Symbol:      sym,
			PlanType:    model.PlanTypeMarket,
			Side:        model.SideBuy,
			Qty:         qty,
			PriceRef:    price,
			StopLoss:    stop,
			TakeProfit:  target,
			HorizonDays: rc.cfg.HorizonDays,
			Confidence:  sig.Confidence,
			Rationale:   reasonRebalanceEnter,
			Status:      model.PlanStatusPlanned,
			CreatedTS:   ts,
			UpdatedTS:   ts,
		}
		if err := uow.Plans().Create(ctx, plan); err != nil {
			return err
		}
		if qty <= 0 || rc.holdingCount >= rc.cfg.MaxOpenPositions {
			admitErr := error(fmt.Errorf("%w: proceeds=%.2f price=%.4f", ErrBudgetExhausted, proceeds, price))
			if rc.holdingCount >= rc.cfg.MaxOpenPositions {
				admitErr = fmt.Errorf("%w: %d/%d", ErrPositionCapReached, rc.holdingCount, rc.cfg.MaxOpenPositions)
			}
			return e.cancelNewPlan(ctx, uow, rc, plan, admitErr, ts)
		}
		cost := float64(qty) * price
		if err := TransitPlan(plan, model.PlanStatusFilled); err != nil {
			return err
		}
		plan.EntryPrice = price
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
			OrderType:    model.OrderTypeRebalance,
			Qty:          qty,
			Price:        price,
			Amount:       round2(cost),
			Note:         "rebalance_entry",
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
		features["entered_qty"] = qty
		features["entry_price"] = price
		enterRow := rc.decision(sym, stageRebalance, "ENTER", "rebalance_entry", sig.Confidence,
			reasonRebalanceEnter, features, &plan.ID, ts)
		enterRow.TransactionID = &txn.ID
		return uow.Decisions().Append(ctx, enterRow,
			rc.decision(sym, stageProtect, "PROTECT", "protective_stop", 0, reasonProtectiveStop,
				map[string]any{"stop": protect.TriggerPrice, "target": plan.TakeProfit}, &plan.ID, ts))
	})
}

// marketLevels 按模式参数从收盘价推导市价入场的止损止盈。
func (e *Engine) marketLevels(rc *runContext, snap indicator.Snapshot) (stop, target float64) {
	if rc.mode == rules.ModeIntraday {
		stop = round4(snap.Close * (1 - rc.cfg.StopPct/100))
		target = round4(snap.Close * (1 + rc.cfg.TargetPct/100))
		return stop, target
	}
	stop = round4(snap.Close - rc.cfg.ATRStopMult*snap.ATR14)
	target = round4(snap.Close + rc.cfg.ATRTargetMult*snap.ATR14)
	return stop, target
}
