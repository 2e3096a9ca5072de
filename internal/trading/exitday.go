package trading

import (
	"context"
	"fmt"
	"strings"

	"tradewind/internal/logger"
	"tradewind/internal/store/model"
)

// ExitDayRequest 请求把某个模式的全部持仓按最新收盘价强制了结。
type ExitDayRequest struct {
	Date  string `json:"date"`
	Mode  string `json:"mode"`
	RunID string `json:"run_id"`
}

// ExitDaySummary 是强制清仓的结果统计。
type ExitDaySummary struct {
	RunID  string   `json:"run_id"`
	Date   string   `json:"date"`
	Mode   string   `json:"mode"`
	Closed int      `json:"closed"`
	Errors []string `json:"errors,omitempty"`
}

// ExitDay 把模式下所有 PROTECTED 持仓按最新收盘价了结，成交回报记
// TIME_EXIT 口径。单个 symbol 的失败不影响其余持仓，预算不回补。
func (e *Engine) ExitDay(ctx context.Context, req ExitDayRequest) (ExitDaySummary, error) {
	mode := strings.ToUpper(strings.TrimSpace(req.Mode))
	modeCfg, ok := e.modes.ModeByName(mode)
	if !ok {
		return ExitDaySummary{}, fmt.Errorf("%w: 未知模式 %q", ErrInvalidConfiguration, req.Mode)
	}
	ruleset, ok := e.registry.Ruleset(mode)
	if !ok {
		return ExitDaySummary{}, fmt.Errorf("%w: 模式 %s 没有规则集", ErrInvalidConfiguration, mode)
	}
	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = e.calendar.Today(e.nowFn())
	}
	day, err := e.calendar.ParseDate(date)
	if err != nil {
		return ExitDaySummary{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = NewRunID(date, mode)
	}
	summary := ExitDaySummary{RunID: runID, Date: date, Mode: mode}

	_, holdings, holdingCount, err := e.loadOpenState(ctx, mode)
	if err != nil {
		return summary, err
	}
	if holdingCount == 0 {
		return summary, nil
	}

	symbols := make([]string, 0, len(holdings))
	for sym := range holdings {
		symbols = append(symbols, sym)
	}
	rc := &runContext{
		runID:        runID,
		date:         date,
		mode:         mode,
		interval:     modeCfg.Interval,
		dayTS:        day.UnixMilli(),
		cfg:          modeCfg,
		rules:        ruleset,
		symbols:      nil,
		analyses:     e.analyze(ctx, symbols, modeCfg.Interval, modeCfg.Period, mode, modeCfg),
		holdings:     holdings,
		holdingCount: holdingCount,
		enteredNow:   map[string]bool{},
		summary:      &RunSummary{Signals: map[string]int{}},
	}

	for _, sym := range unionSymbols(symbols, nil, nil) {
		a := rc.analyses[sym]
		if a == nil || a.err != nil {
			if a != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", sym, a.err))
			}
			continue
		}
		for _, plan := range rc.holdings[sym] {
			if plan.Status != model.PlanStatusProtected {
				continue
			}
			err := e.closePlan(ctx, rc, plan, closeRequest{
				price:      a.snap.Close,
				rule:       "exit_day",
				rationale:  reasonExitDay,
				confidence: 0,
				orderType:  model.OrderTypeTimeExit,
				stage:      stageExit,
				txnLeg:     "exit",
				note:       "exit_day",
				features:   a.snap.Features(),
				ts:         a.snap.TS,
			})
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", sym, err))
				logger.Errorf("强制清仓失败 symbol=%s plan=%d: %v", sym, plan.ID, err)
				continue
			}
			summary.Closed++
		}
	}
	return summary, nil
}
