package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/config"
	"tradewind/internal/journal"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
	"tradewind/internal/strategy"
	"tradewind/internal/strategy/rules"
	"tradewind/internal/universe"
)

// Engine 驱动一次 (date, mode) 的完整决策运行：并行分析、顺序变更、
// 全程留痕。所有领域行的时间戳来自 K 线数据，重放同一 run_id 得到
// 逐字节一致的结果。
type Engine struct {
	store    store.Store
	journal  *journal.JournalStore
	source   market.CandleSource
	calendar *market.Calendar
	registry *rules.Registry

	modes       config.ModesConfig
	policy      RebalancePolicy
	maxParallel int

	nowFn func() time.Time
}

// NewEngine 组装引擎。
func NewEngine(st store.Store, jr *journal.JournalStore, src market.CandleSource,
	cal *market.Calendar, reg *rules.Registry, cfg *config.Config) *Engine {
	policy := RebalancePolicy{}
	maxParallel := 4
	modes := config.ModesConfig{}
	if cfg != nil {
		modes = cfg.Modes
		policy = RebalancePolicy{
			Enabled:             cfg.Rebalance.Enabled,
			Order:               cfg.Rebalance.Order,
			PartialThresholdPct: cfg.Rebalance.PartialThresholdPct,
			FullThresholdPct:    cfg.Rebalance.FullThresholdPct,
			PartialFraction:     cfg.Rebalance.PartialFraction,
		}
		if cfg.Engine.MaxParallel > 0 {
			maxParallel = cfg.Engine.MaxParallel
		}
	}
	return &Engine{
		store:       st,
		journal:     jr,
		source:      src,
		calendar:    cal,
		registry:    reg,
		modes:       modes,
		policy:      policy,
		maxParallel: maxParallel,
		nowFn:       time.Now,
	}
}

// SetNow 注入时钟。只影响运行账本与观察清单的簿记时间，
// 领域行的时间戳始终来自 K 线。
func (e *Engine) SetNow(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// SetRebalancePolicy 覆盖再平衡策略（测试两种时点顺序用）。
func (e *Engine) SetRebalancePolicy(p RebalancePolicy) {
	e.policy = p
}

// RunRequest 是一次运行的入参，零值字段取模式默认。
type RunRequest struct {
	Date     string `json:"date"`
	Mode     string `json:"mode"`
	Interval string `json:"interval"`
	Period   string `json:"period"`
	RunID    string `json:"run_id"`
}

// RunSummary 是一次运行的统计结果，同时序列化进运行账本。
type RunSummary struct {
	RunID          string         `json:"run_id"`
	Date           string         `json:"date"`
	Mode           string         `json:"mode"`
	Interval       string         `json:"interval"`
	SkippedWeekend bool           `json:"skipped_weekend"`
	SymbolsChecked int            `json:"symbols_checked"`
	Buys           int            `json:"buys"`
	Sells          int            `json:"sells"`
	Holds          int            `json:"holds"`
	Rebalances     int            `json:"rebalances"`
	Signals        map[string]int `json:"signal_histogram"`
	Errors         []string       `json:"errors,omitempty"`
}

// symbolAnalysis 是分析阶段的单 symbol 产物。entrySignal 在入场阶段
// 回填，再平衡阶段据此挑选替换候选。
type symbolAnalysis struct {
	symbol      string
	snap        indicator.Snapshot
	score       float64
	err         error
	entrySignal *strategy.Signal
}

// runContext 贯穿一次运行的变更阶段。pending/holdings 是运行开始时的
// 开放状态快照：本次运行新建的挂单与持仓要到下一次运行才参与
// 触发、移动止损与离场检查。
type runContext struct {
	runID    string
	date     string
	mode     string
	interval string
	dayTS    int64

	cfg   config.ModeConfig
	rules rules.Ruleset

	symbols  []string
	analyses map[string]*symbolAnalysis
	pending  map[string][]model.GTTOrder
	holdings map[string][]*model.TradePlan

	holdingCount int
	enteredNow   map[string]bool

	summary *RunSummary
}

func (rc *runContext) fail(symbol string, err error) {
	rc.summary.Errors = append(rc.summary.Errors, fmt.Sprintf("%s: %v", symbol, err))
}

// Run 执行一次决策运行。分析阶段按 symbol 并行，变更阶段按
// symbol 字典序串行，每次状态变更都是独立事务。
func (e *Engine) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	mode := strings.ToUpper(strings.TrimSpace(req.Mode))
	modeCfg, ok := e.modes.ModeByName(mode)
	if !ok {
		return RunSummary{}, fmt.Errorf("%w: 未知模式 %q", ErrInvalidConfiguration, req.Mode)
	}
	ruleset, ok := e.registry.Ruleset(mode)
	if !ok {
		return RunSummary{}, fmt.Errorf("%w: 模式 %s 没有规则集", ErrInvalidConfiguration, mode)
	}

	date := strings.TrimSpace(req.Date)
	if date == "" {
		date = e.calendar.Today(e.nowFn())
	}
	day, err := e.calendar.ParseDate(date)
	if err != nil {
		return RunSummary{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	weekend, err := e.calendar.IsWeekend(date)
	if err != nil {
		return RunSummary{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	interval := firstNonEmpty(req.Interval, modeCfg.Interval)
	period := firstNonEmpty(req.Period, modeCfg.Period)
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = NewRunID(date, mode)
	}

	summary := RunSummary{
		RunID:    runID,
		Date:     date,
		Mode:     mode,
		Interval: interval,
		Signals:  map[string]int{},
	}

	pending, holdings, holdingCount, err := e.loadOpenState(ctx, mode)
	if err != nil {
		return summary, err
	}
	watch, err := e.watchlistSymbols(ctx, date, mode)
	if err != nil {
		return summary, err
	}
	symbols := unionSymbols(watch, pending, holdings)
	summary.SymbolsChecked = len(symbols)

	if jErr := e.journal.StartRun(ctx, journal.RunRecord{
		RunID:     runID,
		Date:      date,
		Mode:      mode,
		Symbols:   symbols,
		StartedAt: e.nowFn().UnixMilli(),
	}); jErr != nil {
		logger.Warnf("运行账本登记失败 run=%s: %v", runID, jErr)
	}

	if weekend {
		summary.SkippedWeekend = true
		e.finishRun(ctx, runID, journal.RunStatusSkipped, &summary, nil)
		logger.Infof("周末不开盘，跳过运行 date=%s mode=%s", date, mode)
		return summary, nil
	}

	if err := e.ensureBudget(ctx, date, mode, modeCfg.BudgetTotal, day.UnixMilli()); err != nil {
		e.finishRun(ctx, runID, journal.RunStatusFailed, &summary, err)
		return summary, err
	}

	rc := &runContext{
		runID:        runID,
		date:         date,
		mode:         mode,
		interval:     interval,
		dayTS:        day.UnixMilli(),
		cfg:          modeCfg,
		rules:        ruleset,
		symbols:      symbols,
		analyses:     e.analyze(ctx, symbols, interval, period, mode, modeCfg),
		pending:      pending,
		holdings:     holdings,
		holdingCount: holdingCount,
		enteredNow:   map[string]bool{},
		summary:      &summary,
	}

	e.entryPhase(ctx, rc)
	e.triggerPhase(ctx, rc)
	e.trailingPhase(ctx, rc)
	if e.policy.Enabled && e.policy.Order == RebalanceBeforeExits {
		e.rebalancePhase(ctx, rc)
	}
	e.exitPhase(ctx, rc)
	if e.policy.Enabled && e.policy.Order != RebalanceBeforeExits {
		e.rebalancePhase(ctx, rc)
	}

	e.finishRun(ctx, runID, journal.RunStatusCompleted, &summary, nil)
	logger.Infof("运行完成 run=%s date=%s mode=%s checked=%d buys=%d sells=%d holds=%d",
		runID, date, mode, summary.SymbolsChecked, summary.Buys, summary.Sells, summary.Holds)
	return summary, nil
}

// analyze 并行拉取 K 线并计算指标快照，单个 symbol 的失败不影响其余。
func (e *Engine) analyze(ctx context.Context, symbols []string, interval, period, mode string,
	cfg config.ModeConfig) map[string]*symbolAnalysis {
	out := make(map[string]*symbolAnalysis, len(symbols))
	for _, sym := range symbols {
		out[sym] = &symbolAnalysis{symbol: sym}
	}
	eg, egCtx := errgroup.WithContext(ctx)
	limit := e.maxParallel
	if limit <= 0 {
		limit = 4
	}
	eg.SetLimit(limit)
	for _, sym := range symbols {
		sym := sym
		eg.Go(func() error {
			res := out[sym]
			candles, err := e.source.Fetch(egCtx, sym, interval, period)
			if err != nil {
				res.err = fmt.Errorf("拉取K线失败: %w", err)
				return nil
			}
			snap, err := indicator.Compute(candles, indicator.Settings{
				Symbol:   sym,
				Interval: interval,
				Warmup:   cfg.WarmupCandles,
				Swing:    mode == rules.ModeSwing,
			})
			if err != nil {
				res.err = err
				return nil
			}
			res.snap = snap
			res.score = universe.ScoreFor(mode, snap)
			return nil
		})
	}
	_ = eg.Wait()
	return out
}

// loadOpenState 读取运行开始时的待触发入场单与持仓计划。
func (e *Engine) loadOpenState(ctx context.Context, mode string) (
	map[string][]model.GTTOrder, map[string][]*model.TradePlan, int, error) {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	defer uow.Rollback()

	orders, err := uow.Orders().ListPending(ctx, mode)
	if err != nil {
		return nil, nil, 0, err
	}
	plans, err := uow.Plans().ListHolding(ctx, mode)
	if err != nil {
		return nil, nil, 0, err
	}

	pending := make(map[string][]model.GTTOrder)
	for _, o := range orders {
		if o.Side != model.SideBuy {
			continue
		}
		pending[o.Symbol] = append(pending[o.Symbol], o)
	}
	holdings := make(map[string][]*model.TradePlan)
	count := 0
	for i := range plans {
		p := plans[i]
		holdings[p.Symbol] = append(holdings[p.Symbol], &p)
		count++
	}
	return pending, holdings, count, nil
}

func (e *Engine) watchlistSymbols(ctx context.Context, date, mode string) ([]string, error) {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	entries, err := uow.Watchlist().List(ctx, date, mode)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, en := range entries {
		out = append(out, en.Symbol)
	}
	return out, nil
}

func (e *Engine) ensureBudget(ctx context.Context, date, mode string, total float64, ts int64) error {
	return e.withTx(ctx, func(uow store.UnitOfWork) error {
		return uow.Budgets().Ensure(ctx, &model.DailyBudget{
			Date:      date,
			Mode:      mode,
			Total:     total,
			Spent:     0,
			Remaining: total,
			UpdatedTS: ts,
		})
	})
}

func (e *Engine) finishRun(ctx context.Context, runID, status string, summary *RunSummary, runErr error) {
	stats, err := json.Marshal(summary)
	if err != nil {
		stats = []byte("{}")
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if jErr := e.journal.FinishRun(ctx, runID, status, e.nowFn().UnixMilli(), string(stats), errMsg); jErr != nil {
		logger.Warnf("运行账本收尾失败 run=%s: %v", runID, jErr)
	}
}

// withTx 在单个 UnitOfWork 里执行 fn，失败回滚。
func (e *Engine) withTx(ctx context.Context, fn func(uow store.UnitOfWork) error) error {
	uow, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	return uow.Commit()
}

func unionSymbols(watch []string, pending map[string][]model.GTTOrder,
	holdings map[string][]*model.TradePlan) []string {
	seen := make(map[string]struct{}, len(watch))
	out := make([]string, 0, len(watch))
	add := func(sym string) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			return
		}
		if _, ok := seen[sym]; ok {
			return
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	for _, sym := range watch {
		add(sym)
	}
	for sym := range pending {
		add(sym)
	}
	for sym := range holdings {
		add(sym)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// round2 用定点运算做金额舍入，避免累计浮点误差。
func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
