package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"tradewind/internal/analysis/indicator"
	"tradewind/internal/config"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
	"tradewind/internal/strategy/rules"
)

// Service 维护每日候选股审计：对观察清单逐一打分、排序、截断 Top-N，
// 并按 (date, mode) 整组落库。审计行只作复盘溯源，不反向影响引擎决策。
type Service struct {
	store    store.Store
	source   market.CandleSource
	calendar *market.Calendar

	modes       config.ModesConfig
	limit       int
	retention   int
	maxParallel int

	nowFn func() time.Time
}

// NewService 组装审计服务。
func NewService(st store.Store, src market.CandleSource, cal *market.Calendar,
	cfg *config.Config) *Service {
	limit := 10
	retention := 30
	maxParallel := 4
	modes := config.ModesConfig{}
	if cfg != nil {
		modes = cfg.Modes
		if cfg.Universe.Limit > 0 {
			limit = cfg.Universe.Limit
		}
		if cfg.Universe.RetentionDays > 0 {
			retention = cfg.Universe.RetentionDays
		}
		if cfg.Engine.MaxParallel > 0 {
			maxParallel = cfg.Engine.MaxParallel
		}
	}
	return &Service{
		store:       st,
		source:      src,
		calendar:    cal,
		modes:       modes,
		limit:       limit,
		retention:   retention,
		maxParallel: maxParallel,
		nowFn:       time.Now,
	}
}

// SetNow 注入时钟，留存清理的截止日期从这里推导。
func (s *Service) SetNow(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// Ranked 是单个 symbol 的打分结果。
type Ranked struct {
	Rank      int     `json:"rank"`
	Symbol    string  `json:"symbol"`
	Score     float64 `json:"score"`
	Readiness float64 `json:"readiness"`
	Turnover  float64 `json:"turnover"`
	Momentum  float64 `json:"momentum"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// RefreshResult 汇总一次审计刷新。
type RefreshResult struct {
	Date    string   `json:"date"`
	Mode    string   `json:"mode"`
	Ranked  []Ranked `json:"ranked"`
	Pruned  int64    `json:"pruned"`
	Errors  []string `json:"errors,omitempty"`
	Scanned int      `json:"scanned"`
}

// Refresh 对 (date, mode) 的观察清单重新打分并整组替换审计行：
// 日内按成交额排序，波段按就绪度排序，动量分记进明细。
// 单个 symbol 的拉取或指标失败只跳过该 symbol。
func (s *Service) Refresh(ctx context.Context, date, mode string) (RefreshResult, error) {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	modeCfg, ok := s.modes.ModeByName(mode)
	if !ok {
		return RefreshResult{}, fmt.Errorf("未知模式 %q", mode)
	}
	date = strings.TrimSpace(date)
	if date == "" {
		date = s.calendar.Today(s.nowFn())
	}
	if _, err := s.calendar.ParseDate(date); err != nil {
		return RefreshResult{}, err
	}

	symbols, err := s.watchlistSymbols(ctx, date, mode)
	if err != nil {
		return RefreshResult{}, err
	}
	result := RefreshResult{Date: date, Mode: mode, Scanned: len(symbols)}

	type scored struct {
		symbol string
		snap   indicator.Snapshot
		err    error
	}
	out := make([]scored, len(symbols))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.maxParallel)
	for i, sym := range symbols {
		i, sym := i, sym
		eg.Go(func() error {
			candles, err := s.source.Fetch(egCtx, sym, modeCfg.Interval, modeCfg.Period)
			if err != nil {
				out[i] = scored{symbol: sym, err: fmt.Errorf("拉取K线失败: %w", err)}
				return nil
			}
			snap, err := indicator.Compute(candles, indicator.Settings{
				Symbol:   sym,
				Interval: modeCfg.Interval,
				Warmup:   modeCfg.WarmupCandles,
				Swing:    mode == rules.ModeSwing,
			})
			out[i] = scored{symbol: sym, snap: snap, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	ranked := make([]Ranked, 0, len(out))
	for _, sc := range out {
		if sc.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", sc.symbol, sc.err))
			continue
		}
		ranked = append(ranked, Ranked{
			Symbol:    sc.symbol,
			Readiness: ReadinessScore(sc.snap),
			Turnover:  Turnover(sc.snap),
			Momentum:  MomentumScore(sc.snap),
			Close:     sc.snap.Close,
			Volume:    sc.snap.Volume,
		})
	}
	sortRanked(ranked, mode)
	if len(ranked) > s.limit {
		ranked = ranked[:s.limit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
		ranked[i].Score = scoreOf(ranked[i], mode)
	}
	result.Ranked = ranked

	rows := make([]model.TopStockAudit, 0, len(ranked))
	createdTS := s.nowFn().UnixMilli()
	for _, r := range ranked {
		details, _ := json.Marshal(r)
		rows = append(rows, model.TopStockAudit{
			Date:         date,
			Mode:         mode,
			Symbol:       r.Symbol,
			Rank:         r.Rank,
			Readiness:    r.Readiness,
			Turnover:     r.Turnover,
			Volume:       r.Volume,
			Close:        r.Close,
			FeaturesJSON: datatypes.JSON(details),
			CreatedTS:    createdTS,
		})
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return result, err
	}
	if err := uow.Audits().Replace(ctx, date, mode, rows); err != nil {
		_ = uow.Rollback()
		return result, err
	}
	cutoff := s.calendar.DateOf(s.nowFn().AddDate(0, 0, -s.retention).UnixMilli())
	pruned, err := uow.Audits().DeleteBefore(ctx, cutoff)
	if err != nil {
		_ = uow.Rollback()
		return result, err
	}
	if err := uow.Commit(); err != nil {
		return result, err
	}
	result.Pruned = pruned
	logger.Infof("候选股审计刷新完成 date=%s mode=%s ranked=%d pruned=%d",
		date, mode, len(rows), pruned)
	return result, nil
}

// Top 读取 (date, mode) 的审计行，按名次升序。
func (s *Service) Top(ctx context.Context, date, mode string, limit int) ([]model.TopStockAudit, error) {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	date = strings.TrimSpace(date)
	if date == "" {
		date = s.calendar.Today(s.nowFn())
	}
	if limit <= 0 {
		limit = s.limit
	}
	uow, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	return uow.Audits().List(ctx, date, mode, limit)
}

func (s *Service) watchlistSymbols(ctx context.Context, date, mode string) ([]string, error) {
	uow, err := s.store.Begin(ctx)
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

// sortRanked 的主键按模式取成交额或就绪度，得分相同时按 symbol 字典序，
// 保证同一输入得到稳定名次。
func sortRanked(ranked []Ranked, mode string) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := scoreOf(ranked[i], mode), scoreOf(ranked[j], mode)
		if a != b {
			return a > b
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
}

func scoreOf(r Ranked, mode string) float64 {
	if mode == rules.ModeIntraday {
		return r.Turnover
	}
	return r.Readiness
}
