package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tradewind/internal/config"
	"tradewind/internal/journal"
	"tradewind/internal/logger"
	"tradewind/internal/market"
	"tradewind/internal/report"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
	"tradewind/internal/trading"
	"tradewind/internal/universe"
)

type apiRouter struct {
	store    store.Store
	journal  *journal.JournalStore
	engine   *trading.Engine
	universe *universe.Service
	report   *report.Builder
	calendar *market.Calendar
	modes    config.ModesConfig
	nowFn    func() time.Time
}

func (r *apiRouter) register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	tr := group.Group("/trading")
	tr.POST("/watchlist", r.handleWatchlistAdd)
	tr.GET("/watchlist", r.handleWatchlistList)
	tr.POST("/run", r.handleRun)
	tr.POST("/exit-day", r.handleExitDay)
	tr.GET("/plans", r.handlePlans)
	tr.GET("/orders", r.handleOrders)
	tr.GET("/transactions", r.handleTransactions)
	tr.GET("/budget", r.handleBudget)
	tr.GET("/snapshots", r.handleSnapshots)

	jr := group.Group("/journal")
	jr.GET("/runs", r.handleRuns)
	jr.GET("/runs/:id", r.handleRunByID)
	jr.GET("/decisions", r.handleDecisions)
	jr.GET("/report/:run_id", r.handleReport)

	un := group.Group("/universe")
	un.GET("/top", r.handleUniverseTop)
	un.POST("/refresh", r.handleUniverseRefresh)
}

// resolveMode 校验模式并返回配置，未知模式直接回 400。
func (r *apiRouter) resolveMode(c *gin.Context, mode string) (string, config.ModeConfig, bool) {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	modeCfg, ok := r.modes.ModeByName(mode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知模式: " + mode})
		return "", config.ModeConfig{}, false
	}
	return mode, modeCfg, true
}

func (r *apiRouter) resolveDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return r.calendar.Today(r.nowFn())
	}
	return date
}

type watchlistAddRequest struct {
	Date        string   `json:"date"`
	Mode        string   `json:"mode"`
	Symbols     []string `json:"symbols"`
	Reason      string   `json:"reason"`
	HorizonDays int      `json:"horizon_days"`
}

func (r *apiRouter) handleWatchlistAdd(c *gin.Context) {
	var req watchlistAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, modeCfg, ok := r.resolveMode(c, req.Mode)
	if !ok {
		return
	}
	date := r.resolveDate(req.Date)
	symbols := normalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbols 不能为空"})
		return
	}
	source := strings.TrimSpace(req.Reason)
	if source == "" {
		source = "manual"
	}
	ts := r.nowFn().UnixMilli()
	entries := make([]model.WatchlistEntry, 0, len(symbols))
	for _, sym := range symbols {
		entries = append(entries, model.WatchlistEntry{
			Date:      date,
			Mode:      mode,
			Symbol:    sym,
			Source:    source,
			CreatedTS: ts,
		})
	}

	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	inserted, err := uow.Watchlist().Add(ctx, entries)
	if err != nil {
		_ = uow.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := uow.Watchlist().Count(ctx, date, mode)
	if err != nil {
		_ = uow.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if modeCfg.MaxWatchlistSize > 0 && total > modeCfg.MaxWatchlistSize {
		_ = uow.Rollback()
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "观察清单超出上限",
			"limit": modeCfg.MaxWatchlistSize,
		})
		return
	}
	if err := uow.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] watchlist add date=%s mode=%s inserted=%d skipped=%d total=%d",
		date, mode, inserted, len(symbols)-inserted, total)
	c.JSON(http.StatusOK, gin.H{
		"date":     date,
		"mode":     mode,
		"inserted": inserted,
		"skipped":  len(symbols) - inserted,
		"total":    total,
	})
}

func (r *apiRouter) handleWatchlistList(c *gin.Context) {
	mode, _, ok := r.resolveMode(c, c.Query("mode"))
	if !ok {
		return
	}
	date := r.resolveDate(c.Query("date"))
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = uow.Rollback() }()
	entries, err := uow.Watchlist().List(ctx, date, mode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		symbols = append(symbols, e.Symbol)
	}
	c.JSON(http.StatusOK, gin.H{
		"date":    date,
		"mode":    mode,
		"symbols": symbols,
		"entries": entries,
	})
}

func (r *apiRouter) handleRun(c *gin.Context) {
	var req trading.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := r.engine.Run(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, trading.ErrInvalidConfiguration) {
			status = http.StatusBadRequest
		}
		logger.Errorf("[api] run failed date=%s mode=%s err=%v", req.Date, req.Mode, err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] run done run=%s date=%s mode=%s buys=%d sells=%d",
		summary.RunID, summary.Date, summary.Mode, summary.Buys, summary.Sells)
	c.JSON(http.StatusOK, summary)
}

func (r *apiRouter) handleExitDay(c *gin.Context) {
	var req trading.ExitDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := r.engine.ExitDay(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, trading.ErrInvalidConfiguration) {
			status = http.StatusBadRequest
		}
		logger.Errorf("[api] exit-day failed date=%s mode=%s err=%v", req.Date, req.Mode, err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] exit-day done run=%s date=%s mode=%s closed=%d",
		summary.RunID, summary.Date, summary.Mode, summary.Closed)
	c.JSON(http.StatusOK, summary)
}

func (r *apiRouter) handlePlans(c *gin.Context) {
	q := store.PlanQuery{
		RunID:  strings.TrimSpace(c.Query("run_id")),
		Date:   strings.TrimSpace(c.Query("date")),
		Mode:   strings.TrimSpace(c.Query("mode")),
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Limit:  parseLimit(c, 200),
	}
	if status := strings.ToUpper(strings.TrimSpace(c.Query("status"))); status != "" {
		q.Statuses = []model.PlanStatus{model.PlanStatus(status)}
	}
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = uow.Rollback() }()
	plans, err := uow.Plans().List(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "count": len(plans)})
}

func (r *apiRouter) handleOrders(c *gin.Context) {
	q := store.OrderQuery{
		Date:   strings.TrimSpace(c.Query("date")),
		Mode:   strings.TrimSpace(c.Query("mode")),
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Status: model.GTTStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Limit:  parseLimit(c, 200),
	}
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = uow.Rollback() }()
	orders, err := uow.Orders().List(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (r *apiRouter) handleTransactions(c *gin.Context) {
	q := store.TxnQuery{
		RunID:  strings.TrimSpace(c.Query("run_id")),
		Date:   strings.TrimSpace(c.Query("date")),
		Mode:   strings.TrimSpace(c.Query("mode")),
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Limit:  parseLimit(c, 200),
	}
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = uow.Rollback() }()
	txns, err := uow.Transactions().List(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns, "count": len(txns)})
}

func (r *apiRouter) handleBudget(c *gin.Context) {
	mode, modeCfg, ok := r.resolveMode(c, c.Query("mode"))
	if !ok {
		return
	}
	date := r.resolveDate(c.Query("date"))
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = uow.Rollback() }()
	budget, err := uow.Budgets().Get(ctx, date, mode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 当日尚未运行，返回模式配置的初始预算
			c.JSON(http.StatusOK, gin.H{
				"date":         date,
				"mode":         mode,
				"budget_total": modeCfg.BudgetTotal,
				"spent":        0.0,
				"remaining":    modeCfg.BudgetTotal,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":         budget.Date,
		"mode":         budget.Mode,
		"budget_total": budget.Total,
		"spent":        budget.Spent,
		"remaining":    budget.Remaining,
	})
}

func (r *apiRouter) handleSnapshots(c *gin.Context) {
	q := store.SnapshotQuery{
		RunID:  strings.TrimSpace(c.Query("run_id")),
		Date:   strings.TrimSpace(c.Query("date")),
		Mode:   strings.TrimSpace(c.Query("mode")),
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Limit:  parseLimit(c, 200),
	}
	if q.RunID == "" && q.Date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id 或 date 至少给一个"})
		return
	}
	ctx := c.Request.Context()
	uow, err := r.store.Begin(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer func() { _ = uow.Rollback() }()
	snaps, err := uow.Snapshots().List(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "count": len(snaps)})
}

func parseLimit(c *gin.Context, def int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit <= 0 {
		return def
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeSymbols(symbols []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
