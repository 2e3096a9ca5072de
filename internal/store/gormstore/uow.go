package gormstore

import (
	"context"
	"strings"

	"tradewind/internal/store"
	"tradewind/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type unitOfWork struct {
	tx *gorm.DB
}

func newUnitOfWork(tx *gorm.DB) *unitOfWork {
	return &unitOfWork{tx: tx}
}

func (u *unitOfWork) Commit() error   { return u.tx.Commit().Error }
func (u *unitOfWork) Rollback() error { return u.tx.Rollback().Error }

func (u *unitOfWork) Snapshots() store.SnapshotRepository       { return &snapshotRepo{db: u.tx} }
func (u *unitOfWork) Watchlist() store.WatchlistRepository      { return &watchlistRepo{db: u.tx} }
func (u *unitOfWork) Budgets() store.BudgetRepository           { return &budgetRepo{db: u.tx} }
func (u *unitOfWork) Plans() store.PlanRepository               { return &planRepo{db: u.tx} }
func (u *unitOfWork) Orders() store.OrderRepository             { return &orderRepo{db: u.tx} }
func (u *unitOfWork) Transactions() store.TransactionRepository { return &txnRepo{db: u.tx} }
func (u *unitOfWork) Decisions() store.DecisionRepository       { return &decisionRepo{db: u.tx} }
func (u *unitOfWork) Audits() store.AuditRepository             { return &auditRepo{db: u.tx} }

var _ store.UnitOfWork = (*unitOfWork)(nil)

// holdingStatuses 是持仓中的计划状态集合。
var holdingStatuses = []model.PlanStatus{model.PlanStatusFilled, model.PlanStatusProtected}

func normSymbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
func normMode(s string) string   { return strings.ToUpper(strings.TrimSpace(s)) }

// --------------------------- snapshots ------------------------------------

type snapshotRepo struct {
	db *gorm.DB
}

func (r *snapshotRepo) Save(ctx context.Context, snap *model.MarketSnapshot) error {
	snap.Symbol = normSymbol(snap.Symbol)
	snap.Mode = normMode(snap.Mode)
	return r.db.WithContext(ctx).Create(snap).Error
}

func (r *snapshotRepo) List(ctx context.Context, q store.SnapshotQuery) ([]model.MarketSnapshot, error) {
	query := r.db.WithContext(ctx).Model(&model.MarketSnapshot{})
	if q.RunID != "" {
		query = query.Where("run_id = ?", q.RunID)
	}
	if q.Date != "" {
		query = query.Where("date = ?", q.Date)
	}
	if q.Mode != "" {
		query = query.Where("mode = ?", normMode(q.Mode))
	}
	if q.Symbol != "" {
		query = query.Where("symbol = ?", normSymbol(q.Symbol))
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []model.MarketSnapshot
	if err := query.Order("ts DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------------- watchlist ------------------------------------

type watchlistRepo struct {
	db *gorm.DB
}

func (r *watchlistRepo) Add(ctx context.Context, entries []model.WatchlistEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for i := range entries {
		entries[i].Symbol = normSymbol(entries[i].Symbol)
		entries[i].Mode = normMode(entries[i].Mode)
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entries)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *watchlistRepo) List(ctx context.Context, date, mode string) ([]model.WatchlistEntry, error) {
	var out []model.WatchlistEntry
	err := r.db.WithContext(ctx).
		Where("date = ? AND mode = ?", date, normMode(mode)).
		Order("symbol ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *watchlistRepo) Count(ctx context.Context, date, mode string) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.WatchlistEntry{}).
		Where("date = ? AND mode = ?", date, normMode(mode)).
		Count(&total).Error
	return int(total), err
}

// --------------------------- budgets ---------------------------------------

type budgetRepo struct {
	db *gorm.DB
}

func (r *budgetRepo) Ensure(ctx context.Context, budget *model.DailyBudget) error {
	budget.Mode = normMode(budget.Mode)
	if budget.Remaining == 0 && budget.Spent == 0 {
		budget.Remaining = budget.Total
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(budget).Error
}

func (r *budgetRepo) Get(ctx context.Context, date, mode string) (*model.DailyBudget, error) {
	var b model.DailyBudget
	err := r.db.WithContext(ctx).
		Where("date = ? AND mode = ?", date, normMode(mode)).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *budgetRepo) Debit(ctx context.Context, date, mode string, cost float64, ts int64) (*model.DailyBudget, error) {
	b, err := r.Get(ctx, date, mode)
	if err != nil {
		return nil, err
	}
	spent := decimal.NewFromFloat(b.Spent).Add(decimal.NewFromFloat(cost)).Round(2)
	remaining := decimal.NewFromFloat(b.Total).Sub(spent).Round(2)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	b.Spent, _ = spent.Float64()
	b.Remaining, _ = remaining.Float64()
	b.UpdatedTS = ts
	if err := r.db.WithContext(ctx).Save(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

// --------------------------- plans ------------------------------------------

type planRepo struct {
	db *gorm.DB
}

func (r *planRepo) Create(ctx context.Context, plan *model.TradePlan) error {
	plan.Symbol = normSymbol(plan.Symbol)
	plan.Mode = normMode(plan.Mode)
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *planRepo) Save(ctx context.Context, plan *model.TradePlan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *planRepo) FindByID(ctx context.Context, id int64) (*model.TradePlan, error) {
	var plan model.TradePlan
	if err := r.db.WithContext(ctx).First(&plan, id).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *planRepo) List(ctx context.Context, q store.PlanQuery) ([]model.TradePlan, error) {
	query := r.db.WithContext(ctx).Model(&model.TradePlan{})
	if q.RunID != "" {
		query = query.Where("run_id = ?", q.RunID)
	}
	if q.Date != "" {
		query = query.Where("date = ?", q.Date)
	}
	if q.Mode != "" {
		query = query.Where("mode = ?", normMode(q.Mode))
	}
	if q.Symbol != "" {
		query = query.Where("symbol = ?", normSymbol(q.Symbol))
	}
	if len(q.Statuses) > 0 {
		query = query.Where("status IN ?", q.Statuses)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []model.TradePlan
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *planRepo) ListHolding(ctx context.Context, mode string) ([]model.TradePlan, error) {
	query := r.db.WithContext(ctx).Where("status IN ?", holdingStatuses)
	if mode != "" {
		query = query.Where("mode = ?", normMode(mode))
	}
	var out []model.TradePlan
	if err := query.Order("symbol ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *planRepo) HasActive(ctx context.Context, date, mode, symbol string) (bool, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.TradePlan{}).
		Where("date = ? AND mode = ? AND symbol = ? AND status != ?",
			date, normMode(mode), normSymbol(symbol), model.PlanStatusCancelled).
		Count(&total).Error
	return total > 0, err
}

func (r *planRepo) CountHolding(ctx context.Context, mode string) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.TradePlan{}).
		Where("mode = ? AND status IN ?", normMode(mode), holdingStatuses).
		Count(&total).Error
	return int(total), err
}

// --------------------------- gtt orders --------------------------------------

type orderRepo struct {
	db *gorm.DB
}

func (r *orderRepo) Create(ctx context.Context, order *model.GTTOrder) error {
	order.Symbol = normSymbol(order.Symbol)
	order.Mode = normMode(order.Mode)
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepo) Save(ctx context.Context, order *model.GTTOrder) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *orderRepo) FindByPlan(ctx context.Context, planID int64) ([]model.GTTOrder, error) {
	var out []model.GTTOrder
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *orderRepo) List(ctx context.Context, q store.OrderQuery) ([]model.GTTOrder, error) {
	query := r.db.WithContext(ctx).Model(&model.GTTOrder{})
	if q.Date != "" {
		query = query.Where("date = ?", q.Date)
	}
	if q.Mode != "" {
		query = query.Where("mode = ?", normMode(q.Mode))
	}
	if q.Symbol != "" {
		query = query.Where("symbol = ?", normSymbol(q.Symbol))
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []model.GTTOrder
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *orderRepo) ListPending(ctx context.Context, mode string) ([]model.GTTOrder, error) {
	query := r.db.WithContext(ctx).Where("status = ?", model.GTTStatusPending)
	if mode != "" {
		query = query.Where("mode = ?", normMode(mode))
	}
	var out []model.GTTOrder
	if err := query.Order("symbol ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------------- transactions ------------------------------------

type txnRepo struct {
	db *gorm.DB
}

func (r *txnRepo) Create(ctx context.Context, txn *model.Transaction) error {
	txn.Symbol = normSymbol(txn.Symbol)
	txn.Mode = normMode(txn.Mode)
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *txnRepo) List(ctx context.Context, q store.TxnQuery) ([]model.Transaction, error) {
	query := r.db.WithContext(ctx).Model(&model.Transaction{})
	if q.RunID != "" {
		query = query.Where("run_id = ?", q.RunID)
	}
	if q.Date != "" {
		query = query.Where("date = ?", q.Date)
	}
	if q.Mode != "" {
		query = query.Where("mode = ?", normMode(q.Mode))
	}
	if q.Symbol != "" {
		query = query.Where("symbol = ?", normSymbol(q.Symbol))
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var out []model.Transaction
	if err := query.Order("ts DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------------- decision logs -----------------------------------

type decisionRepo struct {
	db *gorm.DB
}

func (r *decisionRepo) Append(ctx context.Context, logs ...*model.DecisionLog) error {
	if len(logs) == 0 {
		return nil
	}
	for _, l := range logs {
		l.Symbol = normSymbol(l.Symbol)
		l.Mode = normMode(l.Mode)
	}
	return r.db.WithContext(ctx).Create(logs).Error
}

func (r *decisionRepo) List(ctx context.Context, runID string, limit int) ([]model.DecisionLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	var out []model.DecisionLog
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("ts ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --------------------------- top stock audits --------------------------------

type auditRepo struct {
	db *gorm.DB
}

func (r *auditRepo) Replace(ctx context.Context, date, mode string, rows []model.TopStockAudit) error {
	mode = normMode(mode)
	if err := r.db.WithContext(ctx).
		Where("date = ? AND mode = ?", date, mode).
		Delete(&model.TopStockAudit{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].Date = date
		rows[i].Mode = mode
		rows[i].Symbol = normSymbol(rows[i].Symbol)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *auditRepo) List(ctx context.Context, date, mode string, limit int) ([]model.TopStockAudit, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []model.TopStockAudit
	err := r.db.WithContext(ctx).
		Where("date = ? AND mode = ?", date, normMode(mode)).
		Order("rank ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *auditRepo) DeleteBefore(ctx context.Context, cutoff string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("date < ?", cutoff).
		Delete(&model.TopStockAudit{})
	return res.RowsAffected, res.Error
}
