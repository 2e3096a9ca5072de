package store

import (
	"context"

	"tradewind/internal/store/model"
)

// UnitOfWork defines a transaction scope. 预算扣减、状态流转与决策留痕
// 必须落在同一个 UnitOfWork 里，Commit 要么全部生效要么全部回滚。
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Snapshots returns the market snapshot repository within this transaction.
	Snapshots() SnapshotRepository
	// Watchlist returns the watchlist repository within this transaction.
	Watchlist() WatchlistRepository
	// Budgets returns the daily budget repository within this transaction.
	Budgets() BudgetRepository
	// Plans returns the trade plan repository within this transaction.
	Plans() PlanRepository
	// Orders returns the GTT order repository within this transaction.
	Orders() OrderRepository
	// Transactions returns the transaction repository within this transaction.
	Transactions() TransactionRepository
	// Decisions returns the decision log repository within this transaction.
	Decisions() DecisionRepository
	// Audits returns the top stock audit repository within this transaction.
	Audits() AuditRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Close closes the store connection.
	Close() error
}

// SnapshotQuery 过滤快照读取。
type SnapshotQuery struct {
	RunID  string
	Date   string
	Mode   string
	Symbol string
	Limit  int
}

// PlanQuery 过滤计划读取，Statuses 为空表示不限状态。
type PlanQuery struct {
	RunID    string
	Date     string
	Mode     string
	Symbol   string
	Statuses []model.PlanStatus
	Limit    int
}

// OrderQuery 过滤条件单读取。
type OrderQuery struct {
	Date   string
	Mode   string
	Symbol string
	Status model.GTTStatus
	Limit  int
}

// TxnQuery 过滤成交回报读取。
type TxnQuery struct {
	RunID  string
	Date   string
	Mode   string
	Symbol string
	Limit  int
}

// SnapshotRepository handles market snapshot persistence.
type SnapshotRepository interface {
	Save(ctx context.Context, snap *model.MarketSnapshot) error
	List(ctx context.Context, q SnapshotQuery) ([]model.MarketSnapshot, error)
}

// WatchlistRepository handles watchlist persistence.
type WatchlistRepository interface {
	// Add 批量写入，唯一键冲突的行静默跳过，返回真正新增的行数。
	Add(ctx context.Context, entries []model.WatchlistEntry) (int, error)
	List(ctx context.Context, date, mode string) ([]model.WatchlistEntry, error)
	Count(ctx context.Context, date, mode string) (int, error)
}

// BudgetRepository handles daily budget persistence.
type BudgetRepository interface {
	// Ensure 初始化 (date, mode) 预算行，已存在时不覆盖。
	Ensure(ctx context.Context, budget *model.DailyBudget) error
	Get(ctx context.Context, date, mode string) (*model.DailyBudget, error)
	// Debit 扣减预算：spent 四舍五入到分，remaining 不会为负。
	// ts 由调用方给出，回放同一批 K 线时结果逐字节一致。
	Debit(ctx context.Context, date, mode string, cost float64, ts int64) (*model.DailyBudget, error)
}

// PlanRepository handles trade plan persistence.
type PlanRepository interface {
	Create(ctx context.Context, plan *model.TradePlan) error
	Save(ctx context.Context, plan *model.TradePlan) error
	FindByID(ctx context.Context, id int64) (*model.TradePlan, error)
	List(ctx context.Context, q PlanQuery) ([]model.TradePlan, error)
	// ListHolding 返回指定模式下处于持仓状态（FILLED/PROTECTED）的计划。
	ListHolding(ctx context.Context, mode string) ([]model.TradePlan, error)
	// HasActive 判断 (date, mode, symbol) 是否已有未取消的计划，用于幂等去重。
	HasActive(ctx context.Context, date, mode, symbol string) (bool, error)
	CountHolding(ctx context.Context, mode string) (int, error)
}

// OrderRepository handles GTT order persistence.
type OrderRepository interface {
	Create(ctx context.Context, order *model.GTTOrder) error
	Save(ctx context.Context, order *model.GTTOrder) error
	FindByPlan(ctx context.Context, planID int64) ([]model.GTTOrder, error)
	List(ctx context.Context, q OrderQuery) ([]model.GTTOrder, error)
	// ListPending 返回指定模式下仍在等待触发的条件单。
	ListPending(ctx context.Context, mode string) ([]model.GTTOrder, error)
}

// TransactionRepository handles executed transaction persistence.
type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) error
	List(ctx context.Context, q TxnQuery) ([]model.Transaction, error)
}

// DecisionRepository handles decision log persistence.
type DecisionRepository interface {
	Append(ctx context.Context, logs ...*model.DecisionLog) error
	List(ctx context.Context, runID string, limit int) ([]model.DecisionLog, error)
}

// AuditRepository handles top stock audit persistence.
type AuditRepository interface {
	// Replace 原子替换 (date, mode) 的整组审计行。
	Replace(ctx context.Context, date, mode string, rows []model.TopStockAudit) error
	List(ctx context.Context, date, mode string, limit int) ([]model.TopStockAudit, error)
	// DeleteBefore 清理早于 cutoff 日期的审计行，返回删除数量。
	DeleteBefore(ctx context.Context, cutoff string) (int64, error)
}
