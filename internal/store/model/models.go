package model

import (
	"gorm.io/datatypes"
)

// PlanStatus 是交易计划的有限状态，状态流转由 trading 包的转移表裁决。
type PlanStatus string

const (
	PlanStatusPlanned        PlanStatus = "PLANNED"
	PlanStatusPendingTrigger PlanStatus = "PENDING_TRIGGER"
	PlanStatusFilled         PlanStatus = "FILLED"
	PlanStatusProtected      PlanStatus = "PROTECTED"
	PlanStatusClosed         PlanStatus = "CLOSED"
	PlanStatusCancelled      PlanStatus = "CANCELLED"
)

// Terminal 判断状态是否终态，终态之后不允许任何流转。
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusClosed || s == PlanStatusCancelled
}

// Holding 判断该状态下是否持有仓位。
func (s PlanStatus) Holding() bool {
	return s == PlanStatusFilled || s == PlanStatusProtected
}

// GTTStatus 是条件单状态。
type GTTStatus string

const (
	GTTStatusPending   GTTStatus = "PENDING"
	GTTStatusTriggered GTTStatus = "TRIGGERED"
	GTTStatusCancelled GTTStatus = "CANCELLED"
)

// PlanType 区分市价计划与条件单计划。
type PlanType string

const (
	PlanTypeMarket PlanType = "MARKET"
	PlanTypeGTT    PlanType = "GTT"
)

// Side 是交易方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType 标注成交回报的来源，离场时区分止损与止盈两种触发。
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeGTTTrigger OrderType = "GTT_TRIGGER"
	OrderTypeStopLoss   OrderType = "STOP_LOSS"
	OrderTypeTakeProfit OrderType = "TAKE_PROFIT"
	OrderTypeRebalance  OrderType = "REBALANCE"
	OrderTypeTimeExit   OrderType = "TIME_EXIT"
)

// ProtectiveFill 判断该成交是否由保护条件单触发产生。
func (t OrderType) ProtectiveFill() bool {
	return t == OrderTypeStopLoss || t == OrderTypeTakeProfit
}

// MarketSnapshot 是一次运行里单个 symbol 的指标快照行，决策溯源的原料。
type MarketSnapshot struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	RunID    string `gorm:"column:run_id;index"`
	Date     string `gorm:"column:date;index:idx_snapshot_day,priority:1"`
	Mode     string `gorm:"column:mode;index:idx_snapshot_day,priority:2"`
	Symbol   string `gorm:"column:symbol;index:idx_snapshot_day,priority:3"`
	Interval string `gorm:"column:interval"`
	TS       int64  `gorm:"column:ts"`

	Close float64 `gorm:"column:close"`
	SMA20 float64 `gorm:"column:sma20"`
	EMA20 float64 `gorm:"column:ema20"`
	RSI14 float64 `gorm:"column:rsi14"`
	ATR14 float64 `gorm:"column:atr14"`

	SMA50      *float64 `gorm:"column:sma50"`
	EMA50      *float64 `gorm:"column:ema50"`
	MACD       *float64 `gorm:"column:macd"`
	MACDSignal *float64 `gorm:"column:macd_signal"`
	High20     *float64 `gorm:"column:high20"`

	Trend        string         `gorm:"column:trend"`
	FeaturesJSON datatypes.JSON `gorm:"column:features_json;type:TEXT"`
	CreatedTS    int64          `gorm:"column:created_at"`
}

func (MarketSnapshot) TableName() string { return "market_snapshots" }

// WatchlistEntry 是 (date, mode) 维度的观察标的，唯一键保证重复提交不生效。
type WatchlistEntry struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	Date      string `gorm:"column:date;uniqueIndex:idx_watchlist_entry,priority:1"`
	Mode      string `gorm:"column:mode;uniqueIndex:idx_watchlist_entry,priority:2"`
	Symbol    string `gorm:"column:symbol;uniqueIndex:idx_watchlist_entry,priority:3"`
	Source    string `gorm:"column:source"`
	CreatedTS int64  `gorm:"column:created_at"`
}

func (WatchlistEntry) TableName() string { return "watchlist_entries" }

// DailyBudget 是 (date, mode) 的当日预算，spent 只增不减，卖出不回补。
type DailyBudget struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	Date      string  `gorm:"column:date;uniqueIndex:idx_daily_budget,priority:1"`
	Mode      string  `gorm:"column:mode;uniqueIndex:idx_daily_budget,priority:2"`
	Total     float64 `gorm:"column:total"`
	Spent     float64 `gorm:"column:spent"`
	Remaining float64 `gorm:"column:remaining"`
	UpdatedTS int64   `gorm:"column:updated_at"`
}

func (DailyBudget) TableName() string { return "daily_budgets" }

// TradePlan 是核心实体：一次决策的完整快照加上它的生命周期状态。
// 行只新增与状态流转，从不删除。
type TradePlan struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	PlanUID string `gorm:"column:plan_uid;uniqueIndex"`
	RunID   string `gorm:"column:run_id;index"`
	Date    string `gorm:"column:date;index:idx_plan_day,priority:1"`
	Mode    string `gorm:"column:mode;index:idx_plan_day,priority:2"`
	Symbol  string `gorm:"column:symbol;index:idx_plan_day,priority:3"`

	PlanType PlanType `gorm:"column:plan_type"`
	Side     Side     `gorm:"column:side"`
	Qty      int      `gorm:"column:qty"`

	PriceRef   float64 `gorm:"column:price_ref"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	StopLoss   float64 `gorm:"column:stop_loss"`
	TakeProfit float64 `gorm:"column:take_profit"`

	GTTBuyTrigger  *float64 `gorm:"column:gtt_buy_trigger"`
	GTTSellTrigger *float64 `gorm:"column:gtt_sell_trigger"`

	HorizonDays   int            `gorm:"column:holding_horizon_days"`
	EntryDate     string         `gorm:"column:entry_date"`
	ExitRulesJSON datatypes.JSON `gorm:"column:exit_rules_json;type:TEXT"`

	Confidence float64    `gorm:"column:confidence"`
	Rationale  string     `gorm:"column:rationale"`
	Status     PlanStatus `gorm:"column:status;index"`

	CreatedTS int64 `gorm:"column:created_at"`
	UpdatedTS int64 `gorm:"column:updated_at"`
}

func (TradePlan) TableName() string { return "trade_plans" }

// GTTOrder 是一条挂在计划下的条件单（入场 BUY 或保护 SELL）。
type GTTOrder struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	OrderUID string `gorm:"column:order_uid;uniqueIndex"`
	PlanID   int64  `gorm:"column:plan_id;index"`
	RunID    string `gorm:"column:run_id"`
	Date     string `gorm:"column:date;index:idx_gtt_day,priority:1"`
	Mode     string `gorm:"column:mode;index:idx_gtt_day,priority:2"`
	Symbol   string `gorm:"column:symbol;index:idx_gtt_day,priority:3"`

	Side         Side      `gorm:"column:side"`
	TriggerPrice float64   `gorm:"column:trigger_price"`
	LimitPrice   float64   `gorm:"column:limit_price"`
	Qty          int       `gorm:"column:qty"`
	Status       GTTStatus `gorm:"column:status;index"`

	ExecutedPrice *float64 `gorm:"column:executed_price"`
	TriggeredAt   *int64   `gorm:"column:triggered_at"`

	CreatedTS int64 `gorm:"column:created_at"`
	UpdatedTS int64 `gorm:"column:updated_at"`
}

func (GTTOrder) TableName() string { return "gtt_orders" }

// Transaction 是一笔已发生的成交回报，平仓行带 pnl。
type Transaction struct {
	ID     int64  `gorm:"column:id;primaryKey"`
	TxnUID string `gorm:"column:txn_uid;uniqueIndex"`
	RunID  string `gorm:"column:run_id;index"`
	PlanID int64  `gorm:"column:plan_id;index"`
	Date   string `gorm:"column:date;index:idx_txn_day,priority:1"`
	Mode   string `gorm:"column:mode;index:idx_txn_day,priority:2"`
	Symbol string `gorm:"column:symbol;index:idx_txn_day,priority:3"`

	Side       Side      `gorm:"column:side"`
	OrderType  OrderType `gorm:"column:order_type"`
	GTTOrderID *int64    `gorm:"column:gtt_order_id"`
	Qty        int       `gorm:"column:qty"`
	Price      float64   `gorm:"column:price"`
	Amount     float64   `gorm:"column:amount"`
	PnL        *float64  `gorm:"column:pnl"`
	Note       string    `gorm:"column:note"`

	FeaturesJSON datatypes.JSON `gorm:"column:features_json;type:TEXT"`

	TS        int64 `gorm:"column:ts"`
	CreatedTS int64 `gorm:"column:created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// DecisionLog 把每一次决策（包括不交易）连同特征快照与理由落库，
// 与触发它的状态流转同一事务写入。
type DecisionLog struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	RunID   string `gorm:"column:run_id;index"`
	TraceID string `gorm:"column:trace_id;index"`
	Date    string `gorm:"column:date;index:idx_decision_day,priority:1"`
	Mode    string `gorm:"column:mode;index:idx_decision_day,priority:2"`
	Symbol  string `gorm:"column:symbol;index:idx_decision_day,priority:3"`

	Stage      string  `gorm:"column:stage"`
	Action     string  `gorm:"column:action"`
	Rule       string  `gorm:"column:rule"`
	RulesFired string  `gorm:"column:rules_fired"`
	Confidence float64 `gorm:"column:confidence"`
	Rationale  string  `gorm:"column:rationale"`

	FeaturesJSON  datatypes.JSON `gorm:"column:features_json;type:TEXT"`
	PlanID        *int64         `gorm:"column:plan_id"`
	TransactionID *int64         `gorm:"column:transaction_id"`

	TS        int64 `gorm:"column:ts"`
	CreatedTS int64 `gorm:"column:created_at"`
}

func (DecisionLog) TableName() string { return "decision_logs" }

// TopStockAudit 是每日候选股审计行，按 (date, mode) 整组替换。
type TopStockAudit struct {
	ID     int64  `gorm:"column:id;primaryKey"`
	Date   string `gorm:"column:date;uniqueIndex:idx_audit_entry,priority:1"`
	Mode   string `gorm:"column:mode;uniqueIndex:idx_audit_entry,priority:2"`
	Symbol string `gorm:"column:symbol;uniqueIndex:idx_audit_entry,priority:3"`

	Rank      int     `gorm:"column:rank"`
	Readiness float64 `gorm:"column:readiness"`
	Turnover  float64 `gorm:"column:turnover"`
	Volume    float64 `gorm:"column:volume"`
	Close     float64 `gorm:"column:close"`

	FeaturesJSON datatypes.JSON `gorm:"column:features_json;type:TEXT"`
	CreatedTS    int64          `gorm:"column:created_at"`
}

func (TopStockAudit) TableName() string { return "top_stock_audits" }
