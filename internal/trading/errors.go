package trading

import "errors"

// 引擎的错误分类。只有配置类错误会让整个请求失败，
// 单个 symbol 的失败记入运行摘要与决策日志后继续。
var (
	// ErrBudgetExhausted 当日预算不足一手。
	ErrBudgetExhausted = errors.New("当日预算已耗尽")
	// ErrPositionCapReached 持仓数量已达上限。
	ErrPositionCapReached = errors.New("持仓数量已达上限")
	// ErrDuplicateWatchlistEntry 观察清单重复添加（对外表现为 inserted=0）。
	ErrDuplicateWatchlistEntry = errors.New("观察清单已存在该标的")
	// ErrInvalidConfiguration 请求或配置非法。
	ErrInvalidConfiguration = errors.New("配置不合法")
	// ErrIllegalTransition 状态机拒绝的流转。
	ErrIllegalTransition = errors.New("非法状态流转")
)
