package trading

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewRunID 为未指定 run_id 的请求生成一个。回放场景由调用方传入固定
// run_id，所有领域行的 UID 都从 run_id 推导，随机性只存在于这里。
func NewRunID(date, mode string) string {
	return fmt.Sprintf("run-%s-%s-%s", date, strings.ToLower(mode), uuid.NewString()[:8])
}

// planUID 由 (run_id, symbol) 推导，同一 run 重放产出完全相同的行。
func planUID(runID, symbol string) string {
	return fmt.Sprintf("%s-%s-plan", runID, symbol)
}

// orderUID 的 leg 区分入场 BUY 与保护 SELL。
func orderUID(planUID, leg string) string {
	return fmt.Sprintf("%s-%s", planUID, leg)
}

// txnUID 的 leg 区分开仓、平仓与再平衡腿。
func txnUID(planUID, leg string) string {
	return fmt.Sprintf("%s-txn-%s", planUID, leg)
}

// traceID 把一个 symbol 在一次运行里的所有决策串在一起。
func traceID(runID, symbol string) string {
	return fmt.Sprintf("%s-%s", runID, symbol)
}
