package strategy

// Trend 是趋势判定结果标签。
type Trend string

const (
	TrendUp       Trend = "UPTREND"
	TrendDown     Trend = "DOWNTREND"
	TrendSideways Trend = "SIDEWAYS"
)

// Action 是规则表输出的动作。
type Action string

const (
	ActionBuy      Action = "BUY"       // 日内市价买入
	ActionSell     Action = "SELL"      // 日内做空信号，纯多头模拟里记为不交易
	ActionBuySetup Action = "BUY_SETUP" // 波段条件单挂入
	ActionExit     Action = "EXIT"      // 平掉持仓
	ActionHold     Action = "HOLD"      // 无操作
)

// Signal 是一次规则表评估的完整结果，Rule 记录命中的规则名。
type Signal struct {
	Action     Action
	Rule       string
	Confidence float64
	Rationale  string

	Trend          Trend
	TrendRule      string
	TrendRationale string

	// 入场信号的价格要素；市价单 Trigger 为 0。
	Trigger float64
	Stop    float64
	Target  float64

	// 离场信号的成交价：止损价、止盈价或时间离场时的收盘价。
	ExitPrice float64
}

// Position 描述一笔持仓在离场规则表里需要的最小状态。
type Position struct {
	EntryPrice  float64
	Stop        float64
	Target      float64
	HeldDays    int
	HorizonDays int
}
