package strategy

import (
	"tradewind/internal/analysis/indicator"
	"tradewind/internal/strategy/rules"
)

type exitContext struct {
	snap        indicator.Snapshot
	pos         Position
	sessionOver bool
	rs          rules.Ruleset
}

// exitRule 的声明顺序就是离场优先级：先保本金，再落袋，最后看时间。
type exitRule struct {
	name  string
	match func(c exitContext) bool
	build func(c exitContext) Signal
}

var swingExitTable = []exitRule{
	{
		name: "trailing_stop_breach",
		match: func(c exitContext) bool {
			return priceAtOrBelow(c.snap.Low, c.pos.Stop) || priceAtOrBelow(c.snap.Close, c.pos.Stop)
		},
		build: func(c exitContext) Signal {
			return Signal{
				Action:     ActionExit,
				Confidence: c.rs.Exit.ConfStop,
				Rationale:  "Close breached trailing stop",
				ExitPrice:  c.pos.Stop,
			}
		},
	},
	{
		name: "take_profit",
		match: func(c exitContext) bool {
			return c.pos.Target > 0 && priceAtOrAbove(c.snap.High, c.pos.Target)
		},
		build: func(c exitContext) Signal {
			return Signal{
				Action:     ActionExit,
				Confidence: c.rs.Exit.ConfTarget,
				Rationale:  "Take-profit reached",
				ExitPrice:  c.pos.Target,
			}
		},
	},
	{
		name: "time_stop",
		match: func(c exitContext) bool {
			return c.pos.HorizonDays > 0 && c.pos.HeldDays >= c.pos.HorizonDays
		},
		build: func(c exitContext) Signal {
			return Signal{
				Action:     ActionExit,
				Confidence: c.rs.Exit.ConfTime,
				Rationale:  "Time-stop reached for swing horizon",
				ExitPrice:  c.snap.Close,
			}
		},
	},
}

var intradayExitTable = []exitRule{
	{
		name: "intraday_stop_loss",
		match: func(c exitContext) bool {
			return priceAtOrBelow(c.snap.Low, c.pos.Stop) || priceAtOrBelow(c.snap.Close, c.pos.Stop)
		},
		build: func(c exitContext) Signal {
			return Signal{
				Action:     ActionExit,
				Confidence: c.rs.Exit.ConfStop,
				Rationale:  "Stop-loss breached during session",
				ExitPrice:  c.pos.Stop,
			}
		},
	},
	{
		name: "intraday_take_profit",
		match: func(c exitContext) bool {
			return c.pos.Target > 0 && priceAtOrAbove(c.snap.High, c.pos.Target)
		},
		build: func(c exitContext) Signal {
			return Signal{
				Action:     ActionExit,
				Confidence: c.rs.Exit.ConfTarget,
				Rationale:  "Intraday target reached",
				ExitPrice:  c.pos.Target,
			}
		},
	},
	{
		name: "intraday_time_exit",
		match: func(c exitContext) bool {
			return c.sessionOver
		},
		build: func(c exitContext) Signal {
			return Signal{
				Action:     ActionExit,
				Confidence: c.rs.Exit.ConfTime,
				Rationale:  "Session time exit reached",
				ExitPrice:  c.snap.Close,
			}
		},
	},
}

// EvaluateExit 对一笔持仓跑离场规则表。多个条件同时成立时按表序裁决，
// 止损永远压过止盈和时间离场。
func EvaluateExit(snap indicator.Snapshot, pos Position, mode string, sessionOver bool, rs rules.Ruleset) Signal {
	ctx := exitContext{snap: snap, pos: pos, sessionOver: sessionOver, rs: rs}
	table := swingExitTable
	if mode == rules.ModeIntraday {
		table = intradayExitTable
	}
	for _, rule := range table {
		if rule.match(ctx) {
			sig := rule.build(ctx)
			sig.Rule = rule.name
			return sig
		}
	}
	return Signal{
		Action:     ActionHold,
		Rule:       "hold_position",
		Confidence: rs.Exit.ConfHold,
		Rationale:  "Position within stop and target bounds",
	}
}
