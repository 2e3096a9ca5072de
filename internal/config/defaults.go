package config

import "strings"

// 默认值常量
const (
	defaultAppEnv     = "dev"
	defaultAppLog     = "info"
	defaultAppHTTP    = ":8003"
	defaultAppLogPath = "data/logs/tradewind.log"
	defaultAppDataDir = "data"

	defaultJournalDB = "data/tradewind.db"

	defaultMarketSource   = "binance"
	defaultMarketTimezone = "Asia/Kolkata"
	defaultMarketFileDir  = "data/candles"

	defaultIntradayBudget   = 100
	defaultIntradayMaxOpen  = 1
	defaultIntradayEntries  = 1
	defaultIntradayInterval = "5m"
	defaultIntradayPeriod   = "5d"
	defaultIntradayWarmup   = 21
	defaultIntradayTarget   = 1.5
	defaultIntradayStop     = 1.0
	defaultIntradayTimeExit = "15:20"

	defaultSwingBudget    = 1000
	defaultSwingMaxOpen   = 2
	defaultSwingEntries   = 1
	defaultSwingInterval  = "1d"
	defaultSwingPeriod    = "6mo"
	defaultSwingWarmup    = 60
	defaultSwingHorizon   = 20
	defaultSwingATRStop   = 1.5
	defaultSwingATRTarget = 2.0

	defaultWatchlistSize = 10

	defaultRebalanceOrder    = "after_exits"
	defaultRebalancePartial  = 15.0
	defaultRebalanceFull     = 20.0
	defaultRebalanceFraction = 0.5

	defaultReportDir = "data/reports"

	defaultSchedulerInterval = "5m"
	defaultSchedulerOffset   = "10s"
	defaultSchedulerMode     = "INTRADAY"

	defaultUniverseLimit     = 10
	defaultUniverseRetention = 30

	defaultEngineParallel = 4
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Modes.applyDefaults(keys)
	c.Rebalance.applyDefaults(keys)
	c.Report.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Universe.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLog),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTP),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.data_dir", &a.DataDir, defaultAppDataDir),
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("journal.db_path", &j.DBPath, defaultJournalDB),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.timezone", &m.Timezone, defaultMarketTimezone),
		stringFieldDefault("market.file_dir", &m.FileDir, defaultMarketFileDir),
	)
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
}

func (m *ModesConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyModeDefaults(keys, "modes.intraday", &m.Intraday, ModeConfig{
		BudgetTotal:         defaultIntradayBudget,
		MaxOpenPositions:    defaultIntradayMaxOpen,
		MaxEntriesPerSymbol: defaultIntradayEntries,
		MaxWatchlistSize:    defaultWatchlistSize,
		Interval:            defaultIntradayInterval,
		Period:              defaultIntradayPeriod,
		WarmupCandles:       defaultIntradayWarmup,
		TargetPct:           defaultIntradayTarget,
		StopPct:             defaultIntradayStop,
		TimeExit:            defaultIntradayTimeExit,
		HorizonDays:         1,
	})
	applyModeDefaults(keys, "modes.swing", &m.Swing, ModeConfig{
		BudgetTotal:         defaultSwingBudget,
		MaxOpenPositions:    defaultSwingMaxOpen,
		MaxEntriesPerSymbol: defaultSwingEntries,
		MaxWatchlistSize:    defaultWatchlistSize,
		Interval:            defaultSwingInterval,
		Period:              defaultSwingPeriod,
		WarmupCandles:       defaultSwingWarmup,
		HorizonDays:         defaultSwingHorizon,
		ATRStopMult:         defaultSwingATRStop,
		ATRTargetMult:       defaultSwingATRTarget,
	})
}

func applyModeDefaults(keys keySet, prefix string, mode *ModeConfig, def ModeConfig) {
	if mode == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   prefix + ".budget_total",
			need:  func() bool { return mode.BudgetTotal <= 0 },
			apply: func() { mode.BudgetTotal = def.BudgetTotal },
		},
		fieldDefault{
			key:   prefix + ".max_open_positions",
			need:  func() bool { return mode.MaxOpenPositions <= 0 },
			apply: func() { mode.MaxOpenPositions = def.MaxOpenPositions },
		},
		fieldDefault{
			key:   prefix + ".max_entries_per_symbol",
			need:  func() bool { return mode.MaxEntriesPerSymbol <= 0 },
			apply: func() { mode.MaxEntriesPerSymbol = def.MaxEntriesPerSymbol },
		},
		fieldDefault{
			key:   prefix + ".max_watchlist_size",
			need:  func() bool { return mode.MaxWatchlistSize <= 0 },
			apply: func() { mode.MaxWatchlistSize = def.MaxWatchlistSize },
		},
		stringFieldDefault(prefix+".interval", &mode.Interval, def.Interval),
		stringFieldDefault(prefix+".period", &mode.Period, def.Period),
		fieldDefault{
			key:   prefix + ".warmup_candles",
			need:  func() bool { return mode.WarmupCandles <= 0 },
			apply: func() { mode.WarmupCandles = def.WarmupCandles },
		},
		fieldDefault{
			key:   prefix + ".target_pct",
			need:  func() bool { return mode.TargetPct <= 0 },
			apply: func() { mode.TargetPct = def.TargetPct },
		},
		fieldDefault{
			key:   prefix + ".stop_pct",
			need:  func() bool { return mode.StopPct <= 0 },
			apply: func() { mode.StopPct = def.StopPct },
		},
		stringFieldDefault(prefix+".time_exit", &mode.TimeExit, def.TimeExit),
		fieldDefault{
			key:   prefix + ".horizon_days",
			need:  func() bool { return mode.HorizonDays <= 0 },
			apply: func() { mode.HorizonDays = def.HorizonDays },
		},
		fieldDefault{
			key:   prefix + ".atr_stop_mult",
			need:  func() bool { return mode.ATRStopMult <= 0 },
			apply: func() { mode.ATRStopMult = def.ATRStopMult },
		},
		fieldDefault{
			key:   prefix + ".atr_target_mult",
			need:  func() bool { return mode.ATRTargetMult <= 0 },
			apply: func() { mode.ATRTargetMult = def.ATRTargetMult },
		},
	)
}

func (r *RebalanceConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("rebalance.enabled", &r.Enabled, true),
		stringFieldDefault("rebalance.order", &r.Order, defaultRebalanceOrder),
		fieldDefault{
			key:   "rebalance.partial_threshold_pct",
			need:  func() bool { return r.PartialThresholdPct <= 0 },
			apply: func() { r.PartialThresholdPct = defaultRebalancePartial },
		},
		fieldDefault{
			key:   "rebalance.full_threshold_pct",
			need:  func() bool { return r.FullThresholdPct <= 0 },
			apply: func() { r.FullThresholdPct = defaultRebalanceFull },
		},
		fieldDefault{
			key:   "rebalance.partial_fraction",
			need:  func() bool { return r.PartialFraction <= 0 || r.PartialFraction > 1 },
			apply: func() { r.PartialFraction = defaultRebalanceFraction },
		},
	)
	r.Order = strings.ToLower(strings.TrimSpace(r.Order))
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.dir", &r.Dir, defaultReportDir),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.interval", &s.Interval, defaultSchedulerInterval),
		stringFieldDefault("scheduler.offset", &s.Offset, defaultSchedulerOffset),
		stringFieldDefault("scheduler.mode", &s.Mode, defaultSchedulerMode),
	)
	s.Mode = strings.ToUpper(strings.TrimSpace(s.Mode))
}

func (u *UniverseConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "universe.limit",
			need:  func() bool { return u.Limit <= 0 },
			apply: func() { u.Limit = defaultUniverseLimit },
		},
		fieldDefault{
			key:   "universe.retention_days",
			need:  func() bool { return u.RetentionDays <= 0 },
			apply: func() { u.RetentionDays = defaultUniverseRetention },
		},
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.max_parallel",
			need:  func() bool { return e.MaxParallel <= 0 },
			apply: func() { e.MaxParallel = defaultEngineParallel },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
