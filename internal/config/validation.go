package config

import (
	"fmt"
	"strings"
	"time"

	"tradewind/internal/logger"
)

// validate 对配置进行基础校验，任何失败都视为非法配置。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Journal.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Modes.validate(); err != nil {
		return err
	}
	if err := c.Rebalance.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Universe.validate(); err != nil {
		return err
	}
	if c.Engine.MaxParallel <= 0 {
		return fmt.Errorf("engine.max_parallel must be > 0")
	}
	return nil
}

func (a *AppConfig) validate() error {
	if _, err := logger.ParseLevel(a.LogLevel); err != nil {
		return fmt.Errorf("app.log_level invalid: %w", err)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (j *JournalConfig) validate() error {
	if strings.TrimSpace(j.DBPath) == "" {
		return fmt.Errorf("journal.db_path cannot be empty")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Source {
	case "binance":
	case "file":
		if strings.TrimSpace(m.FileDir) == "" {
			return fmt.Errorf("market.file_dir required when market.source=file")
		}
	default:
		return fmt.Errorf("market.source only supports 'binance' or 'file', got %s", m.Source)
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		return fmt.Errorf("market.timezone invalid: %w", err)
	}
	return nil
}

func (m *ModesConfig) validate() error {
	if err := validateMode("modes.intraday", m.Intraday); err != nil {
		return err
	}
	if err := validateMode("modes.swing", m.Swing); err != nil {
		return err
	}
	return nil
}

func validateMode(prefix string, mode ModeConfig) error {
	if mode.BudgetTotal <= 0 {
		return fmt.Errorf("%s.budget_total must be > 0", prefix)
	}
	if mode.MaxOpenPositions <= 0 {
		return fmt.Errorf("%s.max_open_positions must be > 0", prefix)
	}
	if mode.MaxEntriesPerSymbol <= 0 {
		return fmt.Errorf("%s.max_entries_per_symbol must be > 0", prefix)
	}
	if mode.MaxWatchlistSize <= 0 {
		return fmt.Errorf("%s.max_watchlist_size must be > 0", prefix)
	}
	if !IsValidInterval(mode.Interval) {
		return fmt.Errorf("%s.interval invalid: %s", prefix, mode.Interval)
	}
	if mode.WarmupCandles < 2 {
		return fmt.Errorf("%s.warmup_candles must be >= 2", prefix)
	}
	if mode.TargetPct < 0 || mode.StopPct < 0 {
		return fmt.Errorf("%s target_pct/stop_pct must be >= 0", prefix)
	}
	if mode.TimeExit != "" {
		if _, err := time.Parse("15:04", mode.TimeExit); err != nil {
			return fmt.Errorf("%s.time_exit must look like HH:MM: %w", prefix, err)
		}
	}
	if mode.HorizonDays < 0 {
		return fmt.Errorf("%s.horizon_days must be >= 0", prefix)
	}
	if mode.ATRStopMult < 0 || mode.ATRTargetMult < 0 {
		return fmt.Errorf("%s atr multipliers must be >= 0", prefix)
	}
	return nil
}

func (r *RebalanceConfig) validate() error {
	switch r.Order {
	case "before_exits", "after_exits":
	default:
		return fmt.Errorf("rebalance.order only supports 'before_exits' or 'after_exits', got %s", r.Order)
	}
	if r.PartialThresholdPct < 0 || r.FullThresholdPct < 0 {
		return fmt.Errorf("rebalance thresholds must be >= 0")
	}
	if r.FullThresholdPct < r.PartialThresholdPct {
		return fmt.Errorf("rebalance.full_threshold_pct must be >= partial_threshold_pct")
	}
	if r.PartialFraction <= 0 || r.PartialFraction > 1 {
		return fmt.Errorf("rebalance.partial_fraction must be in (0, 1]")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	interval, err := time.ParseDuration(s.Interval)
	if err != nil {
		return fmt.Errorf("scheduler.interval invalid: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler.interval must be > 0")
	}
	if s.Offset != "" {
		offset, err := time.ParseDuration(s.Offset)
		if err != nil {
			return fmt.Errorf("scheduler.offset invalid: %w", err)
		}
		if offset < 0 {
			return fmt.Errorf("scheduler.offset must be >= 0")
		}
	}
	switch s.Mode {
	case "INTRADAY", "SWING":
	default:
		return fmt.Errorf("scheduler.mode only supports INTRADAY or SWING, got %s", s.Mode)
	}
	return nil
}

func (u *UniverseConfig) validate() error {
	if u.Limit <= 0 {
		return fmt.Errorf("universe.limit must be > 0")
	}
	if u.RetentionDays <= 0 {
		return fmt.Errorf("universe.retention_days must be > 0")
	}
	return nil
}

// IsValidInterval 简易校验：至少一位数字，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
