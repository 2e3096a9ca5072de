package config

import "strings"

// Config 是 tradewind 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Journal   JournalConfig   `toml:"journal"`
	Market    MarketConfig    `toml:"market"`
	Modes     ModesConfig     `toml:"modes"`
	Rules     RulesConfig     `toml:"rules"`
	Rebalance RebalanceConfig `toml:"rebalance"`
	Report    ReportConfig    `toml:"report"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Universe  UniverseConfig  `toml:"universe"`
	Engine    EngineConfig    `toml:"engine"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	DataDir  string `toml:"data_dir"`
}

// JournalConfig 指定交易日志数据库位置。
type JournalConfig struct {
	DBPath string `toml:"db_path"`
}

// MarketConfig 选择 K 线数据源与交易所时区。
type MarketConfig struct {
	Source   string        `toml:"source"`   // "binance" | "file"
	Timezone string        `toml:"timezone"` // 交易所时区，决定交易日边界
	FileDir  string        `toml:"file_dir"` // file 源的 CSV 目录
	Binance  BinanceConfig `toml:"binance"`
}

type BinanceConfig struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	BaseURL   string `toml:"base_url"`
}

// ModesConfig 持有两种交易模式的参数。
type ModesConfig struct {
	Intraday ModeConfig `toml:"intraday"`
	Swing    ModeConfig `toml:"swing"`
}

// ModeConfig 描述单一模式的预算、仓位与出场参数。
// 日内模式使用 target_pct/stop_pct/time_exit；波段模式使用
// horizon_days 与 ATR 乘数。
type ModeConfig struct {
	BudgetTotal         float64 `toml:"budget_total"`
	MaxOpenPositions    int     `toml:"max_open_positions"`
	MaxEntriesPerSymbol int     `toml:"max_entries_per_symbol"`
	MaxWatchlistSize    int     `toml:"max_watchlist_size"`
	Interval            string  `toml:"interval"`
	Period              string  `toml:"period"`
	WarmupCandles       int     `toml:"warmup_candles"`
	TargetPct           float64 `toml:"target_pct"`
	StopPct             float64 `toml:"stop_pct"`
	TimeExit            string  `toml:"time_exit"` // "HH:MM"，为空则不做时间出场
	HorizonDays         int     `toml:"horizon_days"`
	ATRStopMult         float64 `toml:"atr_stop_mult"`
	ATRTargetMult       float64 `toml:"atr_target_mult"`
}

// RulesConfig 指定信号规则表文件；为空时使用内置规则。
type RulesConfig struct {
	Path string `toml:"path"`
}

// RebalanceConfig 控制持仓再平衡策略。
// Order 决定再平衡相对出场检查的先后（见引擎说明）。
type RebalanceConfig struct {
	Enabled             bool    `toml:"enabled"`
	Order               string  `toml:"order"` // "before_exits" | "after_exits"
	PartialThresholdPct float64 `toml:"partial_threshold_pct"`
	FullThresholdPct    float64 `toml:"full_threshold_pct"`
	PartialFraction     float64 `toml:"partial_fraction"`
}

type ReportConfig struct {
	Enabled   bool   `toml:"enabled"`
	Dir       string `toml:"dir"`
	RenderPNG bool   `toml:"render_png"`
}

// SchedulerConfig 控制按周期自动触发运行。
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
	Offset   string `toml:"offset"`
	Mode     string `toml:"mode"`
}

type UniverseConfig struct {
	Limit         int `toml:"limit"`
	RetentionDays int `toml:"retention_days"`
}

type EngineConfig struct {
	MaxParallel int `toml:"max_parallel"`
}

// ModeByName 按模式名返回对应配置，未知模式返回 false。
func (m ModesConfig) ModeByName(name string) (ModeConfig, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INTRADAY":
		return m.Intraday, true
	case "SWING":
		return m.Swing, true
	default:
		return ModeConfig{}, false
	}
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
