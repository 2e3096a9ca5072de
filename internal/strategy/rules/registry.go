package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradewind/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Override 映射 YAML 覆盖文件里单个模式的条目。
type Override struct {
	Description string         `mapstructure:"description" yaml:"description"`
	Version     int            `mapstructure:"version" yaml:"version"`
	Params      map[string]any `mapstructure:"params" yaml:"params"`
}

// FileConfig 映射 rulesets 文件。
type FileConfig struct {
	Rulesets map[string]Override `mapstructure:"rulesets" yaml:"rulesets"`
}

// Snapshot 公开的规则集快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Rulesets map[string]Ruleset
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理两套模式的规则参数，支持热更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取覆盖文件并监听更新；path 为空时只用内置默认值。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path)}
	if r.path == "" {
		r.mu.Lock()
		r.snapshot = Snapshot{Version: 1, LoadedAt: time.Now(), Rulesets: defaultRulesets()}
		r.mu.Unlock()
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules config failed: %w", err)
	}
	r.v = v
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("rules reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前规则集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Ruleset 返回指定模式的规则集。
func (r *Registry) Ruleset(mode string) (Ruleset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.snapshot.Rulesets[strings.ToUpper(strings.TrimSpace(mode))]
	return rs, ok
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := readRulesFile(r.path)
	if err != nil {
		return err
	}
	rulesets := defaultRulesets()
	for name, ov := range cfg.Rulesets {
		mode := strings.ToUpper(strings.TrimSpace(name))
		rs, ok := rulesets[mode]
		if !ok {
			return fmt.Errorf("rules config 引用未知模式: %s", name)
		}
		if len(ov.Params) > 0 {
			sanitized := sanitizeParams(ov.Params)
			if err := paramsSchema.Validate(sanitized); err != nil {
				return fmt.Errorf("ruleset %s 参数校验失败: %w", mode, err)
			}
			if err := applyParams(&rs, sanitized.(map[string]any)); err != nil {
				return err
			}
		}
		if ov.Version > 0 {
			rs.Version = ov.Version
		}
		if desc := strings.TrimSpace(ov.Description); desc != "" {
			rs.Description = desc
		}
		rulesets[mode] = rs
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Rulesets: rulesets,
	}
	r.mu.Unlock()
	logger.Infof("Rules registry loaded %d rulesets from %s", len(rulesets), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("rules listener")
			cb(snap)
		}(fn)
	}
}

func defaultRulesets() map[string]Ruleset {
	out := make(map[string]Ruleset, 2)
	for _, mode := range []string{ModeIntraday, ModeSwing} {
		rs, _ := DefaultRuleset(mode)
		out[mode] = rs
	}
	return out
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Rulesets: make(map[string]Ruleset, len(src.Rulesets)),
	}
	for mode, rs := range src.Rulesets {
		dst.Rulesets[mode] = rs
	}
	return dst
}

func safeRecover(tag string) {
	if rec := recover(); rec != nil {
		logger.Errorf("%s panic: %v", tag, rec)
	}
}

func readRulesFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read rules config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse rules config failed: %w", err)
	}
	return cfg, nil
}

// sanitizeParams 递归把字符串形式的数字转成 float64，兼容 YAML 里带引号的写法。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}

// paramsSchema 限定覆盖文件允许出现的参数键与取值范围。
var paramsSchema = mustCompileSchema(map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"trend_rsi_bull_min":   numberRange(0, 100),
		"trend_rsi_bear_max":   numberRange(0, 100),
		"trend_rsi_band_low":   numberRange(0, 100),
		"trend_rsi_band_high":  numberRange(0, 100),
		"entry_rsi_overbought": numberRange(0, 100),
		"entry_rsi_oversold":   numberRange(0, 100),
		"breakout_buffer_pct":  numberRange(0, 10),
		"pullback_buffer_pct":  numberRange(0, 10),
		"pullback_band_pct":    numberRange(0, 10),
		"pullback_rsi_min":     numberRange(0, 100),
		"conf_momentum":        numberRange(0, 1),
		"conf_breakout":        numberRange(0, 1),
		"conf_pullback":        numberRange(0, 1),
		"conf_hold":            numberRange(0, 1),
		"conf_insufficient":    numberRange(0, 1),
		"conf_stop":            numberRange(0, 1),
		"conf_target":          numberRange(0, 1),
		"conf_time":            numberRange(0, 1),
		"conf_hold_position":   numberRange(0, 1),
	},
})

func numberRange(min, max float64) map[string]any {
	return map[string]any{"type": "number", "minimum": min, "maximum": max}
}

func mustCompileSchema(data map[string]any) *jsonschema.Schema {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.schema.json", strings.NewReader(string(raw))); err != nil {
		panic(err)
	}
	return compiler.MustCompile("rules.schema.json")
}
