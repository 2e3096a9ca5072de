package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradewind/internal/config"
	"tradewind/internal/logger"
	"tradewind/internal/market"
)

// RunFunc 执行一次指定交易日/模式的运行。
type RunFunc func(ctx context.Context, date, mode string) error

// AutoRunner 按 K 线周期自动触发引擎运行。
// 周末不触发；其余交易日校验交由引擎本身完成。
type AutoRunner struct {
	mode     string
	interval time.Duration
	offset   time.Duration
	calendar *market.Calendar
	run      RunFunc

	nowFn func() time.Time
}

// NewAutoRunner 根据配置构建自动运行器。cfg.Enabled=false 时返回 (nil, nil)。
func NewAutoRunner(cfg config.SchedulerConfig, cal *market.Calendar, run RunFunc) (*AutoRunner, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cal == nil {
		return nil, fmt.Errorf("scheduler: calendar 不能为空")
	}
	if run == nil {
		return nil, fmt.Errorf("scheduler: run 回调不能为空")
	}
	mode := strings.ToUpper(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		return nil, fmt.Errorf("scheduler: mode 不能为空")
	}
	interval, ok := ParseIntervalDuration(cfg.Interval)
	if !ok {
		return nil, fmt.Errorf("scheduler: 无效 interval=%q", cfg.Interval)
	}
	var offset time.Duration
	if strings.TrimSpace(cfg.Offset) != "" {
		d, err := time.ParseDuration(cfg.Offset)
		if err != nil {
			return nil, fmt.Errorf("scheduler: 无效 offset=%q: %w", cfg.Offset, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("scheduler: offset 不能为负 %q", cfg.Offset)
		}
		offset = d
	}
	return &AutoRunner{
		mode:     mode,
		interval: interval,
		offset:   offset,
		calendar: cal,
		run:      run,
		nowFn:    time.Now,
	}, nil
}

// Start 阻塞运行直到 ctx 取消。
func (r *AutoRunner) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sched := NewAlignedScheduler(ctx, r.interval, r.offset)
	sched.Start(func() {
		r.tick(ctx)
	})
}

func (r *AutoRunner) tick(ctx context.Context) {
	date, ok := r.runnableDate(r.nowFn())
	if !ok {
		logger.Infof("AutoRunner: %s 非交易日，跳过 mode=%s", date, r.mode)
		return
	}
	logger.Infof("AutoRunner: 触发运行 date=%s mode=%s", date, r.mode)
	if err := r.run(ctx, date, r.mode); err != nil {
		logger.Errorf("AutoRunner: 运行失败 date=%s mode=%s err=%v", date, r.mode, err)
	}
}

// runnableDate 返回当前交易日以及是否应当触发（周末不触发）。
func (r *AutoRunner) runnableDate(now time.Time) (string, bool) {
	date := r.calendar.Today(now)
	weekend, err := r.calendar.IsWeekend(date)
	if err != nil {
		return date, false
	}
	return date, !weekend
}
